package contexts

import (
	"strconv"
	"strings"

	"github.com/roach88/graffiti/internal/errs"
	"github.com/roach88/graffiti/internal/ir"
)

// MaxVariants caps the variants compiled for one object, defaults included.
const MaxVariants = 256

// DefaultRules are compiled for every object before its declared rules.
// They let a query that names the object's access list or id see it even
// when every declared rule rejects the query.
var DefaultRules = []ir.ContextRule{
	{NearMisses: [][]string{{ir.FieldTo}}},
	{NearMisses: [][]string{{ir.FieldID}}},
}

// Compiler turns objects and context rules into computed contexts.
type Compiler struct {
	tokens TokenGenerator
}

// NewCompiler creates a Compiler. A nil generator uses UUIDGenerator.
func NewCompiler(tokens TokenGenerator) *Compiler {
	if tokens == nil {
		tokens = UUIDGenerator{}
	}
	return &Compiler{tokens: tokens}
}

// Compile returns one computed context per rule, defaults first.
//
// Paths that do not resolve are skipped. A path that descends into a
// scalar, uses a non-numeric segment on an array, or has an empty segment
// is a validation error, and nothing is returned.
func (c *Compiler) Compile(obj ir.Object, rules []ir.ContextRule) ([]ir.ComputedContext, error) {
	all := make([]ir.ContextRule, 0, len(DefaultRules)+len(rules))
	all = append(all, DefaultRules...)
	all = append(all, rules...)

	if err := checkRules(all); err != nil {
		return nil, err
	}

	out := make([]ir.ComputedContext, 0, len(all))
	for _, rule := range all {
		cc := ir.ComputedContext{
			NearMisses: make([]ir.Object, 0, len(rule.NearMisses)),
			Neighbors:  make([]ir.Object, 0, len(rule.Neighbors)),
		}
		for _, group := range rule.NearMisses {
			variant, err := c.variant(obj, group)
			if err != nil {
				return nil, err
			}
			cc.NearMisses = append(cc.NearMisses, variant)
		}
		for _, group := range rule.Neighbors {
			variant, err := c.variant(obj, group)
			if err != nil {
				return nil, err
			}
			cc.Neighbors = append(cc.Neighbors, variant)
		}
		out = append(out, cc)
	}
	return out, nil
}

func checkRules(rules []ir.ContextRule) error {
	variants := 0
	for _, rule := range rules {
		groups := make([][]string, 0, len(rule.NearMisses)+len(rule.Neighbors))
		groups = append(groups, rule.NearMisses...)
		groups = append(groups, rule.Neighbors...)
		for _, group := range groups {
			if len(group) == 0 {
				return errs.Validation("context rule has an empty variant group")
			}
			for _, path := range group {
				if _, err := splitPath(path); err != nil {
					return err
				}
			}
			variants++
		}
	}
	if variants > MaxVariants {
		return errs.Validation("context rules produce %d variants, limit is %d", variants, MaxVariants)
	}
	return nil
}

// variant clones obj and overwrites every path in group with a fresh token.
func (c *Compiler) variant(obj ir.Object, group []string) (ir.Object, error) {
	out := obj.Clone()
	if out == nil {
		out = ir.Object{}
	}
	for _, path := range group {
		segs, err := splitPath(path)
		if err != nil {
			return nil, err
		}
		if err := c.assign(out, path, segs); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// assign writes a token at segs inside cur. cur is a private clone, so
// arrays and objects are updated in place.
func (c *Compiler) assign(cur ir.Value, path string, segs []string) error {
	seg, rest := segs[0], segs[1:]

	switch node := cur.(type) {
	case ir.Object:
		child, ok := node[seg]
		if !ok {
			return nil
		}
		if len(rest) == 0 {
			node[seg] = ir.String(c.tokens.Generate())
			return nil
		}
		return c.assign(child, path, rest)

	case ir.Array:
		idx, err := strconv.Atoi(seg)
		if err != nil || idx < 0 {
			return errs.Validation("context path %q: segment %q does not index an array", path, seg)
		}
		if idx >= len(node) {
			return nil
		}
		if len(rest) == 0 {
			node[idx] = ir.String(c.tokens.Generate())
			return nil
		}
		return c.assign(node[idx], path, rest)
	}

	return errs.Validation("context path %q: cannot descend into %s at %q", path, ir.TypeName(cur), seg)
}

func splitPath(path string) ([]string, error) {
	segs := strings.Split(path, ".")
	for _, s := range segs {
		if s == "" {
			return nil, errs.Validation("context path %q has an empty segment", path)
		}
	}
	return segs, nil
}
