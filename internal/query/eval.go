package query

import (
	"fmt"
	"slices"
	"strconv"

	"github.com/roach88/graffiti/internal/ir"
)

// Eval reports whether obj satisfies e.
//
// Eval is pure and deterministic. It returns an error only for node types
// it does not know, which Parse never produces.
func Eval(e Expr, obj ir.Object) (bool, error) {
	return evalExpr(e, obj)
}

func evalExpr(e Expr, doc ir.Value) (bool, error) {
	switch node := e.(type) {
	case And:
		for _, sub := range node.Exprs {
			ok, err := evalExpr(sub, doc)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil

	case Or:
		for _, sub := range node.Exprs {
			ok, err := evalExpr(sub, doc)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil

	case Nor:
		for _, sub := range node.Exprs {
			ok, err := evalExpr(sub, doc)
			if err != nil {
				return false, err
			}
			if ok {
				return false, nil
			}
		}
		return true, nil

	case Not:
		ok, err := evalExpr(node.Expr, doc)
		return !ok && err == nil, err

	case Field:
		return evalCond(node.Cond, lookup(doc, node.Path))
	}
	return false, fmt.Errorf("unknown expression node %T", e)
}

// evalCond applies c to the set of values found at a path. An empty set
// means the path did not resolve.
func evalCond(c Cond, vals []ir.Value) (bool, error) {
	switch node := c.(type) {
	case AllOf:
		for _, sub := range node.Conds {
			ok, err := evalCond(sub, vals)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil

	case Eq:
		return equalsAny(vals, node.Value), nil

	case Ne:
		return !equalsAny(vals, node.Value), nil

	case Cmp:
		return anyElement(vals, func(v ir.Value) bool { return compares(node.Op, v, node.Value) }), nil

	case In:
		return inAny(vals, node.Values), nil

	case Nin:
		return !inAny(vals, node.Values), nil

	case All:
		if len(node.Values) == 0 {
			return false, nil
		}
		for _, want := range node.Values {
			if !equalsAny(vals, want) {
				return false, nil
			}
		}
		return true, nil

	case ElemMatch:
		for _, v := range vals {
			arr, ok := v.(ir.Array)
			if !ok {
				continue
			}
			for _, elem := range arr {
				matched, err := elemMatches(node, elem)
				if err != nil {
					return false, err
				}
				if matched {
					return true, nil
				}
			}
		}
		return false, nil

	case Size:
		for _, v := range vals {
			if arr, ok := v.(ir.Array); ok && len(arr) == node.N {
				return true, nil
			}
		}
		return false, nil

	case Exists:
		return (len(vals) > 0) == node.Want, nil

	case Type:
		for _, v := range vals {
			if slices.Contains(node.Names, ir.TypeName(v)) {
				return true, nil
			}
			if arr, ok := v.(ir.Array); ok {
				for _, elem := range arr {
					if slices.Contains(node.Names, ir.TypeName(elem)) {
						return true, nil
					}
				}
			}
		}
		return false, nil

	case NotCond:
		ok, err := evalCond(node.Cond, vals)
		return !ok && err == nil, err
	}
	return false, fmt.Errorf("unknown condition node %T", c)
}

func elemMatches(node ElemMatch, elem ir.Value) (bool, error) {
	if node.Expr != nil {
		if _, ok := elem.(ir.Object); !ok {
			return false, nil
		}
		return evalExpr(node.Expr, elem)
	}
	return evalCond(node.Cond, []ir.Value{elem})
}

// equalsAny implements implicit equality: a found value matches when it
// equals want or, for arrays, when one of its elements does. A null want
// also matches a path that did not resolve.
func equalsAny(vals []ir.Value, want ir.Value) bool {
	if len(vals) == 0 {
		return ir.TypeName(want) == "null"
	}
	return anyElement(vals, func(v ir.Value) bool { return ir.Equal(v, want) }) ||
		slices.ContainsFunc(vals, func(v ir.Value) bool { return ir.Equal(v, want) })
}

func inAny(vals []ir.Value, candidates []ir.Value) bool {
	for _, want := range candidates {
		if equalsAny(vals, want) {
			return true
		}
	}
	return false
}

// anyElement reports whether fn holds for a found scalar or for any element
// of a found array.
func anyElement(vals []ir.Value, fn func(ir.Value) bool) bool {
	for _, v := range vals {
		if arr, ok := v.(ir.Array); ok {
			if slices.ContainsFunc(arr, fn) {
				return true
			}
			continue
		}
		if fn(v) {
			return true
		}
	}
	return false
}

func compares(op CmpOp, got, want ir.Value) bool {
	r, ok := ir.Compare(got, want)
	if !ok {
		return false
	}
	switch op {
	case OpGt:
		return r > 0
	case OpGte:
		return r >= 0
	case OpLt:
		return r < 0
	case OpLte:
		return r <= 0
	}
	return false
}

// lookup returns every value reachable at path. Numeric segments index
// arrays; other segments fan out over array elements that are objects.
func lookup(v ir.Value, path []string) []ir.Value {
	if len(path) == 0 {
		return []ir.Value{v}
	}

	switch cur := v.(type) {
	case ir.Object:
		child, ok := cur[path[0]]
		if !ok {
			return nil
		}
		return lookup(child, path[1:])

	case ir.Array:
		if idx, err := strconv.Atoi(path[0]); err == nil && idx >= 0 {
			if idx >= len(cur) {
				return nil
			}
			return lookup(cur[idx], path[1:])
		}
		var out []ir.Value
		for _, elem := range cur {
			if obj, ok := elem.(ir.Object); ok {
				out = append(out, lookup(obj, path)...)
			}
		}
		return out
	}
	return nil
}
