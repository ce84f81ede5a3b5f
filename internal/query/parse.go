package query

import (
	"slices"
	"strings"

	"github.com/roach88/graffiti/internal/errs"
	"github.com/roach88/graffiti/internal/ir"
)

// Limits that keep evaluation cost bounded per document.
const (
	// MaxDepth is the deepest nesting of query documents and operator objects.
	MaxDepth = 32

	// MaxOperands is the longest operand list accepted by $in, $nin, $all,
	// $and, $or, and $nor.
	MaxOperands = 1024
)

// TypeNames lists the names accepted by $type.
var TypeNames = []string{"string", "number", "bool", "array", "object", "null"}

// FieldAudit is the reserved query flag for audit mode: the caller also
// sees their own objects whose context rules would hide them from the query.
const FieldAudit = "_audit"

// splitAudit removes the audit flag from a top-level query document.
func splitAudit(q ir.Object) (ir.Object, bool, error) {
	v, ok := q[FieldAudit]
	if !ok {
		return q, false, nil
	}
	audit, ok := v.(ir.Bool)
	if !ok {
		return nil, false, errs.Validation("%s must be a boolean, got %s", FieldAudit, ir.TypeName(v))
	}
	rest := make(ir.Object, len(q)-1)
	for k, val := range q {
		if k != FieldAudit {
			rest[k] = val
		}
	}
	return rest, bool(audit), nil
}

// Parse validates a client query document against the operator allow-list
// and compiles it into an Expr tree.
//
// Every failure is an errs.KindValidation error scoped to this one query.
// Parse is a pure function with no side effects.
func Parse(q ir.Object) (Expr, error) {
	return parseDocument(q, 0)
}

// parseDocument compiles one query document. Keys are visited in canonical
// order so equal queries compile to equal trees.
func parseDocument(q ir.Object, depth int) (Expr, error) {
	if depth > MaxDepth {
		return nil, errs.Validation("query nesting exceeds %d levels", MaxDepth)
	}

	exprs := make([]Expr, 0, len(q))
	for _, key := range q.SortedKeys() {
		val := q[key]

		if !strings.HasPrefix(key, "$") {
			path, err := splitPath(key)
			if err != nil {
				return nil, err
			}
			cond, err := parseCondition(key, val, depth+1)
			if err != nil {
				return nil, err
			}
			exprs = append(exprs, Field{Path: path, Cond: cond})
			continue
		}

		switch key {
		case "$and", "$or", "$nor":
			subs, err := parseDocumentList(key, val, depth+1)
			if err != nil {
				return nil, err
			}
			switch key {
			case "$and":
				exprs = append(exprs, And{Exprs: subs})
			case "$or":
				exprs = append(exprs, Or{Exprs: subs})
			default:
				exprs = append(exprs, Nor{Exprs: subs})
			}

		case "$not":
			obj, ok := val.(ir.Object)
			if !ok {
				return nil, errs.Validation("$not requires a query document, got %s", ir.TypeName(val))
			}
			sub, err := parseDocument(obj, depth+1)
			if err != nil {
				return nil, err
			}
			exprs = append(exprs, Not{Expr: sub})

		default:
			return nil, errs.Validation("%s is not an allowed query operator", key)
		}
	}

	if len(exprs) == 1 {
		return exprs[0], nil
	}
	return And{Exprs: exprs}, nil
}

// parseDocumentList compiles the operand of $and/$or/$nor.
func parseDocumentList(op string, val ir.Value, depth int) ([]Expr, error) {
	arr, ok := val.(ir.Array)
	if !ok || len(arr) == 0 {
		return nil, errs.Validation("%s requires a non-empty array of query documents", op)
	}
	if len(arr) > MaxOperands {
		return nil, errs.Validation("%s accepts at most %d operands", op, MaxOperands)
	}

	subs := make([]Expr, 0, len(arr))
	for i, elem := range arr {
		obj, ok := elem.(ir.Object)
		if !ok {
			return nil, errs.Validation("%s[%d] must be a query document, got %s", op, i, ir.TypeName(elem))
		}
		sub, err := parseDocument(obj, depth)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

// parseCondition compiles the value attached to a field path: either an
// operator object or a literal for implicit equality.
func parseCondition(field string, val ir.Value, depth int) (Cond, error) {
	if depth > MaxDepth {
		return nil, errs.Validation("query nesting exceeds %d levels", MaxDepth)
	}

	obj, isObj := val.(ir.Object)
	if isObj {
		operators, err := isOperatorObject(field, obj)
		if err != nil {
			return nil, err
		}
		if operators {
			return parseOperators(obj, depth)
		}
	}

	if err := checkLiteral(val); err != nil {
		return nil, err
	}
	return Eq{Value: val}, nil
}

// isOperatorObject reports whether every key of obj is an operator. Mixing
// operators and plain keys is ambiguous and rejected.
func isOperatorObject(field string, obj ir.Object) (bool, error) {
	if len(obj) == 0 {
		return false, nil
	}
	ops := 0
	for k := range obj {
		if strings.HasPrefix(k, "$") {
			ops++
		}
	}
	switch ops {
	case 0:
		return false, nil
	case len(obj):
		return true, nil
	}
	return false, errs.Validation("condition on %q mixes operators and fields", field)
}

// parseOperators compiles an operator object such as {"$gt": 1, "$lt": 5}.
func parseOperators(obj ir.Object, depth int) (Cond, error) {
	conds := make([]Cond, 0, len(obj))
	for _, op := range obj.SortedKeys() {
		cond, err := parseOperator(op, obj[op], depth)
		if err != nil {
			return nil, err
		}
		conds = append(conds, cond)
	}
	if len(conds) == 1 {
		return conds[0], nil
	}
	return AllOf{Conds: conds}, nil
}

// parseOperator compiles a single field-level operator.
func parseOperator(op string, val ir.Value, depth int) (Cond, error) {
	switch op {
	case "$eq", "$ne":
		if err := checkLiteral(val); err != nil {
			return nil, err
		}
		if op == "$eq" {
			return Eq{Value: val}, nil
		}
		return Ne{Value: val}, nil

	case "$gt", "$gte", "$lt", "$lte":
		if err := checkLiteral(val); err != nil {
			return nil, err
		}
		return Cmp{Op: CmpOp(op), Value: val}, nil

	case "$in", "$nin", "$all":
		values, err := parseLiteralList(op, val)
		if err != nil {
			return nil, err
		}
		switch op {
		case "$in":
			return In{Values: values}, nil
		case "$nin":
			return Nin{Values: values}, nil
		}
		return All{Values: values}, nil

	case "$elemMatch":
		obj, ok := val.(ir.Object)
		if !ok {
			return nil, errs.Validation("$elemMatch requires an object, got %s", ir.TypeName(val))
		}
		operators, err := isOperatorObject("$elemMatch", obj)
		if err != nil {
			return nil, err
		}
		if operators && !hasLogicalKey(obj) {
			cond, err := parseOperators(obj, depth+1)
			if err != nil {
				return nil, err
			}
			return ElemMatch{Cond: cond}, nil
		}
		expr, err := parseDocument(obj, depth+1)
		if err != nil {
			return nil, err
		}
		return ElemMatch{Expr: expr}, nil

	case "$size":
		n, ok := val.(ir.Number)
		if !ok || n < 0 || float64(n) != float64(int(n)) {
			return nil, errs.Validation("$size requires a non-negative integer, got %s", ir.TypeName(val))
		}
		return Size{N: int(n)}, nil

	case "$exists":
		b, ok := val.(ir.Bool)
		if !ok {
			return nil, errs.Validation("$exists requires a boolean, got %s", ir.TypeName(val))
		}
		return Exists{Want: bool(b)}, nil

	case "$type":
		names, err := parseTypeNames(val)
		if err != nil {
			return nil, err
		}
		return Type{Names: names}, nil

	case "$not":
		obj, ok := val.(ir.Object)
		if !ok {
			return nil, errs.Validation("$not requires an operator object, got %s", ir.TypeName(val))
		}
		operators, err := isOperatorObject("$not", obj)
		if err != nil {
			return nil, err
		}
		if !operators {
			return nil, errs.Validation("$not requires an operator object")
		}
		cond, err := parseOperators(obj, depth+1)
		if err != nil {
			return nil, err
		}
		return NotCond{Cond: cond}, nil
	}

	return nil, errs.Validation("%s is not an allowed query operator", op)
}

// hasLogicalKey reports whether an $elemMatch operand uses document-level
// logical operators, which switch it to document form.
func hasLogicalKey(obj ir.Object) bool {
	for _, k := range []string{"$and", "$or", "$nor"} {
		if _, ok := obj[k]; ok {
			return true
		}
	}
	return false
}

func parseLiteralList(op string, val ir.Value) ([]ir.Value, error) {
	arr, ok := val.(ir.Array)
	if !ok {
		return nil, errs.Validation("%s requires an array, got %s", op, ir.TypeName(val))
	}
	if len(arr) > MaxOperands {
		return nil, errs.Validation("%s accepts at most %d operands", op, MaxOperands)
	}
	for _, elem := range arr {
		if err := checkLiteral(elem); err != nil {
			return nil, err
		}
	}
	return []ir.Value(arr), nil
}

func parseTypeNames(val ir.Value) ([]string, error) {
	var raw ir.Array
	switch v := val.(type) {
	case ir.String:
		raw = ir.Array{v}
	case ir.Array:
		raw = v
	default:
		return nil, errs.Validation("$type requires a type name or list of names, got %s", ir.TypeName(val))
	}
	if len(raw) == 0 {
		return nil, errs.Validation("$type requires at least one type name")
	}

	names := make([]string, 0, len(raw))
	for _, elem := range raw {
		s, ok := elem.(ir.String)
		if !ok || !slices.Contains(TypeNames, string(s)) {
			return nil, errs.Validation("$type accepts only %s", strings.Join(TypeNames, ", "))
		}
		names = append(names, string(s))
	}
	return names, nil
}

// checkLiteral rejects literal operands that smuggle operators inside
// nested objects.
func checkLiteral(v ir.Value) error {
	switch val := v.(type) {
	case ir.Object:
		for k, elem := range val {
			if strings.HasPrefix(k, "$") {
				return errs.Validation("%s is not allowed inside a literal value", k)
			}
			if err := checkLiteral(elem); err != nil {
				return err
			}
		}
	case ir.Array:
		for _, elem := range val {
			if err := checkLiteral(elem); err != nil {
				return err
			}
		}
	}
	return nil
}

// splitPath splits a dotted field path, rejecting empty segments.
func splitPath(key string) ([]string, error) {
	parts := strings.Split(key, ".")
	for _, p := range parts {
		if p == "" {
			return nil, errs.Validation("malformed field path %q", key)
		}
	}
	return parts, nil
}
