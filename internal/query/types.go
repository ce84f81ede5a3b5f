package query

import "github.com/roach88/graffiti/internal/ir"

// Expr is a compiled query document (or logical combination of them).
//
// This is a sealed interface - only types in this package implement it.
//
// Expr types:
//   - And, Or, Nor: logical combinations of query documents
//   - Not: negation of a query document
//   - Field: a condition applied to the values found at a path
type Expr interface {
	exprNode() // Marker method - seals interface to this package
}

// Cond is a condition over the values found at a field path.
//
// This is a sealed interface - only types in this package implement it.
type Cond interface {
	condNode() // Marker method - seals interface to this package
}

// And is true when every sub-expression is true (empty = always true).
type And struct {
	Exprs []Expr
}

func (And) exprNode() {}

// Or is true when at least one sub-expression is true.
type Or struct {
	Exprs []Expr
}

func (Or) exprNode() {}

// Nor is true when no sub-expression is true.
type Nor struct {
	Exprs []Expr
}

func (Nor) exprNode() {}

// Not negates a query document.
type Not struct {
	Expr Expr
}

func (Not) exprNode() {}

// Field applies Cond to the values reachable at Path.
//
// Path traversal follows document-store conventions: numeric segments index
// arrays, and non-numeric segments fan out over array elements that are
// objects.
type Field struct {
	Path []string
	Cond Cond
}

func (Field) exprNode() {}

// AllOf is an operator object such as {"$gt": 1, "$lt": 5}: every operator
// must hold.
type AllOf struct {
	Conds []Cond
}

func (AllOf) condNode() {}

// Eq matches when any found value (or any element of a found array) equals
// Value. A null Value also matches a missing field.
type Eq struct {
	Value ir.Value
}

func (Eq) condNode() {}

// Ne is the negation of Eq.
type Ne struct {
	Value ir.Value
}

func (Ne) condNode() {}

// CmpOp is a range comparison operator.
type CmpOp string

const (
	OpGt  CmpOp = "$gt"
	OpGte CmpOp = "$gte"
	OpLt  CmpOp = "$lt"
	OpLte CmpOp = "$lte"
)

// Cmp matches when any found value compares to Value per Op.
// Values of different kinds never compare.
type Cmp struct {
	Op    CmpOp
	Value ir.Value
}

func (Cmp) condNode() {}

// In matches when Eq matches for any of Values.
type In struct {
	Values []ir.Value
}

func (In) condNode() {}

// Nin is the negation of In.
type Nin struct {
	Values []ir.Value
}

func (Nin) condNode() {}

// All matches when Eq matches for every one of Values. An empty list
// matches nothing.
type All struct {
	Values []ir.Value
}

func (All) condNode() {}

// ElemMatch matches when a found array has at least one element for which
// exactly one of Cond (operator form) or Expr (document form) holds.
type ElemMatch struct {
	Cond Cond
	Expr Expr
}

func (ElemMatch) condNode() {}

// Size matches arrays of exactly N elements.
type Size struct {
	N int
}

func (Size) condNode() {}

// Exists matches when the path resolves (Want=true) or does not (Want=false).
type Exists struct {
	Want bool
}

func (Exists) condNode() {}

// Type matches when a found value (or an element of a found array) has one
// of the named types.
type Type struct {
	Names []string
}

func (Type) condNode() {}

// NotCond negates an operator object.
type NotCond struct {
	Cond Cond
}

func (NotCond) condNode() {}
