package query

import (
	"github.com/roach88/graffiti/internal/errs"
	"github.com/roach88/graffiti/internal/ir"
)

// Predicate is a client query rewritten for one identity.
//
// A document matches when its object satisfies the query, its computed
// contexts admit the query, and the identity passes the access clause.
// Predicates are immutable and safe for concurrent use.
type Predicate struct {
	query    ir.Object
	expr     Expr
	hash     string
	identity string
	audit    bool
}

// Compile validates query and binds it to identity. A nil query matches
// every visible document. identity may be empty for anonymous callers, who
// only see public documents.
//
// A top-level "_audit": true turns on audit mode: documents authored by
// identity skip the context clause. Other authors' documents are matched
// as usual.
func Compile(query ir.Object, identity string) (*Predicate, error) {
	if query == nil {
		query = ir.Object{}
	}
	body, audit, err := splitAudit(query)
	if err != nil {
		return nil, err
	}
	expr, err := Parse(body)
	if err != nil {
		return nil, err
	}
	hash, err := ir.QueryHash(query)
	if err != nil {
		return nil, errs.Validation("query is not canonically encodable: %v", err)
	}
	if audit {
		// Audit results depend on the caller.
		hash += "@" + identity
	}
	return &Predicate{
		query:    query.Clone(),
		expr:     expr,
		hash:     hash,
		identity: identity,
		audit:    audit,
	}, nil
}

// Query returns the client query the predicate was compiled from.
func (p *Predicate) Query() ir.Object { return p.query }

// Hash returns the content hash of the query. Predicates compiled from
// equal queries share a hash regardless of identity, except in audit mode.
func (p *Predicate) Hash() string { return p.hash }

// Audit reports whether the predicate runs in audit mode.
func (p *Predicate) Audit() bool { return p.audit }

// Identity returns the identity the predicate was compiled for.
func (p *Predicate) Identity() string { return p.identity }

// Match reports whether doc is visible to this predicate's identity and
// matches its query. The tombstone flag is not consulted; callers decide
// which versions are live.
func (p *Predicate) Match(doc *ir.Document) (bool, error) {
	if !doc.VisibleTo(p.identity) {
		return false, nil
	}
	return p.MatchContent(doc)
}

// MatchContent evaluates the object clause and the context clause.
// Outside audit mode neither depends on identity, so subscriptions that
// share a query hash can share this result and apply only the access
// clause.
func (p *Predicate) MatchContent(doc *ir.Document) (bool, error) {
	ok, err := Eval(p.expr, doc.Object)
	if err != nil || !ok {
		return false, err
	}
	if !doc.HasRules() {
		return true, nil
	}
	if p.audit && p.identity != "" && doc.Author == p.identity {
		return true, nil
	}
	for _, cc := range doc.ComputedContexts {
		admitted, err := p.admits(cc)
		if err != nil {
			return false, err
		}
		if admitted {
			return true, nil
		}
	}
	return false, nil
}

// admits reports whether a computed context lets the query see the object:
// no near-miss variant matches and every neighbor variant does.
func (p *Predicate) admits(cc ir.ComputedContext) (bool, error) {
	for _, variant := range cc.NearMisses {
		ok, err := Eval(p.expr, variant)
		if err != nil {
			return false, err
		}
		if ok {
			return false, nil
		}
	}
	for _, variant := range cc.Neighbors {
		ok, err := Eval(p.expr, variant)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}
