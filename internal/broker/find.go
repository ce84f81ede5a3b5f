package broker

import (
	"context"

	"github.com/roach88/graffiti/internal/ir"
	"github.com/roach88/graffiti/internal/store"
)

// MaxFindLimit caps the number of documents a one-shot query returns.
const MaxFindLimit = 1000

// Find runs a one-shot query for identity and returns up to limit live
// matching documents, newest first by object timestamp then seq.
// A limit of zero or less uses MaxFindLimit.
func (b *Broker) Find(ctx context.Context, identity string, q ir.Object, limit int) ([]*ir.Document, error) {
	if limit <= 0 || limit > MaxFindLimit {
		limit = MaxFindLimit
	}
	pred, err := b.compile(q, identity)
	if err != nil {
		return nil, err
	}

	results := []*ir.Document{}
	cursor := store.Cursor{}
	for len(results) < limit {
		page, next, err := b.store.ReadNewest(ctx, cursor, b.batchSize)
		if err != nil {
			return nil, err
		}
		for _, doc := range page {
			if !doc.VisibleTo(identity) {
				continue
			}
			ok, err := pred.MatchContent(doc)
			if err != nil {
				return nil, err
			}
			if ok {
				results = append(results, doc)
				if len(results) == limit {
					break
				}
			}
		}
		if len(page) < b.batchSize {
			break
		}
		cursor = next
	}
	return results, nil
}
