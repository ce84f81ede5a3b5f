package broker

import (
	"context"
	"log/slog"

	"github.com/roach88/graffiti/internal/errs"
	"github.com/roach88/graffiti/internal/ir"
	"github.com/roach88/graffiti/internal/registry"
)

// Subscribe compiles query for the connection's owner, replays every live
// matching document with seq > since, and then makes the subscription
// visible to matching passes.
//
// Replay runs inside the registry's exclusive section, so no matching pass
// observes the subscription before its replay completes. Replay pages hold
// at most the configured batch size; only the last page is marked
// complete, and an empty replay still sends one complete page.
//
// accepted, when non-nil, runs once the request is authorized and the
// query compiles, before the first replay page is sent. It runs with the
// registry held and must not block or call back into the registry.
func (b *Broker) Subscribe(ctx context.Context, connID, token, queryID string, q ir.Object, since int64, accepted func() error) error {
	return b.registry.Update(func(v *registry.View) error {
		if err := v.Authorize(connID, token); err != nil {
			return err
		}
		if queryID == "" {
			return errs.Validation("query id is required")
		}
		owner, _ := v.Owner(connID)
		sink, _ := v.Sink(connID)

		pred, err := b.compile(q, owner)
		if err != nil {
			return err
		}
		if err := v.Check(connID, pred); err != nil {
			return err
		}
		if accepted != nil {
			if err := accepted(); err != nil {
				v.Unregister(connID)
				return errs.Transient("connection closed before replay", err)
			}
		}

		// Register the subscription only after replay so matching passes
		// cannot interleave with it.
		pending := make(map[string]int64)
		watermark, err := b.replay(ctx, pred, since, func(docs []*ir.Document, complete bool) error {
			for _, d := range docs {
				pending[d.ObjectID] = d.SequenceID
			}
			return sink.SendUpdates(queryID, docs, true, complete)
		})
		if err != nil {
			if !errs.IsTransient(err) && !errs.IsValidation(err) {
				v.Unregister(connID)
				return errs.Transient("connection closed during replay", err)
			}
			return err
		}

		sub, err := v.Add(connID, queryID, pred, since)
		if err != nil {
			return err
		}
		for objectID, seq := range pending {
			sub.MarkDelivered(objectID, seq)
		}
		sub.Advance(watermark)

		slog.Debug("subscription added",
			"connection_id", connID,
			"query_id", queryID,
			"since", since,
			"replayed", len(pending),
		)
		return nil
	})
}

// Unsubscribe removes subscriptions. Effective before the next matching
// pass begins.
func (b *Broker) Unsubscribe(connID, token string, queryIDs []string) error {
	return b.registry.RemoveSubscriptions(connID, token, queryIDs)
}

// replay pages through live documents after since and emits matching ones
// in pages of batchSize. It returns the highest seq it scanned.
func (b *Broker) replay(ctx context.Context, pred registry.Predicate, since int64, emit func([]*ir.Document, bool) error) (int64, error) {
	identity := pred.Identity()
	cursor := since
	var buf []*ir.Document

	for {
		page, err := b.store.ReadSince(ctx, cursor, b.batchSize)
		if err != nil {
			return 0, err
		}
		for _, doc := range page {
			cursor = doc.SequenceID
			if !doc.VisibleTo(identity) {
				continue
			}
			ok, err := safeMatch(pred, doc)
			if err != nil {
				return 0, errs.Validation("query evaluation failed: %v", err)
			}
			if !ok {
				continue
			}
			buf = append(buf, doc)
			if len(buf) > b.batchSize {
				if err := emit(buf[:b.batchSize], false); err != nil {
					return 0, err
				}
				buf = append([]*ir.Document(nil), buf[b.batchSize:]...)
			}
		}
		if len(page) < b.batchSize {
			break
		}
	}

	if buf == nil {
		buf = []*ir.Document{}
	}
	if err := emit(buf, true); err != nil {
		return 0, err
	}
	return cursor, nil
}
