package broker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/graffiti/internal/errs"
	"github.com/roach88/graffiti/internal/ir"
	"github.com/roach88/graffiti/internal/registry"
)

type eventKind int

const (
	eventInsert eventKind = iota + 1
	eventTombstone
)

// event is one state change of one document version within a batch.
type event struct {
	kind eventKind
	doc  *ir.Document
}

// op is one outgoing result for one subscription.
type op struct {
	delete   bool
	dropped  bool
	objectID string
	doc      *ir.Document
}

// match performs one matching pass.
func (b *Broker) match(ctx context.Context, pending batch) error {
	docs, err := b.store.Get(ctx, union(pending.inserts, pending.deletes))
	if err != nil {
		return fmt.Errorf("load batch documents: %w", err)
	}
	events := buildEvents(docs, pending)
	cycle := b.clock.Next()

	var maxSeq int64
	if n := len(docs); n > 0 {
		maxSeq = docs[n-1].SequenceID
	}

	return b.registry.Update(func(v *registry.View) error {
		dead := make(map[string]bool)
		delivered := 0

		for _, g := range v.Groups() {
			content, err := matchContent(g, events)
			if err != nil {
				b.fail(v, g.Subscriptions, err)
				continue
			}

			for _, sub := range g.Subscriptions {
				if dead[sub.ConnID] {
					continue
				}
				ops := evaluate(sub, events, content)
				sub.Advance(maxSeq)
				if err := deliver(sub, ops); err != nil {
					slog.Warn("connection dead during matching pass",
						"connection_id", sub.ConnID,
						"error", err,
					)
					dead[sub.ConnID] = true
					v.Unregister(sub.ConnID)
					continue
				}
				delivered += len(ops)
			}
		}

		slog.Debug("matching pass complete",
			"cycle", cycle,
			"inserts", len(pending.inserts),
			"deletes", len(pending.deletes),
			"results", delivered,
		)
		return nil
	})
}

// buildEvents orders a batch into events by document seq. A document that
// was both inserted and tombstoned within the batch yields its insert
// before its tombstone.
func buildEvents(docs []*ir.Document, pending batch) []event {
	inserted := make(map[int64]bool, len(pending.inserts))
	for _, id := range pending.inserts {
		inserted[id] = true
	}
	deleted := make(map[int64]bool, len(pending.deletes))
	for _, id := range pending.deletes {
		deleted[id] = true
	}

	events := make([]event, 0, len(pending.inserts)+len(pending.deletes))
	for _, doc := range docs {
		if inserted[doc.SequenceID] {
			events = append(events, event{kind: eventInsert, doc: doc})
		}
		if deleted[doc.SequenceID] {
			events = append(events, event{kind: eventTombstone, doc: doc})
		}
	}
	return events
}

// matchContent evaluates the shared query of a group once per document
// version in the batch. Tombstoned versions are evaluated too: a resumed
// subscription decides from them whether its client holds the object.
func matchContent(g registry.Group, events []event) (map[int64]bool, error) {
	if len(g.Subscriptions) == 0 {
		return nil, nil
	}
	pred := g.Subscriptions[0].Predicate

	content := make(map[int64]bool)
	for _, ev := range events {
		seq := ev.doc.SequenceID
		if _, done := content[seq]; done {
			continue
		}
		ok, err := safeMatch(pred, ev.doc)
		if err != nil {
			return nil, err
		}
		content[seq] = ok
	}
	return content, nil
}

// safeMatch evaluates a predicate, converting a panic into an error so one
// broken subscription cannot take down the pass.
func safeMatch(pred registry.Predicate, doc *ir.Document) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("predicate panicked: %v", r)
		}
	}()
	return pred.MatchContent(doc)
}

// evaluate computes one subscription's results for a batch and updates
// its delivery state.
//
// Ops are tracked per object lineage. A delete followed, in the same
// lineage, by an update of a newer version is dropped, so a replace that
// still matches arrives as one update however many other changes share
// the batch.
func evaluate(sub *registry.Subscription, events []event, content map[int64]bool) []op {
	identity := sub.Predicate.Identity()

	var ops []op
	last := make(map[string]int)
	push := func(o op) {
		if !o.delete {
			if i, ok := last[o.objectID]; ok && ops[i].delete {
				ops[i].dropped = true
			}
		}
		last[o.objectID] = len(ops)
		ops = append(ops, o)
	}

	for _, ev := range events {
		id := ev.doc.ObjectID
		seq := ev.doc.SequenceID
		matches := content[seq] && ev.doc.VisibleTo(identity)
		seen, visible := sub.Visible(id)

		switch ev.kind {
		case eventInsert:
			if matches {
				if !visible || seq > seen {
					push(op{objectID: id, doc: ev.doc})
					sub.MarkDelivered(id, seq)
				}
			} else if visible && seen < seq {
				push(op{delete: true, objectID: id})
				sub.MarkDeleted(id)
			}

		case eventTombstone:
			switch {
			case visible && seen == seq:
				push(op{delete: true, objectID: id})
				sub.MarkDeleted(id)
			case !visible && seq <= sub.Since() && matches:
				// Held by the client from before it resumed.
				push(op{delete: true, objectID: id})
			}
		}
	}

	out := ops[:0]
	for _, o := range ops {
		if !o.dropped {
			out = append(out, o)
		}
	}
	return out
}

// deliver sends ops as alternating updates/deletes messages, preserving
// their order.
func deliver(sub *registry.Subscription, ops []op) error {
	for i := 0; i < len(ops); {
		j := i
		for j < len(ops) && ops[j].delete == ops[i].delete {
			j++
		}
		run := ops[i:j]

		var err error
		if run[0].delete {
			ids := make([]string, len(run))
			for k, o := range run {
				ids[k] = o.objectID
			}
			err = sub.Sink.SendDeletes(sub.QueryID, ids)
		} else {
			docs := make([]*ir.Document, len(run))
			for k, o := range run {
				docs[k] = o.doc
			}
			err = sub.Sink.SendUpdates(sub.QueryID, docs, false, true)
		}
		if err != nil {
			return err
		}
		i = j
	}
	return nil
}

// fail removes subscriptions whose predicate could not be evaluated and
// tells their connections why.
func (b *Broker) fail(v *registry.View, subs []*registry.Subscription, cause error) {
	detail := errs.Detail(errs.Validation("query evaluation failed: %v", cause))
	for _, sub := range subs {
		slog.Warn("removing subscription after evaluation error",
			"connection_id", sub.ConnID,
			"query_id", sub.QueryID,
			"error", cause,
		)
		v.Remove(sub.ConnID, sub.QueryID)
		if err := sub.Sink.SendError(sub.QueryID, detail); err != nil {
			v.Unregister(sub.ConnID)
		}
	}
}

func union(a, b []int64) []int64 {
	seen := make(map[int64]struct{}, len(a)+len(b))
	out := make([]int64, 0, len(a)+len(b))
	for _, ids := range [][]int64{a, b} {
		for _, id := range ids {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				out = append(out, id)
			}
		}
	}
	return out
}
