package objects

import (
	"context"
	"log/slog"
	"time"

	"github.com/roach88/graffiti/internal/contexts"
	"github.com/roach88/graffiti/internal/errs"
	"github.com/roach88/graffiti/internal/ir"
)

// Store is the write side of the object store.
// Implemented by *store.Store.
type Store interface {
	Current(ctx context.Context, objectID string) (*ir.Document, error)
	Insert(ctx context.Context, doc *ir.Document) (int64, error)
	Replace(ctx context.Context, expectedSeq int64, next *ir.Document) (int64, error)
	Delete(ctx context.Context, objectID string, expectedSeq int64) error
}

// Publisher announces committed changes.
// Implemented by feed.Memory and feed.Redis.
type Publisher interface {
	Publish(ctx context.Context, c ir.Change) error
}

// Writer applies update and delete requests.
//
// Thread-safety: Writer is safe for concurrent use; all coordination
// happens in the store.
type Writer struct {
	store    Store
	feed     Publisher
	compiler *contexts.Compiler
	ids      contexts.TokenGenerator
	now      func() time.Time
}

// Option configures a Writer.
type Option func(*Writer)

// WithCompiler sets the context compiler. Default: random UUID tokens.
func WithCompiler(c *contexts.Compiler) Option {
	return func(w *Writer) {
		w.compiler = c
	}
}

// WithIDGenerator sets the generator for missing object ids.
// Default: contexts.UUIDGenerator.
func WithIDGenerator(g contexts.TokenGenerator) Option {
	return func(w *Writer) {
		w.ids = g
	}
}

// WithClock sets the source of missing timestamps. Default: time.Now.
func WithClock(now func() time.Time) Option {
	return func(w *Writer) {
		w.now = now
	}
}

// NewWriter creates a Writer.
func NewWriter(s Store, feed Publisher, opts ...Option) *Writer {
	w := &Writer{
		store:    s,
		feed:     feed,
		compiler: contexts.NewCompiler(nil),
		ids:      contexts.UUIDGenerator{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Update creates or replaces an object on behalf of identity and returns
// its id.
//
// Missing _id, _by and _timestamp are filled in. Replacing requires that
// identity authored the live version. The caller's object is not modified.
func (w *Writer) Update(ctx context.Context, identity string, obj ir.Object, rules []ir.ContextRule) (string, error) {
	if identity == "" {
		return "", errs.Authorization("you must be logged in to write objects")
	}
	if err := Validate(obj, identity); err != nil {
		return "", err
	}

	obj = obj.Clone()
	if _, ok := obj[ir.FieldID]; !ok {
		obj[ir.FieldID] = ir.String(w.ids.Generate())
	}
	if _, ok := obj[ir.FieldTimestamp]; !ok {
		obj[ir.FieldTimestamp] = ir.Number(w.now().UnixMilli())
	}
	obj[ir.FieldBy] = ir.String(identity)

	computed, err := w.compiler.Compile(obj, rules)
	if err != nil {
		return "", err
	}
	if rules == nil {
		rules = []ir.ContextRule{}
	}

	objectID, _ := obj.StringField(ir.FieldID)
	doc := &ir.Document{
		ObjectID:         objectID,
		Author:           identity,
		Access:           ir.AccessList(obj),
		Object:           obj,
		ComputedContexts: computed,
		ContextRules:     rules,
	}

	current, err := w.store.Current(ctx, objectID)
	if err != nil {
		return "", err
	}

	var change ir.Change
	if current == nil {
		seq, err := w.store.Insert(ctx, doc)
		if err != nil {
			return "", err
		}
		change.InsertIDs = []int64{seq}
		slog.Debug("object inserted", "object_id", objectID, "seq", seq)
	} else {
		if current.Author != identity {
			return "", errs.Authorization("you can only replace your own objects")
		}
		seq, err := w.store.Replace(ctx, current.SequenceID, doc)
		if err != nil {
			return "", err
		}
		change.InsertIDs = []int64{seq}
		change.DeleteIDs = []int64{current.SequenceID}
		slog.Debug("object replaced", "object_id", objectID, "seq", seq, "replaced_seq", current.SequenceID)
	}

	if err := w.publish(ctx, change); err != nil {
		return "", err
	}
	return objectID, nil
}

// Delete tombstones the live version of objectID.
//
// Deleting an object that does not exist (or was already deleted) is a
// CONFLICT error. Only the author may delete.
func (w *Writer) Delete(ctx context.Context, identity, objectID string) error {
	if identity == "" {
		return errs.Authorization("you must be logged in to delete objects")
	}
	if objectID == "" {
		return errs.Validation("objectId is required")
	}

	current, err := w.store.Current(ctx, objectID)
	if err != nil {
		return err
	}
	if current == nil {
		return errs.Conflict("object %s does not exist", objectID)
	}
	if current.Author != identity {
		return errs.Authorization("you can only delete your own objects")
	}

	if err := w.store.Delete(ctx, objectID, current.SequenceID); err != nil {
		return err
	}
	slog.Debug("object deleted", "object_id", objectID, "seq", current.SequenceID)

	return w.publish(ctx, ir.Change{DeleteIDs: []int64{current.SequenceID}})
}

// publish announces a committed change. The write is already durable, so a
// failure here is reported but not undone.
func (w *Writer) publish(ctx context.Context, c ir.Change) error {
	if err := w.feed.Publish(ctx, c); err != nil {
		slog.Error("change publish failed", "insert_ids", c.InsertIDs, "delete_ids", c.DeleteIDs, "error", err)
		if errs.KindOf(err) == "" {
			return errs.Transient("change feed unavailable", err)
		}
		return err
	}
	return nil
}
