package broker

import (
	"context"
	"log/slog"

	"github.com/roach88/graffiti/internal/ir"
	"github.com/roach88/graffiti/internal/query"
	"github.com/roach88/graffiti/internal/registry"
	"github.com/roach88/graffiti/internal/store"
)

// DefaultBatchSize is the default page size for historical replay.
const DefaultBatchSize = 100

// Store is the read side of the object store the broker needs.
// Implemented by *store.Store.
type Store interface {
	Get(ctx context.Context, seqs []int64) ([]*ir.Document, error)
	ReadSince(ctx context.Context, since int64, limit int) ([]*ir.Document, error)
	ReadNewest(ctx context.Context, cursor store.Cursor, limit int) ([]*ir.Document, store.Cursor, error)
}

// CompileFunc compiles a client query for an identity.
type CompileFunc func(q ir.Object, identity string) (registry.Predicate, error)

// Broker is the live-query broker.
type Broker struct {
	store     Store
	registry  *registry.Registry
	acc       *accumulator
	clock     *Clock
	compile   CompileFunc
	batchSize int
}

// Option configures a Broker.
type Option func(*Broker)

// WithBatchSize sets the historical replay page size.
//
// Default: 100 (DefaultBatchSize). Values below 1 are ignored.
func WithBatchSize(n int) Option {
	return func(b *Broker) {
		if n > 0 {
			b.batchSize = n
		}
	}
}

// WithCompiler replaces the query compiler.
func WithCompiler(fn CompileFunc) Option {
	return func(b *Broker) {
		b.compile = fn
	}
}

// New creates a Broker over the given store and registry.
func New(s Store, reg *registry.Registry, opts ...Option) *Broker {
	b := &Broker{
		store:     s,
		registry:  reg,
		acc:       newAccumulator(),
		clock:     NewClock(),
		compile:   compileQuery,
		batchSize: DefaultBatchSize,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func compileQuery(q ir.Object, identity string) (registry.Predicate, error) {
	return query.Compile(q, identity)
}

// Notify records a change for the next matching pass. It never blocks on
// matching. Returns false after Stop.
func (b *Broker) Notify(c ir.Change) bool {
	if c.Empty() {
		return true
	}
	return b.acc.Add(c)
}

// Cycles returns the number of completed matching passes.
func (b *Broker) Cycles() int64 {
	return b.clock.Current()
}

// Pending returns the number of distinct ids waiting for a matching pass.
func (b *Broker) Pending() int {
	return b.acc.Pending()
}

// Run processes batches until ctx is cancelled or Stop is called.
//
// Errors from a matching pass are logged and the loop continues; the
// batch is not retried.
func (b *Broker) Run(ctx context.Context) error {
	slog.Info("broker starting", "batch_size", b.batchSize)

	for {
		if _, err := b.ProcessPending(ctx); err != nil {
			slog.Error("matching pass failed", "error", err, "cycle", b.clock.Current())
		}

		select {
		case <-ctx.Done():
			slog.Info("broker stopping: context cancelled")
			b.acc.Close()
			return ctx.Err()

		case _, ok := <-b.acc.Wait():
			if !ok {
				if b.acc.Pending() == 0 {
					slog.Info("broker stopping: closed")
					return nil
				}
			}
		}
	}
}

// Stop closes the accumulator. Run drains what is pending and returns.
func (b *Broker) Stop() {
	b.acc.Close()
}

// ProcessPending runs one matching pass over everything accumulated so
// far. It reports whether there was anything to process. Run calls it in
// a loop; tests call it directly for deterministic stepping.
func (b *Broker) ProcessPending(ctx context.Context) (bool, error) {
	pending, ok := b.acc.Swap()
	if !ok {
		return false, nil
	}
	return true, b.match(ctx, pending)
}
