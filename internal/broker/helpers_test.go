package broker

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/graffiti/internal/contexts"
	"github.com/roach88/graffiti/internal/ir"
	"github.com/roach88/graffiti/internal/registry"
	"github.com/roach88/graffiti/internal/store"
)

var errSinkClosed = errors.New("sink closed")

// message is one recorded delivery.
type message struct {
	kind       string // "updates", "deletes", "error"
	queryID    string
	objectIDs  []string
	seqs       []int64
	historical bool
	complete   bool
	detail     string
}

// recordingSink records deliveries for assertions.
type recordingSink struct {
	mu     sync.Mutex
	msgs   []message
	closed bool
}

func (s *recordingSink) SendUpdates(queryID string, docs []*ir.Document, historical, complete bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errSinkClosed
	}
	m := message{kind: "updates", queryID: queryID, historical: historical, complete: complete}
	for _, d := range docs {
		m.objectIDs = append(m.objectIDs, d.ObjectID)
		m.seqs = append(m.seqs, d.SequenceID)
	}
	s.msgs = append(s.msgs, m)
	return nil
}

func (s *recordingSink) SendDeletes(queryID string, objectIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errSinkClosed
	}
	s.msgs = append(s.msgs, message{kind: "deletes", queryID: queryID, objectIDs: objectIDs, complete: true})
	return nil
}

func (s *recordingSink) SendError(queryID, detail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errSinkClosed
	}
	s.msgs = append(s.msgs, message{kind: "error", queryID: queryID, detail: detail})
	return nil
}

func (s *recordingSink) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

// take returns and clears the recorded messages.
func (s *recordingSink) take() []message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.msgs
	s.msgs = nil
	return out
}

// live returns the messages for queryID that are not historical replay.
func (s *recordingSink) live(queryID string) []message {
	var out []message
	for _, m := range s.take() {
		if m.queryID == queryID && !m.historical {
			out = append(out, m)
		}
	}
	return out
}

type testEnv struct {
	t        *testing.T
	ctx      context.Context
	store    *store.Store
	registry *registry.Registry
	broker   *Broker
	compiler *contexts.Compiler
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	reg := registry.New()
	return &testEnv{
		t:        t,
		ctx:      context.Background(),
		store:    s,
		registry: reg,
		broker:   New(s, reg, opts...),
		compiler: contexts.NewCompiler(contexts.NewSequenceGenerator("tok")),
	}
}

func (e *testEnv) document(id, author string, fields map[string]any, rules []ir.ContextRule) *ir.Document {
	e.t.Helper()
	obj := ir.MustObject(fields)
	obj[ir.FieldID] = ir.String(id)
	obj[ir.FieldBy] = ir.String(author)
	if _, ok := obj[ir.FieldTimestamp]; !ok {
		obj[ir.FieldTimestamp] = ir.Number(1)
	}
	computed, err := e.compiler.Compile(obj, rules)
	require.NoError(e.t, err)
	return &ir.Document{
		ObjectID:         id,
		Author:           author,
		Access:           ir.AccessList(obj),
		Object:           obj,
		ComputedContexts: computed,
		ContextRules:     rules,
	}
}

// put inserts or replaces an object and notifies the broker.
func (e *testEnv) put(id, author string, fields map[string]any, rules ...ir.ContextRule) int64 {
	e.t.Helper()
	doc := e.document(id, author, fields, rules)
	cur, err := e.store.Current(e.ctx, id)
	require.NoError(e.t, err)

	if cur == nil {
		seq, err := e.store.Insert(e.ctx, doc)
		require.NoError(e.t, err)
		e.broker.Notify(ir.Change{InsertIDs: []int64{seq}})
		return seq
	}
	seq, err := e.store.Replace(e.ctx, cur.SequenceID, doc)
	require.NoError(e.t, err)
	e.broker.Notify(ir.Change{InsertIDs: []int64{seq}, DeleteIDs: []int64{cur.SequenceID}})
	return seq
}

// del tombstones an object and notifies the broker.
func (e *testEnv) del(id string) {
	e.t.Helper()
	cur, err := e.store.Current(e.ctx, id)
	require.NoError(e.t, err)
	require.NotNil(e.t, cur)
	require.NoError(e.t, e.store.Delete(e.ctx, id, cur.SequenceID))
	e.broker.Notify(ir.Change{DeleteIDs: []int64{cur.SequenceID}})
}

func (e *testEnv) connect(connID, owner string) (*recordingSink, string) {
	e.t.Helper()
	sink := &recordingSink{}
	token, err := e.registry.Register(connID, owner, sink)
	require.NoError(e.t, err)
	return sink, token
}

func (e *testEnv) subscribe(connID, token, queryID, q string) {
	e.t.Helper()
	obj, err := ir.DecodeObject([]byte(q))
	require.NoError(e.t, err)
	require.NoError(e.t, e.broker.Subscribe(e.ctx, connID, token, queryID, obj, 0, nil))
}

func (e *testEnv) pass() {
	e.t.Helper()
	_, err := e.broker.ProcessPending(e.ctx)
	require.NoError(e.t, err)
}
