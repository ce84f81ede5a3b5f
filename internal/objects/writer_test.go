package objects

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/graffiti/internal/contexts"
	"github.com/roach88/graffiti/internal/errs"
	"github.com/roach88/graffiti/internal/ir"
	"github.com/roach88/graffiti/internal/store"
	"github.com/roach88/graffiti/internal/testutil"
)

type recordingFeed struct {
	mu      sync.Mutex
	changes []ir.Change
	err     error
}

func (f *recordingFeed) Publish(_ context.Context, c ir.Change) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.changes = append(f.changes, c)
	return nil
}

func (f *recordingFeed) all() []ir.Change {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ir.Change(nil), f.changes...)
}

func createTestWriter(t *testing.T, opts ...Option) (*Writer, *store.Store, *recordingFeed) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	f := &recordingFeed{}
	base := []Option{
		WithCompiler(contexts.NewCompiler(contexts.NewSequenceGenerator("tok"))),
		WithClock(testutil.NewDeterministicClock().Now),
	}
	return NewWriter(s, f, append(base, opts...)...), s, f
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		obj     map[string]any
		kind    errs.Kind
		wantErr bool
	}{
		{name: "plain", obj: map[string]any{"text": "hi"}},
		{name: "all reserved fields", obj: map[string]any{"_id": "x", "_by": "alice", "_to": []any{"bob"}, "_timestamp": 5}},
		{name: "empty access list", obj: map[string]any{"_to": []any{}}},
		{name: "id not string", obj: map[string]any{"_id": 5}, wantErr: true, kind: errs.KindValidation},
		{name: "empty id", obj: map[string]any{"_id": ""}, wantErr: true, kind: errs.KindValidation},
		{name: "forged author", obj: map[string]any{"_by": "mallory"}, wantErr: true, kind: errs.KindAuthorization},
		{name: "author not string", obj: map[string]any{"_by": 1}, wantErr: true, kind: errs.KindAuthorization},
		{name: "access not list", obj: map[string]any{"_to": "bob"}, wantErr: true, kind: errs.KindValidation},
		{name: "access with number", obj: map[string]any{"_to": []any{"bob", 3}}, wantErr: true, kind: errs.KindValidation},
		{name: "timestamp string", obj: map[string]any{"_timestamp": "now"}, wantErr: true, kind: errs.KindValidation},
		{name: "unknown reserved field", obj: map[string]any{"_secret": 1}, wantErr: true, kind: errs.KindValidation},
		{name: "operator key", obj: map[string]any{"$where": 1}, wantErr: true, kind: errs.KindValidation},
		{name: "nested plain keys", obj: map[string]any{"meta": map[string]any{"x": []any{map[string]any{"y": 1}}}}},
		{name: "nested reserved key", obj: map[string]any{"meta": map[string]any{"_x": 1}}, wantErr: true, kind: errs.KindValidation},
		{name: "reserved key inside array", obj: map[string]any{"list": []any{1, map[string]any{"_id": "x"}}}, wantErr: true, kind: errs.KindValidation},
		{name: "nested operator key", obj: map[string]any{"a": map[string]any{"b": map[string]any{"$gt": 1}}}, wantErr: true, kind: errs.KindValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(ir.MustObject(tt.obj), "alice")
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.kind, errs.KindOf(err))
		})
	}
}

func TestValidate_NestedKeyPath(t *testing.T) {
	err := Validate(ir.MustObject(map[string]any{"list": []any{map[string]any{"_id": "x"}}}), "alice")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"list.0._id"`)
}

func TestValidate_NilObject(t *testing.T) {
	assert.True(t, errs.IsValidation(Validate(nil, "alice")))
}

func TestWriter_UpdateInsertsAndFillsFields(t *testing.T) {
	ctx := context.Background()
	w, s, f := createTestWriter(t, WithIDGenerator(testutil.NewFixedGenerator("note-1")))

	input := ir.MustObject(map[string]any{"text": "hello"})
	id, err := w.Update(ctx, "alice", input, nil)
	require.NoError(t, err)
	assert.Equal(t, "note-1", id)
	assert.NotContains(t, input, ir.FieldID, "caller's object must not be modified")

	doc, err := s.Current(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, "alice", doc.Author)
	assert.Equal(t, ir.String("alice"), doc.Object[ir.FieldBy])
	assert.Equal(t, ir.Number(testutil.Epoch.UnixMilli()), doc.Object[ir.FieldTimestamp])
	assert.Empty(t, doc.ContextRules)
	assert.Len(t, doc.ComputedContexts, len(contexts.DefaultRules))

	assert.Equal(t, []ir.Change{{InsertIDs: []int64{doc.SequenceID}}}, f.all())
}

func TestWriter_UpdateKeepsClientTimestampAndID(t *testing.T) {
	ctx := context.Background()
	w, s, _ := createTestWriter(t)

	id, err := w.Update(ctx, "alice", ir.MustObject(map[string]any{"_id": "mine", "_timestamp": 42}), nil)
	require.NoError(t, err)
	assert.Equal(t, "mine", id)

	doc, err := s.Current(ctx, "mine")
	require.NoError(t, err)
	assert.Equal(t, ir.Number(42), doc.Object[ir.FieldTimestamp])
}

func TestWriter_UpdateStoresRulesAndContexts(t *testing.T) {
	ctx := context.Background()
	w, s, _ := createTestWriter(t)

	rules := []ir.ContextRule{{NearMisses: [][]string{{"text"}}}}
	id, err := w.Update(ctx, "alice", ir.MustObject(map[string]any{"text": "hi"}), rules)
	require.NoError(t, err)

	doc, err := s.Current(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, rules, doc.ContextRules)
	require.Len(t, doc.ComputedContexts, len(contexts.DefaultRules)+1)

	declared := doc.ComputedContexts[len(contexts.DefaultRules)]
	require.Len(t, declared.NearMisses, 1)
	assert.NotEqual(t, ir.String("hi"), declared.NearMisses[0]["text"])
}

func TestWriter_UpdateReplaces(t *testing.T) {
	ctx := context.Background()
	w, s, f := createTestWriter(t)

	id, err := w.Update(ctx, "alice", ir.MustObject(map[string]any{"_id": "n", "v": 1}), nil)
	require.NoError(t, err)
	first, err := s.Current(ctx, id)
	require.NoError(t, err)

	_, err = w.Update(ctx, "alice", ir.MustObject(map[string]any{"_id": "n", "v": 2}), nil)
	require.NoError(t, err)
	second, err := s.Current(ctx, id)
	require.NoError(t, err)

	assert.Greater(t, second.SequenceID, first.SequenceID)
	assert.Equal(t, ir.Number(2), second.Object["v"])

	changes := f.all()
	require.Len(t, changes, 2)
	assert.Equal(t, ir.Change{InsertIDs: []int64{second.SequenceID}, DeleteIDs: []int64{first.SequenceID}}, changes[1])
}

func TestWriter_UpdateRejections(t *testing.T) {
	ctx := context.Background()
	w, s, f := createTestWriter(t)

	_, err := w.Update(ctx, "alice", ir.MustObject(map[string]any{"_id": "n"}), nil)
	require.NoError(t, err)

	_, err = w.Update(ctx, "bob", ir.MustObject(map[string]any{"_id": "n"}), nil)
	assert.True(t, errs.IsAuthorization(err), "replacing another author's object: %v", err)

	_, err = w.Update(ctx, "", ir.MustObject(map[string]any{"x": 1}), nil)
	assert.True(t, errs.IsAuthorization(err), "anonymous write: %v", err)

	_, err = w.Update(ctx, "alice", ir.MustObject(map[string]any{"_by": "bob"}), nil)
	assert.True(t, errs.IsAuthorization(err), "forged author: %v", err)

	_, err = w.Update(ctx, "alice", ir.MustObject(map[string]any{"_id": "m", "x": 1}),
		[]ir.ContextRule{{NearMisses: [][]string{{"x.y"}}}})
	assert.True(t, errs.IsValidation(err), "path into scalar: %v", err)

	doc, err := s.Current(ctx, "m")
	require.NoError(t, err)
	assert.Nil(t, doc, "rejected writes must not be stored")
	assert.Len(t, f.all(), 1)
}

func TestWriter_Delete(t *testing.T) {
	ctx := context.Background()
	w, s, f := createTestWriter(t)

	id, err := w.Update(ctx, "alice", ir.MustObject(map[string]any{"x": 1}), nil)
	require.NoError(t, err)
	doc, err := s.Current(ctx, id)
	require.NoError(t, err)

	assert.True(t, errs.IsAuthorization(w.Delete(ctx, "bob", id)))
	assert.True(t, errs.IsAuthorization(w.Delete(ctx, "", id)))
	assert.True(t, errs.IsValidation(w.Delete(ctx, "alice", "")))

	require.NoError(t, w.Delete(ctx, "alice", id))
	assert.Equal(t, ir.Change{DeleteIDs: []int64{doc.SequenceID}}, f.all()[len(f.all())-1])

	current, err := s.Current(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, current)

	err = w.Delete(ctx, "alice", id)
	assert.True(t, errs.IsConflict(err), "second delete: %v", err)
}

func TestWriter_UpdateAfterDeleteInsertsFresh(t *testing.T) {
	ctx := context.Background()
	w, s, f := createTestWriter(t)

	_, err := w.Update(ctx, "alice", ir.MustObject(map[string]any{"_id": "n"}), nil)
	require.NoError(t, err)
	require.NoError(t, w.Delete(ctx, "alice", "n"))

	_, err = w.Update(ctx, "bob", ir.MustObject(map[string]any{"_id": "n"}), nil)
	require.NoError(t, err)

	doc, err := s.Current(ctx, "n")
	require.NoError(t, err)
	assert.Equal(t, "bob", doc.Author)
	assert.Empty(t, f.all()[2].DeleteIDs)
}

func TestWriter_PublishFailureIsTransient(t *testing.T) {
	ctx := context.Background()
	w, s, f := createTestWriter(t)
	f.err = errors.New("connection refused")

	_, err := w.Update(ctx, "alice", ir.MustObject(map[string]any{"_id": "n"}), nil)
	require.Error(t, err)
	assert.True(t, errs.IsTransient(err))

	doc, err := s.Current(ctx, "n")
	require.NoError(t, err)
	assert.NotNil(t, doc, "the write is durable even when the announcement fails")
}
