package delivery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/graffiti/internal/ir"
)

type fakeTransport struct {
	mu      sync.Mutex
	msgs    []any
	failErr error
	block   chan struct{}
	closed  int
}

func (f *fakeTransport) WriteJSON(ctx context.Context, v any) error {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return f.failErr
	}
	f.msgs = append(f.msgs, v)
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeTransport) messages() []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]any(nil), f.msgs...)
}

func (f *fakeTransport) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeRegistry struct {
	mu      sync.Mutex
	removed []string
}

func (r *fakeRegistry) Unregister(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed = append(r.removed, connID)
}

func (r *fakeRegistry) unregistered() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.removed...)
}

func newTestConn(t *testing.T, tr *fakeTransport, cfg Config) (*Conn, *fakeRegistry) {
	t.Helper()
	reg := &fakeRegistry{}
	c := NewConn("conn-1", tr, reg, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		c.Close()
	})
	c.Start(ctx)
	return c, reg
}

func testDoc(seq int64, id string) *ir.Document {
	return &ir.Document{
		SequenceID: seq,
		ObjectID:   id,
		Object:     ir.Object{ir.FieldID: ir.String(id)},
	}
}

func TestConn_DeliversInOrder(t *testing.T) {
	tr := &fakeTransport{}
	c, _ := newTestConn(t, tr, Config{HeartbeatInterval: time.Hour})

	require.NoError(t, c.SendMatch("q1", testDoc(1, "a")))
	require.NoError(t, c.SendDelete("q1", "a"))
	require.NoError(t, c.SendError("q2", "bad query"))
	require.NoError(t, c.SendReply(SuccessMessage{Type: TypeSuccess, MessageID: "m1"}))

	require.Eventually(t, func() bool { return len(tr.messages()) == 4 }, time.Second, 5*time.Millisecond)

	msgs := tr.messages()
	updates, ok := msgs[0].(UpdatesMessage)
	require.True(t, ok)
	assert.Equal(t, TypeUpdates, updates.Type)
	assert.Equal(t, "q1", updates.QueryID)
	assert.True(t, updates.Complete)
	assert.False(t, updates.Historical)
	require.Len(t, updates.Results, 1)
	assert.Equal(t, int64(1), updates.Results[0].SequenceID)

	assert.Equal(t, DeletesMessage{Type: TypeDeletes, QueryID: "q1", Results: []string{"a"}, Complete: true}, msgs[1])
	assert.Equal(t, ErrorMessage{Type: TypeError, QueryID: "q2", Detail: "bad query"}, msgs[2])
	assert.Equal(t, SuccessMessage{Type: TypeSuccess, MessageID: "m1"}, msgs[3])
}

func TestConn_SendUpdatesNilResultsIsEmptyList(t *testing.T) {
	tr := &fakeTransport{}
	c, _ := newTestConn(t, tr, Config{HeartbeatInterval: time.Hour})

	require.NoError(t, c.SendUpdates("q1", nil, true, true))
	require.Eventually(t, func() bool { return len(tr.messages()) == 1 }, time.Second, 5*time.Millisecond)

	msg := tr.messages()[0].(UpdatesMessage)
	assert.NotNil(t, msg.Results)
	assert.Empty(t, msg.Results)
	assert.True(t, msg.Historical)
}

func TestConn_Heartbeat(t *testing.T) {
	tr := &fakeTransport{}
	newTestConn(t, tr, Config{HeartbeatInterval: 10 * time.Millisecond})

	require.Eventually(t, func() bool { return len(tr.messages()) >= 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, PingMessage{Type: TypePing, ConnectionID: "conn-1"}, tr.messages()[0])
}

func TestConn_WriteFailureDeregisters(t *testing.T) {
	tr := &fakeTransport{failErr: errors.New("broken pipe")}
	c, reg := newTestConn(t, tr, Config{HeartbeatInterval: time.Hour})

	require.NoError(t, c.SendMatch("q1", testDoc(1, "a")))

	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("connection did not die after write failure")
	}
	require.Eventually(t, func() bool { return len(reg.unregistered()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"conn-1"}, reg.unregistered())
	assert.EqualError(t, c.Err(), "broken pipe")
	assert.ErrorIs(t, c.SendMatch("q1", testDoc(2, "b")), ErrClosed)
}

func TestConn_OutboxOverflow(t *testing.T) {
	tr := &fakeTransport{block: make(chan struct{})}
	c, reg := newTestConn(t, tr, Config{HeartbeatInterval: time.Hour, OutboxSize: 2})

	// The writer takes one message and blocks on it; two more fill the outbox.
	require.NoError(t, c.SendMatch("q1", testDoc(1, "a")))
	require.Eventually(t, func() bool { return len(c.outbox) == 0 }, time.Second, time.Millisecond)
	require.NoError(t, c.SendMatch("q1", testDoc(2, "b")))
	require.NoError(t, c.SendMatch("q1", testDoc(3, "c")))

	err := c.SendMatch("q1", testDoc(4, "d"))
	assert.ErrorIs(t, err, ErrOutboxFull)
	assert.ErrorIs(t, c.Err(), ErrOutboxFull)

	require.Eventually(t, func() bool { return len(reg.unregistered()) == 1 }, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, c.SendMatch("q1", testDoc(5, "e")), ErrClosed)
	close(tr.block)
}

func TestConn_SendReplyOverflowClosesSynchronously(t *testing.T) {
	tr := &fakeTransport{block: make(chan struct{})}
	c, reg := newTestConn(t, tr, Config{HeartbeatInterval: time.Hour, OutboxSize: 1})

	require.NoError(t, c.SendReply(SuccessMessage{Type: TypeSuccess, MessageID: "1"}))
	require.Eventually(t, func() bool { return len(c.outbox) == 0 }, time.Second, time.Millisecond)
	require.NoError(t, c.SendReply(SuccessMessage{Type: TypeSuccess, MessageID: "2"}))

	err := c.SendReply(SuccessMessage{Type: TypeSuccess, MessageID: "3"})
	assert.ErrorIs(t, err, ErrOutboxFull)
	assert.Contains(t, reg.unregistered(), "conn-1")
	assert.GreaterOrEqual(t, tr.closeCount(), 1)
	close(tr.block)
}

func TestConn_QueueKeepsOrderWithUpdates(t *testing.T) {
	tr := &fakeTransport{}
	c, reg := newTestConn(t, tr, Config{HeartbeatInterval: time.Hour})

	require.NoError(t, c.Queue(SuccessMessage{Type: TypeSuccess, MessageID: "s1"}))
	require.NoError(t, c.SendUpdates("q1", nil, true, true))

	require.Eventually(t, func() bool { return len(tr.messages()) == 2 }, time.Second, 5*time.Millisecond)
	msgs := tr.messages()
	reply, ok := msgs[0].(SuccessMessage)
	require.True(t, ok)
	assert.Equal(t, "s1", reply.MessageID)
	_, ok = msgs[1].(UpdatesMessage)
	assert.True(t, ok)
	assert.Empty(t, reg.unregistered())
}

func TestConn_CloseIsIdempotent(t *testing.T) {
	tr := &fakeTransport{}
	reg := &fakeRegistry{}
	c := NewConn("conn-1", tr, reg, Config{})

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	assert.Equal(t, []string{"conn-1"}, reg.unregistered())
	assert.Equal(t, 1, tr.closeCount())
	assert.ErrorIs(t, c.SendError("q", "x"), ErrClosed)
}

func TestConn_ContextCancelCloses(t *testing.T) {
	tr := &fakeTransport{}
	reg := &fakeRegistry{}
	c := NewConn("conn-1", tr, reg, Config{HeartbeatInterval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	c.Start(ctx)
	cancel()

	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("connection did not close on context cancel")
	}
	require.Eventually(t, func() bool { return tr.closeCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"conn-1"}, reg.unregistered())
}

func TestConfig_Defaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, DefaultHeartbeatInterval, cfg.HeartbeatInterval)
	assert.Equal(t, DefaultWriteTimeout, cfg.WriteTimeout)
	assert.Equal(t, DefaultOutboxSize, cfg.OutboxSize)

	cfg = Config{HeartbeatInterval: time.Second, OutboxSize: 3}.withDefaults()
	assert.Equal(t, time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 3, cfg.OutboxSize)
}
