package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/roach88/graffiti/internal/broker"
	"github.com/roach88/graffiti/internal/delivery"
	"github.com/roach88/graffiti/internal/feed"
	"github.com/roach88/graffiti/internal/ir"
	"github.com/roach88/graffiti/internal/objects"
	"github.com/roach88/graffiti/internal/registry"
	"github.com/roach88/graffiti/internal/store"
)

const testSecret = "test-secret"

type testServer struct {
	http     *httptest.Server
	auth     *Authenticator
	registry *registry.Registry
	store    *store.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	reg := registry.New()
	b := broker.New(s, reg)
	changes := feed.NewMemory()
	_, err = changes.Subscribe(ctx, func(c ir.Change) { b.Notify(c) })
	require.NoError(t, err)
	go b.Run(ctx)

	auth := NewAuthenticator(testSecret)
	srv := New(ctx, Deps{
		Store:    s,
		Registry: reg,
		Broker:   b,
		Writer:   objects.NewWriter(s, changes),
		Auth:     auth,
		Delivery: delivery.Config{HeartbeatInterval: time.Hour},
	})
	hs := httptest.NewServer(srv.Handler())

	t.Cleanup(func() {
		cancel()
		hs.Close()
		s.Close()
	})
	return &testServer{http: hs, auth: auth, registry: reg, store: s}
}

func (ts *testServer) socketURL(token string) string {
	u := "ws" + strings.TrimPrefix(ts.http.URL, "http") + "/socket"
	if token != "" {
		u += "?token=" + token
	}
	return u
}

type testClient struct {
	t  *testing.T
	ws *websocket.Conn
}

// connect opens a socket as identity ("" for anonymous).
func (ts *testServer) connect(t *testing.T, identity string) *testClient {
	t.Helper()
	token := ""
	if identity != "" {
		var err error
		token, err = ts.auth.Sign(identity)
		require.NoError(t, err)
	}
	ws, resp, err := websocket.DefaultDialer.Dial(ts.socketURL(token), nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { ws.Close() })
	return &testClient{t: t, ws: ws}
}

func (c *testClient) send(msg map[string]any) {
	c.t.Helper()
	require.NoError(c.t, c.ws.WriteJSON(msg))
}

// read returns the next non-heartbeat message.
func (c *testClient) read() map[string]any {
	c.t.Helper()
	for {
		require.NoError(c.t, c.ws.SetReadDeadline(time.Now().Add(3*time.Second)))
		_, data, err := c.ws.ReadMessage()
		require.NoError(c.t, err)

		var msg map[string]any
		require.NoError(c.t, json.Unmarshal(data, &msg))
		if msg["type"] == delivery.TypePing {
			continue
		}
		return msg
	}
}

// expect reads the next message and checks its type.
func (c *testClient) expect(msgType string) map[string]any {
	c.t.Helper()
	msg := c.read()
	require.Equal(c.t, msgType, msg["type"], "unexpected message: %v", msg)
	return msg
}

// resultObject returns results[i].object[0] of an updates message.
func resultObject(t *testing.T, msg map[string]any, i int) map[string]any {
	t.Helper()
	results, ok := msg["results"].([]any)
	require.True(t, ok)
	require.Greater(t, len(results), i)
	doc := results[i].(map[string]any)
	holder := doc["object"].([]any)
	require.Len(t, holder, 1)
	return holder[0].(map[string]any)
}

func getJSON(t *testing.T, url string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}
