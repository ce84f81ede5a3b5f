package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/roach88/graffiti/internal/broker"
	"github.com/roach88/graffiti/internal/delivery"
	"github.com/roach88/graffiti/internal/errs"
	"github.com/roach88/graffiti/internal/objects"
	"github.com/roach88/graffiti/internal/registry"
)

// MaxMessageSize bounds one incoming client message.
const MaxMessageSize = 1 << 20

// healthTimeout bounds the store ping behind /healthz.
const healthTimeout = 2 * time.Second

// Pinger reports store availability.
// Implemented by *store.Store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the components a Server dispatches to.
type Deps struct {
	Store    Pinger
	Registry *registry.Registry
	Broker   *broker.Broker
	Writer   *objects.Writer
	Auth     *Authenticator
	Delivery delivery.Config
}

// Server is the client-facing HTTP and websocket endpoint.
type Server struct {
	ctx      context.Context
	deps     Deps
	upgrader websocket.Upgrader
}

// New creates a Server. Connections live until ctx is cancelled or the
// client goes away.
func New(ctx context.Context, deps Deps) *Server {
	if deps.Auth == nil {
		deps.Auth = NewAuthenticator("")
	}
	return &Server{
		ctx:  ctx,
		deps: deps,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Handler returns the router.
//
//	GET /healthz  store and registry status
//	GET /socket   websocket client protocol
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.healthz)
	r.Get("/socket", s.serveSocket)
	return r
}

type healthResponse struct {
	Status        string `json:"status"`
	Detail        string `json:"detail,omitempty"`
	Connections   int    `json:"connections"`
	Subscriptions int    `json:"subscriptions"`
	Queries       int    `json:"queries"`
	Cycles        int64  `json:"cycles"`
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	stats := s.deps.Registry.Stats()
	resp := healthResponse{
		Status:        "ok",
		Connections:   stats.Connections,
		Subscriptions: stats.Subscriptions,
		Queries:       stats.Queries,
		Cycles:        s.deps.Broker.Cycles(),
	}
	status := http.StatusOK
	if err := s.deps.Store.Ping(ctx); err != nil {
		slog.Warn("health check failed", "error", err)
		status = http.StatusServiceUnavailable
		resp.Status = "unavailable"
		resp.Detail = errs.Detail(errs.Transient("store unavailable", err))
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// session is the per-socket state the request handlers need.
type session struct {
	conn     *delivery.Conn
	connID   string
	token    string
	identity string
}

func (s *Server) serveSocket(w http.ResponseWriter, r *http.Request) {
	identity, err := s.deps.Auth.Identify(r)
	if err != nil {
		http.Error(w, errs.Detail(err), http.StatusUnauthorized)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("websocket upgrade failed", "error", err)
		return
	}
	ws.SetReadLimit(MaxMessageSize)

	connID := uuid.NewString()
	conn := delivery.NewConn(connID, delivery.NewWebSocketTransport(ws), s.deps.Registry, s.deps.Delivery)
	defer conn.Close()

	token, err := s.deps.Registry.Register(connID, identity, conn)
	if err != nil {
		slog.Error("connection registration failed", "connection_id", connID, "error", err)
		return
	}
	conn.Start(s.ctx)
	slog.Info("connection opened", "connection_id", connID, "identity", identity)

	sess := &session{conn: conn, connID: connID, token: token, identity: identity}
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Info("connection lost", "connection_id", connID, "error", err)
			}
			break
		}
		s.handle(s.ctx, sess, data)
	}
	slog.Info("connection closed", "connection_id", connID)
}

// handle dispatches one request and queues its reply.
func (s *Server) handle(ctx context.Context, sess *session, data []byte) {
	req, err := DecodeRequest(data)
	if err != nil {
		s.replyError(sess, req, err)
		return
	}

	reply := delivery.SuccessMessage{Type: delivery.TypeSuccess, MessageID: req.MessageID}
	switch req.Type {
	case TypeUpdate:
		reply.ObjectID, err = s.deps.Writer.Update(ctx, sess.identity, req.Object, req.ContextRules)
	case TypeDelete:
		err = s.deps.Writer.Delete(ctx, sess.identity, req.ObjectID)
	case TypeSubscribe:
		// The reply goes out ahead of the replay pages.
		err = s.deps.Broker.Subscribe(ctx, sess.connID, sess.token, req.QueryID, req.Query, req.Since, func() error {
			return sess.conn.Queue(reply)
		})
		if err == nil {
			return
		}
	case TypeUnsubscribe:
		err = s.deps.Broker.Unsubscribe(sess.connID, sess.token, []string{req.QueryID})
	}
	if err != nil {
		s.replyError(sess, req, err)
		return
	}
	_ = sess.conn.SendReply(reply)
}

func (s *Server) replyError(sess *session, req Request, err error) {
	if errs.KindOf(err) == "" {
		slog.Error("request failed", "connection_id", sess.connID, "type", req.Type, "error", err)
	} else {
		slog.Debug("request rejected", "connection_id", sess.connID, "type", req.Type, "error", err)
	}

	msg := delivery.ErrorMessage{
		Type:      delivery.TypeError,
		MessageID: req.MessageID,
		Detail:    errs.Detail(err),
	}
	if req.Type == TypeSubscribe || req.Type == TypeUnsubscribe {
		msg.QueryID = req.QueryID
	}
	_ = sess.conn.SendReply(msg)
}
