package registry

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/roach88/graffiti/internal/errs"
	"github.com/roach88/graffiti/internal/ir"
)

// Predicate is a compiled query bound to an identity.
type Predicate interface {
	// Hash identifies the query content. Subscriptions with equal hashes
	// share MatchContent results.
	Hash() string

	// Identity is the caller the predicate was compiled for.
	Identity() string

	// MatchContent evaluates the identity-independent clauses.
	MatchContent(doc *ir.Document) (bool, error)
}

// Sink receives the messages for one connection. Implementations must not
// block the caller. A non-nil error means the connection is dead; the
// caller unregisters it.
type Sink interface {
	SendUpdates(queryID string, docs []*ir.Document, historical, complete bool) error
	SendDeletes(queryID string, objectIDs []string) error
	SendError(queryID, detail string) error
}

// Registry is the subscription registry. The zero value is not usable; use New.
type Registry struct {
	mu     sync.Mutex
	conns  map[string]*connection
	byHash map[string]map[*Subscription]struct{}
}

type connection struct {
	id    string
	owner string
	token string
	sink  Sink
	subs  map[string]*Subscription
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		conns:  make(map[string]*connection),
		byHash: make(map[string]map[*Subscription]struct{}),
	}
}

// Register adds a connection owned by owner (empty for anonymous) and
// returns the token that authorizes later mutations on it.
func (r *Registry) Register(connID, owner string, sink Sink) (string, error) {
	if connID == "" {
		return "", errs.Validation("connection id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.conns[connID]; exists {
		return "", errs.Conflict("connection %s is already registered", connID)
	}
	token := uuid.NewString()
	r.conns[connID] = &connection{
		id:    connID,
		owner: owner,
		token: token,
		sink:  sink,
		subs:  make(map[string]*Subscription),
	}
	slog.Debug("connection registered", "connection_id", connID, "owner", owner)
	return token, nil
}

// Unregister removes a connection and all of its subscriptions. Unknown
// connections are ignored so dead-connection cleanup can run more than once.
func (r *Registry) Unregister(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.unregister(connID)
}

func (r *Registry) unregister(connID string) {
	c, ok := r.conns[connID]
	if !ok {
		return
	}
	for _, sub := range c.subs {
		r.unindex(sub)
	}
	delete(r.conns, connID)
	slog.Debug("connection unregistered", "connection_id", connID, "subscriptions", len(c.subs))
}

// AddSubscriptions inserts subscriptions without historical replay.
// A query id already present on the connection is replaced.
func (r *Registry) AddSubscriptions(connID, token string, preds map[string]Predicate) error {
	return r.Update(func(v *View) error {
		if err := v.Authorize(connID, token); err != nil {
			return err
		}
		queryIDs := make([]string, 0, len(preds))
		for id := range preds {
			queryIDs = append(queryIDs, id)
		}
		sort.Strings(queryIDs)
		for _, id := range queryIDs {
			if err := v.Check(connID, preds[id]); err != nil {
				return err
			}
		}
		for _, id := range queryIDs {
			if _, err := v.Add(connID, id, preds[id], 0); err != nil {
				return err
			}
		}
		return nil
	})
}

// RemoveSubscriptions removes the named subscriptions. Unknown query ids
// are ignored.
func (r *Registry) RemoveSubscriptions(connID, token string, queryIDs []string) error {
	return r.Update(func(v *View) error {
		if err := v.Authorize(connID, token); err != nil {
			return err
		}
		for _, id := range queryIDs {
			v.Remove(connID, id)
		}
		return nil
	})
}

// Update runs fn inside the registry's exclusive section. fn must not call
// other Registry methods.
func (r *Registry) Update(fn func(v *View) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return fn(&View{r: r})
}

// Stats is a point-in-time count of registry contents.
type Stats struct {
	Connections   int `json:"connections"`
	Subscriptions int `json:"subscriptions"`
	Queries       int `json:"queries"`
}

// Stats returns current counts.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Stats{Connections: len(r.conns), Queries: len(r.byHash)}
	for _, c := range r.conns {
		s.Subscriptions += len(c.subs)
	}
	return s
}

func (r *Registry) index(sub *Subscription) {
	hash := sub.Predicate.Hash()
	set, ok := r.byHash[hash]
	if !ok {
		set = make(map[*Subscription]struct{})
		r.byHash[hash] = set
	}
	set[sub] = struct{}{}
}

func (r *Registry) unindex(sub *Subscription) {
	hash := sub.Predicate.Hash()
	set := r.byHash[hash]
	delete(set, sub)
	if len(set) == 0 {
		delete(r.byHash, hash)
	}
}
