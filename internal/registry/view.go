package registry

import (
	"sort"

	"github.com/roach88/graffiti/internal/errs"
)

// View is the registry as seen from inside Update. It is only valid for
// the duration of the callback.
type View struct {
	r *Registry
}

// Authorize checks that token was issued for connID.
func (v *View) Authorize(connID, token string) error {
	c, ok := v.r.conns[connID]
	if !ok {
		return errs.Authorization("connection %s is not registered", connID)
	}
	if token == "" || c.token != token {
		return errs.Authorization("not authorized for connection %s", connID)
	}
	return nil
}

// Check reports whether pred may be subscribed on connID: the connection
// exists and the predicate was compiled for its owner.
func (v *View) Check(connID string, pred Predicate) error {
	c, ok := v.r.conns[connID]
	if !ok {
		return errs.Authorization("connection %s is not registered", connID)
	}
	if pred.Identity() != c.owner {
		return errs.Authorization("query identity does not own connection %s", connID)
	}
	return nil
}

// Sink returns the sink of a registered connection.
func (v *View) Sink(connID string) (Sink, bool) {
	c, ok := v.r.conns[connID]
	if !ok {
		return nil, false
	}
	return c.sink, true
}

// Owner returns the identity that owns connID.
func (v *View) Owner(connID string) (string, bool) {
	c, ok := v.r.conns[connID]
	if !ok {
		return "", false
	}
	return c.owner, true
}

// Add inserts a subscription resumed from since, replacing any
// subscription with the same query id on the connection. Callers run Check
// on pred first.
func (v *View) Add(connID, queryID string, pred Predicate, since int64) (*Subscription, error) {
	if queryID == "" {
		return nil, errs.Validation("query id is required")
	}
	c, ok := v.r.conns[connID]
	if !ok {
		return nil, errs.Authorization("connection %s is not registered", connID)
	}

	if old, ok := c.subs[queryID]; ok {
		v.r.unindex(old)
	}
	sub := newSubscription(connID, queryID, pred, c.sink, since)
	c.subs[queryID] = sub
	v.r.index(sub)
	return sub, nil
}

// Get returns one subscription.
func (v *View) Get(connID, queryID string) (*Subscription, bool) {
	c, ok := v.r.conns[connID]
	if !ok {
		return nil, false
	}
	sub, ok := c.subs[queryID]
	return sub, ok
}

// Remove deletes one subscription. It reports whether it existed.
func (v *View) Remove(connID, queryID string) bool {
	c, ok := v.r.conns[connID]
	if !ok {
		return false
	}
	sub, ok := c.subs[queryID]
	if !ok {
		return false
	}
	v.r.unindex(sub)
	delete(c.subs, queryID)
	return true
}

// Unregister removes a connection and its subscriptions from inside the
// exclusive section, for connections found dead while sending.
func (v *View) Unregister(connID string) {
	v.r.unregister(connID)
}

// Group is every subscription sharing one query hash.
type Group struct {
	Hash          string
	Subscriptions []*Subscription
}

// Groups returns subscriptions grouped by query hash, in a deterministic
// order (hash, then connection id, then query id).
func (v *View) Groups() []Group {
	hashes := make([]string, 0, len(v.r.byHash))
	for h := range v.r.byHash {
		hashes = append(hashes, h)
	}
	sort.Strings(hashes)

	groups := make([]Group, 0, len(hashes))
	for _, h := range hashes {
		set := v.r.byHash[h]
		subs := make([]*Subscription, 0, len(set))
		for sub := range set {
			subs = append(subs, sub)
		}
		sort.Slice(subs, func(i, j int) bool {
			if subs[i].ConnID != subs[j].ConnID {
				return subs[i].ConnID < subs[j].ConnID
			}
			return subs[i].QueryID < subs[j].QueryID
		})
		groups = append(groups, Group{Hash: h, Subscriptions: subs})
	}
	return groups
}
