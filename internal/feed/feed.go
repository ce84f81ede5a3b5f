package feed

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/roach88/graffiti/internal/ir"
)

// Handler receives one change. It must not block; broker.Notify is the
// intended handler.
type Handler func(ir.Change)

// Subscription stops delivery to a Handler.
type Subscription interface {
	Close() error
}

// Feed publishes changes and delivers them to subscribers.
type Feed interface {
	// Publish announces a change. Empty changes are dropped.
	Publish(ctx context.Context, c ir.Change) error

	// Subscribe registers fn. Changes published after Subscribe returns
	// are delivered until the Subscription is closed or ctx is cancelled.
	Subscribe(ctx context.Context, fn Handler) (Subscription, error)

	// Close releases backend resources.
	Close() error
}

// Encode renders a change as its control message.
func Encode(c ir.Change) ([]byte, error) {
	return json.Marshal(c)
}

// Decode parses a control message.
func Decode(data []byte) (ir.Change, error) {
	var c ir.Change
	if err := json.Unmarshal(data, &c); err != nil {
		return ir.Change{}, fmt.Errorf("decode change: %w", err)
	}
	for _, id := range c.InsertIDs {
		if id <= 0 {
			return ir.Change{}, fmt.Errorf("decode change: invalid insert id %d", id)
		}
	}
	for _, id := range c.DeleteIDs {
		if id <= 0 {
			return ir.Change{}, fmt.Errorf("decode change: invalid delete id %d", id)
		}
	}
	return c, nil
}
