package feed

import (
	"context"
	"sync"

	"github.com/roach88/graffiti/internal/ir"
)

// Memory is an in-process feed. Publish calls every handler synchronously.
type Memory struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[int]Handler
}

// NewMemory creates an empty in-process feed.
func NewMemory() *Memory {
	return &Memory{handlers: make(map[int]Handler)}
}

// Publish implements Feed.
func (m *Memory) Publish(ctx context.Context, c ir.Change) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.Empty() {
		return nil
	}

	m.mu.RLock()
	handlers := make([]Handler, 0, len(m.handlers))
	for _, h := range m.handlers {
		handlers = append(handlers, h)
	}
	m.mu.RUnlock()

	for _, h := range handlers {
		h(c)
	}
	return nil
}

// Subscribe implements Feed.
func (m *Memory) Subscribe(ctx context.Context, fn Handler) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.handlers[id] = fn
	m.mu.Unlock()

	sub := &memorySubscription{feed: m, id: id}
	if done := ctx.Done(); done != nil {
		go func() {
			<-done
			sub.Close()
		}()
	}
	return sub, nil
}

// Close implements Feed.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.handlers)
	return nil
}

type memorySubscription struct {
	feed *Memory
	id   int
}

func (s *memorySubscription) Close() error {
	s.feed.mu.Lock()
	defer s.feed.mu.Unlock()
	delete(s.feed.handlers, s.id)
	return nil
}
