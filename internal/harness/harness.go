package harness

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/graffiti/internal/broker"
	"github.com/roach88/graffiti/internal/contexts"
	"github.com/roach88/graffiti/internal/errs"
	"github.com/roach88/graffiti/internal/feed"
	"github.com/roach88/graffiti/internal/ir"
	"github.com/roach88/graffiti/internal/objects"
	"github.com/roach88/graffiti/internal/registry"
	"github.com/roach88/graffiti/internal/store"
	"github.com/roach88/graffiti/internal/testutil"
)

// kindInternal labels replies whose error is outside the taxonomy.
const kindInternal = "INTERNAL"

// Harness is the scenario execution engine.
// It wires the real components with deterministic ids, tokens and clock.
type Harness struct {
	store    *store.Store
	registry *registry.Registry
	broker   *broker.Broker
	writer   *objects.Writer
	clients  map[string]*client

	mu     sync.Mutex
	result *Result
	step   int
}

type client struct {
	name     string
	identity string
	connID   string
	token    string
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
// Execution flow:
//  1. Connect every client
//  2. Execute each step, then run one matching pass
//  3. Evaluate assertions against the transcript and the store
//
// The returned error reports harness failures (store unavailable, bad
// scenario values). Unexpected replies and failed assertions are recorded
// in the Result instead.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	changes := feed.NewMemory()
	defer changes.Close()

	reg := registry.New()
	var opts []broker.Option
	if scenario.BatchSize > 0 {
		opts = append(opts, broker.WithBatchSize(scenario.BatchSize))
	}
	brk := broker.New(st, reg, opts...)
	defer brk.Stop()

	sub, err := changes.Subscribe(ctx, func(c ir.Change) { brk.Notify(c) })
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to change feed: %w", err)
	}
	defer sub.Close()

	clock := testutil.NewDeterministicClock()
	h := &Harness{
		store:    st,
		registry: reg,
		broker:   brk,
		writer: objects.NewWriter(st, changes,
			objects.WithCompiler(contexts.NewCompiler(contexts.NewSequenceGenerator("tok"))),
			objects.WithIDGenerator(testutil.NewFixedGenerator("")),
			objects.WithClock(clock.Now),
		),
		clients: make(map[string]*client, len(scenario.Clients)),
		result:  NewResult(),
	}

	if err := h.connect(scenario.Clients); err != nil {
		return nil, err
	}

	for i, step := range scenario.Steps {
		h.setStep(i + 1)
		if err := h.execute(ctx, step); err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
		if _, err := brk.ProcessPending(ctx); err != nil {
			return nil, fmt.Errorf("step %d: matching pass: %w", i+1, err)
		}
	}

	for _, msg := range EvaluateAssertions(ctx, h.result, scenario.Assertions, st) {
		h.result.AddError(msg)
	}
	return h.result, nil
}

// connect registers every client with a recording sink.
func (h *Harness) connect(clients []Client) error {
	for _, c := range clients {
		connID := "conn-" + c.Name
		token, err := h.registry.Register(connID, c.Identity, &recordingSink{h: h, client: c.Name})
		if err != nil {
			return fmt.Errorf("connect %s: %w", c.Name, err)
		}
		h.clients[c.Name] = &client{
			name:     c.Name,
			identity: c.Identity,
			connID:   connID,
			token:    token,
		}
	}
	return nil
}

// execute sends one request and records the reply.
func (h *Harness) execute(ctx context.Context, step Step) error {
	c := h.clients[step.As]

	var (
		objectID string
		err      error
	)
	switch step.Action() {
	case ActionUpdate:
		obj, convErr := toObject(step.Update)
		if convErr != nil {
			return fmt.Errorf("update object: %w", convErr)
		}
		objectID, err = h.writer.Update(ctx, c.identity, obj, step.ContextRules())

	case ActionDelete:
		err = h.writer.Delete(ctx, c.identity, step.Delete)

	case ActionSubscribe:
		q, convErr := toObject(step.Query)
		if convErr != nil {
			return fmt.Errorf("subscribe query: %w", convErr)
		}
		accepted := false
		err = h.broker.Subscribe(ctx, c.connID, c.token, step.Subscribe, q, step.Since, func() error {
			accepted = true
			h.record(h.outcome(c, step, "", nil))
			return nil
		})
		if accepted && err == nil {
			h.check(c, step, nil)
			return nil
		}

	case ActionUnsubscribe:
		err = h.broker.Unsubscribe(c.connID, c.token, []string{step.Unsubscribe})

	case ActionDisconnect:
		h.registry.Unregister(c.connID)

	default:
		return fmt.Errorf("step has no single action")
	}

	h.reply(c, step, objectID, err)
	return nil
}

// reply records the outcome of a step and checks it against Expect.
func (h *Harness) reply(c *client, step Step, objectID string, err error) {
	h.record(h.outcome(c, step, objectID, err))
	h.check(c, step, err)
}

// outcome is the success or error message a step's request produces.
func (h *Harness) outcome(c *client, step Step, objectID string, err error) Event {
	ev := Event{
		Client:  c.name,
		QueryID: step.Subscribe + step.Unsubscribe,
	}
	if err != nil {
		ev.Type = MessageError
		ev.Kind = errorKind(err)
		return ev
	}
	ev.Type = MessageSuccess
	ev.ObjectID = objectID
	return ev
}

// check compares a step's result with its Expect.
func (h *Harness) check(c *client, step Step, err error) {
	got := MessageSuccess
	if err != nil {
		got = errorKind(err)
	}
	want := MessageSuccess
	if step.Expect != nil && step.Expect.Error != "" {
		want = step.Expect.Error
	}
	if got != want {
		detail := ""
		if err != nil {
			detail = ": " + err.Error()
		}
		h.result.AddError(fmt.Sprintf("step %d (%s as %s): expected %s, got %s%s",
			h.currentStep(), step.Action(), c.name, want, got, detail))
	}
}

func errorKind(err error) string {
	if kind := string(errs.KindOf(err)); kind != "" {
		return kind
	}
	return kindInternal
}

func (h *Harness) setStep(n int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.step = n
}

func (h *Harness) currentStep() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.step
}

func (h *Harness) record(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ev.Step = h.step
	h.result.Events = append(h.result.Events, ev)
}

// recordingSink captures the messages the broker sends to one client.
type recordingSink struct {
	h      *Harness
	client string
}

func (s *recordingSink) SendUpdates(queryID string, docs []*ir.Document, historical, complete bool) error {
	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ObjectID
	}
	s.h.record(Event{
		Client:     s.client,
		Type:       MessageUpdates,
		QueryID:    queryID,
		IDs:        ids,
		Historical: historical,
		Complete:   complete,
	})
	return nil
}

func (s *recordingSink) SendDeletes(queryID string, objectIDs []string) error {
	s.h.record(Event{
		Client:   s.client,
		Type:     MessageDeletes,
		QueryID:  queryID,
		IDs:      append([]string(nil), objectIDs...),
		Complete: true,
	})
	return nil
}

func (s *recordingSink) SendError(queryID, detail string) error {
	s.h.record(Event{
		Client:  s.client,
		Type:    MessageError,
		QueryID: queryID,
		Detail:  detail,
	})
	return nil
}

// toObject converts decoded YAML into an ir.Object.
func toObject(m map[string]any) (ir.Object, error) {
	if m == nil {
		return ir.Object{}, nil
	}
	v, err := ir.FromAny(m)
	if err != nil {
		return nil, err
	}
	return v.(ir.Object), nil
}
