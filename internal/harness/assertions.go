package harness

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/graffiti/internal/ir"
)

// StateReader reads the live version of an object.
// Implemented by *store.Store.
type StateReader interface {
	Current(ctx context.Context, objectID string) (*ir.Document, error)
}

// AssertionError is returned when an assertion fails.
// It includes the client's transcript to help debug the failure.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Events   []Event
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Events) > 0 {
		fmt.Fprintf(&buf, "\nReceived:\n")
		for _, ev := range e.Events {
			fmt.Fprintf(&buf, "  [step %d] %s %s %v\n", ev.Step, ev.Type, ev.QueryID, ev.IDs)
		}
	}
	return buf.String()
}

// EvaluateAssertions checks every assertion and returns one message per
// failure.
func EvaluateAssertions(ctx context.Context, result *Result, assertions []Assertion, state StateReader) []string {
	var failures []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertReceived:
			err = assertReceived(result, a)
		case AssertNotReceived:
			err = assertNotReceived(result, a)
		case AssertCount:
			err = assertCount(result, a)
		case AssertFinalState:
			err = assertFinalState(ctx, state, a)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			failures = append(failures, fmt.Sprintf("assertion %d: %v", i, err))
		}
	}
	return failures
}

// deliveredIDs collects the ids the client received in updates messages
// for the assertion's query (all queries when unset).
func deliveredIDs(result *Result, a Assertion) ([]Event, map[string]bool) {
	events := queryEvents(result.EventsFor(a.Client, MessageUpdates), a.Query)
	ids := make(map[string]bool)
	for _, ev := range events {
		for _, id := range ev.IDs {
			ids[id] = true
		}
	}
	return events, ids
}

func queryEvents(events []Event, queryID string) []Event {
	if queryID == "" {
		return events
	}
	var out []Event
	for _, ev := range events {
		if ev.QueryID == queryID {
			out = append(out, ev)
		}
	}
	return out
}

func assertReceived(result *Result, a Assertion) error {
	events, ids := deliveredIDs(result, a)
	var missing []string
	for _, id := range a.IDs {
		if !ids[id] {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return &AssertionError{
		Type:     a.Type,
		Expected: fmt.Sprintf("%s received %v", a.Client, a.IDs),
		Actual:   fmt.Sprintf("missing %v", missing),
		Events:   events,
	}
}

func assertNotReceived(result *Result, a Assertion) error {
	events, ids := deliveredIDs(result, a)
	var leaked []string
	for _, id := range a.IDs {
		if ids[id] {
			leaked = append(leaked, id)
		}
	}
	if len(leaked) == 0 {
		return nil
	}
	return &AssertionError{
		Type:     a.Type,
		Expected: fmt.Sprintf("%s never received %v", a.Client, a.IDs),
		Actual:   fmt.Sprintf("received %v", leaked),
		Events:   events,
	}
}

func assertCount(result *Result, a Assertion) error {
	events := queryEvents(result.EventsFor(a.Client, a.Message), a.Query)
	if len(events) == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     a.Type,
		Expected: fmt.Sprintf("%d %s messages for %s", a.Count, a.Message, a.Client),
		Actual:   fmt.Sprintf("%d", len(events)),
		Events:   events,
	}
}

func assertFinalState(ctx context.Context, state StateReader, a Assertion) error {
	doc, err := state.Current(ctx, a.Object)
	if err != nil {
		return fmt.Errorf("read %s: %w", a.Object, err)
	}

	if a.Deleted {
		if doc == nil {
			return nil
		}
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%s deleted", a.Object),
			Actual:   fmt.Sprintf("live at seq %d", doc.SequenceID),
		}
	}

	if doc == nil {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%s live", a.Object),
			Actual:   "no live version",
		}
	}

	expect, err := toObject(a.Expect)
	if err != nil {
		return fmt.Errorf("expect: %w", err)
	}
	var mismatched []string
	for _, field := range expect.SortedKeys() {
		if !ir.Equal(doc.Object[field], expect[field]) {
			mismatched = append(mismatched, field)
		}
	}
	if len(mismatched) == 0 {
		return nil
	}
	return &AssertionError{
		Type:     a.Type,
		Expected: fmt.Sprintf("%s has %s", a.Object, formatObject(expect)),
		Actual:   fmt.Sprintf("fields %v differ in %s", mismatched, formatObject(doc.Object)),
	}
}

func formatObject(obj ir.Object) string {
	data, err := ir.MarshalCanonical(obj)
	if err != nil {
		return fmt.Sprintf("%v", map[string]ir.Value(obj))
	}
	return string(data)
}
