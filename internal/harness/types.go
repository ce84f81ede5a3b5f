package harness

import "github.com/roach88/graffiti/internal/ir"

// Message types recorded in the transcript. Delivery messages use the
// client protocol's names; replies to steps are success or error.
const (
	MessageUpdates = "updates"
	MessageDeletes = "deletes"
	MessageSuccess = "success"
	MessageError   = "error"
)

// Event is one message received by one client.
type Event struct {
	// Step is the 1-based index of the step that produced the message.
	Step   int
	Client string
	Type   string

	QueryID    string
	ObjectID   string
	IDs        []string
	Historical bool
	Complete   bool

	// Kind is the error kind of a failed step. Detail is the text of an
	// error delivered for a query.
	Kind   string
	Detail string
}

// toValue converts the event to a canonical-JSON-friendly object. Fields
// that do not apply to the event's type are omitted.
func (e Event) toValue() ir.Object {
	obj := ir.Object{
		"step":   ir.Number(e.Step),
		"client": ir.String(e.Client),
		"type":   ir.String(e.Type),
	}
	if e.QueryID != "" {
		obj["queryId"] = ir.String(e.QueryID)
	}
	if e.ObjectID != "" {
		obj["objectId"] = ir.String(e.ObjectID)
	}
	switch e.Type {
	case MessageUpdates:
		obj["ids"] = stringArray(e.IDs)
		obj["historical"] = ir.Bool(e.Historical)
		obj["complete"] = ir.Bool(e.Complete)
	case MessageDeletes:
		obj["ids"] = stringArray(e.IDs)
		obj["complete"] = ir.Bool(e.Complete)
	}
	if e.Kind != "" {
		obj["kind"] = ir.String(e.Kind)
	}
	if e.Detail != "" {
		obj["detail"] = ir.String(e.Detail)
	}
	return obj
}

func stringArray(ss []string) ir.Array {
	arr := make(ir.Array, len(ss))
	for i, s := range ss {
		arr[i] = ir.String(s)
	}
	return arr
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every step replied as expected and every
	// assertion held.
	Pass bool

	// Events is the transcript in the order messages were produced.
	Events []Event

	// Errors contains failure messages. Empty if Pass is true.
	Errors []string
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Events: []Event{},
		Errors: []string{},
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(msg string) {
	r.Errors = append(r.Errors, msg)
	r.Pass = false
}

// EventsFor returns the events received by client, optionally filtered
// by message type ("" for all).
func (r *Result) EventsFor(client, msgType string) []Event {
	var out []Event
	for _, e := range r.Events {
		if e.Client != client {
			continue
		}
		if msgType != "" && e.Type != msgType {
			continue
		}
		out = append(out, e)
	}
	return out
}
