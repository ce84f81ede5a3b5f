package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/graffiti/internal/errs"
	"github.com/roach88/graffiti/internal/ir"
)

// Scenario is one end-to-end test case.
type Scenario struct {
	// Name identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what the scenario validates.
	Description string `yaml:"description"`

	// BatchSize overrides the broker's replay page size. Zero keeps the
	// default.
	BatchSize int `yaml:"batchSize,omitempty"`

	// Clients are connected before the first step, in order.
	Clients []Client `yaml:"clients"`

	// Steps run sequentially; each is followed by one matching pass.
	Steps []Step `yaml:"steps"`

	// Assertions are evaluated after the last step.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Client is one connection. An empty Identity connects anonymously.
type Client struct {
	Name     string `yaml:"name"`
	Identity string `yaml:"identity,omitempty"`
}

// Step is one client request. Exactly one of Update, Delete, Subscribe,
// Unsubscribe or Disconnect is set.
type Step struct {
	// As names the client sending the request.
	As string `yaml:"as"`

	Update map[string]any `yaml:"update,omitempty"`
	Rules  []Rule         `yaml:"rules,omitempty"`

	Delete string `yaml:"delete,omitempty"`

	// Subscribe is the query id; Query and Since complete the request.
	Subscribe string         `yaml:"subscribe,omitempty"`
	Query     map[string]any `yaml:"query,omitempty"`
	Since     int64          `yaml:"since,omitempty"`

	Unsubscribe string `yaml:"unsubscribe,omitempty"`

	Disconnect bool `yaml:"disconnect,omitempty"`

	// Expect defaults to success.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Rule is the YAML form of ir.ContextRule.
type Rule struct {
	NearMisses [][]string `yaml:"nearMisses,omitempty"`
	Neighbors  [][]string `yaml:"neighbors,omitempty"`
}

// Expect describes the reply a step must produce.
type Expect struct {
	// Error is the expected error kind (VALIDATION, AUTHORIZATION,
	// CONFLICT, TRANSIENT). Empty means success.
	Error string `yaml:"error,omitempty"`
}

// Step actions.
const (
	ActionUpdate      = "update"
	ActionDelete      = "delete"
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
	ActionDisconnect  = "disconnect"
)

// Action returns the step's action, or "" when none or several are set.
func (s Step) Action() string {
	var actions []string
	if s.Update != nil {
		actions = append(actions, ActionUpdate)
	}
	if s.Delete != "" {
		actions = append(actions, ActionDelete)
	}
	if s.Subscribe != "" {
		actions = append(actions, ActionSubscribe)
	}
	if s.Unsubscribe != "" {
		actions = append(actions, ActionUnsubscribe)
	}
	if s.Disconnect {
		actions = append(actions, ActionDisconnect)
	}
	if len(actions) != 1 {
		return ""
	}
	return actions[0]
}

// ContextRules converts the step's rules.
func (s Step) ContextRules() []ir.ContextRule {
	if len(s.Rules) == 0 {
		return nil
	}
	rules := make([]ir.ContextRule, len(s.Rules))
	for i, r := range s.Rules {
		rules[i] = ir.ContextRule{NearMisses: r.NearMisses, Neighbors: r.Neighbors}
	}
	return rules
}

// Assertion validates the transcript or the final store state.
type Assertion struct {
	// Type is one of received, not_received, count, final_state.
	Type string `yaml:"type"`

	// Client and Query select transcript messages. Query is optional.
	Client string `yaml:"client,omitempty"`
	Query  string `yaml:"query,omitempty"`

	// IDs are object ids (received, not_received).
	IDs []string `yaml:"ids,omitempty"`

	// Message is the message type counted by count (updates, deletes,
	// success, error).
	Message string `yaml:"message,omitempty"`
	Count   int    `yaml:"count,omitempty"`

	// Object, Expect and Deleted describe final_state.
	Object  string         `yaml:"object,omitempty"`
	Expect  map[string]any `yaml:"expect,omitempty"`
	Deleted bool           `yaml:"deleted,omitempty"`
}

// Assertion type constants.
const (
	AssertReceived    = "received"
	AssertNotReceived = "not_received"
	AssertCount       = "count"
	AssertFinalState  = "final_state"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or fails validation.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.BatchSize < 0 {
		return fmt.Errorf("batchSize must not be negative")
	}
	if len(s.Clients) == 0 {
		return fmt.Errorf("clients list is required and must be non-empty")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	clients := make(map[string]bool, len(s.Clients))
	for i, c := range s.Clients {
		if c.Name == "" {
			return fmt.Errorf("clients[%d]: name is required", i)
		}
		if clients[c.Name] {
			return fmt.Errorf("clients[%d]: duplicate client %q", i, c.Name)
		}
		clients[c.Name] = true
	}

	for i, step := range s.Steps {
		if !clients[step.As] {
			return fmt.Errorf("steps[%d]: unknown client %q", i, step.As)
		}
		action := step.Action()
		if action == "" {
			return fmt.Errorf("steps[%d]: exactly one of update, delete, subscribe, unsubscribe, disconnect is required", i)
		}
		if action == ActionSubscribe && step.Query == nil {
			return fmt.Errorf("steps[%d]: subscribe requires query", i)
		}
		if action != ActionSubscribe && (step.Query != nil || step.Since != 0) {
			return fmt.Errorf("steps[%d]: query and since only apply to subscribe", i)
		}
		if action != ActionUpdate && len(step.Rules) > 0 {
			return fmt.Errorf("steps[%d]: rules only apply to update", i)
		}
		if step.Expect != nil && step.Expect.Error != "" && !knownKind(step.Expect.Error) {
			return fmt.Errorf("steps[%d]: unknown error kind %q", i, step.Expect.Error)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(a, clients); err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
	}
	return nil
}

func validateAssertion(a Assertion, clients map[string]bool) error {
	switch a.Type {
	case AssertReceived, AssertNotReceived:
		if !clients[a.Client] {
			return fmt.Errorf("unknown client %q", a.Client)
		}
		if len(a.IDs) == 0 {
			return fmt.Errorf("%s requires ids", a.Type)
		}
	case AssertCount:
		if !clients[a.Client] {
			return fmt.Errorf("unknown client %q", a.Client)
		}
		if a.Message == "" {
			return fmt.Errorf("count requires message")
		}
	case AssertFinalState:
		if a.Object == "" {
			return fmt.Errorf("final_state requires object")
		}
		if a.Deleted && a.Expect != nil {
			return fmt.Errorf("final_state takes expect or deleted, not both")
		}
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}

func knownKind(kind string) bool {
	switch errs.Kind(kind) {
	case errs.KindValidation, errs.KindAuthorization, errs.KindConflict, errs.KindTransient:
		return true
	}
	return false
}
