package delivery

import "github.com/roach88/graffiti/internal/ir"

// Server message types.
const (
	TypeSuccess = "success"
	TypeError   = "error"
	TypeUpdates = "updates"
	TypeDeletes = "deletes"
	TypePing    = "ping"
)

// SuccessMessage acknowledges a client request.
type SuccessMessage struct {
	Type      string `json:"type"`
	MessageID string `json:"messageID"`
	ObjectID  string `json:"objectId,omitempty"`
}

// ErrorMessage reports a failed request or a removed subscription.
type ErrorMessage struct {
	Type      string `json:"type"`
	MessageID string `json:"messageID,omitempty"`
	QueryID   string `json:"queryId,omitempty"`
	Detail    string `json:"detail"`
}

// UpdatesMessage carries matching documents for one subscription.
type UpdatesMessage struct {
	Type       string         `json:"type"`
	QueryID    string         `json:"queryId"`
	Results    []*ir.Document `json:"results"`
	Complete   bool           `json:"complete"`
	Historical bool           `json:"historical"`
}

// DeletesMessage carries object ids that left one subscription's result set.
type DeletesMessage struct {
	Type     string   `json:"type"`
	QueryID  string   `json:"queryId"`
	Results  []string `json:"results"`
	Complete bool     `json:"complete"`
}

// PingMessage is the heartbeat.
type PingMessage struct {
	Type         string `json:"type"`
	ConnectionID string `json:"connectionId"`
}
