package gateway

import (
	"bytes"
	"encoding/json"

	"github.com/roach88/graffiti/internal/errs"
	"github.com/roach88/graffiti/internal/ir"
)

// Client message types.
const (
	TypeUpdate      = "update"
	TypeDelete      = "delete"
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
)

// Request is one client message.
type Request struct {
	Type         string           `json:"type"`
	MessageID    string           `json:"messageID"`
	Object       ir.Object        `json:"object,omitempty"`
	ContextRules []ir.ContextRule `json:"contextRules,omitempty"`
	ObjectID     string           `json:"objectId,omitempty"`
	QueryID      string           `json:"queryId,omitempty"`
	Query        ir.Object        `json:"query,omitempty"`
	Since        int64            `json:"since,omitempty"`
}

// DecodeRequest parses and checks a client message. Unknown fields are
// rejected. On error the returned Request still carries whatever
// messageID could be read, so the error reply can echo it.
func DecodeRequest(data []byte) (Request, error) {
	var req Request
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		var partial struct {
			MessageID string `json:"messageID"`
		}
		_ = json.Unmarshal(data, &partial)
		return Request{MessageID: partial.MessageID}, errs.Validation("malformed message: %v", err)
	}

	if req.MessageID == "" {
		return req, errs.Validation("messageID is required")
	}

	switch req.Type {
	case TypeUpdate:
		if req.Object == nil {
			return req, errs.Validation("update requires object")
		}
	case TypeDelete:
		if req.ObjectID == "" {
			return req, errs.Validation("delete requires objectId")
		}
	case TypeSubscribe:
		if req.QueryID == "" {
			return req, errs.Validation("subscribe requires queryId")
		}
		if req.Query == nil {
			return req, errs.Validation("subscribe requires query")
		}
		if req.Since < 0 {
			return req, errs.Validation("since must not be negative")
		}
	case TypeUnsubscribe:
		if req.QueryID == "" {
			return req, errs.Validation("unsubscribe requires queryId")
		}
	default:
		return req, errs.Validation("unknown message type %q", req.Type)
	}
	return req, nil
}
