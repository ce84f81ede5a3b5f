package ir

import (
	"encoding/json"
	"fmt"
	"slices"
)

// Reserved object fields. Any other key starting with "_", at any depth, is
// rejected at write time.
const (
	FieldID        = "_id"
	FieldBy        = "_by"
	FieldTo        = "_to"
	FieldTimestamp = "_timestamp"
)

// ContextRule declares which field paths of an object are sensitive.
//
// Each inner slice is a variant group: the context compiler produces one
// variant per group, replacing every path in the group with a random token.
// Paths are dotted ("tags.0", "profile.name"); numeric segments index arrays.
type ContextRule struct {
	NearMisses [][]string `json:"nearMisses,omitempty"`
	Neighbors  [][]string `json:"neighbors,omitempty"`
}

// ComputedContext is one materialized pair of variant lists derived from an
// object and a ContextRule.
//
// INVARIANT: for the query the rule was written for, no near-miss variant
// matches and every neighbor variant matches.
type ComputedContext struct {
	NearMisses []Object `json:"nearMisses"`
	Neighbors  []Object `json:"neighbors"`
}

// Document is the persisted record for one version of an object.
//
// Documents are never mutated in place except for the tombstone flag:
// a replace tombstones the old Document and inserts a new one, so
// SequenceID gives a total order over all versions.
type Document struct {
	SequenceID       int64             `json:"sequenceId"`
	ObjectID         string            `json:"-"`
	Author           string            `json:"-"`
	Access           []string          `json:"-"`
	Object           Object            `json:"-"`
	ComputedContexts []ComputedContext `json:"computedContexts"`
	ContextRules     []ContextRule     `json:"contextRules"`
	Tombstone        bool              `json:"tombstone"`
}

// documentJSON is the wire shape: the object travels as a singleton array,
// the current-version holder.
type documentJSON struct {
	Object           []Object          `json:"object"`
	ComputedContexts []ComputedContext `json:"computedContexts"`
	ContextRules     []ContextRule     `json:"contextRules"`
	Tombstone        bool              `json:"tombstone"`
	SequenceID       int64             `json:"sequenceId"`
}

// MarshalJSON implements json.Marshaler.
func (d Document) MarshalJSON() ([]byte, error) {
	contexts := d.ComputedContexts
	if contexts == nil {
		contexts = []ComputedContext{}
	}
	rules := d.ContextRules
	if rules == nil {
		rules = []ContextRule{}
	}
	return json.Marshal(documentJSON{
		Object:           []Object{d.Object},
		ComputedContexts: contexts,
		ContextRules:     rules,
		Tombstone:        d.Tombstone,
		SequenceID:       d.SequenceID,
	})
}

// UnmarshalJSON implements json.Unmarshaler. Derived fields (ObjectID,
// Author, Access) are recomputed from the object.
func (d *Document) UnmarshalJSON(data []byte) error {
	var raw documentJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw.Object) != 1 {
		return fmt.Errorf("document object must be a singleton array, got %d entries", len(raw.Object))
	}
	*d = Document{
		SequenceID:       raw.SequenceID,
		Object:           raw.Object[0],
		ComputedContexts: raw.ComputedContexts,
		ContextRules:     raw.ContextRules,
		Tombstone:        raw.Tombstone,
	}
	d.ObjectID, _ = d.Object.StringField(FieldID)
	d.Author, _ = d.Object.StringField(FieldBy)
	d.Access = AccessList(d.Object)
	return nil
}

// HasRules reports whether the author declared any context rules.
func (d *Document) HasRules() bool {
	return len(d.ContextRules) > 0
}

// VisibleTo reports whether identity passes the access clause: it is the
// author, it is named in the access list, or the access list is empty.
func (d *Document) VisibleTo(identity string) bool {
	if len(d.Access) == 0 {
		return true
	}
	if identity == "" {
		return false
	}
	return d.Author == identity || slices.Contains(d.Access, identity)
}

// AccessList extracts the string entries of obj["_to"].
func AccessList(obj Object) []string {
	arr, ok := obj[FieldTo].(Array)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, v := range arr {
		if s, ok := v.(String); ok {
			out = append(out, string(s))
		}
	}
	return out
}

// Change announces newly inserted and newly tombstoned document versions by
// sequence id. A replace carries both halves in one Change.
type Change struct {
	InsertIDs []int64 `json:"insertIds,omitempty"`
	DeleteIDs []int64 `json:"deleteIds,omitempty"`
}

// Empty reports whether the change carries no ids.
func (c Change) Empty() bool {
	return len(c.InsertIDs) == 0 && len(c.DeleteIDs) == 0
}
