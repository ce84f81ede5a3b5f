package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/roach88/graffiti/internal/ir"
)

// documentRow holds a document's column values ready for INSERT.
type documentRow struct {
	objectID  string
	author    string
	access    string
	object    string
	contexts  string
	rules     string
	createdAt float64
}

// encodeDocument converts a Document into column values. The object is
// stored as canonical JSON so identical objects produce identical rows.
func encodeDocument(doc *ir.Document) (documentRow, error) {
	if doc.ObjectID == "" {
		return documentRow{}, fmt.Errorf("encode document: missing object id")
	}

	object, err := ir.MarshalCanonical(doc.Object)
	if err != nil {
		return documentRow{}, fmt.Errorf("encode document: object: %w", err)
	}

	access := doc.Access
	if access == nil {
		access = []string{}
	}
	accessJSON, err := json.Marshal(access)
	if err != nil {
		return documentRow{}, fmt.Errorf("encode document: access: %w", err)
	}

	computed := doc.ComputedContexts
	if computed == nil {
		computed = []ir.ComputedContext{}
	}
	contextsJSON, err := json.Marshal(computed)
	if err != nil {
		return documentRow{}, fmt.Errorf("encode document: computed contexts: %w", err)
	}

	rules := doc.ContextRules
	if rules == nil {
		rules = []ir.ContextRule{}
	}
	rulesJSON, err := json.Marshal(rules)
	if err != nil {
		return documentRow{}, fmt.Errorf("encode document: context rules: %w", err)
	}

	createdAt, _ := doc.Object[ir.FieldTimestamp].(ir.Number)

	return documentRow{
		objectID:  doc.ObjectID,
		author:    doc.Author,
		access:    string(accessJSON),
		object:    string(object),
		contexts:  string(contextsJSON),
		rules:     string(rulesJSON),
		createdAt: float64(createdAt),
	}, nil
}

// documentColumns is the SELECT list understood by scanDocument.
const documentColumns = `seq, object_id, author, access, object, computed_contexts, context_rules, tombstone`

// scanDocument scans one row selected with documentColumns.
func scanDocument(rows interface{ Scan(...any) error }) (*ir.Document, error) {
	var (
		doc                             ir.Document
		access, object, contexts, rules string
		tombstone                       int
	)
	err := rows.Scan(&doc.SequenceID, &doc.ObjectID, &doc.Author, &access, &object, &contexts, &rules, &tombstone)
	if err != nil {
		return nil, fmt.Errorf("scan document: %w", err)
	}

	if err := json.Unmarshal([]byte(access), &doc.Access); err != nil {
		return nil, fmt.Errorf("scan document %d: access: %w", doc.SequenceID, err)
	}
	doc.Object, err = ir.DecodeObject([]byte(object))
	if err != nil {
		return nil, fmt.Errorf("scan document %d: object: %w", doc.SequenceID, err)
	}
	if err := json.Unmarshal([]byte(contexts), &doc.ComputedContexts); err != nil {
		return nil, fmt.Errorf("scan document %d: computed contexts: %w", doc.SequenceID, err)
	}
	if err := json.Unmarshal([]byte(rules), &doc.ContextRules); err != nil {
		return nil, fmt.Errorf("scan document %d: context rules: %w", doc.SequenceID, err)
	}
	doc.Tombstone = tombstone != 0
	return &doc, nil
}

// collectDocuments drains rows into a slice. Returns an empty slice, not nil.
func collectDocuments(rows *sql.Rows) ([]*ir.Document, error) {
	defer rows.Close()

	docs := []*ir.Document{}
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return docs, nil
}
