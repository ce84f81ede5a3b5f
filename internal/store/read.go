package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/graffiti/internal/errs"
	"github.com/roach88/graffiti/internal/ir"
)

// Current returns the live version of an object, or nil when the object
// does not exist or is deleted.
func (s *Store) Current(ctx context.Context, objectID string) (*ir.Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+documentColumns+`
		FROM documents
		WHERE object_id = ? AND tombstone = 0
	`, objectID)

	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Transient("store unavailable", err)
	}
	return doc, nil
}

// Get returns the documents with the given seqs, ordered by seq ascending.
// Unknown seqs are skipped. Tombstoned versions are included.
func (s *Store) Get(ctx context.Context, seqs []int64) ([]*ir.Document, error) {
	if len(seqs) == 0 {
		return []*ir.Document{}, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(seqs)), ",")
	args := make([]any, len(seqs))
	for i, seq := range seqs {
		args[i] = seq
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s
		FROM documents
		WHERE seq IN (%s)
		ORDER BY seq ASC
	`, documentColumns, placeholders), args...)
	if err != nil {
		return nil, errs.Transient("store unavailable", err)
	}
	docs, err := collectDocuments(rows)
	if err != nil {
		return nil, errs.Transient("store unavailable", err)
	}
	return docs, nil
}

// ReadSince returns up to limit live documents with seq > since, ordered by
// seq ascending. Callers page by passing the last seq they received.
func (s *Store) ReadSince(ctx context.Context, since int64, limit int) ([]*ir.Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+documentColumns+`
		FROM documents
		WHERE tombstone = 0 AND seq > ?
		ORDER BY seq ASC
		LIMIT ?
	`, since, limit)
	if err != nil {
		return nil, errs.Transient("store unavailable", err)
	}
	docs, err := collectDocuments(rows)
	if err != nil {
		return nil, errs.Transient("store unavailable", err)
	}
	return docs, nil
}

// Cursor is a position in newest-first order. The zero Cursor is the start.
type Cursor struct {
	Timestamp float64
	Seq       int64
}

// ReadNewest returns up to limit live documents ordered newest first by
// object timestamp, then by seq, starting after cursor. It also returns the
// cursor for the next page.
func (s *Store) ReadNewest(ctx context.Context, cursor Cursor, limit int) ([]*ir.Document, Cursor, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if cursor.Seq == 0 {
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+documentColumns+`, created_at
			FROM documents
			WHERE tombstone = 0
			ORDER BY created_at DESC, seq DESC
			LIMIT ?
		`, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+documentColumns+`, created_at
			FROM documents
			WHERE tombstone = 0
			  AND (created_at < ? OR (created_at = ? AND seq < ?))
			ORDER BY created_at DESC, seq DESC
			LIMIT ?
		`, cursor.Timestamp, cursor.Timestamp, cursor.Seq, limit)
	}
	if err != nil {
		return nil, cursor, errs.Transient("store unavailable", err)
	}
	defer rows.Close()

	docs := []*ir.Document{}
	next := cursor
	for rows.Next() {
		var createdAt float64
		doc, err := scanDocument(withTrailing(rows, &createdAt))
		if err != nil {
			return nil, cursor, errs.Transient("store unavailable", err)
		}
		docs = append(docs, doc)
		next = Cursor{Timestamp: createdAt, Seq: doc.SequenceID}
	}
	if err := rows.Err(); err != nil {
		return nil, cursor, errs.Transient("store unavailable", err)
	}
	return docs, next, nil
}

// LastSeq returns the highest seq ever assigned, or 0 for an empty store.
func (s *Store) LastSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM documents`).Scan(&seq); err != nil {
		return 0, errs.Transient("store unavailable", err)
	}
	return seq.Int64, nil
}

// trailingScanner appends extra destinations after the document columns.
type trailingScanner struct {
	rows  *sql.Rows
	extra []any
}

func withTrailing(rows *sql.Rows, extra ...any) trailingScanner {
	return trailingScanner{rows: rows, extra: extra}
}

func (t trailingScanner) Scan(dest ...any) error {
	return t.rows.Scan(append(dest, t.extra...)...)
}
