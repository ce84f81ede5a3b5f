package store

import (
	"context"
	"database/sql"

	"github.com/roach88/graffiti/internal/errs"
	"github.com/roach88/graffiti/internal/ir"
)

// Insert stores the first version of an object and returns its seq.
//
// Fails with a CONFLICT error when a live version of the object already
// exists. The write is atomic: either the row is durable or nothing is.
func (s *Store) Insert(ctx context.Context, doc *ir.Document) (int64, error) {
	row, err := encodeDocument(doc)
	if err != nil {
		return 0, errs.Validation("object cannot be stored: %v", err)
	}

	result, err := s.db.ExecContext(ctx, insertDocumentSQL,
		row.objectID, row.author, row.access, row.object, row.contexts, row.rules, row.createdAt,
	)
	if err != nil {
		return 0, errs.Transient("store unavailable", err)
	}
	return insertedSeq(result, doc.ObjectID)
}

// Replace tombstones the live version with seq expectedSeq and inserts next
// as the new live version, in one transaction. Returns next's seq.
//
// Fails with a CONFLICT error when the live version is not expectedSeq:
// the object was deleted or replaced since the caller read it.
func (s *Store) Replace(ctx context.Context, expectedSeq int64, next *ir.Document) (int64, error) {
	row, err := encodeDocument(next)
	if err != nil {
		return 0, errs.Validation("object cannot be stored: %v", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errs.Transient("store unavailable", err)
	}
	defer tx.Rollback() // No-op if committed

	if err := tombstone(ctx, tx, next.ObjectID, expectedSeq); err != nil {
		return 0, err
	}

	result, err := tx.ExecContext(ctx, insertDocumentSQL,
		row.objectID, row.author, row.access, row.object, row.contexts, row.rules, row.createdAt,
	)
	if err != nil {
		return 0, errs.Transient("store unavailable", err)
	}
	seq, err := insertedSeq(result, next.ObjectID)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, errs.Transient("store unavailable", err)
	}
	return seq, nil
}

// Delete tombstones the live version with seq expectedSeq.
//
// Fails with a CONFLICT error when the live version is not expectedSeq.
func (s *Store) Delete(ctx context.Context, objectID string, expectedSeq int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.Transient("store unavailable", err)
	}
	defer tx.Rollback()

	if err := tombstone(ctx, tx, objectID, expectedSeq); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return errs.Transient("store unavailable", err)
	}
	return nil
}

const insertDocumentSQL = `
	INSERT INTO documents
	(object_id, author, access, object, computed_contexts, context_rules, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT DO NOTHING
`

// insertedSeq returns the new row's seq, or a CONFLICT error when the
// one-live-version index rejected the row.
func insertedSeq(result sql.Result, objectID string) (int64, error) {
	n, err := result.RowsAffected()
	if err != nil {
		return 0, errs.Transient("store unavailable", err)
	}
	if n == 0 {
		return 0, errs.Conflict("object %s already exists", objectID)
	}
	seq, err := result.LastInsertId()
	if err != nil {
		return 0, errs.Transient("store unavailable", err)
	}
	return seq, nil
}

// tombstone flips the tombstone flag on exactly the expected live version.
func tombstone(ctx context.Context, tx *sql.Tx, objectID string, expectedSeq int64) error {
	result, err := tx.ExecContext(ctx, `
		UPDATE documents SET tombstone = 1
		WHERE seq = ? AND object_id = ? AND tombstone = 0
	`, expectedSeq, objectID)
	if err != nil {
		return errs.Transient("store unavailable", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return errs.Transient("store unavailable", err)
	}
	if n == 0 {
		return errs.Conflict("object %s was modified or deleted concurrently", objectID)
	}
	return nil
}
