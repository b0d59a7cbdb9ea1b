package vectorindex

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Compile-time check that SQLiteIndex implements Index.
var _ Index = (*SQLiteIndex)(nil)

// SQLiteIndex keeps vectors in the message_vectors table and searches them
// by brute-force scan.
type SQLiteIndex struct {
	db  *sql.DB
	dim int
}

// NewSQLiteIndex wraps an existing *sql.DB. The message_vectors table must
// already exist (created by storage migrations). dim of 0 disables the
// dimension check.
func NewSQLiteIndex(db *sql.DB, dim int) *SQLiteIndex {
	return &SQLiteIndex{db: db, dim: dim}
}

func (s *SQLiteIndex) checkDim(v []float32) error {
	if s.dim > 0 && len(v) != s.dim {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(v), s.dim)
	}
	return nil
}

// Upsert writes all entries in one transaction.
func (s *SQLiteIndex) Upsert(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	for _, e := range entries {
		if err := s.checkDim(e.Embedding); err != nil {
			return fmt.Errorf("entry %s: %w", e.MessageID, err)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning upsert transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO message_vectors (message_id, user_id, embedding, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(message_id) DO UPDATE SET
			user_id = excluded.user_id,
			embedding = excluded.embedding`)
	if err != nil {
		return fmt.Errorf("preparing upsert statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, e.MessageID, e.UserID, encodeFloat32s(e.Embedding), now); err != nil {
			return fmt.Errorf("upserting vector %s: %w", e.MessageID, err)
		}
	}
	return tx.Commit()
}

// Flush is a no-op: committed rows are immediately searchable.
func (s *SQLiteIndex) Flush(context.Context) error { return nil }

// Nearest scans only message_id + embedding and keeps the top k by inner product.
func (s *SQLiteIndex) Nearest(ctx context.Context, vec []float32, k int) ([]Hit, error) {
	if k <= 0 {
		return nil, nil
	}
	if err := s.checkDim(vec); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT message_id, embedding FROM message_vectors`)
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}
	defer rows.Close()

	best := newTopK(k)
	var buf []float32
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		buf, err = decodeFloat32sInto(buf, blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for %s: %w", id, err)
		}
		best.offer(id, innerProduct(vec, buf))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	return best.sorted(), nil
}

// LookupByIDs returns entries for the given message ids.
func (s *SQLiteIndex) LookupByIDs(ctx context.Context, ids []string) ([]Entry, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	query := `SELECT message_id, user_id, embedding FROM message_vectors
		WHERE message_id IN (?` + strings.Repeat(",?", len(ids)-1) + `)`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying by ids: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var blob []byte
		if err := rows.Scan(&e.MessageID, &e.UserID, &blob); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		if e.Embedding, err = decodeFloat32sInto(nil, blob); err != nil {
			return nil, fmt.Errorf("decoding embedding for %s: %w", e.MessageID, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// VectorsForUser returns every embedding indexed for userID.
func (s *SQLiteIndex) VectorsForUser(ctx context.Context, userID string) ([][]float32, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT embedding FROM message_vectors WHERE user_id = ? ORDER BY message_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying vectors for user: %w", err)
	}
	defer rows.Close()

	var out [][]float32
	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		v, err := decodeFloat32sInto(nil, blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// Close is a no-op; the database is owned by the storage.Store.
func (s *SQLiteIndex) Close() error { return nil }
