// Package vectorindex stores message embeddings and answers inner-product
// nearest-neighbour queries over them.
//
// Two backends are provided: SQLite (default, shares the analytic database)
// and Badger (embedded key-value store). Both scan every vector per query;
// neither builds an approximate index.
package vectorindex

import (
	"context"
	"errors"
)

// ErrDimensionMismatch is returned when a query or entry vector does not
// match the dimension the index was created with.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// Entry is one indexed message vector.
type Entry struct {
	MessageID string
	UserID    string
	Embedding []float32
}

// Hit is one nearest-neighbour result. Score is the inner product with the
// query; higher is more similar.
type Hit struct {
	ID    string
	Score float32
}

// Index is the vector index contract the pipeline and retrieval layers use.
type Index interface {
	// Upsert inserts entries, replacing any with the same MessageID.
	Upsert(ctx context.Context, entries []Entry) error
	// Flush makes previously upserted entries durable and visible to search.
	Flush(ctx context.Context) error
	// Nearest returns up to k hits ordered by descending score.
	Nearest(ctx context.Context, vec []float32, k int) ([]Hit, error)
	// LookupByIDs returns the entries for the given message ids. Unknown ids
	// are skipped. Order is unspecified.
	LookupByIDs(ctx context.Context, ids []string) ([]Entry, error)
	// VectorsForUser returns every embedding indexed for userID.
	VectorsForUser(ctx context.Context, userID string) ([][]float32, error)
	Close() error
}
