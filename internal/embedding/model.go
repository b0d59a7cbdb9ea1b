// Package embedding turns validated records into fixed-dimension vectors.
package embedding

import (
	"context"
	"errors"
)

// DefaultDim is the vector dimension every index and store expects.
const DefaultDim = 1024

// ErrCountMismatch is returned when a model yields a different number of
// vectors than it was given texts.
var ErrCountMismatch = errors.New("embedding count does not match input count")

// Model encodes a batch of texts, one vector per text, in input order.
type Model interface {
	Encode(ctx context.Context, texts []string) ([][]float32, error)
}

// ModelFunc adapts a function to Model.
type ModelFunc func(ctx context.Context, texts []string) ([][]float32, error)

// Encode calls f.
func (f ModelFunc) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	return f(ctx, texts)
}

// ModelFactory builds a Model. It is called lazily on first use.
type ModelFactory func(ctx context.Context) (Model, error)
