// Package record turns raw conversation items into validated canonical records.
package record

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidRecord is wrapped by every ValidationError.
var ErrInvalidRecord = errors.New("invalid record")

// ErrUnsupportedFormat is returned by LoadFile for anything other than JSON.
var ErrUnsupportedFormat = errors.New("only JSON input is supported")

// Canonical is a validated conversation message. It is never modified after
// validation.
type Canonical struct {
	UserID    string    `json:"user_id"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	MessageID string    `json:"message_id"`
}

// Enriched is a Canonical record with its embedding and lineage fields.
// len(Embedding) always equals the generator's target dimension.
type Enriched struct {
	Canonical
	Embedding  []float32 `json:"-"`
	RunID      string    `json:"run_id"`
	SourceFile string    `json:"source_file,omitempty"`
}

// ValidationError names the field that made a raw item unusable.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidRecord }
