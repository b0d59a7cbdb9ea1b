package embedding

import (
	"context"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerSettings tunes the circuit breaker around a Model.
type BreakerSettings struct {
	// MaxRequests allowed through while half-open.
	MaxRequests uint32
	// Interval clears the failure counts while closed. Zero never clears.
	Interval time.Duration
	// Timeout is how long the breaker stays open before probing again.
	Timeout time.Duration
	// TripRatio is the failure ratio, over at least 3 requests, that opens
	// the breaker.
	TripRatio float64
}

// DefaultBreakerSettings returns the settings used by the CLI.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		TripRatio:   0.6,
	}
}

type breakerModel struct {
	next Model
	cb   *gobreaker.CircuitBreaker
}

// WithBreaker wraps m so that repeated failures open a circuit and later
// calls fail fast with gobreaker.ErrOpenState until the timeout elapses.
func WithBreaker(name string, m Model, s BreakerSettings) Model {
	st := gobreaker.Settings{
		Name:        name,
		MaxRequests: s.MaxRequests,
		Interval:    s.Interval,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && ratio >= s.TripRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("embedding circuit breaker state change", "name", name, "from", from.String(), "to", to.String())
		},
	}
	return &breakerModel{next: m, cb: gobreaker.NewCircuitBreaker(st)}
}

func (b *breakerModel) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.Encode(ctx, texts)
	})
	if err != nil {
		return nil, err
	}
	return out.([][]float32), nil
}
