package embedding

import (
	"context"
	"fmt"
	"sync"

	"github.com/kalambet/hybridrec/internal/record"
	"github.com/kalambet/hybridrec/internal/telemetry"
)

// Generator embeds record batches with a lazily built model. The model is
// built on first use and reused for the Generator's lifetime; a failed build
// is retried on the next call.
type Generator struct {
	factory ModelFactory
	dim     int
	tel     *telemetry.Recorder

	mu    sync.Mutex
	model Model
}

// GeneratorOption configures a Generator.
type GeneratorOption func(*Generator)

// WithDim sets the target dimension. Non-positive values are ignored.
func WithDim(dim int) GeneratorOption {
	return func(g *Generator) {
		if dim > 0 {
			g.dim = dim
		}
	}
}

// WithTelemetry sets the telemetry recorder.
func WithTelemetry(tel *telemetry.Recorder) GeneratorOption {
	return func(g *Generator) { g.tel = tel }
}

// NewGenerator creates a Generator over factory.
func NewGenerator(factory ModelFactory, opts ...GeneratorOption) *Generator {
	g := &Generator{factory: factory, dim: DefaultDim}
	for _, o := range opts {
		o(g)
	}
	if g.tel == nil {
		g.tel = telemetry.New()
	}
	return g
}

// Dim returns the target dimension.
func (g *Generator) Dim() int { return g.dim }

func (g *Generator) loadModel(ctx context.Context) (Model, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.model != nil {
		return g.model, nil
	}
	m, err := g.factory(ctx)
	if err != nil {
		return nil, fmt.Errorf("building embedding model: %w", err)
	}
	g.model = m
	return m, nil
}

// Generate encodes every record message in a single model call and returns
// the records whose vectors are usable, each normalised to the target
// dimension. Degenerate vectors are dropped and reported as empty_embedding.
func (g *Generator) Generate(ctx context.Context, records []record.Canonical, runID, sourceFile string) ([]record.Enriched, error) {
	g.tel.Stage("embed", runID, "count", len(records))
	if len(records) == 0 {
		return nil, nil
	}

	model, err := g.loadModel(ctx)
	if err != nil {
		return nil, err
	}

	texts := make([]string, len(records))
	for i, r := range records {
		texts[i] = r.Message
	}

	stop := g.tel.Measure("embed_batch", "run_id", runID, "batch_size", len(texts))
	vecs, err := model.Encode(ctx, texts)
	stop()
	if err != nil {
		return nil, fmt.Errorf("encoding batch: %w", err)
	}
	if len(vecs) != len(records) {
		return nil, fmt.Errorf("%w: %d vectors for %d records", ErrCountMismatch, len(vecs), len(records))
	}

	out := make([]record.Enriched, 0, len(records))
	for i, r := range records {
		vec := Normalize(vecs[i], g.dim)
		if Degenerate(vec) {
			g.tel.Anomaly("empty_embedding", "message_id="+r.MessageID, "run_id", runID)
			continue
		}
		out = append(out, record.Enriched{
			Canonical:  r,
			Embedding:  vec,
			RunID:      runID,
			SourceFile: sourceFile,
		})
	}
	return out, nil
}
