package pipeline

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kalambet/hybridrec/internal/docstore"
	"github.com/kalambet/hybridrec/internal/embedding"
	"github.com/kalambet/hybridrec/internal/lineage"
	"github.com/kalambet/hybridrec/internal/record"
	"github.com/kalambet/hybridrec/internal/storage"
	"github.com/kalambet/hybridrec/internal/telemetry"
	"github.com/kalambet/hybridrec/internal/vectorindex"
)

// memDocs rejects duplicate message ids like the unique Mongo index.
type memDocs struct {
	mu   sync.Mutex
	msgs map[string]docstore.Message
	err  error
}

func newMemDocs() *memDocs { return &memDocs{msgs: map[string]docstore.Message{}} }

func (m *memDocs) InsertMessages(_ context.Context, msgs []docstore.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	for _, d := range msgs {
		if _, dup := m.msgs[d.MessageID]; dup {
			return fmt.Errorf("%w: %s", docstore.ErrConflict, d.MessageID)
		}
		m.msgs[d.MessageID] = d
	}
	return nil
}

type edge struct{ user, campaign string }

// memGraph keeps ENGAGED_WITH counts and HAS_INTENT edges.
type memGraph struct {
	mu      sync.Mutex
	counts  map[edge]int64
	intents map[string]map[string]bool
	err     error
}

func newMemGraph() *memGraph {
	return &memGraph{counts: map[edge]int64{}, intents: map[string]map[string]bool{}}
}

func (g *memGraph) UpsertEngagement(_ context.Context, user, campaign, intent string, delta int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return g.err
	}
	g.counts[edge{user, campaign}] += delta
	if g.intents[user] == nil {
		g.intents[user] = map[string]bool{}
	}
	g.intents[user][intent] = true
	return nil
}

type failingAnalytics struct{ err error }

func (f failingAnalytics) UpsertEngagement(context.Context, string, string, int64) error { return f.err }

type harness struct {
	store   *storage.Store
	docs    *memDocs
	graph   *memGraph
	vectors vectorindex.Index
	orch    *Orchestrator
	anoms   *[]telemetry.Anomaly
}

func anomalyTypes(as []telemetry.Anomaly) []string {
	out := make([]string, len(as))
	for i, a := range as {
		out[i] = a.Type
	}
	return out
}

// constModel embeds every message as the same unit vector.
func constModel(dim int) embedding.Model {
	return embedding.ModelFunc(func(_ context.Context, texts []string) ([][]float32, error) {
		out := make([][]float32, len(texts))
		for i := range out {
			v := make([]float32, dim)
			v[0] = 1
			out[i] = v
		}
		return out, nil
	})
}

func newHarness(t *testing.T, model embedding.Model) *harness {
	t.Helper()
	store, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	var anoms []telemetry.Anomaly
	var mu sync.Mutex
	tel := telemetry.New(telemetry.WithAnomalyHook(func(a telemetry.Anomaly) {
		mu.Lock()
		anoms = append(anoms, a)
		mu.Unlock()
	}))

	const dim = 4
	h := &harness{
		store:   store,
		docs:    newMemDocs(),
		graph:   newMemGraph(),
		vectors: vectorindex.NewSQLiteIndex(store.DB(), dim),
		anoms:   &anoms,
	}
	gen := embedding.NewGenerator(func(context.Context) (embedding.Model, error) { return model, nil },
		embedding.WithDim(dim), embedding.WithTelemetry(tel))
	sink := NewPersister(h.docs, h.vectors, h.graph, store, tel)
	h.orch = NewOrchestrator(record.NewValidator(tel), gen, sink, lineage.NewRecorder(store, nil), tel)
	return h
}
