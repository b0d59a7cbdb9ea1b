package pipeline

import (
	"context"
	"fmt"

	"github.com/kalambet/hybridrec/internal/docstore"
	"github.com/kalambet/hybridrec/internal/record"
	"github.com/kalambet/hybridrec/internal/telemetry"
	"github.com/kalambet/hybridrec/internal/vectorindex"
)

// DocumentWriter stores raw messages.
type DocumentWriter interface {
	InsertMessages(ctx context.Context, msgs []docstore.Message) error
}

// GraphWriter records user to campaign engagement in the graph.
type GraphWriter interface {
	UpsertEngagement(ctx context.Context, userID, campaignID, intent string, delta int64) error
}

// AnalyticsWriter increments the tabular engagement counter.
type AnalyticsWriter interface {
	UpsertEngagement(ctx context.Context, userID, campaignID string, delta int64) error
}

// Divergence describes a record whose graph write landed but whose analytic
// write did not, leaving the two engagement counters out of step by Delta.
type Divergence struct {
	RunID      string
	UserID     string
	CampaignID string
	Delta      int64
	Err        error
}

// Persister fans enriched records out to the document store, the vector
// index, and the graph plus analytic stores, in that order. The first failing
// destination stops the fan-out and its error is returned.
type Persister struct {
	docs      DocumentWriter
	vectors   vectorindex.Index
	graph     GraphWriter
	analytics AnalyticsWriter
	tel       *telemetry.Recorder
	reconcile func(context.Context, Divergence)
}

// PersisterOption configures a Persister.
type PersisterOption func(*Persister)

// WithReconciler registers fn to be called for every dual-write divergence,
// after it has been reported as an anomaly.
func WithReconciler(fn func(context.Context, Divergence)) PersisterOption {
	return func(p *Persister) { p.reconcile = fn }
}

// NewPersister creates a Persister.
func NewPersister(docs DocumentWriter, vectors vectorindex.Index, g GraphWriter, analytics AnalyticsWriter, tel *telemetry.Recorder, opts ...PersisterOption) *Persister {
	if tel == nil {
		tel = telemetry.New()
	}
	p := &Persister{docs: docs, vectors: vectors, graph: g, analytics: analytics, tel: tel}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Store writes recs to every destination.
func (p *Persister) Store(ctx context.Context, recs []record.Enriched, runID string) error {
	if err := p.storeDocuments(ctx, recs, runID); err != nil {
		return err
	}
	if err := p.storeVectors(ctx, recs, runID); err != nil {
		return err
	}
	return p.storeEngagement(ctx, recs, runID)
}

func (p *Persister) storeDocuments(ctx context.Context, recs []record.Enriched, runID string) error {
	docs := docstore.FromEnriched(recs)
	stop := p.tel.Measure("store_documents", "run_id", runID, "count", len(docs))
	err := p.docs.InsertMessages(ctx, docs)
	stop()
	if err != nil {
		return fmt.Errorf("storing documents: %w", err)
	}
	p.tel.Stage("store_documents", runID, "count", len(docs))
	return nil
}

func (p *Persister) storeVectors(ctx context.Context, recs []record.Enriched, runID string) error {
	if len(recs) == 0 {
		p.tel.Anomaly("empty_vectors", "no records to index", "run_id", runID)
		return nil
	}

	entries := make([]vectorindex.Entry, len(recs))
	for i, r := range recs {
		entries[i] = vectorindex.Entry{MessageID: r.MessageID, UserID: r.UserID, Embedding: r.Embedding}
	}

	stop := p.tel.Measure("store_vectors", "run_id", runID, "count", len(entries))
	err := p.vectors.Upsert(ctx, entries)
	if err == nil {
		err = p.vectors.Flush(ctx)
	}
	stop()
	if err != nil {
		return fmt.Errorf("indexing vectors: %w", err)
	}
	p.tel.Stage("store_vectors", runID, "count", len(entries))
	return nil
}

func (p *Persister) storeEngagement(ctx context.Context, recs []record.Enriched, runID string) error {
	defer p.tel.Measure("store_graph_analytics", "run_id", runID)()

	const delta = 1
	for _, r := range recs {
		campaign := CampaignFor(r.UserID)
		if err := p.graph.UpsertEngagement(ctx, r.UserID, campaign, IntentFor(r.Message), delta); err != nil {
			return fmt.Errorf("writing graph engagement: %w", err)
		}
		if err := p.analytics.UpsertEngagement(ctx, r.UserID, campaign, delta); err != nil {
			d := Divergence{RunID: runID, UserID: r.UserID, CampaignID: campaign, Delta: delta, Err: err}
			p.tel.Anomaly("dual_write_divergence", err.Error(),
				"run_id", runID, "user_id", r.UserID, "campaign_id", campaign, "delta", delta)
			if p.reconcile != nil {
				p.reconcile(ctx, d)
			}
			return fmt.Errorf("writing analytic engagement: %w", err)
		}
	}
	p.tel.Stage("store_graph_analytics", runID, "count", len(recs))
	return nil
}
