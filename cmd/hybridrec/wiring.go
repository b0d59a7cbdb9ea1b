package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/kalambet/hybridrec/internal/cache"
	"github.com/kalambet/hybridrec/internal/config"
	"github.com/kalambet/hybridrec/internal/docstore"
	"github.com/kalambet/hybridrec/internal/embedding"
	"github.com/kalambet/hybridrec/internal/graph"
	"github.com/kalambet/hybridrec/internal/lineage"
	"github.com/kalambet/hybridrec/internal/ollama"
	"github.com/kalambet/hybridrec/internal/pipeline"
	"github.com/kalambet/hybridrec/internal/record"
	"github.com/kalambet/hybridrec/internal/retrieval"
	"github.com/kalambet/hybridrec/internal/storage"
	"github.com/kalambet/hybridrec/internal/telemetry"
	"github.com/kalambet/hybridrec/internal/vectorindex"
)

const connectTimeout = 10 * time.Second

// app holds every opened store and the two orchestrators built on them.
type app struct {
	cfg      config.Config
	registry *prometheus.Registry
	tel      *telemetry.Recorder
	store    *storage.Store
	vectors  vectorindex.Index
	docs     *docstore.MongoStore
	graph    *graph.Neo4jStore
	cache    cache.Cache
	lineage  *lineage.Recorder

	pipeline  *pipeline.Orchestrator
	retrieval *retrieval.Orchestrator
}

// openApp connects to every backend named in cfg. Model loading is deferred
// to the first embedding batch; progress of a model pull goes to progress.
func openApp(ctx context.Context, cfg config.Config, progress io.Writer) (_ *app, err error) {
	a := &app{cfg: cfg, registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.tel = telemetry.New(telemetry.WithMetrics(telemetry.NewMetrics(a.registry)))

	if a.store, err = storage.Open(cfg.Storage.DataDir); err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	a.lineage = lineage.NewRecorder(a.store, nil)

	switch cfg.Vector.Backend {
	case config.VectorBadger:
		idx, err := vectorindex.OpenBadger(filepath.Join(cfg.Storage.DataDir, "vectors"), cfg.Embedding.Dim)
		if err != nil {
			return nil, fmt.Errorf("opening vector index: %w", err)
		}
		a.vectors = idx
	default:
		a.vectors = vectorindex.NewSQLiteIndex(a.store.DB(), cfg.Embedding.Dim)
	}

	cctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	if a.docs, err = docstore.Connect(cctx, cfg.Mongo.URI, cfg.Mongo.Database); err != nil {
		return nil, err
	}
	if err = a.docs.EnsureIndexes(cctx); err != nil {
		return nil, fmt.Errorf("creating document indexes: %w", err)
	}

	if a.graph, err = graph.Connect(cctx, cfg.Neo4j.URI, cfg.Neo4j.User, cfg.Neo4j.Password, cfg.Neo4j.Database); err != nil {
		return nil, err
	}
	if err = a.graph.EnsureConstraints(cctx); err != nil {
		return nil, fmt.Errorf("creating graph constraints: %w", err)
	}

	switch cfg.Cache.Backend {
	case config.CacheMemory:
		a.cache = cache.NewMemory(10 * time.Minute)
	default:
		rc, err := cache.NewRedis(cctx, cfg.Redis.URL)
		if err != nil {
			return nil, err
		}
		a.cache = rc
	}

	gen := embedding.NewGenerator(modelFactory(cfg.Embedding, progress),
		embedding.WithDim(cfg.Embedding.Dim), embedding.WithTelemetry(a.tel))
	sink := pipeline.NewPersister(a.docs, a.vectors, a.graph, a.store, a.tel,
		pipeline.WithReconciler(reconcileAnalytics(a.store)))
	a.pipeline = pipeline.NewOrchestrator(record.NewValidator(a.tel), gen, sink, a.lineage, a.tel)

	a.retrieval = retrieval.NewOrchestrator(a.vectors, a.graph, a.store, a.cache,
		retrieval.WithNeighbors(cfg.Retrieval.Neighbors),
		retrieval.WithCampaignLimit(cfg.Retrieval.CampaignLimit),
		retrieval.WithExcludeSelf(cfg.Retrieval.ExcludeSelf),
		retrieval.WithTTL(cfg.Cache.TTL()),
		retrieval.WithTelemetry(a.tel),
	)
	return a, nil
}

// Close releases every opened backend, logging failures.
func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			slog.Warn("closing cache", "error", err)
		}
	}
	if a.graph != nil {
		if err := a.graph.Close(ctx); err != nil {
			slog.Warn("closing graph store", "error", err)
		}
	}
	if a.docs != nil {
		if err := a.docs.Close(ctx); err != nil {
			slog.Warn("closing document store", "error", err)
		}
	}
	if a.vectors != nil {
		if err := a.vectors.Close(); err != nil {
			slog.Warn("closing vector index", "error", err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			slog.Warn("closing storage", "error", err)
		}
	}
}

// modelFactory builds the configured embedding backend behind a circuit
// breaker. For Ollama the model is pulled first if missing.
func modelFactory(cfg config.EmbeddingConfig, progress io.Writer) embedding.ModelFactory {
	return func(ctx context.Context) (embedding.Model, error) {
		var m embedding.Model
		switch cfg.Backend {
		case config.EmbeddingOpenAI:
			om, err := embedding.NewOpenAIModel(cfg.BaseURL, cfg.APIKey, cfg.Model)
			if err != nil {
				return nil, err
			}
			m = om
		default:
			c := ollama.New(cfg.BaseURL)
			if err := ollama.EnsureModel(ctx, c, cfg.Model, progress); err != nil {
				return nil, err
			}
			m = embedding.NewOllamaModel(c, cfg.Model)
		}
		return embedding.WithBreaker("embedding-"+cfg.Backend, m, embedding.DefaultBreakerSettings()), nil
	}
}

// reconcileAnalytics retries the analytic increment once for a record whose
// graph write already landed.
func reconcileAnalytics(w pipeline.AnalyticsWriter) func(context.Context, pipeline.Divergence) {
	return func(ctx context.Context, d pipeline.Divergence) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := w.UpsertEngagement(ctx, d.UserID, d.CampaignID, d.Delta); err != nil {
			slog.Error("reconciling analytic engagement failed",
				"run_id", d.RunID, "user_id", d.UserID, "campaign_id", d.CampaignID, "delta", d.Delta, "error", err)
			return
		}
		slog.Info("reconciled analytic engagement", "run_id", d.RunID, "user_id", d.UserID, "campaign_id", d.CampaignID)
	}
}
