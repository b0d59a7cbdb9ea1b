// Package retrieval serves hybrid campaign recommendations: vector similarity
// finds neighbouring users, the graph expands them to campaigns, and the
// analytic store adds historical engagement before ranking.
package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/kalambet/hybridrec/internal/cache"
	"github.com/kalambet/hybridrec/internal/graph"
	"github.com/kalambet/hybridrec/internal/storage"
	"github.com/kalambet/hybridrec/internal/telemetry"
	"github.com/kalambet/hybridrec/internal/vectorindex"
)

// ErrInvalidUserID is returned for a blank user id, before any store access.
var ErrInvalidUserID = errors.New("user_id required")

const (
	DefaultTop       = 5
	MaxTop           = 20
	DefaultNeighbors = 5
	// overfetch multiplies the neighbour count to absorb several raw
	// vectors belonging to the same user.
	overfetch = 3

	DefaultComputeTimeout = 30 * time.Second
)

// VectorSearcher is the vector index subset retrieval reads.
type VectorSearcher interface {
	VectorsForUser(ctx context.Context, userID string) ([][]float32, error)
	Nearest(ctx context.Context, vec []float32, k int) ([]vectorindex.Hit, error)
	LookupByIDs(ctx context.Context, ids []string) ([]vectorindex.Entry, error)
}

// CampaignGraph expands users to the campaigns they engaged with.
type CampaignGraph interface {
	CampaignsForUsers(ctx context.Context, userIDs []string, limit int) ([]graph.CampaignEngagement, error)
}

// EngagementSource returns summed historical engagement per campaign.
type EngagementSource interface {
	CampaignEngagement(ctx context.Context, campaignIDs []string) ([]storage.CampaignEngagement, error)
}

// Orchestrator computes recommendations behind a cache.
type Orchestrator struct {
	vectors   VectorSearcher
	graph     CampaignGraph
	analytics EngagementSource
	cache     cache.Cache
	tel       *telemetry.Recorder
	logger    *slog.Logger

	neighbors     int
	campaignLimit int
	excludeSelf   bool
	ttl           time.Duration

	computeTimeout time.Duration
	group          singleflight.Group
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithNeighbors sets how many distinct similar users feed the graph step.
func WithNeighbors(k int) Option {
	return func(o *Orchestrator) {
		if k > 0 {
			o.neighbors = k
		}
	}
}

// WithCampaignLimit caps the campaigns fetched from the graph.
func WithCampaignLimit(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.campaignLimit = n
		}
	}
}

// WithExcludeSelf drops the requesting user from its own neighbour set.
func WithExcludeSelf(exclude bool) Option {
	return func(o *Orchestrator) { o.excludeSelf = exclude }
}

// WithTTL sets the cache entry lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(o *Orchestrator) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

// WithComputeTimeout bounds one cache-miss computation, which runs
// independently of the requests waiting on it.
func WithComputeTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.computeTimeout = d
		}
	}
}

// WithTelemetry sets the telemetry recorder.
func WithTelemetry(tel *telemetry.Recorder) Option {
	return func(o *Orchestrator) { o.tel = tel }
}

// WithLogger sets the logger used for cache errors.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(v VectorSearcher, g CampaignGraph, a EngagementSource, c cache.Cache, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		vectors:       v,
		graph:         g,
		analytics:     a,
		cache:         c,
		neighbors:     DefaultNeighbors,
		campaignLimit: graph.DefaultCampaignLimit,
		ttl:           cache.DefaultTTL,

		computeTimeout: DefaultComputeTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.tel == nil {
		o.tel = telemetry.New()
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}

// ClampTop maps a requested result count into [1, MaxTop]; non-positive
// values mean DefaultTop.
func ClampTop(top int) int {
	switch {
	case top <= 0:
		return DefaultTop
	case top > MaxTop:
		return MaxTop
	default:
		return top
	}
}

// Recommend returns up to top campaigns for userID. Missing data yields an
// empty list with a nil error; store failures are returned as errors.
//
// The full ranked list is cached per user and truncated per request, so
// callers asking for different counts share one cache entry.
func (o *Orchestrator) Recommend(ctx context.Context, userID string, top int) ([]Recommendation, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrInvalidUserID
	}
	top = ClampTop(top)

	if recs, ok := o.cached(ctx, userID); ok {
		return truncate(recs, top), nil
	}

	// The shared computation is detached from any single caller, so one
	// caller giving up never fails the others waiting on the same user.
	ch := o.group.DoChan(userID, func() (any, error) {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.computeTimeout)
		defer cancel()
		return o.compute(cctx, userID)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return truncate(res.Val.([]Recommendation), top), nil
	}
}

func (o *Orchestrator) cached(ctx context.Context, userID string) ([]Recommendation, bool) {
	stop := o.tel.Measure("cache_get", "user_id", userID)
	raw, ok, err := o.cache.Get(ctx, cache.Key(userID))
	stop()
	if err != nil {
		o.logger.Warn("cache read failed", "user_id", userID, "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var recs []Recommendation
	if err := json.Unmarshal(raw, &recs); err != nil {
		o.logger.Warn("cache entry undecodable", "user_id", userID, "error", err)
		return nil, false
	}
	return recs, true
}

func (o *Orchestrator) compute(ctx context.Context, userID string) ([]Recommendation, error) {
	stop := o.tel.Measure("user_embedding", "user_id", userID)
	vecs, err := o.vectors.VectorsForUser(ctx, userID)
	stop()
	if err != nil {
		return nil, fmt.Errorf("loading user vectors: %w", err)
	}
	centroid := Centroid(vecs)
	if centroid == nil {
		o.tel.Anomaly("missing_embedding", "no embedding for user_id="+userID, "user_id", userID)
		return []Recommendation{}, nil
	}

	neighbors, err := o.similarUsers(ctx, userID, centroid)
	if err != nil {
		return nil, err
	}
	if len(neighbors) == 0 {
		o.tel.Anomaly("no_similar_users", "user_id="+userID, "user_id", userID)
		return []Recommendation{}, nil
	}

	stop = o.tel.Measure("graph_campaigns", "user_id", userID)
	campaigns, err := o.graph.CampaignsForUsers(ctx, neighbors, o.campaignLimit)
	stop()
	if err != nil {
		return nil, fmt.Errorf("expanding campaigns: %w", err)
	}
	if len(campaigns) == 0 {
		o.tel.Anomaly("missing_relationships", "no campaigns for similar users, user_id="+userID, "user_id", userID)
		return []Recommendation{}, nil
	}

	fromGraph := make([]Recommendation, len(campaigns))
	ids := make([]string, len(campaigns))
	for i, c := range campaigns {
		ids[i] = c.CampaignID
		fromGraph[i] = Recommendation{CampaignID: c.CampaignID, EngagementScore: c.Engagement}
	}

	stop = o.tel.Measure("analytics_engagement", "user_id", userID)
	history, err := o.analytics.CampaignEngagement(ctx, ids)
	stop()
	if err != nil {
		return nil, fmt.Errorf("ranking by engagement: %w", err)
	}
	fromAnalytics := make([]Recommendation, len(history))
	for i, h := range history {
		fromAnalytics[i] = Recommendation{CampaignID: h.CampaignID, EngagementScore: h.Total}
	}

	ranked := Merge(fromGraph, fromAnalytics)
	o.store(ctx, userID, ranked)
	return ranked, nil
}

// similarUsers over-fetches nearest vectors, maps them to users and keeps
// the first o.neighbors distinct user ids in similarity order.
func (o *Orchestrator) similarUsers(ctx context.Context, userID string, centroid []float32) ([]string, error) {
	defer o.tel.Measure("similar_users", "user_id", userID)()

	hits, err := o.vectors.Nearest(ctx, centroid, o.neighbors*overfetch)
	if err != nil {
		return nil, fmt.Errorf("searching similar vectors: %w", err)
	}
	if len(hits) == 0 {
		return nil, nil
	}

	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	entries, err := o.vectors.LookupByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("looking up similar vectors: %w", err)
	}
	owner := make(map[string]string, len(entries))
	for _, e := range entries {
		owner[e.MessageID] = e.UserID
	}

	return DistinctUsers(hits, owner, o.neighbors, o.excludedUser(userID)), nil
}

func (o *Orchestrator) excludedUser(userID string) string {
	if o.excludeSelf {
		return userID
	}
	return ""
}

// DistinctUsers walks hits in order and returns up to k distinct owners,
// skipping hits with no known owner and the exclude user (when non-empty).
func DistinctUsers(hits []vectorindex.Hit, owner map[string]string, k int, exclude string) []string {
	seen := make(map[string]bool, k)
	out := make([]string, 0, k)
	for _, h := range hits {
		uid := owner[h.ID]
		if uid == "" || seen[uid] || (exclude != "" && uid == exclude) {
			continue
		}
		seen[uid] = true
		out = append(out, uid)
		if len(out) >= k {
			break
		}
	}
	return out
}

func (o *Orchestrator) store(ctx context.Context, userID string, recs []Recommendation) {
	raw, err := json.Marshal(recs)
	if err != nil {
		o.logger.Warn("encoding cache entry", "user_id", userID, "error", err)
		return
	}
	stop := o.tel.Measure("cache_set", "user_id", userID)
	err = o.cache.Set(ctx, cache.Key(userID), raw, o.ttl)
	stop()
	if err != nil {
		o.logger.Warn("cache write failed", "user_id", userID, "error", err)
	}
}

func truncate(recs []Recommendation, top int) []Recommendation {
	if len(recs) > top {
		recs = recs[:top]
	}
	out := make([]Recommendation, len(recs))
	copy(out, recs)
	return out
}
