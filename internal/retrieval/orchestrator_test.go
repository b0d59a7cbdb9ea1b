package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/hybridrec/internal/cache"
	"github.com/kalambet/hybridrec/internal/graph"
	"github.com/kalambet/hybridrec/internal/storage"
	"github.com/kalambet/hybridrec/internal/telemetry"
	"github.com/kalambet/hybridrec/internal/vectorindex"
)

type fakeVectors struct {
	byUser  map[string][][]float32
	hits    []vectorindex.Hit
	owners  map[string]string
	err     error
	nearest int
	k       int
}

func (f *fakeVectors) VectorsForUser(_ context.Context, uid string) ([][]float32, error) {
	return f.byUser[uid], f.err
}

func (f *fakeVectors) Nearest(_ context.Context, _ []float32, k int) ([]vectorindex.Hit, error) {
	f.nearest++
	f.k = k
	return f.hits, nil
}

func (f *fakeVectors) LookupByIDs(_ context.Context, ids []string) ([]vectorindex.Entry, error) {
	var out []vectorindex.Entry
	// Reverse order: callers must not rely on lookup order.
	for i := len(ids) - 1; i >= 0; i-- {
		if uid, ok := f.owners[ids[i]]; ok {
			out = append(out, vectorindex.Entry{MessageID: ids[i], UserID: uid})
		}
	}
	return out, nil
}

type fakeGraph struct {
	campaigns []graph.CampaignEngagement
	calls     int
	users     []string
	err       error
}

func (f *fakeGraph) CampaignsForUsers(_ context.Context, users []string, _ int) ([]graph.CampaignEngagement, error) {
	f.calls++
	f.users = users
	return f.campaigns, f.err
}

type fakeAnalytics struct {
	totals map[string]int64
	asked  []string
}

func (f *fakeAnalytics) CampaignEngagement(_ context.Context, ids []string) ([]storage.CampaignEngagement, error) {
	f.asked = ids
	var out []storage.CampaignEngagement
	for _, id := range ids {
		if t, ok := f.totals[id]; ok {
			out = append(out, storage.CampaignEngagement{CampaignID: id, Total: t})
		}
	}
	return out, nil
}

type brokenCache struct{}

func (brokenCache) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("connection reset")
}
func (brokenCache) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("connection reset")
}
func (brokenCache) Close() error { return nil }

type fixture struct {
	vectors   *fakeVectors
	graph     *fakeGraph
	analytics *fakeAnalytics
	cache     cache.Cache
	anomalies []string
	ops       []string
}

func newFixture() *fixture {
	return &fixture{
		vectors: &fakeVectors{
			byUser: map[string][][]float32{"user_42": {{1, 0}, {0, 1}}},
			hits: []vectorindex.Hit{
				{ID: "m1", Score: 0.9}, {ID: "m2", Score: 0.8}, {ID: "m3", Score: 0.7},
				{ID: "m4", Score: 0.6}, {ID: "m5", Score: 0.5},
			},
			owners: map[string]string{"m1": "user_42", "m2": "user_7", "m3": "user_7", "m4": "user_9", "m5": "user_3"},
		},
		graph: &fakeGraph{campaigns: []graph.CampaignEngagement{
			{CampaignID: "campaign_1", Engagement: 5},
			{CampaignID: "campaign_2", Engagement: 3},
			{CampaignID: "campaign_4", Engagement: 1},
		}},
		analytics: &fakeAnalytics{totals: map[string]int64{"campaign_2": 4, "campaign_4": 1, "campaign_0": 100}},
		cache:     cache.NewMemory(time.Minute),
	}
}

func (f *fixture) orchestrator(opts ...Option) *Orchestrator {
	tel := telemetry.New(
		telemetry.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		telemetry.WithAnomalyHook(func(a telemetry.Anomaly) { f.anomalies = append(f.anomalies, a.Type) }),
		telemetry.WithLatencyHook(func(m telemetry.Measurement) { f.ops = append(f.ops, m.Operation) }),
	)
	opts = append([]Option{WithTelemetry(tel), WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	return NewOrchestrator(f.vectors, f.graph, f.analytics, f.cache, opts...)
}

func TestRecommend_MergesGraphAndAnalytics(t *testing.T) {
	f := newFixture()
	o := f.orchestrator()

	got, err := o.Recommend(context.Background(), "user_42", 5)
	require.NoError(t, err)
	assert.Equal(t, []Recommendation{
		{CampaignID: "campaign_2", EngagementScore: 7},
		{CampaignID: "campaign_1", EngagementScore: 5},
		{CampaignID: "campaign_4", EngagementScore: 2},
	}, got)

	assert.Equal(t, []string{"campaign_1", "campaign_2", "campaign_4"}, f.analytics.asked, "only graph campaigns are ranked")
	assert.Equal(t, DefaultNeighbors*3, f.vectors.k)
	assert.Equal(t, []string{"user_42", "user_7", "user_9", "user_3"}, f.graph.users, "similarity order, no duplicates")
	assert.Empty(t, f.anomalies)
}

func TestRecommend_EveryCallTimed(t *testing.T) {
	f := newFixture()
	_, err := f.orchestrator().Recommend(context.Background(), "user_42", 3)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"cache_get", "user_embedding", "similar_users", "graph_campaigns", "analytics_engagement", "cache_set",
	}, f.ops)
}

func TestRecommend_BlankUserID(t *testing.T) {
	f := newFixture()
	o := f.orchestrator()

	for _, id := range []string{"", "   ", "\t"} {
		_, err := o.Recommend(context.Background(), id, 5)
		assert.ErrorIs(t, err, ErrInvalidUserID)
	}
	assert.Zero(t, f.vectors.nearest)
	assert.Zero(t, f.graph.calls)
	assert.Empty(t, f.ops, "rejected before any store access")
}

func TestRecommend_CacheRoundTrip(t *testing.T) {
	f := newFixture()
	o := f.orchestrator()
	ctx := context.Background()

	first, err := o.Recommend(ctx, "user_42", 2)
	require.NoError(t, err)
	second, err := o.Recommend(ctx, "user_42", 2)
	require.NoError(t, err)

	a, _ := json.Marshal(first)
	b, _ := json.Marshal(second)
	assert.True(t, bytes.Equal(a, b), "byte-identical results")
	assert.Equal(t, 1, f.vectors.nearest, "similarity search not repeated")
	assert.Equal(t, 1, f.graph.calls, "graph not repeated")

	raw, ok, err := f.cache.Get(ctx, cache.Key("user_42"))
	require.NoError(t, err)
	require.True(t, ok)
	var stored []Recommendation
	require.NoError(t, json.Unmarshal(raw, &stored))
	assert.Len(t, stored, 3, "full ranking cached, truncated per request")
}

func TestRecommend_CacheFailureIsMiss(t *testing.T) {
	f := newFixture()
	f.cache = brokenCache{}
	o := f.orchestrator()

	got, err := o.Recommend(context.Background(), "user_42", 1)
	require.NoError(t, err)
	assert.Equal(t, []Recommendation{{CampaignID: "campaign_2", EngagementScore: 7}}, got)
}

func TestRecommend_MissingData(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(f *fixture)
		anomaly string
	}{
		{"no embedding", func(f *fixture) { f.vectors.byUser = nil }, "missing_embedding"},
		{"no neighbours", func(f *fixture) { f.vectors.hits = nil }, "no_similar_users"},
		{"unknown owners", func(f *fixture) { f.vectors.owners = nil }, "no_similar_users"},
		{"no campaigns", func(f *fixture) { f.graph.campaigns = nil }, "missing_relationships"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			tt.mutate(f)
			o := f.orchestrator()

			got, err := o.Recommend(context.Background(), "user_42", 5)
			require.NoError(t, err)
			assert.NotNil(t, got)
			assert.Empty(t, got)
			assert.Equal(t, []string{tt.anomaly}, f.anomalies)

			_, cached, _ := f.cache.Get(context.Background(), cache.Key("user_42"))
			assert.False(t, cached, "empty results are not cached")
		})
	}
}

func TestRecommend_StoreFailurePropagates(t *testing.T) {
	f := newFixture()
	f.graph.err = errors.New("neo4j: connection refused")

	_, err := f.orchestrator().Recommend(context.Background(), "user_42", 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestRecommend_ExcludeSelf(t *testing.T) {
	f := newFixture()
	_, err := f.orchestrator(WithExcludeSelf(true), WithNeighbors(2)).Recommend(context.Background(), "user_42", 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"user_7", "user_9"}, f.graph.users)
}

func TestRecommend_SelfIncludedByDefault(t *testing.T) {
	f := newFixture()
	_, err := f.orchestrator(WithNeighbors(1)).Recommend(context.Background(), "user_42", 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"user_42"}, f.graph.users, "the query user can be its own nearest neighbour")
}

func TestClampTop(t *testing.T) {
	assert.Equal(t, 5, ClampTop(0))
	assert.Equal(t, 5, ClampTop(-3))
	assert.Equal(t, 1, ClampTop(1))
	assert.Equal(t, 20, ClampTop(20))
	assert.Equal(t, 20, ClampTop(500))
}

func TestDistinctUsers(t *testing.T) {
	hits := []vectorindex.Hit{{ID: "a"}, {ID: "b"}, {ID: "c"}, {ID: "d"}, {ID: "e"}, {ID: "f"}}
	owner := map[string]string{"a": "u1", "b": "u1", "c": "u2", "d": "u1", "e": "u3", "f": "u4"}

	got := DistinctUsers(hits, owner, 3, "")
	assert.Equal(t, []string{"u1", "u2", "u3"}, got)
	assert.LessOrEqual(t, len(got), 3)

	assert.Equal(t, []string{"u2", "u3", "u4"}, DistinctUsers(hits, owner, 5, "u1"))
	assert.Empty(t, DistinctUsers(nil, owner, 3, ""))
}

func TestMerge_Commutative(t *testing.T) {
	g := []Recommendation{{"campaign_1", 5}, {"campaign_2", 3}, {"campaign_3", 2}}
	a := []Recommendation{{"campaign_3", 1}, {"campaign_2", 2}}

	want := []Recommendation{{"campaign_1", 5}, {"campaign_2", 5}, {"campaign_3", 3}}
	assert.Equal(t, want, Merge(g, a))
	assert.Equal(t, want, Merge(a, g))
	assert.Equal(t, want, Merge(a[:1], g, a[1:]))
	assert.Empty(t, Merge())
}

func TestCentroid(t *testing.T) {
	assert.Nil(t, Centroid(nil))
	assert.Equal(t, []float32{0.5, 0.5}, Centroid([][]float32{{1, 0}, {0, 1}}))
	assert.Equal(t, []float32{2, 4}, Centroid([][]float32{{2, 4}, {9}}), "mismatched vector skipped")
}

// gatedVectors blocks VectorsForUser until release is closed, or until the
// call's own context ends.
type gatedVectors struct {
	*fakeVectors
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedVectors) VectorsForUser(ctx context.Context, uid string) ([][]float32, error) {
	g.once.Do(func() { close(g.entered) })
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-g.release:
	}
	return g.fakeVectors.VectorsForUser(ctx, uid)
}

func TestRecommend_CallerCancelDoesNotFailOthers(t *testing.T) {
	f := newFixture()
	gated := &gatedVectors{fakeVectors: f.vectors, entered: make(chan struct{}), release: make(chan struct{})}
	o := NewOrchestrator(gated, f.graph, f.analytics, f.cache,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := o.Recommend(ctxA, "user_42", 3)
		errA <- err
	}()
	<-gated.entered

	type result struct {
		recs []Recommendation
		err  error
	}
	resB := make(chan result, 1)
	go func() {
		recs, err := o.Recommend(context.Background(), "user_42", 3)
		resB <- result{recs, err}
	}()

	cancelA()
	select {
	case err := <-errA:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled caller did not return")
	}

	time.Sleep(20 * time.Millisecond)
	close(gated.release)

	select {
	case r := <-resB:
		require.NoError(t, r.err)
		assert.Equal(t, []Recommendation{
			{CampaignID: "campaign_2", EngagementScore: 7},
			{CampaignID: "campaign_1", EngagementScore: 5},
			{CampaignID: "campaign_4", EngagementScore: 2},
		}, r.recs)
	case <-time.After(2 * time.Second):
		t.Fatal("second caller did not return")
	}
}

func TestRecommend_ComputeTimeout(t *testing.T) {
	f := newFixture()
	gated := &gatedVectors{fakeVectors: f.vectors, entered: make(chan struct{}), release: make(chan struct{})}
	o := NewOrchestrator(gated, f.graph, f.analytics, f.cache,
		WithComputeTimeout(10*time.Millisecond),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	_, err := o.Recommend(context.Background(), "user_42", 3)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
