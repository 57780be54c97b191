package engine

import (
	"context"
	"testing"
	"time"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ideagen/harvester/pkg/config"
	"github.com/ideagen/harvester/pkg/connector/core"
	"github.com/ideagen/harvester/pkg/errors"
	"github.com/ideagen/harvester/pkg/metrics"
	"github.com/ideagen/harvester/pkg/models"
	"github.com/ideagen/harvester/pkg/sink/memory"
)

// fakeAdapter serves canned pages per dimension and canned secondary
// records per candidate ID.
type fakeAdapter struct {
	name           string
	dimensions     []string
	pages          map[string][]*core.Page
	primaryErr     map[string]error
	primaryCalls   []string
	secondary      map[string][]*models.Record
	secondaryErr   map[string]error
	secondaryCalls []string
	gates          []core.Gate
	scorer         core.Scorer
	derive         func(map[models.EntityType][]*models.Record) []*models.Record
	cancel         context.CancelFunc
}

func (f *fakeAdapter) Name() string                      { return f.name }
func (f *fakeAdapter) Dimensions() []string              { return f.dimensions }
func (f *fakeAdapter) Scorer() core.Scorer               { return f.scorer }
func (f *fakeAdapter) Gates() []core.Gate                { return f.gates }
func (f *fakeAdapter) HealthCheck(context.Context) error { return nil }
func (f *fakeAdapter) Close(context.Context) error       { return nil }

func (f *fakeAdapter) Schemas() []models.Schema {
	return []models.Schema{{Entity: "posts"}, {Entity: "comments"}, {Entity: "orgs"}}
}

func (f *fakeAdapter) FetchPrimary(_ context.Context, dimension, pageToken string) (*core.Page, error) {
	f.primaryCalls = append(f.primaryCalls, dimension)
	if err := f.primaryErr[dimension]; err != nil {
		return nil, err
	}
	if f.cancel != nil {
		defer f.cancel()
	}
	pages := f.pages[dimension]
	idx := 0
	if pageToken != "" {
		for i, p := range pages {
			if p.NextToken == pageToken {
				idx = i + 1
			}
		}
	}
	if idx >= len(pages) {
		return &core.Page{}, nil
	}
	return pages[idx], nil
}

func (f *fakeAdapter) FetchSecondary(_ context.Context, kind core.SecondaryKind, candidate *models.Record) ([]*models.Record, error) {
	f.secondaryCalls = append(f.secondaryCalls, candidate.ID)
	if err := f.secondaryErr[candidate.ID]; err != nil {
		return nil, err
	}
	return f.secondary[candidate.ID], nil
}

func (f *fakeAdapter) DeriveTertiary(session map[models.EntityType][]*models.Record) []*models.Record {
	if f.derive == nil {
		return nil
	}
	return f.derive(session)
}

func testConfig() *config.ConnectorConfig {
	return &config.ConnectorConfig{
		Platform:           "fake",
		PrimaryLimit:       100,
		SecondaryLimit:     25,
		RateLimitPerMinute: 1000,
		DedupRetention:     1000,
		Retry: config.RetryConfig{
			MaxAttempts:  2,
			InitialDelay: time.Millisecond,
			MaxDelay:     2 * time.Millisecond,
			Multiplier:   2.0,
		},
	}
}

func post(id string, observed time.Time) *models.Record {
	rec := models.NewRecord(id, "posts", "fake")
	rec.ObservedAt = observed
	rec.Set("title", "post "+id)
	return rec
}

func newTestEngine(t *testing.T, adapter *fakeAdapter) (*Engine, *memory.Sink) {
	t.Helper()
	sink := memory.New()
	eng := New(adapter, sink, testConfig(), nil, zaptest.NewLogger(t))
	return eng, sink
}

func TestSyncDeliversPrimaryRecords(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	adapter := &fakeAdapter{
		name:       "fake",
		dimensions: []string{"startups"},
		pages: map[string][]*core.Page{
			"startups": {{Records: []*models.Record{
				post("p1", now.Add(-2*time.Hour)),
				post("p2", now.Add(-time.Hour)),
				post("p3", now),
			}}},
		},
	}
	eng, sink := newTestEngine(t, adapter)

	report, err := eng.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, report.Total)
	assert.Zero(t, report.Errors)
	assert.Equal(t, 3, sink.Count("posts"))
	assert.Equal(t, Cursor("2026-03-01T10:00:00Z"), eng.State().Cursor("posts"))
}

func TestSyncIsIdempotentAcrossSessions(t *testing.T) {
	now := time.Now().UTC()
	adapter := &fakeAdapter{
		name:       "fake",
		dimensions: []string{"startups"},
		pages: map[string][]*core.Page{
			"startups": {{Records: []*models.Record{post("p1", now), post("p2", now)}}},
		},
	}
	eng, sink := newTestEngine(t, adapter)

	first, err := eng.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, first.Total)

	second, err := eng.Sync(context.Background())
	require.NoError(t, err)
	assert.Zero(t, second.Total, "replayed records must not be re-delivered")
	assert.Equal(t, 2, sink.Count("posts"))
}

func TestSyncSkipsRecordsBehindCursor(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	adapter := &fakeAdapter{
		name:       "fake",
		dimensions: []string{"startups"},
		pages: map[string][]*core.Page{
			"startups": {{Records: []*models.Record{post("p1", now)}}},
		},
	}
	eng, sink := newTestEngine(t, adapter)

	_, err := eng.Sync(context.Background())
	require.NoError(t, err)

	// A later session returns an older record under a fresh ID.
	adapter.pages["startups"] = []*core.Page{
		{Records: []*models.Record{post("p0", now.Add(-time.Hour))}},
	}
	report, err := eng.Sync(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Total)
	assert.Equal(t, 1, sink.Count("posts"))
	assert.Equal(t, Cursor("2026-03-01T10:00:00Z"), eng.State().Cursor("posts"),
		"cursor must not regress")
}

func TestCandidateGateThresholdAndCap(t *testing.T) {
	now := time.Now().UTC()
	mk := func(id string, score float64) *models.Record {
		return post(id, now).Set("trend_score", score)
	}
	gate := core.Gate{
		Kind: "comments",
		Cap:  2,
		Pass: func(rec *models.Record) bool {
			v, _ := rec.GetFloat("trend_score")
			return v >= 70
		},
	}
	adapter := &fakeAdapter{
		name:       "fake",
		dimensions: []string{"startups"},
		gates:      []core.Gate{gate},
		pages: map[string][]*core.Page{
			"startups": {{Records: []*models.Record{
				mk("p1", 10), mk("p2", 80), mk("p3", 95), mk("p4", 99),
			}}},
		},
		secondary: map[string][]*models.Record{
			"p2": {models.NewRecord("c1", "comments", "fake")},
			"p3": {models.NewRecord("c2", "comments", "fake")},
		},
	}
	eng, sink := newTestEngine(t, adapter)

	report, err := eng.Sync(context.Background())
	require.NoError(t, err)

	// p1 fails the threshold; p2 and p3 fill the list; p4 arrives late.
	assert.Equal(t, []string{"p2", "p3"}, adapter.secondaryCalls)
	assert.Equal(t, 2, sink.Count("comments"))
	assert.Equal(t, 6, report.Total)
}

func TestSecondaryGateFilterDropsRecords(t *testing.T) {
	now := time.Now().UTC()
	keep := models.NewRecord("c-keep", "comments", "fake").Set("sentiment_score", -0.5)
	drop := models.NewRecord("c-drop", "comments", "fake").Set("sentiment_score", 0.0)

	gate := core.Gate{
		Kind: "comments",
		Cap:  5,
		Filter: func(rec *models.Record) bool {
			v, _ := rec.GetFloat("sentiment_score")
			return v != 0
		},
	}
	adapter := &fakeAdapter{
		name:       "fake",
		dimensions: []string{"startups"},
		gates:      []core.Gate{gate},
		pages: map[string][]*core.Page{
			"startups": {{Records: []*models.Record{post("p1", now)}}},
		},
		secondary: map[string][]*models.Record{"p1": {keep, drop}},
	}
	eng, sink := newTestEngine(t, adapter)

	_, err := eng.Sync(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, sink.Count("comments"))
	assert.Equal(t, "c-keep", sink.Rows("comments")[0]["id"])
}

func TestDimensionFailureIsCountedAndIsolated(t *testing.T) {
	now := time.Now().UTC()
	adapter := &fakeAdapter{
		name:       "fake",
		dimensions: []string{"broken", "healthy"},
		primaryErr: map[string]error{
			"broken": errors.New(errors.ErrorTypeExtraction, "upstream 500"),
		},
		pages: map[string][]*core.Page{
			"healthy": {{Records: []*models.Record{post("p1", now)}}},
		},
	}
	eng, sink := newTestEngine(t, adapter)

	report, err := eng.Sync(context.Background())
	require.NoError(t, err, "a failed dimension must not fail the session")
	assert.Equal(t, 1, report.Errors)
	assert.Equal(t, 1, report.Total)
	assert.Equal(t, 1, sink.Count("posts"))
}

func TestCandidateFailureSkipsOnlyThatCandidate(t *testing.T) {
	now := time.Now().UTC()
	gate := core.Gate{Kind: "comments", Cap: 5}
	adapter := &fakeAdapter{
		name:       "fake",
		dimensions: []string{"startups"},
		gates:      []core.Gate{gate},
		pages: map[string][]*core.Page{
			"startups": {{Records: []*models.Record{post("p1", now), post("p2", now)}}},
		},
		secondaryErr: map[string]error{
			"p1": errors.New(errors.ErrorTypeNotFound, "deleted post"),
		},
		secondary: map[string][]*models.Record{
			"p2": {models.NewRecord("c1", "comments", "fake")},
		},
	}
	eng, sink := newTestEngine(t, adapter)

	report, err := eng.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Errors)
	assert.Equal(t, 1, sink.Count("comments"))
}

func TestTertiaryRecordsAreDerivedAndDelivered(t *testing.T) {
	now := time.Now().UTC()
	adapter := &fakeAdapter{
		name:       "fake",
		dimensions: []string{"startups"},
		pages: map[string][]*core.Page{
			"startups": {{Records: []*models.Record{
				post("p1", now).Set("owner", "acme"),
				post("p2", now).Set("owner", "acme"),
			}}},
		},
	}
	adapter.derive = func(session map[models.EntityType][]*models.Record) []*models.Record {
		owners := map[string]int{}
		for _, rec := range session["posts"] {
			if owner, ok := rec.GetString("owner"); ok {
				owners[owner]++
			}
		}
		var out []*models.Record
		for owner, count := range owners {
			out = append(out, models.NewRecord(owner, "orgs", "fake").Set("repo_count", count))
		}
		return out
	}
	eng, sink := newTestEngine(t, adapter)

	_, err := eng.Sync(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, sink.Count("orgs"))
	assert.Equal(t, 2, sink.Rows("orgs")[0]["repo_count"])
}

func TestRowsAreFlattenedBeforeDelivery(t *testing.T) {
	now := time.Now().UTC()
	rec := post("p1", now).Set("topics", []string{"ai", "infra"})
	adapter := &fakeAdapter{
		name:       "fake",
		dimensions: []string{"startups"},
		pages:      map[string][]*core.Page{"startups": {{Records: []*models.Record{rec}}}},
	}
	eng, sink := newTestEngine(t, adapter)

	_, err := eng.Sync(context.Background())
	require.NoError(t, err)

	row := sink.Rows("posts")[0]
	topics, ok := row["topics"].(string)
	require.True(t, ok, "nested values must reach the sink as JSON strings")
	assert.JSONEq(t, `["ai","infra"]`, topics)
}

func TestCancelledSessionDiscardsWithoutPartialFlush(t *testing.T) {
	now := time.Now().UTC()
	ctx, cancel := context.WithCancel(context.Background())
	adapter := &fakeAdapter{
		name:       "fake",
		dimensions: []string{"startups"},
		pages: map[string][]*core.Page{
			"startups": {{Records: []*models.Record{post("p1", now)}}},
		},
		cancel: cancel,
	}
	eng, sink := newTestEngine(t, adapter)

	_, err := eng.Sync(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeTimeout))
	assert.Zero(t, sink.Upserts(), "cancelled sessions must not flush partial batches")
	assert.True(t, eng.State().Cursor("posts").IsZero(), "cursor must not advance")
}

func TestPaginationStopsAtPrimaryLimit(t *testing.T) {
	now := time.Now().UTC()
	adapter := &fakeAdapter{
		name:       "fake",
		dimensions: []string{"startups"},
		pages: map[string][]*core.Page{
			"startups": {
				{Records: []*models.Record{post("p1", now), post("p2", now)}, NextToken: "page2"},
				{Records: []*models.Record{post("p3", now), post("p4", now)}, NextToken: "page3"},
				{Records: []*models.Record{post("p5", now)}},
			},
		},
	}
	sink := memory.New()
	cfg := testConfig()
	cfg.PrimaryLimit = 3
	eng := New(adapter, sink, cfg, nil, zaptest.NewLogger(t))

	report, err := eng.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, report.Total, "pagination stops at the page crossing the limit")
}

type failingSink struct{ *memory.Sink }

func (f *failingSink) Upsert(context.Context, models.EntityType, []map[string]interface{}) error {
	return errors.New(errors.ErrorTypeConnection, "sink unavailable")
}

func TestSinkFailureFailsSessionWithoutCursorAdvance(t *testing.T) {
	now := time.Now().UTC()
	adapter := &fakeAdapter{
		name:       "fake",
		dimensions: []string{"startups"},
		pages: map[string][]*core.Page{
			"startups": {{Records: []*models.Record{post("p1", now)}}},
		},
	}
	eng := New(adapter, &failingSink{memory.New()}, testConfig(), nil, zaptest.NewLogger(t))

	report, err := eng.Sync(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, report.Errors)
	assert.True(t, eng.State().Cursor("posts").IsZero())
}

func TestMinScoreFiltersScoredRecords(t *testing.T) {
	now := time.Now().UTC()
	adapter := &fakeAdapter{
		name:       "fake",
		dimensions: []string{"startups"},
		scorer:     staticScorer{},
		pages: map[string][]*core.Page{
			"startups": {{Records: []*models.Record{
				post("weak", now).Set("strength", 0.1),
				post("strong", now).Set("strength", 0.9),
			}}},
		},
	}
	sink := memory.New()
	cfg := testConfig()
	cfg.MinScore = 0.5
	eng := New(adapter, sink, cfg, nil, zaptest.NewLogger(t))

	_, err := eng.Sync(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, sink.Count("posts"))
	assert.Equal(t, "strong", sink.Rows("posts")[0]["id"])
}

// staticScorer copies the record's strength field into its relevance.
type staticScorer struct{}

func (staticScorer) Score(rec *models.Record) map[string]interface{} {
	strength, _ := rec.GetFloat("strength")
	return map[string]interface{}{"relevance_score": strength}
}

// recoveringSink fails a fixed number of upserts before behaving
// normally.
type recoveringSink struct {
	*memory.Sink
	failures int
}

func (f *recoveringSink) Upsert(ctx context.Context, entity models.EntityType, rows []map[string]interface{}) error {
	if f.failures > 0 {
		f.failures--
		return errors.New(errors.ErrorTypeConnection, "sink unavailable")
	}
	return f.Sink.Upsert(ctx, entity, rows)
}

func TestFailedDeliveryDoesNotConsumeRecords(t *testing.T) {
	now := time.Now().UTC()
	adapter := &fakeAdapter{
		name:       "fake",
		dimensions: []string{"startups"},
		pages: map[string][]*core.Page{
			"startups": {{Records: []*models.Record{post("p1", now)}}},
		},
	}
	sink := &recoveringSink{Sink: memory.New(), failures: 1}
	eng := New(adapter, sink, testConfig(), nil, zaptest.NewLogger(t))

	_, err := eng.Sync(context.Background())
	require.Error(t, err)
	assert.Zero(t, sink.Count("posts"))

	// The record was never delivered, so the replayed session must
	// treat it as new rather than already seen.
	report, err := eng.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Total)
	assert.Equal(t, 1, sink.Count("posts"))

	// Once delivered, later sessions deduplicate it.
	third, err := eng.Sync(context.Background())
	require.NoError(t, err)
	assert.Zero(t, third.Total)
	assert.Equal(t, 1, sink.Count("posts"))
}

func TestCancelledSessionRecordsStayEligible(t *testing.T) {
	now := time.Now().UTC()
	ctx, cancel := context.WithCancel(context.Background())
	adapter := &fakeAdapter{
		name:       "fake",
		dimensions: []string{"startups"},
		pages: map[string][]*core.Page{
			"startups": {{Records: []*models.Record{post("p1", now)}}},
		},
		cancel: cancel,
	}
	eng, sink := newTestEngine(t, adapter)

	_, err := eng.Sync(ctx)
	require.Error(t, err)

	adapter.cancel = nil
	report, err := eng.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Total)
	assert.Equal(t, 1, sink.Count("posts"))
}

func TestDeliveryBatchIsOrderedAndTruncated(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	adapter := &fakeAdapter{
		name:       "fake",
		dimensions: []string{"startups"},
		pages: map[string][]*core.Page{
			"startups": {{Records: []*models.Record{
				post("oldest", now.Add(-2*time.Hour)),
				post("newest", now),
				post("middle", now.Add(-time.Hour)),
			}}},
		},
	}
	sink := memory.New()
	cfg := testConfig()
	cfg.BatchSize = 2
	eng := New(adapter, sink, cfg, nil, zaptest.NewLogger(t))

	report, err := eng.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Total)

	rows := sink.Rows("posts")
	require.Len(t, rows, 2)
	assert.Equal(t, "newest", rows[0]["id"])
	assert.Equal(t, "middle", rows[1]["id"])
	assert.Equal(t, Cursor("2026-03-01T10:00:00Z"), eng.State().Cursor("posts"),
		"cursor lands on the newest delivered record")
}

func TestAuthenticationFailureAbortsSession(t *testing.T) {
	now := time.Now().UTC()
	adapter := &fakeAdapter{
		name:       "fake",
		dimensions: []string{"locked", "open"},
		primaryErr: map[string]error{
			"locked": errors.New(errors.ErrorTypeAuthentication, "bad token"),
		},
		pages: map[string][]*core.Page{
			"open": {{Records: []*models.Record{post("p1", now)}}},
		},
	}
	eng, sink := newTestEngine(t, adapter)

	_, err := eng.Sync(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeAuthentication))
	assert.Equal(t, []string{"locked"}, adapter.primaryCalls,
		"remaining dimensions must not be fetched with rejected credentials")
	assert.Zero(t, sink.Upserts())
	assert.True(t, eng.State().Cursor("posts").IsZero())
}

func TestSecondaryAuthenticationFailureAbortsSession(t *testing.T) {
	now := time.Now().UTC()
	gate := core.Gate{Kind: "comments", Cap: 5}
	adapter := &fakeAdapter{
		name:       "fake",
		dimensions: []string{"startups"},
		gates:      []core.Gate{gate},
		pages: map[string][]*core.Page{
			"startups": {{Records: []*models.Record{post("p1", now), post("p2", now)}}},
		},
		secondaryErr: map[string]error{
			"p1": errors.New(errors.ErrorTypeAuthentication, "token revoked"),
		},
	}
	eng, sink := newTestEngine(t, adapter)

	_, err := eng.Sync(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeAuthentication))
	assert.Equal(t, []string{"p1"}, adapter.secondaryCalls)
	assert.Zero(t, sink.Upserts())
}

func TestFirstSyncHonorsLookbackWindow(t *testing.T) {
	now := time.Now().UTC()
	adapter := &fakeAdapter{
		name:       "fake",
		dimensions: []string{"startups"},
		pages: map[string][]*core.Page{
			"startups": {{Records: []*models.Record{
				post("stale", now.Add(-2*time.Hour)),
				post("fresh", now.Add(-10*time.Minute)),
			}}},
		},
	}
	sink := memory.New()
	cfg := testConfig()
	cfg.Lookback = time.Hour
	eng := New(adapter, sink, cfg, nil, zaptest.NewLogger(t))

	report, err := eng.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Total)
	assert.Equal(t, "fresh", sink.Rows("posts")[0]["id"])
}

// countingScorer records which IDs were scored.
type countingScorer struct{ scored []string }

func (c *countingScorer) Score(rec *models.Record) map[string]interface{} {
	c.scored = append(c.scored, rec.ID)
	return map[string]interface{}{"relevance_score": 1.0}
}

func TestRecordsBehindCursorAreNotScored(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	scorer := &countingScorer{}
	adapter := &fakeAdapter{
		name:       "fake",
		dimensions: []string{"startups"},
		scorer:     scorer,
		pages: map[string][]*core.Page{
			"startups": {{Records: []*models.Record{post("p1", now)}}},
		},
	}
	eng, _ := newTestEngine(t, adapter)

	_, err := eng.Sync(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"p1"}, scorer.scored)

	adapter.pages["startups"] = []*core.Page{
		{Records: []*models.Record{post("p0", now.Add(-time.Hour))}},
	}
	_, err = eng.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"p1"}, scorer.scored,
		"records at or behind the cursor must be skipped before scoring")
}

func TestSyncObservesRateLimiterWaits(t *testing.T) {
	now := time.Now().UTC()
	adapter := &fakeAdapter{
		name:       "fake",
		dimensions: []string{"startups"},
		pages: map[string][]*core.Page{
			"startups": {{Records: []*models.Record{post("p1", now)}}},
		},
	}
	eng, _ := newTestEngine(t, adapter)

	_, err := eng.Sync(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t,
		promtestutil.CollectAndCount(metrics.RateLimiterWait, "harvester_rate_limiter_wait_seconds"), 1)
}
