package engine

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ideagen/harvester/pkg/clients"
	"github.com/ideagen/harvester/pkg/config"
	"github.com/ideagen/harvester/pkg/connector/base"
	"github.com/ideagen/harvester/pkg/connector/core"
	"github.com/ideagen/harvester/pkg/errors"
	"github.com/ideagen/harvester/pkg/logger"
	"github.com/ideagen/harvester/pkg/metrics"
	"github.com/ideagen/harvester/pkg/models"
	"github.com/ideagen/harvester/pkg/observability"
	"github.com/ideagen/harvester/pkg/scoring"
)

// Stage names used in logs and metrics.
const (
	stagePrimary   = "primary"
	stageSecondary = "secondary"
)

// SessionReport summarizes one sync session.
type SessionReport struct {
	SessionID  string
	Connector  string
	StartedAt  time.Time
	FinishedAt time.Time
	Records    map[models.EntityType]int
	Total      int
	Errors     int
}

// Engine drives one connector through the four extraction stages:
// primary fetch, candidate follow-up, derived records, and delivery.
// It owns rate limiting, retries, scoring, deduplication, cursor
// tracking, and candidate bookkeeping; the adapter only talks to the
// platform API.
type Engine struct {
	adapter core.SourceAdapter
	sink    core.Sink
	limiter clients.RateLimiter
	retry   *base.RetryPolicy
	state   *SyncState
	cfg     *config.ConnectorConfig
	logger  *zap.Logger

	schemasDeclared bool
}

// New creates an engine for one adapter and sink pair.
func New(adapter core.SourceAdapter, sink core.Sink, cfg *config.ConnectorConfig, state *SyncState, logger *zap.Logger) *Engine {
	if state == nil {
		state = NewSyncState(cfg.DedupRetention)
	}
	return &Engine{
		adapter: adapter,
		sink:    sink,
		limiter: clients.NewSlidingWindowRateLimiter(cfg.RateLimitPerMinute),
		retry:   base.RetryPolicyFromConfig(cfg.Retry),
		state:   state,
		cfg:     cfg,
		logger:  logger.With(zap.String("connector", adapter.Name())),
	}
}

// State returns the engine's sync state for persistence.
func (e *Engine) State() *SyncState { return e.state }

// Adapter returns the underlying platform adapter.
func (e *Engine) Adapter() core.SourceAdapter { return e.adapter }

// Sync runs one full session. A cancelled context aborts the session
// and discards gathered records without a partial flush; individual
// dimension or candidate failures are counted and skipped so one bad
// upstream object cannot starve the rest of the session.
func (e *Engine) Sync(ctx context.Context) (*SessionReport, error) {
	report := &SessionReport{
		SessionID: uuid.NewString(),
		Connector: e.adapter.Name(),
		StartedAt: time.Now().UTC(),
		Records:   make(map[models.EntityType]int),
	}
	log := e.logger.With(zap.String("session_id", report.SessionID))

	ctx = context.WithValue(ctx, logger.SessionIDKey, report.SessionID)
	ctx = context.WithValue(ctx, logger.ConnectorKey, report.Connector)
	ctx, span := observability.StartSpan(ctx, "engine.sync",
		attribute.String("connector", report.Connector),
		attribute.String("session_id", report.SessionID))
	var syncErr error
	defer func() {
		report.FinishedAt = time.Now().UTC()
		metrics.ObserveSession(report.Connector, report.FinishedAt.Sub(report.StartedAt), syncErr != nil)
		observability.EndSpan(span, syncErr)
	}()

	if err := e.declareSchemas(ctx); err != nil {
		syncErr = err
		return report, err
	}

	gates := e.adapter.Gates()
	e.state.ResetCandidates(gates)
	session := make(map[models.EntityType][]*models.Record)

	log.Info("sync session started",
		zap.Strings("dimensions", e.adapter.Dimensions()))

	if err := e.runPrimary(ctx, session, gates, report, log); err != nil {
		syncErr = err
		e.state.DiscardSeen()
		return report, err
	}
	if err := e.runSecondary(ctx, session, gates, report, log); err != nil {
		syncErr = err
		e.state.DiscardSeen()
		return report, err
	}
	e.runTertiary(session)

	if err := ctx.Err(); err != nil {
		syncErr = errors.Wrap(err, errors.ErrorTypeTimeout, "session cancelled before delivery")
		log.Warn("sync session cancelled, discarding batch",
			zap.Int("discarded", countRecords(session)))
		e.state.DiscardSeen()
		return report, syncErr
	}

	if err := e.deliver(ctx, session, report, log); err != nil {
		syncErr = err
		e.state.DiscardSeen()
		return report, err
	}

	// Dedup sets and cursors advance only after successful delivery so
	// a failed session replays its window.
	e.state.CommitSeen()
	for entity, recs := range session {
		e.advanceCursor(entity, recs)
	}
	e.state.MarkSynced(time.Now().UTC())

	log.Info("sync session finished",
		zap.Int("records", report.Total),
		zap.Int("errors", report.Errors),
		zap.Duration("elapsed", time.Since(report.StartedAt)))
	return report, nil
}

// declareSchemas announces entity tables once per engine lifetime.
func (e *Engine) declareSchemas(ctx context.Context) error {
	if e.schemasDeclared {
		return nil
	}
	for _, schema := range e.adapter.Schemas() {
		if err := e.sink.DeclareSchema(ctx, schema); err != nil {
			return errors.Wrap(err, errors.ErrorTypeExtraction, "declare schema").
				WithDetail("entity", string(schema.Entity))
		}
	}
	e.schemasDeclared = true
	return nil
}

// runPrimary executes stage one: paginated fetch per dimension, then
// cursor filtering, scoring, dedup, and candidate gating. It returns
// an error only for authentication failures, which abort the session;
// further calls would burn the rate budget on guaranteed rejections.
func (e *Engine) runPrimary(ctx context.Context, session map[models.EntityType][]*models.Record, gates []core.Gate, report *SessionReport, log *zap.Logger) error {
	scorer := e.adapter.Scorer()

	for _, dimension := range e.adapter.Dimensions() {
		if ctx.Err() != nil {
			return nil
		}

		token := ""
		fetched := 0
		for {
			page, err := e.fetchPrimaryPage(ctx, dimension, token)
			if err != nil {
				report.Errors++
				metrics.SyncErrors.WithLabelValues(report.Connector).Inc()
				if errors.IsType(err, errors.ErrorTypeAuthentication) {
					log.Error("authentication rejected, aborting session",
						zap.String("dimension", dimension),
						zap.Error(err))
					return err
				}
				log.Warn("primary fetch failed, skipping dimension",
					zap.String("dimension", dimension),
					zap.Error(err))
				break
			}

			for _, rec := range page.Records {
				if e.admitPrimary(rec, scorer) {
					session[rec.EntityType] = append(session[rec.EntityType], rec)
					for _, gate := range gates {
						e.state.Offer(gate, rec)
					}
				}
			}

			fetched += len(page.Records)
			token = page.NextToken
			if token == "" || fetched >= e.cfg.PrimaryLimit || len(page.Records) == 0 {
				break
			}
		}
	}
	return nil
}

func (e *Engine) fetchPrimaryPage(ctx context.Context, dimension, token string) (*core.Page, error) {
	ctx = context.WithValue(ctx, logger.StageKey, stagePrimary)
	var page *core.Page
	err := e.retry.Execute(ctx, func(ctx context.Context) error {
		if err := e.waitForSlot(ctx); err != nil {
			return err
		}
		metrics.APICalls.WithLabelValues(e.adapter.Name(), stagePrimary).Inc()
		var err error
		page, err = e.adapter.FetchPrimary(ctx, dimension, token)
		return err
	})
	return page, err
}

// waitForSlot blocks on the rate limiter, recording the wait.
func (e *Engine) waitForSlot(ctx context.Context) error {
	start := time.Now()
	if err := e.limiter.Wait(ctx); err != nil {
		return err
	}
	metrics.RateLimiterWait.WithLabelValues(e.adapter.Name()).Observe(time.Since(start).Seconds())
	return nil
}

// admitPrimary applies the cursor filter, then scores the record and
// applies the relevance and dedup filters. Records at or behind the
// cursor are rejected before scoring runs.
func (e *Engine) admitPrimary(rec *models.Record, scorer core.Scorer) bool {
	if cursorTime, ok := e.state.Cursor(rec.EntityType).Time(); ok {
		if !rec.ObservedAt.After(cursorTime) {
			return false
		}
	} else if e.cfg.Lookback > 0 && !rec.ObservedAt.IsZero() {
		// First sync for this entity: bound the backfill window.
		if rec.ObservedAt.Before(time.Now().UTC().Add(-e.cfg.Lookback)) {
			return false
		}
	}

	if scorer != nil {
		for key, value := range scorer.Score(rec) {
			rec.Set(key, value)
		}
		if relevance, ok := rec.GetFloat(scoring.FieldRelevanceScore); ok && relevance < e.cfg.MinScore {
			return false
		}
	}

	if !e.state.StageSeen(rec.EntityType, rec.ID) {
		metrics.RecordsDeduplicated.WithLabelValues(e.adapter.Name(), string(rec.EntityType)).Inc()
		return false
	}
	return true
}

// runSecondary executes stage two: per-candidate follow-up fetches. As
// with runPrimary, only authentication failures return an error.
func (e *Engine) runSecondary(ctx context.Context, session map[models.EntityType][]*models.Record, gates []core.Gate, report *SessionReport, log *zap.Logger) error {
	for _, gate := range gates {
		candidates := e.state.Candidates(gate.Kind)
		if len(candidates) == 0 {
			continue
		}
		log.Debug("fetching secondary records",
			zap.String("kind", string(gate.Kind)),
			zap.Int("candidates", len(candidates)))

		for _, candidate := range candidates {
			if ctx.Err() != nil {
				return nil
			}

			recs, err := e.fetchSecondary(ctx, gate.Kind, candidate)
			if err != nil {
				report.Errors++
				metrics.SyncErrors.WithLabelValues(report.Connector).Inc()
				if errors.IsType(err, errors.ErrorTypeAuthentication) {
					log.Error("authentication rejected, aborting session",
						zap.String("kind", string(gate.Kind)),
						zap.Error(err))
					return err
				}
				log.Warn("secondary fetch failed, skipping candidate",
					zap.String("kind", string(gate.Kind)),
					zap.String("candidate", candidate.ID),
					zap.Error(err))
				continue
			}

			for _, rec := range recs {
				if gate.Filter != nil && !gate.Filter(rec) {
					continue
				}
				if !e.state.StageSeen(rec.EntityType, rec.ID) {
					metrics.RecordsDeduplicated.WithLabelValues(e.adapter.Name(), string(rec.EntityType)).Inc()
					continue
				}
				session[rec.EntityType] = append(session[rec.EntityType], rec)
			}
		}
	}
	return nil
}

func (e *Engine) fetchSecondary(ctx context.Context, kind core.SecondaryKind, candidate *models.Record) ([]*models.Record, error) {
	ctx = context.WithValue(ctx, logger.StageKey, stageSecondary)
	var recs []*models.Record
	err := e.retry.Execute(ctx, func(ctx context.Context) error {
		if err := e.waitForSlot(ctx); err != nil {
			return err
		}
		metrics.APICalls.WithLabelValues(e.adapter.Name(), stageSecondary).Inc()
		var err error
		recs, err = e.adapter.FetchSecondary(ctx, kind, candidate)
		return err
	})
	return recs, err
}

// runTertiary executes stage three: records derived without API calls.
func (e *Engine) runTertiary(session map[models.EntityType][]*models.Record) {
	for _, rec := range e.adapter.DeriveTertiary(session) {
		if !e.state.StageSeen(rec.EntityType, rec.ID) {
			continue
		}
		session[rec.EntityType] = append(session[rec.EntityType], rec)
	}
}

// deliver executes stage four: order each entity batch newest first,
// truncate it to the configured batch size, then flatten and upsert.
func (e *Engine) deliver(ctx context.Context, session map[models.EntityType][]*models.Record, report *SessionReport, log *zap.Logger) error {
	for entity, recs := range session {
		recs = orderBatch(recs, e.cfg.BatchSize)
		rows := make([]map[string]interface{}, 0, len(recs))
		for _, rec := range recs {
			row, err := rec.Flatten()
			if err != nil {
				report.Errors++
				metrics.SyncErrors.WithLabelValues(report.Connector).Inc()
				log.Warn("dropping unflattenable record",
					zap.String("entity", string(entity)),
					zap.String("id", rec.ID),
					zap.Error(err))
				continue
			}
			rows = append(rows, row)
		}
		if len(rows) == 0 {
			continue
		}

		if err := e.sink.Upsert(ctx, entity, rows); err != nil {
			report.Errors++
			metrics.SyncErrors.WithLabelValues(report.Connector).Inc()
			return errors.Wrap(err, errors.ErrorTypeExtraction, "sink upsert failed").
				WithDetail("entity", string(entity))
		}

		report.Records[entity] += len(rows)
		report.Total += len(rows)
		metrics.RecordsExtracted.WithLabelValues(report.Connector, string(entity)).Add(float64(len(rows)))
	}
	return nil
}

// advanceCursor moves the entity cursor to the newest observed time in
// the delivered batch.
func (e *Engine) advanceCursor(entity models.EntityType, recs []*models.Record) {
	var newest time.Time
	for _, rec := range recs {
		if rec.ObservedAt.After(newest) {
			newest = rec.ObservedAt
		}
	}
	if !newest.IsZero() {
		e.state.AdvanceCursor(entity, CursorFromTime(newest))
	}
}

// HealthCheck probes the adapter with a bounded deadline.
func (e *Engine) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := e.adapter.HealthCheck(ctx); err != nil {
		return errors.Wrap(err, errors.ErrorTypeHealth, "connector unhealthy").
			WithDetail("connector", e.adapter.Name())
	}
	return nil
}

// Close releases the adapter.
func (e *Engine) Close(ctx context.Context) error {
	return e.adapter.Close(ctx)
}

// orderBatch sorts records by observation time, newest first, and
// drops everything past the limit. Dropped records are the oldest in
// the batch, so the cursor still lands on a delivered record.
func orderBatch(recs []*models.Record, limit int) []*models.Record {
	out := make([]*models.Record, len(recs))
	copy(out, recs)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ObservedAt.After(out[j].ObservedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func countRecords(session map[models.EntityType][]*models.Record) int {
	n := 0
	for _, recs := range session {
		n += len(recs)
	}
	return n
}
