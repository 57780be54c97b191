// Package pipeline orchestrates sync sessions across all configured
// connectors, with per-connector fault isolation.
package pipeline

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/ideagen/harvester/pkg/config"
	"github.com/ideagen/harvester/pkg/connector/core"
	"github.com/ideagen/harvester/pkg/connector/registry"
	"github.com/ideagen/harvester/pkg/engine"
	"github.com/ideagen/harvester/pkg/errors"
)

// CycleReport aggregates one full sync cycle across connectors.
type CycleReport struct {
	StartedAt  time.Time
	FinishedAt time.Time
	Sessions   map[string]*engine.SessionReport
	Failures   map[string]error
	Total      int
}

// Manager owns one engine per configured connector. Initialization is
// best effort: connectors that fail to construct are recorded and
// skipped so the remaining connectors still run.
type Manager struct {
	cfg    *config.Config
	sink   core.Sink
	logger *zap.Logger

	engines      map[string]*engine.Engine
	initFailures map[string]error
	stateFile    *engine.StateFile

	mu        sync.Mutex
	lastCycle *CycleReport
}

// NewManager constructs engines for every enabled connector.
func NewManager(cfg *config.Config, sink core.Sink, logger *zap.Logger) *Manager {
	m := &Manager{
		cfg:          cfg,
		sink:         sink,
		logger:       logger.With(zap.String("component", "pipeline")),
		engines:      make(map[string]*engine.Engine),
		initFailures: make(map[string]error),
	}
	if cfg.Pipeline.StateFile != "" {
		m.stateFile = &engine.StateFile{Path: cfg.Pipeline.StateFile}
	}

	snapshots := m.loadSnapshots()

	for i := range cfg.Connectors {
		cc := &cfg.Connectors[i]
		if !cc.IsEnabled() {
			m.logger.Info("connector disabled", zap.String("platform", cc.Platform))
			continue
		}

		adapter, err := registry.CreateAdapter(cc.Platform, cc)
		if err != nil {
			m.initFailures[cc.Platform] = err
			m.logger.Error("connector initialization failed, skipping",
				zap.String("platform", cc.Platform),
				zap.Error(err))
			continue
		}

		state := engine.NewSyncState(cc.DedupRetention)
		if snap, ok := snapshots[cc.Platform]; ok {
			state.Restore(snap)
		}
		m.engines[cc.Platform] = engine.New(adapter, sink, cc, state, logger)
		m.logger.Info("connector ready", zap.String("platform", cc.Platform))
	}

	return m
}

// Connectors returns the initialized connector names, sorted.
func (m *Manager) Connectors() []string {
	names := make([]string, 0, len(m.engines))
	for name := range m.engines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// InitFailures returns connectors that failed to construct.
func (m *Manager) InitFailures() map[string]error {
	out := make(map[string]error, len(m.initFailures))
	for name, err := range m.initFailures {
		out[name] = err
	}
	return out
}

// RunFullSync runs one sync session per connector, in name order. A
// failing connector is logged and counted; it never aborts the others.
func (m *Manager) RunFullSync(ctx context.Context) (*CycleReport, error) {
	report := &CycleReport{
		StartedAt: time.Now().UTC(),
		Sessions:  make(map[string]*engine.SessionReport),
		Failures:  make(map[string]error),
	}

	for _, name := range m.Connectors() {
		if err := ctx.Err(); err != nil {
			report.FinishedAt = time.Now().UTC()
			return report, errors.Wrap(err, errors.ErrorTypeTimeout, "sync cycle cancelled")
		}

		session, err := m.engines[name].Sync(ctx)
		report.Sessions[name] = session
		if err != nil {
			report.Failures[name] = err
			m.logger.Error("connector sync failed",
				zap.String("platform", name),
				zap.Error(err))
			continue
		}
		report.Total += session.Total
	}

	report.FinishedAt = time.Now().UTC()
	m.saveSnapshots()

	m.mu.Lock()
	m.lastCycle = report
	m.mu.Unlock()

	m.logger.Info("sync cycle finished",
		zap.Int("connectors", len(report.Sessions)),
		zap.Int("failures", len(report.Failures)),
		zap.Int("records", report.Total),
		zap.Duration("elapsed", report.FinishedAt.Sub(report.StartedAt)))
	return report, nil
}

// RunContinuous repeats full sync cycles until ctx is cancelled. A
// cycle where every connector failed backs off before the next attempt;
// cron scheduling replaces the interval when configured.
func (m *Manager) RunContinuous(ctx context.Context) error {
	if m.cfg.Pipeline.Schedule != "" {
		return m.runScheduled(ctx)
	}

	for {
		report, err := m.RunFullSync(ctx)
		if err != nil {
			return err
		}

		pause := m.cfg.Pipeline.Interval
		if len(report.Sessions) > 0 && len(report.Failures) == len(report.Sessions) {
			pause = m.cfg.Pipeline.ErrorBackoff
			m.logger.Warn("all connectors failed, backing off",
				zap.Duration("backoff", pause))
		}

		timer := time.NewTimer(pause)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

func (m *Manager) runScheduled(ctx context.Context) error {
	c := cron.New()
	_, err := c.AddFunc(m.cfg.Pipeline.Schedule, func() {
		if _, err := m.RunFullSync(ctx); err != nil {
			m.logger.Error("scheduled sync cycle failed", zap.Error(err))
		}
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, "invalid cron schedule").
			WithDetail("schedule", m.cfg.Pipeline.Schedule)
	}

	c.Start()
	<-ctx.Done()
	stopCtx := c.Stop()
	<-stopCtx.Done()
	return nil
}

// LastCycle returns the most recent cycle report, or nil before the
// first cycle completes.
func (m *Manager) LastCycle() *CycleReport {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastCycle
}

// Close shuts down every engine and the sink, persisting state first.
func (m *Manager) Close(ctx context.Context) error {
	m.saveSnapshots()

	var firstErr error
	for _, name := range m.Connectors() {
		if err := m.engines[name].Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := m.sink.Close(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (m *Manager) loadSnapshots() map[string]engine.Snapshot {
	if m.stateFile == nil {
		return nil
	}
	snapshots, err := m.stateFile.Load()
	if err != nil {
		m.logger.Warn("state file unreadable, starting fresh", zap.Error(err))
		return nil
	}
	return snapshots
}

func (m *Manager) saveSnapshots() {
	if m.stateFile == nil {
		return
	}
	snapshots := make(map[string]engine.Snapshot, len(m.engines))
	for name, eng := range m.engines {
		snapshots[name] = eng.State().Snapshot()
	}
	if err := m.stateFile.Save(snapshots); err != nil {
		m.logger.Warn("state file save failed", zap.Error(err))
	}
}
