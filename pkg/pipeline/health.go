package pipeline

import (
	"context"
	"time"
)

// Health status values.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// ConnectorHealth reports one connector's probe result.
type ConnectorHealth struct {
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	LastSync  time.Time `json:"last_sync,omitempty"`
	LatencyMS int64     `json:"latency_ms"`
}

// HealthReport aggregates connector probes with record and error
// totals from the most recent sync cycle. Overall status is healthy
// when every connector probe passes, unhealthy when none do, and
// degraded in between.
type HealthReport struct {
	Status       string                     `json:"status"`
	CheckedAt    time.Time                  `json:"checked_at"`
	TotalRecords int                        `json:"total_records"`
	ErrorCount   int                        `json:"error_count"`
	Connectors   map[string]ConnectorHealth `json:"connectors"`
}

// Health probes every connector, timing each probe. Connectors that
// failed initialization report unhealthy with their construction
// error.
func (m *Manager) Health(ctx context.Context) *HealthReport {
	report := &HealthReport{
		CheckedAt:  time.Now().UTC(),
		Connectors: make(map[string]ConnectorHealth),
	}

	healthy := 0
	for _, name := range m.Connectors() {
		eng := m.engines[name]
		ch := ConnectorHealth{Status: StatusHealthy, LastSync: eng.State().LastSync()}
		start := time.Now()
		err := eng.HealthCheck(ctx)
		ch.LatencyMS = time.Since(start).Milliseconds()
		if err != nil {
			ch.Status = StatusUnhealthy
			ch.Error = err.Error()
		} else {
			healthy++
		}
		report.Connectors[name] = ch
	}

	if cycle := m.LastCycle(); cycle != nil {
		report.TotalRecords = cycle.Total
		report.ErrorCount = len(cycle.Failures)
		for _, session := range cycle.Sessions {
			report.ErrorCount += session.Errors
		}
	}

	for name, err := range m.initFailures {
		report.Connectors[name] = ConnectorHealth{
			Status: StatusUnhealthy,
			Error:  err.Error(),
		}
	}

	total := len(report.Connectors)
	switch {
	case total == 0 || healthy == total:
		report.Status = StatusHealthy
	case healthy == 0:
		report.Status = StatusUnhealthy
	default:
		report.Status = StatusDegraded
	}
	return report
}
