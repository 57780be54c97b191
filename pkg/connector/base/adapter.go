package base

import (
	"context"

	"go.uber.org/zap"

	"github.com/ideagen/harvester/pkg/config"
	"github.com/ideagen/harvester/pkg/logger"
	"github.com/ideagen/harvester/pkg/models"
)

// Adapter carries the state common to every platform adapter and
// supplies default implementations for the optional parts of the
// adapter contract. Platform adapters embed it.
type Adapter struct {
	name   string
	cfg    *config.ConnectorConfig
	logger *zap.Logger
}

// NewAdapter creates the embedded adapter base.
func NewAdapter(name string, cfg *config.ConnectorConfig) Adapter {
	return Adapter{
		name:   name,
		cfg:    cfg,
		logger: logger.With(zap.String("connector", name)),
	}
}

// Name returns the platform name.
func (a *Adapter) Name() string { return a.name }

// Dimensions returns the configured primary query dimensions.
func (a *Adapter) Dimensions() []string { return a.cfg.Dimensions }

// Config returns the connector configuration.
func (a *Adapter) Config() *config.ConnectorConfig { return a.cfg }

// Logger returns the connector-scoped logger.
func (a *Adapter) Logger() *zap.Logger { return a.logger }

// DeriveTertiary returns no derived records by default.
func (a *Adapter) DeriveTertiary(map[models.EntityType][]*models.Record) []*models.Record {
	return nil
}

// Close releases nothing by default.
func (a *Adapter) Close(context.Context) error { return nil }

// GateCap returns the configured capacity for a gate, falling back to
// the adapter default when unset.
func (a *Adapter) GateCap(gate string, def int) int {
	if cap, ok := a.cfg.Caps[gate]; ok && cap > 0 {
		return cap
	}
	return def
}

// GateThreshold returns the configured threshold for a gate, falling
// back to the adapter default when unset.
func (a *Adapter) GateThreshold(gate string, def float64) float64 {
	if th, ok := a.cfg.Thresholds[gate]; ok && th > 0 {
		return th
	}
	return def
}
