package twitter

import (
	"github.com/ideagen/harvester/pkg/config"
	"github.com/ideagen/harvester/pkg/connector/core"
	"github.com/ideagen/harvester/pkg/connector/registry"
)

func init() {
	registry.RegisterAdapter("twitter", "recent tweet search with gated author profiles", func(cfg *config.ConnectorConfig) (core.SourceAdapter, error) {
		return New(cfg)
	})
}
