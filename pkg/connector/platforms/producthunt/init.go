package producthunt

import (
	"github.com/ideagen/harvester/pkg/config"
	"github.com/ideagen/harvester/pkg/connector/core"
	"github.com/ideagen/harvester/pkg/connector/registry"
)

func init() {
	registry.RegisterAdapter("producthunt", "product launches per topic with derived topic and maker rollups", func(cfg *config.ConnectorConfig) (core.SourceAdapter, error) {
		return New(cfg)
	})
}
