package trends

import (
	"github.com/ideagen/harvester/pkg/config"
	"github.com/ideagen/harvester/pkg/connector/core"
	"github.com/ideagen/harvester/pkg/connector/registry"
)

func init() {
	registry.RegisterAdapter("trends", "daily trending searches per region with related queries", func(cfg *config.ConnectorConfig) (core.SourceAdapter, error) {
		return New(cfg)
	})
}
