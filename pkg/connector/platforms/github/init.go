package github

import (
	"github.com/ideagen/harvester/pkg/config"
	"github.com/ideagen/harvester/pkg/connector/core"
	"github.com/ideagen/harvester/pkg/connector/registry"
)

func init() {
	registry.RegisterAdapter("github", "repository search with gated issue, commit, and contributor fan-out", func(cfg *config.ConnectorConfig) (core.SourceAdapter, error) {
		return New(cfg)
	})
}
