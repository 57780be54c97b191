package reddit

import (
	"github.com/ideagen/harvester/pkg/config"
	"github.com/ideagen/harvester/pkg/connector/core"
	"github.com/ideagen/harvester/pkg/connector/registry"
)

func init() {
	registry.RegisterAdapter("reddit", "subreddit posts and gated comment threads", func(cfg *config.ConnectorConfig) (core.SourceAdapter, error) {
		return New(cfg)
	})
}
