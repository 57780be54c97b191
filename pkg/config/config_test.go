package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ideagen/harvester/pkg/errors"
)

const sampleYAML = `
logging:
  level: debug
pipeline:
  interval: 30m
sink:
  type: sqlite
  path: /tmp/harvester.db
connectors:
  - platform: reddit
    credentials:
      client_id: ${HARVESTER_TEST_REDDIT_ID}
      client_secret: shh
    dimensions: [startups, SaaS]
    rate_limit_per_minute: 30
  - platform: trends
    enabled: false
    dimensions: [US]
`

func TestParseAppliesDefaults(t *testing.T) {
	t.Setenv("HARVESTER_TEST_REDDIT_ID", "abc123")

	cfg, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Encoding)
	assert.Equal(t, 30*time.Minute, cfg.Pipeline.Interval)
	assert.Equal(t, time.Minute, cfg.Pipeline.ErrorBackoff)
	assert.Equal(t, 24*time.Hour, cfg.Pipeline.Lookback)

	require.Len(t, cfg.Connectors, 2)
	reddit := cfg.Connectors[0]
	assert.Equal(t, "abc123", reddit.Credentials["client_id"])
	assert.Equal(t, 30, reddit.RateLimitPerMinute)
	assert.Equal(t, 100, reddit.PrimaryLimit)
	assert.Equal(t, 3, reddit.Retry.MaxAttempts)
	assert.Equal(t, 100000, reddit.DedupRetention)
	assert.Equal(t, 500, reddit.BatchSize)
	assert.True(t, reddit.IsEnabled())

	assert.False(t, cfg.Connectors[1].IsEnabled())
}

func TestLookbackPropagatesToConnectors(t *testing.T) {
	cfg, err := Parse([]byte(`
pipeline:
  lookback: 72h
connectors:
  - platform: reddit
  - platform: github
    lookback: 168h
`))
	require.NoError(t, err)

	assert.Equal(t, 72*time.Hour, cfg.Connectors[0].Lookback,
		"connectors inherit the pipeline lookback")
	assert.Equal(t, 168*time.Hour, cfg.Connectors[1].Lookback,
		"per-connector lookback wins")
}

func TestParseUnsetEnvVarBecomesEmpty(t *testing.T) {
	cfg, err := Parse([]byte("connectors:\n  - platform: x\n    credentials:\n      token: ${HARVESTER_TEST_UNSET_VAR}\n"))
	require.NoError(t, err)

	_, err = cfg.Connectors[0].Credential("token")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestValidateRejectsUnknownSink(t *testing.T) {
	_, err := Parse([]byte("sink:\n  type: kafka\n"))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestValidateRejectsDuplicateConnector(t *testing.T) {
	_, err := Parse([]byte("connectors:\n  - platform: reddit\n  - platform: reddit\n"))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestCredentialLookup(t *testing.T) {
	cc := ConnectorConfig{
		Platform:    "github",
		Credentials: map[string]string{"token": "t0k"},
	}

	got, err := cc.Credential("token")
	require.NoError(t, err)
	assert.Equal(t, "t0k", got)

	_, err = cc.Credential("missing")
	assert.Error(t, err)
}
