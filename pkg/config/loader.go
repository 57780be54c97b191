package config

import (
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/ideagen/harvester/pkg/errors"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads a YAML configuration file, substitutes ${VAR} references
// from the environment, applies defaults, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "read config file").
			WithDetail("path", path)
	}
	return Parse(data)
}

// Parse decodes YAML configuration bytes, with the same substitution
// and validation as Load.
func Parse(data []byte) (*Config, error) {
	substituted := substituteEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(substituted), &cfg); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "parse config")
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// substituteEnvVars replaces ${VAR} references with environment values.
// Unset variables substitute to the empty string.
func substituteEnvVars(content string) string {
	return envVarPattern.ReplaceAllStringFunc(content, func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(name)
	})
}
