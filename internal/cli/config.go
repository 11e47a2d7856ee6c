package cli

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/bytefold/memdiff/internal/command"
	"github.com/bytefold/memdiff/internal/remote"
)

// RunConfig is the effective configuration of a run: defaults, overlaid by
// an optional YAML config file, overlaid by flags.
type RunConfig struct {
	// Addr is the remote endpoint (host:port).
	Addr string `yaml:"addr"`

	// Seed feeds the command generator. Nil means "derive from the clock";
	// the effective value is always logged so the run can be reproduced.
	Seed *int64 `yaml:"seed"`

	// Policy names the index-generation policy. Default: valid-only.
	// probe-oob deliberately includes the out-of-bounds index 4.
	Policy command.IndexPolicy `yaml:"policy"`

	// MaxCommands bounds the run; 0 runs until halted.
	MaxCommands int `yaml:"max_commands"`

	// Database is an optional SQLite path for trace persistence.
	Database string `yaml:"database"`
}

// DefaultRunConfig returns the documented defaults.
func DefaultRunConfig() RunConfig {
	return RunConfig{
		Addr:   remote.DefaultAddr,
		Policy: command.DefaultIndexPolicy,
	}
}

// LoadRunConfig reads a YAML config file over the defaults.
// Unknown keys are rejected to catch typos.
func LoadRunConfig(path string) (RunConfig, error) {
	cfg := DefaultRunConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return RunConfig{}, fmt.Errorf("load config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return RunConfig{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	if _, err := cfg.Policy.Indices(); err != nil {
		return RunConfig{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}
