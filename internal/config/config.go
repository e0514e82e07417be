// Package config loads the YAML-driven tunables the pre-execution engine
// exposes to an embedding process: the sweeper's cadence and global job
// budget, the worker pool size, and the metrics port (spec.md §6 "the two
// tunables exposed are the sweeper cadence ... and the global job budget";
// SPEC_FULL.md §2 adds the others as ambient-stack config). job.tx_timeout
// is parsed and printed by `status`, but no Job reads it: the orchestrator
// gives every Job a fixed 1s per-transaction timeout.
//
// Grounded on the teacher's internal/cli.Config + loadConfig (nested
// yaml-tagged struct, gopkg.in/yaml.v3, os.ReadFile + yaml.Unmarshal).
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration document.
type Config struct {
	Sweeper struct {
		Cadence      time.Duration `yaml:"cadence"`
		GlobalBudget time.Duration `yaml:"global_budget"`
	} `yaml:"sweeper"`

	Job struct {
		TxTimeout time.Duration `yaml:"tx_timeout"`
	} `yaml:"job"`

	Worker struct {
		PoolSize   int `yaml:"pool_size"`
		TaskBuffer int `yaml:"task_buffer"`
	} `yaml:"worker"`

	Metrics struct {
		Enabled bool `yaml:"enabled"`
		Port    int  `yaml:"port"`
	} `yaml:"metrics"`
}

// Default returns the built-in defaults, matching spec.md §6 (10ms sweeper
// cadence, 5s global budget) and SPEC_FULL.md's OQ-1 resolution (64-worker
// pool).
func Default() Config {
	var cfg Config
	cfg.Sweeper.Cadence = 10 * time.Millisecond
	cfg.Sweeper.GlobalBudget = 5 * time.Second
	cfg.Job.TxTimeout = time.Second
	cfg.Worker.PoolSize = 64
	cfg.Worker.TaskBuffer = 64
	cfg.Metrics.Enabled = true
	cfg.Metrics.Port = 9090
	return cfg
}

// Load reads and parses a YAML config file at path, seeding it with
// Default() first so a partial file only overrides the keys it names.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config yaml: %w", err)
	}
	return cfg, nil
}
