// Package config loads engine configuration the way the teacher resolves
// its own runtime settings (an environment variable per knob, e.g.
// GOMIND_ORCHESTRATION_TIMEOUT), generalized to also accept a YAML file
// for the engine's larger configuration surface (three interpreter paths,
// granted capabilities, default parallelism, retry seed).
package config

import (
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/condukt-run/missionengine/dispatch"
)

const (
	envPython      = "MISSIONENGINE_PYTHON"
	envNode        = "MISSIONENGINE_NODE"
	envTsx         = "MISSIONENGINE_TSX"
	envMaxParallel = "MISSIONENGINE_MAX_PARALLEL"
	envRetrySeed   = "MISSIONENGINE_RETRY_SEED"
)

// EngineConfig is the resolved configuration for one engine instance.
type EngineConfig struct {
	Interpreters dispatch.Interpreters
	MaxParallel  int
	Capabilities []string
	RetrySeed    *int64
}

// fileShape mirrors the YAML document of spec.md SPEC_FULL §6.6.
type fileShape struct {
	Interpreters struct {
		Python string `yaml:"python"`
		Node   string `yaml:"node"`
		Tsx    string `yaml:"tsx"`
	} `yaml:"interpreters"`
	MaxParallel  int      `yaml:"max_parallel"`
	RetrySeed    *int64   `yaml:"retry_seed"`
	Capabilities []string `yaml:"capabilities"`
}

// Default returns the built-in defaults, the lowest-priority layer.
func Default() EngineConfig {
	return EngineConfig{
		Interpreters: dispatch.DefaultInterpreters(),
		MaxParallel:  4,
	}
}

// LoadFile reads a YAML config file and layers it over Default(), then
// layers environment variables over that, matching the priority order
// documented in SPEC_FULL.md §4.10 (explicit struct fields set by the
// caller afterwards take final precedence, since callers may mutate the
// returned EngineConfig directly).
func LoadFile(path string) (EngineConfig, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		var fs fileShape
		if err := yaml.Unmarshal(data, &fs); err != nil {
			return cfg, err
		}
		if fs.Interpreters.Python != "" {
			cfg.Interpreters.Python = fs.Interpreters.Python
		}
		if fs.Interpreters.Node != "" {
			cfg.Interpreters.Node = fs.Interpreters.Node
		}
		if fs.Interpreters.Tsx != "" {
			cfg.Interpreters.Tsx = fs.Interpreters.Tsx
		}
		if fs.MaxParallel > 0 {
			cfg.MaxParallel = fs.MaxParallel
		}
		if fs.RetrySeed != nil {
			cfg.RetrySeed = fs.RetrySeed
		}
		if len(fs.Capabilities) > 0 {
			cfg.Capabilities = fs.Capabilities
		}
	}
	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *EngineConfig) {
	if v := os.Getenv(envPython); v != "" {
		cfg.Interpreters.Python = v
	}
	if v := os.Getenv(envNode); v != "" {
		cfg.Interpreters.Node = v
	}
	if v := os.Getenv(envTsx); v != "" {
		cfg.Interpreters.Tsx = v
	}
	if v := os.Getenv(envMaxParallel); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxParallel = n
		}
	}
	if v := os.Getenv(envRetrySeed); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.RetrySeed = &n
		}
	}
}
