// Package config loads engine and model tuning from TOML or YAML.
//
// The core packages take their parameters programmatically; this
// package exists for tooling (the verification CLI, embedding
// applications) that wants the same tuning in a file. Defaults mirror
// the compiled-in constants, so an empty document is a valid
// configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"physjitter/human"
	"physjitter/jitter"
)

// Config validation errors.
var (
	ErrZeroRange    = errors.New("config: engine jitter_range must be positive")
	ErrBadModel     = errors.New("config: model range_high must exceed range_low")
	ErrBadIKI       = errors.New("config: model max_iki_ms must exceed min_iki_ms")
	ErrBadFormat    = errors.New("config: unrecognized file extension")
	ErrEntropyFloor = errors.New("config: min_entropy_bits must not exceed 64")
)

// Config is the full tunable surface.
type Config struct {
	Engine  Engine  `toml:"engine" yaml:"engine"`
	Model   Model   `toml:"model" yaml:"model"`
	Logging Logging `toml:"logging" yaml:"logging"`
}

// Engine tunes the hybrid jitter engine.
type Engine struct {
	// MinEntropyBits is the hardware sample floor before Pure fallback.
	MinEntropyBits uint8 `toml:"min_entropy_bits" yaml:"min_entropy_bits"`

	// JitterMin and JitterRange bound delays: [min, min+range) microseconds.
	JitterMin   uint32 `toml:"jitter_min" yaml:"jitter_min"`
	JitterRange uint32 `toml:"jitter_range" yaml:"jitter_range"`
}

// Model tunes the human-plausibility validator.
type Model struct {
	MeanMicros      float64 `toml:"mean_micros" yaml:"mean_micros"`
	StdDevMicros    float64 `toml:"std_dev_micros" yaml:"std_dev_micros"`
	RangeLowMicros  uint32  `toml:"range_low_micros" yaml:"range_low_micros"`
	RangeHighMicros uint32  `toml:"range_high_micros" yaml:"range_high_micros"`
	MinIKIMillis    int     `toml:"min_iki_ms" yaml:"min_iki_ms"`
	MaxIKIMillis    int     `toml:"max_iki_ms" yaml:"max_iki_ms"`
	MinStdDevMicros float64 `toml:"min_std_dev_micros" yaml:"min_std_dev_micros"`
	VarianceWindow  int     `toml:"variance_window" yaml:"variance_window"`
	PatternWindow   int     `toml:"pattern_window" yaml:"pattern_window"`
	MinSamples      int     `toml:"min_samples" yaml:"min_samples"`
}

// Logging tunes the supporting components' log output.
type Logging struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"`
}

// Default returns a configuration mirroring the compiled-in constants.
func Default() *Config {
	baseline := human.Baseline().Params()
	return &Config{
		Engine: Engine{
			MinEntropyBits: jitter.DefaultMinEntropyBits,
			JitterMin:      jitter.DefaultMinJitter,
			JitterRange:    jitter.DefaultRange,
		},
		Model: Model{
			MeanMicros:      baseline.MeanMicros,
			StdDevMicros:    baseline.StdDevMicros,
			RangeLowMicros:  baseline.RangeLowMicros,
			RangeHighMicros: baseline.RangeHighMicros,
			MinIKIMillis:    int(baseline.MinIKI.Milliseconds()),
			MaxIKIMillis:    int(baseline.MaxIKI.Milliseconds()),
			MinStdDevMicros: baseline.MinStdDevMicros,
			VarianceWindow:  baseline.VarianceWindow,
			PatternWindow:   baseline.PatternWindow,
			MinSamples:      baseline.MinSamples,
		},
		Logging: Logging{Level: "info", Format: "text"},
	}
}

// LoadTOML decodes a TOML document over the defaults.
func LoadTOML(data []byte) (*Config, error) {
	cfg := Default()
	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, fmt.Errorf("config: decode toml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadYAML decodes a YAML document over the defaults.
func LoadYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads a configuration file, selecting the decoder by extension.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return LoadTOML(data)
	case ".yaml", ".yml":
		return LoadYAML(data)
	default:
		return nil, fmt.Errorf("%w: %s", ErrBadFormat, path)
	}
}

// Validate checks cross-field invariants.
func (c *Config) Validate() error {
	if c.Engine.JitterRange == 0 {
		return ErrZeroRange
	}
	if c.Engine.MinEntropyBits > 64 {
		return ErrEntropyFloor
	}
	if c.Model.RangeHighMicros <= c.Model.RangeLowMicros {
		return ErrBadModel
	}
	if c.Model.MaxIKIMillis <= c.Model.MinIKIMillis {
		return ErrBadIKI
	}
	return nil
}

// ToEngine converts the engine section to a jitter engine configuration.
// The entropy source is left nil (platform default); callers inject
// their own for tests.
func (c *Config) ToEngine() jitter.Config {
	return jitter.Config{
		MinEntropyBits: c.Engine.MinEntropyBits,
		MinJitter:      c.Engine.JitterMin,
		Range:          c.Engine.JitterRange,
	}
}

// ToModelParams converts the model section to validator parameters.
func (c *Config) ToModelParams() human.Params {
	return human.Params{
		MeanMicros:      c.Model.MeanMicros,
		StdDevMicros:    c.Model.StdDevMicros,
		RangeLowMicros:  c.Model.RangeLowMicros,
		RangeHighMicros: c.Model.RangeHighMicros,
		MinIKI:          time.Duration(c.Model.MinIKIMillis) * time.Millisecond,
		MaxIKI:          time.Duration(c.Model.MaxIKIMillis) * time.Millisecond,
		MinStdDevMicros: c.Model.MinStdDevMicros,
		VarianceWindow:  c.Model.VarianceWindow,
		PatternWindow:   c.Model.PatternWindow,
		MinSamples:      c.Model.MinSamples,
	}
}
