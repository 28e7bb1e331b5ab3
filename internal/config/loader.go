package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and
// [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills in defaults for unset
// fields, and validates the result. Useful in tests where configs are
// constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills zero-valued fields that decoding may have cleared.
// Decoding into a defaulted struct overwrites nested structs that appear in
// the document, so the defaults must be re-applied afterwards.
func applyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = LogInfo
	}
	if cfg.Server.TimeoutMs == 0 {
		cfg.Server.TimeoutMs = 120_000
	}
	if cfg.Session.SampleRate == 0 {
		cfg.Session.SampleRate = 16000
	}
	if cfg.Session.RetranscribeIntervalMs == 0 {
		cfg.Session.RetranscribeIntervalMs = 3000
	}
	if cfg.Session.MinWindowMs == 0 {
		cfg.Session.MinWindowMs = 1000
	}
	if cfg.Responder.HistoryLimit == 0 {
		cfg.Responder.HistoryLimit = 8
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.LogLevel != "" && !cfg.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}

	if cfg.Server.BaseURL == "" {
		errs = append(errs, errors.New("server.base_url is required"))
	}
	if cfg.Server.TimeoutMs < 0 {
		errs = append(errs, fmt.Errorf("server.timeout_ms %d must not be negative", cfg.Server.TimeoutMs))
	}

	if cfg.Session.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("session.sample_rate %d must be positive", cfg.Session.SampleRate))
	}
	if cfg.Session.RetranscribeIntervalMs <= 0 {
		errs = append(errs, fmt.Errorf("session.retranscribe_interval_ms %d must be positive", cfg.Session.RetranscribeIntervalMs))
	}
	if cfg.Session.MinWindowMs <= 0 {
		errs = append(errs, fmt.Errorf("session.min_window_ms %d must be positive", cfg.Session.MinWindowMs))
	}
	if cfg.Session.MinWindowMs > 0 && cfg.Session.RetranscribeIntervalMs > 0 &&
		cfg.Session.MinWindowMs > cfg.Session.RetranscribeIntervalMs {
		errs = append(errs, fmt.Errorf("session.min_window_ms %d must not exceed session.retranscribe_interval_ms %d",
			cfg.Session.MinWindowMs, cfg.Session.RetranscribeIntervalMs))
	}

	if cfg.Responder.Enabled && cfg.Responder.BaseURL == "" {
		errs = append(errs, errors.New("responder.base_url is required when responder.enabled is true"))
	}
	if cfg.Responder.HistoryLimit < 0 {
		errs = append(errs, fmt.Errorf("responder.history_limit %d must not be negative", cfg.Responder.HistoryLimit))
	}

	return errors.Join(errs...)
}
