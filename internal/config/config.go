// Package config provides the configuration schema and loader for the
// dictate client.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// SlogLevel maps l onto the corresponding slog level. Unset or unknown
// values map to Info.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config is the root configuration structure for the dictate client.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	// LogLevel controls verbosity. Defaults to "info".
	LogLevel LogLevel `yaml:"log_level"`

	Server    ServerConfig    `yaml:"server"`
	Session   SessionConfig   `yaml:"session"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Responder ResponderConfig `yaml:"responder"`
}

// ServerConfig identifies the ASR server.
type ServerConfig struct {
	// BaseURL is the root of the OpenAI-compatible speech endpoint
	// (e.g. "http://localhost:8090").
	BaseURL string `yaml:"base_url"`

	// Language is an optional language hint (e.g. "en", "zh"). Empty means
	// server-side auto-detection.
	Language string `yaml:"language"`

	// Model is an optional model identifier forwarded to the server. Empty
	// uses whichever model the server was started with.
	Model string `yaml:"model"`

	// TimeoutMs is the per-request HTTP timeout in milliseconds.
	// Defaults to 120 000.
	TimeoutMs int `yaml:"timeout_ms"`
}

// Timeout returns the per-request timeout as a duration, zero when unset.
func (s ServerConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutMs) * time.Millisecond
}

// SessionConfig tunes the scheduler and audio handling.
type SessionConfig struct {
	// SampleRate of captured audio in Hz. Defaults to 16000.
	SampleRate int `yaml:"sample_rate"`

	// RetranscribeIntervalMs is how much new audio (in milliseconds) must
	// accumulate before the next periodic transcription pass. Defaults to
	// 3000.
	RetranscribeIntervalMs int `yaml:"retranscribe_interval_ms"`

	// MinWindowMs is the least uncommitted audio (in milliseconds) worth a
	// transcription round trip. Defaults to 1000.
	MinWindowMs int `yaml:"min_window_ms"`

	// SaveRecordingPath, when non-empty, is where the full session audio is
	// written as a WAV file after each stop.
	SaveRecordingPath string `yaml:"save_recording_path"`
}

// RetranscribeInterval returns the re-transcribe interval as a duration.
func (s SessionConfig) RetranscribeInterval() time.Duration {
	return time.Duration(s.RetranscribeIntervalMs) * time.Millisecond
}

// MinWindow returns the minimum window as a duration.
func (s SessionConfig) MinWindow() time.Duration {
	return time.Duration(s.MinWindowMs) * time.Millisecond
}

// TelemetryConfig controls the metrics endpoint.
type TelemetryConfig struct {
	// MetricsAddr is the TCP address serving Prometheus /metrics
	// (e.g. ":9091"). Empty disables the endpoint.
	MetricsAddr string `yaml:"metrics_addr"`
}

// ResponderConfig configures the optional LLM follow-up on committed lines.
type ResponderConfig struct {
	// Enabled turns the responder on. Off by default.
	Enabled bool `yaml:"enabled"`

	// BaseURL is the OpenAI-compatible chat endpoint root
	// (e.g. "http://localhost:8080/v1"). Required when enabled.
	BaseURL string `yaml:"base_url"`

	// APIKey is sent as the bearer token. Local servers usually ignore it.
	APIKey string `yaml:"api_key"`

	// Model is the chat model identifier.
	Model string `yaml:"model"`

	// SystemPrompt replaces the built-in system prompt when non-empty.
	SystemPrompt string `yaml:"system_prompt"`

	// HistoryLimit caps how many prior exchanges are kept as chat context.
	// Defaults to 8.
	HistoryLimit int `yaml:"history_limit"`
}

// Default returns a Config with all defaults applied and no server
// configured.
func Default() *Config {
	return &Config{
		LogLevel: LogInfo,
		Server: ServerConfig{
			TimeoutMs: 120_000,
		},
		Session: SessionConfig{
			SampleRate:             16000,
			RetranscribeIntervalMs: 3000,
			MinWindowMs:            1000,
		},
		Responder: ResponderConfig{
			HistoryLimit: 8,
		},
	}
}
