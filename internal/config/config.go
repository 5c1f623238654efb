// Package config provides configuration types and defaults for sortpool.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/spf13/viper"

	"github.com/zjrosen/sortpool/internal/algorithm"
	"github.com/zjrosen/sortpool/internal/history"
	"github.com/zjrosen/sortpool/internal/log"
	"github.com/zjrosen/sortpool/internal/pool"
	"github.com/zjrosen/sortpool/internal/tracing"
)

// Config holds all configuration options for sortpool.
type Config struct {
	Pool    PoolConfig     `mapstructure:"pool"`
	Server  ServerConfig   `mapstructure:"server"`
	History HistoryConfig  `mapstructure:"history"`
	Run     RunConfig      `mapstructure:"run"`
	UI      UIConfig       `mapstructure:"ui"`
	Tracing tracing.Config `mapstructure:"tracing"`
}

// PoolConfig sizes the worker pool.
type PoolConfig struct {
	Size            int `mapstructure:"size"`             // 0 = one worker per CPU
	ProgressDivisor int `mapstructure:"progress_divisor"` // report every ⌈n/divisor⌉ units
}

// EffectiveSize resolves Size, mapping 0 to the CPU count clamped to the pool bounds.
func (p PoolConfig) EffectiveSize() int {
	if p.Size > 0 {
		return min(p.Size, pool.MaxSize)
	}
	return max(1, min(runtime.NumCPU(), pool.MaxSize))
}

// ServerConfig configures `sortpool serve`.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// HistoryConfig controls how long finished runs stay queryable.
type HistoryConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

// RunConfig holds defaults for `sortpool run`.
type RunConfig struct {
	Timeout time.Duration `mapstructure:"timeout"` // per task, 0 = none
}

// UIConfig holds terminal rendering options.
type UIConfig struct {
	MarkdownStyle string `mapstructure:"markdown_style"` // "dark" (default), "light" or "notty"
}

// DefaultTracesFilePath returns ~/.config/sortpool/traces/traces.jsonl, or
// an empty string if the home directory is unavailable.
func DefaultTracesFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "sortpool", "traces", "traces.jsonl")
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	tr := tracing.DefaultConfig()
	tr.FilePath = DefaultTracesFilePath()

	return Config{
		Pool: PoolConfig{
			Size:            0,
			ProgressDivisor: algorithm.DefaultProgressDivisor,
		},
		Server:  ServerConfig{Addr: "localhost:18080"},
		History: HistoryConfig{TTL: history.DefaultTTL},
		Run:     RunConfig{Timeout: 0},
		UI:      UIConfig{MarkdownStyle: "dark"},
		Tracing: tr,
	}
}

// SetDefaults registers every default with v so partial config files work.
func SetDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("pool.size", d.Pool.Size)
	v.SetDefault("pool.progress_divisor", d.Pool.ProgressDivisor)
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("history.ttl", d.History.TTL)
	v.SetDefault("run.timeout", d.Run.Timeout)
	v.SetDefault("ui.markdown_style", d.UI.MarkdownStyle)
	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.file_path", d.Tracing.FilePath)
	v.SetDefault("tracing.otlp_endpoint", d.Tracing.OTLPEndpoint)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
}

// Load decodes v into a Config and validates it.
func Load(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every section. Empty values that have defaults are accepted.
func Validate(cfg Config) error {
	if err := ValidatePool(cfg.Pool); err != nil {
		return err
	}
	if err := ValidateServer(cfg.Server); err != nil {
		return err
	}
	if cfg.History.TTL < 0 {
		return fmt.Errorf("history.ttl must not be negative, got %s", cfg.History.TTL)
	}
	if cfg.Run.Timeout < 0 {
		return fmt.Errorf("run.timeout must not be negative, got %s", cfg.Run.Timeout)
	}
	switch cfg.UI.MarkdownStyle {
	case "", "dark", "light", "notty":
	default:
		return fmt.Errorf("ui.markdown_style must be \"dark\", \"light\" or \"notty\", got %q", cfg.UI.MarkdownStyle)
	}
	return cfg.Tracing.Validate()
}

// ValidatePool checks pool sizing.
func ValidatePool(p PoolConfig) error {
	if p.Size < 0 || p.Size > pool.MaxSize {
		return fmt.Errorf("pool.size must be between 0 and %d, got %d", pool.MaxSize, p.Size)
	}
	if p.ProgressDivisor < 0 || p.ProgressDivisor > 100 {
		return fmt.Errorf("pool.progress_divisor must be between 1 and 100, got %d", p.ProgressDivisor)
	}
	return nil
}

// ValidateServer checks the listen address.
func ValidateServer(s ServerConfig) error {
	if s.Addr == "" {
		return nil
	}
	if _, _, err := net.SplitHostPort(s.Addr); err != nil {
		return fmt.Errorf("server.addr %q: %w", s.Addr, err)
	}
	return nil
}

// DefaultConfigTemplate returns the commented config written by `sortpool init`.
func DefaultConfigTemplate() string {
	return `# sortpool configuration

pool:
  # Number of workers. 0 starts one worker per CPU (at most 64).
  size: 0
  # Progress is reported at most once per ceil(n / progress_divisor) units of work.
  progress_divisor: 10

server:
  # Listen address for 'sortpool serve'.
  addr: localhost:18080

history:
  # How long finished runs stay available at /api/runs/{id}.
  ttl: 10m

run:
  # Per-task timeout for 'sortpool run'. 0 disables the watchdog.
  timeout: 0s

ui:
  markdown_style: dark   # "dark", "light" or "notty"

# OpenTelemetry tracing, one span per sort task.
tracing:
  enabled: false
  exporter: file         # "none", "file", "stdout" or "otlp"
  # file_path: ~/.config/sortpool/traces/traces.jsonl
  otlp_endpoint: localhost:4317
  sample_rate: 1.0
  service_name: sortpool
`
}

// WriteDefaultConfig writes the template to configPath, creating parent directories.
func WriteDefaultConfig(configPath string) error {
	log.Debug(log.CatConfig, "Writing default config", "path", configPath)

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to create config directory", err, "dir", dir)
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(configPath, []byte(DefaultConfigTemplate()), 0o600); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to write config file", err, "path", configPath)
		return fmt.Errorf("writing config file: %w", err)
	}

	log.Info(log.CatConfig, "Created default config", "path", configPath)
	return nil
}
