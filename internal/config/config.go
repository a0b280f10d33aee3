// Package config provides configuration management for soundcheck
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/teslashibe/go-soundcheck/internal/resample"
	"github.com/teslashibe/go-soundcheck/internal/score"
)

// EnvPrefix prefixes environment overrides, e.g. SOUNDCHECK_SERVER_PORT
const EnvPrefix = "SOUNDCHECK"

// Config is the root configuration structure
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Alignment AlignmentConfig `mapstructure:"alignment"`
	Scoring   ScoringConfig   `mapstructure:"scoring"`
	DOA       DOAConfig       `mapstructure:"doa"`
	Capture   CaptureConfig   `mapstructure:"capture"`
	Batch     BatchConfig     `mapstructure:"batch"`
	Store     StoreConfig     `mapstructure:"store"`
	Uplink    UplinkConfig    `mapstructure:"uplink"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig configures the HTTP server
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	GracefulTimeout time.Duration `mapstructure:"graceful_timeout"`
	BodyLimitMB     int           `mapstructure:"body_limit_mb"`
}

// AlignmentConfig configures resampling and offset trimming
type AlignmentConfig struct {
	ToleranceSeconds float64 `mapstructure:"tolerance_seconds"`
	// ScoringRate resamples both signals before alignment when positive
	ScoringRate    int    `mapstructure:"scoring_rate"`
	ResampleEngine string `mapstructure:"resample_engine"` // polyphase, soxr
}

// Tolerance returns the offset tolerance as a duration
func (a AlignmentConfig) Tolerance() time.Duration {
	return time.Duration(a.ToleranceSeconds * float64(time.Second))
}

// ScoringConfig selects the quality metrics
type ScoringConfig struct {
	Metrics []string `mapstructure:"metrics"`
}

// DOAConfig configures SSL decoding, segmentation and evaluation
type DOAConfig struct {
	DivideSeconds    float64 `mapstructure:"divide_seconds"`
	MinBlockSeconds  float64 `mapstructure:"min_block_seconds"`
	MinStreamSeconds float64 `mapstructure:"min_stream_seconds"`
	AngleErrorDeg    float64 `mapstructure:"angle_error_deg"`
	InvalidAllowance int     `mapstructure:"invalid_allowance"`
}

// CaptureConfig configures live DOA capture
type CaptureConfig struct {
	Source   string        `mapstructure:"source"` // usb, mock, auto
	PollHz   int           `mapstructure:"poll_hz"`
	Duration time.Duration `mapstructure:"duration"`
	USB      USBConfig     `mapstructure:"usb"`
}

// PollInterval converts PollHz to the recorder's tick
func (c CaptureConfig) PollInterval() time.Duration {
	return time.Second / time.Duration(c.PollHz)
}

// USBConfig configures the XVF3800 connection
type USBConfig struct {
	MaxConsecutiveErrors int           `mapstructure:"max_consecutive_errors"`
	InitialBackoff       time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff           time.Duration `mapstructure:"max_backoff"`
}

// BatchConfig configures the worker pool
type BatchConfig struct {
	Workers int `mapstructure:"workers"`
}

// StoreConfig configures the report archive
type StoreConfig struct {
	Dir      string `mapstructure:"dir"`
	InMemory bool   `mapstructure:"in_memory"`
}

// UplinkConfig configures the optional report publisher. An empty URL
// disables it.
type UplinkConfig struct {
	URL              string        `mapstructure:"url"`
	ReconnectBackoff time.Duration `mapstructure:"reconnect_backoff"`
	MaxBackoff       time.Duration `mapstructure:"max_backoff"`
	PingInterval     time.Duration `mapstructure:"ping_interval"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
}

// LoggingConfig configures logging
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            9010,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			GracefulTimeout: 5 * time.Second,
			BodyLimitMB:     256,
		},
		Alignment: AlignmentConfig{
			ToleranceSeconds: 1.0,
			ScoringRate:      0,
			ResampleEngine:   string(resample.EnginePolyphase),
		},
		Scoring: ScoringConfig{
			Metrics: score.Names(),
		},
		DOA: DOAConfig{
			DivideSeconds:    0.5,
			MinBlockSeconds:  0.1,
			MinStreamSeconds: 1.0,
			AngleErrorDeg:    5,
			InvalidAllowance: 500,
		},
		Capture: CaptureConfig{
			Source:   "usb",
			PollHz:   20,
			Duration: 10 * time.Second,
			USB: USBConfig{
				MaxConsecutiveErrors: 5,
				InitialBackoff:       100 * time.Millisecond,
				MaxBackoff:           5 * time.Second,
			},
		},
		Batch: BatchConfig{
			Workers: 4,
		},
		Store: StoreConfig{
			Dir: "/var/lib/soundcheck",
		},
		Uplink: UplinkConfig{
			ReconnectBackoff: time.Second,
			MaxBackoff:       30 * time.Second,
			PingInterval:     10 * time.Second,
			WriteTimeout:     5 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load loads configuration from file and environment. A missing file falls
// back to the defaults; an unreadable one is an error.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Config file
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")

		if err := v.ReadInConfig(); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
			fmt.Fprintf(os.Stderr, "Warning: config file not found at %s, using defaults\n", path)
		}
	}

	// Environment variable overrides
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := Default()

	// Server defaults
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.graceful_timeout", d.Server.GracefulTimeout)
	v.SetDefault("server.body_limit_mb", d.Server.BodyLimitMB)

	// Alignment and scoring
	v.SetDefault("alignment.tolerance_seconds", d.Alignment.ToleranceSeconds)
	v.SetDefault("alignment.scoring_rate", d.Alignment.ScoringRate)
	v.SetDefault("alignment.resample_engine", d.Alignment.ResampleEngine)
	v.SetDefault("scoring.metrics", d.Scoring.Metrics)

	// DOA analysis
	v.SetDefault("doa.divide_seconds", d.DOA.DivideSeconds)
	v.SetDefault("doa.min_block_seconds", d.DOA.MinBlockSeconds)
	v.SetDefault("doa.min_stream_seconds", d.DOA.MinStreamSeconds)
	v.SetDefault("doa.angle_error_deg", d.DOA.AngleErrorDeg)
	v.SetDefault("doa.invalid_allowance", d.DOA.InvalidAllowance)

	// Live capture
	v.SetDefault("capture.source", d.Capture.Source)
	v.SetDefault("capture.poll_hz", d.Capture.PollHz)
	v.SetDefault("capture.duration", d.Capture.Duration)
	v.SetDefault("capture.usb.max_consecutive_errors", d.Capture.USB.MaxConsecutiveErrors)
	v.SetDefault("capture.usb.initial_backoff", d.Capture.USB.InitialBackoff)
	v.SetDefault("capture.usb.max_backoff", d.Capture.USB.MaxBackoff)

	v.SetDefault("batch.workers", d.Batch.Workers)

	v.SetDefault("store.dir", d.Store.Dir)
	v.SetDefault("store.in_memory", d.Store.InMemory)

	// Uplink
	v.SetDefault("uplink.url", d.Uplink.URL)
	v.SetDefault("uplink.reconnect_backoff", d.Uplink.ReconnectBackoff)
	v.SetDefault("uplink.max_backoff", d.Uplink.MaxBackoff)
	v.SetDefault("uplink.ping_interval", d.Uplink.PingInterval)
	v.SetDefault("uplink.write_timeout", d.Uplink.WriteTimeout)

	// Logging defaults
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Alignment.ToleranceSeconds <= 0 {
		return fmt.Errorf("tolerance_seconds must be positive, got %f", c.Alignment.ToleranceSeconds)
	}
	if c.Alignment.ScoringRate < 0 {
		return fmt.Errorf("scoring_rate must be 0 or positive, got %d", c.Alignment.ScoringRate)
	}
	if _, err := resample.ParseEngine(c.Alignment.ResampleEngine); err != nil {
		return err
	}

	for _, name := range c.Scoring.Metrics {
		if _, err := score.Lookup(name); err != nil {
			return err
		}
	}

	if c.DOA.DivideSeconds <= 0 || c.DOA.MinBlockSeconds <= 0 || c.DOA.MinStreamSeconds <= 0 {
		return fmt.Errorf("doa thresholds must be positive")
	}
	if c.DOA.AngleErrorDeg <= 0 {
		return fmt.Errorf("angle_error_deg must be positive, got %f", c.DOA.AngleErrorDeg)
	}
	if c.DOA.InvalidAllowance < 0 {
		return fmt.Errorf("invalid_allowance must not be negative, got %d", c.DOA.InvalidAllowance)
	}

	switch c.Capture.Source {
	case "usb", "mock", "auto":
	default:
		return fmt.Errorf("capture source must be usb, mock or auto, got %q", c.Capture.Source)
	}
	if c.Capture.PollHz < 1 || c.Capture.PollHz > 100 {
		return fmt.Errorf("poll_hz must be between 1 and 100, got %d", c.Capture.PollHz)
	}

	if c.Batch.Workers < 1 {
		return fmt.Errorf("batch workers must be at least 1, got %d", c.Batch.Workers)
	}

	if !c.Store.InMemory && c.Store.Dir == "" {
		return fmt.Errorf("store dir is required unless in_memory is set")
	}

	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("logging format must be json or text, got %q", c.Logging.Format)
	}

	return nil
}
