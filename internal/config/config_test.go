package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Server.Port != 9010 {
		t.Errorf("expected port 9010, got %d", cfg.Server.Port)
	}

	if cfg.Alignment.Tolerance() != time.Second {
		t.Errorf("expected tolerance 1s, got %v", cfg.Alignment.Tolerance())
	}

	if cfg.Capture.PollHz != 20 {
		t.Errorf("expected poll_hz 20, got %d", cfg.Capture.PollHz)
	}

	if cfg.Capture.PollInterval() != 50*time.Millisecond {
		t.Errorf("expected poll interval 50ms, got %v", cfg.Capture.PollInterval())
	}

	if !reflect.DeepEqual(cfg.Scoring.Metrics, []string{"dynamic_range", "ncc", "rmse", "snr", "zcr"}) {
		t.Errorf("expected every metric, got %v", cfg.Scoring.Metrics)
	}

	if cfg.Logging.Level != "info" {
		t.Errorf("expected level info, got %s", cfg.Logging.Level)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestLoad_NoFile(t *testing.T) {
	// Load with non-existent file should use defaults
	cfg, err := Load("/nonexistent/path.yaml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 9010 {
		t.Errorf("expected default port 9010, got %d", cfg.Server.Port)
	}

	if cfg.DOA.DivideSeconds != 0.5 {
		t.Errorf("expected divide_seconds 0.5, got %f", cfg.DOA.DivideSeconds)
	}
}

func TestLoad_WithFile(t *testing.T) {
	// Create temp config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  port: 8080
alignment:
  tolerance_seconds: 0.5
  scoring_rate: 16000
  resample_engine: soxr
scoring:
  metrics: [snr]
doa:
  divide_seconds: 0.25
capture:
  source: mock
  poll_hz: 50
  usb:
    max_backoff: 2s
store:
  in_memory: true
logging:
  level: debug
  format: text
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("expected port 8080, got %d", cfg.Server.Port)
	}

	if cfg.Alignment.Tolerance() != 500*time.Millisecond {
		t.Errorf("expected tolerance 500ms, got %v", cfg.Alignment.Tolerance())
	}

	if cfg.Alignment.ScoringRate != 16000 || cfg.Alignment.ResampleEngine != "soxr" {
		t.Errorf("unexpected alignment config %+v", cfg.Alignment)
	}

	if !reflect.DeepEqual(cfg.Scoring.Metrics, []string{"snr"}) {
		t.Errorf("expected metrics [snr], got %v", cfg.Scoring.Metrics)
	}

	if cfg.DOA.DivideSeconds != 0.25 || cfg.DOA.MinBlockSeconds != 0.1 {
		t.Errorf("unexpected doa config %+v", cfg.DOA)
	}

	if cfg.Capture.Source != "mock" || cfg.Capture.PollHz != 50 {
		t.Errorf("unexpected capture config %+v", cfg.Capture)
	}

	if cfg.Capture.USB.MaxBackoff != 2*time.Second || cfg.Capture.USB.InitialBackoff != 100*time.Millisecond {
		t.Errorf("unexpected usb config %+v", cfg.Capture.USB)
	}

	if !cfg.Store.InMemory {
		t.Error("expected in-memory store")
	}

	if cfg.Logging.Level != "debug" {
		t.Errorf("expected level debug, got %s", cfg.Logging.Level)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("loaded config invalid: %v", err)
	}
}

func TestLoad_BadFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte("server: [port"), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	if _, err := Load(configPath); err == nil {
		t.Error("expected error for malformed config")
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("SOUNDCHECK_SERVER_PORT", "7777")
	t.Setenv("SOUNDCHECK_BATCH_WORKERS", "9")
	t.Setenv("SOUNDCHECK_CAPTURE_DURATION", "3s")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 7777 {
		t.Errorf("expected port 7777 from env, got %d", cfg.Server.Port)
	}

	if cfg.Batch.Workers != 9 {
		t.Errorf("expected 9 workers from env, got %d", cfg.Batch.Workers)
	}

	if cfg.Capture.Duration != 3*time.Second {
		t.Errorf("expected duration 3s from env, got %v", cfg.Capture.Duration)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "invalid port too low",
			modify:  func(c *Config) { c.Server.Port = 0 },
			wantErr: true,
		},
		{
			name:    "invalid port too high",
			modify:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: true,
		},
		{
			name:    "zero tolerance",
			modify:  func(c *Config) { c.Alignment.ToleranceSeconds = 0 },
			wantErr: true,
		},
		{
			name:    "negative scoring rate",
			modify:  func(c *Config) { c.Alignment.ScoringRate = -1 },
			wantErr: true,
		},
		{
			name:    "unknown engine",
			modify:  func(c *Config) { c.Alignment.ResampleEngine = "sinc" },
			wantErr: true,
		},
		{
			name:    "unknown metric",
			modify:  func(c *Config) { c.Scoring.Metrics = []string{"snr", "pesq"} },
			wantErr: true,
		},
		{
			name:    "zero divide threshold",
			modify:  func(c *Config) { c.DOA.DivideSeconds = 0 },
			wantErr: true,
		},
		{
			name:    "unknown capture source",
			modify:  func(c *Config) { c.Capture.Source = "serial" },
			wantErr: true,
		},
		{
			name:    "invalid poll_hz too low",
			modify:  func(c *Config) { c.Capture.PollHz = 0 },
			wantErr: true,
		},
		{
			name:    "no workers",
			modify:  func(c *Config) { c.Batch.Workers = 0 },
			wantErr: true,
		},
		{
			name:    "store without dir",
			modify:  func(c *Config) { c.Store.Dir = "" },
			wantErr: true,
		},
		{
			name: "in-memory store without dir",
			modify: func(c *Config) {
				c.Store.Dir = ""
				c.Store.InMemory = true
			},
			wantErr: false,
		},
		{
			name:    "unknown log format",
			modify:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)

			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestServerConfig_Timeouts(t *testing.T) {
	cfg := Default()

	if cfg.Server.ReadTimeout != 30*time.Second {
		t.Errorf("expected read_timeout 30s, got %v", cfg.Server.ReadTimeout)
	}

	if cfg.Server.WriteTimeout != 30*time.Second {
		t.Errorf("expected write_timeout 30s, got %v", cfg.Server.WriteTimeout)
	}

	if cfg.Server.GracefulTimeout != 5*time.Second {
		t.Errorf("expected graceful_timeout 5s, got %v", cfg.Server.GracefulTimeout)
	}
}
