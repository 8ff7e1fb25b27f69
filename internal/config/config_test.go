package config_test

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tipcsim/core/internal/config"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()

	if cfg.Metrics.Addr != ":9100" {
		t.Errorf("Metrics.Addr = %q, want %q", cfg.Metrics.Addr, ":9100")
	}

	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, "/metrics")
	}

	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "info")
	}

	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "json")
	}

	if cfg.Scenario.Duration != 60*time.Second {
		t.Errorf("Scenario.Duration = %v, want %v", cfg.Scenario.Duration, 60*time.Second)
	}

	if err := config.Validate(cfg); err != nil {
		t.Errorf("DefaultConfig() failed validation: %v", err)
	}
}

func TestLoadFromYAML(t *testing.T) {
	t.Parallel()

	yamlContent := `
metrics:
  addr: ":9200"
  path: "/custom-metrics"
log:
  level: "debug"
  format: "text"
scenario:
  duration: "30s"
  monitor_threshold: 16
`

	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Metrics.Addr != ":9200" {
		t.Errorf("Metrics.Addr = %q, want %q", cfg.Metrics.Addr, ":9200")
	}

	if cfg.Metrics.Path != "/custom-metrics" {
		t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, "/custom-metrics")
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}

	if cfg.Log.Format != "text" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "text")
	}

	if cfg.Scenario.Duration != 30*time.Second {
		t.Errorf("Scenario.Duration = %v, want %v", cfg.Scenario.Duration, 30*time.Second)
	}

	if cfg.Scenario.MonitorThreshold != 16 {
		t.Errorf("Scenario.MonitorThreshold = %d, want %d", cfg.Scenario.MonitorThreshold, 16)
	}
}

func TestLoadMergesDefaults(t *testing.T) {
	t.Parallel()

	// Partial YAML: only override log.level. Everything else should
	// inherit from defaults.
	yamlContent := `
log:
  level: "warn"
`

	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "warn")
	}

	if cfg.Metrics.Addr != ":9100" {
		t.Errorf("Metrics.Addr = %q, want default %q", cfg.Metrics.Addr, ":9100")
	}

	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want default %q", cfg.Metrics.Path, "/metrics")
	}

	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want default %q", cfg.Log.Format, "json")
	}

	if cfg.Scenario.Duration != 60*time.Second {
		t.Errorf("Scenario.Duration = %v, want default %v", cfg.Scenario.Duration, 60*time.Second)
	}
}

func TestValidateErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		modify  func(*config.Config)
		wantErr error
	}{
		{
			name: "empty metrics addr",
			modify: func(cfg *config.Config) {
				cfg.Metrics.Addr = ""
			},
			wantErr: config.ErrEmptyMetricsAddr,
		},
		{
			name: "zero duration",
			modify: func(cfg *config.Config) {
				cfg.Scenario.Duration = 0
			},
			wantErr: config.ErrInvalidDuration,
		},
		{
			name: "negative duration",
			modify: func(cfg *config.Config) {
				cfg.Scenario.Duration = -1 * time.Second
			},
			wantErr: config.ErrInvalidDuration,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := config.DefaultConfig()
			tt.modify(cfg)

			err := config.Validate(cfg)
			if err == nil {
				t.Fatal("Validate() returned nil, want error")
			}

			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  slog.Level
	}{
		{input: "debug", want: slog.LevelDebug},
		{input: "DEBUG", want: slog.LevelDebug},
		{input: "info", want: slog.LevelInfo},
		{input: "INFO", want: slog.LevelInfo},
		{input: "warn", want: slog.LevelWarn},
		{input: "WARN", want: slog.LevelWarn},
		{input: "error", want: slog.LevelError},
		{input: "Error", want: slog.LevelError},
		{input: "unknown", want: slog.LevelInfo},
		{input: "", want: slog.LevelInfo},
		{input: "trace", want: slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()

			got := config.ParseLogLevel(tt.input)
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestLoadNonexistentFile(t *testing.T) {
	t.Parallel()

	_, err := config.Load("/nonexistent/path/config.yml")
	if err == nil {
		t.Fatal("Load() returned nil error for nonexistent file")
	}
}

// -------------------------------------------------------------------------
// Scenario topology tests
// -------------------------------------------------------------------------

func TestLoadWithNodesAndLinks(t *testing.T) {
	t.Parallel()

	yamlContent := `
scenario:
  duration: "10s"
  nodes:
    - id: 1
      links:
        - peer_id: 2
          bearer_id: 0
          tolerance: "1.5s"
          min_win: 16
          max_win: 64
          priority: 10
    - id: 2
      links:
        - peer_id: 1
          bearer_id: 0
          tolerance: "1.5s"
          min_win: 16
          max_win: 64
          priority: 10
`

	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if len(cfg.Scenario.Nodes) != 2 {
		t.Fatalf("Nodes count = %d, want 2", len(cfg.Scenario.Nodes))
	}

	n1 := cfg.Scenario.Nodes[0]
	if n1.ID != 1 {
		t.Errorf("Nodes[0].ID = %d, want 1", n1.ID)
	}
	if len(n1.Links) != 1 {
		t.Fatalf("Nodes[0].Links count = %d, want 1", len(n1.Links))
	}
	l := n1.Links[0]
	if l.PeerID != 2 {
		t.Errorf("Links[0].PeerID = %d, want 2", l.PeerID)
	}
	if l.Tolerance != 1500*time.Millisecond {
		t.Errorf("Links[0].Tolerance = %v, want %v", l.Tolerance, 1500*time.Millisecond)
	}
	if l.MinWin != 16 || l.MaxWin != 64 {
		t.Errorf("Links[0] window = [%d,%d], want [16,64]", l.MinWin, l.MaxWin)
	}
	if l.Priority != 10 {
		t.Errorf("Links[0].Priority = %d, want 10", l.Priority)
	}

	if n1.NodeKey() == cfg.Scenario.Nodes[1].NodeKey() {
		t.Error("expected distinct node keys")
	}
}

func TestValidateNodeErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		modify  func(*config.Config)
		wantErr error
	}{
		{
			name: "zero node id",
			modify: func(cfg *config.Config) {
				cfg.Scenario.Nodes = []config.NodeConfig{{ID: 0}}
			},
			wantErr: config.ErrInvalidNodeID,
		},
		{
			name: "duplicate node id",
			modify: func(cfg *config.Config) {
				cfg.Scenario.Nodes = []config.NodeConfig{{ID: 1}, {ID: 1}}
			},
			wantErr: config.ErrDuplicateNodeID,
		},
		{
			name: "link peer not declared",
			modify: func(cfg *config.Config) {
				cfg.Scenario.Nodes = []config.NodeConfig{
					{ID: 1, Links: []config.LinkConfig{{PeerID: 99, Tolerance: time.Second, MinWin: 1, MaxWin: 2}}},
				}
			},
			wantErr: config.ErrUnknownLinkPeer,
		},
		{
			name: "link zero tolerance",
			modify: func(cfg *config.Config) {
				cfg.Scenario.Nodes = []config.NodeConfig{
					{ID: 1, Links: []config.LinkConfig{{PeerID: 1, Tolerance: 0, MinWin: 1, MaxWin: 2}}},
				}
			},
			wantErr: config.ErrInvalidLinkTolerance,
		},
		{
			name: "link inverted window",
			modify: func(cfg *config.Config) {
				cfg.Scenario.Nodes = []config.NodeConfig{
					{ID: 1, Links: []config.LinkConfig{{PeerID: 1, Tolerance: time.Second, MinWin: 10, MaxWin: 2}}},
				}
			},
			wantErr: config.ErrInvalidLinkWindow,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := config.DefaultConfig()
			tt.modify(cfg)

			err := config.Validate(cfg)
			if err == nil {
				t.Fatal("Validate() returned nil, want error")
			}

			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

// -------------------------------------------------------------------------
// Environment variable override tests
// -------------------------------------------------------------------------

func TestLoadEnvOverrides(t *testing.T) {
	// Environment variable tests cannot be parallel because they modify
	// process-wide state (os.Setenv).

	yamlContent := `
log:
  level: "info"
`
	path := writeTemp(t, yamlContent)

	t.Setenv("TIPCSIM_LOG_LEVEL", "debug")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q (from env)", cfg.Log.Level, "debug")
	}
}

func TestLoadEnvOverridesMetrics(t *testing.T) {
	yamlContent := `
metrics:
  addr: ":9100"
  path: "/metrics"
`
	path := writeTemp(t, yamlContent)

	t.Setenv("TIPCSIM_METRICS_ADDR", ":9200")
	t.Setenv("TIPCSIM_METRICS_PATH", "/custom")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Metrics.Addr != ":9200" {
		t.Errorf("Metrics.Addr = %q, want %q (from env)", cfg.Metrics.Addr, ":9200")
	}

	if cfg.Metrics.Path != "/custom" {
		t.Errorf("Metrics.Path = %q, want %q (from env)", cfg.Metrics.Path, "/custom")
	}
}

// writeTemp creates a temporary YAML file and returns its path.
// The file is automatically cleaned up when the test finishes.
func writeTemp(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "tipcsim.yml")

	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	return path
}