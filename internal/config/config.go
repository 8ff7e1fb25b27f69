// Package config loads the tipcsim scenario/topology description using
// koanf/v2.
//
// Supports YAML files and environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete tipcsim scenario configuration.
type Config struct {
	Metrics  MetricsConfig  `koanf:"metrics"`
	Log      LogConfig      `koanf:"log"`
	Scenario ScenarioConfig `koanf:"scenario"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	// Addr is the HTTP listen address for the metrics endpoint (e.g., ":9100").
	Addr string `koanf:"addr"`
	// Path is the URL path for the metrics endpoint (e.g., "/metrics").
	Path string `koanf:"path"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// ScenarioConfig describes the simulated topology and run parameters for a
// single tipcsim invocation.
type ScenarioConfig struct {
	// Duration bounds how long the run's virtual clock is allowed to
	// advance before the runner stops, even if timers remain pending.
	Duration time.Duration `koanf:"duration"`

	// MonitorThreshold overrides the peer count above which a node's
	// monitors become active probes instead of trusting every peer
	// unconditionally. Zero means "use the monitor's own default".
	MonitorThreshold uint32 `koanf:"monitor_threshold"`

	// Nodes is the declarative node/link topology the runner builds.
	Nodes []NodeConfig `koanf:"nodes"`
}

// NodeConfig describes one simulated node and its outgoing links.
type NodeConfig struct {
	// ID is the node's address within the scenario (unique, nonzero).
	ID uint32 `koanf:"id"`

	// Links enumerates the bearers this node originates. A link is only
	// declared from one side; the runner wires both directions.
	Links []LinkConfig `koanf:"links"`
}

// LinkConfig describes one bearer between two nodes.
type LinkConfig struct {
	// PeerID is the remote node's address.
	PeerID uint32 `koanf:"peer_id"`

	// BearerID selects which of the node's MaxBearers slots this link
	// occupies.
	BearerID uint8 `koanf:"bearer_id"`

	// Tolerance is the max silent duration before the link is considered
	// failed.
	Tolerance time.Duration `koanf:"tolerance"`

	// MinWin and MaxWin bound the link's congestion window.
	MinWin uint32 `koanf:"min_win"`
	MaxWin uint32 `koanf:"max_win"`

	// Priority influences active-link promotion when more than two
	// established links compete for the two active slots.
	Priority uint8 `koanf:"priority"`
}

// NodeKey returns a string identifier for the node: its ID in decimal.
func (nc NodeConfig) NodeKey() string {
	return fmt.Sprintf("%d", nc.ID)
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with sensible defaults for an
// empty scenario (no nodes declared; the caller's scenario file supplies
// the topology).
func DefaultConfig() *Config {
	return &Config{
		Metrics: MetricsConfig{
			Addr: ":9100",
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Scenario: ScenarioConfig{
			Duration: 60 * time.Second,
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for tipcsim configuration.
// Variables are named TIPCSIM_<section>_<key>, e.g. TIPCSIM_METRICS_ADDR.
const envPrefix = "TIPCSIM_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (TIPCSIM_ prefix), and merges on top of DefaultConfig().
// Missing fields inherit defaults.
//
// Environment variable mapping:
//
//	TIPCSIM_METRICS_ADDR -> metrics.addr
//	TIPCSIM_METRICS_PATH -> metrics.path
//	TIPCSIM_LOG_LEVEL     -> log.level
//	TIPCSIM_LOG_FORMAT    -> log.format
//
// Uses koanf/v2 with file + env providers and YAML parser.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load config from %s: %w", path, err)
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config from %s: %w", path, err)
	}

	return cfg, nil
}

// envKeyMapper transforms TIPCSIM_METRICS_ADDR -> metrics.addr.
// Strips the TIPCSIM_ prefix, lowercases, and replaces _ with .
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.ReplaceAll(s, "_", ".")
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"metrics.addr":      defaults.Metrics.Addr,
		"metrics.path":      defaults.Metrics.Path,
		"log.level":         defaults.Log.Level,
		"log.format":        defaults.Log.Format,
		"scenario.duration": defaults.Scenario.Duration.String(),
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	// ErrEmptyMetricsAddr indicates the metrics listen address is empty.
	ErrEmptyMetricsAddr = errors.New("metrics.addr must not be empty")

	// ErrInvalidDuration indicates the scenario duration is not positive.
	ErrInvalidDuration = errors.New("scenario.duration must be > 0")

	// ErrInvalidNodeID indicates a node has the reserved zero address.
	ErrInvalidNodeID = errors.New("node id must be nonzero")

	// ErrDuplicateNodeID indicates two nodes share the same id.
	ErrDuplicateNodeID = errors.New("duplicate node id")

	// ErrInvalidLinkWindow indicates a link's min_win exceeds its max_win.
	ErrInvalidLinkWindow = errors.New("link min_win must be <= max_win")

	// ErrInvalidLinkTolerance indicates a link's tolerance is not positive.
	ErrInvalidLinkTolerance = errors.New("link tolerance must be > 0")

	// ErrUnknownLinkPeer indicates a link references a peer id not declared
	// as a node in the scenario.
	ErrUnknownLinkPeer = errors.New("link peer_id does not match any declared node")
)

// Validate checks the configuration for logical errors.
// Returns the first validation error encountered.
func Validate(cfg *Config) error {
	if cfg.Metrics.Addr == "" {
		return ErrEmptyMetricsAddr
	}

	if cfg.Scenario.Duration <= 0 {
		return ErrInvalidDuration
	}

	return validateNodes(cfg.Scenario.Nodes)
}

// validateNodes checks each declared node and its links for correctness.
func validateNodes(nodes []NodeConfig) error {
	ids := make(map[uint32]struct{}, len(nodes))
	for i, n := range nodes {
		if n.ID == 0 {
			return fmt.Errorf("nodes[%d]: %w", i, ErrInvalidNodeID)
		}
		if _, dup := ids[n.ID]; dup {
			return fmt.Errorf("nodes[%d] id %d: %w", i, n.ID, ErrDuplicateNodeID)
		}
		ids[n.ID] = struct{}{}
	}

	for i, n := range nodes {
		for j, l := range n.Links {
			if l.Tolerance <= 0 {
				return fmt.Errorf("nodes[%d].links[%d]: %w", i, j, ErrInvalidLinkTolerance)
			}
			if l.MinWin > l.MaxWin {
				return fmt.Errorf("nodes[%d].links[%d]: %w", i, j, ErrInvalidLinkWindow)
			}
			if _, ok := ids[l.PeerID]; !ok {
				return fmt.Errorf("nodes[%d].links[%d] peer %d: %w", i, j, l.PeerID, ErrUnknownLinkPeer)
			}
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the corresponding
// slog.Level. Unknown values default to slog.LevelInfo.
//
// Recognized values: "debug", "info", "warn", "error" (case-insensitive).
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}