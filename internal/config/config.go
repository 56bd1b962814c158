// Package config loads and validates a mote's YAML configuration,
// following the same shape as the rest of the ambient stack: per-section
// structs, LoadConfig, ApplyEnvOverrides, ValidateConfig, LogConfig.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"aqmesh/internal/logger"
)

type FileLoggerConfig struct {
	Path       string `yaml:"path"`
	MaxSize    int    `yaml:"maxSize"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAge     int    `yaml:"maxAge"`
	Compress   bool   `yaml:"compress"`
}

type LoggerConfig struct {
	Active   bool             `yaml:"active"`
	Level    string           `yaml:"level"`
	Encoding string           `yaml:"encoding"`
	Mode     string           `yaml:"mode"`
	File     FileLoggerConfig `yaml:"file"`
}

type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
	Endpoint string `yaml:"endpoint"`
}

type TelemetryConfig struct {
	Tracing TracingConfig `yaml:"tracing"`
}

// TrickleConfig overrides the Trickle bounds of domain.TMin/TMax.
type TrickleConfig struct {
	TMin time.Duration `yaml:"tMin"`
	TMax time.Duration `yaml:"tMax"`
}

// RoutingConfig overrides the routing-table and child/parent timeouts.
type RoutingConfig struct {
	InitialCapacity int           `yaml:"initialCapacity"`
	MaxChain        int           `yaml:"maxChain"`
	TimeoutChildren time.Duration `yaml:"timeoutChildren"`
	TimeoutParent   time.Duration `yaml:"timeoutParent"`
	RSSHysteresis   int           `yaml:"rssHysteresis"`
}

// SlopeConfig overrides the slope engine's tunables. Comparator sign is
// deliberately not configurable here (spec.md §9's open question is
// resolved at the call site by slope.Engine's comparator func, not by
// config). cmd/mote applies only SlopeThreshold; MaxTracked,
// MaxSamples and MinSamples are loaded but not applied, so the slope
// engine keeps its compile-time sizes.
type SlopeConfig struct {
	MaxTracked     int `yaml:"maxTracked"`
	MaxSamples     int `yaml:"maxSamples"`
	MinSamples     int `yaml:"minSamples"`
	SlopeThreshold int `yaml:"slopeThreshold"`
}

// GatewayConfig configures the root-only serial adapter.
type GatewayConfig struct {
	Enabled bool `yaml:"enabled"`
}

type MoteConfig struct {
	ID           string        `yaml:"id"`
	Role         string        `yaml:"role"` // "root" | "sensor" | "compute"
	DataPeriod   time.Duration `yaml:"dataPeriod"`
	OpenDuration time.Duration `yaml:"openDuration"`
}

// LinkConfig fixes the RSS of one directional radio link between two
// motes (by id), for the in-process mesh simulator (cmd/mote). Real
// deployments have no such config: RSS comes from the radio.
type LinkConfig struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
	RSS  int    `yaml:"rss"`
}

// MeshConfig describes every mote the cmd/mote simulator should run in
// one process, plus the fixed link RSS table connecting them. It
// exists because no pack repo ships a fetchable low-power mesh radio
// driver (see DESIGN.md); cmd/mote therefore simulates the whole mesh
// in-process over transport/mock rather than running one device per
// binary.
type MeshConfig struct {
	DefaultRSS int          `yaml:"defaultRSS"`
	Motes      []MoteConfig `yaml:"motes"`
	Links      []LinkConfig `yaml:"links"`
}

type Config struct {
	Logger    LoggerConfig    `yaml:"logger"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Mesh      MeshConfig      `yaml:"mesh"`
	Trickle   TrickleConfig   `yaml:"trickle"`
	Routing   RoutingConfig   `yaml:"routing"`
	Slope     SlopeConfig     `yaml:"slope"`
	Gateway   GatewayConfig   `yaml:"gateway"`
}

// LoadConfig reads and parses a YAML config file. It performs only
// syntactic parsing; call ValidateConfig afterward.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyEnvOverrides applies environment-variable overrides to the
// subset of fields that are commonly deployment-specific.
//
//	LOGGER_ACTIVE      -> cfg.Logger.Active
//	LOGGER_LEVEL       -> cfg.Logger.Level
//	LOGGER_ENCODING    -> cfg.Logger.Encoding
//	LOGGER_MODE        -> cfg.Logger.Mode
//	LOGGER_FILE_PATH   -> cfg.Logger.File.Path
//	TRACE_ENABLED      -> cfg.Telemetry.Tracing.Enabled
//	TRACE_EXPORTER     -> cfg.Telemetry.Tracing.Exporter
//	TRACE_ENDPOINT     -> cfg.Telemetry.Tracing.Endpoint
func (cfg *Config) ApplyEnvOverrides() {
	if v := os.Getenv("LOGGER_ACTIVE"); v != "" {
		v = strings.ToLower(v)
		cfg.Logger.Active = v == "true" || v == "1" || v == "yes"
	}
	if v := os.Getenv("LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("LOGGER_ENCODING"); v != "" {
		cfg.Logger.Encoding = v
	}
	if v := os.Getenv("LOGGER_MODE"); v != "" {
		cfg.Logger.Mode = v
	}
	if v := os.Getenv("LOGGER_FILE_PATH"); v != "" {
		cfg.Logger.File.Path = v
	}
	if v := os.Getenv("TRACE_ENABLED"); v != "" {
		v = strings.ToLower(v)
		cfg.Telemetry.Tracing.Enabled = v == "true" || v == "1" || v == "yes"
	}
	if v := os.Getenv("TRACE_EXPORTER"); v != "" {
		cfg.Telemetry.Tracing.Exporter = v
	}
	if v := os.Getenv("TRACE_ENDPOINT"); v != "" {
		cfg.Telemetry.Tracing.Endpoint = v
	}
}

// ValidateConfig performs structural validation, accumulating every
// problem found into a single error rather than failing on the first.
func (cfg *Config) ValidateConfig() error {
	var errs []string

	switch cfg.Logger.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("invalid logger.level: %s", cfg.Logger.Level))
	}
	switch cfg.Logger.Encoding {
	case "console", "json":
	default:
		errs = append(errs, fmt.Sprintf("invalid logger.encoding: %s", cfg.Logger.Encoding))
	}
	switch cfg.Logger.Mode {
	case "stdout":
	case "file":
		if cfg.Logger.File.Path == "" {
			errs = append(errs, "logger.file.path is required when mode=file")
		}
		if cfg.Logger.File.MaxSize < 0 || cfg.Logger.File.MaxBackups < 0 || cfg.Logger.File.MaxAge < 0 {
			errs = append(errs, "logger.file.* values must be non-negative")
		}
	default:
		errs = append(errs, fmt.Sprintf("invalid logger.mode: %s", cfg.Logger.Mode))
	}

	if len(cfg.Mesh.Motes) == 0 {
		errs = append(errs, "mesh.motes must name at least one mote")
	}
	rootCount := 0
	for _, m := range cfg.Mesh.Motes {
		switch m.Role {
		case "root":
			rootCount++
		case "sensor", "compute":
		default:
			errs = append(errs, fmt.Sprintf("invalid mesh.motes[%s].role: %s (must be root, sensor or compute)", m.ID, m.Role))
		}
	}
	if len(cfg.Mesh.Motes) > 0 && rootCount != 1 {
		errs = append(errs, fmt.Sprintf("mesh.motes must name exactly one root, found %d", rootCount))
	}

	if cfg.Trickle.TMin <= 0 || cfg.Trickle.TMax <= 0 {
		errs = append(errs, "trickle.tMin and trickle.tMax must be > 0")
	}
	if cfg.Trickle.TMin > cfg.Trickle.TMax {
		errs = append(errs, "trickle.tMin must be <= trickle.tMax")
	}

	if cfg.Routing.InitialCapacity <= 0 {
		errs = append(errs, "routing.initialCapacity must be > 0")
	}
	if cfg.Routing.MaxChain <= 0 {
		errs = append(errs, "routing.maxChain must be > 0")
	}
	if cfg.Routing.RSSHysteresis < 0 {
		errs = append(errs, "routing.rssHysteresis must be >= 0")
	}

	if cfg.Slope.MaxTracked <= 0 {
		errs = append(errs, "slope.maxTracked must be > 0")
	}
	if cfg.Slope.MinSamples <= 0 || cfg.Slope.MaxSamples <= 0 {
		errs = append(errs, "slope.minSamples and slope.maxSamples must be > 0")
	}
	if cfg.Slope.MinSamples > cfg.Slope.MaxSamples {
		errs = append(errs, "slope.minSamples must be <= slope.maxSamples")
	}

	if cfg.Telemetry.Tracing.Enabled {
		switch cfg.Telemetry.Tracing.Exporter {
		case "stdout", "otlp":
		default:
			errs = append(errs, fmt.Sprintf("invalid telemetry.tracing.exporter: %s", cfg.Telemetry.Tracing.Exporter))
		}
		if cfg.Telemetry.Tracing.Exporter == "otlp" && cfg.Telemetry.Tracing.Endpoint == "" {
			errs = append(errs, "telemetry.tracing.endpoint is required when exporter=otlp")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// LogConfig prints the loaded configuration at DEBUG level, useful for
// diagnosing startup issues.
func (cfg *Config) LogConfig(lgr logger.Logger) {
	lgr.Debug("loaded configuration",
		logger.F("logger.active", cfg.Logger.Active),
		logger.F("logger.level", cfg.Logger.Level),
		logger.F("logger.encoding", cfg.Logger.Encoding),
		logger.F("logger.mode", cfg.Logger.Mode),

		logger.F("mesh.moteCount", len(cfg.Mesh.Motes)),
		logger.F("mesh.linkCount", len(cfg.Mesh.Links)),
		logger.F("mesh.defaultRSS", cfg.Mesh.DefaultRSS),

		logger.F("trickle.tMin", cfg.Trickle.TMin.String()),
		logger.F("trickle.tMax", cfg.Trickle.TMax.String()),

		logger.F("routing.initialCapacity", cfg.Routing.InitialCapacity),
		logger.F("routing.maxChain", cfg.Routing.MaxChain),
		logger.F("routing.timeoutChildren", cfg.Routing.TimeoutChildren.String()),
		logger.F("routing.timeoutParent", cfg.Routing.TimeoutParent.String()),
		logger.F("routing.rssHysteresis", cfg.Routing.RSSHysteresis),

		logger.F("slope.maxTracked", cfg.Slope.MaxTracked),
		logger.F("slope.maxSamples", cfg.Slope.MaxSamples),
		logger.F("slope.minSamples", cfg.Slope.MinSamples),
		logger.F("slope.slopeThreshold", cfg.Slope.SlopeThreshold),

		logger.F("gateway.enabled", cfg.Gateway.Enabled),

		logger.F("telemetry.tracing.enabled", cfg.Telemetry.Tracing.Enabled),
		logger.F("telemetry.tracing.exporter", cfg.Telemetry.Tracing.Exporter),
		logger.F("telemetry.tracing.endpoint", cfg.Telemetry.Tracing.Endpoint),
	)
}

// ParseID parses a mote.id string (decimal or 0x-prefixed hex) into a NodeID.
func ParseID(s string) (uint16, error) {
	s = strings.TrimSpace(s)
	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s = s[2:]
		base = 16
	}
	v, err := strconv.ParseUint(s, base, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid mote id %q: %w", s, err)
	}
	return uint16(v), nil
}
