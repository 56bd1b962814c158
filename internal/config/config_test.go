package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		Logger: LoggerConfig{Active: false, Level: "info", Encoding: "console", Mode: "stdout"},
		Mesh: MeshConfig{
			DefaultRSS: -80,
			Motes: []MoteConfig{
				{ID: "0x0001", Role: "root"},
				{ID: "0x0002", Role: "sensor"},
			},
		},
		Trickle: TrickleConfig{TMin: 2 * time.Second, TMax: 20 * time.Second},
		Routing: RoutingConfig{InitialCapacity: 16, MaxChain: 7},
		Slope:   SlopeConfig{MaxTracked: 5, MinSamples: 10, MaxSamples: 30},
	}
}

func TestValidateConfigAccepted(t *testing.T) {
	cfg := validConfig()
	if err := cfg.ValidateConfig(); err != nil {
		t.Fatalf("ValidateConfig() = %v, want nil", err)
	}
}

func TestValidateConfigAccumulatesErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Logger.Level = "verbose"
	cfg.Trickle.TMin = 0
	cfg.Mesh.Motes = nil

	err := cfg.ValidateConfig()
	if err == nil {
		t.Fatal("ValidateConfig() = nil, want error")
	}
	msg := err.Error()
	for _, want := range []string{"logger.level", "trickle.tMin", "mesh.motes must name at least one mote"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error %q missing expected substring %q", msg, want)
		}
	}
}

func TestValidateConfigRequiresExactlyOneRoot(t *testing.T) {
	cfg := validConfig()
	cfg.Mesh.Motes = []MoteConfig{
		{ID: "0x0001", Role: "sensor"},
		{ID: "0x0002", Role: "compute"},
	}
	if err := cfg.ValidateConfig(); err == nil {
		t.Fatal("ValidateConfig() = nil, want error when no root is present")
	}

	cfg.Mesh.Motes = append(cfg.Mesh.Motes, MoteConfig{ID: "0x0003", Role: "root"}, MoteConfig{ID: "0x0004", Role: "root"})
	if err := cfg.ValidateConfig(); err == nil {
		t.Fatal("ValidateConfig() = nil, want error when two roots are present")
	}
}

func TestValidateConfigRejectsUnknownRole(t *testing.T) {
	cfg := validConfig()
	cfg.Mesh.Motes[1].Role = "gatekeeper"
	if err := cfg.ValidateConfig(); err == nil {
		t.Fatal("ValidateConfig() = nil, want error for an unknown role")
	}
}

func TestValidateConfigTrickleBoundsOrdering(t *testing.T) {
	cfg := validConfig()
	cfg.Trickle.TMin = 30 * time.Second
	cfg.Trickle.TMax = 5 * time.Second
	if err := cfg.ValidateConfig(); err == nil {
		t.Fatal("ValidateConfig() = nil, want error when tMin > tMax")
	}
}

func TestValidateConfigOTLPRequiresEndpoint(t *testing.T) {
	cfg := validConfig()
	cfg.Telemetry.Tracing.Enabled = true
	cfg.Telemetry.Tracing.Exporter = "otlp"
	if err := cfg.ValidateConfig(); err == nil {
		t.Fatal("ValidateConfig() = nil, want error when otlp exporter lacks an endpoint")
	}
	cfg.Telemetry.Tracing.Endpoint = "localhost:4317"
	if err := cfg.ValidateConfig(); err != nil {
		t.Fatalf("ValidateConfig() = %v, want nil once endpoint is set", err)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("LOGGER_ACTIVE", "true")
	t.Setenv("LOGGER_LEVEL", "debug")
	t.Setenv("TRACE_ENABLED", "yes")
	t.Setenv("TRACE_EXPORTER", "otlp")

	cfg := &Config{}
	cfg.ApplyEnvOverrides()

	if !cfg.Logger.Active {
		t.Error("LOGGER_ACTIVE=true did not set Logger.Active")
	}
	if cfg.Logger.Level != "debug" {
		t.Errorf("Logger.Level = %q, want debug", cfg.Logger.Level)
	}
	if !cfg.Telemetry.Tracing.Enabled {
		t.Error("TRACE_ENABLED=yes did not set Tracing.Enabled")
	}
	if cfg.Telemetry.Tracing.Exporter != "otlp" {
		t.Errorf("Tracing.Exporter = %q, want otlp", cfg.Telemetry.Tracing.Exporter)
	}
}

func TestLoadConfigRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := []byte(`
logger:
  active: false
  level: info
  encoding: console
  mode: stdout
mesh:
  defaultRSS: -80
  motes:
    - id: "0x0001"
      role: root
    - id: "0x0002"
      role: sensor
trickle:
  tMin: 2s
  tMax: 20s
routing:
  initialCapacity: 16
  maxChain: 7
slope:
  maxTracked: 5
  minSamples: 10
  maxSamples: 30
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if err := cfg.ValidateConfig(); err != nil {
		t.Fatalf("ValidateConfig() = %v, want nil", err)
	}
	if len(cfg.Mesh.Motes) != 2 {
		t.Fatalf("len(Mesh.Motes) = %d, want 2", len(cfg.Mesh.Motes))
	}
	if cfg.Trickle.TMin != 2*time.Second {
		t.Errorf("Trickle.TMin = %v, want 2s", cfg.Trickle.TMin)
	}
}

func TestParseID(t *testing.T) {
	tests := []struct {
		in      string
		want    uint16
		wantErr bool
	}{
		{"42", 42, false},
		{"0x002a", 42, false},
		{"0X002A", 42, false},
		{"not-a-number", 0, true},
		{"0x1ffff", 0, true}, // overflows uint16
	}
	for _, tt := range tests {
		got, err := ParseID(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseID(%q) error = nil, want error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseID(%q) unexpected error: %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseID(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

