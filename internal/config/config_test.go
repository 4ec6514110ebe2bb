package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("NETWATCH_CONFIG", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ScanInterval != 3*time.Minute {
		t.Errorf("scan interval = %v", cfg.ScanInterval)
	}
	if !reflect.DeepEqual(cfg.DefaultPorts, []int{80, 443, 22, 8080}) {
		t.Errorf("default ports = %v", cfg.DefaultPorts)
	}
	if cfg.PingCount != 3 || cfg.TimeoutSeconds != 5 || cfg.RetryCount != 2 {
		t.Errorf("probe defaults = %d/%d/%d", cfg.PingCount, cfg.TimeoutSeconds, cfg.RetryCount)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("NETWATCH_CONFIG", "")
	t.Setenv("NETWATCH_SCAN_INTERVAL", "90s")
	t.Setenv("NETWATCH_DEFAULT_PORTS", "22, 3389")
	t.Setenv("NETWATCH_GATE_TARGETS", "9.9.9.9,1.0.0.1")
	t.Setenv("NETWATCH_RETRY_COUNT", "0")
	t.Setenv("NETWATCH_SCAN_CONCURRENCY", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ScanInterval != 90*time.Second {
		t.Errorf("scan interval = %v", cfg.ScanInterval)
	}
	if !reflect.DeepEqual(cfg.DefaultPorts, []int{22, 3389}) {
		t.Errorf("ports = %v", cfg.DefaultPorts)
	}
	if !reflect.DeepEqual(cfg.GateTargets, []string{"9.9.9.9", "1.0.0.1"}) {
		t.Errorf("gate targets = %v", cfg.GateTargets)
	}
	if cfg.RetryCount != 0 {
		t.Errorf("retry count = %d", cfg.RetryCount)
	}
	if cfg.ScanConcurrency != 20 {
		t.Errorf("unparsable concurrency should fall back, got %d", cfg.ScanConcurrency)
	}
}

func TestLoadYAMLOverlayThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "netwatch.yaml")
	content := `scan:
  interval: 5m
  concurrency: 8
probe:
  ports: [8443]
  retry_count: 0
  engine: naabu
gate:
  mode: dns
  targets: ["9.9.9.9"]
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("NETWATCH_CONFIG", path)
	t.Setenv("NETWATCH_SCAN_CONCURRENCY", "4")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ScanInterval != 5*time.Minute || cfg.ScanConcurrency != 4 {
		t.Errorf("scan = %v/%d", cfg.ScanInterval, cfg.ScanConcurrency)
	}
	if !reflect.DeepEqual(cfg.DefaultPorts, []int{8443}) || cfg.RetryCount != 0 {
		t.Errorf("probe = %v retry %d", cfg.DefaultPorts, cfg.RetryCount)
	}
	if cfg.PortEngine != "naabu" || cfg.GateMode != "dns" {
		t.Errorf("engine=%s gate=%s", cfg.PortEngine, cfg.GateMode)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{name: "short session key", key: "NETWATCH_SESSION_KEY", val: "short"},
		{name: "bad gate mode", key: "NETWATCH_GATE_MODE", val: "icmp"},
		{name: "bad port engine", key: "NETWATCH_PORT_ENGINE", val: "nmap"},
		{name: "port out of range", key: "NETWATCH_DEFAULT_PORTS", val: "80,70000"},
		{name: "negative retries", key: "NETWATCH_RETRY_COUNT", val: "-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("NETWATCH_CONFIG", "")
			t.Setenv(tt.key, tt.val)
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s=%s", tt.key, tt.val)
			}
		})
	}
}

func TestLoadMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("scan: [unclosed"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("NETWATCH_CONFIG", path)
	if _, err := Load(); err == nil {
		t.Fatal("expected parse error")
	}
}
