package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 汇总服务运行时所需的全部配置。
type Config struct {
	Addr          string
	AdminUser     string
	AdminPassword string
	SessionKey    []byte
	CSRFKey       []byte
	DBPath        string

	ScanInterval    time.Duration
	ScanConcurrency int
	ScanDeadline    time.Duration

	DefaultPorts   []int
	PingCount      int
	TimeoutSeconds int
	RetryCount     int

	GateTargets []string
	GatePort    string
	GateTimeout time.Duration
	GateMode    string

	PortEngine string
	NaabuRate  int
}

// fileConfig 是 NETWATCH_CONFIG 指向的 YAML 文件结构，零值字段不覆盖默认值。
type fileConfig struct {
	Scan struct {
		Interval    string `yaml:"interval"`
		Concurrency int    `yaml:"concurrency"`
		Deadline    string `yaml:"deadline"`
	} `yaml:"scan"`
	Probe struct {
		Ports          []int  `yaml:"ports"`
		PingCount      int    `yaml:"ping_count"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
		RetryCount     *int   `yaml:"retry_count"`
		Engine         string `yaml:"engine"`
		NaabuRate      int    `yaml:"naabu_rate"`
	} `yaml:"probe"`
	Gate struct {
		Targets []string `yaml:"targets"`
		Port    string   `yaml:"port"`
		Timeout string   `yaml:"timeout"`
		Mode    string   `yaml:"mode"`
	} `yaml:"gate"`
}

// Defaults 返回未设置任何环境变量时的配置。
func Defaults() *Config {
	return &Config{
		Addr:            ":8080",
		AdminUser:       "admin",
		AdminPassword:   "admin123",
		SessionKey:      []byte("0123456789abcdef0123456789abcdef"),
		CSRFKey:         []byte("abcdef0123456789abcdef0123456789"),
		DBPath:          "data/netwatch.db",
		ScanInterval:    3 * time.Minute,
		ScanConcurrency: 20,
		ScanDeadline:    2 * time.Minute,
		DefaultPorts:    []int{80, 443, 22, 8080},
		PingCount:       3,
		TimeoutSeconds:  5,
		RetryCount:      2,
		GateTargets:     []string{"8.8.8.8", "1.1.1.1"},
		GatePort:        "53",
		GateTimeout:     3 * time.Second,
		GateMode:        "dial",
		PortEngine:      "dial",
		NaabuRate:       1000,
	}
}

// Load 按 默认值 -> YAML 文件 -> 环境变量 的顺序构建配置。
func Load() (*Config, error) {
	cfg := Defaults()
	if path := getenv("NETWATCH_CONFIG", ""); path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return nil, err
		}
	}

	cfg.Addr = getenv("NETWATCH_HTTP_ADDR", cfg.Addr)
	cfg.AdminUser = getenv("NETWATCH_ADMIN_USER", cfg.AdminUser)
	cfg.AdminPassword = getenv("NETWATCH_ADMIN_PASS", cfg.AdminPassword)
	cfg.SessionKey = []byte(getenv("NETWATCH_SESSION_KEY", string(cfg.SessionKey)))
	cfg.CSRFKey = []byte(getenv("NETWATCH_CSRF_KEY", string(cfg.CSRFKey)))
	cfg.DBPath = getenv("NETWATCH_DB_PATH", cfg.DBPath)
	cfg.ScanInterval = durationEnv("NETWATCH_SCAN_INTERVAL", cfg.ScanInterval)
	cfg.ScanConcurrency = intEnv("NETWATCH_SCAN_CONCURRENCY", cfg.ScanConcurrency)
	cfg.ScanDeadline = durationEnv("NETWATCH_SCAN_DEADLINE", cfg.ScanDeadline)
	cfg.DefaultPorts = intListEnv("NETWATCH_DEFAULT_PORTS", cfg.DefaultPorts)
	cfg.PingCount = intEnv("NETWATCH_PING_COUNT", cfg.PingCount)
	cfg.TimeoutSeconds = intEnv("NETWATCH_TIMEOUT_SECONDS", cfg.TimeoutSeconds)
	cfg.RetryCount = intEnv("NETWATCH_RETRY_COUNT", cfg.RetryCount)
	cfg.GateTargets = listEnv("NETWATCH_GATE_TARGETS", cfg.GateTargets)
	cfg.GatePort = getenv("NETWATCH_GATE_PORT", cfg.GatePort)
	cfg.GateTimeout = durationEnv("NETWATCH_GATE_TIMEOUT", cfg.GateTimeout)
	cfg.GateMode = getenv("NETWATCH_GATE_MODE", cfg.GateMode)
	cfg.PortEngine = getenv("NETWATCH_PORT_ENGINE", cfg.PortEngine)
	cfg.NaabuRate = intEnv("NETWATCH_NAABU_RATE", cfg.NaabuRate)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) overlayFile(path string) error {
	content, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(content, &fc); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}

	if fc.Scan.Interval != "" {
		d, err := time.ParseDuration(fc.Scan.Interval)
		if err != nil {
			return fmt.Errorf("parse config: scan.interval: %w", err)
		}
		c.ScanInterval = d
	}
	if fc.Scan.Deadline != "" {
		d, err := time.ParseDuration(fc.Scan.Deadline)
		if err != nil {
			return fmt.Errorf("parse config: scan.deadline: %w", err)
		}
		c.ScanDeadline = d
	}
	if fc.Scan.Concurrency > 0 {
		c.ScanConcurrency = fc.Scan.Concurrency
	}
	if len(fc.Probe.Ports) > 0 {
		c.DefaultPorts = fc.Probe.Ports
	}
	if fc.Probe.PingCount > 0 {
		c.PingCount = fc.Probe.PingCount
	}
	if fc.Probe.TimeoutSeconds > 0 {
		c.TimeoutSeconds = fc.Probe.TimeoutSeconds
	}
	if fc.Probe.RetryCount != nil {
		c.RetryCount = *fc.Probe.RetryCount
	}
	if fc.Probe.Engine != "" {
		c.PortEngine = fc.Probe.Engine
	}
	if fc.Probe.NaabuRate > 0 {
		c.NaabuRate = fc.Probe.NaabuRate
	}
	if len(fc.Gate.Targets) > 0 {
		c.GateTargets = fc.Gate.Targets
	}
	if fc.Gate.Port != "" {
		c.GatePort = fc.Gate.Port
	}
	if fc.Gate.Timeout != "" {
		d, err := time.ParseDuration(fc.Gate.Timeout)
		if err != nil {
			return fmt.Errorf("parse config: gate.timeout: %w", err)
		}
		c.GateTimeout = d
	}
	if fc.Gate.Mode != "" {
		c.GateMode = fc.Gate.Mode
	}
	return nil
}

func (c *Config) validate() error {
	if len(c.SessionKey) < 32 {
		return fmt.Errorf("session key must be at least 32 bytes, got %d", len(c.SessionKey))
	}
	if len(c.CSRFKey) < 32 {
		return fmt.Errorf("csrf key must be at least 32 bytes, got %d", len(c.CSRFKey))
	}
	if c.AdminUser == "" || c.AdminPassword == "" {
		return fmt.Errorf("admin credentials must not be empty")
	}
	if c.ScanConcurrency <= 0 {
		return fmt.Errorf("scan concurrency must be positive")
	}
	if c.ScanInterval <= 0 {
		return fmt.Errorf("scan interval must be positive")
	}
	for _, p := range c.DefaultPorts {
		if p < 1 || p > 65535 {
			return fmt.Errorf("default port %d out of range", p)
		}
	}
	if c.RetryCount < 0 {
		return fmt.Errorf("retry count must not be negative")
	}
	switch c.GateMode {
	case "dial", "dns":
	default:
		return fmt.Errorf("unknown gate mode %q", c.GateMode)
	}
	switch c.PortEngine {
	case "dial", "naabu":
	default:
		return fmt.Errorf("unknown port engine %q", c.PortEngine)
	}
	if len(c.GateTargets) == 0 {
		return fmt.Errorf("at least one gate target is required")
	}
	return nil
}

func getenv(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func durationEnv(key string, fallback time.Duration) time.Duration {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func intEnv(key string, fallback int) int {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return n
}

func listEnv(key string, fallback []string) []string {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

// intListEnv 解析逗号分隔的整数列表，任一项无法解析时整体回退。
func intListEnv(key string, fallback []int) []int {
	parts := listEnv(key, nil)
	if parts == nil {
		return fallback
	}
	out := make([]int, 0, len(parts))
	for _, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil {
			return fallback
		}
		out = append(out, n)
	}
	return out
}
