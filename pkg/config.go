package pkg

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultInventoryURL     = "https://api.proxcet.io/api/v1"
	DefaultRotationURL      = "https://api.proxcet.io/api/v1"
	DefaultEchoURL          = "https://api.ipify.org/?format=text"
	DefaultCheckURL         = "https://ipinfo.io/ip"
	DefaultProbeTimeout     = 5 * time.Second
	DefaultProbeInterval    = 8 * time.Second
	DefaultRotationInterval = 60 * time.Second
	DefaultWatchInterval    = 100 * time.Millisecond
	DefaultMetricsAddr      = ":7878"
)

// Config is built once at process start and handed to every component.
type Config struct {
	Topology TopologyMode
	NodeID   int

	InventoryURL    string
	InventoryAPIKey string
	AgentID         string

	EchoURL       string
	ProbeTimeout  time.Duration
	ProbeInterval time.Duration
	MetricsAddr   string

	RotationURL      string
	RotationUUID     string
	EgressProxyURL   string
	CheckURL         string
	WatchURL         string
	RotationInterval time.Duration
	WatchInterval    time.Duration

	JournalDriver string
	JournalDSN    string

	LogLevel string
}

// fileConfig holds the non-secret settings that may come from CONFIG_PATH.
type fileConfig struct {
	Topology         string `yaml:"topology"`
	NodeID           *int   `yaml:"node_id"`
	InventoryURL     string `yaml:"inventory_url"`
	AgentID          string `yaml:"agent_id"`
	EchoURL          string `yaml:"echo_url"`
	ProbeTimeout     string `yaml:"probe_timeout"`
	ProbeInterval    string `yaml:"probe_interval"`
	MetricsAddr      string `yaml:"metrics_addr"`
	RotationURL      string `yaml:"rotation_url"`
	CheckURL         string `yaml:"check_url"`
	WatchURL         string `yaml:"watch_url"`
	RotationInterval string `yaml:"rotation_interval"`
	WatchInterval    string `yaml:"watch_interval"`
	JournalDriver    string `yaml:"journal_driver"`
	LogLevel         string `yaml:"log_level"`
}

// LoadConfig reads .env (if present), then the YAML file at CONFIG_PATH (if
// set), then the environment. Later sources win. It does not validate
// binary-specific requirements; see ValidateMonitor and ValidateRotation.
func LoadConfig() (*Config, error) {
	// .env is optional; a missing file is not an error
	_ = godotenv.Load(".env")

	cfg := &Config{
		InventoryURL:     DefaultInventoryURL,
		EchoURL:          DefaultEchoURL,
		ProbeTimeout:     DefaultProbeTimeout,
		ProbeInterval:    DefaultProbeInterval,
		MetricsAddr:      DefaultMetricsAddr,
		RotationURL:      DefaultRotationURL,
		CheckURL:         DefaultCheckURL,
		WatchURL:         DefaultEchoURL,
		RotationInterval: DefaultRotationInterval,
		WatchInterval:    DefaultWatchInterval,
		LogLevel:         "info",
	}

	if path := strings.TrimSpace(os.Getenv("CONFIG_PATH")); path != "" {
		fc, err := loadFileConfig(path)
		if err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
		if err := cfg.applyFile(fc); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFileConfig(path string) (*fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var out fileConfig
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Config) applyFile(fc *fileConfig) error {
	if fc.Topology != "" {
		c.Topology = TopologyMode(strings.ToLower(strings.TrimSpace(fc.Topology)))
	}
	if fc.NodeID != nil {
		c.NodeID = *fc.NodeID
	}
	setString(&c.InventoryURL, fc.InventoryURL)
	setString(&c.AgentID, fc.AgentID)
	setString(&c.EchoURL, fc.EchoURL)
	setString(&c.MetricsAddr, fc.MetricsAddr)
	setString(&c.RotationURL, fc.RotationURL)
	setString(&c.CheckURL, fc.CheckURL)
	setString(&c.WatchURL, fc.WatchURL)
	setString(&c.JournalDriver, fc.JournalDriver)
	setString(&c.LogLevel, fc.LogLevel)

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"probe_timeout", fc.ProbeTimeout, &c.ProbeTimeout},
		{"probe_interval", fc.ProbeInterval, &c.ProbeInterval},
		{"rotation_interval", fc.RotationInterval, &c.RotationInterval},
		{"watch_interval", fc.WatchInterval, &c.WatchInterval},
	}
	for _, d := range durations {
		if err := setDuration(d.dst, d.key, d.raw); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) applyEnv() error {
	if v := strings.TrimSpace(os.Getenv("TOPOLOGY")); v != "" {
		c.Topology = TopologyMode(strings.ToLower(v))
	}
	if v := strings.TrimSpace(os.Getenv("NODE_ID")); v != "" {
		id, err := strconv.Atoi(v)
		if err != nil {
			return configErr("NODE_ID", "must be an integer, got %q", v)
		}
		c.NodeID = id
	}
	setString(&c.InventoryURL, os.Getenv("INVENTORY_URL"))
	setString(&c.InventoryAPIKey, os.Getenv("INVENTORY_API_KEY"))
	setString(&c.AgentID, os.Getenv("AGENT_ID"))
	setString(&c.EchoURL, os.Getenv("ECHO_URL"))
	setString(&c.MetricsAddr, os.Getenv("METRICS_ADDR"))
	setString(&c.RotationURL, os.Getenv("ROTATION_URL"))
	setString(&c.RotationUUID, os.Getenv("ROTATION_UUID"))
	setString(&c.EgressProxyURL, os.Getenv("EGRESS_PROXY_URL"))
	setString(&c.CheckURL, os.Getenv("CHECK_URL"))
	setString(&c.WatchURL, os.Getenv("WATCH_URL"))
	setString(&c.JournalDriver, os.Getenv("JOURNAL_DRIVER"))
	setString(&c.JournalDSN, os.Getenv("JOURNAL_DSN"))
	setString(&c.LogLevel, os.Getenv("LOG_LEVEL"))

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"PROBE_TIMEOUT", &c.ProbeTimeout},
		{"PROBE_INTERVAL", &c.ProbeInterval},
		{"ROTATION_INTERVAL", &c.RotationInterval},
		{"WATCH_INTERVAL", &c.WatchInterval},
	}
	for _, d := range durations {
		if err := setDuration(d.dst, d.key, os.Getenv(d.key)); err != nil {
			return err
		}
	}
	return nil
}

// ValidateMonitor checks the settings the IP monitor needs.
func (c *Config) ValidateMonitor() error {
	if !c.Topology.Valid() {
		return configErr("TOPOLOGY", "must be location|instance, got %q", c.Topology)
	}
	if c.InventoryAPIKey == "" {
		return configErr("INVENTORY_API_KEY", "is required")
	}
	if c.AgentID == "" {
		return configErr("AGENT_ID", "is required")
	}
	if err := requireURL("INVENTORY_URL", c.InventoryURL); err != nil {
		return err
	}
	if err := requireURL("ECHO_URL", c.EchoURL); err != nil {
		return err
	}
	if c.ProbeTimeout <= 0 {
		return configErr("PROBE_TIMEOUT", "must be positive")
	}
	if c.ProbeInterval <= 0 {
		return configErr("PROBE_INTERVAL", "must be positive")
	}
	return nil
}

// ValidateRotation checks the settings the rotation verifier needs.
func (c *Config) ValidateRotation() error {
	if c.RotationUUID == "" {
		return configErr("ROTATION_UUID", "is required")
	}
	if err := requireURL("EGRESS_PROXY_URL", c.EgressProxyURL); err != nil {
		return err
	}
	if err := requireURL("ROTATION_URL", c.RotationURL); err != nil {
		return err
	}
	if err := requireURL("CHECK_URL", c.CheckURL); err != nil {
		return err
	}
	if err := requireURL("WATCH_URL", c.WatchURL); err != nil {
		return err
	}
	if c.RotationInterval <= 0 {
		return configErr("ROTATION_INTERVAL", "must be positive")
	}
	if c.WatchInterval <= 0 {
		return configErr("WATCH_INTERVAL", "must be positive")
	}
	switch c.JournalDriver {
	case "":
	case JournalSQLite, JournalMySQL:
		if c.JournalDSN == "" {
			return configErr("JOURNAL_DSN", "is required when JOURNAL_DRIVER is set")
		}
	default:
		return configErr("JOURNAL_DRIVER", "must be sqlite|mysql, got %q", c.JournalDriver)
	}
	return nil
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, key, raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return configErr(key, "must be a duration, got %q", raw)
	}
	*dst = d
	return nil
}

func requireURL(key, raw string) error {
	if raw == "" {
		return configErr(key, "is required")
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return configErr(key, "must be an absolute URL")
	}
	return nil
}
