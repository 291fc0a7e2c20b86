package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Controllers     []ControllerConfig `yaml:"controllers"`
	Database        DatabaseConfig     `yaml:"database"`
	Log             LogConfig          `yaml:"log"`
	Channel         ChannelConfig      `yaml:"channel"`
	Reconnect       ReconnectConfig    `yaml:"reconnect"`
	Segments        SegmentsConfig     `yaml:"segments"`
	Discovery       DiscoveryConfig    `yaml:"discovery"`
	API             APIConfig          `yaml:"api"`
	ShutdownTimeout Duration           `yaml:"shutdown_timeout"` // General shutdown timeout for graceful stops
}

// ControllerConfig describes one WLED controller
type ControllerConfig struct {
	ID      string `yaml:"id"`
	Address string `yaml:"address"` // host[:port] or http(s):// URL
	Name    string `yaml:"name"`
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level"`
	Colors bool   `yaml:"colors"`
	JSON   bool   `yaml:"json"`
}

// ChannelConfig tunes the live state channels
type ChannelConfig struct {
	CoalesceInterval Duration `yaml:"coalesce_interval"` // Window for merging rapid updates (default: 50ms)
	RateLimitRPS     float64  `yaml:"rate_limit_rps"`    // Max sends per second per controller, 0 = unlimited
	RequestTimeout   Duration `yaml:"request_timeout"`   // HTTP timeout for controller requests
}

// ReconnectConfig contains push socket reconnect settings
type ReconnectConfig struct {
	MinBackoff    Duration `yaml:"min_backoff"`    // Minimum backoff between reconnects (default: 1s)
	MaxBackoff    Duration `yaml:"max_backoff"`    // Maximum backoff between reconnects (default: 1m)
	Multiplier    float64  `yaml:"multiplier"`     // Backoff multiplier (default: 2.0)
	MaxReconnects int      `yaml:"max_reconnects"` // Max reconnect attempts, 0 = infinite (default: 0)
}

// SegmentsConfig contains zone definition storage settings
type SegmentsConfig struct {
	RemotePath   string   `yaml:"remote_path"`   // File on the controller holding the zones
	SyncDebounce Duration `yaml:"sync_debounce"` // Quiet period before writing to the controller
	Bucket       string   `yaml:"bucket"`        // Local KV bucket name
}

// DiscoveryConfig contains mDNS discovery settings
type DiscoveryConfig struct {
	Enabled bool     `yaml:"enabled"`
	Timeout Duration `yaml:"timeout"`
}

// APIConfig contains control API server settings
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// Addr returns the listen address
func (c APIConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Controller returns the controller with the given id
func (c *Config) Controller(id string) (ControllerConfig, bool) {
	for _, ctrl := range c.Controllers {
		if ctrl.ID == id {
			return ctrl, true
		}
	}
	return ControllerConfig{}, false
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse parses configuration data and applies defaults
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) applyDefaults() error {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./wledsync.sqlite"
	}

	// Controllers: address is required, id defaults to the address
	seen := make(map[string]bool, len(cfg.Controllers))
	for i := range cfg.Controllers {
		ctrl := &cfg.Controllers[i]
		ctrl.Address = strings.TrimSpace(ctrl.Address)
		if ctrl.Address == "" {
			return fmt.Errorf("controllers[%d]: address is required", i)
		}
		if ctrl.ID == "" {
			ctrl.ID = ctrl.Address
		}
		if ctrl.Name == "" {
			ctrl.Name = ctrl.ID
		}
		if seen[ctrl.ID] {
			return fmt.Errorf("controllers[%d]: duplicate id %q", i, ctrl.ID)
		}
		seen[ctrl.ID] = true
	}

	// Channel defaults
	if cfg.Channel.CoalesceInterval == 0 {
		cfg.Channel.CoalesceInterval = Duration(50 * time.Millisecond)
	}
	if cfg.Channel.RequestTimeout == 0 {
		cfg.Channel.RequestTimeout = Duration(5 * time.Second)
	}
	if cfg.Channel.RateLimitRPS == 0 {
		cfg.Channel.RateLimitRPS = 10.0
	}

	// Reconnect defaults
	if cfg.Reconnect.MinBackoff == 0 {
		cfg.Reconnect.MinBackoff = Duration(1 * time.Second)
	}
	if cfg.Reconnect.MaxBackoff == 0 {
		cfg.Reconnect.MaxBackoff = Duration(1 * time.Minute)
	}
	if cfg.Reconnect.Multiplier == 0 {
		cfg.Reconnect.Multiplier = 2.0
	}
	// MaxReconnects defaults to 0 (infinite), no need to set

	// Segment storage defaults
	if cfg.Segments.RemotePath == "" {
		cfg.Segments.RemotePath = "/segments.json"
	}
	if cfg.Segments.SyncDebounce == 0 {
		cfg.Segments.SyncDebounce = Duration(2 * time.Second)
	}
	if cfg.Segments.Bucket == "" {
		cfg.Segments.Bucket = "segments"
	}

	if cfg.Discovery.Timeout == 0 {
		cfg.Discovery.Timeout = Duration(3 * time.Second)
	}

	// API defaults
	if cfg.API.Port == 0 {
		cfg.API.Port = 8080
	}
	if cfg.API.Host == "" {
		cfg.API.Host = "0.0.0.0"
	}

	// General shutdown timeout
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = Duration(5 * time.Second)
	}
	return nil
}

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	// Match ${VAR} or ${VAR:default}
	re := regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

	return re.ReplaceAllStringFunc(input, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}
