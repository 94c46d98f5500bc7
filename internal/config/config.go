package config

import (
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Transport       TransportConfig  `yaml:"transport"`
	Controller      ControllerConfig `yaml:"controller"`
	Database        DatabaseConfig   `yaml:"database"`
	Journal         JournalConfig    `yaml:"journal"`
	Log             LogConfig        `yaml:"log"`
	MQTT            MQTTConfig       `yaml:"mqtt"`
	Script          string           `yaml:"script"` // optional Lua automation script
	ShutdownTimeout Duration         `yaml:"shutdown_timeout"`
}

// TransportConfig contains BLE transport settings.
type TransportConfig struct {
	Scan *bool `yaml:"scan"` // discovery and auto-reconnect, on unless set to false
}

// ScanEnabled reports whether scanning is on. Defaults to true.
func (t *TransportConfig) ScanEnabled() bool {
	return t.Scan == nil || *t.Scan
}

// ControllerConfig tunes the protocol engine timing.
type ControllerConfig struct {
	Debounce          Duration `yaml:"debounce"`           // quiescence window for slider input
	SettleDelay       Duration `yaml:"settle_delay"`       // power-on to brightness gap
	InitStagger       Duration `yaml:"init_stagger"`       // spacing of initialization queries
	RestoreBrightness float64  `yaml:"restore_brightness"` // fallback for turn-on with no memory
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// JournalConfig contains event-history settings
type JournalConfig struct {
	Retention Duration `yaml:"retention"` // entries older than this are pruned
}

// LogConfig contains logging settings
type LogConfig struct {
	Level   string `yaml:"level"`
	UseJSON bool   `yaml:"json"`
	Colors  bool   `yaml:"colors"`
}

// GetLevel returns the configured level with default
func (c *LogConfig) GetLevel() string {
	if c.Level == "" {
		return "info"
	}
	return c.Level
}

// MQTTConfig contains the optional MQTT bridge settings.
type MQTTConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"` // e.g. tcp://localhost:1883
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Topic    string `yaml:"topic"` // root topic prefix
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

	// Expand environment variables
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	// Set defaults
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./glowd.sqlite"
	}

	// Controller defaults
	if cfg.Controller.Debounce == 0 {
		cfg.Controller.Debounce = Duration(50 * time.Millisecond)
	}
	if cfg.Controller.SettleDelay == 0 {
		cfg.Controller.SettleDelay = Duration(300 * time.Millisecond)
	}
	if cfg.Controller.InitStagger == 0 {
		cfg.Controller.InitStagger = Duration(100 * time.Millisecond)
	}
	if cfg.Controller.RestoreBrightness == 0 {
		cfg.Controller.RestoreBrightness = 50
	}

	// Journal defaults
	if cfg.Journal.Retention == 0 {
		cfg.Journal.Retention = Duration(30 * 24 * time.Hour)
	}

	// MQTT defaults
	if cfg.MQTT.Topic == "" {
		cfg.MQTT.Topic = "glowd"
	}

	// General shutdown timeout
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = Duration(5 * time.Second)
	}

	return &cfg, nil
}

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
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
