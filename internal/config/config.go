package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
)

type (
	Config struct {
		Logging  LoggingConfig     `yaml:"logging"`
		Bot      BotConfig         `yaml:"bot"`
		Server   ServerConfig      `yaml:"server"`
		Status   StatusConfig      `yaml:"status"`
		Settings map[string]string `yaml:"settings"`
	}

	LoggingConfig struct {
		Level      string `yaml:"level"`  // debug, info, warn, error
		Format     string `yaml:"format"` // json, text
		Output     string `yaml:"output"` // stdout, file, both
		File       string `yaml:"file"`
		MaxSize    int    `yaml:"max_size"` // MB
		MaxBackups int    `yaml:"max_backups"`
		MaxAge     int    `yaml:"max_age"` // days
	}

	BotConfig struct {
		Type   string         `yaml:"type"` // echo
		Config map[string]any `yaml:"config"`
	}

	ServerConfig struct {
		Timeout    int `yaml:"timeout"`     // seconds, per API request
		WSAttempts int `yaml:"ws_attempts"` // dial attempts per channel generation
	}

	StatusConfig struct {
		Enabled     bool   `yaml:"enabled"`
		Bind        string `yaml:"bind"`
		MetricsBind string `yaml:"metrics_bind"`
	}
)

// Default is the configuration written on first run.
func Default() *Config {
	cfg := &Config{
		Logging: LoggingConfig{Level: "info", Format: "text", Output: "stdout"},
		Bot:     BotConfig{Type: "echo", Config: map[string]any{"delay_ms": 700}},
		Status:  StatusConfig{Enabled: false, Bind: "127.0.0.1:9610", MetricsBind: "127.0.0.1:9611"},
	}
	_ = cfg.Validate()
	return cfg
}

// UpdateByName replaces the section called name with value. Settings is the
// only section rewritten at runtime.
func (c *Config) UpdateByName(name string, value any) error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	switch strings.ToLower(strings.TrimSpace(name)) {
	case "settings":
		typed, ok := value.(map[string]string)
		if !ok {
			return fmt.Errorf("section 'settings' requires map[string]string, got %T", value)
		}
		next := make(map[string]string, len(typed))
		for k, v := range typed {
			next[k] = v
		}
		c.Settings = next
	case "":
		return fmt.Errorf("section name is required")
	default:
		return fmt.Errorf("section %q cannot be updated at runtime", name)
	}
	return nil
}

// Clone deep-copies the config through a JSON round trip.
func (c *Config) Clone() (*Config, error) {
	if c == nil {
		return nil, fmt.Errorf("config is nil")
	}

	raw, err := sonic.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}

	var cloned Config
	if err := sonic.Unmarshal(raw, &cloned); err != nil {
		return nil, fmt.Errorf("unmarshal config clone: %w", err)
	}

	return &cloned, nil
}

// Hash digests the config with sorted map keys, so equal configs hash equal.
func (c *Config) Hash() string {
	json := sonic.Config{SortMapKeys: true, UseNumber: true}.Froze()
	raw, _ := json.Marshal(c)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
