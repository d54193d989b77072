package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tgifai/kahlabot/internal/consts"
)

const (
	defaultServerTimeoutSec = 30
	defaultWSAttempts       = 5
	defaultStatusBind       = "127.0.0.1:9610"
	defaultMetricsBind      = "127.0.0.1:9611"
)

// Validate normalises the config in place and fills defaults.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config cannot be nil")
	}

	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	c.Logging.Output = strings.ToLower(strings.TrimSpace(c.Logging.Output))
	switch c.Logging.Output {
	case "":
		c.Logging.Output = "stdout"
	case "stdout":
	case "file", "both":
		if strings.TrimSpace(c.Logging.File) == "" {
			c.Logging.File = consts.DefaultLogPath()
		}
	default:
		return fmt.Errorf("invalid logging.output: %s", c.Logging.Output)
	}

	c.Bot.Type = strings.ToLower(strings.TrimSpace(c.Bot.Type))
	if c.Bot.Type == "" {
		c.Bot.Type = "echo"
	}
	if c.Bot.Config == nil {
		c.Bot.Config = map[string]any{}
	}

	if c.Server.Timeout <= 0 {
		c.Server.Timeout = defaultServerTimeoutSec
	}
	if c.Server.WSAttempts <= 0 {
		c.Server.WSAttempts = defaultWSAttempts
	}

	c.Status.Bind = strings.TrimSpace(c.Status.Bind)
	if c.Status.Bind == "" {
		c.Status.Bind = defaultStatusBind
	}
	c.Status.MetricsBind = strings.TrimSpace(c.Status.MetricsBind)
	if c.Status.MetricsBind == "" {
		c.Status.MetricsBind = defaultMetricsBind
	}
	if c.Status.Enabled && c.Status.Bind == c.Status.MetricsBind {
		return errors.New("status.bind and status.metrics_bind must differ")
	}

	normalized := make(map[string]string, len(c.Settings))
	for key, value := range c.Settings {
		name := strings.TrimSpace(key)
		if name == "" {
			return errors.New("setting name cannot be empty")
		}
		normalized[name] = value
	}
	c.Settings = normalized
	return nil
}
