package config

import (
	"time"
)

// Default setting values.
const (
	DefaultPIOPath      = "pio"
	DefaultServerAddr   = "127.0.0.1:8765"
	DefaultRefreshDelay = 500 * time.Millisecond
	DefaultLogLevel     = "info"
	DefaultLogFormat    = "text"
)

const defaultRefreshDelayMS = 500

func defaults() map[string]any {
	return map[string]any{
		"monitor": map[string]any{
			"autoCloseSerialMonitor":   true,
			"reopenSerialMonitorDelay": 0,
		},
		"pio": map[string]any{
			"path": DefaultPIOPath,
		},
		"logging": map[string]any{
			"level":  DefaultLogLevel,
			"format": DefaultLogFormat,
		},
		"server": map[string]any{
			"addr": DefaultServerAddr,
		},
		"tasks": map[string]any{
			"refreshDelay": defaultRefreshDelayMS,
		},
	}
}

// MonitorConfig controls serial monitor coexistence.
type MonitorConfig struct {
	// AutoCloseSerialMonitor enables closing monitors during upload and test.
	AutoCloseSerialMonitor bool
	// ReopenSerialMonitorDelay is waited before monitors are reopened.
	ReopenSerialMonitorDelay time.Duration
}

// PIOConfig locates the PlatformIO CLI.
type PIOConfig struct {
	Path string
}

// LoggingConfig controls the process logger.
type LoggingConfig struct {
	Level  string
	Format string
}

// ServerConfig controls the HTTP bridge.
type ServerConfig struct {
	Addr string
}

// TasksConfig controls the task registry.
type TasksConfig struct {
	// RefreshDelay is the debounce window for refresh requests.
	RefreshDelay time.Duration
}

// Monitor returns the monitor section.
func (c *Config) Monitor() MonitorConfig {
	return MonitorConfig{
		AutoCloseSerialMonitor:   c.AutoCloseSerialMonitor(),
		ReopenSerialMonitorDelay: c.ReopenSerialMonitorDelay(),
	}
}

// AutoCloseSerialMonitor reports monitor.autoCloseSerialMonitor.
func (c *Config) AutoCloseSerialMonitor() bool {
	return c.getBoolOr("monitor.autoCloseSerialMonitor", true)
}

// ReopenSerialMonitorDelay reports monitor.reopenSerialMonitorDelay, given
// in milliseconds. Negative values are treated as zero.
func (c *Config) ReopenSerialMonitorDelay() time.Duration {
	ms := c.getIntOr("monitor.reopenSerialMonitorDelay", 0)
	if ms < 0 {
		ms = 0
	}
	return time.Duration(ms) * time.Millisecond
}

// PIO returns the pio section.
func (c *Config) PIO() PIOConfig {
	path := c.getStringOr("pio.path", DefaultPIOPath)
	if path == "" {
		path = DefaultPIOPath
	}
	return PIOConfig{Path: path}
}

// Logging returns the logging section.
func (c *Config) Logging() LoggingConfig {
	return LoggingConfig{
		Level:  c.getStringOr("logging.level", DefaultLogLevel),
		Format: c.getStringOr("logging.format", DefaultLogFormat),
	}
}

// Server returns the server section.
func (c *Config) Server() ServerConfig {
	return ServerConfig{Addr: c.getStringOr("server.addr", DefaultServerAddr)}
}

// Tasks returns the tasks section.
func (c *Config) Tasks() TasksConfig {
	ms := c.getIntOr("tasks.refreshDelay", defaultRefreshDelayMS)
	if ms <= 0 {
		return TasksConfig{RefreshDelay: DefaultRefreshDelay}
	}
	return TasksConfig{RefreshDelay: time.Duration(ms) * time.Millisecond}
}

// GetBool returns a boolean setting.
func (c *Config) GetBool(path string) (bool, error) {
	v, ok := c.Get(path)
	if !ok {
		return false, ErrSettingNotFound
	}
	b, ok := v.(bool)
	if !ok {
		return false, ErrTypeMismatch
	}
	return b, nil
}

// GetInt returns an integer setting. Whole floats are accepted.
func (c *Config) GetInt(path string) (int, error) {
	v, ok := c.Get(path)
	if !ok {
		return 0, ErrSettingNotFound
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case uint64:
		return int(n), nil
	case float64:
		if n != float64(int(n)) {
			return 0, ErrTypeMismatch
		}
		return int(n), nil
	default:
		return 0, ErrTypeMismatch
	}
}

// GetString returns a string setting.
func (c *Config) GetString(path string) (string, error) {
	v, ok := c.Get(path)
	if !ok {
		return "", ErrSettingNotFound
	}
	s, ok := v.(string)
	if !ok {
		return "", ErrTypeMismatch
	}
	return s, nil
}

func (c *Config) getBoolOr(path string, defaultValue bool) bool {
	v, err := c.GetBool(path)
	if err != nil {
		return defaultValue
	}
	return v
}

func (c *Config) getIntOr(path string, defaultValue int) int {
	v, err := c.GetInt(path)
	if err != nil {
		return defaultValue
	}
	return v
}

func (c *Config) getStringOr(path string, defaultValue string) string {
	v, err := c.GetString(path)
	if err != nil {
		return defaultValue
	}
	return v
}
