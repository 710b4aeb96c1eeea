// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Interface defines read access to the application configuration so that
// components can be wired with fakes in tests.
type Interface interface {
	Logger() LoggerConfig
	Server() ServerConfig
	RPC() RPCConfig
	Database() DatabaseConfig
	Interactions() InteractionsConfig
	Browser() BrowserConfig
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg       LoggerConfig       `mapstructure:"logger" yaml:"logger"`
	ServerCfg       ServerConfig       `mapstructure:"server" yaml:"server"`
	RPCCfg          RPCConfig          `mapstructure:"rpc" yaml:"rpc"`
	DatabaseCfg     DatabaseConfig     `mapstructure:"database" yaml:"database"`
	InteractionsCfg InteractionsConfig `mapstructure:"interactions" yaml:"interactions"`
	BrowserCfg      BrowserConfig      `mapstructure:"browser" yaml:"browser"`
}

func (c *Config) Logger() LoggerConfig             { return c.LoggerCfg }
func (c *Config) Server() ServerConfig             { return c.ServerCfg }
func (c *Config) RPC() RPCConfig                   { return c.RPCCfg }
func (c *Config) Database() DatabaseConfig         { return c.DatabaseCfg }
func (c *Config) Interactions() InteractionsConfig { return c.InteractionsCfg }
func (c *Config) Browser() BrowserConfig           { return c.BrowserCfg }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig names the terminal color used for each log level.
type ColorConfig struct {
	Debug string `mapstructure:"debug" yaml:"debug"`
	Info  string `mapstructure:"info" yaml:"info"`
	Warn  string `mapstructure:"warn" yaml:"warn"`
	Error string `mapstructure:"error" yaml:"error"`
	Fatal string `mapstructure:"fatal" yaml:"fatal"`
}

// ServerConfig configures the HTTP/WebSocket listener.
type ServerConfig struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	ReadLimit       int64         `mapstructure:"read_limit" yaml:"read_limit"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// RPCConfig configures the request-correlation layer.
type RPCConfig struct {
	DefaultTimeout time.Duration `mapstructure:"default_timeout" yaml:"default_timeout"`
	ExecuteTimeout time.Duration `mapstructure:"execute_timeout" yaml:"execute_timeout"`
	// RateLimit is the number of inbound requests per second accepted on one
	// connection. Zero disables limiting.
	RateLimit  float64 `mapstructure:"rate_limit" yaml:"rate_limit"`
	RateBurst  int     `mapstructure:"rate_burst" yaml:"rate_burst"`
	SendBuffer int     `mapstructure:"send_buffer" yaml:"send_buffer"`
}

// DatabaseConfig holds the Postgres connection for the macro repository.
// An empty URL keeps macros in memory only.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// InteractionsConfig configures the interaction log.
type InteractionsConfig struct {
	// MaxEvents bounds the log; the oldest events are evicted past it. Zero means unbounded.
	MaxEvents   int             `mapstructure:"max_events" yaml:"max_events"`
	JournalPath string          `mapstructure:"journal_path" yaml:"journal_path"`
	Retention   RetentionConfig `mapstructure:"retention" yaml:"retention"`
}

// RetentionConfig schedules periodic age-based pruning.
type RetentionConfig struct {
	Schedule string        `mapstructure:"schedule" yaml:"schedule"`
	MaxAge   time.Duration `mapstructure:"max_age" yaml:"max_age"`
}

// Enabled reports whether a retention job should be scheduled.
func (r RetentionConfig) Enabled() bool {
	return r.Schedule != "" && r.MaxAge > 0
}

// Executor kinds for BrowserConfig.Executor.
const (
	ExecutorExtension = "extension"
	ExecutorCDP       = "cdp"
	ExecutorNone      = "none"
)

// BrowserConfig selects how macros are run.
type BrowserConfig struct {
	Executor   string        `mapstructure:"executor" yaml:"executor"`
	Headless   bool          `mapstructure:"headless" yaml:"headless"`
	CDPTimeout time.Duration `mapstructure:"cdp_timeout" yaml:"cdp_timeout"`
	Args       []string      `mapstructure:"args" yaml:"args"`
}

// NewDefaultConfig creates a configuration populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for every configuration key.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "unibrowse")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Server --
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 9009)
	v.SetDefault("server.read_limit", 4<<20)
	v.SetDefault("server.shutdown_timeout", "10s")

	// -- RPC --
	v.SetDefault("rpc.default_timeout", "10s")
	v.SetDefault("rpc.execute_timeout", "15s")
	v.SetDefault("rpc.rate_limit", 200.0)
	v.SetDefault("rpc.rate_burst", 50)
	v.SetDefault("rpc.send_buffer", 256)

	// -- Database --
	v.SetDefault("database.url", "")

	// -- Interactions --
	v.SetDefault("interactions.max_events", 10000)
	v.SetDefault("interactions.journal_path", "")
	v.SetDefault("interactions.retention.schedule", "")
	v.SetDefault("interactions.retention.max_age", "0s")

	// -- Browser --
	v.SetDefault("browser.executor", ExecutorExtension)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.cdp_timeout", "30s")
}

// NewConfigFromViper unmarshals, normalizes and validates a configuration.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	v.BindEnv("database.url", "UNIBROWSE_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}
	cfg.BrowserCfg.Executor = strings.ToLower(strings.TrimSpace(cfg.BrowserCfg.Executor))
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Config) expandPaths() error {
	if c.InteractionsCfg.JournalPath == "" {
		return nil
	}
	p, err := homedir.Expand(c.InteractionsCfg.JournalPath)
	if err != nil {
		return fmt.Errorf("failed to expand interactions.journal_path: %w", err)
	}
	c.InteractionsCfg.JournalPath = p
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.ServerCfg.Port <= 0 || c.ServerCfg.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if c.RPCCfg.DefaultTimeout <= 0 {
		return fmt.Errorf("rpc.default_timeout must be a positive duration")
	}
	if c.RPCCfg.ExecuteTimeout <= 0 {
		return fmt.Errorf("rpc.execute_timeout must be a positive duration")
	}
	if c.RPCCfg.RateLimit < 0 {
		return fmt.Errorf("rpc.rate_limit must not be negative")
	}
	if c.InteractionsCfg.MaxEvents < 0 {
		return fmt.Errorf("interactions.max_events must not be negative")
	}
	if err := c.InteractionsCfg.Retention.Validate(); err != nil {
		return fmt.Errorf("interactions.retention configuration invalid: %w", err)
	}
	switch c.BrowserCfg.Executor {
	case ExecutorExtension, ExecutorCDP, ExecutorNone:
	default:
		return fmt.Errorf("browser.executor must be one of %q, %q or %q", ExecutorExtension, ExecutorCDP, ExecutorNone)
	}
	return nil
}

// Validate checks that schedule and max_age are set together.
func (r *RetentionConfig) Validate() error {
	if r.Schedule == "" && r.MaxAge == 0 {
		return nil
	}
	if r.Schedule == "" {
		return fmt.Errorf("schedule is required when max_age is set")
	}
	if r.MaxAge <= 0 {
		return fmt.Errorf("max_age must be a positive duration when schedule is set")
	}
	return nil
}
