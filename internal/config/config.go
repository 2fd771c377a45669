// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// BrowserMode selects how the page-automation handle is acquired.
type BrowserMode string

const (
	// ModeAttach connects to an already running, already authenticated
	// Chrome started with --remote-debugging-port.
	ModeAttach BrowserMode = "attach"
	// ModeNew launches a fresh Chrome. The user must log in inside it.
	ModeNew BrowserMode = "new"
)

// Config is the root configuration for the application.
type Config struct {
	Logger  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	Browser BrowserConfig `mapstructure:"browser" yaml:"browser"`
	Form    FormConfig    `mapstructure:"form" yaml:"form"`
	Data    DataConfig    `mapstructure:"data" yaml:"data"`
}

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

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig controls how Chrome is attached to or launched.
type BrowserConfig struct {
	Mode              BrowserMode   `mapstructure:"mode" yaml:"mode"`
	DebugHost         string        `mapstructure:"debug_host" yaml:"debug_host"`
	DebugPort         int           `mapstructure:"debug_port" yaml:"debug_port"`
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	DisableGPU        bool          `mapstructure:"disable_gpu" yaml:"disable_gpu"`
	Args              []string      `mapstructure:"args" yaml:"args"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
}

// FormConfig tunes the form filling run.
type FormConfig struct {
	URL         string `mapstructure:"url" yaml:"url"`
	BaseDir     string `mapstructure:"base_dir" yaml:"base_dir"`
	MappingFile string `mapstructure:"mapping_file" yaml:"mapping_file"`
	Retries     int    `mapstructure:"retries" yaml:"retries"`
	// LocateTimeout is the shared deadline for all locator strategies of one field.
	LocateTimeout time.Duration `mapstructure:"locate_timeout" yaml:"locate_timeout"`
	UploadTimeout time.Duration `mapstructure:"upload_timeout" yaml:"upload_timeout"`
	ReadyTimeout  time.Duration `mapstructure:"ready_timeout" yaml:"ready_timeout"`
	StaleBackoff  time.Duration `mapstructure:"stale_backoff" yaml:"stale_backoff"`
	PollInterval  time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	PausePoll     time.Duration `mapstructure:"pause_poll" yaml:"pause_poll"`
	// StrategyFloor is the least time each locator strategy is polled for.
	StrategyFloor time.Duration `mapstructure:"strategy_floor" yaml:"strategy_floor"`
}

// DataConfig points at the spreadsheet holding the person records.
type DataConfig struct {
	File      string `mapstructure:"file" yaml:"file"`
	Sheet     string `mapstructure:"sheet" yaml:"sheet"`
	KeyColumn string `mapstructure:"key_column" yaml:"key_column"`
}

// DebuggerURL is the websocket root of the remote debugging endpoint used in attach mode.
func (b BrowserConfig) DebuggerURL() string {
	host := b.DebugHost
	if host == "" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("ws://%s:%d", host, b.DebugPort)
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "otms-autofill")
	v.SetDefault("logger.log_file", "otms-autofill.log")
	v.SetDefault("logger.max_size", 20)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")

	// -- Browser --
	v.SetDefault("browser.mode", string(ModeAttach))
	v.SetDefault("browser.debug_host", "127.0.0.1")
	v.SetDefault("browser.debug_port", 9222)
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.disable_gpu", false)
	v.SetDefault("browser.navigation_timeout", "60s")

	// -- Form --
	v.SetDefault("form.url", "https://otms.bca.gov.sg/PreEnrolment/NewPreEnrolment.aspx")
	v.SetDefault("form.retries", 3)
	v.SetDefault("form.locate_timeout", "6s")
	v.SetDefault("form.upload_timeout", "15s")
	v.SetDefault("form.ready_timeout", "6s")
	v.SetDefault("form.stale_backoff", "200ms")
	v.SetDefault("form.poll_interval", "100ms")
	v.SetDefault("form.pause_poll", "100ms")
	v.SetDefault("form.strategy_floor", "1s")

	// -- Data --
	v.SetDefault("data.key_column", "sr.no")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.ExpandPaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// ExpandPaths resolves a leading ~ in every user supplied path.
func (c *Config) ExpandPaths() error {
	for _, p := range []*string{&c.Form.BaseDir, &c.Form.MappingFile, &c.Data.File, &c.Logger.LogFile} {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("failed to expand path %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	switch c.Browser.Mode {
	case ModeAttach:
		if c.Browser.DebugPort <= 0 || c.Browser.DebugPort > 65535 {
			return fmt.Errorf("browser.debug_port must be a valid TCP port")
		}
	case ModeNew:
	default:
		return fmt.Errorf("browser.mode must be %q or %q, got %q", ModeAttach, ModeNew, c.Browser.Mode)
	}
	if err := c.Form.Validate(); err != nil {
		return fmt.Errorf("form configuration invalid: %w", err)
	}
	if strings.TrimSpace(c.Data.KeyColumn) == "" {
		return fmt.Errorf("data.key_column is a required configuration field")
	}
	return nil
}

// Validate checks the form timing settings.
func (f *FormConfig) Validate() error {
	if f.Retries <= 0 {
		return fmt.Errorf("retries must be a positive integer")
	}
	if f.LocateTimeout <= 0 {
		return fmt.Errorf("locate_timeout must be a positive duration")
	}
	if f.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be a positive duration")
	}
	if f.PausePoll <= 0 {
		return fmt.Errorf("pause_poll must be a positive duration")
	}
	if f.StaleBackoff < 0 || f.ReadyTimeout < 0 || f.UploadTimeout < 0 || f.StrategyFloor < 0 {
		return fmt.Errorf("stale_backoff, ready_timeout, upload_timeout and strategy_floor must not be negative")
	}
	return nil
}
