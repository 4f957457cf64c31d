// Package config loads the viewer configuration from defaults, an optional
// config file, ALEXA_VIEWER_* environment variables and command-line flags, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment overrides, e.g. ALEXA_VIEWER_LOG_LEVEL.
const EnvPrefix = "ALEXA_VIEWER"

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("config: invalid")

// Config holds the viewer settings.
type Config struct {
	Host        string        `mapstructure:"host"`
	Port        int           `mapstructure:"port"`
	Token       string        `mapstructure:"token"`
	AppID       string        `mapstructure:"app_id"`
	CallTimeout time.Duration `mapstructure:"call_timeout"`
	Heartbeat   time.Duration `mapstructure:"heartbeat"`
	RateLimit   float64       `mapstructure:"rate_limit"` // calls per second, 0 is unlimited
	RateBurst   int           `mapstructure:"rate_burst"`
	LogLevel    string        `mapstructure:"log_level"`
	LogFormat   string        `mapstructure:"log_format"`
	MetricsAddr string        `mapstructure:"metrics_addr"` // empty disables the metrics server
	Etcd        EtcdConfig    `mapstructure:"etcd"`
}

// EtcdConfig names where to look the binder endpoint up.
type EtcdConfig struct {
	Endpoints []string `mapstructure:"endpoints"`
	Binding   string   `mapstructure:"binding"`
}

// Enabled reports whether the endpoint should be resolved through etcd.
func (e EtcdConfig) Enabled() bool {
	return len(e.Endpoints) > 0 && e.Binding != ""
}

// Defaults contains default values.
var Defaults = struct {
	Host        string
	AppID       string
	CallTimeout time.Duration
	Heartbeat   time.Duration
	RateBurst   int
	LogLevel    string
	LogFormat   string
	EtcdBinding string
}{
	Host:        "localhost",
	AppID:       "alexa-viewer",
	CallTimeout: 30 * time.Second,
	Heartbeat:   30 * time.Second,
	RateBurst:   1,
	LogLevel:    "info",
	LogFormat:   "text",
	EtcdBinding: "vshl-capabilities",
}

// SetDefaults registers every key with its default, which also makes each of
// them visible to the environment lookup.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("host", Defaults.Host)
	v.SetDefault("port", 0)
	v.SetDefault("token", "")
	v.SetDefault("app_id", Defaults.AppID)
	v.SetDefault("call_timeout", Defaults.CallTimeout)
	v.SetDefault("heartbeat", Defaults.Heartbeat)
	v.SetDefault("rate_limit", 0.0)
	v.SetDefault("rate_burst", Defaults.RateBurst)
	v.SetDefault("log_level", Defaults.LogLevel)
	v.SetDefault("log_format", Defaults.LogFormat)
	v.SetDefault("metrics_addr", "")
	v.SetDefault("etcd.endpoints", []string{})
	v.SetDefault("etcd.binding", Defaults.EtcdBinding)
}

// BindFlags defines the command-line flags on cmd and binds them to v.
func BindFlags(cmd *cobra.Command, v *viper.Viper) {
	f := cmd.Flags()

	f.String("config", "", "config file path")
	f.String("host", "", "binder host (default localhost)")
	f.String("app-id", "", "application id raised on render_template (default alexa-viewer)")
	f.Duration("call-timeout", 0, "deadline of calls without one (default 30s)")
	f.Duration("heartbeat", 0, "WebSocket ping interval, negative disables (default 30s)")
	f.Float64("rate-limit", 0, "maximum synchronous calls per second, 0 is unlimited")
	f.Int("rate-burst", 0, "burst allowed above the rate limit (default 1)")
	f.String("log-level", "", "log level (debug, info, warn, error)")
	f.String("log-format", "", "log format (json, text)")
	f.String("metrics-addr", "", "metrics HTTP listen address, empty disables")
	f.StringSlice("etcd-endpoints", nil, "etcd endpoints to resolve the binder from")
	f.String("etcd-binding", "", "binding name to resolve in etcd (default vshl-capabilities)")

	_ = v.BindPFlag("host", f.Lookup("host"))
	_ = v.BindPFlag("app_id", f.Lookup("app-id"))
	_ = v.BindPFlag("call_timeout", f.Lookup("call-timeout"))
	_ = v.BindPFlag("heartbeat", f.Lookup("heartbeat"))
	_ = v.BindPFlag("rate_limit", f.Lookup("rate-limit"))
	_ = v.BindPFlag("rate_burst", f.Lookup("rate-burst"))
	_ = v.BindPFlag("log_level", f.Lookup("log-level"))
	_ = v.BindPFlag("log_format", f.Lookup("log-format"))
	_ = v.BindPFlag("metrics_addr", f.Lookup("metrics-addr"))
	_ = v.BindPFlag("etcd.endpoints", f.Lookup("etcd-endpoints"))
	_ = v.BindPFlag("etcd.binding", f.Lookup("etcd-binding"))
}

// Load reads the configuration into a Config. configFile may be empty, in
// which case alexa-viewer.{yaml,json,toml,...} is looked for in the working
// directory and in $HOME/.config/alexa-viewer; a missing file is not an error.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("alexa-viewer")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/alexa-viewer")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || configFile != "" {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	return &cfg, nil
}

// Validate checks the settings. The port and token may be omitted when the
// endpoint is resolved through etcd.
func (c *Config) Validate() error {
	if !c.Etcd.Enabled() {
		if c.Port < 1 || c.Port > 65535 {
			return fmt.Errorf("%w: port %d out of range", ErrInvalid, c.Port)
		}
		if c.Token == "" {
			return fmt.Errorf("%w: token is required", ErrInvalid)
		}
	}
	if c.AppID == "" {
		return fmt.Errorf("%w: app_id is required", ErrInvalid)
	}
	if c.CallTimeout <= 0 {
		return fmt.Errorf("%w: call_timeout must be positive", ErrInvalid)
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("%w: rate_limit must not be negative", ErrInvalid)
	}
	if c.RateLimit > 0 && c.RateBurst < 1 {
		return fmt.Errorf("%w: rate_burst must be at least 1", ErrInvalid)
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("%w: log_format %q", ErrInvalid, c.LogFormat)
	}
	return nil
}
