// Package config loads the offline-cache configuration from a YAML file,
// OFFLINE_CACHE_* environment variables and defaults.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	fetchpolicy "github.com/always-cache/offline-cache/pkg/fetch-policy"
)

// EnvPrefix is the prefix of environment variable overrides,
// e.g. OFFLINE_CACHE_CACHE_VERSION=v4.
const EnvPrefix = "OFFLINE_CACHE"

// Config represents the offline-cache configuration.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (OFFLINE_CACHE_*)
//  2. Configuration file (YAML)
//  3. Default values
type Config struct {
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Site    SiteConfig    `mapstructure:"site" yaml:"site"`
	Cache   CacheConfig   `mapstructure:"cache" yaml:"cache"`
	Worker  WorkerConfig  `mapstructure:"worker" yaml:"worker"`
	Admin   AdminConfig   `mapstructure:"admin" yaml:"admin"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level: trace, debug, info, warn, error
	Level string `mapstructure:"level" validate:"required,oneof=trace debug info warn error" yaml:"level"`

	// Format is either console (human readable) or json
	Format string `mapstructure:"format" validate:"required,oneof=console json" yaml:"format"`
}

type ServerConfig struct {
	// Listen is the address the proxy listens on
	Listen string `mapstructure:"listen" validate:"required,hostname_port" yaml:"listen"`

	// ShutdownTimeout is the maximum time to wait for in-flight requests on shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0" yaml:"shutdown_timeout"`
}

// SiteConfig describes the portal the worker serves.
type SiteConfig struct {
	// Origin is the public origin of the portal, e.g. https://portal.example
	Origin string `mapstructure:"origin" validate:"required,url" yaml:"origin"`

	// Upstream is where same-origin requests are sent. Defaults to Origin.
	Upstream string `mapstructure:"upstream" validate:"omitempty,url" yaml:"upstream,omitempty"`

	// Host overrides the Host header and TLS server name sent upstream
	Host string `mapstructure:"host" yaml:"host,omitempty"`

	// TrustForwardedHeaders honours X-Forwarded-Proto/Host from clients.
	// Enable only when a proxy in front of offline-cache sets them.
	TrustForwardedHeaders bool `mapstructure:"trust_forwarded_headers" yaml:"trust_forwarded_headers"`

	// Timeout of a single upstream request
	Timeout time.Duration `mapstructure:"timeout" validate:"gt=0" yaml:"timeout"`
}

// CacheConfig selects the generation store and the current generation.
type CacheConfig struct {
	// Provider is one of sqlite, badger, memory
	Provider string `mapstructure:"provider" validate:"required,oneof=sqlite badger memory" yaml:"provider"`

	// Path is the sqlite file or the badger directory.
	// Empty keeps the store in memory.
	Path string `mapstructure:"path" yaml:"path"`

	// Prefix is shared by all generations of this site
	Prefix string `mapstructure:"prefix" validate:"required" yaml:"prefix"`

	// Version is bumped on every release; prefix + version is the current generation
	Version string `mapstructure:"version" validate:"required" yaml:"version"`
}

type WorkerConfig struct {
	// Precache lists the paths stored on install
	Precache []string `mapstructure:"precache" validate:"dive,startswith=/" yaml:"precache"`

	// SkipWaiting activates the worker right after install
	SkipWaiting bool `mapstructure:"skip_waiting" yaml:"skip_waiting"`

	// Development logs precache failures as warnings
	Development bool `mapstructure:"development" yaml:"development"`

	// NetworkFirst lists path substrings served network-first
	NetworkFirst []string `mapstructure:"network_first" yaml:"network_first"`

	// Rules are evaluated before NetworkFirst; first match wins
	Rules fetchpolicy.Rules `mapstructure:"rules" validate:"dive" yaml:"rules,omitempty"`
}

// AdminConfig controls the diagnostics API.
// The API has no authentication. Without Listen it is mounted on the public
// proxy listener, so set Listen (e.g. 127.0.0.1:9090) wherever clients are untrusted.
type AdminConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Listen is a separate address for the admin API
	Listen string `mapstructure:"listen" validate:"omitempty,hostname_port" yaml:"listen,omitempty"`

	// Prefix is the path the admin API is mounted under
	Prefix string `mapstructure:"prefix" validate:"omitempty,startswith=/" yaml:"prefix"`
}

type MetricsConfig struct {
	// Enabled exposes Prometheus metrics under the admin prefix
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// OriginURL returns the parsed site origin.
func (c *Config) OriginURL() (*url.URL, error) {
	return parseAbsolute(c.Site.Origin)
}

// UpstreamURL returns the parsed upstream, falling back to the origin.
func (c *Config) UpstreamURL() (*url.URL, error) {
	if c.Site.Upstream == "" {
		return c.OriginURL()
	}
	return parseAbsolute(c.Site.Upstream)
}

// FetchRules returns the configured rules followed by a network-first rule
// for the NetworkFirst substrings.
func (c *Config) FetchRules() fetchpolicy.Rules {
	rules := make(fetchpolicy.Rules, 0, len(c.Worker.Rules)+1)
	rules = append(rules, c.Worker.Rules...)
	if len(c.Worker.NetworkFirst) > 0 {
		rules = append(rules, fetchpolicy.NetworkFirstFor(c.Worker.NetworkFirst...))
	}
	return rules
}

func parseAbsolute(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if !u.IsAbs() || u.Host == "" {
		return nil, fmt.Errorf("not an absolute URL: %s", raw)
	}
	return u, nil
}

// Load loads configuration from file, environment, and defaults.
// A missing config file is not an error; defaults and environment are used.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	if _, err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// SaveConfig writes the configuration to path as YAML.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func setupViper(v *viper.Viper, configPath string) {
	// Example: OFFLINE_CACHE_SITE_ORIGIN=https://portal.example
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvKeys(v, reflect.TypeOf(Config{}), "")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("offline-cache")
		v.SetConfigType("yaml")
	}
}

// bindEnvKeys registers every leaf key so that environment variables are
// honoured even when the key is missing from the config file.
func bindEnvKeys(v *viper.Viper, t reflect.Type, prefix string) {
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		key := field.Tag.Get("mapstructure")
		if key == "" {
			continue
		}
		if prefix != "" {
			key = prefix + "." + key
		}
		if field.Type.Kind() == reflect.Struct {
			bindEnvKeys(v, field.Type, key)
			continue
		}
		v.BindEnv(key)
	}
}

// readConfigFile returns whether a config file was found.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

// durationDecodeHook converts strings like "30s" or "5m" to time.Duration.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			// YAML often deserializes numbers as float64
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}
