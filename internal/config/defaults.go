package config

import (
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// ApplyDefaults fills every zero value with its default.
// Explicit values are preserved.
func ApplyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	cfg.Logging.Level = strings.ToLower(cfg.Logging.Level)
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "console"
	}

	if cfg.Server.Listen == "" {
		cfg.Server.Listen = ":8080"
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}

	if cfg.Site.Timeout == 0 {
		cfg.Site.Timeout = 15 * time.Second
	}

	if cfg.Cache.Provider == "" {
		cfg.Cache.Provider = "sqlite"
	}
	if cfg.Cache.Prefix == "" {
		cfg.Cache.Prefix = "portal-cache-"
	}

	if cfg.Worker.Precache == nil {
		cfg.Worker.Precache = []string{"/", "/index.html", "/manifest.webmanifest"}
	}
	if cfg.Worker.NetworkFirst == nil {
		cfg.Worker.NetworkFirst = []string{"logo", "favicon", "icon"}
	}

	if cfg.Admin.Prefix == "" {
		cfg.Admin.Prefix = "/.offline-cache"
	}
}

// GetDefaultConfig returns the configuration written by `config init`.
func GetDefaultConfig() *Config {
	cfg := &Config{
		Site: SiteConfig{
			Origin: "http://localhost:3000",
		},
		Cache: CacheConfig{
			Path:    "offline-cache.db",
			Version: "v1",
		},
		Worker: WorkerConfig{
			SkipWaiting: true,
		},
		Admin: AdminConfig{
			Enabled: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
	ApplyDefaults(cfg)
	return cfg
}

// Validate checks the struct tags of the configuration.
func Validate(cfg *Config) error {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate.Struct(cfg)
}
