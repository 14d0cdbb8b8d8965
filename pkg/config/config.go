// Package config loads the yaml configuration file and applies environment
// overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// RouteMapping pairs an inbound path prefix with the upstream base URL that
// serves it. The list is ordered: the first matching prefix wins.
type RouteMapping struct {
	Prefix string `yaml:"prefix"`
	Base   string `yaml:"base"`
}

type Config struct {
	Port       int    `yaml:"port"`
	StaticRoot string `yaml:"staticRoot"`

	// Pages maps short routes to HTML files under StaticRoot.
	Pages map[string]string `yaml:"pages"`

	AssetRoutes []RouteMapping `yaml:"assetRoutes"`

	Cache struct {
		TTLSeconds int `yaml:"ttlSeconds"`
		MaxEntries int `yaml:"maxEntries"`
	} `yaml:"cache"`

	TimeoutSeconds int `yaml:"timeoutSeconds"`

	Gate struct {
		User     string `yaml:"user"`
		Password string `yaml:"password"`
	} `yaml:"gate"`

	// AllowedDomains restricts the generic proxy; empty allows everything.
	AllowedDomains []string `yaml:"allowedDomains"`

	TunnelPrefix string `yaml:"tunnelPrefix"`
	RewriteHTML  bool   `yaml:"rewriteHtml"`
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg := &Config{
		Port:           8080,
		StaticRoot:     "static",
		Pages:          map[string]string{"/": "index.html"},
		TimeoutSeconds: 15,
		TunnelPrefix:   "/t/",
		RewriteHTML:    true,
	}
	cfg.Cache.TTLSeconds = 3600
	cfg.Cache.MaxEntries = 500
	return cfg
}

// Load reads the yaml file at path on top of the defaults, then applies
// environment overrides. An empty path loads defaults and environment only.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("syntax error in config file '%s': %w", path, err)
		}
	}

	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT value '%s': %w", port, err)
		}
		cfg.Port = p
	}
	if timeout := os.Getenv("HTTP_TIMEOUT"); timeout != "" {
		if t, err := strconv.Atoi(timeout); err == nil {
			cfg.TimeoutSeconds = t
		}
	}
	if domains := os.Getenv("ALLOWED_DOMAINS"); domains != "" {
		cfg.AllowedDomains = strings.Split(domains, ",")
	}
	cfg.Gate.User = getenv("GATE_USER", cfg.Gate.User)
	cfg.Gate.Password = getenv("GATE_PASSWORD", cfg.Gate.Password)

	if !strings.HasSuffix(cfg.TunnelPrefix, "/") {
		cfg.TunnelPrefix += "/"
	}

	return cfg, nil
}

// CacheTTL returns the cache TTL as a duration.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}

// UpstreamTimeout returns the bound applied to upstream fetches.
func (c *Config) UpstreamTimeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func getenv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
