// Package config implements the three-layer configuration model used
// by the orchestrator and all three agent processes: defaults, then
// environment variables, then functional options - the same priority
// order as the teacher's core.Config.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config is the orchestrator's configuration surface (§6.5 "Server").
type Config struct {
	Host            string
	Port            int
	CacheURL        string        // ORCH_CACHE_URL, e.g. redis://localhost:6379/2
	CacheTTL        time.Duration // ORCH_CACHE_TTL_SECONDS
	SessionStoreDir string        // ORCH_SESSION_STORE_DIR
	OutputDir       string        // ORCH_OUTPUT_DIR
	LogLevel        string        // NWB_LOG_LEVEL

	// RouterTimeout is the default per-call timeout the message
	// router applies to outbound agent_execute calls (§4.3).
	RouterTimeout time.Duration // ORCH_ROUTER_TIMEOUT_SECONDS
	// RouterMaxTimeout caps the router's per-call timeout and is used
	// in place of RouterTimeout when that is unset or larger (§4.3).
	// There is no per-agent timeout override.
	RouterMaxTimeout time.Duration // ORCH_ROUTER_MAX_TIMEOUT_SECONDS
}

// Option mutates a Config under construction.
type Option func(*Config)

func WithPort(p int) Option             { return func(c *Config) { c.Port = p } }
func WithCacheURL(u string) Option      { return func(c *Config) { c.CacheURL = u } }
func WithSessionStoreDir(d string) Option { return func(c *Config) { c.SessionStoreDir = d } }
func WithOutputDir(d string) Option     { return func(c *Config) { c.OutputDir = d } }

// Load builds a Config from defaults, then environment variables,
// then opts (highest priority).
func Load(opts ...Option) *Config {
	c := &Config{
		Host:             "0.0.0.0",
		Port:             8080,
		CacheURL:         "redis://localhost:6379/2",
		CacheTTL:         24 * time.Hour,
		SessionStoreDir:  "./data/sessions",
		OutputDir:        "./data/output",
		LogLevel:         "info",
		RouterTimeout:    60 * time.Second,
		RouterMaxTimeout: 300 * time.Second,
	}

	if v := os.Getenv("ORCH_HOST"); v != "" {
		c.Host = v
	}
	if v := os.Getenv("ORCH_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Port = n
		}
	}
	if v := os.Getenv("ORCH_CACHE_URL"); v != "" {
		c.CacheURL = v
	}
	if v := os.Getenv("ORCH_CACHE_TTL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.CacheTTL = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("ORCH_SESSION_STORE_DIR"); v != "" {
		c.SessionStoreDir = v
	}
	if v := os.Getenv("ORCH_OUTPUT_DIR"); v != "" {
		c.OutputDir = v
	}
	if v := os.Getenv("NWB_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("ORCH_ROUTER_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.RouterTimeout = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("ORCH_ROUTER_MAX_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.RouterMaxTimeout = time.Duration(n) * time.Second
		}
	}

	for _, opt := range opts {
		opt(c)
	}
	return c
}
