// Package adsconfig loads the static route and port provisioning a
// standalone router process needs at startup: which AmsNetIds map to
// which gateway IPs, what the default per-port timeout is, and where
// the admin HTTP surface listens. It mirrors the teacher's
// middleware.Config in shape (YAML via gopkg.in/yaml.v3, a
// DefaultConfig, a Validate) but describes router.Router provisioning
// instead of a single PLC target.
package adsconfig

import (
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/adscore/adsrouter/router"
)

// Config is the top-level shape of routes.yaml.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Local   LocalConfig   `yaml:"local"`
	Routes  []RouteConfig `yaml:"routes"`
	Ports   []PortConfig  `yaml:"ports"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig is the admin HTTP surface's listen address and CORS
// policy.
type ServerConfig struct {
	Host string     `yaml:"host"`
	Port int        `yaml:"port"`
	CORS CORSConfig `yaml:"cors"`
}

// CORSConfig holds the go-chi/cors.Options fields the admin surface
// sets, plus an Enabled switch.
type CORSConfig struct {
	Enabled          bool     `yaml:"enabled"`
	AllowedOrigins   []string `yaml:"allowed_origins"`
	AllowedMethods   []string `yaml:"allowed_methods"`
	AllowedHeaders   []string `yaml:"allowed_headers"`
	AllowCredentials bool     `yaml:"allow_credentials"`
}

// LocalConfig optionally pins the local AmsNetId reported to devices.
// Leaving NetID empty keeps the Router's default behavior of deriving
// one from the outbound interface (spec §6).
type LocalConfig struct {
	NetID string `yaml:"net_id"`
}

// RouteConfig is one static AmsNetId -> IP binding applied at startup.
type RouteConfig struct {
	NetID string `yaml:"net_id"`
	IP    string `yaml:"ip"`
}

// PortConfig provisions one local port with a non-default request
// timeout. Ports beyond what's listed here are left at router's
// DefaultTimeout and opened on demand by callers via OpenPort.
type PortConfig struct {
	Name      string `yaml:"name"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

// LoggingConfig selects the slog handler and level for the process.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// DefaultConfig returns a Config with sane defaults and no routes —
// a fresh process has nothing to route until an operator adds some.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8080,
			CORS: CORSConfig{
				Enabled:        true,
				AllowedOrigins: []string{"*"},
				AllowedMethods: []string{"GET", "OPTIONS"},
				AllowedHeaders: []string{"Content-Type"},
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfig reads and validates filename.
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("adsconfig: read %s: %w", filename, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("adsconfig: parse %s: %w", filename, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("adsconfig: %s: %w", filename, err)
	}
	return cfg, nil
}

// Validate checks structural correctness; it does not resolve hostnames
// or dial anything (that happens when Apply provisions the Router).
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Local.NetID != "" {
		if _, err := router.ParseAmsNetId(c.Local.NetID); err != nil {
			return fmt.Errorf("invalid local net_id: %w", err)
		}
	}
	for i, rt := range c.Routes {
		if rt.NetID == "" || rt.IP == "" {
			return fmt.Errorf("route[%d]: net_id and ip are required", i)
		}
		if _, err := router.ParseAmsNetId(rt.NetID); err != nil {
			return fmt.Errorf("route[%d]: %w", i, err)
		}
	}
	for i, p := range c.Ports {
		if p.TimeoutMs < 1 {
			return fmt.Errorf("port[%d] %q: timeout_ms must be at least 1", i, p.Name)
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}
	return nil
}

// Address returns the admin surface's listen address (host:port).
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// SaveExample writes a starter config (plain YAML, no comments) to
// filename.
func SaveExample(filename string) error {
	cfg := DefaultConfig()
	cfg.Local.NetID = ""
	cfg.Routes = []RouteConfig{{NetID: "5.24.37.144.1.1", IP: "192.168.1.10"}}
	cfg.Ports = []PortConfig{{Name: "default", TimeoutMs: 5000}}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("adsconfig: marshal example: %w", err)
	}
	return os.WriteFile(filename, data, 0o644)
}

// ProvisionedPort is one port Apply opened on behalf of a PortConfig
// entry, returned so the caller (cmd/adsrouterd) can log or register it
// for later lookup by name.
type ProvisionedPort struct {
	Name string
	Port router.LocalPort
}

// Apply opens every configured port and adds every configured route on
// rt, in the order they appear in the config. It stops at the first
// failure; routes/ports already applied are left in place for the
// caller to tear down via rt.Close if that's the desired failure policy.
func Apply(rt *router.Router, cfg *Config) ([]ProvisionedPort, error) {
	if cfg.Local.NetID != "" {
		// WithLocalNetId is a construction-time Option; a config that
		// pins a local NetId must be applied when the Router is built,
		// not here. Apply only rejects a malformed value; a valid one
		// is not applied to rt.
		if _, err := router.ParseAmsNetId(cfg.Local.NetID); err != nil {
			return nil, fmt.Errorf("adsconfig: local net_id: %w", err)
		}
	}

	ports := make([]ProvisionedPort, 0, len(cfg.Ports))
	for _, pc := range cfg.Ports {
		p := rt.OpenPort()
		if p == 0 {
			return ports, fmt.Errorf("adsconfig: OpenPort exhausted while provisioning port %q", pc.Name)
		}
		if err := rt.SetTimeout(p, time.Duration(pc.TimeoutMs)*time.Millisecond); err != nil {
			return ports, fmt.Errorf("adsconfig: set timeout for port %q: %w", pc.Name, err)
		}
		ports = append(ports, ProvisionedPort{Name: pc.Name, Port: p})
	}

	for _, rc := range cfg.Routes {
		netId, err := router.ParseAmsNetId(rc.NetID)
		if err != nil {
			return ports, fmt.Errorf("adsconfig: route %s: %w", rc.NetID, err)
		}
		ip, err := router.ResolveIpV4(context.Background(), rc.IP)
		if err != nil {
			return ports, fmt.Errorf("adsconfig: route %s: %w", rc.NetID, err)
		}
		if err := rt.AddRoute(context.Background(), netId, ip); err != nil {
			return ports, fmt.Errorf("adsconfig: add route %s -> %s: %w", rc.NetID, rc.IP, err)
		}
	}

	return ports, nil
}
