package adsconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/adscore/adsrouter/router"
)

func writeTempConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "routes.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeTempConfig(t, "server:\n  port: 9090\n")
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Fatalf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Logging.Level != "info" {
		t.Fatalf("Logging.Level default = %q, want info (DefaultConfig should seed before unmarshal)", cfg.Logging.Level)
	}
}

func TestLoadConfigInvalidRoute(t *testing.T) {
	path := writeTempConfig(t, "routes:\n  - net_id: not-an-id\n    ip: 10.0.0.1\n")
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("LoadConfig: expected error for malformed net_id")
	}
}

func TestLoadConfigInvalidLogLevel(t *testing.T) {
	path := writeTempConfig(t, "logging:\n  level: verbose\n")
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("LoadConfig: expected error for invalid log level")
	}
}

func TestApplyProvisionsPortTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Ports = []PortConfig{{Name: "primary", TimeoutMs: 250}}

	rt := router.New()
	defer rt.Close()

	provisioned, err := Apply(rt, cfg)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if len(provisioned) != 1 || provisioned[0].Name != "primary" {
		t.Fatalf("provisioned = %+v, want one entry named primary", provisioned)
	}

	timeout, err := rt.GetTimeout(provisioned[0].Port)
	if err != nil {
		t.Fatalf("GetTimeout: %v", err)
	}
	if timeout.Milliseconds() != 250 {
		t.Fatalf("timeout = %v, want 250ms", timeout)
	}
}

func TestApplyStopsAtFirstRouteFailure(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Routes = []RouteConfig{{NetID: "5.24.37.144.1.1", IP: "not a host"}}

	rt := router.New()
	defer rt.Close()

	if _, err := Apply(rt, cfg); err == nil {
		t.Fatal("Apply: expected error resolving an invalid host")
	}
}
