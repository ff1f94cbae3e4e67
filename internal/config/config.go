// Package config loads the immutable startup configuration consumed by
// the core: listen addresses, the initial user list, and the resolver
// pool size. Flag parsing itself stays in cmd/socks5d — out of scope per
// spec §1 — but this package owns turning a YAML file (the teacher's
// config.go format, generalized) into the struct the core accepts.
package config

import (
	"fmt"
	"net"
	"os"

	"gopkg.in/yaml.v3"

	"go-socks5-gateway/internal/resolver"
)

// UserEntry is one initial user table row.
type UserEntry struct {
	Name     string `yaml:"name"`
	Password string `yaml:"password"`
}

// Config is the immutable startup struct handed to the core. Nothing in
// the core mutates it after load.
type Config struct {
	SOCKS5Addr string `yaml:"socks5_addr"`
	SOCKS5Port int    `yaml:"socks5_port"`

	MonitorAddr string `yaml:"monitor_addr"`
	MonitorPort int    `yaml:"monitor_port"`

	// MetricsAddr/MetricsPort, if set, start the optional Prometheus
	// /metrics HTTP endpoint (see SPEC_FULL.md's domain-stack wiring).
	// Left at zero value, no HTTP metrics endpoint is started.
	MetricsAddr string `yaml:"metrics_addr"`
	MetricsPort int    `yaml:"metrics_port"`

	Users []UserEntry `yaml:"users"`

	ResolverWorkers int `yaml:"resolver_workers"`

	// SnifferPorts maps a destination port to the sniffer protocol name
	// ("pop3" or "http") that should observe CONNECTs to it. Defaults to
	// {110: "pop3", 80: "http"} when omitted from the YAML, matching the
	// C reference's hard-coded ports while keeping them configurable per
	// spec §9's open question.
	SnifferPorts map[uint16]string `yaml:"sniffer_ports"`

	// IdleTimeoutSeconds bounds how long the selector blocks per Wait
	// call, giving the event loop a chance to notice signals promptly;
	// spec §5 leaves session reaping implementation-defined, and no idle
	// session is reaped, so this is just the loop's wakeup cadence.
	IdleTimeoutSeconds int `yaml:"idle_timeout_seconds"`
}

// Default returns a Config with every field at its spec-mandated
// default, suitable as a base before applying a YAML override.
func Default() *Config {
	return &Config{
		SOCKS5Addr:         "0.0.0.0",
		SOCKS5Port:         1080,
		MonitorAddr:        "127.0.0.1",
		MonitorPort:        9090,
		ResolverWorkers:    resolver.DefaultWorkers,
		SnifferPorts:       map[uint16]string{110: "pop3", 80: "http"},
		IdleTimeoutSeconds: 5,
	}
}

// Load reads and validates a YAML configuration file, applying it on
// top of Default().
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.SOCKS5Port < 1 || c.SOCKS5Port > 65535 {
		return fmt.Errorf("socks5_port %d out of range", c.SOCKS5Port)
	}
	if c.MonitorPort < 1 || c.MonitorPort > 65535 {
		return fmt.Errorf("monitor_port %d out of range", c.MonitorPort)
	}
	if c.SOCKS5Addr != "" && net.ParseIP(c.SOCKS5Addr) == nil {
		return fmt.Errorf("socks5_addr %q is not a valid IP", c.SOCKS5Addr)
	}
	if c.MonitorAddr != "" && net.ParseIP(c.MonitorAddr) == nil {
		return fmt.Errorf("monitor_addr %q is not a valid IP", c.MonitorAddr)
	}
	if c.ResolverWorkers < resolver.MinWorkers || c.ResolverWorkers > resolver.MaxWorkers {
		return fmt.Errorf("resolver_workers %d out of range [%d,%d]", c.ResolverWorkers, resolver.MinWorkers, resolver.MaxWorkers)
	}

	seen := make(map[string]struct{}, len(c.Users))
	for i, u := range c.Users {
		if u.Name == "" {
			return fmt.Errorf("users[%d]: blank username", i)
		}
		if _, dup := seen[u.Name]; dup {
			return fmt.Errorf("users[%d]: duplicate username %q", i, u.Name)
		}
		seen[u.Name] = struct{}{}
	}

	return nil
}
