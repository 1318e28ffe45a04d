// Package edge wires the admission, session, ingress, node-to-node
// proxy and inspector packages into the running edge server process
// (spec §4), mirroring the teacher's internal/relay.Server.
package edge

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the edge server configuration, generalized from the
// teacher's internal/relay.Config to the clustered, multi-tenant shape
// spec §4 requires.
type Config struct {
	Listen         ListenConfig    `yaml:"listen"`
	InternalListen ListenConfig    `yaml:"internal_listen"`
	TLS            TLSConfig       `yaml:"tls"`
	Auth           AuthConfig      `yaml:"auth"`
	Cluster        ClusterConfig   `yaml:"cluster"`
	Tunnel         TunnelConfig    `yaml:"tunnel"`
	Subdomain      SubdomainConfig `yaml:"subdomain"`
	Directory      DirectoryConfig `yaml:"directory"`
	Inspector      InspectorConfig `yaml:"inspector"`
}

// ListenConfig specifies the address to bind on.
type ListenConfig struct {
	Addr string `yaml:"addr"`
}

// TLSConfig controls tls certificate settings on the public listener.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// AuthConfig holds the secret used to verify client JWTs.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// ClusterConfig identifies this node within the fleet and the shared
// secret used to authenticate node-to-node proxy calls (spec §4.6).
type ClusterConfig struct {
	NodeAddr      string `yaml:"node_addr"`
	ClusterSecret string `yaml:"cluster_secret"`
}

// TunnelConfig controls the control-channel path and timing.
type TunnelConfig struct {
	Path           string        `yaml:"path"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	HeartbeatTTL   time.Duration `yaml:"heartbeat_ttl"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// SubdomainConfig controls hostname-to-subdomain resolution (spec §4.5).
type SubdomainConfig struct {
	TunnelDomain  string            `yaml:"tunnel_domain"`
	CustomDomains map[string]string `yaml:"custom_domains"`
}

// DirectoryConfig selects and configures the shared Directory backend.
type DirectoryConfig struct {
	RedisAddr string `yaml:"redis_addr"` // empty means in-memory, single-node
}

// InspectorConfig controls the embedded inspector API (spec §4.8).
type InspectorConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// LoadConfig reads and parses an edge configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	cfg := &Config{
		Listen:         ListenConfig{Addr: ":8080"},
		InternalListen: ListenConfig{Addr: ":8081"},
		Tunnel: TunnelConfig{
			Path:           "/_tunnel/ws",
			PingInterval:   15 * time.Second,
			HeartbeatTTL:   30 * time.Second,
			RequestTimeout: 60 * time.Second,
		},
		Subdomain: SubdomainConfig{TunnelDomain: "tunnel.example.com"},
		Inspector: InspectorConfig{Enabled: true, Port: 4040},
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("auth.jwt_secret is required")
	}
	if cfg.Cluster.NodeAddr == "" {
		return nil, fmt.Errorf("cluster.node_addr is required")
	}
	if cfg.Cluster.ClusterSecret == "" {
		return nil, fmt.Errorf("cluster.cluster_secret is required")
	}
	return cfg, nil
}
