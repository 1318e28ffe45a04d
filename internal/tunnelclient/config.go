package tunnelclient

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the tunnel client configuration, adapted from the
// teacher's internal/agent.Config.
type Config struct {
	Edge     EdgeConfig     `yaml:"edge"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Tunnel   TunnelConfig   `yaml:"tunnel"`
}

// EdgeConfig specifies the edge server websocket endpoint and auth.
type EdgeConfig struct {
	URL                string `yaml:"url"`
	Token              string `yaml:"token"`
	RequestedSubdomain string `yaml:"requested_subdomain"`
}

// UpstreamConfig specifies where incoming requests are forwarded
// locally. Exactly one of TargetURL or StaticDir should be set.
type UpstreamConfig struct {
	TargetURL   string        `yaml:"target_url"`
	TLSUpstream bool          `yaml:"tls_upstream"`
	HostHeader  string        `yaml:"host_header"`
	StaticDir   string        `yaml:"static_dir"`
	BasicAuth   BasicAuthRule `yaml:"basic_auth"`
}

// BasicAuthRule, if Username is set, short-circuits any request
// lacking an Authorization header with a 401 (spec §4.7).
type BasicAuthRule struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// TunnelConfig controls reconnection and keepalive behaviour.
type TunnelConfig struct {
	ReconnectDelay    time.Duration `yaml:"reconnect_delay"`
	MaxReconnectDelay time.Duration `yaml:"max_reconnect_delay"`
	PingInterval      time.Duration `yaml:"ping_interval"`
	ClientVersion     string        `yaml:"client_version"`
}

// LoadConfig reads and parses a tunnel client configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	cfg := &Config{
		Upstream: UpstreamConfig{TargetURL: "http://127.0.0.1:8080"},
		Tunnel: TunnelConfig{
			ReconnectDelay:    2 * time.Second,
			MaxReconnectDelay: 60 * time.Second,
			PingInterval:      15 * time.Second,
			ClientVersion:     "1.0",
		},
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if cfg.Edge.URL == "" {
		return nil, fmt.Errorf("edge.url is required")
	}
	if cfg.Edge.Token == "" {
		return nil, fmt.Errorf("edge.token is required")
	}
	if cfg.Upstream.TargetURL == "" && cfg.Upstream.StaticDir == "" {
		return nil, fmt.Errorf("one of upstream.target_url or upstream.static_dir is required")
	}
	return cfg, nil
}
