// Package tunnelclient is the tunnel client side of spec §4.7: dials
// an edge, handshakes, and serves each HttpRequest frame against a
// local upstream (HTTP, WebSocket, or static files). Adapted from the
// teacher's internal/agent.Agent/Tunnel reconnect loop, generalized
// from its JSON-blob single request/response model to native frame
// streaming. The teacher's residential-proxy ProxyDialer/Verifier
// (internal/agent/proxy.go, verify.go) has no analogue here: dvaar's
// client always dials the edge directly, so that dependency is not
// carried over (see DESIGN.md).
package tunnelclient

import (
	"context"
	"log/slog"
	"time"
)

// Client manages the lifecycle of the connection to the edge,
// including automatic reconnection with exponential backoff.
type Client struct {
	cfg *Config
}

// New creates a tunnel client from the given configuration.
func New(cfg *Config) *Client {
	return &Client{cfg: cfg}
}

// Run enters the reconnect loop. Blocks until ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	return c._reconnect_loop(ctx)
}

// _reconnect_loop continuously attempts to connect and maintain the tunnel.
func (c *Client) _reconnect_loop(ctx context.Context) error {
	delay := c.cfg.Tunnel.ReconnectDelay
	for {
		err := c._run_tunnel(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		slog.Warn("tunnel disconnected, reconnecting", "err", err, "delay", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}

		delay = delay * 2
		if delay > c.cfg.Tunnel.MaxReconnectDelay {
			delay = c.cfg.Tunnel.MaxReconnectDelay
		}
	}
}

// _run_tunnel connects to the edge and processes frames until disconnection.
func (c *Client) _run_tunnel(ctx context.Context) error {
	tunnel, err := Connect(ctx, c.cfg)
	if err != nil {
		return err
	}
	defer tunnel.Close()

	tunnelErr := make(chan error, 1)
	go func() {
		tunnelErr <- tunnel.Run()
	}()

	select {
	case err := <-tunnelErr:
		return err
	case <-ctx.Done():
		tunnel.Close()
		return ctx.Err()
	}
}
