package inspector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"
)

// heartbeatInterval matches original_source's 30-second client heartbeat.
const heartbeatInterval = 30 * time.Second

// Client talks to an inspector server already running for a different
// tunnel on this machine, rather than starting its own (spec §4.8's
// peer-client submission mode, original_source
// dvaar_cli/src/inspector/client.rs).
type Client struct {
	baseURL    string
	tunnelID   string
	httpClient *http.Client
	registered atomic.Bool
}

// NewClient builds a client targeting the inspector server on port.
func NewClient(port int, tunnelID string) *Client {
	return &Client{
		baseURL:    fmt.Sprintf("http://127.0.0.1:%d", port),
		tunnelID:   tunnelID,
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

// TunnelID returns the id this client submits captures under.
func (c *Client) TunnelID() string { return c.tunnelID }

// InspectorURL returns the base URL of the inspector server this
// client talks to.
func (c *Client) InspectorURL() string { return c.baseURL }

type registerRequest struct {
	TunnelID  string `json:"tunnel_id"`
	Subdomain string `json:"subdomain"`
	PublicURL string `json:"public_url"`
	LocalAddr string `json:"local_addr"`
}

type registerResponse struct {
	Success bool `json:"success"`
}

// Register announces this tunnel to the remote inspector.
func (c *Client) Register(ctx context.Context, subdomain, publicURL, localAddr string) error {
	body, err := json.Marshal(registerRequest{
		TunnelID:  c.tunnelID,
		Subdomain: subdomain,
		PublicURL: publicURL,
		LocalAddr: localAddr,
	})
	if err != nil {
		return fmt.Errorf("marshaling registration: %w", err)
	}

	resp, err := c.post(ctx, "/tunnels/register", body)
	if err != nil {
		return fmt.Errorf("registering with inspector: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("inspector registration failed: %s", resp.Status)
	}

	var result registerResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("parsing registration response: %w", err)
	}
	if !result.Success {
		return fmt.Errorf("inspector registration was not successful")
	}

	c.registered.Store(true)
	return nil
}

// Unregister tells the remote inspector this tunnel disconnected.
// Best-effort: failures are logged, never returned.
func (c *Client) Unregister(ctx context.Context) {
	if !c.registered.Load() {
		return
	}
	resp, err := c.post(ctx, fmt.Sprintf("/tunnels/%s/unregister", c.tunnelID), nil)
	if err != nil {
		slog.Warn("unregistering from inspector failed", "tunnel_id", c.tunnelID, "err", err)
		return
	}
	resp.Body.Close()
	c.registered.Store(false)
}

// SubmitRequest forwards a captured request to the remote inspector.
func (c *Client) SubmitRequest(ctx context.Context, req CapturedRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshaling captured request: %w", err)
	}
	resp, err := c.post(ctx, fmt.Sprintf("/tunnels/%s/request", c.tunnelID), body)
	if err != nil {
		return fmt.Errorf("submitting request to inspector: %w", err)
	}
	resp.Body.Close()
	return nil
}

// Heartbeat keeps this tunnel marked active on the remote inspector.
func (c *Client) Heartbeat(ctx context.Context) error {
	resp, err := c.post(ctx, fmt.Sprintf("/tunnels/%s/heartbeat", c.tunnelID), nil)
	if err != nil {
		return fmt.Errorf("sending heartbeat: %w", err)
	}
	resp.Body.Close()
	return nil
}

// IsAlive checks whether the remote inspector is still reachable.
func (c *Client) IsAlive(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}

// StartHeartbeatLoop runs Heartbeat on a ticker until ctx is cancelled.
func (c *Client) StartHeartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := c.Heartbeat(ctx); err != nil {
				slog.Warn("inspector heartbeat failed", "tunnel_id", c.tunnelID, "err", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) post(ctx context.Context, path string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.httpClient.Do(req)
}
