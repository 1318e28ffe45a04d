package inspector

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/robfig/cron/v3"
)

// staleThreshold matches original_source's 2-minute disconnect window.
const staleThreshold = 2 * time.Minute

// Server is the inspector's HTTP/WS API, grounded on
// original_source's inspector/server.rs route table.
type Server struct {
	store    *Store
	cron     *cron.Cron
	upgrader websocket.Upgrader
}

// NewServer builds a Server and starts its stale-tunnel cleanup schedule.
func NewServer(store *Store) *Server {
	s := &Server{store: store, cron: cron.New()}
	if _, err := s.cron.AddFunc("@every 1m", func() {
		s.store.CleanupStale(staleThreshold)
	}); err != nil {
		slog.Error("scheduling stale-tunnel cleanup failed", "err", err)
	}
	s.cron.Start()
	return s
}

// Stop halts the cleanup schedule.
func (s *Server) Stop() {
	s.cron.Stop()
}

// Router builds the chi mux described in spec §4.8.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/health", s.handleHealth)
	r.Get("/tunnels", s.handleListTunnels)
	r.Post("/tunnels/register", s.handleRegister)
	r.Post("/tunnels/{id}/unregister", s.handleUnregister)
	r.Post("/tunnels/{id}/heartbeat", s.handleHeartbeat)
	r.Post("/tunnels/{id}/request", s.handleSubmitRequest)
	r.Get("/tunnels/{id}/requests", s.handleGetRequests)
	r.Get("/tunnels/{id}/metrics", s.handleGetMetrics)
	r.Get("/ws", s.handleWebSocket)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"service": "dvaar-inspector"})
}

func (s *Server) handleListTunnels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Tunnels())
}

type registerTunnelRequest struct {
	TunnelID  string `json:"tunnel_id"`
	Subdomain string `json:"subdomain"`
	PublicURL string `json:"public_url"`
	LocalAddr string `json:"local_addr"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerTunnelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.TunnelID == "" {
		http.Error(w, "tunnel_id is required", http.StatusBadRequest)
		return
	}

	now := time.Now()
	s.store.RegisterTunnel(RegisteredTunnel{
		TunnelID:     req.TunnelID,
		Subdomain:    req.Subdomain,
		PublicURL:    req.PublicURL,
		LocalAddr:    req.LocalAddr,
		Status:       StatusActive,
		RegisteredAt: now,
		LastSeen:     now,
	})
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "tunnel_id": req.TunnelID})
}

func (s *Server) handleUnregister(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.store.UnregisterTunnel(id)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.store.Heartbeat(id) {
		http.Error(w, "unknown tunnel", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleSubmitRequest(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req CapturedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if !s.store.AddRequest(id, req) {
		http.Error(w, "unknown tunnel", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleGetRequests(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	reqs, ok := s.store.Requests(id)
	if !ok {
		http.Error(w, "unknown tunnel", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, reqs)
}

func (s *Server) handleGetMetrics(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	snap, ok := s.store.Metrics(id)
	if !ok {
		http.Error(w, "unknown tunnel", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("inspector websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	events, cancel := s.store.Subscribe()
	defer cancel()

	for ev := range events {
		data, err := encodeEvent(ev)
		if err != nil {
			slog.Error("encoding inspector event failed", "err", err)
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding response failed", "err", err)
	}
}
