package edge

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/dvaar/tunnel/internal/admission"
	"github.com/dvaar/tunnel/internal/protocol"
	"github.com/dvaar/tunnel/internal/session"
)

// initFrameTimeout bounds how long a freshly-upgraded control channel
// may take to send its Init frame (spec.md:164: "10 s from accept").
const initFrameTimeout = 10 * time.Second

// handleTunnel upgrades a client's control-channel connection, reads
// its Init frame, runs it through the admission controller, and either
// rejects it with an InitAck.error or starts a Session and registers
// its Handle. Adapted from the teacher's relay.Server._handle_tunnel,
// which instead validated a query-string HMAC token before upgrading;
// here the Init frame itself carries the bearer token, so the upgrade
// happens unconditionally and admission runs against the first frame.
func (s *Server) handleTunnel(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("tunnel websocket upgrade failed", "err", err)
		return
	}

	codec := protocol.NewCodec(conn)

	conn.SetReadDeadline(time.Now().Add(initFrameTimeout))
	initFrame, err := codec.ReadFrame()
	if err != nil || initFrame.Type != protocol.TypeInit || initFrame.Init == nil {
		slog.Warn("tunnel handshake failed: no init frame", "err", err)
		conn.Close()
		return
	}
	conn.SetReadDeadline(time.Time{})

	ctx := r.Context()
	admitted, err := s.admission.Admit(ctx, admission.Request{
		Token:              initFrame.Init.Token,
		RequestedSubdomain: initFrame.Init.RequestedSubdomain,
		HeartbeatTTL:       s.cfg.Tunnel.HeartbeatTTL,
	})
	if err != nil {
		slog.Warn("tunnel admission rejected", "err", err)
		_ = codec.WriteFrame(&protocol.Frame{
			Type:    protocol.TypeInitAck,
			InitAck: &protocol.InitAckPayload{Error: err.Error()},
		})
		conn.Close()
		return
	}

	assignedDomain := fmt.Sprintf("%s.%s", admitted.Subdomain, s.cfg.Subdomain.TunnelDomain)
	if err := codec.WriteFrame(&protocol.Frame{
		Type: protocol.TypeInitAck,
		InitAck: &protocol.InitAckPayload{
			AssignedDomain: assignedDomain,
			ServerVersion:  serverVersion,
		},
	}); err != nil {
		slog.Error("sending init ack failed", "err", err)
		s.admission.Rollback(ctx, admitted)
		conn.Close()
		return
	}

	sess := session.New(conn, s.dir, session.Config{
		Subdomain:     admitted.Subdomain,
		UserID:        admitted.User.UserID,
		HeartbeatTTL:  s.cfg.Tunnel.HeartbeatTTL,
		MemberTTL:     admitted.Plan.MemberTTL,
		MaxConcurrent: admitted.Plan.MaxConcurrent,
		PingInterval:  s.cfg.Tunnel.PingInterval,
	})
	handle := &session.Handle{Subdomain: admitted.Subdomain, UserID: admitted.User.UserID, Session: sess}
	s.registry.Put(handle)

	slog.Info("tunnel admitted", "subdomain", admitted.Subdomain, "user", admitted.User.UserID, "plan", admitted.PlanName)

	go func() {
		<-sess.Done()
		s.registry.Remove(admitted.Subdomain)
	}()
}

const serverVersion = "1.0"
