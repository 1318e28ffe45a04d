package edge

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"github.com/dvaar/tunnel/internal/admission"
	"github.com/dvaar/tunnel/internal/directory"
	"github.com/dvaar/tunnel/internal/ingress"
	"github.com/dvaar/tunnel/internal/inspector"
	"github.com/dvaar/tunnel/internal/nodeproxy"
	"github.com/dvaar/tunnel/internal/plan"
	"github.com/dvaar/tunnel/internal/session"
)

// Server is the edge node process: public ingress, the node-to-node
// internal proxy, and the tunnel control-channel handshake, all
// sharing one Directory and session registry. Adapted from the
// teacher's internal/relay.Server, which wired only a Pool and a
// single Handler.
type Server struct {
	cfg        *Config
	dir        directory.Directory
	admission  *admission.Controller
	registry   *session.Registry
	ingress    *ingress.Ingress
	nodeServer *nodeproxy.Server
	inspector  *inspector.Server
	upgrader   websocket.Upgrader
}

// NewServer builds a fully wired edge server from cfg.
func NewServer(cfg *Config) (*Server, error) {
	dir, err := newDirectory(cfg.Directory)
	if err != nil {
		return nil, fmt.Errorf("initializing directory: %w", err)
	}

	auth := admission.NewJWTAuth([]byte(cfg.Auth.JWTSecret))
	ctl := admission.New(dir, auth, plan.LoadTable(), cfg.Tunnel.HeartbeatTTL, cfg.Cluster.NodeAddr, internalPort(cfg.InternalListen.Addr))

	registry := session.NewRegistry()
	peers := nodeproxy.NewClient(cfg.Cluster.ClusterSecret, cfg.Tunnel.RequestTimeout)
	in := ingress.New(registry, dir, peers, ingress.Config{
		TunnelDomain:  cfg.Subdomain.TunnelDomain,
		CustomDomains: cfg.Subdomain.CustomDomains,
	})
	nodeSrv := nodeproxy.New(registry, dir, cfg.Cluster.ClusterSecret)

	var insp *inspector.Server
	if cfg.Inspector.Enabled {
		insp = inspector.NewServer(inspector.NewStore())
	}

	return &Server{
		cfg:        cfg,
		dir:        dir,
		admission:  ctl,
		registry:   registry,
		ingress:    in,
		nodeServer: nodeSrv,
		inspector:  insp,
		upgrader:   websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
	}, nil
}

func newDirectory(cfg DirectoryConfig) (directory.Directory, error) {
	if cfg.RedisAddr == "" {
		return directory.NewMemory(), nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	return directory.NewRedis(client), nil
}

func internalPort(addr string) int {
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			port := 0
			fmt.Sscanf(addr[i+1:], "%d", &port)
			return port
		}
	}
	return 0
}

// Run starts the public listener, the internal node-to-node listener,
// and (if enabled) the inspector API, and blocks until any of them
// exits with an error.
func (s *Server) Run() error {
	publicMux := http.NewServeMux()
	publicMux.HandleFunc(s.cfg.Tunnel.Path, s.handleTunnel)
	publicMux.Handle("/", s.ingress)

	errCh := make(chan error, 3)

	go func() {
		slog.Info("edge public listener starting", "addr", s.cfg.Listen.Addr, "tls", s.cfg.TLS.Enabled)
		if s.cfg.TLS.Enabled {
			errCh <- http.ListenAndServeTLS(s.cfg.Listen.Addr, s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile, publicMux)
		} else {
			errCh <- http.ListenAndServe(s.cfg.Listen.Addr, publicMux)
		}
	}()

	go func() {
		slog.Info("edge internal listener starting", "addr", s.cfg.InternalListen.Addr)
		errCh <- http.ListenAndServe(s.cfg.InternalListen.Addr, s.nodeServer.Router())
	}()

	if s.inspector != nil {
		go func() {
			addr := fmt.Sprintf("127.0.0.1:%d", s.cfg.Inspector.Port)
			slog.Info("edge inspector listener starting", "addr", addr)
			errCh <- http.ListenAndServe(addr, s.inspector.Router())
		}()
	}

	return <-errCh
}
