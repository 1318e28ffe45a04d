package nodeproxy

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dvaar/tunnel/internal/directory"
	"github.com/dvaar/tunnel/internal/session"
)

func Test_proxy_rejects_wrong_cluster_secret(t *testing.T) {
	s := New(session.NewRegistry(), directory.NewMemory(), "correct-secret")
	req := httptest.NewRequest(http.MethodGet, "/_internal/proxy/x", nil)
	req.Header.Set(ClusterSecretHeader, "wrong-secret")
	req.Header.Set(OriginalHostHeader, "sub.tun.example")
	rr := httptest.NewRecorder()

	s.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Errorf("got %d, want 403", rr.Code)
	}
}

func Test_proxy_404s_when_no_local_handle(t *testing.T) {
	s := New(session.NewRegistry(), directory.NewMemory(), "secret")
	req := httptest.NewRequest(http.MethodGet, "/_internal/proxy/x", nil)
	req.Header.Set(ClusterSecretHeader, "secret")
	req.Header.Set(OriginalHostHeader, "sub.tun.example")
	rr := httptest.NewRecorder()

	s.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Errorf("got %d, want 404", rr.Code)
	}
}

func Test_caddy_check_requires_domain_param(t *testing.T) {
	s := New(session.NewRegistry(), directory.NewMemory(), "secret")
	req := httptest.NewRequest(http.MethodGet, "/_caddy/check", nil)
	rr := httptest.NewRecorder()

	s.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("got %d, want 400", rr.Code)
	}
}

func Test_caddy_check_404s_for_unknown_domain(t *testing.T) {
	s := New(session.NewRegistry(), directory.NewMemory(), "secret")
	req := httptest.NewRequest(http.MethodGet, "/_caddy/check?domain=sub.tun.example", nil)
	rr := httptest.NewRecorder()

	s.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Errorf("got %d, want 404", rr.Code)
	}
}
