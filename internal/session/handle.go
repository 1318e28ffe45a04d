package session

import "sync"

// Handle is the spec's TunnelHandle: the edge-local reference ingress
// looks up by subdomain to reach an admitted session. It owns nothing
// beyond the Session pointer — the session itself owns the send queue
// and streams map.
type Handle struct {
	Subdomain string
	UserID    string
	Session   *Session
}

// Registry is the process-local subdomain -> Handle map (spec §7:
// "concurrent insert/remove; lookups are lock-free"), backed by
// sync.Map for exactly that access pattern.
type Registry struct {
	m sync.Map
}

// NewRegistry creates an empty handle registry.
func NewRegistry() *Registry { return &Registry{} }

func (r *Registry) Put(h *Handle) {
	r.m.Store(h.Subdomain, h)
}

func (r *Registry) Get(subdomain string) (*Handle, bool) {
	v, ok := r.m.Load(subdomain)
	if !ok {
		return nil, false
	}
	return v.(*Handle), true
}

func (r *Registry) Remove(subdomain string) {
	r.m.Delete(subdomain)
}
