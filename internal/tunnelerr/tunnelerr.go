// Package tunnelerr gives the error-kind taxonomy of the admission,
// transport, stream and directory paths as comparable sentinel errors,
// so callers can branch with errors.Is instead of string matching.
package tunnelerr

import "errors"

// Admission-path errors. Each maps to a specific InitAck.error string
// and never leaks internal detail to the public side.
var (
	ErrInvalidToken        = errors.New("invalid token")
	ErrRateLimited         = errors.New("tunnel creation rate limit exceeded")
	ErrBandwidthExhausted  = errors.New("monthly bandwidth cap exhausted")
	ErrSubdomainBlocked    = errors.New("subdomain is reserved")
	ErrSubdomainTaken      = errors.New("subdomain is in use")
	ErrSubdomainNotAllowed = errors.New("plan does not permit a custom subdomain")
	ErrConcurrencyLimit    = errors.New("maximum concurrent tunnels reached")
)

// Transport-path errors.
var (
	ErrMalformedFrame  = errors.New("malformed frame")
	ErrPrematureClose  = errors.New("connection closed before handshake completed")
	ErrPingTimeout     = errors.New("ping timeout")
	ErrSessionShutdown = errors.New("tunnel closed")
)

// Stream-path errors.
var (
	ErrUpstreamDial     = errors.New("upstream dial failed")
	ErrUpstreamProtocol = errors.New("upstream protocol error")
	ErrBodyTooLarge     = errors.New("request body exceeds configured limit")
	ErrStreamTimeout    = errors.New("stream timed out waiting for response")
	ErrNoRoute          = errors.New("no route for subdomain")
)

// Directory-path errors. Transient errors are retryable by the caller;
// permanent errors are not.
var (
	ErrDirectoryTransient = errors.New("directory backend temporarily unavailable")
	ErrDirectoryPermanent = errors.New("directory backend rejected operation")
)
