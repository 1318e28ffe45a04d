package admission

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dvaar/tunnel/internal/tunnelerr"
)

// claims is the shape the billing/control-plane collaborator signs
// into the bearer token (out of scope per spec §1; this package only
// verifies and reads it).
type claims struct {
	UserID        string `json:"user_id"`
	Email         string `json:"email"`
	Plan          string `json:"plan"`
	PlanExpiresAt *int64 `json:"plan_expires_at,omitempty"`
	jwt.RegisteredClaims
}

// JWTAuth is an AuthLookup backed by github.com/golang-jwt/jwt/v5,
// verifying tokens signed with a shared HMAC secret.
type JWTAuth struct {
	secret []byte
}

// NewJWTAuth builds a JWTAuth that verifies HS256 tokens signed with secret.
func NewJWTAuth(secret []byte) *JWTAuth {
	return &JWTAuth{secret: secret}
}

func (a *JWTAuth) Lookup(_ context.Context, token string) (User, error) {
	var c claims
	parsed, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil || !parsed.Valid {
		return User{}, tunnelerr.ErrInvalidToken
	}
	if c.UserID == "" {
		return User{}, tunnelerr.ErrInvalidToken
	}

	u := User{UserID: c.UserID, Email: c.Email, Plan: c.Plan}
	if c.PlanExpiresAt != nil {
		t := time.Unix(*c.PlanExpiresAt, 0)
		u.PlanExpiresAt = &t
	}
	return u, nil
}
