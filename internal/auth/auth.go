// Package auth adapts the external auth/session collaborator. The core never
// logs users in; it only turns forwarded credentials into a Principal.
package auth

import (
	"context"
	"errors"
)

// ErrInvalidCredentials is returned when credentials are present but unusable.
// Absent credentials are not an error: they yield an anonymous Principal.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Principal identifies the caller. The zero value is the anonymous caller.
type Principal struct {
	UserID   int64
	Username string
}

// Authenticated reports whether the principal carries a user.
func (p Principal) Authenticated() bool { return p.UserID > 0 }

// Headers is satisfied by http.Header and by the gRPC metadata adapter.
type Headers interface {
	Get(key string) string
}

// Provider turns request headers into a Principal.
type Provider interface {
	Authenticate(h Headers) (Principal, error)
}

type ctxKey struct{}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

// FromContext returns the principal stored in ctx, or the anonymous one.
func FromContext(ctx context.Context) Principal {
	p, _ := ctx.Value(ctxKey{}).(Principal)
	return p
}
