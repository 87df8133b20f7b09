package auth

import (
	"fmt"
	"strconv"
	"strings"
)

// Gateway header names forwarded by the API gateway after session checks.
const (
	HeaderUserID   = "x-user-id"
	HeaderUsername = "x-username"
)

// GatewayHeaders trusts the x-user-id / x-username headers set by the gateway.
// Only use it behind a gateway that strips these headers from client input.
type GatewayHeaders struct{}

// Authenticate implements Provider.
func (GatewayHeaders) Authenticate(h Headers) (Principal, error) {
	raw := strings.TrimSpace(h.Get(HeaderUserID))
	if raw == "" {
		return Principal{}, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return Principal{}, fmt.Errorf("%w: bad %s header", ErrInvalidCredentials, HeaderUserID)
	}
	return Principal{UserID: id, Username: strings.TrimSpace(h.Get(HeaderUsername))}, nil
}
