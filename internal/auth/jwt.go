package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims carried by session tokens issued by the auth service.
type Claims struct {
	UserID   int64  `json:"id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// JWT validates HS256 bearer tokens from the Authorization header.
type JWT struct {
	secret []byte
	now    func() time.Time
}

// NewJWT returns a JWT provider. secret must be non-empty.
func NewJWT(secret string) (*JWT, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	return &JWT{secret: []byte(secret), now: time.Now}, nil
}

// Authenticate implements Provider.
func (j *JWT) Authenticate(h Headers) (Principal, error) {
	header := strings.TrimSpace(h.Get("Authorization"))
	if header == "" {
		return Principal{}, nil
	}
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return Principal{}, fmt.Errorf("%w: expected bearer token", ErrInvalidCredentials)
	}

	var claims Claims
	token, err := jwt.ParseWithClaims(strings.TrimSpace(raw), &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return j.secret, nil
	}, jwt.WithTimeFunc(j.now), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}
	if claims.UserID <= 0 {
		return Principal{}, fmt.Errorf("%w: missing user id claim", ErrInvalidCredentials)
	}
	return Principal{UserID: claims.UserID, Username: claims.Username}, nil
}

// Issue signs a token for p valid for ttl. Used by tooling and tests; the
// production issuer is the auth service.
func (j *JWT) Issue(p Principal, ttl time.Duration) (string, error) {
	now := j.now()
	claims := Claims{
		UserID:   p.UserID,
		Username: p.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
}
