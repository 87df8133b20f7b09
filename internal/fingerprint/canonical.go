// Package fingerprint stamps protected opportunities with a content hash and
// keeps their append-only provenance log: the legal proof of anteriority.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// Content is the immutable material covered by a fingerprint.
type Content struct {
	Title       string
	Description string
	OwnerID     int64
	Nonce       string
	Version     int
	StampedAt   time.Time
	PrevHash    string
}

// Canonical serialises c as JSON with sorted keys. Timestamps are rendered in
// UTC RFC 3339 with nanoseconds so the payload is stable across time zones.
func Canonical(c Content) []byte {
	// json.Marshal sorts map keys; every value is a plain scalar so it cannot fail.
	b, _ := json.Marshal(map[string]any{
		"description": c.Description,
		"nonce":       c.Nonce,
		"owner_id":    c.OwnerID,
		"prev_hash":   c.PrevHash,
		"stamped_at":  c.StampedAt.UTC().Format(time.RFC3339Nano),
		"title":       c.Title,
		"version":     c.Version,
	})
	return b
}

// HashPayload returns the lowercase hex SHA-256 of payload.
func HashPayload(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// Compute returns the fingerprint hash of c and the payload it was taken over.
func Compute(c Content) (hash string, payload []byte) {
	payload = Canonical(c)
	return HashPayload(payload), payload
}
