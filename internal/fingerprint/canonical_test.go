package fingerprint_test

import (
	"testing"
	"time"

	"asirinvest/core-service/internal/fingerprint"
)

func TestCanonical_SortedKeysAndUTC(t *testing.T) {
	riyadh := time.FixedZone("AST", 3*3600)
	c := fingerprint.Content{
		Title:       "T",
		Description: "D",
		OwnerID:     1,
		Nonce:       "n",
		Version:     1,
		StampedAt:   time.Date(2025, 3, 1, 15, 0, 0, 123000, riyadh),
	}
	want := `{"description":"D","nonce":"n","owner_id":1,"prev_hash":"","stamped_at":"2025-03-01T12:00:00.000123Z","title":"T","version":1}`
	if got := string(fingerprint.Canonical(c)); got != want {
		t.Errorf("Canonical() = %s\nwant %s", got, want)
	}
}

func TestCompute_Deterministic(t *testing.T) {
	c := fingerprint.Content{Title: "مشروع", Description: "نص", OwnerID: 7, Nonce: "abc", Version: 2,
		StampedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), PrevHash: "00"}
	h1, p1 := fingerprint.Compute(c)
	h2, p2 := fingerprint.Compute(c)
	if h1 != h2 || string(p1) != string(p2) {
		t.Fatal("Compute is not deterministic")
	}
	if len(h1) != 64 {
		t.Errorf("hash length = %d, want 64", len(h1))
	}
	if fingerprint.HashPayload(p1) != h1 {
		t.Error("HashPayload(payload) differs from Compute hash")
	}
}

func TestCompute_EveryFieldContributes(t *testing.T) {
	base := fingerprint.Content{Title: "T", Description: "D", OwnerID: 1, Nonce: "n", Version: 1,
		StampedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	h, _ := fingerprint.Compute(base)

	variants := map[string]func(c *fingerprint.Content){
		"title":       func(c *fingerprint.Content) { c.Title = "T2" },
		"description": func(c *fingerprint.Content) { c.Description = "D2" },
		"owner":       func(c *fingerprint.Content) { c.OwnerID = 2 },
		"nonce":       func(c *fingerprint.Content) { c.Nonce = "m" },
		"version":     func(c *fingerprint.Content) { c.Version = 2 },
		"stamped_at":  func(c *fingerprint.Content) { c.StampedAt = c.StampedAt.Add(time.Microsecond) },
		"prev_hash":   func(c *fingerprint.Content) { c.PrevHash = "x" },
	}
	for name, mutate := range variants {
		c := base
		mutate(&c)
		if got, _ := fingerprint.Compute(c); got == h {
			t.Errorf("changing %s did not change the hash", name)
		}
	}
}
