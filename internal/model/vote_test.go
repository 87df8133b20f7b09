package model_test

import (
	"testing"

	"asirinvest/core-service/internal/model"
)

// ── ParseVoteType ─────────────────────────────────────────────────────────

func TestParseVoteType_ValidValues(t *testing.T) {
	for _, s := range []string{"like", "dislike"} {
		got, err := model.ParseVoteType(s)
		if err != nil {
			t.Errorf("ParseVoteType(%q) returned unexpected error: %v", s, err)
		}
		if string(got) != s {
			t.Errorf("ParseVoteType(%q) = %q, want %q", s, got, s)
		}
	}
}

func TestParseVoteType_InvalidValue(t *testing.T) {
	for _, s := range []string{"", "love", "upvote", "1", "-1"} {
		if _, err := model.ParseVoteType(s); err == nil {
			t.Errorf("ParseVoteType(%q) expected error, got nil", s)
		}
	}
}

// ParseVoteType must be case-sensitive: the enum in PostgreSQL is lowercase.
func TestParseVoteType_CaseSensitive(t *testing.T) {
	for _, s := range []string{"LIKE", "Like", "DISLIKE", "Dislike"} {
		if _, err := model.ParseVoteType(s); err == nil {
			t.Errorf("ParseVoteType(%q) should reject non-lowercase value", s)
		}
	}
}

// ParseVoteType must reject whitespace-padded strings.
func TestParseVoteType_WithWhitespace(t *testing.T) {
	for _, s := range []string{" like", "like ", " dislike "} {
		if _, err := model.ParseVoteType(s); err == nil {
			t.Errorf("ParseVoteType(%q) should reject padded value", s)
		}
	}
}
