package db_test

import (
	"context"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"asirinvest/core-service/internal/db"
)

func TestNewRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb, err := db.NewRedisClient(context.Background(), "redis://"+mr.Addr()+"/0")
	if err != nil {
		t.Fatalf("NewRedisClient: %v", err)
	}
	defer rdb.Close()
}

func TestNewRedisClient_BadURL(t *testing.T) {
	if _, err := db.NewRedisClient(context.Background(), "://nope"); err == nil {
		t.Fatal("expected error for malformed URL")
	}
}

func TestNewPostgresPool_BadURL(t *testing.T) {
	if _, err := db.NewPostgresPool(context.Background(), "postgres://%zz"); err == nil {
		t.Fatal("expected error for malformed URL")
	}
}

func TestSchema_DeclaresUniqueness(t *testing.T) {
	s := db.Schema()
	for _, want := range []string{
		"PRIMARY KEY (user_id, opportunity_id)",
		"UNIQUE (opportunity_id, client_token)",
		"provenance_stamp_version_uq",
		"provenance_disclosure_uq",
		"tamper_flags_open_uq",
		"CREATE TYPE vote_type AS ENUM ('like', 'dislike')",
	} {
		if !strings.Contains(s, want) {
			t.Errorf("schema is missing %q", want)
		}
	}
}
