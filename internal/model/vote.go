package model

import "fmt"

// VoteType values mirror the vote_type enum in PostgreSQL.
type VoteType string

const (
	VoteLike    VoteType = "like"
	VoteDislike VoteType = "dislike"
)

// ParseVoteType converts a raw string to a VoteType, returning an error for
// unknown values. Matching is exact: "Like" or " like" are rejected.
func ParseVoteType(s string) (VoteType, error) {
	vt := VoteType(s)
	switch vt {
	case VoteLike, VoteDislike:
		return vt, nil
	}
	return "", fmt.Errorf("unknown vote type %q", s)
}
