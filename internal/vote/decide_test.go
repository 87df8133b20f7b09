package vote_test

import (
	"testing"

	"asirinvest/core-service/internal/model"
	"asirinvest/core-service/internal/vote"
)

func ptr(v model.VoteType) *model.VoteType { return &v }

// ── Decide ────────────────────────────────────────────────────────────────

func TestDecide_Matrix(t *testing.T) {
	cases := []struct {
		name          string
		prev          *model.VoteType
		next          model.VoteType
		op            model.VoteOp
		likes, disl   int
	}{
		{"first like", nil, model.VoteLike, model.VoteOpInsert, 1, 0},
		{"first dislike", nil, model.VoteDislike, model.VoteOpInsert, 0, 1},
		{"like again", ptr(model.VoteLike), model.VoteLike, model.VoteOpNone, 0, 0},
		{"dislike again", ptr(model.VoteDislike), model.VoteDislike, model.VoteOpNone, 0, 0},
		{"like to dislike", ptr(model.VoteLike), model.VoteDislike, model.VoteOpSwitch, -1, 1},
		{"dislike to like", ptr(model.VoteDislike), model.VoteLike, model.VoteOpSwitch, 1, -1},
	}
	for _, c := range cases {
		got := vote.Decide(c.prev, c.next)
		if got.Op != c.op || got.LikesDelta != c.likes || got.DislikesDelta != c.disl || got.Type != c.next {
			t.Errorf("%s: Decide = %+v, want op=%d likes=%d dislikes=%d", c.name, got, c.op, c.likes, c.disl)
		}
	}
}

// A switch must never change the total number of votes.
func TestDecide_SwitchPreservesTotal(t *testing.T) {
	for _, prev := range []model.VoteType{model.VoteLike, model.VoteDislike} {
		for _, next := range []model.VoteType{model.VoteLike, model.VoteDislike} {
			got := vote.Decide(ptr(prev), next)
			if sum := got.LikesDelta + got.DislikesDelta; sum != 0 {
				t.Errorf("Decide(%s → %s) changes total by %d", prev, next, sum)
			}
		}
	}
}

// ── Acceptance ────────────────────────────────────────────────────────────

func TestAcceptance(t *testing.T) {
	cases := []struct {
		likes, dislikes, baseline, want int
	}{
		{0, 0, 0, 0},
		{0, 0, 50, 50},
		{1, 0, 0, 100},
		{0, 1, 0, 0},
		{1, 1, 0, 50},
		{2, 1, 0, 67},
		{1, 2, 0, 33},
		{1, 7, 0, 13}, // 12.5 rounds half away from zero
		{999, 1, 0, 100},
	}
	for _, c := range cases {
		if got := vote.Acceptance(c.likes, c.dislikes, c.baseline); got != c.want {
			t.Errorf("Acceptance(%d, %d, %d) = %d, want %d", c.likes, c.dislikes, c.baseline, got, c.want)
		}
	}
}

// The score must stay within [0,100] whatever the inputs.
func TestAcceptance_AlwaysInRange(t *testing.T) {
	for likes := 0; likes <= 30; likes++ {
		for dislikes := 0; dislikes <= 30; dislikes++ {
			for _, baseline := range []int{-10, 0, 50, 150} {
				got := vote.Acceptance(likes, dislikes, baseline)
				if got < 0 || got > 100 {
					t.Fatalf("Acceptance(%d, %d, %d) = %d out of range", likes, dislikes, baseline, got)
				}
			}
		}
	}
}
