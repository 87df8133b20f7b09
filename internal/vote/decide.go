// Package vote implements the vote ledger: one vote per (user, opportunity),
// like/dislike counters, and the community acceptance score.
//
// Per-pair vote graph:
//
//	(none) ──► like ◄──► dislike
//	   └──────────────────▲
//
// Re-casting the current vote is a no-op; there is no way back to (none).
package vote

import (
	"math"

	"asirinvest/core-service/internal/model"
)

// Decide returns the change needed to move the ledger row from prev to next.
// prev is nil when the user has not voted on the opportunity yet.
func Decide(prev *model.VoteType, next model.VoteType) model.VoteChange {
	switch {
	case prev == nil:
		return model.VoteChange{Op: model.VoteOpInsert, Type: next, LikesDelta: delta(next, model.VoteLike), DislikesDelta: delta(next, model.VoteDislike)}
	case *prev == next:
		return model.VoteChange{Op: model.VoteOpNone, Type: next}
	default:
		return model.VoteChange{
			Op:            model.VoteOpSwitch,
			Type:          next,
			LikesDelta:    delta(next, model.VoteLike) - delta(*prev, model.VoteLike),
			DislikesDelta: delta(next, model.VoteDislike) - delta(*prev, model.VoteDislike),
		}
	}
}

func delta(vt, counter model.VoteType) int {
	if vt == counter {
		return 1
	}
	return 0
}

// Acceptance is round(100 * likes / (likes + dislikes)), or baseline when
// nobody has voted. The result is always within [0, 100].
func Acceptance(likes, dislikes, baseline int) int {
	total := likes + dislikes
	if likes < 0 || dislikes < 0 || total <= 0 {
		return clamp(baseline)
	}
	return clamp(int(math.Round(100 * float64(likes) / float64(total))))
}

func clamp(v int) int {
	return max(0, min(100, v))
}
