package vote

import (
	"context"
	"fmt"
	"time"

	"asirinvest/core-service/internal/events"
	"asirinvest/core-service/internal/model"
	"asirinvest/core-service/internal/retry"
)

// Store is the persistence the ledger owns. Vote rows and the like/dislike
// counters are written through this interface only.
type Store interface {
	// ApplyVote serialises on the opportunity, reads the caller's prior vote,
	// calls decide, and commits the row change together with both counter
	// deltas. It returns the counters as committed. Unlisted or unknown
	// opportunities yield model.ErrNotFound.
	ApplyVote(ctx context.Context, userID, oppID int64,
		decide func(prev *model.VoteType) (model.VoteChange, error)) (model.Tally, error)
	UserVote(ctx context.Context, userID, oppID int64) (model.Vote, bool, error)
}

// Snapshot is the aggregate returned after every vote.
type Snapshot struct {
	LikesCount          int `json:"likes_count"`
	DislikesCount       int `json:"dislikes_count"`
	CommunityAcceptance int `json:"community_acceptance"`
}

// Ledger casts votes and derives the acceptance score.
type Ledger struct {
	store    Store
	events   events.Publisher
	retry    retry.Policy
	baseline int
}

// NewLedger returns a configured Ledger. baseline is the acceptance reported
// for opportunities with no votes.
func NewLedger(store Store, pub events.Publisher, policy retry.Policy, baseline int) *Ledger {
	return &Ledger{store: store, events: pub, retry: policy, baseline: clamp(baseline)}
}

// SnapshotOf derives the public aggregate from raw counters.
func (l *Ledger) SnapshotOf(t model.Tally) Snapshot {
	return Snapshot{
		LikesCount:          t.Likes,
		DislikesCount:       t.Dislikes,
		CommunityAcceptance: Acceptance(t.Likes, t.Dislikes, l.baseline),
	}
}

// CastVote records userID's vote on oppID and returns the resulting snapshot.
// Repeating the same vote leaves the counters unchanged; switching moves one
// count from the old counter to the new one in a single commit.
func (l *Ledger) CastVote(ctx context.Context, userID, oppID int64, rawType string) (Snapshot, error) {
	if userID <= 0 {
		return Snapshot{}, model.ErrUnauthorized
	}
	next, err := model.ParseVoteType(rawType)
	if err != nil {
		return Snapshot{}, &model.ValidationError{Msg: err.Error()}
	}

	var (
		tally  model.Tally
		change model.VoteChange
	)
	err = retry.Do(ctx, l.retry, func(ctx context.Context) error {
		var err error
		tally, err = l.store.ApplyVote(ctx, userID, oppID, func(prev *model.VoteType) (model.VoteChange, error) {
			change = Decide(prev, next)
			return change, nil
		})
		return err
	})
	if err != nil {
		return Snapshot{}, fmt.Errorf("cast vote on %d: %w", oppID, err)
	}

	snap := l.SnapshotOf(tally)
	if change.Op != model.VoteOpNone {
		l.events.Publish(ctx, events.VoteCast, map[string]any{
			"opportunityId":       oppID,
			"userId":              userID,
			"voteType":            string(next),
			"likesCount":          snap.LikesCount,
			"dislikesCount":       snap.DislikesCount,
			"communityAcceptance": snap.CommunityAcceptance,
		})
	}
	return snap, nil
}

// UserVoteView is the caller's current vote, if any.
type UserVoteView struct {
	VoteType  *model.VoteType `json:"vote_type"`
	UpdatedAt *time.Time      `json:"updated_at,omitempty"`
}

// UserVote returns the caller's vote on oppID.
func (l *Ledger) UserVote(ctx context.Context, userID, oppID int64) (UserVoteView, error) {
	if userID <= 0 {
		return UserVoteView{}, model.ErrUnauthorized
	}
	v, ok, err := l.store.UserVote(ctx, userID, oppID)
	if err != nil {
		return UserVoteView{}, fmt.Errorf("user vote on %d: %w", oppID, err)
	}
	if !ok {
		return UserVoteView{}, nil
	}
	return UserVoteView{VoteType: &v.Type, UpdatedAt: &v.UpdatedAt}, nil
}
