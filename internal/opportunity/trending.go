package opportunity

import (
	"context"
	"fmt"
	"sort"

	"asirinvest/core-service/internal/model"
	"asirinvest/core-service/internal/stats"
)

const (
	defaultTrending = 5
	maxTrending     = 20
	trendingScan    = 100
)

// TrendingItem is one ranked opportunity, redacted for the viewer.
type TrendingItem struct {
	Opportunity View    `json:"opportunity"`
	Score       float64 `json:"trending_score"`
}

// TrendingResult ranks the active listed opportunities by engagement.
type TrendingResult struct {
	Items         []TrendingItem `json:"trending_opportunities"`
	TotalAnalyzed int            `json:"total_analyzed"`
}

type ranked struct {
	opp   model.Opportunity
	score float64
}

// Trending returns up to limit active opportunities ranked by
// stats.TrendingScore, highest first, each redacted for viewerID.
// Opportunities nobody has voted on or discussed are not trending.
func (s *Service) Trending(ctx context.Context, viewerID int64, limit int) (TrendingResult, error) {
	switch {
	case limit <= 0:
		limit = defaultTrending
	case limit > maxTrending:
		limit = maxTrending
	}

	var (
		top      []ranked
		analyzed int
	)
	// pages shift when opportunities are published mid-scan
	seen := make(map[int64]bool)
	for page := 1; ; page++ {
		opps, total, err := s.base.ListOpportunities(ctx, model.ListQuery{Page: page, PerPage: trendingScan})
		if err != nil {
			return TrendingResult{}, fmt.Errorf("trending: %w", err)
		}
		for _, o := range opps {
			if o.Status != model.StatusActive || seen[o.ID] {
				continue
			}
			seen[o.ID] = true
			analyzed++
			if o.LikesCount+o.DislikesCount+o.CommentsCount == 0 {
				continue
			}
			snap := s.votes.SnapshotOf(model.Tally{Likes: o.LikesCount, Dislikes: o.DislikesCount})
			score := stats.TrendingScore(o.LikesCount, o.CommentsCount, snap.CommunityAcceptance)
			if score <= 0 {
				continue
			}
			top = insertRanked(top, ranked{opp: o, score: score}, limit)
		}
		if len(opps) == 0 || page*trendingScan >= total {
			break
		}
	}

	res := TrendingResult{Items: make([]TrendingItem, 0, len(top)), TotalAnalyzed: analyzed}
	for _, r := range top {
		v, err := s.view(ctx, viewerID, r.opp)
		if err != nil {
			return TrendingResult{}, err
		}
		res.Items = append(res.Items, TrendingItem{Opportunity: v, Score: r.score})
	}
	return res, nil
}

// insertRanked keeps top sorted by score descending, then id ascending, and
// at most limit long.
func insertRanked(top []ranked, r ranked, limit int) []ranked {
	i := sort.Search(len(top), func(i int) bool {
		if top[i].score != r.score {
			return top[i].score < r.score
		}
		return top[i].opp.ID > r.opp.ID
	})
	if i >= limit {
		return top
	}
	top = append(top, ranked{})
	copy(top[i+1:], top[i:])
	top[i] = r
	if len(top) > limit {
		top = top[:limit]
	}
	return top
}
