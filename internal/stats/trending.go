package stats

import "math"

// TrendingScore ranks an opportunity by engagement: comments weigh more than
// likes, community acceptance adds a small bias, and discussion relative to
// likes adds a bonus. The result is rounded to two decimals.
func TrendingScore(likes, comments, acceptance int) float64 {
	score := float64(likes)*2 + float64(comments)*3 + float64(acceptance)*0.5
	if likes > 0 {
		score += float64(comments) / float64(likes) * 10
	}
	return math.Round(score*100) / 100
}
