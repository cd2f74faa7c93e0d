// Package rank holds the scoring and time decay formulas for news items.
package rank

import (
	"math"
	"time"

	"github.com/alphabot-ai/slashnews/internal/config"
)

// Epsilon is the drift between a cached and a fresh rank that triggers a rewrite.
const Epsilon = 0.001

type Params struct {
	LogStart    float64
	LogBooster  float64
	AgePadding  time.Duration
	AgingFactor float64
}

func ParamsFrom(opts config.Options) Params {
	return Params{
		LogStart:    opts.NewsScoreLogStart,
		LogBooster:  opts.NewsScoreLogBooster,
		AgePadding:  opts.NewsAgePadding,
		AgingFactor: opts.RankAgingFactor,
	}
}

// Score is up minus down, plus a logarithmic bonus once the item has more
// than LogStart votes in total.
func (p Params) Score(up, down int64) float64 {
	score := float64(up - down)
	votes := float64(up + down)
	if votes > p.LogStart {
		score += math.Log(votes-p.LogStart) * p.LogBooster
	}
	return score
}

// Rank divides score by the padded age in hours raised to AgingFactor.
func (p Params) Rank(score float64, createdAt, now time.Time) float64 {
	age := now.Sub(createdAt) + p.AgePadding
	hours := age.Seconds() / 3600
	if hours <= 0 {
		return score
	}
	return score / math.Pow(hours, p.AgingFactor)
}

// Stale reports whether cached has drifted from fresh by more than Epsilon.
func Stale(cached, fresh float64) bool {
	return math.Abs(cached-fresh) > Epsilon
}
