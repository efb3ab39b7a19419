// Package scoring computes session scores, population-relative percentiles,
// personal bests and rank-tier placement.
package scoring

import (
	"math"
	"sort"

	"adaptive-assessment-service/internal/domain"
)

// Percentile bounds: never exactly 0 or 100 so the display has no degenerate
// endpoints.
const (
	PercentileFloor = 0.01
	PercentileCeil  = 99.99
)

// GradedAnswer is one question's grading outcome in submission order.
type GradedAnswer struct {
	QuestionID     string
	Answered       bool
	Correct        bool
	Reward         domain.Reward
	ElapsedSeconds float64
}

// Grade judges a submission against a delivered snapshot. Unanswered
// questions count as incorrect. Unknown question ids or out-of-range indices
// are rejected before any grading happens.
func Grade(snapshots []domain.QuestionSnapshot, answers []domain.Answer) ([]GradedAnswer, error) {
	byID := make(map[string]domain.Question, len(snapshots))
	for _, s := range snapshots {
		byID[s.Question.ID] = s.Question
	}

	submitted := make(map[string]domain.Answer, len(answers))
	for _, a := range answers {
		q, ok := byID[a.QuestionID]
		if !ok {
			return nil, domain.ErrInvalidAnswerPayload
		}
		for _, idx := range a.Indexes {
			if idx < 0 || idx >= len(q.Options) {
				return nil, domain.ErrInvalidAnswerPayload
			}
		}
		submitted[a.QuestionID] = a
	}

	graded := make([]GradedAnswer, 0, len(snapshots))
	for _, s := range snapshots {
		answer, answered := submitted[s.Question.ID]
		answered = answered && answer.Answered()
		graded = append(graded, GradedAnswer{
			QuestionID:     s.Question.ID,
			Answered:       answered,
			Correct:        answered && judge(s.Question, answer.Indexes),
			Reward:         s.Question.Reward,
			ElapsedSeconds: answer.ElapsedSeconds,
		})
	}
	return graded, nil
}

// judge applies the correctness rule: a multi-correct question needs the
// exact correct set, a single-correct question needs any correct index.
func judge(q domain.Question, indexes []int) bool {
	if q.MultiCorrect() {
		if len(indexes) != len(q.Correct) {
			return false
		}
		want := make(map[int]bool, len(q.Correct))
		for _, c := range q.Correct {
			want[c] = true
		}
		for _, idx := range indexes {
			if !want[idx] {
				return false
			}
		}
		return true
	}
	for _, c := range q.Correct {
		for _, idx := range indexes {
			if idx == c {
				return true
			}
		}
	}
	return false
}

// RawScore sums xpCorrect for hits and subtracts xpIncorrect for misses
// (unanswered included), flooring the running total at zero.
func RawScore(graded []GradedAnswer) int {
	score := 0
	for _, g := range graded {
		if g.Correct {
			score += g.Reward.XPCorrect
		} else {
			score -= g.Reward.XPIncorrect
			if score < 0 {
				score = 0
			}
		}
	}
	return score
}

// Tally counts attempted/correct/incorrect. Unanswered questions are neither
// attempted nor correct but do count as incorrect for the summary.
func Tally(graded []GradedAnswer) (attempted, correct, incorrect int) {
	for _, g := range graded {
		if g.Answered {
			attempted++
		}
		if g.Correct {
			correct++
		} else {
			incorrect++
		}
	}
	return attempted, correct, incorrect
}

// AccuracyPercent is correct/attempted rounded to an integer percentage.
func AccuracyPercent(attempted, correct int) int {
	if attempted == 0 {
		return 0
	}
	return int(math.Round(float64(correct) / float64(attempted) * 100))
}

// Percentile returns the share of the historical distribution at or below
// value, clamped to [PercentileFloor, PercentileCeil]. The distribution must
// be non-empty; an empty one yields the floor.
func Percentile(value float64, distribution []float64) float64 {
	if len(distribution) == 0 {
		return PercentileFloor
	}
	atOrBelow := 0
	for _, h := range distribution {
		if h <= value {
			atOrBelow++
		}
	}
	p := 100 * float64(atOrBelow) / float64(len(distribution))
	if p < PercentileFloor {
		return PercentileFloor
	}
	if p > PercentileCeil {
		return PercentileCeil
	}
	return p
}

// ClampDuration bounds the measured session time to [0, max].
func ClampDuration(seconds, max float64) float64 {
	if seconds < 0 {
		return 0
	}
	if max > 0 && seconds > max {
		return max
	}
	return seconds
}

// PersonalBests compares this session to the user's prior completions on the
// chapter. A first completion sets both bests.
func PersonalBests(timeTaken float64, xpEarned int, prior []domain.Completion) (isNewMinTime, isNewMaxXP bool) {
	if len(prior) == 0 {
		return true, true
	}
	minTime := math.Inf(1)
	maxXP := math.MinInt
	for _, c := range prior {
		if c.TimeTakenSeconds < minTime {
			minTime = c.TimeTakenSeconds
		}
		if c.XPEarned > maxXP {
			maxXP = c.XPEarned
		}
	}
	return timeTaken < minTime, xpEarned > maxXP
}

// TierFor returns the band containing rating, or false when the rating falls
// outside every band.
func TierFor(rating int, tiers []domain.RankTier) (domain.RankTier, bool) {
	for _, t := range tiers {
		if rating >= t.MinRating && rating <= t.MaxRating {
			return t, true
		}
	}
	return domain.RankTier{}, false
}

// TierProgress is the percentage of the way from the current tier's floor to
// the next tier's floor, clamped to [0,100]. The top tier always reports 100.
func TierProgress(rating int, tiers []domain.RankTier) float64 {
	sorted := make([]domain.RankTier, len(tiers))
	copy(sorted, tiers)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].MinRating < sorted[j].MinRating })

	for i, t := range sorted {
		if rating < t.MinRating || rating > t.MaxRating {
			continue
		}
		if i == len(sorted)-1 {
			return 100
		}
		next := sorted[i+1]
		span := float64(next.MinRating - t.MinRating)
		if span <= 0 {
			return 100
		}
		p := 100 * float64(rating-t.MinRating) / span
		if p < 0 {
			return 0
		}
		if p > 100 {
			return 100
		}
		return p
	}
	return 0
}

// BadgesCrossed lists tiers whose floor the rating climbed past in this
// session, in ascending order.
func BadgesCrossed(before, after int, tiers []domain.RankTier) []string {
	sorted := make([]domain.RankTier, len(tiers))
	copy(sorted, tiers)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].MinRating < sorted[j].MinRating })

	var earned []string
	for _, t := range sorted {
		if before < t.MinRating && after >= t.MinRating {
			earned = append(earned, t.Name)
		}
	}
	return earned
}
