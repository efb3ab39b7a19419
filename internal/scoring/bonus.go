package scoring

import (
	"fmt"

	"adaptive-assessment-service/internal/domain"
)

// BonusConfig tunes the in-session reward events.
type BonusConfig struct {
	StreakThresholds []int   `yaml:"streakThresholds"` // ascending; counter resets past the last one
	SpeedSeconds     float64 `yaml:"speedSeconds"`     // correct answers faster than this earn a speed bonus
}

// DefaultBonusConfig mirrors the production milestones.
func DefaultBonusConfig() BonusConfig {
	return BonusConfig{StreakThresholds: []int{3, 6, 9}, SpeedSeconds: 10}
}

// BonusOutcome is the evaluator's result: ordered events plus the XP they add
// on top of the raw score.
type BonusOutcome struct {
	Events    []domain.BonusEvent
	BonusXP   int
	MaxStreak int
}

// EvaluateBonuses runs once over the graded sequence (never per keystroke) and
// emits ordered bonus events. A streak milestone pays the streak length in
// XP; a fast correct answer pays half the question's correct reward.
// baseXP seeds the cumulative counter carried on each event.
func EvaluateBonuses(graded []GradedAnswer, cfg BonusConfig, baseXP int) BonusOutcome {
	out := BonusOutcome{}
	cumulative := baseXP
	streak := 0
	topThreshold := 0
	if n := len(cfg.StreakThresholds); n > 0 {
		topThreshold = cfg.StreakThresholds[n-1]
	}

	for _, g := range graded {
		if !g.Correct {
			streak = 0
			continue
		}

		if cfg.SpeedSeconds > 0 && g.ElapsedSeconds > 0 && g.ElapsedSeconds < cfg.SpeedSeconds {
			delta := g.Reward.XPCorrect / 2
			if delta > 0 {
				cumulative += delta
				out.BonusXP += delta
				out.Events = append(out.Events, domain.BonusEvent{
					Type:         "bonus",
					Message:      fmt.Sprintf("Speed bonus! +%d XP", delta),
					XPDelta:      delta,
					CumulativeXP: cumulative,
				})
			}
		}

		streak++
		if streak > out.MaxStreak {
			out.MaxStreak = streak
		}
		for _, threshold := range cfg.StreakThresholds {
			if streak == threshold {
				delta := streak
				cumulative += delta
				out.BonusXP += delta
				out.Events = append(out.Events, domain.BonusEvent{
					Type:         "streak",
					Message:      fmt.Sprintf("Amazing! %d correct answers in a row! +%d bonus XP!", streak, delta),
					XPDelta:      delta,
					CumulativeXP: cumulative,
				})
				break
			}
		}
		if topThreshold > 0 && streak >= topThreshold {
			streak = 0
		}
	}
	return out
}
