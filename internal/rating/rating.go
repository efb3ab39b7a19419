// Package rating implements the Bayesian skill update that co-adapts a
// learner's ability and a question's difficulty after each graded answer.
// The update is a pure function over value pairs; persistence happens through
// the atomic batch contract in the app layer.
package rating

import (
	"math"
	"time"

	"adaptive-assessment-service/internal/domain"
)

const (
	// beta is the performance variance scale; half the default sigma, per
	// TrueSkill convention.
	beta = 4.1667
	// gain scales how far one observation can move the estimates.
	gain = 1.0
	// shrink controls how fast sigmas collapse toward SigmaMin.
	shrink = 0.5
)

// Config bounds the Gaussian estimates.
type Config struct {
	SigmaMin float64
	SigmaMax float64
}

// DefaultConfig mirrors the production bounds.
func DefaultConfig() Config { return Config{SigmaMin: 1.0, SigmaMax: 10.0} }

// Updater computes mutual rating updates. Safe for concurrent use; it holds
// no state beyond its config.
type Updater struct {
	cfg Config
}

func NewUpdater(cfg Config) *Updater {
	if cfg.SigmaMin <= 0 {
		cfg.SigmaMin = DefaultConfig().SigmaMin
	}
	if cfg.SigmaMax < cfg.SigmaMin {
		cfg.SigmaMax = DefaultConfig().SigmaMax
	}
	return &Updater{cfg: cfg}
}

// ExpectedCorrect is the win probability of ability over difficulty: a
// logistic in (a.mu − d.mu) scaled by the combined uncertainty.
func ExpectedCorrect(ability, difficulty domain.Rating) float64 {
	c := math.Sqrt(2*beta*beta +
		ability.Sigma*ability.Sigma +
		difficulty.Sigma*difficulty.Sigma)
	return 1.0 / (1.0 + math.Exp(-(ability.Mu-difficulty.Mu)/c))
}

// Observation is one graded answer fed to the updater.
type Observation struct {
	QuestionID string
	Correct    bool
}

// Update applies a single observation and returns the new value pairs. The
// more uncertain side moves more; both sigmas shrink toward SigmaMin.
func (u *Updater) Update(ability, difficulty domain.Rating, correct bool) (domain.Rating, domain.Rating) {
	p := ExpectedCorrect(ability, difficulty)
	observed := 0.0
	if correct {
		observed = 1.0
	}

	c := math.Sqrt(2*beta*beta +
		ability.Sigma*ability.Sigma +
		difficulty.Sigma*difficulty.Sigma)
	surprise := observed - p

	aVar := ability.Sigma * ability.Sigma
	dVar := difficulty.Sigma * difficulty.Sigma

	newAbility := domain.Rating{
		Mu:    ability.Mu + gain*surprise*aVar/c,
		Sigma: u.shrinkSigma(ability.Sigma, aVar, c),
	}
	newDifficulty := domain.Rating{
		Mu:    difficulty.Mu - gain*surprise*dVar/c,
		Sigma: u.shrinkSigma(difficulty.Sigma, dVar, c),
	}
	return newAbility, newDifficulty
}

// shrinkSigma decays sigma by its share of the combined variance, never below
// SigmaMin and never above SigmaMax.
func (u *Updater) shrinkSigma(sigma, variance, c float64) float64 {
	factor := 1.0 - shrink*variance/(c*c)
	if factor < 0 {
		factor = 0
	}
	next := sigma * math.Sqrt(factor)
	if next < u.cfg.SigmaMin {
		next = u.cfg.SigmaMin
	}
	if next > u.cfg.SigmaMax {
		next = u.cfg.SigmaMax
	}
	return next
}

// ClampSigma bounds an externally sourced sigma to the configured range.
func (u *Updater) ClampSigma(sigma float64) float64 {
	if sigma < u.cfg.SigmaMin {
		return u.cfg.SigmaMin
	}
	if sigma > u.cfg.SigmaMax {
		return u.cfg.SigmaMax
	}
	return sigma
}

// BatchResult is the outcome of grading one session against current estimates.
type BatchResult struct {
	Ability      domain.Rating
	Difficulties map[string]domain.Rating
	Changes      []domain.RatingChange
}

// UpdateBatch folds a full submission through the mutual update in answer
// order. Each observation sees the ability produced by the previous one, so a
// correct answer can never lower ability.mu within the batch. One change-log
// entry is produced per observation.
func (u *Updater) UpdateBatch(sessionID, userID string, ability domain.Rating,
	difficulties map[string]domain.Rating, observations []Observation, now time.Time) BatchResult {

	result := BatchResult{
		Ability:      ability,
		Difficulties: make(map[string]domain.Rating, len(difficulties)),
		Changes:      make([]domain.RatingChange, 0, len(observations)),
	}
	for id, d := range difficulties {
		result.Difficulties[id] = d
	}

	for _, obs := range observations {
		difficulty, ok := result.Difficulties[obs.QuestionID]
		if !ok {
			continue
		}
		beforeAbility := result.Ability
		beforeDifficulty := difficulty

		afterAbility, afterDifficulty := u.Update(beforeAbility, beforeDifficulty, obs.Correct)
		result.Ability = afterAbility
		result.Difficulties[obs.QuestionID] = afterDifficulty

		result.Changes = append(result.Changes, domain.RatingChange{
			SessionID:        sessionID,
			QuestionID:       obs.QuestionID,
			UserID:           userID,
			Correct:          obs.Correct,
			BeforeAbility:    beforeAbility,
			AfterAbility:     afterAbility,
			BeforeDifficulty: beforeDifficulty,
			AfterDifficulty:  afterDifficulty,
			At:               now,
		})
	}
	return result
}

// SigmaBoostConfig widens a collapsed sigma when recent accuracy is stable, so
// the selector's match window reopens for plateaued learners.
type SigmaBoostConfig struct {
	SigmaBase   float64 // boost only applies below this sigma
	BaseBoost   float64 // minimum widening
	MaxBoost    float64 // extra widening scaled by stability
	HistorySize int     // accuracy samples considered
}

// DefaultSigmaBoostConfig mirrors the production tuning.
func DefaultSigmaBoostConfig() SigmaBoostConfig {
	return SigmaBoostConfig{SigmaBase: 1.5, BaseBoost: 0.5, MaxBoost: 1.0, HistorySize: 5}
}

// BoostSigma returns the widened sigma, or the input unchanged when no boost
// applies. accuracies are fractions in [0,1], most recent last.
func BoostSigma(sigma float64, accuracies []float64, cfg SigmaBoostConfig) float64 {
	if sigma >= cfg.SigmaBase || len(accuracies) == 0 {
		return sigma
	}
	if len(accuracies) > cfg.HistorySize {
		accuracies = accuracies[len(accuracies)-cfg.HistorySize:]
	}

	mean := 0.0
	for _, a := range accuracies {
		mean += a
	}
	mean /= float64(len(accuracies))

	variance := 0.0
	for _, a := range accuracies {
		variance += (a - mean) * (a - mean)
	}
	stdDev := math.Sqrt(variance / float64(len(accuracies)))

	// Max possible std dev for values in [0,1] is 0.5.
	stdNorm := math.Min(1, stdDev/0.5)
	stability := 1 - stdNorm

	return sigma + cfg.BaseBoost + stability*cfg.MaxBoost
}
