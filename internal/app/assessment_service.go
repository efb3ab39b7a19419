// Package app composes the assessment engine: session lifecycle, the grading
// pipeline and the leaderboard read side.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"adaptive-assessment-service/internal/domain"
	"adaptive-assessment-service/internal/rating"
	"adaptive-assessment-service/internal/scoring"
	"adaptive-assessment-service/internal/selector"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Config carries the engine tunables; see config.Assessment for the YAML side.
type Config struct {
	QuestionCount   int
	SessionTTL      time.Duration
	CoolDown        time.Duration // recently-served exclusion window
	MaxDuration     time.Duration // cap for timeTakenSeconds
	StorageTimeout  time.Duration
	GradingAttempts int // whole-batch retries on conflict or transient failure
	Tiers           []domain.RankTier
	Bonus           scoring.BonusConfig
	Rating          rating.Config
	Boost           rating.SigmaBoostConfig
}

// DefaultConfig mirrors the production defaults.
func DefaultConfig() Config {
	return Config{
		QuestionCount:   3,
		SessionTTL:      10 * time.Minute,
		CoolDown:        30 * time.Minute,
		MaxDuration:     10 * time.Minute,
		StorageTimeout:  5 * time.Second,
		GradingAttempts: 3,
		Tiers:           DefaultTiers(),
		Bonus:           scoring.DefaultBonusConfig(),
		Rating:          rating.DefaultConfig(),
		Boost:           rating.DefaultSigmaBoostConfig(),
	}
}

// DefaultTiers is the stock bronze..diamond banding over the display rating.
func DefaultTiers() []domain.RankTier {
	return []domain.RankTier{
		{Name: "bronze", MinRating: 0, MaxRating: 999},
		{Name: "silver", MinRating: 1000, MaxRating: 1999},
		{Name: "gold", MinRating: 2000, MaxRating: 2999},
		{Name: "platinum", MinRating: 3000, MaxRating: 3999},
		{Name: "diamond", MinRating: 4000, MaxRating: domain.DisplayRatingCap},
	}
}

// AssessmentService is the session state machine. It owns no transport; the
// websocket handler drives it.
type AssessmentService struct {
	sessions  SessionRepository
	questions QuestionRepository
	ratings   RatingRepository
	standings StandingRepository
	updater   *rating.Updater
	cfg       Config
	now       func() time.Time
	starts    singleflight.Group // dedupes concurrent starts per (user, chapter)
	submits   singleflight.Group // coalesces duplicate submits per session
}

func NewAssessmentService(sessions SessionRepository, questions QuestionRepository,
	ratings RatingRepository, standings StandingRepository, cfg Config) *AssessmentService {
	return &AssessmentService{
		sessions:  sessions,
		questions: questions,
		ratings:   ratings,
		standings: standings,
		updater:   rating.NewUpdater(cfg.Rating),
		cfg:       cfg,
		now:       time.Now,
	}
}

// WithClock is test-only for deterministic timestamps.
func (s *AssessmentService) WithClock(now func() time.Time) *AssessmentService {
	s.now = now
	return s
}

// StartRequest scopes a session start.
type StartRequest struct {
	UserID    string
	ChapterID string
	Topics    []string
}

// Start returns the live session for the pair, creating and delivering one
// when none exists. A duplicate start while a session is Delivered returns
// the same session idempotently; this is the documented at-most-one policy.
func (s *AssessmentService) Start(ctx context.Context, req StartRequest) (*domain.AssessmentSession, error) {
	key := req.UserID + "|" + req.ChapterID
	result, err, _ := s.starts.Do(key, func() (interface{}, error) {
		return s.startLocked(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return result.(*domain.AssessmentSession), nil
}

func (s *AssessmentService) startLocked(ctx context.Context, req StartRequest) (*domain.AssessmentSession, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StorageTimeout)
	defer cancel()
	now := s.now()

	existing, ok, err := s.sessions.Active(ctx, req.UserID, req.ChapterID)
	if err != nil {
		return nil, fmt.Errorf("lookup active session: %w", err)
	}
	if ok {
		if !existing.ExpiredBy(now) {
			return existing, nil
		}
		existing.State = domain.StateExpired
		if err := s.sessions.Save(ctx, existing); err != nil {
			return nil, fmt.Errorf("expire stale session: %w", err)
		}
	}

	ability, err := s.ratings.Ability(ctx, req.UserID, req.ChapterID)
	if err != nil {
		return nil, fmt.Errorf("load ability: %w", err)
	}
	ability.Rating.Sigma = s.boostedSigma(ability)

	pool, err := s.questions.QuestionsByChapter(ctx, req.ChapterID)
	if err != nil {
		return nil, fmt.Errorf("load chapter %s: %w", req.ChapterID, err)
	}
	pool, err = s.withCurrentDifficulties(ctx, pool)
	if err != nil {
		return nil, fmt.Errorf("load difficulties: %w", err)
	}

	exclude, err := s.sessions.RecentQuestionIDs(ctx, req.UserID, req.ChapterID, now.Add(-s.cfg.CoolDown))
	if err != nil {
		return nil, fmt.Errorf("load cool-down set: %w", err)
	}

	picked, err := selector.Select(pool, selector.Request{
		ChapterID: req.ChapterID,
		Topics:    req.Topics,
		Ability:   ability.Rating,
		Exclude:   exclude,
		Count:     s.cfg.QuestionCount,
	})
	if err != nil {
		// A fully exhausted cool-down window is not a content gap; retry
		// without exclusions before reporting InsufficientContent.
		if errors.Is(err, domain.ErrInsufficientContent) && len(exclude) > 0 {
			picked, err = selector.Select(pool, selector.Request{
				ChapterID: req.ChapterID,
				Topics:    req.Topics,
				Ability:   ability.Rating,
				Count:     s.cfg.QuestionCount,
			})
		}
		if err != nil {
			return nil, err
		}
	}

	snapshots := make([]domain.QuestionSnapshot, len(picked.Questions))
	for i, q := range picked.Questions {
		snapshots[i] = domain.QuestionSnapshot{
			Question:   q,
			Ability:    ability.Rating,
			Difficulty: q.Difficulty,
		}
	}

	session := &domain.AssessmentSession{
		ID:          uuid.NewString(),
		UserID:      req.UserID,
		ChapterID:   req.ChapterID,
		State:       domain.StateDelivered,
		CreatedAt:   now,
		DeliveredAt: now,
		ExpiresAt:   now.Add(s.cfg.SessionTTL),
		Partial:     picked.Partial,
		Snapshots:   snapshots,
	}
	if err := s.sessions.Save(ctx, session); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	return session, nil
}

// boostedSigma reopens a collapsed sigma for learners with a stable recent
// accuracy, then clamps to the configured bounds.
func (s *AssessmentService) boostedSigma(ability domain.UserAbility) float64 {
	accuracies := make([]float64, 0, len(ability.History))
	for _, sample := range ability.History {
		accuracies = append(accuracies, float64(sample.Accuracy)/100)
	}
	boosted := rating.BoostSigma(ability.Rating.Sigma, accuracies, s.cfg.Boost)
	return s.updater.ClampSigma(boosted)
}

// withCurrentDifficulties overlays stored (co-adapted) difficulty estimates
// onto the content store's seed values.
func (s *AssessmentService) withCurrentDifficulties(ctx context.Context, pool []domain.Question) ([]domain.Question, error) {
	ids := make([]string, len(pool))
	for i, q := range pool {
		ids[i] = q.ID
	}
	current, err := s.ratings.Difficulties(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range pool {
		if v, ok := current[pool[i].ID]; ok {
			pool[i].Difficulty = v.Rating
		}
	}
	return pool, nil
}

// Submit grades a Delivered session as one atomic batch and returns the
// summary. Submitting an already-Scored session returns the cached summary.
func (s *AssessmentService) Submit(ctx context.Context, sessionID string, answers []domain.Answer) (*domain.ScoreSummary, error) {
	result, err, _ := s.submits.Do(sessionID, func() (interface{}, error) {
		return s.submitLocked(ctx, sessionID, answers)
	})
	if err != nil {
		return nil, err
	}
	return result.(*domain.ScoreSummary), nil
}

func (s *AssessmentService) submitLocked(ctx context.Context, sessionID string, answers []domain.Answer) (*domain.ScoreSummary, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StorageTimeout)
	defer cancel()
	now := s.now()

	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	switch {
	case session.State == domain.StateScored && session.Summary != nil:
		return session.Summary, nil // idempotent re-submission
	case session.ExpiredBy(now) || session.State == domain.StateExpired:
		if session.State != domain.StateExpired {
			session.State = domain.StateExpired
			if err := s.sessions.Save(ctx, session); err != nil {
				log.Printf("expire on submit: %v", err)
			}
		}
		return nil, domain.ErrSessionExpired
	case session.State == domain.StateSubmitted:
		// A previous submit persisted the answers but the grading pipeline
		// failed before the summary landed. Re-grade rather than wedge.
	case session.State != domain.StateDelivered:
		return nil, fmt.Errorf("session %s not accepting answers: %w", sessionID, domain.ErrSessionNotFound)
	}

	graded, err := scoring.Grade(session.Snapshots, answers)
	if err != nil {
		return nil, err // session stays Delivered
	}

	session.State = domain.StateSubmitted
	session.Answers = make(map[string][]int, len(answers))
	for _, a := range answers {
		session.Answers[a.QuestionID] = a.Indexes
	}
	if err := s.sessions.Save(ctx, session); err != nil {
		return nil, fmt.Errorf("save submitted session: %w", err)
	}

	abilityBefore, abilityAfter, err := s.applyRatings(ctx, session, graded, now)
	if err != nil {
		return nil, err
	}

	summary, err := s.buildSummary(ctx, session, graded, abilityBefore, abilityAfter, now)
	if err != nil {
		return nil, err
	}

	session.State = domain.StateScored
	session.Summary = summary
	if err := s.sessions.Save(ctx, session); err != nil {
		return nil, fmt.Errorf("save scored session: %w", err)
	}

	if err := s.publishCompletion(ctx, session, summary, now); err != nil {
		// The session is scored; standings lag rather than failing the submit.
		log.Printf("publish standing for session %s: %v", session.ID, err)
	}
	return summary, nil
}

// applyRatings runs the mutual update and persists it atomically, retrying
// the whole batch on version conflicts and transient failures.
func (s *AssessmentService) applyRatings(ctx context.Context, session *domain.AssessmentSession,
	graded []scoring.GradedAnswer, now time.Time) (domain.Rating, domain.Rating, error) {

	observations := make([]rating.Observation, len(graded))
	questionIDs := make([]string, len(graded))
	for i, g := range graded {
		observations[i] = rating.Observation{QuestionID: g.QuestionID, Correct: g.Correct}
		questionIDs[i] = g.QuestionID
	}
	attempted, correct, _ := scoring.Tally(graded)

	// A retry of a Submitted session whose batch already committed must not
	// apply it twice; recover the before/after pair from the change log.
	if prior, err := s.ratings.Changes(ctx, session.UserID, session.ChapterID, 0); err == nil {
		var sessionChanges []domain.RatingChange // most recent first
		for _, change := range prior {
			if change.SessionID == session.ID {
				sessionChanges = append(sessionChanges, change)
			}
		}
		if len(sessionChanges) > 0 {
			return sessionChanges[len(sessionChanges)-1].BeforeAbility, sessionChanges[0].AfterAbility, nil
		}
	}

	var lastErr error
	for attempt := 0; attempt < s.cfg.GradingAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return domain.Rating{}, domain.Rating{}, fmt.Errorf("%w: %v", domain.ErrRatingPersistence, ctx.Err())
			case <-time.After(time.Duration(attempt) * 50 * time.Millisecond):
			}
		}

		ability, err := s.ratings.Ability(ctx, session.UserID, session.ChapterID)
		if err != nil {
			lastErr = err
			continue
		}
		versioned, err := s.ratings.Difficulties(ctx, questionIDs)
		if err != nil {
			lastErr = err
			continue
		}

		difficulties := make(map[string]domain.Rating, len(versioned))
		for id, v := range versioned {
			difficulties[id] = v.Rating
		}
		for _, snap := range session.Snapshots {
			if _, ok := difficulties[snap.Question.ID]; !ok {
				difficulties[snap.Question.ID] = snap.Difficulty
			}
		}

		result := s.updater.UpdateBatch(session.ID, session.UserID, ability.Rating, difficulties, observations, now)
		for i := range result.Changes {
			result.Changes[i].ChapterID = session.ChapterID
		}

		after := ability
		after.Rating = result.Ability
		after.Attempted += attempted
		after.Correct += correct
		after.PushSample(domain.AbilitySample{
			At:       now,
			Rating:   domain.DisplayRating(result.Ability),
			Accuracy: scoring.AccuracyPercent(attempted, correct),
		})

		batch := &domain.RatingBatch{
			SessionID:    session.ID,
			UserID:       session.UserID,
			ChapterID:    session.ChapterID,
			AbilityAfter: after,
			Changes:      result.Changes,
		}
		for id, updated := range result.Difficulties {
			batch.Difficulties = append(batch.Difficulties, domain.DifficultyUpdate{
				QuestionID: id,
				Before:     difficulties[id],
				After:      updated,
				Version:    versioned[id].Version,
			})
		}

		err = s.ratings.ApplyRatingBatch(ctx, batch)
		if err == nil {
			return ability.Rating, result.Ability, nil
		}
		lastErr = err
		if !errors.Is(err, domain.ErrStaleRating) && ctx.Err() != nil {
			break
		}
	}
	return domain.Rating{}, domain.Rating{}, fmt.Errorf("%w: %v", domain.ErrRatingPersistence, lastErr)
}

// buildSummary computes score, bonuses, percentiles, personal bests and rank
// movement for a graded session.
func (s *AssessmentService) buildSummary(ctx context.Context, session *domain.AssessmentSession,
	graded []scoring.GradedAnswer, abilityBefore, abilityAfter domain.Rating, now time.Time) (*domain.ScoreSummary, error) {

	attempted, correct, incorrect := scoring.Tally(graded)
	rawScore := scoring.RawScore(graded)
	bonuses := scoring.EvaluateBonuses(graded, s.cfg.Bonus, rawScore)
	xpEarned := rawScore + bonuses.BonusXP
	timeTaken := scoring.ClampDuration(now.Sub(session.DeliveredAt).Seconds(), s.cfg.MaxDuration.Seconds())

	var chapterCompletions, userCompletions []domain.Completion
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		chapterCompletions, err = s.standings.ChapterCompletions(gctx, session.ChapterID)
		return err
	})
	g.Go(func() error {
		var err error
		userCompletions, err = s.standings.UserCompletions(gctx, session.UserID, session.ChapterID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("load completion history: %w", err)
	}

	times := make([]float64, 0, len(chapterCompletions)+1)
	xps := make([]float64, 0, len(chapterCompletions)+1)
	for _, c := range chapterCompletions {
		times = append(times, c.TimeTakenSeconds)
		xps = append(xps, float64(c.XPEarned))
	}
	// The current session is part of its own population.
	times = append(times, timeTaken)
	xps = append(xps, float64(xpEarned))

	isNewMinTime, isNewMaxXP := scoring.PersonalBests(timeTaken, xpEarned, userCompletions)

	ratingBefore := domain.DisplayRating(abilityBefore)
	ratingAfter := domain.DisplayRating(abilityAfter)
	rankBefore, rankAfter := s.rankMovement(ctx, session, ratingBefore, ratingAfter)

	return &domain.ScoreSummary{
		Attempted:        attempted,
		Correct:          correct,
		Incorrect:        incorrect,
		RawScore:         rawScore,
		XPEarned:         xpEarned,
		Accuracy:         scoring.AccuracyPercent(attempted, correct),
		TimeTakenSeconds: timeTaken,
		TimePercentile:   scoring.Percentile(timeTaken, times),
		XPPercentile:     scoring.Percentile(float64(xpEarned), xps),
		IsNewMinTime:     isNewMinTime,
		IsNewMaxXP:       isNewMaxXP,
		MaxStreak:        bonuses.MaxStreak,
		Bonuses:          bonuses.Events,
		BadgesEarned:     scoring.BadgesCrossed(ratingBefore, ratingAfter, s.cfg.Tiers),
		RankBefore:       rankBefore,
		RankAfter:        rankAfter,
	}, nil
}

// rankMovement derives dense leaderboard ranks for the before/after ratings.
// Rank errors degrade to zero values; they never fail a submit.
func (s *AssessmentService) rankMovement(ctx context.Context, session *domain.AssessmentSession, before, after int) (int, int) {
	standings, err := s.standings.ChapterStandings(ctx, session.ChapterID)
	if err != nil {
		log.Printf("load standings for ranks: %v", err)
		return 0, 0
	}
	others := make([]domain.Standing, 0, len(standings))
	for _, st := range standings {
		if st.UserID != session.UserID {
			others = append(others, st)
		}
	}
	return denseRankAmong(others, before), denseRankAmong(others, after)
}

// publishCompletion feeds the leaderboard read-model and the population
// distributions once a session reaches Scored.
func (s *AssessmentService) publishCompletion(ctx context.Context, session *domain.AssessmentSession,
	summary *domain.ScoreSummary, now time.Time) error {

	ability, err := s.ratings.Ability(ctx, session.UserID, session.ChapterID)
	if err != nil {
		return err
	}

	standing, _, err := s.standings.Standing(ctx, session.UserID, session.ChapterID)
	if err != nil {
		return err
	}
	standing.UserID = session.UserID
	standing.ChapterID = session.ChapterID
	standing.Rating = domain.DisplayRating(ability.Rating)
	if summary.RawScore > standing.MaxScore {
		standing.MaxScore = summary.RawScore
	}
	if summary.MaxStreak > standing.MaxStreak {
		standing.MaxStreak = summary.MaxStreak
	}
	standing.UpdatedAt = now
	if err := s.standings.Publish(ctx, standing); err != nil {
		return err
	}

	return s.standings.RecordCompletion(ctx, domain.Completion{
		UserID:           session.UserID,
		ChapterID:        session.ChapterID,
		SessionID:        session.ID,
		TimeTakenSeconds: summary.TimeTakenSeconds,
		XPEarned:         summary.XPEarned,
		At:               now,
	})
}

// Session loads a session by ID, applying lazy expiry.
func (s *AssessmentService) Session(ctx context.Context, sessionID string) (*domain.AssessmentSession, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StorageTimeout)
	defer cancel()
	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.ExpiredBy(s.now()) && !session.State.Terminal() {
		session.State = domain.StateExpired
		if err := s.sessions.Save(ctx, session); err != nil {
			return nil, err
		}
	}
	return session, nil
}

// RatingHistory exposes the audit trail for ability-over-time charts.
func (s *AssessmentService) RatingHistory(ctx context.Context, userID, chapterID string, limit int) ([]domain.RatingChange, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StorageTimeout)
	defer cancel()
	return s.ratings.Changes(ctx, userID, chapterID, limit)
}

// RunExpirySweeper periodically flips stale sessions to Expired until the
// context is canceled. Expiry is also applied lazily on every load.
func (s *AssessmentService) RunExpirySweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweepCtx, cancel := context.WithTimeout(ctx, s.cfg.StorageTimeout)
			swept, err := s.sessions.ExpireStale(sweepCtx, s.now())
			cancel()
			if err != nil {
				log.Printf("expiry sweep: %v", err)
				continue
			}
			if swept > 0 {
				log.Printf("expired %d stale sessions", swept)
			}
		}
	}
}
