package app

import (
	"context"
	"time"

	"adaptive-assessment-service/internal/domain"
)

// SessionRepository stores assessment sessions and enforces the
// one-non-terminal-session-per-(user,chapter) invariant.
type SessionRepository interface {
	// Get returns the session or domain.ErrSessionNotFound.
	Get(ctx context.Context, sessionID string) (*domain.AssessmentSession, error)
	// Active returns the non-terminal session for the pair, if any.
	Active(ctx context.Context, userID, chapterID string) (*domain.AssessmentSession, bool, error)
	// Save upserts the full session state.
	Save(ctx context.Context, session *domain.AssessmentSession) error
	// ExpireStale flips every non-terminal session past its TTL to Expired
	// and returns how many were swept.
	ExpireStale(ctx context.Context, now time.Time) (int, error)
	// RecentQuestionIDs lists question ids served to the user in the chapter
	// within the cool-down window.
	RecentQuestionIDs(ctx context.Context, userID, chapterID string, since time.Time) (map[string]bool, error)
}

// QuestionRepository provides chapter content; implementations cache the
// backing store.
type QuestionRepository interface {
	QuestionsByChapter(ctx context.Context, chapterID string) ([]domain.Question, error)
}

// RatingRepository owns ability and difficulty estimates plus the append-only
// change log. ApplyRatingBatch is the atomic persistence contract: the whole
// batch commits or nothing does, and it returns domain.ErrStaleRating when a
// difficulty version moved underneath the caller.
type RatingRepository interface {
	Ability(ctx context.Context, userID, chapterID string) (domain.UserAbility, error)
	Difficulties(ctx context.Context, questionIDs []string) (map[string]domain.VersionedRating, error)
	ApplyRatingBatch(ctx context.Context, batch *domain.RatingBatch) error
	Changes(ctx context.Context, userID, chapterID string, limit int) ([]domain.RatingChange, error)
}

// StandingRepository is the leaderboard read-model fed by completed sessions.
type StandingRepository interface {
	Publish(ctx context.Context, standing domain.Standing) error
	ChapterStandings(ctx context.Context, chapterID string) ([]domain.Standing, error)
	Standing(ctx context.Context, userID, chapterID string) (domain.Standing, bool, error)
	RecordCompletion(ctx context.Context, completion domain.Completion) error
	ChapterCompletions(ctx context.Context, chapterID string) ([]domain.Completion, error)
	UserCompletions(ctx context.Context, userID, chapterID string) ([]domain.Completion, error)
}

// FillerRepository provides the synthetic leaderboard population for sparsely
// played chapters.
type FillerRepository interface {
	Fillers(ctx context.Context, chapterID string) ([]domain.Standing, error)
}
