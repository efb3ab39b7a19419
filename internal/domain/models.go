package domain

import (
	"math"
	"time"
)

// Rating is a Gaussian skill estimate shared by learners and questions.
type Rating struct {
	Mu    float64 `json:"mu"`
	Sigma float64 `json:"sigma"`
}

// CombinedUncertainty is sqrt(aσ² + bσ²), used for match cost and update scaling.
func CombinedUncertainty(a, b Rating) float64 {
	return math.Sqrt(a.Sigma*a.Sigma + b.Sigma*b.Sigma)
}

// Reward holds the XP payout attached to a question.
type Reward struct {
	XPCorrect   int `json:"xpCorrect"`
	XPIncorrect int `json:"xpIncorrect"` // subtracted from the running score on a miss
}

// Question is an MCQ with one or more correct option indices.
type Question struct {
	ID         string   `json:"id"`
	ChapterID  string   `json:"chapterId"`
	Prompt     string   `json:"prompt"`
	Options    []string `json:"options"`
	Correct    []int    `json:"correct"` // indices into Options; len==1 for single-correct
	Topics     []string `json:"topics"`
	Difficulty Rating   `json:"difficulty"`
	Reward     Reward   `json:"reward"`
}

// MultiCorrect reports whether the question expects a full set of indices.
func (q Question) MultiCorrect() bool { return len(q.Correct) > 1 }

// QuestionSnapshot freezes a question plus the ratings that were current when
// the session was delivered. Grading always works off the snapshot, never a
// re-fetch.
type QuestionSnapshot struct {
	Question   Question `json:"question"`
	Ability    Rating   `json:"ability"`
	Difficulty Rating   `json:"difficulty"`
}

// SessionState is the lifecycle position of an assessment session.
// Transitions are strictly forward.
type SessionState string

const (
	StateCreated   SessionState = "created"
	StateDelivered SessionState = "delivered"
	StateSubmitted SessionState = "submitted"
	StateScored    SessionState = "scored"
	StateExpired   SessionState = "expired"
)

// Terminal reports whether the state admits no further transitions.
func (s SessionState) Terminal() bool { return s == StateScored || s == StateExpired }

// AssessmentSession is one delivery-to-scoring cycle for a user and chapter.
type AssessmentSession struct {
	ID          string             `json:"id"`
	UserID      string             `json:"userId"`
	ChapterID   string             `json:"chapterId"`
	State       SessionState       `json:"state"`
	CreatedAt   time.Time          `json:"createdAt"`
	DeliveredAt time.Time          `json:"deliveredAt"`
	ExpiresAt   time.Time          `json:"expiresAt"`
	Partial     bool               `json:"partial"` // fewer questions than requested survived selection
	Snapshots   []QuestionSnapshot `json:"snapshots"`
	Answers     map[string][]int   `json:"answers,omitempty"`
	Summary     *ScoreSummary      `json:"summary,omitempty"`
}

// ExpiredBy reports whether the session TTL elapsed at the given instant while
// the session was still in a non-terminal state.
func (s *AssessmentSession) ExpiredBy(now time.Time) bool {
	return !s.State.Terminal() && now.After(s.ExpiresAt)
}

// Answer pairs a question with the submitted option indices. Empty or nil
// Indexes means the question was left unanswered. ElapsedSeconds is the
// client-reported per-question time, used only for speed-bonus eligibility.
type Answer struct {
	QuestionID     string  `json:"questionId"`
	Indexes        []int   `json:"indexes"`
	ElapsedSeconds float64 `json:"elapsedSeconds,omitempty"`
}

// Answered reports whether any option was actually selected.
func (a Answer) Answered() bool { return len(a.Indexes) > 0 }

// BonusEvent is a server-computed in-session reward (streak or speed).
type BonusEvent struct {
	Type         string `json:"type"` // "streak" or "bonus"
	Message      string `json:"msg"`
	XPDelta      int    `json:"xpDelta"`
	CumulativeXP int    `json:"cumulativeXp"`
}

// ScoreSummary is the immutable result of grading one session.
type ScoreSummary struct {
	Attempted        int          `json:"questionsAttempted"`
	Correct          int          `json:"questionsCorrect"`
	Incorrect        int          `json:"questionsIncorrect"`
	RawScore         int          `json:"rawScore"`
	XPEarned         int          `json:"xpEarned"`
	Accuracy         int          `json:"accuracy"` // percent, 0..100
	TimeTakenSeconds float64      `json:"timeTakenSeconds"`
	TimePercentile   float64      `json:"timePercentile"`
	XPPercentile     float64      `json:"xpPercentile"`
	IsNewMinTime     bool         `json:"isNewMinTime"`
	IsNewMaxXP       bool         `json:"isNewMaxXp"`
	MaxStreak        int          `json:"maxStreak"`
	Bonuses          []BonusEvent `json:"bonuses"`
	BadgesEarned     []string     `json:"badgesEarned"`
	RankBefore       int          `json:"rankBefore"`
	RankAfter        int          `json:"rankAfter"`
}

// AbilitySample is one point of the bounded rating-over-time history.
type AbilitySample struct {
	At       time.Time `json:"at"`
	Rating   int       `json:"rating"`
	Accuracy int       `json:"accuracy"`
}

// UserAbility is the per-user-per-chapter skill estimate. It is mutated only
// by the rating updater, at most once per graded question per session.
type UserAbility struct {
	UserID    string          `json:"userId"`
	ChapterID string          `json:"chapterId"`
	Rating    Rating          `json:"rating"`
	History   []AbilitySample `json:"history,omitempty"`
	Attempted int             `json:"attempted"`
	Correct   int             `json:"correct"`
}

const (
	// DisplayRatingOffset and friends turn the conservative estimate into the
	// integer rating shown on leaderboards.
	DisplayRatingOffset     = 500
	DisplayRatingMultiplier = 100
	DisplayRatingCap        = 20000
	abilityHistoryCap       = 50
)

// DisplayRating converts a Gaussian estimate into the leaderboard scalar:
// a conservative mu−sigma scaled and offset, clamped to [0, cap].
func DisplayRating(r Rating) int {
	raw := DisplayRatingOffset + int(math.Round((r.Mu-r.Sigma)*DisplayRatingMultiplier))
	if raw < 0 {
		return 0
	}
	if raw > DisplayRatingCap {
		return DisplayRatingCap
	}
	return raw
}

// PushSample appends a history point, trimming the window to its cap.
func (a *UserAbility) PushSample(s AbilitySample) {
	a.History = append(a.History, s)
	if len(a.History) > abilityHistoryCap {
		a.History = a.History[len(a.History)-abilityHistoryCap:]
	}
}

// RatingChange is one append-only audit entry produced by the rating updater.
type RatingChange struct {
	SessionID        string    `json:"sessionId"`
	QuestionID       string    `json:"questionId"`
	UserID           string    `json:"userId"`
	ChapterID        string    `json:"chapterId"`
	Correct          bool      `json:"correct"`
	BeforeAbility    Rating    `json:"beforeUts"`
	AfterAbility     Rating    `json:"afterUts"`
	BeforeDifficulty Rating    `json:"beforeQts"`
	AfterDifficulty  Rating    `json:"afterQts"`
	At               time.Time `json:"timestamp"`
}

// VersionedRating pairs a difficulty estimate with its store version for
// optimistic concurrency.
type VersionedRating struct {
	Rating  Rating `json:"rating"`
	Version int64  `json:"version"`
}

// DifficultyUpdate is one question's share of an atomic rating batch.
type DifficultyUpdate struct {
	QuestionID string `json:"questionId"`
	Before     Rating `json:"before"`
	After      Rating `json:"after"`
	Version    int64  `json:"version"` // version the Before value was read at
}

// RatingBatch carries every mutation of one graded session. It commits
// entirely or not at all.
type RatingBatch struct {
	SessionID    string             `json:"sessionId"`
	UserID       string             `json:"userId"`
	ChapterID    string             `json:"chapterId"`
	AbilityAfter UserAbility        `json:"abilityAfter"`
	Difficulties []DifficultyUpdate `json:"difficulties"`
	Changes      []RatingChange     `json:"changes"`
}

// Standing is the leaderboard-facing record of a user in a chapter.
type Standing struct {
	UserID    string    `json:"userId"`
	ChapterID string    `json:"chapterId"`
	Name      string    `json:"name"`
	Rating    int       `json:"rating"`
	MaxScore  int       `json:"maxScore"`
	MaxStreak int       `json:"maxStreak"`
	Synthetic bool      `json:"synthetic,omitempty"` // filler population entry
	UpdatedAt time.Time `json:"updatedAt"`
}

// Completion is one finished session's contribution to the population
// distributions used for percentiles and personal bests.
type Completion struct {
	UserID           string    `json:"userId"`
	ChapterID        string    `json:"chapterId"`
	SessionID        string    `json:"sessionId"`
	TimeTakenSeconds float64   `json:"timeTakenSeconds"`
	XPEarned         int       `json:"xpEarned"`
	At               time.Time `json:"at"`
}

// RankTier is one named band over the display rating scale. Bands are ordered
// and non-overlapping.
type RankTier struct {
	Name      string `json:"name" yaml:"name"`
	MinRating int    `json:"minRating" yaml:"minRating"`
	MaxRating int    `json:"maxRating" yaml:"maxRating"`
}

// LeaderboardRow is one ranked entry in a leaderboard view.
type LeaderboardRow struct {
	Rank      int    `json:"rank"`
	UserID    string `json:"userId"`
	Name      string `json:"name"`
	Rating    int    `json:"rating"`
	Requester bool   `json:"requester,omitempty"`
}

// LeaderboardView is the bounded projection returned to clients: the top
// slice plus, when the requester sits below it, a window around them with an
// explicit gap marker.
type LeaderboardView struct {
	ChapterID string           `json:"chapterId"`
	Top       []LeaderboardRow `json:"top"`
	HasGap    bool             `json:"hasGap"`
	Window    []LeaderboardRow `json:"window,omitempty"`
	UpdatedAt time.Time        `json:"updatedAt"`
}
