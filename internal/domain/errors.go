package domain

import "errors"

var (
	// ErrInsufficientContent is returned when a chapter scope yields no eligible questions.
	ErrInsufficientContent = errors.New("not enough questions in scope")
	// ErrSessionAlreadyActive is returned when a second session is requested while one is live.
	ErrSessionAlreadyActive = errors.New("an assessment session is already active")
	// ErrSessionNotFound is returned when a session id resolves to nothing.
	ErrSessionNotFound = errors.New("assessment session not found")
	// ErrSessionExpired is returned on submit after the session TTL elapsed.
	ErrSessionExpired = errors.New("assessment session expired")
	// ErrInvalidAnswerPayload is returned for unknown question ids or out-of-range indices.
	ErrInvalidAnswerPayload = errors.New("invalid answer payload")
	// ErrRatingPersistence wraps transient storage failures during the atomic grading batch.
	ErrRatingPersistence = errors.New("rating persistence failure")
	// ErrStaleRating signals an optimistic-concurrency conflict; retry the whole batch.
	ErrStaleRating = errors.New("rating version conflict")
	// ErrChapterNotFound indicates unknown chapter content.
	ErrChapterNotFound = errors.New("chapter not found")
)

// ErrorKind maps an engine error to the tagged kind surfaced on the wire.
// Transport never exposes raw errors.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrInsufficientContent), errors.Is(err, ErrChapterNotFound):
		return "InsufficientContent"
	case errors.Is(err, ErrSessionAlreadyActive):
		return "SessionAlreadyActive"
	case errors.Is(err, ErrSessionNotFound):
		return "SessionNotFound"
	case errors.Is(err, ErrSessionExpired):
		return "SessionExpired"
	case errors.Is(err, ErrInvalidAnswerPayload):
		return "InvalidAnswerPayload"
	case errors.Is(err, ErrRatingPersistence), errors.Is(err, ErrStaleRating):
		return "RatingPersistenceFailure"
	default:
		return "Internal"
	}
}
