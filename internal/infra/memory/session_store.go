package memory

import (
	"context"
	"sync"
	"time"

	"adaptive-assessment-service/internal/domain"
)

// SessionStore is an in-memory implementation of app.SessionRepository.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*domain.AssessmentSession
	// served tracks when each question was last delivered per user+chapter,
	// backing the selection cool-down window.
	served map[string]map[string]time.Time
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*domain.AssessmentSession),
		served:   make(map[string]map[string]time.Time),
	}
}

func (s *SessionStore) Get(_ context.Context, sessionID string) (*domain.AssessmentSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return cloneSession(session), nil
}

func (s *SessionStore) Active(_ context.Context, userID, chapterID string) (*domain.AssessmentSession, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, session := range s.sessions {
		if session.UserID == userID && session.ChapterID == chapterID && !session.State.Terminal() {
			return cloneSession(session), true, nil
		}
	}
	return nil, false, nil
}

func (s *SessionStore) Save(_ context.Context, session *domain.AssessmentSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = cloneSession(session)

	if session.State == domain.StateDelivered {
		key := userChapterKey(session.UserID, session.ChapterID)
		if s.served[key] == nil {
			s.served[key] = make(map[string]time.Time)
		}
		for _, snap := range session.Snapshots {
			s.served[key][snap.Question.ID] = session.DeliveredAt
		}
	}
	return nil
}

func (s *SessionStore) ExpireStale(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	swept := 0
	for _, session := range s.sessions {
		if session.ExpiredBy(now) {
			session.State = domain.StateExpired
			swept++
		}
	}
	return swept, nil
}

func (s *SessionStore) RecentQuestionIDs(_ context.Context, userID, chapterID string, since time.Time) (map[string]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	recent := make(map[string]bool)
	for id, at := range s.served[userChapterKey(userID, chapterID)] {
		if !at.Before(since) {
			recent[id] = true
		}
	}
	return recent, nil
}

func userChapterKey(userID, chapterID string) string {
	return userID + "|" + chapterID
}

// cloneSession keeps store state isolated from caller mutation.
func cloneSession(in *domain.AssessmentSession) *domain.AssessmentSession {
	out := *in
	out.Snapshots = append([]domain.QuestionSnapshot(nil), in.Snapshots...)
	if in.Answers != nil {
		out.Answers = make(map[string][]int, len(in.Answers))
		for k, v := range in.Answers {
			out.Answers[k] = append([]int(nil), v...)
		}
	}
	if in.Summary != nil {
		summary := *in.Summary
		out.Summary = &summary
	}
	return &out
}
