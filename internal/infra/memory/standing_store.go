package memory

import (
	"context"
	"sync"

	"adaptive-assessment-service/internal/domain"
)

// StandingStore is an in-memory leaderboard read-model: per-chapter standings
// plus the completion distributions behind percentiles and personal bests.
type StandingStore struct {
	mu          sync.RWMutex
	standings   map[string]domain.Standing // keyed user|chapter
	completions map[string][]domain.Completion
}

func NewStandingStore() *StandingStore {
	return &StandingStore{
		standings:   make(map[string]domain.Standing),
		completions: make(map[string][]domain.Completion),
	}
}

func (s *StandingStore) Publish(_ context.Context, standing domain.Standing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.standings[userChapterKey(standing.UserID, standing.ChapterID)] = standing
	return nil
}

func (s *StandingStore) ChapterStandings(_ context.Context, chapterID string) ([]domain.Standing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Standing
	for _, st := range s.standings {
		if st.ChapterID == chapterID {
			out = append(out, st)
		}
	}
	return out, nil
}

func (s *StandingStore) Standing(_ context.Context, userID, chapterID string) (domain.Standing, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.standings[userChapterKey(userID, chapterID)]
	return st, ok, nil
}

func (s *StandingStore) RecordCompletion(_ context.Context, completion domain.Completion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completions[completion.ChapterID] = append(s.completions[completion.ChapterID], completion)
	return nil
}

func (s *StandingStore) ChapterCompletions(_ context.Context, chapterID string) ([]domain.Completion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Completion(nil), s.completions[chapterID]...), nil
}

func (s *StandingStore) UserCompletions(_ context.Context, userID, chapterID string) ([]domain.Completion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Completion
	for _, c := range s.completions[chapterID] {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	return out, nil
}

// FillerStore serves the synthetic leaderboard population, with a "default"
// chapter as fallback for chapters without a curated set.
type FillerStore struct {
	mu       sync.RWMutex
	chapters map[string][]domain.Standing
}

const defaultFillerChapter = "default"

func NewFillerStore(chapters map[string][]domain.Standing) *FillerStore {
	if chapters == nil {
		chapters = make(map[string][]domain.Standing)
	}
	return &FillerStore{chapters: chapters}
}

func (f *FillerStore) Fillers(_ context.Context, chapterID string) ([]domain.Standing, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if fillers, ok := f.chapters[chapterID]; ok {
		return append([]domain.Standing(nil), fillers...), nil
	}
	return append([]domain.Standing(nil), f.chapters[defaultFillerChapter]...), nil
}
