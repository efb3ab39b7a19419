package memory

import (
	"context"
	"sync"

	"adaptive-assessment-service/internal/domain"
)

// Default Gaussian priors for users and questions that have no history yet.
const (
	DefaultMu    = 15.0
	DefaultSigma = 10.0
)

// RatingStore is an in-memory implementation of app.RatingRepository with
// optimistic versioning on difficulty records. A whole batch commits under
// one lock, so concurrent sessions touching the same question serialize their
// read-modify-write instead of losing updates.
type RatingStore struct {
	mu           sync.RWMutex
	abilities    map[string]domain.UserAbility
	difficulties map[string]domain.VersionedRating
	changes      []domain.RatingChange
}

func NewRatingStore() *RatingStore {
	return &RatingStore{
		abilities:    make(map[string]domain.UserAbility),
		difficulties: make(map[string]domain.VersionedRating),
	}
}

// SeedDifficulty installs a question's initial estimate if none exists.
func (r *RatingStore) SeedDifficulty(questionID string, rating domain.Rating) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.difficulties[questionID]; !ok {
		r.difficulties[questionID] = domain.VersionedRating{Rating: rating, Version: 1}
	}
}

func (r *RatingStore) Ability(_ context.Context, userID, chapterID string) (domain.UserAbility, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if ability, ok := r.abilities[userChapterKey(userID, chapterID)]; ok {
		return ability, nil
	}
	return domain.UserAbility{
		UserID:    userID,
		ChapterID: chapterID,
		Rating:    domain.Rating{Mu: DefaultMu, Sigma: DefaultSigma},
	}, nil
}

func (r *RatingStore) Difficulties(_ context.Context, questionIDs []string) (map[string]domain.VersionedRating, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]domain.VersionedRating, len(questionIDs))
	for _, id := range questionIDs {
		if v, ok := r.difficulties[id]; ok {
			out[id] = v
		}
	}
	return out, nil
}

func (r *RatingStore) ApplyRatingBatch(_ context.Context, batch *domain.RatingBatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Validate every version before mutating anything; the batch is atomic.
	for _, d := range batch.Difficulties {
		current, ok := r.difficulties[d.QuestionID]
		if ok && current.Version != d.Version {
			return domain.ErrStaleRating
		}
		if !ok && d.Version != 0 {
			return domain.ErrStaleRating
		}
	}

	for _, d := range batch.Difficulties {
		r.difficulties[d.QuestionID] = domain.VersionedRating{
			Rating:  d.After,
			Version: d.Version + 1,
		}
	}
	r.abilities[userChapterKey(batch.UserID, batch.ChapterID)] = batch.AbilityAfter
	r.changes = append(r.changes, batch.Changes...)
	return nil
}

// Changes returns the user's audit entries for one chapter, most recent first.
func (r *RatingStore) Changes(_ context.Context, userID, chapterID string, limit int) ([]domain.RatingChange, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.RatingChange
	for i := len(r.changes) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if r.changes[i].UserID == userID && r.changes[i].ChapterID == chapterID {
			out = append(out, r.changes[i])
		}
	}
	return out, nil
}
