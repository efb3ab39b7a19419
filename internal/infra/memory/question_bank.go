package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"adaptive-assessment-service/internal/domain"
	"golang.org/x/sync/singleflight"
)

// QuestionLoader fetches chapter content from a backing store (e.g. Postgres).
type QuestionLoader interface {
	LoadChapter(ctx context.Context, chapterID string) ([]domain.Question, error)
}

// QuestionBank caches chapter question sets with TTL to avoid repeated
// content-store hits during selection.
type QuestionBank struct {
	loader QuestionLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group
	rnd    *rand.Rand

	mu    sync.RWMutex
	cache map[string]cachedChapter
}

type cachedChapter struct {
	questions []domain.Question
	expiresAt time.Time
}

func NewQuestionBank(loader QuestionLoader, ttl time.Duration) *QuestionBank {
	return &QuestionBank{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedChapter),
	}
}

func (b *QuestionBank) QuestionsByChapter(ctx context.Context, chapterID string) ([]domain.Question, error) {
	now := b.clock()

	b.mu.RLock()
	if entry, ok := b.cache[chapterID]; ok && entry.expiresAt.After(now) {
		b.mu.RUnlock()
		return entry.questions, nil
	}
	b.mu.RUnlock()

	result, err, _ := b.sf.Do(chapterID, func() (interface{}, error) {
		now := b.clock()
		b.mu.RLock()
		if entry, ok := b.cache[chapterID]; ok && entry.expiresAt.After(now) {
			b.mu.RUnlock()
			return entry.questions, nil
		}
		b.mu.RUnlock()

		questions, err := b.loader.LoadChapter(ctx, chapterID)
		if err != nil {
			return nil, err
		}

		b.mu.Lock()
		b.cache[chapterID] = cachedChapter{
			questions: questions,
			expiresAt: now.Add(b.ttlWithJitter()),
		}
		b.mu.Unlock()
		return questions, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.Question), nil
}

func (b *QuestionBank) ttlWithJitter() time.Duration {
	if b.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(b.ttl) / 10
	return b.ttl + time.Duration(b.rnd.Int63n(jitterMax+1))
}

// StaticQuestionLoader is a loader backed by an in-memory map (tests/demos).
type StaticQuestionLoader struct {
	chapters map[string][]domain.Question
}

func NewStaticQuestionLoader(chapters map[string][]domain.Question) *StaticQuestionLoader {
	return &StaticQuestionLoader{chapters: chapters}
}

func (l *StaticQuestionLoader) LoadChapter(_ context.Context, chapterID string) ([]domain.Question, error) {
	if questions, ok := l.chapters[chapterID]; ok {
		return questions, nil
	}
	return nil, domain.ErrChapterNotFound
}
