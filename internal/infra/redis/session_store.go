package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"adaptive-assessment-service/internal/domain"
	"github.com/redis/go-redis/v9"
)

// SessionStore keeps assessment sessions as JSON values with a TTL slightly
// past the session's own expiry, plus an active-session index per
// (user, chapter). Key TTLs make the background sweep a no-op here; lazy
// expiry in the service still applies for the window between session TTL and
// key eviction.
type SessionStore struct {
	client *redis.Client
	ttl    time.Duration // cool-down retention for the served-question set
}

func NewSessionStore(client *redis.Client, coolDown time.Duration) *SessionStore {
	return &SessionStore{client: client, ttl: coolDown}
}

func (s *SessionStore) Get(ctx context.Context, sessionID string) (*domain.AssessmentSession, error) {
	raw, err := s.client.Get(ctx, sessionKey(sessionID)).Bytes()
	if err == redis.Nil {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	var session domain.AssessmentSession
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &session, nil
}

func (s *SessionStore) Active(ctx context.Context, userID, chapterID string) (*domain.AssessmentSession, bool, error) {
	sessionID, err := s.client.Get(ctx, activeKey(userID, chapterID)).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get active index: %w", err)
	}
	session, err := s.Get(ctx, sessionID)
	if err == domain.ErrSessionNotFound {
		// Session key evicted before the index; clean up.
		_ = s.client.Del(ctx, activeKey(userID, chapterID)).Err()
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if session.State.Terminal() {
		return nil, false, nil
	}
	return session, true, nil
}

func (s *SessionStore) Save(ctx context.Context, session *domain.AssessmentSession) error {
	raw, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	// Retain scored sessions briefly for idempotent re-submission.
	retention := time.Until(session.ExpiresAt) + time.Minute
	if retention < time.Minute {
		retention = time.Minute
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, sessionKey(session.ID), raw, retention)
	active := activeKey(session.UserID, session.ChapterID)
	if session.State.Terminal() {
		pipe.Del(ctx, active)
	} else {
		pipe.Set(ctx, active, session.ID, time.Until(session.ExpiresAt))
	}
	if session.State == domain.StateDelivered {
		served := servedKey(session.UserID, session.ChapterID)
		for _, snap := range session.Snapshots {
			pipe.ZAdd(ctx, served, redis.Z{
				Score:  float64(session.DeliveredAt.Unix()),
				Member: snap.Question.ID,
			})
		}
		if s.ttl > 0 {
			pipe.Expire(ctx, served, s.ttl)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// ExpireStale is a no-op for Redis: key TTLs evict stale sessions and the
// service expires lazily on load.
func (s *SessionStore) ExpireStale(_ context.Context, _ time.Time) (int, error) {
	return 0, nil
}

func (s *SessionStore) RecentQuestionIDs(ctx context.Context, userID, chapterID string, since time.Time) (map[string]bool, error) {
	ids, err := s.client.ZRangeByScore(ctx, servedKey(userID, chapterID), &redis.ZRangeBy{
		Min: fmt.Sprintf("%d", since.Unix()),
		Max: "+inf",
	}).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("load served set: %w", err)
	}
	recent := make(map[string]bool, len(ids))
	for _, id := range ids {
		recent[id] = true
	}
	return recent, nil
}

func sessionKey(sessionID string) string {
	return "assess:session:" + sessionID
}

func activeKey(userID, chapterID string) string {
	return "assess:active:" + userID + ":" + chapterID
}

func servedKey(userID, chapterID string) string {
	return "assess:served:" + userID + ":" + chapterID
}
