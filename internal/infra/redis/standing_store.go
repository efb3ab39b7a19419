package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"adaptive-assessment-service/internal/domain"
	"github.com/redis/go-redis/v9"
)

// StandingStore keeps the leaderboard read-model in Redis: a sorted set per
// chapter scored by rating, a hash of standing details, and a completion list
// per chapter for the percentile distributions.
type StandingStore struct {
	client *redis.Client
}

func NewStandingStore(client *redis.Client) *StandingStore {
	return &StandingStore{client: client}
}

func (s *StandingStore) Publish(ctx context.Context, standing domain.Standing) error {
	raw, err := json.Marshal(standing)
	if err != nil {
		return fmt.Errorf("encode standing: %w", err)
	}
	pipe := s.client.Pipeline()
	pipe.ZAdd(ctx, boardKey(standing.ChapterID), redis.Z{
		Score:  float64(standing.Rating),
		Member: standing.UserID,
	})
	pipe.HSet(ctx, detailKey(standing.ChapterID), standing.UserID, raw)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish standing: %w", err)
	}
	return nil
}

func (s *StandingStore) ChapterStandings(ctx context.Context, chapterID string) ([]domain.Standing, error) {
	details, err := s.client.HGetAll(ctx, detailKey(chapterID)).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("load standings: %w", err)
	}
	out := make([]domain.Standing, 0, len(details))
	for _, raw := range details {
		var st domain.Standing
		if err := json.Unmarshal([]byte(raw), &st); err != nil {
			continue // skip undecodable rows rather than failing the board
		}
		out = append(out, st)
	}
	return out, nil
}

func (s *StandingStore) Standing(ctx context.Context, userID, chapterID string) (domain.Standing, bool, error) {
	raw, err := s.client.HGet(ctx, detailKey(chapterID), userID).Result()
	if err == redis.Nil {
		return domain.Standing{}, false, nil
	}
	if err != nil {
		return domain.Standing{}, false, fmt.Errorf("load standing: %w", err)
	}
	var st domain.Standing
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return domain.Standing{}, false, fmt.Errorf("decode standing: %w", err)
	}
	return st, true, nil
}

func (s *StandingStore) RecordCompletion(ctx context.Context, completion domain.Completion) error {
	raw, err := json.Marshal(completion)
	if err != nil {
		return fmt.Errorf("encode completion: %w", err)
	}
	if err := s.client.RPush(ctx, completionsKey(completion.ChapterID), raw).Err(); err != nil {
		return fmt.Errorf("record completion: %w", err)
	}
	return nil
}

func (s *StandingStore) ChapterCompletions(ctx context.Context, chapterID string) ([]domain.Completion, error) {
	rows, err := s.client.LRange(ctx, completionsKey(chapterID), 0, -1).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("load completions: %w", err)
	}
	out := make([]domain.Completion, 0, len(rows))
	for _, raw := range rows {
		var c domain.Completion
		if err := json.Unmarshal([]byte(raw), &c); err != nil {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *StandingStore) UserCompletions(ctx context.Context, userID, chapterID string) ([]domain.Completion, error) {
	all, err := s.ChapterCompletions(ctx, chapterID)
	if err != nil {
		return nil, err
	}
	var out []domain.Completion
	for _, c := range all {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	return out, nil
}

func boardKey(chapterID string) string {
	return "assess:board:" + chapterID
}

func detailKey(chapterID string) string {
	return "assess:board:" + chapterID + ":details"
}

func completionsKey(chapterID string) string {
	return "assess:completions:" + chapterID
}
