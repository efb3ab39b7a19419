package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"adaptive-assessment-service/internal/domain"
	"github.com/jackc/pgx/v4/pgxpool"
)

// QuestionLoader loads chapter question sets stored as JSONB.
type QuestionLoader struct {
	pool *pgxpool.Pool
}

func NewQuestionLoader(pool *pgxpool.Pool) *QuestionLoader {
	return &QuestionLoader{pool: pool}
}

func (l *QuestionLoader) LoadChapter(ctx context.Context, chapterID string) ([]domain.Question, error) {
	var raw []byte
	err := l.pool.QueryRow(ctx, `SELECT data FROM chapter_questions WHERE chapter_id=$1`, chapterID).Scan(&raw)
	if err != nil {
		return nil, fmt.Errorf("load chapter %s: %w", chapterID, domain.ErrChapterNotFound)
	}
	var questions []domain.Question
	if err := json.Unmarshal(raw, &questions); err != nil {
		return nil, fmt.Errorf("unmarshal chapter %s: %w", chapterID, err)
	}
	return questions, nil
}
