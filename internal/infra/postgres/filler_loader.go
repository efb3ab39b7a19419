package postgres

import (
	"context"
	"fmt"

	"adaptive-assessment-service/internal/domain"
	"github.com/jackc/pgx/v4/pgxpool"
)

// FillerLoader reads the synthetic leaderboard population per chapter, with a
// "default" chapter fallback for chapters without a curated set.
type FillerLoader struct {
	pool *pgxpool.Pool
}

func NewFillerLoader(pool *pgxpool.Pool) *FillerLoader {
	return &FillerLoader{pool: pool}
}

func (l *FillerLoader) Fillers(ctx context.Context, chapterID string) ([]domain.Standing, error) {
	fillers, err := l.query(ctx, chapterID)
	if err != nil {
		return nil, err
	}
	if len(fillers) == 0 && chapterID != "default" {
		return l.query(ctx, "default")
	}
	return fillers, nil
}

func (l *FillerLoader) query(ctx context.Context, chapterID string) ([]domain.Standing, error) {
	rows, err := l.pool.Query(ctx,
		`SELECT user_id, name, rating FROM leaderboard_fillers WHERE chapter_id=$1`, chapterID)
	if err != nil {
		return nil, fmt.Errorf("load fillers: %w", err)
	}
	defer rows.Close()

	var fillers []domain.Standing
	for rows.Next() {
		st := domain.Standing{ChapterID: chapterID, Synthetic: true}
		if err := rows.Scan(&st.UserID, &st.Name, &st.Rating); err != nil {
			return nil, fmt.Errorf("scan filler: %w", err)
		}
		fillers = append(fillers, st)
	}
	return fillers, rows.Err()
}
