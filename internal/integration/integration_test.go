package integration

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"adaptive-assessment-service/internal/app"
	"adaptive-assessment-service/internal/domain"
	"adaptive-assessment-service/internal/infra/memory"
	pginfra "adaptive-assessment-service/internal/infra/postgres"
	pgmigrations "adaptive-assessment-service/internal/infra/postgres/migrations"
	redisinfra "adaptive-assessment-service/internal/infra/redis"
	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"
)

func TestAssessmentEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	seedChapter(t, ctx, pgURL, "ch-1", sampleQuestions())

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}

	cfg := app.DefaultConfig()
	cfg.QuestionCount = 2

	bank := memory.NewQuestionBank(pginfra.NewQuestionLoader(pool), 5*time.Minute)
	sessions := redisinfra.NewSessionStore(redisClient, cfg.CoolDown)
	standings := redisinfra.NewStandingStore(redisClient)
	service := app.NewAssessmentService(sessions, bank, memory.NewRatingStore(), standings, cfg)
	boards := app.NewLeaderboardService(standings, pginfra.NewFillerLoader(pool))

	session, err := service.Start(ctx, app.StartRequest{UserID: "u1", ChapterID: "ch-1"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if len(session.Snapshots) != 2 {
		t.Fatalf("expected 2 questions, got %d", len(session.Snapshots))
	}

	answers := make([]domain.Answer, len(session.Snapshots))
	for i, snap := range session.Snapshots {
		answers[i] = domain.Answer{
			QuestionID:     snap.Question.ID,
			Indexes:        snap.Question.Correct,
			ElapsedSeconds: 5,
		}
	}
	summary, err := service.Submit(ctx, session.ID, answers)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if summary.Correct != 2 {
		t.Fatalf("expected 2 correct, got %+v", summary)
	}

	// A second start after scoring yields a fresh session; the cool-down keeps
	// just-served questions out, so with a 4-question chapter we get the rest.
	next, err := service.Start(ctx, app.StartRequest{UserID: "u1", ChapterID: "ch-1"})
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	if next.ID == session.ID {
		t.Fatalf("scored session was reused")
	}
	for _, snap := range next.Snapshots {
		for _, prev := range session.Snapshots {
			if snap.Question.ID == prev.Question.ID {
				t.Fatalf("question %s served twice inside the cool-down window", snap.Question.ID)
			}
		}
	}

	view, err := boards.Leaderboard(ctx, "ch-1", "u1")
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	found := false
	for _, row := range view.Top {
		if row.UserID == "u1" {
			found = true
		}
	}
	if !found {
		t.Fatalf("scored user missing from leaderboard: %+v", view.Top)
	}
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "assess", "POSTGRES_PASSWORD": "assesspass", "POSTGRES_DB": "assessdb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://assess:assesspass@%s:%s/assessdb?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

func seedChapter(t *testing.T, ctx context.Context, dsn, chapterID string, questions []domain.Question) {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	data, err := json.Marshal(questions)
	if err != nil {
		t.Fatalf("marshal questions: %v", err)
	}
	if _, err := db.ExecContext(ctx,
		`INSERT INTO chapter_questions (chapter_id, data) VALUES (?, ?::jsonb)
		 ON CONFLICT (chapter_id) DO UPDATE SET data=EXCLUDED.data`,
		chapterID, string(data)); err != nil {
		t.Fatalf("insert chapter: %v", err)
	}
}

func sampleQuestions() []domain.Question {
	reward := domain.Reward{XPCorrect: 10, XPIncorrect: 2}
	difficulty := func(mu float64) domain.Rating { return domain.Rating{Mu: mu, Sigma: 10} }
	return []domain.Question{
		{
			ID: "q1", ChapterID: "ch-1", Prompt: "What is 2 + 2?",
			Options: []string{"3", "4", "5"}, Correct: []int{1},
			Topics: []string{"arithmetic"}, Difficulty: difficulty(13), Reward: reward,
		},
		{
			ID: "q2", ChapterID: "ch-1", Prompt: "What is 7 * 6?",
			Options: []string{"42", "36", "48"}, Correct: []int{0},
			Topics: []string{"arithmetic"}, Difficulty: difficulty(15), Reward: reward,
		},
		{
			ID: "q3", ChapterID: "ch-1", Prompt: "Which are prime?",
			Options: []string{"2", "4", "7"}, Correct: []int{0, 2},
			Topics: []string{"primes"}, Difficulty: difficulty(17), Reward: reward,
		},
		{
			ID: "q4", ChapterID: "ch-1", Prompt: "What is 10 / 2?",
			Options: []string{"4", "5", "6"}, Correct: []int{1},
			Topics: []string{"arithmetic"}, Difficulty: difficulty(14), Reward: reward,
		},
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
