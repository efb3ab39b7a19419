package cli

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"adaptive-assessment-service/internal/app"
	"adaptive-assessment-service/internal/config"
	"adaptive-assessment-service/internal/domain"
	"adaptive-assessment-service/internal/infra/memory"
	pginfra "adaptive-assessment-service/internal/infra/postgres"
	redisinfra "adaptive-assessment-service/internal/infra/redis"
	transport "adaptive-assessment-service/internal/transport/http"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the assessment server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
	}

	engineCfg := engineConfig(cfg.Assessment)

	var loader memory.QuestionLoader = memory.NewStaticQuestionLoader(sampleChapters())
	if pool != nil {
		loader = pginfra.NewQuestionLoader(pool)
	}
	questionTTL := config.TTLDuration(cfg.Questions.TTL, 10*time.Minute)
	bank := memory.NewQuestionBank(loader, questionTTL)

	var sessions app.SessionRepository
	var standings app.StandingRepository
	if redisClient != nil {
		sessions = redisinfra.NewSessionStore(redisClient, engineCfg.CoolDown)
		standings = redisinfra.NewStandingStore(redisClient)
	} else {
		sessions = memory.NewSessionStore()
		standings = memory.NewStandingStore()
	}

	var fillers app.FillerRepository = memory.NewFillerStore(nil)
	if pool != nil {
		fillers = pginfra.NewFillerLoader(pool)
	}

	ratings := memory.NewRatingStore()
	service := app.NewAssessmentService(sessions, bank, ratings, standings, engineCfg)
	boards := app.NewLeaderboardService(standings, fillers)
	wsHandler := transport.NewWSHandler(service, boards)

	sweepInterval := config.TTLDuration(cfg.Assessment.SweepInterval, 30*time.Second)
	sweepCtx, stopSweeper := context.WithCancel(ctx)
	defer stopSweeper()
	go service.RunExpirySweeper(sweepCtx, sweepInterval)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", wsHandler.ServeWS)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Printf("starting assessment service on :%s", finalPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("failed to start server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Println("shutting down server...")
	case <-ctx.Done():
		log.Println("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// engineConfig overlays YAML tunables on the stock defaults.
func engineConfig(a config.Assessment) app.Config {
	cfg := app.DefaultConfig()
	if a.QuestionCount > 0 {
		cfg.QuestionCount = a.QuestionCount
	}
	cfg.SessionTTL = config.TTLDuration(a.SessionTTL, cfg.SessionTTL)
	cfg.CoolDown = config.TTLDuration(a.CoolDown, cfg.CoolDown)
	cfg.MaxDuration = config.TTLDuration(a.MaxDuration, cfg.MaxDuration)
	if len(a.StreakThresholds) > 0 {
		cfg.Bonus.StreakThresholds = a.StreakThresholds
	}
	if a.SpeedSeconds > 0 {
		cfg.Bonus.SpeedSeconds = float64(a.SpeedSeconds)
	}
	if a.SigmaMin > 0 {
		cfg.Rating.SigmaMin = a.SigmaMin
	}
	if a.SigmaMax > 0 {
		cfg.Rating.SigmaMax = a.SigmaMax
	}
	return cfg
}

// sampleChapters provides a minimal chapter so the service runs without
// Postgres; production loads chapters from the chapter_questions table.
func sampleChapters() map[string][]domain.Question {
	reward := domain.Reward{XPCorrect: 10, XPIncorrect: 2}
	difficulty := func(mu float64) domain.Rating { return domain.Rating{Mu: mu, Sigma: 10} }
	return map[string][]domain.Question{
		"ch-1": {
			{
				ID: "q1", ChapterID: "ch-1", Prompt: "What is 2 + 2?",
				Options: []string{"3", "4", "5"}, Correct: []int{1},
				Topics: []string{"arithmetic"}, Difficulty: difficulty(12), Reward: reward,
			},
			{
				ID: "q2", ChapterID: "ch-1", Prompt: "What is 7 * 6?",
				Options: []string{"42", "36", "48"}, Correct: []int{0},
				Topics: []string{"arithmetic"}, Difficulty: difficulty(15), Reward: reward,
			},
			{
				ID: "q3", ChapterID: "ch-1", Prompt: "Which are prime?",
				Options: []string{"2", "4", "7", "9"}, Correct: []int{0, 2},
				Topics: []string{"primes"}, Difficulty: difficulty(18), Reward: reward,
			},
			{
				ID: "q4", ChapterID: "ch-1", Prompt: "What is 10 / 2?",
				Options: []string{"4", "5", "6"}, Correct: []int{1},
				Topics: []string{"arithmetic"}, Difficulty: difficulty(13), Reward: reward,
			},
		},
	}
}
