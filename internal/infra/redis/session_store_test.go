package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"adaptive-assessment-service/internal/domain"
	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestClient(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()}), mr
}

func testSession(id string, now time.Time) *domain.AssessmentSession {
	return &domain.AssessmentSession{
		ID:          id,
		UserID:      "u1",
		ChapterID:   "ch-1",
		State:       domain.StateDelivered,
		CreatedAt:   now,
		DeliveredAt: now,
		ExpiresAt:   now.Add(10 * time.Minute),
		Snapshots: []domain.QuestionSnapshot{
			{Question: domain.Question{ID: "q1", ChapterID: "ch-1", Options: []string{"a", "b"}, Correct: []int{0}}},
		},
	}
}

func TestSessionStoreRoundTrip(t *testing.T) {
	client, mr := newTestClient(t)
	store := NewSessionStore(client, 30*time.Minute)
	ctx := context.Background()
	now := time.Now()

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}

	session := testSession("sess-1", now)
	if err := store.Save(ctx, session); err != nil {
		t.Fatalf("save: %v", err)
	}
	if !mr.Exists("assess:session:sess-1") {
		t.Fatalf("expected session key in redis")
	}
	if !mr.Exists("assess:active:u1:ch-1") {
		t.Fatalf("expected active index key in redis")
	}

	loaded, err := store.Get(ctx, "sess-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded.ID != "sess-1" || len(loaded.Snapshots) != 1 || loaded.State != domain.StateDelivered {
		t.Fatalf("round trip mismatch: %+v", loaded)
	}

	active, ok, err := store.Active(ctx, "u1", "ch-1")
	if err != nil || !ok || active.ID != "sess-1" {
		t.Fatalf("expected active session, got ok=%v err=%v", ok, err)
	}
}

func TestSessionStoreClearsActiveIndexOnTerminal(t *testing.T) {
	client, mr := newTestClient(t)
	store := NewSessionStore(client, 30*time.Minute)
	ctx := context.Background()

	session := testSession("sess-1", time.Now())
	_ = store.Save(ctx, session)

	session.State = domain.StateScored
	session.Summary = &domain.ScoreSummary{Correct: 1}
	if err := store.Save(ctx, session); err != nil {
		t.Fatalf("save scored: %v", err)
	}
	if mr.Exists("assess:active:u1:ch-1") {
		t.Fatalf("terminal session must clear the active index")
	}
	if _, ok, _ := store.Active(ctx, "u1", "ch-1"); ok {
		t.Fatalf("no active session expected after scoring")
	}

	// Scored session stays readable for idempotent re-submission.
	loaded, err := store.Get(ctx, "sess-1")
	if err != nil || loaded.Summary == nil {
		t.Fatalf("expected cached summary, got err=%v", err)
	}
}

func TestSessionStoreServedSetFeedsCoolDown(t *testing.T) {
	client, _ := newTestClient(t)
	store := NewSessionStore(client, 30*time.Minute)
	ctx := context.Background()
	now := time.Now()

	_ = store.Save(ctx, testSession("sess-1", now))

	recent, err := store.RecentQuestionIDs(ctx, "u1", "ch-1", now.Add(-time.Minute))
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if !recent["q1"] {
		t.Fatalf("expected q1 in cool-down set, got %v", recent)
	}

	none, err := store.RecentQuestionIDs(ctx, "u1", "ch-1", now.Add(time.Hour))
	if err != nil {
		t.Fatalf("recent future: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("expected empty set outside window, got %v", none)
	}
}
