package selector

import (
	"errors"
	"testing"

	"adaptive-assessment-service/internal/domain"
)

func question(id string, mu float64, topics ...string) domain.Question {
	return domain.Question{
		ID:         id,
		ChapterID:  "ch-1",
		Prompt:     "prompt " + id,
		Options:    []string{"a", "b", "c"},
		Correct:    []int{0},
		Topics:     topics,
		Difficulty: domain.Rating{Mu: mu, Sigma: 1},
		Reward:     domain.Reward{XPCorrect: 2, XPIncorrect: 1},
	}
}

func TestSelectPicksClosestMu(t *testing.T) {
	pool := []domain.Question{
		question("q-minus2", -2),
		question("q-minus1", -1),
		question("q-zero", 0),
		question("q-plus1", 1),
		question("q-plus2", 2),
	}

	res, err := Select(pool, Request{
		ChapterID: "ch-1",
		Ability:   domain.Rating{Mu: 0, Sigma: 1},
		Count:     3,
	})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(res.Questions) != 3 || res.Partial {
		t.Fatalf("expected full set of 3, got %d partial=%v", len(res.Questions), res.Partial)
	}

	got := map[string]bool{}
	for _, q := range res.Questions {
		if got[q.ID] {
			t.Fatalf("duplicate question %s", q.ID)
		}
		got[q.ID] = true
	}
	for _, want := range []string{"q-minus1", "q-zero", "q-plus1"} {
		if !got[want] {
			t.Fatalf("expected %s in selection, got %v", want, got)
		}
	}
}

func TestSelectEmptyScopeFails(t *testing.T) {
	_, err := Select(nil, Request{ChapterID: "ch-1", Count: 3})
	if !errors.Is(err, domain.ErrInsufficientContent) {
		t.Fatalf("expected ErrInsufficientContent, got %v", err)
	}
}

func TestSelectExcludesRecentlyServed(t *testing.T) {
	pool := []domain.Question{
		question("q1", 0),
		question("q2", 0.1),
		question("q3", 0.2),
	}

	res, err := Select(pool, Request{
		ChapterID: "ch-1",
		Ability:   domain.Rating{Mu: 0, Sigma: 1},
		Exclude:   map[string]bool{"q1": true},
		Count:     2,
	})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	for _, q := range res.Questions {
		if q.ID == "q1" {
			t.Fatalf("excluded question was served")
		}
	}
	if len(res.Questions) != 2 {
		t.Fatalf("expected 2 questions, got %d", len(res.Questions))
	}
}

func TestSelectWidensToleranceBeforeGoingPartial(t *testing.T) {
	// Everything is far from the learner; widening must still find them.
	pool := []domain.Question{
		question("far1", 8),
		question("far2", 9),
		question("far3", 10),
	}

	res, err := Select(pool, Request{
		ChapterID: "ch-1",
		Ability:   domain.Rating{Mu: 0, Sigma: 1},
		Count:     3,
	})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(res.Questions) != 3 || res.Partial {
		t.Fatalf("expected widened full set, got %d partial=%v", len(res.Questions), res.Partial)
	}
}

func TestSelectReturnsPartialWhenPoolTooSmall(t *testing.T) {
	pool := []domain.Question{question("only", 0)}

	res, err := Select(pool, Request{
		ChapterID: "ch-1",
		Ability:   domain.Rating{Mu: 0, Sigma: 1},
		Count:     3,
	})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(res.Questions) != 1 || !res.Partial {
		t.Fatalf("expected flagged partial set, got %d partial=%v", len(res.Questions), res.Partial)
	}
}

func TestSelectCoversRequestedTopics(t *testing.T) {
	pool := []domain.Question{
		question("alg1", 0, "algebra"),
		question("alg2", 0.1, "algebra"),
		question("alg3", 0.2, "algebra"),
		question("geo1", 0.9, "geometry"),
	}

	res, err := Select(pool, Request{
		ChapterID: "ch-1",
		Topics:    []string{"algebra", "geometry"},
		Ability:   domain.Rating{Mu: 0, Sigma: 1},
		Count:     3,
	})
	if err != nil {
		t.Fatalf("select: %v", err)
	}

	topics := map[string]bool{}
	for _, q := range res.Questions {
		for _, topic := range q.Topics {
			topics[topic] = true
		}
	}
	if !topics["algebra"] || !topics["geometry"] {
		t.Fatalf("expected both topics covered, got %v", topics)
	}
}

func TestSelectTopicFilterExcludesOthers(t *testing.T) {
	pool := []domain.Question{
		question("alg1", 0, "algebra"),
		question("stats1", 0, "statistics"),
	}

	res, err := Select(pool, Request{
		ChapterID: "ch-1",
		Topics:    []string{"algebra"},
		Ability:   domain.Rating{Mu: 0, Sigma: 1},
		Count:     1,
	})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(res.Questions) != 1 || res.Questions[0].ID != "alg1" {
		t.Fatalf("expected only algebra question, got %+v", res.Questions)
	}
}
