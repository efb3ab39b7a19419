package scoring

import (
	"errors"
	"testing"

	"adaptive-assessment-service/internal/domain"
)

func snapshot(id string, correct []int, xpCorrect, xpIncorrect int) domain.QuestionSnapshot {
	return domain.QuestionSnapshot{
		Question: domain.Question{
			ID:      id,
			Options: []string{"a", "b", "c", "d"},
			Correct: correct,
			Reward:  domain.Reward{XPCorrect: xpCorrect, XPIncorrect: xpIncorrect},
		},
	}
}

func TestGradeSingleAndMultiCorrect(t *testing.T) {
	snapshots := []domain.QuestionSnapshot{
		snapshot("q1", []int{1}, 2, 1),
		snapshot("q2", []int{0, 2}, 3, 1),
		snapshot("q3", []int{3}, 2, 1),
	}
	answers := []domain.Answer{
		{QuestionID: "q1", Indexes: []int{1}},    // correct
		{QuestionID: "q2", Indexes: []int{0, 2}}, // exact multi set, correct
		// q3 unanswered
	}

	graded, err := Grade(snapshots, answers)
	if err != nil {
		t.Fatalf("grade: %v", err)
	}
	if len(graded) != 3 {
		t.Fatalf("expected 3 graded answers, got %d", len(graded))
	}
	if !graded[0].Correct || !graded[1].Correct {
		t.Fatalf("expected q1 and q2 correct: %+v", graded)
	}
	if graded[2].Answered || graded[2].Correct {
		t.Fatalf("unanswered question must be incorrect: %+v", graded[2])
	}

	attempted, correct, incorrect := Tally(graded)
	if attempted != 2 || correct != 2 || incorrect != 1 {
		t.Fatalf("tally = %d/%d/%d, want 2/2/1", attempted, correct, incorrect)
	}
}

func TestGradePartialMultiSetIsIncorrect(t *testing.T) {
	snapshots := []domain.QuestionSnapshot{snapshot("q1", []int{0, 2}, 3, 1)}

	graded, err := Grade(snapshots, []domain.Answer{{QuestionID: "q1", Indexes: []int{0}}})
	if err != nil {
		t.Fatalf("grade: %v", err)
	}
	if graded[0].Correct {
		t.Fatalf("partial multi-correct selection must not be judged correct")
	}
}

func TestGradeRejectsBadPayload(t *testing.T) {
	snapshots := []domain.QuestionSnapshot{snapshot("q1", []int{0}, 2, 1)}

	if _, err := Grade(snapshots, []domain.Answer{{QuestionID: "ghost", Indexes: []int{0}}}); !errors.Is(err, domain.ErrInvalidAnswerPayload) {
		t.Fatalf("expected ErrInvalidAnswerPayload for unknown id, got %v", err)
	}
	if _, err := Grade(snapshots, []domain.Answer{{QuestionID: "q1", Indexes: []int{9}}}); !errors.Is(err, domain.ErrInvalidAnswerPayload) {
		t.Fatalf("expected ErrInvalidAnswerPayload for out-of-range index, got %v", err)
	}
}

func TestRawScoreFloorsAtZero(t *testing.T) {
	graded := []GradedAnswer{
		{Correct: false, Reward: domain.Reward{XPCorrect: 2, XPIncorrect: 5}},
		{Correct: true, Reward: domain.Reward{XPCorrect: 2, XPIncorrect: 1}},
	}
	if got := RawScore(graded); got != 2 {
		t.Fatalf("expected floored score 2, got %d", got)
	}
}

func TestPercentileClampAndMonotonicity(t *testing.T) {
	dist := []float64{10, 20, 30, 40, 50}

	low := Percentile(1, dist)
	if low != PercentileFloor {
		t.Fatalf("expected floor %f, got %f", PercentileFloor, low)
	}
	high := Percentile(1000, dist)
	if high != PercentileCeil {
		t.Fatalf("expected ceiling %f, got %f", PercentileCeil, high)
	}

	prev := 0.0
	for v := 0.0; v <= 60; v += 5 {
		p := Percentile(v, dist)
		if p < prev {
			t.Fatalf("percentile decreased at %f: %f < %f", v, p, prev)
		}
		if p < PercentileFloor || p > PercentileCeil {
			t.Fatalf("percentile out of bounds at %f: %f", v, p)
		}
		prev = p
	}

	if got := Percentile(30, dist); got != 60 {
		t.Fatalf("expected 60th percentile, got %f", got)
	}
}

func TestClampDuration(t *testing.T) {
	if got := ClampDuration(-3, 600); got != 0 {
		t.Fatalf("negative duration should clamp to 0, got %f", got)
	}
	if got := ClampDuration(9000, 600); got != 600 {
		t.Fatalf("expected clamp to max, got %f", got)
	}
	if got := ClampDuration(90, 600); got != 90 {
		t.Fatalf("expected unchanged duration, got %f", got)
	}
}

func TestPersonalBests(t *testing.T) {
	prior := []domain.Completion{
		{TimeTakenSeconds: 95, XPEarned: 12},
		{TimeTakenSeconds: 120, XPEarned: 20},
	}

	newMin, newMax := PersonalBests(90, 15, prior)
	if !newMin {
		t.Fatalf("90s vs prior minimum 95s must be a new best time")
	}
	if newMax {
		t.Fatalf("15 xp vs prior max 20 must not be a new best")
	}

	newMin, newMax = PersonalBests(100, 25, prior)
	if newMin || !newMax {
		t.Fatalf("expected only xp best, got time=%v xp=%v", newMin, newMax)
	}

	newMin, newMax = PersonalBests(100, 5, nil)
	if !newMin || !newMax {
		t.Fatalf("first completion sets both bests")
	}
}

func testTiers() []domain.RankTier {
	return []domain.RankTier{
		{Name: "bronze", MinRating: 0, MaxRating: 999},
		{Name: "silver", MinRating: 1000, MaxRating: 1999},
		{Name: "gold", MinRating: 2000, MaxRating: 2999},
		{Name: "diamond", MinRating: 3000, MaxRating: 20000},
	}
}

func TestTierLookupAndProgress(t *testing.T) {
	tiers := testTiers()

	tier, ok := TierFor(1500, tiers)
	if !ok || tier.Name != "silver" {
		t.Fatalf("expected silver for 1500, got %+v ok=%v", tier, ok)
	}

	if p := TierProgress(1500, tiers); p != 50 {
		t.Fatalf("expected 50%% toward gold, got %f", p)
	}
	if p := TierProgress(5000, tiers); p != 100 {
		t.Fatalf("top tier progress must be 100, got %f", p)
	}
}

func TestBadgesCrossed(t *testing.T) {
	badges := BadgesCrossed(950, 2100, testTiers())
	if len(badges) != 2 || badges[0] != "silver" || badges[1] != "gold" {
		t.Fatalf("expected silver and gold crossed, got %v", badges)
	}
	if badges := BadgesCrossed(2100, 2100, testTiers()); badges != nil {
		t.Fatalf("no crossing expected, got %v", badges)
	}
}

func TestEvaluateBonusesStreaksAndSpeed(t *testing.T) {
	reward := domain.Reward{XPCorrect: 4, XPIncorrect: 1}
	graded := []GradedAnswer{
		{Correct: true, Reward: reward, ElapsedSeconds: 20},
		{Correct: true, Reward: reward, ElapsedSeconds: 20},
		{Correct: true, Reward: reward, ElapsedSeconds: 5}, // fast + third in a row
		{Correct: false, Reward: reward, ElapsedSeconds: 20},
		{Correct: true, Reward: reward, ElapsedSeconds: 20},
	}

	out := EvaluateBonuses(graded, DefaultBonusConfig(), 10)

	var streaks, speeds int
	for _, ev := range out.Events {
		switch ev.Type {
		case "streak":
			streaks++
		case "bonus":
			speeds++
		}
	}
	if streaks != 1 {
		t.Fatalf("expected exactly one streak event, got %d (%+v)", streaks, out.Events)
	}
	if speeds != 1 {
		t.Fatalf("expected exactly one speed bonus, got %d", speeds)
	}
	// speed bonus 2 xp + streak bonus 3 xp
	if out.BonusXP != 5 {
		t.Fatalf("expected 5 bonus xp, got %d", out.BonusXP)
	}
	if out.MaxStreak != 3 {
		t.Fatalf("expected max streak 3, got %d", out.MaxStreak)
	}
	last := out.Events[len(out.Events)-1]
	if last.CumulativeXP != 15 {
		t.Fatalf("expected cumulative 15, got %d", last.CumulativeXP)
	}
}

func TestEvaluateBonusesResetsAfterTopThreshold(t *testing.T) {
	reward := domain.Reward{XPCorrect: 2, XPIncorrect: 1}
	graded := make([]GradedAnswer, 12)
	for i := range graded {
		graded[i] = GradedAnswer{Correct: true, Reward: reward, ElapsedSeconds: 30}
	}

	out := EvaluateBonuses(graded, DefaultBonusConfig(), 0)

	var streakXPs []int
	for _, ev := range out.Events {
		if ev.Type == "streak" {
			streakXPs = append(streakXPs, ev.XPDelta)
		}
	}
	// 3, 6, 9, then the counter resets and builds back to 3.
	want := []int{3, 6, 9, 3}
	if len(streakXPs) != len(want) {
		t.Fatalf("expected %v streak bonuses, got %v", want, streakXPs)
	}
	for i := range want {
		if streakXPs[i] != want[i] {
			t.Fatalf("expected %v streak bonuses, got %v", want, streakXPs)
		}
	}
}
