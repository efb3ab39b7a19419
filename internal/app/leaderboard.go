package app

import (
	"context"
	"fmt"
	"sort"
	"time"

	"adaptive-assessment-service/internal/domain"
)

const (
	leaderboardTopSize    = 10
	leaderboardWindowSpan = 2 // rows either side of the requester
)

// LeaderboardService builds bounded, ranked chapter views from real standings
// merged with the synthetic filler population.
type LeaderboardService struct {
	standings StandingRepository
	fillers   FillerRepository
	now       func() time.Time
}

func NewLeaderboardService(standings StandingRepository, fillers FillerRepository) *LeaderboardService {
	return &LeaderboardService{standings: standings, fillers: fillers, now: time.Now}
}

// WithClock is test-only for deterministic timestamps.
func (l *LeaderboardService) WithClock(now func() time.Time) *LeaderboardService {
	l.now = now
	return l
}

// Leaderboard returns the top slice plus, when the requester ranks below it,
// a contiguous window around them with an explicit gap marker. Never the full
// unbounded list.
func (l *LeaderboardService) Leaderboard(ctx context.Context, chapterID, userID string) (domain.LeaderboardView, error) {
	real, err := l.standings.ChapterStandings(ctx, chapterID)
	if err != nil {
		return domain.LeaderboardView{}, fmt.Errorf("load standings: %w", err)
	}
	synthetic, err := l.fillers.Fillers(ctx, chapterID)
	if err != nil {
		return domain.LeaderboardView{}, fmt.Errorf("load fillers: %w", err)
	}

	merged := mergeStandings(real, synthetic)
	rows := rankRows(merged, userID)

	view := domain.LeaderboardView{ChapterID: chapterID, UpdatedAt: l.now()}
	top := len(rows)
	if top > leaderboardTopSize {
		top = leaderboardTopSize
	}
	view.Top = rows[:top]

	requesterIdx := -1
	for i, row := range rows {
		if row.Requester {
			requesterIdx = i
			break
		}
	}
	if requesterIdx >= top {
		lo := requesterIdx - leaderboardWindowSpan
		if lo < top {
			lo = top
		}
		hi := requesterIdx + leaderboardWindowSpan + 1
		if hi > len(rows) {
			hi = len(rows)
		}
		view.HasGap = lo > top
		view.Window = rows[lo:hi]
	}
	return view, nil
}

// mergeStandings deduplicates by user id; real entries win over fillers.
func mergeStandings(real, synthetic []domain.Standing) []domain.Standing {
	merged := make([]domain.Standing, 0, len(real)+len(synthetic))
	seen := make(map[string]bool, len(real))
	for _, st := range real {
		if seen[st.UserID] {
			continue
		}
		seen[st.UserID] = true
		merged = append(merged, st)
	}
	for _, st := range synthetic {
		if seen[st.UserID] {
			continue
		}
		seen[st.UserID] = true
		st.Synthetic = true
		merged = append(merged, st)
	}
	return merged
}

// rankRows sorts by rating descending and assigns dense 1-based ranks: equal
// ratings share a rank, the next distinct rating takes rank+1.
func rankRows(standings []domain.Standing, requesterID string) []domain.LeaderboardRow {
	sort.SliceStable(standings, func(i, j int) bool {
		if standings[i].Rating != standings[j].Rating {
			return standings[i].Rating > standings[j].Rating
		}
		if standings[i].Synthetic != standings[j].Synthetic {
			return !standings[i].Synthetic // real entries win ties
		}
		return standings[i].UserID < standings[j].UserID
	})

	rows := make([]domain.LeaderboardRow, len(standings))
	rank := 0
	prevRating := 0
	for i, st := range standings {
		if i == 0 || st.Rating != prevRating {
			rank++
			prevRating = st.Rating
		}
		rows[i] = domain.LeaderboardRow{
			Rank:      rank,
			UserID:    st.UserID,
			Name:      st.Name,
			Rating:    st.Rating,
			Requester: st.UserID == requesterID,
		}
	}
	return rows
}

// denseRankAmong places a hypothetical rating inside the given population.
func denseRankAmong(standings []domain.Standing, rating int) int {
	distinct := make(map[int]bool)
	for _, st := range standings {
		if st.Rating > rating {
			distinct[st.Rating] = true
		}
	}
	return len(distinct) + 1
}
