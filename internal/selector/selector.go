// Package selector picks ability-matched question sets for a session.
package selector

import (
	"math"
	"sort"

	"adaptive-assessment-service/internal/domain"
)

const (
	// baseTolerance is the initial |Δmu| window around the learner's ability.
	baseTolerance = 1.0
	// wideningSteps doubles the tolerance this many times before giving up
	// and returning whatever remains.
	wideningSteps = 4
)

// Request scopes one selection run.
type Request struct {
	ChapterID string
	Topics    []string        // optional filter; empty means the whole chapter
	Ability   domain.Rating
	Exclude   map[string]bool // recently-served question ids, cool-down window
	Count     int
}

// Result is a frozen pick. Partial is set when widening could not recover a
// full set.
type Result struct {
	Questions []domain.Question
	Partial   bool
}

type candidate struct {
	question domain.Question
	cost     float64
}

// Select ranks eligible questions by match cost and returns the top Count,
// preferring topic coverage over tight cost when the two conflict. It widens
// the cost tolerance progressively before settling for a partial set.
func Select(pool []domain.Question, req Request) (Result, error) {
	topicFilter := toSet(req.Topics)

	eligible := make([]candidate, 0, len(pool))
	for _, q := range pool {
		if q.ChapterID != req.ChapterID {
			continue
		}
		if req.Exclude[q.ID] {
			continue
		}
		if len(topicFilter) > 0 && !hasAnyTopic(q, topicFilter) {
			continue
		}
		eligible = append(eligible, candidate{question: q, cost: matchCost(req.Ability, q.Difficulty)})
	}
	if len(eligible) == 0 {
		return Result{}, domain.ErrInsufficientContent
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		if eligible[i].cost != eligible[j].cost {
			return eligible[i].cost < eligible[j].cost
		}
		return eligible[i].question.ID < eligible[j].question.ID
	})

	// Widen the mu window until enough candidates fall inside it.
	tolerance := baseTolerance
	var window []candidate
	for step := 0; step <= wideningSteps; step++ {
		window = window[:0]
		for _, c := range eligible {
			if math.Abs(c.question.Difficulty.Mu-req.Ability.Mu) <= tolerance {
				window = append(window, c)
			}
		}
		if len(window) >= req.Count {
			break
		}
		tolerance *= 2
	}
	if len(window) < req.Count {
		window = eligible // widening exhausted; take the best of everything
	}

	picked := window
	if len(picked) > req.Count {
		picked = picked[:req.Count]
	}
	picked = coverTopics(picked, window, req.Topics)

	questions := make([]domain.Question, len(picked))
	for i, c := range picked {
		questions[i] = c.question
	}
	return Result{Questions: questions, Partial: len(questions) < req.Count}, nil
}

// matchCost is |Δmu| scaled up as the combined uncertainty collapses: a
// confident mismatch costs more than an uncertain one.
func matchCost(ability, difficulty domain.Rating) float64 {
	c := domain.CombinedUncertainty(ability, difficulty)
	if c == 0 {
		c = 1e-9
	}
	return math.Abs(difficulty.Mu-ability.Mu) / c
}

// coverTopics swaps the least attractive picks for the cheapest candidate of
// each uncovered requested topic. Coverage wins over cost; dropping a topic
// is the last resort.
func coverTopics(picked, window []candidate, topics []string) []candidate {
	if len(topics) == 0 {
		return picked
	}

	covered := make(map[string]bool)
	chosen := make(map[string]bool)
	for _, c := range picked {
		chosen[c.question.ID] = true
		for _, t := range c.question.Topics {
			covered[t] = true
		}
	}

	for _, topic := range topics {
		if covered[topic] {
			continue
		}
		// Cheapest unchosen candidate carrying the topic; window is sorted.
		var replacement *candidate
		for i := range window {
			c := window[i]
			if chosen[c.question.ID] || !hasTopic(c.question, topic) {
				continue
			}
			replacement = &c
			break
		}
		if replacement == nil {
			continue // topic genuinely unavailable
		}

		// Evict the most expensive pick that does not hold a still-needed
		// topic alone.
		evict := -1
		for i := len(picked) - 1; i >= 0; i-- {
			if !soleCoverage(picked, i, topics, covered) {
				evict = i
				break
			}
		}
		if evict < 0 {
			continue
		}
		delete(chosen, picked[evict].question.ID)
		picked[evict] = *replacement
		chosen[replacement.question.ID] = true
		for _, t := range replacement.question.Topics {
			covered[t] = true
		}
	}
	return picked
}

// soleCoverage reports whether pick i is the only one covering some requested
// topic among the current picks.
func soleCoverage(picked []candidate, i int, topics []string, covered map[string]bool) bool {
	for _, topic := range topics {
		if !covered[topic] || !hasTopic(picked[i].question, topic) {
			continue
		}
		others := 0
		for j, c := range picked {
			if j != i && hasTopic(c.question, topic) {
				others++
			}
		}
		if others == 0 {
			return true
		}
	}
	return false
}

func hasTopic(q domain.Question, topic string) bool {
	for _, t := range q.Topics {
		if t == topic {
			return true
		}
	}
	return false
}

func hasAnyTopic(q domain.Question, topics map[string]bool) bool {
	for _, t := range q.Topics {
		if topics[t] {
			return true
		}
	}
	return false
}

func toSet(items []string) map[string]bool {
	if len(items) == 0 {
		return nil
	}
	set := make(map[string]bool, len(items))
	for _, item := range items {
		set[item] = true
	}
	return set
}
