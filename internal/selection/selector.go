package selection

import (
	"sort"

	"github.com/book-expert/narration-service/internal/core"
)

// Selector filters a batch and returns its single best candidate.
type Selector struct {
	scorer *Scorer
}

// NewSelector creates a Selector backed by scorer.
func NewSelector(scorer *Scorer) *Selector {
	return &Selector{scorer: scorer}
}

// SelectBest returns the highest-scoring usable item. Ties keep batch order.
// The boolean is false when no item passes the usability filter.
func (s *Selector) SelectBest(items []core.CandidateItem) (core.CandidateScore, bool) {
	ranked := s.Rank(items)
	if len(ranked) == 0 {
		return core.CandidateScore{}, false
	}

	return ranked[0], true
}

// Rank scores every usable item and orders them by descending total score.
// Every item is aged against the same instant.
func (s *Selector) Rank(items []core.CandidateItem) []core.CandidateScore {
	scores := make([]core.CandidateScore, 0, len(items))
	now := s.scorer.now()

	for _, item := range items {
		if !s.scorer.HasUsableText(item) {
			continue
		}

		scores = append(scores, s.scorer.ScoreAt(item, now))
	}

	sort.SliceStable(scores, func(i, j int) bool {
		return scores[i].TotalScore > scores[j].TotalScore
	})

	return scores
}
