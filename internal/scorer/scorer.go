// Package scorer estimates per-agent success probability for a
// candidate objective from the pattern store's rolling history.
package scorer

import (
	"sort"

	"github.com/harrison/helmsman/internal/models"
	"github.com/harrison/helmsman/internal/pattern"
)

// neutralPrior is the default success rate assumed for agents with
// little or no history, so sparse observations cannot swing predictions
// to extremes.
const neutralPrior = 0.5

// sampleSaturation is the sample count at which observed history fully
// overrides the neutral prior.
const sampleSaturation = 10

// Scorer computes PredictiveScores from stored execution history.
type Scorer struct {
	store *pattern.Store
}

// New creates a Scorer over the given pattern store.
func New(store *pattern.Store) *Scorer {
	return &Scorer{store: store}
}

// ScoreAgent predicts one agent's success rate for the query.
func (s *Scorer) ScoreAgent(agentID string, q pattern.Query) models.PredictiveScore {
	score := models.PredictiveScore{AgentID: agentID}

	st, ok := s.store.AgentStatsFor(agentID)
	if !ok || st.Uses == 0 {
		score.PredictedRate = neutralPrior
		return score
	}

	observed := float64(st.Successes) / float64(st.Uses)
	confidence := float64(st.Uses) / sampleSaturation
	if confidence > 1 {
		confidence = 1
	}

	score.SampleCount = st.Uses
	score.SuccessCount = st.Successes
	score.AvgTokens = st.Tokens / st.Uses
	score.Confidence = confidence
	// Blend observed rate and neutral prior by confidence.
	score.PredictedRate = observed*confidence + neutralPrior*(1-confidence)
	return score
}

// Score predicts success rates for a candidate agent list, best first.
// Ties on predicted rate break toward the larger sample.
func (s *Scorer) Score(agents []string, q pattern.Query) []models.PredictiveScore {
	scores := make([]models.PredictiveScore, 0, len(agents))
	for _, agent := range agents {
		scores = append(scores, s.ScoreAgent(agent, q))
	}
	sort.SliceStable(scores, func(i, j int) bool {
		if scores[i].PredictedRate != scores[j].PredictedRate {
			return scores[i].PredictedRate > scores[j].PredictedRate
		}
		return scores[i].SampleCount > scores[j].SampleCount
	})
	return scores
}
