package query

import "github.com/poiesic/lessonrag/core"

// LowConfidence is the confidence below which a warning is attached.
const LowConfidence = 0.3

// LowConfidenceWarning is attached to answers scoring below LowConfidence.
const LowConfidenceWarning = "low confidence answer, consider rephrasing the question"

var rankWeights = []float64{0.4, 0.3, 0.2, 0.1}

const tailWeight = 0.05

// Confidence is the rank-weighted average of clamped similarities, best
// rank weighted most. An empty list scores 0.
func Confidence(passages []core.RetrievedPassage) float64 {
	if len(passages) == 0 {
		return 0
	}
	var weighted, total float64
	for i, p := range passages {
		w := tailWeight
		if i < len(rankWeights) {
			w = rankWeights[i]
		}
		weighted += w * float64(core.ClampUnit(p.Similarity))
		total += w
	}
	return min(max(weighted/total, 0), 1)
}
