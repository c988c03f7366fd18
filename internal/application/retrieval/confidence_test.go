package retrieval

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func hitsWithScores(scores ...float64) []VectorHit {
	hits := make([]VectorHit, len(scores))
	for i, s := range scores {
		hits[i] = VectorHit{SourceID: string(rune('a' + i)), Content: "x", Score: s}
	}
	return hits
}

func TestFuseConfidenceRange(t *testing.T) {
	assert.Equal(t, 0.0, fuseConfidence(nil, 0, 0, false))

	full := fuseConfidence(hitsWithScores(1, 1, 1, 1, 1), 5, 5, false)
	assert.InDelta(t, 1.0, full, 1e-9)
}

func TestFuseConfidenceMonotonicInHits(t *testing.T) {
	base := fuseConfidence(hitsWithScores(0.8), 2, 2, false)
	more := fuseConfidence(hitsWithScores(0.8, 0.7), 2, 2, false)
	assert.Greater(t, more, base, "新增命中不得降低置信度")
}

func TestFuseConfidenceMonotonicInScores(t *testing.T) {
	low := fuseConfidence(hitsWithScores(0.5, 0.5), 1, 1, false)
	high := fuseConfidence(hitsWithScores(0.9, 0.5), 1, 1, false)
	assert.Greater(t, high, low)
}

func TestFuseConfidenceMonotonicInGraphEvidence(t *testing.T) {
	base := fuseConfidence(hitsWithScores(0.6), 1, 1, false)
	moreEntities := fuseConfidence(hitsWithScores(0.6), 3, 1, false)
	moreRelations := fuseConfidence(hitsWithScores(0.6), 1, 4, false)
	assert.Greater(t, moreEntities, base)
	assert.Greater(t, moreRelations, base)
}

func TestFuseConfidenceDegradedPenalty(t *testing.T) {
	healthy := fuseConfidence(hitsWithScores(0.9, 0.9), 3, 3, false)
	degraded := fuseConfidence(hitsWithScores(0.9, 0.9), 3, 3, true)
	assert.Less(t, degraded, healthy)
	assert.Greater(t, degraded, 0.0)
}

func TestVectorSignalSaturatesBeyondTopN(t *testing.T) {
	five := vectorSignal(hitsWithScores(1, 1, 1, 1, 1))
	seven := vectorSignal(hitsWithScores(1, 1, 1, 1, 1, 1, 1))
	assert.InDelta(t, five, seven, 1e-9, "超过 top-N 的命中不再增加信号")
}

func TestVectorSignalClampsNegativeScores(t *testing.T) {
	assert.Equal(t, 0.0, vectorSignal(hitsWithScores(-0.5, -0.1)))
}
