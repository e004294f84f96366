package vector

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRank(t *testing.T) {
	results := []Result{
		{ID: "c", Score: 0.5},
		{ID: "b", Score: 0.9},
		{ID: "a", Score: 0.9},
		{ID: "d", Score: 0.1},
	}

	ranked := Rank(results, 3)
	ids := make([]string, len(ranked))
	for i, r := range ranked {
		ids[i] = r.ID
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)

	assert.Len(t, Rank([]Result{{ID: "x"}}, 5), 1)
	assert.Empty(t, Rank(nil, 5))
}

func TestSimilarity(t *testing.T) {
	a := []float32{1, 0}
	b := []float32{0, 1}

	assert.InDelta(t, 1.0, Similarity(MetricCosine, a, a), 1e-9)
	assert.InDelta(t, 0.0, Similarity(MetricCosine, a, b), 1e-9)
	assert.InDelta(t, 0.0, Similarity(MetricCosine, a, []float32{0, 0}), 1e-9)
	assert.InDelta(t, 2.0, Similarity(MetricDot, []float32{1, 1}, []float32{1, 1}), 1e-9)
	// 距离平方为 2
	assert.InDelta(t, 1.0/3, Similarity(MetricL2, a, b), 1e-9)
	assert.InDelta(t, 1.0, Similarity(MetricL2, a, a), 1e-9)
}

func TestCheckVector(t *testing.T) {
	assert.NoError(t, checkVector("c", 2, []float32{1, 2}))
	assert.ErrorIs(t, checkVector("c", 2, []float32{1}), ErrDimensionMismatch)
	assert.ErrorIs(t, checkVector("c", 2, nil), ErrDimensionMismatch)
	assert.ErrorIs(t, checkVector("c", 1, []float32{float32(math.Inf(1))}), ErrInvalidArgument)
}
