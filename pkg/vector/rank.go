package vector

import (
	"fmt"
	"math"
	"sort"
)

// Rank orders results by descending score, breaking ties by
// ascending id, and truncates to topK.
func Rank(results []Result, topK int) []Result {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results
}

// checkVector validates length and finiteness of v against dims.
func checkVector(collection string, dims int, v []float32) error {
	if len(v) != dims {
		return &DimensionMismatchError{Collection: collection, Expected: dims, Actual: len(v)}
	}
	for i, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w: vector[%d] is not finite", ErrInvalidArgument, i)
		}
	}
	return nil
}
