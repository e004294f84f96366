package opensearch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/opensearch-project/opensearch-go/v4/opensearchapi"

	"github.com/Zereker/vecstore/pkg/vector"
)

// searchBody builds a filtered k-NN query. Filters run inside the knn
// clause so the engine returns k matching neighbours rather than
// filtering k neighbours afterwards. Sorting by id after score makes the
// cut at k deterministic for equal scores.
func searchBody(q vector.Query) map[string]any {
	knn := map[string]any{
		"vector": q.Vector,
		"k":      q.TopK,
	}
	if len(q.Filters) > 0 {
		knn["filter"] = map[string]any{
			"bool": map[string]any{"filter": termFilters(q.Filters)},
		}
	}

	return map[string]any{
		"size": q.TopK,
		"query": map[string]any{
			"knn": map[string]any{vectorField: knn},
		},
		"sort": []map[string]any{
			{"_score": map[string]any{"order": "desc"}},
			{idField: map[string]any{"order": "asc"}},
		},
		"track_scores": true,
		"_source":      map[string]any{"excludes": []string{vectorField}},
	}
}

func (b *Backend) Search(ctx context.Context, index string, q vector.Query) ([]vector.Result, error) {
	metric, err := b.metric(ctx, index)
	if err != nil {
		return nil, err
	}

	body, err := jsonBody("search", searchBody(q))
	if err != nil {
		return nil, err
	}
	resp, err := b.client.Search(ctx, &opensearchapi.SearchReq{
		Indices: []string{index},
		Body:    body,
	})
	if err != nil {
		return nil, apiError("search", resp, err)
	}

	results := make([]vector.Result, 0, len(resp.Hits.Hits))
	for _, hit := range resp.Hits.Hits {
		var doc document
		if err := json.Unmarshal(hit.Source, &doc); err != nil {
			return nil, vector.NewOpError(Name, "search", vector.ErrBackend, fmt.Errorf("decode hit %q: %w", hit.ID, err))
		}
		results = append(results, vector.Result{
			ID:      hit.ID,
			Score:   normalizeScore(metric, float64(hit.Score)),
			Payload: doc.Metadata,
		})
	}
	return results, nil
}

// metric returns the space type of index, cached after the first lookup.
func (b *Backend) metric(ctx context.Context, index string) (vector.Metric, error) {
	if m, ok := b.metrics.Load(index); ok {
		return m.(vector.Metric), nil
	}
	c, err := b.DescribeCollection(ctx, index)
	if err != nil {
		return "", err
	}
	m := c.Metric
	if m == "" {
		m = vector.MetricCosine
	}
	b.metrics.Store(index, m)
	return m, nil
}

// normalizeScore converts a k-NN score back to the similarity defined by
// vector.Similarity.
func normalizeScore(m vector.Metric, score float64) float64 {
	switch m {
	case vector.MetricCosine:
		// lucene: (1 + cos) / 2
		return 2*score - 1
	case vector.MetricDot:
		// dot >= 0: dot + 1, otherwise 1 / (1 - dot)
		if score >= 1 {
			return score - 1
		}
		if score <= 0 {
			return 0
		}
		return 1 - 1/score
	default:
		// l2 already scores 1 / (1 + d²)
		return score
	}
}
