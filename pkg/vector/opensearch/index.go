package opensearch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/opensearch-project/opensearch-go/v4/opensearchapi"

	"github.com/Zereker/vecstore/pkg/vector"
)

// spaceTypes maps metrics onto k-NN space types.
var spaceTypes = map[vector.Metric]string{
	vector.MetricCosine: "cosinesimil",
	vector.MetricL2:     "l2",
	vector.MetricDot:    "innerproduct",
}

func metricOf(spaceType string) vector.Metric {
	for m, s := range spaceTypes {
		if s == spaceType {
			return m
		}
	}
	return ""
}

// indexBody builds the create-index request: a knn_vector field of the
// collection's dimension plus a metadata object whose strings are keywords.
func indexBody(c vector.Collection) map[string]any {
	return map[string]any{
		"settings": map[string]any{
			"index": map[string]any{"knn": true},
		},
		"mappings": map[string]any{
			"dynamic_templates": []map[string]any{
				{
					"metadata_strings": map[string]any{
						"path_match":         metadataField + ".*",
						"match_mapping_type": "string",
						"mapping":            map[string]any{"type": "keyword"},
					},
				},
			},
			"properties": map[string]any{
				idField: map[string]any{"type": "keyword"},
				vectorField: map[string]any{
					"type":      "knn_vector",
					"dimension": c.Dims,
					"method": map[string]any{
						"name":       "hnsw",
						"engine":     "lucene",
						"space_type": spaceTypes[c.Metric],
					},
				},
				metadataField: map[string]any{"type": "object"},
			},
		},
	}
}

// indexMapping is the part of a mapping DescribeCollection reads.
type indexMapping struct {
	Properties map[string]struct {
		Type      string `json:"type"`
		Dimension int    `json:"dimension"`
		SpaceType string `json:"space_type"`
		Method    struct {
			SpaceType string `json:"space_type"`
		} `json:"method"`
	} `json:"properties"`
}

func (b *Backend) DescribeCollection(ctx context.Context, name string) (*vector.Collection, error) {
	resp, err := b.client.Indices.Mapping.Get(ctx, &opensearchapi.MappingGetReq{Indices: []string{name}})
	if err != nil {
		return nil, apiError("describe_collection", resp, err)
	}

	// 别名时返回的 key 是真实索引名，取第一个即可
	for _, index := range resp.Indices {
		var mapping indexMapping
		if err := json.Unmarshal(index.Mappings, &mapping); err != nil {
			return nil, vector.NewOpError(Name, "describe_collection", vector.ErrBackend, fmt.Errorf("decode mapping: %w", err))
		}
		c := &vector.Collection{Name: name}
		if field, ok := mapping.Properties[vectorField]; ok {
			c.Dims = field.Dimension
			space := field.Method.SpaceType
			if space == "" {
				space = field.SpaceType
			}
			c.Metric = metricOf(space)
		}
		return c, nil
	}
	return nil, vector.NewOpError(Name, "describe_collection", vector.ErrCollectionNotFound, fmt.Errorf("index %q", name))
}

func (b *Backend) CreateCollection(ctx context.Context, c vector.Collection) error {
	if _, ok := spaceTypes[c.Metric]; !ok {
		return vector.NewOpError(Name, "create_collection", vector.ErrConfig, fmt.Errorf("metric %q", c.Metric))
	}
	body, err := jsonBody("create_collection", indexBody(c))
	if err != nil {
		return err
	}
	resp, err := b.client.Indices.Create(ctx, opensearchapi.IndicesCreateReq{
		Index: c.Name,
		Body:  body,
	})
	if err != nil {
		return apiError("create_collection", resp, err)
	}
	b.metrics.Store(c.Name, c.Metric)
	b.logger.Info("index created", "index", c.Name, "dims", c.Dims, "space_type", spaceTypes[c.Metric])
	return nil
}
