package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"

	"github.com/opensearch-project/opensearch-go/v4/opensearchapi"

	"github.com/Zereker/vecstore/pkg/vector"
)

// document is the stored form of a record.
type document struct {
	ID       string         `json:"id"`
	Vector   []float32      `json:"vector_field"`
	Metadata vector.Payload `json:"metadata,omitempty"`
}

// Insert sends one bulk request of create actions, so an existing id
// fails that item with a version conflict instead of being overwritten.
func (b *Backend) Insert(ctx context.Context, index string, records []vector.Record) ([]error, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, rec := range records {
		action := map[string]any{"create": map[string]any{"_index": index, "_id": rec.ID}}
		if err := enc.Encode(action); err != nil {
			return nil, vector.NewOpError(Name, "insert", vector.ErrInvalidArgument, err)
		}
		if err := enc.Encode(document{ID: rec.ID, Vector: rec.Vector, Metadata: rec.Payload}); err != nil {
			return nil, vector.NewOpError(Name, "insert", vector.ErrInvalidArgument, err)
		}
	}

	resp, err := b.client.Bulk(ctx, opensearchapi.BulkReq{
		Body:   &buf,
		Params: opensearchapi.BulkParams{Refresh: "true"},
	})
	if err != nil {
		return nil, apiError("insert", resp, err)
	}
	if len(resp.Items) != len(records) {
		return nil, vector.NewOpError(Name, "insert", vector.ErrBackend,
			fmt.Errorf("bulk returned %d items for %d records", len(resp.Items), len(records)))
	}

	errs := make([]error, len(records))
	for i, item := range resp.Items {
		for _, result := range item {
			if result.Error == nil && result.Status < http.StatusMultipleChoices {
				continue
			}
			errType, reason := "", ""
			if result.Error != nil {
				errType, reason = result.Error.Type, result.Error.Reason
			}
			errs[i] = vector.NewOpError(Name, "insert", classify(result.Status, errType),
				fmt.Errorf("id %q: status %d: %s", records[i].ID, result.Status, reason))
		}
	}
	return errs, nil
}

func (b *Backend) Get(ctx context.Context, index, id string) (*vector.Record, error) {
	resp, err := b.client.Document.Get(ctx, opensearchapi.DocumentGetReq{
		Index:      index,
		DocumentID: id,
	})
	if err != nil {
		return nil, apiError("get", resp, err)
	}
	if !resp.Found {
		return nil, vector.NewOpError(Name, "get", vector.ErrNotFound, fmt.Errorf("id %q", id))
	}

	var doc document
	if err := json.Unmarshal(resp.Source, &doc); err != nil {
		return nil, vector.NewOpError(Name, "get", vector.ErrBackend, fmt.Errorf("decode document: %w", err))
	}
	return &vector.Record{
		ID:      resp.ID,
		Vector:  doc.Vector,
		Payload: doc.Metadata,
	}, nil
}

// Update sends a partial doc; OpenSearch merges the metadata object.
func (b *Backend) Update(ctx context.Context, index, id string, upd vector.RecordUpdate) error {
	doc := map[string]any{}
	if upd.Vector != nil {
		doc[vectorField] = upd.Vector
	}
	if len(upd.Payload) > 0 {
		doc[metadataField] = upd.Payload
	}
	body, err := jsonBody("update", map[string]any{"doc": doc})
	if err != nil {
		return err
	}

	resp, err := b.client.Update(ctx, opensearchapi.UpdateReq{
		Index:      index,
		DocumentID: id,
		Body:       body,
		Params:     opensearchapi.UpdateParams{Refresh: "true"},
	})
	if err != nil {
		return apiError("update", resp, err)
	}
	return nil
}

func (b *Backend) Delete(ctx context.Context, index, id string) error {
	resp, err := b.client.Document.Delete(ctx, opensearchapi.DocumentDeleteReq{
		Index:      index,
		DocumentID: id,
		Params:     opensearchapi.DocumentDeleteParams{Refresh: "true"},
	})
	if err != nil {
		return apiError("delete", resp, err)
	}
	return nil
}

func (b *Backend) DeleteByFilter(ctx context.Context, index string, filter vector.Filter) (int, error) {
	body, err := jsonBody("delete_by_filter", map[string]any{
		"query": map[string]any{
			"bool": map[string]any{"filter": termFilters(filter)},
		},
	})
	if err != nil {
		return 0, err
	}

	resp, err := b.client.Document.DeleteByQuery(ctx, opensearchapi.DocumentDeleteByQueryReq{
		Indices: []string{index},
		Body:    body,
		Params: opensearchapi.DocumentDeleteByQueryParams{
			Refresh:   opensearchapi.ToPointer(true),
			Conflicts: "proceed",
		},
	})
	if err != nil {
		return 0, apiError("delete_by_filter", resp, err)
	}
	return resp.Deleted, nil
}

// termFilters turns exact-match predicates into term clauses on the
// metadata object, in key order so request bodies are stable.
func termFilters(filter vector.Filter) []map[string]any {
	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	clauses := make([]map[string]any, 0, len(keys))
	for _, k := range keys {
		clauses = append(clauses, map[string]any{
			"term": map[string]any{metadataField + "." + k: filter[k]},
		})
	}
	return clauses
}
