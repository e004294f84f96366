package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/Zereker/vecstore/pkg/vector"
)

// Handler handles MCP tool calls
type Handler struct {
	store *vector.Store
}

// NewHandler creates a new MCP handler
func NewHandler(store *vector.Store) *Handler {
	return &Handler{
		store: store,
	}
}

// ToolCallRequest represents an MCP tool call request
type ToolCallRequest struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolCallResponse represents an MCP tool call response
type ToolCallResponse struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

// ContentBlock represents a content block in the response
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

const defaultTopK = 10

// toolArgs 所有工具共用的参数，各工具只读取自己需要的字段
type toolArgs struct {
	Scope   vector.Scope   `json:"scope"`
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload vector.Payload `json:"payload"`
	Filter  vector.Filter  `json:"filter"`
	TopK    int            `json:"top_k"`
}

// HandleToolCall handles an MCP tool call
func (h *Handler) HandleToolCall(ctx context.Context, req ToolCallRequest) ToolCallResponse {
	args, err := decodeArgs(req.Arguments)
	if err != nil {
		return errorResponse(fmt.Sprintf("invalid arguments: %v", err))
	}

	switch req.Name {
	case "vector_insert":
		return h.handleInsert(ctx, args)
	case "vector_get":
		return h.handleGet(ctx, args)
	case "vector_update":
		return h.handleUpdate(ctx, args)
	case "vector_delete":
		return h.handleDelete(ctx, args)
	case "vector_delete_by_filter":
		return h.handleDeleteByFilter(ctx, args)
	case "vector_search":
		return h.handleSearch(ctx, args)
	default:
		return errorResponse(fmt.Sprintf("unknown tool: %s", req.Name))
	}
}

// decodeArgs 参数先按 JSON 解成 map，再用 mapstructure 宽松转换
// （如 "5" → 5、数字数组 → []float32）
func decodeArgs(raw json.RawMessage) (toolArgs, error) {
	var args toolArgs
	if len(raw) == 0 {
		return args, nil
	}

	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return args, err
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           &args,
	})
	if err != nil {
		return args, err
	}
	if err := decoder.Decode(m); err != nil {
		return args, err
	}
	return args, nil
}

func (h *Handler) handleInsert(ctx context.Context, args toolArgs) ToolCallResponse {
	id, err := h.store.Insert(ctx, args.Scope, vector.Record{ID: args.ID, Vector: args.Vector, Payload: args.Payload})
	if err != nil {
		return errorResponse(fmt.Sprintf("insert failed: %v", err))
	}
	return successResponse(fmt.Sprintf("inserted record %s", id))
}

func (h *Handler) handleGet(ctx context.Context, args toolArgs) ToolCallResponse {
	rec, err := h.store.Get(ctx, args.Scope, args.ID)
	if err != nil {
		return errorResponse(fmt.Sprintf("get failed: %v", err))
	}
	return jsonResponse(rec)
}

func (h *Handler) handleUpdate(ctx context.Context, args toolArgs) ToolCallResponse {
	upd := vector.RecordUpdate{Vector: args.Vector, Payload: args.Payload}
	if err := h.store.Update(ctx, args.Scope, args.ID, upd); err != nil {
		return errorResponse(fmt.Sprintf("update failed: %v", err))
	}
	return successResponse(fmt.Sprintf("updated record %s", args.ID))
}

func (h *Handler) handleDelete(ctx context.Context, args toolArgs) ToolCallResponse {
	if err := h.store.Delete(ctx, args.Scope, args.ID); err != nil {
		return errorResponse(fmt.Sprintf("delete failed: %v", err))
	}
	return successResponse(fmt.Sprintf("deleted record %s", args.ID))
}

func (h *Handler) handleDeleteByFilter(ctx context.Context, args toolArgs) ToolCallResponse {
	n, err := h.store.DeleteByFilter(ctx, args.Scope, args.Filter)
	if err != nil {
		return errorResponse(fmt.Sprintf("delete by filter failed: %v", err))
	}
	return successResponse(fmt.Sprintf("deleted %d records", n))
}

func (h *Handler) handleSearch(ctx context.Context, args toolArgs) ToolCallResponse {
	if args.TopK == 0 {
		args.TopK = defaultTopK
	}
	results, err := h.store.Search(ctx, args.Scope, vector.Query{
		Vector:  args.Vector,
		TopK:    args.TopK,
		Filters: args.Filter,
	})
	if err != nil {
		return errorResponse(fmt.Sprintf("search failed: %v", err))
	}
	if len(results) == 0 {
		return successResponse("no matching records")
	}
	return jsonResponse(results)
}

// Helper functions

func successResponse(text string) ToolCallResponse {
	return ToolCallResponse{
		Content: []ContentBlock{
			{Type: "text", Text: text},
		},
	}
}

func jsonResponse(v any) ToolCallResponse {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResponse(fmt.Sprintf("encode result: %v", err))
	}
	return successResponse(string(data))
}

func errorResponse(text string) ToolCallResponse {
	return ToolCallResponse{
		Content: []ContentBlock{
			{Type: "text", Text: text},
		},
		IsError: true,
	}
}
