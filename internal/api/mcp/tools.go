package mcp

// Tool represents an MCP tool definition
type Tool struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema InputSchema `json:"inputSchema"`
}

// InputSchema defines the JSON schema for tool input
type InputSchema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required,omitempty"`
}

// Property defines a property in the schema
type Property struct {
	Type        string              `json:"type"`
	Description string              `json:"description,omitempty"`
	Enum        []string            `json:"enum,omitempty"`
	Items       *Property           `json:"items,omitempty"`
	Properties  map[string]Property `json:"properties,omitempty"`
	Default     any                 `json:"default,omitempty"`
}

var (
	scopeProperty = Property{
		Type:        "object",
		Description: "作用域，如 {\"user_id\": \"alice\"}；至少包含一个 user_id / agent_id / run_id",
	}
	idProperty = Property{
		Type:        "string",
		Description: "记录 ID",
	}
	vectorProperty = Property{
		Type:        "array",
		Description: "向量，长度必须等于集合维度",
		Items:       &Property{Type: "number"},
	}
	payloadProperty = Property{
		Type:        "object",
		Description: "标量元数据（string / number / boolean）",
	}
	filterProperty = Property{
		Type:        "object",
		Description: "等值过滤条件，多个条件为 AND",
	}
)

// VectorTools defines all available MCP tools for vector store operations
var VectorTools = []Tool{
	{
		Name:        "vector_insert",
		Description: "插入一条向量记录。ID 为空时自动生成；ID 已存在时报错。",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"scope":   scopeProperty,
				"id":      idProperty,
				"vector":  vectorProperty,
				"payload": payloadProperty,
			},
			Required: []string{"scope", "vector"},
		},
	},
	{
		Name:        "vector_get",
		Description: "按 ID 读取当前作用域内的一条记录。",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"scope": scopeProperty,
				"id":    idProperty,
			},
			Required: []string{"scope", "id"},
		},
	},
	{
		Name:        "vector_update",
		Description: "部分更新记录：可替换向量，payload 按 key 合并。",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"scope":   scopeProperty,
				"id":      idProperty,
				"vector":  vectorProperty,
				"payload": payloadProperty,
			},
			Required: []string{"scope", "id"},
		},
	},
	{
		Name:        "vector_delete",
		Description: "按 ID 删除当前作用域内的一条记录。",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"scope": scopeProperty,
				"id":    idProperty,
			},
			Required: []string{"scope", "id"},
		},
	},
	{
		Name:        "vector_delete_by_filter",
		Description: "删除当前作用域内所有匹配过滤条件的记录，返回删除数量。",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"scope":  scopeProperty,
				"filter": filterProperty,
			},
			Required: []string{"scope"},
		},
	},
	{
		Name:        "vector_search",
		Description: "在当前作用域内做 k 近邻检索，分数越高越相似。",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"scope":  scopeProperty,
				"vector": vectorProperty,
				"top_k": {
					Type:        "integer",
					Description: "返回的最大数量",
					Default:     defaultTopK,
				},
				"filter": filterProperty,
			},
			Required: []string{"scope", "vector"},
		},
	},
}
