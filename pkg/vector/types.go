package vector

import (
	"fmt"
	"math"
	"strings"
)

// Metric 向量距离度量
type Metric string

const (
	MetricCosine Metric = "cosine"
	MetricL2     Metric = "l2"
	MetricDot    Metric = "dot"
)

// ParseMetric normalizes a metric name. Empty means cosine.
func ParseMetric(s string) (Metric, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "cosine", "cosinesimil":
		return MetricCosine, nil
	case "l2", "euclid", "euclidean":
		return MetricL2, nil
	case "dot", "innerproduct", "inner_product":
		return MetricDot, nil
	}
	return "", fmt.Errorf("%w: unknown metric %q", ErrConfig, s)
}

// Payload 记录的元数据，值为标量（string/bool/整数/浮点）
type Payload map[string]any

// Clone returns a shallow copy of the payload.
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Filter 精确匹配过滤条件，多个 key 之间为 AND 关系
type Filter map[string]any

// Matches reports whether every predicate of f holds for payload p.
func (f Filter) Matches(p Payload) bool {
	for k, want := range f {
		got, ok := p[k]
		if !ok || !ScalarEqual(got, want) {
			return false
		}
	}
	return true
}

// Record 向量记录
type Record struct {
	ID      string    `json:"id"`
	Vector  []float32 `json:"vector"`
	Payload Payload   `json:"payload,omitempty"`
}

// RecordUpdate 部分更新，nil 字段保持不变
type RecordUpdate struct {
	Vector  []float32 `json:"vector,omitempty"`
	Payload Payload   `json:"payload,omitempty"`
}

// IsEmpty reports whether the update changes nothing.
func (u RecordUpdate) IsEmpty() bool {
	return u.Vector == nil && len(u.Payload) == 0
}

// Collection 集合（索引）定义，创建后不可变
type Collection struct {
	Name   string `json:"name"`
	Dims   int    `json:"dims"`
	Metric Metric `json:"metric"`
}

// Query 相似度检索请求
type Query struct {
	Vector  []float32 `json:"vector"`
	TopK    int       `json:"top_k"`
	Filters Filter    `json:"filters,omitempty"`
}

// Result 检索结果，Score 越大越相似
type Result struct {
	ID      string  `json:"id"`
	Score   float64 `json:"score"`
	Payload Payload `json:"payload,omitempty"`
}

// BatchResult is the outcome of one record in a BatchInsert call.
type BatchResult struct {
	ID  string `json:"id"`
	Err error  `json:"-"`
}

// ValidateScalar checks that v is a value a filter or payload can hold.
func ValidateScalar(v any) error {
	switch v.(type) {
	case string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return nil
	}
	return fmt.Errorf("%w: unsupported value type %T", ErrInvalidArgument, v)
}

// ScalarEqual compares two scalar values, treating all numeric types
// (including JSON-decoded float64) as numbers.
func ScalarEqual(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		return ok && fa == fb
	}
	return a == b
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// Similarity returns the normalized similarity of a and b under m.
// Higher is always more similar: cosine similarity, inner product, or
// 1/(1+d²) for squared euclidean distance d².
func Similarity(m Metric, a, b []float32) float64 {
	switch m {
	case MetricDot:
		return dot(a, b)
	case MetricL2:
		var sum float64
		for i := range a {
			d := float64(a[i]) - float64(b[i])
			sum += d * d
		}
		return 1 / (1 + sum)
	default:
		na, nb := math.Sqrt(dot(a, a)), math.Sqrt(dot(b, b))
		if na == 0 || nb == 0 {
			return 0
		}
		return dot(a, b) / (na * nb)
	}
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
