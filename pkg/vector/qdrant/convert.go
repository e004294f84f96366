package qdrant

import (
	"fmt"
	"math"
	"sort"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/Zereker/vecstore/pkg/vector"
)

// recordIDKey holds the caller's id in the payload, since qdrant only
// accepts UUIDs and unsigned integers as point ids.
const recordIDKey = "record_id"

// idNamespace derives stable point ids from arbitrary record ids.
var idNamespace = uuid.MustParse("6f1c3c4e-8a0b-4f43-9d3e-0f6f2d5b7a11")

// pointID maps a record id onto a point id. UUIDs pass through.
func pointID(id string) *qdrant.PointId {
	if u, err := uuid.Parse(id); err == nil {
		return qdrant.NewIDUUID(u.String())
	}
	return qdrant.NewIDUUID(uuid.NewSHA1(idNamespace, []byte(id)).String())
}

var distances = map[vector.Metric]qdrant.Distance{
	vector.MetricCosine: qdrant.Distance_Cosine,
	vector.MetricL2:     qdrant.Distance_Euclid,
	vector.MetricDot:    qdrant.Distance_Dot,
}

func metricOf(d qdrant.Distance) vector.Metric {
	for m, dist := range distances {
		if dist == d {
			return m
		}
	}
	return ""
}

// toPayload converts a record payload to qdrant values and adds the id.
// recordIDKey is reserved.
func toPayload(id string, p vector.Payload) (map[string]*qdrant.Value, error) {
	if _, ok := p[recordIDKey]; ok {
		return nil, fmt.Errorf("payload key %q is reserved", recordIDKey)
	}
	m := make(map[string]any, len(p)+1)
	for k, v := range p {
		// NewValue 不支持窄整数类型
		switch n := v.(type) {
		case int8:
			v = int64(n)
		case int16:
			v = int64(n)
		case uint8:
			v = int64(n)
		case uint16:
			v = int64(n)
		}
		m[k] = v
	}
	m[recordIDKey] = id
	return qdrant.TryValueMap(m)
}

// fromPayload converts qdrant values back, splitting out the record id.
func fromPayload(values map[string]*qdrant.Value) (string, vector.Payload) {
	var id string
	payload := make(vector.Payload, len(values))
	for k, v := range values {
		if k == recordIDKey {
			id = v.GetStringValue()
			continue
		}
		switch kind := v.GetKind().(type) {
		case *qdrant.Value_StringValue:
			payload[k] = kind.StringValue
		case *qdrant.Value_IntegerValue:
			payload[k] = kind.IntegerValue
		case *qdrant.Value_DoubleValue:
			payload[k] = kind.DoubleValue
		case *qdrant.Value_BoolValue:
			payload[k] = kind.BoolValue
		}
	}
	return id, payload
}

// recordID prefers the stored id and falls back to the point id.
func recordID(pid *qdrant.PointId, values map[string]*qdrant.Value) (string, vector.Payload) {
	id, payload := fromPayload(values)
	if id == "" {
		if u := pid.GetUuid(); u != "" {
			id = u
		} else {
			id = fmt.Sprintf("%d", pid.GetNum())
		}
	}
	return id, payload
}

// toFilter turns exact-match predicates into must conditions.
func toFilter(f vector.Filter) (*qdrant.Filter, error) {
	if len(f) == 0 {
		return nil, nil
	}
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	conditions := make([]*qdrant.Condition, 0, len(keys))
	for _, k := range keys {
		c, err := matchCondition(k, f[k])
		if err != nil {
			return nil, err
		}
		conditions = append(conditions, c)
	}
	return &qdrant.Filter{Must: conditions}, nil
}

func matchCondition(key string, v any) (*qdrant.Condition, error) {
	switch val := v.(type) {
	case string:
		return qdrant.NewMatchKeyword(key, val), nil
	case bool:
		return qdrant.NewMatchBool(key, val), nil
	case int:
		return qdrant.NewMatchInt(key, int64(val)), nil
	case int8:
		return qdrant.NewMatchInt(key, int64(val)), nil
	case int16:
		return qdrant.NewMatchInt(key, int64(val)), nil
	case int32:
		return qdrant.NewMatchInt(key, int64(val)), nil
	case int64:
		return qdrant.NewMatchInt(key, val), nil
	case uint8:
		return qdrant.NewMatchInt(key, int64(val)), nil
	case uint16:
		return qdrant.NewMatchInt(key, int64(val)), nil
	case uint32:
		return qdrant.NewMatchInt(key, int64(val)), nil
	case uint:
		if uint64(val) > math.MaxInt64 {
			return nil, fmt.Errorf("%w: filter %q out of range", vector.ErrInvalidArgument, key)
		}
		return qdrant.NewMatchInt(key, int64(val)), nil
	case uint64:
		if val > math.MaxInt64 {
			return nil, fmt.Errorf("%w: filter %q out of range", vector.ErrInvalidArgument, key)
		}
		return qdrant.NewMatchInt(key, int64(val)), nil
	case float32:
		return exactRange(key, float64(val)), nil
	case float64:
		return exactRange(key, val), nil
	}
	return nil, fmt.Errorf("%w: filter %q has unsupported type %T", vector.ErrInvalidArgument, key, v)
}

// exactRange matches a float exactly; qdrant has no float match.
func exactRange(key string, f float64) *qdrant.Condition {
	return qdrant.NewRange(key, &qdrant.Range{Gte: qdrant.PtrOf(f), Lte: qdrant.PtrOf(f)})
}

// denseVector extracts the default dense vector of a point.
func denseVector(v *qdrant.VectorsOutput) []float32 {
	out := v.GetVector()
	if data := out.GetDense().GetData(); len(data) > 0 {
		return data
	}
	return out.GetData()
}

// normalizeScore converts a qdrant score into vector.Similarity terms.
// Euclid scores are distances, lower is better.
func normalizeScore(m vector.Metric, score float32) float64 {
	s := float64(score)
	if m == vector.MetricL2 {
		return 1 / (1 + s*s)
	}
	return s
}
