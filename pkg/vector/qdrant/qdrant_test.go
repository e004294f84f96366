package qdrant

import (
	"context"
	"errors"
	"testing"

	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/Zereker/vecstore/pkg/vector"
)

// fakeClient 用函数字段模拟 qdrant 客户端
type fakeClient struct {
	HealthCheckFunc       func(ctx context.Context) (*qdrant.HealthCheckReply, error)
	GetCollectionInfoFunc func(ctx context.Context, name string) (*qdrant.CollectionInfo, error)
	CreateCollectionFunc  func(ctx context.Context, req *qdrant.CreateCollection) error
	CreateFieldIndexFunc  func(ctx context.Context, req *qdrant.CreateFieldIndexCollection) (*qdrant.UpdateResult, error)
	UpsertFunc            func(ctx context.Context, req *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	GetFunc               func(ctx context.Context, req *qdrant.GetPoints) ([]*qdrant.RetrievedPoint, error)
	UpdateVectorsFunc     func(ctx context.Context, req *qdrant.UpdatePointVectors) (*qdrant.UpdateResult, error)
	SetPayloadFunc        func(ctx context.Context, req *qdrant.SetPayloadPoints) (*qdrant.UpdateResult, error)
	DeleteFunc            func(ctx context.Context, req *qdrant.DeletePoints) (*qdrant.UpdateResult, error)
	CountFunc             func(ctx context.Context, req *qdrant.CountPoints) (uint64, error)
	QueryFunc             func(ctx context.Context, req *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)

	fieldIndexes []string
	closed       bool
}

func (f *fakeClient) HealthCheck(ctx context.Context) (*qdrant.HealthCheckReply, error) {
	if f.HealthCheckFunc == nil {
		return &qdrant.HealthCheckReply{}, nil
	}
	return f.HealthCheckFunc(ctx)
}

func (f *fakeClient) GetCollectionInfo(ctx context.Context, name string) (*qdrant.CollectionInfo, error) {
	return f.GetCollectionInfoFunc(ctx, name)
}

func (f *fakeClient) CreateCollection(ctx context.Context, req *qdrant.CreateCollection) error {
	return f.CreateCollectionFunc(ctx, req)
}

func (f *fakeClient) CreateFieldIndex(ctx context.Context, req *qdrant.CreateFieldIndexCollection) (*qdrant.UpdateResult, error) {
	f.fieldIndexes = append(f.fieldIndexes, req.FieldName)
	if f.CreateFieldIndexFunc == nil {
		return &qdrant.UpdateResult{}, nil
	}
	return f.CreateFieldIndexFunc(ctx, req)
}

func (f *fakeClient) Upsert(ctx context.Context, req *qdrant.UpsertPoints) (*qdrant.UpdateResult, error) {
	return f.UpsertFunc(ctx, req)
}

func (f *fakeClient) Get(ctx context.Context, req *qdrant.GetPoints) ([]*qdrant.RetrievedPoint, error) {
	return f.GetFunc(ctx, req)
}

func (f *fakeClient) UpdateVectors(ctx context.Context, req *qdrant.UpdatePointVectors) (*qdrant.UpdateResult, error) {
	return f.UpdateVectorsFunc(ctx, req)
}

func (f *fakeClient) SetPayload(ctx context.Context, req *qdrant.SetPayloadPoints) (*qdrant.UpdateResult, error) {
	return f.SetPayloadFunc(ctx, req)
}

func (f *fakeClient) Delete(ctx context.Context, req *qdrant.DeletePoints) (*qdrant.UpdateResult, error) {
	return f.DeleteFunc(ctx, req)
}

func (f *fakeClient) Count(ctx context.Context, req *qdrant.CountPoints) (uint64, error) {
	return f.CountFunc(ctx, req)
}

func (f *fakeClient) Query(ctx context.Context, req *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error) {
	return f.QueryFunc(ctx, req)
}

func (f *fakeClient) Close() error {
	f.closed = true
	return nil
}

func collectionInfo(dims uint64, d qdrant.Distance) *qdrant.CollectionInfo {
	return &qdrant.CollectionInfo{
		Config: &qdrant.CollectionConfig{
			Params: &qdrant.CollectionParams{
				VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{Size: dims, Distance: d}),
			},
		},
	}
}

func retrieved(t *testing.T, id string, payload vector.Payload) *qdrant.RetrievedPoint {
	t.Helper()
	values, err := toPayload(id, payload)
	require.NoError(t, err)
	return &qdrant.RetrievedPoint{Id: pointID(id), Payload: values}
}

func TestClientConfig(t *testing.T) {
	t.Run("LocalAddress", func(t *testing.T) {
		cfg, err := clientConfig(vector.ConnectionConfig{
			Addressing:  vector.LocalAddress{Host: "qdrant.local", Port: 6334},
			Auth:        vector.APIKeyAuth{Key: "secret"},
			VerifyCerts: true,
		})
		require.NoError(t, err)
		assert.Equal(t, "qdrant.local", cfg.Host)
		assert.Equal(t, 6334, cfg.Port)
		assert.Equal(t, "secret", cfg.APIKey)
		assert.False(t, cfg.UseTLS)
		assert.Nil(t, cfg.TLSConfig)
	})

	t.Run("TLSWithoutVerification", func(t *testing.T) {
		cfg, err := clientConfig(vector.ConnectionConfig{
			Addressing: vector.LocalAddress{Host: "qdrant.local", Port: 6334, UseSSL: true},
			Auth:       vector.NoAuth{},
		})
		require.NoError(t, err)
		assert.True(t, cfg.UseTLS)
		require.NotNil(t, cfg.TLSConfig)
		assert.True(t, cfg.TLSConfig.InsecureSkipVerify)
	})

	t.Run("BasicAuthRejected", func(t *testing.T) {
		_, err := clientConfig(vector.ConnectionConfig{
			Addressing: vector.LocalAddress{Host: "localhost", Port: 6334},
			Auth:       vector.BasicAuth{User: "u", Password: "p"},
		})
		assert.ErrorIs(t, err, vector.ErrConfig)
	})
}

func TestDescribeCollection(t *testing.T) {
	t.Run("Found", func(t *testing.T) {
		fc := &fakeClient{
			GetCollectionInfoFunc: func(ctx context.Context, name string) (*qdrant.CollectionInfo, error) {
				assert.Equal(t, "mem0", name)
				return collectionInfo(4, qdrant.Distance_Euclid), nil
			},
		}
		c, err := newBackend(fc, nil).DescribeCollection(context.Background(), "mem0")
		require.NoError(t, err)
		assert.Equal(t, 4, c.Dims)
		assert.Equal(t, vector.MetricL2, c.Metric)
	})

	t.Run("Missing", func(t *testing.T) {
		fc := &fakeClient{
			GetCollectionInfoFunc: func(ctx context.Context, name string) (*qdrant.CollectionInfo, error) {
				return nil, status.Error(codes.NotFound, "Collection `mem0` doesn't exist!")
			},
		}
		_, err := newBackend(fc, nil).DescribeCollection(context.Background(), "mem0")
		assert.ErrorIs(t, err, vector.ErrCollectionNotFound)
	})
}

func TestCreateCollection(t *testing.T) {
	var got *qdrant.CreateCollection
	fc := &fakeClient{
		CreateCollectionFunc: func(ctx context.Context, req *qdrant.CreateCollection) error {
			got = req
			return nil
		},
	}
	b := newBackend(fc, []string{"user_id", "agent_id"})

	err := b.CreateCollection(context.Background(), vector.Collection{Name: "mem0", Dims: 3, Metric: vector.MetricDot})
	require.NoError(t, err)

	params := got.GetVectorsConfig().GetParams()
	assert.Equal(t, uint64(3), params.GetSize())
	assert.Equal(t, qdrant.Distance_Dot, params.GetDistance())
	assert.Equal(t, []string{recordIDKey, "user_id", "agent_id"}, fc.fieldIndexes)

	t.Run("Exists", func(t *testing.T) {
		fc.CreateCollectionFunc = func(ctx context.Context, req *qdrant.CreateCollection) error {
			return status.Error(codes.InvalidArgument, "Wrong input: Collection `mem0` already exists!")
		}
		err := b.CreateCollection(context.Background(), vector.Collection{Name: "mem0", Dims: 3, Metric: vector.MetricDot})
		assert.ErrorIs(t, err, vector.ErrCollectionExists)
	})
}

func TestInsert(t *testing.T) {
	var upserted []*qdrant.PointStruct
	fc := &fakeClient{
		GetFunc: func(ctx context.Context, req *qdrant.GetPoints) ([]*qdrant.RetrievedPoint, error) {
			assert.Len(t, req.Ids, 2)
			return []*qdrant.RetrievedPoint{retrieved(t, "taken", nil)}, nil
		},
		UpsertFunc: func(ctx context.Context, req *qdrant.UpsertPoints) (*qdrant.UpdateResult, error) {
			assert.True(t, req.GetWait())
			upserted = req.Points
			return &qdrant.UpdateResult{}, nil
		},
	}

	errs, err := newBackend(fc, nil).Insert(context.Background(), "mem0", []vector.Record{
		{ID: "fresh", Vector: []float32{1, 0}, Payload: vector.Payload{"user_id": "alice"}},
		{ID: "taken", Vector: []float32{0, 1}},
	})
	require.NoError(t, err)
	require.Len(t, errs, 2)
	assert.NoError(t, errs[0])
	assert.ErrorIs(t, errs[1], vector.ErrAlreadyExists)

	require.Len(t, upserted, 1)
	id, payload := fromPayload(upserted[0].Payload)
	assert.Equal(t, "fresh", id)
	assert.Equal(t, "alice", payload["user_id"])

	t.Run("DuplicateInBatch", func(t *testing.T) {
		var points []*qdrant.PointStruct
		fc := &fakeClient{
			GetFunc: func(ctx context.Context, req *qdrant.GetPoints) ([]*qdrant.RetrievedPoint, error) {
				return nil, nil
			},
			UpsertFunc: func(ctx context.Context, req *qdrant.UpsertPoints) (*qdrant.UpdateResult, error) {
				points = req.Points
				return &qdrant.UpdateResult{}, nil
			},
		}

		errs, err := newBackend(fc, nil).Insert(context.Background(), "mem0", []vector.Record{
			{ID: "dup", Vector: []float32{1, 0}},
			{ID: "dup", Vector: []float32{0, 1}},
		})
		require.NoError(t, err)
		require.Len(t, errs, 2)
		assert.NoError(t, errs[0])
		assert.ErrorIs(t, errs[1], vector.ErrAlreadyExists)

		require.Len(t, points, 1)
		assert.Equal(t, []float32{1, 0}, points[0].GetVectors().GetVector().GetDense().GetData())
	})

	t.Run("ReservedPayloadKey", func(t *testing.T) {
		var points []*qdrant.PointStruct
		fc := &fakeClient{
			GetFunc: func(ctx context.Context, req *qdrant.GetPoints) ([]*qdrant.RetrievedPoint, error) {
				return nil, nil
			},
			UpsertFunc: func(ctx context.Context, req *qdrant.UpsertPoints) (*qdrant.UpdateResult, error) {
				points = req.Points
				return &qdrant.UpdateResult{}, nil
			},
		}

		errs, err := newBackend(fc, nil).Insert(context.Background(), "mem0", []vector.Record{
			{ID: "a", Vector: []float32{1, 0}, Payload: vector.Payload{recordIDKey: "spoofed"}},
			{ID: "b", Vector: []float32{0, 1}},
		})
		require.NoError(t, err)
		assert.ErrorIs(t, errs[0], vector.ErrInvalidArgument)
		assert.NoError(t, errs[1])
		assert.Len(t, points, 1)
	})
}

func TestGet(t *testing.T) {
	t.Run("Found", func(t *testing.T) {
		fc := &fakeClient{
			GetFunc: func(ctx context.Context, req *qdrant.GetPoints) ([]*qdrant.RetrievedPoint, error) {
				p := retrieved(t, "r1", vector.Payload{"user_id": "alice", "n": 3})
				p.Vectors = &qdrant.VectorsOutput{
					VectorsOptions: &qdrant.VectorsOutput_Vector{
						Vector: &qdrant.VectorOutput{Data: []float32{0.5, 0.5}},
					},
				}
				return []*qdrant.RetrievedPoint{p}, nil
			},
		}
		rec, err := newBackend(fc, nil).Get(context.Background(), "mem0", "r1")
		require.NoError(t, err)
		assert.Equal(t, "r1", rec.ID)
		assert.Equal(t, []float32{0.5, 0.5}, rec.Vector)
		assert.Equal(t, "alice", rec.Payload["user_id"])
		assert.Equal(t, int64(3), rec.Payload["n"])
	})

	t.Run("Missing", func(t *testing.T) {
		fc := &fakeClient{
			GetFunc: func(ctx context.Context, req *qdrant.GetPoints) ([]*qdrant.RetrievedPoint, error) {
				return nil, nil
			},
		}
		_, err := newBackend(fc, nil).Get(context.Background(), "mem0", "r1")
		assert.ErrorIs(t, err, vector.ErrNotFound)
	})
}

func TestUpdate(t *testing.T) {
	var vectors, payloads int
	fc := &fakeClient{
		GetFunc: func(ctx context.Context, req *qdrant.GetPoints) ([]*qdrant.RetrievedPoint, error) {
			return []*qdrant.RetrievedPoint{retrieved(t, "r1", nil)}, nil
		},
		UpdateVectorsFunc: func(ctx context.Context, req *qdrant.UpdatePointVectors) (*qdrant.UpdateResult, error) {
			vectors++
			return &qdrant.UpdateResult{}, nil
		},
		SetPayloadFunc: func(ctx context.Context, req *qdrant.SetPayloadPoints) (*qdrant.UpdateResult, error) {
			payloads++
			assert.Equal(t, "v", req.Payload["k"].GetStringValue())
			return &qdrant.UpdateResult{}, nil
		},
	}
	b := newBackend(fc, nil)

	require.NoError(t, b.Update(context.Background(), "mem0", "r1", vector.RecordUpdate{Payload: vector.Payload{"k": "v"}}))
	assert.Equal(t, 0, vectors)
	assert.Equal(t, 1, payloads)

	require.NoError(t, b.Update(context.Background(), "mem0", "r1", vector.RecordUpdate{Vector: []float32{1, 1}}))
	assert.Equal(t, 1, vectors)
	assert.Equal(t, 1, payloads)

	t.Run("Missing", func(t *testing.T) {
		fc.GetFunc = func(ctx context.Context, req *qdrant.GetPoints) ([]*qdrant.RetrievedPoint, error) {
			return nil, nil
		}
		err := b.Update(context.Background(), "mem0", "nope", vector.RecordUpdate{Vector: []float32{1, 1}})
		assert.ErrorIs(t, err, vector.ErrNotFound)
	})
}

func TestDeleteByFilter(t *testing.T) {
	t.Run("CountsThenDeletes", func(t *testing.T) {
		deleted := false
		fc := &fakeClient{
			CountFunc: func(ctx context.Context, req *qdrant.CountPoints) (uint64, error) {
				assert.Len(t, req.Filter.Must, 1)
				return 2, nil
			},
			DeleteFunc: func(ctx context.Context, req *qdrant.DeletePoints) (*qdrant.UpdateResult, error) {
				deleted = true
				assert.NotNil(t, req.Points.GetFilter())
				return &qdrant.UpdateResult{}, nil
			},
		}
		n, err := newBackend(fc, nil).DeleteByFilter(context.Background(), "mem0", vector.Filter{"user_id": "alice"})
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		assert.True(t, deleted)
	})

	t.Run("NothingMatches", func(t *testing.T) {
		fc := &fakeClient{
			CountFunc: func(ctx context.Context, req *qdrant.CountPoints) (uint64, error) {
				return 0, nil
			},
		}
		n, err := newBackend(fc, nil).DeleteByFilter(context.Background(), "mem0", vector.Filter{"user_id": "bob"})
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestSearch(t *testing.T) {
	values, err := toPayload("near", vector.Payload{"user_id": "alice"})
	require.NoError(t, err)

	fc := &fakeClient{
		GetCollectionInfoFunc: func(ctx context.Context, name string) (*qdrant.CollectionInfo, error) {
			return collectionInfo(2, qdrant.Distance_Euclid), nil
		},
		QueryFunc: func(ctx context.Context, req *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error) {
			assert.Equal(t, uint64(5), req.GetLimit())
			assert.Len(t, req.Filter.Must, 1)
			return []*qdrant.ScoredPoint{{Id: pointID("near"), Payload: values, Score: 1}}, nil
		},
	}

	results, err := newBackend(fc, nil).Search(context.Background(), "mem0", vector.Query{
		Vector:  []float32{1, 0},
		TopK:    5,
		Filters: vector.Filter{"user_id": "alice"},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "near", results[0].ID)
	assert.InDelta(t, 0.5, results[0].Score, 1e-9)
	assert.Equal(t, vector.Payload{"user_id": "alice"}, results[0].Payload)
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"Unavailable", status.Error(codes.Unavailable, "down"), vector.ErrConnection},
		{"Deadline", status.Error(codes.DeadlineExceeded, "slow"), vector.ErrTimeout},
		{"Unauthenticated", status.Error(codes.Unauthenticated, "bad key"), vector.ErrAuth},
		{"NotFound", status.Error(codes.NotFound, "missing"), vector.ErrCollectionNotFound},
		{"Internal", status.Error(codes.Internal, "boom"), vector.ErrBackend},
		{"ContextDeadline", context.DeadlineExceeded, vector.ErrTimeout},
		{"PlainError", errors.New("dial tcp: refused"), vector.ErrConnection},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, mapError("op", tt.err), tt.want)
		})
	}

	t.Run("CanceledPassesThrough", func(t *testing.T) {
		assert.ErrorIs(t, mapError("op", context.Canceled), context.Canceled)
	})
}

func TestConvert(t *testing.T) {
	t.Run("PointIDStable", func(t *testing.T) {
		assert.Equal(t, pointID("abc").GetUuid(), pointID("abc").GetUuid())
		assert.NotEqual(t, pointID("abc").GetUuid(), pointID("abd").GetUuid())
	})

	t.Run("UUIDPassesThrough", func(t *testing.T) {
		id := "0b6f7c2e-5a3d-4c1e-9f00-1234567890ab"
		assert.Equal(t, id, pointID(id).GetUuid())
	})

	t.Run("UnsupportedFilterType", func(t *testing.T) {
		_, err := toFilter(vector.Filter{"tags": []string{"a"}})
		assert.ErrorIs(t, err, vector.ErrInvalidArgument)
	})

	t.Run("EmptyFilter", func(t *testing.T) {
		f, err := toFilter(nil)
		require.NoError(t, err)
		assert.Nil(t, f)
	})

	t.Run("ReservedKey", func(t *testing.T) {
		_, err := toPayload("r", vector.Payload{recordIDKey: "other"})
		assert.Error(t, err)
	})

	t.Run("NarrowIntegers", func(t *testing.T) {
		values, err := toPayload("r", vector.Payload{"small": int8(3)})
		require.NoError(t, err)
		assert.Equal(t, int64(3), values["small"].GetIntegerValue())
	})
}
