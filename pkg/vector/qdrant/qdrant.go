// Package qdrant implements vector.Backend on a Qdrant collection over gRPC.
package qdrant

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/Zereker/vecstore/pkg/vector"
)

const (
	Name = "qdrant"

	defaultPort = 6334
)

func init() {
	vector.Register(Name, func(cfg vector.Config, conn vector.ConnectionConfig) (vector.Backend, error) {
		return New(cfg, conn)
	})
}

// client is the subset of *qdrant.Client the backend uses.
type client interface {
	HealthCheck(ctx context.Context) (*qdrant.HealthCheckReply, error)
	GetCollectionInfo(ctx context.Context, name string) (*qdrant.CollectionInfo, error)
	CreateCollection(ctx context.Context, req *qdrant.CreateCollection) error
	CreateFieldIndex(ctx context.Context, req *qdrant.CreateFieldIndexCollection) (*qdrant.UpdateResult, error)
	Upsert(ctx context.Context, req *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Get(ctx context.Context, req *qdrant.GetPoints) ([]*qdrant.RetrievedPoint, error)
	UpdateVectors(ctx context.Context, req *qdrant.UpdatePointVectors) (*qdrant.UpdateResult, error)
	SetPayload(ctx context.Context, req *qdrant.SetPayloadPoints) (*qdrant.UpdateResult, error)
	Delete(ctx context.Context, req *qdrant.DeletePoints) (*qdrant.UpdateResult, error)
	Count(ctx context.Context, req *qdrant.CountPoints) (uint64, error)
	Query(ctx context.Context, req *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
	Close() error
}

// Backend stores records as qdrant points with the caller's id and
// metadata in the payload.
type Backend struct {
	client    client
	scopeKeys []string
	metrics   sync.Map // collection -> vector.Metric
	logger    *slog.Logger
}

var _ vector.Backend = (*Backend)(nil)

// New creates a gRPC client for conn. The underlying connection is
// established lazily, so New performs no I/O.
func New(cfg vector.Config, conn vector.ConnectionConfig) (*Backend, error) {
	qcfg, err := clientConfig(conn)
	if err != nil {
		return nil, err
	}
	c, err := qdrant.NewClient(qcfg)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create qdrant client: %v", vector.ErrConfig, err)
	}
	return newBackend(c, cfg.ScopeKeys), nil
}

func newBackend(c client, scopeKeys []string) *Backend {
	return &Backend{
		client:    c,
		scopeKeys: scopeKeys,
		logger:    slog.Default().With("module", "qdrant"),
	}
}

func clientConfig(conn vector.ConnectionConfig) (*qdrant.Config, error) {
	qcfg := &qdrant.Config{SkipCompatibilityCheck: true}

	switch addr := conn.Addressing.(type) {
	case vector.LocalAddress:
		qcfg.Host = addr.Host
		qcfg.Port = addr.Port
		qcfg.UseTLS = addr.UseSSL
	case vector.CloudAddress:
		u, err := url.Parse(addr.Endpoint())
		if err != nil {
			return nil, fmt.Errorf("%w: cloud endpoint: %v", vector.ErrConfig, err)
		}
		host, port := u.Host, defaultPort
		if h, p, err := net.SplitHostPort(u.Host); err == nil {
			host = h
			if n, err := strconv.Atoi(p); err == nil {
				port = n
			}
		}
		qcfg.Host, qcfg.Port, qcfg.UseTLS = host, port, true
	default:
		return nil, fmt.Errorf("%w: unsupported addressing %T", vector.ErrConfig, addr)
	}

	switch auth := conn.Auth.(type) {
	case vector.APIKeyAuth:
		qcfg.APIKey = auth.Key
	case vector.BasicAuth:
		return nil, fmt.Errorf("%w: qdrant does not support user/password auth, use api_key", vector.ErrConfig)
	case vector.NoAuth, nil:
	}

	if qcfg.UseTLS && !conn.VerifyCerts {
		qcfg.TLSConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return qcfg, nil
}

func (b *Backend) Name() string { return Name }

func (b *Backend) Ping(ctx context.Context) error {
	if _, err := b.client.HealthCheck(ctx); err != nil {
		return mapError("ping", err)
	}
	return nil
}

func (b *Backend) Close() error {
	return b.client.Close()
}

func (b *Backend) DescribeCollection(ctx context.Context, name string) (*vector.Collection, error) {
	info, err := b.client.GetCollectionInfo(ctx, name)
	if err != nil {
		return nil, mapError("describe_collection", err)
	}
	params := info.GetConfig().GetParams().GetVectorsConfig().GetParams()
	c := &vector.Collection{
		Name:   name,
		Dims:   int(params.GetSize()),
		Metric: metricOf(params.GetDistance()),
	}
	if c.Metric != "" {
		b.metrics.Store(name, c.Metric)
	}
	return c, nil
}

// CreateCollection creates the collection and keyword indexes for the
// record id and scope keys, which every scoped call filters on.
func (b *Backend) CreateCollection(ctx context.Context, c vector.Collection) error {
	dist, ok := distances[c.Metric]
	if !ok {
		return vector.NewOpError(Name, "create_collection", vector.ErrConfig, fmt.Errorf("metric %q", c.Metric))
	}
	err := b.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: c.Name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(c.Dims),
			Distance: dist,
		}),
	})
	if err != nil {
		return mapError("create_collection", err)
	}
	b.metrics.Store(c.Name, c.Metric)

	for _, field := range append([]string{recordIDKey}, b.scopeKeys...) {
		_, err := b.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: c.Name,
			Wait:           qdrant.PtrOf(true),
			FieldName:      field,
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		})
		if err != nil {
			// 索引只影响性能，失败不阻断
			b.logger.Warn("failed to create payload index", "collection", c.Name, "field", field, "error", err)
		}
	}
	b.logger.Info("collection created", "collection", c.Name, "dims", c.Dims, "distance", dist.String())
	return nil
}

// Insert skips ids that already exist or repeat earlier in the batch.
// The existence check and the upsert are separate calls; two writers
// racing on one new id may both succeed, the later one winning.
func (b *Backend) Insert(ctx context.Context, collection string, records []vector.Record) ([]error, error) {
	ids := make([]*qdrant.PointId, len(records))
	for i, rec := range records {
		ids[i] = pointID(rec.ID)
	}
	existing, err := b.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: collection,
		Ids:            ids,
		WithPayload:    qdrant.NewWithPayload(false),
	})
	if err != nil {
		return nil, mapError("insert", err)
	}
	taken := make(map[string]struct{}, len(existing))
	for _, p := range existing {
		taken[p.GetId().GetUuid()] = struct{}{}
	}

	errs := make([]error, len(records))
	points := make([]*qdrant.PointStruct, 0, len(records))
	for i, rec := range records {
		if _, ok := taken[ids[i].GetUuid()]; ok {
			errs[i] = vector.NewOpError(Name, "insert", vector.ErrAlreadyExists, fmt.Errorf("id %q", rec.ID))
			continue
		}
		payload, err := toPayload(rec.ID, rec.Payload)
		if err != nil {
			errs[i] = vector.NewOpError(Name, "insert", vector.ErrInvalidArgument, err)
			continue
		}
		points = append(points, &qdrant.PointStruct{
			Id:      ids[i],
			Vectors: qdrant.NewVectorsDense(rec.Vector),
			Payload: payload,
		})
		// 同批次内重复的 id 只写第一条
		taken[ids[i].GetUuid()] = struct{}{}
	}
	if len(points) == 0 {
		return errs, nil
	}

	_, err = b.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		return nil, mapError("insert", err)
	}
	return errs, nil
}

func (b *Backend) Get(ctx context.Context, collection, id string) (*vector.Record, error) {
	points, err := b.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: collection,
		Ids:            []*qdrant.PointId{pointID(id)},
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	})
	if err != nil {
		return nil, mapError("get", err)
	}
	if len(points) == 0 {
		return nil, vector.NewOpError(Name, "get", vector.ErrNotFound, fmt.Errorf("id %q", id))
	}
	p := points[0]
	rid, payload := recordID(p.GetId(), p.GetPayload())
	return &vector.Record{ID: rid, Vector: denseVector(p.GetVectors()), Payload: payload}, nil
}

func (b *Backend) exists(ctx context.Context, op, collection, id string) error {
	points, err := b.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: collection,
		Ids:            []*qdrant.PointId{pointID(id)},
		WithPayload:    qdrant.NewWithPayload(false),
	})
	if err != nil {
		return mapError(op, err)
	}
	if len(points) == 0 {
		return vector.NewOpError(Name, op, vector.ErrNotFound, fmt.Errorf("id %q", id))
	}
	return nil
}

func (b *Backend) Update(ctx context.Context, collection, id string, upd vector.RecordUpdate) error {
	if err := b.exists(ctx, "update", collection, id); err != nil {
		return err
	}
	pid := pointID(id)

	if upd.Vector != nil {
		_, err := b.client.UpdateVectors(ctx, &qdrant.UpdatePointVectors{
			CollectionName: collection,
			Wait:           qdrant.PtrOf(true),
			Points: []*qdrant.PointVectors{
				{Id: pid, Vectors: qdrant.NewVectorsDense(upd.Vector)},
			},
		})
		if err != nil {
			return mapError("update", err)
		}
	}

	if len(upd.Payload) > 0 {
		payload, err := toPayload(id, upd.Payload)
		if err != nil {
			return vector.NewOpError(Name, "update", vector.ErrInvalidArgument, err)
		}
		_, err = b.client.SetPayload(ctx, &qdrant.SetPayloadPoints{
			CollectionName: collection,
			Wait:           qdrant.PtrOf(true),
			Payload:        payload,
			PointsSelector: qdrant.NewPointsSelector(pid),
		})
		if err != nil {
			return mapError("update", err)
		}
	}
	return nil
}

func (b *Backend) Delete(ctx context.Context, collection, id string) error {
	if err := b.exists(ctx, "delete", collection, id); err != nil {
		return err
	}
	_, err := b.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelector(pointID(id)),
	})
	if err != nil {
		return mapError("delete", err)
	}
	return nil
}

// DeleteByFilter counts matches before deleting them; qdrant's delete
// does not report how many points it removed.
func (b *Backend) DeleteByFilter(ctx context.Context, collection string, filter vector.Filter) (int, error) {
	f, err := toFilter(filter)
	if err != nil {
		return 0, err
	}
	if f == nil {
		f = &qdrant.Filter{}
	}

	n, err := b.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: collection,
		Filter:         f,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, mapError("delete_by_filter", err)
	}
	if n == 0 {
		return 0, nil
	}

	_, err = b.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelectorFilter(f),
	})
	if err != nil {
		return 0, mapError("delete_by_filter", err)
	}
	return int(n), nil
}

func (b *Backend) Search(ctx context.Context, collection string, q vector.Query) ([]vector.Result, error) {
	f, err := toFilter(q.Filters)
	if err != nil {
		return nil, err
	}
	metric, err := b.metric(ctx, collection)
	if err != nil {
		return nil, err
	}

	points, err := b.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQueryDense(q.Vector),
		Filter:         f,
		Limit:          qdrant.PtrOf(uint64(q.TopK)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, mapError("search", err)
	}

	results := make([]vector.Result, 0, len(points))
	for _, p := range points {
		id, payload := recordID(p.GetId(), p.GetPayload())
		results = append(results, vector.Result{
			ID:      id,
			Score:   normalizeScore(metric, p.GetScore()),
			Payload: payload,
		})
	}
	return results, nil
}

func (b *Backend) metric(ctx context.Context, collection string) (vector.Metric, error) {
	if m, ok := b.metrics.Load(collection); ok {
		return m.(vector.Metric), nil
	}
	c, err := b.DescribeCollection(ctx, collection)
	if err != nil {
		return "", err
	}
	if c.Metric == "" {
		return vector.MetricCosine, nil
	}
	return c.Metric, nil
}

// mapError classifies gRPC status codes into the vector error taxonomy.
func mapError(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return vector.NewOpError(Name, op, vector.ErrTimeout, err)
	}

	st, ok := status.FromError(err)
	if !ok {
		return vector.NewOpError(Name, op, vector.ErrConnection, err)
	}

	var kind error
	switch st.Code() {
	case codes.Unavailable, codes.ResourceExhausted, codes.Aborted:
		kind = vector.ErrConnection
	case codes.DeadlineExceeded:
		kind = vector.ErrTimeout
	case codes.Unauthenticated, codes.PermissionDenied:
		kind = vector.ErrAuth
	case codes.NotFound:
		kind = vector.ErrCollectionNotFound
	case codes.AlreadyExists:
		kind = vector.ErrCollectionExists
	case codes.InvalidArgument:
		kind = vector.ErrInvalidArgument
		if strings.Contains(st.Message(), "already exists") {
			kind = vector.ErrCollectionExists
		}
	case codes.Canceled:
		return context.Canceled
	default:
		kind = vector.ErrBackend
	}
	return vector.NewOpError(Name, op, kind, err)
}
