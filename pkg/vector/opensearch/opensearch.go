// Package opensearch implements vector.Backend on OpenSearch k-NN indices.
//
// Each record is one document: {"id": ..., "vector_field": [...],
// "metadata": {...}}. Filters are term queries on metadata.<key>, which a
// dynamic template maps to keyword for strings.
package opensearch

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/opensearch-project/opensearch-go/v4"
	"github.com/opensearch-project/opensearch-go/v4/opensearchapi"

	"github.com/Zereker/vecstore/pkg/vector"
)

const (
	Name = "opensearch"

	vectorField   = "vector_field"
	metadataField = "metadata"
	idField       = "id"
)

func init() {
	vector.Register(Name, func(cfg vector.Config, conn vector.ConnectionConfig) (vector.Backend, error) {
		return New(conn)
	})
}

// Backend stores records as documents of one k-NN index per collection.
type Backend struct {
	client  *opensearchapi.Client
	logger  *slog.Logger
	metrics sync.Map // index -> vector.Metric
}

var _ vector.Backend = (*Backend)(nil)

// New builds a client for conn. It performs no I/O. Certificate
// verification is disabled on this client's transport only.
func New(conn vector.ConnectionConfig) (*Backend, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if !conn.VerifyCerts {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	clientCfg := opensearchapi.Config{
		Client: opensearch.Config{
			Addresses:    []string{conn.Addressing.Endpoint()},
			Transport:    transport,
			DisableRetry: true, // 重试由 vector.Connect 统一处理
		},
	}

	switch auth := conn.Auth.(type) {
	case vector.APIKeyAuth:
		clientCfg.Client.Header = http.Header{"Authorization": []string{"ApiKey " + auth.Key}}
	case vector.BasicAuth:
		clientCfg.Client.Username = auth.User
		clientCfg.Client.Password = auth.Password
	case vector.NoAuth, nil:
	default:
		return nil, fmt.Errorf("%w: unsupported auth %T", vector.ErrConfig, auth)
	}

	client, err := opensearchapi.NewClient(clientCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create OpenSearch client: %v", vector.ErrConfig, err)
	}

	return &Backend{
		client: client,
		logger: slog.Default().With("module", "opensearch"),
	}, nil
}

func (b *Backend) Name() string { return Name }

func (b *Backend) Ping(ctx context.Context) error {
	resp, err := b.client.Info(ctx, nil)
	if err != nil {
		return apiError("ping", resp, err)
	}
	return nil
}

// Close is a no-op; idle connections belong to the private transport.
func (b *Backend) Close() error {
	return nil
}

// jsonBody encodes a request body for the typed API.
func jsonBody(op string, v any) (io.Reader, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, vector.NewOpError(Name, op, vector.ErrInvalidArgument, err)
	}
	return bytes.NewReader(data), nil
}

// apiError classifies a failed opensearchapi call. The typed response
// still carries the raw HTTP response whenever the engine answered.
func apiError[R any, P interface {
	*R
	Inspect() opensearchapi.Inspect
}](op string, resp P, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}

	status := 0
	if resp != nil {
		if raw := resp.Inspect().Response; raw != nil {
			status = raw.StatusCode
		}
	}

	var errType string
	var structErr *opensearch.StructError
	if errors.As(err, &structErr) {
		errType = structErr.Err.Type
		if status == 0 {
			status = structErr.Status
		}
	}

	if status == 0 {
		return transportError(op, err)
	}
	return vector.NewOpError(Name, op, classify(status, errType), err)
}

func classify(status int, errType string) error {
	switch errType {
	case "index_not_found_exception":
		return vector.ErrCollectionNotFound
	case "resource_already_exists_exception":
		return vector.ErrCollectionExists
	case "version_conflict_engine_exception":
		return vector.ErrAlreadyExists
	case "document_missing_exception":
		return vector.ErrNotFound
	}

	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return vector.ErrAuth
	case status == http.StatusNotFound:
		return vector.ErrNotFound
	case status == http.StatusConflict:
		return vector.ErrAlreadyExists
	case status == http.StatusRequestTimeout, status == http.StatusGatewayTimeout:
		return vector.ErrTimeout
	case status == http.StatusTooManyRequests,
		status == http.StatusBadGateway,
		status == http.StatusServiceUnavailable:
		return vector.ErrConnection
	case status >= 400 && status < 500:
		return vector.ErrInvalidArgument
	default:
		return vector.ErrBackend
	}
}

func transportError(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return vector.NewOpError(Name, op, vector.ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return vector.NewOpError(Name, op, vector.ErrTimeout, err)
	}
	var certErr *tls.CertificateVerificationError
	if errors.As(err, &certErr) {
		return vector.NewOpError(Name, op, vector.ErrAuth, err)
	}
	return vector.NewOpError(Name, op, vector.ErrConnection, err)
}
