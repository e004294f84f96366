package vector

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors. Backends return (or wrap) these so callers can
// classify failures with errors.Is regardless of the engine in use.
var (
	// ErrConfig 配置冲突或缺失，在任何网络请求之前返回
	ErrConfig = errors.New("invalid vector store config")

	// ErrConnection 网络层失败（连接拒绝、5xx 等），握手阶段会有限重试
	ErrConnection = errors.New("vector store connection failed")

	// ErrAuth 认证被拒绝，不重试
	ErrAuth = errors.New("vector store authentication failed")

	// ErrTimeout 单次调用超时，与 ErrConnection 区分
	ErrTimeout = errors.New("vector store operation timed out")

	ErrProvisioning        = errors.New("collection provisioning failed")
	ErrCollectionNotFound  = errors.New("collection not found")
	ErrCollectionExists    = errors.New("collection already exists")
	ErrDimensionMismatch   = errors.New("vector dimension mismatch")
	ErrNotFound            = errors.New("record not found")
	ErrAlreadyExists       = errors.New("record already exists")
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrMissingScope        = errors.New("missing scope")
	ErrScopeViolation      = errors.New("filter conflicts with scope")
	ErrClosed              = errors.New("vector store is closed")
	ErrBackend             = errors.New("vector store backend error")
	ErrUnsupportedProvider = errors.New("unsupported vector store provider")
)

// DimensionMismatchError reports the expected and actual vector length.
type DimensionMismatchError struct {
	Collection string
	Expected   int
	Actual     int
}

func (e *DimensionMismatchError) Error() string {
	if e.Collection != "" {
		return fmt.Sprintf("vector dimension mismatch for collection %q: expected %d, got %d", e.Collection, e.Expected, e.Actual)
	}
	return fmt.Sprintf("vector dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

func (e *DimensionMismatchError) Is(target error) bool {
	return target == ErrDimensionMismatch
}

// OpError carries the failing operation and backend alongside a
// classified sentinel (Kind) and the underlying cause.
type OpError struct {
	Op      string
	Backend string
	Kind    error
	Err     error
}

func (e *OpError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s %s: %v", e.Backend, e.Op, e.Kind)
	}
	return fmt.Sprintf("%s %s: %v: %v", e.Backend, e.Op, e.Kind, e.Err)
}

func (e *OpError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NewOpError builds an OpError. kind should be one of the package sentinels.
func NewOpError(backend, op string, kind, err error) *OpError {
	return &OpError{Op: op, Backend: backend, Kind: kind, Err: err}
}

// IsTransient reports whether err is worth retrying: connection failures
// and timeouts are, everything else (auth, config, not found) is not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrAuth) || errors.Is(err, ErrConfig) {
		return false
	}
	return errors.Is(err, ErrConnection) || errors.Is(err, ErrTimeout)
}
