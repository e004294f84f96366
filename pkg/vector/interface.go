package vector

import "context"

// Backend is the engine-specific adapter behind a Store. Implementations
// see only validated, already-scoped calls and report failures with the
// package sentinels (usually through OpError).
type Backend interface {
	// Name identifies the engine in logs, metrics and errors.
	Name() string

	// Ping checks that the engine is reachable and the credentials work.
	Ping(ctx context.Context) error

	// DescribeCollection returns ErrCollectionNotFound when absent.
	DescribeCollection(ctx context.Context, name string) (*Collection, error)

	// CreateCollection returns ErrCollectionExists when another caller
	// created it first.
	CreateCollection(ctx context.Context, c Collection) error

	// Insert creates records without overwriting. The returned slice has
	// one entry per record (nil on success, ErrAlreadyExists if the id is
	// taken); the error is set only when the whole call failed.
	Insert(ctx context.Context, collection string, records []Record) ([]error, error)

	// Get returns ErrNotFound when the id is absent.
	Get(ctx context.Context, collection, id string) (*Record, error)

	// Update applies a partial update; payload keys are merged.
	Update(ctx context.Context, collection, id string, upd RecordUpdate) error

	// Delete returns ErrNotFound when the id is absent.
	Delete(ctx context.Context, collection, id string) error

	// DeleteByFilter removes every record matching filter and returns the count.
	DeleteByFilter(ctx context.Context, collection string, filter Filter) (int, error)

	// Search runs a k-NN query. Scores must be normalized as in Similarity.
	Search(ctx context.Context, collection string, q Query) ([]Result, error)

	Close() error
}

// Opener builds a Backend from configuration. It must not perform I/O;
// reachability is checked by Connect through Ping.
type Opener func(cfg Config, conn ConnectionConfig) (Backend, error)
