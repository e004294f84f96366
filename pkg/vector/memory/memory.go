// Package memory is an in-process vector backend with exact k-NN search.
// It keeps everything in maps guarded by a mutex and is meant for tests
// and local development.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/Zereker/vecstore/pkg/vector"
)

const Name = "memory"

func init() {
	vector.Register(Name, func(vector.Config, vector.ConnectionConfig) (vector.Backend, error) {
		return New(), nil
	})
}

type collection struct {
	def     vector.Collection
	records map[string]vector.Record
}

// Backend implements vector.Backend in memory.
type Backend struct {
	mu          sync.RWMutex
	collections map[string]*collection

	// PingErr, when set, is returned by Ping. Tests use it to simulate an
	// unreachable engine.
	PingErr func() error
}

var _ vector.Backend = (*Backend)(nil)

// New creates an empty backend.
func New() *Backend {
	return &Backend{collections: make(map[string]*collection)}
}

func (b *Backend) Name() string { return Name }

func (b *Backend) Ping(ctx context.Context) error {
	if b.PingErr != nil {
		return b.PingErr()
	}
	return ctx.Err()
}

func (b *Backend) DescribeCollection(_ context.Context, name string) (*vector.Collection, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	c, ok := b.collections[name]
	if !ok {
		return nil, vector.NewOpError(Name, "describe_collection", vector.ErrCollectionNotFound, fmt.Errorf("collection %q", name))
	}
	def := c.def
	return &def, nil
}

func (b *Backend) CreateCollection(_ context.Context, def vector.Collection) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.collections[def.Name]; ok {
		return vector.NewOpError(Name, "create_collection", vector.ErrCollectionExists, fmt.Errorf("collection %q", def.Name))
	}
	b.collections[def.Name] = &collection{def: def, records: make(map[string]vector.Record)}
	return nil
}

func (b *Backend) Insert(_ context.Context, name string, records []vector.Record) ([]error, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, err := b.collection(name, "insert")
	if err != nil {
		return nil, err
	}

	errs := make([]error, len(records))
	for i, rec := range records {
		if _, ok := c.records[rec.ID]; ok {
			errs[i] = vector.NewOpError(Name, "insert", vector.ErrAlreadyExists, fmt.Errorf("id %q", rec.ID))
			continue
		}
		c.records[rec.ID] = cloneRecord(rec)
	}
	return errs, nil
}

func (b *Backend) Get(_ context.Context, name, id string) (*vector.Record, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	c, err := b.collection(name, "get")
	if err != nil {
		return nil, err
	}
	rec, ok := c.records[id]
	if !ok {
		return nil, vector.NewOpError(Name, "get", vector.ErrNotFound, fmt.Errorf("id %q", id))
	}
	out := cloneRecord(rec)
	return &out, nil
}

func (b *Backend) Update(_ context.Context, name, id string, upd vector.RecordUpdate) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, err := b.collection(name, "update")
	if err != nil {
		return err
	}
	rec, ok := c.records[id]
	if !ok {
		return vector.NewOpError(Name, "update", vector.ErrNotFound, fmt.Errorf("id %q", id))
	}
	if upd.Vector != nil {
		rec.Vector = append([]float32(nil), upd.Vector...)
	}
	if len(upd.Payload) > 0 {
		if rec.Payload == nil {
			rec.Payload = vector.Payload{}
		}
		for k, v := range upd.Payload {
			rec.Payload[k] = v
		}
	}
	c.records[id] = rec
	return nil
}

func (b *Backend) Delete(_ context.Context, name, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, err := b.collection(name, "delete")
	if err != nil {
		return err
	}
	if _, ok := c.records[id]; !ok {
		return vector.NewOpError(Name, "delete", vector.ErrNotFound, fmt.Errorf("id %q", id))
	}
	delete(c.records, id)
	return nil
}

func (b *Backend) DeleteByFilter(_ context.Context, name string, filter vector.Filter) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, err := b.collection(name, "delete_by_filter")
	if err != nil {
		return 0, err
	}
	n := 0
	for id, rec := range c.records {
		if filter.Matches(rec.Payload) {
			delete(c.records, id)
			n++
		}
	}
	return n, nil
}

func (b *Backend) Search(ctx context.Context, name string, q vector.Query) ([]vector.Result, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	c, err := b.collection(name, "search")
	if err != nil {
		return nil, err
	}

	results := make([]vector.Result, 0, len(c.records))
	for id, rec := range c.records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !q.Filters.Matches(rec.Payload) {
			continue
		}
		results = append(results, vector.Result{
			ID:      id,
			Score:   vector.Similarity(c.def.Metric, q.Vector, rec.Vector),
			Payload: rec.Payload.Clone(),
		})
	}
	return vector.Rank(results, q.TopK), nil
}

func (b *Backend) Close() error { return nil }

// Len returns the number of records in a collection.
func (b *Backend) Len(name string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if c, ok := b.collections[name]; ok {
		return len(c.records)
	}
	return 0
}

func (b *Backend) collection(name, op string) (*collection, error) {
	c, ok := b.collections[name]
	if !ok {
		return nil, vector.NewOpError(Name, op, vector.ErrCollectionNotFound, fmt.Errorf("collection %q", name))
	}
	return c, nil
}

func cloneRecord(r vector.Record) vector.Record {
	return vector.Record{
		ID:      r.ID,
		Vector:  append([]float32(nil), r.Vector...),
		Payload: r.Payload.Clone(),
	}
}
