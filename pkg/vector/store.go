package vector

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/Zereker/vecstore/pkg/vector"

// Store is the single entry point for record CRUD and similarity search.
// Every operation validates vectors against the collection, injects the
// caller's scope, and provisions the collection lazily on first use.
type Store struct {
	sess   *Session
	coll   Collection
	scope  *scoper
	prov   *provisioner
	events EventSink
	tracer trace.Tracer
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithEventSink publishes a ChangeEvent after every successful write.
func WithEventSink(sink EventSink) Option {
	return func(s *Store) { s.events = sink }
}

// WithTracer overrides the tracer taken from the global provider.
func WithTracer(tracer trace.Tracer) Option {
	return func(s *Store) { s.tracer = tracer }
}

// NewStore builds a Store over sess. The Store takes ownership of the
// session and closes it in Close.
func NewStore(sess *Session, opts ...Option) *Store {
	cfg := sess.Config()
	s := &Store{
		sess:   sess,
		coll:   cfg.Collection(),
		scope:  newScoper(cfg.ScopeKeys),
		prov:   newProvisioner(sess),
		tracer: otel.Tracer(tracerName),
		logger: slog.Default().With("module", "vector-store", "collection", cfg.CollectionName),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Collection returns the collection the store operates on.
func (s *Store) Collection() Collection { return s.coll }

// Backend returns the name of the backend in use.
func (s *Store) Backend() string { return s.sess.Backend().Name() }

// Ping checks the backend is still reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.sess.call(ctx, "ping", s.sess.Backend().Ping)
}

// EnsureCollection creates the collection if needed and verifies its
// dimensionality. It is idempotent and safe to call concurrently.
func (s *Store) EnsureCollection(ctx context.Context) (err error) {
	ctx, done := s.start(ctx, OpProvision, nil)
	defer func() { done(err) }()

	return s.prov.ensure(ctx)
}

// Insert stores a new record and returns its id. A missing id is
// generated. Existing ids are never overwritten.
func (s *Store) Insert(ctx context.Context, scope Scope, rec Record) (id string, err error) {
	ctx, done := s.start(ctx, OpInsert, scope)
	defer func() { done(err) }()

	prepared, err := s.prepare(scope, rec)
	if err != nil {
		return "", err
	}
	if err := s.prov.ensure(ctx); err != nil {
		return "", err
	}

	var errs []error
	err = s.sess.call(ctx, OpInsert, func(ctx context.Context) error {
		var err error
		errs, err = s.sess.Backend().Insert(ctx, s.coll.Name, []Record{prepared})
		return err
	})
	if err != nil {
		return "", err
	}
	if len(errs) > 0 && errs[0] != nil {
		return "", errs[0]
	}

	s.emit(ctx, ChangeEvent{Op: OpInsert, Scope: scope, IDs: []string{prepared.ID}, Count: 1})
	return prepared.ID, nil
}

// BatchInsert inserts records independently. The result has one entry
// per input record, in order; a failed record does not affect the
// others. The error is set only when nothing could be attempted
// (invalid scope, provisioning failure).
func (s *Store) BatchInsert(ctx context.Context, scope Scope, records []Record) (results []BatchResult, err error) {
	ctx, done := s.start(ctx, OpBatchInsert, scope)
	defer func() { done(err) }()

	if err := s.scope.validate(scope); err != nil {
		return nil, err
	}

	results = make([]BatchResult, len(records))
	batch := make([]Record, 0, len(records))
	index := make([]int, 0, len(records))
	for i, rec := range records {
		prepared, err := s.prepare(scope, rec)
		results[i] = BatchResult{ID: prepared.ID, Err: err}
		if err != nil {
			if results[i].ID == "" {
				results[i].ID = rec.ID
			}
			continue
		}
		batch = append(batch, prepared)
		index = append(index, i)
	}
	if len(batch) == 0 {
		return results, nil
	}

	if err := s.prov.ensure(ctx); err != nil {
		return nil, err
	}

	var errs []error
	callErr := s.sess.call(ctx, OpBatchInsert, func(ctx context.Context) error {
		var err error
		errs, err = s.sess.Backend().Insert(ctx, s.coll.Name, batch)
		return err
	})

	inserted := make([]string, 0, len(batch))
	for j, i := range index {
		switch {
		case callErr != nil:
			results[i].Err = callErr
		case j < len(errs) && errs[j] != nil:
			results[i].Err = errs[j]
		default:
			inserted = append(inserted, results[i].ID)
		}
	}
	if callErr != nil {
		s.logger.Error("batch insert failed", "records", len(batch), "error", callErr)
	}

	if len(inserted) > 0 {
		s.emit(ctx, ChangeEvent{Op: OpBatchInsert, Scope: scope, IDs: inserted, Count: len(inserted)})
	}
	return results, nil
}

// Get returns a record of scope. Records of other scopes are reported
// as ErrNotFound.
func (s *Store) Get(ctx context.Context, scope Scope, id string) (rec *Record, err error) {
	ctx, done := s.start(ctx, OpGet, scope)
	defer func() { done(err) }()

	if err := s.checkTarget(scope, id); err != nil {
		return nil, err
	}
	if err := s.prov.ensure(ctx); err != nil {
		return nil, err
	}
	return s.lookup(ctx, scope, id)
}

// Update applies a partial update: a nil vector or empty payload leaves
// that part unchanged; payload keys are merged. Scope keys are fixed.
func (s *Store) Update(ctx context.Context, scope Scope, id string, upd RecordUpdate) (err error) {
	ctx, done := s.start(ctx, OpUpdate, scope)
	defer func() { done(err) }()

	if err := s.checkTarget(scope, id); err != nil {
		return err
	}
	if upd.IsEmpty() {
		return fmt.Errorf("%w: empty update", ErrInvalidArgument)
	}
	if upd.Vector != nil {
		if err := checkVector(s.coll.Name, s.coll.Dims, upd.Vector); err != nil {
			return err
		}
	}
	if len(upd.Payload) > 0 {
		payload, err := s.scope.payload(scope, upd.Payload)
		if err != nil {
			return err
		}
		upd.Payload = payload
	}

	if err := s.prov.ensure(ctx); err != nil {
		return err
	}
	if _, err := s.lookup(ctx, scope, id); err != nil {
		return err
	}

	err = s.sess.call(ctx, OpUpdate, func(ctx context.Context) error {
		return s.sess.Backend().Update(ctx, s.coll.Name, id, upd)
	})
	if err != nil {
		return err
	}

	s.emit(ctx, ChangeEvent{Op: OpUpdate, Scope: scope, IDs: []string{id}, Count: 1})
	return nil
}

// Delete removes a record of scope. Deleting an absent id (or one owned
// by another scope) fails with ErrNotFound; callers wanting idempotent
// deletes should treat that error as success.
func (s *Store) Delete(ctx context.Context, scope Scope, id string) (err error) {
	ctx, done := s.start(ctx, OpDelete, scope)
	defer func() { done(err) }()

	if err := s.checkTarget(scope, id); err != nil {
		return err
	}
	if err := s.prov.ensure(ctx); err != nil {
		return err
	}
	if _, err := s.lookup(ctx, scope, id); err != nil {
		return err
	}

	err = s.sess.call(ctx, OpDelete, func(ctx context.Context) error {
		return s.sess.Backend().Delete(ctx, s.coll.Name, id)
	})
	if err != nil {
		return err
	}

	s.emit(ctx, ChangeEvent{Op: OpDelete, Scope: scope, IDs: []string{id}, Count: 1})
	return nil
}

// DeleteByFilter removes every record of scope matching filter and
// returns how many were deleted. An empty filter removes the whole scope.
func (s *Store) DeleteByFilter(ctx context.Context, scope Scope, filter Filter) (n int, err error) {
	ctx, done := s.start(ctx, OpDeleteByFilter, scope)
	defer func() { done(err) }()

	scoped, err := s.scope.filter(scope, filter)
	if err != nil {
		return 0, err
	}
	if err := s.prov.ensure(ctx); err != nil {
		return 0, err
	}

	err = s.sess.call(ctx, OpDeleteByFilter, func(ctx context.Context) error {
		var err error
		n, err = s.sess.Backend().DeleteByFilter(ctx, s.coll.Name, scoped)
		return err
	})
	if err != nil {
		return 0, err
	}

	s.emit(ctx, ChangeEvent{Op: OpDeleteByFilter, Scope: scope, Count: n})
	return n, nil
}

// Search returns up to q.TopK records of scope most similar to q.Vector
// that match every filter, ordered by descending score then ascending id.
func (s *Store) Search(ctx context.Context, scope Scope, q Query) (results []Result, err error) {
	ctx, done := s.start(ctx, OpSearch, scope)
	defer func() { done(err) }()

	if q.TopK <= 0 {
		return nil, fmt.Errorf("%w: top_k must be positive", ErrInvalidArgument)
	}
	if err := checkVector(s.coll.Name, s.coll.Dims, q.Vector); err != nil {
		return nil, err
	}
	scoped, err := s.scope.filter(scope, q.Filters)
	if err != nil {
		return nil, err
	}
	if err := s.prov.ensure(ctx); err != nil {
		return nil, err
	}

	err = s.sess.call(ctx, OpSearch, func(ctx context.Context) error {
		var err error
		results, err = s.sess.Backend().Search(ctx, s.coll.Name, Query{
			Vector:  q.Vector,
			TopK:    q.TopK,
			Filters: scoped,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	owned := results[:0]
	for _, r := range results {
		if s.scope.owns(scope, r.Payload) {
			owned = append(owned, r)
		}
	}
	return Rank(owned, q.TopK), nil
}

// Close releases the session.
func (s *Store) Close() error {
	return s.sess.Close()
}

func (s *Store) prepare(scope Scope, rec Record) (Record, error) {
	if err := checkVector(s.coll.Name, s.coll.Dims, rec.Vector); err != nil {
		return rec, err
	}
	payload, err := s.scope.payload(scope, rec.Payload)
	if err != nil {
		return rec, err
	}
	id := rec.ID
	if id == "" {
		id = uuid.NewString()
	}
	return Record{ID: id, Vector: rec.Vector, Payload: payload}, nil
}

func (s *Store) checkTarget(scope Scope, id string) error {
	if err := s.scope.validate(scope); err != nil {
		return err
	}
	if id == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidArgument)
	}
	return nil
}

// lookup fetches id and hides records that belong to another scope.
func (s *Store) lookup(ctx context.Context, scope Scope, id string) (*Record, error) {
	var rec *Record
	err := s.sess.call(ctx, OpGet, func(ctx context.Context) error {
		var err error
		rec, err = s.sess.Backend().Get(ctx, s.coll.Name, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !s.scope.owns(scope, rec.Payload) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return rec, nil
}

func (s *Store) emit(ctx context.Context, event ChangeEvent) {
	if s.events == nil {
		return
	}
	event.Collection = s.coll.Name
	event.Time = time.Now()
	if err := s.events.Publish(ctx, event); err != nil {
		EventsFailedTotal.Inc()
		s.logger.Error("failed to publish change event", "op", event.Op, "error", err)
	}
}

func (s *Store) start(ctx context.Context, op string, scope Scope) (context.Context, func(error)) {
	begin := time.Now()
	ctx, span := s.tracer.Start(ctx, "vector."+op, trace.WithAttributes(
		attribute.String("vector.collection", s.coll.Name),
		attribute.String("vector.backend", s.sess.Backend().Name()),
		attribute.String("vector.scope", scope.String()),
	))
	return ctx, func(err error) {
		observe(op, begin, err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			s.logger.Debug("vector operation failed", "op", op, "scope", scope.String(), "error", err)
		}
		span.End()
	}
}
