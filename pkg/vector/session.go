package vector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"
)

const maxHandshakeBackoff = 5 * time.Second

// Session is a live, authenticated handle to a backend. It bounds every
// call with the configured timeout and optional rate limit and is safe
// for concurrent use. A Session is owned by exactly one Store.
type Session struct {
	backend Backend
	cfg     Config
	timeout time.Duration
	limiter *rate.Limiter
	logger  *slog.Logger

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// Connect validates cfg, builds the backend with opener and performs the
// handshake. Transient handshake failures are retried with exponential
// backoff up to cfg.MaxRetries attempts; anything else fails immediately.
func Connect(ctx context.Context, cfg Config, opener Opener) (*Session, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	conn, err := cfg.Connection()
	if err != nil {
		return nil, err
	}

	backend, err := opener(cfg, conn)
	if err != nil {
		if errors.Is(err, ErrConfig) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: open %s backend: %v", ErrConfig, cfg.Provider, err)
	}

	s := newSession(backend, cfg)
	if err := s.handshake(ctx); err != nil {
		_ = backend.Close()
		return nil, err
	}

	s.logger.Info("vector store connected",
		"backend", backend.Name(),
		"endpoint", conn.Addressing.Endpoint(),
		"collection", cfg.CollectionName,
	)
	return s, nil
}

// NewSession wraps an already constructed backend without a handshake.
// Tests and embedded backends use it directly.
func NewSession(backend Backend, cfg Config) *Session {
	cfg.ApplyDefaults()
	return newSession(backend, cfg)
}

func newSession(backend Backend, cfg Config) *Session {
	s := &Session{
		backend: backend,
		cfg:     cfg,
		timeout: cfg.TimeoutDuration(),
		logger:  slog.Default().With("module", "vector", "backend", backend.Name()),
	}
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return s
}

func (s *Session) handshake(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.RetryBackoffDuration()
	b.MaxInterval = maxHandshakeBackoff

	attempts := s.cfg.MaxRetries
	if attempts <= 0 {
		attempts = 1
	}

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := s.call(ctx, "ping", s.backend.Ping)
		if err != nil && !IsTransient(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(attempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			s.logger.Warn("vector store handshake failed, retrying", "error", err, "next", next)
		}),
	)
	if err == nil {
		return nil
	}

	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Err
	}
	return err
}

// call runs fn under the session timeout and rate limit and classifies
// deadline expiry as ErrTimeout. Caller cancellation is returned as is.
func (s *Session) call(ctx context.Context, op string, fn func(context.Context) error) error {
	if s.closed.Load() {
		return ErrClosed
	}

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return s.contextError(op, ctxErr)
			}
			return NewOpError(s.backend.Name(), op, ErrTimeout, err)
		}
	}

	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	err := fn(cctx)
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return s.contextError(op, ctxErr)
	}
	if errors.Is(cctx.Err(), context.DeadlineExceeded) && !errors.Is(err, ErrTimeout) {
		return NewOpError(s.backend.Name(), op, ErrTimeout, err)
	}
	return err
}

func (s *Session) contextError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return NewOpError(s.backend.Name(), op, ErrTimeout, err)
	}
	return err
}

// Backend returns the underlying adapter.
func (s *Session) Backend() Backend { return s.backend }

// Config returns the configuration the session was built from.
func (s *Session) Config() Config { return s.cfg }

// Close releases the backend. It is safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.closeErr = s.backend.Close()
	})
	return s.closeErr
}
