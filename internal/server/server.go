package server

import (
	"context"
	"log/slog"
	stdhttp "net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/Zereker/vecstore/internal/api/consumer"
	"github.com/Zereker/vecstore/internal/api/http"
	"github.com/Zereker/vecstore/internal/api/mcp"
	"github.com/Zereker/vecstore/pkg/cache"
	"github.com/Zereker/vecstore/pkg/log"
	"github.com/Zereker/vecstore/pkg/mq"
	"github.com/Zereker/vecstore/pkg/redis"
	"github.com/Zereker/vecstore/pkg/vector"

	// backends register themselves in init()
	_ "github.com/Zereker/vecstore/pkg/vector/memory"
	_ "github.com/Zereker/vecstore/pkg/vector/opensearch"
	_ "github.com/Zereker/vecstore/pkg/vector/qdrant"
)

const shutdownTimeout = 5 * time.Second

// Server represents the vecstore server
type Server struct {
	config   Config
	logger   *slog.Logger
	store    *vector.Store
	producer mq.MessageQueue
	consumer *consumer.Consumer
}

// NewServer creates a new server with the given configuration
func NewServer(ctx context.Context, conf Config) (*Server, error) {
	server := &Server{
		config: conf,
	}

	if err := server.initDepend(ctx); err != nil {
		server.Shutdown()
		return nil, errors.WithMessage(err, "init server dependency failed")
	}

	if err := server.initStore(ctx); err != nil {
		server.Shutdown()
		return nil, errors.WithMessage(err, "init vector store failed")
	}

	if err := server.initConsumer(); err != nil {
		server.Shutdown()
		return nil, errors.WithMessage(err, "init consumer failed")
	}

	return server, nil
}

// initDepend initializes all dependencies
func (s *Server) initDepend(ctx context.Context) error {
	// Initialize log first; stdout belongs to the MCP transport
	if s.config.Server.Mode != "http" {
		s.config.Log.Stderr = true
	}
	if err := log.Init(s.config.Log); err != nil {
		return errors.WithMessage(err, "failed to init log")
	}

	// Create logger for this module
	s.logger = log.Logger("server")
	s.logger.Info("initializing dependencies")

	// Initialize Redis
	if s.config.Redis.Enabled {
		s.logger.Info("initializing redis", "addr", s.config.Redis.Addr)
		if err := redis.Init(ctx, s.config.Redis); err != nil {
			return errors.WithMessage(err, "failed to init redis")
		}
	}

	// Initialize Kafka producer for change events
	if s.config.Kafka.Enabled && s.config.Kafka.EventsTopic != "" {
		s.logger.Info("initializing kafka producer", "topic", s.config.Kafka.EventsTopic)
		producer, err := mq.NewKafkaProducer(s.config.Kafka)
		if err != nil {
			return errors.WithMessage(err, "failed to init kafka producer")
		}
		s.producer = producer
	}

	return nil
}

// initStore connects to the configured backend and provisions the collection
func (s *Server) initStore(ctx context.Context) error {
	s.logger.Info("initializing vector store",
		"provider", s.config.Vector.Provider,
		"collection", s.config.Vector.CollectionName,
	)

	var opts []vector.Option
	if s.producer != nil {
		opts = append(opts, vector.WithEventSink(mq.NewEventPublisher(s.producer, s.config.Kafka.EventsTopic)))
	}

	store, err := OpenStore(ctx, s.config, opts...)
	if err != nil {
		return err
	}
	s.store = store

	if err := s.store.EnsureCollection(ctx); err != nil {
		return errors.Wrap(err, "failed to provision collection")
	}
	return nil
}

// OpenStore connects to the backend described by conf.Vector. When the
// Redis client has been initialized, record lookups go through the cache.
// The collection is not provisioned.
func OpenStore(ctx context.Context, conf Config, opts ...vector.Option) (*vector.Store, error) {
	cfg := conf.Vector
	cfg.ApplyDefaults()

	opener, err := vector.Lookup(cfg.Provider)
	if err != nil {
		return nil, err
	}
	if client := redis.Client(); client != nil {
		opener = cachedOpener(opener, client, conf.Redis.TTL())
	}

	sess, err := vector.Connect(ctx, cfg, opener)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect vector store")
	}
	return vector.NewStore(sess, opts...), nil
}

// initConsumer initializes the write-command consumer
func (s *Server) initConsumer() error {
	s.logger.Info("initializing consumer")

	c, err := consumer.NewConsumer(s.store, consumer.Config{
		Kafka: s.config.Kafka,
	})
	if err != nil {
		return errors.WithMessage(err, "failed to create consumer")
	}

	s.consumer = c
	return nil
}

// Store returns the vector store served by s
func (s *Server) Store() *vector.Store {
	return s.store
}

// Start starts the server based on configuration mode and blocks until a
// shutdown signal arrives or a component fails
func (s *Server) Start() error {
	s.logger.Info("starting", "mode", s.config.Server.Mode, "port", s.config.Server.Port)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return s.Run(ctx)
}

// Run runs every configured component until ctx is done
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	// Start consumer
	if s.consumer != nil {
		g.Go(func() error {
			return s.runConsumer(ctx)
		})
	}

	if s.config.Metrics.Enabled {
		g.Go(func() error {
			return s.runMetricsServer(ctx)
		})
	}

	switch s.config.Server.Mode {
	case "http":
		g.Go(func() error {
			return s.runHTTPServer(ctx)
		})
	case "mcp":
		g.Go(func() error {
			return s.runMCPServer(ctx)
		})
	case "both":
		g.Go(func() error {
			return s.runHTTPServer(ctx)
		})
		g.Go(func() error {
			return s.runMCPServer(ctx)
		})
	default:
		return errors.Errorf("unknown mode: %s", s.config.Server.Mode)
	}

	return g.Wait()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown() {
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger.Info("shutting down")

	// Stop consumer
	if s.consumer != nil {
		if err := s.consumer.Stop(); err != nil {
			s.logger.Error("failed to stop consumer", "error", err)
		}
	}

	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Error("failed to close vector store", "error", err)
		}
	}

	if s.producer != nil {
		if err := s.producer.Close(); err != nil {
			s.logger.Error("failed to close kafka producer", "error", err)
		}
	}

	if err := redis.Close(); err != nil {
		s.logger.Error("failed to close redis", "error", err)
	}
}

func (s *Server) runHTTPServer(ctx context.Context) error {
	serverCfg := http.DefaultServerConfig()
	serverCfg.Port = s.config.Server.Port

	srv := http.NewServer(s.store, serverCfg)

	// Shutdown when context is cancelled
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.Start(); err != nil && ctx.Err() == nil {
		return errors.WithMessage(err, "http server error")
	}
	return nil
}

func (s *Server) runMCPServer(ctx context.Context) error {
	server := mcp.NewServer(s.store, mcp.ServerConfig{
		Name:    "vecstore",
		Version: "0.1.0",
	})

	if err := server.RunStdio(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return errors.WithMessage(err, "mcp server error")
	}
	return nil
}

func (s *Server) runMetricsServer(ctx context.Context) error {
	mux := stdhttp.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &stdhttp.Server{
		Addr:              s.config.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("serving metrics", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
		return errors.WithMessage(err, "metrics server error")
	}
	return nil
}

func (s *Server) runConsumer(ctx context.Context) error {
	if err := s.consumer.Start(ctx); err != nil {
		return errors.WithMessage(err, "consumer start error")
	}

	// Wait for context cancellation; Shutdown stops the consumers
	<-ctx.Done()
	return nil
}

// cachedOpener puts the Redis record cache in front of every backend
// built by opener
func cachedOpener(opener vector.Opener, client *goredis.Client, ttl time.Duration) vector.Opener {
	return func(cfg vector.Config, conn vector.ConnectionConfig) (vector.Backend, error) {
		backend, err := opener(cfg, conn)
		if err != nil {
			return nil, err
		}
		return cache.Wrap(backend, client, ttl), nil
	}
}
