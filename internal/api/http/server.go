package http

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/middlewares/server/recovery"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"github.com/Zereker/vecstore/pkg/log"
	"github.com/Zereker/vecstore/pkg/vector"
)

// Server represents an HTTP server
type Server struct {
	logger  *slog.Logger
	hertz   *server.Hertz
	handler *Handler
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	ExitWaitTime time.Duration
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:         "0.0.0.0",
		Port:         8080,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		ExitWaitTime: 5 * time.Second,
	}
}

// NewServer creates a new HTTP server
func NewServer(store *vector.Store, config ServerConfig) *Server {
	logger := log.Logger("http")
	handler := NewHandler(store)

	h := server.New(
		server.WithHostPorts(fmt.Sprintf("%s:%d", config.Host, config.Port)),
		server.WithReadTimeout(config.ReadTimeout),
		server.WithWriteTimeout(config.WriteTimeout),
		server.WithExitWaitTime(config.ExitWaitTime),
	)

	h.Use(recovery.Recovery(), corsMiddleware(), loggingMiddleware(logger))
	handler.RegisterRoutes(h)

	return &Server{
		logger:  logger,
		hertz:   h,
		handler: handler,
	}
}

// Start starts the HTTP server and blocks until it stops
func (s *Server) Start() error {
	s.logger.Info("starting server")
	return s.hertz.Run()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")
	return s.hertz.Shutdown(ctx)
}

// Middleware functions

func loggingMiddleware(logger *slog.Logger) app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		start := time.Now()

		c.Next(ctx)

		logger.Info("request",
			"method", string(c.Method()),
			"path", string(c.Path()),
			"status", c.Response.StatusCode(),
			"duration", time.Since(start).Milliseconds(),
			"remote", c.ClientIP(),
		)
	}
}

func corsMiddleware() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if string(c.Method()) == consts.MethodOptions {
			c.AbortWithStatus(consts.StatusNoContent)
			return
		}

		c.Next(ctx)
	}
}
