// Package log configures the process-wide slog logger.
package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"github.com/pkg/errors"
)

const (
	defaultPattern      = "vecstore-%Y-%m-%d.log"
	defaultRotationTime = "24h"
	defaultMaxAge       = "168h"

	timeLayout = "2006-01-02 15:04:05.000000"
)

// Config 日志配置
type Config struct {
	Path         string `toml:"path"`          // 日志目录，为空时只写 stdout
	RotationTime string `toml:"rotation_time"` // 切分周期
	MaxAge       string `toml:"max_age"`       // 保留时长
	Pattern      string `toml:"pattern"`
	Level        string `toml:"level"`
	Format       string `toml:"format"` // text 或 json
	Stderr       bool   `toml:"stderr"` // 控制台输出写 stderr（MCP stdio 模式下 stdout 留给协议）
}

// ApplyDefaults 填充默认值
func (cfg *Config) ApplyDefaults() {
	if cfg.RotationTime == "" {
		cfg.RotationTime = defaultRotationTime
	}
	if cfg.MaxAge == "" {
		cfg.MaxAge = defaultMaxAge
	}
	if cfg.Pattern == "" {
		cfg.Pattern = defaultPattern
	}
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	if cfg.Format == "" {
		cfg.Format = "text"
	}
}

// Validate 验证配置
func (cfg *Config) Validate() error {
	if _, err := time.ParseDuration(cfg.RotationTime); err != nil {
		return errors.Wrap(err, "rotation_time is invalid")
	}

	if _, err := time.ParseDuration(cfg.MaxAge); err != nil {
		return errors.Wrap(err, "max_age is invalid")
	}

	if strings.ContainsAny(cfg.Pattern, `/\`) {
		return errors.Errorf("pattern must be a file name: %s", cfg.Pattern)
	}

	if !slices.Contains([]string{"debug", "info", "warn", "error"}, strings.ToLower(cfg.Level)) {
		return errors.Errorf("invalid level: %s", cfg.Level)
	}

	if !slices.Contains([]string{"text", "json"}, strings.ToLower(cfg.Format)) {
		return errors.Errorf("invalid format: %s", cfg.Format)
	}

	return nil
}

// Init 初始化日志系统，并设置为 slog 默认 logger
func Init(cfg Config) error {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}

	var console io.Writer = os.Stdout
	if cfg.Stderr {
		console = os.Stderr
	}

	out := console
	if strings.TrimSpace(cfg.Path) != "" {
		fileWriter, err := configureFileLogger(cfg)
		if err != nil {
			return errors.WithMessage(err, "failed to configure file logger")
		}
		out = io.MultiWriter(console, fileWriter)
	}

	slog.SetDefault(slog.New(NewHandler(out, cfg)))
	return nil
}

// NewHandler builds the text or JSON handler described by cfg.
func NewHandler(out io.Writer, cfg Config) slog.Handler {
	opts := &slog.HandlerOptions{
		Level: mapLevel(cfg.Level),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				if t, ok := a.Value.Any().(time.Time); ok {
					return slog.String(a.Key, t.Format(timeLayout))
				}
			}
			return a
		},
	}

	if strings.ToLower(cfg.Format) == "json" {
		return slog.NewJSONHandler(out, opts)
	}
	return slog.NewTextHandler(out, opts)
}

func configureFileLogger(cfg Config) (io.Writer, error) {
	rotationTime, err := time.ParseDuration(cfg.RotationTime)
	if err != nil {
		return nil, fmt.Errorf("failed to parse rotation_time: %w", err)
	}

	maxAge, err := time.ParseDuration(cfg.MaxAge)
	if err != nil {
		return nil, fmt.Errorf("failed to parse max_age: %w", err)
	}

	if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log dir: %w", err)
	}

	return rotatelogs.New(
		filepath.Join(cfg.Path, cfg.Pattern),
		rotatelogs.WithRotationTime(rotationTime),
		rotatelogs.WithMaxAge(maxAge),
	)
}

func mapLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Logger 返回带 module 字段的 logger
func Logger(module string) *slog.Logger {
	return slog.Default().With("module", module)
}
