package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		var cfg Config
		cfg.ApplyDefaults()
		require.NoError(t, cfg.Validate())
		assert.Equal(t, defaultPattern, cfg.Pattern)
		assert.Equal(t, "info", cfg.Level)
	})

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"BadRotation", func(c *Config) { c.RotationTime = "daily" }},
		{"BadMaxAge", func(c *Config) { c.MaxAge = "1 week" }},
		{"PatternWithDir", func(c *Config) { c.Pattern = "logs/x.log" }},
		{"BadLevel", func(c *Config) { c.Level = "trace" }},
		{"BadFormat", func(c *Config) { c.Format = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cfg Config
			cfg.ApplyDefaults()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestNewHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(&buf, Config{Level: "warn", Format: "json"}))

	logger.Info("dropped")
	logger.Warn("kept", "module", "vector")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "kept", entry["msg"])
	assert.Equal(t, "vector", entry["module"])
	assert.Regexp(t, `^\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}\.\d{6}$`, entry["time"])
}

func TestInitWritesFile(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	dir := t.TempDir()
	require.NoError(t, Init(Config{Path: dir, Pattern: "test.log", Format: "json"}))

	Logger("server").Info("hello")

	data, err := os.ReadFile(filepath.Join(dir, "test.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"module":"server"`)
}
