package vector

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfig(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		cfg, err := ParseConfig(map[string]any{})
		require.NoError(t, err)

		assert.Equal(t, DefaultProvider, cfg.Provider)
		assert.Equal(t, DefaultCollectionName, cfg.CollectionName)
		assert.Equal(t, DefaultDims, cfg.EmbeddingModelDims)
		assert.Equal(t, DefaultTimeout, cfg.TimeoutDuration())
		assert.Equal(t, DefaultRetryBackoff, cfg.RetryBackoffDuration())
		assert.Equal(t, DefaultScopeKeys, cfg.ScopeKeys)
		assert.True(t, cfg.AutoCreate())

		conn, err := cfg.Connection()
		require.NoError(t, err)
		assert.Equal(t, LocalAddress{Host: DefaultHost, Port: DefaultPort}, conn.Addressing)
		assert.Equal(t, NoAuth{}, conn.Auth)
		assert.True(t, conn.VerifyCerts)
	})

	t.Run("LooseTypes", func(t *testing.T) {
		cfg, err := ParseConfig(map[string]any{
			"provider":             "Qdrant",
			"embedding_model_dims": "768",
			"port":                 "6333",
			"verify_certs":         "false",
			"timeout":              2.5,
		})
		require.NoError(t, err)
		assert.Equal(t, "qdrant", cfg.Provider)
		assert.Equal(t, 768, cfg.EmbeddingModelDims)
		assert.Equal(t, 6333, cfg.Port)
		assert.Equal(t, 2500*time.Millisecond, cfg.TimeoutDuration())

		conn, err := cfg.Connection()
		require.NoError(t, err)
		assert.False(t, conn.VerifyCerts)
	})

	t.Run("QdrantDefaultPort", func(t *testing.T) {
		cfg, err := ParseConfig(map[string]any{"provider": "qdrant"})
		require.NoError(t, err)
		conn, err := cfg.Connection()
		require.NoError(t, err)
		assert.Equal(t, 6334, conn.Addressing.(LocalAddress).Port)
	})

	t.Run("UnknownKey", func(t *testing.T) {
		_, err := ParseConfig(map[string]any{"hosts": "x"})
		assert.ErrorIs(t, err, ErrConfig)
	})

	invalid := []struct {
		name string
		opts map[string]any
	}{
		{"CloudIDWithHost", map[string]any{"cloud_id": cloudID("es.example.com$abc$kb"), "host": "localhost"}},
		{"APIKeyWithBasic", map[string]any{"api_key": "k", "user": "u", "password": "p"}},
		{"UserWithoutPassword", map[string]any{"user": "u"}},
		{"PasswordWithoutUser", map[string]any{"password": "p"}},
		{"NegativeDims", map[string]any{"embedding_model_dims": -1}},
		{"UnknownMetric", map[string]any{"metric": "hamming"}},
		{"BadTimeout", map[string]any{"timeout": "soon"}},
		{"PortOutOfRange", map[string]any{"port": 70000}},
		{"MalformedCloudID", map[string]any{"cloud_id": "no-separator"}},
		{"EmptyScopeKey", map[string]any{"scope_keys": []string{"user_id", " "}}},
	}
	for _, tt := range invalid {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseConfig(tt.opts)
			assert.ErrorIs(t, err, ErrConfig)
		})
	}
}

func cloudID(payload string) string {
	return "deployment:" + base64.StdEncoding.EncodeToString([]byte(payload))
}

func TestCloudAddress(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    string
	}{
		{"Plain", "us-east-1.aws.found.io$abc123$kb456", "https://abc123.us-east-1.aws.found.io"},
		{"CustomPort", "us-east-1.aws.found.io:9243$abc123$kb456", "https://abc123.us-east-1.aws.found.io:9243"},
		{"DefaultTLSPort", "us-east-1.aws.found.io:443$abc123", "https://abc123.us-east-1.aws.found.io"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr, err := NewCloudAddress(cloudID(tt.payload))
			require.NoError(t, err)
			assert.Equal(t, tt.want, addr.Endpoint())
		})
	}

	t.Run("MissingUUID", func(t *testing.T) {
		_, err := NewCloudAddress(cloudID("host-only"))
		assert.ErrorIs(t, err, ErrConfig)
	})

	t.Run("UsedByConnection", func(t *testing.T) {
		cfg := Config{CloudID: cloudID("es.example.com$abc$kb"), APIKey: "secret"}
		cfg.ApplyDefaults()
		conn, err := cfg.Connection()
		require.NoError(t, err)
		assert.Equal(t, "https://abc.es.example.com", conn.Addressing.Endpoint())
		assert.Equal(t, APIKeyAuth{Key: "secret"}, conn.Auth)
	})
}

func TestLocalAddressEndpoint(t *testing.T) {
	assert.Equal(t, "http://localhost:9200", LocalAddress{Host: "localhost", Port: 9200}.Endpoint())
	assert.Equal(t, "https://[::1]:9200", LocalAddress{Host: "::1", Port: 9200, UseSSL: true}.Endpoint())
}

func TestParseMetric(t *testing.T) {
	for in, want := range map[string]Metric{
		"":             MetricCosine,
		"COSINE":       MetricCosine,
		"euclidean":    MetricL2,
		"innerproduct": MetricDot,
	} {
		got, err := ParseMetric(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}
