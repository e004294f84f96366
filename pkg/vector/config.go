package vector

import (
	"encoding/base64"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
)

const (
	DefaultProvider       = "opensearch"
	DefaultCollectionName = "mem0"
	DefaultDims           = 1536
	DefaultHost           = "localhost"
	DefaultPort           = 9200
	DefaultTimeout        = 10 * time.Second
	DefaultMaxRetries     = 3
	DefaultRetryBackoff   = 200 * time.Millisecond
)

// DefaultScopeKeys are the payload fields reserved for scoping.
var DefaultScopeKeys = []string{"user_id", "agent_id", "run_id"}

// defaultPorts 各 provider 的默认端口
var defaultPorts = map[string]int{
	"opensearch": DefaultPort,
	"qdrant":     6334,
}

// Config is the flat, loader-facing configuration of a vector store.
// It is turned into a validated ConnectionConfig by Connection().
type Config struct {
	Provider           string `toml:"provider" mapstructure:"provider"`
	CollectionName     string `toml:"collection_name" mapstructure:"collection_name"`
	EmbeddingModelDims int    `toml:"embedding_model_dims" mapstructure:"embedding_model_dims"`
	Metric             string `toml:"metric" mapstructure:"metric"`

	Host    string `toml:"host" mapstructure:"host"`
	Port    int    `toml:"port" mapstructure:"port"`
	CloudID string `toml:"cloud_id" mapstructure:"cloud_id"`
	UseSSL  bool   `toml:"use_ssl" mapstructure:"use_ssl"`

	APIKey   string `toml:"api_key" mapstructure:"api_key"`
	User     string `toml:"user" mapstructure:"user"`
	Password string `toml:"password" mapstructure:"password"`

	VerifyCerts     *bool `toml:"verify_certs" mapstructure:"verify_certs"`
	AutoCreateIndex *bool `toml:"auto_create_index" mapstructure:"auto_create_index"`

	Timeout           string   `toml:"timeout" mapstructure:"timeout"`             // 单次调用超时，如 "10s"
	MaxRetries        int      `toml:"max_retries" mapstructure:"max_retries"`     // 握手最大尝试次数
	RetryBackoff      string   `toml:"retry_backoff" mapstructure:"retry_backoff"` // 初始退避间隔
	RequestsPerSecond float64  `toml:"requests_per_second" mapstructure:"requests_per_second"`
	ScopeKeys         []string `toml:"scope_keys" mapstructure:"scope_keys"`
}

// ParseConfig decodes a loosely typed option map (as handed over by a
// memory manager's config loader) into a Config with defaults applied.
func ParseConfig(m map[string]any) (Config, error) {
	var cfg Config
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           &cfg,
	})
	if err != nil {
		return cfg, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if err := decoder.Decode(m); err != nil {
		return cfg, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ApplyDefaults fills unset fields. Addressing defaults are resolved in
// Connection() since they depend on whether cloud_id is set.
func (c *Config) ApplyDefaults() {
	if c.Provider == "" {
		c.Provider = DefaultProvider
	}
	c.Provider = strings.ToLower(c.Provider)
	if c.CollectionName == "" {
		c.CollectionName = DefaultCollectionName
	}
	if c.EmbeddingModelDims == 0 {
		c.EmbeddingModelDims = DefaultDims
	}
	if c.Metric == "" {
		c.Metric = string(MetricCosine)
	}
	if c.Timeout == "" {
		c.Timeout = DefaultTimeout.String()
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.RetryBackoff == "" {
		c.RetryBackoff = DefaultRetryBackoff.String()
	}
	if len(c.ScopeKeys) == 0 {
		c.ScopeKeys = append([]string(nil), DefaultScopeKeys...)
	}
}

// Validate checks the configuration without touching the network.
func (c *Config) Validate() error {
	if c.CollectionName == "" {
		return fmt.Errorf("%w: collection_name is required", ErrConfig)
	}
	if c.EmbeddingModelDims <= 0 {
		return fmt.Errorf("%w: embedding_model_dims must be positive", ErrConfig)
	}
	if _, err := ParseMetric(c.Metric); err != nil {
		return err
	}
	if _, err := parseDuration("timeout", c.Timeout); err != nil {
		return err
	}
	if _, err := parseDuration("retry_backoff", c.RetryBackoff); err != nil {
		return err
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("%w: max_retries must not be negative", ErrConfig)
	}
	if c.RequestsPerSecond < 0 {
		return fmt.Errorf("%w: requests_per_second must not be negative", ErrConfig)
	}
	for _, k := range c.ScopeKeys {
		if strings.TrimSpace(k) == "" {
			return fmt.Errorf("%w: scope_keys must not contain empty names", ErrConfig)
		}
	}
	_, err := c.Connection()
	return err
}

// Collection returns the collection definition described by c.
func (c *Config) Collection() Collection {
	m, _ := ParseMetric(c.Metric)
	return Collection{Name: c.CollectionName, Dims: c.EmbeddingModelDims, Metric: m}
}

// TimeoutDuration returns the per-call timeout. Zero or invalid values
// fall back to DefaultTimeout.
func (c *Config) TimeoutDuration() time.Duration {
	d, err := parseDuration("timeout", c.Timeout)
	if err != nil || d <= 0 {
		return DefaultTimeout
	}
	return d
}

// RetryBackoffDuration returns the initial handshake backoff.
func (c *Config) RetryBackoffDuration() time.Duration {
	d, err := parseDuration("retry_backoff", c.RetryBackoff)
	if err != nil || d <= 0 {
		return DefaultRetryBackoff
	}
	return d
}

// AutoCreate reports whether missing collections may be created.
func (c *Config) AutoCreate() bool {
	return c.AutoCreateIndex == nil || *c.AutoCreateIndex
}

// parseDuration 支持 "10s" 这类写法，也支持纯数字（按秒）
func parseDuration(field, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid %s %q", ErrConfig, field, s)
	}
	return d, nil
}

// Addressing is either LocalAddress or CloudAddress.
type Addressing interface {
	addressing()
	// Endpoint returns the base URL of the engine.
	Endpoint() string
}

// LocalAddress addresses a self-hosted node.
type LocalAddress struct {
	Host   string
	Port   int
	UseSSL bool
}

func (LocalAddress) addressing() {}

func (a LocalAddress) Endpoint() string {
	scheme := "http"
	if a.UseSSL {
		scheme = "https"
	}
	return scheme + "://" + net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// CloudAddress addresses a managed deployment by its cloud id.
// The decoded endpoint is cached at construction.
type CloudAddress struct {
	CloudID  string
	endpoint string
}

func (CloudAddress) addressing() {}

func (a CloudAddress) Endpoint() string { return a.endpoint }

// NewCloudAddress decodes an Elastic-style cloud id:
// "<name>:<base64(host$es_uuid$kibana_uuid)>".
func NewCloudAddress(cloudID string) (CloudAddress, error) {
	endpoint, err := decodeCloudID(cloudID)
	if err != nil {
		return CloudAddress{}, err
	}
	return CloudAddress{CloudID: cloudID, endpoint: endpoint}, nil
}

func decodeCloudID(cloudID string) (string, error) {
	idx := strings.LastIndex(cloudID, ":")
	if idx < 0 {
		return "", fmt.Errorf("%w: malformed cloud_id: missing name separator", ErrConfig)
	}
	encoded := cloudID[idx+1:]
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		raw, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(encoded, "="))
		if err != nil {
			return "", fmt.Errorf("%w: malformed cloud_id: %v", ErrConfig, err)
		}
	}
	parts := strings.Split(string(raw), "$")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", fmt.Errorf("%w: malformed cloud_id: expected host$uuid", ErrConfig)
	}
	host, port := parts[0], ""
	if h, p, err := net.SplitHostPort(parts[0]); err == nil {
		host, port = h, p
	}
	endpoint := "https://" + parts[1] + "." + host
	if port != "" && port != "443" {
		endpoint += ":" + port
	}
	return endpoint, nil
}

// Auth is one of APIKeyAuth, BasicAuth or NoAuth.
type Auth interface {
	auth()
}

type APIKeyAuth struct {
	Key string
}

type BasicAuth struct {
	User     string
	Password string
}

type NoAuth struct{}

func (APIKeyAuth) auth() {}
func (BasicAuth) auth()  {}
func (NoAuth) auth()     {}

// ConnectionConfig is the validated form of the addressing and auth
// options. Exactly one addressing mode and at most one auth mode is set.
type ConnectionConfig struct {
	Addressing  Addressing
	Auth        Auth
	VerifyCerts bool
}

// Connection resolves the tagged addressing/auth variants, rejecting
// conflicting combinations.
func (c *Config) Connection() (ConnectionConfig, error) {
	var conn ConnectionConfig

	hostSet := c.Host != "" || c.Port != 0
	switch {
	case c.CloudID != "" && hostSet:
		return conn, fmt.Errorf("%w: cloud_id and host/port are mutually exclusive", ErrConfig)
	case c.CloudID != "":
		addr, err := NewCloudAddress(c.CloudID)
		if err != nil {
			return conn, err
		}
		conn.Addressing = addr
	default:
		host, port := c.Host, c.Port
		if host == "" {
			host = DefaultHost
		}
		if port == 0 {
			port = defaultPorts[c.Provider]
			if port == 0 {
				port = DefaultPort
			}
		}
		if port < 0 || port > 65535 {
			return conn, fmt.Errorf("%w: port %d out of range", ErrConfig, port)
		}
		conn.Addressing = LocalAddress{Host: host, Port: port, UseSSL: c.UseSSL}
	}

	switch {
	case c.APIKey != "" && (c.User != "" || c.Password != ""):
		return conn, fmt.Errorf("%w: api_key and user/password are mutually exclusive", ErrConfig)
	case c.APIKey != "":
		conn.Auth = APIKeyAuth{Key: c.APIKey}
	case c.User != "" && c.Password != "":
		conn.Auth = BasicAuth{User: c.User, Password: c.Password}
	case c.User != "" || c.Password != "":
		return conn, fmt.Errorf("%w: user and password must be set together", ErrConfig)
	default:
		conn.Auth = NoAuth{}
	}

	conn.VerifyCerts = c.VerifyCerts == nil || *c.VerifyCerts
	return conn, nil
}
