package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/vertextoedge/http-ytproxy/internal/domain"
	"github.com/vertextoedge/http-ytproxy/internal/domain/vo"
)

// Built-in defaults
const (
	DefaultPort                = 8080
	DefaultChunkSize           = 10 * vo.MiB
	DefaultMinChunkSize        = 2621440
	DefaultMaxChunkSize        = 40 * vo.MiB
	DefaultCertValidityDays    = 365
	DefaultConnectionPoolSize  = 10
	DefaultRequestTimeout      = 30
	DefaultMaxConcurrentChunks = 2
	DefaultPrefetchAhead       = 20 * vo.MiB
	DefaultAdminBindAddr       = "127.0.0.1:12082"
	DefaultJournalRetention    = 7 * 24 * time.Hour

	// PassphraseEnv overrides the certificate key passphrase
	PassphraseEnv     = "YTPROXY_PASSPHRASE"
	defaultPassphrase = "third-wheel"
)

// Config represents the entire application configuration
type Config struct {
	Proxy       ProxyConfig       `mapstructure:"proxy"`
	Security    SecurityConfig    `mapstructure:"security"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Performance PerformanceConfig `mapstructure:"performance"`
	Parallel    ParallelConfig    `mapstructure:"parallel"`
	Websites    WebsitesConfig    `mapstructure:"websites"`
	Journal     JournalConfig     `mapstructure:"journal"`
	Admin       AdminConfig       `mapstructure:"admin"`
}

// ProxyConfig contains the listener and chunking settings
type ProxyConfig struct {
	Port              int         `mapstructure:"port"`
	ChunkSize         vo.ByteSize `mapstructure:"chunk_size"`
	CertFile          string      `mapstructure:"cert_file"`
	KeyFile           string      `mapstructure:"key_file"`
	AdaptiveChunking  bool        `mapstructure:"adaptive_chunking"` // stored only
	MinChunkSize      vo.ByteSize `mapstructure:"min_chunk_size"`
	MaxChunkSize      vo.ByteSize `mapstructure:"max_chunk_size"`
	MemoryPoolEnabled bool        `mapstructure:"memory_pool_enabled"`
}

// SecurityConfig is consumed by the certificate layer
type SecurityConfig struct {
	Passphrase       string `mapstructure:"passphrase"`
	CertValidityDays int    `mapstructure:"cert_validity_days"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level     string `mapstructure:"level"`
	Format    string `mapstructure:"format"`
	File      string `mapstructure:"log_file"`
	LogTiming bool   `mapstructure:"log_timing"`
}

// PerformanceConfig contains upstream transport settings
type PerformanceConfig struct {
	HTTP2              bool `mapstructure:"http2"`
	ConnectionPoolSize int  `mapstructure:"connection_pool_size"`
	RequestTimeout     int  `mapstructure:"request_timeout"` // seconds
}

// ParallelConfig contains prefetch settings
type ParallelConfig struct {
	ParallelDownloads   bool        `mapstructure:"parallel_downloads"`
	MaxConcurrentChunks int         `mapstructure:"max_concurrent_chunks"`
	PrefetchAhead       vo.ByteSize `mapstructure:"prefetch_ahead"`
}

// WebsitesConfig selects which sites are intercepted
type WebsitesConfig struct {
	YouTube             bool     `mapstructure:"youtube"`
	YouTubeAlternatives bool     `mapstructure:"youtube_alternatives"`
	Vimeo               bool     `mapstructure:"vimeo"`
	Dailymotion         bool     `mapstructure:"dailymotion"`
	Twitch              bool     `mapstructure:"twitch"`
	CustomDomains       []string `mapstructure:"custom_domains"`
}

// JournalConfig contains the fetch journal settings
type JournalConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Path      string        `mapstructure:"path"`
	Retention time.Duration `mapstructure:"retention"`
}

// AdminConfig contains the admin HTTP server settings
type AdminConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BindAddr string `mapstructure:"bind_addr"`

	// RequireAuth protects the debug endpoints with basic auth; the
	// password is the security passphrase
	RequireAuth bool `mapstructure:"require_auth"`
}

// Overrides holds command-line values that replace file settings.
// Zero values leave the loaded setting untouched.
type Overrides struct {
	Port       int
	CertFile   string
	KeyFile    string
	ChunkSize  string
	Passphrase string
}

var sizeKeys = []string{
	"proxy.chunk_size",
	"proxy.min_chunk_size",
	"proxy.max_chunk_size",
	"parallel.prefetch_ahead",
}

// keys accepted under [proxy] by older configuration files
var legacyParallelKeys = []string{
	"parallel_downloads",
	"max_concurrent_chunks",
	"prefetch_ahead",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("proxy.port", DefaultPort)
	v.SetDefault("proxy.chunk_size", uint64(DefaultChunkSize))
	v.SetDefault("proxy.cert_file", "cert.pem")
	v.SetDefault("proxy.key_file", "key.pem")
	v.SetDefault("proxy.adaptive_chunking", false)
	v.SetDefault("proxy.min_chunk_size", uint64(DefaultMinChunkSize))
	v.SetDefault("proxy.max_chunk_size", uint64(DefaultMaxChunkSize))
	v.SetDefault("proxy.memory_pool_enabled", true)
	v.SetDefault("security.passphrase", "")
	v.SetDefault("security.cert_validity_days", DefaultCertValidityDays)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.log_file", "")
	v.SetDefault("logging.log_timing", false)
	v.SetDefault("performance.http2", true)
	v.SetDefault("performance.connection_pool_size", DefaultConnectionPoolSize)
	v.SetDefault("performance.request_timeout", DefaultRequestTimeout)
	v.SetDefault("parallel.parallel_downloads", false)
	v.SetDefault("parallel.max_concurrent_chunks", DefaultMaxConcurrentChunks)
	v.SetDefault("parallel.prefetch_ahead", uint64(DefaultPrefetchAhead))
	v.SetDefault("websites.youtube", true)
	v.SetDefault("websites.youtube_alternatives", true)
	v.SetDefault("websites.vimeo", false)
	v.SetDefault("websites.dailymotion", false)
	v.SetDefault("websites.twitch", false)
	v.SetDefault("websites.custom_domains", []string{})
	v.SetDefault("journal.enabled", false)
	v.SetDefault("journal.path", "ytproxy-journal.db")
	v.SetDefault("journal.retention", DefaultJournalRetention.String())
	v.SetDefault("admin.enabled", false)
	v.SetDefault("admin.bind_addr", DefaultAdminBindAddr)
	v.SetDefault("admin.require_auth", false)
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Proxy: ProxyConfig{
			Port:              DefaultPort,
			ChunkSize:         vo.ByteSizeOf(DefaultChunkSize),
			CertFile:          "cert.pem",
			KeyFile:           "key.pem",
			MinChunkSize:      vo.ByteSizeOf(DefaultMinChunkSize),
			MaxChunkSize:      vo.ByteSizeOf(DefaultMaxChunkSize),
			MemoryPoolEnabled: true,
		},
		Security: SecurityConfig{CertValidityDays: DefaultCertValidityDays},
		Logging:  LoggingConfig{Level: "info", Format: "console"},
		Performance: PerformanceConfig{
			HTTP2:              true,
			ConnectionPoolSize: DefaultConnectionPoolSize,
			RequestTimeout:     DefaultRequestTimeout,
		},
		Parallel: ParallelConfig{
			MaxConcurrentChunks: DefaultMaxConcurrentChunks,
			PrefetchAhead:       vo.ByteSizeOf(DefaultPrefetchAhead),
		},
		Websites: WebsitesConfig{YouTube: true, YouTubeAlternatives: true, CustomDomains: []string{}},
		Journal:  JournalConfig{Path: "ytproxy-journal.db", Retention: DefaultJournalRetention},
		Admin:    AdminConfig{BindAddr: DefaultAdminBindAddr},
	}
}

// Load loads configuration from the specified TOML file path
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("toml")
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, domain.NewConfigError("", domain.ErrNotFound, "file %s", configPath)
		}
		return nil, domain.NewConfigError("", domain.ErrInvalidConfig, "failed to read %s: %v", configPath, err)
	}

	applyLegacyKeys(v)

	// sizes are checked per key first so errors name the offending setting
	for _, key := range sizeKeys {
		if _, err := decodeByteSize(v.Get(key)); err != nil {
			return nil, keyed(key, err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, viper.DecodeHook(decodeHook())); err != nil {
		return nil, domain.NewConfigError("", domain.ErrInvalidConfig, "failed to unmarshal config: %v", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// LoadOrDefault loads configPath. When the path was not given explicitly and
// no file exists there, the built-in defaults are returned.
func LoadOrDefault(configPath string, explicit bool) (*Config, error) {
	if !explicit {
		if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
	}
	return Load(configPath)
}

func applyLegacyKeys(v *viper.Viper) {
	for _, key := range legacyParallelKeys {
		if !v.InConfig("parallel."+key) && v.InConfig("proxy."+key) {
			v.Set("parallel."+key, v.Get("proxy."+key))
		}
	}
}

func decodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeHook,
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

var byteSizeType = reflect.TypeOf(vo.ByteSize{})

func byteSizeHook(_ reflect.Type, t reflect.Type, data interface{}) (interface{}, error) {
	if t != byteSizeType {
		return data, nil
	}
	return decodeByteSize(data)
}

// decodeByteSize accepts an integer byte count or a size string
func decodeByteSize(data interface{}) (vo.ByteSize, error) {
	switch d := data.(type) {
	case vo.ByteSize:
		return d, nil
	case string:
		return vo.ParseByteSize(d)
	case int:
		return vo.NewByteSize(int64(d))
	case int32:
		return vo.NewByteSize(int64(d))
	case int64:
		return vo.NewByteSize(d)
	case uint:
		return vo.ByteSizeOf(uint64(d)), nil
	case uint32:
		return vo.ByteSizeOf(uint64(d)), nil
	case uint64:
		return vo.ByteSizeOf(d), nil
	case float64:
		if d < 0 || d != math.Trunc(d) || d >= math.MaxUint64 {
			return vo.ByteSize{}, domain.NewConfigError("", domain.ErrInvalidSize, "size %v: not a whole byte count", d)
		}
		return vo.ByteSizeOf(uint64(d)), nil
	case nil:
		return vo.ByteSize{}, domain.NewConfigError("", domain.ErrMissingKey, "")
	default:
		return vo.ByteSize{}, domain.NewConfigError("", domain.ErrInvalidSize, "unsupported value %T", data)
	}
}

// keyed attaches key to a size parsing error
func keyed(key string, err error) error {
	var ce *domain.ConfigError
	if errors.As(err, &ce) {
		return &domain.ConfigError{Key: key, Err: ce.Err}
	}
	return domain.NewConfigError(key, err, "")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Proxy.Port <= 0 || c.Proxy.Port > 65535 {
		return domain.NewConfigError("proxy.port", domain.ErrInvalidConfig, "must be between 1 and 65535, got %d", c.Proxy.Port)
	}
	if c.Proxy.ChunkSize.IsZero() {
		return domain.NewConfigError("proxy.chunk_size", domain.ErrInvalidSize, "must be greater than zero")
	}
	if c.Proxy.AdaptiveChunking {
		if c.Proxy.MinChunkSize.GreaterThan(c.Proxy.MaxChunkSize) {
			return domain.NewConfigError("proxy.min_chunk_size", domain.ErrInvalidSize,
				"%s exceeds max_chunk_size %s", c.Proxy.MinChunkSize, c.Proxy.MaxChunkSize)
		}
		if c.Proxy.ChunkSize.LessThan(c.Proxy.MinChunkSize) || c.Proxy.ChunkSize.GreaterThan(c.Proxy.MaxChunkSize) {
			return domain.NewConfigError("proxy.chunk_size", domain.ErrInvalidSize,
				"%s outside [%s, %s]", c.Proxy.ChunkSize, c.Proxy.MinChunkSize, c.Proxy.MaxChunkSize)
		}
	}

	if c.Security.CertValidityDays < 0 {
		return domain.NewConfigError("security.cert_validity_days", domain.ErrInvalidConfig, "must not be negative")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		// Valid levels
	default:
		return domain.NewConfigError("logging.level", domain.ErrInvalidConfig, "invalid level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "console", "json":
		// Valid formats
	default:
		return domain.NewConfigError("logging.format", domain.ErrInvalidConfig, "invalid format %q", c.Logging.Format)
	}

	if c.Performance.ConnectionPoolSize < 1 {
		return domain.NewConfigError("performance.connection_pool_size", domain.ErrInvalidConfig, "must be at least 1")
	}
	if c.Performance.RequestTimeout <= 0 {
		return domain.NewConfigError("performance.request_timeout", domain.ErrInvalidConfig, "must be positive")
	}

	if c.Parallel.MaxConcurrentChunks < 1 {
		return domain.NewConfigError("parallel.max_concurrent_chunks", domain.ErrInvalidConfig, "must be at least 1")
	}

	if c.Journal.Enabled && strings.TrimSpace(c.Journal.Path) == "" {
		return domain.NewConfigError("journal.path", domain.ErrMissingKey, "required when journal is enabled")
	}
	if c.Admin.Enabled && c.Admin.BindAddr == "" {
		return domain.NewConfigError("admin.bind_addr", domain.ErrMissingKey, "required when admin is enabled")
	}

	return nil
}

// ApplyOverrides replaces file settings with command-line values and
// validates the result.
func (c *Config) ApplyOverrides(o Overrides) error {
	if o.Port != 0 {
		c.Proxy.Port = o.Port
	}
	if o.CertFile != "" {
		c.Proxy.CertFile = o.CertFile
	}
	if o.KeyFile != "" {
		c.Proxy.KeyFile = o.KeyFile
	}
	if o.ChunkSize != "" {
		size, err := vo.ParseByteSize(o.ChunkSize)
		if err != nil {
			return keyed("proxy.chunk_size", err)
		}
		c.Proxy.ChunkSize = size
	}
	if o.Passphrase != "" {
		c.Security.Passphrase = o.Passphrase
	}
	return c.Validate()
}

// Passphrase returns the certificate key passphrase: the configured value,
// then the environment override, then the built-in fallback.
func (c *Config) Passphrase() string {
	if c.Security.Passphrase != "" {
		return c.Security.Passphrase
	}
	if env := os.Getenv(PassphraseEnv); env != "" {
		return env
	}
	return defaultPassphrase
}

// RequestTimeout returns the per-fetch timeout
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Performance.RequestTimeout) * time.Second
}

// WebsiteSet returns the enabled categories for the classifier
func (c *Config) WebsiteSet() domain.WebsiteSet {
	domains := make([]string, len(c.Websites.CustomDomains))
	copy(domains, c.Websites.CustomDomains)
	return domain.WebsiteSet{
		YouTube:             c.Websites.YouTube,
		YouTubeAlternatives: c.Websites.YouTubeAlternatives,
		Vimeo:               c.Websites.Vimeo,
		Dailymotion:         c.Websites.Dailymotion,
		Twitch:              c.Websites.Twitch,
		CustomDomains:       domains,
	}
}

// ProxyAddr returns the loopback listen address for the local shim
func (c *Config) ProxyAddr() string {
	return fmt.Sprintf("127.0.0.1:%d", c.Proxy.Port)
}
