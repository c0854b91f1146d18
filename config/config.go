// Package config provides loading of aggregator.yaml configuration files and
// the AGGREGATOR_* environment overrides applied on top of them.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/zero-day-ai/aggregator/class"
)

// Config represents an aggregator.yaml configuration file.
type Config struct {
	// Session resumes a scan session; empty starts a new one.
	Session string `yaml:"session,omitempty"`

	// ClassesFile points to a separate class file (see class.Load). Relative
	// paths are resolved against the directory of the configuration file.
	ClassesFile string `yaml:"classes_file,omitempty"`

	// Classes are inline finding-class definitions.
	Classes []class.Class `yaml:"classes,omitempty"`

	Logging *LoggingConfig `yaml:"logging,omitempty"`
	Redis   *RedisConfig   `yaml:"redis,omitempty"`
	Storage *StorageConfig `yaml:"storage,omitempty"`
	Worker  *WorkerConfig  `yaml:"worker,omitempty"`

	// dir is the directory the file was loaded from.
	dir string
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error. Default: info
	Level string `yaml:"level,omitempty"`

	// Format is json or text. Default: json
	Format string `yaml:"format,omitempty"`
}

// RedisConfig configures the Redis connection shared by the findings queue
// and the Redis storage backend.
type RedisConfig struct {
	// URL is the Redis connection string. Default: redis://localhost:6379
	URL string `yaml:"url,omitempty"`

	// Prefix is the key prefix of persisted groups. Default: aggregator
	Prefix string `yaml:"prefix,omitempty"`

	// TTL expires persisted sessions.
	// Format: Go duration string (e.g., "72h"). Default: no expiry
	TTL string `yaml:"ttl,omitempty"`
}

// StorageConfig selects where group snapshots are persisted.
type StorageConfig struct {
	// Backend is one of none, redis, sqlite, postgres. Default: none
	Backend string `yaml:"backend,omitempty"`

	// Path is the SQLite database file. Default: aggregator.db
	Path string `yaml:"path,omitempty"`

	// DSN is the PostgreSQL connection string.
	DSN string `yaml:"dsn,omitempty"`

	// Compression is none or zstd. Default: zstd
	Compression string `yaml:"compression,omitempty"`

	// FlushInterval is the time between periodic flushes.
	// Format: Go duration string (e.g., "30s"). Default: 30s
	FlushInterval string `yaml:"flush_interval,omitempty"`
}

// WorkerConfig defines configuration for the queue consumers.
type WorkerConfig struct {
	// Queue is the Redis list findings are popped from. Empty disables
	// queue consumption.
	Queue string `yaml:"queue,omitempty"`

	// Concurrency is the number of worker goroutines. Default: 4
	Concurrency int `yaml:"concurrency,omitempty"`

	// ShutdownTimeout is the time to wait for workers on shutdown.
	// Format: Go duration string (e.g., "30s", "1m"). Default: 30s
	ShutdownTimeout string `yaml:"shutdown_timeout,omitempty"`

	// PopTimeout bounds each blocking pop so workers notice shutdown.
	// Format: Go duration string. Default: 1s
	PopTimeout string `yaml:"pop_timeout,omitempty"`

	// MaxBacklog is the queue length above which the engine reports itself
	// degraded. Zero disables the check.
	MaxBacklog int64 `yaml:"max_backlog,omitempty"`
}

// Storage backends.
const (
	BackendNone     = "none"
	BackendRedis    = "redis"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// GetLevel returns the configured slog level or info.
func (l *LoggingConfig) GetLevel() slog.Level {
	if l == nil {
		return slog.LevelInfo
	}
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger builds a logger writing to w in the configured format.
func (l *LoggingConfig) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: l.GetLevel()}
	if l != nil && strings.EqualFold(l.Format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// GetURL returns the Redis URL or the default value.
func (r *RedisConfig) GetURL() string {
	if r == nil || r.URL == "" {
		return "redis://localhost:6379"
	}
	return r.URL
}

// GetPrefix returns the key prefix or the default value.
func (r *RedisConfig) GetPrefix() string {
	if r == nil || r.Prefix == "" {
		return "aggregator"
	}
	return r.Prefix
}

// GetTTL parses the TTL string. Returns zero if not set or invalid.
func (r *RedisConfig) GetTTL() time.Duration {
	if r == nil {
		return 0
	}
	return parseDuration(r.TTL, 0)
}

// GetBackend returns the storage backend or BackendNone.
func (s *StorageConfig) GetBackend() string {
	if s == nil || s.Backend == "" {
		return BackendNone
	}
	return strings.ToLower(s.Backend)
}

// GetPath returns the SQLite path or the default value.
func (s *StorageConfig) GetPath() string {
	if s == nil || s.Path == "" {
		return "aggregator.db"
	}
	return s.Path
}

// GetCompression returns the payload compression or the default value.
func (s *StorageConfig) GetCompression() string {
	if s == nil || s.Compression == "" {
		return "zstd"
	}
	return strings.ToLower(s.Compression)
}

// GetFlushInterval parses the flush interval. Returns the default value if
// not set or invalid.
func (s *StorageConfig) GetFlushInterval() time.Duration {
	if s == nil {
		return 30 * time.Second
	}
	return parseDuration(s.FlushInterval, 30*time.Second)
}

// GetConcurrency returns the configured concurrency or the default value.
func (w *WorkerConfig) GetConcurrency() int {
	if w == nil || w.Concurrency <= 0 {
		return 4
	}
	return w.Concurrency
}

// GetShutdownTimeout parses the shutdown timeout string and returns a duration.
// Returns the default value if not set or invalid.
func (w *WorkerConfig) GetShutdownTimeout() time.Duration {
	if w == nil {
		return 30 * time.Second
	}
	return parseDuration(w.ShutdownTimeout, 30*time.Second)
}

// GetPopTimeout parses the pop timeout. Returns the default value if not set
// or invalid.
func (w *WorkerConfig) GetPopTimeout() time.Duration {
	if w == nil {
		return time.Second
	}
	return parseDuration(w.PopTimeout, time.Second)
}

// GetMaxBacklog returns the degraded-backlog threshold, zero when unset.
func (w *WorkerConfig) GetMaxBacklog() int64 {
	if w == nil || w.MaxBacklog < 0 {
		return 0
	}
	return w.MaxBacklog
}

// GetQueue returns the queue name, empty when queue consumption is disabled.
func (w *WorkerConfig) GetQueue() string {
	if w == nil {
		return ""
	}
	return w.Queue
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return def
	}
	return d
}

// Validate checks values that have no sensible fallback.
func (c *Config) Validate() error {
	switch c.Storage.GetBackend() {
	case BackendNone, BackendRedis, BackendSQLite:
	case BackendPostgres:
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}

	switch c.Storage.GetCompression() {
	case "none", "zstd":
	default:
		return fmt.Errorf("unknown storage compression %q", c.Storage.Compression)
	}

	if c.Logging != nil && c.Logging.Format != "" {
		switch strings.ToLower(c.Logging.Format) {
		case "json", "text":
		default:
			return fmt.Errorf("unknown logging format %q", c.Logging.Format)
		}
	}
	return nil
}

// Registry builds the class registry from ClassesFile and the inline
// Classes. A class defined in both places is a duplicate and rejected.
func (c *Config) Registry() (*class.Registry, error) {
	classes := append([]class.Class(nil), c.Classes...)

	if c.ClassesFile != "" {
		path := c.ClassesFile
		if !filepath.IsAbs(path) && c.dir != "" {
			path = filepath.Join(c.dir, path)
		}
		fromFile, err := class.Load(path)
		if err != nil {
			return nil, err
		}
		for _, name := range fromFile.Names() {
			def, _ := fromFile.Lookup(name)
			classes = append(classes, def)
		}
	}

	return class.NewRegistry(classes...)
}

// Load reads and parses an aggregator.yaml file from the given path.
// If the path is a directory, it looks for aggregator.yaml or aggregator.yml in that directory.
func Load(path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat path: %w", err)
	}

	configPath := path
	if info.IsDir() {
		configPath = ""
		for _, name := range []string{"aggregator.yaml", "aggregator.yml"} {
			candidate := filepath.Join(path, name)
			if _, err := os.Stat(candidate); err == nil {
				configPath = candidate
				break
			}
		}
		if configPath == "" {
			return nil, fmt.Errorf("no aggregator.yaml or aggregator.yml found in %s", path)
		}
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config, err := Parse(data)
	if err != nil {
		return nil, err
	}
	config.dir = filepath.Dir(configPath)
	return config, nil
}

// Parse parses YAML configuration data.
func Parse(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return &config, nil
}

// LoadFromDir searches for aggregator.yaml starting from the given directory
// and walking up to parent directories until found or root is reached.
func LoadFromDir(dir string) (*Config, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	for {
		config, err := Load(absDir)
		if err == nil {
			return config, nil
		}

		parent := filepath.Dir(absDir)
		if parent == absDir {
			return nil, fmt.Errorf("no aggregator.yaml found in %s or parent directories", dir)
		}
		absDir = parent
	}
}

// LoadEnvFiles loads .env style files into the process environment without
// overriding variables that are already set. Missing files are skipped; with
// no arguments ".env" in the working directory is tried.
func LoadEnvFiles(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, file := range files {
		if err := godotenv.Load(file); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load env file %s: %w", file, err)
		}
	}
	return nil
}

// ApplyEnv overrides configuration values with AGGREGATOR_* environment
// variables. Invalid numeric values are reported instead of ignored.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv("AGGREGATOR_SESSION"); v != "" {
		c.Session = v
	}
	if v := os.Getenv("AGGREGATOR_CLASSES_FILE"); v != "" {
		c.ClassesFile = v
	}

	if v := os.Getenv("AGGREGATOR_LOG_LEVEL"); v != "" {
		c.logging().Level = v
	}
	if v := os.Getenv("AGGREGATOR_LOG_FORMAT"); v != "" {
		c.logging().Format = v
	}

	if v := os.Getenv("AGGREGATOR_REDIS_URL"); v != "" {
		c.redis().URL = v
	}
	if v := os.Getenv("AGGREGATOR_REDIS_PREFIX"); v != "" {
		c.redis().Prefix = v
	}

	if v := os.Getenv("AGGREGATOR_STORAGE_BACKEND"); v != "" {
		c.storage().Backend = v
	}
	if v := os.Getenv("AGGREGATOR_STORAGE_PATH"); v != "" {
		c.storage().Path = v
	}
	if v := os.Getenv("AGGREGATOR_STORAGE_DSN"); v != "" {
		c.storage().DSN = v
	}
	if v := os.Getenv("AGGREGATOR_STORAGE_COMPRESSION"); v != "" {
		c.storage().Compression = v
	}
	if v := os.Getenv("AGGREGATOR_FLUSH_INTERVAL"); v != "" {
		c.storage().FlushInterval = v
	}

	if v := os.Getenv("AGGREGATOR_WORKER_QUEUE"); v != "" {
		c.worker().Queue = v
	}
	if v := os.Getenv("AGGREGATOR_WORKER_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid AGGREGATOR_WORKER_CONCURRENCY %q: %w", v, err)
		}
		c.worker().Concurrency = n
	}
	if v := os.Getenv("AGGREGATOR_WORKER_SHUTDOWN_TIMEOUT"); v != "" {
		c.worker().ShutdownTimeout = v
	}

	return nil
}

func (c *Config) logging() *LoggingConfig {
	if c.Logging == nil {
		c.Logging = &LoggingConfig{}
	}
	return c.Logging
}

func (c *Config) redis() *RedisConfig {
	if c.Redis == nil {
		c.Redis = &RedisConfig{}
	}
	return c.Redis
}

func (c *Config) storage() *StorageConfig {
	if c.Storage == nil {
		c.Storage = &StorageConfig{}
	}
	return c.Storage
}

func (c *Config) worker() *WorkerConfig {
	if c.Worker == nil {
		c.Worker = &WorkerConfig{}
	}
	return c.Worker
}
