// Package config loads and validates the segment configuration from YAML
// files with environment-variable overrides. It provides typed structs for
// the segment stores, the fulltext backend, the document loader and the
// queue/cache/database clients used around them.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Segment  SegmentConfig  `yaml:"segment"`
	Fulltext FulltextConfig `yaml:"fulltext"`
	Loader   LoaderConfig   `yaml:"loader"`
	Postgres PostgresConfig `yaml:"postgres"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// SegmentConfig sizes the postings and citation stores.
type SegmentConfig struct {
	DataDir string `yaml:"dataDir"`
	// TargetFileSize is the size a store file is expected to reach before
	// the backing engine rolls over to a new one.
	TargetFileSize int64 `yaml:"targetFileSize"`
	// MaxFileSize is the hard ceiling passed on connect.
	MaxFileSize        int64  `yaml:"maxFileSize"`
	WriteBufferSize    int    `yaml:"writeBufferSize"`
	EntityCacheMaxSize int    `yaml:"entityCacheMaxSize"`
	PostingsEngine     string `yaml:"postingsEngine"`
	CitationEngine     string `yaml:"citationEngine"`
	MaxMergeSize       int64  `yaml:"maxMergeSize"`
	RemoveParallelism  int    `yaml:"removeParallelism"`
	// FlushInterval is how often RAM buffers are written to the stores.
	FlushInterval time.Duration `yaml:"flushInterval"`
}

// FulltextConfig selects the canonical record backend.
type FulltextConfig struct {
	Backend    string        `yaml:"backend"`
	SQLitePath string        `yaml:"sqlitePath"`
	Cache      bool          `yaml:"cache"`
	TextLimit  int           `yaml:"textLimit"`
	Timeout    time.Duration `yaml:"timeout"`
}

// LoaderConfig controls how documents are re-fetched for deletion and
// fetched for queued indexing.
type LoaderConfig struct {
	Timeout       time.Duration `yaml:"timeout"`
	MinDelay      time.Duration `yaml:"minDelay"`
	CacheSize     int           `yaml:"cacheSize"`
	FreshFor      time.Duration `yaml:"freshFor"`
	UserAgent     string        `yaml:"userAgent"`
	RetryAttempts int           `yaml:"retryAttempts"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Brokers        []string      `yaml:"brokers"`
	ConsumerGroup  string        `yaml:"consumerGroup"`
	Topics         KafkaTopics   `yaml:"topics"`
	HandlerTimeout time.Duration `yaml:"handlerTimeout"`
	// HandlerAttempts is how often a failing message is handled before the
	// consumer gives up and stops without committing it.
	HandlerAttempts int `yaml:"handlerAttempts"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	DocumentIngest string `yaml:"documentIngest"`
	URLDelete      string `yaml:"urlDelete"`
	IndexComplete  string `yaml:"indexComplete"`
}

// RedisConfig holds Redis connection and caching parameters.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
	// Namespace prefixes every key written by this segment.
	Namespace string `yaml:"namespace"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides on top of the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Segment: SegmentConfig{
			DataDir:            "data/segments/default",
			TargetFileSize:     64 * 1024 * 1024,
			MaxFileSize:        256 * 1024 * 1024,
			WriteBufferSize:    4 * 1024 * 1024,
			EntityCacheMaxSize: 100000,
			PostingsEngine:     "badger",
			CitationEngine:     "bolt",
			MaxMergeSize:       10 * 1024 * 1024,
			RemoveParallelism:  4,
			FlushInterval:      30 * time.Second,
		},
		Fulltext: FulltextConfig{
			Backend:    "sqlite",
			SQLitePath: "data/segments/default/text.urlmd.db",
			TextLimit:  100000,
			Timeout:    10 * time.Second,
		},
		Loader: LoaderConfig{
			Timeout:       10 * time.Second,
			MinDelay:      500 * time.Millisecond,
			CacheSize:     1000,
			FreshFor:      24 * time.Hour,
			UserAgent:     "search-segment/1.0",
			RetryAttempts: 2,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "searchsegment",
			User:            "searchsegment",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "search-segment",
			Topics: KafkaTopics{
				DocumentIngest: "document-ingest",
				URLDelete:      "url-delete",
				IndexComplete:  "index.complete",
			},
			HandlerTimeout:  60 * time.Second,
			HandlerAttempts: 5,
		},
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			PoolSize:  10,
			CacheTTL:  10 * time.Minute,
			Namespace: "segment",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// Validate rejects configurations the segment cannot be built from.
func (c *Config) Validate() error {
	if c.Segment.DataDir == "" {
		return fmt.Errorf("segment.dataDir must be set")
	}
	if c.Segment.EntityCacheMaxSize <= 0 {
		return fmt.Errorf("segment.entityCacheMaxSize must be positive, got %d", c.Segment.EntityCacheMaxSize)
	}
	for _, engine := range []string{c.Segment.PostingsEngine, c.Segment.CitationEngine} {
		if engine != "badger" && engine != "bolt" {
			return fmt.Errorf("unknown store engine %q (want badger or bolt)", engine)
		}
	}
	switch c.Fulltext.Backend {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown fulltext backend %q (want sqlite or postgres)", c.Fulltext.Backend)
	}
	return nil
}

// applyEnvOverrides reads SP_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SP_SEGMENT_DATA_DIR"); v != "" {
		cfg.Segment.DataDir = v
	}
	if v := os.Getenv("SP_SEGMENT_ENTITY_CACHE_MAX_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Segment.EntityCacheMaxSize = n
		}
	}
	if v := os.Getenv("SP_SEGMENT_MAX_FILE_SIZE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Segment.MaxFileSize = n
		}
	}
	if v := os.Getenv("SP_FULLTEXT_BACKEND"); v != "" {
		cfg.Fulltext.Backend = v
	}
	if v := os.Getenv("SP_FULLTEXT_SQLITE_PATH"); v != "" {
		cfg.Fulltext.SQLitePath = v
	}
	if v := os.Getenv("SP_FULLTEXT_CACHE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Fulltext.Cache = b
		}
	}
	if v := os.Getenv("SP_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("SP_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("SP_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("SP_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("SP_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("SP_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("SP_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("SP_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("SP_REDIS_NAMESPACE"); v != "" {
		cfg.Redis.Namespace = v
	}
	if v := os.Getenv("SP_LOADER_USER_AGENT"); v != "" {
		cfg.Loader.UserAgent = v
	}
	if v := os.Getenv("SP_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SP_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("SP_METRICS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Metrics.Port = port
		}
	}
}
