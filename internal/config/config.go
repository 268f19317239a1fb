package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/baechuer/urlmeta/internal/backoff"
)

const (
	PublisherRabbitMQ  = "rabbitmq"
	PublisherInMemory  = "inmemory"
	RepositoryMongo    = "mongo"
	RepositoryInMemory = "memory"
	ConsumerRabbitMQ   = "rabbitmq"
)

type Config struct {
	HTTPAddr         string
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration

	// Store
	MongoHost             string
	MongoPort             int
	MongoUser             string
	MongoPassword         string
	MongoDatabase         string
	MongoCollection       string
	MongoConnectTimeoutMS int

	// Broker
	RabbitHost     string
	RabbitPort     int
	RabbitUser     string
	RabbitPassword string
	QueueName      string
	QueueMaxLength int
	PrefetchCount  int

	// Connect retry/backoff
	InitialBackoff        time.Duration
	MaxBackoff            time.Duration
	BackoffMultiplier     float64
	MaxConnectionAttempts int

	// Processing
	MaxRetries          int
	PublishTimeout      time.Duration
	FetchConnectTimeout time.Duration
	FetchReadTimeout    time.Duration
	FetchUserAgent      string
	MaxPageSourceLength int

	// Probes
	ReadinessPingTimeout time.Duration

	// Backend selectors
	PublisherBackend  string
	RepositoryBackend string
	ConsumerBackend   string

	// Shutdown
	ShutdownLockWait time.Duration

	// Lookup cache
	CacheEnabled   bool
	RedisURL       string
	CacheTTLRecord time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	cfg.HTTPAddr = getEnv("HTTP_ADDR", ":8080")
	cfg.HTTPReadTimeout = getDuration("HTTP_READ_TIMEOUT", 10*time.Second)
	cfg.HTTPWriteTimeout = getDuration("HTTP_WRITE_TIMEOUT", 30*time.Second)
	cfg.HTTPIdleTimeout = getDuration("HTTP_IDLE_TIMEOUT", 60*time.Second)

	cfg.MongoHost = getEnv("MONGO_HOST", "localhost")
	cfg.MongoPort = getIntEnv("MONGO_PORT", 27017)
	cfg.MongoUser = getEnv("MONGO_USER", "")
	cfg.MongoPassword = getEnv("MONGO_PASSWORD", "")
	cfg.MongoDatabase = getEnv("MONGO_DATABASE", "metadata")
	cfg.MongoCollection = getEnv("MONGO_COLLECTION", "url_metadata")
	cfg.MongoConnectTimeoutMS = getIntEnv("MONGO_CONNECT_TIMEOUT_MS", 5000)

	cfg.RabbitHost = getEnv("RABBITMQ_HOST", "localhost")
	cfg.RabbitPort = getIntEnv("RABBITMQ_PORT", 5672)
	cfg.RabbitUser = getEnv("RABBITMQ_USER", "guest")
	cfg.RabbitPassword = getEnv("RABBITMQ_PASSWORD", "guest")
	cfg.QueueName = getEnv("QUEUE_NAME", "url_metadata")
	cfg.QueueMaxLength = getIntEnv("QUEUE_MAX_LENGTH", 10000)
	cfg.PrefetchCount = getIntEnv("PREFETCH_COUNT", 1)

	cfg.InitialBackoff = getSeconds("INITIAL_BACKOFF_SECONDS", 1)
	cfg.MaxBackoff = getSeconds("MAX_BACKOFF_SECONDS", 30)
	cfg.BackoffMultiplier = getFloatEnv("BACKOFF_MULTIPLIER", 2.0)
	cfg.MaxConnectionAttempts = getIntEnv("MAX_CONNECTION_ATTEMPTS", 5)

	cfg.MaxRetries = getIntEnv("MAX_RETRIES", 3)
	cfg.PublishTimeout = getSeconds("PUBLISH_TIMEOUT_SECONDS", 30)
	cfg.FetchConnectTimeout = getSeconds("FETCH_CONNECT_TIMEOUT_SECONDS", 10)
	cfg.FetchReadTimeout = getSeconds("FETCH_READ_TIMEOUT_SECONDS", 30)
	cfg.FetchUserAgent = getEnv("FETCH_USER_AGENT", "")
	cfg.MaxPageSourceLength = getIntEnv("MAX_PAGE_SOURCE_LENGTH", 1_000_000)

	cfg.ReadinessPingTimeout = getSeconds("READINESS_PING_TIMEOUT_SECONDS", 30)

	cfg.PublisherBackend = getEnv("PUBLISHER_BACKEND", PublisherRabbitMQ)
	cfg.RepositoryBackend = getEnv("REPOSITORY_BACKEND", RepositoryMongo)
	cfg.ConsumerBackend = getEnv("CONSUMER_BACKEND", ConsumerRabbitMQ)

	cfg.ShutdownLockWait = getDuration("SHUTDOWN_LOCK_WAIT", 60*time.Second)

	cfg.CacheEnabled = getEnv("CACHE_ENABLED", "false") == "true"
	cfg.RedisURL = getEnv("REDIS_URL", "redis://localhost:6379/0")
	cfg.CacheTTLRecord = getDuration("CACHE_TTL_RECORD", 5*time.Minute)

	switch cfg.PublisherBackend {
	case PublisherRabbitMQ, PublisherInMemory:
	default:
		return nil, fmt.Errorf("unknown PUBLISHER_BACKEND %q", cfg.PublisherBackend)
	}
	switch cfg.RepositoryBackend {
	case RepositoryMongo, RepositoryInMemory:
	default:
		return nil, fmt.Errorf("unknown REPOSITORY_BACKEND %q", cfg.RepositoryBackend)
	}
	if cfg.ConsumerBackend != ConsumerRabbitMQ {
		return nil, fmt.Errorf("unknown CONSUMER_BACKEND %q", cfg.ConsumerBackend)
	}
	if cfg.QueueName == "" {
		return nil, fmt.Errorf("missing QUEUE_NAME")
	}
	if cfg.MaxRetries < 1 {
		return nil, fmt.Errorf("MAX_RETRIES must be >= 1")
	}

	return cfg, nil
}

// AMQPURL renders the broker dial string.
func (c *Config) AMQPURL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%d/",
		url.QueryEscape(c.RabbitUser), url.QueryEscape(c.RabbitPassword), c.RabbitHost, c.RabbitPort)
}

// MongoURI renders the store connection string; credentials are optional.
func (c *Config) MongoURI() string {
	if c.MongoUser != "" && c.MongoPassword != "" {
		return fmt.Sprintf("mongodb://%s:%s@%s:%d",
			url.QueryEscape(c.MongoUser), url.QueryEscape(c.MongoPassword), c.MongoHost, c.MongoPort)
	}
	return fmt.Sprintf("mongodb://%s:%d", c.MongoHost, c.MongoPort)
}

// BackoffPolicy is the connect/reconnect spacing shared by the broker and
// store adapters.
func (c *Config) BackoffPolicy() backoff.Policy {
	return backoff.Policy{
		InitialDelay: c.InitialBackoff,
		MaxDelay:     c.MaxBackoff,
		Multiplier:   c.BackoffMultiplier,
		MaxAttempts:  c.MaxConnectionAttempts,
	}
}

func getEnv(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func getIntEnv(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getFloatEnv(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

// getSeconds reads a plain number of seconds (fractions allowed).
func getSeconds(key string, def float64) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return time.Duration(def * float64(time.Second))
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return time.Duration(def * float64(time.Second))
	}
	return time.Duration(f * float64(time.Second))
}
