package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "url_metadata", cfg.QueueName)
	assert.Equal(t, 10000, cfg.QueueMaxLength)
	assert.Equal(t, 1, cfg.PrefetchCount)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 1_000_000, cfg.MaxPageSourceLength)
	assert.Equal(t, 30*time.Second, cfg.ReadinessPingTimeout)
	assert.Equal(t, 30*time.Second, cfg.PublishTimeout)
	assert.Equal(t, 60*time.Second, cfg.ShutdownLockWait)
	assert.Equal(t, 2.0, cfg.BackoffMultiplier)
	assert.Equal(t, PublisherRabbitMQ, cfg.PublisherBackend)
	assert.Equal(t, RepositoryMongo, cfg.RepositoryBackend)
	assert.False(t, cfg.CacheEnabled)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("QUEUE_NAME", "md_requests")
	t.Setenv("QUEUE_MAX_LENGTH", "500")
	t.Setenv("MAX_RETRIES", "2")
	t.Setenv("INITIAL_BACKOFF_SECONDS", "0.5")
	t.Setenv("PUBLISHER_BACKEND", "inmemory")
	t.Setenv("REPOSITORY_BACKEND", "memory")
	t.Setenv("CACHE_ENABLED", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "md_requests", cfg.QueueName)
	assert.Equal(t, 500, cfg.QueueMaxLength)
	assert.Equal(t, 2, cfg.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.InitialBackoff)
	assert.Equal(t, PublisherInMemory, cfg.PublisherBackend)
	assert.Equal(t, RepositoryInMemory, cfg.RepositoryBackend)
	assert.True(t, cfg.CacheEnabled)
}

func TestLoadRejectsUnknownBackends(t *testing.T) {
	t.Setenv("PUBLISHER_BACKEND", "carrier-pigeon")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRejectsBadRetries(t *testing.T) {
	t.Setenv("MAX_RETRIES", "0")
	_, err := Load()
	assert.Error(t, err)
}

func TestAMQPAndMongoURLs(t *testing.T) {
	cfg := &Config{
		RabbitHost: "mq", RabbitPort: 5672, RabbitUser: "u", RabbitPassword: "p",
		MongoHost: "db", MongoPort: 27017,
	}
	assert.Equal(t, "amqp://u:p@mq:5672/", cfg.AMQPURL())
	assert.Equal(t, "mongodb://db:27017", cfg.MongoURI())

	cfg.MongoUser = "root"
	cfg.MongoPassword = "secret"
	assert.Equal(t, "mongodb://root:secret@db:27017", cfg.MongoURI())
}
