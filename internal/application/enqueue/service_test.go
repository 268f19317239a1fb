package enqueue

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baechuer/urlmeta/internal/domain"
	"github.com/baechuer/urlmeta/internal/infrastructure/messaging/inmemory"
)

func TestEnqueuePublishesMessageWithFreshRequestID(t *testing.T) {
	pub := inmemory.New()
	svc := NewService(pub, zerolog.Nop())

	id, err := svc.Enqueue(context.Background(), "https://example.com/a")
	require.NoError(t, err)

	_, parseErr := uuid.Parse(id)
	require.NoError(t, parseErr)

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "https://example.com/a", msgs[0].URL)
	assert.Equal(t, id, msgs[0].RequestID)
	assert.NotEmpty(t, msgs[0].RequestedAt)
}

func TestEnqueueDistinctRequestIDsPerCall(t *testing.T) {
	pub := inmemory.New()
	svc := NewService(pub, zerolog.Nop())

	a, err := svc.Enqueue(context.Background(), "https://example.com")
	require.NoError(t, err)
	b, err := svc.Enqueue(context.Background(), "https://example.com")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestEnqueuePassesThroughQueueRejected(t *testing.T) {
	pub := inmemory.New()
	pub.FailWith = domain.ErrQueueRejected
	svc := NewService(pub, zerolog.Nop())

	id, err := svc.Enqueue(context.Background(), "https://example.com")
	require.ErrorIs(t, err, domain.ErrQueueRejected)
	assert.NotEmpty(t, id)
	assert.Empty(t, pub.Messages())
}

func TestReadyReflectsPublisher(t *testing.T) {
	pub := inmemory.New()
	svc := NewService(pub, zerolog.Nop())
	assert.True(t, svc.Ready())

	pub.NotReady = true
	assert.False(t, svc.Ready())
}
