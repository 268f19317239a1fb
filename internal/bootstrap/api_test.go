package bootstrap

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/baechuer/urlmeta/internal/config"
)

func TestNewAPIAppWithInMemoryBackends(t *testing.T) {
	t.Setenv("PUBLISHER_BACKEND", "inmemory")
	t.Setenv("REPOSITORY_BACKEND", "memory")
	t.Setenv("CACHE_ENABLED", "false")
	t.Setenv("HTTP_ADDR", "127.0.0.1:0")

	cfg, err := config.Load()
	require.NoError(t, err)

	app, cleanup, err := NewAPIApp(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Start(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("api did not shut down")
	}
}
