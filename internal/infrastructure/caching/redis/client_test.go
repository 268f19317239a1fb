package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baechuer/urlmeta/internal/domain"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := New("redis://" + mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestGetMissReturnsFalse(t *testing.T) {
	c := newTestClient(t)

	var rec domain.MetadataRecord
	found, err := c.Get(context.Background(), RecordKey("https://example.com"), &rec)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSetThenGetRoundTripsRecord(t *testing.T) {
	c := newTestClient(t)
	key := RecordKey("https://example.com")

	in := domain.MetadataRecord{
		URL:    "https://example.com",
		Status: domain.StatusCompleted,
		Metadata: domain.MetadataBlock{
			Headers:    map[string]string{"Content-Type": "text/html"},
			Cookies:    map[string]string{},
			PageSource: "<html></html>",
			StatusCode: 200,
			FinalURL:   "https://example.com/",
		},
	}
	require.NoError(t, c.Set(context.Background(), key, in, time.Minute))

	var out domain.MetadataRecord
	found, err := c.Get(context.Background(), key, &out)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, in.Status, out.Status)
	assert.Equal(t, in.Metadata.FinalURL, out.Metadata.FinalURL)
	assert.Equal(t, in.Metadata.Headers, out.Metadata.Headers)
}

func TestDeleteRemovesEntry(t *testing.T) {
	c := newTestClient(t)
	key := RecordKey("https://example.com")

	require.NoError(t, c.Set(context.Background(), key, "v", time.Minute))
	require.NoError(t, c.Delete(context.Background(), key))

	var out string
	found, err := c.Get(context.Background(), key, &out)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, c.Delete(context.Background()))
}

func TestNewRejectsBadURL(t *testing.T) {
	_, err := New("not-a-redis-url")
	require.Error(t, err)
}
