package processing

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baechuer/urlmeta/internal/domain"
	"github.com/baechuer/urlmeta/internal/infrastructure/persistence/memory"
)

type fakeFetcher struct {
	result *domain.FetchResult
	err    error
	calls  int
}

func (f *fakeFetcher) Fetch(context.Context, string) (*domain.FetchResult, error) {
	f.calls++
	return f.result, f.err
}

type fakeDelivery struct {
	body     []byte
	acked    bool
	requeued bool
	rejected bool
}

func (d *fakeDelivery) Body() []byte { return d.body }
func (d *fakeDelivery) Ack() error {
	d.acked = true
	return nil
}
func (d *fakeDelivery) NackRequeue() error {
	d.requeued = true
	return nil
}
func (d *fakeDelivery) Reject() error {
	d.rejected = true
	return nil
}

func deliveryFor(t *testing.T, url string) *fakeDelivery {
	t.Helper()
	body, err := json.Marshal(domain.NewQueueMessage(url, "req-1"))
	require.NoError(t, err)
	return &fakeDelivery{body: body}
}

func newService(repo Repository, f Fetcher, cfg Config) *Service {
	return NewService(repo, f, cfg, zerolog.Nop())
}

func TestHandleDeliveryCompletesOnSuccess(t *testing.T) {
	repo := memory.New()
	fetcher := &fakeFetcher{result: &domain.FetchResult{
		Headers:    map[string]string{"Content-Type": "text/html"},
		Cookies:    map[string]string{"sid": "abc"},
		PageSource: "<html></html>",
		StatusCode: 200,
		FinalURL:   "https://example.com/",
	}}
	svc := newService(repo, fetcher, Config{MaxRetries: 3, MaxPageSourceLength: 1000})
	d := deliveryFor(t, "https://example.com")

	require.NoError(t, svc.HandleDelivery(context.Background(), d))

	assert.True(t, d.acked)
	assert.False(t, d.requeued)

	rec, err := repo.GetByURL(context.Background(), "https://example.com")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, domain.StatusCompleted, rec.Status)
	assert.Equal(t, 1, rec.Processing.AttemptNumber)
	assert.Equal(t, "req-1", rec.Processing.LastRequestID)
	assert.Equal(t, "https://example.com/", rec.Metadata.FinalURL)
	assert.Equal(t, "<html></html>", rec.Metadata.PageSource)
	assert.Nil(t, rec.Metadata.AdditionalDetails)
}

func TestHandleDeliveryTruncatesLongPageSource(t *testing.T) {
	long := strings.Repeat("x", 50)
	repo := memory.New()
	fetcher := &fakeFetcher{result: &domain.FetchResult{
		Headers:    map[string]string{},
		Cookies:    map[string]string{},
		PageSource: long,
		StatusCode: 200,
		FinalURL:   "https://example.com/",
		AdditionalDetails: map[string]any{
			"note": "kept",
		},
	}}
	svc := newService(repo, fetcher, Config{MaxRetries: 3, MaxPageSourceLength: 10})
	d := deliveryFor(t, "https://example.com")

	require.NoError(t, svc.HandleDelivery(context.Background(), d))

	rec, err := repo.GetByURL(context.Background(), "https://example.com")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, long[:10], rec.Metadata.PageSource)
	assert.Equal(t, true, rec.Metadata.AdditionalDetails["truncated"])
	assert.Equal(t, 50, rec.Metadata.AdditionalDetails["original_length"])
	assert.Equal(t, "kept", rec.Metadata.AdditionalDetails["note"])

	// caller's map must not be touched
	assert.NotContains(t, fetcher.result.AdditionalDetails, "truncated")
}

func TestHandleDeliveryTruncationDisabledWhenCapNonPositive(t *testing.T) {
	long := strings.Repeat("x", 50)
	repo := memory.New()
	fetcher := &fakeFetcher{result: &domain.FetchResult{
		Headers:    map[string]string{},
		Cookies:    map[string]string{},
		PageSource: long,
		StatusCode: 200,
		FinalURL:   "https://example.com/",
	}}
	svc := newService(repo, fetcher, Config{MaxRetries: 3, MaxPageSourceLength: 0})
	d := deliveryFor(t, "https://example.com")

	require.NoError(t, svc.HandleDelivery(context.Background(), d))

	rec, err := repo.GetByURL(context.Background(), "https://example.com")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, long, rec.Metadata.PageSource)
	assert.Nil(t, rec.Metadata.AdditionalDetails)
}

func TestHandleDeliveryRetryableFailureBelowMaxRequeues(t *testing.T) {
	repo := memory.New()
	fetcher := &fakeFetcher{err: &domain.FetchTimeoutError{Reason: "read deadline"}}
	svc := newService(repo, fetcher, Config{MaxRetries: 3})
	d := deliveryFor(t, "https://slow.example.com")

	require.NoError(t, svc.HandleDelivery(context.Background(), d))

	assert.False(t, d.acked)
	assert.True(t, d.requeued)

	rec, err := repo.GetByURL(context.Background(), "https://slow.example.com")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, domain.StatusFailedRetryable, rec.Status)
	assert.Equal(t, 1, rec.Processing.AttemptNumber)
	assert.Contains(t, rec.Processing.ErrorMsg, "read deadline")
}

func TestHandleDeliveryExhaustedRetriesGoPermanent(t *testing.T) {
	repo := memory.New()
	fetcher := &fakeFetcher{err: &domain.FetchError{Reason: "http status 500"}}
	svc := newService(repo, fetcher, Config{MaxRetries: 3})
	url := "https://broken.example.com"

	// attempts 1 and 2 requeue, attempt 3 is terminal
	for i := 0; i < 2; i++ {
		d := deliveryFor(t, url)
		require.NoError(t, svc.HandleDelivery(context.Background(), d))
		assert.True(t, d.requeued)
		assert.False(t, d.acked)
	}

	d := deliveryFor(t, url)
	require.NoError(t, svc.HandleDelivery(context.Background(), d))
	assert.True(t, d.acked)
	assert.False(t, d.requeued)

	rec, err := repo.GetByURL(context.Background(), url)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, domain.StatusFailedPermanent, rec.Status)
	assert.Equal(t, 3, rec.Processing.AttemptNumber)
	assert.Contains(t, rec.Processing.ErrorMsg, "http status 500")
}

func TestHandleDeliveryNonRetryableErrorGoesPermanentImmediately(t *testing.T) {
	repo := memory.New()
	fetcher := &fakeFetcher{err: errors.New("panic: nil deref")}
	svc := newService(repo, fetcher, Config{MaxRetries: 3})
	d := deliveryFor(t, "https://example.com")

	require.NoError(t, svc.HandleDelivery(context.Background(), d))

	assert.True(t, d.acked)
	assert.False(t, d.requeued)

	rec, err := repo.GetByURL(context.Background(), "https://example.com")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, domain.StatusFailedPermanent, rec.Status)
}

func TestHandleDeliveryMalformedBodyReturnsUnsettled(t *testing.T) {
	repo := memory.New()
	fetcher := &fakeFetcher{}
	svc := newService(repo, fetcher, Config{MaxRetries: 3})

	for _, body := range [][]byte{
		[]byte("not json"),
		[]byte(`{"request_id":"r","requested_at":"t"}`),
	} {
		d := &fakeDelivery{body: body}
		err := svc.HandleDelivery(context.Background(), d)

		var mm *domain.MalformedMessageError
		require.ErrorAs(t, err, &mm)
		assert.False(t, d.acked)
		assert.False(t, d.requeued)
		assert.False(t, d.rejected)
	}
	assert.Zero(t, fetcher.calls)
}

func TestHandleDeliveryAttemptNumberGrowsAcrossRedeliveries(t *testing.T) {
	repo := memory.New()
	fetcher := &fakeFetcher{err: &domain.FetchTimeoutError{Reason: "timeout"}}
	svc := newService(repo, fetcher, Config{MaxRetries: 5})
	url := "https://example.com"

	for want := 1; want <= 3; want++ {
		d := deliveryFor(t, url)
		require.NoError(t, svc.HandleDelivery(context.Background(), d))

		rec, err := repo.GetByURL(context.Background(), url)
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.Equal(t, want, rec.Processing.AttemptNumber)
	}
}
