// Package processing orchestrates one delivered queue message through its
// lifecycle: decode, mark in progress, fetch, persist the outcome, and decide
// the broker acknowledgement.
package processing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/baechuer/urlmeta/internal/domain"
	"github.com/baechuer/urlmeta/internal/metrics"
)

// Repository is the slice of the store adapter the worker needs. All
// transitions are upserts keyed on url; attempt numbers are supplied by this
// service, never incremented by the store.
type Repository interface {
	EnsureRecord(ctx context.Context, url string, pctx domain.ProcessingContext) error
	MarkInProgress(ctx context.Context, url string, pctx domain.ProcessingContext) error
	MarkCompleted(ctx context.Context, url string, pctx domain.ProcessingContext, metadata domain.MetadataBlock) error
	MarkRetryableFailure(ctx context.Context, url string, pctx domain.ProcessingContext, errMsg string) (int, error)
	MarkPermanentFailure(ctx context.Context, url string, pctx domain.ProcessingContext, errMsg string) error
	GetByURL(ctx context.Context, url string) (*domain.MetadataRecord, error)
}

// Fetcher performs the one-shot GET.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*domain.FetchResult, error)
}

// Delivery is the acknowledgement surface of one queue message.
type Delivery interface {
	Body() []byte
	Ack() error
	NackRequeue() error
	Reject() error
}

type Config struct {
	// MaxRetries is the total number of fetch attempts per URL across
	// redeliveries. The MaxRetries-th failure is permanent.
	MaxRetries int
	// MaxPageSourceLength caps the stored page source in bytes. Zero or
	// negative disables truncation.
	MaxPageSourceLength int
}

type Service struct {
	repo    Repository
	fetcher Fetcher
	cfg     Config
	lg      zerolog.Logger
}

func NewService(repo Repository, fetcher Fetcher, cfg Config, lg zerolog.Logger) *Service {
	return &Service{
		repo:    repo,
		fetcher: fetcher,
		cfg:     cfg,
		lg:      lg.With().Str("component", "processing").Logger(),
	}
}

// HandleDelivery runs the state machine for one message and settles the
// acknowledgement on every path it owns. Two classes of error are returned
// unsettled for the caller to reject without requeue: malformed payloads
// (domain.MalformedMessageError) and store failures, where requeueing would
// loop a message the pipeline cannot make progress on.
func (s *Service) HandleDelivery(ctx context.Context, d Delivery) error {
	started := time.Now()

	msg, err := decodeMessage(d.Body())
	if err != nil {
		return err
	}

	log := s.lg.With().Str("request_id", msg.RequestID).Str("url", msg.URL).Logger()

	pctx := domain.ProcessingContext{
		RequestID: msg.RequestID,
		StartedAt: started.UTC(),
	}

	if err := s.repo.EnsureRecord(ctx, msg.URL, pctx); err != nil {
		return fmt.Errorf("ensure record: %w", err)
	}

	rec, err := s.repo.GetByURL(ctx, msg.URL)
	if err != nil {
		return fmt.Errorf("read record: %w", err)
	}
	if rec != nil {
		pctx.AttemptNumber = rec.Processing.AttemptNumber
	}

	if err := s.repo.MarkInProgress(ctx, msg.URL, pctx); err != nil {
		return fmt.Errorf("mark in progress: %w", err)
	}

	result, fetchErr := s.fetcher.Fetch(ctx, msg.URL)
	if fetchErr == nil {
		return s.complete(ctx, log, d, msg.URL, pctx, result, started)
	}
	return s.fail(ctx, log, d, msg.URL, pctx, fetchErr, started)
}

func (s *Service) complete(ctx context.Context, log zerolog.Logger, d Delivery, url string, pctx domain.ProcessingContext, result *domain.FetchResult, started time.Time) error {
	pctx.AttemptNumber++

	metadata := result.MetadataBlock()
	metadata.PageSource, metadata.AdditionalDetails = truncatePageSource(
		metadata.PageSource, metadata.AdditionalDetails, s.cfg.MaxPageSourceLength)

	if err := s.repo.MarkCompleted(ctx, url, pctx, metadata); err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	if err := d.Ack(); err != nil {
		return fmt.Errorf("ack: %w", err)
	}

	metrics.RecordFetchOutcome("completed")
	metrics.RecordProcessingDuration(time.Since(started))
	log.Info().
		Int("attempt", pctx.AttemptNumber).
		Int("status_code", metadata.StatusCode).
		Str("final_url", metadata.FinalURL).
		Dur("duration", time.Since(started)).
		Str("final_state", string(domain.StatusCompleted)).
		Msg("url processed")
	return nil
}

func (s *Service) fail(ctx context.Context, log zerolog.Logger, d Delivery, url string, pctx domain.ProcessingContext, fetchErr error, started time.Time) error {
	metrics.RecordFetchOutcome(outcomeLabel(fetchErr))

	if !domain.RetryableFetch(fetchErr) {
		return s.permanent(ctx, log, d, url, pctx, fetchErr, started)
	}

	next := pctx
	next.AttemptNumber = pctx.AttemptNumber + 1

	attemptAfter, err := s.repo.MarkRetryableFailure(ctx, url, next, fetchErr.Error())
	if err != nil {
		return fmt.Errorf("mark retryable failure: %w", err)
	}

	if attemptAfter >= s.cfg.MaxRetries {
		next.AttemptNumber = attemptAfter
		return s.permanent(ctx, log, d, url, next, fetchErr, started)
	}

	if err := d.NackRequeue(); err != nil {
		return fmt.Errorf("nack: %w", err)
	}
	metrics.RecordRetryAttempt()
	metrics.RecordProcessingDuration(time.Since(started))
	log.Warn().
		Err(fetchErr).
		Int("attempt", attemptAfter).
		Int("max_retries", s.cfg.MaxRetries).
		Str("final_state", string(domain.StatusFailedRetryable)).
		Msg("fetch failed, requeued for retry")
	return nil
}

func (s *Service) permanent(ctx context.Context, log zerolog.Logger, d Delivery, url string, pctx domain.ProcessingContext, fetchErr error, started time.Time) error {
	if err := s.repo.MarkPermanentFailure(ctx, url, pctx, fetchErr.Error()); err != nil {
		return fmt.Errorf("mark permanent failure: %w", err)
	}
	if err := d.Ack(); err != nil {
		return fmt.Errorf("ack: %w", err)
	}

	metrics.RecordProcessingDuration(time.Since(started))
	log.Error().
		Err(fetchErr).
		Int("attempt", pctx.AttemptNumber).
		Dur("duration", time.Since(started)).
		Str("final_state", string(domain.StatusFailedPermanent)).
		Msg("url failed permanently")
	return nil
}

// decodeMessage parses the JSON payload and requires a non-empty url.
func decodeMessage(body []byte) (domain.QueueMessage, error) {
	var msg domain.QueueMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return msg, &domain.MalformedMessageError{Reason: "invalid json", Cause: err}
	}
	if msg.URL == "" {
		return msg, &domain.MalformedMessageError{Reason: "missing url"}
	}
	return msg, nil
}

// truncatePageSource caps src at max bytes. When it cuts, it returns an
// enriched copy of details; the input map is never mutated. max <= 0 disables
// the cap.
func truncatePageSource(src string, details map[string]any, max int) (string, map[string]any) {
	if max <= 0 || len(src) <= max {
		return src, details
	}
	enriched := make(map[string]any, len(details)+2)
	for k, v := range details {
		enriched[k] = v
	}
	enriched["truncated"] = true
	enriched["original_length"] = len(src)
	return src[:max], enriched
}

func outcomeLabel(err error) string {
	var te *domain.FetchTimeoutError
	if errors.As(err, &te) {
		return "fetch_timeout"
	}
	return "fetch_error"
}
