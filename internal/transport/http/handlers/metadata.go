// Package handlers holds the ingress endpoints: submit a URL for processing
// and look up its stored metadata.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/baechuer/urlmeta/internal/domain"
	"github.com/baechuer/urlmeta/internal/transport/http/response"
)

// Enqueuer accepts a URL for asynchronous processing.
type Enqueuer interface {
	Ready() bool
	Enqueue(ctx context.Context, url string) (string, error)
}

// RecordReader is the read-only slice of the store the ingress needs. The
// ingress never mutates records; the worker owns all status transitions.
type RecordReader interface {
	GetByURL(ctx context.Context, url string) (*domain.MetadataRecord, error)
}

// RecordCache is the optional read-through cache for completed lookups.
type RecordCache interface {
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, val any, ttl time.Duration) error
}

type postRequest struct {
	URL string `json:"url" validate:"required,http_url"`
}

type queuedResponse struct {
	Status    domain.Status `json:"status"`
	URL       string        `json:"url"`
	RequestID string        `json:"request_id"`
}

type metadataPayload struct {
	Headers           map[string]string `json:"headers"`
	Cookies           map[string]string `json:"cookies"`
	StatusCode        int               `json:"status_code"`
	PageSource        string            `json:"page_source"`
	AdditionalDetails map[string]any    `json:"additional_details,omitempty"`
}

type completedResponse struct {
	Status   domain.Status   `json:"status"`
	URL      string          `json:"url"`
	Metadata metadataPayload `json:"metadata"`
}

type failedResponse struct {
	Status        domain.Status `json:"status"`
	URL           string        `json:"url"`
	ErrorMsg      string        `json:"error_msg"`
	AttemptNumber int           `json:"attempt_number"`
}

type MetadataHandler struct {
	enq      Enqueuer
	repo     RecordReader
	cache    RecordCache
	cacheTTL time.Duration
	cacheKey func(string) string
	validate *validator.Validate
	lg       zerolog.Logger
}

func NewMetadataHandler(enq Enqueuer, repo RecordReader, lg zerolog.Logger) *MetadataHandler {
	return &MetadataHandler{
		enq:      enq,
		repo:     repo,
		validate: validator.New(),
		lg:       lg.With().Str("component", "metadata_handler").Logger(),
	}
}

// WithCache enables the read-through lookup cache for COMPLETED records.
func (h *MetadataHandler) WithCache(cache RecordCache, ttl time.Duration, key func(string) string) *MetadataHandler {
	h.cache = cache
	h.cacheTTL = ttl
	h.cacheKey = key
	return h
}

// Post accepts {"url": ...} and enqueues it. 202 on success, 422 on
// validation failure, 503 when the publisher or queue cannot take it.
func (h *MetadataHandler) Post(w http.ResponseWriter, r *http.Request) {
	var req postRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Text(w, http.StatusUnprocessableEntity, "Invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.Text(w, http.StatusUnprocessableEntity, "Invalid URL")
		return
	}
	if !isMinimallyValidURL(req.URL) {
		response.Text(w, http.StatusUnprocessableEntity, "Invalid URL")
		return
	}

	h.enqueueOr503(w, r, req.URL)
}

// Get looks up ?url=U. COMPLETED and FAILED_PERMANENT return 200, in-flight
// statuses return 202 without re-enqueueing, anything else is treated as a
// fresh submission.
func (h *MetadataHandler) Get(w http.ResponseWriter, r *http.Request) {
	rawURL := r.URL.Query().Get("url")
	if rawURL == "" {
		response.Text(w, http.StatusBadRequest, "Missing required query parameter: url")
		return
	}
	if !isMinimallyValidURL(rawURL) {
		response.Text(w, http.StatusBadRequest, "Invalid URL")
		return
	}

	if h.repo == nil {
		response.Text(w, http.StatusServiceUnavailable, "Database not available")
		return
	}

	if rec, ok := h.cachedRecord(r.Context(), rawURL); ok {
		h.writeRecord(w, rec, rawURL)
		return
	}

	rec, err := h.repo.GetByURL(r.Context(), rawURL)
	if err != nil {
		h.lg.Warn().Err(err).Str("url", rawURL).Msg("record lookup failed")
		response.Text(w, http.StatusServiceUnavailable, "")
		return
	}

	if rec != nil && knownStatus(rec.Status) {
		h.cacheRecord(r.Context(), rec)
		h.writeRecord(w, rec, rawURL)
		return
	}

	// absent or unrecognized status: same contract as POST
	h.enqueueOr503(w, r, rawURL)
}

func (h *MetadataHandler) enqueueOr503(w http.ResponseWriter, r *http.Request, rawURL string) {
	if h.enq == nil {
		response.Text(w, http.StatusServiceUnavailable, "Publisher not available")
		return
	}
	if !h.enq.Ready() {
		response.Text(w, http.StatusServiceUnavailable, "Publisher not ready")
		return
	}

	requestID, err := h.enq.Enqueue(r.Context(), rawURL)
	if err != nil {
		if errors.Is(err, domain.ErrQueueRejected) {
			response.Text(w, http.StatusServiceUnavailable, "Queue rejected")
			return
		}
		response.Text(w, http.StatusServiceUnavailable, "Publish failed")
		return
	}

	response.JSON(w, http.StatusAccepted, queuedResponse{
		Status:    domain.StatusQueued,
		URL:       rawURL,
		RequestID: requestID,
	})
}

func (h *MetadataHandler) writeRecord(w http.ResponseWriter, rec *domain.MetadataRecord, requestedURL string) {
	recURL := rec.URL
	if recURL == "" {
		recURL = requestedURL
	}

	switch {
	case rec.Status == domain.StatusCompleted:
		response.JSON(w, http.StatusOK, completedResponse{
			Status: domain.StatusCompleted,
			URL:    recURL,
			Metadata: metadataPayload{
				Headers:           orEmpty(rec.Metadata.Headers),
				Cookies:           orEmpty(rec.Metadata.Cookies),
				StatusCode:        rec.Metadata.StatusCode,
				PageSource:        rec.Metadata.PageSource,
				AdditionalDetails: rec.Metadata.AdditionalDetails,
			},
		})

	case rec.Status == domain.StatusFailedPermanent:
		response.JSON(w, http.StatusOK, failedResponse{
			Status:        domain.StatusFailedPermanent,
			URL:           recURL,
			ErrorMsg:      rec.Processing.ErrorMsg,
			AttemptNumber: rec.Processing.AttemptNumber,
		})

	default: // in-flight
		response.JSON(w, http.StatusAccepted, queuedResponse{
			Status:    domain.StatusInProgress,
			URL:       recURL,
			RequestID: rec.Processing.LastRequestID,
		})
	}
}

// cachedRecord serves COMPLETED lookups from the cache when enabled. Cache
// faults degrade to a store read.
func (h *MetadataHandler) cachedRecord(ctx context.Context, rawURL string) (*domain.MetadataRecord, bool) {
	if h.cache == nil {
		return nil, false
	}
	var rec domain.MetadataRecord
	found, err := h.cache.Get(ctx, h.cacheKey(rawURL), &rec)
	if err != nil {
		h.lg.Debug().Err(err).Str("url", rawURL).Msg("cache read failed")
		return nil, false
	}
	if !found || rec.Status != domain.StatusCompleted {
		return nil, false
	}
	return &rec, true
}

func (h *MetadataHandler) cacheRecord(ctx context.Context, rec *domain.MetadataRecord) {
	if h.cache == nil || rec.Status != domain.StatusCompleted {
		return
	}
	if err := h.cache.Set(ctx, h.cacheKey(rec.URL), rec, h.cacheTTL); err != nil {
		h.lg.Debug().Err(err).Str("url", rec.URL).Msg("cache write failed")
	}
}

// knownStatus reports whether the stored status maps to a response; anything
// else falls through to re-enqueue.
func knownStatus(s domain.Status) bool {
	return s.Terminal() || s.InFlight()
}

func isMinimallyValidURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func orEmpty(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
