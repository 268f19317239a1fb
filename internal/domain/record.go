package domain

import "time"

// Status is the processing lifecycle state of a metadata record.
type Status string

const (
	StatusPending         Status = "PENDING"
	StatusQueued          Status = "QUEUED"
	StatusInProgress      Status = "IN_PROGRESS"
	StatusCompleted       Status = "COMPLETED"
	StatusFailedRetryable Status = "FAILED_RETRYABLE"
	StatusFailedPermanent Status = "FAILED_PERMANENT"
	StatusUnknown         Status = "UNKNOWN"
)

// Terminal reports whether the status stops the retry loop for a URL.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailedPermanent
}

// InFlight reports whether a lookup should be answered with 202 IN_PROGRESS.
// PENDING is not externally distinguishable from IN_PROGRESS.
func (s Status) InFlight() bool {
	switch s {
	case StatusQueued, StatusPending, StatusInProgress, StatusFailedRetryable:
		return true
	}
	return false
}

// MetadataBlock is the fetched-metadata portion of a record.
type MetadataBlock struct {
	Headers           map[string]string `bson:"headers" json:"headers"`
	Cookies           map[string]string `bson:"cookies" json:"cookies"`
	PageSource        string            `bson:"page_source" json:"page_source"`
	StatusCode        int               `bson:"status_code" json:"status_code"`
	FinalURL          string            `bson:"final_url" json:"final_url"`
	AdditionalDetails map[string]any    `bson:"additional_details,omitempty" json:"additional_details,omitempty"`
}

// EmptyMetadata is the metadata block written on record creation, before any
// fetch has completed.
func EmptyMetadata() MetadataBlock {
	return MetadataBlock{
		Headers: map[string]string{},
		Cookies: map[string]string{},
	}
}

// ProcessingState carries per-record bookkeeping written by the worker.
// AttemptNumber is the count of fetch attempts completed for this URL; it is
// supplied by the processing service, never incremented by the store.
type ProcessingState struct {
	AttemptNumber int       `bson:"attempt_number" json:"attempt_number"`
	ErrorMsg      string    `bson:"error_msg,omitempty" json:"error_msg,omitempty"`
	LastAttemptAt time.Time `bson:"last_attempt_at" json:"last_attempt_at"`
	LastRequestID string    `bson:"last_request_id" json:"last_request_id"`
}

// MetadataRecord is one persisted document per URL, keyed by URL.
type MetadataRecord struct {
	URL        string          `bson:"url" json:"url"`
	Status     Status          `bson:"status" json:"status"`
	Metadata   MetadataBlock   `bson:"metadata" json:"metadata"`
	Processing ProcessingState `bson:"processing" json:"processing"`
	CreatedAt  time.Time       `bson:"created_at" json:"created_at"`
	UpdatedAt  time.Time       `bson:"updated_at" json:"updated_at"`
}

// ProcessingContext is the per-message context threaded through repository
// transitions.
type ProcessingContext struct {
	RequestID     string
	StartedAt     time.Time
	AttemptNumber int
}
