package domain

import (
	"errors"
	"fmt"
)

// Adapter-level error kinds. Handlers map these to HTTP statuses; the
// publisher maps broker faults onto them.
var (
	ErrPublisherNotReady = errors.New("publisher_not_ready")
	ErrQueueRejected     = errors.New("queue_rejected")
	ErrConnectionLost    = errors.New("connection_lost")
	ErrStoreUnavailable  = errors.New("store_unavailable")
)

// FetchError covers network, TLS, DNS and HTTP-status failures during a
// metadata fetch. Retryable.
type FetchError struct {
	Reason string
}

func (e *FetchError) Error() string { return "fetch_error: " + e.Reason }

// FetchTimeoutError covers connect and read timeouts. Retryable.
type FetchTimeoutError struct {
	Reason string
}

func (e *FetchTimeoutError) Error() string { return "fetch_timeout: " + e.Reason }

// RetryableFetch reports whether err is one of the fetch error kinds the
// processing service retries on.
func RetryableFetch(err error) bool {
	var fe *FetchError
	var te *FetchTimeoutError
	return errors.As(err, &fe) || errors.As(err, &te)
}

// MalformedMessageError marks a queue delivery that cannot be decoded into a
// valid QueueMessage. The broker adapter must reject it without requeue.
type MalformedMessageError struct {
	Reason string
	Cause  error
}

func (e *MalformedMessageError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("malformed message: %s: %v", e.Reason, e.Cause)
	}
	return "malformed message: " + e.Reason
}

func (e *MalformedMessageError) Unwrap() error { return e.Cause }
