// Package enqueue accepts a URL for asynchronous processing by minting a
// request id and handing the message to the queue publisher.
package enqueue

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/baechuer/urlmeta/internal/domain"
)

// Publisher is the slice of the broker adapter this service needs.
type Publisher interface {
	Ready() bool
	Publish(ctx context.Context, msg domain.QueueMessage) error
}

type Service struct {
	pub Publisher
	lg  zerolog.Logger
}

func NewService(pub Publisher, lg zerolog.Logger) *Service {
	return &Service{pub: pub, lg: lg.With().Str("component", "enqueue").Logger()}
}

// Ready reports whether the underlying publisher can accept work.
func (s *Service) Ready() bool { return s.pub.Ready() }

// Enqueue publishes url under a fresh request id and returns that id. The
// id is returned even on failure so callers can correlate logs. Error kinds
// pass through unchanged: domain.ErrQueueRejected means the bounded queue
// refused the message, anything else is a broker availability problem.
func (s *Service) Enqueue(ctx context.Context, url string) (string, error) {
	requestID := uuid.NewString()
	msg := domain.NewQueueMessage(url, requestID)

	if err := s.pub.Publish(ctx, msg); err != nil {
		s.lg.Warn().Err(err).Str("request_id", requestID).Str("url", url).Msg("enqueue failed")
		return requestID, err
	}

	s.lg.Info().Str("request_id", requestID).Str("url", url).Msg("url enqueued")
	return requestID, nil
}
