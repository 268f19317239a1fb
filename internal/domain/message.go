package domain

import "time"

// QueueMessage is the JSON payload published per ingress submission.
type QueueMessage struct {
	URL         string `json:"url"`
	RequestID   string `json:"request_id"`
	RequestedAt string `json:"requested_at"`
}

// NewQueueMessage builds a message with requested_at stamped now (UTC, RFC3339).
func NewQueueMessage(url, requestID string) QueueMessage {
	return QueueMessage{
		URL:         url,
		RequestID:   requestID,
		RequestedAt: time.Now().UTC().Format(time.RFC3339),
	}
}
