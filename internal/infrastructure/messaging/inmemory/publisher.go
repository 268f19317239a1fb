// Package inmemory provides a publisher that records messages instead of
// talking to a broker. Selected via PUBLISHER_BACKEND=inmemory for local mode
// and used by handler tests.
package inmemory

import (
	"context"
	"sync"

	"github.com/baechuer/urlmeta/internal/domain"
)

type Publisher struct {
	mu       sync.Mutex
	messages []domain.QueueMessage

	// NotReady forces Ready() to report false. Test hook.
	NotReady bool
	// FailWith, when set, makes Publish return it. Test hook.
	FailWith error
}

func New() *Publisher { return &Publisher{} }

func (p *Publisher) Connect(context.Context) error { return nil }

func (p *Publisher) Ready() bool { return !p.NotReady }

func (p *Publisher) Publish(_ context.Context, msg domain.QueueMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FailWith != nil {
		return p.FailWith
	}
	p.messages = append(p.messages, msg)
	return nil
}

func (p *Publisher) Close(context.Context) error { return nil }

// Messages returns a snapshot of everything published so far.
func (p *Publisher) Messages() []domain.QueueMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.QueueMessage, len(p.messages))
	copy(out, p.messages)
	return out
}
