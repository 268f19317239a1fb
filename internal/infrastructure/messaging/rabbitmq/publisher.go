// Package rabbitmq holds the broker adapters: a confirming publisher and a
// manual-ack consumer, both with supervised reconnect.
package rabbitmq

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/baechuer/urlmeta/internal/backoff"
	"github.com/baechuer/urlmeta/internal/domain"
	"github.com/baechuer/urlmeta/internal/metrics"
)

type PublisherConfig struct {
	URL            string
	Queue          string
	QueueMaxLength int
	PublishTimeout time.Duration
	Backoff        backoff.Policy
}

// Publisher owns a confirming channel to a bounded durable queue.
//
// Ladder: DISCONNECTED → CONNECTING → CONNECTED → CHANNEL_OPEN →
// CONFIRM_ENABLED → QUEUE_DECLARED → READY; broker faults drop it to
// RECONNECTING and a supervisor goroutine climbs back; Close walks
// CLOSING → CLOSED.
type Publisher struct {
	cfg PublisherConfig
	lg  zerolog.Logger

	mu        sync.Mutex
	state     State
	conn      *amqp.Connection
	ch        *amqp.Channel
	confirmCh <-chan amqp.Confirmation
	returnCh  <-chan amqp.Return

	closing      bool
	reconnecting bool
	reconnectCtx context.Context
	cancelRecon  context.CancelFunc
}

func NewPublisher(cfg PublisherConfig, lg zerolog.Logger) *Publisher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Publisher{
		cfg:          cfg,
		lg:           lg.With().Str("component", "rabbitmq_publisher").Logger(),
		state:        StateDisconnected,
		reconnectCtx: ctx,
		cancelRecon:  cancel,
	}
}

func (p *Publisher) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Publisher) Ready() bool { return p.State() == StateReady }

// Connect drives the ladder up to READY, spacing dial attempts with the
// backoff policy. Exhausting the budget leaves the publisher DISCONNECTED.
func (p *Publisher) Connect(ctx context.Context) error {
	p.setState(StateConnecting)

	err := backoff.Retry(ctx, p.cfg.Backoff, func(attempt int, delay time.Duration) error {
		p.lg.Info().Int("attempt", attempt).Dur("delay", delay).Msg("broker connect attempt")
		return p.dialAndDeclare()
	})
	if err != nil {
		p.setState(StateDisconnected)
		p.lg.Error().Err(err).Msg("broker connect exhausted")
		return err
	}
	return nil
}

func (p *Publisher) dialAndDeclare() error {
	conn, err := amqp.Dial(p.cfg.URL)
	if err != nil {
		return err
	}
	p.setState(StateConnected)

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return err
	}
	p.setState(StateChannelOpen)

	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return err
	}
	p.setState(StateConfirmEnabled)

	if _, err := ch.QueueDeclare(
		p.cfg.Queue,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		amqp.Table{
			"x-max-length": int32(p.cfg.QueueMaxLength),
			"x-overflow":   "reject-publish",
		},
	); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return err
	}
	p.setState(StateQueueDeclared)

	p.mu.Lock()
	p.conn = conn
	p.ch = ch
	p.confirmCh = ch.NotifyPublish(make(chan amqp.Confirmation, 1))
	p.returnCh = ch.NotifyReturn(make(chan amqp.Return, 1))
	p.state = StateReady
	p.mu.Unlock()

	go p.watchClose(conn.NotifyClose(make(chan *amqp.Error, 1)))

	p.lg.Info().Str("queue", p.cfg.Queue).Msg("publisher ready")
	return nil
}

// watchClose receives the broker close notification, which arrives on a
// library goroutine. Reconnect work is handed to a supervisor goroutine
// rather than done in the callback.
func (p *Publisher) watchClose(closed <-chan *amqp.Error) {
	err, ok := <-closed
	if !ok || err == nil {
		return // clean shutdown
	}

	p.mu.Lock()
	if p.closing {
		p.mu.Unlock()
		return
	}
	p.state = StateReconnecting
	start := !p.reconnecting
	p.reconnecting = true
	p.mu.Unlock()

	p.lg.Warn().Err(err).Msg("broker disconnect detected")
	if start {
		go p.reconnectLoop()
	}
}

func (p *Publisher) reconnectLoop() {
	defer func() {
		p.mu.Lock()
		p.reconnecting = false
		p.mu.Unlock()
	}()

	err := backoff.Retry(p.reconnectCtx, p.cfg.Backoff, func(attempt int, delay time.Duration) error {
		p.mu.Lock()
		closing := p.closing
		p.mu.Unlock()
		if closing {
			return nil
		}

		p.lg.Info().Int("attempt", attempt).Dur("delay", delay).Msg("broker reconnect attempt")
		if err := p.dialAndDeclare(); err != nil {
			p.lg.Warn().Err(err).Msg("reconnect failed")
			return err
		}
		p.lg.Info().Msg("broker reconnected")
		return nil
	})
	if err != nil {
		p.setState(StateDisconnected)
		p.lg.Error().Err(err).Msg("broker reconnect exhausted")
	}
}

// Publish serializes the message as persistent JSON to the default exchange
// with the queue name as routing key and waits for the broker confirm. The
// mutex admits one publish at a time, which also lets Close drain in-flight
// work. Failure kinds: not READY → ErrPublisherNotReady; broker
// NACK/Return/overflow text → ErrQueueRejected; anything else →
// ErrConnectionLost plus a scheduled reconnect.
func (p *Publisher) Publish(ctx context.Context, msg domain.QueueMessage) error {
	if !p.Ready() {
		metrics.RecordPublishFailure("publisher_not_ready")
		return domain.ErrPublisherNotReady
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ch == nil || p.state != StateReady {
		metrics.RecordPublishFailure("publisher_not_ready")
		return domain.ErrPublisherNotReady
	}

	body, err := json.Marshal(msg)
	if err != nil {
		metrics.RecordPublishFailure("encode")
		return err
	}

	pubCtx, cancel := context.WithTimeout(ctx, p.cfg.PublishTimeout)
	defer cancel()

	start := time.Now()
	err = p.ch.PublishWithContext(
		pubCtx,
		"",          // default exchange
		p.cfg.Queue, // routing key = queue name
		true,        // mandatory
		false,       // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    msg.RequestID,
			Timestamp:    time.Now().UTC(),
			Body:         body,
		},
	)
	if err != nil {
		return p.publishFailedLocked(err)
	}

	select {
	case ret := <-p.returnCh:
		p.lg.Warn().Str("reply_text", ret.ReplyText).Msg("publish returned")
		metrics.RecordPublishFailure("queue_rejected")
		return domain.ErrQueueRejected

	case conf, ok := <-p.confirmCh:
		if !ok {
			return p.publishFailedLocked(amqp.ErrClosed)
		}
		if !conf.Ack {
			// reject-publish overflow surfaces as a basic.nack
			metrics.RecordPublishFailure("queue_rejected")
			return domain.ErrQueueRejected
		}
		p.lg.Debug().
			Str("request_id", msg.RequestID).
			Str("url", msg.URL).
			Dur("latency", time.Since(start)).
			Msg("publish confirmed")
		metrics.RecordMessagePublished(p.cfg.Queue)
		return nil

	case <-pubCtx.Done():
		return p.publishFailedLocked(pubCtx.Err())
	}
}

// publishFailedLocked classifies a publish failure; called with mu held.
func (p *Publisher) publishFailedLocked(cause error) error {
	if isOverflowError(cause) {
		metrics.RecordPublishFailure("queue_rejected")
		return domain.ErrQueueRejected
	}

	p.lg.Error().Err(cause).Msg("publish failed")
	metrics.RecordPublishFailure("connection_lost")

	if !p.closing {
		p.state = StateReconnecting
		if !p.reconnecting {
			p.reconnecting = true
			go p.reconnectLoop()
		}
	}
	return domain.ErrConnectionLost
}

// Close cancels any pending reconnect, drains the in-flight publish via the
// mutex, tears the channel down before the connection, and is idempotent.
func (p *Publisher) Close(context.Context) error {
	p.mu.Lock()
	if p.closing {
		p.mu.Unlock()
		return nil
	}
	p.closing = true
	p.state = StateClosing
	p.mu.Unlock()

	p.cancelRecon()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
	p.state = StateClosed
	p.lg.Info().Msg("publisher closed")
	return nil
}

func (p *Publisher) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// isOverflowError matches the broker error text signaling queue overflow.
func isOverflowError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "queue_rejected") || strings.Contains(msg, "queue_overflow")
}
