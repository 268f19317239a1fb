package rabbitmq

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/baechuer/urlmeta/internal/backoff"
	"github.com/baechuer/urlmeta/internal/metrics"
)

type ConsumerConfig struct {
	URL            string
	Queue          string
	QueueMaxLength int
	PrefetchCount  int
	Backoff        backoff.Policy
}

// Consumer pulls deliveries off the bounded queue with manual acks and a
// per-channel prefetch window. It declares the queue with the same arguments
// as the publisher so whichever side starts first wins the declaration.
//
// A broker fault drops it to RECONNECTING; the supervisor redials and, if a
// handler was subscribed, resubscribes it under a fresh consumer tag.
type Consumer struct {
	cfg ConsumerConfig
	lg  zerolog.Logger

	mu    sync.Mutex
	state State
	conn  *amqp.Connection
	ch    *amqp.Channel

	handler func(Delivery)
	tag     string

	closing      bool
	reconnecting bool
	reconnectCtx context.Context
	cancelRecon  context.CancelFunc
}

func NewConsumer(cfg ConsumerConfig, lg zerolog.Logger) *Consumer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Consumer{
		cfg:          cfg,
		lg:           lg.With().Str("component", "rabbitmq_consumer").Logger(),
		state:        StateDisconnected,
		reconnectCtx: ctx,
		cancelRecon:  cancel,
	}
}

func (c *Consumer) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Consumer) Ready() bool { return c.State() == StateReady }

// Connect drives the ladder up to READY, spacing dial attempts with the
// backoff policy.
func (c *Consumer) Connect(ctx context.Context) error {
	c.setState(StateConnecting)

	err := backoff.Retry(ctx, c.cfg.Backoff, func(attempt int, delay time.Duration) error {
		c.lg.Info().Int("attempt", attempt).Dur("delay", delay).Msg("broker connect attempt")
		return c.dialAndDeclare()
	})
	if err != nil {
		c.setState(StateDisconnected)
		c.lg.Error().Err(err).Msg("broker connect exhausted")
		return err
	}
	return nil
}

func (c *Consumer) dialAndDeclare() error {
	conn, err := amqp.Dial(c.cfg.URL)
	if err != nil {
		return err
	}
	c.setState(StateConnected)

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return err
	}
	c.setState(StateChannelOpen)

	if err := ch.Qos(c.cfg.PrefetchCount, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return err
	}

	if _, err := ch.QueueDeclare(
		c.cfg.Queue,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		amqp.Table{
			"x-max-length": int32(c.cfg.QueueMaxLength),
			"x-overflow":   "reject-publish",
		},
	); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return err
	}
	c.setState(StateQueueDeclared)

	c.mu.Lock()
	c.conn = conn
	c.ch = ch
	c.state = StateReady
	c.mu.Unlock()

	go c.watchClose(conn.NotifyClose(make(chan *amqp.Error, 1)))

	c.lg.Info().Str("queue", c.cfg.Queue).Int("prefetch", c.cfg.PrefetchCount).Msg("consumer ready")
	return nil
}

// StartConsuming subscribes handler to the queue and returns the consumer
// tag. The handler runs on a dispatch goroutine, one delivery at a time
// within the prefetch window, and owns the ack decision.
func (c *Consumer) StartConsuming(handler func(Delivery)) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateReady || c.ch == nil {
		return "", fmt.Errorf("consumer not ready (state=%s)", c.state)
	}

	tag := "urlmeta-" + uuid.NewString()
	deliveries, err := c.ch.Consume(
		c.cfg.Queue,
		tag,
		false, // autoAck: acks are manual
		false, // exclusive
		false, // noLocal
		false, // noWait
		nil,
	)
	if err != nil {
		return "", fmt.Errorf("consume %s: %w", c.cfg.Queue, err)
	}

	c.handler = handler
	c.tag = tag
	go c.dispatch(deliveries, handler)

	c.lg.Info().Str("consumer_tag", tag).Msg("consuming started")
	return tag, nil
}

// dispatch feeds deliveries to the handler until the broker channel closes.
func (c *Consumer) dispatch(deliveries <-chan amqp.Delivery, handler func(Delivery)) {
	for d := range deliveries {
		metrics.RecordMessageConsumed(c.cfg.Queue)
		handler(&amqpDelivery{d: d})
	}
	c.lg.Debug().Msg("delivery stream ended")
}

// Cancel stops the subscription identified by tag. In-flight deliveries
// already handed to the handler still finish.
func (c *Consumer) Cancel(tag string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ch == nil {
		return nil
	}
	if err := c.ch.Cancel(tag, false); err != nil {
		return fmt.Errorf("cancel %s: %w", tag, err)
	}
	if c.tag == tag {
		c.tag = ""
		c.handler = nil
	}
	c.lg.Info().Str("consumer_tag", tag).Msg("consuming cancelled")
	return nil
}

func (c *Consumer) watchClose(closed <-chan *amqp.Error) {
	err, ok := <-closed
	if !ok || err == nil {
		return // clean shutdown
	}

	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return
	}
	c.state = StateReconnecting
	start := !c.reconnecting
	c.reconnecting = true
	c.mu.Unlock()

	c.lg.Warn().Err(err).Msg("broker disconnect detected")
	if start {
		go c.reconnectLoop()
	}
}

func (c *Consumer) reconnectLoop() {
	defer func() {
		c.mu.Lock()
		c.reconnecting = false
		c.mu.Unlock()
	}()

	err := backoff.Retry(c.reconnectCtx, c.cfg.Backoff, func(attempt int, delay time.Duration) error {
		c.mu.Lock()
		closing := c.closing
		c.mu.Unlock()
		if closing {
			return nil
		}

		c.lg.Info().Int("attempt", attempt).Dur("delay", delay).Msg("broker reconnect attempt")
		if err := c.dialAndDeclare(); err != nil {
			c.lg.Warn().Err(err).Msg("reconnect failed")
			return err
		}
		return c.resubscribe()
	})
	if err != nil {
		c.setState(StateDisconnected)
		c.lg.Error().Err(err).Msg("broker reconnect exhausted")
	}
}

// resubscribe restores the stored handler on the fresh channel under a new
// consumer tag. The old tag died with the old channel.
func (c *Consumer) resubscribe() error {
	c.mu.Lock()
	handler := c.handler
	ch := c.ch
	c.mu.Unlock()

	if handler == nil || ch == nil {
		c.lg.Info().Msg("broker reconnected, no subscription to restore")
		return nil
	}

	tag := "urlmeta-" + uuid.NewString()
	deliveries, err := ch.Consume(c.cfg.Queue, tag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("resubscribe %s: %w", c.cfg.Queue, err)
	}

	c.mu.Lock()
	c.tag = tag
	c.mu.Unlock()
	go c.dispatch(deliveries, handler)

	c.lg.Info().Str("consumer_tag", tag).Msg("broker reconnected, subscription restored")
	return nil
}

// Close cancels the subscription and tears down channel then connection.
// Idempotent.
func (c *Consumer) Close(context.Context) error {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return nil
	}
	c.closing = true
	c.state = StateClosing
	c.mu.Unlock()

	c.cancelRecon()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ch != nil {
		if c.tag != "" {
			_ = c.ch.Cancel(c.tag, false)
		}
		_ = c.ch.Close()
		c.ch = nil
	}
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.state = StateClosed
	c.lg.Info().Msg("consumer closed")
	return nil
}

func (c *Consumer) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}
