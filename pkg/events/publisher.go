package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"

	"github.com/harunnryd/callbridge/pkg/errorsx"
	"github.com/harunnryd/callbridge/pkg/logging"
	"github.com/harunnryd/callbridge/pkg/resilience"
)

// Publisher emits call lifecycle events. The routing key is the event type.
type Publisher interface {
	Publish(ctx context.Context, msg Envelope) error
	Close() error
}

type AMQPConfig struct {
	URL          string
	Exchange     string
	DialRetries  int
	DialBackoff  time.Duration
	ConfirmAfter time.Duration
}

// AMQPPublisher publishes persistent JSON messages to a durable topic exchange and waits
// for broker confirmation.
type AMQPPublisher struct {
	conn     *amqp091.Connection
	exchange string
	confirm  time.Duration
	log      *slog.Logger
}

// DialWithRetry connects to the broker, retrying with exponential backoff.
func DialWithRetry(ctx context.Context, url string, policy resilience.RetryPolicy) (*amqp091.Connection, error) {
	var conn *amqp091.Connection
	err := policy.Do(ctx, func(context.Context) error {
		c, err := amqp091.Dial(url)
		if err != nil {
			return err
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	return conn, nil
}

func NewAMQPPublisher(ctx context.Context, cfg AMQPConfig, logger *slog.Logger) (*AMQPPublisher, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("rabbitmq URL is required")
	}
	if cfg.Exchange == "" {
		cfg.Exchange = "calls"
	}
	if cfg.ConfirmAfter <= 0 {
		cfg.ConfirmAfter = 5 * time.Second
	}
	policy := resilience.NewRetryPolicy(cfg.DialRetries, cfg.DialBackoff)
	policy.MaxBackoff = 10 * time.Second
	conn, err := DialWithRetry(ctx, cfg.URL, policy)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	defer ch.Close()
	if err := ch.ExchangeDeclare(cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &AMQPPublisher{
		conn:     conn,
		exchange: cfg.Exchange,
		confirm:  cfg.ConfirmAfter,
		log:      logging.NewComponentLogger(logger, "events"),
	}, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, msg Envelope) error {
	ch, err := p.conn.Channel()
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonEventsPublish)
	}
	defer ch.Close()
	if err := ch.Confirm(false); err != nil {
		return errorsx.Wrap(err, errorsx.ReasonEventsPublish)
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	msgID := msg.Meta.ID
	if msgID == "" {
		msgID = uuid.NewString()
	}
	cid := ""
	if msg.Meta.CorrelationID != nil {
		cid = *msg.Meta.CorrelationID
	}

	dc, err := ch.PublishWithDeferredConfirmWithContext(
		ctx, p.exchange, msg.Meta.Type, false, false,
		amqp091.Publishing{
			ContentType:   "application/json",
			DeliveryMode:  amqp091.Persistent,
			MessageId:     msgID,
			CorrelationId: cid,
			Timestamp:     time.Now(),
			Type:          msg.Meta.Type,
			Body:          body,
		},
	)
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonEventsPublish)
	}
	wctx, cancel := context.WithTimeout(ctx, p.confirm)
	defer cancel()
	acked, err := dc.WaitContext(wctx)
	if err != nil {
		return errorsx.Wrap(fmt.Errorf("await confirm: %w", err), errorsx.ReasonEventsPublish)
	}
	if !acked {
		return errorsx.Wrap(fmt.Errorf("broker nacked %s", msg.Meta.Type), errorsx.ReasonEventsPublish)
	}
	p.log.Debug("published", slog.String("key", msg.Meta.Type), slog.String("exchange", p.exchange), slog.String("call_id", cid))
	return nil
}

func (p *AMQPPublisher) Close() error {
	return p.conn.Close()
}

// NopPublisher discards events.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Envelope) error { return nil }
func (NopPublisher) Close() error                            { return nil }

// MemoryPublisher keeps published envelopes. Used in tests and local runs.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Envelope
}

func (m *MemoryPublisher) Publish(_ context.Context, msg Envelope) error {
	m.mu.Lock()
	m.events = append(m.events, msg)
	m.mu.Unlock()
	return nil
}

func (m *MemoryPublisher) Close() error { return nil }

func (m *MemoryPublisher) Events() []Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Envelope(nil), m.events...)
}

// Count returns how many envelopes of eventType were published.
func (m *MemoryPublisher) Count(eventType string) int {
	n := 0
	for _, ev := range m.Events() {
		if ev.Meta.Type == eventType {
			n++
		}
	}
	return n
}
