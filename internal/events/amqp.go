package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

type AMQPPublisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
}

func declareExchange(ch *amqp.Channel, exchange string) error {
	return ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil)
}

func NewAMQPPublisher(url, exchange string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}

	if err := declareExchange(ch, exchange); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	return &AMQPPublisher{conn: conn, channel: ch, exchange: exchange}, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, ev Event) error {
	body, err := encode(ev)
	if err != nil {
		return err
	}

	// amqp channels are not safe for concurrent publishing.
	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.channel.PublishWithContext(ctx, p.exchange, RoutingKey(ev.Type), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    ev.OccurredAt,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", ev.Type, err)
	}
	return nil
}

func (p *AMQPPublisher) Close() error {
	if p == nil {
		return nil
	}
	if err := p.channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		return err
	}
	return p.conn.Close()
}

// Listener consumes events from a private, auto-deleted queue so every
// replica sees every event it subscribed to.
type Listener struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	handlers map[string]Handler
	log      zerolog.Logger
}

func NewListener(url, exchange string, log zerolog.Logger) (*Listener, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}

	if err := declareExchange(ch, exchange); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	return &Listener{
		conn:     conn,
		channel:  ch,
		exchange: exchange,
		handlers: make(map[string]Handler),
		log:      log.With().Str("component", "event_listener").Logger(),
	}, nil
}

// Handle registers fn for eventType. Call before Run.
func (l *Listener) Handle(eventType string, fn Handler) {
	l.handlers[eventType] = fn
}

// Run binds a queue for every registered event type and dispatches deliveries
// until ctx is cancelled or the broker closes the channel.
func (l *Listener) Run(ctx context.Context) error {
	q, err := l.channel.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	for eventType := range l.handlers {
		if err := l.channel.QueueBind(q.Name, RoutingKey(eventType), l.exchange, false, nil); err != nil {
			return fmt.Errorf("bind %s: %w", eventType, err)
		}
	}

	deliveries, err := l.channel.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", q.Name, err)
	}

	l.log.Info().Str("queue", q.Name).Int("bindings", len(l.handlers)).Msg("event listener started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-deliveries:
			if !ok {
				return errors.New("amqp delivery channel closed")
			}
			l.dispatch(ctx, msg.Body)
		}
	}
}

func (l *Listener) dispatch(ctx context.Context, body []byte) {
	ev, err := decode(body)
	if err != nil {
		l.log.Warn().Err(err).Msg("dropping malformed event")
		return
	}

	fn, ok := l.handlers[ev.Type]
	if !ok {
		return
	}

	handleCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := fn(handleCtx, ev); err != nil {
		l.log.Error().Err(err).Str("event_type", ev.Type).Str("provider_id", ev.ProviderID.String()).Msg("event handler failed")
	}
}

func (l *Listener) Close() error {
	if l == nil {
		return nil
	}
	if err := l.channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
		return err
	}
	return l.conn.Close()
}
