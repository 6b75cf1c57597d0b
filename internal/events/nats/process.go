package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/d-kimanthi/multi-agent-document-processor/internal/events"
)

const DefaultSubjectPrefix = "docintel"

type NATSBus struct {
	conn *nats.Conn
	js   nats.JetStreamContext
}

var _ events.Bus = (*NATSBus)(nil)

type Config struct {
	URL           string
	Name          string
	MaxReconnects int
	ReconnectWait time.Duration
}

func New(cfg Config) (*NATSBus, error) {
	if cfg.Name == "" {
		cfg.Name = DefaultSubjectPrefix
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 2 * time.Second
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
	)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.URL, err)
	}
	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("jetstream: %w", err)
	}
	return &NATSBus{conn: conn, js: js}, nil
}

// CreateStream is idempotent: an existing stream with the same name is kept as is.
func (n *NATSBus) CreateStream(cfg events.StreamConfig) error {
	sc := &nats.StreamConfig{
		Name:      cfg.Name,
		Subjects:  cfg.Subjects,
		Retention: nats.LimitsPolicy,
		Storage:   nats.FileStorage,
		MaxMsgs:   cfg.MaxMsgs,
		MaxAge:    cfg.MaxAge,
	}
	if cfg.WorkQueue {
		sc.Retention = nats.WorkQueuePolicy
	}
	if cfg.InMemory {
		sc.Storage = nats.MemoryStorage
	}

	_, err := n.js.AddStream(sc)
	if errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("add stream %s: %w", cfg.Name, err)
	}
	return nil
}

// StreamNames returns the message-mirror and command stream names for prefix.
func StreamNames(prefix string) (messages, commands string) {
	upper := strings.ToUpper(durableFromSubject(prefix))
	return upper + "_MESSAGES", upper + "_COMMANDS"
}

// SetupStreams creates the pipeline streams under prefix.
func (n *NATSBus) SetupStreams(prefix string) error {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	messages, commands := StreamNames(prefix)

	// mirror of the message bus, for observers only
	if err := n.CreateStream(events.StreamConfig{
		Name:     messages,
		Subjects: []string{prefix + ".message.>"},
		InMemory: true,
		MaxMsgs:  100000,
		MaxAge:   24 * time.Hour,
	}); err != nil {
		return err
	}

	// ingest commands, each consumed once
	return n.CreateStream(events.StreamConfig{
		Name:      commands,
		Subjects:  []string{prefix + ".command.>"},
		WorkQueue: true,
		MaxMsgs:   10000,
		MaxAge:    24 * time.Hour,
	})
}

func (n *NATSBus) Publish(ctx context.Context, subject string, payload []byte) error {
	if _, err := n.js.Publish(subject, payload, nats.Context(ctx)); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

func (n *NATSBus) PublishEvent(ctx context.Context, subject string, event interface{}) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", subject, err)
	}
	return n.Publish(ctx, subject, data)
}

// Subscribe binds a durable push consumer named after subject. A work-queue
// stream allows one consumer per filter, so when another process already owns
// it the subscription binds to that consumer instead.
func (n *NATSBus) Subscribe(subject string, handler events.Handler) (events.Subscription, error) {
	callback := func(msg *nats.Msg) {
		// no ack on error: the server redelivers after AckWait
		_ = handler(context.Background(), &natsMessage{msg: msg})
	}

	sub, err := n.js.Subscribe(subject, callback, nats.Durable(durableFromSubject(subject)), nats.ManualAck())
	if err == nil {
		return sub, nil
	}
	if !strings.Contains(err.Error(), "filtered consumer not unique on workqueue stream") {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}

	stream, consumer, found := n.consumerFor(subject)
	if !found {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	bound, err := n.js.Subscribe(subject, callback, nats.Bind(stream, consumer), nats.ManualAck())
	if err != nil {
		return nil, fmt.Errorf("bind %s/%s: %w", stream, consumer, err)
	}
	return bound, nil
}

func (n *NATSBus) consumerFor(subject string) (stream, consumer string, found bool) {
	stream, err := n.js.StreamNameBySubject(subject)
	if err != nil {
		return "", "", false
	}
	for name := range n.js.ConsumerNames(stream) {
		info, err := n.js.ConsumerInfo(stream, name)
		if err == nil && info.Config.FilterSubject == subject {
			return stream, name, true
		}
	}
	return "", "", false
}

func durableFromSubject(subject string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		}
		return '_'
	}, subject)
}

// CreateConsumer ensures the durable exists and binds one pull subscription to
// it. Acks are always explicit.
func (n *NATSBus) CreateConsumer(stream, durable string, cfg events.ConsumerConfig) (events.Consumer, error) {
	if cfg.Durable == "" {
		cfg.Durable = durable
	}
	deliver := nats.DeliverAllPolicy
	if cfg.DeliverNew {
		deliver = nats.DeliverNewPolicy
	}

	_, err := n.js.AddConsumer(stream, &nats.ConsumerConfig{
		Durable:       cfg.Durable,
		FilterSubject: cfg.FilterSubject,
		DeliverPolicy: deliver,
		AckPolicy:     nats.AckExplicitPolicy,
		AckWait:       cfg.AckWait,
		MaxDeliver:    cfg.MaxDeliver,
		MaxAckPending: cfg.MaxAckPending,
	})
	if err != nil && !errors.Is(err, nats.ErrConsumerNameAlreadyInUse) {
		return nil, fmt.Errorf("add consumer %s/%s: %w", stream, cfg.Durable, err)
	}

	sub, err := n.js.PullSubscribe(cfg.FilterSubject, cfg.Durable, nats.Bind(stream, cfg.Durable))
	if err != nil {
		return nil, fmt.Errorf("pull subscribe %s/%s: %w", stream, cfg.Durable, err)
	}
	return &natsConsumer{sub: sub}, nil
}

func (n *NATSBus) DeleteStream(name string) error {
	return n.js.DeleteStream(name)
}

// Close drains the subscriptions and closes the connection.
func (n *NATSBus) Close() error {
	if err := n.conn.Drain(); err != nil {
		n.conn.Close()
		return err
	}
	return nil
}

type natsMessage struct {
	msg *nats.Msg
}

func (m *natsMessage) Data() []byte    { return m.msg.Data }
func (m *natsMessage) Subject() string { return m.msg.Subject }
func (m *natsMessage) Ack() error      { return m.msg.Ack() }

func (m *natsMessage) Nak(delay ...time.Duration) error {
	if len(delay) > 0 && delay[0] > 0 {
		return m.msg.NakWithDelay(delay[0])
	}
	return m.msg.Nak()
}

func (m *natsMessage) Metadata() (*events.Delivery, error) {
	meta, err := m.msg.Metadata()
	if err != nil {
		return nil, err
	}
	return &events.Delivery{
		Stream:    meta.Stream,
		Sequence:  meta.Sequence.Stream,
		Published: meta.Timestamp,
		Attempt:   int(meta.NumDelivered),
	}, nil
}

type natsConsumer struct {
	sub *nats.Subscription
}

func (c *natsConsumer) Fetch(batch int, timeout time.Duration) ([]events.Message, error) {
	msgs, err := c.sub.Fetch(batch, nats.MaxWait(timeout))
	if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return nil, nil // nothing pending
	}
	if err != nil {
		return nil, err
	}
	out := make([]events.Message, len(msgs))
	for i, msg := range msgs {
		out[i] = &natsMessage{msg: msg}
	}
	return out, nil
}
