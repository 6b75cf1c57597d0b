// Package events is the durable transport behind the in-process message bus:
// a mirror of bus traffic for observers and an ingest command queue for
// workers. internal/events/nats implements it on JetStream.
package events

import (
	"context"
	"time"
)

type Bus interface {
	Publish(ctx context.Context, subject string, payload []byte) error
	// PublishEvent encodes event as JSON before publishing
	PublishEvent(ctx context.Context, subject string, event interface{}) error

	// Subscribe delivers by push; a handler error leaves the message unacked
	Subscribe(subject string, handler Handler) (Subscription, error)
	// CreateConsumer prepares a durable pull consumer for workers
	CreateConsumer(stream, durable string, cfg ConsumerConfig) (Consumer, error)

	CreateStream(cfg StreamConfig) error
	DeleteStream(name string) error
	Close() error
}

type Handler func(ctx context.Context, msg Message) error

// Message is one delivery. Every delivery must end in Ack or Nak.
type Message interface {
	Data() []byte
	Subject() string
	Ack() error
	Nak(delay ...time.Duration) error
	Metadata() (*Delivery, error)
}

// Delivery describes where a message sits in its stream.
type Delivery struct {
	Stream    string
	Sequence  uint64
	Published time.Time
	// Attempt is 1 on first delivery.
	Attempt int
}

type Subscription interface {
	Unsubscribe() error
}

// Consumer pulls messages. Fetch with nothing pending returns (nil, nil).
type Consumer interface {
	Fetch(batch int, timeout time.Duration) ([]Message, error)
}

type ConsumerConfig struct {
	Durable       string
	FilterSubject string
	DeliverNew    bool // default replays everything still retained
	MaxAckPending int
	AckWait       time.Duration
	MaxDeliver    int
}

type StreamConfig struct {
	Name     string
	Subjects []string
	// WorkQueue removes a message once one consumer acks it.
	WorkQueue bool
	InMemory  bool
	MaxMsgs   int64
	MaxAge    time.Duration
}
