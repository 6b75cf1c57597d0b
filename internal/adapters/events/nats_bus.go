package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/d-kimanthi/multi-agent-document-processor/internal/core/domain"
	"github.com/d-kimanthi/multi-agent-document-processor/internal/core/ports"
	"github.com/d-kimanthi/multi-agent-document-processor/internal/events"
)

const (
	DefaultTapBuffer = 1024
	nakDelay         = 5 * time.Second
	// maxDeliver bounds how often a failing ingest command is redelivered.
	maxDeliver = 5
)

// Subjects derives every subject the pipeline uses from one prefix.
type Subjects struct {
	Prefix string
}

// Message is where a bus message of the given type is mirrored.
func (s Subjects) Message(t domain.MessageType) string {
	return s.Prefix + ".message." + string(t)
}

func (s Subjects) Ingest() string {
	return s.Prefix + ".command.ingest"
}

// IngestCommand asks the pipeline to process one document.
type IngestCommand struct {
	DocumentID string `json:"document_id"`
	Location   string `json:"location"`
}

// TriggerFunc starts a workflow; it matches Orchestrator.Trigger.
type TriggerFunc func(ctx context.Context, documentID, location string) (string, error)

// EventBusImpl adapts the NATS bus to the document pipeline.
type EventBusImpl struct {
	bus      events.Bus
	subjects Subjects
	logger   *slog.Logger
}

func NewEventBus(bus events.Bus, prefix string, logger *slog.Logger) *EventBusImpl {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventBusImpl{bus: bus, subjects: Subjects{Prefix: prefix}, logger: logger}
}

func (e *EventBusImpl) Subjects() Subjects { return e.subjects }

func (e *EventBusImpl) PublishMessage(ctx context.Context, msg domain.Message) error {
	return e.bus.PublishEvent(ctx, e.subjects.Message(msg.Type), msg)
}

func (e *EventBusImpl) PublishIngest(ctx context.Context, cmd IngestCommand) error {
	if cmd.DocumentID == "" {
		return fmt.Errorf("%w: document id is required", domain.ErrInvalidPayload)
	}
	return e.bus.PublishEvent(ctx, e.subjects.Ingest(), cmd)
}

// handleIngest decodes one ingest command and triggers it. Malformed commands
// are acked and dropped; trigger failures are nak'ed for redelivery until the
// last allowed delivery, which is acked and dropped.
func (e *EventBusImpl) handleIngest(ctx context.Context, msg events.Message, trigger TriggerFunc) error {
	var cmd IngestCommand
	if err := json.Unmarshal(msg.Data(), &cmd); err != nil || cmd.DocumentID == "" {
		e.logger.Warn("dropping malformed ingest command", "subject", msg.Subject(), "error", err)
		return msg.Ack()
	}

	id, err := trigger(ctx, cmd.DocumentID, cmd.Location)
	if err != nil {
		attempt := 0
		if meta, metaErr := msg.Metadata(); metaErr == nil {
			attempt = meta.Attempt
		}
		if attempt >= maxDeliver {
			e.logger.Error("dropping ingest command after final delivery",
				"document_id", cmd.DocumentID, "attempt", attempt, "error", err)
			return errors.Join(err, msg.Ack())
		}
		e.logger.Error("ingest trigger failed", "document_id", cmd.DocumentID, "attempt", attempt, "error", err)
		if nakErr := msg.Nak(nakDelay); nakErr != nil {
			return errors.Join(err, nakErr)
		}
		return err
	}

	e.logger.Info("ingest command accepted", "document_id", cmd.DocumentID, "workflow_id", id)
	return msg.Ack()
}

// SubscribeIngest pushes ingest commands into trigger as they arrive.
func (e *EventBusImpl) SubscribeIngest(trigger TriggerFunc) (events.Subscription, error) {
	return e.bus.Subscribe(e.subjects.Ingest(), func(ctx context.Context, msg events.Message) error {
		return e.handleIngest(ctx, msg, trigger)
	})
}

// ConsumeIngest pulls ingest commands in batches until ctx is done.
func (e *EventBusImpl) ConsumeIngest(ctx context.Context, stream, durable string, batch int, trigger TriggerFunc) error {
	consumer, err := e.bus.CreateConsumer(stream, durable, events.ConsumerConfig{
		Durable:       durable,
		FilterSubject: e.subjects.Ingest(),
		MaxAckPending: batch * 4,
		AckWait:       time.Minute,
		MaxDeliver:    maxDeliver,
	})
	if err != nil {
		return fmt.Errorf("create ingest consumer: %w", err)
	}

	for {
		if ctx.Err() != nil {
			return nil
		}
		msgs, err := consumer.Fetch(batch, 2*time.Second)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			e.logger.Warn("fetch ingest commands", "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}
		for _, msg := range msgs {
			// handleIngest already logged and settled the message
			if err := e.handleIngest(ctx, msg, trigger); err != nil {
				e.logger.Debug("ingest command not accepted", "subject", msg.Subject(), "error", err)
			}
		}
	}
}

func (e *EventBusImpl) Close() error {
	return e.bus.Close()
}

// Tap mirrors every accepted bus message to NATS. Observe never blocks: when
// the buffer is full the message is counted as dropped.
type Tap struct {
	events  *EventBusImpl
	ch      chan domain.Message
	only    map[domain.MessageType]struct{}
	dropped atomic.Int64
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

var _ ports.MessageTap = (*Tap)(nil)

func NewTap(e *EventBusImpl, buffer int) *Tap {
	if buffer <= 0 {
		buffer = DefaultTapBuffer
	}
	t := &Tap{events: e, ch: make(chan domain.Message, buffer)}
	t.wg.Add(1)
	go t.run()
	return t
}

// Only restricts mirroring to the given message types. Call before the tap is
// handed to the bus.
func (t *Tap) Only(types ...domain.MessageType) *Tap {
	if len(types) == 0 {
		return t
	}
	t.only = make(map[domain.MessageType]struct{}, len(types))
	for _, typ := range types {
		t.only[typ] = struct{}{}
	}
	return t
}

func (t *Tap) Observe(msg domain.Message) {
	if t.only != nil {
		if _, ok := t.only[msg.Type]; !ok {
			return
		}
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return
	}
	select {
	case t.ch <- msg:
	default:
		t.dropped.Add(1)
	}
}

func (t *Tap) run() {
	defer t.wg.Done()
	for msg := range t.ch {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := t.events.PublishMessage(ctx, msg); err != nil {
			t.events.logger.Debug("mirror message", "type", string(msg.Type), "error", err)
		}
		cancel()
	}
}

func (t *Tap) Dropped() int64 { return t.dropped.Load() }

// Close flushes buffered messages. Later Observe calls are ignored.
func (t *Tap) Close() {
	t.mu.Lock()
	if !t.closed {
		t.closed = true
		close(t.ch)
	}
	t.mu.Unlock()
	t.wg.Wait()
}
