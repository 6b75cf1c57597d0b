package ports

import (
	"context"

	"github.com/d-kimanthi/multi-agent-document-processor/internal/core/domain"
)

// Queue is an agent's inbound mailbox: many producers, one consumer.
type Queue interface {
	Enqueue(msg domain.Message) error
	Len() int
	Cap() int
}

// MessageBus routes messages between registered agents.
type MessageBus interface {
	Register(agentID string, queue Queue) error
	Unregister(agentID string)
	Send(msg domain.Message) error
	Broadcast(msg domain.Message) error
	History(limit int) []domain.Message
	HistorySize() int
}

// MessageTap observes every message the bus accepted. Implementations must not block.
type MessageTap interface {
	Observe(msg domain.Message)
}

// Handler is the per-type behavior plugged into the shared agent runtime.
// A nil reply means nothing is sent back.
type Handler interface {
	Handle(ctx context.Context, msg domain.Message) (*domain.Message, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg domain.Message) (*domain.Message, error)

func (f HandlerFunc) Handle(ctx context.Context, msg domain.Message) (*domain.Message, error) {
	return f(ctx, msg)
}

// AgentDirectory resolves a concrete agent id for a step.
type AgentDirectory interface {
	Pick(agentType domain.AgentType, key string) (string, error)
}
