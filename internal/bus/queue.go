package bus

import (
	"github.com/d-kimanthi/multi-agent-document-processor/internal/core/domain"
	"github.com/d-kimanthi/multi-agent-document-processor/internal/core/ports"
)

const DefaultQueueCapacity = 1000

// Queue is a bounded FIFO mailbox. Enqueue is safe for concurrent producers
// and never blocks; the owning agent is the only reader of C.
type Queue struct {
	ch chan domain.Message
}

var _ ports.Queue = (*Queue)(nil)

func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &Queue{ch: make(chan domain.Message, capacity)}
}

func (q *Queue) Enqueue(msg domain.Message) error {
	select {
	case q.ch <- msg:
		return nil
	default:
		return domain.ErrQueueFull
	}
}

// C is the receive side for the single consumer.
func (q *Queue) C() <-chan domain.Message { return q.ch }

func (q *Queue) Len() int { return len(q.ch) }

func (q *Queue) Cap() int { return cap(q.ch) }
