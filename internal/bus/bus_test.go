package bus

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d-kimanthi/multi-agent-document-processor/internal/core/domain"
)

func newBus(t *testing.T, historySize int) *Bus {
	t.Helper()
	b, err := New(Config{HistorySize: historySize}, nil)
	require.NoError(t, err)
	return b
}

func msg(from, to string, n int) domain.Message {
	return domain.NewMessage(domain.MsgStatusQuery, from, to, "", json.RawMessage(fmt.Sprintf(`{"n":%d}`, n)))
}

func drain(q *Queue) []domain.Message {
	var out []domain.Message
	for {
		select {
		case m := <-q.C():
			out = append(out, m)
		default:
			return out
		}
	}
}

type recordingTap struct {
	mu   sync.Mutex
	seen []domain.Message
}

func (r *recordingTap) Observe(m domain.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, m)
}

// ---- Register ---------------------------------------------------------------

func TestRegister_DuplicateFails(t *testing.T) {
	b := newBus(t, 10)
	require.NoError(t, b.Register("curator-1", NewQueue(4)))

	err := b.Register("curator-1", NewQueue(4))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrDuplicateAgent))
}

func TestRegister_RejectsReservedID(t *testing.T) {
	b := newBus(t, 10)
	assert.Error(t, b.Register(domain.Broadcast, NewQueue(1)))
	assert.Error(t, b.Register("", NewQueue(1)))
}

func TestUnregister_KeepsQueuedMessages(t *testing.T) {
	b := newBus(t, 10)
	q := NewQueue(4)
	require.NoError(t, b.Register("a", q))
	require.NoError(t, b.Send(msg("x", "a", 1)))

	b.Unregister("a")

	assert.Len(t, drain(q), 1)
	err := b.Send(msg("x", "a", 2))
	assert.ErrorIs(t, err, domain.ErrUnknownRecipient)
	assert.Equal(t, []string{}, b.Agents())
}

// ---- Send -------------------------------------------------------------------

func TestSend_UnknownRecipient(t *testing.T) {
	b := newBus(t, 10)
	require.NoError(t, b.Register("known", NewQueue(2)))

	err := b.Send(msg("known", "ghost", 1))
	require.ErrorIs(t, err, domain.ErrUnknownRecipient)

	for _, m := range b.History(0) {
		assert.NotEqual(t, "ghost", m.Recipient)
	}
	assert.Equal(t, 0, b.HistorySize())
}

func TestSend_QueueFullFailsFast(t *testing.T) {
	b := newBus(t, 10)
	q := NewQueue(2)
	require.NoError(t, b.Register("curator-1", q))

	require.NoError(t, b.Send(msg("orchestrator", "curator-1", 1)))
	require.NoError(t, b.Send(msg("orchestrator", "curator-1", 2)))

	err := b.Send(msg("orchestrator", "curator-1", 3))
	require.ErrorIs(t, err, domain.ErrQueueFull)
	assert.Equal(t, 2, q.Len())
	assert.Equal(t, 2, b.HistorySize())
}

func TestSend_FIFOPerPair(t *testing.T) {
	b := newBus(t, 100)
	q := NewQueue(100)
	require.NoError(t, b.Register("r", q))

	var wg sync.WaitGroup
	for _, sender := range []string{"s1", "s2", "s3"} {
		wg.Add(1)
		go func(sender string) {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				assert.NoError(t, b.Send(msg(sender, "r", i)))
			}
		}(sender)
	}
	wg.Wait()

	last := map[string]int{}
	for _, m := range drain(q) {
		var p struct{ N int }
		require.NoError(t, json.Unmarshal(m.Payload, &p))
		prev, seen := last[m.Sender]
		if seen {
			assert.Greater(t, p.N, prev, "sender %s out of order", m.Sender)
		}
		last[m.Sender] = p.N
	}
	assert.Len(t, last, 3)
}

func TestSend_BroadcastRecipientRoutesToBroadcast(t *testing.T) {
	b := newBus(t, 10)
	qa, qb := NewQueue(2), NewQueue(2)
	require.NoError(t, b.Register("a", qa))
	require.NoError(t, b.Register("b", qb))

	require.NoError(t, b.Send(msg("a", domain.Broadcast, 1)))
	assert.Empty(t, drain(qa))
	assert.Len(t, drain(qb), 1)
}

// ---- Broadcast --------------------------------------------------------------

func TestBroadcast_ExcludesSender(t *testing.T) {
	b := newBus(t, 10)
	queues := map[string]*Queue{"a": NewQueue(2), "b": NewQueue(2), "c": NewQueue(2)}
	for id, q := range queues {
		require.NoError(t, b.Register(id, q))
	}

	require.NoError(t, b.Broadcast(msg("a", domain.Broadcast, 1)))

	assert.Empty(t, drain(queues["a"]))
	for _, id := range []string{"b", "c"} {
		got := drain(queues[id])
		require.Len(t, got, 1)
		assert.Equal(t, id, got[0].Recipient)
	}
}

func TestBroadcast_CollectsPartialFailures(t *testing.T) {
	b := newBus(t, 10)
	full := NewQueue(1)
	ok := NewQueue(2)
	require.NoError(t, b.Register("full", full))
	require.NoError(t, b.Register("ok", ok))
	require.NoError(t, full.Enqueue(msg("x", "full", 0)))

	err := b.Broadcast(msg("sender", domain.Broadcast, 1))
	require.Error(t, err)

	var berr *BroadcastError
	require.ErrorAs(t, err, &berr)
	assert.Equal(t, 1, berr.Delivered)
	assert.Contains(t, berr.Failed, "full")
	assert.ErrorIs(t, err, domain.ErrQueueFull)
	assert.Len(t, drain(ok), 1)
}

// ---- History ----------------------------------------------------------------

func TestHistory_BoundedNewestLast(t *testing.T) {
	b := newBus(t, 3)
	require.NoError(t, b.Register("r", NewQueue(10)))

	for i := 0; i < 5; i++ {
		require.NoError(t, b.Send(msg("s", "r", i)))
	}

	assert.Equal(t, 3, b.HistorySize())
	hist := b.History(0)
	require.Len(t, hist, 3)
	assert.JSONEq(t, `{"n":2}`, string(hist[0].Payload))
	assert.JSONEq(t, `{"n":4}`, string(hist[2].Payload))

	last := b.History(1)
	require.Len(t, last, 1)
	assert.JSONEq(t, `{"n":4}`, string(last[0].Payload))
	assert.Equal(t, 3, b.HistorySize(), "History must not mutate")
}

func TestTap_ObservesAcceptedMessagesOnly(t *testing.T) {
	tap := &recordingTap{}
	b, err := New(Config{HistorySize: 10, Tap: tap}, nil)
	require.NoError(t, err)
	require.NoError(t, b.Register("r", NewQueue(1)))

	require.NoError(t, b.Send(msg("s", "r", 1)))
	require.Error(t, b.Send(msg("s", "r", 2)))
	require.Error(t, b.Send(msg("s", "nobody", 3)))

	tap.mu.Lock()
	defer tap.mu.Unlock()
	assert.Len(t, tap.seen, 1)
}
