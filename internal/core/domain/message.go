package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Data is an opaque JSON payload; its schema depends on the message type.
type Data = json.RawMessage

// Broadcast is the recipient used for messages addressed to every agent.
const Broadcast = "broadcast"

// MessageType is the closed set of message kinds exchanged on the bus.
type MessageType string

const (
	MsgIngestRequest    MessageType = "ingest-request"
	MsgExtractResult    MessageType = "extract-result"
	MsgAnalyzeRequest   MessageType = "analyze-request"
	MsgAnalyzeResult    MessageType = "analyze-result"
	MsgSummarizeRequest MessageType = "summarize-request"
	MsgSummarizeResult  MessageType = "summarize-result"
	MsgIndexRequest     MessageType = "index-request"
	MsgIndexResult      MessageType = "index-result"
	MsgError            MessageType = "error"
	MsgStatusQuery      MessageType = "status-query"
	MsgStatusReport     MessageType = "status-report"

	// Self-addressed timers of the orchestrator.
	MsgStepTimeout MessageType = "step-timeout"
	MsgStepRetry   MessageType = "step-retry"
)

var messageTypes = map[MessageType]struct{}{
	MsgIngestRequest:    {},
	MsgExtractResult:    {},
	MsgAnalyzeRequest:   {},
	MsgAnalyzeResult:    {},
	MsgSummarizeRequest: {},
	MsgSummarizeResult:  {},
	MsgIndexRequest:     {},
	MsgIndexResult:      {},
	MsgError:            {},
	MsgStatusQuery:      {},
	MsgStatusReport:     {},
	MsgStepTimeout:      {},
	MsgStepRetry:        {},
}

func (t MessageType) Valid() bool {
	_, ok := messageTypes[t]
	return ok
}

func (t MessageType) String() string { return string(t) }

// Message is the unit of inter-agent communication. It is passed by value and
// never modified after NewMessage returns; WithRecipient produces a copy.
type Message struct {
	ID            string      `json:"id"`
	Type          MessageType `json:"type"`
	Sender        string      `json:"sender"`
	Recipient     string      `json:"recipient"`
	Payload       Data        `json:"payload,omitempty"`
	CorrelationID string      `json:"correlation_id,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
}

func NewMessage(msgType MessageType, sender, recipient, correlationID string, payload Data) Message {
	return Message{
		ID:            uuid.NewString(),
		Type:          msgType,
		Sender:        sender,
		Recipient:     recipient,
		Payload:       clonePayload(payload),
		CorrelationID: correlationID,
		CreatedAt:     time.Now().UTC(),
	}
}

// NewReply addresses a message back to the sender of orig, keeping its correlation id.
func NewReply(orig Message, sender string, msgType MessageType, payload Data) Message {
	return NewMessage(msgType, sender, orig.Sender, orig.CorrelationID, payload)
}

// WithRecipient returns a copy addressed to id. The payload is shared
// read-only between copies.
func (m Message) WithRecipient(id string) Message {
	m.Recipient = id
	return m
}

func (m Message) IsBroadcast() bool { return m.Recipient == Broadcast }

func clonePayload(p Data) Data {
	if p == nil {
		return nil
	}
	out := make(Data, len(p))
	copy(out, p)
	return out
}

// ErrorPayload is the body of an error-typed reply produced when a handler fails.
type ErrorPayload struct {
	Error             string      `json:"error"`
	OriginalMessageID string      `json:"original_message_id"`
	OriginalType      MessageType `json:"original_type"`
	AgentID           string      `json:"agent_id"`
}
