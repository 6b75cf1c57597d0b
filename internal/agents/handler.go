package agents

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/d-kimanthi/multi-agent-document-processor/internal/core/domain"
)

// stepHandler narrows a handler to one request type and wraps its result in a reply.
type stepHandler struct {
	accepts domain.MessageType
	replies domain.MessageType
	run     func(ctx context.Context, req domain.StepRequest) (any, error)
}

func (h stepHandler) Handle(ctx context.Context, msg domain.Message) (*domain.Message, error) {
	if msg.Type != h.accepts {
		return nil, fmt.Errorf("unsupported message type %q", msg.Type)
	}
	req, err := domain.ParseStepRequest(msg.Payload)
	if err != nil {
		return nil, err
	}
	result, err := h.run(ctx, req)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", h.replies, err)
	}
	reply := domain.NewReply(msg, "", h.replies, payload)
	return &reply, nil
}

// ingestedText pulls the preprocessed text and chunk texts out of the ingest result.
func ingestedText(req domain.StepRequest) (string, []string, error) {
	ingest := req.Previous(domain.StepIngest)
	text := ingest.Get("processed_text").String()
	if text == "" {
		return "", nil, fmt.Errorf("%w: no processed_text from ingest", domain.ErrInvalidPayload)
	}
	var chunks []string
	for _, c := range ingest.Get("chunks.#.text").Array() {
		chunks = append(chunks, c.String())
	}
	if len(chunks) == 0 {
		chunks = []string{text}
	}
	return text, chunks, nil
}
