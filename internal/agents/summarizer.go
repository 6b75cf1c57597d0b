package agents

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/d-kimanthi/multi-agent-document-processor/internal/core/domain"
	"github.com/d-kimanthi/multi-agent-document-processor/internal/core/ports"
)

// NewSummarizer uses the analyze result, when present, to weight sentence selection.
func NewSummarizer(summarizer ports.Summarizer) ports.Handler {
	return stepHandler{
		accepts: domain.MsgSummarizeRequest,
		replies: domain.MsgSummarizeResult,
		run: func(ctx context.Context, req domain.StepRequest) (any, error) {
			text, _, err := ingestedText(req)
			if err != nil {
				return nil, err
			}
			var analysis *ports.Analysis
			if prev := req.Previous(domain.StepAnalyze); prev.IsObject() {
				analysis = new(ports.Analysis)
				if err := json.Unmarshal([]byte(prev.Raw), analysis); err != nil {
					return nil, fmt.Errorf("%w: analyze result: %v", domain.ErrInvalidPayload, err)
				}
			}
			return summarizer.Summarize(ctx, text, analysis)
		},
	}
}
