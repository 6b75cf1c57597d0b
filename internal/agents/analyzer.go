package agents

import (
	"context"

	"github.com/d-kimanthi/multi-agent-document-processor/internal/core/domain"
	"github.com/d-kimanthi/multi-agent-document-processor/internal/core/ports"
)

func NewAnalyzer(analyzer ports.Analyzer) ports.Handler {
	return stepHandler{
		accepts: domain.MsgAnalyzeRequest,
		replies: domain.MsgAnalyzeResult,
		run: func(ctx context.Context, req domain.StepRequest) (any, error) {
			text, chunks, err := ingestedText(req)
			if err != nil {
				return nil, err
			}
			return analyzer.Analyze(ctx, text, chunks)
		},
	}
}
