package agents

import (
	"context"
	"fmt"

	"github.com/d-kimanthi/multi-agent-document-processor/internal/core/domain"
	"github.com/d-kimanthi/multi-agent-document-processor/internal/core/ports"
)

// NewCurator handles ingest-request: extract, preprocess and chunk the document at location.
func NewCurator(extractor ports.Extractor) ports.Handler {
	return stepHandler{
		accepts: domain.MsgIngestRequest,
		replies: domain.MsgExtractResult,
		run: func(ctx context.Context, req domain.StepRequest) (any, error) {
			if req.Location == "" {
				return nil, fmt.Errorf("%w: missing location", domain.ErrInvalidPayload)
			}
			return extractor.Extract(ctx, req.Location)
		},
	}
}
