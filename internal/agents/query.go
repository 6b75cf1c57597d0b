package agents

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/d-kimanthi/multi-agent-document-processor/internal/core/domain"
	"github.com/d-kimanthi/multi-agent-document-processor/internal/core/ports"
)

type IndexResult struct {
	IndexedChunks int      `json:"indexed_chunks"`
	IDs           []string `json:"ids"`
}

// NewQuery handles index-request by storing the ingested chunks in the search index.
func NewQuery(indexer ports.Indexer) ports.Handler {
	return stepHandler{
		accepts: domain.MsgIndexRequest,
		replies: domain.MsgIndexResult,
		run: func(ctx context.Context, req domain.StepRequest) (any, error) {
			raw := req.Previous(domain.StepIngest).Get("chunks")
			if !raw.IsArray() {
				return nil, fmt.Errorf("%w: no chunks from ingest", domain.ErrInvalidPayload)
			}
			var chunks []ports.Chunk
			if err := json.Unmarshal([]byte(raw.Raw), &chunks); err != nil {
				return nil, fmt.Errorf("%w: chunks: %v", domain.ErrInvalidPayload, err)
			}
			ids, err := indexer.Index(ctx, req.WorkflowID, req.DocumentID, chunks)
			if err != nil {
				return nil, err
			}
			return IndexResult{IndexedChunks: len(ids), IDs: ids}, nil
		},
	}
}
