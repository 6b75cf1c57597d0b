package agents

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/d-kimanthi/multi-agent-document-processor/internal/core/domain"
	"github.com/d-kimanthi/multi-agent-document-processor/internal/index"
	"github.com/d-kimanthi/multi-agent-document-processor/internal/nlp"
)

const report = `Acme Corp reported strong growth in 2023. Revenue rose 12% to $4.5 million.
However, the company faced supply problems in March. Analysts at Globex Bank remain positive.
The new product line was an excellent success. Jane Smith will lead the expansion into Europe.`

// stepMessage renders the request for wf's current step the way the orchestrator does.
func stepMessage(t *testing.T, wf *domain.Workflow) domain.Message {
	t.Helper()
	payload, err := domain.BuildStepRequest(wf)
	require.NoError(t, err)
	return domain.NewMessage(wf.CurrentStep.RequestType(), "orchestrator", "worker", wf.ID, payload)
}

func handle(t *testing.T, h interface {
	Handle(context.Context, domain.Message) (*domain.Message, error)
}, msg domain.Message) *domain.Message {
	t.Helper()
	reply, err := h.Handle(context.Background(), msg)
	require.NoError(t, err)
	require.NotNil(t, reply)
	assert.Equal(t, "orchestrator", reply.Recipient)
	assert.Equal(t, msg.CorrelationID, reply.CorrelationID)
	return reply
}

func TestHandlers_FullPipeline(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.txt")
	require.NoError(t, os.WriteFile(path, []byte(report), 0o644))

	ix, err := index.NewMemory()
	require.NoError(t, err)
	defer ix.Close()

	wf := domain.NewWorkflow("wf-1", "d1", path)

	// ingest
	reply := handle(t, NewCurator(nlp.NewFileExtractor(0, 120, 20)), stepMessage(t, wf))
	assert.Equal(t, domain.MsgExtractResult, reply.Type)
	res := gjson.ParseBytes(reply.Payload)
	assert.NotEmpty(t, res.Get("processed_text").String())
	assert.Greater(t, res.Get("metadata.chunk_count").Int(), int64(1))
	assert.Equal(t, nlp.MimePlain, res.Get("metadata.mime_type").String())
	wf.Results[domain.StepIngest] = reply.Payload
	wf.CurrentStep = domain.StepAnalyze

	// analyze
	reply = handle(t, NewAnalyzer(nlp.NewHeuristicAnalyzer(10, 5)), stepMessage(t, wf))
	assert.Equal(t, domain.MsgAnalyzeResult, reply.Type)
	res = gjson.ParseBytes(reply.Payload)
	assert.Equal(t, "positive", res.Get("sentiment.label").String())
	assert.True(t, res.Get("topics").IsArray())
	wf.Results[domain.StepAnalyze] = reply.Payload
	wf.CurrentStep = domain.StepSummarize

	// summarize
	reply = handle(t, NewSummarizer(nlp.NewSummarizer(nil)), stepMessage(t, wf))
	assert.Equal(t, domain.MsgSummarizeResult, reply.Type)
	res = gjson.ParseBytes(reply.Payload)
	assert.True(t, strings.HasPrefix(res.Get("extractive_summary").String(), "Acme Corp reported"))
	assert.Contains(t, res.Get("executive_summary").String(), "Tone: positive.")
	wf.Results[domain.StepSummarize] = reply.Payload
	wf.CurrentStep = domain.StepIndex

	// index
	reply = handle(t, NewQuery(ix), stepMessage(t, wf))
	assert.Equal(t, domain.MsgIndexResult, reply.Type)
	var out IndexResult
	require.NoError(t, json.Unmarshal(reply.Payload, &out))
	assert.EqualValues(t, gjson.GetBytes(wf.Results[domain.StepIngest], "metadata.chunk_count").Int(), out.IndexedChunks)
	assert.Equal(t, "doc_d1_chunk_0", out.IDs[0])

	hits, err := ix.Search(context.Background(), "expansion into Europe", 3)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "d1", hits[0].DocumentID)
}

func TestHandlers_RejectWrongType(t *testing.T) {
	wf := domain.NewWorkflow("wf-1", "d1", "/nope")
	msg := stepMessage(t, wf)

	_, err := NewAnalyzer(nlp.NewHeuristicAnalyzer(10, 5)).Handle(context.Background(), msg)
	assert.ErrorContains(t, err, "unsupported message type")
}

func TestHandlers_MissingInputs(t *testing.T) {
	ctx := context.Background()

	wf := domain.NewWorkflow("wf-1", "d1", "")
	_, err := NewCurator(nlp.NewFileExtractor(0, 0, 0)).Handle(ctx, stepMessage(t, wf))
	assert.ErrorIs(t, err, domain.ErrInvalidPayload)

	wf.CurrentStep = domain.StepAnalyze
	_, err = NewAnalyzer(nlp.NewHeuristicAnalyzer(10, 5)).Handle(ctx, stepMessage(t, wf))
	assert.ErrorIs(t, err, domain.ErrInvalidPayload)

	wf.CurrentStep = domain.StepIndex
	ix, err := index.NewMemory()
	require.NoError(t, err)
	defer ix.Close()
	_, err = NewQuery(ix).Handle(ctx, stepMessage(t, wf))
	assert.ErrorIs(t, err, domain.ErrInvalidPayload)

	bad := domain.NewMessage(domain.MsgIngestRequest, "orchestrator", "curator-1", "wf-1", json.RawMessage(`[1,2]`))
	_, err = NewCurator(nlp.NewFileExtractor(0, 0, 0)).Handle(ctx, bad)
	assert.ErrorIs(t, err, domain.ErrInvalidPayload)
}

func TestCurator_UnsupportedDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scan.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4 fake"), 0o644))

	wf := domain.NewWorkflow("wf-1", "d1", path)
	_, err := NewCurator(nlp.NewFileExtractor(0, 0, 0)).Handle(context.Background(), stepMessage(t, wf))
	assert.ErrorIs(t, err, domain.ErrUnsupportedDocument)
}
