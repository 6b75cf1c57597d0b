package index

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/d-kimanthi/multi-agent-document-processor/internal/core/ports"
)

func newIndex(t *testing.T) *Index {
	t.Helper()
	ix, err := NewMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = ix.Close() })
	return ix
}

var chunks = []ports.Chunk{
	{Index: 0, Text: "Acme Corp reported strong growth in 2023. Revenue rose sharply."},
	{Index: 1, Text: "The warehouse in Lisbon handles shipping for southern Europe."},
	{Index: 2, Text: "Analysts expect revenue growth to continue next year."},
}

func TestIndex_ChunkIDs(t *testing.T) {
	ix := newIndex(t)

	ids, err := ix.Index(context.Background(), "wf-1", "d1", chunks)
	require.NoError(t, err)
	assert.Equal(t, []string{"doc_d1_chunk_0", "doc_d1_chunk_1", "doc_d1_chunk_2"}, ids)

	n, err := ix.Count()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), n)

	// same document again replaces rather than duplicates
	_, err = ix.Index(context.Background(), "wf-2", "d1", chunks)
	require.NoError(t, err)
	n, err = ix.Count()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), n)
}

func TestIndex_Search(t *testing.T) {
	ix := newIndex(t)
	_, err := ix.Index(context.Background(), "wf-1", "d1", chunks)
	require.NoError(t, err)

	hits, err := ix.Search(context.Background(), "warehouse shipping", 5)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "doc_d1_chunk_1", hits[0].ID)
	assert.Equal(t, "d1", hits[0].DocumentID)
	assert.Equal(t, 1, hits[0].ChunkIndex)
	assert.Equal(t, chunks[1].Text, hits[0].Text)
	assert.Greater(t, hits[0].Score, 0.0)

	hits, err = ix.Search(context.Background(), "revenue", 1)
	require.NoError(t, err)
	assert.Len(t, hits, 1)

	_, err = ix.Search(context.Background(), "   ", 5)
	assert.ErrorIs(t, err, ErrEmptyQuery)
}

func TestAsk(t *testing.T) {
	ix := newIndex(t)
	_, err := ix.Index(context.Background(), "wf-1", "d1", chunks)
	require.NoError(t, err)

	ans, err := Ask(context.Background(), ix, "Where is the warehouse?", 3)
	require.NoError(t, err)
	assert.Equal(t, "The warehouse in Lisbon handles shipping for southern Europe.", ans.Answer)
	assert.Equal(t, 1.0, ans.Confidence)
	require.NotEmpty(t, ans.Sources)
	assert.Equal(t, "d1", ans.Sources[0].DocumentID)
}

func TestAsk_NoHits(t *testing.T) {
	ix := newIndex(t)

	ans, err := Ask(context.Background(), ix, "anything at all", 3)
	require.NoError(t, err)
	assert.Equal(t, noAnswer, ans.Answer)
	assert.Zero(t, ans.Confidence)
	assert.Empty(t, ans.Sources)
}
