package index

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/d-kimanthi/multi-agent-document-processor/internal/core/ports"
	"github.com/d-kimanthi/multi-agent-document-processor/internal/nlp"
)

const (
	DefaultLimit = 5
	snippetLen   = 200
)

var ErrEmptyQuery = errors.New("query cannot be empty")

// chunkDocument is what gets stored per chunk.
type chunkDocument struct {
	DocumentID string `json:"document_id"`
	WorkflowID string `json:"workflow_id"`
	ChunkIndex int    `json:"chunk_index"`
	Text       string `json:"text"`
}

// Index is an in-memory full-text index of document chunks.
type Index struct {
	idx bleve.Index
}

var _ ports.Indexer = (*Index)(nil)

func NewMemory() (*Index, error) {
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("open bleve index: %w", err)
	}
	return &Index{idx: idx}, nil
}

// ChunkID is the stable id of chunk i of a document. Re-indexing a document overwrites its chunks.
func ChunkID(documentID string, i int) string {
	return fmt.Sprintf("doc_%s_chunk_%d", documentID, i)
}

func (x *Index) Index(ctx context.Context, workflowID, documentID string, chunks []ports.Chunk) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	batch := x.idx.NewBatch()
	ids := make([]string, 0, len(chunks))
	for i, c := range chunks {
		id := ChunkID(documentID, i)
		doc := chunkDocument{
			DocumentID: documentID,
			WorkflowID: workflowID,
			ChunkIndex: i,
			Text:       c.Text,
		}
		if err := batch.Index(id, doc); err != nil {
			return nil, fmt.Errorf("index %s: %w", id, err)
		}
		ids = append(ids, id)
	}
	if err := x.idx.Batch(batch); err != nil {
		return nil, fmt.Errorf("index batch for %s: %w", documentID, err)
	}
	return ids, nil
}

func (x *Index) Search(ctx context.Context, q string, limit int) ([]ports.IndexedChunk, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return nil, ErrEmptyQuery
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	req := bleve.NewSearchRequest(buildQuery(q))
	req.Size = limit
	req.Fields = []string{"*"}

	res, err := x.idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	out := make([]ports.IndexedChunk, 0, len(res.Hits))
	for _, hit := range res.Hits {
		c := ports.IndexedChunk{ID: hit.ID, Score: hit.Score}
		if v, ok := hit.Fields["document_id"].(string); ok {
			c.DocumentID = v
		}
		if v, ok := hit.Fields["chunk_index"].(float64); ok {
			c.ChunkIndex = int(v)
		}
		if v, ok := hit.Fields["text"].(string); ok {
			c.Text = v
		}
		out = append(out, c)
	}
	return out, nil
}

func buildQuery(q string) query.Query {
	match := bleve.NewMatchQuery(q)
	match.SetField("text")
	return match
}

func (x *Index) Count() (uint64, error) {
	return x.idx.DocCount()
}

func (x *Index) Close() error {
	return x.idx.Close()
}

// Source is one chunk backing an answer.
type Source struct {
	DocumentID string  `json:"document_id"`
	ChunkIndex int     `json:"chunk_index"`
	Score      float64 `json:"similarity_score"`
	Snippet    string  `json:"text_snippet"`
}

type Answer struct {
	Query      string   `json:"query"`
	Answer     string   `json:"answer"`
	Confidence float64  `json:"confidence"`
	Sources    []Source `json:"sources"`
}

const noAnswer = "I couldn't find any relevant documents to answer your question."

// Ask retrieves the top chunks for question and picks, per chunk, the sentence sharing
// the most terms with it. The best sentence overall is the answer.
func Ask(ctx context.Context, ix ports.Indexer, question string, limit int) (*Answer, error) {
	hits, err := ix.Search(ctx, question, limit)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return &Answer{Query: question, Answer: noAnswer, Sources: []Source{}}, nil
	}

	terms := make(map[string]bool)
	for _, t := range nlp.Tokens(question) {
		if !nlp.IsStopword(t) {
			terms[t] = true
		}
	}

	ans := &Answer{Query: question, Sources: make([]Source, 0, len(hits))}
	for _, h := range hits {
		sentence, overlap := bestSentence(h.Text, terms)
		if overlap > ans.Confidence || ans.Answer == "" {
			ans.Confidence = overlap
			ans.Answer = sentence
		}
		ans.Sources = append(ans.Sources, Source{
			DocumentID: h.DocumentID,
			ChunkIndex: h.ChunkIndex,
			Score:      h.Score,
			Snippet:    snippet(h.Text),
		})
	}
	return ans, nil
}

func bestSentence(text string, terms map[string]bool) (string, float64) {
	best, bestScore := "", -1.0
	for _, s := range nlp.Sentences(text) {
		if len(terms) == 0 {
			return s, 0
		}
		seen := make(map[string]bool)
		for _, t := range nlp.Tokens(s) {
			if terms[t] {
				seen[t] = true
			}
		}
		score := float64(len(seen)) / float64(len(terms))
		if score > bestScore {
			best, bestScore = s, score
		}
	}
	if bestScore < 0 {
		return text, 0
	}
	return best, bestScore
}

func snippet(text string) string {
	r := []rune(text)
	if len(r) <= snippetLen {
		return text
	}
	return string(r[:snippetLen]) + "..."
}
