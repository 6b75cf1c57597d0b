package ports

import "context"

// Document is the output of text extraction.
type Document struct {
	Text        string            `json:"processed_text"`
	RawLength   int               `json:"raw_length"`
	Chunks      []Chunk           `json:"chunks"`
	ContentHash string            `json:"content_hash"`
	Metadata    DocumentMetadata  `json:"metadata"`
	Extra       map[string]string `json:"extra,omitempty"`
}

type DocumentMetadata struct {
	FileSize       int64  `json:"file_size"`
	MimeType       string `json:"mime_type"`
	ChunkCount     int    `json:"chunk_count"`
	CharacterCount int    `json:"character_count"`
	WordCount      int    `json:"word_count"`
}

type Chunk struct {
	Index    int    `json:"index"`
	Text     string `json:"text"`
	StartPos int    `json:"start_pos"`
	EndPos   int    `json:"end_pos"`
}

// Validation is the outcome of a pre-ingestion check.
type Validation struct {
	Valid    bool     `json:"valid"`
	MimeType string   `json:"mime_type,omitempty"`
	Size     int64    `json:"size"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// Extractor turns a content location into preprocessed, chunked text.
type Extractor interface {
	Extract(ctx context.Context, location string) (*Document, error)
	Validate(ctx context.Context, location string) (*Validation, error)
}

type Entity struct {
	Text       string  `json:"text"`
	Label      string  `json:"label"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Confidence float64 `json:"confidence"`
}

type Sentiment struct {
	Label        string  `json:"label"`
	Polarity     float64 `json:"polarity"`
	Subjectivity float64 `json:"subjectivity"`
	Confidence   float64 `json:"confidence"`
}

type Keyword struct {
	Keyword   string  `json:"keyword"`
	Frequency int     `json:"frequency"`
	Score     float64 `json:"score"`
}

type Topic struct {
	ID        int       `json:"topic_id"`
	Words     []string  `json:"topic_words"`
	Weights   []float64 `json:"topic_weights"`
	Coherence float64   `json:"coherence_score"`
}

type Analysis struct {
	Entities         []Entity           `json:"entities"`
	Sentiment        Sentiment          `json:"sentiment"`
	ChunkSentiments  []Sentiment        `json:"chunk_sentiments,omitempty"`
	Keywords         []Keyword          `json:"keywords"`
	Topics           []Topic            `json:"topics"`
	ConfidenceScores map[string]float64 `json:"confidence_scores"`
}

// Analyzer runs NLP analysis over text and its chunks.
type Analyzer interface {
	Analyze(ctx context.Context, text string, chunks []string) (*Analysis, error)
}

type Summary struct {
	Extractive       string             `json:"extractive_summary"`
	Abstractive      string             `json:"abstractive_summary"`
	Executive        string             `json:"executive_summary"`
	Insights         []string           `json:"key_insights"`
	QualityMetrics   map[string]float64 `json:"quality_metrics"`
	CompressionRatio float64            `json:"compression_ratio"`
	Generator        string             `json:"generator"`
}

// Summarizer produces summary variants, optionally informed by a prior analysis.
type Summarizer interface {
	Summarize(ctx context.Context, text string, analysis *Analysis) (*Summary, error)
}

// Completer is a text-completion backend used for abstractive summaries.
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
	Name() string
}

type IndexedChunk struct {
	ID         string  `json:"id"`
	DocumentID string  `json:"document_id"`
	ChunkIndex int     `json:"chunk_index"`
	Text       string  `json:"text"`
	Score      float64 `json:"score,omitempty"`
}

// Indexer stores chunks for retrieval and answers searches over them.
type Indexer interface {
	Index(ctx context.Context, workflowID, documentID string, chunks []Chunk) ([]string, error)
	Search(ctx context.Context, query string, limit int) ([]IndexedChunk, error)
	Count() (uint64, error)
	Close() error
}
