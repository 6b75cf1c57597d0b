package nlp

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"html"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/d-kimanthi/multi-agent-document-processor/internal/core/domain"
	"github.com/d-kimanthi/multi-agent-document-processor/internal/core/ports"
)

const DefaultMaxDocumentBytes = 50 << 20

const (
	MimePlain    = "text/plain"
	MimeMarkdown = "text/markdown"
	MimeHTML     = "text/html"
	MimeCSV      = "text/csv"
	MimeJSON     = "application/json"
	MimePDF      = "application/pdf"
	MimeDOCX     = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
)

var extensionTypes = map[string]string{
	".txt":      MimePlain,
	".text":     MimePlain,
	".log":      MimePlain,
	".md":       MimeMarkdown,
	".markdown": MimeMarkdown,
	".html":     MimeHTML,
	".htm":      MimeHTML,
	".csv":      MimeCSV,
	".json":     MimeJSON,
	".pdf":      MimePDF,
	".docx":     MimeDOCX,
}

var (
	reTags     = regexp.MustCompile(`(?s)<script.*?</script>|<style.*?</style>|<[^>]+>`)
	reMarkdown = regexp.MustCompile("(?m)^#{1,6}\\s*|[*_`~]{1,3}|^>\\s?|!?\\[([^\\]]*)\\]\\([^)]*\\)")
)

// FileExtractor reads documents from the local filesystem.
type FileExtractor struct {
	MaxBytes     int64
	ChunkSize    int
	ChunkOverlap int
}

var _ ports.Extractor = (*FileExtractor)(nil)

func NewFileExtractor(maxBytes int64, chunkSize, overlap int) *FileExtractor {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxDocumentBytes
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &FileExtractor{MaxBytes: maxBytes, ChunkSize: chunkSize, ChunkOverlap: overlap}
}

func pathFromLocation(location string) string {
	return strings.TrimPrefix(location, "file://")
}

// DetectMimeType uses the extension first and falls back to content sniffing.
func DetectMimeType(path string, head []byte) string {
	ext := strings.ToLower(filepath.Ext(path))
	if t, ok := extensionTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		media, _, err := mime.ParseMediaType(t)
		if err == nil {
			return media
		}
	}
	media, _, _ := mime.ParseMediaType(http.DetectContentType(head))
	return media
}

func supported(mimeType string) bool {
	switch mimeType {
	case MimePlain, MimeMarkdown, MimeHTML, MimeCSV, MimeJSON:
		return true
	}
	return false
}

func (e *FileExtractor) Validate(ctx context.Context, location string) (*ports.Validation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	v := &ports.Validation{Errors: []string{}, Warnings: []string{}}
	path := pathFromLocation(location)

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			v.Errors = append(v.Errors, "file not found")
			return v, nil
		}
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		v.Errors = append(v.Errors, "not a regular file")
		return v, nil
	}

	v.Size = info.Size()
	if v.Size == 0 {
		v.Errors = append(v.Errors, "file is empty")
	}
	if v.Size > e.MaxBytes {
		v.Errors = append(v.Errors, fmt.Sprintf("file too large: %d bytes (max %d)", v.Size, e.MaxBytes))
	}

	head, err := readHead(path, 1000)
	if err != nil {
		return nil, err
	}
	v.MimeType = DetectMimeType(path, head)
	if !supported(v.MimeType) {
		v.Errors = append(v.Errors, fmt.Sprintf("unsupported file type: %s", v.MimeType))
	}

	if len(v.Errors) == 0 {
		sample, err := extractText(v.MimeType, head)
		if err != nil || strings.TrimSpace(sample) == "" {
			v.Warnings = append(v.Warnings, "no extractable text in the first 1000 bytes")
		}
	}

	v.Valid = len(v.Errors) == 0
	return v, nil
}

func (e *FileExtractor) Extract(ctx context.Context, location string) (*ports.Document, error) {
	v, err := e.Validate(ctx, location)
	if err != nil {
		return nil, err
	}
	if !v.Valid {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedDocument, strings.Join(v.Errors, "; "))
	}

	raw, err := os.ReadFile(pathFromLocation(location))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", location, err)
	}

	text, err := extractText(v.MimeType, raw)
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", v.MimeType, err)
	}

	processed := Preprocess(text)
	if processed == "" {
		return nil, fmt.Errorf("%w: no text content", domain.ErrUnsupportedDocument)
	}
	chunks := Chunk(processed, e.ChunkSize, e.ChunkOverlap)

	return &ports.Document{
		Text:        processed,
		RawLength:   len(text),
		Chunks:      chunks,
		ContentHash: Fingerprint(processed),
		Metadata: ports.DocumentMetadata{
			FileSize:       v.Size,
			MimeType:       v.MimeType,
			ChunkCount:     len(chunks),
			CharacterCount: len([]rune(processed)),
			WordCount:      WordCount(processed),
		},
	}, nil
}

func readHead(path string, n int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	buf := make([]byte, n)
	read, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return buf[:read], nil
}

func extractText(mimeType string, raw []byte) (string, error) {
	switch mimeType {
	case MimePlain:
		return string(raw), nil
	case MimeMarkdown:
		return reMarkdown.ReplaceAllString(string(raw), "$1"), nil
	case MimeHTML:
		return html.UnescapeString(reTags.ReplaceAllString(string(raw), " ")), nil
	case MimeCSV:
		return csvText(raw)
	case MimeJSON:
		return jsonText(raw), nil
	default:
		return "", fmt.Errorf("%w: %s", domain.ErrUnsupportedDocument, mimeType)
	}
}

func csvText(raw []byte) (string, error) {
	r := csv.NewReader(bytes.NewReader(raw))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var sb strings.Builder
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// A truncated sample may end mid-record.
			if sb.Len() > 0 {
				break
			}
			return "", err
		}
		sb.WriteString(strings.Join(rec, ", "))
		sb.WriteString(". ")
	}
	return sb.String(), nil
}

// jsonText collects every string value in document order.
func jsonText(raw []byte) string {
	var parts []string
	var walk func(v gjson.Result)
	walk = func(v gjson.Result) {
		switch {
		case v.IsObject() || v.IsArray():
			v.ForEach(func(_, value gjson.Result) bool {
				walk(value)
				return true
			})
		case v.Type == gjson.String:
			if s := strings.TrimSpace(v.String()); s != "" {
				parts = append(parts, s)
			}
		}
	}
	walk(gjson.ParseBytes(raw))
	return strings.Join(parts, ". ")
}
