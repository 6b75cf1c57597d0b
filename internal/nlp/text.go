// Package nlp holds the default, dependency-light implementations of the
// extraction, analysis and summarization capabilities used by the agents.
package nlp

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/cespare/xxhash/v2"

	"github.com/d-kimanthi/multi-agent-document-processor/internal/core/ports"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

var (
	reWhitespace = regexp.MustCompile(`\s+`)
	reSpecial    = regexp.MustCompile(`[^\p{L}\p{N}_\s.!?,;:\-()'"]`)
	quoteFixer   = strings.NewReplacer("“", `"`, "”", `"`, "„", `"`, "‘", "'", "’", "'")
)

// Preprocess normalizes quotes, drops characters outside the word/punctuation
// set and collapses whitespace.
func Preprocess(text string) string {
	text = quoteFixer.Replace(text)
	text = reSpecial.ReplaceAllString(text, "")
	text = reWhitespace.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

type span struct{ start, end int }

func sentenceSpans(text string) []span {
	var spans []span
	start := -1
	for i, r := range text {
		if start < 0 {
			if unicode.IsSpace(r) {
				continue
			}
			start = i
		}
		if r == '.' || r == '!' || r == '?' {
			next := i + utf8.RuneLen(r)
			if next >= len(text) || text[next] == ' ' || text[next] == '\n' {
				spans = append(spans, span{start, next})
				start = -1
			}
		}
	}
	if start >= 0 {
		end := len(strings.TrimRightFunc(text, unicode.IsSpace))
		if end > start {
			spans = append(spans, span{start, end})
		}
	}
	return spans
}

// Sentences splits text on terminal punctuation followed by whitespace.
func Sentences(text string) []string {
	spans := sentenceSpans(text)
	out := make([]string, 0, len(spans))
	for _, s := range spans {
		out = append(out, strings.TrimSpace(text[s.start:s.end]))
	}
	return out
}

// Chunk groups whole sentences into chunks of at most maxSize bytes. Each new
// chunk starts with the last overlap bytes of the previous one. A sentence
// longer than maxSize becomes its own chunk.
func Chunk(text string, maxSize, overlap int) []ports.Chunk {
	if maxSize <= 0 {
		maxSize = DefaultChunkSize
	}
	if overlap < 0 || overlap >= maxSize {
		overlap = 0
	}

	spans := sentenceSpans(text)
	if len(spans) == 0 {
		return []ports.Chunk{}
	}

	var chunks []ports.Chunk
	curStart, curEnd := spans[0].start, spans[0].start
	emit := func() {
		chunks = append(chunks, ports.Chunk{
			Index:    len(chunks),
			Text:     strings.TrimSpace(text[curStart:curEnd]),
			StartPos: curStart,
			EndPos:   curEnd,
		})
	}

	for _, s := range spans {
		if s.end-curStart > maxSize && curEnd > curStart {
			emit()
			next := curEnd - overlap
			for next < len(text) && !utf8.RuneStart(text[next]) {
				next++
			}
			if overlap == 0 || next <= curStart {
				next = s.start
			}
			curStart = next
		}
		curEnd = s.end
	}
	if curEnd > curStart {
		emit()
	}
	return chunks
}

// Fingerprint is a stable content hash used to detect duplicate documents.
func Fingerprint(text string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(text))
}

func WordCount(text string) int {
	return len(strings.Fields(text))
}

var reToken = regexp.MustCompile(`[\p{L}][\p{L}\p{N}'-]*`)

// Tokens returns lower-cased word tokens.
func Tokens(text string) []string {
	raw := reToken.FindAllString(text, -1)
	out := make([]string, 0, len(raw))
	for _, t := range raw {
		out = append(out, strings.ToLower(strings.Trim(t, "'-")))
	}
	return out
}
