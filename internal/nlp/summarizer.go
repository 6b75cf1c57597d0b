package nlp

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/d-kimanthi/multi-agent-document-processor/internal/core/ports"
)

const summarySystemPrompt = "You summarize documents for an analyst. Reply with a concise, factual summary " +
	"of at most five sentences. Do not add information that is not in the document."

// maxPromptChars bounds the document excerpt sent to a completion backend.
const maxPromptChars = 12000

// ExtractiveSummarizer builds summaries from the document's own sentences.
// When a Completer is set the abstractive variant comes from it.
type ExtractiveSummarizer struct {
	Completer ports.Completer
}

var _ ports.Summarizer = (*ExtractiveSummarizer)(nil)

func NewSummarizer(completer ports.Completer) *ExtractiveSummarizer {
	return &ExtractiveSummarizer{Completer: completer}
}

func (s *ExtractiveSummarizer) Summarize(ctx context.Context, text string, analysis *ports.Analysis) (*ports.Summary, error) {
	sentences := Sentences(text)
	if len(sentences) == 0 {
		return nil, fmt.Errorf("nothing to summarize")
	}

	out := &ports.Summary{
		Extractive: extractive(sentences),
		Generator:  "extractive",
	}

	if s.Completer != nil {
		abstract, err := s.Completer.Complete(ctx, summarySystemPrompt, buildPrompt(text, analysis))
		if err != nil {
			return nil, fmt.Errorf("%s summary: %w", s.Completer.Name(), err)
		}
		out.Abstractive = strings.TrimSpace(abstract)
		out.Generator = s.Completer.Name()
	} else {
		out.Abstractive = salient(sentences, analysis, 3)
	}

	out.Insights = insights(analysis)
	out.Executive = executive(out.Abstractive, analysis)
	out.QualityMetrics, out.CompressionRatio = quality(text, out, analysis, len(sentences))
	return out, nil
}

// extractive picks the first, middle and last sentence.
func extractive(sentences []string) string {
	picks := []int{0, len(sentences) / 2, len(sentences) - 1}
	seen := map[int]bool{}
	parts := make([]string, 0, 3)
	for _, i := range picks {
		if seen[i] {
			continue
		}
		seen[i] = true
		parts = append(parts, sentences[i])
	}
	return strings.Join(parts, " ")
}

// salient keeps the n sentences with the highest keyword weight, in document order.
func salient(sentences []string, analysis *ports.Analysis, n int) string {
	weights := map[string]float64{}
	if analysis != nil {
		for _, k := range analysis.Keywords {
			weights[k.Keyword] = float64(k.Frequency)
		}
	}
	if len(weights) == 0 {
		for _, k := range Keywords(strings.Join(sentences, " "), DefaultKeywords) {
			weights[k.Keyword] = float64(k.Frequency)
		}
	}

	type scored struct {
		idx   int
		score float64
	}
	ranked := make([]scored, len(sentences))
	for i, sent := range sentences {
		var sc float64
		tokens := Tokens(sent)
		for _, t := range tokens {
			sc += weights[t]
		}
		if len(tokens) > 0 {
			sc /= float64(len(tokens))
		}
		ranked[i] = scored{i, sc}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].idx < ranked[j].idx })

	parts := make([]string, 0, len(ranked))
	for _, r := range ranked {
		parts = append(parts, sentences[r.idx])
	}
	return strings.Join(parts, " ")
}

func buildPrompt(text string, analysis *ports.Analysis) string {
	var sb strings.Builder
	if analysis != nil && len(analysis.Keywords) > 0 {
		words := make([]string, 0, len(analysis.Keywords))
		for _, k := range analysis.Keywords {
			words = append(words, k.Keyword)
		}
		fmt.Fprintf(&sb, "Key terms: %s\n", strings.Join(words, ", "))
	}
	if len(text) > maxPromptChars {
		text = text[:maxPromptChars]
	}
	sb.WriteString("Document:\n")
	sb.WriteString(text)
	return sb.String()
}

func insights(analysis *ports.Analysis) []string {
	out := []string{}
	if analysis == nil {
		return out
	}

	out = append(out, fmt.Sprintf("Overall sentiment is %s (polarity %.2f).", analysis.Sentiment.Label, analysis.Sentiment.Polarity))

	if len(analysis.Keywords) > 0 {
		n := min(3, len(analysis.Keywords))
		words := make([]string, 0, n)
		for _, k := range analysis.Keywords[:n] {
			words = append(words, k.Keyword)
		}
		out = append(out, fmt.Sprintf("Key themes: %s.", strings.Join(words, ", ")))
	}

	if len(analysis.Entities) > 0 {
		counts := map[string]int{}
		for _, e := range analysis.Entities {
			counts[e.Text]++
		}
		top, best := "", 0
		for text, c := range counts {
			if c > best || (c == best && text < top) {
				top, best = text, c
			}
		}
		out = append(out, fmt.Sprintf("Mentions %d entities; most frequent is %q.", len(counts), top))
	}

	if len(analysis.Topics) > 0 {
		out = append(out, fmt.Sprintf("Covers %d distinct topics.", len(analysis.Topics)))
	}
	return out
}

func executive(abstract string, analysis *ports.Analysis) string {
	lead := abstract
	if sents := Sentences(abstract); len(sents) > 0 {
		lead = sents[0]
	}
	if analysis == nil {
		return lead
	}
	return fmt.Sprintf("%s Tone: %s.", lead, analysis.Sentiment.Label)
}

func quality(text string, s *ports.Summary, analysis *ports.Analysis, sentenceCount int) (map[string]float64, float64) {
	sourceWords := WordCount(text)
	summaryWords := WordCount(s.Abstractive)

	ratio := 0.0
	if sourceWords > 0 {
		ratio = round(float64(summaryWords) / float64(sourceWords))
	}

	metrics := map[string]float64{
		"sentence_count":     float64(sentenceCount),
		"summary_word_count": float64(summaryWords),
		"compression_ratio":  ratio,
	}

	if analysis != nil && len(analysis.Keywords) > 0 {
		lower := strings.ToLower(s.Abstractive + " " + s.Extractive)
		hit := 0
		for _, k := range analysis.Keywords {
			if strings.Contains(lower, k.Keyword) {
				hit++
			}
		}
		metrics["keyword_coverage"] = round(float64(hit) / float64(len(analysis.Keywords)))
	}
	return metrics, ratio
}
