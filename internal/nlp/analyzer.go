package nlp

import (
	"context"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/d-kimanthi/multi-agent-document-processor/internal/core/ports"
)

const (
	DefaultKeywords = 10
	DefaultTopics   = 5
)

var (
	reProper  = regexp.MustCompile(`\b[A-Z][\p{L}]+(?:\s+(?:of\s+)?[A-Z][\p{L}]+)*\b`)
	reAcronym = regexp.MustCompile(`\b[A-Z]{2,}\b`)
	reMoney   = regexp.MustCompile(`[$€£]\s?\d[\d,]*(?:\.\d+)?(?:\s?(?:million|billion|thousand))?`)
	rePercent = regexp.MustCompile(`\b\d+(?:\.\d+)?\s?%`)
	reYear    = regexp.MustCompile(`\b(?:19|20)\d{2}\b`)
)

// HeuristicAnalyzer is a lexicon and frequency based implementation of
// ports.Analyzer. It needs no model files.
type HeuristicAnalyzer struct {
	TopKeywords int
	MaxTopics   int
}

var _ ports.Analyzer = (*HeuristicAnalyzer)(nil)

func NewHeuristicAnalyzer(topKeywords, maxTopics int) *HeuristicAnalyzer {
	if topKeywords <= 0 {
		topKeywords = DefaultKeywords
	}
	if maxTopics <= 0 {
		maxTopics = DefaultTopics
	}
	return &HeuristicAnalyzer{TopKeywords: topKeywords, MaxTopics: maxTopics}
}

func (a *HeuristicAnalyzer) Analyze(ctx context.Context, text string, chunks []string) (*ports.Analysis, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(chunks) == 0 && text != "" {
		chunks = []string{text}
	}

	result := &ports.Analysis{
		Entities:  Entities(text),
		Sentiment: SentimentOf(text),
		Keywords:  Keywords(text, a.TopKeywords),
		Topics:    []ports.Topic{},
	}

	if len(chunks) > 1 {
		result.ChunkSentiments = make([]ports.Sentiment, 0, len(chunks))
		for _, c := range chunks {
			result.ChunkSentiments = append(result.ChunkSentiments, SentimentOf(c))
		}
		result.Topics = Topics(chunks, a.MaxTopics)
	}

	result.ConfidenceScores = confidence(result)
	return result, nil
}

// Entities finds proper-noun spans, acronyms, money amounts, percentages and dates.
func Entities(text string) []ports.Entity {
	entities := []ports.Entity{}
	seen := map[[2]int]bool{}
	add := func(loc []int, label string, conf float64) {
		key := [2]int{loc[0], loc[1]}
		if seen[key] {
			return
		}
		seen[key] = true
		entities = append(entities, ports.Entity{
			Text:       text[loc[0]:loc[1]],
			Label:      label,
			Start:      loc[0],
			End:        loc[1],
			Confidence: conf,
		})
	}

	for _, loc := range reMoney.FindAllStringIndex(text, -1) {
		add(loc, "MONEY", 0.9)
	}
	for _, loc := range rePercent.FindAllStringIndex(text, -1) {
		add(loc, "PERCENT", 0.9)
	}
	for _, loc := range reYear.FindAllStringIndex(text, -1) {
		add(loc, "DATE", 0.7)
	}
	for _, loc := range reAcronym.FindAllStringIndex(text, -1) {
		add(loc, "ORG", 0.6)
	}
	for _, loc := range reProper.FindAllStringIndex(text, -1) {
		phrase := text[loc[0]:loc[1]]
		words := strings.Fields(phrase)
		first := strings.ToLower(words[0])
		if len(words) == 1 {
			if _, stop := stopwords[first]; stop || sentenceInitial(text, loc[0]) {
				continue
			}
		}
		if _, ok := months[first]; ok {
			add(loc, "DATE", 0.7)
			continue
		}
		last := strings.ToLower(words[len(words)-1])
		if _, ok := orgSuffixes[last]; ok {
			add(loc, "ORG", 0.8)
			continue
		}
		conf := 0.5
		if len(words) > 1 {
			conf = 0.75
		}
		add(loc, "PROPER_NOUN", conf)
	}

	sort.Slice(entities, func(i, j int) bool { return entities[i].Start < entities[j].Start })
	return entities
}

func sentenceInitial(text string, pos int) bool {
	prefix := strings.TrimRight(text[:pos], " \t\n")
	if prefix == "" {
		return true
	}
	switch prefix[len(prefix)-1] {
	case '.', '!', '?', ':', '"':
		return true
	}
	return false
}

// SentimentOf scores text against the polarity lexicon. Labels use a ±0.1
// polarity band for neutral.
func SentimentOf(text string) ports.Sentiment {
	tokens := Tokens(text)
	var pos, neg float64
	for i, t := range tokens {
		sign := 1.0
		if i > 0 {
			if _, ok := negators[tokens[i-1]]; ok {
				sign = -1
			}
		}
		if _, ok := positiveWords[t]; ok {
			if sign > 0 {
				pos++
			} else {
				neg++
			}
		}
		if _, ok := negativeWords[t]; ok {
			if sign > 0 {
				neg++
			} else {
				pos++
			}
		}
	}

	s := ports.Sentiment{Label: "neutral", Confidence: 1}
	hits := pos + neg
	if hits == 0 || len(tokens) == 0 {
		return s
	}

	s.Polarity = round((pos - neg) / hits)
	s.Subjectivity = round(math.Min(1, hits/float64(len(tokens))*5))
	switch {
	case s.Polarity > 0.1:
		s.Label = "positive"
		s.Confidence = s.Polarity
	case s.Polarity < -0.1:
		s.Label = "negative"
		s.Confidence = -s.Polarity
	default:
		s.Confidence = round(1 - math.Abs(s.Polarity))
	}
	return s
}

func termFrequencies(text string) (map[string]int, int) {
	freq := map[string]int{}
	total := 0
	for _, t := range Tokens(text) {
		if len(t) <= 2 {
			continue
		}
		if _, stop := stopwords[t]; stop {
			continue
		}
		freq[t]++
		total++
	}
	return freq, total
}

// Keywords returns the topK most frequent non-stopword terms.
func Keywords(text string, topK int) []ports.Keyword {
	freq, total := termFrequencies(text)
	out := make([]ports.Keyword, 0, len(freq))
	for term, n := range freq {
		out = append(out, ports.Keyword{Keyword: term, Frequency: n, Score: round(float64(n) / float64(total))})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Frequency != out[j].Frequency {
			return out[i].Frequency > out[j].Frequency
		}
		return out[i].Keyword < out[j].Keyword
	})
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out
}

// Topics splits the chunks into up to maxTopics contiguous groups and
// describes each group by its highest tf-idf terms.
func Topics(chunks []string, maxTopics int) []ports.Topic {
	if len(chunks) < 2 {
		return []ports.Topic{}
	}
	n := maxTopics
	if n > len(chunks) {
		n = len(chunks)
	}

	docFreq := map[string]int{}
	chunkFreqs := make([]map[string]int, len(chunks))
	for i, c := range chunks {
		f, _ := termFrequencies(c)
		chunkFreqs[i] = f
		for term := range f {
			docFreq[term]++
		}
	}

	topics := make([]ports.Topic, 0, n)
	per := (len(chunks) + n - 1) / n
	for g := 0; g < n; g++ {
		lo, hi := g*per, (g+1)*per
		if lo >= len(chunks) {
			break
		}
		if hi > len(chunks) {
			hi = len(chunks)
		}

		weights := map[string]float64{}
		for _, f := range chunkFreqs[lo:hi] {
			for term, tf := range f {
				idf := math.Log(float64(len(chunks))/float64(docFreq[term])) + 1
				weights[term] += float64(tf) * idf
			}
		}

		terms := make([]string, 0, len(weights))
		for term := range weights {
			terms = append(terms, term)
		}
		sort.Slice(terms, func(i, j int) bool {
			if weights[terms[i]] != weights[terms[j]] {
				return weights[terms[i]] > weights[terms[j]]
			}
			return terms[i] < terms[j]
		})
		if len(terms) > 10 {
			terms = terms[:10]
		}
		if len(terms) == 0 {
			continue
		}

		topic := ports.Topic{ID: len(topics), Words: terms, Weights: make([]float64, len(terms))}
		var sum float64
		for i, term := range terms {
			topic.Weights[i] = round(weights[term])
			sum += weights[term]
		}
		topic.Coherence = round(sum / float64(len(terms)))
		topics = append(topics, topic)
	}
	return topics
}

func confidence(a *ports.Analysis) map[string]float64 {
	scores := map[string]float64{"sentiment": a.Sentiment.Confidence}
	if len(a.Entities) > 0 {
		var sum float64
		for _, e := range a.Entities {
			sum += e.Confidence
		}
		scores["entities"] = round(sum / float64(len(a.Entities)))
	}
	if len(a.Keywords) > 0 {
		var sum float64
		for _, k := range a.Keywords {
			sum += k.Score
		}
		scores["keywords"] = round(math.Min(1, sum*2))
	}

	var total float64
	for _, v := range scores {
		total += v
	}
	scores["overall"] = round(total / float64(len(scores)))
	return scores
}

func round(v float64) float64 {
	return math.Round(v*1000) / 1000
}
