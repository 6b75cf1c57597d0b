package nlp

func set(words ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}

var stopwords = set(
	"a", "about", "above", "after", "again", "against", "all", "also", "am", "an", "and", "any",
	"are", "as", "at", "be", "because", "been", "before", "being", "below", "between", "both",
	"but", "by", "can", "could", "did", "do", "does", "doing", "down", "during", "each", "few",
	"for", "from", "further", "had", "has", "have", "having", "he", "her", "here", "hers",
	"herself", "him", "himself", "his", "how", "i", "if", "in", "into", "is", "it", "its",
	"itself", "just", "may", "me", "might", "more", "most", "must", "my", "myself", "no", "nor",
	"not", "now", "of", "off", "on", "once", "only", "or", "other", "our", "ours", "ourselves",
	"out", "over", "own", "same", "shall", "she", "should", "so", "some", "such", "than", "that",
	"the", "their", "theirs", "them", "themselves", "then", "there", "these", "they", "this",
	"those", "through", "to", "too", "under", "until", "up", "upon", "very", "was", "we", "were",
	"what", "when", "where", "which", "while", "who", "whom", "why", "will", "with", "would",
	"you", "your", "yours", "yourself", "yourselves", "one", "two", "new", "many", "much",
	"however", "therefore", "thus", "yet", "within", "without", "across", "among", "via",
)

var positiveWords = set(
	"good", "great", "excellent", "positive", "success", "successful", "improve", "improved",
	"improvement", "benefit", "beneficial", "gain", "gains", "growth", "strong", "stronger",
	"best", "better", "happy", "pleased", "effective", "efficient", "innovative", "robust",
	"profit", "profitable", "win", "wins", "advantage", "progress", "reliable", "excited",
	"outstanding", "remarkable", "favorable", "love", "enjoy", "secure", "stable", "record",
)

var negativeWords = set(
	"bad", "poor", "negative", "fail", "failed", "failure", "loss", "losses", "decline",
	"declined", "risk", "risks", "weak", "weaker", "worse", "worst", "problem", "problems",
	"issue", "issues", "crisis", "concern", "concerns", "difficult", "delay", "delayed",
	"error", "errors", "unstable", "threat", "damage", "costly", "drop", "dropped", "hate",
	"broken", "unfortunately", "deficit", "lawsuit", "fraud",
)

// Words that shift a following sentiment word's polarity.
var negators = set("not", "no", "never", "without", "hardly", "neither", "nor")

var months = set(
	"january", "february", "march", "april", "may", "june", "july", "august", "september",
	"october", "november", "december",
)

var orgSuffixes = set("inc", "corp", "corporation", "ltd", "llc", "company", "group", "university", "institute", "bank")

func IsStopword(token string) bool {
	_, ok := stopwords[token]
	return ok
}
