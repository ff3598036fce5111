package lexical

import (
	"regexp"
	"strings"
)

// Letters and digits both count, so dosages and guideline codes ("ng136",
// "5mg") stay searchable.
var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}]+(?:['’][\p{L}\p{N}]+)*`)

var stopwords = func() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at", "by",
		"with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "this", "that", "these", "those",
		"from", "up", "down", "over", "under", "again", "further", "than", "so", "such", "into", "about",
		"between", "through", "during", "before", "after", "above", "below", "out", "off", "own", "same",
		"too", "very", "can", "will", "just", "don", "should", "now", "what", "which", "who", "whom", "how",
		"do", "does", "did", "i", "me", "my", "we", "our", "you", "your",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}()

// Tokenize lowercases text and splits it into terms, dropping stopwords.
func Tokenize(text string) []string {
	raw := tokenPattern.FindAllString(strings.ToLower(text), -1)
	if len(raw) == 0 {
		return nil
	}
	out := raw[:0]
	for _, t := range raw {
		if _, stop := stopwords[t]; stop {
			continue
		}
		out = append(out, t)
	}
	return out
}
