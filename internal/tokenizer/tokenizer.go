// Package tokenizer provides text tokenisation for the search core. It
// lower-cases input and splits on runs of non-alphanumeric characters.
// Stop-word removal is available but off by default; no stemming is
// applied, so query and document terms match exactly.
package tokenizer

import (
	"strings"
	"unicode"
)

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {},
	"be": {}, "by": {}, "for": {}, "from": {}, "has": {}, "he": {},
	"in": {}, "is": {}, "it": {}, "its": {}, "of": {}, "on": {},
	"or": {}, "that": {}, "the": {}, "to": {}, "was": {}, "were": {},
	"will": {}, "with": {}, "this": {}, "but": {}, "they": {},
	"have": {}, "had": {}, "what": {}, "when": {}, "where": {},
	"who": {}, "which": {}, "their": {}, "if": {}, "each": {},
	"do": {}, "not": {}, "no": {}, "so": {}, "can": {},
}

// Tokenizer normalises raw text into index terms. The zero value applies
// the default policy: lowercase, split on non-alphanumeric runs, keep
// everything else.
type Tokenizer struct {
	// FilterStopWords drops common English stop-words when set. Both the
	// document and query side must use the same setting or relevance
	// becomes undefined.
	FilterStopWords bool
}

// Tokenize breaks text into a slice of normalised terms. It is
// deterministic, never fails, and returns nil for input with no
// alphanumeric content.
func (t Tokenizer) Tokenize(text string) []string {
	if text == "" {
		return nil
	}
	text = strings.ToLower(text)
	words := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if !t.FilterStopWords {
		return words
	}
	terms := words[:0]
	for _, word := range words {
		if _, isStop := stopWords[word]; isStop {
			continue
		}
		terms = append(terms, word)
	}
	if len(terms) == 0 {
		return nil
	}
	return terms
}
