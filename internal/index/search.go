package index

import (
	"math"
	"sort"
)

// BM25 defaults. Exposed through SearchOptions so callers can tune them
// from configuration.
const (
	DefaultK1        = 1.2
	DefaultB         = 0.75
	DefaultLimit     = 20
	DefaultThreshold = 0.1
)

// ScoredDoc is a single ranked search hit.
type ScoredDoc struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

// SearchOptions shape a query. Zero values fall back to the defaults
// above.
type SearchOptions struct {
	Limit     int
	Threshold float64
	K1        float64
	B         float64
}

func (o SearchOptions) withDefaults() SearchOptions {
	if o.Limit <= 0 {
		o.Limit = DefaultLimit
	}
	if o.Threshold <= 0 {
		o.Threshold = DefaultThreshold
	}
	if o.K1 <= 0 {
		o.K1 = DefaultK1
	}
	if o.B <= 0 {
		o.B = DefaultB
	}
	return o
}

// Search ranks documents against the query with BM25 and returns them in
// descending score order, ties broken by ascending document id. The query
// is tokenised with the same tokenizer as documents and its terms are
// deduplicated; documents containing none of the terms are never returned.
// An empty result is not an error: it is the answer for an empty index, a
// query with no extractable terms, or nothing above the threshold.
func (ix *Index) Search(query string, opts SearchOptions) []ScoredDoc {
	opts = opts.withDefaults()
	if len(ix.docs) == 0 {
		return nil
	}
	queryTerms := dedupe(ix.tok.Tokenize(query))
	if len(queryTerms) == 0 {
		return nil
	}

	totalDocs := float64(len(ix.docs))
	avgLen := ix.avgDocLength()
	scores := make(map[string]float64)
	for _, term := range queryTerms {
		postings, exists := ix.terms[term]
		if !exists {
			continue
		}
		docFreq := float64(len(postings))
		idf := math.Log(1 + (totalDocs-docFreq+0.5)/(docFreq+0.5))
		for docID, tf := range postings {
			// A length-0 document cannot appear here (it has no
			// postings), but a zero avgLen is still impossible to hit
			// in this loop: postings imply totalTokens > 0.
			lengthRatio := float64(ix.docs[docID].Length) / avgLen
			termFreq := float64(tf)
			norm := termFreq + opts.K1*(1-opts.B+opts.B*lengthRatio)
			scores[docID] += idf * termFreq * (opts.K1 + 1) / norm
		}
	}

	results := make([]ScoredDoc, 0, len(scores))
	for docID, score := range scores {
		rounded := math.Round(score*10000) / 10000
		if rounded < opts.Threshold {
			continue
		}
		results = append(results, ScoredDoc{ID: docID, Score: rounded})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results
}

// dedupe keeps the first occurrence of each term, preserving order.
// Repeated query terms carry no extra weight at this corpus scale.
func dedupe(terms []string) []string {
	if len(terms) <= 1 {
		return terms
	}
	seen := make(map[string]struct{}, len(terms))
	unique := terms[:0]
	for _, term := range terms {
		if _, ok := seen[term]; ok {
			continue
		}
		seen[term] = struct{}{}
		unique = append(unique, term)
	}
	return unique
}
