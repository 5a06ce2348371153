// Package index implements the in-memory inverted index and its BM25
// scorer. The structure is a plain value with no internal locking; the
// manager owns the single live instance and serialises access to it.
package index

import (
	"github.com/recallhq/recall/internal/tokenizer"
)

// DocEntry holds per-document statistics. Length is the token count after
// tokenisation and drives BM25 length normalisation. Presence of an entry
// means the document is indexed; empty documents are legal with length 0.
type DocEntry struct {
	Length int
}

// Index maps terms to postings (docID to term frequency) plus per-document
// entries. TotalDocs is always len(docs); totalTokens is the sum of all
// entry lengths.
type Index struct {
	tok         tokenizer.Tokenizer
	terms       map[string]map[string]int
	docs        map[string]DocEntry
	totalTokens int64
}

// New returns a fresh empty index using the given tokenizer for both the
// document and query side.
func New(tok tokenizer.Tokenizer) *Index {
	return &Index{
		tok:   tok,
		terms: make(map[string]map[string]int),
		docs:  make(map[string]DocEntry),
	}
}

// Add indexes text under docID with upsert semantics: any postings from a
// previous Add of the same id are removed first, so re-indexing is never
// additive.
func (ix *Index) Add(docID string, text string) {
	ix.Remove(docID)

	tokens := ix.tok.Tokenize(text)
	counts := make(map[string]int, len(tokens))
	for _, term := range tokens {
		counts[term]++
	}
	for term, tf := range counts {
		postings, exists := ix.terms[term]
		if !exists {
			postings = make(map[string]int)
			ix.terms[term] = postings
		}
		postings[docID] = tf
	}
	ix.docs[docID] = DocEntry{Length: len(tokens)}
	ix.totalTokens += int64(len(tokens))
}

// Remove deletes docID and every posting it contributed. Terms whose
// posting map becomes empty are dropped so churn does not grow the
// vocabulary. Removing an unindexed id is a no-op.
//
// The scan over all terms is O(vocabulary); at the personal-corpus scale
// this index targets that is cheaper than maintaining a reverse doc-to-term
// map alongside every mutation.
func (ix *Index) Remove(docID string) {
	entry, exists := ix.docs[docID]
	if !exists {
		return
	}
	for term, postings := range ix.terms {
		if _, ok := postings[docID]; !ok {
			continue
		}
		delete(postings, docID)
		if len(postings) == 0 {
			delete(ix.terms, term)
		}
	}
	delete(ix.docs, docID)
	ix.totalTokens -= int64(entry.Length)
}

// Has reports whether docID is currently indexed.
func (ix *Index) Has(docID string) bool {
	_, ok := ix.docs[docID]
	return ok
}

// TotalDocs returns the number of indexed documents.
func (ix *Index) TotalDocs() int {
	return len(ix.docs)
}

// VocabularySize returns the number of distinct terms.
func (ix *Index) VocabularySize() int {
	return len(ix.terms)
}

// Stats summarises the index counters.
type Stats struct {
	TotalDocs      int     `json:"total_docs"`
	VocabularySize int     `json:"vocabulary_size"`
	TotalTokens    int64   `json:"total_tokens"`
	AvgDocLength   float64 `json:"avg_doc_length"`
}

// Stats returns the current index counters.
func (ix *Index) Stats() Stats {
	return Stats{
		TotalDocs:      len(ix.docs),
		VocabularySize: len(ix.terms),
		TotalTokens:    ix.totalTokens,
		AvgDocLength:   ix.avgDocLength(),
	}
}

func (ix *Index) avgDocLength() float64 {
	if len(ix.docs) == 0 {
		return 0
	}
	return float64(ix.totalTokens) / float64(len(ix.docs))
}
