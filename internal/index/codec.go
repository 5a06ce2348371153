package index

import (
	"encoding/json"
	"fmt"

	"github.com/recallhq/recall/internal/tokenizer"
	pkgerrors "github.com/recallhq/recall/pkg/errors"
)

// FormatVersion identifies the on-disk index payload layout. This file is
// the only place that knows the textual format; everything else works with
// the typed maps.
const FormatVersion = 1

// persisted is the JSON shape of a serialised index. Terms and documents
// are plain string-keyed objects; counters are persisted so a load never
// has to recompute them.
type persisted struct {
	Version     int                       `json:"version"`
	TotalDocs   int                       `json:"total_docs"`
	TotalTokens int64                     `json:"total_tokens"`
	Terms       map[string]map[string]int `json:"terms"`
	Docs        map[string]int            `json:"docs"`
}

// Serialize encodes the index into its versioned JSON payload.
func Serialize(ix *Index) ([]byte, error) {
	p := persisted{
		Version:     FormatVersion,
		TotalDocs:   len(ix.docs),
		TotalTokens: ix.totalTokens,
		Terms:       ix.terms,
		Docs:        make(map[string]int, len(ix.docs)),
	}
	for docID, entry := range ix.docs {
		p.Docs[docID] = entry.Length
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshaling index: %w", err)
	}
	return data, nil
}

// Deserialize reconstructs an index from a serialised payload, validating
// it structurally first. Every failure wraps ErrCorruptIndex so the
// manager can recognise self-healable state. The round-trip law holds:
// Deserialize(Serialize(ix)) behaves identically to ix for every mutation
// and query.
func Deserialize(data []byte, tok tokenizer.Tokenizer) (*Index, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", pkgerrors.ErrCorruptIndex)
	}
	var p persisted
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", pkgerrors.ErrCorruptIndex, err)
	}
	if err := validate(&p); err != nil {
		return nil, err
	}

	ix := New(tok)
	for docID, length := range p.Docs {
		ix.docs[docID] = DocEntry{Length: length}
	}
	for term, postings := range p.Terms {
		rebuilt := make(map[string]int, len(postings))
		for docID, tf := range postings {
			rebuilt[docID] = tf
		}
		ix.terms[term] = rebuilt
	}
	ix.totalTokens = p.TotalTokens
	return ix, nil
}

// validate checks the structural invariants of a persisted payload: a
// supported version, counters that match the maps, positive term
// frequencies, and no posting that references an unknown document.
func validate(p *persisted) error {
	if p.Version != FormatVersion {
		return fmt.Errorf("%w: unsupported version %d", pkgerrors.ErrCorruptIndex, p.Version)
	}
	if p.TotalDocs != len(p.Docs) {
		return fmt.Errorf("%w: total_docs %d does not match %d document entries",
			pkgerrors.ErrCorruptIndex, p.TotalDocs, len(p.Docs))
	}
	var tokens int64
	for docID, length := range p.Docs {
		if length < 0 {
			return fmt.Errorf("%w: negative length for document %q", pkgerrors.ErrCorruptIndex, docID)
		}
		tokens += int64(length)
	}
	if tokens != p.TotalTokens {
		return fmt.Errorf("%w: total_tokens %d does not match summed lengths %d",
			pkgerrors.ErrCorruptIndex, p.TotalTokens, tokens)
	}
	for term, postings := range p.Terms {
		if len(postings) == 0 {
			return fmt.Errorf("%w: term %q has no postings", pkgerrors.ErrCorruptIndex, term)
		}
		for docID, tf := range postings {
			if tf <= 0 {
				return fmt.Errorf("%w: non-positive frequency for term %q in document %q",
					pkgerrors.ErrCorruptIndex, term, docID)
			}
			if _, ok := p.Docs[docID]; !ok {
				return fmt.Errorf("%w: term %q references unknown document %q",
					pkgerrors.ErrCorruptIndex, term, docID)
			}
		}
	}
	return nil
}
