// Package lexical implements an in-memory BM25 keyword index over the
// passage corpus. An Index is immutable once built; Holder swaps in a
// freshly built Index atomically so readers never see a partial rebuild.
package lexical

import (
	"math"
	"sort"

	"github.com/kalambet/docqa/internal/retrieval"
)

// Okapi BM25 parameters.
const (
	k1 = 1.5
	b  = 0.75
)

// Hit is one scored passage from a lexical search.
type Hit struct {
	Passage retrieval.Passage
	Score   float64
}

type document struct {
	passage retrieval.Passage
	tf      map[string]int
	length  int
}

// Index is an immutable BM25 index.
type Index struct {
	docs   []document
	df     map[string]int
	avgLen float64
}

// Build indexes passages in the given order. Order is the tie-break for
// equal scores, so the same corpus always ranks identically.
func Build(passages []retrieval.Passage) *Index {
	idx := &Index{
		docs: make([]document, 0, len(passages)),
		df:   make(map[string]int),
	}
	var total int
	for _, p := range passages {
		terms := Tokenize(p.Content)
		tf := make(map[string]int, len(terms))
		for _, t := range terms {
			tf[t]++
		}
		for t := range tf {
			idx.df[t]++
		}
		idx.docs = append(idx.docs, document{passage: p, tf: tf, length: len(terms)})
		total += len(terms)
	}
	if len(idx.docs) > 0 {
		idx.avgLen = float64(total) / float64(len(idx.docs))
	}
	return idx
}

// Len returns the number of indexed passages.
func (idx *Index) Len() int {
	if idx == nil {
		return 0
	}
	return len(idx.docs)
}

// idf is the BM25 inverse document frequency, floored at zero so terms that
// occur in most passages never push a score negative.
func (idx *Index) idf(term string) float64 {
	n := float64(len(idx.docs))
	df := float64(idx.df[term])
	v := math.Log((n-df+0.5)/(df+0.5) + 1)
	return math.Max(v, 0)
}

// Search returns up to k passages with a positive BM25 score for query,
// best first. A query with no indexed terms returns nothing.
func (idx *Index) Search(query string, k int) []Hit {
	if idx.Len() == 0 || k <= 0 {
		return nil
	}
	terms := Tokenize(query)
	if len(terms) == 0 {
		return nil
	}

	weights := make(map[string]float64, len(terms))
	for _, t := range terms {
		if idx.df[t] > 0 {
			weights[t] = idx.idf(t)
		}
	}
	if len(weights) == 0 {
		return nil
	}

	type scored struct {
		pos   int
		score float64
	}
	var hits []scored
	for i, d := range idx.docs {
		var s float64
		norm := k1 * (1 - b + b*float64(d.length)/idx.avgLen)
		// Repeated query terms count once per occurrence, as in Okapi BM25.
		for _, t := range terms {
			w, ok := weights[t]
			if !ok {
				continue
			}
			f := float64(d.tf[t])
			if f == 0 {
				continue
			}
			s += w * f * (k1 + 1) / (f + norm)
		}
		if s > 0 {
			hits = append(hits, scored{pos: i, score: s})
		}
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].pos < hits[j].pos
	})
	if len(hits) > k {
		hits = hits[:k]
	}

	out := make([]Hit, len(hits))
	for i, h := range hits {
		out[i] = Hit{Passage: idx.docs[h.pos].passage, Score: h.score}
	}
	return out
}
