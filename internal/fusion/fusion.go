// Package fusion merges ranked candidate lists from several retrievers.
package fusion

import (
	"sort"

	"github.com/kalambet/docqa/internal/retrieval"
)

// RRFConstant is the rank offset c in score = weight / (c + rank).
const RRFConstant = 60

// Default weights for the dense and lexical lists.
const (
	DefaultDenseWeight   = 0.8
	DefaultLexicalWeight = 0.2
)

// Weighted combines ranked lists with weighted reciprocal rank fusion.
// weights[i] applies to lists[i]; a missing weight counts as 1. Candidates
// are identified by Candidate.Key, so the same passage found by both
// retrievers accumulates both contributions and appears once. Within one
// list only the first occurrence of a key counts.
//
// The result is ordered by fused score, ties broken by first appearance
// across the lists in order. A single non-empty list comes back in its
// original order. Returned candidates carry OriginFused and their fused
// score.
func Weighted(lists [][]retrieval.Candidate, weights []float64) []retrieval.Candidate {
	type entry struct {
		cand  retrieval.Candidate
		score float64
		first int
	}

	byKey := make(map[string]*entry)
	var order []*entry
	for li, list := range lists {
		w := 1.0
		if li < len(weights) {
			w = weights[li]
		}
		seen := make(map[string]bool, len(list))
		for rank, c := range list {
			key := c.Key()
			if seen[key] {
				continue
			}
			seen[key] = true
			e, ok := byKey[key]
			if !ok {
				e = &entry{cand: c, first: len(order)}
				byKey[key] = e
				order = append(order, e)
			}
			e.score += w / float64(RRFConstant+rank+1)
		}
	}
	if len(order) == 0 {
		return nil
	}

	sort.SliceStable(order, func(i, j int) bool {
		if order[i].score != order[j].score {
			return order[i].score > order[j].score
		}
		return order[i].first < order[j].first
	})

	out := make([]retrieval.Candidate, len(order))
	for i, e := range order {
		c := e.cand
		c.Score = e.score
		c.Origin = retrieval.OriginFused
		out[i] = c
	}
	return out
}
