package lopq

import "github.com/xDarkicex/lopq/internal/util"

// MergeResponses merges several already-ranked Response lists — for
// instance the results of probing more than one coarse cell externally,
// per §4.2.2's "a caller wanting multi-probe iterates externally and
// merges" — into one ascending-by-distance list bounded to quota
// entries. The relative order of entries with equal distances, and which
// of them are kept when the quota falls between them, is not defined.
//
// This is a caller-side convenience, not a core search operation: the
// core itself never probes more than the one cell it was asked for.
func MergeResponses(quota int, lists ...[]Response) []Response {
	if quota <= 0 {
		return nil
	}
	h := util.NewBoundedMaxHeap(quota)
	for _, list := range lists {
		for _, r := range list {
			h.Offer(util.ScoredID{ID: r.ID, Distance: r.Distance})
		}
	}
	drained := h.Drain()
	out := make([]Response, len(drained))
	for i, s := range drained {
		out[i] = Response{ID: s.ID, Distance: s.Distance}
	}
	return out
}
