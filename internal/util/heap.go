// Package util holds small shared data structures used outside the
// retrieval hot path — currently a bounded max-heap used to merge already
// top-K'd candidate lists from multiple coarse-cell searches.
package util

import "container/heap"

// ScoredID is one scored candidate: an opaque identifier and its distance.
// It mirrors the shape of `lopq.Response` without this package depending
// on the lopq package.
type ScoredID struct {
	ID       string
	Distance float32
}

// BoundedMaxHeap keeps the MaxSize smallest-distance ScoredIDs seen so far,
// by always evicting the current largest once it overflows. It is used to
// merge several independently top-K'd result lists (e.g. from multiple
// coarse cells probed by a caller) into one bounded top-K list without
// buffering every candidate from every list.
type BoundedMaxHeap struct {
	items   []ScoredID
	maxSize int
}

// NewBoundedMaxHeap creates a heap that retains at most maxSize entries.
func NewBoundedMaxHeap(maxSize int) *BoundedMaxHeap {
	return &BoundedMaxHeap{
		items:   make([]ScoredID, 0, maxSize),
		maxSize: maxSize,
	}
}

func (h *BoundedMaxHeap) Len() int { return len(h.items) }

func (h *BoundedMaxHeap) Less(i, j int) bool {
	return h.items[i].Distance > h.items[j].Distance // max-heap: largest at root
}

func (h *BoundedMaxHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
}

func (h *BoundedMaxHeap) Push(x interface{}) {
	h.items = append(h.items, x.(ScoredID))
}

func (h *BoundedMaxHeap) Pop() interface{} {
	old := h.items
	n := len(old)
	item := old[n-1]
	h.items = old[:n-1]
	return item
}

// Offer considers a candidate for inclusion in the bounded top-K set. If
// the heap has room, the candidate is always kept. Otherwise it replaces
// the current worst (largest-distance) entry only if it is strictly
// better.
func (h *BoundedMaxHeap) Offer(candidate ScoredID) {
	if h.maxSize <= 0 {
		return
	}
	if h.Len() < h.maxSize {
		heap.Push(h, candidate)
		return
	}
	if candidate.Distance < h.items[0].Distance {
		heap.Pop(h)
		heap.Push(h, candidate)
	}
}

// Drain empties the heap into an ascending-by-distance slice.
func (h *BoundedMaxHeap) Drain() []ScoredID {
	out := make([]ScoredID, h.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(h).(ScoredID)
	}
	return out
}
