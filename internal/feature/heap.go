package feature

import (
	"container/heap"
	"sort"
)

// Neighbor is one k-NN result: the stored point's id and its squared
// Euclidean distance from the query.
type Neighbor struct {
	ID     string
	DistSq float64
}

// neighborHeap is a bounded max-heap of the k best neighbors seen so
// far, ordered worst-first so the current k-th best is O(1) to inspect
// and O(log k) to replace.
type neighborHeap struct {
	items []Neighbor
	cap   int
}

func newNeighborHeap(k int) *neighborHeap {
	return &neighborHeap{items: make([]Neighbor, 0, k), cap: k}
}

func (h *neighborHeap) Len() int            { return len(h.items) }
func (h *neighborHeap) Less(i, j int) bool  { return h.items[i].DistSq > h.items[j].DistSq }
func (h *neighborHeap) Swap(i, j int)       { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *neighborHeap) Push(x interface{})  { h.items = append(h.items, x.(Neighbor)) }
func (h *neighborHeap) Pop() interface{} {
	n := len(h.items)
	it := h.items[n-1]
	h.items = h.items[:n-1]
	return it
}

// full reports whether the heap holds k candidates.
func (h *neighborHeap) full() bool { return len(h.items) >= h.cap }

// worst returns the current k-th best squared distance. Only valid when
// the heap is full.
func (h *neighborHeap) worst() float64 { return h.items[0].DistSq }

// offer inserts a candidate, evicting the current worst when the heap is
// full and the candidate improves on it.
func (h *neighborHeap) offer(n Neighbor) {
	if !h.full() {
		heap.Push(h, n)
		return
	}
	if n.DistSq < h.worst() {
		h.items[0] = n
		heap.Fix(h, 0)
	}
}

// sorted drains the heap into a slice ordered by ascending distance,
// breaking distance ties by id for deterministic results.
func (h *neighborHeap) sorted() []Neighbor {
	out := make([]Neighbor, len(h.items))
	copy(out, h.items)
	sort.Slice(out, func(i, j int) bool {
		if out[i].DistSq != out[j].DistSq {
			return out[i].DistSq < out[j].DistSq
		}
		return out[i].ID < out[j].ID
	})
	return out
}
