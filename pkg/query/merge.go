package query

import (
	"container/heap"

	"github.com/diwise/field-sync/pkg/records"
)

// Hit is a search result. Lower weights rank higher.
type Hit struct {
	Record *records.Record
	Weight float64
}

type Iterator interface {
	Next() (Hit, bool)
}

type sliceIterator struct {
	hits []Hit
	pos  int
}

// Hits returns an iterator over hits that are already ordered by weight
func Hits(hits ...Hit) Iterator {
	return &sliceIterator{hits: hits}
}

func (it *sliceIterator) Next() (Hit, bool) {
	if it.pos >= len(it.hits) {
		return Hit{}, false
	}
	h := it.hits[it.pos]
	it.pos++
	return h, true
}

type peeked struct {
	hit    Hit
	source int
	it     Iterator
}

type hitHeap []*peeked

func (h hitHeap) Len() int { return len(h) }
func (h hitHeap) Less(i, j int) bool {
	if h[i].hit.Weight == h[j].hit.Weight {
		return h[i].source < h[j].source
	}
	return h[i].hit.Weight < h[j].hit.Weight
}
func (h hitHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *hitHeap) Push(x any)   { *h = append(*h, x.(*peeked)) }
func (h *hitHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

type mergeIterator struct {
	h hitHeap
}

// Merge combines iterators that each yield hits in ascending weight into one
// iterator in ascending weight. Equal weights keep the order of the iterators.
func Merge(iterators ...Iterator) Iterator {
	m := &mergeIterator{h: make(hitHeap, 0, len(iterators))}

	for idx, it := range iterators {
		if hit, ok := it.Next(); ok {
			m.h = append(m.h, &peeked{hit: hit, source: idx, it: it})
		}
	}

	heap.Init(&m.h)

	return m
}

func (m *mergeIterator) Next() (Hit, bool) {
	if m.h.Len() == 0 {
		return Hit{}, false
	}

	top := m.h[0]
	hit := top.hit

	if next, ok := top.it.Next(); ok {
		top.hit = next
		heap.Fix(&m.h, 0)
	} else {
		heap.Pop(&m.h)
	}

	return hit, true
}

// Collect drains an iterator, stopping after limit hits when limit is positive
func Collect(it Iterator, limit int) []Hit {
	hits := []Hit{}
	for {
		if limit > 0 && len(hits) >= limit {
			return hits
		}
		hit, ok := it.Next()
		if !ok {
			return hits
		}
		hits = append(hits, hit)
	}
}
