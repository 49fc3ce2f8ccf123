package taskqueue

type entry struct {
	processor *Processor
	seq       uint64
	// urgent entries were unshifted and run before everything else, latest first
	urgent uint64
}

type taskHeap []*entry

func (h taskHeap) Len() int { return len(h) }
func (h taskHeap) Less(i, j int) bool {
	a, b := h[i], h[j]
	if a.urgent != b.urgent {
		return a.urgent > b.urgent
	}
	if a.processor.task.Priority != b.processor.task.Priority {
		return a.processor.task.Priority < b.processor.task.Priority
	}
	return a.seq < b.seq
}
func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *taskHeap) Push(x any)   { *h = append(*h, x.(*entry)) }
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}
