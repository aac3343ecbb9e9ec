package scheduler

import "container/heap"

// recordHeap implements container/heap.Interface over *Record and keeps
// Record.index in sync so records can be removed from the middle.
type recordHeap struct {
	items []*Record
	less  func(a, b *Record) bool
	loc   location
}

func (h *recordHeap) Len() int           { return len(h.items) }
func (h *recordHeap) Less(i, j int) bool { return h.less(h.items[i], h.items[j]) }
func (h *recordHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.items[i].index = i
	h.items[j].index = j
}

func (h *recordHeap) Push(x any) {
	r := x.(*Record)
	r.index = len(h.items)
	r.loc = h.loc
	h.items = append(h.items, r)
}

func (h *recordHeap) Pop() any {
	old := h.items
	n := len(old)
	r := old[n-1]
	old[n-1] = nil
	h.items = old[:n-1]
	r.index = -1
	r.loc = locNone
	return r
}

func (h *recordHeap) peek() *Record {
	if len(h.items) == 0 {
		return nil
	}
	return h.items[0]
}

func (h *recordHeap) push(r *Record) { heap.Push(h, r) }

func (h *recordHeap) pop() *Record { return heap.Pop(h).(*Record) }

func (h *recordHeap) remove(r *Record) {
	if r.index < 0 || r.index >= len(h.items) || h.items[r.index] != r {
		return
	}
	heap.Remove(h, r.index)
}

// byWhen orders the waiting heap: earliest due time first.
func byWhen(a, b *Record) bool {
	if !a.When.Equal(b.When) {
		return a.When.Before(b.When)
	}
	return a.seq < b.seq
}

// byPriority orders the ready heap: lowest band first, then earliest due time.
func byPriority(a, b *Record) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	return byWhen(a, b)
}
