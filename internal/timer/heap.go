// Package timer provides the min-heap of connection deadlines used to
// reclaim idle connections. The heap is keyed by monotonic deadline and
// carries an fd→position index so adjusting or cancelling an arbitrary
// connection's timer stays O(log n).
//
// A Heap is owned exclusively by the reactor goroutine; it carries no
// internal synchronization.
package timer

import "time"

type node struct {
	deadline time.Time
	id       uint64
	fd       int
	cb       func()
}

// Heap is a min-heap of per-connection deadlines.
type Heap struct {
	nodes  []node
	ref    map[int]int // fd -> index in nodes
	nextID uint64
}

// New returns an empty Heap.
func New() *Heap {
	return &Heap{ref: make(map[int]int)}
}

// Len returns the number of armed timers.
func (h *Heap) Len() int {
	return len(h.nodes)
}

// Add arms a timer for fd firing after timeout. An existing entry for fd is
// replaced in place and re-heapified.
func (h *Heap) Add(fd int, timeout time.Duration, cb func()) {
	deadline := time.Now().Add(timeout)
	if i, ok := h.ref[fd]; ok {
		h.nodes[i].deadline = deadline
		h.nodes[i].cb = cb
		if !h.siftDown(i) {
			h.siftUp(i)
		}
		return
	}
	h.nextID++
	h.nodes = append(h.nodes, node{deadline: deadline, id: h.nextID, fd: fd, cb: cb})
	i := len(h.nodes) - 1
	h.ref[fd] = i
	h.siftUp(i)
}

// Adjust moves fd's deadline to now + timeout. Unknown fds are ignored.
func (h *Heap) Adjust(fd int, timeout time.Duration) {
	i, ok := h.ref[fd]
	if !ok {
		return
	}
	h.nodes[i].deadline = time.Now().Add(timeout)
	if !h.siftDown(i) {
		h.siftUp(i)
	}
}

// Remove cancels fd's timer without invoking its callback.
func (h *Heap) Remove(fd int) {
	i, ok := h.ref[fd]
	if !ok {
		return
	}
	h.deleteAt(i)
}

// Tick pops every node whose deadline has passed and invokes its callback.
func (h *Heap) Tick() {
	now := time.Now()
	for len(h.nodes) > 0 {
		top := h.nodes[0]
		if top.deadline.After(now) {
			break
		}
		h.deleteAt(0)
		top.cb()
	}
}

// NextTickMS returns the number of milliseconds until the earliest deadline,
// clamped at 0, or -1 when no timers are armed. It is used directly as the
// reactor's wait timeout.
func (h *Heap) NextTickMS() int {
	if len(h.nodes) == 0 {
		return -1
	}
	ms := time.Until(h.nodes[0].deadline).Milliseconds()
	if ms < 0 {
		ms = 0
	}
	return int(ms)
}

func (h *Heap) deleteAt(i int) {
	last := len(h.nodes) - 1
	h.swap(i, last)
	delete(h.ref, h.nodes[last].fd)
	h.nodes = h.nodes[:last]
	if i < last {
		if !h.siftDown(i) {
			h.siftUp(i)
		}
	}
}

func (h *Heap) siftUp(i int) {
	for i > 0 {
		parent := (i - 1) / 2
		if !h.nodes[i].deadline.Before(h.nodes[parent].deadline) {
			break
		}
		h.swap(i, parent)
		i = parent
	}
}

// siftDown reports whether the node moved.
func (h *Heap) siftDown(i int) bool {
	start := i
	n := len(h.nodes)
	for {
		child := 2*i + 1
		if child >= n {
			break
		}
		if right := child + 1; right < n && h.nodes[right].deadline.Before(h.nodes[child].deadline) {
			child = right
		}
		if !h.nodes[child].deadline.Before(h.nodes[i].deadline) {
			break
		}
		h.swap(i, child)
		i = child
	}
	return i > start
}

func (h *Heap) swap(i, j int) {
	if i == j {
		return
	}
	h.nodes[i], h.nodes[j] = h.nodes[j], h.nodes[i]
	h.ref[h.nodes[i].fd] = i
	h.ref[h.nodes[j].fd] = j
}
