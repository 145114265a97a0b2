package timer

import (
	"math/rand"
	"testing"
	"time"
)

// verify checks the heap property and the fd→index map after every mutation.
func verify(t *testing.T, h *Heap) {
	t.Helper()
	for i := range h.nodes {
		if left := 2*i + 1; left < len(h.nodes) {
			if h.nodes[left].deadline.Before(h.nodes[i].deadline) {
				t.Fatalf("heap violated at %d/%d", i, left)
			}
		}
		if right := 2*i + 2; right < len(h.nodes) {
			if h.nodes[right].deadline.Before(h.nodes[i].deadline) {
				t.Fatalf("heap violated at %d/%d", i, right)
			}
		}
	}
	if len(h.ref) != len(h.nodes) {
		t.Fatalf("ref has %d entries, heap has %d", len(h.ref), len(h.nodes))
	}
	for fd, i := range h.ref {
		if h.nodes[i].fd != fd {
			t.Fatalf("ref[%d] = %d but nodes[%d].fd = %d", fd, i, i, h.nodes[i].fd)
		}
	}
}

func TestRandomAddAdjustRemove(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	h := New()
	live := make(map[int]bool)

	for step := 0; step < 2000; step++ {
		fd := rng.Intn(64)
		switch rng.Intn(3) {
		case 0:
			h.Add(fd, time.Duration(rng.Intn(5000))*time.Millisecond, func() {})
			live[fd] = true
		case 1:
			h.Adjust(fd, time.Duration(rng.Intn(5000))*time.Millisecond)
		case 2:
			h.Remove(fd)
			delete(live, fd)
		}
		verify(t, h)
	}

	if h.Len() != len(live) {
		t.Fatalf("Len() = %d, want %d", h.Len(), len(live))
	}
}

func TestAddReplacesExisting(t *testing.T) {
	h := New()
	h.Add(7, time.Hour, func() {})
	h.Add(7, time.Millisecond, func() {})

	if h.Len() != 1 {
		t.Fatalf("Len() = %d after double add of one fd", h.Len())
	}
	if ms := h.NextTickMS(); ms > 1 {
		t.Fatalf("NextTickMS() = %d, replacement did not take", ms)
	}
}

func TestTickFiresAllExpired(t *testing.T) {
	h := New()
	var fired []int
	h.Add(1, -time.Second, func() { fired = append(fired, 1) })
	h.Add(2, -time.Millisecond, func() { fired = append(fired, 2) })
	h.Add(3, time.Hour, func() { fired = append(fired, 3) })

	h.Tick()

	if len(fired) != 2 {
		t.Fatalf("fired %v, want exactly fds 1 and 2", fired)
	}
	for _, fd := range fired {
		if fd == 3 {
			t.Fatal("unexpired timer fired")
		}
	}
	if h.Len() != 1 {
		t.Fatalf("Len() = %d after tick, want 1", h.Len())
	}
	verify(t, h)
}

func TestRemoveDoesNotFire(t *testing.T) {
	h := New()
	fired := false
	h.Add(5, -time.Second, func() { fired = true })
	h.Remove(5)
	h.Tick()

	if fired {
		t.Fatal("removed timer fired")
	}
	if h.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", h.Len())
	}
}

func TestNextTickMS(t *testing.T) {
	h := New()
	if got := h.NextTickMS(); got != -1 {
		t.Fatalf("empty heap NextTickMS() = %d, want -1", got)
	}

	h.Add(1, 500*time.Millisecond, func() {})
	got := h.NextTickMS()
	if got < 400 || got > 500 {
		t.Fatalf("NextTickMS() = %d, want ~500", got)
	}

	h.Add(2, -time.Second, func() {})
	if got := h.NextTickMS(); got != 0 {
		t.Fatalf("NextTickMS() = %d with expired root, want 0", got)
	}
}

func TestAdjustExtends(t *testing.T) {
	h := New()
	fired := false
	h.Add(9, time.Millisecond, func() { fired = true })
	h.Adjust(9, time.Hour)

	time.Sleep(5 * time.Millisecond)
	h.Tick()
	if fired {
		t.Fatal("adjusted timer fired at original deadline")
	}
}
