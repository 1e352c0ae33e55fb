package dispatch

import "sync"

// dedup is a bounded recently-seen message-id set. When the set grows
// past its capacity the oldest half is discarded, trading a small
// re-delivery window for constant memory.
type dedup struct {
	mu       sync.Mutex
	capacity int
	ids      map[string]struct{}
	order    []string
}

func newDedup(capacity int) *dedup {
	if capacity <= 0 {
		capacity = 1000
	}
	return &dedup{
		capacity: capacity,
		ids:      make(map[string]struct{}, capacity),
	}
}

// Seen records id and reports whether it had been recorded before.
func (d *dedup) Seen(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.ids[id]; ok {
		return true
	}

	d.ids[id] = struct{}{}
	d.order = append(d.order, id)

	if len(d.order) > d.capacity {
		drop := len(d.order) / 2
		for _, old := range d.order[:drop] {
			delete(d.ids, old)
		}
		d.order = append(d.order[:0], d.order[drop:]...)
	}

	return false
}

// Len reports the number of ids currently tracked.
func (d *dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.ids)
}
