package throttle

import "time"

// history is the mutable per-key record. It is only touched with the owning
// shard's lock held.
type history struct {
	seen        []time.Time
	lockedUntil time.Time
}

func (h *history) locked() bool { return !h.lockedUntil.IsZero() }

func (h *history) attempt(now time.Time, window time.Duration, maxAttempts int) bool {
	if h.locked() && !h.lockedUntil.After(now) {
		h.seen = h.seen[:0]
		h.lockedUntil = time.Time{}
	}

	if !h.locked() {
		h.prune(now, window)
		h.seen = append(h.seen, now)
		if len(h.seen) > maxAttempts {
			h.lockedUntil = now.Add(window)
		}
	}

	return h.locked() && h.lockedUntil.After(now)
}

// prune drops attempts that fell out of the window ending at now. Insertion
// order is not value order when callers pass their own timestamps, so every
// entry is checked.
func (h *history) prune(now time.Time, window time.Duration) {
	kept := h.seen[:0]
	for _, ts := range h.seen {
		if ts.Add(window).Before(now) {
			continue
		}
		kept = append(kept, ts)
	}
	clear(h.seen[len(kept):])
	h.seen = kept
}

func (h *history) idle(now time.Time, window time.Duration) bool {
	if h.locked() {
		return !h.lockedUntil.After(now)
	}
	for _, ts := range h.seen {
		if !ts.Add(window).Before(now) {
			return false
		}
	}
	return true
}
