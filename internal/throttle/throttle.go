// Package throttle tracks login attempts per identity key and decides when a
// key has to be locked out.
//
// Every key owns a history of recent attempt timestamps and an optional lock
// expiry. Attempts older than the window are pruned while the key is
// unlocked. When more than MaxAttempts attempts fall inside the window the key
// is locked for one window; while locked the history is frozen, and the first
// attempt observed at or after the expiry clears it.
package throttle

import (
	"errors"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

const (
	DefaultWindow      = time.Minute
	DefaultMaxAttempts = 3

	shardCount = 64
)

type Config struct {
	// Window is both the retention period of an attempt and the duration of
	// a lockout.
	Window time.Duration
	// MaxAttempts is the number of attempts allowed inside Window. The next
	// one locks the key.
	MaxAttempts int
}

func (c Config) Validate() error {
	if c.Window <= 0 {
		return errors.New("throttle: window must be > 0")
	}
	if c.MaxAttempts < 0 {
		return errors.New("throttle: max attempts must be >= 0")
	}
	return nil
}

// History is a point-in-time copy of the state kept for one key.
type History struct {
	Seen        []time.Time
	LockedUntil time.Time
}

func (h History) Locked(now time.Time) bool {
	return !h.LockedUntil.IsZero() && h.LockedUntil.After(now)
}

// AttemptThrottle is safe for concurrent use. The zero value is not usable;
// build one with New.
type AttemptThrottle struct {
	window      time.Duration
	maxAttempts int
	now         func() time.Time

	shards [shardCount]shard
}

func New(cfg Config) (*AttemptThrottle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	t := &AttemptThrottle{
		window:      cfg.Window,
		maxAttempts: cfg.MaxAttempts,
		now:         time.Now,
	}
	for i := range t.shards {
		t.shards[i].entries = make(map[string]*history)
	}
	return t, nil
}

func (t *AttemptThrottle) Window() time.Duration { return t.window }

func (t *AttemptThrottle) MaxAttempts() int { return t.maxAttempts }

// ShouldBlockNow is ShouldBlock at the current wall-clock time.
func (t *AttemptThrottle) ShouldBlockNow(key string) bool {
	return t.ShouldBlock(key, t.now())
}

// ShouldBlock records an attempt for key at now and reports whether it must be
// rejected. Attempts made while the key is locked are not recorded.
func (t *AttemptThrottle) ShouldBlock(key string, now time.Time) bool {
	s := t.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	h := s.entries[key]
	if h == nil {
		h = &history{}
		s.entries[key] = h
	}
	return h.attempt(now, t.window, t.maxAttempts)
}

// RecordSuccess forgets everything known about key.
func (t *AttemptThrottle) RecordSuccess(key string) {
	s := t.shardFor(key)
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
}

// LockedUntil returns the stored lock expiry for key, or the zero time when
// the key is unknown or unlocked. An expiry in the past is returned as is;
// only ShouldBlock clears it.
func (t *AttemptThrottle) LockedUntil(key string) time.Time {
	s := t.shardFor(key)
	s.mu.RLock()
	defer s.mu.RUnlock()

	if h := s.entries[key]; h != nil {
		return h.lockedUntil
	}
	return time.Time{}
}

func (t *AttemptThrottle) Snapshot(key string) (History, bool) {
	s := t.shardFor(key)
	s.mu.RLock()
	defer s.mu.RUnlock()

	h := s.entries[key]
	if h == nil {
		return History{}, false
	}
	seen := make([]time.Time, len(h.seen))
	copy(seen, h.seen)
	return History{Seen: seen, LockedUntil: h.lockedUntil}, true
}

func (t *AttemptThrottle) Len() int {
	n := 0
	for i := range t.shards {
		s := &t.shards[i]
		s.mu.RLock()
		n += len(s.entries)
		s.mu.RUnlock()
	}
	return n
}

// Sweep drops entries that can no longer influence a decision made at or
// after now and returns how many were removed. A removed entry behaves exactly
// like an unseen key on its next ShouldBlock call.
func (t *AttemptThrottle) Sweep(now time.Time) int {
	removed := 0
	for i := range t.shards {
		s := &t.shards[i]
		s.mu.Lock()
		for key, h := range s.entries {
			if h.idle(now, t.window) {
				delete(s.entries, key)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

func (t *AttemptThrottle) shardFor(key string) *shard {
	return &t.shards[xxhash.Sum64String(key)%shardCount]
}

type shard struct {
	mu      sync.RWMutex
	entries map[string]*history
}
