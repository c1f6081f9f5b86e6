package access

import (
	"sync"
	"time"
)

// DefaultIdleTimeout is the idle window after which the session re-locks.
const DefaultIdleTimeout = 30 * time.Second

// Locker is the session-level idle guard layered above the Gate. It has no
// persistence; a fresh process starts unlocked with the activity clock reset.
type Locker struct {
	mu         sync.Mutex
	timeout    time.Duration
	lastActive time.Time
	locked     bool
	now        func() time.Time
}

// NewLocker returns a Locker with the given idle timeout; zero or negative
// selects DefaultIdleTimeout.
func NewLocker(timeout time.Duration) *Locker {
	if timeout <= 0 {
		timeout = DefaultIdleTimeout
	}
	l := &Locker{timeout: timeout, now: time.Now}
	l.lastActive = l.now()
	return l
}

// ShouldLock reports whether the session is locked or has been idle for at
// least the timeout.
func (l *Locker) ShouldLock() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.locked {
		return true
	}
	return l.now().Sub(l.lastActive) >= l.timeout
}

// Lock marks the session locked. Idempotent.
func (l *Locker) Lock() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.locked = true
}

// Unlock clears the lock and resets the activity clock. Idempotent.
func (l *Locker) Unlock() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.locked = false
	l.lastActive = l.now()
}

// Touch records activity, deferring the idle lock.
func (l *Locker) Touch() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastActive = l.now()
	l.locked = false
}

// IsLocked reports the explicit lock flag without consulting idle time.
func (l *Locker) IsLocked() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.locked
}
