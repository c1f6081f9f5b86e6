package access

import (
	"testing"
	"time"
)

func newTestLocker(timeout time.Duration) (*Locker, *time.Time) {
	now := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	l := &Locker{timeout: timeout, now: func() time.Time { return now }}
	l.lastActive = now
	return l, &now
}

func TestLockerIdleTimeout(t *testing.T) {
	l, now := newTestLocker(30 * time.Second)

	if l.ShouldLock() {
		t.Error("fresh locker should not lock")
	}

	*now = now.Add(29 * time.Second)
	if l.ShouldLock() {
		t.Error("locked before timeout elapsed")
	}

	*now = now.Add(time.Second)
	if !l.ShouldLock() {
		t.Error("did not lock at timeout")
	}
}

func TestLockerTouchDefersLock(t *testing.T) {
	l, now := newTestLocker(30 * time.Second)

	*now = now.Add(25 * time.Second)
	l.Touch()
	*now = now.Add(25 * time.Second)
	if l.ShouldLock() {
		t.Error("activity did not defer the idle lock")
	}
}

func TestLockerExplicitLock(t *testing.T) {
	l, _ := newTestLocker(30 * time.Second)

	l.Lock()
	if !l.IsLocked() || !l.ShouldLock() {
		t.Error("explicit lock not honored")
	}
	l.Lock() // idempotent
	if !l.IsLocked() {
		t.Error("second Lock changed state")
	}

	l.Unlock()
	if l.IsLocked() || l.ShouldLock() {
		t.Error("unlock did not clear state and reset activity")
	}
	l.Unlock() // idempotent
	if l.IsLocked() {
		t.Error("second Unlock changed state")
	}
}

func TestNewLockerDefaultTimeout(t *testing.T) {
	l := NewLocker(0)
	if l.timeout != DefaultIdleTimeout {
		t.Errorf("timeout = %v, want %v", l.timeout, DefaultIdleTimeout)
	}
}
