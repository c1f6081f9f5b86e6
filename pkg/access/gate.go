// Package access implements master-secret verification with attempt limiting
// and cooldown lockout, plus the session-level idle lock.
//
// The secret itself is never persisted or compared in plaintext: only a
// SHA-256 digest is stored, in an injected keystore that guarantees
// confidentiality at rest.
package access

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/tpass/tpass/pkg/keystore"
)

const (
	// MaxAttempts is the number of consecutive failed verifications allowed
	// before the cooldown window opens.
	MaxAttempts = 3

	// Cooldown is the lockout window entered when attempts are exhausted.
	Cooldown = 60 * time.Second
)

// Keystore keys. These match the persisted layout of existing installs.
const (
	secretHashKey      = "master_password"
	attemptsKey        = "attempts_remaining"
	lastFailureTimeKey = "last_attempt_time"
)

// ErrNoSecret indicates Verify was called before any master secret was set.
var ErrNoSecret = errors.New("access: no master secret configured")

// InvalidSecretError reports a failed verification and how many attempts are
// left before lockout.
type InvalidSecretError struct {
	Remaining int
}

func (e *InvalidSecretError) Error() string {
	return fmt.Sprintf("access: invalid master secret (%d attempts remaining)", e.Remaining)
}

// CooldownError reports that verification is locked out and for how long.
type CooldownError struct {
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("access: cooldown active, retry in %s", e.Remaining.Round(time.Second))
}

// Gate verifies the master secret and enforces the attempt limit. All state
// lives in the injected keystore so a process restart does not reset the
// counter.
type Gate struct {
	store keystore.Store
	now   func() time.Time
}

// NewGate returns a Gate backed by store.
func NewGate(store keystore.Store) *Gate {
	return &Gate{store: store, now: time.Now}
}

// SetSecret stores the digest of secret and re-arms the attempt counter.
func (g *Gate) SetSecret(secret string) error {
	if err := g.store.Set(secretHashKey, hashSecret(secret)); err != nil {
		return fmt.Errorf("access: failed to store secret digest: %w", err)
	}
	return g.ResetAttempts()
}

// HasSecret reports whether a master secret has been configured.
func (g *Gate) HasSecret() (bool, error) {
	_, ok, err := g.store.Get(secretHashKey)
	if err != nil {
		return false, fmt.Errorf("access: failed to read secret digest: %w", err)
	}
	return ok, nil
}

// Verify checks candidate against the stored digest.
//
// While the cooldown window is open the candidate is rejected immediately
// without consuming an attempt, regardless of correctness. A mismatch
// decrements the counter; when it reaches zero the failure time is recorded
// and the window opens. A match re-arms the counter. Once the window has
// elapsed the counter is NOT re-armed automatically; callers observe the
// expiry and invoke ResetAttempts explicitly.
func (g *Gate) Verify(candidate string) error {
	if remaining := g.CooldownRemaining(); remaining > 0 {
		return &CooldownError{Remaining: remaining}
	}

	stored, ok, err := g.store.Get(secretHashKey)
	if err != nil {
		return fmt.Errorf("access: failed to read secret digest: %w", err)
	}
	if !ok {
		return ErrNoSecret
	}

	if subtle.ConstantTimeCompare([]byte(stored), []byte(hashSecret(candidate))) == 1 {
		return g.ResetAttempts()
	}

	remaining := g.RemainingAttempts()
	if remaining > 0 {
		remaining--
		if err := g.store.Set(attemptsKey, strconv.Itoa(remaining)); err != nil {
			return fmt.Errorf("access: failed to store attempt counter: %w", err)
		}
		if remaining == 0 {
			millis := strconv.FormatInt(g.now().UnixMilli(), 10)
			if err := g.store.Set(lastFailureTimeKey, millis); err != nil {
				return fmt.Errorf("access: failed to store failure time: %w", err)
			}
		}
	}
	return &InvalidSecretError{Remaining: remaining}
}

// RemainingAttempts returns how many verification attempts remain.
func (g *Gate) RemainingAttempts() int {
	v, ok, err := g.store.Get(attemptsKey)
	if err != nil || !ok {
		return MaxAttempts
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 || n > MaxAttempts {
		return MaxAttempts
	}
	return n
}

// CooldownRemaining returns how long the lockout window stays open, or zero.
func (g *Gate) CooldownRemaining() time.Duration {
	v, ok, err := g.store.Get(lastFailureTimeKey)
	if err != nil || !ok {
		return 0
	}
	millis, err := strconv.ParseInt(v, 10, 64)
	if err != nil || millis == 0 {
		return 0
	}

	elapsed := g.now().Sub(time.UnixMilli(millis))
	if elapsed >= Cooldown {
		return 0
	}
	return Cooldown - elapsed
}

// InCooldown reports whether the lockout window is currently open.
func (g *Gate) InCooldown() bool {
	return g.CooldownRemaining() > 0
}

// ResetAttempts re-arms the counter and clears the failure time.
func (g *Gate) ResetAttempts() error {
	if err := g.store.Set(attemptsKey, strconv.Itoa(MaxAttempts)); err != nil {
		return fmt.Errorf("access: failed to reset attempt counter: %w", err)
	}
	if err := g.store.Set(lastFailureTimeKey, "0"); err != nil {
		return fmt.Errorf("access: failed to clear failure time: %w", err)
	}
	return nil
}

func hashSecret(secret string) string {
	digest := sha256.Sum256([]byte(secret))
	return base64.StdEncoding.EncodeToString(digest[:])
}
