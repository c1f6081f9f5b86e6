package remote

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/tpass/tpass/pkg/keystore"
)

// ErrNoToken indicates no stored credentials; the user must log in first.
var ErrNoToken = errors.New("remote: not logged in")

// Keystore slots for the persisted session.
const (
	tokenKey        = "sync_token"
	tokenExpiresKey = "sync_token_expires"
	userNameKey     = "sync_user_name"
	userEmailKey    = "sync_user_email"
)

// Token is an OAuth bearer token. A zero ExpiresAt means no known expiry.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// Valid reports whether the token exists and has not expired.
func (t Token) Valid() bool {
	if t.Value == "" {
		return false
	}
	return t.ExpiresAt.IsZero() || time.Now().Before(t.ExpiresAt)
}

// TokenSource yields the token to authenticate disk-API calls with.
type TokenSource interface {
	Token() (Token, error)
}

// KeystoreTokens persists the sync session (token plus the account's display
// name and email) in the encrypted keystore.
type KeystoreTokens struct {
	store keystore.Store
}

// NewKeystoreTokens returns a token source backed by store.
func NewKeystoreTokens(store keystore.Store) *KeystoreTokens {
	return &KeystoreTokens{store: store}
}

// Token returns the stored token, or ErrNoToken when none is saved.
func (k *KeystoreTokens) Token() (Token, error) {
	value, ok, err := k.store.Get(tokenKey)
	if err != nil {
		return Token{}, fmt.Errorf("remote: failed to read token: %w", err)
	}
	if !ok || value == "" {
		return Token{}, ErrNoToken
	}

	tok := Token{Value: value}
	if raw, ok, err := k.store.Get(tokenExpiresKey); err != nil {
		return Token{}, fmt.Errorf("remote: failed to read token expiry: %w", err)
	} else if ok && raw != "" {
		millis, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return Token{}, fmt.Errorf("remote: invalid token expiry %q: %w", raw, err)
		}
		tok.ExpiresAt = time.UnixMilli(millis)
	}
	return tok, nil
}

// Save stores the token and the account identity it belongs to.
func (k *KeystoreTokens) Save(tok Token, name, email string) error {
	if err := k.store.Set(tokenKey, tok.Value); err != nil {
		return fmt.Errorf("remote: failed to save token: %w", err)
	}
	expires := ""
	if !tok.ExpiresAt.IsZero() {
		expires = strconv.FormatInt(tok.ExpiresAt.UnixMilli(), 10)
	}
	if err := k.store.Set(tokenExpiresKey, expires); err != nil {
		return fmt.Errorf("remote: failed to save token expiry: %w", err)
	}
	if err := k.store.Set(userNameKey, name); err != nil {
		return fmt.Errorf("remote: failed to save user name: %w", err)
	}
	if err := k.store.Set(userEmailKey, email); err != nil {
		return fmt.Errorf("remote: failed to save user email: %w", err)
	}
	return nil
}

// User returns the stored account display name and email, empty when unknown.
func (k *KeystoreTokens) User() (name, email string, err error) {
	if name, _, err = k.store.Get(userNameKey); err != nil {
		return "", "", fmt.Errorf("remote: failed to read user name: %w", err)
	}
	if email, _, err = k.store.Get(userEmailKey); err != nil {
		return "", "", fmt.Errorf("remote: failed to read user email: %w", err)
	}
	return name, email, nil
}

// Clear forgets the stored session.
func (k *KeystoreTokens) Clear() error {
	for _, key := range []string{tokenKey, tokenExpiresKey, userNameKey, userEmailKey} {
		if err := k.store.Delete(key); err != nil {
			return fmt.Errorf("remote: failed to clear session: %w", err)
		}
	}
	return nil
}
