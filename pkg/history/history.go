// Package history provides the append-only change log fed by store
// mutations. Entries are never mutated after insertion; each carries an HMAC
// chained over its predecessor so tampering with the log is detectable.
package history

import (
	"crypto/hmac"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"

	_ "modernc.org/sqlite"
)

// Actions recorded by store mutations.
const (
	ActionCreated  = "created"
	ActionModified = "modified"
	ActionDeleted  = "deleted"
)

// Entry is one audit record. OldSecret/NewSecret carry the before/after
// secret values: created has an empty OldSecret, deleted an empty NewSecret.
type Entry struct {
	ID          string
	ServiceName string
	Username    string
	OldSecret   string
	NewSecret   string
	Action      string
	Timestamp   time.Time
}

// Sink receives entries from the store. *Log satisfies it.
type Sink interface {
	Append(e Entry) error
}

// VerifyResult summarizes a chain walk.
type VerifyResult struct {
	Entries  int
	Valid    bool
	BrokenAt string // ID of the first entry whose MAC does not verify
}

// Log is the sqlite-backed implementation of Sink.
type Log struct {
	mu  sync.Mutex
	db  *sql.DB
	key []byte
}

// Open opens or creates the history database at path. chainKey is the secret
// material the per-log MAC key is derived from; entries written under
// different chain keys will fail Verify.
func Open(path string, chainKey []byte) (*Log, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("history: failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS password_history (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT UNIQUE NOT NULL,
			service_name TEXT NOT NULL,
			username TEXT NOT NULL,
			old_secret TEXT NOT NULL,
			new_secret TEXT NOT NULL,
			action TEXT NOT NULL,
			timestamp TIMESTAMP NOT NULL,
			mac TEXT NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: failed to create table: %w", err)
	}

	key, err := deriveMACKey(chainKey)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Log{db: db, key: key}, nil
}

// Close releases the underlying database handle.
func (l *Log) Close() error {
	return l.db.Close()
}

// Append inserts an entry at the head of the chain. A zero ID or Timestamp
// is filled in.
func (l *Log) Append(e Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	prevMAC, err := l.lastMAC()
	if err != nil {
		return err
	}
	mac := l.entryMAC(prevMAC, &e)

	_, err = l.db.Exec(`
		INSERT INTO password_history (id, service_name, username, old_secret, new_secret, action, timestamp, mac)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.ServiceName, e.Username, e.OldSecret, e.NewSecret, e.Action,
		e.Timestamp.Format(time.RFC3339Nano), mac)
	if err != nil {
		return fmt.Errorf("history: failed to append entry: %w", err)
	}
	return nil
}

// List returns all entries, newest first.
func (l *Log) List() ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rows, err := l.db.Query(`
		SELECT id, service_name, username, old_secret, new_secret, action, timestamp
		FROM password_history ORDER BY seq DESC`)
	if err != nil {
		return nil, fmt.Errorf("history: failed to query entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var ts string
		if err := rows.Scan(&e.ID, &e.ServiceName, &e.Username, &e.OldSecret,
			&e.NewSecret, &e.Action, &ts); err != nil {
			return nil, fmt.Errorf("history: failed to scan row: %w", err)
		}
		if e.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("history: invalid timestamp %q: %w", ts, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: error iterating rows: %w", err)
	}
	return entries, nil
}

// Verify walks the chain oldest-first and checks every MAC.
func (l *Log) Verify() (*VerifyResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rows, err := l.db.Query(`
		SELECT id, service_name, username, old_secret, new_secret, action, timestamp, mac
		FROM password_history ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("history: failed to query entries: %w", err)
	}
	defer rows.Close()

	result := &VerifyResult{Valid: true}
	prevMAC := ""
	for rows.Next() {
		var e Entry
		var ts, mac string
		if err := rows.Scan(&e.ID, &e.ServiceName, &e.Username, &e.OldSecret,
			&e.NewSecret, &e.Action, &ts, &mac); err != nil {
			return nil, fmt.Errorf("history: failed to scan row: %w", err)
		}
		if e.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("history: invalid timestamp %q: %w", ts, err)
		}
		result.Entries++

		if result.Valid && !hmac.Equal([]byte(mac), []byte(l.entryMAC(prevMAC, &e))) {
			result.Valid = false
			result.BrokenAt = e.ID
		}
		prevMAC = mac
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: error iterating rows: %w", err)
	}
	return result, nil
}

// Clear removes every entry. The next Append restarts the chain.
func (l *Log) Clear() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.db.Exec(`DELETE FROM password_history`); err != nil {
		return fmt.Errorf("history: failed to clear entries: %w", err)
	}
	return nil
}

func (l *Log) lastMAC() (string, error) {
	var mac string
	err := l.db.QueryRow(`SELECT mac FROM password_history ORDER BY seq DESC LIMIT 1`).Scan(&mac)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("history: failed to read chain head: %w", err)
	}
	return mac, nil
}

func (l *Log) entryMAC(prevMAC string, e *Entry) string {
	h := hmac.New(sha256.New, l.key)
	io.WriteString(h, strings.Join([]string{
		prevMAC, e.ID, e.ServiceName, e.Username, e.OldSecret, e.NewSecret,
		e.Action, e.Timestamp.Format(time.RFC3339Nano),
	}, "\n"))
	return hex.EncodeToString(h.Sum(nil))
}

func deriveMACKey(chainKey []byte) ([]byte, error) {
	r := hkdf.New(sha256.New, chainKey, nil, []byte("tpass/history-chain/v1"))
	key := make([]byte, sha256.Size)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("history: failed to derive MAC key: %w", err)
	}
	return key, nil
}
