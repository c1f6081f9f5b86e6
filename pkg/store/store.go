// Package store implements the credential store: an in-memory working set
// loaded from the flat-text vault file, shadowed by a sqlite mirror that
// assigns stable record identities. Mutations commit to memory and mirror
// first, then persist the full serialized file under the backup-then-replace
// protocol; a failed write rolls the mutation back so memory, mirror and file
// never disagree.
package store

import (
	"errors"
	"fmt"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/tpass/tpass/pkg/codec"
	"github.com/tpass/tpass/pkg/history"
	"github.com/tpass/tpass/pkg/record"
	"github.com/tpass/tpass/pkg/safefile"
)

// Errors returned by store operations.
var (
	ErrNotOpen       = errors.New("store: vault is not open")
	ErrNotFound      = errors.New("store: record not found")
	ErrAccessDenied  = errors.New("store: access to vault file denied")
	ErrMissingSecret = errors.New("store: master secret required")
)

// Store owns the vault file at a fixed path. All operations are safe for
// concurrent use; mutations serialize on an internal mutex.
type Store struct {
	mu       sync.Mutex
	path     string
	mirror   *Mirror
	replacer *safefile.Replacer
	sink     history.Sink
	now      func() time.Time

	open    bool
	records []*record.Record // insertion order, oldest first
}

// New returns a closed Store bound to the vault file at path and the given
// mirror. Call Open before any other operation.
func New(path string, mirror *Mirror) *Store {
	return &Store{
		path:     path,
		mirror:   mirror,
		replacer: safefile.New(),
		now:      time.Now,
	}
}

// SetHistorySink attaches the change log. Mutations report to it after
// committing; a sink failure is logged, never surfaced, and never rolls the
// mutation back.
func (s *Store) SetHistorySink(sink history.Sink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sink = sink
}

// Path returns the vault file path the store is bound to.
func (s *Store) Path() string {
	return s.path
}

// Open loads the vault file into memory and rebuilds the mirror from it.
// A missing or zero-length file is initialized with the bare header, yielding
// an empty store. When the file parses to no records the mirror's existing
// rows are kept and served; a non-empty parse is authoritative and the mirror
// is rebuilt from it, reassigning identities.
//
// Open may be called on an already-open store to reload from disk.
//
// The secret is required but not used to transform the file content; the
// flat-text format carries no key material. Verifying the secret against the
// stored digest is the access gate's job and happens before Open is reached.
func (s *Store) Open(secret string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if secret == "" {
		return ErrMissingSecret
	}

	data, err := os.ReadFile(s.path)
	if err != nil && !os.IsNotExist(err) {
		if os.IsPermission(err) {
			return fmt.Errorf("%w: %v", ErrAccessDenied, err)
		}
		return fmt.Errorf("store: failed to read vault file: %w", err)
	}

	if os.IsNotExist(err) || len(data) == 0 {
		if err := s.replacer.Replace(s.path, []byte(codec.Header)); err != nil {
			return fmt.Errorf("store: failed to initialize vault file: %w", err)
		}
		data = []byte(codec.Header)
	}

	parsed, err := codec.Parse(data)
	if err != nil {
		return err
	}

	if len(parsed) > 0 {
		if err := s.mirror.deleteAll(); err != nil {
			return err
		}
		for _, r := range parsed {
			if r.LastUpdated.IsZero() {
				r.LastUpdated = s.now()
			}
			if r.ID, err = s.mirror.insert(r); err != nil {
				return err
			}
		}
	}

	records, err := s.mirror.loadAll()
	if err != nil {
		return err
	}
	s.records = records
	s.open = true
	return nil
}

// Close discards the in-memory working set. Idempotent; the vault file and
// the mirror are untouched, so a subsequent Open restores the same state.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = nil
	s.open = false
}

// IsOpen reports whether the store has been opened.
func (s *Store) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

// Add validates r, assigns it an identity and persists it. On success the
// returned record carries the assigned ID and creation timestamp; r itself is
// not mutated.
func (s *Store) Add(r *record.Record) (*record.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return nil, ErrNotOpen
	}

	rec := r.Clone()
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	rec.LastUpdated = s.now()

	id, err := s.mirror.insert(rec)
	if err != nil {
		return nil, err
	}
	rec.ID = id
	s.records = append(s.records, rec)

	if err := s.persistLocked(); err != nil {
		// Roll back so memory and mirror match the untouched file.
		s.records = s.records[:len(s.records)-1]
		if _, derr := s.mirror.delete(id); derr != nil {
			log.Printf("store: rollback of record %d failed: %v", id, derr)
		}
		return nil, err
	}

	s.report(history.Entry{
		ServiceName: rec.Title,
		Username:    rec.Username,
		NewSecret:   rec.Secret,
		Action:      history.ActionCreated,
	})
	return rec.Clone(), nil
}

// Update replaces the stored record with r's ID. LastUpdated advances only
// when the secret changed; edits to other fields keep the old timestamp.
func (s *Store) Update(r *record.Record) (*record.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return nil, ErrNotOpen
	}

	idx := s.indexOfLocked(r.ID)
	if idx < 0 {
		return nil, fmt.Errorf("%w (id %d)", ErrNotFound, r.ID)
	}
	prev := s.records[idx]

	rec := r.Clone()
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	if rec.Secret != prev.Secret {
		rec.LastUpdated = s.now()
	} else {
		rec.LastUpdated = prev.LastUpdated
	}

	if _, err := s.mirror.update(rec); err != nil {
		return nil, err
	}
	s.records[idx] = rec

	if err := s.persistLocked(); err != nil {
		s.records[idx] = prev
		if _, uerr := s.mirror.update(prev); uerr != nil {
			log.Printf("store: rollback of record %d failed: %v", prev.ID, uerr)
		}
		return nil, err
	}

	s.report(history.Entry{
		ServiceName: rec.Title,
		Username:    rec.Username,
		OldSecret:   prev.Secret,
		NewSecret:   rec.Secret,
		Action:      history.ActionModified,
	})
	return rec.Clone(), nil
}

// Delete removes the record with the given ID.
func (s *Store) Delete(id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return ErrNotOpen
	}

	idx := s.indexOfLocked(id)
	if idx < 0 {
		return fmt.Errorf("%w (id %d)", ErrNotFound, id)
	}
	prev := s.records[idx]

	if _, err := s.mirror.delete(id); err != nil {
		return err
	}
	s.records = slices.Delete(s.records, idx, idx+1)

	if err := s.persistLocked(); err != nil {
		s.records = slices.Insert(s.records, idx, prev)
		if ierr := s.mirror.insertWithID(prev); ierr != nil {
			log.Printf("store: rollback of record %d failed: %v", prev.ID, ierr)
		}
		return err
	}

	s.report(history.Entry{
		ServiceName: prev.Title,
		Username:    prev.Username,
		OldSecret:   prev.Secret,
		Action:      history.ActionDeleted,
	})
	return nil
}

// Get returns the record with the given ID.
func (s *Store) Get(id int) (*record.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return nil, ErrNotOpen
	}
	idx := s.indexOfLocked(id)
	if idx < 0 {
		return nil, fmt.Errorf("%w (id %d)", ErrNotFound, id)
	}
	return s.records[idx].Clone(), nil
}

// List returns all records, most recently added first.
func (s *Store) List() ([]*record.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return nil, ErrNotOpen
	}
	out := make([]*record.Record, 0, len(s.records))
	for i := len(s.records) - 1; i >= 0; i-- {
		out = append(out, s.records[i].Clone())
	}
	return out, nil
}

// FindByTitle returns the most recently added record whose title matches
// exactly, or ErrNotFound.
func (s *Store) FindByTitle(title string) (*record.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return nil, ErrNotOpen
	}
	for i := len(s.records) - 1; i >= 0; i-- {
		if s.records[i].Title == title {
			return s.records[i].Clone(), nil
		}
	}
	return nil, fmt.Errorf("%w (title %q)", ErrNotFound, title)
}

// Search returns records whose title, URL, category or tags contain query,
// case-insensitively. An empty query returns the full list.
func (s *Store) Search(query string) ([]*record.Record, error) {
	query = foldForSearch(query)
	if query == "" {
		return s.List()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return nil, ErrNotOpen
	}
	var out []*record.Record
	for i := len(s.records) - 1; i >= 0; i-- {
		if matchesQuery(s.records[i], query) {
			out = append(out, s.records[i].Clone())
		}
	}
	return out, nil
}

// FilterByCategory returns records in the given category, most recent first.
func (s *Store) FilterByCategory(c record.Category) ([]*record.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return nil, ErrNotOpen
	}
	var out []*record.Record
	for i := len(s.records) - 1; i >= 0; i-- {
		if s.records[i].Category.String() == c.String() {
			out = append(out, s.records[i].Clone())
		}
	}
	return out, nil
}

// FilterByTag returns records carrying the exact tag, most recent first.
func (s *Store) FilterByTag(tag string) ([]*record.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return nil, ErrNotOpen
	}
	var out []*record.Record
	for i := len(s.records) - 1; i >= 0; i-- {
		if s.records[i].HasTag(tag) {
			out = append(out, s.records[i].Clone())
		}
	}
	return out, nil
}

// persistLocked serializes the working set and replaces the vault file.
func (s *Store) persistLocked() error {
	return s.replacer.Replace(s.path, codec.Serialize(s.records))
}

func (s *Store) indexOfLocked(id int) int {
	return slices.IndexFunc(s.records, func(r *record.Record) bool { return r.ID == id })
}

func (s *Store) report(e history.Entry) {
	if s.sink == nil {
		return
	}
	if err := s.sink.Append(e); err != nil {
		log.Printf("store: failed to record history entry: %v", err)
	}
}

func matchesQuery(r *record.Record, query string) bool {
	if strings.Contains(foldForSearch(r.Title), query) ||
		strings.Contains(foldForSearch(r.URL), query) ||
		strings.Contains(foldForSearch(r.Category.String()), query) {
		return true
	}
	for _, tag := range r.Tags {
		if strings.Contains(foldForSearch(tag), query) {
			return true
		}
	}
	return false
}

// foldForSearch normalizes text for matching. NFC first so composed and
// decomposed spellings of the same title compare equal.
func foldForSearch(s string) string {
	return strings.ToLower(norm.NFC.String(s))
}
