package store

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tpass/tpass/pkg/codec"
	"github.com/tpass/tpass/pkg/history"
	"github.com/tpass/tpass/pkg/record"
	"github.com/tpass/tpass/pkg/safefile"
)

const testSecret = "correct horse battery staple"

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	m, err := OpenMirror(filepath.Join(dir, "mirror.db"))
	if err != nil {
		t.Fatalf("OpenMirror failed: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return New(filepath.Join(dir, "vault.txt"), m)
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s := newTestStore(t)
	if err := s.Open(testSecret); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return s
}

func mustAdd(t *testing.T, s *Store, r *record.Record) *record.Record {
	t.Helper()
	added, err := s.Add(r)
	if err != nil {
		t.Fatalf("Add(%q) failed: %v", r.Title, err)
	}
	return added
}

func TestOpenCreatesMissingFile(t *testing.T) {
	s := newTestStore(t)
	if err := s.Open(testSecret); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	data, err := os.ReadFile(s.Path())
	if err != nil {
		t.Fatalf("vault file not created: %v", err)
	}
	if string(data) != codec.Header {
		t.Errorf("fresh vault content = %q, want bare header", data)
	}

	got, err := s.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("fresh vault has %d records", len(got))
	}
}

func TestOpenRequiresSecret(t *testing.T) {
	s := newTestStore(t)
	if err := s.Open(""); !errors.Is(err, ErrMissingSecret) {
		t.Errorf("expected ErrMissingSecret, got %v", err)
	}
}

func TestOperationsRequireOpen(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Add(&record.Record{Title: "x", Secret: "y"}); !errors.Is(err, ErrNotOpen) {
		t.Errorf("Add: expected ErrNotOpen, got %v", err)
	}
	if _, err := s.List(); !errors.Is(err, ErrNotOpen) {
		t.Errorf("List: expected ErrNotOpen, got %v", err)
	}
	if err := s.Delete(1); !errors.Is(err, ErrNotOpen) {
		t.Errorf("Delete: expected ErrNotOpen, got %v", err)
	}
}

func TestAddAssignsIdentityAndPersists(t *testing.T) {
	s := openTestStore(t)

	a := mustAdd(t, s, &record.Record{Title: "Mail", Username: "a@b.com", Secret: "p1"})
	b := mustAdd(t, s, &record.Record{Title: "Bank", Username: "a", Secret: "p2"})
	if a.ID == 0 || b.ID == 0 || a.ID == b.ID {
		t.Errorf("bad identities: %d, %d", a.ID, b.ID)
	}
	if a.LastUpdated.IsZero() {
		t.Error("Add did not stamp LastUpdated")
	}

	// Most recently added first.
	got, err := s.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(got) != 2 || got[0].Title != "Bank" || got[1].Title != "Mail" {
		t.Fatalf("unexpected List result: %+v", got)
	}

	// The file reflects both records immediately.
	data, err := os.ReadFile(s.Path())
	if err != nil {
		t.Fatalf("read vault file: %v", err)
	}
	parsed, err := codec.Parse(data)
	if err != nil {
		t.Fatalf("persisted file does not parse: %v", err)
	}
	if len(parsed) != 2 {
		t.Errorf("persisted file has %d records, want 2", len(parsed))
	}
}

func TestAddRejectsInvalidRecord(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.Add(&record.Record{Secret: "p"}); !errors.Is(err, record.ErrEmptyTitle) {
		t.Errorf("expected ErrEmptyTitle, got %v", err)
	}
	if _, err := s.Add(&record.Record{Title: "t"}); !errors.Is(err, record.ErrEmptySecret) {
		t.Errorf("expected ErrEmptySecret, got %v", err)
	}
}

func TestUpdateAdvancesTimestampOnlyOnSecretChange(t *testing.T) {
	s := openTestStore(t)
	base := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	added := mustAdd(t, s, &record.Record{Title: "Mail", Username: "a@b.com", Secret: "p1"})

	// Title edit keeps the creation timestamp.
	s.now = func() time.Time { return base.Add(time.Hour) }
	added.Title = "Mail (work)"
	updated, err := s.Update(added)
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if !updated.LastUpdated.Equal(base) {
		t.Errorf("metadata edit advanced LastUpdated to %v", updated.LastUpdated)
	}

	// Secret change advances it.
	updated.Secret = "p2"
	updated, err = s.Update(updated)
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if !updated.LastUpdated.Equal(base.Add(time.Hour)) {
		t.Errorf("secret change did not advance LastUpdated: %v", updated.LastUpdated)
	}
}

func TestUpdateUnknownID(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Update(&record.Record{ID: 42, Title: "x", Secret: "y"})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	s := openTestStore(t)
	a := mustAdd(t, s, &record.Record{Title: "Mail", Secret: "p1"})
	mustAdd(t, s, &record.Record{Title: "Bank", Secret: "p2"})

	if err := s.Delete(a.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := s.Delete(a.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete: expected ErrNotFound, got %v", err)
	}

	got, err := s.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(got) != 1 || got[0].Title != "Bank" {
		t.Errorf("unexpected survivors: %+v", got)
	}
}

func TestFailedPersistRollsBack(t *testing.T) {
	s := openTestStore(t)
	mustAdd(t, s, &record.Record{Title: "Mail", Secret: "p1"})

	before, err := os.ReadFile(s.Path())
	if err != nil {
		t.Fatalf("read vault file: %v", err)
	}

	writeErr := errors.New("disk full")
	s.replacer = safefile.NewWithWriter(func(path string, data []byte) error {
		return writeErr
	})

	if _, err := s.Add(&record.Record{Title: "Bank", Secret: "p2"}); !errors.Is(err, writeErr) {
		t.Fatalf("expected wrapped write error, got %v", err)
	}

	// Neither memory, mirror nor file picked up the failed record.
	s.replacer = safefile.New()
	got, err := s.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("memory kept failed record: %+v", got)
	}
	rows, err := s.mirror.loadAll()
	if err != nil {
		t.Fatalf("loadAll failed: %v", err)
	}
	if len(rows) != 1 {
		t.Errorf("mirror kept failed record: %+v", rows)
	}
	after, err := os.ReadFile(s.Path())
	if err != nil {
		t.Fatalf("read vault file: %v", err)
	}
	if string(after) != string(before) {
		t.Error("vault file changed despite failed write")
	}
}

func TestReopenRebuildsFromFile(t *testing.T) {
	s := openTestStore(t)
	mustAdd(t, s, &record.Record{Title: "Mail", Username: "a@b.com", Secret: "p1",
		Category: record.Wifi, Tags: []string{"home"}})
	mustAdd(t, s, &record.Record{Title: "Bank", Username: "a", Secret: "p2"})

	s.Close()
	if err := s.Open(testSecret); err != nil {
		t.Fatalf("reopen failed: %v", err)
	}

	got, err := s.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 records after reopen, got %d", len(got))
	}
	if got[0].Title != "Bank" || got[1].Title != "Mail" {
		t.Errorf("order lost across reopen: %q, %q", got[0].Title, got[1].Title)
	}
	if got[1].Category != record.Wifi || !got[1].HasTag("home") {
		t.Errorf("metadata lost across reopen: %+v", got[1])
	}
}

func TestOpenKeepsMirrorWhenFileHasNoRecords(t *testing.T) {
	s := openTestStore(t)
	mustAdd(t, s, &record.Record{Title: "Mail", Secret: "p1"})

	// Truncate the file back to a bare header out of band.
	if err := os.WriteFile(s.Path(), []byte(codec.Header), 0o600); err != nil {
		t.Fatalf("truncate vault file: %v", err)
	}
	s.Close()
	if err := s.Open(testSecret); err != nil {
		t.Fatalf("reopen failed: %v", err)
	}

	got, err := s.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(got) != 1 || got[0].Title != "Mail" {
		t.Errorf("mirror rows not served for empty file: %+v", got)
	}
}

func TestOpenCorruptFile(t *testing.T) {
	s := newTestStore(t)
	if err := os.WriteFile(s.Path(), []byte("not a vault\x00"), 0o600); err != nil {
		t.Fatalf("write vault file: %v", err)
	}
	if err := s.Open(testSecret); !errors.Is(err, codec.ErrCorrupt) {
		t.Errorf("expected ErrCorrupt, got %v", err)
	}
}

func TestCloseIdempotent(t *testing.T) {
	s := openTestStore(t)
	mustAdd(t, s, &record.Record{Title: "Mail", Secret: "p1"})

	s.Close()
	s.Close()
	if s.IsOpen() {
		t.Error("store still open after Close")
	}
	if _, err := s.List(); !errors.Is(err, ErrNotOpen) {
		t.Errorf("expected ErrNotOpen after Close, got %v", err)
	}
}

func TestSearch(t *testing.T) {
	s := openTestStore(t)
	mustAdd(t, s, &record.Record{Title: "GitHub", URL: "https://github.com", Secret: "p1"})
	mustAdd(t, s, &record.Record{Title: "Home Router", Secret: "p2",
		Category: record.Wifi, Tags: []string{"Infrastructure"}})
	mustAdd(t, s, &record.Record{Title: "Café Loyalty", Secret: "p3"})

	cases := []struct {
		query string
		want  int
	}{
		{"github", 1},       // case-insensitive title and URL
		{"WIFI", 1},         // category
		{"infra", 1},        // tag substring
		{"café", 1},         // non-ASCII
		{"", 3},             // empty query is the full list
		{"no-such-term", 0},
	}
	for _, tc := range cases {
		got, err := s.Search(tc.query)
		if err != nil {
			t.Fatalf("Search(%q) failed: %v", tc.query, err)
		}
		if len(got) != tc.want {
			t.Errorf("Search(%q) = %d records, want %d", tc.query, len(got), tc.want)
		}
	}
}

func TestFilters(t *testing.T) {
	s := openTestStore(t)
	mustAdd(t, s, &record.Record{Title: "Mail", Username: "a", Secret: "p1", Tags: []string{"work"}})
	mustAdd(t, s, &record.Record{Title: "Router", Secret: "p2", Category: record.Wifi})
	mustAdd(t, s, &record.Record{Title: "Bank", Username: "b", Secret: "p3", Tags: []string{"work", "money"}})

	wifi, err := s.FilterByCategory(record.Wifi)
	if err != nil {
		t.Fatalf("FilterByCategory failed: %v", err)
	}
	if len(wifi) != 1 || wifi[0].Title != "Router" {
		t.Errorf("FilterByCategory(wifi) = %+v", wifi)
	}

	// Records with no explicit category land in the default bucket.
	accounts, err := s.FilterByCategory(record.Accounts)
	if err != nil {
		t.Fatalf("FilterByCategory failed: %v", err)
	}
	if len(accounts) != 2 {
		t.Errorf("FilterByCategory(accounts) = %d records, want 2", len(accounts))
	}

	work, err := s.FilterByTag("work")
	if err != nil {
		t.Fatalf("FilterByTag failed: %v", err)
	}
	if len(work) != 2 || work[0].Title != "Bank" || work[1].Title != "Mail" {
		t.Errorf("FilterByTag(work) = %+v", work)
	}
	if none, _ := s.FilterByTag("wor"); len(none) != 0 {
		t.Error("FilterByTag matched a tag prefix; tags are exact")
	}
}

func TestFindByTitle(t *testing.T) {
	s := openTestStore(t)
	first := mustAdd(t, s, &record.Record{Title: "Mail", Username: "old", Secret: "p1"})
	second := mustAdd(t, s, &record.Record{Title: "Mail", Username: "new", Secret: "p2"})

	got, err := s.FindByTitle("Mail")
	if err != nil {
		t.Fatalf("FindByTitle failed: %v", err)
	}
	if got.ID != second.ID {
		t.Errorf("FindByTitle returned id %d, want most recent %d (not %d)", got.ID, second.ID, first.ID)
	}
	if _, err := s.FindByTitle("Absent"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

type recordingSink struct {
	entries []history.Entry
	err     error
}

func (r *recordingSink) Append(e history.Entry) error {
	if r.err != nil {
		return r.err
	}
	r.entries = append(r.entries, e)
	return nil
}

func TestMutationsFeedHistory(t *testing.T) {
	s := openTestStore(t)
	sink := &recordingSink{}
	s.SetHistorySink(sink)

	added := mustAdd(t, s, &record.Record{Title: "Mail", Username: "a@b.com", Secret: "p1"})
	added.Secret = "p2"
	if _, err := s.Update(added); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if err := s.Delete(added.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	if len(sink.entries) != 3 {
		t.Fatalf("expected 3 history entries, got %d", len(sink.entries))
	}
	created, modified, deleted := sink.entries[0], sink.entries[1], sink.entries[2]
	if created.Action != history.ActionCreated || created.NewSecret != "p1" || created.OldSecret != "" {
		t.Errorf("created entry = %+v", created)
	}
	if modified.Action != history.ActionModified || modified.OldSecret != "p1" || modified.NewSecret != "p2" {
		t.Errorf("modified entry = %+v", modified)
	}
	if deleted.Action != history.ActionDeleted || deleted.OldSecret != "p2" || deleted.NewSecret != "" {
		t.Errorf("deleted entry = %+v", deleted)
	}
}

func TestSinkFailureDoesNotBlockMutation(t *testing.T) {
	s := openTestStore(t)
	s.SetHistorySink(&recordingSink{err: errors.New("sink down")})

	if _, err := s.Add(&record.Record{Title: "Mail", Secret: "p1"}); err != nil {
		t.Fatalf("Add failed because of sink error: %v", err)
	}
	got, err := s.List()
	if err != nil || len(got) != 1 {
		t.Errorf("record not committed: %v, %+v", err, got)
	}
}

func TestReturnedRecordsAreSnapshots(t *testing.T) {
	s := openTestStore(t)
	mustAdd(t, s, &record.Record{Title: "Mail", Secret: "p1", Tags: []string{"work"}})

	got, err := s.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	got[0].Title = "mutated"
	got[0].Tags[0] = "mutated"

	again, err := s.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if again[0].Title != "Mail" || again[0].Tags[0] != "work" {
		t.Error("caller mutation leaked into stored state")
	}
}
