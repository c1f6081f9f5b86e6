package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tpass/tpass/pkg/record"

	_ "modernc.org/sqlite"
)

// Mirror is the local structured database that shadows the vault file for
// query convenience and identity assignment. It is a cache: whenever the
// vault file parses to a non-empty record set the mirror is wiped and rebuilt
// from it, never the reverse.
type Mirror struct {
	db *sql.DB
}

// OpenMirror opens or creates the mirror database at path.
func OpenMirror(path string) (*Mirror, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: failed to open mirror database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS passwords (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			service_name TEXT NOT NULL,
			username TEXT NOT NULL,
			password TEXT NOT NULL,
			url TEXT NOT NULL DEFAULT '',
			notes TEXT NOT NULL DEFAULT '',
			category TEXT NOT NULL DEFAULT 'accounts',
			tags TEXT NOT NULL DEFAULT '[]',
			last_updated TIMESTAMP NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: failed to create mirror table: %w", err)
	}
	return &Mirror{db: db}, nil
}

// Close releases the database handle. The Store's Close does not call this;
// the mirror outlives open/close cycles within a process.
func (m *Mirror) Close() error {
	return m.db.Close()
}

func (m *Mirror) insert(r *record.Record) (int, error) {
	tags, err := encodeTags(r.Tags)
	if err != nil {
		return 0, err
	}
	res, err := m.db.Exec(`
		INSERT INTO passwords (service_name, username, password, url, notes, category, tags, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.Title, r.Username, r.Secret, r.URL, r.Notes, r.Category.String(), tags,
		r.LastUpdated.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("store: failed to insert record: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("store: failed to read inserted id: %w", err)
	}
	return int(id), nil
}

// insertWithID restores a row under its original identity (rollback path).
func (m *Mirror) insertWithID(r *record.Record) error {
	tags, err := encodeTags(r.Tags)
	if err != nil {
		return err
	}
	_, err = m.db.Exec(`
		INSERT INTO passwords (id, service_name, username, password, url, notes, category, tags, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Title, r.Username, r.Secret, r.URL, r.Notes, r.Category.String(), tags,
		r.LastUpdated.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("store: failed to restore record: %w", err)
	}
	return nil
}

func (m *Mirror) update(r *record.Record) (int64, error) {
	tags, err := encodeTags(r.Tags)
	if err != nil {
		return 0, err
	}
	res, err := m.db.Exec(`
		UPDATE passwords
		SET service_name = ?, username = ?, password = ?, url = ?, notes = ?, category = ?, tags = ?, last_updated = ?
		WHERE id = ?`,
		r.Title, r.Username, r.Secret, r.URL, r.Notes, r.Category.String(), tags,
		r.LastUpdated.UTC().Format(time.RFC3339Nano), r.ID)
	if err != nil {
		return 0, fmt.Errorf("store: failed to update record: %w", err)
	}
	return res.RowsAffected()
}

func (m *Mirror) delete(id int) (int64, error) {
	res, err := m.db.Exec(`DELETE FROM passwords WHERE id = ?`, id)
	if err != nil {
		return 0, fmt.Errorf("store: failed to delete record: %w", err)
	}
	return res.RowsAffected()
}

func (m *Mirror) deleteAll() error {
	if _, err := m.db.Exec(`DELETE FROM passwords`); err != nil {
		return fmt.Errorf("store: failed to clear mirror: %w", err)
	}
	// Reset identity assignment so a rebuilt mirror starts from 1.
	if _, err := m.db.Exec(`DELETE FROM sqlite_sequence WHERE name = 'passwords'`); err != nil {
		return fmt.Errorf("store: failed to reset mirror sequence: %w", err)
	}
	return nil
}

// loadAll returns every row in insertion order (oldest first).
func (m *Mirror) loadAll() ([]*record.Record, error) {
	rows, err := m.db.Query(`
		SELECT id, service_name, username, password, url, notes, category, tags, last_updated
		FROM passwords ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("store: failed to query mirror: %w", err)
	}
	defer rows.Close()

	var records []*record.Record
	for rows.Next() {
		var r record.Record
		var category, tags, updated string
		if err := rows.Scan(&r.ID, &r.Title, &r.Username, &r.Secret, &r.URL,
			&r.Notes, &category, &tags, &updated); err != nil {
			return nil, fmt.Errorf("store: failed to scan mirror row: %w", err)
		}
		r.Category = record.Category(category)
		if err := json.Unmarshal([]byte(tags), &r.Tags); err != nil {
			return nil, fmt.Errorf("store: invalid tags for record %d: %w", r.ID, err)
		}
		if r.LastUpdated, err = time.Parse(time.RFC3339Nano, updated); err != nil {
			return nil, fmt.Errorf("store: invalid timestamp for record %d: %w", r.ID, err)
		}
		records = append(records, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: error iterating mirror rows: %w", err)
	}
	return records, nil
}

func encodeTags(tags []string) (string, error) {
	if tags == nil {
		tags = []string{}
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("store: failed to encode tags: %w", err)
	}
	return string(b), nil
}
