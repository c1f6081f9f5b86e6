// Package codec reads and writes the flat-text vault file format.
//
// The format is line-oriented and fixed by existing vault files: a three-line
// header, then one block per record introduced by an "Entry:" marker with
// indented "Key: value" lines, terminated by a blank line. Parsing is lenient:
// unknown or malformed lines are skipped and a record that never accumulates
// its required fields is dropped rather than reported.
package codec

import (
	"bufio"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tpass/tpass/pkg/record"
)

const (
	// HeaderLine is the first line of every vault file.
	HeaderLine = "KeePass Database File"

	// VersionLine is the second line of every vault file.
	VersionLine = "Version: 1.0"

	// Header is the content of a freshly created, empty vault file.
	Header = HeaderLine + "\n" + VersionLine + "\n\n"
)

// ErrCorrupt indicates a non-empty input that has neither the expected header
// nor any parsable entry. Individual malformed records do not trigger it;
// the lenient per-record policy is part of the file contract.
var ErrCorrupt = errors.New("codec: vault file is corrupt")

// updatedLayout is the timestamp format of the optional Updated line.
const updatedLayout = time.RFC3339

// fieldAccumulator collects the Key: value lines of the block being read.
type fieldAccumulator struct {
	title, username, password, url, notes string
	category                              string
	tags                                  []string
	updated                               time.Time
	sawUsername                           bool
}

func (a *fieldAccumulator) reset() {
	*a = fieldAccumulator{}
}

// complete reports whether the required fields have been populated. The
// writer always emits a Username line, so a seen-but-empty username counts:
// categories without username semantics would otherwise never survive a
// reload.
func (a *fieldAccumulator) complete() bool {
	return a.title != "" && a.password != "" && a.sawUsername
}

func (a *fieldAccumulator) materialize() *record.Record {
	return &record.Record{
		Title:       a.title,
		Username:    a.username,
		Secret:      a.password,
		URL:         a.url,
		Notes:       a.notes,
		Category:    record.Category(a.category),
		Tags:        a.tags,
		LastUpdated: a.updated,
	}
}

// Parse decodes the full record set from vault file content.
func Parse(data []byte) ([]*record.Record, error) {
	var (
		records []*record.Record
		pending *record.Record
		acc     fieldAccumulator
	)

	sawHeader := false
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)

		switch {
		case line == HeaderLine:
			sawHeader = true
		case strings.HasPrefix(line, "Entry:"):
			// A new marker flushes whatever record was materialized before it.
			if pending != nil {
				records = append(records, pending)
				pending = nil
			}
			acc.reset()
		case strings.HasPrefix(trimmed, "Title:"):
			acc.title = value(trimmed, "Title:")
		case strings.HasPrefix(trimmed, "Username:"):
			acc.username = value(trimmed, "Username:")
			acc.sawUsername = true
		case strings.HasPrefix(trimmed, "Password:"):
			acc.password = value(trimmed, "Password:")
		case strings.HasPrefix(trimmed, "URL:"):
			acc.url = value(trimmed, "URL:")
		case strings.HasPrefix(trimmed, "Notes:"):
			acc.notes = value(trimmed, "Notes:")
		case strings.HasPrefix(trimmed, "Category:"):
			acc.category = value(trimmed, "Category:")
		case strings.HasPrefix(trimmed, "Tags:"):
			acc.tags = splitTags(value(trimmed, "Tags:"))
		case strings.HasPrefix(trimmed, "Updated:"):
			if ts, err := time.Parse(updatedLayout, value(trimmed, "Updated:")); err == nil {
				acc.updated = ts
			}
		case trimmed == "" && pending == nil && acc.complete():
			pending = acc.materialize()
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("codec: failed to scan vault content: %w", err)
	}

	// EOF flushes the last record, materialized or still accumulating.
	if pending != nil {
		records = append(records, pending)
	} else if acc.complete() {
		records = append(records, acc.materialize())
	}

	if len(records) == 0 && !sawHeader && strings.TrimSpace(string(data)) != "" {
		return nil, ErrCorrupt
	}
	return records, nil
}

// Serialize encodes the full record set as vault file content.
func Serialize(records []*record.Record) []byte {
	var b strings.Builder
	b.WriteString(Header)
	b.WriteString("Entries:\n")

	for _, r := range records {
		b.WriteString("Entry:\n")
		fmt.Fprintf(&b, "  Title: %s\n", r.Title)
		fmt.Fprintf(&b, "  Username: %s\n", r.Username)
		fmt.Fprintf(&b, "  Password: %s\n", r.Secret)
		if r.URL != "" {
			fmt.Fprintf(&b, "  URL: %s\n", r.URL)
		}
		if r.Notes != "" {
			fmt.Fprintf(&b, "  Notes: %s\n", r.Notes)
		}
		if r.Category != "" && r.Category != record.Accounts {
			fmt.Fprintf(&b, "  Category: %s\n", r.Category)
		}
		if len(r.Tags) > 0 {
			fmt.Fprintf(&b, "  Tags: %s\n", strings.Join(r.Tags, ", "))
		}
		if !r.LastUpdated.IsZero() {
			fmt.Fprintf(&b, "  Updated: %s\n", r.LastUpdated.UTC().Format(updatedLayout))
		}
		b.WriteString("\n")
	}
	return []byte(b.String())
}

func value(trimmed, prefix string) string {
	return strings.TrimSpace(strings.TrimPrefix(trimmed, prefix))
}

func splitTags(s string) []string {
	if s == "" {
		return nil
	}
	var tags []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}
