package codec

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/tpass/tpass/pkg/record"
)

func TestRoundTrip(t *testing.T) {
	in := []*record.Record{
		{Title: "Mail", Username: "a@b.com", Secret: "p1", URL: "https://mail.example.com", Notes: "personal"},
		{Title: "Home Wi-Fi", Secret: "wpa2key", Category: record.Wifi, Tags: []string{"home", "router"}},
		{Title: "Card PIN", Secret: "4417", Category: record.PinCode},
		{Title: "Bank", Username: "user", Secret: "p2", Category: record.Category("banking"),
			LastUpdated: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
	}

	out, err := Parse(Serialize(in))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("expected %d records, got %d", len(in), len(out))
	}
	for i := range in {
		if !in[i].Equivalent(out[i]) {
			t.Errorf("record %d not equivalent after round trip: %+v vs %+v", i, in[i], out[i])
		}
	}
	if !out[3].LastUpdated.Equal(in[3].LastUpdated) {
		t.Errorf("Updated line lost: got %v", out[3].LastUpdated)
	}
}

func TestSerializeOmitsEmptyFields(t *testing.T) {
	data := string(Serialize([]*record.Record{{Title: "Mail", Username: "a", Secret: "p"}}))
	for _, field := range []string{"URL:", "Notes:", "Category:", "Tags:", "Updated:"} {
		if strings.Contains(data, field) {
			t.Errorf("empty field %q must be omitted entirely, got:\n%s", field, data)
		}
	}
	if !strings.HasPrefix(data, Header) {
		t.Error("serialized vault missing header")
	}
}

func TestParseLegacyFile(t *testing.T) {
	legacy := "KeePass Database File\n" +
		"Version: 1.0\n" +
		"\n" +
		"Entries:\n" +
		"Entry:\n" +
		"  Title: Mail\n" +
		"  Username: a@b.com\n" +
		"  Password: p1\n" +
		"  URL: https://mail.example.com\n" +
		"\n" +
		"Entry:\n" +
		"  Title: Forum\n" +
		"  Username: user\n" +
		"  Password: p2\n" +
		"  Notes: throwaway\n" +
		"\n"

	records, err := Parse([]byte(legacy))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].Title != "Mail" || records[0].URL != "https://mail.example.com" {
		t.Errorf("unexpected first record: %+v", records[0])
	}
	if records[1].Notes != "throwaway" {
		t.Errorf("unexpected second record: %+v", records[1])
	}
}

func TestParseEmptyAndHeaderOnly(t *testing.T) {
	for _, data := range []string{"", Header} {
		records, err := Parse([]byte(data))
		if err != nil {
			t.Fatalf("Parse(%q) failed: %v", data, err)
		}
		if len(records) != 0 {
			t.Errorf("Parse(%q): expected no records, got %d", data, len(records))
		}
	}
}

func TestParseDropsIncompleteRecord(t *testing.T) {
	data := Header +
		"Entry:\n" +
		"  Title: NoPassword\n" +
		"  Username: a\n" +
		"\n" +
		"Entry:\n" +
		"  Title: Complete\n" +
		"  Username: b\n" +
		"  Password: p\n" +
		"\n"

	records, err := Parse([]byte(data))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(records) != 1 || records[0].Title != "Complete" {
		t.Fatalf("incomplete record must be dropped silently, got %+v", records)
	}
}

func TestParseSkipsMalformedLines(t *testing.T) {
	data := Header +
		"Entry:\n" +
		"garbage without a colon\n" +
		"  Title: Mail\n" +
		"  Unknown: whatever\n" +
		"  Username: a\n" +
		"  Password: p\n" +
		"\n"

	records, err := Parse([]byte(data))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(records) != 1 || records[0].Title != "Mail" {
		t.Fatalf("malformed lines must be skipped, got %+v", records)
	}
}

func TestParseFlushesAtEOF(t *testing.T) {
	// No trailing blank line: the record is still flushed at end-of-file.
	data := Header +
		"Entry:\n" +
		"  Title: Last\n" +
		"  Username: a\n" +
		"  Password: p"

	records, err := Parse([]byte(data))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(records) != 1 || records[0].Title != "Last" {
		t.Fatalf("record pending at EOF must be flushed, got %+v", records)
	}
}

func TestParseCorrupt(t *testing.T) {
	_, err := Parse([]byte("this is not a vault file at all"))
	if !errors.Is(err, ErrCorrupt) {
		t.Errorf("expected ErrCorrupt, got %v", err)
	}
}

func TestParseKeepsEmptyUsername(t *testing.T) {
	// The writer always emits a Username line; wifi records have it empty.
	data := Header +
		"Entry:\n" +
		"  Title: Home Wi-Fi\n" +
		"  Username: \n" +
		"  Password: wpa2key\n" +
		"  Category: wifi\n" +
		"\n"

	records, err := Parse([]byte(data))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(records) != 1 || records[0].Category != record.Wifi || records[0].Username != "" {
		t.Fatalf("wifi record must survive with empty username, got %+v", records)
	}
}
