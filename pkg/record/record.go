// Package record defines the credential record model shared by the store,
// the file codec and the sync reconciler.
package record

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// Errors returned by Validate.
var (
	ErrEmptyTitle  = errors.New("record: title must not be empty")
	ErrEmptySecret = errors.New("record: secret must not be empty")
)

// Category buckets a record. The well-known buckets carry field semantics
// (Wifi and PinCode records have no username); anything else is a free-form
// custom label kept verbatim.
type Category string

const (
	Accounts Category = "accounts"
	Wifi     Category = "wifi"
	PinCode  Category = "pin-codes"
)

// IsCustom reports whether c is outside the well-known buckets.
func (c Category) IsCustom() bool {
	switch c {
	case Accounts, Wifi, PinCode, "":
		return false
	default:
		return true
	}
}

// usesUsername reports whether records in this category carry a username.
func (c Category) usesUsername() bool {
	switch c {
	case Wifi, PinCode:
		return false
	default:
		return true
	}
}

func (c Category) String() string {
	if c == "" {
		return string(Accounts)
	}
	return string(c)
}

// Record is a single stored credential. ID is assigned by the store on
// creation and stable thereafter. LastUpdated is set at creation and advances
// only when Secret changes.
type Record struct {
	ID          int       `json:"id"`
	Title       string    `json:"title"`
	Username    string    `json:"username"`
	Secret      string    `json:"secret"`
	URL         string    `json:"url"`
	Notes       string    `json:"notes"`
	Category    Category  `json:"category"`
	Tags        []string  `json:"tags"`
	LastUpdated time.Time `json:"last_updated"`
}

// Validate normalizes and checks a record before it enters the store.
// The empty category defaults to Accounts, and categories without username
// semantics have the username cleared.
func (r *Record) Validate() error {
	if r.Title == "" {
		return ErrEmptyTitle
	}
	if r.Secret == "" {
		return fmt.Errorf("%w (title %q)", ErrEmptySecret, r.Title)
	}
	if r.Category == "" {
		r.Category = Accounts
	}
	if !r.Category.usesUsername() {
		r.Username = ""
	}
	return nil
}

// HasTag reports whether the record carries tag exactly.
func (r *Record) HasTag(tag string) bool {
	return slices.Contains(r.Tags, tag)
}

// Equivalent reports whether two records hold the same credential data,
// ignoring ID, LastUpdated and tag order.
func (r *Record) Equivalent(o *Record) bool {
	if r.Title != o.Title || r.Username != o.Username || r.Secret != o.Secret ||
		r.URL != o.URL || r.Notes != o.Notes || r.Category.String() != o.Category.String() {
		return false
	}
	a := slices.Clone(r.Tags)
	b := slices.Clone(o.Tags)
	slices.Sort(a)
	slices.Sort(b)
	return slices.Equal(a, b)
}

// Clone returns a deep copy so callers cannot mutate stored state through
// returned snapshots.
func (r *Record) Clone() *Record {
	c := *r
	c.Tags = slices.Clone(r.Tags)
	return &c
}
