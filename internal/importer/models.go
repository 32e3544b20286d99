// Package importer reconciles batches of parsed spreadsheet rows against the
// current directory.
//
// Analysis is pure: it reads a snapshot, classifies every row into
// new/update/unchanged/issue, and produces a Delta that is never persisted.
// The commit phase replays an approved Delta through the directory write
// path; per-row issues are data carried on the Delta, not errors.
package importer

import (
	"sort"
)

// FieldDiff records one field of a proposed update, old value against merged
// value. Array fields are rendered as comma-joined sorted values.
type FieldDiff struct {
	Field string `json:"field"`
	Old   string `json:"old"`
	New   string `json:"new"`
}

// ProposedChange is one classified row. Candidate holds the merged record
// for updates and the coerced candidate otherwise. Issues carries the
// human-readable reasons a row landed in the issue bucket.
type ProposedChange[T any] struct {
	Key       string      `json:"key"`
	Row       int         `json:"row"`
	Candidate *T          `json:"candidate"`
	Existing  *T          `json:"existing,omitempty"`
	Diff      []FieldDiff `json:"diff,omitempty"`
	Issues    []string    `json:"issues,omitempty"`
}

// Delta is the classified result of analyzing one batch. It lives only
// between analyze and commit.
type Delta[T any] struct {
	New       map[string]*ProposedChange[T]
	Updates   []*ProposedChange[T]
	Unchanged []*ProposedChange[T]
	Issues    []*ProposedChange[T]
	Skipped   int

	seen map[string]int // business key -> first row that used it
}

// NewDelta returns an empty delta.
func NewDelta[T any]() *Delta[T] {
	return &Delta[T]{
		New:  make(map[string]*ProposedChange[T]),
		seen: make(map[string]int),
	}
}

// Counts summarizes a delta for the operator preview shown before any write.
type Counts struct {
	New       int `json:"new"`
	Updates   int `json:"updates"`
	Unchanged int `json:"unchanged"`
	Issues    int `json:"issues"`
	Skipped   int `json:"skipped"`
}

func (d *Delta[T]) Counts() Counts {
	return Counts{
		New:       len(d.New),
		Updates:   len(d.Updates),
		Unchanged: len(d.Unchanged),
		Issues:    len(d.Issues),
		Skipped:   d.Skipped,
	}
}

// NewKeys returns the keys of the new bucket in stable order; the commit
// phase iterates it so two runs write in the same order.
func (d *Delta[T]) NewKeys() []string {
	keys := make([]string, 0, len(d.New))
	for k := range d.New {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// markSeen registers a business key and reports whether it already appeared
// earlier in this batch.
func (d *Delta[T]) markSeen(key string, row int) (firstRow int, dup bool) {
	if first, ok := d.seen[key]; ok {
		return first, true
	}
	d.seen[key] = row
	return row, false
}

// retract moves every prior classification of key into the issue bucket.
// Used for duplicate-in-file: the earlier row cannot be trusted either.
func (d *Delta[T]) retract(key, reason string) {
	if c, ok := d.New[key]; ok {
		delete(d.New, key)
		c.Issues = append(c.Issues, reason)
		d.Issues = append(d.Issues, c)
	}
	d.Updates = filterIntoIssues(d.Updates, &d.Issues, key, reason)
	d.Unchanged = filterIntoIssues(d.Unchanged, &d.Issues, key, reason)
}

func filterIntoIssues[T any](list []*ProposedChange[T], issues *[]*ProposedChange[T], key, reason string) []*ProposedChange[T] {
	kept := list[:0]
	for _, c := range list {
		if c.Key == key {
			c.Issues = append(c.Issues, reason)
			*issues = append(*issues, c)
			continue
		}
		kept = append(kept, c)
	}
	return kept
}
