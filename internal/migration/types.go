package migration

import (
	"slices"
	"sort"
	"strings"
	"time"
)

// Direction tells whether a step applies or reverts a revision.
type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

// Record is one parsed revision. Records are immutable once they enter the
// graph; every method works on a value receiver and returns copies.
type Record struct {
	RevisionID    string    // Globally unique revision identifier
	DownRevisions []string  // Parents: empty for a root, several for a merge
	Message       string    // Human-readable description
	Author        string    // Author recorded by the generator
	Tags          []string  // Sorted, de-duplicated tag set
	CreatedAt     time.Time // Creation time, used for deterministic ordering
	UpScript      string    // Script executed to apply the revision
	DownScript    string    // Script executed to revert the revision
	Source        string    // Path of the file the record was parsed from
}

// IsRoot reports whether the record has no parent.
func (r Record) IsRoot() bool {
	return len(r.DownRevisions) == 0
}

// IsMerge reports whether the record reconciles more than one parent.
func (r Record) IsMerge() bool {
	return len(r.DownRevisions) > 1
}

// HasTag reports whether tag is part of the record's tag set.
func (r Record) HasTag(tag string) bool {
	tag = strings.TrimSpace(tag)
	for _, t := range r.Tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	r.DownRevisions = slices.Clone(r.DownRevisions)
	r.Tags = slices.Clone(r.Tags)
	return r
}

// Before orders records by creation time, then by revision id.
func (r Record) Before(other Record) bool {
	if !r.CreatedAt.Equal(other.CreatedAt) {
		return r.CreatedAt.Before(other.CreatedAt)
	}
	return r.RevisionID < other.RevisionID
}

// Entry is one row of the ledger: a revision that is currently applied.
type Entry struct {
	RevisionID string        // Applied revision
	AppliedAt  time.Time     // When the revision was applied
	Checksum   string        // Checksum of the record content when applied
	Duration   time.Duration // How long the up script took
}

// NormalizeTags trims, de-duplicates and sorts a tag list. Empty tags are
// dropped.
func NormalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	if len(out) == 0 {
		return nil
	}
	sort.Strings(out)
	return out
}

// SortEntries orders ledger entries by application time. Entries applied at
// the same instant keep their relative order.
func SortEntries(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].AppliedAt.Before(entries[j].AppliedAt)
	})
}
