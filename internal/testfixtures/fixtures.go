package testfixtures

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/example/revmigrate/internal/migration"
)

var recordCounter uint64

var referenceTime = time.Date(2024, time.January, 2, 15, 4, 5, 0, time.UTC)

// ReferenceTime returns the canonical baseline timestamp used by fixtures.
func ReferenceTime() time.Time {
	return referenceTime
}

// ---------------------------- Record fixtures ----------------------------

// RecordOption configures a generated record.
type RecordOption func(*migration.Record)

// NewRecord returns a record whose scripts create and drop a table named
// after the revision. Each call is created one minute after the previous
// one, so records built in sequence keep that order in the graph.
func NewRecord(id string, opts ...RecordOption) migration.Record {
	idx := atomic.AddUint64(&recordCounter, 1)
	table := TableName(id)
	rec := migration.Record{
		RevisionID: id,
		Message:    fmt.Sprintf("revision %s", id),
		Author:     "fixture",
		CreatedAt:  referenceTime.Add(time.Duration(idx) * time.Minute),
		UpScript:   fmt.Sprintf("CREATE TABLE %s (id INTEGER PRIMARY KEY);", table),
		DownScript: fmt.Sprintf("DROP TABLE %s;", table),
	}
	for _, opt := range opts {
		opt(&rec)
	}
	return rec
}

// TableName returns the table created by a fixture record's up script.
func TableName(id string) string {
	var b strings.Builder
	b.WriteString("t_")
	for _, r := range id {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// WithParents sets the down revisions.
func WithParents(parents ...string) RecordOption {
	return func(r *migration.Record) {
		r.DownRevisions = parents
	}
}

// WithTags sets the normalized tag set.
func WithTags(tags ...string) RecordOption {
	return func(r *migration.Record) {
		r.Tags = migration.NormalizeTags(tags)
	}
}

// WithAuthor sets the author.
func WithAuthor(author string) RecordOption {
	return func(r *migration.Record) {
		r.Author = author
	}
}

// WithScripts replaces both scripts.
func WithScripts(up, down string) RecordOption {
	return func(r *migration.Record) {
		r.UpScript = up
		r.DownScript = down
	}
}

// WithCreatedAt pins the creation time.
func WithCreatedAt(t time.Time) RecordOption {
	return func(r *migration.Record) {
		r.CreatedAt = t
	}
}

// Chain returns a linear history where each id revises the previous one.
func Chain(ids ...string) []migration.Record {
	records := make([]migration.Record, 0, len(ids))
	for i, id := range ids {
		var opts []RecordOption
		if i > 0 {
			opts = append(opts, WithParents(ids[i-1]))
		}
		records = append(records, NewRecord(id, opts...))
	}
	return records
}

// RenderFile produces migration file content that parses back into rec.
func RenderFile(rec migration.Record) string {
	var b strings.Builder
	fmt.Fprintf(&b, "-- Timestamp: %s\n", rec.CreatedAt.UTC().Format(time.RFC3339Nano))
	fmt.Fprintf(&b, "-- Revision ID: %s\n", rec.RevisionID)
	if len(rec.DownRevisions) > 0 {
		fmt.Fprintf(&b, "-- Revises: %s\n", strings.Join(rec.DownRevisions, ", "))
	} else {
		b.WriteString("-- Revises: None\n")
	}
	if rec.Message != "" {
		fmt.Fprintf(&b, "-- Message: %s\n", rec.Message)
	}
	if rec.Author != "" {
		fmt.Fprintf(&b, "-- Author: %s\n", rec.Author)
	}
	if len(rec.Tags) > 0 {
		fmt.Fprintf(&b, "-- Tags: %s\n", strings.Join(rec.Tags, ", "))
	}
	fmt.Fprintf(&b, "\n-- UP\n%s\n\n-- DOWN\n%s\n", rec.UpScript, rec.DownScript)
	return b.String()
}

// WriteMigrations renders records into dir, one file per record, named so
// that file order follows slice order.
func WriteMigrations(tb testing.TB, dir string, records ...migration.Record) {
	tb.Helper()
	for i, rec := range records {
		name := fmt.Sprintf("%04d_%s.sql", i+1, TableName(rec.RevisionID))
		if err := os.WriteFile(filepath.Join(dir, name), []byte(RenderFile(rec)), 0o644); err != nil {
			tb.Fatalf("write migration %s: %v", name, err)
		}
	}
}
