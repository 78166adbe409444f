package migration

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"
)

var (
	sectionPattern    = regexp.MustCompile(`(?i)^--\s*(up|down)\s*$`)
	revisionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_.\-]*$`)
	keySpacePattern   = regexp.MustCompile(`[\s_]+`)
)

type headerField int

const (
	fieldRevision headerField = iota
	fieldDownRevision
	fieldMessage
	fieldAuthor
	fieldTags
	fieldCreatedAt
)

var headerKeys = map[string]headerField{
	"revision":         fieldRevision,
	"revision id":      fieldRevision,
	"down revision":    fieldDownRevision,
	"down revision id": fieldDownRevision,
	"revises":          fieldDownRevision,
	"message":          fieldMessage,
	"author":           fieldAuthor,
	"tags":             fieldTags,
	"created at":       fieldCreatedAt,
	"timestamp":        fieldCreatedAt,
}

// Zoneless layouts are interpreted as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04",
}

// ParseFile reads and parses a single migration file.
func ParseFile(path string) (Record, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Record{}, NewFileSystemError(path, "read file", err)
	}
	return Parse(path, string(content))
}

// Parse turns the content of a migration file into a Record. path is only
// used for error messages and Record.Source.
func Parse(path, content string) (Record, error) {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	lines := strings.Split(content, "\n")

	rec := Record{Source: path}
	seen := make(map[headerField]int)

	const (
		inHeader = iota
		inUp
		inDown
	)
	state := inHeader
	var up, down []string
	upLine, downLine := 0, 0

	for i, line := range lines {
		lineNo := i + 1
		trimmed := strings.TrimSpace(line)

		if m := sectionPattern.FindStringSubmatch(trimmed); m != nil {
			switch strings.ToLower(m[1]) {
			case "up":
				if upLine != 0 {
					return Record{}, parseErrorf(path, lineNo, "%w: duplicate -- UP section (first at line %d)", ErrInvalidMigrationFile, upLine)
				}
				if downLine != 0 {
					return Record{}, parseErrorf(path, lineNo, "%w: -- UP section must precede -- DOWN", ErrInvalidMigrationFile)
				}
				upLine, state = lineNo, inUp
			case "down":
				if downLine != 0 {
					return Record{}, parseErrorf(path, lineNo, "%w: duplicate -- DOWN section (first at line %d)", ErrInvalidMigrationFile, downLine)
				}
				if upLine == 0 {
					return Record{}, parseErrorf(path, lineNo, "%w: -- DOWN section before -- UP", ErrInvalidMigrationFile)
				}
				downLine, state = lineNo, inDown
			}
			continue
		}

		switch state {
		case inUp:
			up = append(up, line)
			continue
		case inDown:
			down = append(down, line)
			continue
		}

		if trimmed == "" {
			continue
		}
		if !strings.HasPrefix(trimmed, "--") {
			return Record{}, parseErrorf(path, lineNo, "%w: unexpected content before -- UP section", ErrInvalidMigrationFile)
		}
		body := strings.TrimSpace(strings.TrimPrefix(trimmed, "--"))
		key, value, ok := strings.Cut(body, ":")
		if !ok {
			// Plain comment line.
			continue
		}
		field, known := headerKeys[normalizeKey(key)]
		if !known {
			return Record{}, parseErrorf(path, lineNo, "%w: unknown header key %q", ErrInvalidMigrationFile, strings.TrimSpace(key))
		}
		if first, dup := seen[field]; dup {
			return Record{}, parseErrorf(path, lineNo, "%w: header key %q repeated (first at line %d)", ErrInvalidMigrationFile, strings.TrimSpace(key), first)
		}
		seen[field] = lineNo

		if err := applyHeader(&rec, field, strings.TrimSpace(value)); err != nil {
			return Record{}, &ParseError{Path: path, Line: lineNo, Err: err}
		}
	}

	if upLine == 0 {
		return Record{}, parseErrorf(path, 0, "%w: missing -- UP section", ErrInvalidMigrationFile)
	}
	if downLine == 0 {
		return Record{}, parseErrorf(path, 0, "%w: missing -- DOWN section", ErrInvalidMigrationFile)
	}
	if _, ok := seen[fieldRevision]; !ok {
		return Record{}, parseErrorf(path, 0, "%w: missing revision header", ErrInvalidMigrationFile)
	}
	if _, ok := seen[fieldCreatedAt]; !ok {
		return Record{}, parseErrorf(path, 0, "%w: missing created_at header", ErrInvalidMigrationFile)
	}

	rec.UpScript = strings.TrimSpace(strings.Join(up, "\n"))
	rec.DownScript = strings.TrimSpace(strings.Join(down, "\n"))
	return rec, nil
}

func normalizeKey(key string) string {
	key = strings.ToLower(strings.TrimSpace(key))
	return keySpacePattern.ReplaceAllString(key, " ")
}

func applyHeader(rec *Record, field headerField, value string) error {
	switch field {
	case fieldRevision:
		if !revisionIDPattern.MatchString(value) {
			return fmt.Errorf("%w: invalid revision id %q", ErrInvalidMigrationFile, value)
		}
		rec.RevisionID = value
	case fieldDownRevision:
		parents, err := parseDownRevisions(value)
		if err != nil {
			return err
		}
		rec.DownRevisions = parents
	case fieldMessage:
		rec.Message = value
	case fieldAuthor:
		rec.Author = value
	case fieldTags:
		tags, err := parseList(value, "tag")
		if err != nil {
			return err
		}
		rec.Tags = NormalizeTags(tags)
	case fieldCreatedAt:
		ts, err := parseTimestamp(value)
		if err != nil {
			return err
		}
		rec.CreatedAt = ts
	}
	return nil
}

func parseDownRevisions(value string) ([]string, error) {
	if len(value) >= 2 {
		if (value[0] == '(' && value[len(value)-1] == ')') || (value[0] == '[' && value[len(value)-1] == ']') {
			value = strings.TrimSpace(value[1 : len(value)-1])
		}
	}
	if value == "" || strings.EqualFold(value, "none") || strings.EqualFold(value, "null") {
		return nil, nil
	}
	parents, err := parseList(value, "down revision")
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(parents))
	for _, p := range parents {
		if !revisionIDPattern.MatchString(p) {
			return nil, fmt.Errorf("%w: invalid down revision id %q", ErrInvalidMigrationFile, p)
		}
		if _, dup := seen[p]; dup {
			return nil, fmt.Errorf("%w: down revision %q listed twice", ErrInvalidMigrationFile, p)
		}
		seen[p] = struct{}{}
	}
	return parents, nil
}

func parseList(value, what string) ([]string, error) {
	if value == "" {
		return nil, nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			return nil, fmt.Errorf("%w: empty %s in list %q", ErrInvalidMigrationFile, what, value)
		}
		out = append(out, part)
	}
	return out, nil
}

func parseTimestamp(value string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if ts, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: unrecognised timestamp %q", ErrInvalidMigrationFile, value)
}
