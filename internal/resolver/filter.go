package resolver

import (
	"fmt"
	"strings"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/example/revmigrate/internal/migration"
)

// Filter narrows which revisions a plan may include. A nil Filter accepts
// everything. A revision rejected by the filter also holds back every
// revision that depends on it.
type Filter func(migration.Record) bool

// Allows reports whether rec passes the filter.
func (f Filter) Allows(rec migration.Record) bool {
	return f == nil || f(rec)
}

// TagFilter accepts records carrying any of tags. No tags means no filter.
func TagFilter(tags ...string) Filter {
	tags = migration.NormalizeTags(tags)
	if len(tags) == 0 {
		return nil
	}
	return func(rec migration.Record) bool {
		for _, tag := range tags {
			if rec.HasTag(tag) {
				return true
			}
		}
		return false
	}
}

// AuthorFilter accepts records by author, case-insensitively. An empty author
// means no filter.
func AuthorFilter(author string) Filter {
	author = strings.TrimSpace(author)
	if author == "" {
		return nil
	}
	return func(rec migration.Record) bool {
		return strings.EqualFold(rec.Author, author)
	}
}

// CreatedAfter accepts records created strictly after t.
func CreatedAfter(t time.Time) Filter {
	if t.IsZero() {
		return nil
	}
	return func(rec migration.Record) bool {
		return rec.CreatedAt.After(t)
	}
}

// And combines filters; nil filters are skipped.
func And(filters ...Filter) Filter {
	var active []Filter
	for _, f := range filters {
		if f != nil {
			active = append(active, f)
		}
	}
	switch len(active) {
	case 0:
		return nil
	case 1:
		return active[0]
	}
	return func(rec migration.Record) bool {
		for _, f := range active {
			if !f(rec) {
				return false
			}
		}
		return true
	}
}

// filterEnv is the variable set visible to filter expressions.
type filterEnv struct {
	Revision  string
	Parents   []string
	Message   string
	Author    string
	Tags      []string
	CreatedAt time.Time
}

// CompileFilter compiles a boolean expression such as
//
//	"users" in Tags && Author == "dana"
//
// into a Filter. An expression that fails at run time rejects the record.
func CompileFilter(expression string) (Filter, error) {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return nil, nil
	}
	program, err := expr.Compile(expression, expr.Env(filterEnv{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile filter %q: %w", expression, err)
	}
	return exprFilter(program), nil
}

func exprFilter(program *vm.Program) Filter {
	return func(rec migration.Record) bool {
		out, err := expr.Run(program, filterEnv{
			Revision:  rec.RevisionID,
			Parents:   rec.DownRevisions,
			Message:   rec.Message,
			Author:    rec.Author,
			Tags:      rec.Tags,
			CreatedAt: rec.CreatedAt,
		})
		if err != nil {
			return false
		}
		ok, _ := out.(bool)
		return ok
	}
}
