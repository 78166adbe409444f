package sqlledger

import (
	"regexp"
	"strings"

	"github.com/example/revmigrate/internal/database"
)

var (
	dollarTagPattern = regexp.MustCompile(`^\$[A-Za-z_]*\$`)
	triggerPattern   = regexp.MustCompile(`(?is)^CREATE\s+(TEMP\s+|TEMPORARY\s+)?TRIGGER\b`)
)

// SplitStatements splits a script into statements at top-level semicolons.
// Semicolons inside quoted strings, quoted identifiers, comments and
// PostgreSQL dollar-quoted bodies do not split; neither do those inside a
// SQLite trigger body. Statements made only of comments are dropped.
func SplitStatements(script string, d database.Dialect) []string {
	var (
		statements []string
		start      int
	)

	flush := func(end int) {
		stmt := strings.TrimSpace(script[start:end])
		if stmt != "" && !commentOnly(stmt) {
			statements = append(statements, stmt)
		}
	}

	for i := 0; i < len(script); i++ {
		c := script[i]
		switch {
		case c == '\'' || c == '"' || (c == '`' && d == database.MySQL):
			i = skipQuoted(script, i, c, d == database.MySQL && c != '`')
		case c == '-' && strings.HasPrefix(script[i:], "--"):
			i = skipUntil(script, i, "\n")
		case c == '/' && strings.HasPrefix(script[i:], "/*"):
			i = skipUntil(script, i+2, "*/")
		case c == '$' && d == database.Postgres:
			if tag := dollarTagPattern.FindString(script[i:]); tag != "" {
				end := strings.Index(script[i+len(tag):], tag)
				if end < 0 {
					i = len(script) - 1
				} else {
					i += len(tag) + end + len(tag) - 1
				}
			}
		case c == ';':
			if d == database.SQLite {
				current := strings.TrimSpace(stripComments(script[start:i]))
				if triggerPattern.MatchString(current) && blockDepth(current) > 0 {
					continue
				}
			}
			flush(i)
			start = i + 1
		}
	}
	flush(len(script))
	return statements
}

// blockDepth counts the BEGIN and CASE blocks left open by stmt, which has
// its comments stripped. Quoted text is ignored.
func blockDepth(stmt string) int {
	depth := 0
	for i := 0; i < len(stmt); i++ {
		c := stmt[i]
		switch {
		case c == '\'' || c == '"' || c == '`':
			i = skipQuoted(stmt, i, c, false)
		case c == '[':
			i = skipUntil(stmt, i, "]")
		case isWordByte(c):
			j := i
			for j < len(stmt) && isWordByte(stmt[j]) {
				j++
			}
			switch strings.ToUpper(stmt[i:j]) {
			case "BEGIN", "CASE":
				depth++
			case "END":
				depth--
			}
			i = j - 1
		}
	}
	return depth
}

func isWordByte(c byte) bool {
	return c == '_' || c == '$' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= 0x80
}

// skipQuoted returns the index of the closing quote. A doubled quote is an
// escaped quote; backslash escapes apply when backslash is true.
func skipQuoted(s string, i int, quote byte, backslash bool) int {
	for j := i + 1; j < len(s); j++ {
		switch {
		case backslash && s[j] == '\\':
			j++
		case s[j] == quote:
			if j+1 < len(s) && s[j+1] == quote {
				j++
				continue
			}
			return j
		}
	}
	return len(s) - 1
}

// skipUntil returns the index of the last byte of the first marker at or
// after i, or the end of s.
func skipUntil(s string, i int, marker string) int {
	end := strings.Index(s[i:], marker)
	if end < 0 {
		return len(s) - 1
	}
	return i + end + len(marker) - 1
}

func commentOnly(stmt string) bool {
	return strings.TrimSpace(stripComments(stmt)) == ""
}

// stripComments removes -- and /* */ comments outside quotes. It is only
// used to classify statements, never to rewrite what gets executed.
func stripComments(stmt string) string {
	var b strings.Builder
	for i := 0; i < len(stmt); i++ {
		c := stmt[i]
		switch {
		case c == '\'' || c == '"':
			j := skipQuoted(stmt, i, c, false)
			b.WriteString(stmt[i : j+1])
			i = j
		case c == '-' && strings.HasPrefix(stmt[i:], "--"):
			i = skipUntil(stmt, i, "\n")
			b.WriteByte('\n')
		case c == '/' && strings.HasPrefix(stmt[i:], "/*"):
			i = skipUntil(stmt, i+2, "*/")
			b.WriteByte(' ')
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
