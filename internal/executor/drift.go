package executor

import (
	"fmt"
	"strings"

	"github.com/example/revmigrate/internal/migration"
)

// DriftPolicy decides what a run does when an applied revision's content no
// longer matches its ledger checksum.
type DriftPolicy string

const (
	DriftOff    DriftPolicy = "off"    // not checked
	DriftWarn   DriftPolicy = "warn"   // logged, run continues
	DriftStrict DriftPolicy = "strict" // run aborts before any step
)

// ParseDriftPolicy accepts off, warn or strict in any case.
func ParseDriftPolicy(s string) (DriftPolicy, error) {
	switch p := DriftPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case DriftOff, DriftWarn, DriftStrict:
		return p, nil
	}
	return "", fmt.Errorf("invalid drift policy %q (want off, warn or strict)", s)
}

// CheckDrift compares each ledger entry with the current record content.
// Entries unknown to the catalog are skipped; ledger consistency checks
// report those.
func CheckDrift(entries []migration.Entry, catalog Catalog) []*migration.DriftError {
	var drifted []*migration.DriftError
	for _, entry := range entries {
		rec, ok := catalog.Lookup(entry.RevisionID)
		if !ok {
			continue
		}
		if current := rec.Checksum(); current != entry.Checksum {
			drifted = append(drifted, &migration.DriftError{
				RevisionID: entry.RevisionID,
				Recorded:   entry.Checksum,
				Current:    current,
			})
		}
	}
	return drifted
}
