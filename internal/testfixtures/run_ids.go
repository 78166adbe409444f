package testfixtures

import (
	"strconv"
	"sync"
)

// RunIDs hands out predictable run identifiers ("run-1", "run-2", ...) and
// remembers which ones an executor asked for.
type RunIDs struct {
	mu     sync.Mutex
	prefix string
	issued []string
}

// NewRunIDs returns a source whose identifiers start with prefix, or "run"
// when prefix is empty.
func NewRunIDs(prefix string) *RunIDs {
	if prefix == "" {
		prefix = "run"
	}
	return &RunIDs{prefix: prefix}
}

// Next issues the following identifier. It matches executor.Options.NewRunID.
func (r *RunIDs) Next() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.prefix + "-" + strconv.Itoa(len(r.issued)+1)
	r.issued = append(r.issued, id)
	return id
}

// Issued returns every identifier handed out so far, oldest first.
func (r *RunIDs) Issued() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.issued...)
}

// Last returns the most recent identifier, or "" before the first run.
func (r *RunIDs) Last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.issued) == 0 {
		return ""
	}
	return r.issued[len(r.issued)-1]
}
