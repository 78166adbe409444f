package migration

import (
	"errors"
	"fmt"
	"strings"
)

// Validation failures, detected before any database interaction.
var (
	// ErrDuplicateRevision indicates that two records share a revision id
	ErrDuplicateRevision = errors.New("duplicate revision")

	// ErrUnresolvedParent indicates that a down_revision points to an unknown id
	ErrUnresolvedParent = errors.New("unresolved parent revision")

	// ErrCycleDetected indicates that the revision graph contains a cycle
	ErrCycleDetected = errors.New("cycle detected")

	// ErrAmbiguousResolution indicates divergent heads with no explicit target
	ErrAmbiguousResolution = errors.New("ambiguous resolution")

	// ErrUnknownRevision indicates a target or ledger entry absent from the graph
	ErrUnknownRevision = errors.New("unknown revision")

	// ErrInconsistentLedger indicates an applied revision whose parent is not applied
	ErrInconsistentLedger = errors.New("inconsistent ledger")

	// ErrInvalidRecord indicates a structurally invalid record
	ErrInvalidRecord = errors.New("invalid record")

	// ErrInvalidTarget indicates a target that makes no sense for the direction
	ErrInvalidTarget = errors.New("invalid target")

	// ErrStalePlan indicates that the ledger changed between planning and execution
	ErrStalePlan = errors.New("stale plan")

	// ErrInvalidMigrationFile indicates that a migration file is malformed
	ErrInvalidMigrationFile = errors.New("invalid migration file format")
)

// Runtime failures.
var (
	// ErrDriftDetected indicates that an applied revision's content changed
	ErrDriftDetected = errors.New("drift detected")

	// ErrLockBusy indicates that another run holds the project lock
	ErrLockBusy = errors.New("migration lock is busy")

	// ErrExecutionFailed indicates that a script failed against the backend
	ErrExecutionFailed = errors.New("migration execution failed")
)

// ValidationError reports a graph, ledger or target problem. Kind is one of
// the validation sentinels and is matched by errors.Is.
type ValidationError struct {
	Kind       error    // Validation sentinel
	RevisionID string   // Implicated revision (if any)
	Related    []string // Other revisions involved: cycle path, parents, heads
	Detail     string   // Optional free-form explanation
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString("validation: ")
	b.WriteString(e.Kind.Error())
	if e.RevisionID != "" {
		fmt.Fprintf(&b, " (revision %s)", e.RevisionID)
	}
	if len(e.Related) > 0 {
		sep := ", "
		if errors.Is(e.Kind, ErrCycleDetected) {
			sep = " -> "
		}
		fmt.Fprintf(&b, ": %s", strings.Join(e.Related, sep))
	}
	if e.Detail != "" {
		fmt.Fprintf(&b, ": %s", e.Detail)
	}
	return b.String()
}

// Unwrap returns the validation sentinel
func (e *ValidationError) Unwrap() error {
	return e.Kind
}

// NewValidationError creates a ValidationError
func NewValidationError(kind error, revisionID string, related ...string) *ValidationError {
	return &ValidationError{
		Kind:       kind,
		RevisionID: revisionID,
		Related:    related,
	}
}

// ParseError wraps a migration file parsing failure with its location
type ParseError struct {
	Path string // File being parsed
	Line int    // 1-based line number, 0 when not line specific
	Err  error  // Underlying error
}

// Error implements the error interface
func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("parse %s:%d: %v", e.Path, e.Line, e.Err)
	}
	return fmt.Sprintf("parse %s: %v", e.Path, e.Err)
}

// Unwrap returns the underlying error
func (e *ParseError) Unwrap() error {
	return e.Err
}

// Is makes every ParseError match ErrInvalidMigrationFile
func (e *ParseError) Is(target error) bool {
	return target == ErrInvalidMigrationFile
}

func parseErrorf(path string, line int, format string, args ...any) *ParseError {
	return &ParseError{Path: path, Line: line, Err: fmt.Errorf(format, args...)}
}

// DriftError reports an applied revision whose recorded checksum no longer
// matches the content of its record.
type DriftError struct {
	RevisionID string // Drifted revision
	Recorded   string // Checksum stored in the ledger
	Current    string // Checksum of the current record content
}

// Error implements the error interface
func (e *DriftError) Error() string {
	return fmt.Sprintf("drift detected in revision %s: ledger checksum %s, current checksum %s",
		e.RevisionID, short(e.Recorded), short(e.Current))
}

// Unwrap returns ErrDriftDetected
func (e *DriftError) Unwrap() error {
	return ErrDriftDetected
}

// LockBusyError reports that another run holds the project lock
type LockBusyError struct {
	ProjectID string
}

// Error implements the error interface
func (e *LockBusyError) Error() string {
	return fmt.Sprintf("project %s: %v", e.ProjectID, ErrLockBusy)
}

// Unwrap returns ErrLockBusy
func (e *LockBusyError) Unwrap() error {
	return ErrLockBusy
}

// ExecutionError wraps a backend failure while applying or reverting a
// revision. Only the failing step's transaction has been rolled back.
type ExecutionError struct {
	RevisionID string    // Revision whose step failed
	Direction  Direction // Up or Down
	Operation  string    // What was being done: execute script, record entry, commit
	Err        error     // Underlying backend error
}

// Error implements the error interface
func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s revision %s: %s: %v", e.Direction, e.RevisionID, e.Operation, e.Err)
}

// Unwrap returns the underlying error
func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// Is makes every ExecutionError match ErrExecutionFailed
func (e *ExecutionError) Is(target error) bool {
	return target == ErrExecutionFailed
}

// NewExecutionError creates an ExecutionError
func NewExecutionError(revisionID string, direction Direction, operation string, err error) *ExecutionError {
	return &ExecutionError{
		RevisionID: revisionID,
		Direction:  direction,
		Operation:  operation,
		Err:        err,
	}
}

func short(checksum string) string {
	if len(checksum) > 12 {
		return checksum[:12]
	}
	if checksum == "" {
		return "<none>"
	}
	return checksum
}

// FileSystemError wraps file system failures while loading migration files
type FileSystemError struct {
	Path      string // File or directory path
	Operation string // File operation (read, scan, etc.)
	Err       error  // Underlying error
}

// Error implements the error interface
func (e *FileSystemError) Error() string {
	return fmt.Sprintf("filesystem error during %s of %s: %v", e.Operation, e.Path, e.Err)
}

// Unwrap returns the underlying error
func (e *FileSystemError) Unwrap() error {
	return e.Err
}

// NewFileSystemError creates a new FileSystemError
func NewFileSystemError(path, operation string, err error) *FileSystemError {
	return &FileSystemError{
		Path:      path,
		Operation: operation,
		Err:       err,
	}
}

// DatabaseError wraps ledger bookkeeping failures: reading the ledger,
// creating its table, taking the lock.
type DatabaseError struct {
	Operation string // Database operation (create table, read ledger, etc.)
	Query     string // Statement that failed (if applicable)
	Err       error  // Underlying error
}

// Error implements the error interface
func (e *DatabaseError) Error() string {
	return fmt.Sprintf("database error during %s: %v", e.Operation, e.Err)
}

// Unwrap returns the underlying error
func (e *DatabaseError) Unwrap() error {
	return e.Err
}

// NewDatabaseError creates a new DatabaseError
func NewDatabaseError(operation, query string, err error) *DatabaseError {
	return &DatabaseError{
		Operation: operation,
		Query:     query,
		Err:       err,
	}
}
