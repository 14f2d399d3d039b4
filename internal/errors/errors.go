// internal/errors/errors.go
package errors

import "fmt"

// ErrInvalidFullName is returned when a project full name has no namespace segment.
type ErrInvalidFullName struct {
	FullName string
}

func (e *ErrInvalidFullName) Error() string {
	return fmt.Sprintf("invalid project full name: %q, expected 'namespace/name'", e.FullName)
}

// ErrUnsupportedType is returned when the configuration names an unknown source or store.
type ErrUnsupportedType struct {
	Kind  string
	Value string
}

func (e *ErrUnsupportedType) Error() string {
	return fmt.Sprintf("unsupported %s type: %q", e.Kind, e.Value)
}

// AuthError reports a rejected or expired credential. It aborts the whole run.
type AuthError struct {
	Source string
	Err    error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s authentication failed: %v", e.Source, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// TransportError reports a network or backend failure. Callers may retry.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// BranchResolutionError reports a failed branch listing for one project.
type BranchResolutionError struct {
	Project string
	Branch  string
	Err     error
}

func (e *BranchResolutionError) Error() string {
	if e.Branch == "" {
		return fmt.Sprintf("failed to list branches of project %q: %v", e.Project, e.Err)
	}
	return fmt.Sprintf("failed to resolve branch %q of project %q: %v", e.Branch, e.Project, e.Err)
}

func (e *BranchResolutionError) Unwrap() error { return e.Err }

// WriteBatchError reports a batch that the store failed to persist.
type WriteBatchError struct {
	Target string
	Batch  int
	Size   int
	Err    error
}

func (e *WriteBatchError) Error() string {
	return fmt.Sprintf("failed to write batch %d (%d records) to %s: %v", e.Batch, e.Size, e.Target, e.Err)
}

func (e *WriteBatchError) Unwrap() error { return e.Err }

// QueryError reports a failed store query. Its result is treated as "no data".
type QueryError struct {
	Query string
	Err   error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query %q failed: %v", e.Query, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }
