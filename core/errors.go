package core

import (
	"fmt"
	"strings"

	"github.com/docrel/docrel/core/internal/qcode"
	"github.com/docrel/docrel/core/internal/sdata"
)

// Compiler and registry error types surfaced to callers. Match them with
// errors.As.
type (
	InvalidIdentifierError = qcode.InvalidIdentifierError
	InvalidPaginationError = qcode.InvalidPaginationError
	DuplicateRelationError = sdata.DuplicateRelationError
	UnknownRelationError   = sdata.UnknownRelationError
)

// ConnectionError reports a backend that could not be reached or refused
// authentication. It is fatal at startup.
type ConnectionError struct {
	Name string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection %q: %v", e.Name, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// UnknownConnectionError reports a connection name that was never
// configured. Programmer error, never retried.
type UnknownConnectionError struct {
	Name string
}

func (e *UnknownConnectionError) Error() string {
	return fmt.Sprintf("unknown connection %q", e.Name)
}

// UnknownRepositoryError reports a collection no repository is bound to.
type UnknownRepositoryError struct {
	Collection string
}

func (e *UnknownRepositoryError) Error() string {
	return fmt.Sprintf("no repository bound to collection %q", e.Collection)
}

// FieldViolation names a single constraint a document failed.
type FieldViolation struct {
	Field      string
	Constraint string
}

func (v FieldViolation) String() string {
	return v.Field + ": " + v.Constraint
}

// ValidationError carries the full list of constraints a write violated.
// It is always surfaced to the caller and never retried.
type ValidationError struct {
	Collection string
	Violations []FieldViolation
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = v.String()
	}
	return fmt.Sprintf("validation failed on %q: %s", e.Collection, strings.Join(parts, "; "))
}
