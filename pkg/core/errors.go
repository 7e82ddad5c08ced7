package core

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors, matched with errors.Is against the typed errors below.
var (
	ErrFormulaCircularReference     = errors.New("formula circular reference")
	ErrFormulaCompile               = errors.New("formula compile error")
	ErrUnsupportedDialectOperation  = errors.New("unsupported dialect operation")
	ErrRelationEndpointNotFound     = errors.New("relation endpoint not found")
	ErrRecordNotFound               = errors.New("record not found")
	ErrUnprocessableRelationRequest = errors.New("unprocessable relation request")
)

// CircularReferenceError is returned when compiling a column re-enters itself.
type CircularReferenceError struct {
	ColumnID string
	// Chain is the list of column ids being compiled, outermost first.
	Chain []string
}

func (e *CircularReferenceError) Error() string {
	return fmt.Sprintf("circular reference detected at column %s (chain: %s)",
		e.ColumnID, strings.Join(append(append([]string{}, e.Chain...), e.ColumnID), " -> "))
}

// Is reports sentinel equality.
func (e *CircularReferenceError) Is(target error) bool {
	return target == ErrFormulaCircularReference
}

// CompileError is any other formula compilation failure.
type CompileError struct {
	ColumnID string
	Msg      string
	Err      error
}

func (e *CompileError) Error() string {
	var b strings.Builder
	b.WriteString("formula compile error")
	if e.ColumnID != "" {
		b.WriteString(" in column ")
		b.WriteString(e.ColumnID)
	}
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Is reports sentinel equality.
func (e *CompileError) Is(target error) bool {
	return target == ErrFormulaCompile
}

func (e *CompileError) Unwrap() error {
	return e.Err
}

// UnsupportedError is returned when a construct has no implementation for an engine.
type UnsupportedError struct {
	Engine    Engine
	Construct string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("%s is not supported on %s", e.Construct, e.Engine)
}

// Is reports sentinel equality.
func (e *UnsupportedError) Is(target error) bool {
	return target == ErrUnsupportedDialectOperation
}

// EndpointNotFoundError is returned when a relation references missing metadata.
type EndpointNotFoundError struct {
	ColumnID string
	What     string
}

func (e *EndpointNotFoundError) Error() string {
	return fmt.Sprintf("relation endpoint not found for column %s: %s", e.ColumnID, e.What)
}

// Is reports sentinel equality.
func (e *EndpointNotFoundError) Is(target error) bool {
	return target == ErrRelationEndpointNotFound
}

// RecordNotFoundError is returned when records referenced by a request do not exist.
type RecordNotFoundError struct {
	Table string
	IDs   []string
}

func (e *RecordNotFoundError) Error() string {
	return fmt.Sprintf("record(s) not found in %s: %s", e.Table, strings.Join(e.IDs, ", "))
}

// Is reports sentinel equality.
func (e *RecordNotFoundError) Is(target error) bool {
	return target == ErrRecordNotFound
}

// UnprocessableError is returned for structurally invalid mutation requests.
type UnprocessableError struct {
	ColumnID string
	Reason   string
}

func (e *UnprocessableError) Error() string {
	return fmt.Sprintf("unprocessable request for column %s: %s", e.ColumnID, e.Reason)
}

// Is reports sentinel equality.
func (e *UnprocessableError) Is(target error) bool {
	return target == ErrUnprocessableRelationRequest
}
