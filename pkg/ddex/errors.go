package ddex

import (
	"errors"
	"fmt"
)

// SecurityErrorKind enumerates the Security Gate's rejection reasons.
type SecurityErrorKind int

const (
	SecuritySizeLimit SecurityErrorKind = iota
	SecurityDepthLimit
	SecurityEntityExpansion
	SecurityExternalEntity
	SecurityTimeout
)

func (k SecurityErrorKind) String() string {
	switch k {
	case SecuritySizeLimit:
		return "size-limit"
	case SecurityDepthLimit:
		return "depth-limit"
	case SecurityEntityExpansion:
		return "entity-expansion"
	case SecurityExternalEntity:
		return "external-entity"
	case SecurityTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// SecurityError is raised by the Security Gate when an input document
// violates a configured bound before (or during) parsing. It is always
// fatal: no partial result is returned alongside it.
type SecurityError struct {
	Kind     SecurityErrorKind
	Limit    int64
	Observed int64
}

func (e *SecurityError) Error() string {
	return fmt.Sprintf("ddex: security gate rejected input (%s): observed %d, limit %d", e.Kind, e.Observed, e.Limit)
}

// ParseError reports a malformed-XML or malformed-ERN condition with enough
// position information to locate it in the source document.
type ParseError struct {
	Line    int
	Column  int
	Offset  int64
	Kind    string
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("ddex: parse error at line %d, column %d (%s): %s", e.Line, e.Column, e.Kind, e.Message)
}

// NamespaceError reports a namespace prefix that could not be resolved in
// the scope it was used.
type NamespaceError struct {
	Prefix  string
	Message string
}

func (e *NamespaceError) Error() string {
	return fmt.Sprintf("ddex: namespace error for prefix %q: %s", e.Prefix, e.Message)
}

// UnsupportedVersionError reports a message whose schema version could not
// be mapped to one this codec understands.
type UnsupportedVersionError struct {
	Detected string
}

func (e *UnsupportedVersionError) Error() string {
	return fmt.Sprintf("ddex: unsupported schema version %q", e.Detected)
}

// ValidationIssue is a single preflight validation failure, with an optional
// suggestion for how to fix it.
type ValidationIssue struct {
	Path       string
	Message    string
	Suggestion string
}

// ValidationError aggregates one or more ValidationIssue values found during
// Builder preflight.
type ValidationError struct {
	Issues []ValidationIssue
}

func (e *ValidationError) Error() string {
	if len(e.Issues) == 1 {
		return fmt.Sprintf("ddex: validation failed: %s: %s", e.Issues[0].Path, e.Issues[0].Message)
	}
	return fmt.Sprintf("ddex: validation failed with %d issues (first: %s: %s)", len(e.Issues), e.Issues[0].Path, e.Issues[0].Message)
}

// LinkingError reports a reference that does not resolve to an entity in the
// same message. Linking errors are recoverable: callers get a best-effort
// result alongside a slice of these as warnings.
type LinkingError struct {
	Path    string
	Message string
}

func (e *LinkingError) Error() string {
	return fmt.Sprintf("ddex: linking error at %s: %s", e.Path, e.Message)
}

// BuildError wraps a failure from a specific Builder pipeline stage.
type BuildError struct {
	Stage   string
	Message string
	Err     error
}

func (e *BuildError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ddex: build failed at stage %q: %s: %v", e.Stage, e.Message, e.Err)
	}
	return fmt.Sprintf("ddex: build failed at stage %q: %s", e.Stage, e.Message)
}

func (e *BuildError) Unwrap() error { return e.Err }

// ConversionError reports a failure translating between the graph model and
// the flattened developer view.
type ConversionError struct {
	Field   string
	Message string
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("ddex: conversion error on %s: %s", e.Field, e.Message)
}

// PresetConflictError reports a Builder preset whose defaults disagree with
// a value the caller already set explicitly.
type PresetConflictError struct {
	Preset string
	Field  string
	Have   string
	Want   string
}

func (e *PresetConflictError) Error() string {
	return fmt.Sprintf("ddex: preset %q conflicts with caller-provided %s (have %q, preset wants %q)", e.Preset, e.Field, e.Have, e.Want)
}

// ErrCancelled is returned by blocking operations when their context is
// cancelled before completion.
var ErrCancelled = errors.New("ddex: operation cancelled")

// ErrTimeout is returned when the Security Gate's wall-clock timeout elapses.
var ErrTimeout = errors.New("ddex: operation timed out")
