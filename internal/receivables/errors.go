package receivables

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies failures surfaced by the ledger engine.
type ErrorKind string

const (
	KindSourceUnavailable ErrorKind = "source_unavailable"
	KindMalformedResponse ErrorKind = "malformed_response"
	KindExportFailure     ErrorKind = "export_failure"
	KindValidationGap     ErrorKind = "validation_gap"
)

// Sentinels matched through errors.Is against *Error values of the same kind.
var (
	ErrSourceUnavailable = errors.New("receivables: source unavailable")
	ErrMalformedResponse = errors.New("receivables: malformed response")
	ErrExport            = errors.New("receivables: export failed")
	ErrValidationGap     = errors.New("receivables: validation gap")
	ErrSuperseded        = errors.New("receivables: superseded by a newer request")
	ErrInvalidScope      = errors.New("receivables: invalid scope")
	ErrPartyNotFound     = errors.New("receivables: party not found")
	ErrEntryNotFound     = errors.New("receivables: transaction not found")
)

// Error carries enough context to diagnose a failure without retrying it.
type Error struct {
	Kind     ErrorKind
	Op       string
	Endpoint string
	Status   int
	PartyID  string
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("receivables: ")
	b.WriteString(string(e.Kind))
	if e.Op != "" {
		b.WriteString(": ")
		b.WriteString(e.Op)
	}
	if e.Endpoint != "" {
		fmt.Fprintf(&b, " endpoint=%s", e.Endpoint)
	}
	if e.Status != 0 {
		fmt.Fprintf(&b, " status=%d", e.Status)
	}
	if e.PartyID != "" {
		fmt.Fprintf(&b, " party=%s", e.PartyID)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is match an *Error against the sentinel of its kind.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrSourceUnavailable:
		// malformed payloads are handled as an unavailable source
		return e.Kind == KindSourceUnavailable || e.Kind == KindMalformedResponse
	case ErrMalformedResponse:
		return e.Kind == KindMalformedResponse
	case ErrExport:
		return e.Kind == KindExportFailure
	case ErrValidationGap:
		return e.Kind == KindValidationGap
	}
	return false
}

// Unavailable builds a SourceUnavailable error for the given endpoint.
func Unavailable(op, endpoint string, status int, err error) *Error {
	return &Error{Kind: KindSourceUnavailable, Op: op, Endpoint: endpoint, Status: status, Err: err}
}

// Malformed builds a MalformedResponse error for the given endpoint.
func Malformed(op, endpoint string, err error) *Error {
	return &Error{Kind: KindMalformedResponse, Op: op, Endpoint: endpoint, Err: err}
}

// ExportFailure wraps a rendering failure.
func ExportFailure(op string, err error) *Error {
	return &Error{Kind: KindExportFailure, Op: op, Err: err}
}

// KindOf returns the taxonomy kind of err, or an empty kind when err is not an *Error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
