// Package apperr classifies failures into the kinds reported to operators.
package apperr

import (
	"errors"
	"strings"
)

var (
	ErrAlreadyRunning   = errors.New("session already running")
	ErrSessionNotFound  = errors.New("session not found")
	ErrMessageNotFound  = errors.New("message not found")
	ErrSendUnsupported  = errors.New("transport does not support sending")
	ErrInvalidIdentity  = errors.New("invalid session identity")
	ErrUnknownProvider  = errors.New("unknown transport provider")
	ErrEmptyModelOutput = errors.New("model returned no output")
)

type Kind string

const (
	KindConfig         Kind = "config_error"
	KindTransport      Kind = "transport_error"
	KindStoreTransient Kind = "store_transient_error"
	KindExtraction     Kind = "extraction_error"
	KindParse          Kind = "parse_error"
	KindValidation     Kind = "validation_error"
	KindNotFound       Kind = "not_found"
	KindConflict       Kind = "conflict"
	KindInternal       Kind = "internal_error"
)

// Error carries a Kind alongside the operation that failed. Detail keeps
// material useful for diagnosis, such as the raw model output behind a
// parse failure.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Detail  string
	Err     error
}

func (e *Error) Error() string {
	parts := make([]string, 0, 3)
	if e.Op != "" {
		parts = append(parts, e.Op)
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	}
	if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}
	if len(parts) == 0 {
		return string(e.Kind)
	}
	return strings.Join(parts, ": ")
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf walks the error chain for an *Error and falls back to the sentinel
// mapping, then to KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var typed *Error
	if errors.As(err, &typed) && typed.Kind != "" {
		return typed.Kind
	}
	switch {
	case errors.Is(err, ErrAlreadyRunning):
		return KindConflict
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrMessageNotFound):
		return KindNotFound
	case errors.Is(err, ErrInvalidIdentity), errors.Is(err, ErrUnknownProvider):
		return KindConfig
	case errors.Is(err, ErrSendUnsupported):
		return KindTransport
	case errors.Is(err, ErrEmptyModelOutput):
		return KindExtraction
	default:
		return KindInternal
	}
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Result is the structured, user-visible form of an error.
type Result struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
}

func ResultOf(err error) Result {
	if err == nil {
		return Result{}
	}
	return Result{Kind: KindOf(err), Message: err.Error()}
}

// DetailOf returns the diagnostic detail of the first *Error in the chain.
func DetailOf(err error) string {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Detail
	}
	return ""
}
