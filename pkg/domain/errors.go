package domain

import (
	"errors"
	"fmt"
)

// Kind classifies an error for retry and transport decisions.
type Kind string

const (
	// KindValidation marks bad caller input; never retried.
	KindValidation Kind = "validation"
	// KindConflict marks a lock already held or a duplicate mutation.
	KindConflict Kind = "conflict"
	// KindTransient marks timeouts and 5xx responses from external
	// collaborators; retried with bounded backoff before surfacing.
	KindTransient Kind = "transient"
	// KindPermanent marks external rejections that retrying cannot fix.
	KindPermanent Kind = "permanent"
	// KindPageBudget marks content that exceeds the vendor page ceiling.
	KindPageBudget Kind = "page_budget"
	// KindDataIntegrity marks a webhook event missing required metadata;
	// logged and acknowledged as a no-op, never re-thrown to the sender.
	KindDataIntegrity Kind = "data_integrity"
)

// Error is the shared error type across the pipeline packages.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// E builds a classified error.
func E(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Ef builds a classified error with formatting.
func Ef(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf returns the kind of err, or empty if err carries none.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Retryable reports whether err is worth another attempt.
func Retryable(err error) bool {
	return IsKind(err, KindTransient)
}
