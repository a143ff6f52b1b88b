package model

import (
	"errors"
	"fmt"
)

// Kind classifies provider failures for retry policy.
type Kind int

const (
	// KindTransient covers timeouts, 5xx, 429, and network errors. Retried.
	KindTransient Kind = iota
	// KindPermanent covers non-auth 4xx responses. Never retried.
	KindPermanent
	// KindValidation marks a response body that is not a parseable object.
	KindValidation
	// KindSchemaUnsupported marks a schema the provider rejected as too
	// complex. Fails the file, never silently degrades.
	KindSchemaUnsupported
	// KindAuth marks missing or invalid credentials. Fatal for the provider.
	KindAuth
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	case KindValidation:
		return "validation"
	case KindSchemaUnsupported:
		return "schema_unsupported"
	case KindAuth:
		return "auth"
	default:
		return "unknown"
	}
}

// Error is a classified provider failure.
type Error struct {
	Kind   Kind
	Status int
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s error: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s error: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds a classified error wrapping cause.
func NewError(kind Kind, status int, msg string, cause error) *Error {
	return &Error{Kind: kind, Status: status, Msg: msg, Err: cause}
}

// ClassifyStatus maps an HTTP status code to an error kind.
func ClassifyStatus(status int) Kind {
	switch {
	case status == 429 || status >= 500:
		return KindTransient
	case status == 401 || status == 403:
		return KindAuth
	case status >= 400:
		return KindPermanent
	default:
		return KindTransient
	}
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	var me *Error
	if errors.As(err, &me) {
		return me.Kind == KindTransient
	}
	// Unclassified errors (network-level) are assumed transient.
	return true
}

// KindOf extracts the kind, defaulting unclassified errors to transient.
func KindOf(err error) Kind {
	var me *Error
	if errors.As(err, &me) {
		return me.Kind
	}
	return KindTransient
}
