package errors

import (
	"fmt"
	"sort"
	"strings"
)

// Kind represents the category of a crawl error. Every kind aborts the
// whole crawl: a partial import of a single changeset (patchsets without
// their approvals, say) would corrupt the deferred relationship pass, so
// nothing is skipped or retried inside the core.
type Kind int

const (
	// KindSchemaDrift - a raw record carried fields the merger does not map;
	// the remote API grew a field and silently dropping it would lose data.
	KindSchemaDrift Kind = iota
	// KindUnexpectedUpdate - an update was attempted during a server's first
	// run, meaning either an identity-matching bug or two remote records
	// colliding on a synthesized identity tuple.
	KindUnexpectedUpdate
	// KindTransport - the remote connector failed; the core does not retry.
	KindTransport
	// KindMalformedResponse - a response could not be decoded into the
	// expected structure.
	KindMalformedResponse
	// KindDatabase - a storage statement failed.
	KindDatabase
	// KindConfig - missing or invalid configuration.
	KindConfig
)

func kindString(k Kind) string {
	switch k {
	case KindSchemaDrift:
		return "SCHEMA_DRIFT"
	case KindUnexpectedUpdate:
		return "UNEXPECTED_UPDATE"
	case KindTransport:
		return "TRANSPORT"
	case KindMalformedResponse:
		return "MALFORMED_RESPONSE"
	case KindDatabase:
		return "DATABASE"
	case KindConfig:
		return "CONFIG"
	default:
		return "UNKNOWN"
	}
}

// Error is a structured crawl error with a category and diagnostic context.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
	Context map[string]interface{}
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// Is matches errors by kind, so errors.Is works across wrapping.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// DetailedString renders the error with its full context for the abort dump.
func (e *Error) DetailedString() string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("[%s] %s\n", kindString(e.Kind), e.Message))

	if e.Cause != nil {
		sb.WriteString(fmt.Sprintf("Caused by: %v\n", e.Cause))
	}

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteString("Context:\n")
		for _, k := range keys {
			sb.WriteString(fmt.Sprintf("  %s: %v\n", k, e.Context[k]))
		}
	}

	return sb.String()
}

// New creates a new error with the given kind and message
func New(kind Kind, message string) *Error {
	return &Error{
		Kind:    kind,
		Message: message,
		Context: make(map[string]interface{}),
	}
}

// Wrap wraps an existing error with a kind and message. A nil cause is
// fine; the kind and message stand on their own.
func Wrap(err error, kind Kind, message string) *Error {
	if err == nil {
		return New(kind, message)
	}

	return &Error{
		Kind:    kind,
		Message: message,
		Cause:   err,
		Context: make(map[string]interface{}),
	}
}

// IsKind reports whether err (or anything it wraps) carries the given kind.
func IsKind(err error, kind Kind) bool {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Kind == kind {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// SchemaDrift reports unconsumed fields left over after mapping a record of
// the named level (changeset, patchset, approval, ...).
func SchemaDrift(level string, fields []string) *Error {
	sort.Strings(fields)
	e := New(KindSchemaDrift, fmt.Sprintf(
		"not all fields of a %s record are mapped; refusing to drop data", level))
	return e.WithContext("level", level).WithContext("fields", strings.Join(fields, ", "))
}

// UnexpectedUpdate reports an update attempt during a server's first run.
func UnexpectedUpdate(level string, record interface{}) *Error {
	e := New(KindUnexpectedUpdate, fmt.Sprintf(
		"update detected in level %s during the server's first run", level))
	return e.WithContext("level", level).WithContext("record", fmt.Sprintf("%+v", record))
}

// Transport wraps a remote connector failure.
func Transport(err error, message string) *Error {
	return Wrap(err, KindTransport, message)
}

// Transportf wraps a remote connector failure with formatting.
func Transportf(err error, format string, args ...interface{}) *Error {
	return Wrap(err, KindTransport, fmt.Sprintf(format, args...))
}

// MalformedResponse wraps a decode failure.
func MalformedResponse(err error, message string) *Error {
	return Wrap(err, KindMalformedResponse, message)
}

// Database wraps a storage failure.
func Database(err error, message string) *Error {
	return Wrap(err, KindDatabase, message)
}

// Databasef wraps a storage failure with formatting.
func Databasef(err error, format string, args ...interface{}) *Error {
	return Wrap(err, KindDatabase, fmt.Sprintf(format, args...))
}

// Config creates a configuration error.
func Config(message string) *Error {
	return New(KindConfig, message)
}
