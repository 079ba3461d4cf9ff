package transfer

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind categorises failures so callers can decide whether to retry.
type ErrorKind string

const (
	// KindConfig covers missing or invalid configuration and selector misuse.
	KindConfig ErrorKind = "config"
	// KindRead covers records that cannot be read or written locally.
	KindRead ErrorKind = "read"
	// KindResolution covers record type references with no match in the target org.
	KindResolution ErrorKind = "resolution"
	// KindTransport covers failed remote calls.
	KindTransport ErrorKind = "transport"
	// KindHook covers errors returned by hook handlers.
	KindHook ErrorKind = "hook"
	// KindExhausted is returned when an object still has failed records after the last attempt.
	KindExhausted ErrorKind = "exhausted"
)

// Error is the error type returned by the engine.
type Error struct {
	Kind       ErrorKind
	ObjectType string
	Message    string
	Cause      error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.ObjectType != "" {
		b.WriteString(" [")
		b.WriteString(e.ObjectType)
		b.WriteString("]")
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func newError(kind ErrorKind, objecttype string, cause error, format string, args ...interface{}) *Error {
	return &Error{
		Kind:       kind,
		ObjectType: objecttype,
		Message:    fmt.Sprintf(format, args...),
		Cause:      cause,
	}
}

// ConfigError reports a configuration problem.
func ConfigError(format string, args ...interface{}) error {
	return newError(KindConfig, "", nil, format, args...)
}

// IsKind reports whether any error in err's chain is an *Error of the given kind.
// An *ExhaustedError matches KindExhausted.
func IsKind(err error, kind ErrorKind) bool {
	if kind == KindExhausted {
		var ee *ExhaustedError
		if errors.As(err, &ee) {
			return true
		}
	}
	var e *Error
	for err != nil {
		if !errors.As(err, &e) {
			return false
		}
		if e.Kind == kind {
			return true
		}
		err = e.Cause
	}
	return false
}

// retryable reports whether a failed attempt may be attempted again.
// Hook and configuration errors abort immediately.
func retryable(err error) bool {
	return !IsKind(err, KindHook) && !IsKind(err, KindConfig)
}

// ExhaustedError is returned when an object type still has failed records after
// the configured number of attempts. It carries the outcome of the last attempt.
type ExhaustedError struct {
	Outcome TransferOutcome
}

func (e *ExhaustedError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s]: import was unsuccessful after %d attempts (%d of %d records failed)",
		KindExhausted, e.Outcome.ObjectType, e.Outcome.Attempts, e.Outcome.Failure, e.Outcome.Total)
	for _, r := range e.Outcome.FailureResults {
		fmt.Fprintf(&b, "\n  id=%q externalId=%q: %s", r.RecordID, r.ExternalID, r.Message)
	}
	return b.String()
}
