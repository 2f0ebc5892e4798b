package errors

import (
	"fmt"
	"runtime"
	"sort"
	"strings"
)

// ErrorType is the category of a careops failure
type ErrorType int

const (
	// ErrorTypeConfig: missing or invalid configuration
	ErrorTypeConfig ErrorType = iota
	// ErrorTypePolicy: trust boundary file missing or malformed. Callers
	// recover with the built-in defaults.
	ErrorTypePolicy
	// ErrorTypeValidation: malformed action or operator input
	ErrorTypeValidation
	// ErrorTypeStore: shared KV or audit database unavailable
	ErrorTypeStore
	// ErrorTypeExecution: an executor failed to carry out an approved action
	ErrorTypeExecution
	// ErrorTypeTimeout: a wait passed its deadline
	ErrorTypeTimeout
)

// Severity says whether the caller can carry on
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	// SeverityCritical stops the command
	SeverityCritical
)

// Error is a typed failure with optional key/value context
type Error struct {
	Type       ErrorType
	Severity   Severity
	Message    string
	Cause      error
	Context    map[string]interface{}
	StackTrace string
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error of the same type, so errors.Is(err, &Error{Type: ErrorTypeStore})
// answers "did the store fail somewhere in this chain"
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && e.Type == t.Type
}

// WithContext attaches a key/value pair shown by DetailedString
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// IsFatal reports whether the command should stop
func (e *Error) IsFatal() bool {
	return e.Severity == SeverityCritical
}

// DetailedString renders the error for --verbose CLI output
func (e *Error) DetailedString() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] [%s] %s\n", severityString(e.Severity), typeString(e.Type), e.Message)

	if e.Cause != nil {
		fmt.Fprintf(&sb, "Caused by: %v\n", e.Cause)
	}

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		sb.WriteString("Context:\n")
		for _, k := range keys {
			fmt.Fprintf(&sb, "  %s: %v\n", k, e.Context[k])
		}
	}

	if e.StackTrace != "" {
		fmt.Fprintf(&sb, "Stack trace:\n%s\n", e.StackTrace)
	}
	return sb.String()
}

func typeString(t ErrorType) string {
	switch t {
	case ErrorTypeConfig:
		return "CONFIG"
	case ErrorTypePolicy:
		return "POLICY"
	case ErrorTypeValidation:
		return "VALIDATION"
	case ErrorTypeStore:
		return "STORE"
	case ErrorTypeExecution:
		return "EXECUTION"
	case ErrorTypeTimeout:
		return "TIMEOUT"
	default:
		return "UNKNOWN"
	}
}

func severityString(s Severity) string {
	switch s {
	case SeverityLow:
		return "LOW"
	case SeverityMedium:
		return "MEDIUM"
	case SeverityHigh:
		return "HIGH"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

func stack(skip int) string {
	var sb strings.Builder
	for i := skip; i < skip+10; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}
		fn := runtime.FuncForPC(pc)
		if fn == nil {
			break
		}
		fmt.Fprintf(&sb, "  %s:%d %s\n", file, line, fn.Name())
	}
	return sb.String()
}

// New creates an error with no cause
func New(errType ErrorType, severity Severity, message string) *Error {
	return &Error{
		Type:       errType,
		Severity:   severity,
		Message:    message,
		StackTrace: stack(2),
	}
}

// Wrap returns nil for a nil err
func Wrap(err error, errType ErrorType, severity Severity, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Type:       errType,
		Severity:   severity,
		Message:    message,
		Cause:      err,
		StackTrace: stack(2),
	}
}

func ConfigError(message string) *Error {
	return New(ErrorTypeConfig, SeverityCritical, message)
}

func ValidationError(message string) *Error {
	return New(ErrorTypeValidation, SeverityHigh, message)
}

func ValidationErrorf(format string, args ...interface{}) *Error {
	return New(ErrorTypeValidation, SeverityHigh, fmt.Sprintf(format, args...))
}

// PolicyErrorf never carries SeverityCritical: the gate keeps running on
// the previous or default policy
func PolicyErrorf(err error, format string, args ...interface{}) *Error {
	return Wrap(err, ErrorTypePolicy, SeverityMedium, fmt.Sprintf(format, args...))
}

func StoreError(err error, message string) *Error {
	return Wrap(err, ErrorTypeStore, SeverityHigh, message)
}

func StoreErrorf(err error, format string, args ...interface{}) *Error {
	return Wrap(err, ErrorTypeStore, SeverityHigh, fmt.Sprintf(format, args...))
}

func ExecutionError(err error, message string) *Error {
	return Wrap(err, ErrorTypeExecution, SeverityMedium, message)
}

func TimeoutErrorf(format string, args ...interface{}) *Error {
	return New(ErrorTypeTimeout, SeverityLow, fmt.Sprintf(format, args...))
}

// IsType reports whether err or anything it wraps is an *Error of errType
func IsType(err error, errType ErrorType) bool {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Type == errType {
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
