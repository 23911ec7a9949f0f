package core

import "strings"

// Severity classifies how an error affects the surrounding run.
type Severity string

const (
	SeverityFatal   Severity = "fatal"
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Error is the structured error carried across the engine. Every diagnostic
// the engine surfaces to a user is one of these, identified by a dotted code
// from the closed taxonomy (security.*, schema.*, validation.*, adapter.*,
// step.*, execution.*, queue.*, scheduler.*).
type Error struct {
	Message  string         `json:"message,omitempty"`
	Code     string         `json:"code,omitempty"`
	Path     string         `json:"path,omitempty"`
	Hint     string         `json:"hint,omitempty"`
	Severity Severity       `json:"severity,omitempty"`
	Details  map[string]any `json:"details,omitempty"`
	Causes   []*Error       `json:"causes,omitempty"`
	cause    error
}

func NewError(err error, code string, details map[string]any) *Error {
	var message string
	if err != nil {
		message = err.Error()
	} else {
		message = "unknown error"
	}
	return &Error{
		Message:  message,
		Code:     code,
		Severity: SeverityError,
		Details:  details,
		cause:    err,
	}
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// WithPath returns the error with its document location set.
func (e *Error) WithPath(path string) *Error {
	e.Path = path
	return e
}

// WithHint returns the error with a remediation hint attached.
func (e *Error) WithHint(hint string) *Error {
	e.Hint = hint
	return e
}

func (e *Error) WithSeverity(s Severity) *Error {
	e.Severity = s
	return e
}

func (e *Error) WithCause(cause *Error) *Error {
	e.Causes = append(e.Causes, cause)
	return e
}

// Kind returns the taxonomy family of the code, the segment before the first
// dot ("validation" for "validation.circular_dependency").
func (e *Error) Kind() string {
	if e == nil {
		return ""
	}
	if idx := strings.IndexByte(e.Code, '.'); idx > 0 {
		return e.Code[:idx]
	}
	return e.Code
}

func (e *Error) AsMap() map[string]any {
	if e == nil {
		return nil
	}
	if e.Message == "" && e.Code == "" && e.Details == nil {
		return nil
	}
	m := map[string]any{
		"message": e.Message,
		"code":    e.Code,
	}
	if e.Path != "" {
		m["path"] = e.Path
	}
	if e.Hint != "" {
		m["hint"] = e.Hint
	}
	if e.Details != nil {
		m["details"] = e.Details
	}
	if len(e.Causes) > 0 {
		causes := make([]map[string]any, 0, len(e.Causes))
		for _, c := range e.Causes {
			causes = append(causes, c.AsMap())
		}
		m["causes"] = causes
	}
	return m
}

// ErrorList accumulates multiple diagnostics so validation can report
// everything wrong with a document in one pass.
type ErrorList struct {
	Errors []*Error
}

func (l *ErrorList) Add(err *Error) {
	if err != nil {
		l.Errors = append(l.Errors, err)
	}
}

func (l *ErrorList) Empty() bool {
	return len(l.Errors) == 0
}

func (l *ErrorList) Error() string {
	if l == nil || len(l.Errors) == 0 {
		return ""
	}
	msgs := make([]string, 0, len(l.Errors))
	for _, e := range l.Errors {
		msgs = append(msgs, e.Error())
	}
	return strings.Join(msgs, "; ")
}

// First returns the first accumulated error, or nil.
func (l *ErrorList) First() *Error {
	if l == nil || len(l.Errors) == 0 {
		return nil
	}
	return l.Errors[0]
}
