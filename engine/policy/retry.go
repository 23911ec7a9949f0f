package policy

import (
	"errors"
	"regexp"

	"github.com/flowmatic/flowmatic/engine/core"
)

// Retry decides whether a failed attempt runs again. The decision composes
// four gates: attempts remaining, the abort list, the retryable allow-lists,
// and an optional custom predicate.
type Retry struct {
	MaxAttempts int
	Backoff     *Backoff
	// RetryableErrors allow-lists error kinds (taxonomy families). Empty
	// means every kind is retryable.
	RetryableErrors []string
	// RetryableMessages are regexes matched against the error text. Empty
	// means any message is retryable.
	RetryableMessages []*regexp.Regexp
	// AbortOn disallows retry for the listed error kinds regardless of the
	// other gates.
	AbortOn []string
	// Predicate, when set, gets the final say over an otherwise retryable
	// error.
	Predicate func(err error, attempt int) bool
}

// NewRetry builds a policy with the given attempt ceiling and backoff.
func NewRetry(maxAttempts int, backoff *Backoff) *Retry {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Retry{MaxAttempts: maxAttempts, Backoff: backoff}
}

// ShouldRetry reports whether the attempt-th failure should be retried.
func (r *Retry) ShouldRetry(err error, attempt int) bool {
	if attempt >= r.MaxAttempts {
		return false
	}
	if r.ShouldAbort(err) {
		return false
	}
	if !r.kindAllowed(err) {
		return false
	}
	if !r.messageAllowed(err) {
		return false
	}
	if r.Predicate != nil && !r.Predicate(err, attempt) {
		return false
	}
	return true
}

// ShouldAbort reports whether the error kind is on the abort list; ShouldRetry
// refuses such errors. No separate aborted status exists: the step executor
// records an aborted step as failed, the same as one whose retries ran out.
func (r *Retry) ShouldAbort(err error) bool {
	kind := errorKind(err)
	for _, k := range r.AbortOn {
		if k == kind {
			return true
		}
	}
	return false
}

func (r *Retry) kindAllowed(err error) bool {
	if len(r.RetryableErrors) == 0 {
		return true
	}
	kind := errorKind(err)
	for _, k := range r.RetryableErrors {
		if k == kind {
			return true
		}
	}
	return false
}

func (r *Retry) messageAllowed(err error) bool {
	if len(r.RetryableMessages) == 0 {
		return true
	}
	msg := err.Error()
	for _, re := range r.RetryableMessages {
		if re.MatchString(msg) {
			return true
		}
	}
	return false
}

func errorKind(err error) string {
	var coreErr *core.Error
	if errors.As(err, &coreErr) {
		return coreErr.Kind()
	}
	return ""
}
