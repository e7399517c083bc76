// Package errors provides the failure taxonomy for the event bus.
//
// Every handler failure is assigned a Category that decides whether the
// dispatch pipeline retries it, quarantines it immediately, or treats it
// as a payload contract violation:
//   - Transient: retry with backoff will likely help
//   - Permanent: retry won't help, quarantine after a single attempt
//   - Validation: payload failed its contract, never retried
//
// Handlers should return a CategorizedError when they know the failure
// class. For plain errors the category is inferred from well-known message
// patterns (timeouts, connection resets, 5xx statuses, rate limits versus
// not-found, invalid, missing-required wording).
package errors

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Category represents how a handler failure should be handled.
type Category int

const (
	// CategoryTransient indicates retry will likely help.
	// Examples: timeouts, connection resets, rate limits, 5xx responses.
	CategoryTransient Category = iota

	// CategoryPermanent indicates retry won't help.
	// Examples: missing records, invalid references.
	CategoryPermanent

	// CategoryValidation indicates the payload violated its contract.
	// Validation failures are quarantined without any retry attempt.
	CategoryValidation
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryTransient:
		return "transient"
	case CategoryPermanent:
		return "permanent"
	case CategoryValidation:
		return "validation"
	default:
		return "unknown"
	}
}

// Retryable reports whether errors of this category should be retried.
func (c Category) Retryable() bool {
	return c == CategoryTransient
}

// CategorizedError wraps an error with its category and context.
type CategorizedError struct {
	// Err is the underlying error.
	Err error

	// Category indicates how this error should be handled.
	Category Category

	// Context describes what operation was being attempted.
	Context string
}

// Error implements the error interface.
func (e *CategorizedError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("%s: %s (category: %s)", e.Context, e.Err, e.Category)
	}
	return fmt.Sprintf("%s (category: %s)", e.Err, e.Category)
}

// Unwrap returns the underlying error.
func (e *CategorizedError) Unwrap() error {
	return e.Err
}

// NewCategorized creates a new categorized error.
func NewCategorized(err error, category Category, context string) *CategorizedError {
	return &CategorizedError{
		Err:      err,
		Category: category,
		Context:  context,
	}
}

// Transient creates a transient error.
func Transient(err error, context string) *CategorizedError {
	return NewCategorized(err, CategoryTransient, context)
}

// Permanent creates a permanent error.
func Permanent(err error, context string) *CategorizedError {
	return NewCategorized(err, CategoryPermanent, context)
}

// Validation creates a validation error.
func Validation(err error, context string) *CategorizedError {
	return NewCategorized(err, CategoryValidation, context)
}

// permanentIndicators are message fragments that mark an error as
// not worth retrying.
var permanentIndicators = []string{
	"not found",
	"validation",
	"invalid",
	"missing required",
}

// transientIndicators are message fragments that mark an error as
// likely to succeed on retry.
var transientIndicators = []string{
	"timeout",
	"timed out",
	"deadline exceeded",
	"connection reset",
	"connection refused",
	"rate limit",
	"too many requests",
	"temporarily unavailable",
	"service unavailable",
	"bad gateway",
	"internal server error",
}

// serverStatusPattern matches 5xx HTTP status codes embedded in messages.
var serverStatusPattern = regexp.MustCompile(`\b5\d{2}\b`)

// Categorize determines how an error should be handled.
//
// Typed CategorizedError values win. Plain errors are matched against the
// permanent indicators first (a non-retryable signal must stop the retry
// loop), then the transient indicators. Unmatched errors default to
// transient so unknown failures get the benefit of a retry.
func Categorize(err error) Category {
	if err == nil {
		return CategoryPermanent // shouldn't happen, fail safe
	}

	var catErr *CategorizedError
	if errors.As(err, &catErr) {
		return catErr.Category
	}

	msg := strings.ToLower(err.Error())

	for _, indicator := range permanentIndicators {
		if strings.Contains(msg, indicator) {
			return CategoryPermanent
		}
	}

	for _, indicator := range transientIndicators {
		if strings.Contains(msg, indicator) {
			return CategoryTransient
		}
	}
	if serverStatusPattern.MatchString(msg) {
		return CategoryTransient
	}

	// Unmatched errors default to retryable.
	return CategoryTransient
}

// IsRetryable reports whether the error should be retried.
func IsRetryable(err error) bool {
	return Categorize(err).Retryable()
}

// IsValidation reports whether the error is a payload contract violation.
func IsValidation(err error) bool {
	return Categorize(err) == CategoryValidation
}
