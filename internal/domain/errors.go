package domain

import (
	"errors"
	"fmt"
	"time"
)

// Common domain errors
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")

	// Configuration errors
	ErrInvalidSize   = errors.New("invalid size")
	ErrSizeOverflow  = errors.New("size overflows 64 bits")
	ErrMissingKey    = errors.New("missing required key")
	ErrInvalidConfig = errors.New("invalid configuration")

	// Range header errors
	ErrInvalidRange    = errors.New("malformed range header")
	ErrUnsupportedUnit = errors.New("unsupported range unit")
	ErrRangeOverflow   = errors.New("range offset overflow")

	// Coordinator errors
	ErrCoordinatorClosed = errors.New("download coordinator closed")
	ErrPreempted         = errors.New("prefetch preempted by primary fetch")

	// Fetch errors
	ErrFetchTimeout = errors.New("fetch timed out")
	ErrFetchFailed  = errors.New("fetch failed")
)

// ConfigError reports a configuration value that could not be parsed or
// failed validation. It is fatal at startup.
type ConfigError struct {
	Key string
	Err error
}

// Error returns the error message
func (e *ConfigError) Error() string {
	if e.Key == "" {
		return "config: " + e.errText()
	}
	return "config " + e.Key + ": " + e.errText()
}

func (e *ConfigError) errText() string {
	if e.Err == nil {
		return ErrInvalidConfig.Error()
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// NewConfigError creates a ConfigError for key with a formatted cause wrapping base.
func NewConfigError(key string, base error, format string, args ...interface{}) *ConfigError {
	if format == "" {
		return &ConfigError{Key: key, Err: base}
	}
	return &ConfigError{Key: key, Err: fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), base)}
}

// IsConfigError returns true if err is or wraps a ConfigError
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// RangeParseError reports a Range header that cannot be rewritten.
// It is never fatal: callers pass the request through unmodified.
type RangeParseError struct {
	Header string
	Reason string
	Err    error
}

// Error returns the error message
func (e *RangeParseError) Error() string {
	msg := "range " + fmt.Sprintf("%q", e.Header)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error
func (e *RangeParseError) Unwrap() error {
	return e.Err
}

// NewRangeParseError creates a RangeParseError
func NewRangeParseError(header, reason string, err error) *RangeParseError {
	return &RangeParseError{Header: header, Reason: reason, Err: err}
}

// FetchError reports the terminal failure of a single sub-range fetch.
type FetchError struct {
	Key  DownloadKey
	Kind FetchKind
	Err  error
}

// Error returns the error message
func (e *FetchError) Error() string {
	msg := e.Kind.String() + " fetch " + e.Key.String()
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg + ": " + ErrFetchFailed.Error()
}

// Unwrap returns the underlying error
func (e *FetchError) Unwrap() error {
	return e.Err
}

// SkippableError represents an error that can be logged and skipped.
// Prefetch failures are reported this way.
type SkippableError struct {
	Err     error
	Context string
}

// Error returns the error message
func (e *SkippableError) Error() string {
	if e.Context != "" {
		if e.Err != nil {
			return e.Context + ": " + e.Err.Error()
		}
		return e.Context
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "skippable error"
}

// Unwrap returns the underlying error
func (e *SkippableError) Unwrap() error {
	return e.Err
}

// NewSkippableError creates a new skippable error
func NewSkippableError(err error, context string) *SkippableError {
	return &SkippableError{Err: err, Context: context}
}

// IsSkippable returns true if the error can be skipped
func IsSkippable(err error) bool {
	var se *SkippableError
	return errors.As(err, &se)
}

// RetryableError marks a primary-path failure the caller may retry.
// The coordinator itself never retries.
type RetryableError struct {
	Err        error
	RetryAfter time.Duration
}

// Error returns the error message
func (e *RetryableError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return "retryable error"
}

// Unwrap returns the underlying error
func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error, retryAfter time.Duration) *RetryableError {
	return &RetryableError{Err: err, RetryAfter: retryAfter}
}

// IsRetryable returns true if the error should be retried
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

// GetRetryAfter returns the retry duration if the error is retryable
func GetRetryAfter(err error) (time.Duration, bool) {
	var re *RetryableError
	if errors.As(err, &re) {
		return re.RetryAfter, true
	}
	return 0, false
}
