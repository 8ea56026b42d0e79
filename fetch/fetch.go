package fetch

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a fetch failure for retry routing.
type Kind int

const (
	// KindTransient failures (timeout, connection reset, 5xx, rate
	// limiting) are retried with backoff.
	KindTransient Kind = iota
	// KindPermanent failures (4xx, structurally bad responses) are
	// surfaced immediately without retry.
	KindPermanent
	// KindFatal failures (no fetch channel at all) abort the run.
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error is the typed result of a failed fetch operation. After retry
// exhaustion it carries the last underlying cause and the attempt count.
type Error struct {
	Kind     Kind
	Op       string // navigate, download
	URL      string
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("%s %s: %v (%s, %d attempts)", e.Op, e.URL, e.Err, e.Kind, e.Attempts)
	}
	return fmt.Sprintf("%s %s: %v (%s)", e.Op, e.URL, e.Err, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Transient wraps err as a retryable failure.
func Transient(err error) error {
	return &Error{Kind: KindTransient, Err: err}
}

// Permanent wraps err as a non-retryable failure.
func Permanent(err error) error {
	return &Error{Kind: KindPermanent, Err: err}
}

// Fatal wraps err as a run-aborting failure.
func Fatal(err error) error {
	return &Error{Kind: KindFatal, Err: err}
}

// KindOf extracts the failure class from err. Unclassified errors
// (including context deadline) are treated as transient; cancellation
// is not a fetch failure and maps to permanent so callers stop cleanly.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindPermanent
	}
	return KindTransient
}

// IsFatal reports whether err should abort the whole run.
func IsFatal(err error) bool {
	return err != nil && KindOf(err) == KindFatal
}

// Driver performs raw network operations. Each pipeline worker owns its
// own driver instance for its whole lifetime; drivers are not shared.
type Driver interface {
	// Navigate loads a page and returns its rendered HTML.
	Navigate(ctx context.Context, url string) (string, error)
	// Download fetches a binary resource, returning body and content type.
	Download(ctx context.Context, url string) ([]byte, string, error)
	Close() error
}
