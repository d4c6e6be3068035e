package utils

import (
	"errors"
	"fmt"
)

var (
	// ErrCancelled is returned when the user cancels an in-flight download.
	ErrCancelled = errors.New("download cancelled")
	// ErrBusy is returned when a download is started while another session is active.
	ErrBusy = errors.New("another download is already in progress")
	// ErrRangeRequestsNotSupported is returned when a multipart download is
	// requested but the server does not accept byte ranges.
	ErrRangeRequestsNotSupported = errors.New("server does not support range requests")
)

// StatusError reports a non-200 response to the initial GET.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code: %d", e.Code)
}

// InvalidURLError reports a URL rejected before any network I/O.
type InvalidURLError struct {
	URL    string
	Reason string
}

func (e *InvalidURLError) Error() string {
	return fmt.Sprintf("invalid URL %q: %s", e.URL, e.Reason)
}

// NetworkError wraps a transport-level failure: DNS, dial, timeout, or a
// broken response stream.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error: %v", e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// FileWriteError wraps a persistence failure on an output or part file.
type FileWriteError struct {
	Path string
	Err  error
}

func (e *FileWriteError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("file write error: %v", e.Err)
	}
	return fmt.Sprintf("writing %s: %v", e.Path, e.Err)
}

func (e *FileWriteError) Unwrap() error { return e.Err }
