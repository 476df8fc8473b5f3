package extractor

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorKind buckets extraction failures for retry decisions. The
// backends surface raw tool output, so classification works on message
// substrings and is kept in this single place.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindFormatUnavailable
	KindAccessForbidden
	KindNetworkTimeout
	KindFatal
)

func (k ErrorKind) String() string {
	switch k {
	case KindFormatUnavailable:
		return "format unavailable"
	case KindAccessForbidden:
		return "access forbidden"
	case KindNetworkTimeout:
		return "network timeout"
	case KindFatal:
		return "fatal"
	}
	return "unknown"
}

// Retryable reports whether a follow-up attempt with a different
// strategy makes sense. Only fatal environment errors abort a cascade.
func (k ErrorKind) Retryable() bool {
	return k != KindFatal
}

// ExtractionError annotates a backend failure with its classified kind
type ExtractionError struct {
	Kind ErrorKind
	URL  string
	Err  error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %s: %v", e.URL, e.Kind, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// WrapError classifies err and attaches the source URL. Nil stays nil;
// an already-classified error keeps its kind.
func WrapError(url string, err error) error {
	if err == nil {
		return nil
	}
	var ee *ExtractionError
	if errors.As(err, &ee) {
		return err
	}
	return &ExtractionError{Kind: Classify(err), URL: url, Err: err}
}

// Classify buckets an error by message substrings. yt-dlp and the
// native client both report failures as flat strings, so this is the
// single source of truth for retry classification.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	var ee *ExtractionError
	if errors.As(err, &ee) {
		return ee.Kind
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "requested format is not available"),
		strings.Contains(msg, "no video formats found"),
		strings.Contains(msg, "format not found"):
		return KindFormatUnavailable
	case strings.Contains(msg, "403"),
		strings.Contains(msg, "forbidden"),
		strings.Contains(msg, "access denied"):
		return KindAccessForbidden
	case errors.Is(err, context.DeadlineExceeded),
		strings.Contains(msg, "timed out"),
		strings.Contains(msg, "timeout"),
		strings.Contains(msg, "deadline exceeded"):
		return KindNetworkTimeout
	case strings.Contains(msg, "permission denied"),
		strings.Contains(msg, "no space left"),
		strings.Contains(msg, "read-only file system"):
		return KindFatal
	}
	return KindUnknown
}

// Remedy returns a user-facing suggestion for a classified failure
func Remedy(kind ErrorKind) string {
	switch kind {
	case KindFormatUnavailable:
		return "the selected quality is not offered for this item; pick another format"
	case KindAccessForbidden:
		return "the site refused the request; retry later or supply cookies"
	case KindNetworkTimeout:
		return "the network is slow or unreachable; check connectivity and retry"
	case KindFatal:
		return "the download location is not writable; check disk space and permissions"
	}
	return "retry, and report the full message if it persists"
}
