package extractor

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		err      error
		expected ErrorKind
	}{
		{nil, KindUnknown},
		{errors.New("ERROR: Requested format is not available"), KindFormatUnavailable},
		{errors.New("no video formats found"), KindFormatUnavailable},
		{errors.New("HTTP Error 403: Forbidden"), KindAccessForbidden},
		{errors.New("access denied by origin server"), KindAccessForbidden},
		{errors.New("read tcp: connection timed out"), KindNetworkTimeout},
		{context.DeadlineExceeded, KindNetworkTimeout},
		{errors.New("open /out/video.mp4: permission denied"), KindFatal},
		{errors.New("write /out/video.mp4: no space left on device"), KindFatal},
		{errors.New("something else entirely"), KindUnknown},
	}

	for _, test := range tests {
		result := Classify(test.err)
		if result != test.expected {
			t.Errorf("Classify(%v) = %s, expected %s", test.err, result, test.expected)
		}
	}
}

func TestClassify_PreservesWrappedKind(t *testing.T) {
	inner := &ExtractionError{Kind: KindAccessForbidden, URL: "u", Err: errors.New("opaque")}
	wrapped := fmt.Errorf("attempt 2: %w", inner)

	if kind := Classify(wrapped); kind != KindAccessForbidden {
		t.Errorf("Classify(wrapped) = %s, expected access forbidden", kind)
	}
}

func TestErrorKind_Retryable(t *testing.T) {
	tests := []struct {
		kind     ErrorKind
		expected bool
	}{
		{KindFormatUnavailable, true},
		{KindAccessForbidden, true},
		{KindNetworkTimeout, true},
		{KindUnknown, true},
		{KindFatal, false},
	}

	for _, test := range tests {
		if got := test.kind.Retryable(); got != test.expected {
			t.Errorf("ErrorKind(%s).Retryable() = %v, expected %v", test.kind, got, test.expected)
		}
	}
}

func TestWrapError(t *testing.T) {
	if WrapError("u", nil) != nil {
		t.Error("WrapError(nil) must stay nil")
	}

	err := WrapError("https://example.com/v", errors.New("HTTP Error 403"))
	var ee *ExtractionError
	if !errors.As(err, &ee) {
		t.Fatalf("Expected *ExtractionError, got %T", err)
	}
	if ee.Kind != KindAccessForbidden {
		t.Errorf("Expected classified kind, got %s", ee.Kind)
	}

	// Re-wrapping keeps the original classification
	again := WrapError("https://example.com/v", err)
	if again != err {
		t.Error("Expected already-classified error to pass through unchanged")
	}
}

func TestRemedy_CoversAllKinds(t *testing.T) {
	kinds := []ErrorKind{KindUnknown, KindFormatUnavailable, KindAccessForbidden, KindNetworkTimeout, KindFatal}
	for _, kind := range kinds {
		if Remedy(kind) == "" {
			t.Errorf("Remedy(%s) returned empty suggestion", kind)
		}
	}
}
