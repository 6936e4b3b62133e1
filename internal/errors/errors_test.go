package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"
)

type flakyErr struct{ retry bool }

func (f flakyErr) Error() string   { return "flaky" }
func (f flakyErr) Retryable() bool { return f.retry }

func TestIsMatchesByCode(t *testing.T) {
	base := New(CodeInvalidInput, "bad input")
	wrapped := fmt.Errorf("context: %w", Wrap(CodeInvalidInput, stdErrors.New("boom"), "other"))
	if !stdErrors.Is(wrapped, base) {
		t.Fatal("errors with the same code should match")
	}
	if stdErrors.Is(wrapped, New(CodeMissingMetadata, "")) {
		t.Fatal("different codes must not match")
	}
	if CodeOf(wrapped) != CodeInvalidInput {
		t.Fatalf("unexpected code %s", CodeOf(wrapped))
	}
	if CodeOf(stdErrors.New("plain")) != CodeUnknown {
		t.Fatal("plain errors map to UNKNOWN")
	}
}

func TestRetryableError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"registry default", New(CodeQueueFailure, ""), true},
		{"not retryable code", New(CodeInvalidInput, ""), false},
		{"explicit override", New(CodeQueueFailure, "", WithRetryable(false)), false},
		{"bare retryer", flakyErr{retry: true}, true},
		{"cause decides", Wrap(CodeAuthorityTransport, flakyErr{retry: false}, "lookup"), false},
		{"plain error", stdErrors.New("x"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := RetryableError(tc.err); got != tc.want {
				t.Fatalf("RetryableError() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestDefaultsFromRegistry(t *testing.T) {
	err := New(CodeJobPublish, "")
	if err.Error() != "[JOB_PUBLISH_FAILED] attestation job could not be queued" {
		t.Fatalf("unexpected default message %q", err.Error())
	}
	attr := AttributesOf(err.Code())
	if !attr.Alert || attr.Severity != SeverityCritical {
		t.Fatal("publish failures should alert as critical")
	}
	if AttributesOf("NO_SUCH_CODE") != AttributesOf(CodeUnknown) {
		t.Fatal("unregistered codes fall back to UNKNOWN")
	}
}

type authorityErr struct{}

func (authorityErr) Error() string     { return "authority down" }
func (authorityErr) ErrorCode() string { return string(CodeAuthorityTransport) }
func (authorityErr) Retryable() bool   { return true }

func TestCodeOfSelfDeclaredCode(t *testing.T) {
	wrapped := fmt.Errorf("submit: %w", authorityErr{})
	if got := CodeOf(wrapped); got != CodeAuthorityTransport {
		t.Fatalf("CodeOf() = %s, want %s", got, CodeAuthorityTransport)
	}
	if got := CodeOf(Wrap(CodeNotFound, authorityErr{}, "lookup")); got != CodeNotFound {
		t.Fatalf("outer code should win, got %s", got)
	}
	if CodeOf(nil) != CodeUnknown {
		t.Fatal("nil maps to UNKNOWN")
	}
}

func TestMetadataOf(t *testing.T) {
	inner := New(CodeJobValidation, "bad job", WithMetadata("job_id", "j-1"), WithMetadata("stage", "decode"))
	outer := Wrap(CodeJobPublish, fmt.Errorf("publish: %w", inner), "", WithMetadata("stage", "republish"))
	meta := MetadataOf(outer)
	if meta["job_id"] != "j-1" || meta["stage"] != "republish" {
		t.Fatalf("unexpected metadata %v", meta)
	}
	if MetadataOf(stdErrors.New("plain")) != nil {
		t.Fatal("plain errors carry no metadata")
	}
}
