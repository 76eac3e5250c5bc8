package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
)

func TestAsFindsWrappedError(t *testing.T) {
	err := fmt.Errorf("join: %w", New(CodeNotFound, "session not found"))
	got, ok := As(err)
	if !ok {
		t.Fatal("expected to find domain error")
	}
	if got.Code != CodeNotFound {
		t.Fatalf("code = %q, want %q", got.Code, CodeNotFound)
	}
}

func TestAsPlainErrorReportsFalse(t *testing.T) {
	if _, ok := As(stderrors.New("boom")); ok {
		t.Fatal("expected plain error not to match")
	}
}

func TestWrapKeepsCause(t *testing.T) {
	cause := stderrors.New("queue item not found")
	err := Wrap(CodeNotFound, "queue item not found", cause)
	if !stderrors.Is(err, cause) {
		t.Fatal("expected wrapped cause to match")
	}
	if err.Error() != "queue item not found" {
		t.Fatalf("message = %q", err.Error())
	}
}

func TestIsMatchesByCode(t *testing.T) {
	err := New(CodeForbidden, "owner only")
	if !stderrors.Is(err, New(CodeForbidden, "different message")) {
		t.Fatal("expected errors with the same code to match")
	}
	if stderrors.Is(err, New(CodeNotFound, "owner only")) {
		t.Fatal("expected errors with different codes not to match")
	}
}

func TestRetryable(t *testing.T) {
	if !CodeResourceExhausted.Retryable() {
		t.Fatal("expected resource exhausted to be retryable")
	}
	if CodeInvalidArgument.Retryable() {
		t.Fatal("expected invalid argument not to be retryable")
	}
}
