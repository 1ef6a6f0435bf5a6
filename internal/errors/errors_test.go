package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"
)

func TestNewUsesRegisteredAttributes(t *testing.T) {
	err := New(CodeTimeout, "")
	if err.Message() == "" {
		t.Fatal("empty message must fall back to the registered attributes")
	}
	if err.Category() != CategoryTransient {
		t.Fatalf("category = %v", err.Category())
	}
	if !err.Retryable() {
		t.Fatal("timeouts are retryable by default")
	}
}

func TestOptionsOverrideRegistryDefaults(t *testing.T) {
	err := New(CodeRemote, "server exploded",
		WithStatusCode(503),
		WithBody(`{"error":"boom"}`),
		WithCategory(CategoryTransient),
		WithRetryable(true),
		WithMetadata("operation", "submit"),
	)
	if err.StatusCode() != 503 {
		t.Fatalf("status = %d", err.StatusCode())
	}
	if err.Body() == "" {
		t.Fatal("body not carried")
	}
	if !err.Retryable() || err.Category() != CategoryTransient {
		t.Fatalf("classification = %v retryable=%v", err.Category(), err.Retryable())
	}
	if err.Metadata()["operation"] != "submit" {
		t.Fatalf("metadata = %v", err.Metadata())
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := fmt.Errorf("connect: connection refused")
	err := Wrap(CodeConnection, cause, "request failed")
	if !stdErrors.Is(err, cause) {
		t.Fatal("wrapped cause lost")
	}

	var typed *Error
	if !stdErrors.As(err, &typed) {
		t.Fatal("errors.As failed")
	}
	if typed.Code() != CodeConnection {
		t.Fatalf("code = %v", typed.Code())
	}
}

func TestIsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("outer: %w", New(CodeAuth, "bad key"))
	if !stdErrors.Is(err, New(CodeAuth, "anything")) {
		t.Fatal("errors with the same code must match")
	}
	if stdErrors.Is(err, New(CodePayment, "anything")) {
		t.Fatal("different codes must not match")
	}
}

func TestHelpers(t *testing.T) {
	err := New(CodePayment, "settlement rejected")
	if CodeOf(err) != CodePayment {
		t.Fatalf("CodeOf = %v", CodeOf(err))
	}
	if CodeOf(fmt.Errorf("plain")) != CodeUnknown {
		t.Fatal("plain errors map to unknown")
	}
	if IsRetryable(fmt.Errorf("plain")) {
		t.Fatal("plain errors are not retryable")
	}
	if _, ok := From(fmt.Errorf("plain")); ok {
		t.Fatal("From must fail for untyped errors")
	}
	if _, ok := From(fmt.Errorf("wrapped: %w", err)); !ok {
		t.Fatal("From must unwrap")
	}
}
