package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestNewCarriesCodeAndMessage(t *testing.T) {
	err := New(CodeValidation, "manifest is empty")
	if err.Code() != CodeValidation {
		t.Fatalf("expected %s, got %s", CodeValidation, err.Code())
	}
	if err.Message() != "manifest is empty" {
		t.Fatalf("unexpected message %q", err.Message())
	}
	if err.Error() != "VALIDATION_ERROR: manifest is empty" {
		t.Fatalf("unexpected error string %q", err.Error())
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := Wrap(CodeDependency, cause, "carrier request failed")
	if !stdErrors.Is(err, cause) {
		t.Fatalf("expected wrapped cause to be discoverable")
	}
	if err.Code() != CodeDependency {
		t.Fatalf("unexpected code %s", err.Code())
	}
}

func TestAsFindsTypedErrorInChain(t *testing.T) {
	inner := New(CodeStateConflict, "refund not allowed on pending payment")
	wrapped := fmt.Errorf("apply event: %w", inner)

	typed := As(wrapped)
	if typed == nil {
		t.Fatalf("expected typed error in chain")
	}
	if typed.Code() != CodeStateConflict {
		t.Fatalf("unexpected code %s", typed.Code())
	}
}

func TestIsCode(t *testing.T) {
	err := fmt.Errorf("outer: %w", New(CodeConflict, "amount mismatch"))
	if !IsCode(err, CodeConflict) {
		t.Fatalf("expected CodeConflict")
	}
	if IsCode(err, CodeNotFound) {
		t.Fatalf("did not expect CodeNotFound")
	}
	if IsCode(nil, CodeConflict) {
		t.Fatalf("nil error must not match")
	}
}

func TestMetadataForUnknownCodeFallsBackToInternal(t *testing.T) {
	meta := MetadataFor(Code("NOPE"))
	if meta.HTTPStatus != http.StatusInternalServerError {
		t.Fatalf("expected internal fallback, got %d", meta.HTTPStatus)
	}
}

func TestMetadataRetryability(t *testing.T) {
	if MetadataFor(CodeValidation).Retryable {
		t.Fatalf("validation errors must not be retryable")
	}
	if !MetadataFor(CodeDependency).Retryable {
		t.Fatalf("dependency errors must be retryable")
	}
	if MetadataFor(CodeStateConflict).Retryable {
		t.Fatalf("state conflicts must not be retryable")
	}
}
