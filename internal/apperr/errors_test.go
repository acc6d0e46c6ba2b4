package apperr

import (
	"errors"
	"testing"
)

func TestConstructors_SetKind(t *testing.T) {
	cases := []struct {
		name string
		err  *Error
		want Kind
	}{
		{"Validation", Validation("bad input"), KindValidation},
		{"Unauthorized", Unauthorized("no token"), KindUnauthorized},
		{"Forbidden", Forbidden("nope"), KindForbidden},
		{"NotFound", NotFound("missing"), KindNotFound},
		{"Conflict", Conflict("clash"), KindConflict},
		{"Internal", Internal("boom", nil), KindInternal},
	}
	for _, tc := range cases {
		if tc.err.Kind != tc.want {
			t.Fatalf("%s: expected kind %v, got %v", tc.name, tc.want, tc.err.Kind)
		}
	}
}

func TestError_MessageIncludesCauseWhenPresent(t *testing.T) {
	cause := errors.New("underlying failure")
	err := Internal("load dialog", cause)
	want := "load dialog: underlying failure"
	if err.Error() != want {
		t.Fatalf("expected %q, got %q", want, err.Error())
	}
}

func TestError_MessageOmitsCauseWhenNil(t *testing.T) {
	err := Validation("bad input")
	if err.Error() != "bad input" {
		t.Fatalf("expected bare message, got %q", err.Error())
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("underlying failure")
	err := Internal("load dialog", cause)
	if !errors.Is(err, cause) {
		t.Fatalf("expected errors.Is to find the wrapped cause")
	}
}

func TestWrap_SetsKindAndCause(t *testing.T) {
	cause := errors.New("db down")
	err := Wrap(KindConflict, "already exists", cause)
	if err.Kind != KindConflict {
		t.Fatalf("expected KindConflict, got %v", err.Kind)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected errors.Is to find the wrapped cause")
	}
}

func TestKindOf_DefaultsToInternalForPlainError(t *testing.T) {
	if got := KindOf(errors.New("plain")); got != KindInternal {
		t.Fatalf("expected KindInternal, got %v", got)
	}
}

func TestKindOf_ExtractsWrappedKind(t *testing.T) {
	err := Forbidden("nope")
	if got := KindOf(err); got != KindForbidden {
		t.Fatalf("expected KindForbidden, got %v", got)
	}
}

func TestMessageOf_DefaultsToGenericForPlainError(t *testing.T) {
	if got := MessageOf(errors.New("plain")); got != "internal server error" {
		t.Fatalf("expected generic message, got %q", got)
	}
}

func TestMessageOf_ExtractsClientSafeMessage(t *testing.T) {
	err := NotFound("dialog not found")
	if got := MessageOf(err); got != "dialog not found" {
		t.Fatalf("expected %q, got %q", "dialog not found", got)
	}
}
