package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{"nil error returns empty", nil, ""},
		{"duplicate sku sentinel", fmt.Errorf("create product: %w", ErrDuplicateSKU), "PRD002"},
		{"job not found", notFound("import job", "abc"), "JOB001"},
		{"product not found", notFound("product", 7), "PRD001"},
		{"subscription not found", notFound("subscription", 3), "SUB001"},
		{"sku required", invalid("sku is required"), "PRD003"},
		{"invalid subscription", invalid("invalid subscription: url must be absolute"), "SUB002"},
		{"invalid transition", fmt.Errorf("begin: %w", ErrInvalidTransition), "JOB002"},
		{"too many uploads", ErrTooManyUploads, "UPL001"},
		{"no file", ErrNoFile, "UPL002"},
		{"file too large", fmt.Errorf("spool: %w", ErrFileTooLarge), "UPL003"},
		{"connection refused", errors.New("dial tcp 127.0.0.1:5432: connection refused"), "DB001"},
		{"case insensitive", errors.New("DEADLOCK detected"), "DB003"},
		{"unknown error returns default", errors.New("some random internal error"), "ERR000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapError(tt.err)
			if got.Code != tt.wantCode {
				t.Errorf("MapError() code = %q, want %q", got.Code, tt.wantCode)
			}
		})
	}
}

func TestNotFound_IsSentinel(t *testing.T) {
	err := notFound("product", 42)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("notFound() should wrap ErrNotFound, got %v", err)
	}
}

func TestFormatUserError(t *testing.T) {
	got := FormatUserError(ErrTooManyUploads)
	want := "System is busy processing other uploads (Code: UPL001). Please wait a moment and try again"
	if got != want {
		t.Errorf("FormatUserError() = %q, want %q", got, want)
	}

	if FormatUserError(nil) != "" {
		t.Error("FormatUserError(nil) should be empty")
	}
}

func TestIsUserFacing(t *testing.T) {
	if IsUserFacing(nil) {
		t.Error("nil should not be user facing")
	}
	if !IsUserFacing(ErrDuplicateSKU) {
		t.Error("ErrDuplicateSKU should be user facing")
	}
	if IsUserFacing(errors.New("boom")) {
		t.Error("unmatched error should not be user facing")
	}
}

func TestUserError_Unwrap(t *testing.T) {
	ue := NewUserError(fmt.Errorf("update: %w", ErrDuplicateSKU))
	if ue.Error() != "Another product already uses this SKU" {
		t.Errorf("Error() = %q", ue.Error())
	}
	if !errors.Is(ue, ErrDuplicateSKU) {
		t.Error("UserError should unwrap to the technical error")
	}
	if NewUserError(nil) != nil {
		t.Error("NewUserError(nil) should be nil")
	}
}
