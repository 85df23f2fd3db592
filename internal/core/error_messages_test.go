package core

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantCode    string
		wantMessage string
	}{
		{
			name:        "nil error returns empty",
			err:         nil,
			wantCode:    "",
			wantMessage: "",
		},
		{
			name:        "duplicate sku from postgres",
			err:         errors.New(`insert product 849: ERROR: duplicate key value violates unique constraint "products_sku_key"`),
			wantCode:    "DB001",
			wantMessage: "A product with this SKU already exists",
		},
		{
			name:        "connection refused",
			err:         errors.New("dial tcp 127.0.0.1:5432: connection refused"),
			wantCode:    "DB003",
			wantMessage: "Unable to connect to database",
		},
		{
			name:        "wrapped archive sentinel",
			err:         fmt.Errorf("stage: %w", fmt.Errorf("%w: zip: not a valid zip file", ErrInvalidArchive)),
			wantCode:    "ARC001",
			wantMessage: "The image archive is not a valid zip file",
		},
		{
			name:        "name collision",
			err:         fmt.Errorf("%w: a/x.webp and b/x.webp both flatten to x.webp", ErrNameCollision),
			wantCode:    "ARC002",
			wantMessage: "Two images in the archive have the same file name",
		},
		{
			name:        "asset upload beats pattern text",
			err:         fmt.Errorf("%w: upload a.webp: connection refused", ErrAssetUpload),
			wantCode:    "UPL001",
			wantMessage: "Image upload failed and no products were saved",
		},
		{
			name:        "not ready",
			err:         fmt.Errorf("%w: 2 missing image(s)", ErrNotReady),
			wantCode:    "IMP002",
			wantMessage: "This import cannot be committed yet",
		},
		{
			name:        "session not found",
			err:         fmt.Errorf("%w: abc", ErrSessionNotFound),
			wantCode:    "IMP001",
			wantMessage: "Import not found",
		},
		{
			name:        "too many imports",
			err:         ErrTooManyImports,
			wantCode:    "RATE001",
			wantMessage: "Too many imports are running",
		},
		{
			name:        "deadline exceeded",
			err:         fmt.Errorf("lookup existing skus: %w", context.DeadlineExceeded),
			wantCode:    "IMP004",
			wantMessage: "Request timed out",
		},
		{
			name:        "invalid request body",
			err:         errors.New("invalid request: Key: 'presignRequest.Name' Error:Field validation for 'Name' failed on the 'required' tag"),
			wantCode:    "VAL006",
			wantMessage: "The request is invalid",
		},
		{
			name:        "missing column",
			err:         errors.New("missing required column: Color, Stock"),
			wantCode:    "VAL001",
			wantMessage: "Required column is missing from the sheet",
		},
		{
			name:        "empty sheet",
			err:         ErrEmptySheet,
			wantCode:    "FILE005",
			wantMessage: "The uploaded file is empty",
		},
		{
			name:        "invalid spreadsheet",
			err:         errors.New("invalid spreadsheet: zip: not a valid zip file"),
			wantCode:    "FILE003",
			wantMessage: "File is not a valid spreadsheet",
		},
		{
			name:        "rate limit",
			err:         errors.New("rate limit exceeded"),
			wantCode:    "RATE002",
			wantMessage: "Too many requests",
		},
		{
			name:        "unknown error returns default",
			err:         errors.New("some random internal error"),
			wantCode:    "ERR000",
			wantMessage: "An unexpected error occurred",
		},
		{
			name:        "case insensitive matching",
			err:         errors.New("DUPLICATE KEY value violates"),
			wantCode:    "DB001",
			wantMessage: "A product with this SKU already exists",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapError(tt.err)
			if got.Code != tt.wantCode {
				t.Errorf("MapError() code = %q, want %q", got.Code, tt.wantCode)
			}
			if got.Message != tt.wantMessage {
				t.Errorf("MapError() message = %q, want %q", got.Message, tt.wantMessage)
			}
		})
	}
}

func TestFormatUserError(t *testing.T) {
	result := FormatUserError(ErrTooManyImports)

	expected := "Too many imports are running (Code: RATE001). Please wait a moment and try again"
	if result != expected {
		t.Errorf("FormatUserError() = %q, want %q", result, expected)
	}
	if FormatUserError(nil) != "" {
		t.Error("FormatUserError(nil) should be empty")
	}
}

func TestIsUserFacing(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil error is not user facing", nil, false},
		{"known error is user facing", errors.New("duplicate key"), true},
		{"sentinel is user facing", ErrNotReady, true},
		{"unknown error is not user facing", errors.New("random internal error xyz"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsUserFacing(tt.err); got != tt.want {
				t.Errorf("IsUserFacing() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewUserError(t *testing.T) {
	t.Run("nil error returns nil", func(t *testing.T) {
		if got := NewUserError(nil); got != nil {
			t.Errorf("NewUserError(nil) = %v, want nil", got)
		}
	})

	t.Run("wraps technical error with user message", func(t *testing.T) {
		techErr := fmt.Errorf("%w: upload a.webp: 503", ErrAssetUpload)
		userErr := NewUserError(techErr)

		if userErr.Error() != "Image upload failed and no products were saved" {
			t.Errorf("Error() = %q, want user message", userErr.Error())
		}
		if !errors.Is(userErr, ErrAssetUpload) {
			t.Error("Unwrap() should expose the original error")
		}
	})
}
