// # Error Codes Reference
//
// User-facing errors carry a code that users can quote to support.
// Codes are grouped by category:
//
// # Database Errors (DB001-DB099)
//
//	DB001 - A product with this SKU already exists
//	        Patterns: "duplicate key", "unique constraint", "violates unique"
//	DB002 - Referenced record does not exist
//	        Patterns: "foreign key"
//	DB003 - Unable to connect to database
//	        Patterns: "connection refused"
//	DB004 - Database connection was interrupted
//	        Patterns: "connection reset"
//	DB005 - Database was busy with conflicting operations
//	        Patterns: "deadlock"
//	DB006 - Operation timed out
//	        Patterns: "timeout"
//
// # Validation Errors (VAL001-VAL099)
//
//	VAL001 - Required column is missing from the sheet
//	VAL002 - Color is not in the allowed palette
//	VAL003 - Price is not a valid number
//	VAL004 - Stock is not a whole number
//	VAL005 - Image name does not follow {SKU}_{color}_{n}
//	VAL006 - Request body is invalid
//
// # File Errors (FILE001-FILE099)
//
//	FILE001 - File too large
//	FILE002 - Invalid CSV
//	FILE003 - Invalid spreadsheet
//	FILE004 - No file provided
//	FILE005 - Empty file
//
// # Archive Errors (ARC001-ARC099)
//
//	ARC001 - Image archive is not a valid zip (ErrInvalidArchive)
//	ARC002 - Two archive entries have the same file name (ErrNameCollision)
//	ARC003 - An image in the archive is too large (ErrImageTooLarge)
//
// # Import Errors (IMP001-IMP099)
//
//	IMP001 - Import session not found or expired (ErrSessionNotFound)
//	IMP002 - Import has blocking problems (ErrNotReady)
//	IMP003 - Request cancelled
//	IMP004 - Request timed out
//
// # Upload Errors (UPL001-UPL099)
//
//	UPL001 - Image upload failed, nothing was saved (ErrAssetUpload)
//	UPL002 - Upload credential rejected
//
// # Rate Limiting (RATE001-RATE099)
//
//	RATE001 - Too many imports running (ErrTooManyImports)
//	RATE002 - Too many requests
//
// # Default Error (ERR000)
//
//	ERR000 - An unexpected error occurred. Check the logs for the
//	         original technical error.
//
// Sentinel errors are matched with errors.Is before any pattern. Patterns
// are matched case-insensitively with strings.Contains; the first match
// wins, so specific patterns come before general ones.
package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string `json:"message"` // What happened (user-friendly)
	Action  string `json:"action"`  // What to do about it
	Code    string `json:"code"`    // Error code for support reference
}

// sentinelMessages maps package sentinels to user messages.
var sentinelMessages = []struct {
	err error
	msg UserMessage
}{
	{ErrSessionNotFound, UserMessage{
		Message: "Import not found",
		Action:  "The import may have expired. Please upload the files again",
		Code:    "IMP001",
	}},
	{ErrNotReady, UserMessage{
		Message: "This import cannot be committed yet",
		Action:  "Fix the listed problems in your file and upload it again",
		Code:    "IMP002",
	}},
	{ErrInvalidArchive, UserMessage{
		Message: "The image archive is not a valid zip file",
		Action:  "Compress the images into a .zip file and try again",
		Code:    "ARC001",
	}},
	{ErrNameCollision, UserMessage{
		Message: "Two images in the archive have the same file name",
		Action:  "Rename the images so every file name is unique",
		Code:    "ARC002",
	}},
	{ErrImageTooLarge, UserMessage{
		Message: "An image in the archive is too large",
		Action:  "Compress or resize the image and try again",
		Code:    "ARC003",
	}},
	{ErrAssetUpload, UserMessage{
		Message: "Image upload failed and no products were saved",
		Action:  "Please run the import again",
		Code:    "UPL001",
	}},
	{ErrTooManyImports, UserMessage{
		Message: "Too many imports are running",
		Action:  "Please wait a moment and try again",
		Code:    "RATE001",
	}},
	{ErrEmptySheet, UserMessage{
		Message: "The uploaded file is empty",
		Action:  "Please upload a sheet with at least one product row",
		Code:    "FILE005",
	}},
	{context.Canceled, UserMessage{
		Message: "Request was cancelled",
		Action:  "Please try again",
		Code:    "IMP003",
	}},
	{context.DeadlineExceeded, UserMessage{
		Message: "Request timed out",
		Action:  "Try a smaller file or check your connection",
		Code:    "IMP004",
	}},
}

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

var duplicateSKU = UserMessage{
	Message: "A product with this SKU already exists",
	Action:  "Revalidate the import and choose to replace or skip the SKU",
	Code:    "DB001",
}

// errorPatterns maps technical error text (case-insensitive) to user messages.
var errorPatterns = []errorPattern{
	// Database
	{"duplicate key", duplicateSKU},
	{"unique constraint", duplicateSKU},
	{"violates unique", duplicateSKU},
	{"foreign key", UserMessage{"Referenced record does not exist", "The product may have been deleted. Revalidate the import", "DB002"}},
	{"connection refused", UserMessage{"Unable to connect to database", "Please try again in a few moments", "DB003"}},
	{"connection reset", UserMessage{"Database connection was interrupted", "Please try again", "DB004"}},
	{"deadlock", UserMessage{"Database was busy with conflicting operations", "Please try again", "DB005"}},

	// Validation
	{"missing required column", UserMessage{"Required column is missing from the sheet", "Download the template and keep its header row", "VAL001"}},
	{"not in the allowed palette", UserMessage{"Color is not in the allowed palette", "Use one of the colors listed in the template instructions", "VAL002"}},
	{"is not a valid number", UserMessage{"Price is not a valid number", "Use plain numbers such as 450 or 99.50", "VAL003"}},
	{"is not a whole number", UserMessage{"Stock is not a whole number", "Use whole numbers of 0 or more", "VAL004"}},
	{"image name must look like", UserMessage{"Image name does not follow the naming rule", "Name images {SKU}_{color}_{n} with the required extension", "VAL005"}},
	{"invalid request", UserMessage{"The request is invalid", "Check the request fields and try again", "VAL006"}},

	// Files
	{"file too large", UserMessage{"File exceeds the maximum size limit", "Split the import into smaller files", "FILE001"}},
	{"request body too large", UserMessage{"File exceeds the maximum size limit", "Split the import into smaller files", "FILE001"}},
	{"invalid csv", UserMessage{"File is not a valid CSV", "Ensure the file is comma-separated with consistent columns", "FILE002"}},
	{"invalid spreadsheet", UserMessage{"File is not a valid spreadsheet", "Save the file as .xlsx or .csv and try again", "FILE003"}},
	{"no file provided", UserMessage{"No file was selected", "Please select a product sheet to upload", "FILE004"}},

	// Upload
	{"upload credential", UserMessage{"The upload authorisation was rejected", "Please run the import again", "UPL002"}},

	// Rate limiting
	{"rate limit", UserMessage{"Too many requests", "Please wait a moment before trying again", "RATE002"}},

	// Timeouts last: many messages mention them in passing
	{"timeout", UserMessage{"Operation timed out", "Please try again later", "DB006"}},
}

// defaultMessage is returned when nothing matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
// Known sentinels win over text patterns; unknown errors get ERR000.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	for _, s := range sentinelMessages {
		if errors.Is(err, s.err) {
			return s.msg
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError creates a formatted error string for display:
// "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to a specific message rather than
// the ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError pairs a technical error with its user-facing message.
type UserError struct {
	Technical error       // Original technical error for logging
	User      UserMessage // User-friendly message for display
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError maps err to a UserError. Returns nil if err is nil.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{
		Technical: err,
		User:      MapError(err),
	}
}
