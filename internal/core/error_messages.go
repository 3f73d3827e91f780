package core

// error_messages.go maps technical errors to user-facing messages with
// codes for support reference.
//
// # Error Codes Reference
//
// File errors (FILE001-FILE099), reported before any row is processed:
//
//	FILE001 - File too large
//	FILE002 - Unsupported file type
//	FILE003 - Empty file
//	FILE004 - Header row not found or required column missing
//	FILE005 - Unreadable workbook or malformed CSV
//	FILE006 - No data rows below the header
//
// Validation errors (VAL001-VAL099), reported per row and column:
//
//	VAL001 - Required value missing
//	VAL002 - Invalid number
//	VAL003 - Invalid date
//	VAL004 - Invalid email address
//	VAL005 - Value out of range
//	VAL006 - Value not in the allowed list
//	VAL007 - Invalid yes/no value
//	VAL008 - Invalid format or length
//
// Row resolution errors:
//
//	REF001  - Referenced record does not exist
//	DUP001  - Record already exists
//	CODE001 - No unique code could be allocated
//
// Database errors (DB001-DB099):
//
//	DB001 - Unique constraint hit by a concurrent write
//	DB002 - Connection refused
//	DB003 - Connection reset
//	DB004 - Operation timed out
//	DB005 - Database busy or deadlocked
//
// Import errors (IMP001-IMP099), entity errors (ENT001) and RATE001:
//
//	IMP001 - Too many imports in progress
//	IMP002 - Request cancelled
//	IMP003 - Import result not found or expired
//	ENT001 - Unsupported entity
//	RATE001 - Too many requests
//
// Anything else maps to ERR000.

import (
	"fmt"
	"strings"
)

// UserMessage contains a user-friendly error message with an actionable suggestion.
type UserMessage struct {
	Message string `json:"message"`
	Action  string `json:"action"`
	Code    string `json:"code"`
}

type errorPattern struct {
	pattern string // lower-case substring of the technical error
	msg     UserMessage
}

// errorPatterns is checked in order; the first match wins, so specific
// patterns precede general ones.
//
// To add a new error pattern:
//  1. Pick the next code in the category
//  2. Place the pattern before any broader pattern it overlaps
//  3. Add a test case in error_messages_test.go
var errorPatterns = []errorPattern{
	// File errors
	{"file too large", UserMessage{"File exceeds the maximum upload size", "Split the file into smaller chunks", "FILE001"}},
	{"unsupported file type", UserMessage{"This file type is not supported", "Upload a .xlsx, .xls or .csv file", "FILE002"}},
	{"empty file", UserMessage{"The uploaded file is empty", "Upload a file with a header row and data rows", "FILE003"}},
	{"missing required column", UserMessage{"Required columns are missing from the file", "Download the template and keep its header row", "FILE004"}},
	{"header row not found", UserMessage{"The header row could not be found", "Download the template and keep its header row", "FILE004"}},
	{"unreadable workbook", UserMessage{"The file could not be read", "Re-save the file from your spreadsheet application", "FILE005"}},
	{"invalid csv", UserMessage{"The file is not a valid CSV", "Ensure the file is comma-separated with consistent quoting", "FILE005"}},
	{"parse error on line", UserMessage{"The file could not be read past a malformed line", "Fix the quoting on the reported line", "FILE005"}},
	{"no data rows", UserMessage{"The file has no data rows", "Add at least one row below the header", "FILE006"}},

	// Row resolution
	{"does not exist", UserMessage{"Referenced record does not exist", "Import the referenced records first or correct the ID", "REF001"}},
	{"could not allocate a unique code", UserMessage{"A unique code could not be generated", "Retry the failed rows", "CODE001"}},
	{"saved concurrently", UserMessage{"Another import saved the same record at the same time", "Retry the failed rows", "DB001"}},
	{"duplicate key", UserMessage{"Another import saved the same record at the same time", "Retry the failed rows", "DB001"}},
	{"unique constraint", UserMessage{"Another import saved the same record at the same time", "Retry the failed rows", "DB001"}},
	{"already exists", UserMessage{"Record already exists", "Enable skip duplicates or update existing, or remove the row", "DUP001"}},

	// Validation
	{" is required", UserMessage{"Required value is missing", "Fill in every required column", "VAL001"}},
	{"must not be blank", UserMessage{"Required value is missing", "Fill in every required column", "VAL001"}},
	{"characters", UserMessage{"Value has an invalid length", "Check the length limits on the template's instructions sheet", "VAL008"}},
	{"must be a number", UserMessage{"Invalid number format", "Use digits with an optional decimal point", "VAL002"}},
	{"must be a finite number", UserMessage{"Invalid number format", "Use digits with an optional decimal point", "VAL002"}},
	{"whole number", UserMessage{"Invalid number format", "Use a whole number without decimals", "VAL002"}},
	{"must be a date", UserMessage{"Invalid date format", "Use YYYY-MM-DD, MM/DD/YYYY, or Jan 15, 2024", "VAL003"}},
	{"valid email", UserMessage{"Invalid email address", "Use a single address like name@example.com", "VAL004"}},
	{"must be between", UserMessage{"Value is out of range", "Check the allowed range on the template's instructions sheet", "VAL005"}},
	{"must be at least", UserMessage{"Value is out of range", "Check the allowed range on the template's instructions sheet", "VAL005"}},
	{"must be at most", UserMessage{"Value is out of range", "Check the allowed range on the template's instructions sheet", "VAL005"}},
	{"must not be negative", UserMessage{"Value is out of range", "Use zero or a positive number", "VAL005"}},
	{"must be one of", UserMessage{"Value is not in the allowed list", "Pick a value from the template's drop-down", "VAL006"}},
	{"us state", UserMessage{"Value is not in the allowed list", "Use a US state name or its 2-letter code", "VAL006"}},
	{"must be yes/no", UserMessage{"Invalid yes/no value", "Use yes/no, true/false, or 1/0", "VAL007"}},
	{"invalid format", UserMessage{"Value has an invalid format", "Check the format on the template's instructions sheet", "VAL008"}},

	// Database
	{"connection refused", UserMessage{"Unable to connect to database", "Please try again in a few moments", "DB002"}},
	{"connection reset", UserMessage{"Database connection was interrupted", "Please try again", "DB003"}},
	{"timed out", UserMessage{"Operation timed out", "Retry the failed rows or try again later", "DB004"}},
	{"deadline exceeded", UserMessage{"Operation timed out", "Retry the failed rows or try again later", "DB004"}},
	{"timeout", UserMessage{"Operation timed out", "Retry the failed rows or try again later", "DB004"}},
	{"deadlock", UserMessage{"Database was busy with conflicting operations", "Please try again", "DB005"}},
	{"database is locked", UserMessage{"Database was busy with conflicting operations", "Please try again", "DB005"}},

	// Import
	{"too many concurrent imports", UserMessage{"Too many imports in progress", "Please wait a moment and try again", "IMP001"}},
	{"context canceled", UserMessage{"Request was cancelled", "Please try again", "IMP002"}},
	{"import result not found", UserMessage{"Import result not found", "Results expire; run the import again to see details", "IMP003"}},
	{"unsupported entity", UserMessage{"Unknown entity", "Choose one of the listed entities", "ENT001"}},
	{"rate limit", UserMessage{"Too many requests", "Please wait a moment before trying again", "RATE001"}},

	// Requests
	{"invalid field name", UserMessage{"Unknown field in filter or sort", "Use the column keys listed for the entity", "REQ001"}},
	{"unsupported filter operator", UserMessage{"Unknown filter operator", "Use eq, neq, contains, starts, ends, gt, gte, lt, lte or in", "REQ002"}},
	{"invalid query parameter", UserMessage{"A query parameter has an invalid value", "Check the request parameters", "REQ003"}},
	{"no file provided", UserMessage{"No file was uploaded", "Send the spreadsheet in the \"file\" form field", "REQ004"}},
	{"result log is disabled", UserMessage{"Import results are not being kept", "Enable the result log to look up past imports", "IMP004"}},
	{"missing api key", UserMessage{"An API key is required", "Send your key in the X-API-Key header", "AUTH001"}},
	{"invalid api key", UserMessage{"The API key was not accepted", "Check the key or ask for a new one", "AUTH002"}},
}

// defaultMessage is returned when no specific pattern matches.
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
// It searches through known error patterns (case-insensitive) and returns
// the first match. If no pattern matches, a generic fallback message with
// code ERR000 is returned.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}
	return defaultMessage
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err matches a known pattern rather than
// the ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError pairs a technical error, kept for logging, with its user message.
type UserError struct {
	Technical error
	User      UserMessage
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError maps err; it returns nil for a nil err.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{
		Technical: err,
		User:      MapError(err),
	}
}
