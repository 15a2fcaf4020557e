package core

// error_messages.go maps technical errors to user-facing messages with codes
// for support reference. Codes are grouped by category:
//
//	DB001-DB007     database constraint and connectivity errors
//	FILE001-FILE005 uploaded file problems
//	MAP001-MAP006   column and label mapping problems
//	IMP001-IMP007   import lifecycle and publish problems
//	REQ001-REQ003   request cancellation, timeouts and malformed requests
//	RATE001         request throttling
//	ERR000          fallback when no pattern matches
//
// Patterns are matched case-insensitively with strings.Contains and the
// first match wins, so specific patterns come before general ones.

import (
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

var errorPatterns = []errorPattern{
	{"invalid request", UserMessage{"The request could not be understood", "Check the request body and parameters", "REQ003"}},

	// Database constraints
	{"duplicate key", UserMessage{"A record with this ID already exists", "Review the file for repeated records", "DB001"}},
	{"unique constraint", UserMessage{"This value must be unique but already exists", "Check for duplicate entries in your file", "DB002"}},
	{"violates foreign key", UserMessage{"Referenced record does not exist", "Make sure the referenced account or category exists", "DB003"}},

	// Database connectivity
	{"connection refused", UserMessage{"Unable to connect to database", "Please try again in a few moments", "DB004"}},
	{"connection reset", UserMessage{"Database connection was interrupted", "Please try again", "DB005"}},
	{"deadlock", UserMessage{"Database was busy with conflicting operations", "Please try again", "DB007"}},

	// Files
	{"file too large", UserMessage{"File exceeds the maximum size limit", "Split the export into smaller date ranges", "FILE001"}},
	{"malformed file", UserMessage{"File does not look like the selected format", "Check that you picked the right import type for this export", "FILE002"}},
	{"encoding error", UserMessage{"File uses an unsupported character set", "Re-export the file as UTF-8", "FILE003"}},
	{"no file provided", UserMessage{"No file was selected", "Please select a file to upload", "FILE004"}},
	{"empty file", UserMessage{"The uploaded file is empty", "Please upload a file with data rows", "FILE005"}},

	// Mapping
	{"no account bound", UserMessage{"This import needs a target account", "Select the account these records belong to", "MAP001"}},
	{"missing required column", UserMessage{"A required column is not mapped", "Map every required field to a column of your file", "MAP002"}},
	{"binding not found", UserMessage{"A mapped category, tag or account no longer exists", "Update the mapping to point at an existing record", "MAP003"}},
	{"invalid date", UserMessage{"Invalid date format detected", "Pick the date format your file uses", "MAP004"}},
	{"invalid number", UserMessage{"Invalid number format detected", "Pick the number format your file uses", "MAP005"}},
	{"account selection required", UserMessage{"The positions file covers several accounts", "Select which account to import", "IMP006"}},
	{"mapping error", UserMessage{"The import mapping could not be resolved", "Review the column mapping and try again", "MAP006"}},

	// Lifecycle
	{"invalid transition", UserMessage{"This step is not available for the import right now", "Complete the previous steps first", "IMP001"}},
	{"import is busy", UserMessage{"This import is already being published or reverted", "Wait for the running operation to finish, then refresh", "IMP007"}},
	{"too many concurrent publishes", UserMessage{"System is busy publishing other imports", "Please wait a moment and try again", "IMP002"}},
	{"not publishable", UserMessage{"This import cannot be published", "Documents must be classified before they can be imported", "IMP004"}},
	{"unknown import format", UserMessage{"Unknown import type", "Choose one of the supported import types", "IMP005"}},
	{"not found", UserMessage{"Import not found", "The import may have been deleted. Start a new import", "IMP003"}},

	// Requests
	{"context canceled", UserMessage{"Request was cancelled", "Please try again", "REQ001"}},
	{"context deadline exceeded", UserMessage{"Request timed out", "Try a smaller file or try again later", "REQ002"}},
	{"timeout", UserMessage{"Operation timed out", "Try a smaller file or try again later", "DB006"}},

	{"rate limit", UserMessage{"Too many requests", "Please wait a moment before trying again", "RATE001"}},
}

var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
// If no pattern matches, the ERR000 fallback is returned.
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

// FormatUserError creates "Message (Code: XXX). Action" for display.
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err matches a known pattern.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError pairs a technical error with its user-facing message.
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
