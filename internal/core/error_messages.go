package core

// error_messages.go maps technical errors to user-facing messages with codes
// for support reference.
//
// # Error Codes Reference
//
// Job errors (JOB001-JOB099):
//
//	JOB001 - Import job not found
//	JOB002 - Import job cannot move to the requested state
//
// Product errors (PRD001-PRD099):
//
//	PRD001 - Product not found
//	PRD002 - Another product already uses this SKU
//	PRD003 - SKU is required
//
// Subscription errors (SUB001-SUB099):
//
//	SUB001 - Webhook subscription not found
//	SUB002 - Webhook URL or event type is invalid
//
// Validation errors (VAL001-VAL099):
//
//	VAL001 - The request is invalid
//
// Upload errors (UPL001-UPL099):
//
//	UPL001 - System busy: too many uploads in progress
//	UPL002 - No file was provided
//	UPL003 - File exceeds the size limit
//	UPL004 - Request was cancelled
//	UPL005 - Request timed out
//
// Database errors (DB001-DB099):
//
//	DB001 - Unable to connect to the database
//	DB002 - Database connection was interrupted
//	DB003 - Database was busy with conflicting operations
//
// ERR000 is the fallback when nothing matches. Support staff should check
// the application logs for the original error.
//
// Sentinel errors are matched with errors.Is before any string pattern, so a
// wrapped ErrNotFound is always reported precisely.

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned by stores when a record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateSKU is returned when a direct create or update would give
	// two products the same normalized SKU.
	ErrDuplicateSKU = errors.New("duplicate sku")

	// ErrInvalidTransition is returned when a job state change is not allowed
	// from the job's current status.
	ErrInvalidTransition = errors.New("invalid job state transition")

	// ErrInvalidInput is returned for payloads that fail minimal validation.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNoFile is returned when an upload carries no file.
	ErrNoFile = errors.New("no file provided")

	// ErrFileTooLarge is returned when an upload exceeds the size limit.
	ErrFileTooLarge = errors.New("file too large")
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

type sentinelMessage struct {
	target error
	msg    UserMessage
}

// sentinelMessages are checked in order with errors.Is. ErrNotFound is left to
// the text patterns, which carry the name of the missing resource.
var sentinelMessages = []sentinelMessage{
	{ErrDuplicateSKU, UserMessage{
		Message: "Another product already uses this SKU",
		Action:  "SKUs are compared ignoring case and surrounding spaces; choose a different one",
		Code:    "PRD002",
	}},
	{ErrInvalidTransition, UserMessage{
		Message: "Import job cannot move to the requested state",
		Action:  "Check the job status; completed and failed jobs are final",
		Code:    "JOB002",
	}},
	{ErrTooManyUploads, UserMessage{
		Message: "System is busy processing other uploads",
		Action:  "Please wait a moment and try again",
		Code:    "UPL001",
	}},
	{ErrNoFile, UserMessage{
		Message: "No file was provided",
		Action:  "Attach a CSV file in the \"file\" form field",
		Code:    "UPL002",
	}},
	{ErrFileTooLarge, UserMessage{
		Message: "File exceeds the maximum upload size",
		Action:  "Split the file into smaller chunks",
		Code:    "UPL003",
	}},
}

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns maps technical error text (case-insensitive) to user messages.
// The first matching pattern wins, so specific patterns come first.
var errorPatterns = []errorPattern{
	{"import job not found", UserMessage{
		Message: "Import job not found",
		Action:  "Verify the job id returned by the upload",
		Code:    "JOB001",
	}},
	{"product not found", UserMessage{
		Message: "Product not found",
		Action:  "Verify the product id",
		Code:    "PRD001",
	}},
	{"sku is required", UserMessage{
		Message: "SKU is required",
		Action:  "Provide a non-empty sku",
		Code:    "PRD003",
	}},
	{"subscription not found", UserMessage{
		Message: "Webhook subscription not found",
		Action:  "Verify the subscription id",
		Code:    "SUB001",
	}},
	{"invalid subscription", UserMessage{
		Message: "Webhook URL or event type is invalid",
		Action:  "Use an absolute http(s) URL and a non-empty event type",
		Code:    "SUB002",
	}},
	{"invalid input", UserMessage{
		Message: "The request is invalid",
		Action:  "Check the request fields and try again",
		Code:    "VAL001",
	}},
	{"context canceled", UserMessage{
		Message: "Request was cancelled",
		Action:  "Please try again",
		Code:    "UPL004",
	}},
	{"context deadline exceeded", UserMessage{
		Message: "Request timed out",
		Action:  "Try a smaller file or check your connection",
		Code:    "UPL005",
	}},
	{"connection refused", UserMessage{
		Message: "Unable to connect to database",
		Action:  "Please try again in a few moments",
		Code:    "DB001",
	}},
	{"connection reset", UserMessage{
		Message: "Database connection was interrupted",
		Action:  "Please try again",
		Code:    "DB002",
	}},
	{"deadlock", UserMessage{
		Message: "Database was busy with conflicting operations",
		Action:  "Please try again",
		Code:    "DB003",
	}},
}

// defaultMessage is returned when no pattern matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
// Sentinels are checked first, then the text patterns. Unmatched errors get
// the ERR000 fallback.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	for _, sm := range sentinelMessages {
		if errors.Is(err, sm.target) {
			return sm.msg
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

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
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

// notFound wraps ErrNotFound with the name of the missing resource so that
// MapError can pick the resource-specific code.
func notFound(resource string, id any) error {
	return fmt.Errorf("%s not found (id %v): %w", resource, id, ErrNotFound)
}

// invalid wraps ErrInvalidInput with a description of the problem.
func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
