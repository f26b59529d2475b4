// Package core runs the inventory refresh cycle.
//
// # Error Codes Reference
//
// This file defines user-friendly error messages with codes for support
// reference. When users encounter errors they can quote the code to support
// staff for faster diagnosis.
//
// Errors are matched first by identity (errors.Is against the package
// sentinels) and then by case-insensitive substring patterns.
//
// # Source Errors (SRC001-SRC099)
//
//	SRC001 - Source unavailable: Every retrieval strategy failed
//	         Action: Check that the sheet is shared or published
//	SRC002 - No source: No sheet id configured
//	         Action: Set SHEET_ID or SHEET_URL
//	SRC003 - Response too large: The sheet exceeded the size limit
//	         Action: Raise FETCH_MAX_BYTES or trim the sheet
//
// # Data Errors (DATA001-DATA099)
//
//	DATA001 - Not loaded: No snapshot has been committed yet
//	          Action: Wait for the first refresh to finish
//	DATA002 - Stale refresh: A newer refresh already committed
//	          Action: None, the newer data is being served
//
// # Override Errors (OVR001-OVR099)
//
//	OVR001 - Not found: No override exists for the item
//	OVR002 - Invalid override: The override failed validation
//	OVR003 - Invalid mapping: A column letter or role is not valid
//
// # Configuration Errors (CFG001-CFG099)
//
//	CFG001 - Database unavailable: The override database could not be reached
//
// # Rate Limiting (RATE001-RATE099)
//
//	RATE001 - Rate limited: Too many requests
//	RATE002 - Refresh busy: Too many refreshes in progress
//
// # Request Errors (REQ001-REQ099)
//
//	REQ001 - Request cancelled
//	REQ002 - Request timed out
//
// # Default Error (ERR000)
//
// Fallback when nothing matches. Support staff should check application
// logs for the original technical error when users report ERR000.
package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/JonMunkholm/stockfeed/internal/inventory"
	"github.com/JonMunkholm/stockfeed/internal/overrides"
	"github.com/JonMunkholm/stockfeed/internal/source"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

// errorTarget maps a sentinel error to its user message.
type errorTarget struct {
	target error
	msg    UserMessage
}

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

var (
	msgSourceUnavailable = UserMessage{
		Message: "Unable to load inventory data",
		Action:  "Check that the sheet is shared or published to the web",
		Code:    "SRC001",
	}
	msgNoSource = UserMessage{
		Message: "No inventory sheet is configured",
		Action:  "Set SHEET_ID or SHEET_URL and restart",
		Code:    "SRC002",
	}
	msgTooLarge = UserMessage{
		Message: "The inventory sheet is larger than the allowed size",
		Action:  "Raise FETCH_MAX_BYTES or remove unused rows",
		Code:    "SRC003",
	}
	msgNotLoaded = UserMessage{
		Message: "Inventory has not been loaded yet",
		Action:  "Please wait for the first refresh to finish",
		Code:    "DATA001",
	}
	msgStale = UserMessage{
		Message: "A newer refresh finished first",
		Action:  "No action needed, the newer data is shown",
		Code:    "DATA002",
	}
	msgOverrideNotFound = UserMessage{
		Message: "No override exists for this item",
		Action:  "Check the item id",
		Code:    "OVR001",
	}
	msgInvalidOverride = UserMessage{
		Message: "The override is not valid",
		Action:  "Check hidden fields and that the image URL is absolute",
		Code:    "OVR002",
	}
	msgInvalidMapping = UserMessage{
		Message: "The column mapping is not valid",
		Action:  "Use known roles and column letters such as A or AB",
		Code:    "OVR003",
	}
	msgRefreshBusy = UserMessage{
		Message: "A refresh is already running",
		Action:  "Please wait a moment and try again",
		Code:    "RATE002",
	}
	msgCancelled = UserMessage{
		Message: "Request was cancelled",
		Action:  "Please try again",
		Code:    "REQ001",
	}
	msgTimeout = UserMessage{
		Message: "Request timed out",
		Action:  "Please try again later",
		Code:    "REQ002",
	}
)

// errorTargets are checked in order with errors.Is. Wrapping order matters:
// a refresh that ran out of time wraps both ErrUnavailable and
// context.DeadlineExceeded, and the source error is the more useful one.
var errorTargets = []errorTarget{
	{ErrNoSnapshot, msgNotLoaded},
	{ErrStaleSnapshot, msgStale},
	{ErrFetchBusy, msgRefreshBusy},
	{source.ErrNoSource, msgNoSource},
	{source.ErrBodyTooLarge, msgTooLarge},
	{source.ErrUnavailable, msgSourceUnavailable},
	{overrides.ErrNotFound, msgOverrideNotFound},
	{overrides.ErrInvalidOverride, msgInvalidOverride},
	{inventory.ErrInvalidMapping, msgInvalidMapping},
	{context.Canceled, msgCancelled},
	{context.DeadlineExceeded, msgTimeout},
}

// errorPatterns catch errors that arrive as text, such as driver errors.
// The first matching pattern wins.
var errorPatterns = []errorPattern{
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to connect to the override database",
			Action:  "Please try again in a few moments",
			Code:    "CFG001",
		},
	},
	{
		pattern: "rate limit",
		msg: UserMessage{
			Message: "Too many requests",
			Action:  "Please wait a moment before trying again",
			Code:    "RATE001",
		},
	},
	{pattern: "context canceled", msg: msgCancelled},
	{pattern: "timeout", msg: msgTimeout},
}

// defaultMessage is returned when nothing matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
//
// Example:
//
//	_, err := svc.Refresh(ctx, TriggerManual)
//	msg := MapError(err)
//	// msg.Code == "SRC001" when every strategy failed
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	for _, et := range errorTargets {
		if errors.Is(err, et.target) {
			return et.msg
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

// UserError pairs a technical error with its user-friendly message.
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
