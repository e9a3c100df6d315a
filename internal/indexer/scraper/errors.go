package scraper

import (
	"errors"
	"fmt"
)

// Error codes for categorizing scrape failures.
const (
	ErrCodeHalt         = "HALT"
	ErrCodeRow          = "ROW"
	ErrCodeUnauthorized = "UNAUTHORIZED"
	ErrCodeBackpressure = "BACKPRESSURE"
	ErrCodeParse        = "PARSE"
	ErrCodeConfig       = "CONFIG"
)

// Error is a categorized failure raised inside the search pipeline.
type Error struct {
	Code     string
	Provider string
	Message  string
	Stack    []byte
	Cause    error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	if e.Provider != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Provider, msg)
	}
	return fmt.Sprintf("[%s] %s", e.Code, msg)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches on Code so callers can compare against the sentinel values.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

var (
	// ErrHalt means there is nothing to parse for one (mode, token): empty page,
	// a "no results" page or a results table without data rows.
	ErrHalt = &Error{Code: ErrCodeHalt, Message: "nothing to parse"}
	// ErrRow means a single row was structurally unusable.
	ErrRow = &Error{Code: ErrCodeRow, Message: "row skipped"}
	// ErrUnauthorized means the provider session failed the authentication check.
	ErrUnauthorized = &Error{Code: ErrCodeUnauthorized, Message: "not authorised"}
	// ErrBackpressure means the transport asked the caller to stop issuing requests.
	ErrBackpressure = &Error{Code: ErrCodeBackpressure, Message: "transport asked to skip"}
	// ErrParse is an unanticipated failure while processing a fetched page.
	ErrParse = &Error{Code: ErrCodeParse, Message: "failed to parse"}
	// ErrConfig is an invalid adapter descriptor or provider setting.
	ErrConfig = &Error{Code: ErrCodeConfig, Message: "invalid configuration"}
)

func haltf(format string, args ...any) error {
	return &Error{Code: ErrCodeHalt, Message: fmt.Sprintf(format, args...)}
}

func rowf(format string, args ...any) error {
	return &Error{Code: ErrCodeRow, Message: fmt.Sprintf(format, args...)}
}

func configError(provider, message string, cause error) error {
	return &Error{Code: ErrCodeConfig, Provider: provider, Message: message, Cause: cause}
}

// IsHalt reports whether err is a HaltCondition.
func IsHalt(err error) bool {
	return errors.Is(err, ErrHalt)
}

// IsRowFailure reports whether err only affects a single row.
func IsRowFailure(err error) bool {
	return errors.Is(err, ErrRow)
}
