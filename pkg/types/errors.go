package types

import (
	"errors"
	"fmt"
)

// Error code taxonomy. The set is closed: every failure a caller can observe
// carries exactly one of these codes, and callers branch on the code, never
// on message text.
const (
	ErrCodeInvalidRequest   = "INVALID_REQUEST"
	ErrCodeProjectNotFound  = "PROJECT_NOT_FOUND"
	ErrCodeIntentNotFound   = "INTENT_NOT_FOUND"
	ErrCodeGrantNotFound    = "GRANT_NOT_FOUND"
	ErrCodeAlreadyHasAccess = "ALREADY_HAS_ACCESS"
	ErrCodeContractError    = "CONTRACT_ERROR" // owner has no payable wallet configured
	ErrCodeTxFailed         = "TX_FAILED"
	ErrCodeInvalidAmount    = "INVALID_AMOUNT"
	ErrCodeVerifyFailed     = "VERIFICATION_FAILED"
	ErrCodeChainUnavailable = "CHAIN_UNAVAILABLE"
	ErrCodeLedgerError      = "LEDGER_ERROR"
)

// Error is the domain error carried across package boundaries. Recoverable
// tells the buyer whether the same payment can still succeed on retry, or
// whether the intent is burned and they must start over. ActionableSteps are
// human-facing remediation hints surfaced verbatim by the HTTP layer.
type Error struct {
	Code            string   `json:"code"`
	Message         string   `json:"message"`
	Recoverable     bool     `json:"recoverable"`
	ActionableSteps []string `json:"actionableSteps,omitempty"`
	cause           error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Is matches errors by code so callers can use errors.Is with a bare
// NewError(code, "") sentinel.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// NewError builds a domain error with the given code.
func NewError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WrapError builds a domain error around an underlying cause.
func WrapError(code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// WithSteps attaches remediation hints and returns the error for chaining.
func (e *Error) WithSteps(steps ...string) *Error {
	e.ActionableSteps = steps
	return e
}

// WithRecoverable marks whether retrying the same payment can succeed.
func (e *Error) WithRecoverable(r bool) *Error {
	e.Recoverable = r
	return e
}

// CodeOf extracts the domain code from an error chain, or "" when the error
// is not a domain error.
func CodeOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}
