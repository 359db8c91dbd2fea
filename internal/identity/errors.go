package identity

import (
	"errors"
	"fmt"
)

const (
	CodeUserNotFound         = "auth/user-not-found"
	CodeWrongPassword        = "auth/wrong-password"
	CodeInvalidEmail         = "auth/invalid-email"
	CodeWeakPassword         = "auth/weak-password"
	CodeEmailAlreadyInUse    = "auth/email-already-in-use"
	CodeTooManyRequests      = "auth/too-many-requests"
	CodeNetworkRequestFailed = "auth/network-request-failed"
	CodeUserDisabled         = "auth/user-disabled"
	CodeOperationNotAllowed  = "auth/operation-not-allowed"
	CodeInvalidCredential    = "auth/invalid-credential"
	CodeInvalidActionCode    = "auth/invalid-action-code"
	CodeInternalError        = "auth/internal-error"
)

// Error is a provider failure carrying a stable "auth/..." code.
type Error struct {
	Code string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return e.Code
}

func (e *Error) Unwrap() error { return e.Err }

func newError(code string, err error) *Error { return &Error{Code: code, Err: err} }

// Code extracts the provider code from err, or "" when err carries none.
func Code(err error) string {
	var ie *Error
	if errors.As(err, &ie) {
		return ie.Code
	}
	return ""
}
