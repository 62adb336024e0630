package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNotFound indicates that a requested resource could not be found.
var ErrNotFound = errors.New("resource not found")

// ErrValidation indicates that input data failed validation checks.
var ErrValidation = errors.New("validation error")

// ErrDuplicate indicates that an attempt was made to create a resource that already exists.
var ErrDuplicate = errors.New("resource already exists")

// Code is the stable, caller-visible identifier of an error kind.
type Code string

const (
	CodeBadRequest      Code = "BAD_REQUEST"
	CodeAccountNotFound Code = "ACCOUNT_NOT_FOUND"
	CodeAccountInactive Code = "ACCOUNT_INACTIVE"
	CodePolicyRejected  Code = "POLICY_REJECTED"
	CodeUnmappedPosting Code = "UNMAPPED_POSTING"
	CodeLockTimeout     Code = "LOCK_TIMEOUT"
	CodeStoreTransient  Code = "STORE_TRANSIENT"
	CodeStoreFatal      Code = "STORE_FATAL"
	CodePostingTimeout  Code = "POSTING_TIMEOUT"
	CodeInternal        Code = "INTERNAL"
)

// AppError carries a stable code, an optional policy rule name and the underlying cause.
type AppError struct {
	Code    Code
	Rule    string
	Message string
	Err     error
}

func (e *AppError) Error() string {
	msg := string(e.Code)
	if e.Rule != "" {
		msg += "(" + e.Rule + ")"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AppError) Unwrap() error { return e.Err }

// Is matches another AppError by code, and by rule when the target names one.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	if t.Code != e.Code {
		return false
	}
	return t.Rule == "" || t.Rule == e.Rule
}

// Sentinels for errors.Is checks. Never mutate or return these directly; use NewAppError.
var (
	ErrBadRequest      = &AppError{Code: CodeBadRequest}
	ErrAccountNotFound = &AppError{Code: CodeAccountNotFound}
	ErrAccountInactive = &AppError{Code: CodeAccountInactive}
	ErrPolicyRejected  = &AppError{Code: CodePolicyRejected}
	ErrUnmappedPosting = &AppError{Code: CodeUnmappedPosting}
	ErrLockTimeout     = &AppError{Code: CodeLockTimeout}
	ErrStoreTransient  = &AppError{Code: CodeStoreTransient}
	ErrStoreFatal      = &AppError{Code: CodeStoreFatal}
	ErrPostingTimeout  = &AppError{Code: CodePostingTimeout}
	ErrInternal        = &AppError{Code: CodeInternal}
)

// NewAppError builds an AppError of the given kind.
func NewAppError(code Code, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// BadRequestf builds a BAD_REQUEST error with a formatted message.
func BadRequestf(format string, args ...any) *AppError {
	return &AppError{Code: CodeBadRequest, Message: fmt.Sprintf(format, args...), Err: ErrValidation}
}

// NewPolicyRejected builds a POLICY_REJECTED error naming the rule that fired.
func NewPolicyRejected(rule, reason string) *AppError {
	return &AppError{Code: CodePolicyRejected, Rule: rule, Message: reason}
}

// PolicyRule returns the rule carried by a POLICY_REJECTED error, if any.
func PolicyRule(rule string) *AppError {
	return &AppError{Code: CodePolicyRejected, Rule: rule}
}

// CodeOf extracts the code of the first AppError in err's chain.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternal
}

// Retryable reports whether the caller may safely resubmit the same posting.
func Retryable(err error) bool {
	switch CodeOf(err) {
	case CodeLockTimeout, CodeStoreTransient:
		return true
	default:
		return false
	}
}

// HTTPStatus maps an error kind onto a response status for the HTTP surface.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case CodeBadRequest:
		return http.StatusBadRequest
	case CodeAccountNotFound:
		return http.StatusNotFound
	case CodeAccountInactive, CodePolicyRejected:
		return http.StatusUnprocessableEntity
	case CodeUnmappedPosting:
		return http.StatusNotImplemented
	case CodeLockTimeout, CodeStoreTransient:
		return http.StatusServiceUnavailable
	case CodePostingTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
