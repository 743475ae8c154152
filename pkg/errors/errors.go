package errors

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound   = NewError("NOT_FOUND", "resource not found")
	ErrValidation = NewError("VALIDATION_ERROR", "validation failed")
	ErrInternal   = NewError("INTERNAL_ERROR", "internal error")

	ErrConnectionState = NewError("CONNECTION_STATE", "operation not allowed in current connection state")

	ErrNetworkException    = NewError("NETWORK_EXCEPTION", "network exception").AsRetryable()
	ErrRequestTimeout      = NewError("REQUEST_TIMEOUT", "request timed out").AsRetryable()
	ErrNotEnoughReplicas   = NewError("NOT_ENOUGH_REPLICAS", "not enough in-sync replicas").AsRetryable()
	ErrBrokerNotAvailable  = NewError("BROKER_NOT_AVAILABLE", "broker not available").AsRetryable()
	ErrComplianceViolation = NewError("COMPLIANCE_VIOLATION", "message failed compliance validation")
	ErrIntegrity           = NewError("INTEGRITY_FAILURE", "message integrity check failed")
	ErrHandler             = NewError("HANDLER_FAILURE", "message handler failed")
)

type RetryableError interface {
	error
	IsRetryable() bool
}

type FatalError interface {
	error
	IsFatal() bool
}

type Error struct {
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	retryable *bool
}

func NewError(code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
	}
}

func (e *Error) Error() string {
	msg := e.Message

	if len(e.Details) > 0 {
		if detailMsg, ok := e.Details["message"].(string); ok && detailMsg != "" {
			msg = detailMsg
		}
	}

	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches on Code so derived errors (WithCause, WithDetail) still compare
// equal to the sentinel they were built from.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// IsRetryable reports whether the failure belongs to the transient vocabulary.
// Anything not explicitly marked retryable is fatal.
func (e *Error) IsRetryable() bool {
	if e.retryable != nil {
		return *e.retryable
	}
	if e.Cause != nil {
		var retryableErr RetryableError
		if errors.As(e.Cause, &retryableErr) {
			return retryableErr.IsRetryable()
		}
	}
	return false
}

func (e *Error) IsFatal() bool {
	return !e.IsRetryable()
}

func (e *Error) WithCause(cause error) *Error {
	err := e.clone()
	err.Cause = cause
	return err
}

func (e *Error) WithMessage(message string) *Error {
	err := e.clone()
	err.Message = message
	return err
}

func (e *Error) WithDetail(key string, value interface{}) *Error {
	err := e.clone()
	err.Details[key] = value
	return err
}

func (e *Error) AsRetryable() *Error {
	err := e.clone()
	retryable := true
	err.retryable = &retryable
	return err
}

func (e *Error) AsFatal() *Error {
	err := e.clone()
	retryable := false
	err.retryable = &retryable
	return err
}

func (e *Error) clone() *Error {
	err := *e
	err.Details = make(map[string]interface{}, len(e.Details))
	for k, v := range e.Details {
		err.Details[k] = v
	}
	return &err
}

func Wrap(err error, appErr *Error) *Error {
	if err == nil {
		return nil
	}
	return appErr.WithCause(err)
}

func CodeOf(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

func IsRetryable(err error) bool {
	var retryableErr RetryableError
	if errors.As(err, &retryableErr) {
		return retryableErr.IsRetryable()
	}
	return false
}

func IsNotFound(err error) bool {
	return CodeOf(err) == ErrNotFound.Code
}

func IsValidation(err error) bool {
	return CodeOf(err) == ErrValidation.Code
}

func IsConnectionState(err error) bool {
	return errors.Is(err, ErrConnectionState)
}

func IsCompliance(err error) bool {
	return errors.Is(err, ErrComplianceViolation)
}

func IsIntegrity(err error) bool {
	return errors.Is(err, ErrIntegrity)
}
