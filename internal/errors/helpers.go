package errors

import (
	"errors"
	"fmt"
)

// NewPreconditionError creates a non-retryable send precondition failure.
// These are surfaced to the caller of the send API and never reach the
// retry controller.
func NewPreconditionError(code ErrorCode, message string) *AppError {
	return New(code, message).WithUserMessage(message)
}

// NewDatabaseError creates a database error with operation context
func NewDatabaseError(operation string, err error) *AppError {
	return Wrap(err, ErrCodeDatabaseQuery, fmt.Sprintf("database %s failed", operation)).
		WithContext("operation", operation).
		WithUserMessage("Database operation failed")
}

// NewSendError classifies a provider send failure. Permanent failures carry
// the provider error code and bypass the retry backoff entirely.
func NewSendError(err error, providerCode string, permanent bool) *AppError {
	if permanent {
		return Wrap(err, ErrCodeSendPermanent, "provider rejected message").
			WithContext("provider_code", providerCode)
	}
	return WrapRetryable(err, ErrCodeSendTransient, "provider send failed").
		WithContext("provider_code", providerCode)
}

// IsPrecondition reports whether the error belongs to the precondition
// family of send failures.
func IsPrecondition(err error) bool {
	switch GetCode(err) {
	case ErrCodePrecondition, ErrCodeMissingDestination,
		ErrCodeTemplateNotApproved, ErrCodeTemplateNotFound:
		return true
	}
	return false
}

// IsPermanentSendError reports whether the provider signalled an
// unrecoverable condition for this message.
func IsPermanentSendError(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == ErrCodeSendPermanent
	}
	return false
}
