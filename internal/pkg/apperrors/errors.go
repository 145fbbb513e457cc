package apperrors

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("resource not found")

	ErrValidation = errors.New("validation failed")

	ErrBusinessRule = errors.New("business rule violation")

	ErrStateConflict = errors.New("state conflict")

	ErrConcurrentModification = errors.New("concurrent modification")

	ErrPersistenceTimeout = errors.New("persistence timeout")

	ErrDatabase = errors.New("database error")

	ErrInternalServer = errors.New("internal server error")
)

// Stable reason codes. Callers translate these into user-facing messages.
const (
	CodeAmountInvalid                = "AMOUNT_INVALID"
	CodeTermInvalid                  = "TERM_INVALID"
	CodeInvalidScheduleInput         = "INVALID_SCHEDULE_INPUT"
	CodeInvalidArgument              = "INVALID_ARGUMENT"
	CodeReasonRequired               = "REASON_REQUIRED"
	CodeAmountExceedsDebt            = "AMOUNT_EXCEEDS_DEBT"
	CodeLimitExceeded                = "LIMIT_EXCEEDED"
	CodeActiveDelinquency            = "ACTIVE_DELINQUENCY"
	CodeMemberNotActive              = "MEMBER_NOT_ACTIVE"
	CodeGuarantorIneligible          = "GUARANTOR_INELIGIBLE"
	CodeInsufficientAvailableSavings = "INSUFFICIENT_AVAILABLE_SAVINGS"
	CodeReleaseNotEligible           = "RELEASE_NOT_ELIGIBLE"
	CodeGuaranteesMissing            = "GUARANTEES_MISSING"
	CodeStateConflict                = "STATE_CONFLICT"
	CodeCreditNotActive              = "CREDIT_NOT_ACTIVE"
	CodeCreditBlocked                = "CREDIT_BLOCKED"
	CodeNotFound                     = "NOT_FOUND"
	CodeConcurrentModification       = "CONCURRENT_MODIFICATION"
	CodePersistenceTimeout           = "PERSISTENCE_TIMEOUT"
	CodeDatabase                     = "DB_ERROR"
)

type ValidationError struct {
	Field   string
	Message string
	Cause   error
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

func (e *ValidationError) Unwrap() error {
	return e.Cause
}

func NewValidationError(field, message string) error {
	return fmt.Errorf("%w: %w", ErrValidation, &ValidationError{Field: field, Message: message})
}

// AppError is the typed error returned by every engine operation. Kind is one
// of the package sentinels so callers can branch with errors.Is, Code is the
// stable reason code.
type AppError struct {
	Kind    error
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	msg := e.Message
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	if e.Code != "" {
		return fmt.Sprintf("[%s] %s", e.Code, msg)
	}
	return msg
}

func (e *AppError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

func newAppError(kind error, code, format string, args ...any) *AppError {
	return &AppError{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

func Validation(code, format string, args ...any) error {
	return newAppError(ErrValidation, code, format, args...)
}

func BusinessRule(code, format string, args ...any) error {
	return newAppError(ErrBusinessRule, code, format, args...)
}

func StateConflict(code, format string, args ...any) error {
	return newAppError(ErrStateConflict, code, format, args...)
}

func NotFound(format string, args ...any) error {
	return newAppError(ErrNotFound, CodeNotFound, format, args...)
}

func ConcurrentModification(format string, args ...any) error {
	return newAppError(ErrConcurrentModification, CodeConcurrentModification, format, args...)
}

func PersistenceTimeout(cause error, format string, args ...any) error {
	e := newAppError(ErrPersistenceTimeout, CodePersistenceTimeout, format, args...)
	e.Cause = cause
	return e
}

func WrapDatabaseError(cause error, message string) error {
	return &AppError{
		Kind:    ErrDatabase,
		Code:    CodeDatabase,
		Message: message,
		Cause:   cause,
	}
}

// CodeOf returns the reason code carried by err, or an empty string when err
// is not an AppError.
func CodeOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// IsRetryable reports whether the caller may retry the same operation.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification) || errors.Is(err, ErrPersistenceTimeout)
}
