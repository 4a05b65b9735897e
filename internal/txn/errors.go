package txn

import (
	"errors"
	"fmt"

	"github.com/roach88/crosstx/internal/entity"
)

var (
	// ErrTransactionClosed is returned by Save once a transaction is no
	// longer pending.
	ErrTransactionClosed = errors.New("transaction is closed")

	// ErrManagerClosed is returned by Run after Close.
	ErrManagerClosed = errors.New("transaction manager is closed")
)

// ErrorCode categorizes transaction errors.
type ErrorCode string

const (
	// ErrCodeValidation indicates a record was rejected before any I/O.
	ErrCodeValidation ErrorCode = "VALIDATION"

	// ErrCodePrimaryWrite indicates the primary store rejected a write.
	// The transaction has been rolled back.
	ErrCodePrimaryWrite ErrorCode = "PRIMARY_WRITE"

	// ErrCodeSecondaryWrite indicates a secondary write failed. Never
	// returned to callers.
	ErrCodeSecondaryWrite ErrorCode = "SECONDARY_WRITE"

	// ErrCodeCompensation indicates a compensating action failed.
	ErrCodeCompensation ErrorCode = "COMPENSATION"

	// ErrCodeLogWrite indicates the transaction log append failed.
	ErrCodeLogWrite ErrorCode = "LOG_WRITE"

	// ErrCodeAborted marks a transaction rolled back because the caller's
	// function returned an error or panicked.
	ErrCodeAborted ErrorCode = "ABORTED"
)

// Error is a transaction failure with structured context.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// TxnID identifies the affected transaction.
	TxnID string

	// Kind and EntityID identify the operation, when there is one.
	Kind     entity.Kind
	EntityID string

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.TxnID != "" {
		msg += fmt.Sprintf(" (txn=%s", e.TxnID)
		if e.Kind != "" {
			msg += fmt.Sprintf(", %s/%s", e.Kind, e.EntityID)
		}
		msg += ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsValidationError returns true if err is or wraps a validation error.
func IsValidationError(err error) bool {
	return CodeOf(err) == ErrCodeValidation
}

// IsPrimaryWriteError returns true if err is or wraps a primary write error.
func IsPrimaryWriteError(err error) bool {
	return CodeOf(err) == ErrCodePrimaryWrite
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var te *Error
	if errors.As(err, &te) {
		return te.Code
	}
	return ""
}

func newOpError(code ErrorCode, msg string, txnID string, op *Operation, err error) *Error {
	return &Error{
		Code:     code,
		Message:  msg,
		TxnID:    txnID,
		Kind:     op.Kind,
		EntityID: op.EntityID,
		Err:      err,
	}
}
