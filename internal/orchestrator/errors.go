package orchestrator

import (
	"errors"
	"fmt"
)

// ErrorCode classifies orchestration failures for the caller. The codes are
// part of the API contract: insufficient funds must be distinguishable from a
// malformed request so the UI can react differently.
type ErrorCode string

const (
	CodeInvalidRequest        ErrorCode = "INVALID_REQUEST"
	CodeInsufficientCredits   ErrorCode = "INSUFFICIENT_CREDITS"
	CodeTaskCreationFailed    ErrorCode = "TASK_CREATION_FAILED"
	CodeCreditDeductionFailed ErrorCode = "CREDIT_DEDUCTION_FAILED"
)

// Error is the structured failure surfaced at the orchestration boundary.
// Nothing below it propagates as an unclassified error.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// CodeOf extracts the error code, or empty when err is not an orchestration
// error.
func CodeOf(err error) ErrorCode {
	var oerr *Error
	if errors.As(err, &oerr) {
		return oerr.Code
	}
	return ""
}
