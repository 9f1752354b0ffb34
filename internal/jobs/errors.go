package jobs

import (
	"errors"
	"fmt"
)

// ValidationError signals a payload missing required fields or an
// enqueue call with an unknown type or priority.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return e.Msg
}

func NewValidationError(format string, args ...any) *ValidationError {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// permanentError tags a failure that retrying cannot fix, e.g. a seller
// without a payout account. The fail path dead-letters such jobs
// immediately instead of burning the retry budget. Untagged errors stay
// on the retry path.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string {
	return e.err.Error()
}

func (e *permanentError) Unwrap() error {
	return e.err
}

// Permanent wraps err so the fail path skips retries.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}
