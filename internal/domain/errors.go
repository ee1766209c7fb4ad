package domain

import "errors"

// ValidationError reports malformed or out-of-range input. Its message is
// safe to return to callers verbatim.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return e.Msg
}

var (
	ErrTitleRequired        = &ValidationError{Msg: "title required"}
	ErrTitleTooLong         = &ValidationError{Msg: "title too long"}
	ErrDescriptionTooLong   = &ValidationError{Msg: "description too long"}
	ErrInvalidDueDate       = &ValidationError{Msg: "due_date must be a valid ISO-8601 string"}
	ErrTitleNotString       = &ValidationError{Msg: "title must be a string"}
	ErrDescriptionNotString = &ValidationError{Msg: "description must be a string"}
)

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
