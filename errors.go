package ikesa

import "fmt"

// ErrorCode classifies the three ways a manager operation can fail, per
// the manager's error handling design: a lookup found nothing, a checkout
// was declined for a live entry, or the manager was misconfigured.
type ErrorCode string

const (
	ErrCodeNotFound         ErrorCode = "not_found"
	ErrCodeCheckoutRejected ErrorCode = "checkout_rejected"
	ErrCodeInvalidConfig    ErrorCode = "invalid_config"
)

// Error is the manager's structured error type. Op names the operation
// that failed (e.g. "Checkin", "CheckoutByID"); Inner, when set, wraps the
// collaborator error that caused it.
type Error struct {
	Op    string
	Code  ErrorCode
	Msg   string
	Inner error
}

func (e *Error) Error() string {
	if e.Inner != nil {
		return fmt.Sprintf("ikesa: %s: %s: %v", e.Op, e.Msg, e.Inner)
	}
	return fmt.Sprintf("ikesa: %s: %s", e.Op, e.Msg)
}

func (e *Error) Unwrap() error { return e.Inner }

// Is reports whether target is an *Error with the same code, so callers
// can write errors.Is(err, &ikesa.Error{Code: ikesa.ErrCodeNotFound}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code == "" {
		return false
	}
	return e.Code == t.Code
}

// NewError builds an *Error with no wrapped cause.
func NewError(op string, code ErrorCode, msg string) *Error {
	return &Error{Op: op, Code: code, Msg: msg}
}

// WrapError builds an *Error around a collaborator failure.
func WrapError(op string, code ErrorCode, msg string, inner error) *Error {
	return &Error{Op: op, Code: code, Msg: msg, Inner: inner}
}

// IsCode reports whether err is an *Error (directly, or via errors.As)
// carrying the given code.
func IsCode(err error, code ErrorCode) bool {
	var e *Error
	for err != nil {
		if ae, ok := err.(*Error); ok {
			e = ae
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return e != nil && e.Code == code
}

func errNotFound(op, msg string) *Error {
	return NewError(op, ErrCodeNotFound, msg)
}

func errCheckoutRejected(op, msg string) *Error {
	return NewError(op, ErrCodeCheckoutRejected, msg)
}
