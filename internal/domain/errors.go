// internal/domain/errors.go
package domain

import (
	"errors"
	"fmt"
)

// Kind classifies why an engine operation was rejected.
type Kind string

const (
	KindValidation          Kind = "validation"
	KindInsufficientPayment Kind = "insufficient_payment"
	KindCapExceeded         Kind = "cap_exceeded"
	KindSlippageExceeded    Kind = "slippage_exceeded"
	KindAlreadyLaunched     Kind = "already_launched"
	KindNotTradable         Kind = "not_tradable"
	KindLaunchAborted       Kind = "launch_aborted"
	KindArithmeticFault     Kind = "arithmetic_fault"
	KindNotFound            Kind = "not_found"
	KindUnauthorized        Kind = "unauthorized"
	KindInsufficientReserve Kind = "insufficient_reserve"
	KindInsufficientBalance Kind = "insufficient_balance"
)

// Error is returned for every rejected operation. Field names the offending
// input or state field so the caller can correct and resubmit.
type Error struct {
	Kind  Kind
	Field string
	Msg   string
	Err   error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Field != "" {
		msg += " [" + e.Field + "]"
	}
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches sentinels by kind, so errors.Is(err, ErrCapExceeded) works for any
// cap rejection regardless of field.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Field == "" && t.Msg == "" && t.Err == nil
}

var (
	ErrValidation          = &Error{Kind: KindValidation}
	ErrInsufficientPayment = &Error{Kind: KindInsufficientPayment}
	ErrCapExceeded         = &Error{Kind: KindCapExceeded}
	ErrSlippageExceeded    = &Error{Kind: KindSlippageExceeded}
	ErrAlreadyLaunched     = &Error{Kind: KindAlreadyLaunched}
	ErrNotTradable         = &Error{Kind: KindNotTradable}
	ErrLaunchAborted       = &Error{Kind: KindLaunchAborted}
	ErrArithmeticFault     = &Error{Kind: KindArithmeticFault}
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrUnauthorized        = &Error{Kind: KindUnauthorized}
	ErrInsufficientReserve = &Error{Kind: KindInsufficientReserve}
	ErrInsufficientBalance = &Error{Kind: KindInsufficientBalance}
)

// NewError builds a rejection of the given kind.
func NewError(kind Kind, field string, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Field: field, Msg: fmt.Sprintf(format, args...)}
}

// WrapError builds a rejection that keeps the underlying cause.
func WrapError(kind Kind, field string, err error) *Error {
	return &Error{Kind: kind, Field: field, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
