// Package apperr defines the error taxonomy shared by the chat core and its
// transports.
package apperr

import (
	"errors"
	"fmt"
)

// AppError is a client-visible failure carrying a stable code.
type AppError struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Cause }

// Is reports whether target is an AppError with the same code, so
// errors.Is(err, apperr.NotOwner("")) style comparisons work.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	return ok && t.Code == e.Code
}

func New(code Code, message string) error {
	return &AppError{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) error {
	return &AppError{Code: code, Message: message, Cause: cause}
}

// As extracts the AppError from err, if any.
func As(err error) (*AppError, bool) {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// CodeOf returns the code of err, or CodeInternal for foreign errors.
func CodeOf(err error) Code {
	if ae, ok := As(err); ok {
		return ae.Code
	}
	return CodeInternal
}

func Unauthenticated(msg string) error { return New(CodeUnauthenticated, msg) }
func TargetNotFound(msg string) error  { return New(CodeTargetNotFound, msg) }
func PeerNotFound(msg string) error    { return New(CodePeerNotFound, msg) }
func JoinDenied(msg string) error      { return New(CodeJoinDenied, msg) }
func InvalidState(msg string) error    { return New(CodeInvalidState, msg) }
func NotOwner(msg string) error        { return New(CodeNotOwner, msg) }
func AlreadyDeleted(msg string) error  { return New(CodeAlreadyDeleted, msg) }
func NoValidIDs(msg string) error      { return New(CodeNoValidIDs, msg) }
func MessageNotFound(msg string) error { return New(CodeMessageNotFound, msg) }
func RateLimited(msg string) error     { return New(CodeRateLimited, msg) }

func MalformedFrame(msg string, cause error) error {
	return Wrap(CodeMalformedFrame, msg, cause)
}
