package apperr

import (
	"errors"
	"fmt"
)

type Code string

const (
	CodeUnknown         Code = "UNKNOWN"
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
	CodeNotFound        Code = "NOT_FOUND"
	CodeUnauthenticated Code = "UNAUTHENTICATED"
	CodeForbidden       Code = "PERMISSION_DENIED"
	CodeInternal        Code = "INTERNAL"
)

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

// Is matches another AppError by code and message so wrapped sentinels compare equal.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code && e.Message == t.Message
}

func New(code Code, message string) error {
	return &AppError{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) error {
	return &AppError{Code: code, Message: message, Cause: cause}
}

func InvalidArg(msg string) error { return New(CodeInvalidArgument, msg) }

func NotFound(msg string) error { return New(CodeNotFound, msg) }

func Unauthorized(msg string) error { return New(CodeUnauthenticated, msg) }

func Forbidden(msg string) error { return New(CodeForbidden, msg) }

// CodeOf returns the code of the first AppError in err's chain.
func CodeOf(err error) Code {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeUnknown
}

// MessageOf returns the client-facing message of err, hiding causes.
func MessageOf(err error) string {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Message
	}
	return "internal error"
}

var (
	ErrRoomRequired         = InvalidArg("room required")
	ErrConversationNotFound = NotFound("conversation not found")
	ErrUnauthorized         = Unauthorized("unauthorized")
	ErrInvalidPayload       = InvalidArg("invalid payload")
	ErrMessageIDRequired    = InvalidArg("message id required")
	ErrEmptyMessage         = InvalidArg("message has no text or attachments")
	ErrNotParticipant       = Forbidden("not a conversation participant")
)

func ErrSendFailed(cause error) error {
	return Wrap(CodeInternal, "failed to send", cause)
}

func ErrReadFailed(cause error) error {
	return Wrap(CodeInternal, "failed to mark read", cause)
}

func ErrResolveFailed(cause error) error {
	return Wrap(CodeInternal, "failed to resolve room", cause)
}
