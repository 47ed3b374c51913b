package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Error codes
const (
	ErrCodeTransport        = "TRANSPORT_ERROR"
	ErrCodeSerialization    = "SERIALIZATION_ERROR"
	ErrCodeTimeout          = "TIMEOUT_ERROR"
	ErrCodeChannelClosed    = "CHANNEL_CLOSED"
	ErrCodeConnectionClosed = "CONNECTION_CLOSED"
	ErrCodeErrorResponse    = "ERROR_RESPONSE"
	ErrCodeUnknown          = "UNKNOWN_ERROR"
)

// Error is returned by every Connection operation.
// errors.Is matches any *Error with the same Code, so callers can compare
// against the exported sentinels below.
type Error struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
	Err     error           `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

var (
	ErrTransport        = &Error{Code: ErrCodeTransport, Message: "websocket transport failed"}
	ErrSerialization    = &Error{Code: ErrCodeSerialization, Message: "serialization failed"}
	ErrTimeout          = &Error{Code: ErrCodeTimeout, Message: "request timeout"}
	ErrChannelClosed    = &Error{Code: ErrCodeChannelClosed, Message: "channel closed"}
	ErrConnectionClosed = &Error{Code: ErrCodeConnectionClosed, Message: "connection closed"}
	ErrErrorResponse    = &Error{Code: ErrCodeErrorResponse, Message: "error response"}
	ErrUnknown          = &Error{Code: ErrCodeUnknown, Message: "unknown error"}
)

func transportError(err error) *Error {
	return &Error{Code: ErrCodeTransport, Message: "websocket transport failed", Err: err}
}

func serializationError(err error) *Error {
	return &Error{Code: ErrCodeSerialization, Message: "serialization failed", Err: err}
}

func timeoutError(err error) *Error {
	return &Error{Code: ErrCodeTimeout, Message: "request timeout", Err: err}
}

func responseError(re *ResponseError) *Error {
	return &Error{Code: ErrCodeErrorResponse, Message: re.Message, Data: re.Data}
}

// IsRemote reports whether err is an explicit rejection from the browser,
// as opposed to a local transport or timeout failure.
func IsRemote(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Code == ErrCodeErrorResponse
}
