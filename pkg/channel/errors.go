package channel

import (
	"errors"
	"fmt"
)

// ChannelError is an error that crosses the wire: a message and a response
// code.
type ChannelError struct {
	Message string
	Code    ResponseCode
	cause   error
}

func NewChannelError(message string, code ResponseCode) *ChannelError {
	return &ChannelError{
		Message: message,
		Code:    code,
	}
}

func (e *ChannelError) Error() string {
	return e.Message
}

func (e *ChannelError) Unwrap() error {
	return e.cause
}

// Is matches any ChannelError with the same code and message, so errors
// decoded from the wire compare equal to the sentinels below.
func (e *ChannelError) Is(target error) bool {
	t, ok := target.(*ChannelError)
	if !ok {
		return false
	}
	return t.Code == e.Code && t.Message == e.Message
}

var (
	ErrChannelDisposed = errors.New("channel disposed")
	ErrNoResponse      = NewChannelError("missing response", CodeMissingResponse)
	ErrRequestTimeout  = NewChannelError("request timeout", CodeRequestTimeout)
	ErrResultSet       = errors.New("result already set")
)

// ResponseHandlingError is returned to a caller when the incoming response
// pipeline fails. It never crosses the wire.
type ResponseHandlingError struct {
	Cause error
}

func NewResponseHandlingError(cause error) *ResponseHandlingError {
	return &ResponseHandlingError{
		Cause: cause,
	}
}

func (e *ResponseHandlingError) Error() string {
	return fmt.Sprintf("response handling error: %v", e.Cause)
}

func (e *ResponseHandlingError) Unwrap() error {
	return e.Cause
}

func (e *ResponseHandlingError) Code() ResponseCode {
	return CodeResponseHandlingError
}

// ErrorPayload is the wire shape of an error.
type ErrorPayload struct {
	Message string       `json:"message"`
	Code    ResponseCode `json:"code"`
}

// ToChannelError normalizes any error to a ChannelError. The message of the
// outermost error is kept; the code is taken from the first ChannelError or
// coded error in the chain, defaulting to CodeRequestError.
func ToChannelError(err error) *ChannelError {
	if err == nil {
		return nil
	}
	if chErr, ok := err.(*ChannelError); ok {
		return chErr
	}
	return &ChannelError{
		Message: err.Error(),
		Code:    ErrorCode(err),
		cause:   err,
	}
}

// ErrorCode returns the response code matching err.
func ErrorCode(err error) ResponseCode {
	var chErr *ChannelError
	if errors.As(err, &chErr) {
		return chErr.Code
	}
	var coded interface{ Code() ResponseCode }
	if errors.As(err, &coded) {
		return coded.Code()
	}
	return CodeRequestError
}

func toErrorPayload(err error) ErrorPayload {
	chErr := ToChannelError(err)
	return ErrorPayload{
		Message: chErr.Message,
		Code:    chErr.Code,
	}
}

// ErrorFromPayload decodes the payload of a failed response into an error.
// Payloads decoded from a serialized transport arrive as generic maps.
func ErrorFromPayload(payload any, code ResponseCode) error {
	switch p := payload.(type) {
	case ErrorPayload:
		return NewChannelError(p.Message, p.Code)
	case *ErrorPayload:
		return NewChannelError(p.Message, p.Code)
	case *ChannelError:
		return p
	case error:
		return p
	case string:
		return NewChannelError(p, code)
	case map[string]any:
		msg, _ := p["message"].(string)
		if c, ok := toCode(p["code"]); ok {
			code = c
		}
		return NewChannelError(msg, code)
	case nil:
		return NewChannelError(code.String(), code)
	}
	return NewChannelError(fmt.Sprint(payload), code)
}

func toCode(v any) (ResponseCode, bool) {
	switch n := v.(type) {
	case ResponseCode:
		return n, true
	case int:
		return ResponseCode(n), true
	case int64:
		return ResponseCode(n), true
	case float64:
		return ResponseCode(n), true
	}
	return 0, false
}
