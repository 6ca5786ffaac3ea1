package channel

import (
	"strconv"
)

type Kind string

const (
	KindRequest  Kind = "request"
	KindResponse Kind = "response"
	KindEvent    Kind = "event"
)

// ResponseCode is carried by every response. Values are part of the wire
// protocol and must not change.
type ResponseCode int

const (
	CodeOK                    ResponseCode = 200
	CodeUnknownError          ResponseCode = -1
	CodeResponseHandlingError ResponseCode = 410
	CodeRequestError          ResponseCode = 500
	CodeMissingResponse       ResponseCode = 501
	CodeRequestTimeout        ResponseCode = 502
)

func (c ResponseCode) String() string {
	switch c {
	case CodeOK:
		return "ok"
	case CodeUnknownError:
		return "unknown error"
	case CodeResponseHandlingError:
		return "response handling error"
	case CodeRequestError:
		return "request error"
	case CodeMissingResponse:
		return "missing response"
	case CodeRequestTimeout:
		return "request timeout"
	}
	return "code " + strconv.Itoa(int(c))
}

// Message is implemented by the three message kinds exchanged over a
// transport. Ids are unique per sender.
type Message interface {
	Kind() Kind
	MessageID() uint64
}

type RequestMessage struct {
	ID      uint64 `json:"id"`
	Payload any    `json:"payload"`
}

func (m *RequestMessage) Kind() Kind {
	return KindRequest
}

func (m *RequestMessage) MessageID() uint64 {
	return m.ID
}

type ResponseMessage struct {
	ID        uint64       `json:"id"`
	RequestID uint64       `json:"requestId"`
	Code      ResponseCode `json:"code"`
	Payload   any          `json:"payload"`
}

func (m *ResponseMessage) Kind() Kind {
	return KindResponse
}

func (m *ResponseMessage) MessageID() uint64 {
	return m.ID
}

type EventMessage struct {
	ID      uint64 `json:"id"`
	Payload any    `json:"payload"`
}

func (m *EventMessage) Kind() Kind {
	return KindEvent
}

func (m *EventMessage) MessageID() uint64 {
	return m.ID
}
