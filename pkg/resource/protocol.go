package resource

import (
	"encoding/json"
	"math"
)

type MessageType string

const (
	TypePromiseCreate  MessageType = "promise-create"
	TypePromiseResolve MessageType = "promise-resolve"
	TypePromiseReject  MessageType = "promise-reject"
	TypePromisePing    MessageType = "promise-ping"

	TypeObservableCreate      MessageType = "observable-create"
	TypeObservableSubscribe   MessageType = "observable-subscribe"
	TypeObservableUnsubscribe MessageType = "observable-unsubscribe"
	TypeObservableNext        MessageType = "observable-next"
	TypeObservableComplete    MessageType = "observable-complete"
	TypeObservableError       MessageType = "observable-error"
)

func (t MessageType) Valid() bool {
	return t.IsCreate() || t.IsActive() || t.IsPassive()
}

func (t MessageType) IsCreate() bool {
	return t == TypePromiseCreate || t == TypeObservableCreate
}

// IsActive reports whether the message is sent by a listener to the owner of
// a resource.
func (t MessageType) IsActive() bool {
	switch t {
	case TypeObservableSubscribe, TypeObservableUnsubscribe, TypePromisePing:
		return true
	}
	return false
}

// IsPassive reports whether the message is pushed by the owner of a resource
// to its listener.
func (t MessageType) IsPassive() bool {
	switch t {
	case TypeObservableNext, TypeObservableComplete, TypeObservableError, TypePromiseResolve, TypePromiseReject:
		return true
	}
	return false
}

// ProtocolMessage is the request payload exchanged between resource managers.
type ProtocolMessage struct {
	Type    MessageType `json:"type"`
	ID      uint64      `json:"id"`
	SubID   uint64      `json:"subId,omitempty"`
	Payload any         `json:"payload,omitempty"`
}

// ParseProtocolMessage recognizes a resource protocol message in a request
// payload. Payloads that went through a serializing transport arrive as
// generic maps with float ids.
func ParseProtocolMessage(payload any) (*ProtocolMessage, bool) {
	switch p := payload.(type) {
	case *ProtocolMessage:
		if p == nil || !p.Type.Valid() {
			return nil, false
		}
		return p, true
	case ProtocolMessage:
		if !p.Type.Valid() {
			return nil, false
		}
		return &p, true
	case map[string]any:
		return parseMap(p)
	}
	return nil, false
}

func parseMap(m map[string]any) (*ProtocolMessage, bool) {
	typ, ok := m["type"].(string)
	if !ok {
		return nil, false
	}
	msg := &ProtocolMessage{
		Type:    MessageType(typ),
		Payload: m["payload"],
	}
	if !msg.Type.Valid() {
		return nil, false
	}
	msg.ID, ok = toID(m["id"])
	if !ok {
		return nil, false
	}
	if v, present := m["subId"]; present {
		msg.SubID, ok = toID(v)
		if !ok {
			return nil, false
		}
	}
	return msg, true
}

func toID(v any) (uint64, bool) {
	switch n := v.(type) {
	case uint64:
		return n, true
	case int:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	case int64:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	case float64:
		if n < 0 || n != math.Trunc(n) {
			return 0, false
		}
		return uint64(n), true
	case json.Number:
		id, err := n.Int64()
		if err != nil || id < 0 {
			return 0, false
		}
		return uint64(id), true
	}
	return 0, false
}
