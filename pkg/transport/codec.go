package transport

import (
	"encoding/json"
	"fmt"

	"github.com/kbirk/peerchan/pkg/channel"
	"github.com/kbirk/peerchan/pkg/serialize"
)

// Codec converts messages to and from bytes for transports that cannot carry
// Go values directly.
type Codec interface {
	Encode(msg channel.Message) ([]byte, error)
	Decode(data []byte) (channel.Message, error)
}

const WireVersion uint8 = 1

const (
	wireKindRequest  uint8 = 1
	wireKindResponse uint8 = 2
	wireKindEvent    uint8 = 3
)

// WireCodec encodes a fixed binary envelope header followed by the payload as
// JSON. Decoded payloads are generic JSON values: objects become
// map[string]any and numbers float64.
type WireCodec struct{}

func NewWireCodec() *WireCodec {
	return &WireCodec{}
}

func (c *WireCodec) Encode(msg channel.Message) ([]byte, error) {
	var (
		kind      uint8
		requestID uint64
		code      int32
		payload   any
	)

	switch m := msg.(type) {
	case *channel.RequestMessage:
		kind = wireKindRequest
		payload = m.Payload
	case *channel.ResponseMessage:
		kind = wireKindResponse
		requestID = m.RequestID
		code = int32(m.Code)
		payload = m.Payload
	case *channel.EventMessage:
		kind = wireKindEvent
		payload = m.Payload
	default:
		return nil, fmt.Errorf("unsupported message type %T", msg)
	}

	bs, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload of %s %d: %w", msg.Kind(), msg.MessageID(), err)
	}

	size := serialize.ByteSizeUInt8(WireVersion) +
		serialize.ByteSizeUInt8(kind) +
		serialize.ByteSizeUInt64(msg.MessageID()) +
		serialize.ByteSizeBytes(bs)
	if kind == wireKindResponse {
		size += serialize.ByteSizeUInt64(requestID) + serialize.ByteSizeInt32(code)
	}

	writer := serialize.NewFixedSizeWriter(size)
	serialize.SerializeUInt8(writer, WireVersion)
	serialize.SerializeUInt8(writer, kind)
	serialize.SerializeUInt64(writer, msg.MessageID())
	if kind == wireKindResponse {
		serialize.SerializeUInt64(writer, requestID)
		serialize.SerializeInt32(writer, code)
	}
	serialize.SerializeBytes(writer, bs)

	return writer.Bytes(), nil
}

func (c *WireCodec) Decode(data []byte) (channel.Message, error) {
	reader := serialize.NewReader(data)

	var version uint8
	err := serialize.DeserializeUInt8(&version, reader)
	if err != nil {
		return nil, err
	}
	if version != WireVersion {
		return nil, fmt.Errorf("unsupported wire version %d", version)
	}

	var kind uint8
	err = serialize.DeserializeUInt8(&kind, reader)
	if err != nil {
		return nil, err
	}

	var id uint64
	err = serialize.DeserializeUInt64(&id, reader)
	if err != nil {
		return nil, err
	}

	var requestID uint64
	var code int32
	if kind == wireKindResponse {
		err = serialize.DeserializeUInt64(&requestID, reader)
		if err != nil {
			return nil, err
		}
		err = serialize.DeserializeInt32(&code, reader)
		if err != nil {
			return nil, err
		}
	}

	var bs []byte
	err = serialize.DeserializeBytes(&bs, reader)
	if err != nil {
		return nil, err
	}

	var payload any
	if len(bs) > 0 {
		if err := json.Unmarshal(bs, &payload); err != nil {
			return nil, fmt.Errorf("failed to decode payload: %w", err)
		}
	}

	switch kind {
	case wireKindRequest:
		return &channel.RequestMessage{ID: id, Payload: payload}, nil
	case wireKindResponse:
		return &channel.ResponseMessage{ID: id, RequestID: requestID, Code: channel.ResponseCode(code), Payload: payload}, nil
	case wireKindEvent:
		return &channel.EventMessage{ID: id, Payload: payload}, nil
	}
	return nil, fmt.Errorf("unexpected message kind: %d", kind)
}
