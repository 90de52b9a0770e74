package gateway

import (
	"encoding/json"

	"github.com/gobwas/ws"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/xraph/herald/stream"
)

// Codec defines the serialization contract for gateway frames. Every frame
// in either direction is a stream.Event.
type Codec interface {
	// Encode serializes an event to bytes.
	Encode(evt *stream.Event) ([]byte, error)

	// Decode deserializes bytes into an event.
	Decode(data []byte) (*stream.Event, error)

	// Name returns the codec identifier.
	Name() string

	// OpCode is the WebSocket frame type the codec's output travels in.
	OpCode() ws.OpCode
}

// CodecName constants for format negotiation.
const (
	CodecNameJSON    = "json"
	CodecNameMsgpack = "msgpack"
)

// GetCodec returns a codec by name. Unknown names get JSON.
func GetCodec(name string) Codec {
	switch name {
	case CodecNameMsgpack:
		return &MsgpackCodec{}
	default:
		return &JSONCodec{}
	}
}

// JSONCodec encodes events as JSON text frames.
type JSONCodec struct{}

func (c *JSONCodec) Encode(evt *stream.Event) ([]byte, error) {
	return json.Marshal(evt)
}

func (c *JSONCodec) Decode(data []byte) (*stream.Event, error) {
	var evt stream.Event
	if err := json.Unmarshal(data, &evt); err != nil {
		return nil, err
	}
	return &evt, nil
}

func (c *JSONCodec) Name() string { return CodecNameJSON }

func (c *JSONCodec) OpCode() ws.OpCode { return ws.OpText }

// MsgpackCodec encodes events as MessagePack binary frames. The event's
// data stays JSON-encoded inside the envelope.
type MsgpackCodec struct{}

func (c *MsgpackCodec) Encode(evt *stream.Event) ([]byte, error) {
	return msgpack.Marshal(evt)
}

func (c *MsgpackCodec) Decode(data []byte) (*stream.Event, error) {
	var evt stream.Event
	if err := msgpack.Unmarshal(data, &evt); err != nil {
		return nil, err
	}
	return &evt, nil
}

func (c *MsgpackCodec) Name() string { return CodecNameMsgpack }

func (c *MsgpackCodec) OpCode() ws.OpCode { return ws.OpBinary }
