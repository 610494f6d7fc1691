package signaling

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
	"github.com/vmihailenco/msgpack/v5/msgpcode"
)

var (
	ErrEmptyPayload = errors.New("missing payload")
	ErrUnknownCodec = errors.New("unknown codec")
)

// Codec turns messages into websocket frames and back.
type Codec interface {
	Name() string
	// FrameType is websocket.TextMessage or websocket.BinaryMessage.
	FrameType() int
	Encode(msg *Message) ([]byte, error)
	Decode(data []byte) (*Frame, error)
}

// Frame is a decoded inbound envelope whose payload is bound lazily,
// once the event type is known.
type Frame struct {
	Type    string
	payload []byte
	bind    func([]byte, any) error
}

func (f *Frame) Bind(v any) error {
	// JSON null and msgpack nil both mean "no payload".
	if len(f.payload) == 0 || bytes.Equal(f.payload, []byte("null")) || bytes.Equal(f.payload, []byte{msgpcode.Nil}) {
		return ErrEmptyPayload
	}
	return f.bind(f.payload, v)
}

// CodecByName resolves "json" (also the empty string) or "msgpack".
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSONCodec{}, nil
	case "msgpack":
		return MsgpackCodec{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
}

type JSONCodec struct{}

func (JSONCodec) Name() string   { return "json" }
func (JSONCodec) FrameType() int { return websocket.TextMessage }

func (JSONCodec) Encode(msg *Message) ([]byte, error) {
	return json.Marshal(msg)
}

func (JSONCodec) Decode(data []byte) (*Frame, error) {
	var env struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode json frame: %w", err)
	}
	return &Frame{Type: env.Type, payload: env.Payload, bind: json.Unmarshal}, nil
}

// MsgpackCodec sends binary frames. Struct fields are keyed by their json
// tags so both codecs share one set of payload types.
type MsgpackCodec struct{}

func (MsgpackCodec) Name() string   { return "msgpack" }
func (MsgpackCodec) FrameType() int { return websocket.BinaryMessage }

func (MsgpackCodec) Encode(msg *Message) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(msg); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (MsgpackCodec) Decode(data []byte) (*Frame, error) {
	var env struct {
		Type    string             `msgpack:"type"`
		Payload msgpack.RawMessage `msgpack:"payload"`
	}
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode msgpack frame: %w", err)
	}
	return &Frame{Type: env.Type, payload: env.Payload, bind: unmarshalMsgpack}, nil
}

func unmarshalMsgpack(data []byte, v any) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	return dec.Decode(v)
}
