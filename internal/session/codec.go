package session

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
)

// Websocket subprotocols understood by the server. Clients that offer
// none get JSON.
const (
	SubprotocolJSON    = "bomber.json"
	SubprotocolMsgpack = "bomber.msgpack"
)

// Codec encodes the {event, data} envelope for one connection.
type Codec interface {
	Name() string
	// MessageType is the websocket frame type carrying the envelope.
	MessageType() int
	Encode(event string, data any) ([]byte, error)
	// Decode splits a frame into its event name and still-encoded data.
	Decode(frame []byte) (event string, data []byte, err error)
	Unmarshal(data []byte, v any) error
}

func codecFor(subprotocol string) Codec {
	if subprotocol == SubprotocolMsgpack {
		return msgpackCodec{}
	}
	return jsonCodec{}
}

type outbound struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type jsonCodec struct{}

func (jsonCodec) Name() string     { return SubprotocolJSON }
func (jsonCodec) MessageType() int { return websocket.TextMessage }

func (jsonCodec) Encode(event string, data any) ([]byte, error) {
	return json.Marshal(outbound{Event: event, Data: data})
}

func (jsonCodec) Decode(frame []byte) (string, []byte, error) {
	var in struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(frame, &in); err != nil {
		return "", nil, fmt.Errorf("decode json frame: %w", err)
	}
	return in.Event, in.Data, nil
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	return json.Unmarshal(data, v)
}

// msgpackCodec reuses the json struct tags so both encodings carry the
// same field names.
type msgpackCodec struct{}

func (msgpackCodec) Name() string     { return SubprotocolMsgpack }
func (msgpackCodec) MessageType() int { return websocket.BinaryMessage }

func (msgpackCodec) Encode(event string, data any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(outbound{Event: event, Data: data}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (msgpackCodec) Decode(frame []byte) (string, []byte, error) {
	var in struct {
		Event string             `json:"event"`
		Data  msgpack.RawMessage `json:"data"`
	}
	dec := msgpack.NewDecoder(bytes.NewReader(frame))
	dec.SetCustomStructTag("json")
	if err := dec.Decode(&in); err != nil {
		return "", nil, fmt.Errorf("decode msgpack frame: %w", err)
	}
	return in.Event, in.Data, nil
}

func (msgpackCodec) Unmarshal(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	return dec.Decode(v)
}
