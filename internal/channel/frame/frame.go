// Package frame encodes and decodes the text frames of the push channel:
// engine.io v4 packets carrying socket.io v5 packets on the default namespace.
package frame

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/valyala/fastjson"
)

// Type identifies a decoded frame.
type Type int

const (
	Open Type = iota + 1
	Close
	Ping
	Pong
	Connect
	Disconnect
	Event
	Ack
	ConnectError
)

func (t Type) String() string {
	switch t {
	case Open:
		return "open"
	case Close:
		return "close"
	case Ping:
		return "ping"
	case Pong:
		return "pong"
	case Connect:
		return "connect"
	case Disconnect:
		return "disconnect"
	case Event:
		return "event"
	case Ack:
		return "ack"
	case ConnectError:
		return "connect_error"
	default:
		return fmt.Sprintf("type(%d)", int(t))
	}
}

// engine.io packet types.
const (
	eioOpen    = '0'
	eioClose   = '1'
	eioPing    = '2'
	eioPong    = '3'
	eioMessage = '4'
)

// socket.io packet types, carried inside an engine.io message.
const (
	sioConnect      = '0'
	sioDisconnect   = '1'
	sioEvent        = '2'
	sioAck          = '3'
	sioConnectError = '4'
)

// Frame is one decoded packet. Name and Payload are set for Event frames;
// Data holds the raw JSON that follows the header for Open, Connect and
// ConnectError frames.
type Frame struct {
	Type    Type
	Name    string
	Payload []byte
	Data    []byte
}

var (
	ErrEmpty     = errors.New("empty frame")
	ErrMalformed = errors.New("malformed frame")
)

var parserPool fastjson.ParserPool

// Decode parses one text frame.
func Decode(b []byte) (Frame, error) {
	if len(b) == 0 {
		return Frame{}, ErrEmpty
	}
	switch b[0] {
	case eioOpen:
		return Frame{Type: Open, Data: clone(b[1:])}, nil
	case eioClose:
		return Frame{Type: Close}, nil
	case eioPing:
		return Frame{Type: Ping, Data: clone(b[1:])}, nil
	case eioPong:
		return Frame{Type: Pong, Data: clone(b[1:])}, nil
	case eioMessage:
		return decodeMessage(b[1:])
	default:
		return Frame{}, fmt.Errorf("%w: unknown packet type %q", ErrMalformed, b[0])
	}
}

func decodeMessage(b []byte) (Frame, error) {
	if len(b) == 0 {
		return Frame{}, fmt.Errorf("%w: empty message", ErrMalformed)
	}
	kind, rest := b[0], skipNamespace(b[1:])
	switch kind {
	case sioConnect:
		return Frame{Type: Connect, Data: clone(rest)}, nil
	case sioDisconnect:
		return Frame{Type: Disconnect}, nil
	case sioConnectError:
		return Frame{Type: ConnectError, Data: clone(rest)}, nil
	case sioEvent, sioAck:
		rest = skipAckID(rest)
		f, err := decodeEvent(rest)
		if err != nil {
			return Frame{}, err
		}
		if kind == sioAck {
			f.Type = Ack
		}
		return f, nil
	default:
		return Frame{}, fmt.Errorf("%w: unknown message type %q", ErrMalformed, kind)
	}
}

func decodeEvent(b []byte) (Frame, error) {
	p := parserPool.Get()
	defer parserPool.Put(p)

	v, err := p.ParseBytes(b)
	if err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	arr, err := v.Array()
	if err != nil || len(arr) == 0 {
		return Frame{}, fmt.Errorf("%w: event is not a non-empty array", ErrMalformed)
	}
	name, err := arr[0].StringBytes()
	if err != nil {
		return Frame{}, fmt.Errorf("%w: event name is not a string", ErrMalformed)
	}
	f := Frame{Type: Event, Name: string(name)}
	if len(arr) > 1 {
		f.Payload = arr[1].MarshalTo(nil)
	}
	return f, nil
}

// skipNamespace drops a "/nsp," prefix.
func skipNamespace(b []byte) []byte {
	if len(b) == 0 || b[0] != '/' {
		return b
	}
	for i, c := range b {
		if c == ',' {
			return b[i+1:]
		}
	}
	return b[len(b):]
}

func skipAckID(b []byte) []byte {
	i := 0
	for i < len(b) && b[i] >= '0' && b[i] <= '9' {
		i++
	}
	return b[i:]
}

func clone(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return append([]byte(nil), b...)
}

// EncodeEvent builds a socket.io event frame: 42["name",payload].
func EncodeEvent(name string, payload any) ([]byte, error) {
	data, err := json.Marshal([]any{name, payload})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", name, err)
	}
	return append([]byte{eioMessage, sioEvent}, data...), nil
}

// EncodeConnect builds a socket.io connect frame with optional JSON data.
func EncodeConnect(data any) ([]byte, error) {
	out := []byte{eioMessage, sioConnect}
	if data == nil {
		return out, nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return append(out, b...), nil
}

// EncodeConnectError builds a socket.io connect error frame.
func EncodeConnectError(message string) []byte {
	b, _ := json.Marshal(map[string]string{"message": message})
	return append([]byte{eioMessage, sioConnectError}, b...)
}

// EncodeOpen builds an engine.io open frame.
func EncodeOpen(h Handshake) ([]byte, error) {
	b, err := json.Marshal(h)
	if err != nil {
		return nil, err
	}
	return append([]byte{eioOpen}, b...), nil
}

// Handshake is the engine.io open packet body.
type Handshake struct {
	SID          string   `json:"sid"`
	Upgrades     []string `json:"upgrades"`
	PingInterval int      `json:"pingInterval"`
	PingTimeout  int      `json:"pingTimeout"`
	MaxPayload   int      `json:"maxPayload"`
}

// ParseHandshake decodes the data of an Open frame.
func ParseHandshake(data []byte) (Handshake, error) {
	var h Handshake
	if err := json.Unmarshal(data, &h); err != nil {
		return Handshake{}, fmt.Errorf("%w: open packet: %v", ErrMalformed, err)
	}
	return h, nil
}

// ErrorMessage extracts the "message" field of an error payload, or the
// payload itself when it is a bare string.
func ErrorMessage(payload []byte) string {
	if msg := fastjson.GetString(payload, "message"); msg != "" {
		return msg
	}
	var s string
	if json.Unmarshal(payload, &s) == nil {
		return s
	}
	return string(payload)
}

// Fixed frames.
var (
	PingFrame       = []byte{eioPing}
	PongFrame       = []byte{eioPong}
	CloseFrame      = []byte{eioClose}
	DisconnectFrame = []byte{eioMessage, sioDisconnect}
)
