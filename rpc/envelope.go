package rpc

import (
	"encoding/json"
	"fmt"
)

type MessageType string

const (
	TypeRequest      MessageType = "request"
	TypeResponse     MessageType = "response"
	TypeNotification MessageType = "notification"
	TypeStreamData   MessageType = "stream-data"
	TypeStreamEnd    MessageType = "stream-end"
	TypeError        MessageType = "error"
	TypePing         MessageType = "ping"
	TypePong         MessageType = "pong"
)

const (
	CodeNotFound     = "not_found"
	CodeInvalidInput = "invalid_input"
	CodeInternal     = "internal"
)

// Envelope is one RPC protocol message. ID correlates requests with their
// responses, errors and stream items; notifications, pings and pongs carry
// no correlation id.
type Envelope struct {
	Type    MessageType     `json:"type"`
	ID      string          `json:"id,omitempty"`
	Path    string          `json:"path,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
	Code    string          `json:"code,omitempty"`
}

// CallError is the remote side's rejection of a call, carrying only the
// message and code it chose to expose.
type CallError struct {
	Code    string
	Message string
}

func (e *CallError) Error() string {
	return fmt.Sprintf("rpc: remote error (%s): %s", e.Code, e.Message)
}

// Frame is the top-level wire message. Every socket message carries a type
// discriminator; RPC envelopes travel wrapped as {type:"rpc", payload:…}
// while one-way game events use their own type tag directly.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// FrameTypeRPC marks a frame whose payload is an RPC envelope.
const FrameTypeRPC = "rpc"

// WrapEnvelope encodes env inside an rpc-typed wire frame.
func WrapEnvelope(env *Envelope) ([]byte, error) {
	payload, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to encode envelope: %w", err)
	}
	return json.Marshal(Frame{Type: FrameTypeRPC, Payload: payload})
}
