// Package protocol defines the envelopes exchanged between a runner and its
// callers, the action vocabulary and the payloads carried for each action.
//
// One envelope is one frame on the transport. Requests carry a caller-chosen
// echo token that the matching response repeats.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedEnvelope is returned when a frame does not decode to an envelope.
var ErrMalformedEnvelope = errors.New("malformed envelope")

// Request asks a runner to perform Action.
type Request struct {
	Echo   string          `json:"echo"`
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Response answers the request with the same Echo. Message is only set when
// Error is true and Data only when it is false.
type Response struct {
	Echo    string          `json:"echo"`
	Error   bool            `json:"error"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// NewRequest builds a request, encoding data when it is not nil.
func NewRequest(echo string, action Action, data any) (*Request, error) {
	raw, err := encodeData(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", action.Label(), err)
	}
	return &Request{Echo: echo, Action: action.String(), Data: raw}, nil
}

// Success builds a successful response carrying result.
func Success(echo string, result any) (*Response, error) {
	raw, err := encodeData(result)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return &Response{Echo: echo, Data: raw}, nil
}

// Failure builds an error response carrying err's message.
func Failure(echo string, err error) *Response {
	return &Response{Echo: echo, Error: true, Message: err.Error()}
}

// DecodeData unmarshals the response payload into v. A response without data
// leaves v untouched.
func (r *Response) DecodeData(v any) error {
	if v == nil || !hasData(r.Data) {
		return nil
	}
	return Unmarshal(r.Data, v)
}

// EncodeRequest serializes a request into one frame.
func EncodeRequest(req *Request) ([]byte, error) {
	return Marshal(req)
}

// DecodeRequest parses one frame into a request.
func DecodeRequest(frame []byte) (*Request, error) {
	var req Request
	if err := Unmarshal(frame, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	return &req, nil
}

// RecoverEcho reads the echo of a frame that DecodeRequest rejected. It
// returns "" when the frame is not a JSON object or its echo is not a string.
func RecoverEcho(frame []byte) string {
	var doc map[string]any
	if err := Unmarshal(frame, &doc); err != nil {
		return ""
	}
	echo, _ := doc["echo"].(string)
	return echo
}

// EncodeResponse serializes a response into one frame.
func EncodeResponse(resp *Response) ([]byte, error) {
	return Marshal(resp)
}

// DecodeResponse parses one frame into a response.
func DecodeResponse(frame []byte) (*Response, error) {
	var resp Response
	if err := Unmarshal(frame, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	return &resp, nil
}

func encodeData(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	b, err := Marshal(v)
	if err != nil {
		return nil, err
	}
	if string(b) == "null" {
		return nil, nil
	}
	return b, nil
}

func hasData(raw json.RawMessage) bool {
	return len(raw) > 0 && string(raw) != "null"
}
