package protocol

import (
	"encoding/json"
)

// Request is a remote-debugging command sent to the browser
type Request struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// Response answers exactly one Request with the same ID
type Response struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *ResponseError  `json:"error"`
}

// ResponseError is the error payload of a rejected Request
type ResponseError struct {
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Event is a browser-initiated notification. Events carry no ID.
type Event struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// inboundFrame is decoded first so responses and events can be told apart by shape
type inboundFrame struct {
	ID     *string         `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	Result json.RawMessage `json:"result"`
	Error  *ResponseError  `json:"error"`
}

func (f *inboundFrame) isResponse() bool {
	return f.ID != nil
}

func (f *inboundFrame) response() *Response {
	return &Response{ID: *f.ID, Result: nullToNil(f.Result), Error: f.Error}
}

func (f *inboundFrame) event() Event {
	return Event{Method: f.Method, Params: nullToNil(f.Params)}
}

// encodeParams turns caller params into the wire form. Nil params are sent as null.
func encodeParams(params interface{}) (json.RawMessage, error) {
	switch p := params.(type) {
	case nil:
		return json.RawMessage("null"), nil
	case json.RawMessage:
		if len(p) == 0 {
			return json.RawMessage("null"), nil
		}
		return p, nil
	default:
		return json.Marshal(p)
	}
}

func nullToNil(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return raw
}
