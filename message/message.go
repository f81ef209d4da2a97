// Package message defines the envelope exchanged between a Requester and a Responder.
//
// A Message is either a request or a response, and both carry the channel name
// and the correlation id:
//
//	request:  {kind, channelName, id, method, args}
//	response: {kind, channelName, id, result}  or  {kind, channelName, id, error}
//
// The transfer list travels next to the message, never inside its payload.
package message

import (
	"encoding/json"
)

// Kind distinguishes requests from responses so both roles can share one endpoint.
type Kind byte

const (
	KindRequest  Kind = 0
	KindResponse Kind = 1
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindResponse:
		return "response"
	}
	return "unknown"
}

// Message carries a single request or response.
//
//   - On request:  Method and Args are set.
//   - On response: Result is set, or Error is non-nil if the handler raised a value.
type Message struct {
	Kind        Kind   `json:"kind"`
	ChannelName string `json:"channelName"`
	ID          string `json:"id"`
	Method      string `json:"method,omitempty"`
	Args        []any  `json:"args,omitempty"`
	Result      any    `json:"result,omitempty"`
	Error       any    `json:"error,omitempty"`

	// Transfer lists the handles the transport must move with this message.
	// It is a transport concern and is never serialized.
	Transfer []any `json:"-"`
}

// NewRequest builds a request envelope.
func NewRequest(channelName, id, method string, args []any) *Message {
	return &Message{
		Kind:        KindRequest,
		ChannelName: channelName,
		ID:          id,
		Method:      method,
		Args:        args,
	}
}

// NewResult builds a successful response to req.
func NewResult(req *Message, result any) *Message {
	return &Message{
		Kind:        KindResponse,
		ChannelName: req.ChannelName,
		ID:          req.ID,
		Result:      result,
	}
}

// NewError builds a failed response to req carrying the raised value as-is.
func NewError(req *Message, raised any) *Message {
	return &Message{
		Kind:        KindResponse,
		ChannelName: req.ChannelName,
		ID:          req.ID,
		Error:       raised,
	}
}

func (m *Message) IsRequest() bool  { return m.Kind == KindRequest }
func (m *Message) IsResponse() bool { return m.Kind == KindResponse }

// Failed reports whether a response carries an error.
func (m *Message) Failed() bool { return m.Error != nil }

// wireMessage has the same layout as Message without its methods, so the
// JSON helpers below can marshal it without recursing.
type wireMessage Message

// MarshalJSON encodes the message, replacing a Go error in the Error field by its
// message string: error values have no portable encoding of their own.
func (m *Message) MarshalJSON() ([]byte, error) {
	w := wireMessage(*m)
	w.Error = ErrorPayload(m.Error)
	return json.Marshal(&w)
}

// ErrorPayload returns the serializable form of a raised value.
func ErrorPayload(raised any) any {
	if err, ok := raised.(error); ok {
		if _, custom := raised.(json.Marshaler); !custom {
			return err.Error()
		}
	}
	return raised
}
