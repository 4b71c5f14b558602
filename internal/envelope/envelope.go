// Package envelope defines the wire format exchanged between the bridge and
// extension instances over the websocket bus, and its JSON codec.
package envelope

import (
	"encoding/json"
	"fmt"
)

// Type enumerates the envelope kinds carried on the bus (spec.md §3).
type Type string

const (
	TypeInstanceRegister         Type = "INSTANCE_REGISTER"
	TypeInstanceRegistered       Type = "INSTANCE_REGISTERED"
	TypeInstanceUnregister       Type = "INSTANCE_UNREGISTER"
	TypeInstanceUnregistered     Type = "INSTANCE_UNREGISTERED"
	TypeCallTool                 Type = "CALL_TOOL"
	TypeCallToolResponse         Type = "CALL_TOOL_RESPONSE"
	TypeProcessData              Type = "PROCESS_DATA"
	TypeProcessDataResponse      Type = "PROCESS_DATA_RESPONSE"
	TypeListPublishedFlows       Type = "LIST_PUBLISHED_FLOWS"
	TypeListPublishedFlowsResp   Type = "LIST_PUBLISHED_FLOWS_RESPONSE"
	TypeFileOperation            Type = "FILE_OPERATION"
	TypeFileOperationResponse    Type = "FILE_OPERATION_RESPONSE"
	TypePing                     Type = "PING"
	TypePong                     Type = "PONG"
	TypeError                    Type = "ERROR"
)

var knownTypes = map[Type]bool{
	TypeInstanceRegister:       true,
	TypeInstanceRegistered:     true,
	TypeInstanceUnregister:     true,
	TypeInstanceUnregistered:   true,
	TypeCallTool:               true,
	TypeCallToolResponse:       true,
	TypeProcessData:            true,
	TypeProcessDataResponse:    true,
	TypeListPublishedFlows:     true,
	TypeListPublishedFlowsResp: true,
	TypeFileOperation:          true,
	TypeFileOperationResponse:  true,
	TypePing:                   true,
	TypePong:                   true,
	TypeError:                  true,
}

// responseTypes are envelopes carrying responseToRequestId rather than requestId.
var responseTypes = map[Type]bool{
	TypeInstanceRegistered:     true,
	TypeCallToolResponse:       true,
	TypeProcessDataResponse:    true,
	TypeListPublishedFlowsResp: true,
	TypeFileOperationResponse:  true,
}

// requestTypes are envelopes that expect a correlated reply.
var requestTypes = map[Type]bool{
	TypeCallTool:           true,
	TypeProcessData:        true,
	TypeListPublishedFlows: true,
	TypeFileOperation:      true,
}

// Envelope is the wire unit exchanged over the websocket bus (spec.md §6.1).
// Payload is kept as json.RawMessage at the codec boundary so that fields
// unknown to this version of the bridge survive a decode/re-encode
// round-trip intact; only the component that understands a given Type
// unmarshals Payload into a typed struct.
type Envelope struct {
	Type                 Type            `json:"type"`
	RequestID            string          `json:"requestId,omitempty"`
	ResponseToRequestID  string          `json:"responseToRequestId,omitempty"`
	InstanceID           string          `json:"instanceId,omitempty"`
	Payload              json.RawMessage `json:"payload,omitempty"`
	Error                string          `json:"error,omitempty"`
}

// ParseError reports that an inbound frame failed to decode or violated an
// envelope invariant. Per spec.md §4.1, the caller closes the offending
// socket on a ParseError without affecting any other connection.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("envelope: %s", e.Reason)
}

// Encode serialises an envelope to its wire JSON form.
func Encode(e *Envelope) ([]byte, error) {
	if !knownTypes[e.Type] {
		return nil, &ParseError{Reason: fmt.Sprintf("unknown envelope type %q", e.Type)}
	}
	return json.Marshal(e)
}

// Decode parses a wire frame into an Envelope, rejecting unknown types and
// envelopes that violate the requestId/responseToRequestId invariant.
func Decode(data []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, &ParseError{Reason: err.Error()}
	}
	if !knownTypes[e.Type] {
		return nil, &ParseError{Reason: fmt.Sprintf("unknown envelope type %q", e.Type)}
	}
	if e.RequestID != "" && e.ResponseToRequestID != "" {
		return nil, &ParseError{Reason: "envelope sets both requestId and responseToRequestId"}
	}
	return &e, nil
}

// IsResponse reports whether t is a type that carries responseToRequestId.
func IsResponse(t Type) bool { return responseTypes[t] }

// IsRequest reports whether t is a type that expects a correlated reply.
func IsRequest(t Type) bool { return requestTypes[t] }

// RequiresInstanceID reports whether envelopes of this type must carry a
// non-empty InstanceID to participate in a call/response pair (spec.md §9
// Open Question: reject rather than reverse-lookup by connection).
func RequiresInstanceID(t Type) bool {
	switch t {
	case TypeCallTool, TypeCallToolResponse, TypeProcessData, TypeProcessDataResponse,
		TypeListPublishedFlows, TypeListPublishedFlowsResp, TypeFileOperation, TypeFileOperationResponse:
		return true
	default:
		return false
	}
}
