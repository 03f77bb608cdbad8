// Package protocol defines the JSON message envelope exchanged with clients
// and the closed sets of message types and error codes.
package protocol

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"
)

// Inbound message types.
const (
	TypePlayerJoin   = "player_join"
	TypePlayerMove   = "player_move"
	TypeChat         = "chat"
	TypeResign       = "resign"
	TypeDrawOffer    = "draw_offer"
	TypeDrawResponse = "draw_response"
)

// Outbound message types.
const (
	TypeConnection   = "connection"
	TypeGameState    = "game_state"
	TypeMoveResponse = "move_response"
	TypeDrawOffered  = "draw_offered"
	TypeError        = "error"
)

// Error codes carried in the "type" field of an error message.
const (
	CodeMalformedMessage  = "malformed_message"
	CodeUnknownType       = "unknown_type"
	CodeAlreadyInGame     = "already_in_game"
	CodeAmbiguousIdentity = "ambiguous_identity"
	CodeNotYourTurn       = "not_your_turn"
	CodeGameNotActive     = "game_not_active"
	CodeIllegalMove       = "illegal_move"
	CodeNoSuchGame        = "no_such_game"
	CodeInvalidRequest    = "invalid_request"
	CodeInternalError     = "internal_error"
)

// MaxMessageSize is the largest accepted inbound payload in bytes.
const MaxMessageSize = 64 * 1024

var inboundTypes = map[string]bool{
	TypePlayerJoin:   true,
	TypePlayerMove:   true,
	TypeChat:         true,
	TypeResign:       true,
	TypeDrawOffer:    true,
	TypeDrawResponse: true,
}

// IsInbound reports whether t belongs to the closed set of client message types.
func IsInbound(t string) bool {
	return inboundTypes[t]
}

var outboundTypes = map[string]bool{
	TypeConnection:   true,
	TypeGameState:    true,
	TypeMoveResponse: true,
	TypeChat:         true,
	TypeDrawOffered:  true,
	TypeError:        true,
}

// IsOutbound reports whether t belongs to the closed set of server message types.
func IsOutbound(t string) bool {
	return outboundTypes[t]
}

// Envelope is the wire format for every message in both directions.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// CodedError is a per-message failure that is reported to the offending
// connection as an error envelope and never propagates further.
type CodedError struct {
	Code    string
	Message string
}

// Error implements the error interface.
func (e *CodedError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewCodedError creates a CodedError with the given code and formatted message.
func NewCodedError(code, format string, args ...any) *CodedError {
	return &CodedError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Decode parses an inbound payload into an envelope.
//
// Postcondition: Returns the decoded envelope, or a CodedError with code
// malformed_message if the payload is not valid UTF-8 JSON of the envelope
// shape, or unknown_type if the type is outside the closed inbound set.
func Decode(payload []byte) (Envelope, error) {
	if len(payload) > MaxMessageSize {
		return Envelope{}, NewCodedError(CodeMalformedMessage, "payload exceeds %d bytes", MaxMessageSize)
	}
	if !utf8.Valid(payload) {
		return Envelope{}, NewCodedError(CodeMalformedMessage, "payload is not valid UTF-8")
	}

	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Envelope{}, NewCodedError(CodeMalformedMessage, "parsing envelope: %v", err)
	}
	if env.Type == "" {
		return Envelope{}, NewCodedError(CodeMalformedMessage, "envelope missing type")
	}
	if !IsInbound(env.Type) {
		return Envelope{}, NewCodedError(CodeUnknownType, "unknown message type %q", env.Type)
	}
	return env, nil
}

// DecodeServer parses a server-to-client payload into an envelope. Used by
// the client library; the server side uses Decode.
func DecodeServer(payload []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Envelope{}, NewCodedError(CodeMalformedMessage, "parsing envelope: %v", err)
	}
	if !IsOutbound(env.Type) {
		return Envelope{}, NewCodedError(CodeUnknownType, "unknown message type %q", env.Type)
	}
	return env, nil
}

// DecodeData unmarshals an envelope's data into the typed payload struct.
//
// Postcondition: Returns a CodedError with code malformed_message on parse failure.
func DecodeData(env Envelope, out any) error {
	if len(env.Data) == 0 {
		return NewCodedError(CodeMalformedMessage, "%s message missing data", env.Type)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return NewCodedError(CodeMalformedMessage, "parsing %s data: %v", env.Type, err)
	}
	return nil
}

// Encode wraps a typed payload in an envelope and marshals it.
//
// Precondition: data must be JSON-marshallable.
func Encode(msgType string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshalling %s data: %w", msgType, err)
	}
	payload, err := json.Marshal(Envelope{Type: msgType, Data: raw})
	if err != nil {
		return nil, fmt.Errorf("marshalling %s envelope: %w", msgType, err)
	}
	return payload, nil
}

// EncodeError builds an error envelope from a CodedError.
func EncodeError(cerr *CodedError) ([]byte, error) {
	return Encode(TypeError, ErrorMessage{Type: cerr.Code, Message: cerr.Message})
}
