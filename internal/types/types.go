package types

import "encoding/json"

// ClientMessage is the inbound envelope; Payload is decoded per Type once the
// type is known.
type ClientMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ServerMessage is the outbound envelope; Payload is one of the pkg/types
// event structs.
type ServerMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}
