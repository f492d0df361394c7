package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Type constants (wire-stable).
const (
	// TypeHello starts a session handshake (client -> server).
	TypeHello = "hello"
	// TypeHelloAck acknowledges the session handshake (server -> client).
	TypeHelloAck = "hello_ack"

	// TypeMessageSend delivers an inbound user message (client -> server).
	TypeMessageSend = "message_send"
	// TypeReply carries one outbound action (server -> client).
	TypeReply = "reply"

	// TypeError is a generic error envelope (server -> client).
	TypeError = "error"
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}

	switch e.Type {
	case TypeHello,
		TypeHelloAck,
		TypeMessageSend,
		TypeReply,
		TypeError:
		return nil
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}

// ---- Payloads ----

// HelloPayload identifies the user behind the connection. Identity proofing
// is the embedding deployment's concern; the core trusts the id.
type HelloPayload struct {
	UserID int64 `json:"user_id"`
}

// HelloAckPayload acknowledges the handshake.
type HelloAckPayload struct {
	SessionID string `json:"session_id"`
}

// MessageSendPayload delivers one user message. ImageB64, when present,
// routes the message to image understanding with Text as the caption.
type MessageSendPayload struct {
	Text     string `json:"text,omitempty"`
	ImageB64 string `json:"image_b64,omitempty"`
}

// ReplyPayload carries one outbound action.
type ReplyPayload struct {
	Kind     string `json:"kind"`
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
	Caption  string `json:"caption,omitempty"`
	AudioB64 string `json:"audio_b64,omitempty"`
}

// Reply kinds.
const (
	ReplyKindText  = "text"
	ReplyKindImage = "image"
	ReplyKindAudio = "audio"
)

// ErrorPayload is a generic error report.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
