// Package protocol implements the binary framing used by the bidirectional
// streaming TTS endpoint.
//
// Every frame starts with a fixed 8-byte preamble (4 header bytes followed by a
// big-endian event code), then an optional length-prefixed session section and
// a length-prefixed payload section.
package protocol

import (
	"encoding/json"
	"fmt"
)

const (
	Version     uint8 = 0b0001
	HeaderWords uint8 = 0b0001

	// FlagWithEvent is always set by this protocol: every frame carries an event code.
	FlagWithEvent uint8 = 0b0100

	preambleSize = 8
	lengthSize   = 4
)

type MessageKind uint8

const (
	KindFullClientRequest  MessageKind = 0b0001
	KindAudioOnlyRequest   MessageKind = 0b0010
	KindFullServerResponse MessageKind = 0b1001
	KindAudioOnlyResponse  MessageKind = 0b1011
	KindError              MessageKind = 0b1111
)

// HasSession reports whether frames of this kind carry a session section.
func (k MessageKind) HasSession() bool {
	switch k {
	case KindFullClientRequest, KindFullServerResponse, KindAudioOnlyResponse:
		return true
	default:
		return false
	}
}

func (k MessageKind) String() string {
	switch k {
	case KindFullClientRequest:
		return "full_client_request"
	case KindAudioOnlyRequest:
		return "audio_only_request"
	case KindFullServerResponse:
		return "full_server_response"
	case KindAudioOnlyResponse:
		return "audio_only_response"
	case KindError:
		return "error"
	default:
		return fmt.Sprintf("kind(0x%x)", uint8(k))
	}
}

type Serialization uint8

const (
	SerializationRaw  Serialization = 0b0000
	SerializationJSON Serialization = 0b0001
)

type Compression uint8

const (
	CompressionNone Compression = 0b0000
)

// Frame is one decoded or to-be-encoded protocol message.
type Frame struct {
	Version       uint8
	HeaderWords   uint8
	Kind          MessageKind
	Flags         uint8
	Serialization Serialization
	Compression   Compression
	Event         uint32
	// SessionID is only meaningful when Kind.HasSession reports true.
	SessionID string
	Payload   []byte
}

// IsAudio reports whether the payload carries raw audio bytes rather than JSON.
func (f Frame) IsAudio() bool {
	return f.Kind == KindAudioOnlyResponse || f.Serialization == SerializationRaw
}

// JSON unmarshals a control payload into v.
func (f Frame) JSON(v any) error {
	if len(f.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(f.Payload, v); err != nil {
		return &ProtocolError{Reason: fmt.Sprintf("event %d: invalid json payload: %v", f.Event, err)}
	}
	return nil
}

// PayloadText returns the payload as a string for logging and error messages.
func (f Frame) PayloadText() string {
	return string(f.Payload)
}
