package protocol

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"
)

const namespace = "BidirectionalTTS"

var ErrMalformed = errors.New("malformed frame")

// ProtocolError describes a structurally invalid frame.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return "protocol: " + e.Reason
}

func (e *ProtocolError) Unwrap() error {
	return ErrMalformed
}

// OffsetMode selects where the session and payload sections start once the
// preamble is parsed.
type OffsetMode int

const (
	// OffsetAfterEvent starts the sections after header-word-count*4 bytes plus
	// the 4-byte event code. This is the layout the encoders produce.
	OffsetAfterEvent OffsetMode = iota
	// OffsetHeaderOnly starts the sections after header-word-count*4 bytes and
	// does not skip the event code, so with a one-word header the session
	// length is read from the event field.
	OffsetHeaderOnly
)

func (m OffsetMode) String() string {
	switch m {
	case OffsetHeaderOnly:
		return "header_only"
	default:
		return "after_event"
	}
}

// Codec encodes and decodes frames. The zero value is not usable; build one
// with NewCodec. All methods are pure.
type Codec struct {
	Events  EventSet
	Offsets OffsetMode
}

func NewCodec(events EventSet) Codec {
	return Codec{Events: events, Offsets: OffsetAfterEvent}
}

type startSessionPayload struct {
	User      sessionUser   `json:"user"`
	Event     uint32        `json:"event"`
	Namespace string        `json:"namespace"`
	ReqParams sessionParams `json:"req_params"`
}

type sessionUser struct {
	UID string `json:"uid,omitempty"`
}

type sessionParams struct {
	Speaker     string      `json:"speaker"`
	AudioParams audioParams `json:"audio_params"`
}

type audioParams struct {
	Format      string  `json:"format"`
	SampleRate  int     `json:"sample_rate"`
	SpeedRatio  float64 `json:"speed_ratio"`
	VolumeRatio float64 `json:"volume_ratio"`
}

type taskPayload struct {
	Event     uint32     `json:"event"`
	Namespace string     `json:"namespace"`
	ReqParams taskParams `json:"req_params"`
}

type taskParams struct {
	Text string `json:"text"`
}

// SessionParams are the audio settings announced by StartSession.
type SessionParams struct {
	UID         string
	Speaker     string
	Format      string
	SampleRate  int
	SpeedRatio  float64
	VolumeRatio float64
}

func (c Codec) EncodeConnectionStart() ([]byte, error) {
	return c.EncodeJSON(KindFullClientRequest, c.Events.StartConnection, "", struct{}{})
}

func (c Codec) EncodeSessionStart(sessionID string, p SessionParams) ([]byte, error) {
	payload := startSessionPayload{
		User:      sessionUser{UID: p.UID},
		Event:     c.Events.StartSession,
		Namespace: namespace,
		ReqParams: sessionParams{
			Speaker: p.Speaker,
			AudioParams: audioParams{
				Format:      p.Format,
				SampleRate:  p.SampleRate,
				SpeedRatio:  p.SpeedRatio,
				VolumeRatio: p.VolumeRatio,
			},
		},
	}
	return c.EncodeJSON(KindFullClientRequest, c.Events.StartSession, sessionID, payload)
}

func (c Codec) EncodeTaskRequest(sessionID, text string) ([]byte, error) {
	payload := taskPayload{
		Event:     c.Events.TaskRequest,
		Namespace: namespace,
		ReqParams: taskParams{Text: text},
	}
	return c.EncodeJSON(KindFullClientRequest, c.Events.TaskRequest, sessionID, payload)
}

func (c Codec) EncodeSessionFinish(sessionID string) ([]byte, error) {
	return c.EncodeJSON(KindFullClientRequest, c.Events.FinishSession, sessionID, struct{}{})
}

func (c Codec) EncodeConnectionFinish() ([]byte, error) {
	return c.EncodeJSON(KindFullClientRequest, c.Events.FinishConnection, "", struct{}{})
}

// EncodeJSON encodes v as the JSON payload of a frame of the given kind.
func (c Codec) EncodeJSON(kind MessageKind, event uint32, sessionID string, v any) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode event %d payload: %w", event, err)
	}
	return Encode(Frame{
		Kind:          kind,
		Serialization: SerializationJSON,
		Event:         event,
		SessionID:     sessionID,
		Payload:       payload,
	})
}

// Encode writes f to wire form. Version, header word count and the event flag
// are filled in when left zero. Kinds that carry a session section always get
// one, with a zero length when SessionID is empty.
func Encode(f Frame) ([]byte, error) {
	if f.SessionID != "" && !utf8.ValidString(f.SessionID) {
		return nil, &ProtocolError{Reason: "session id is not valid utf-8"}
	}
	if f.Version == 0 {
		f.Version = Version
	}
	if f.HeaderWords == 0 {
		f.HeaderWords = HeaderWords
	}
	f.Flags |= FlagWithEvent

	headerSize := int(f.HeaderWords) * 4
	size := headerSize + 4 + lengthSize + len(f.Payload)
	withSession := f.Kind.HasSession()
	if withSession {
		size += lengthSize + len(f.SessionID)
	}

	buf := make([]byte, size)
	buf[0] = f.Version<<4 | f.HeaderWords&0x0f
	buf[1] = uint8(f.Kind)<<4 | f.Flags&0x0f
	buf[2] = uint8(f.Serialization)<<4 | uint8(f.Compression)&0x0f
	buf[3] = 0
	// header extension words, if any, stay zeroed
	pos := headerSize
	binary.BigEndian.PutUint32(buf[pos:], f.Event)
	pos += 4
	if withSession {
		binary.BigEndian.PutUint32(buf[pos:], uint32(len(f.SessionID)))
		pos += lengthSize
		pos += copy(buf[pos:], f.SessionID)
	}
	binary.BigEndian.PutUint32(buf[pos:], uint32(len(f.Payload)))
	pos += lengthSize
	copy(buf[pos:], f.Payload)
	return buf, nil
}

// Decode parses one inbound message. The returned payload aliases data.
func (c Codec) Decode(data []byte) (Frame, error) {
	if len(data) < preambleSize {
		return Frame{}, &ProtocolError{Reason: fmt.Sprintf("frame too short: %d bytes", len(data))}
	}

	f := Frame{
		Version:       data[0] >> 4,
		HeaderWords:   data[0] & 0x0f,
		Kind:          MessageKind(data[1] >> 4),
		Flags:         data[1] & 0x0f,
		Serialization: Serialization(data[2] >> 4),
		Compression:   Compression(data[2] & 0x0f),
		Event:         binary.BigEndian.Uint32(data[4:8]),
	}
	if f.HeaderWords == 0 {
		return Frame{}, &ProtocolError{Reason: "header word count is zero"}
	}

	headerSize := int(f.HeaderWords) * 4
	pos := headerSize
	if c.Offsets == OffsetAfterEvent {
		if len(data) < headerSize+4 {
			return Frame{}, &ProtocolError{Reason: "frame truncated before event code"}
		}
		// a longer header pushes the event field back
		f.Event = binary.BigEndian.Uint32(data[headerSize : headerSize+4])
		pos += 4
	}

	if f.Kind.HasSession() {
		section, next, err := readSection(data, pos, "session")
		if err != nil {
			return Frame{}, err
		}
		if !utf8.Valid(section) {
			return Frame{}, &ProtocolError{Reason: "session id is not valid utf-8"}
		}
		f.SessionID = string(section)
		pos = next
	}

	payload, _, err := readSection(data, pos, "payload")
	if err != nil {
		return Frame{}, err
	}
	f.Payload = payload
	return f, nil
}

func readSection(data []byte, pos int, name string) ([]byte, int, error) {
	if pos < 0 || len(data)-pos < lengthSize {
		return nil, 0, &ProtocolError{Reason: fmt.Sprintf("%s length missing at offset %d", name, pos)}
	}
	n := binary.BigEndian.Uint32(data[pos : pos+lengthSize])
	pos += lengthSize
	if uint64(n) > uint64(len(data)-pos) {
		return nil, 0, &ProtocolError{Reason: fmt.Sprintf("%s length %d exceeds remaining %d bytes", name, n, len(data)-pos)}
	}
	end := pos + int(n)
	return data[pos:end], end, nil
}
