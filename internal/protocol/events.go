package protocol

import "fmt"

// EventSet holds the numeric event codes agreed with the vendor. The values are
// opaque to this package; DefaultEvents returns the codes published for the
// bidirectional TTS endpoint and every field may be overridden through config.
type EventSet struct {
	StartConnection    uint32 `json:"start_connection"`
	FinishConnection   uint32 `json:"finish_connection"`
	ConnectionStarted  uint32 `json:"connection_started"`
	ConnectionFailed   uint32 `json:"connection_failed"`
	ConnectionFinished uint32 `json:"connection_finished"`
	StartSession       uint32 `json:"start_session"`
	FinishSession      uint32 `json:"finish_session"`
	SessionStarted     uint32 `json:"session_started"`
	SessionFinished    uint32 `json:"session_finished"`
	SessionFailed      uint32 `json:"session_failed"`
	TaskRequest        uint32 `json:"task_request"`
	TTSSentenceStart   uint32 `json:"tts_sentence_start"`
	TTSSentenceEnd     uint32 `json:"tts_sentence_end"`
	TTSResponse        uint32 `json:"tts_response"`
}

func DefaultEvents() EventSet {
	return EventSet{
		StartConnection:    1,
		FinishConnection:   2,
		ConnectionStarted:  50,
		ConnectionFailed:   51,
		ConnectionFinished: 52,
		StartSession:       100,
		FinishSession:      102,
		SessionStarted:     150,
		SessionFinished:    152,
		SessionFailed:      153,
		TaskRequest:        200,
		TTSSentenceStart:   350,
		TTSSentenceEnd:     351,
		TTSResponse:        352,
	}
}

// Merge returns s with every zero field replaced by the matching field of fallback.
func (s EventSet) Merge(fallback EventSet) EventSet {
	pick := func(v, d uint32) uint32 {
		if v == 0 {
			return d
		}
		return v
	}
	return EventSet{
		StartConnection:    pick(s.StartConnection, fallback.StartConnection),
		FinishConnection:   pick(s.FinishConnection, fallback.FinishConnection),
		ConnectionStarted:  pick(s.ConnectionStarted, fallback.ConnectionStarted),
		ConnectionFailed:   pick(s.ConnectionFailed, fallback.ConnectionFailed),
		ConnectionFinished: pick(s.ConnectionFinished, fallback.ConnectionFinished),
		StartSession:       pick(s.StartSession, fallback.StartSession),
		FinishSession:      pick(s.FinishSession, fallback.FinishSession),
		SessionStarted:     pick(s.SessionStarted, fallback.SessionStarted),
		SessionFinished:    pick(s.SessionFinished, fallback.SessionFinished),
		SessionFailed:      pick(s.SessionFailed, fallback.SessionFailed),
		TaskRequest:        pick(s.TaskRequest, fallback.TaskRequest),
		TTSSentenceStart:   pick(s.TTSSentenceStart, fallback.TTSSentenceStart),
		TTSSentenceEnd:     pick(s.TTSSentenceEnd, fallback.TTSSentenceEnd),
		TTSResponse:        pick(s.TTSResponse, fallback.TTSResponse),
	}
}

func (s EventSet) named() []struct {
	name string
	code uint32
} {
	return []struct {
		name string
		code uint32
	}{
		{"start_connection", s.StartConnection},
		{"finish_connection", s.FinishConnection},
		{"connection_started", s.ConnectionStarted},
		{"connection_failed", s.ConnectionFailed},
		{"connection_finished", s.ConnectionFinished},
		{"start_session", s.StartSession},
		{"finish_session", s.FinishSession},
		{"session_started", s.SessionStarted},
		{"session_finished", s.SessionFinished},
		{"session_failed", s.SessionFailed},
		{"task_request", s.TaskRequest},
		{"tts_sentence_start", s.TTSSentenceStart},
		{"tts_sentence_end", s.TTSSentenceEnd},
		{"tts_response", s.TTSResponse},
	}
}

// Validate rejects zero or duplicated codes.
func (s EventSet) Validate() error {
	seen := make(map[uint32]string)
	for _, e := range s.named() {
		if e.code == 0 {
			return fmt.Errorf("event %s must be non-zero", e.name)
		}
		if other, ok := seen[e.code]; ok {
			return fmt.Errorf("event %s duplicates %s (code %d)", e.name, other, e.code)
		}
		seen[e.code] = e.name
	}
	return nil
}

// Name returns the symbolic name of code, used in progress logs.
func (s EventSet) Name(code uint32) string {
	for _, e := range s.named() {
		if e.code == code {
			return e.name
		}
	}
	return fmt.Sprintf("event(%d)", code)
}
