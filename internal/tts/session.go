package tts

import (
	"errors"
	"fmt"

	"github.com/liuscraft/streamtts/internal/protocol"
)

// State 会话状态
type State int

const (
	StateIdle State = iota
	StateAwaitingConnectionAck
	StateAwaitingSessionAck
	StateAwaitingResponse
	StateAwaitingSessionFinishAck
	StateAwaitingConnectionFinishAck
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingConnectionAck:
		return "awaiting_connection_ack"
	case StateAwaitingSessionAck:
		return "awaiting_session_ack"
	case StateAwaitingResponse:
		return "awaiting_response"
	case StateAwaitingSessionFinishAck:
		return "awaiting_session_finish_ack"
	case StateAwaitingConnectionFinishAck:
		return "awaiting_connection_finish_ack"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s State) Terminal() bool {
	return s == StateClosed || s == StateFailed
}

// Action is a side effect requested by Transition.
type Action int

const (
	ActionSendSessionStart Action = iota + 1
	ActionSendTaskRequest
	ActionAppendAudio
	ActionSendSessionFinish
	ActionSendConnectionFinish
	ActionComplete
	ActionFail
)

func (a Action) String() string {
	switch a {
	case ActionSendSessionStart:
		return "send_session_start"
	case ActionSendTaskRequest:
		return "send_task_request"
	case ActionAppendAudio:
		return "append_audio"
	case ActionSendSessionFinish:
		return "send_session_finish"
	case ActionSendConnectionFinish:
		return "send_connection_finish"
	case ActionComplete:
		return "complete"
	case ActionFail:
		return "fail"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// Transition maps the current state and one inbound frame to the next state
// and the side effects to perform. Frames that do not apply to the current
// state leave it unchanged with no actions. Terminal states absorb everything.
// An error-kind frame fails the session whatever its code.
func Transition(ev protocol.EventSet, state State, f protocol.Frame) (State, []Action) {
	if state.Terminal() || state == StateIdle {
		return state, nil
	}
	if f.Kind == protocol.KindError || f.Event == ev.SessionFailed || f.Event == ev.ConnectionFailed {
		return StateFailed, []Action{ActionFail}
	}

	switch state {
	case StateAwaitingConnectionAck:
		if f.Event == ev.ConnectionStarted {
			return StateAwaitingSessionAck, []Action{ActionSendSessionStart}
		}
	case StateAwaitingSessionAck:
		if f.Event == ev.SessionStarted {
			return StateAwaitingResponse, []Action{ActionSendTaskRequest}
		}
	case StateAwaitingResponse:
		switch f.Event {
		case ev.TTSResponse:
			return state, []Action{ActionAppendAudio}
		case ev.TTSSentenceEnd:
			return StateAwaitingSessionFinishAck, []Action{ActionSendSessionFinish}
		}
	case StateAwaitingSessionFinishAck:
		switch f.Event {
		// later sentences of the same text keep streaming until the session ends
		case ev.TTSResponse:
			return state, []Action{ActionAppendAudio}
		case ev.SessionFinished:
			return StateAwaitingConnectionFinishAck, []Action{ActionSendConnectionFinish}
		}
	case StateAwaitingConnectionFinishAck:
		if f.Event == ev.ConnectionFinished {
			return StateClosed, []Action{ActionComplete}
		}
	}
	return state, nil
}

// audioAssembly keeps chunks in arrival order.
type audioAssembly struct {
	chunks [][]byte
	total  int
}

func (a *audioAssembly) append(p []byte) {
	chunk := make([]byte, len(p))
	copy(chunk, p)
	a.chunks = append(a.chunks, chunk)
	a.total += len(chunk)
}

func (a *audioAssembly) bytes() []byte {
	out := make([]byte, 0, a.total)
	for _, c := range a.chunks {
		out = append(out, c...)
	}
	return out
}

// Session owns one utterance: its id, handshake position and audio.
// A Session is driven by a single goroutine and is not safe for concurrent use.
type Session struct {
	id    string
	uid   string
	req   Request
	codec protocol.Codec
	state State
	audio audioAssembly
	err   error
}

func NewSession(id string, req Request, codec protocol.Codec, uid string) *Session {
	return &Session{
		id:    id,
		uid:   uid,
		req:   req,
		codec: codec,
		state: StateIdle,
	}
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) State() State {
	return s.state
}

func (s *Session) Request() Request {
	return s.req
}

// AudioStats returns the number of chunks and bytes received so far.
func (s *Session) AudioStats() (chunks, size int) {
	return len(s.audio.chunks), s.audio.total
}

// Begin produces the connection-start frame and leaves Idle.
func (s *Session) Begin() ([]byte, error) {
	if s.state != StateIdle {
		return nil, fmt.Errorf("session %s already started (%s)", s.id, s.state)
	}
	frame, err := s.codec.EncodeConnectionStart()
	if err != nil {
		s.Fail(fmt.Errorf("%w: %v", ErrProtocol, err))
		return nil, s.err
	}
	s.state = StateAwaitingConnectionAck
	return frame, nil
}

// Handle applies one inbound frame and returns the frames to send, in order.
func (s *Session) Handle(f protocol.Frame) ([][]byte, error) {
	if s.state.Terminal() {
		return nil, nil
	}
	// 失败帧即使带着别的会话 ID 也按远端拒绝处理，保留厂商的错误信息
	if f.SessionID != "" && s.isSessionEvent(f.Event) && f.SessionID != s.id && !s.isFailure(f) {
		s.Fail(fmt.Errorf("%w: event %s for session %q, active session %q",
			ErrProtocol, s.codec.Events.Name(f.Event), f.SessionID, s.id))
		return nil, s.err
	}

	next, actions := Transition(s.codec.Events, s.state, f)
	s.state = next

	var out [][]byte
	for _, action := range actions {
		var (
			frame []byte
			err   error
		)
		switch action {
		case ActionSendSessionStart:
			frame, err = s.codec.EncodeSessionStart(s.id, protocol.SessionParams{
				UID:         s.uid,
				Speaker:     s.req.Speaker,
				Format:      s.req.Format,
				SampleRate:  s.req.SampleRate,
				SpeedRatio:  s.req.SpeedRatio,
				VolumeRatio: s.req.VolumeRatio,
			})
		case ActionSendTaskRequest:
			frame, err = s.codec.EncodeTaskRequest(s.id, s.req.Text)
		case ActionSendSessionFinish:
			frame, err = s.codec.EncodeSessionFinish(s.id)
		case ActionSendConnectionFinish:
			frame, err = s.codec.EncodeConnectionFinish()
		case ActionAppendAudio:
			s.audio.append(f.Payload)
		case ActionFail:
			s.err = &RemoteError{
				Event:     s.failureName(f),
				SessionID: f.SessionID,
				Payload:   f.PayloadText(),
			}
		case ActionComplete:
		}
		if err != nil {
			s.Fail(fmt.Errorf("%w: %v", ErrProtocol, err))
			return nil, s.err
		}
		if frame != nil {
			out = append(out, frame)
		}
	}
	if s.state == StateFailed {
		return nil, s.err
	}
	return out, nil
}

// Fail moves a live session to Failed. The first recorded error wins.
func (s *Session) Fail(err error) {
	if s.state.Terminal() {
		return
	}
	if err == nil {
		err = errors.New("session failed")
	}
	s.state = StateFailed
	s.err = err
}

// ConnectionClosed handles a clean close of the socket by the peer. With no
// recorded failure the session ends as if the handshake had completed.
func (s *Session) ConnectionClosed() {
	if s.state.Terminal() {
		return
	}
	s.state = StateClosed
}

// Outcome returns the result of a terminal session. An assembly without any
// bytes is reported as ErrEmptyResult rather than a zero-length result.
func (s *Session) Outcome() (Result, error) {
	switch s.state {
	case StateFailed:
		return Result{}, s.err
	case StateClosed:
		if s.audio.total == 0 {
			return Result{}, fmt.Errorf("%w: session %s finished without audio", ErrEmptyResult, s.id)
		}
		return Result{Audio: s.audio.bytes(), Format: s.req.Format}, nil
	default:
		return Result{}, fmt.Errorf("session %s not finished (%s)", s.id, s.state)
	}
}

func (s *Session) closeReason() string {
	switch s.state {
	case StateFailed:
		return errorKind(s.err)
	case StateClosed:
		if s.audio.total == 0 {
			return "empty"
		}
		return "completed"
	default:
		return s.state.String()
	}
}

func (s *Session) isSessionEvent(code uint32) bool {
	ev := s.codec.Events
	switch code {
	case ev.SessionStarted, ev.SessionFinished, ev.SessionFailed,
		ev.TTSSentenceStart, ev.TTSSentenceEnd, ev.TTSResponse:
		return true
	default:
		return false
	}
}

func (s *Session) isFailure(f protocol.Frame) bool {
	ev := s.codec.Events
	return f.Kind == protocol.KindError || f.Event == ev.SessionFailed || f.Event == ev.ConnectionFailed
}

func (s *Session) failureName(f protocol.Frame) string {
	if f.Kind == protocol.KindError {
		return fmt.Sprintf("error(%d)", f.Event)
	}
	return s.codec.Events.Name(f.Event)
}
