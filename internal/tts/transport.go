package tts

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/liuscraft/streamtts/internal/logging"
	"github.com/liuscraft/streamtts/internal/observe"
	"github.com/liuscraft/streamtts/internal/protocol"
	"go.uber.org/zap"
)

// Conn is one duplex binary message channel to the vendor endpoint.
// Receive returns io.EOF once the peer closed the connection cleanly.
// Close must be idempotent and must unblock a pending Receive.
type Conn interface {
	Send(ctx context.Context, frame []byte) error
	Receive() ([]byte, error)
	Close() error
}

type DialRequest struct {
	Endpoint   string
	AppKey     string
	AccessKey  string
	ResourceID string
	// RequestID is generated per call.
	RequestID string
}

type Dialer interface {
	Dial(ctx context.Context, req DialRequest) (Conn, error)
}

// Transport runs one session to a terminal state. The default implementation
// opens a dedicated connection per session; a pooled implementation can take
// its place without touching Session.
type Transport interface {
	Run(ctx context.Context, sess *Session) (Result, error)
}

type connTransport struct {
	cfg     Config
	dialer  Dialer
	codec   protocol.Codec
	metrics *observe.Metrics
	newID   func() string
}

func (t *connTransport) Run(ctx context.Context, sess *Session) (Result, error) {
	requestID := t.newID()
	log := logging.With("session_id", sess.ID(), "request_id", requestID)

	// watchdog 从会话创建开始计时，建连也计算在内
	watchdog, cancel := context.WithTimeout(ctx, t.cfg.Timeout)
	defer cancel()

	req := sess.Request()
	log.Infof("connecting to %s (resource=%s speaker=%s format=%s)", t.cfg.Endpoint, t.cfg.ResourceID, req.Speaker, req.Format)
	conn, err := t.dialer.Dial(watchdog, DialRequest{
		Endpoint:   t.cfg.Endpoint,
		AppKey:     t.cfg.AppKey,
		AccessKey:  t.cfg.AccessKey,
		ResourceID: t.cfg.ResourceID,
		RequestID:  requestID,
	})
	if err != nil {
		sess.Fail(t.interruption(ctx, watchdog, fmt.Errorf("%w: dial %s: %v", ErrConnect, t.cfg.Endpoint, err)))
		log.Warnf("connect failed: %v", err)
		return sess.Outcome()
	}
	t.metrics.ConnectionOpened(ctx)

	inbound := make(chan []byte)
	readErr := make(chan error, 1)
	done := make(chan struct{})
	defer func() {
		close(done)
		closeErr := conn.Close()
		t.metrics.ConnectionClosed(ctx)
		chunks, size := sess.AudioStats()
		log.Infof("connection closed: reason=%s state=%s chunks=%d bytes=%d close_err=%v",
			sess.closeReason(), sess.State(), chunks, size, closeErr)
	}()

	go func() {
		for {
			msg, err := conn.Receive()
			if err != nil {
				select {
				case readErr <- err:
				case <-done:
				}
				return
			}
			select {
			case inbound <- msg:
			case <-done:
				return
			}
		}
	}()

	first, err := sess.Begin()
	if err != nil {
		return sess.Outcome()
	}
	if err := conn.Send(watchdog, first); err != nil {
		sess.Fail(t.interruption(ctx, watchdog, fmt.Errorf("%w: send connection start: %v", ErrConnect, err)))
		return sess.Outcome()
	}

	for !sess.State().Terminal() {
		select {
		case msg := <-inbound:
			t.dispatch(ctx, watchdog, conn, sess, msg, log)
		case err := <-readErr:
			if errors.Is(err, io.EOF) {
				log.Infof("peer closed connection in state %s", sess.State())
				sess.ConnectionClosed()
				continue
			}
			sess.Fail(t.interruption(ctx, watchdog, fmt.Errorf("%w: receive: %v", ErrConnect, err)))
		case <-watchdog.Done():
			sess.Fail(t.interruption(ctx, watchdog, watchdog.Err()))
		}
	}
	return sess.Outcome()
}

func (t *connTransport) dispatch(ctx, watchdog context.Context, conn Conn, sess *Session, msg []byte, log *zap.SugaredLogger) {
	f, err := t.codec.Decode(msg)
	if err != nil {
		sess.Fail(fmt.Errorf("%w: %v", ErrProtocol, err))
		log.Warnf("decode inbound frame failed: %v", err)
		return
	}
	name := t.codec.Events.Name(f.Event)
	if f.Kind == protocol.KindError {
		// 错误帧的 event 位置是厂商错误码
		name = fmt.Sprintf("error(%d)", f.Event)
		t.metrics.RecordFrame(ctx, "error")
	} else {
		t.metrics.RecordFrame(ctx, name)
	}

	before := sess.State()
	out, err := sess.Handle(f)
	switch {
	case f.Event == t.codec.Events.TTSResponse && f.IsAudio():
		chunks, size := sess.AudioStats()
		log.Debugf("audio chunk #%d: %d bytes (total %d)", chunks, len(f.Payload), size)
	case f.Event == t.codec.Events.TTSResponse:
		log.Warnf("%s with %s payload (%d bytes) treated as audio", name, f.Kind, len(f.Payload))
	default:
		log.Debugf("event received: %s kind=%s payload=%d bytes state=%s->%s",
			name, f.Kind, len(f.Payload), before, sess.State())
	}
	if err != nil {
		log.Warnf("session failed on %s: %v", name, err)
		return
	}
	if before == sess.State() && f.Event != t.codec.Events.TTSResponse {
		log.Debugf("ignored %s in state %s", name, before)
	}

	for _, frame := range out {
		if err := conn.Send(watchdog, frame); err != nil {
			sess.Fail(t.interruption(ctx, watchdog, fmt.Errorf("%w: send: %v", ErrConnect, err)))
			return
		}
	}
}

// interruption turns a failure observed while the watchdog context may have
// fired into the right error: caller cancellation, watchdog expiry or cause.
func (t *connTransport) interruption(parent, watchdog context.Context, cause error) error {
	if err := parent.Err(); err != nil {
		return err
	}
	if errors.Is(watchdog.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: no terminal event within %s", ErrTimeout, t.cfg.Timeout)
	}
	return cause
}

func newConnTransport(cfg Config, dialer Dialer, codec protocol.Codec, metrics *observe.Metrics, newID func() string) *connTransport {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &connTransport{
		cfg:     cfg,
		dialer:  dialer,
		codec:   codec,
		metrics: metrics,
		newID:   newID,
	}
}
