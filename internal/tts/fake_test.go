package tts

import (
	"context"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/liuscraft/streamtts/internal/protocol"
)

func mustEncode(f protocol.Frame) []byte {
	data, err := protocol.Encode(f)
	if err != nil {
		panic(err)
	}
	return data
}

func serverEvent(event uint32, sessionID, payload string) []byte {
	return mustEncode(protocol.Frame{
		Kind:          protocol.KindFullServerResponse,
		Serialization: protocol.SerializationJSON,
		Event:         event,
		SessionID:     sessionID,
		Payload:       []byte(payload),
	})
}

func serverAudio(sessionID string, p []byte) []byte {
	return mustEncode(protocol.Frame{
		Kind:          protocol.KindAudioOnlyResponse,
		Serialization: protocol.SerializationRaw,
		Event:         testEvents.TTSResponse,
		SessionID:     sessionID,
		Payload:       p,
	})
}

// fakeVendor 按脚本回应客户端帧
type fakeVendor struct {
	audio [][]byte
	// override replaces the scripted reply to one client event.
	override map[uint32]func(f protocol.Frame) [][]byte
}

func (v *fakeVendor) reply(f protocol.Frame) [][]byte {
	if fn, ok := v.override[f.Event]; ok {
		return fn(f)
	}
	e := testEvents
	switch f.Event {
	case e.StartConnection:
		return [][]byte{serverEvent(e.ConnectionStarted, "", "{}")}
	case e.StartSession:
		return [][]byte{serverEvent(e.SessionStarted, f.SessionID, "{}")}
	case e.TaskRequest:
		out := [][]byte{serverEvent(e.TTSSentenceStart, f.SessionID, `{"text":"..."}`)}
		for _, chunk := range v.audio {
			out = append(out, serverAudio(f.SessionID, chunk))
		}
		return append(out, serverEvent(e.TTSSentenceEnd, f.SessionID, "{}"))
	case e.FinishSession:
		return [][]byte{serverEvent(e.SessionFinished, f.SessionID, `{"status_code":20000000}`)}
	case e.FinishConnection:
		return [][]byte{serverEvent(e.ConnectionFinished, "", "{}")}
	}
	return nil
}

type inboundMessage struct {
	data []byte
	err  error
}

// fakeConn 内存中的连接，Send 时同步生成厂商回包
type fakeConn struct {
	vendor *fakeVendor
	codec  protocol.Codec
	// eofAfter pushes io.EOF after replying to this client event.
	eofAfter uint32
	sendErr  error

	inbound   chan inboundMessage
	closed    chan struct{}
	closeOnce sync.Once
	closes    atomic.Int32

	mu   sync.Mutex
	sent []protocol.Frame
}

func newFakeConn(vendor *fakeVendor) *fakeConn {
	return &fakeConn{
		vendor:  vendor,
		codec:   protocol.NewCodec(testEvents),
		inbound: make(chan inboundMessage, 64),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) Send(ctx context.Context, frame []byte) error {
	select {
	case <-c.closed:
		return net.ErrClosed
	default:
	}
	if c.sendErr != nil {
		return c.sendErr
	}
	f, err := c.codec.Decode(frame)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.sent = append(c.sent, f)
	c.mu.Unlock()

	for _, r := range c.vendor.reply(f) {
		c.inbound <- inboundMessage{data: r}
	}
	if c.eofAfter != 0 && f.Event == c.eofAfter {
		c.inbound <- inboundMessage{err: io.EOF}
	}
	return nil
}

func (c *fakeConn) Receive() ([]byte, error) {
	select {
	case msg := <-c.inbound:
		return msg.data, msg.err
	case <-c.closed:
		return nil, net.ErrClosed
	}
}

func (c *fakeConn) Close() error {
	c.closes.Add(1)
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) sentEvents() []uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	events := make([]uint32, 0, len(c.sent))
	for _, f := range c.sent {
		events = append(events, f.Event)
	}
	return events
}

type fakeDialer struct {
	conn *fakeConn
	err  error
	// block waits for the dial context to end.
	block bool

	mu   sync.Mutex
	reqs []DialRequest
}

func (d *fakeDialer) Dial(ctx context.Context, req DialRequest) (Conn, error) {
	d.mu.Lock()
	d.reqs = append(d.reqs, req)
	d.mu.Unlock()
	if d.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if d.err != nil {
		return nil, d.err
	}
	return d.conn, nil
}

func testConfig() Config {
	return Config{
		AppKey:    "app-key",
		AccessKey: "access-key",
		Format:    "mp3",
		Timeout:   2 * time.Second,
	}
}

func newTestClient(t *testing.T, cfg Config, opts ...Option) *Client {
	t.Helper()
	seq := atomic.Int64{}
	opts = append([]Option{WithIDGenerator(func() string {
		return "id-" + string(rune('a'+seq.Add(1)-1))
	})}, opts...)
	c, err := NewClient(cfg, opts...)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return c
}
