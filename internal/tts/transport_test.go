package tts

import (
	"bytes"
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/liuscraft/streamtts/internal/protocol"
)

func TestSynthesizeHandshakeOverFakeConn(t *testing.T) {
	vendor := &fakeVendor{audio: [][]byte{bytes.Repeat([]byte{0xA}, 100), bytes.Repeat([]byte{0xB}, 50)}}
	conn := newFakeConn(vendor)
	dialer := &fakeDialer{conn: conn}
	client := newTestClient(t, testConfig(), WithDialer(dialer))

	res, err := client.Synthesize(context.Background(), "你好", SynthesizeOptions{Format: "mp3"})
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if len(res.Audio) != 150 || res.Format != "mp3" {
		t.Fatalf("result = %d bytes %q, want 150 bytes mp3", len(res.Audio), res.Format)
	}
	if !bytes.Equal(res.Audio, append(bytes.Repeat([]byte{0xA}, 100), bytes.Repeat([]byte{0xB}, 50)...)) {
		t.Fatal("audio chunks were not joined in arrival order")
	}

	want := []uint32{
		testEvents.StartConnection,
		testEvents.StartSession,
		testEvents.TaskRequest,
		testEvents.FinishSession,
		testEvents.FinishConnection,
	}
	if got := conn.sentEvents(); !reflect.DeepEqual(got, want) {
		t.Fatalf("sent events = %v, want %v", got, want)
	}
	if n := conn.closes.Load(); n != 1 {
		t.Fatalf("Close() called %d times, want 1", n)
	}

	if len(dialer.reqs) != 1 {
		t.Fatalf("dial count = %d", len(dialer.reqs))
	}
	req := dialer.reqs[0]
	if req.AppKey != "app-key" || req.AccessKey != "access-key" || req.ResourceID != DefaultResourceID || req.Endpoint != DefaultEndpoint {
		t.Fatalf("unexpected dial request: %+v", req)
	}
	if req.RequestID == "" {
		t.Fatal("request id is empty")
	}

	conn.mu.Lock()
	task := conn.sent[2]
	conn.mu.Unlock()
	var body struct {
		ReqParams struct {
			Text string `json:"text"`
		} `json:"req_params"`
	}
	if err := task.JSON(&body); err != nil || body.ReqParams.Text != "你好" {
		t.Fatalf("task request text = %q, err = %v", body.ReqParams.Text, err)
	}
}

func TestSynthesizeRemoteFailureInEveryState(t *testing.T) {
	e := testEvents
	failWith := func(event uint32, payload string) func(f protocol.Frame) [][]byte {
		return func(f protocol.Frame) [][]byte {
			return [][]byte{serverEvent(event, f.SessionID, payload)}
		}
	}
	// 错误帧不带会话段，event 位置是厂商错误码
	vendorError := func(code uint32, payload string) func(f protocol.Frame) [][]byte {
		return func(protocol.Frame) [][]byte {
			return [][]byte{mustEncode(protocol.Frame{
				Kind:          protocol.KindError,
				Serialization: protocol.SerializationJSON,
				Event:         code,
				Payload:       []byte(payload),
			})}
		}
	}

	tests := []struct {
		name     string
		on       uint32
		reply    func(f protocol.Frame) [][]byte
		wantMsg  string
		wantSent int
	}{
		{"awaiting connection ack", e.StartConnection, failWith(e.ConnectionFailed, `{"message":"bad app key"}`), "bad app key", 1},
		{"awaiting session ack", e.StartSession, failWith(e.SessionFailed, `{"message":"speaker not granted"}`), "speaker not granted", 2},
		{"awaiting response", e.TaskRequest, func(f protocol.Frame) [][]byte {
			return [][]byte{
				serverAudio(f.SessionID, []byte{1, 2, 3}),
				serverEvent(e.SessionFailed, f.SessionID, `{"message":"quota exceeded"}`),
			}
		}, "quota exceeded", 3},
		{"awaiting session finish ack", e.FinishSession, failWith(e.SessionFailed, `{"message":"finish rejected"}`), "finish rejected", 4},
		{"awaiting connection finish ack", e.FinishConnection, failWith(e.ConnectionFailed, `{"message":"connection reset"}`), "connection reset", 5},
		{"error frame before connection ack", e.StartConnection, vendorError(45000001, `{"error":"invalid auth"}`), "invalid auth", 1},
		{"error frame while streaming", e.TaskRequest, vendorError(55000000, `{"error":"server busy"}`), "server busy", 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vendor := &fakeVendor{
				audio:    [][]byte{{9, 9}},
				override: map[uint32]func(f protocol.Frame) [][]byte{tt.on: tt.reply},
			}
			conn := newFakeConn(vendor)
			client := newTestClient(t, testConfig(), WithDialer(&fakeDialer{conn: conn}))

			res, err := client.Synthesize(context.Background(), "你好", SynthesizeOptions{})
			if !errors.Is(err, ErrRemoteRejection) {
				t.Fatalf("Synthesize() error = %v, want ErrRemoteRejection", err)
			}
			if res.Audio != nil {
				t.Fatalf("expected no audio on failure, got %d bytes", len(res.Audio))
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Fatalf("error %q does not carry payload %q", err, tt.wantMsg)
			}
			if got := len(conn.sentEvents()); got != tt.wantSent {
				t.Fatalf("sent %d frames after failure, want %d", got, tt.wantSent)
			}
			if n := conn.closes.Load(); n != 1 {
				t.Fatalf("Close() called %d times, want 1", n)
			}
		})
	}
}

func TestSynthesizeEmptyResult(t *testing.T) {
	conn := newFakeConn(&fakeVendor{})
	client := newTestClient(t, testConfig(), WithDialer(&fakeDialer{conn: conn}))

	_, err := client.Synthesize(context.Background(), "你好", SynthesizeOptions{})
	if !errors.Is(err, ErrEmptyResult) {
		t.Fatalf("Synthesize() error = %v, want ErrEmptyResult", err)
	}
	// the handshake still runs to completion
	if got := len(conn.sentEvents()); got != 5 {
		t.Fatalf("sent %d frames, want 5", got)
	}
	if n := conn.closes.Load(); n != 1 {
		t.Fatalf("Close() called %d times, want 1", n)
	}
}

func TestSynthesizeTimeout(t *testing.T) {
	vendor := &fakeVendor{override: map[uint32]func(f protocol.Frame) [][]byte{
		testEvents.StartSession: func(protocol.Frame) [][]byte { return nil },
	}}
	conn := newFakeConn(vendor)
	cfg := testConfig()
	cfg.Timeout = 50 * time.Millisecond
	client := newTestClient(t, cfg, WithDialer(&fakeDialer{conn: conn}))

	start := time.Now()
	_, err := client.Synthesize(context.Background(), "你好", SynthesizeOptions{})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Synthesize() error = %v, want ErrTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("timeout took %s", elapsed)
	}
	if n := conn.closes.Load(); n != 1 {
		t.Fatalf("Close() called %d times, want 1", n)
	}
}

func TestSynthesizeTimeoutCoversDial(t *testing.T) {
	cfg := testConfig()
	cfg.Timeout = 30 * time.Millisecond
	client := newTestClient(t, cfg, WithDialer(&fakeDialer{block: true}))

	_, err := client.Synthesize(context.Background(), "你好", SynthesizeOptions{})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Synthesize() error = %v, want ErrTimeout", err)
	}
}

func TestSynthesizeCallerCancel(t *testing.T) {
	vendor := &fakeVendor{override: map[uint32]func(f protocol.Frame) [][]byte{
		testEvents.TaskRequest: func(protocol.Frame) [][]byte { return nil },
	}}
	conn := newFakeConn(vendor)
	client := newTestClient(t, testConfig(), WithDialer(&fakeDialer{conn: conn}))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := client.Synthesize(ctx, "你好", SynthesizeOptions{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Synthesize() error = %v, want context.Canceled", err)
	}
	if errors.Is(err, ErrTimeout) {
		t.Fatal("caller cancel must not be reported as a timeout")
	}
	if n := conn.closes.Load(); n != 1 {
		t.Fatalf("Close() called %d times, want 1", n)
	}
}

func TestSynthesizeDialError(t *testing.T) {
	client := newTestClient(t, testConfig(), WithDialer(&fakeDialer{err: errors.New("connection refused")}))

	_, err := client.Synthesize(context.Background(), "你好", SynthesizeOptions{})
	if !errors.Is(err, ErrConnect) {
		t.Fatalf("Synthesize() error = %v, want ErrConnect", err)
	}
	if !strings.Contains(err.Error(), "connection refused") {
		t.Fatalf("error %q lost the dial cause", err)
	}
}

func TestSynthesizeSendError(t *testing.T) {
	conn := newFakeConn(&fakeVendor{})
	conn.sendErr = errors.New("broken pipe")
	client := newTestClient(t, testConfig(), WithDialer(&fakeDialer{conn: conn}))

	_, err := client.Synthesize(context.Background(), "你好", SynthesizeOptions{})
	if !errors.Is(err, ErrConnect) {
		t.Fatalf("Synthesize() error = %v, want ErrConnect", err)
	}
	if n := conn.closes.Load(); n != 1 {
		t.Fatalf("Close() called %d times, want 1", n)
	}
}

func TestSynthesizeMalformedInbound(t *testing.T) {
	vendor := &fakeVendor{override: map[uint32]func(f protocol.Frame) [][]byte{
		testEvents.StartConnection: func(protocol.Frame) [][]byte { return [][]byte{{0x11, 0x94}} },
	}}
	conn := newFakeConn(vendor)
	client := newTestClient(t, testConfig(), WithDialer(&fakeDialer{conn: conn}))

	_, err := client.Synthesize(context.Background(), "你好", SynthesizeOptions{})
	if !errors.Is(err, ErrProtocol) {
		t.Fatalf("Synthesize() error = %v, want ErrProtocol", err)
	}
	if n := conn.closes.Load(); n != 1 {
		t.Fatalf("Close() called %d times, want 1", n)
	}
}

func TestSynthesizePeerCloses(t *testing.T) {
	t.Run("after audio", func(t *testing.T) {
		conn := newFakeConn(&fakeVendor{audio: [][]byte{{1, 2, 3, 4}}})
		conn.eofAfter = testEvents.FinishSession
		conn.vendor.override = map[uint32]func(f protocol.Frame) [][]byte{
			testEvents.FinishSession: func(protocol.Frame) [][]byte { return nil },
		}
		client := newTestClient(t, testConfig(), WithDialer(&fakeDialer{conn: conn}))

		res, err := client.Synthesize(context.Background(), "你好", SynthesizeOptions{})
		if err != nil {
			t.Fatalf("Synthesize() error = %v", err)
		}
		if len(res.Audio) != 4 {
			t.Fatalf("len(audio) = %d, want 4", len(res.Audio))
		}
	})

	t.Run("before audio", func(t *testing.T) {
		conn := newFakeConn(&fakeVendor{})
		conn.eofAfter = testEvents.StartConnection
		conn.vendor.override = map[uint32]func(f protocol.Frame) [][]byte{
			testEvents.StartConnection: func(protocol.Frame) [][]byte { return nil },
		}
		client := newTestClient(t, testConfig(), WithDialer(&fakeDialer{conn: conn}))

		_, err := client.Synthesize(context.Background(), "你好", SynthesizeOptions{})
		if !errors.Is(err, ErrEmptyResult) {
			t.Fatalf("Synthesize() error = %v, want ErrEmptyResult", err)
		}
	})
}

func TestSynthesizeUnknownEventsIgnored(t *testing.T) {
	vendor := &fakeVendor{audio: [][]byte{{5}}}
	vendor.override = map[uint32]func(f protocol.Frame) [][]byte{
		testEvents.StartConnection: func(protocol.Frame) [][]byte {
			return [][]byte{
				serverEvent(999, "", `{"note":"future event"}`),
				serverEvent(testEvents.ConnectionStarted, "", "{}"),
			}
		},
	}
	conn := newFakeConn(vendor)
	client := newTestClient(t, testConfig(), WithDialer(&fakeDialer{conn: conn}))

	res, err := client.Synthesize(context.Background(), "你好", SynthesizeOptions{})
	if err != nil || len(res.Audio) != 1 {
		t.Fatalf("Synthesize() = %d bytes, %v", len(res.Audio), err)
	}
}
