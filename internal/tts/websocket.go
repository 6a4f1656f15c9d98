package tts

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/liuscraft/streamtts/internal/logging"
)

const closeWriteWait = time.Second

// WebsocketDialer opens one authenticated websocket per call.
type WebsocketDialer struct {
	Dialer *websocket.Dialer
}

func NewWebsocketDialer() *WebsocketDialer {
	return &WebsocketDialer{Dialer: websocket.DefaultDialer}
}

func (d *WebsocketDialer) Dial(ctx context.Context, req DialRequest) (Conn, error) {
	header := http.Header{}
	header.Set("X-Api-App-Key", req.AppKey)
	header.Set("X-Api-Access-Key", req.AccessKey)
	header.Set("X-Api-Resource-Id", req.ResourceID)
	header.Set("X-Api-Connect-Id", req.RequestID)

	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, req.Endpoint, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("handshake status %d (logid=%s): %w",
				resp.StatusCode, resp.Header.Get("X-Tt-Logid"), err)
		}
		return nil, err
	}
	if resp != nil {
		logging.Debugf("websocket connected: connect_id=%s logid=%s", req.RequestID, resp.Header.Get("X-Tt-Logid"))
	}
	return &wsConn{conn: conn}, nil
}

type wsConn struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// Send writes one binary message. Cancelling ctx aborts a write blocked on a
// full socket buffer.
func (c *wsConn) Send(ctx context.Context, frame []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := time.Time{}
	if dl, ok := ctx.Deadline(); ok {
		deadline = dl
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	// 取消时把底层连接的写超时拉到当前时刻，阻塞中的写会立即返回
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.NetConn().SetWriteDeadline(time.Now())
	})
	defer stop()

	if err := c.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}
	return nil
}

func (c *wsConn) Receive() ([]byte, error) {
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, io.EOF
			}
			return nil, err
		}
		if messageType != websocket.BinaryMessage {
			logging.Debugf("websocket: skipping non-binary message (%d bytes)", len(data))
			continue
		}
		return data, nil
	}
}

func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteWait))
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
