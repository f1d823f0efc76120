package transcriber

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/foxseedlab/kikitori/internal/transcriber"
)

const finalizeReason = "audio stream ended"

type WebSocketConfig struct {
	URL string
	// ReadTimeout bounds the wait for each backend message. Zero disables it.
	ReadTimeout time.Duration
}

type WebSocketDialer struct {
	url         string
	readTimeout time.Duration
}

func NewWebSocketDialer(cfg WebSocketConfig) transcriber.Dialer {
	return &WebSocketDialer{
		url:         strings.TrimSpace(cfg.URL),
		readTimeout: cfg.ReadTimeout,
	}
}

func (d *WebSocketDialer) Dial(ctx context.Context, receiver transcriber.ResultReceiver) (transcriber.Conn, error) {
	conn, _, err := websocket.Dial(ctx, d.url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial transcription backend: %w", err)
	}
	c := &wsConn{
		conn:        conn,
		readTimeout: d.readTimeout,
		done:        make(chan struct{}),
	}
	go c.readLoop(receiver)
	return c, nil
}

type wsConn struct {
	conn        *websocket.Conn
	readTimeout time.Duration
	done        chan struct{}
	closeOnce   sync.Once
}

type backendResult struct {
	Text *string `json:"text"`
}

func (c *wsConn) Send(ctx context.Context, frame []byte) error {
	select {
	case <-c.done:
		return transcriber.ErrConnClosed
	default:
	}
	if err := c.conn.Write(ctx, websocket.MessageBinary, frame); err != nil {
		return fmt.Errorf("write audio frame: %w", err)
	}
	return nil
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close(websocket.StatusNormalClosure, finalizeReason)
		<-c.done
	})
	if err != nil && !isClosedError(err) {
		return fmt.Errorf("close transcription stream: %w", err)
	}
	return nil
}

func (c *wsConn) Abort() {
	c.closeOnce.Do(func() {
		_ = c.conn.CloseNow()
	})
}

func (c *wsConn) readLoop(receiver transcriber.ResultReceiver) {
	defer close(c.done)
	var last string
	for {
		text, err := c.readResult()
		if err != nil {
			slog.Debug("transcription stream ended", "reason", err.Error())
			break
		}
		if text != "" {
			last = text
		}
	}
	_ = c.conn.CloseNow()
	if last != "" {
		receiver.OnFinal(last)
	}
}

func (c *wsConn) readResult() (string, error) {
	ctx := context.Background()
	if c.readTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.readTimeout)
		defer cancel()
	}
	_, data, err := c.conn.Read(ctx)
	if err != nil {
		return "", err
	}
	return parseResult(data)
}

func parseResult(data []byte) (string, error) {
	var res backendResult
	if err := json.Unmarshal(data, &res); err != nil {
		return "", fmt.Errorf("unparseable backend payload: %w", err)
	}
	if res.Text == nil {
		return "", errors.New("backend payload has no text field")
	}
	return *res.Text, nil
}

func isClosedError(err error) bool {
	if websocket.CloseStatus(err) != -1 {
		return true
	}
	return errors.Is(err, net.ErrClosed) || strings.Contains(err.Error(), "already wrote close")
}
