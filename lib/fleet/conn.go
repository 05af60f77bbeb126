package fleet

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nrednav/cuid2"
)

// Subprotocol is the websocket subprotocol spoken by nodes
const Subprotocol = "iconograph-slave"

const (
	writeTimeout     = 10 * time.Second
	handshakeTimeout = 30 * time.Second
)

// Conn is one control channel session
type Conn struct {
	ws *websocket.Conn
	id string

	// gorilla allows a single concurrent writer
	sendMu sync.Mutex
}

// Dial opens a control channel to url
func Dial(ctx context.Context, url string, tlsConfig *tls.Config) (*Conn, error) {
	dialer := websocket.Dialer{
		TLSClientConfig:  tlsConfig,
		Subprotocols:     []string{Subprotocol},
		HandshakeTimeout: handshakeTimeout,
	}

	ws, resp, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %s)", url, err, resp.Status)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return &Conn{ws: ws, id: cuid2.Generate()}, nil
}

// ID identifies the session in logs
func (c *Conn) ID() string {
	return c.id
}

// Send writes one text frame
func (c *Conn) Send(data []byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if err := c.ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Receive blocks for the next frame. Decode failures are returned with the
// connection still usable; any other error means the connection is gone.
func (c *Conn) Receive() (Message, error) {
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return Message{}, fmt.Errorf("read frame: %w", err)
	}
	return Decode(data)
}

// Close sends a close frame and closes the socket
func (c *Conn) Close() error {
	c.sendMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.sendMu.Unlock()
	return c.ws.Close()
}
