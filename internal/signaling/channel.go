package signaling

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/echoclient/internal/util"
)

// Tuning constants.
const (
	DefaultReconnectDelay = 3 * time.Second
	writeTimeout          = 5 * time.Second
)

var log = util.Scope("channel")

// Handler receives channel events. Calls for one connection are sequential:
// OnConnected precedes every OnMessage of that connection, and OnDisconnected
// follows the last one.
type Handler interface {
	OnConnected()
	OnMessage(msg Message)
	OnDisconnected(reason error)
	OnParseError(err error)
}

// stopper is the cancellation handle of a scheduled reconnect.
type stopper interface {
	Stop() bool
}

func afterFunc(d time.Duration, f func()) stopper {
	return time.AfterFunc(d, f)
}

// Channel owns the client side of the control connection. It holds at most
// one socket; when that socket drops it schedules exactly one reconnect
// after a fixed delay and keeps doing so until Close.
type Channel struct {
	url    string
	delay  time.Duration
	dialer *websocket.Dialer
	after  func(time.Duration, func()) stopper

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	handler   Handler
	conn      *websocket.Conn
	dialing   bool
	reconnect stopper
	closed    bool

	writeMu sync.Mutex
}

// NewChannel creates a disconnected channel for url. A non-positive delay
// selects DefaultReconnectDelay.
func NewChannel(url string, delay time.Duration) *Channel {
	if delay <= 0 {
		delay = DefaultReconnectDelay
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Channel{
		url:    url,
		delay:  delay,
		dialer: websocket.DefaultDialer,
		after:  afterFunc,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Handle registers the event receiver. It must be called before Connect.
func (c *Channel) Handle(h Handler) {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
}

// Connect starts dialing in the background. It is a no-op while a dial is in
// flight or a socket is live; a pending reconnect is superseded.
func (c *Channel) Connect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.conn != nil || c.dialing {
		c.mu.Unlock()
		return nil
	}
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
	c.dialing = true
	c.mu.Unlock()

	go c.dial()
	return nil
}

// Connected reports whether a socket is live.
func (c *Channel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Send writes msg as one text frame. Delivery is not acknowledged.
func (c *Channel) Send(msg Message) error {
	data, err := Encode(msg)
	if err != nil {
		return err
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		// Unblocks watch, which reports the loss and schedules the reconnect.
		conn.Close()
		return &ChannelError{Op: "write", Err: err}
	}

	util.Stats.AddSentMessage()
	log.Debug("sent %s", msg.ID)
	return nil
}

// Close tears the channel down: the pending reconnect is cancelled, the live
// socket is closed and no further attempts are made. Safe to call twice.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	c.cancel()
	if conn == nil {
		return nil
	}

	c.writeMu.Lock()
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return conn.Close()
}

// ---------------------------------------------------------------------------
// Connection loop
// ---------------------------------------------------------------------------

// dial performs one connection attempt.
func (c *Channel) dial() {
	conn, _, err := c.dialer.DialContext(c.ctx, c.url, nil)

	c.mu.Lock()
	c.dialing = false
	if c.closed {
		c.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}
	h := c.handler
	if err != nil {
		c.scheduleLocked()
		c.mu.Unlock()
		log.Warn("failed to connect to %s: %v", c.url, err)
		if h != nil {
			h.OnDisconnected(&ChannelError{Op: "dial", Err: err})
		}
		return
	}
	c.conn = conn
	c.mu.Unlock()

	log.Info("connected to %s", c.url)
	if h != nil {
		h.OnConnected()
	}
	go c.watch(conn, h)
}

// watch is the read loop of one socket. Malformed frames are reported and
// skipped; a read error ends the socket.
func (c *Channel) watch(conn *websocket.Conn, h Handler) {
	for {
		typ, data, err := conn.ReadMessage()
		if err != nil {
			c.drop(conn, h, err)
			return
		}
		util.Stats.AddRecvMessage()

		if typ != websocket.TextMessage {
			if h != nil {
				h.OnParseError(&ProtocolError{Raw: "<binary frame>", Err: errBinaryFrame})
			}
			continue
		}

		msg, err := Decode(data)
		if err != nil {
			log.Warn("%v", err)
			if h != nil {
				h.OnParseError(err)
			}
			continue
		}

		log.Debug("received %s", msg.ID)
		if h != nil {
			h.OnMessage(msg)
		}
	}
}

// drop closes a failed socket and, unless the channel was closed on purpose,
// schedules the next attempt. The socket is fully closed before scheduling.
func (c *Channel) drop(conn *websocket.Conn, h Handler, reason error) {
	conn.Close()

	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.scheduleLocked()
	c.mu.Unlock()

	log.Warn("connection closed: %v", reason)
	if h != nil {
		h.OnDisconnected(&ChannelError{Op: "read", Err: reason})
	}
}

// scheduleLocked arms the reconnect timer unless one is already pending.
// c.mu must be held.
func (c *Channel) scheduleLocked() {
	if c.reconnect != nil {
		return
	}
	util.Stats.AddReconnect()
	log.Info("reconnecting in %s", c.delay)
	c.reconnect = c.after(c.delay, c.retry)
}

// retry is the body of the reconnect timer.
func (c *Channel) retry() {
	c.mu.Lock()
	c.reconnect = nil
	if c.closed || c.conn != nil || c.dialing {
		c.mu.Unlock()
		return
	}
	c.dialing = true
	c.mu.Unlock()

	c.dial()
}
