package signaling

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/echoclient/internal/util"
)

// DefaultPath is where the media server expects signaling connections.
const DefaultPath = "/signaling"

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server is the media-server side WebSocket endpoint. Every accepted
// connection is handed to serve on its own goroutine.
type Server struct {
	path     string
	serve    func(*Conn)
	listener net.Listener
	httpSrv  *http.Server
}

// NewServer creates a signaling endpoint mounted at path.
func NewServer(path string, serve func(*Conn)) *Server {
	if path == "" {
		path = DefaultPath
	}
	return &Server{path: path, serve: serve}
}

// Handler exposes the endpoint for embedding or testing.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.path, s.handleWS)
	return mux
}

// Start begins listening on addr. Returns the bound address.
func (s *Server) Start(addr string) (net.Addr, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to start WS server: %w", err)
	}
	s.listener = listener
	s.httpSrv = &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := s.httpSrv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("signaling server stopped: %v", err)
		}
	}()

	return listener.Addr(), nil
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	go s.serve(&Conn{raw: conn})
}

// Close shuts down the listener, preventing new connections.
func (s *Server) Close() error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Close()
}

// Conn is one accepted signaling connection. Writes are serialized so that
// callbacks from several goroutines may reply concurrently.
type Conn struct {
	raw *websocket.Conn
	mu  sync.Mutex
}

// RemoteAddr returns the peer's network address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.raw.RemoteAddr()
}

// Send writes a signaling message as one text frame.
func (c *Conn) Send(msg Message) error {
	data, err := Encode(msg)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.raw.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.raw.WriteMessage(websocket.TextMessage, data); err != nil {
		return &ChannelError{Op: "write", Err: err}
	}
	util.Stats.AddSentMessage()
	return nil
}

// Receive blocks for the next message. A *ProtocolError leaves the
// connection usable; a *ChannelError ends it.
func (c *Conn) Receive() (Message, error) {
	typ, data, err := c.raw.ReadMessage()
	if err != nil {
		return Message{}, &ChannelError{Op: "read", Err: err}
	}
	util.Stats.AddRecvMessage()
	if typ != websocket.TextMessage {
		return Message{}, &ProtocolError{Raw: "<binary frame>", Err: errBinaryFrame}
	}
	return Decode(data)
}

// Close closes the underlying socket.
func (c *Conn) Close() error {
	return c.raw.Close()
}
