// Package cdptest provides an in-process remote-debugging endpoint for tests.
//
// A Server accepts WebSocket connections, answers requests through per-method
// handlers and can push events or drop connections on demand. Methods without
// a handler are answered with an empty result object.
package cdptest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Request is a request frame as received by the server
type Request struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// ErrorBody is the error member of a response frame
type ErrorBody struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Reply describes how the server answers one request
type Reply struct {
	Result interface{}
	Error  *ErrorBody
	// NoResult sends a response frame carrying only the id
	NoResult bool
	// Raw is written verbatim instead of a response frame
	Raw []byte
	// Drop leaves the request unanswered
	Drop bool
	// Delay postpones the answer without blocking other requests
	Delay time.Duration
}

// HandlerFunc computes the reply to a request
type HandlerFunc func(conn *Conn, req Request) Reply

// Server is a fake remote-debugging endpoint
type Server struct {
	httpServer *httptest.Server
	upgrader   websocket.Upgrader

	mu        sync.Mutex
	handlers  map[string]HandlerFunc
	conns     []*Conn
	requests  []Request
	refuse    bool
	connected chan *Conn
}

// NewServer starts a server on a loopback port
func NewServer() *Server {
	s := &Server{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		handlers:  make(map[string]HandlerFunc),
		connected: make(chan *Conn, 64),
	}
	s.httpServer = httptest.NewServer(http.HandlerFunc(s.serveHTTP))
	return s
}

// URL returns the browser-level WebSocket endpoint
func (s *Server) URL() string {
	return "ws" + strings.TrimPrefix(s.httpServer.URL, "http") + "/devtools/browser/cdptest"
}

// Handle installs the handler for method, replacing any previous one
func (s *Server) Handle(method string, h HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = h
}

// HandleResult answers every request for method with result
func (s *Server) HandleResult(method string, result interface{}) {
	s.Handle(method, func(*Conn, Request) Reply {
		return Reply{Result: result}
	})
}

// HandleError rejects every request for method with message
func (s *Server) HandleError(method, message string) {
	s.Handle(method, func(*Conn, Request) Reply {
		return Reply{Error: &ErrorBody{Message: message}}
	})
}

// RefuseConnections makes subsequent handshakes fail with 503
func (s *Server) RefuseConnections(refuse bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refuse = refuse
}

// Requests returns every request received so far, in arrival order
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// RequestCount counts received requests for method
func (s *Server) RequestCount(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, req := range s.requests {
		if req.Method == method {
			n++
		}
	}
	return n
}

// Conns returns the connections accepted so far
func (s *Server) Conns() []*Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Conn, len(s.conns))
	copy(out, s.conns)
	return out
}

// WaitForConnection returns the next accepted connection
func (s *Server) WaitForConnection(timeout time.Duration) (*Conn, error) {
	select {
	case c := <-s.connected:
		return c, nil
	case <-time.After(timeout):
		return nil, fmt.Errorf("no connection within %s", timeout)
	}
}

// Emit sends an event to every open connection
func (s *Server) Emit(method string, params interface{}) error {
	for _, c := range s.Conns() {
		if c.isClosed() {
			continue
		}
		if err := c.Emit(method, params); err != nil {
			return err
		}
	}
	return nil
}

// DisconnectAll drops every connection without a close handshake
func (s *Server) DisconnectAll() {
	for _, c := range s.Conns() {
		c.Drop()
	}
}

// Close drops all connections and stops the listener
func (s *Server) Close() {
	s.DisconnectAll()
	s.httpServer.Close()
}

func (s *Server) serveHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	refuse := s.refuse
	s.mu.Unlock()
	if refuse {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := &Conn{ws: ws, closed: make(chan struct{})}

	s.mu.Lock()
	s.conns = append(s.conns, c)
	s.mu.Unlock()

	select {
	case s.connected <- c:
	default:
	}

	s.readLoop(c)
}

func (s *Server) readLoop(c *Conn) {
	defer c.Drop()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}

		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			continue
		}

		s.mu.Lock()
		s.requests = append(s.requests, req)
		h, ok := s.handlers[req.Method]
		s.mu.Unlock()

		reply := Reply{Result: map[string]interface{}{}}
		if ok {
			reply = h(c, req)
		}
		if reply.Drop {
			continue
		}

		if reply.Delay > 0 {
			go func(req Request, reply Reply) {
				time.Sleep(reply.Delay)
				_ = c.answer(req, reply)
			}(req, reply)
			continue
		}
		_ = c.answer(req, reply)
	}
}

// Conn is the server side of one client connection
type Conn struct {
	ws        *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

func (c *Conn) answer(req Request, reply Reply) error {
	if reply.Raw != nil {
		return c.WriteRaw(reply.Raw)
	}

	frame := map[string]interface{}{"id": req.ID}
	switch {
	case reply.Error != nil:
		frame["error"] = reply.Error
	case !reply.NoResult:
		result := reply.Result
		if result == nil {
			result = map[string]interface{}{}
		}
		frame["result"] = result
	}
	return c.WriteJSON(frame)
}

// Emit sends an event frame
func (c *Conn) Emit(method string, params interface{}) error {
	frame := map[string]interface{}{"method": method}
	if params != nil {
		frame["params"] = params
	}
	return c.WriteJSON(frame)
}

// WriteJSON sends v as a text frame
func (c *Conn) WriteJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.WriteRaw(data)
}

// WriteRaw sends data as a text frame
func (c *Conn) WriteRaw(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Drop closes the socket without a close handshake
func (c *Conn) Drop() {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.ws.Close()
	})
}

// Closed is closed once the connection has ended
func (c *Conn) Closed() <-chan struct{} {
	return c.closed
}

func (c *Conn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}
