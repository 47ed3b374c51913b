package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/harun/moonlight/internal/observability"
	"github.com/harun/moonlight/internal/tracing"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	tracerName = "moonlight.protocol"

	defaultCommandBuffer = 100
	defaultSendBuffer    = 100
)

// Transport is the message stream a Connection multiplexes.
// *websocket.Conn satisfies it.
type Transport interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

type options struct {
	logger         zerolog.Logger
	requestTimeout time.Duration
	commandBuffer  int
	dialer         *websocket.Dialer
	header         http.Header
}

// Option configures a Connection
type Option func(*options)

// WithLogger sets the logger used by the connection worker
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithRequestTimeout bounds every SendRequest whose context has no deadline.
// Zero disables the default timeout.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(o *options) {
		o.requestTimeout = timeout
	}
}

// WithCommandBuffer sets the capacity of the command channel
func WithCommandBuffer(size int) Option {
	return func(o *options) {
		if size > 0 {
			o.commandBuffer = size
		}
	}
}

// WithDialer overrides the websocket dialer used by Dial
func WithDialer(dialer *websocket.Dialer) Option {
	return func(o *options) {
		o.dialer = dialer
	}
}

// WithHeader adds handshake headers used by Dial
func WithHeader(header http.Header) Option {
	return func(o *options) {
		o.header = header
	}
}

func newOptions(opts []Option) options {
	o := options{
		logger:        log.Logger.With().Str("component", "protocol").Logger(),
		commandBuffer: defaultCommandBuffer,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 45 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

type commandKind int

const (
	cmdSendRequest commandKind = iota
	cmdSubscribe
	cmdUnsubscribe
	cmdClose
)

type command struct {
	kind         commandKind
	request      *Request
	reply        chan replyResult
	method       string
	subscription *Subscription
	subscriberID uint64
}

type replyResult struct {
	response *Response
	err      error
}

// Connection multiplexes one transport into many concurrent request/response
// exchanges and event subscriptions.
//
// The pending-request and subscriber indices are only written by the command
// loop, except for the exactly-once removals done when a response arrives or
// the connection terminates.
type Connection struct {
	endpoint       string
	transport      Transport
	logger         zerolog.Logger
	requestTimeout time.Duration

	commands         chan command
	outbound         chan []byte
	nextSubscriberID atomic.Uint64

	pendingMu  sync.Mutex
	pending    map[string]chan replyResult
	terminated bool
	termErr    *Error

	subsMu      sync.RWMutex
	subscribers map[string][]*Subscription
	subsClosed  bool

	done          chan struct{}
	terminateOnce sync.Once
	graceful      bool
	wg            sync.WaitGroup
}

// Dial connects to a remote-debugging endpoint and starts the connection worker
func Dial(ctx context.Context, endpoint string, opts ...Option) (*Connection, error) {
	o := newOptions(opts)

	ws, _, err := o.dialer.DialContext(ctx, endpoint, o.header)
	if err != nil {
		return nil, &Error{
			Code:    ErrCodeTransport,
			Message: fmt.Sprintf("failed to connect to %s", endpoint),
			Err:     err,
		}
	}

	return newConnection(endpoint, ws, o), nil
}

// NewConnection starts a connection worker over an established transport
func NewConnection(transport Transport, opts ...Option) *Connection {
	return newConnection("", transport, newOptions(opts))
}

func newConnection(endpoint string, transport Transport, o options) *Connection {
	c := &Connection{
		endpoint:       endpoint,
		transport:      transport,
		logger:         o.logger,
		requestTimeout: o.requestTimeout,
		commands:       make(chan command, o.commandBuffer),
		outbound:       make(chan []byte, defaultSendBuffer),
		pending:        make(map[string]chan replyResult),
		subscribers:    make(map[string][]*Subscription),
		done:           make(chan struct{}),
	}
	if endpoint != "" {
		c.logger = c.logger.With().Str("endpoint", endpoint).Logger()
	}

	c.wg.Add(3)
	go c.sendLoop()
	go c.receiveLoop()
	go c.commandLoop()

	observability.ConnectionOpened()
	c.logger.Debug().Msg("Connection established")

	return c
}

// Endpoint returns the URL the connection was dialed with, if any
func (c *Connection) Endpoint() string {
	return c.endpoint
}

// Done is closed once the connection has terminated
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Err returns the terminal error, or nil while the connection is alive
func (c *Connection) Err() error {
	select {
	case <-c.done:
		return c.termErr
	default:
		return nil
	}
}

// SendRequest sends method with params and waits for the matching response.
//
// A timeout only abandons the wait: the registration is kept until the
// response arrives or the connection terminates, and a late response is
// dropped.
func (c *Connection) SendRequest(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "protocol.send_request", attribute.String("cdp.method", method))
	defer span.End()

	start := time.Now()
	result, err := c.sendRequest(ctx, method, params)

	status := "success"
	if err != nil {
		status = statusOf(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	observability.RecordProtocolRequest(method, time.Since(start), status)

	return result, err
}

func (c *Connection) sendRequest(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	raw, err := encodeParams(params)
	if err != nil {
		return nil, serializationError(err)
	}

	if c.requestTimeout > 0 {
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.requestTimeout)
			defer cancel()
		}
	}

	if err := c.Err(); err != nil {
		return nil, err
	}

	req := &Request{ID: uuid.NewString(), Method: method, Params: raw}
	reply := make(chan replyResult, 1)

	select {
	case c.commands <- command{kind: cmdSendRequest, request: req, reply: reply}:
	case <-c.done:
		return nil, c.termErr
	case <-ctx.Done():
		return nil, timeoutError(ctx.Err())
	}

	select {
	case r := <-reply:
		return unpack(r)
	case <-c.done:
		// a registered request already has its terminal reply buffered
		select {
		case r := <-reply:
			return unpack(r)
		default:
			return nil, c.termErr
		}
	case <-ctx.Done():
		logger := tracing.LoggerFromContext(ctx, c.logger)
		logger.Debug().
			Str("id", req.ID).
			Str("method", method).
			Msg("Abandoned request wait")
		return nil, timeoutError(ctx.Err())
	}
}

func unpack(r replyResult) (json.RawMessage, error) {
	if r.err != nil {
		return nil, r.err
	}
	if r.response.Error != nil {
		return nil, responseError(r.response.Error)
	}
	if r.response.Result == nil {
		return nil, &Error{Code: ErrCodeUnknown, Message: "no result in response"}
	}
	return r.response.Result, nil
}

// Subscribe returns a stream of events named method. The stream ends when the
// subscription is closed or the connection terminates.
func (c *Connection) Subscribe(ctx context.Context, method string) (*Subscription, error) {
	if c.Err() != nil {
		return nil, c.workerStopped()
	}

	sub := newSubscription(c, method, c.nextSubscriberID.Add(1))

	select {
	case c.commands <- command{kind: cmdSubscribe, method: method, subscription: sub}:
	case <-c.done:
		return nil, c.workerStopped()
	case <-ctx.Done():
		return nil, timeoutError(ctx.Err())
	}

	go sub.run()
	return sub, nil
}

// Unsubscribe removes exactly the subscriber id from method
func (c *Connection) Unsubscribe(ctx context.Context, method string, id uint64) error {
	if c.Err() != nil {
		return c.workerStopped()
	}

	select {
	case c.commands <- command{kind: cmdUnsubscribe, method: method, subscriberID: id}:
		return nil
	case <-c.done:
		return c.workerStopped()
	case <-ctx.Done():
		return timeoutError(ctx.Err())
	}
}

func (c *Connection) workerStopped() *Error {
	return &Error{Code: ErrCodeChannelClosed, Message: "connection worker stopped", Err: c.termErr}
}

// Close sends a close frame, stops the background goroutines and fails every
// outstanding request with ErrConnectionClosed. It is safe to call repeatedly.
func (c *Connection) Close(ctx context.Context) error {
	select {
	case c.commands <- command{kind: cmdClose}:
	case <-c.done:
	case <-ctx.Done():
		return timeoutError(ctx.Err())
	}

	stopped := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(stopped)
	}()

	select {
	case <-stopped:
		return nil
	case <-ctx.Done():
		return timeoutError(ctx.Err())
	}
}

func (c *Connection) commandLoop() {
	defer c.wg.Done()

	for {
		select {
		case cmd := <-c.commands:
			if !c.handleCommand(cmd) {
				c.drainCommands()
				return
			}
		case <-c.done:
			c.drainCommands()
			return
		}
	}
}

func (c *Connection) handleCommand(cmd command) bool {
	switch cmd.kind {
	case cmdSendRequest:
		c.registerRequest(cmd)
	case cmdSubscribe:
		c.addSubscriber(cmd.method, cmd.subscription)
	case cmdUnsubscribe:
		c.removeSubscriber(cmd.method, cmd.subscriberID)
	case cmdClose:
		c.terminate(&Error{Code: ErrCodeConnectionClosed, Message: "connection closed"}, true)
		return false
	}
	return true
}

func (c *Connection) registerRequest(cmd command) {
	id := cmd.request.ID

	c.pendingMu.Lock()
	if c.terminated {
		err := c.termErr
		c.pendingMu.Unlock()
		cmd.reply <- replyResult{err: err}
		return
	}
	c.pending[id] = cmd.reply
	c.pendingMu.Unlock()

	data, err := json.Marshal(cmd.request)
	if err != nil {
		if reply := c.takePending(id); reply != nil {
			reply <- replyResult{err: serializationError(err)}
		}
		return
	}

	c.logger.Debug().Str("id", id).Str("method", cmd.request.Method).Msg("Sending request")

	select {
	case c.outbound <- data:
	case <-c.done:
	}
}

func (c *Connection) addSubscriber(method string, sub *Subscription) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()

	if c.subsClosed {
		sub.finish()
		return
	}
	c.subscribers[method] = append(c.subscribers[method], sub)

	c.logger.Debug().Str("method", method).Uint64("subscriber", sub.id).Msg("Subscribed to event")
}

func (c *Connection) removeSubscriber(method string, id uint64) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()

	subs, ok := c.subscribers[method]
	if !ok {
		return
	}

	kept := subs[:0]
	for _, sub := range subs {
		if sub.id == id {
			sub.halt()
			continue
		}
		kept = append(kept, sub)
	}
	if len(kept) == 0 {
		delete(c.subscribers, method)
	} else {
		c.subscribers[method] = kept
	}

	c.logger.Debug().Str("method", method).Uint64("subscriber", id).Msg("Unsubscribed from event")
}

// drainCommands resolves commands that were queued after the worker stopped
func (c *Connection) drainCommands() {
	for {
		select {
		case cmd := <-c.commands:
			switch cmd.kind {
			case cmdSendRequest:
				cmd.reply <- replyResult{err: c.termErr}
			case cmdSubscribe:
				cmd.subscription.finish()
			}
		default:
			return
		}
	}
}

func (c *Connection) takePending(id string) chan replyResult {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()

	reply, ok := c.pending[id]
	if !ok {
		return nil
	}
	delete(c.pending, id)
	return reply
}

func (c *Connection) sendLoop() {
	defer c.wg.Done()
	defer c.transport.Close()

	for {
		select {
		case data := <-c.outbound:
			if err := c.transport.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Error().Err(err).Msg("Failed to send WebSocket message")
				c.terminate(transportError(err), false)
				return
			}
		case <-c.done:
			if c.graceful {
				msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
				if err := c.transport.WriteMessage(websocket.CloseMessage, msg); err != nil {
					c.logger.Debug().Err(err).Msg("Failed to send close frame")
				}
			}
			return
		}
	}
}

func (c *Connection) receiveLoop() {
	defer c.wg.Done()

	for {
		messageType, data, err := c.transport.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.logger.Error().Err(err).Msg("WebSocket receive error")
			}
			c.terminate(transportError(err), false)
			return
		}

		if messageType != websocket.TextMessage {
			continue
		}
		c.dispatch(data)
	}
}

func (c *Connection) dispatch(data []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		c.logger.Warn().Err(err).Msg("Dropping malformed message")
		return
	}

	if frame.isResponse() {
		reply := c.takePending(*frame.ID)
		if reply == nil {
			c.logger.Debug().Str("id", *frame.ID).Msg("Dropping response nobody is waiting for")
			return
		}
		reply <- replyResult{response: frame.response()}
		return
	}

	if frame.Method == "" {
		c.logger.Debug().Msg("Dropping message that is neither response nor event")
		return
	}

	event := frame.event()
	observability.RecordProtocolEvent(event.Method)

	c.subsMu.RLock()
	for _, sub := range c.subscribers[event.Method] {
		sub.push(event)
	}
	c.subsMu.RUnlock()
}

// terminate moves the connection to its terminal state exactly once
func (c *Connection) terminate(err *Error, graceful bool) {
	c.terminateOnce.Do(func() {
		c.pendingMu.Lock()
		c.termErr = err
		c.terminated = true
		pending := c.pending
		c.pending = make(map[string]chan replyResult)
		c.pendingMu.Unlock()

		for _, reply := range pending {
			reply <- replyResult{err: err}
		}

		c.subsMu.Lock()
		c.subsClosed = true
		subscribers := c.subscribers
		c.subscribers = make(map[string][]*Subscription)
		c.subsMu.Unlock()

		for _, subs := range subscribers {
			for _, sub := range subs {
				sub.finish()
			}
		}

		c.graceful = graceful
		close(c.done)
		observability.ConnectionClosed()

		if graceful {
			c.logger.Info().Int("failed_requests", len(pending)).Msg("Connection closed")
		} else {
			c.logger.Warn().Err(err).Int("failed_requests", len(pending)).Msg("Connection terminated")
		}
	})
}

// pendingCount and subscriberCount expose the indices to tests
func (c *Connection) pendingCount() int {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	return len(c.pending)
}

func (c *Connection) subscriberCount(method string) (int, bool) {
	c.subsMu.RLock()
	defer c.subsMu.RUnlock()
	subs, ok := c.subscribers[method]
	return len(subs), ok
}

func statusOf(err error) string {
	var pe *Error
	if errors.As(err, &pe) {
		switch pe.Code {
		case ErrCodeTimeout:
			return "timeout"
		case ErrCodeErrorResponse:
			return "rejected"
		case ErrCodeConnectionClosed, ErrCodeChannelClosed:
			return "closed"
		}
	}
	return "error"
}
