// Package rpc multiplexes concurrent request/response calls over one
// WebSocket connection.
//
// A Session owns its connection, its table of pending calls and its id
// counter. Every outbound call registers a pending record keyed by a
// correlation id, and the first messageResponse carrying that id resolves it.
// Responses for unknown or already resolved ids are dropped. A transport
// failure fails every pending call and closes the session.
package rpc

import (
	"context"
	stdjson "encoding/json"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	json "github.com/json-iterator/go"
	"github.com/sackio/unibrowse-sub002/api/schemas"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second
	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second
	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Maximum message size allowed from peer, unless overridden.
	defaultReadLimit = 4 << 20

	DefaultTimeout        = 10 * time.Second
	DefaultExecuteTimeout = 15 * time.Second
)

// Timeouts holds per-call deadlines.
type Timeouts struct {
	Default time.Duration
	Execute time.Duration
}

// For returns the deadline for a call of the given type.
func (t Timeouts) For(msgType schemas.MessageType) time.Duration {
	if msgType == schemas.MsgExecuteMacro || msgType == schemas.MsgRunMacro {
		if t.Execute > 0 {
			return t.Execute
		}
		return DefaultExecuteTimeout
	}
	if t.Default > 0 {
		return t.Default
	}
	return DefaultTimeout
}

// Handler serves requests initiated by the peer. The returned value is
// serialized as the response result; a non-nil error becomes the response
// error string.
type Handler interface {
	HandleRequest(ctx context.Context, msgType schemas.MessageType, payload stdjson.RawMessage) (interface{}, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msgType schemas.MessageType, payload stdjson.RawMessage) (interface{}, error)

func (f HandlerFunc) HandleRequest(ctx context.Context, msgType schemas.MessageType, payload stdjson.RawMessage) (interface{}, error) {
	return f(ctx, msgType, payload)
}

// Options configures a Session. The zero value is usable.
type Options struct {
	Timeouts Timeouts
	// Handler serves inbound requests. Without one every inbound request is
	// answered with an error.
	Handler Handler
	// RateLimit caps inbound requests per second. Zero disables limiting.
	RateLimit  float64
	RateBurst  int
	SendBuffer int
	ReadLimit  int64
}

type outcome struct {
	result Result
	err    error
}

type pendingCall struct {
	msgType schemas.MessageType
	timer   *time.Timer
	done    chan outcome
}

// Session is one duplex connection with its own pending-call table.
type Session struct {
	id     string
	conn   *websocket.Conn
	logger *zap.Logger
	opts   Options

	counter atomic.Uint64

	mu      sync.Mutex
	pending map[string]*pendingCall
	closed  bool

	send    chan []byte
	limiter *rate.Limiter

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
	wg        sync.WaitGroup
}

// NewSession wraps conn. Call Start to begin pumping messages.
func NewSession(conn *websocket.Conn, logger *zap.Logger, opts Options) *Session {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 256
	}
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = defaultReadLimit
	}
	id := uuid.NewString()
	s := &Session{
		id:      id,
		conn:    conn,
		logger:  logger.Named("rpc").With(zap.String("session_id", id)),
		opts:    opts,
		pending: make(map[string]*pendingCall),
		send:    make(chan []byte, opts.SendBuffer),
		done:    make(chan struct{}),
	}
	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	return s
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// Start launches the read and write pumps. The session closes when ctx is
// cancelled or the connection fails.
func (s *Session) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(3)
	go s.readPump()
	go s.writePump()
	go func() {
		defer s.wg.Done()
		select {
		case <-s.ctx.Done():
			s.Close()
		case <-s.done:
		}
	}()
}

// Done is closed once the session has shut down.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns the error that closed the session, or nil while it is open.
func (s *Session) Err() error {
	select {
	case <-s.done:
		return s.closeErr
	default:
		return nil
	}
}

// Close shuts the session down and fails every pending call. It is safe to
// call more than once.
func (s *Session) Close() error {
	s.shutdown(schemas.NewConnectionError(nil, "session closed"))
	return nil
}

// Wait blocks until every goroutine started by the session has returned.
func (s *Session) Wait() {
	s.wg.Wait()
}

// Pending returns the number of outstanding calls.
func (s *Session) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Send issues a request and waits for its response, the call's deadline,
// ctx cancellation or session failure, whichever comes first. A timeout only
// abandons the call locally; the peer is not notified.
func (s *Session) Send(ctx context.Context, msgType schemas.MessageType, payload interface{}) (Result, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, &schemas.Error{Code: schemas.CodeValidation, Message: fmt.Sprintf("failed to serialize %s payload", msgType), Err: err}
	}

	id := s.nextID()
	data, err := json.Marshal(Request{ID: id, Type: msgType, Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("failed to serialize request envelope: %w", err)
	}

	call := &pendingCall{msgType: msgType, done: make(chan outcome, 1)}
	timeout := s.opts.Timeouts.For(msgType)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, s.connectionErr()
	}
	s.pending[id] = call
	call.timer = time.AfterFunc(timeout, func() { s.expire(id, timeout) })
	s.mu.Unlock()

	if err := s.enqueue(ctx, data); err != nil {
		s.abandon(id)
		return nil, err
	}

	select {
	case out := <-call.done:
		return out.result, out.err
	case <-ctx.Done():
		if s.abandon(id) {
			return nil, fmt.Errorf("call %s abandoned: %w", id, ctx.Err())
		}
		// Resolved concurrently; the outcome is already buffered.
		out := <-call.done
		return out.result, out.err
	}
}

// nextID combines a per-session counter with the current time.
func (s *Session) nextID() string {
	n := s.counter.Add(1)
	return strconv.FormatUint(n, 10) + "-" + strconv.FormatInt(time.Now().UnixNano(), 10)
}

func (s *Session) enqueue(ctx context.Context, data []byte) error {
	select {
	case <-s.done:
		return s.connectionErr()
	default:
	}
	select {
	case s.send <- data:
		return nil
	case <-s.done:
		return s.connectionErr()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// take removes and returns the pending record for id, stopping its timer.
// At most one caller ever gets a non-nil record for a given id.
func (s *Session) take(id string) *pendingCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	call, ok := s.pending[id]
	if !ok {
		return nil
	}
	delete(s.pending, id)
	call.timer.Stop()
	return call
}

func (s *Session) abandon(id string) bool {
	return s.take(id) != nil
}

func (s *Session) expire(id string, timeout time.Duration) {
	call := s.take(id)
	if call == nil {
		return
	}
	s.logger.Debug("Call timed out.", zap.String("request_id", id), zap.String("type", string(call.msgType)), zap.Duration("timeout", timeout))
	call.done <- outcome{err: schemas.NewTimeoutError("%s request %s timed out after %s", call.msgType, id, timeout)}
}

func (s *Session) resolve(p ResponsePayload) {
	call := s.take(p.RequestID)
	if call == nil {
		s.logger.Debug("Discarding response for unknown or resolved request.", zap.String("request_id", p.RequestID))
		return
	}
	if p.hasError() {
		call.done <- outcome{err: schemas.NewRemoteError(p.errorMessage())}
		return
	}
	call.done <- outcome{result: Result(p.Result)}
}

// failAll fails every pending call with err and refuses new ones.
func (s *Session) failAll(err error) {
	s.mu.Lock()
	calls := s.pending
	s.pending = make(map[string]*pendingCall)
	s.closed = true
	s.mu.Unlock()

	for _, call := range calls {
		call.timer.Stop()
		call.done <- outcome{err: err}
	}
	if len(calls) > 0 {
		s.logger.Warn("Failed pending calls on session shutdown.", zap.Int("count", len(calls)), zap.Error(err))
	}
}

func (s *Session) shutdown(cause error) {
	s.closeOnce.Do(func() {
		s.closeErr = cause
		s.failAll(cause)
		close(s.done)
		if s.cancel != nil {
			s.cancel()
		}
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		s.conn.Close()
		s.logger.Debug("Session closed.", zap.Error(cause))
	})
}

func (s *Session) connectionErr() error {
	if s.closeErr != nil {
		return s.closeErr
	}
	return schemas.NewConnectionError(nil, "session closed")
}

// readPump pumps messages from the websocket connection to the pending table
// and the handler.
func (s *Session) readPump() {
	defer s.wg.Done()

	s.conn.SetReadLimit(s.opts.ReadLimit)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error { s.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.logger.Warn("Websocket read error.", zap.Error(err))
			}
			s.shutdown(schemas.NewConnectionError(err, "connection lost"))
			return
		}

		var f frame
		if err := json.Unmarshal(message, &f); err != nil {
			s.logger.Error("Unparseable frame, closing session.", zap.Error(err), zap.ByteString("message", message))
			s.shutdown(schemas.NewConnectionError(err, "malformed frame"))
			return
		}

		if f.Type == schemas.MsgResponse {
			var p ResponsePayload
			if err := json.Unmarshal(f.Payload, &p); err != nil {
				s.logger.Error("Unparseable response payload, closing session.", zap.Error(err))
				s.shutdown(schemas.NewConnectionError(err, "malformed response payload"))
				return
			}
			s.resolve(p)
			continue
		}

		s.serve(f)
	}
}

// serve answers one inbound request on its own goroutine.
func (s *Session) serve(f frame) {
	if s.opts.Handler == nil {
		s.reply(newResponse(f.ID, nil, fmt.Sprintf("unsupported message type: %s", f.Type)))
		return
	}
	if s.limiter != nil && !s.limiter.Allow() {
		s.logger.Warn("Inbound request rate limited.", zap.String("request_id", f.ID), zap.String("type", string(f.Type)))
		s.reply(newResponse(f.ID, nil, "rate limit exceeded"))
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.reply(s.handle(f))
	}()
}

func (s *Session) handle(f frame) (resp Response) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Recovered from panic in request handler.", zap.Any("panic_value", r), zap.String("type", string(f.Type)), zap.Stack("stack"))
			resp = newResponse(f.ID, nil, fmt.Sprintf("internal error handling %s", f.Type))
		}
	}()

	value, err := s.opts.Handler.HandleRequest(s.ctx, f.Type, f.Payload)
	if err != nil {
		return newResponse(f.ID, nil, err.Error())
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return newResponse(f.ID, nil, fmt.Sprintf("failed to serialize result: %v", err))
	}
	return newResponse(f.ID, raw, "")
}

func (s *Session) reply(resp Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("Failed to serialize response.", zap.Error(err))
		return
	}
	select {
	case s.send <- data:
	case <-s.done:
		s.logger.Debug("Dropping response on closed session.", zap.String("request_id", resp.Payload.RequestID))
	}
}

// writePump pumps queued frames to the websocket connection, one message per
// frame, and keeps the connection alive with pings.
func (s *Session) writePump() {
	defer s.wg.Done()
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case message := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				s.shutdown(schemas.NewConnectionError(err, "write failed"))
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.shutdown(schemas.NewConnectionError(err, "ping failed"))
				return
			}
		}
	}
}
