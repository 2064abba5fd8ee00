package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// cancelNotificationTimeout bounds how long sendRequest waits to deliver
// notifications/cancelled after its caller's context is done; the caller's own ctx is
// already cancelled at that point, so a fresh, briefly-lived context is required to
// give the notification a real chance to reach the peer.
const cancelNotificationTimeout = 5 * time.Second

// Transport is an established duplex session with a single peer. Send awaits write
// completion; Receive yields a lazy, ordered, finite sequence of inbound messages that
// ends when the peer closes the connection. Messages are delivered in the order the
// peer wrote them; send after close fails with a transport error, and receive after
// close yields no further messages.
type Transport interface {
	Send(ctx context.Context, msg JSONRPCMessage) error
	Receive(ctx context.Context) (<-chan JSONRPCMessage, <-chan error)
	Close() error
}

// ServerTransport is a listener that accepts sessions. Accept is called at most once
// concurrently for carriers that support a single session at a time (stdio); carriers
// backed by many simultaneous connections (SSE) support unbounded concurrent accepts.
type ServerTransport interface {
	Accept(ctx context.Context) (Transport, error)
	Shutdown(ctx context.Context) error
}

// errTransportClosed is returned by sendRequest/sendMessage once the endpoint's read
// loop has exited, for any reason (peer EOF, transport error, or local close).
var errTransportClosed = errors.New("mcp: transport closed")

// errAlreadyConnected is returned when a second connect/accept is attempted on an
// endpoint that already owns a transport.
var errAlreadyConnected = errors.New("mcp: already in use")

// requestHandler deserializes params, invokes a user function, and serializes the
// result. A returned JSONRPCError value is sent back verbatim; any other error is sent
// as ErrCodeInternalError carrying the error's text.
type requestHandler func(ctx context.Context, params json.RawMessage) (any, error)

// notificationHandler processes one inbound notification's raw params.
type notificationHandler func(ctx context.Context, params json.RawMessage)

// pendingRequest is the one-shot completion slot for a locally issued request,
// resolved by the read loop on response arrival, cancellation, or transport loss.
type pendingRequest struct {
	resultCh chan JSONRPCMessage
}

// endpoint is the shared JSON-RPC engine underlying both Client and Server. It owns
// request/response correlation, handler dispatch, and cancellation propagation, and is
// embedded by both roles rather than duplicated, per the protocol's single-endpoint
// design: a client and a server differ only in which handlers they install and which
// side drives the initialize handshake.
type endpoint struct {
	logger *slog.Logger

	transport Transport
	connected atomic.Bool

	nextID atomic.Int64

	// pending tracks outbound requests awaiting a response, keyed by the RequestID we
	// generated when sending. Keyed by the RequestID value itself, not its string form,
	// so a string id and an integer id with the same text never collide.
	pending sync.Map // map[RequestID]*pendingRequest

	// inboundCancels tracks cancel funcs for requests we are currently dispatching,
	// keyed by the RequestID the peer sent, so a notifications/cancelled for that id
	// can cancel the in-flight handler without colliding across id variants.
	inboundCancels sync.Map // map[RequestID]context.CancelFunc

	requestHandlers      sync.Map // map[string]requestHandler
	notificationHandlers sync.Map // map[string][]notificationHandler

	writeMu sync.Mutex

	done chan struct{}

	wg sync.WaitGroup
}

func newEndpoint(logger *slog.Logger) *endpoint {
	if logger == nil {
		logger = slog.Default()
	}
	return &endpoint{
		logger: logger,
		done:   make(chan struct{}),
	}
}

// setRequestHandler registers the dispatcher for an inbound method. Keys are unique;
// the last registration for a method wins.
func (e *endpoint) setRequestHandler(method string, handler requestHandler) {
	e.requestHandlers.Store(method, handler)
}

// addNotificationHandler appends a handler to the ordered list invoked for an inbound
// notification method. All handlers for a method run sequentially; an error from one
// does not suppress the others (handlers here report failure only via logging).
// Registration happens during setup, before connect; concurrent registrations for the
// same method are not synchronized with each other.
func (e *endpoint) addNotificationHandler(method string, handler notificationHandler) {
	v, loaded := e.notificationHandlers.LoadOrStore(method, []notificationHandler{handler})
	if !loaded {
		return
	}
	existing, _ := v.([]notificationHandler)
	e.notificationHandlers.Store(method, append(append([]notificationHandler{}, existing...), handler))
}

// connect installs the transport and starts the background read loop. It may be
// called exactly once per endpoint; a concurrent or repeated call fails with
// errAlreadyConnected.
func (e *endpoint) connect(transport Transport) error {
	if !e.connected.CompareAndSwap(false, true) {
		return errAlreadyConnected
	}
	e.transport = transport
	e.wg.Add(1)
	go e.readLoop()
	return nil
}

// close tears down the endpoint: closes the transport, drains the read loop (failing
// all pending outbound requests and cancelling all inbound handler tokens), and
// returns once teardown has completed.
func (e *endpoint) close() error {
	select {
	case <-e.done:
		return nil
	default:
	}

	var err error
	if e.transport != nil {
		err = e.transport.Close()
	}
	e.wg.Wait()
	return err
}

func (e *endpoint) readLoop() {
	defer e.wg.Done()
	defer e.teardown()

	ctx := context.Background()
	msgs, errs := e.transport.Receive(ctx)

	for {
		select {
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			e.handleMessage(msg)
		case err, ok := <-errs:
			if !ok {
				continue
			}
			if err != nil {
				e.logger.Error("mcp: read loop error", "err", err)
			}
			return
		}
	}
}

func (e *endpoint) teardown() {
	close(e.done)

	e.pending.Range(func(key, value any) bool {
		pr, ok := value.(*pendingRequest)
		if ok {
			pr.resultCh <- JSONRPCMessage{
				JSONRPC: JSONRPCVersion,
				Error: &JSONRPCError{
					Code:    ErrCodeInternalError,
					Message: errTransportClosed.Error(),
				},
			}
		}
		e.pending.Delete(key)
		return true
	})

	e.inboundCancels.Range(func(key, value any) bool {
		if cancel, ok := value.(context.CancelFunc); ok {
			cancel()
		}
		e.inboundCancels.Delete(key)
		return true
	})
}

func (e *endpoint) handleMessage(msg JSONRPCMessage) {
	switch {
	case msg.IsResponse():
		e.handleResponse(msg)
	case msg.IsRequest():
		e.handleRequest(msg)
	default:
		// Notification: method set, no id.
		e.handleNotification(msg)
	}
}

func (e *endpoint) handleResponse(msg JSONRPCMessage) {
	key := *msg.ID
	v, ok := e.pending.LoadAndDelete(key)
	if !ok {
		e.logger.Warn("mcp: response with unknown id dropped", "id", key.String())
		return
	}
	pr, ok := v.(*pendingRequest)
	if !ok {
		return
	}
	pr.resultCh <- msg
}

func (e *endpoint) handleNotification(msg JSONRPCMessage) {
	if msg.Method == NotificationCancelled {
		var params notificationsCancelledParams
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			e.logger.Error("mcp: malformed notifications/cancelled params", "err", err)
			return
		}
		if cancel, ok := e.inboundCancels.Load(params.RequestID); ok {
			if fn, ok := cancel.(context.CancelFunc); ok {
				fn()
			}
		}
		return
	}

	v, ok := e.notificationHandlers.Load(msg.Method)
	if !ok {
		return
	}
	handlers, ok := v.([]notificationHandler)
	if !ok {
		return
	}
	for _, h := range handlers {
		h(context.Background(), msg.Params)
	}
}

func (e *endpoint) handleRequest(msg JSONRPCMessage) {
	v, ok := e.requestHandlers.Load(msg.Method)
	if !ok {
		e.writeResponse(*msg.ID, nil, &JSONRPCError{
			Code:    ErrCodeMethodNotFound,
			Message: fmt.Sprintf("method not found: %s", msg.Method),
		})
		return
	}
	handler, ok := v.(requestHandler)
	if !ok {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	key := *msg.ID
	e.inboundCancels.Store(key, cancel)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer func() {
			e.inboundCancels.Delete(key)
			cancel()
		}()

		result, err := handler(ctx, msg.Params)
		if err != nil {
			var rpcErr JSONRPCError
			if errors.As(err, &rpcErr) {
				e.writeResponse(*msg.ID, nil, &rpcErr)
				return
			}
			e.writeResponse(*msg.ID, nil, &JSONRPCError{
				Code:    ErrCodeInternalError,
				Message: err.Error(),
			})
			return
		}
		e.writeResponse(*msg.ID, result, nil)
	}()
}

func (e *endpoint) writeResponse(id RequestID, result any, rpcErr *JSONRPCError) {
	msg := JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		ID:      &id,
		Error:   rpcErr,
	}
	if rpcErr == nil {
		resBs, err := json.Marshal(result)
		if err != nil {
			e.logger.Error("mcp: failed to marshal result", "err", err)
			msg.Error = &JSONRPCError{Code: ErrCodeInternalError, Message: err.Error()}
		} else {
			msg.Result = resBs
		}
	}

	select {
	case <-e.done:
		return
	default:
	}

	if err := e.send(context.Background(), msg); err != nil {
		e.logger.Error("mcp: failed to send response", "err", err)
	}
}

// send writes a raw outbound message, serialized against concurrent writers by a
// single write lock so frames remain atomic on byte-oriented transports.
func (e *endpoint) send(ctx context.Context, msg JSONRPCMessage) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	if err := e.transport.Send(ctx, msg); err != nil {
		return fmt.Errorf("mcp: transport send failed: %w", err)
	}
	return nil
}

// sendNotification writes a message with no id, used for fire-and-forget notifications.
func (e *endpoint) sendNotification(ctx context.Context, method string, params any) error {
	var paramsBs json.RawMessage
	if params != nil {
		bs, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("mcp: failed to marshal notification params: %w", err)
		}
		paramsBs = bs
	}
	return e.send(ctx, JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		Method:  method,
		Params:  paramsBs,
	})
}

// sendRequest allocates the next request id (a positive integer, strictly increasing
// within this endpoint), registers a pending completion, writes the request, and
// awaits either the response, cancellation of ctx, or transport teardown. Cancelling
// ctx sends notifications/cancelled carrying the allocated id before failing the
// caller with ctx.Err() (context.Canceled, or context.DeadlineExceeded on a timeout).
func (e *endpoint) sendRequest(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := NewRequestID(e.nextID.Add(1))

	var paramsBs json.RawMessage
	if params != nil {
		bs, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("mcp: failed to marshal request params: %w", err)
		}
		paramsBs = bs
	}

	pr := &pendingRequest{resultCh: make(chan JSONRPCMessage, 1)}
	e.pending.Store(id, pr)

	msg := JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		ID:      &id,
		Method:  method,
		Params:  paramsBs,
	}
	if err := e.send(ctx, msg); err != nil {
		e.pending.Delete(id)
		return nil, err
	}

	select {
	case resMsg := <-pr.resultCh:
		if resMsg.Error != nil {
			return nil, *resMsg.Error
		}
		return resMsg.Result, nil
	case <-ctx.Done():
		e.pending.Delete(id)
		notifyCtx, cancel := context.WithTimeout(context.Background(), cancelNotificationTimeout)
		defer cancel()
		if err := e.sendNotification(notifyCtx, NotificationCancelled, notificationsCancelledParams{
			RequestID: id,
			Reason:    "context cancelled",
		}); err != nil {
			e.logger.Warn("mcp: failed to send notifications/cancelled", "id", id.String(), "err", err)
		}
		return nil, ctx.Err()
	case <-e.done:
		return nil, errTransportClosed
	}
}
