package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"github.com/google/uuid"
	"github.com/tmaxmax/go-sse"
)

// SSEServerTransport is a ServerTransport over Server-Sent Events: clients open a
// long-lived GET connection for server-to-client streaming, and POST individual
// JSON-RPC messages to a per-session endpoint URL handed back over that stream,
// per the protocol's HTTP+SSE transport binding.
//
// Wire HandleSSE to the endpoint clients GET to connect, and HandleMessage to the
// endpoint clients POST messages to; the latter must be reachable at the messageURL
// given to NewSSEServerTransport.
type SSEServerTransport struct {
	messageURL string
	logger     *slog.Logger

	mu       sync.Mutex
	sessions map[string]*sseServerTransportSession
	accept   chan Transport

	done   chan struct{}
	closed chan struct{}
}

// NewSSEServerTransport builds an SSEServerTransport whose HandleSSE responses
// point clients at messageURL (with a sessionID query parameter appended) to post
// their requests to.
func NewSSEServerTransport(messageURL string) *SSEServerTransport {
	return &SSEServerTransport{
		messageURL: messageURL,
		logger:     slog.Default(),
		sessions:   make(map[string]*sseServerTransportSession),
		accept:     make(chan Transport, 8),
		done:       make(chan struct{}),
		closed:     make(chan struct{}),
	}
}

// Accept blocks until a client opens an SSE connection via HandleSSE, or ctx is
// cancelled, or Shutdown is called.
func (s *SSEServerTransport) Accept(ctx context.Context) (Transport, error) {
	select {
	case t, ok := <-s.accept:
		if !ok {
			return nil, errTransportClosed
		}
		return t, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		return nil, errTransportClosed
	}
}

// Shutdown terminates every active session and stops accepting new ones.
func (s *SSEServerTransport) Shutdown(ctx context.Context) error {
	close(s.done)

	s.mu.Lock()
	sessions := make([]*sseServerTransportSession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	for _, sess := range sessions {
		_ = sess.Close()
	}
	return nil
}

// HandleSSE upgrades a GET request to an SSE stream, assigns the connection a
// session id, and sends the client its message-posting endpoint as the first SSE
// event before yielding the session to Accept.
func (s *SSEServerTransport) HandleSSE() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgraded, err := sse.Upgrade(w, r)
		if err != nil {
			http.Error(w, fmt.Errorf("failed to upgrade session: %w", err).Error(), http.StatusInternalServerError)
			return
		}

		sessID := uuid.New().String()
		endpoint := fmt.Sprintf("%s?sessionID=%s", s.messageURL, sessID)

		msg := sse.Message{Type: sse.Type("endpoint")}
		msg.AppendData(endpoint)
		if err := upgraded.Send(&msg); err != nil {
			http.Error(w, fmt.Errorf("failed to write endpoint event: %w", err).Error(), http.StatusInternalServerError)
			return
		}
		if err := upgraded.Flush(); err != nil {
			http.Error(w, fmt.Errorf("failed to flush endpoint event: %w", err).Error(), http.StatusInternalServerError)
			return
		}

		sess := newSSEServerTransportSession(sessID, upgraded, s.logger)
		s.mu.Lock()
		s.sessions[sessID] = sess
		s.mu.Unlock()

		select {
		case s.accept <- sess:
		case <-s.done:
			_ = sess.Close()
			return
		}

		select {
		case <-sess.closed:
		case <-r.Context().Done():
			_ = sess.Close()
		}

		s.mu.Lock()
		delete(s.sessions, sessID)
		s.mu.Unlock()
	})
}

// HandleMessage accepts a client's POSTed JSON-RPC message and routes it to the
// session named by the sessionID query parameter.
func (s *SSEServerTransport) HandleMessage() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessID := r.URL.Query().Get("sessionID")
		if sessID == "" {
			http.Error(w, "missing sessionID query parameter", http.StatusBadRequest)
			return
		}

		var msg JSONRPCMessage
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			http.Error(w, fmt.Errorf("failed to decode message: %w", err).Error(), http.StatusBadRequest)
			return
		}

		s.mu.Lock()
		sess, ok := s.sessions[sessID]
		s.mu.Unlock()
		if !ok {
			http.Error(w, "unknown session", http.StatusNotFound)
			return
		}

		select {
		case sess.inbound <- msg:
		case <-sess.closed:
			http.Error(w, "session closed", http.StatusGone)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
}

// sseServerTransportSession is one accepted SSE connection, adapted to Transport.
type sseServerTransportSession struct {
	id     string
	sess   *sse.Session
	logger *slog.Logger

	writeMu sync.Mutex

	inbound chan JSONRPCMessage
	errs    chan error
	closed  chan struct{}
	once    sync.Once
}

func newSSEServerTransportSession(id string, sess *sse.Session, logger *slog.Logger) *sseServerTransportSession {
	return &sseServerTransportSession{
		id:      id,
		sess:    sess,
		logger:  logger,
		inbound: make(chan JSONRPCMessage, 8),
		errs:    make(chan error, 1),
		closed:  make(chan struct{}),
	}
}

func (s *sseServerTransportSession) Send(ctx context.Context, msg JSONRPCMessage) error {
	bs, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("mcp: failed to marshal message: %w", err)
	}

	sseMsg := &sse.Message{Type: sse.Type("message")}
	sseMsg.AppendData(string(bs))

	done := make(chan error, 1)
	go func() {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()
		if err := s.sess.Send(sseMsg); err != nil {
			done <- err
			return
		}
		done <- s.sess.Flush()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.closed:
		return errTransportClosed
	}
}

func (s *sseServerTransportSession) Receive(_ context.Context) (<-chan JSONRPCMessage, <-chan error) {
	out := make(chan JSONRPCMessage)
	go func() {
		defer close(out)
		for {
			select {
			case msg := <-s.inbound:
				select {
				case out <- msg:
				case <-s.closed:
					return
				}
			case <-s.closed:
				return
			}
		}
	}()
	return out, s.errs
}

func (s *sseServerTransportSession) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

// SSEClientTransport is a Transport that connects to an SSEServerTransport: it GETs
// the SSE stream for inbound messages and POSTs outbound messages to the endpoint
// URL the server sends as the first event.
type SSEClientTransport struct {
	httpClient *http.Client
	connectURL string

	logger *slog.Logger

	messageURL   string
	messageReady chan struct{}

	msgs chan JSONRPCMessage
	errs chan error
	done chan struct{}
	once sync.Once
}

// SSEClientTransportOption configures an SSEClientTransport.
type SSEClientTransportOption func(*SSEClientTransport)

// WithSSEClientHTTPClient overrides the http.Client used for outbound POSTs and the
// initial GET. Defaults to http.DefaultClient.
func WithSSEClientHTTPClient(client *http.Client) SSEClientTransportOption {
	return func(t *SSEClientTransport) { t.httpClient = client }
}

// NewSSEClientTransport builds a Transport that connects to connectURL.
func NewSSEClientTransport(connectURL string, options ...SSEClientTransportOption) *SSEClientTransport {
	t := &SSEClientTransport{
		httpClient:   http.DefaultClient,
		connectURL:   connectURL,
		logger:       slog.Default(),
		messageReady: make(chan struct{}),
		msgs:         make(chan JSONRPCMessage),
		errs:         make(chan error, 1),
		done:         make(chan struct{}),
	}
	for _, opt := range options {
		opt(t)
	}
	return t
}

// Connect performs the initial GET and starts the background SSE-reading goroutine.
// It must be called before Send/Receive are used; a Transport returned to a
// Client/Server by a dialer should already be connected.
func (t *SSEClientTransport) Connect(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.connectURL, nil)
	if err != nil {
		return fmt.Errorf("mcp: failed to build SSE connect request: %w", err)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("mcp: failed to connect to SSE server: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return fmt.Errorf("mcp: unexpected SSE connect status: %d", resp.StatusCode)
	}

	go t.readLoop(resp.Body)

	select {
	case <-t.messageReady:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *SSEClientTransport) readLoop(body io.ReadCloser) {
	defer func() {
		body.Close()
		close(t.msgs)
	}()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-t.done:
			body.Close()
		case <-stop:
		}
	}()

	for ev, err := range sse.Read(body, nil) {
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				t.logger.Error("mcp: failed to read SSE event", "err", err)
			}
			return
		}

		switch ev.Type {
		case "endpoint":
			u, err := url.Parse(ev.Data)
			if err != nil || u.String() == "" {
				t.logger.Error("mcp: invalid endpoint event", "err", err)
				return
			}
			t.messageURL = u.String()
			close(t.messageReady)
		case "message":
			var msg JSONRPCMessage
			if err := json.Unmarshal([]byte(ev.Data), &msg); err != nil {
				t.logger.Error("mcp: failed to unmarshal SSE message", "err", err)
				continue
			}
			select {
			case t.msgs <- msg:
			case <-t.done:
				return
			}
		default:
			t.logger.Warn("mcp: unhandled SSE event type", "type", ev.Type)
		}
	}
}

// Send POSTs msg to the message endpoint the server advertised. It blocks until a
// connect has completed and an endpoint URL is known.
func (t *SSEClientTransport) Send(ctx context.Context, msg JSONRPCMessage) error {
	select {
	case <-t.messageReady:
	case <-ctx.Done():
		return ctx.Err()
	}

	bs, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("mcp: failed to marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.messageURL, bytes.NewReader(bs))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("mcp: failed to post message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("mcp: unexpected status posting message: %d", resp.StatusCode)
	}
	return nil
}

// Receive returns the channel of inbound messages streamed over SSE.
func (t *SSEClientTransport) Receive(_ context.Context) (<-chan JSONRPCMessage, <-chan error) {
	return t.msgs, t.errs
}

// Close stops the background read goroutine.
func (t *SSEClientTransport) Close() error {
	t.once.Do(func() { close(t.done) })
	return nil
}
