package mcp

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"
)

// testEchoToolServer implements ToolServer for a single "echo" tool, used across
// several integration tests below.
type testEchoToolServer struct{}

func (testEchoToolServer) ListTools(_ context.Context, _ ListToolsParams) (ListToolsResult, error) {
	return ListToolsResult{Tools: []Tool{{Name: "echo", Description: "echoes its input"}}}, nil
}

func (testEchoToolServer) CallTool(_ context.Context, params CallToolParams) (CallToolResult, error) {
	var args struct {
		Text string `json:"text"`
	}
	if len(params.Arguments) > 0 {
		if err := json.Unmarshal(params.Arguments, &args); err != nil {
			return CallToolResult{}, err
		}
	}
	return CallToolResult{Content: []Content{{Type: ContentTypeText, Text: args.Text}}}, nil
}

// newTestSession builds a connected Client/Server pair over an in-memory
// transport and tears both down at test cleanup.
func newTestSession(t *testing.T, opts ...ServerOption) (*Client, *Server) {
	t.Helper()

	pair := NewInMemoryTransportPair()
	server := NewServer(Info{Name: "test-server", Version: "0.0.1"}, opts...)

	serverTransport := NewInMemoryServerTransport()
	serverTransport.Offer(pair.Server)

	serveCtx, cancelServe := context.WithCancel(context.Background())
	serveDone := make(chan error, 1)
	go func() { serveDone <- server.Serve(serveCtx, serverTransport) }()

	client := NewClient(Info{Name: "test-client", Version: "0.0.1"})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Connect(ctx, pair.Client); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}

	t.Cleanup(func() {
		_ = client.Close()
		cancelServe()
		<-serveDone
	})

	return client, server
}

func TestInitializeHandshake(t *testing.T) {
	client, _ := newTestSession(t, WithToolServer(testEchoToolServer{}, false))

	if client.ServerInfo().Name != "test-server" {
		t.Errorf("ServerInfo().Name = %q, want %q", client.ServerInfo().Name, "test-server")
	}
	if client.ServerCapabilities().Tools == nil {
		t.Error("expected server to advertise tools capability")
	}
	if client.ServerCapabilities().Prompts != nil {
		t.Error("expected server not to advertise prompts capability")
	}
}

func TestListAndCallTool(t *testing.T) {
	client, _ := newTestSession(t, WithToolServer(testEchoToolServer{}, false))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	listResult, err := client.ListTools(ctx, ListToolsParams{})
	if err != nil {
		t.Fatalf("ListTools() error: %v", err)
	}
	if len(listResult.Tools) != 1 || listResult.Tools[0].Name != "echo" {
		t.Fatalf("ListTools() = %+v, want single echo tool", listResult.Tools)
	}

	args, err := json.Marshal(map[string]string{"text": "hello"})
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}
	callResult, err := client.CallTool(ctx, CallToolParams{Name: "echo", Arguments: args})
	if err != nil {
		t.Fatalf("CallTool() error: %v", err)
	}
	if len(callResult.Content) != 1 || callResult.Content[0].Text != "hello" {
		t.Fatalf("CallTool() = %+v, want echoed text", callResult.Content)
	}
}

func TestCallUnsupportedCapabilityFails(t *testing.T) {
	client, _ := newTestSession(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.ListTools(ctx, ListToolsParams{}); err == nil {
		t.Error("expected ListTools() to fail when server has no tool server configured")
	}
}

func TestUnknownMethodFails(t *testing.T) {
	client, _ := newTestSession(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := client.sendRequest(ctx, "not/a/real/method", nil)
	if err == nil {
		t.Fatal("expected error calling unknown method")
	}
	rpcErr, ok := err.(JSONRPCError)
	if !ok {
		t.Fatalf("expected JSONRPCError, got %T: %v", err, err)
	}
	if rpcErr.Code != ErrCodeMethodNotFound {
		t.Errorf("error code = %d, want %d", rpcErr.Code, ErrCodeMethodNotFound)
	}
}

func TestDoubleInitializeRejected(t *testing.T) {
	client, _ := newTestSession(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := client.sendRequest(ctx, MethodInitialize, InitializeParams{
		ProtocolVersion: protocolVersion,
		Capabilities:    ClientCapabilities{},
		ClientInfo:      Info{Name: "test-client", Version: "0.0.1"},
	})
	if err == nil {
		t.Fatal("expected error on second initialize")
	}
	rpcErr, ok := err.(JSONRPCError)
	if !ok {
		t.Fatalf("expected JSONRPCError, got %T: %v", err, err)
	}
	if rpcErr.Code != ErrCodeInvalidRequest {
		t.Errorf("error code = %d, want %d", rpcErr.Code, ErrCodeInvalidRequest)
	}
}

func TestConnectTwiceFails(t *testing.T) {
	client, _ := newTestSession(t)

	pair := NewInMemoryTransportPair()
	if err := client.Connect(context.Background(), pair.Client); err != errAlreadyConnected {
		t.Errorf("second Connect() = %v, want %v", err, errAlreadyConnected)
	}
}

// scriptedTransport is a Transport driven directly by a test goroutine, used where a
// real Server would behave correctly and the test needs to inject a specific (here,
// protocol-version-mismatched) response instead.
type scriptedTransport struct {
	toPeer   chan JSONRPCMessage
	fromPeer chan JSONRPCMessage
	errs     chan error
	done     chan struct{}
	once     sync.Once
}

func newScriptedTransport() *scriptedTransport {
	return &scriptedTransport{
		toPeer:   make(chan JSONRPCMessage, 8),
		fromPeer: make(chan JSONRPCMessage, 8),
		errs:     make(chan error, 1),
		done:     make(chan struct{}),
	}
}

func (t *scriptedTransport) Send(ctx context.Context, msg JSONRPCMessage) error {
	select {
	case t.toPeer <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-t.done:
		return errTransportClosed
	}
}

func (t *scriptedTransport) Receive(_ context.Context) (<-chan JSONRPCMessage, <-chan error) {
	return t.fromPeer, t.errs
}

func (t *scriptedTransport) Close() error {
	t.once.Do(func() {
		close(t.done)
		close(t.fromPeer)
	})
	return nil
}

// TestVersionMismatchFailsConnect verifies that a server offering a protocol
// version the client didn't request fails Connect with an error naming both
// versions, and leaves the session unusable afterward.
func TestVersionMismatchFailsConnect(t *testing.T) {
	const serverVersion = "v2"

	transport := newScriptedTransport()
	go func() {
		req := <-transport.toPeer
		id := *req.ID
		result, _ := json.Marshal(InitializeResult{
			ProtocolVersion: serverVersion,
			ServerInfo:      Info{Name: "bad-server", Version: "9.9.9"},
		})
		transport.fromPeer <- JSONRPCMessage{JSONRPC: JSONRPCVersion, ID: &id, Result: result}
	}()

	client := NewClient(Info{Name: "test-client", Version: "0.0.1"})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := client.Connect(ctx, transport)
	if err == nil {
		t.Fatal("expected Connect() to fail on protocol version mismatch")
	}
	if !strings.Contains(err.Error(), protocolVersion) || !strings.Contains(err.Error(), serverVersion) {
		t.Errorf("Connect() error = %q, want it to name both %q and %q", err, protocolVersion, serverVersion)
	}

	select {
	case <-transport.done:
	default:
		t.Error("expected transport to be closed after a protocol version mismatch")
	}
}

// blockingToolServer blocks CallTool until its context is cancelled, reporting the
// cancellation on a channel the test can observe.
type blockingToolServer struct {
	cancelled chan struct{}
}

func (b *blockingToolServer) ListTools(_ context.Context, _ ListToolsParams) (ListToolsResult, error) {
	return ListToolsResult{Tools: []Tool{{Name: "block"}}}, nil
}

func (b *blockingToolServer) CallTool(ctx context.Context, _ CallToolParams) (CallToolResult, error) {
	<-ctx.Done()
	close(b.cancelled)
	return CallToolResult{}, ctx.Err()
}

// TestCancellationPropagatesToServerHandler verifies that cancelling the caller's
// context delivers notifications/cancelled to the server within 100ms, cancelling
// the in-flight handler's own context, and that the cancellation surfaces as an
// error to the original caller.
func TestCancellationPropagatesToServerHandler(t *testing.T) {
	blocker := &blockingToolServer{cancelled: make(chan struct{})}
	client, _ := newTestSession(t, WithToolServer(blocker, false))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := client.CallTool(ctx, CallToolParams{Name: "block"})
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Error("expected CallTool() to surface a cancellation error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for CallTool() to return after cancel")
	}

	select {
	case <-blocker.cancelled:
	case <-time.After(100 * time.Millisecond):
		t.Error("server handler's context was not cancelled within 100ms of client cancel")
	}
}

// toolListChangeWatcher records tools/list_changed notifications and signals the
// test's goroutine on the first one.
type toolListChangeWatcher struct {
	mu      sync.Mutex
	changed int
	notify  chan struct{}
}

func (w *toolListChangeWatcher) OnToolListChanged() {
	w.mu.Lock()
	w.changed++
	w.mu.Unlock()
	select {
	case w.notify <- struct{}{}:
	default:
	}
}

// TestToolListChangedObservedByClient verifies that mutating a server's tool
// collection after initialization reaches the client as
// notifications/tools/list_changed.
func TestToolListChangedObservedByClient(t *testing.T) {
	toolSet := NewToolSet()
	watcher := &toolListChangeWatcher{notify: make(chan struct{}, 1)}

	pair := NewInMemoryTransportPair()
	server := NewServer(Info{Name: "test-server", Version: "0.0.1"}, WithToolSet(toolSet))

	serverTransport := NewInMemoryServerTransport()
	serverTransport.Offer(pair.Server)

	serveCtx, cancelServe := context.WithCancel(context.Background())
	serveDone := make(chan error, 1)
	go func() { serveDone <- server.Serve(serveCtx, serverTransport) }()

	client := NewClient(Info{Name: "test-client", Version: "0.0.1"}, WithClientToolListWatcher(watcher))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Connect(ctx, pair.Client); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	t.Cleanup(func() {
		_ = client.Close()
		cancelServe()
		<-serveDone
	})

	// The server reads messages in order, so once this round trip completes it has
	// handled notifications/initialized and subscribed to the tool set.
	if _, err := client.ListTools(ctx, ListToolsParams{}); err != nil {
		t.Fatalf("ListTools() error: %v", err)
	}

	toolSet.Add(Tool{Name: "new-tool"}, func(_ context.Context, _ json.RawMessage) (CallToolResult, error) {
		return CallToolResult{}, nil
	})

	select {
	case <-watcher.notify:
	case <-time.After(2 * time.Second):
		t.Fatal("client did not observe tools/list_changed after collection mutation")
	}
}
