package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// RootsListHandler is implemented by a client host to answer roots/list requests
// from the server: the set of filesystem-like anchors the client exposes.
type RootsListHandler interface {
	ListRoots(ctx context.Context) ([]Root, error)
}

// SamplingHandler is implemented by a client host to answer sampling/createMessage
// requests from the server, typically by delegating to a local or hosted LLM.
type SamplingHandler interface {
	CreateMessage(ctx context.Context, params CreateMessageParams) (CreateMessageResult, error)
}

// PromptListWatcher is notified when the server's prompt list changes.
type PromptListWatcher interface {
	OnPromptListChanged()
}

// ResourceListWatcher is notified when the server's resource list changes.
type ResourceListWatcher interface {
	OnResourceListChanged()
}

// ResourceSubscribedWatcher is notified when a subscribed resource is updated.
type ResourceSubscribedWatcher interface {
	OnResourceSubscribed(uri string)
}

// ToolListWatcher is notified when the server's tool list changes.
type ToolListWatcher interface {
	OnToolListChanged()
}

// ProgressListener receives progress notifications for requests carrying a progress
// token.
type ProgressListener interface {
	OnProgress(params ProgressParams)
}

// LogReceiver receives log messages emitted by the server.
type LogReceiver interface {
	OnLog(params LogParams)
}

// clientState tracks a Client through its connection lifecycle: an idle client can
// Connect; a connected client can only be closed, never reconnected, mirroring
// spec.md's connect-exclusivity invariant.
type clientState int32

const (
	clientStateIdle clientState = iota
	clientStateConnecting
	clientStateReady
	clientStateClosed
)

// ClientOption configures optional Client behavior at construction time.
type ClientOption func(*Client)

// Client implements the client role of the Model Context Protocol: it drives the
// initialize handshake, issues typed requests for the server's tools, prompts, and
// resources, and answers server-initiated roots/sampling requests through
// host-supplied handlers.
//
// A Client is constructed with NewClient and must be connected with Connect before
// any other method is called. Connect may be called at most once; a second call
// fails rather than silently reconnecting.
type Client struct {
	*endpoint

	capabilities ClientCapabilities
	info         Info

	serverInfo         Info
	serverCapabilities ServerCapabilities

	rootsListHandler RootsListHandler
	samplingHandler  SamplingHandler

	promptListWatcher         PromptListWatcher
	resourceListWatcher       ResourceListWatcher
	resourceSubscribedWatcher ResourceSubscribedWatcher
	toolListWatcher           ToolListWatcher
	progressListener          ProgressListener
	logReceiver               LogReceiver

	pingInterval         time.Duration
	pingTimeoutThreshold int
	initTimeout          time.Duration

	state atomic.Int32
}

var (
	defaultClientPingInterval         = 30 * time.Second
	defaultClientPingTimeoutThreshold = 3
	defaultClientInitTimeout          = 60 * time.Second
)

// WithClientRootsListHandler sets the handler answering roots/list requests and
// advertises the roots capability.
func WithClientRootsListHandler(handler RootsListHandler) ClientOption {
	return func(c *Client) { c.rootsListHandler = handler }
}

// WithClientSamplingHandler sets the handler answering sampling/createMessage
// requests and advertises the sampling capability.
func WithClientSamplingHandler(handler SamplingHandler) ClientOption {
	return func(c *Client) { c.samplingHandler = handler }
}

// WithClientPromptListWatcher registers a callback for prompts/list_changed.
func WithClientPromptListWatcher(watcher PromptListWatcher) ClientOption {
	return func(c *Client) { c.promptListWatcher = watcher }
}

// WithClientResourceListWatcher registers a callback for resources/list_changed.
func WithClientResourceListWatcher(watcher ResourceListWatcher) ClientOption {
	return func(c *Client) { c.resourceListWatcher = watcher }
}

// WithClientResourceSubscribedWatcher registers a callback for resources/updated.
func WithClientResourceSubscribedWatcher(watcher ResourceSubscribedWatcher) ClientOption {
	return func(c *Client) { c.resourceSubscribedWatcher = watcher }
}

// WithClientToolListWatcher registers a callback for tools/list_changed.
func WithClientToolListWatcher(watcher ToolListWatcher) ClientOption {
	return func(c *Client) { c.toolListWatcher = watcher }
}

// WithClientProgressListener registers a callback for notifications/progress.
func WithClientProgressListener(listener ProgressListener) ClientOption {
	return func(c *Client) { c.progressListener = listener }
}

// WithClientLogReceiver registers a callback for notifications/message.
func WithClientLogReceiver(receiver LogReceiver) ClientOption {
	return func(c *Client) { c.logReceiver = receiver }
}

// WithClientPingInterval overrides the default keepalive ping interval.
func WithClientPingInterval(interval time.Duration) ClientOption {
	return func(c *Client) { c.pingInterval = interval }
}

// WithClientPingTimeoutThreshold overrides the number of consecutive failed pings
// tolerated before the client closes the session.
func WithClientPingTimeoutThreshold(threshold int) ClientOption {
	return func(c *Client) { c.pingTimeoutThreshold = threshold }
}

// WithClientInitTimeout overrides how long Connect waits for the server's initialize
// response before failing and tearing the session down. Defaults to 60 seconds.
func WithClientInitTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.initTimeout = timeout }
}

// WithClientLogger overrides the client's logger. Defaults to slog.Default().
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) { c.endpoint.logger = logger }
}

// NewClient builds a Client identified by info. The client advertises roots and
// sampling capabilities only if the corresponding handler options are supplied,
// per the protocol's rule that a capability absent from the handshake must never
// be invoked by the peer.
func NewClient(info Info, options ...ClientOption) *Client {
	c := &Client{
		endpoint:             newEndpoint(nil),
		info:                 info,
		pingInterval:         defaultClientPingInterval,
		pingTimeoutThreshold: defaultClientPingTimeoutThreshold,
		initTimeout:          defaultClientInitTimeout,
	}
	for _, opt := range options {
		opt(c)
	}

	if c.rootsListHandler != nil {
		c.capabilities.Roots = &RootsCapability{}
	}
	if c.samplingHandler != nil {
		c.capabilities.Sampling = &SamplingCapability{}
	}

	c.installHandlers()

	return c
}

func (c *Client) installHandlers() {
	c.setRequestHandler(MethodRootsList, func(ctx context.Context, _ json.RawMessage) (any, error) {
		if c.rootsListHandler == nil {
			return nil, JSONRPCError{Code: ErrCodeMethodNotFound, Message: "roots not supported"}
		}
		roots, err := c.rootsListHandler.ListRoots(ctx)
		if err != nil {
			return nil, JSONRPCError{Code: ErrCodeInternalError, Message: err.Error()}
		}
		return RootListResult{Roots: roots}, nil
	})

	c.setRequestHandler(MethodSamplingCreateMessage, func(ctx context.Context, raw json.RawMessage) (any, error) {
		if c.samplingHandler == nil {
			return nil, JSONRPCError{Code: ErrCodeMethodNotFound, Message: "sampling not supported"}
		}
		var params CreateMessageParams
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, JSONRPCError{Code: ErrCodeInvalidParams, Message: err.Error()}
		}
		result, err := c.samplingHandler.CreateMessage(ctx, params)
		if err != nil {
			return nil, JSONRPCError{Code: ErrCodeInternalError, Message: err.Error()}
		}
		return result, nil
	})

	c.addNotificationHandler(NotificationPromptsListChanged, func(_ context.Context, _ json.RawMessage) {
		if c.promptListWatcher != nil {
			c.promptListWatcher.OnPromptListChanged()
		}
	})
	c.addNotificationHandler(NotificationResourcesListChanged, func(_ context.Context, _ json.RawMessage) {
		if c.resourceListWatcher != nil {
			c.resourceListWatcher.OnResourceListChanged()
		}
	})
	c.addNotificationHandler(NotificationResourcesUpdated, func(_ context.Context, raw json.RawMessage) {
		if c.resourceSubscribedWatcher == nil {
			return
		}
		var params notificationsResourcesUpdatedParams
		if err := json.Unmarshal(raw, &params); err != nil {
			return
		}
		c.resourceSubscribedWatcher.OnResourceSubscribed(params.URI)
	})
	c.addNotificationHandler(NotificationToolsListChanged, func(_ context.Context, _ json.RawMessage) {
		if c.toolListWatcher != nil {
			c.toolListWatcher.OnToolListChanged()
		}
	})
	c.addNotificationHandler(NotificationProgress, func(_ context.Context, raw json.RawMessage) {
		if c.progressListener == nil {
			return
		}
		var params ProgressParams
		if err := json.Unmarshal(raw, &params); err != nil {
			return
		}
		c.progressListener.OnProgress(params)
	})
	c.addNotificationHandler(NotificationMessage, func(_ context.Context, raw json.RawMessage) {
		if c.logReceiver == nil {
			return
		}
		var params LogParams
		if err := json.Unmarshal(raw, &params); err != nil {
			return
		}
		c.logReceiver.OnLog(params)
	})
}

// Connect establishes a session over transport and performs the initialize
// handshake, blocking until the server responds or ctx is cancelled. Connect may be
// called at most once; a second call returns an error without touching the existing
// session.
func (c *Client) Connect(ctx context.Context, transport Transport) error {
	if !c.state.CompareAndSwap(int32(clientStateIdle), int32(clientStateConnecting)) {
		return errAlreadyConnected
	}

	if err := c.endpoint.connect(transport); err != nil {
		c.state.Store(int32(clientStateIdle))
		return err
	}

	initCtx, cancel := context.WithTimeout(ctx, c.initTimeout)
	defer cancel()

	result, err := c.sendRequestTyped(initCtx, MethodInitialize, InitializeParams{
		ProtocolVersion: protocolVersion,
		Capabilities:    c.capabilities,
		ClientInfo:      c.info,
	}, &InitializeResult{})
	if err != nil {
		c.state.Store(int32(clientStateClosed))
		_ = c.endpoint.close()
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("mcp: initialize timed out after %s: %w", c.initTimeout, err)
		}
		return fmt.Errorf("mcp: initialize failed: %w", err)
	}
	initResult, ok := result.(*InitializeResult)
	if !ok {
		return fmt.Errorf("mcp: unexpected initialize result type")
	}
	if initResult.ProtocolVersion != protocolVersion {
		c.state.Store(int32(clientStateClosed))
		_ = c.endpoint.close()
		return fmt.Errorf("mcp: protocol version mismatch: server offered %q, want %q",
			initResult.ProtocolVersion, protocolVersion)
	}

	c.serverInfo = initResult.ServerInfo
	c.serverCapabilities = initResult.Capabilities

	if err := c.sendNotification(ctx, NotificationInitialized, nil); err != nil {
		c.state.Store(int32(clientStateClosed))
		_ = c.endpoint.close()
		return fmt.Errorf("mcp: failed to send notifications/initialized: %w", err)
	}

	c.state.Store(int32(clientStateReady))

	if c.pingInterval > 0 {
		c.wg.Add(1)
		go c.pingLoop()
	}

	return nil
}

// sendRequestTyped marshals typed params, sends the request, and unmarshals the
// result into out, returning out on success.
func (c *Client) sendRequestTyped(ctx context.Context, method string, params any, out any) (any, error) {
	raw, err := c.sendRequest(ctx, method, params)
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return nil, fmt.Errorf("mcp: failed to decode %s result: %w", method, err)
	}
	return out, nil
}

func (c *Client) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), c.pingInterval)
			_, err := c.sendRequest(ctx, MethodPing, nil)
			cancel()
			if err != nil {
				failures++
				c.logger.Warn("mcp: ping failed", "err", err, "consecutiveFailures", failures)
				if failures >= c.pingTimeoutThreshold {
					c.logger.Error("mcp: ping failure threshold exceeded, closing session")
					// Close waits for this goroutine to finish, so it runs on its own.
					go func() { _ = c.Close() }()
					return
				}
				continue
			}
			failures = 0
		}
	}
}

// Close terminates the session. It is safe to call more than once.
func (c *Client) Close() error {
	c.state.Store(int32(clientStateClosed))
	return c.endpoint.close()
}

// ServerInfo returns the server's identification, valid after a successful Connect.
func (c *Client) ServerInfo() Info { return c.serverInfo }

// ServerCapabilities returns the server's advertised capabilities, valid after a
// successful Connect.
func (c *Client) ServerCapabilities() ServerCapabilities { return c.serverCapabilities }

func (c *Client) ready() error {
	if clientState(c.state.Load()) != clientStateReady {
		return fmt.Errorf("mcp: client not connected")
	}
	return nil
}

// ListTools returns one page of the server's tool list. Callers wanting the full
// list should loop, feeding NextCursor back into params.Cursor until it is empty.
func (c *Client) ListTools(ctx context.Context, params ListToolsParams) (ListToolsResult, error) {
	var result ListToolsResult
	if err := c.ready(); err != nil {
		return result, err
	}
	if c.serverCapabilities.Tools == nil {
		return result, fmt.Errorf("mcp: server does not support tools")
	}
	if _, err := c.sendRequestTyped(ctx, MethodToolsList, params, &result); err != nil {
		return result, err
	}
	return result, nil
}

// CallTool invokes a named tool on the server.
func (c *Client) CallTool(ctx context.Context, params CallToolParams) (CallToolResult, error) {
	var result CallToolResult
	if err := c.ready(); err != nil {
		return result, err
	}
	if c.serverCapabilities.Tools == nil {
		return result, fmt.Errorf("mcp: server does not support tools")
	}
	if _, err := c.sendRequestTyped(ctx, MethodToolsCall, params, &result); err != nil {
		return result, err
	}
	return result, nil
}

// ListPrompts returns one page of the server's prompt list.
func (c *Client) ListPrompts(ctx context.Context, params ListPromptsParams) (ListPromptsResult, error) {
	var result ListPromptsResult
	if err := c.ready(); err != nil {
		return result, err
	}
	if c.serverCapabilities.Prompts == nil {
		return result, fmt.Errorf("mcp: server does not support prompts")
	}
	if _, err := c.sendRequestTyped(ctx, MethodPromptsList, params, &result); err != nil {
		return result, err
	}
	return result, nil
}

// GetPrompt retrieves a rendered prompt by name.
func (c *Client) GetPrompt(ctx context.Context, params GetPromptParams) (GetPromptResult, error) {
	var result GetPromptResult
	if err := c.ready(); err != nil {
		return result, err
	}
	if c.serverCapabilities.Prompts == nil {
		return result, fmt.Errorf("mcp: server does not support prompts")
	}
	if _, err := c.sendRequestTyped(ctx, MethodPromptsGet, params, &result); err != nil {
		return result, err
	}
	return result, nil
}

// ListResources returns one page of the server's resource list.
func (c *Client) ListResources(ctx context.Context, params ListResourcesParams) (ListResourcesResult, error) {
	var result ListResourcesResult
	if err := c.ready(); err != nil {
		return result, err
	}
	if c.serverCapabilities.Resources == nil {
		return result, fmt.Errorf("mcp: server does not support resources")
	}
	if _, err := c.sendRequestTyped(ctx, MethodResourcesList, params, &result); err != nil {
		return result, err
	}
	return result, nil
}

// ReadResource retrieves the content of a resource by URI.
func (c *Client) ReadResource(ctx context.Context, params ReadResourceParams) (ReadResourceResult, error) {
	var result ReadResourceResult
	if err := c.ready(); err != nil {
		return result, err
	}
	if c.serverCapabilities.Resources == nil {
		return result, fmt.Errorf("mcp: server does not support resources")
	}
	if _, err := c.sendRequestTyped(ctx, MethodResourcesRead, params, &result); err != nil {
		return result, err
	}
	return result, nil
}

// ListResourceTemplates returns the server's resource template list.
func (c *Client) ListResourceTemplates(ctx context.Context, params ListResourceTemplatesParams) (ListResourceTemplatesResult, error) {
	var result ListResourceTemplatesResult
	if err := c.ready(); err != nil {
		return result, err
	}
	if c.serverCapabilities.Resources == nil {
		return result, fmt.Errorf("mcp: server does not support resources")
	}
	if _, err := c.sendRequestTyped(ctx, MethodResourcesTemplatesList, params, &result); err != nil {
		return result, err
	}
	return result, nil
}

// SubscribeResource subscribes to update notifications for a resource URI.
func (c *Client) SubscribeResource(ctx context.Context, params SubscribeResourceParams) error {
	if err := c.ready(); err != nil {
		return err
	}
	if c.serverCapabilities.Resources == nil || !c.serverCapabilities.Resources.Subscribe {
		return fmt.Errorf("mcp: server does not support resource subscriptions")
	}
	_, err := c.sendRequest(ctx, MethodResourcesSubscribe, params)
	return err
}

// UnsubscribeResource cancels a prior resource subscription.
func (c *Client) UnsubscribeResource(ctx context.Context, params UnsubscribeResourceParams) error {
	if err := c.ready(); err != nil {
		return err
	}
	if c.serverCapabilities.Resources == nil || !c.serverCapabilities.Resources.Subscribe {
		return fmt.Errorf("mcp: server does not support resource subscriptions")
	}
	_, err := c.sendRequest(ctx, MethodResourcesUnsubscribe, params)
	return err
}

// CompletesPrompt requests completion suggestions for a prompt argument.
func (c *Client) CompletesPrompt(ctx context.Context, params CompletesCompletionParams) (CompletionResult, error) {
	var result CompletionResult
	if err := c.ready(); err != nil {
		return result, err
	}
	if _, err := c.sendRequestTyped(ctx, MethodCompletionComplete, params, &result); err != nil {
		return result, err
	}
	return result, nil
}

// SetLogLevel asks the server to adjust its minimum emitted log severity.
func (c *Client) SetLogLevel(ctx context.Context, level LogLevel) error {
	if err := c.ready(); err != nil {
		return err
	}
	if c.serverCapabilities.Logging == nil {
		return fmt.Errorf("mcp: server does not support logging")
	}
	_, err := c.sendRequest(ctx, MethodLoggingSetLevel, SetLevelParams{Level: level})
	return err
}
