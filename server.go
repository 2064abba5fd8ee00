package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// PromptServer answers prompts/list and prompts/get on behalf of a Server. A Server
// only advertises the prompts capability when one is configured.
type PromptServer interface {
	ListPrompts(ctx context.Context, params ListPromptsParams) (ListPromptsResult, error)
	GetPrompt(ctx context.Context, params GetPromptParams) (GetPromptResult, error)
}

// ToolServer answers tools/list and tools/call on behalf of a Server.
type ToolServer interface {
	ListTools(ctx context.Context, params ListToolsParams) (ListToolsResult, error)
	CallTool(ctx context.Context, params CallToolParams) (CallToolResult, error)
}

// ResourceServer answers resources/list, resources/read, and
// resources/templates/list on behalf of a Server.
type ResourceServer interface {
	ListResources(ctx context.Context, params ListResourcesParams) (ListResourcesResult, error)
	ReadResource(ctx context.Context, params ReadResourceParams) (ReadResourceResult, error)
	ListResourceTemplates(ctx context.Context, params ListResourceTemplatesParams) (ListResourceTemplatesResult, error)
}

// ResourceSubscriptionHandler answers resources/subscribe and resources/unsubscribe.
// A Server only advertises subscribe support when one is configured.
type ResourceSubscriptionHandler interface {
	Subscribe(ctx context.Context, uri string) error
	Unsubscribe(ctx context.Context, uri string) error
}

// CompletionHandler answers completion/complete.
type CompletionHandler interface {
	Completes(ctx context.Context, params CompletesCompletionParams) (CompletionResult, error)
}

// LogHandler answers logging/setLevel. A Server only advertises the logging
// capability when one is configured.
type LogHandler interface {
	SetLevel(ctx context.Context, level LogLevel) error
}

// RootsListWatcher is notified when the client's roots list changes.
type RootsListWatcher interface {
	OnRootsListChanged()
}

// ServerOption configures optional Server behavior at construction time.
type ServerOption func(*Server)

// Server implements the server role of the Model Context Protocol: it accepts
// sessions from a ServerTransport, drives each session's initialize handshake, and
// dispatches the protocol's request surface to host-supplied handlers.
//
// Only the sub-capabilities backed by a configured handler are advertised during
// the handshake; a client that calls an unadvertised method receives
// ErrCodeMethodNotFound rather than reaching a nil handler.
type Server struct {
	info         Info
	instructions string

	requireRootsListClient bool
	requireSamplingClient  bool

	promptServer                PromptServer
	resourceServer              ResourceServer
	resourceSubscriptionHandler ResourceSubscriptionHandler
	toolServer                  ToolServer
	completionHandler           CompletionHandler
	logHandler                  LogHandler
	rootsListWatcher            RootsListWatcher

	toolSet   *ToolSet
	promptSet *PromptSet

	promptsListChanged   bool
	resourcesListChanged bool
	toolsListChanged     bool

	onSessionConnected    func(Info)
	onSessionDisconnected func()

	logger *slog.Logger

	sessions   sync.Map // map[*serverSession]struct{}
	sessionsWg sync.WaitGroup
}

// NewServer builds a Server identified by info. Options configure which handlers
// back which capability; a Server with no handlers configured still completes the
// initialize handshake but rejects every method beyond ping.
func NewServer(info Info, options ...ServerOption) *Server {
	s := &Server{
		info:   info,
		logger: slog.Default(),
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// WithServerInstructions sets free-form instructions returned in InitializeResult,
// describing how a client should use the server.
func WithServerInstructions(instructions string) ServerOption {
	return func(s *Server) { s.instructions = instructions }
}

// WithServerRequireRootsListClient requires the connecting client to advertise the
// roots capability; sessions from clients that don't are rejected at handshake.
func WithServerRequireRootsListClient() ServerOption {
	return func(s *Server) { s.requireRootsListClient = true }
}

// WithServerRequireSamplingClient requires the connecting client to advertise the
// sampling capability.
func WithServerRequireSamplingClient() ServerOption {
	return func(s *Server) { s.requireSamplingClient = true }
}

// WithPromptServer configures the handler backing the prompts capability.
func WithPromptServer(srv PromptServer, listChanged bool) ServerOption {
	return func(s *Server) {
		s.promptServer = srv
		s.promptsListChanged = listChanged
	}
}

// WithResourceServer configures the handler backing the resources capability.
func WithResourceServer(srv ResourceServer, listChanged bool) ServerOption {
	return func(s *Server) {
		s.resourceServer = srv
		s.resourcesListChanged = listChanged
	}
}

// WithResourceSubscriptionHandler configures the handler backing resource
// subscriptions. Only meaningful alongside WithResourceServer.
func WithResourceSubscriptionHandler(handler ResourceSubscriptionHandler) ServerOption {
	return func(s *Server) { s.resourceSubscriptionHandler = handler }
}

// WithToolServer configures the handler backing the tools capability. When WithToolSet
// is also given, srv serves as its fallback for names the set doesn't have.
func WithToolServer(srv ToolServer, listChanged bool) ServerOption {
	return func(s *Server) {
		s.toolServer = srv
		s.toolsListChanged = listChanged
	}
}

// WithPromptSet installs a PromptSet as the handler backing the prompts capability.
// Every initialized session auto-subscribes to the set's Changed events and forwards
// them as prompts/list_changed; the prompts capability is advertised with
// listChanged=true whenever a set is installed. Combine with WithPromptServer to fall
// back to a host-supplied PromptServer for names the set doesn't have.
func WithPromptSet(set *PromptSet) ServerOption {
	return func(s *Server) { s.promptSet = set }
}

// WithToolSet installs a ToolSet as the handler backing the tools capability. Every
// initialized session auto-subscribes to the set's Changed events and forwards them
// as tools/list_changed; the tools capability is advertised with listChanged=true
// whenever a set is installed. Combine with WithToolServer to fall back to a
// host-supplied ToolServer for names the set doesn't have.
func WithToolSet(set *ToolSet) ServerOption {
	return func(s *Server) { s.toolSet = set }
}

// WithCompletionHandler configures the handler backing completion/complete.
func WithCompletionHandler(handler CompletionHandler) ServerOption {
	return func(s *Server) { s.completionHandler = handler }
}

// WithLogHandler configures the handler backing the logging capability.
func WithLogHandler(handler LogHandler) ServerOption {
	return func(s *Server) { s.logHandler = handler }
}

// WithRootsListWatcher registers a callback invoked when the client reports its
// roots list changed. Requires WithServerRequireRootsListClient.
func WithRootsListWatcher(watcher RootsListWatcher) ServerOption {
	return func(s *Server) { s.rootsListWatcher = watcher }
}

// WithServerLogger overrides the server's logger. Defaults to slog.Default().
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = logger }
}

// WithOnSessionConnected registers a callback invoked once a session completes the
// initialize handshake, receiving the connecting client's identification.
func WithOnSessionConnected(fn func(Info)) ServerOption {
	return func(s *Server) { s.onSessionConnected = fn }
}

// WithOnSessionDisconnected registers a callback invoked when a session ends.
func WithOnSessionDisconnected(fn func()) ServerOption {
	return func(s *Server) { s.onSessionDisconnected = fn }
}

// effectivePromptServer returns the PromptServer that actually answers prompts/list
// and prompts/get: a ToolSet-style composition over promptSet (with promptServer as
// its fallback) when WithPromptSet is configured, or promptServer alone otherwise.
func (s *Server) effectivePromptServer() PromptServer {
	if s.promptSet != nil {
		return NewComposedPromptServer(s.promptSet, s.promptServer)
	}
	return s.promptServer
}

// effectiveToolServer returns the ToolServer that actually answers tools/list and
// tools/call, composing toolSet over toolServer when WithToolSet is configured.
func (s *Server) effectiveToolServer() ToolServer {
	if s.toolSet != nil {
		return NewComposedToolServer(s.toolSet, s.toolServer)
	}
	return s.toolServer
}

func (s *Server) capabilities() ServerCapabilities {
	caps := ServerCapabilities{}
	if s.effectivePromptServer() != nil {
		caps.Prompts = &PromptsCapability{ListChanged: s.promptsListChanged || s.promptSet != nil}
	}
	if s.resourceServer != nil {
		caps.Resources = &ResourcesCapability{
			ListChanged: s.resourcesListChanged,
			Subscribe:   s.resourceSubscriptionHandler != nil,
		}
	}
	if s.effectiveToolServer() != nil {
		caps.Tools = &ToolsCapability{ListChanged: s.toolsListChanged || s.toolSet != nil}
	}
	if s.logHandler != nil {
		caps.Logging = &LoggingCapability{}
	}
	return caps
}

func (s *Server) requiredClientCapabilities() ClientCapabilities {
	caps := ClientCapabilities{}
	if s.requireRootsListClient {
		caps.Roots = &RootsCapability{}
	}
	if s.requireSamplingClient {
		caps.Sampling = &SamplingCapability{}
	}
	return caps
}

// Serve accepts sessions from transport until ctx is cancelled or Accept returns a
// terminal error, running each session to completion in its own goroutine. Serve
// blocks until all sessions have ended.
func (s *Server) Serve(ctx context.Context, transport ServerTransport) error {
	for {
		conn, err := transport.Accept(ctx)
		if err != nil {
			s.sessionsWg.Wait()
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("mcp: accept failed: %w", err)
		}

		sess := newServerSession(s, conn)
		s.sessions.Store(sess, struct{}{})
		s.sessionsWg.Add(1)
		go func() {
			defer s.sessionsWg.Done()
			defer s.sessions.Delete(sess)
			sess.run(ctx)
		}()
	}
}

// Shutdown closes the listening transport and waits for all in-flight sessions to
// finish, or for ctx to be cancelled, whichever comes first.
func (s *Server) Shutdown(ctx context.Context, transport ServerTransport) error {
	if err := transport.Shutdown(ctx); err != nil {
		return err
	}
	done := make(chan struct{})
	go func() {
		s.sessionsWg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// serverSession is one accepted connection: its own endpoint, its own negotiated
// capabilities, and its own initialized/subscribed state, all independent of any
// other concurrently connected client.
type serverSession struct {
	*endpoint

	server *Server

	handshakeStarted atomic.Bool
	initialized      atomic.Bool
	clientInfo       Info
	clientCaps       ClientCapabilities
	subscriptions    sync.Map // map[string]struct{}

	toolSetSubscribeOnce   sync.Once
	promptSetSubscribeOnce sync.Once
}

func newServerSession(s *Server, transport Transport) *serverSession {
	sess := &serverSession{
		endpoint: newEndpoint(s.logger),
		server:   s,
	}
	sess.installHandlers()
	if err := sess.endpoint.connect(transport); err != nil {
		s.logger.Error("mcp: failed to attach session transport", "err", err)
	}
	return sess
}

func (sess *serverSession) run(ctx context.Context) {
	defer func() {
		_ = sess.endpoint.close()
		if sess.server.onSessionDisconnected != nil {
			sess.server.onSessionDisconnected()
		}
	}()

	select {
	case <-sess.done:
	case <-ctx.Done():
		_ = sess.endpoint.close()
	}
}

func (sess *serverSession) installHandlers() {
	sess.setRequestHandler(MethodPing, func(_ context.Context, _ json.RawMessage) (any, error) {
		return struct{}{}, nil
	})

	sess.setRequestHandler(MethodInitialize, sess.handleInitialize)

	sess.addNotificationHandler(NotificationInitialized, func(_ context.Context, _ json.RawMessage) {
		sess.initialized.Store(true)
		sess.subscribeCollections()
		if sess.server.onSessionConnected != nil {
			sess.server.onSessionConnected(sess.clientInfo)
		}
	})

	sess.addNotificationHandler(NotificationRootsListChanged, func(_ context.Context, _ json.RawMessage) {
		if sess.server.rootsListWatcher != nil {
			sess.server.rootsListWatcher.OnRootsListChanged()
		}
	})

	if promptServer := sess.server.effectivePromptServer(); promptServer != nil {
		sess.setRequestHandler(MethodPromptsList, sess.requireInit(func(ctx context.Context, raw json.RawMessage) (any, error) {
			var params ListPromptsParams
			if err := json.Unmarshal(raw, &params); err != nil {
				return nil, JSONRPCError{Code: ErrCodeInvalidParams, Message: err.Error()}
			}
			return promptServer.ListPrompts(ctx, params)
		}))
		sess.setRequestHandler(MethodPromptsGet, sess.requireInit(func(ctx context.Context, raw json.RawMessage) (any, error) {
			var params GetPromptParams
			if err := json.Unmarshal(raw, &params); err != nil {
				return nil, JSONRPCError{Code: ErrCodeInvalidParams, Message: err.Error()}
			}
			return promptServer.GetPrompt(ctx, params)
		}))
	}

	if toolServer := sess.server.effectiveToolServer(); toolServer != nil {
		sess.setRequestHandler(MethodToolsList, sess.requireInit(func(ctx context.Context, raw json.RawMessage) (any, error) {
			var params ListToolsParams
			if err := json.Unmarshal(raw, &params); err != nil {
				return nil, JSONRPCError{Code: ErrCodeInvalidParams, Message: err.Error()}
			}
			return toolServer.ListTools(ctx, params)
		}))
		sess.setRequestHandler(MethodToolsCall, sess.requireInit(func(ctx context.Context, raw json.RawMessage) (any, error) {
			var params CallToolParams
			if err := json.Unmarshal(raw, &params); err != nil {
				return nil, JSONRPCError{Code: ErrCodeInvalidParams, Message: err.Error()}
			}
			return toolServer.CallTool(ctx, params)
		}))
	}

	if sess.server.resourceServer != nil {
		sess.setRequestHandler(MethodResourcesList, sess.requireInit(func(ctx context.Context, raw json.RawMessage) (any, error) {
			var params ListResourcesParams
			if err := json.Unmarshal(raw, &params); err != nil {
				return nil, JSONRPCError{Code: ErrCodeInvalidParams, Message: err.Error()}
			}
			return sess.server.resourceServer.ListResources(ctx, params)
		}))
		sess.setRequestHandler(MethodResourcesRead, sess.requireInit(func(ctx context.Context, raw json.RawMessage) (any, error) {
			var params ReadResourceParams
			if err := json.Unmarshal(raw, &params); err != nil {
				return nil, JSONRPCError{Code: ErrCodeInvalidParams, Message: err.Error()}
			}
			return sess.server.resourceServer.ReadResource(ctx, params)
		}))
		sess.setRequestHandler(MethodResourcesTemplatesList, sess.requireInit(func(ctx context.Context, raw json.RawMessage) (any, error) {
			var params ListResourceTemplatesParams
			if err := json.Unmarshal(raw, &params); err != nil {
				return nil, JSONRPCError{Code: ErrCodeInvalidParams, Message: err.Error()}
			}
			return sess.server.resourceServer.ListResourceTemplates(ctx, params)
		}))

		if sess.server.resourceSubscriptionHandler != nil {
			sess.setRequestHandler(MethodResourcesSubscribe, sess.requireInit(func(ctx context.Context, raw json.RawMessage) (any, error) {
				var params SubscribeResourceParams
				if err := json.Unmarshal(raw, &params); err != nil {
					return nil, JSONRPCError{Code: ErrCodeInvalidParams, Message: err.Error()}
				}
				if err := sess.server.resourceSubscriptionHandler.Subscribe(ctx, params.URI); err != nil {
					return nil, JSONRPCError{Code: ErrCodeInternalError, Message: err.Error()}
				}
				sess.subscriptions.Store(params.URI, struct{}{})
				return struct{}{}, nil
			}))
			sess.setRequestHandler(MethodResourcesUnsubscribe, sess.requireInit(func(ctx context.Context, raw json.RawMessage) (any, error) {
				var params UnsubscribeResourceParams
				if err := json.Unmarshal(raw, &params); err != nil {
					return nil, JSONRPCError{Code: ErrCodeInvalidParams, Message: err.Error()}
				}
				if err := sess.server.resourceSubscriptionHandler.Unsubscribe(ctx, params.URI); err != nil {
					return nil, JSONRPCError{Code: ErrCodeInternalError, Message: err.Error()}
				}
				sess.subscriptions.Delete(params.URI)
				return struct{}{}, nil
			}))
		}
	}

	if sess.server.completionHandler != nil {
		sess.setRequestHandler(MethodCompletionComplete, sess.requireInit(func(ctx context.Context, raw json.RawMessage) (any, error) {
			var params CompletesCompletionParams
			if err := json.Unmarshal(raw, &params); err != nil {
				return nil, JSONRPCError{Code: ErrCodeInvalidParams, Message: err.Error()}
			}
			return sess.server.completionHandler.Completes(ctx, params)
		}))
	}

	if sess.server.logHandler != nil {
		sess.setRequestHandler(MethodLoggingSetLevel, sess.requireInit(func(ctx context.Context, raw json.RawMessage) (any, error) {
			var params SetLevelParams
			if err := json.Unmarshal(raw, &params); err != nil {
				return nil, JSONRPCError{Code: ErrCodeInvalidParams, Message: err.Error()}
			}
			if err := sess.server.logHandler.SetLevel(ctx, params.Level); err != nil {
				return nil, JSONRPCError{Code: ErrCodeInternalError, Message: err.Error()}
			}
			return struct{}{}, nil
		}))
	}
}

// subscribeCollections hooks this session's forwarding of tools/list_changed and
// prompts/list_changed onto the server's configured collections, once the handshake
// has been acknowledged. Each subscription is installed at most once per session,
// regardless of how many times notifications/initialized arrives.
func (sess *serverSession) subscribeCollections() {
	if sess.server.toolSet != nil {
		sess.toolSetSubscribeOnce.Do(func() {
			sess.server.toolSet.OnChanged(func() {
				if err := sess.sendNotification(context.Background(), NotificationToolsListChanged, nil); err != nil {
					sess.server.logger.Error("mcp: failed to notify tools list changed", "err", err)
				}
			})
		})
	}
	if sess.server.promptSet != nil {
		sess.promptSetSubscribeOnce.Do(func() {
			sess.server.promptSet.OnChanged(func() {
				if err := sess.sendNotification(context.Background(), NotificationPromptsListChanged, nil); err != nil {
					sess.server.logger.Error("mcp: failed to notify prompts list changed", "err", err)
				}
			})
		})
	}
}

// requireInit wraps a handler so it rejects calls before notifications/initialized,
// per the handshake: a client must not use the method surface until it has
// acknowledged the handshake result.
func (sess *serverSession) requireInit(h requestHandler) requestHandler {
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		if !sess.initialized.Load() {
			return nil, JSONRPCError{Code: ErrCodeInvalidRequest, Message: "session not initialized"}
		}
		return h(ctx, raw)
	}
}

var errAlreadyInitialized = fmt.Errorf("mcp: session already initialized")

func (sess *serverSession) handleInitialize(_ context.Context, raw json.RawMessage) (any, error) {
	if !sess.handshakeStarted.CompareAndSwap(false, true) {
		return nil, JSONRPCError{Code: ErrCodeInvalidRequest, Message: errAlreadyInitialized.Error()}
	}

	var params InitializeParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, JSONRPCError{Code: ErrCodeInvalidParams, Message: err.Error()}
	}
	if params.ProtocolVersion != protocolVersion {
		return nil, JSONRPCError{
			Code: ErrCodeInvalidParams,
			Message: fmt.Sprintf("unsupported protocol version %q, server requires %q",
				params.ProtocolVersion, protocolVersion),
		}
	}

	required := sess.server.requiredClientCapabilities()
	if required.Roots != nil && params.Capabilities.Roots == nil {
		return nil, JSONRPCError{Code: ErrCodeInvalidParams, Message: "client must support roots capability"}
	}
	if required.Sampling != nil && params.Capabilities.Sampling == nil {
		return nil, JSONRPCError{Code: ErrCodeInvalidParams, Message: "client must support sampling capability"}
	}

	sess.clientInfo = params.ClientInfo
	sess.clientCaps = params.Capabilities

	return InitializeResult{
		ProtocolVersion: protocolVersion,
		Capabilities:    sess.server.capabilities(),
		ServerInfo:      sess.server.info,
		Instructions:    sess.server.instructions,
	}, nil
}

// NotifyPromptListChanged tells every connected, initialized session that the
// prompt list changed.
func (s *Server) NotifyPromptListChanged(ctx context.Context) {
	s.broadcastNotification(ctx, NotificationPromptsListChanged, nil)
}

// NotifyResourceListChanged tells every connected, initialized session that the
// resource list changed.
func (s *Server) NotifyResourceListChanged(ctx context.Context) {
	s.broadcastNotification(ctx, NotificationResourcesListChanged, nil)
}

// NotifyToolListChanged tells every connected, initialized session that the tool
// list changed.
func (s *Server) NotifyToolListChanged(ctx context.Context) {
	s.broadcastNotification(ctx, NotificationToolsListChanged, nil)
}

// NotifyResourceUpdated tells every session subscribed to uri that its content
// changed.
func (s *Server) NotifyResourceUpdated(ctx context.Context, uri string) {
	s.sessions.Range(func(key, _ any) bool {
		sess, ok := key.(*serverSession)
		if !ok || !sess.initialized.Load() {
			return true
		}
		if _, subscribed := sess.subscriptions.Load(uri); !subscribed {
			return true
		}
		if err := sess.sendNotification(ctx, NotificationResourcesUpdated, notificationsResourcesUpdatedParams{URI: uri}); err != nil {
			s.logger.Error("mcp: failed to notify resource updated", "uri", uri, "err", err)
		}
		return true
	})
}

// NotifyLog emits a log message to every connected, initialized session.
func (s *Server) NotifyLog(ctx context.Context, params LogParams) {
	s.broadcastNotification(ctx, NotificationMessage, params)
}

func (s *Server) broadcastNotification(ctx context.Context, method string, params any) {
	s.sessions.Range(func(key, _ any) bool {
		sess, ok := key.(*serverSession)
		if !ok || !sess.initialized.Load() {
			return true
		}
		if err := sess.sendNotification(ctx, method, params); err != nil {
			s.logger.Error("mcp: failed to broadcast notification", "method", method, "err", err)
		}
		return true
	})
}
