package mcp

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/qri-io/jsonschema"
)

// RequestID is a tagged union over a signed integer and a string, matching the two
// shapes a JSON-RPC id may take on the wire. Equality and hashing are variant-aware:
// a string id and an integer id are never equal, even if their textual forms match.
type RequestID struct {
	isString bool
	num      int64
	str      string
}

// NewRequestID builds an integer RequestID.
func NewRequestID(num int64) RequestID {
	return RequestID{num: num}
}

// NewStringRequestID builds a string RequestID.
func NewStringRequestID(str string) RequestID {
	return RequestID{isString: true, str: str}
}

// IsZero reports whether the id is the zero value: the integer id 0, which is also
// what a JSON null id decodes to.
func (r RequestID) IsZero() bool {
	return !r.isString && r.num == 0 && r.str == ""
}

// String returns a human-readable form of the id, for logging.
func (r RequestID) String() string {
	if r.isString {
		return r.str
	}
	return strconv.FormatInt(r.num, 10)
}

// Equal reports variant-aware equality: cross-variant comparisons are always false.
func (r RequestID) Equal(other RequestID) bool {
	if r.isString != other.isString {
		return false
	}
	if r.isString {
		return r.str == other.str
	}
	return r.num == other.num
}

// MarshalJSON encodes the id as a JSON number or string depending on its variant.
func (r RequestID) MarshalJSON() ([]byte, error) {
	if r.isString {
		return json.Marshal(r.str)
	}
	return json.Marshal(r.num)
}

// UnmarshalJSON decodes a JSON number or string into the matching RequestID variant.
func (r *RequestID) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch val := v.(type) {
	case string:
		*r = RequestID{isString: true, str: val}
	case float64:
		*r = RequestID{num: int64(val)}
	case nil:
		*r = RequestID{}
	default:
		return fmt.Errorf("invalid request id type: %T", v)
	}
	return nil
}

// JSONRPCVersion is the JSON-RPC protocol version string carried on every message.
const JSONRPCVersion = "2.0"

// JSONRPCMessage represents a JSON-RPC 2.0 envelope. Depending on which fields are
// populated it is a request (ID, Method, Params set), a response (ID and one of
// Result/Error set), or a notification (Method set, no ID).
type JSONRPCMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *RequestID      `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
}

// IsNotification reports whether the message carries no id, i.e. is a notification.
func (m JSONRPCMessage) IsNotification() bool {
	return m.ID == nil
}

// IsResponse reports whether the message is a response (id set, method empty).
func (m JSONRPCMessage) IsResponse() bool {
	return m.ID != nil && m.Method == ""
}

// IsRequest reports whether the message is a request (id and method both set).
func (m JSONRPCMessage) IsRequest() bool {
	return m.ID != nil && m.Method != ""
}

// JSONRPCError represents a JSON-RPC 2.0 error object.
type JSONRPCError struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

func (e JSONRPCError) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// Standard JSON-RPC 2.0 error codes.
const (
	ErrCodeParse          = -32700
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// MCP method names, lifecycle through progress/cancellation, per the wire protocol.
const (
	MethodInitialize             = "initialize"
	MethodPing                   = "ping"
	MethodToolsList               = "tools/list"
	MethodToolsCall               = "tools/call"
	MethodPromptsList             = "prompts/list"
	MethodPromptsGet              = "prompts/get"
	MethodResourcesList           = "resources/list"
	MethodResourcesRead           = "resources/read"
	MethodResourcesTemplatesList  = "resources/templates/list"
	MethodResourcesSubscribe      = "resources/subscribe"
	MethodResourcesUnsubscribe    = "resources/unsubscribe"
	MethodCompletionComplete      = "completion/complete"
	MethodLoggingSetLevel         = "logging/setLevel"
	MethodSamplingCreateMessage   = "sampling/createMessage"
	MethodRootsList               = "roots/list"

	NotificationInitialized          = "notifications/initialized"
	NotificationCancelled            = "notifications/cancelled"
	NotificationProgress             = "notifications/progress"
	NotificationMessage              = "notifications/message"
	NotificationToolsListChanged     = "notifications/tools/list_changed"
	NotificationPromptsListChanged   = "notifications/prompts/list_changed"
	NotificationResourcesListChanged = "notifications/resources/list_changed"
	NotificationResourcesUpdated     = "notifications/resources/updated"
	NotificationRootsListChanged     = "notifications/roots/list_changed"
)

const protocolVersion = "2024-11-05"

// ProtocolVersion returns the MCP protocol version this module implements.
func ProtocolVersion() string { return protocolVersion }

// Info identifies a client or server instance by name and version.
type Info struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ServerCapabilities is the product of optional sub-capabilities a server advertises
// at handshake time. A nil sub-capability means the corresponding method surface is
// unavailable for the session.
type ServerCapabilities struct {
	Prompts      *PromptsCapability      `json:"prompts,omitempty"`
	Resources    *ResourcesCapability    `json:"resources,omitempty"`
	Tools        *ToolsCapability        `json:"tools,omitempty"`
	Logging      *LoggingCapability      `json:"logging,omitempty"`
	Experimental map[string]any          `json:"experimental,omitempty"`
}

// PromptsCapability advertises prompt list support and whether list-changed
// notifications are emitted.
type PromptsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// ResourcesCapability advertises resource support, subscription, and list-changed
// notifications.
type ResourcesCapability struct {
	Subscribe   bool `json:"subscribe,omitempty"`
	ListChanged bool `json:"listChanged,omitempty"`
}

// ToolsCapability advertises tool list support and list-changed notifications.
type ToolsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// LoggingCapability advertises support for logging/setLevel and notifications/message.
type LoggingCapability struct{}

// ClientCapabilities is the product of optional client sub-capabilities.
type ClientCapabilities struct {
	Sampling     *SamplingCapability `json:"sampling,omitempty"`
	Roots        *RootsCapability    `json:"roots,omitempty"`
	Experimental map[string]any      `json:"experimental,omitempty"`
}

// SamplingCapability advertises client-hosted sampling/createMessage support.
type SamplingCapability struct{}

// RootsCapability advertises client-hosted roots/list support and list-changed
// notifications.
type RootsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// Role identifies the originator of a message in a conversation.
type Role string

// Roles used in PromptMessage/SamplingMessage.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ContentType identifies the shape of a Content value.
type ContentType string

// Content types carried by tool results, prompt messages, and sampling messages.
const (
	ContentTypeText     ContentType = "text"
	ContentTypeImage    ContentType = "image"
	ContentTypeAudio    ContentType = "audio"
	ContentTypeResource ContentType = "resource"
)

// Annotations informs how a client should use or display a piece of content.
type Annotations struct {
	Audience []Role  `json:"audience,omitempty"`
	Priority float64 `json:"priority,omitempty"`
}

// Content is a single piece of message content: text, image/audio bytes, or an
// embedded resource, discriminated by Type.
type Content struct {
	Type        ContentType       `json:"type"`
	Annotations *Annotations      `json:"annotations,omitempty"`
	Text        string            `json:"text,omitempty"`
	Data        string            `json:"data,omitempty"`
	MimeType    string            `json:"mimeType,omitempty"`
	Resource    *ResourceContents `json:"resource,omitempty"`
}

// ResourceContents carries either text or base64-encoded blob resource content.
type ResourceContents struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType,omitempty"`
	Text     string `json:"text,omitempty"`
	Blob     string `json:"blob,omitempty"`
}

// ParamsMeta carries request metadata, currently just the progress token used to
// correlate notifications/progress updates with the request that requested them.
type ParamsMeta struct {
	ProgressToken string `json:"progressToken,omitempty"`
}

// Tool is a callable unit the server exposes to the client. InputSchema is a typed
// JSON Schema document describing the expected shape of CallTool arguments.
type Tool struct {
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	InputSchema *jsonschema.Schema `json:"inputSchema,omitempty"`
}

// Prompt is a named prompt template the server exposes to the client.
type Prompt struct {
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Arguments   []PromptArgument `json:"arguments,omitempty"`
}

// PromptArgument describes one argument a Prompt accepts.
type PromptArgument struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
}

// PromptMessage is one message of a rendered prompt, returned by prompts/get.
type PromptMessage struct {
	Role    Role    `json:"role"`
	Content Content `json:"content"`
}

// Resource describes a readable content resource.
type Resource struct {
	URI         string       `json:"uri"`
	Name        string       `json:"name,omitempty"`
	Description string       `json:"description,omitempty"`
	MimeType    string       `json:"mimeType,omitempty"`
	Annotations *Annotations `json:"annotations,omitempty"`
}

// ResourceTemplate describes a parameterized resource URI the server can expand.
type ResourceTemplate struct {
	URITemplate string       `json:"uriTemplate"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	MimeType    string       `json:"mimeType,omitempty"`
	Annotations *Annotations `json:"annotations,omitempty"`
}

// Root is a filesystem-like anchor URI the client advertises to the server.
type Root struct {
	URI  string `json:"uri"`
	Name string `json:"name,omitempty"`
}

// LogLevel is the severity of a log message, ordered from most to least verbose.
type LogLevel string

// Log severity levels, per the syslog-style scale the protocol specifies.
const (
	LogLevelDebug     LogLevel = "debug"
	LogLevelInfo      LogLevel = "info"
	LogLevelNotice    LogLevel = "notice"
	LogLevelWarning   LogLevel = "warning"
	LogLevelError     LogLevel = "error"
	LogLevelCritical  LogLevel = "critical"
	LogLevelAlert     LogLevel = "alert"
	LogLevelEmergency LogLevel = "emergency"
)

var logLevelOrder = map[LogLevel]int{
	LogLevelDebug:     0,
	LogLevelInfo:      1,
	LogLevelNotice:    2,
	LogLevelWarning:   3,
	LogLevelError:     4,
	LogLevelCritical:  5,
	LogLevelAlert:     6,
	LogLevelEmergency: 7,
}

// AtLeast reports whether l is at least as severe as min.
func (l LogLevel) AtLeast(min LogLevel) bool {
	return logLevelOrder[l] >= logLevelOrder[min]
}

// Request/result payloads for the MCP method surface.

// InitializeParams is sent by the client to start the handshake.
type InitializeParams struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ClientCapabilities `json:"capabilities"`
	ClientInfo      Info               `json:"clientInfo"`
}

// InitializeResult is the server's handshake response.
type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      Info               `json:"serverInfo"`
	Instructions    string             `json:"instructions,omitempty"`
}

// ListToolsParams requests a page of the tool list.
type ListToolsParams struct {
	Cursor string     `json:"cursor,omitempty"`
	Meta   ParamsMeta `json:"_meta,omitempty"`
}

// ListToolsResult is a page of the tool list.
type ListToolsResult struct {
	Tools      []Tool `json:"tools"`
	NextCursor string `json:"nextCursor,omitempty"`
}

// CallToolParams invokes a named tool with arguments.
type CallToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Meta      ParamsMeta      `json:"_meta,omitempty"`
}

// CallToolResult is the outcome of a tool invocation.
type CallToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

// ListPromptsParams requests a page of the prompt list.
type ListPromptsParams struct {
	Cursor string     `json:"cursor,omitempty"`
	Meta   ParamsMeta `json:"_meta,omitempty"`
}

// ListPromptsResult is a page of the prompt list.
type ListPromptsResult struct {
	Prompts    []Prompt `json:"prompts"`
	NextCursor string   `json:"nextCursor,omitempty"`
}

// GetPromptParams retrieves a rendered prompt by name with arguments.
type GetPromptParams struct {
	Name      string            `json:"name"`
	Arguments map[string]string `json:"arguments,omitempty"`
	Meta      ParamsMeta        `json:"_meta,omitempty"`
}

// GetPromptResult is a rendered prompt.
type GetPromptResult struct {
	Description string          `json:"description,omitempty"`
	Messages    []PromptMessage `json:"messages"`
}

// ListResourcesParams requests a page of the resource list.
type ListResourcesParams struct {
	Cursor string     `json:"cursor,omitempty"`
	Meta   ParamsMeta `json:"_meta,omitempty"`
}

// ListResourcesResult is a page of the resource list.
type ListResourcesResult struct {
	Resources  []Resource `json:"resources"`
	NextCursor string     `json:"nextCursor,omitempty"`
}

// ReadResourceParams retrieves a resource by URI.
type ReadResourceParams struct {
	URI  string     `json:"uri"`
	Meta ParamsMeta `json:"_meta,omitempty"`
}

// ReadResourceResult is the content of a read resource.
type ReadResourceResult struct {
	Contents []ResourceContents `json:"contents"`
}

// ListResourceTemplatesParams requests the resource template list.
type ListResourceTemplatesParams struct {
	Meta ParamsMeta `json:"_meta,omitempty"`
}

// ListResourceTemplatesResult is the resource template list.
type ListResourceTemplatesResult struct {
	ResourceTemplates []ResourceTemplate `json:"resourceTemplates"`
}

// SubscribeResourceParams subscribes to update notifications for a resource URI.
type SubscribeResourceParams struct {
	URI string `json:"uri"`
}

// UnsubscribeResourceParams cancels a prior subscription.
type UnsubscribeResourceParams struct {
	URI string `json:"uri"`
}

// CompletionRef identifies what a completion/complete request is completing.
type CompletionRef struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
	URI  string `json:"uri,omitempty"`
}

// Completion ref types.
const (
	CompletionRefPrompt   = "ref/prompt"
	CompletionRefResource = "ref/resource"
)

// CompletionArgument is the single argument being completed.
type CompletionArgument struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// CompletesCompletionParams requests completion suggestions for one argument.
type CompletesCompletionParams struct {
	Ref      CompletionRef      `json:"ref"`
	Argument CompletionArgument `json:"argument"`
}

// CompletionResult carries candidate completion values.
type CompletionResult struct {
	Completion struct {
		Values  []string `json:"values"`
		Total   int      `json:"total,omitempty"`
		HasMore bool     `json:"hasMore,omitempty"`
	} `json:"completion"`
}

// SetLevelParams configures the minimum log severity the server should emit.
type SetLevelParams struct {
	Level LogLevel `json:"level"`
}

// LogParams is one emitted log message.
type LogParams struct {
	Level  LogLevel       `json:"level"`
	Logger string         `json:"logger,omitempty"`
	Data   map[string]any `json:"data"`
}

// ProgressParams reports progress on an in-flight operation identified by token.
type ProgressParams struct {
	ProgressToken string  `json:"progressToken"`
	Progress      float64 `json:"progress"`
	Total         float64 `json:"total,omitempty"`
}

// RootListResult is the client's answer to roots/list.
type RootListResult struct {
	Roots []Root `json:"roots"`
}

// SamplingMessage is one message of a sampling/createMessage conversation history.
type SamplingMessage struct {
	Role    Role    `json:"role"`
	Content Content `json:"content"`
}

// SamplingModelHint names a model family the server would prefer, by substring match.
type SamplingModelHint struct {
	Name string `json:"name,omitempty"`
}

// SamplingModelPreferences expresses relative priorities for model selection.
type SamplingModelPreferences struct {
	Hints                []SamplingModelHint `json:"hints,omitempty"`
	CostPriority         float64             `json:"costPriority,omitempty"`
	SpeedPriority        float64             `json:"speedPriority,omitempty"`
	IntelligencePriority float64             `json:"intelligencePriority,omitempty"`
}

// CreateMessageParams is the server-to-client sampling/createMessage request.
type CreateMessageParams struct {
	Messages         []SamplingMessage        `json:"messages"`
	SystemPrompt     string                   `json:"systemPrompt,omitempty"`
	Temperature      float64                  `json:"temperature,omitempty"`
	MaxTokens        int                      `json:"maxTokens,omitempty"`
	StopSequences    []string                 `json:"stopSequences,omitempty"`
	Metadata         map[string]any           `json:"metadata,omitempty"`
	ModelPreferences SamplingModelPreferences `json:"modelPreferences,omitempty"`
}

// StopReason values for CreateMessageResult.
const (
	StopReasonEndTurn      = "endTurn"
	StopReasonStopSequence = "stopSequence"
	StopReasonMaxTokens    = "maxTokens"
)

// CreateMessageResult is the client's answer to sampling/createMessage.
type CreateMessageResult struct {
	Role       Role    `json:"role"`
	Content    Content `json:"content"`
	Model      string  `json:"model"`
	StopReason string  `json:"stopReason,omitempty"`
}

// notificationsCancelledParams is the payload of notifications/cancelled.
type notificationsCancelledParams struct {
	RequestID RequestID `json:"requestId"`
	Reason    string    `json:"reason,omitempty"`
}

// notificationsResourcesUpdatedParams is the payload of notifications/resources/updated.
type notificationsResourcesUpdatedParams struct {
	URI string `json:"uri"`
}
