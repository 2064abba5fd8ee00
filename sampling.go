package mcp

import "context"

// ChatMessage is one turn of a chat conversation passed to a ChatBackend, stripped
// of the wire-level Content discrimination: text in, text out.
type ChatMessage struct {
	Role Role
	Text string
}

// ChatRequest is the normalized form of a sampling/createMessage request, after
// ChatAdapter has flattened the wire content array down to text.
type ChatRequest struct {
	Messages     []ChatMessage
	SystemPrompt string
	Temperature  float64
	MaxTokens    int
}

// ChatResponse is a chat backend's answer to a ChatRequest.
type ChatResponse struct {
	Text  string
	Model string
}

// ChatBackend is the minimal interface a host LLM integration implements to answer
// sampling/createMessage requests without depending on the wire types directly.
type ChatBackend interface {
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
}

// ChatAdapter implements SamplingHandler by flattening CreateMessageParams content
// down to plain text, delegating to a ChatBackend, and wrapping the reply back into
// a CreateMessageResult. Non-text content (image, audio, embedded resources) in the
// incoming conversation is passed through as empty text, since a ChatBackend has no
// way to consume it; StopReason always reports "endTurn", since a ChatBackend has no
// notion of stop sequences or token-limit truncation.
type ChatAdapter struct {
	backend ChatBackend
}

// NewChatAdapter builds a ChatAdapter delegating to backend.
func NewChatAdapter(backend ChatBackend) *ChatAdapter {
	return &ChatAdapter{backend: backend}
}

// CreateMessage implements SamplingHandler.
func (a *ChatAdapter) CreateMessage(ctx context.Context, params CreateMessageParams) (CreateMessageResult, error) {
	req := ChatRequest{
		SystemPrompt: params.SystemPrompt,
		Temperature:  params.Temperature,
		MaxTokens:    params.MaxTokens,
		Messages:     make([]ChatMessage, 0, len(params.Messages)),
	}
	for _, m := range params.Messages {
		text := ""
		if m.Content.Type == ContentTypeText {
			text = m.Content.Text
		}
		req.Messages = append(req.Messages, ChatMessage{Role: m.Role, Text: text})
	}

	resp, err := a.backend.Chat(ctx, req)
	if err != nil {
		return CreateMessageResult{}, err
	}

	return CreateMessageResult{
		Role: RoleAssistant,
		Content: Content{
			Type: ContentTypeText,
			Text: resp.Text,
		},
		Model:      resp.Model,
		StopReason: StopReasonEndTurn,
	}, nil
}

var _ SamplingHandler = (*ChatAdapter)(nil)
