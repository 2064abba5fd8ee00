package mcp

import (
	"context"
	"testing"
)

type stubChatBackend struct {
	reply ChatResponse
}

func (s stubChatBackend) Chat(_ context.Context, _ ChatRequest) (ChatResponse, error) {
	return s.reply, nil
}

func TestChatAdapterCreateMessage(t *testing.T) {
	adapter := NewChatAdapter(stubChatBackend{reply: ChatResponse{Text: "hi there", Model: "stub-model"}})

	result, err := adapter.CreateMessage(context.Background(), CreateMessageParams{
		Messages: []SamplingMessage{
			{Role: RoleUser, Content: Content{Type: ContentTypeText, Text: "hello"}},
			{Role: RoleAssistant, Content: Content{Type: ContentTypeImage, Data: "base64data"}},
		},
	})
	if err != nil {
		t.Fatalf("CreateMessage() error: %v", err)
	}

	if result.Role != RoleAssistant {
		t.Errorf("Role = %v, want %v", result.Role, RoleAssistant)
	}
	if result.Content.Text != "hi there" {
		t.Errorf("Content.Text = %q, want %q", result.Content.Text, "hi there")
	}
	if result.Model != "stub-model" {
		t.Errorf("Model = %q, want %q", result.Model, "stub-model")
	}
	if result.StopReason != StopReasonEndTurn {
		t.Errorf("StopReason = %q, want %q", result.StopReason, StopReasonEndTurn)
	}
}
