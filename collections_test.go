package mcp

import (
	"context"
	"encoding/json"
	"testing"
)

func TestToolSetAddRemoveList(t *testing.T) {
	set := NewToolSet()

	changes := 0
	set.OnChanged(func() { changes++ })

	set.Add(Tool{Name: "a"}, func(_ context.Context, _ json.RawMessage) (CallToolResult, error) {
		return CallToolResult{}, nil
	})
	set.Add(Tool{Name: "b"}, func(_ context.Context, _ json.RawMessage) (CallToolResult, error) {
		return CallToolResult{}, nil
	})

	if got := set.List(); len(got) != 2 || got[0].Name != "a" || got[1].Name != "b" {
		t.Fatalf("List() = %+v, want [a b] in insertion order", got)
	}

	set.Remove("a")
	if got := set.List(); len(got) != 1 || got[0].Name != "b" {
		t.Fatalf("List() after Remove = %+v, want [b]", got)
	}

	if changes != 3 {
		t.Errorf("OnChanged fired %d times, want 3", changes)
	}
}

func TestToolSetCall(t *testing.T) {
	set := NewToolSet()
	set.Add(Tool{Name: "echo"}, func(_ context.Context, args json.RawMessage) (CallToolResult, error) {
		return CallToolResult{Content: []Content{{Type: ContentTypeText, Text: string(args)}}}, nil
	})

	result, ok, err := set.Call(context.Background(), "echo", json.RawMessage(`"hi"`))
	if err != nil {
		t.Fatalf("Call() error: %v", err)
	}
	if !ok {
		t.Fatal("Call() ok = false, want true")
	}
	if result.Content[0].Text != `"hi"` {
		t.Errorf("Call() text = %q, want %q", result.Content[0].Text, `"hi"`)
	}

	_, ok, _ = set.Call(context.Background(), "missing", nil)
	if ok {
		t.Error("Call() for unknown tool should report ok=false")
	}
}

func TestPromptSetGet(t *testing.T) {
	set := NewPromptSet()
	set.Add(Prompt{Name: "greet"}, func(_ context.Context, args map[string]string) (GetPromptResult, error) {
		return GetPromptResult{
			Messages: []PromptMessage{
				{Role: RoleUser, Content: Content{Type: ContentTypeText, Text: "hello " + args["name"]}},
			},
		}, nil
	})

	result, ok, err := set.Get(context.Background(), "greet", map[string]string{"name": "ada"})
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if !ok {
		t.Fatal("Get() ok = false, want true")
	}
	if result.Messages[0].Content.Text != "hello ada" {
		t.Errorf("Get() text = %q, want %q", result.Messages[0].Content.Text, "hello ada")
	}

	_, ok, _ = set.Get(context.Background(), "missing", nil)
	if ok {
		t.Error("Get() for unknown prompt should report ok=false")
	}
}
