package mcp

import (
	"context"
	"encoding/json"
	"testing"
)

// pagedFallbackToolServer serves one page per call to ListTools, forcing callers
// through multiple pages, and answers every CallTool with "fallback:<name>".
type pagedFallbackToolServer struct {
	pages [][]Tool
}

func (p pagedFallbackToolServer) ListTools(_ context.Context, params ListToolsParams) (ListToolsResult, error) {
	idx := 0
	if params.Cursor != "" {
		for i, c := range cursorsFor(len(p.pages)) {
			if c == params.Cursor {
				idx = i
				break
			}
		}
	}
	cursors := cursorsFor(len(p.pages))
	result := ListToolsResult{Tools: p.pages[idx]}
	if idx+1 < len(p.pages) {
		result.NextCursor = cursors[idx+1]
	}
	return result, nil
}

func (p pagedFallbackToolServer) CallTool(_ context.Context, params CallToolParams) (CallToolResult, error) {
	return CallToolResult{Content: []Content{{Type: ContentTypeText, Text: "fallback:" + params.Name}}}, nil
}

func cursorsFor(n int) []string {
	cursors := make([]string, n)
	for i := range cursors {
		cursors[i] = string(rune('a' + i))
	}
	return cursors
}

func TestComposedToolServerListMergesSetAndFallbackPages(t *testing.T) {
	set := NewToolSet()
	set.Add(Tool{Name: "local"}, func(_ context.Context, _ json.RawMessage) (CallToolResult, error) {
		return CallToolResult{}, nil
	})

	fallback := pagedFallbackToolServer{pages: [][]Tool{{{Name: "remote-1"}}, {{Name: "remote-2"}}}}
	composed := NewComposedToolServer(set, fallback)

	result, err := composed.ListTools(context.Background(), ListToolsParams{})
	if err != nil {
		t.Fatalf("ListTools() error: %v", err)
	}

	names := make([]string, len(result.Tools))
	for i, tool := range result.Tools {
		names[i] = tool.Name
	}
	want := []string{"local", "remote-1", "remote-2"}
	if len(names) != len(want) {
		t.Fatalf("ListTools() names = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("ListTools() names[%d] = %q, want %q", i, names[i], want[i])
		}
	}
}

func TestComposedToolServerCallPrefersSetThenFallback(t *testing.T) {
	set := NewToolSet()
	set.Add(Tool{Name: "local"}, func(_ context.Context, _ json.RawMessage) (CallToolResult, error) {
		return CallToolResult{Content: []Content{{Type: ContentTypeText, Text: "local-result"}}}, nil
	})
	composed := NewComposedToolServer(set, pagedFallbackToolServer{pages: [][]Tool{{}}})

	local, err := composed.CallTool(context.Background(), CallToolParams{Name: "local"})
	if err != nil {
		t.Fatalf("CallTool(local) error: %v", err)
	}
	if local.Content[0].Text != "local-result" {
		t.Errorf("CallTool(local) = %q, want %q", local.Content[0].Text, "local-result")
	}

	remote, err := composed.CallTool(context.Background(), CallToolParams{Name: "remote"})
	if err != nil {
		t.Fatalf("CallTool(remote) error: %v", err)
	}
	if remote.Content[0].Text != "fallback:remote" {
		t.Errorf("CallTool(remote) = %q, want %q", remote.Content[0].Text, "fallback:remote")
	}
}

func TestComposedToolServerCallUnknownFailsWithoutFallback(t *testing.T) {
	composed := NewComposedToolServer(NewToolSet(), nil)
	if _, err := composed.CallTool(context.Background(), CallToolParams{Name: "ghost"}); err == nil {
		t.Error("expected error calling unknown tool with no fallback")
	}
}
