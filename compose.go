package mcp

import (
	"context"
	"fmt"
)

// ComposedToolServer exposes a ToolSet and an optional fallback ToolServer as a
// single ToolServer: tools/list returns the union (collection items first, then the
// fallback's pages drained to completion), and tools/call tries the collection
// first, then the fallback, then fails with "Unknown tool '<name>'".
//
// This lets a Server mix tools registered in-process (via ToolSet, with automatic
// list-changed notifications) with tools backed by an external system that already
// speaks the paginated ToolServer interface.
type ComposedToolServer struct {
	set      *ToolSet
	fallback ToolServer
}

// NewComposedToolServer builds a ComposedToolServer. fallback may be nil, in which
// case the composed server exposes exactly the ToolSet's contents.
func NewComposedToolServer(set *ToolSet, fallback ToolServer) *ComposedToolServer {
	return &ComposedToolServer{set: set, fallback: fallback}
}

// ListTools returns the ToolSet's tools followed by every page of the fallback's
// list, drained by following NextCursor until it is empty; the merged result carries
// no NextCursor. When params.Cursor is set and a fallback exists, the request goes
// straight to the fallback and its single page is returned as is, without the
// ToolSet's tools.
func (c *ComposedToolServer) ListTools(ctx context.Context, params ListToolsParams) (ListToolsResult, error) {
	if c.fallback == nil {
		return ListToolsResult{Tools: c.set.List()}, nil
	}

	if params.Cursor != "" {
		return c.fallback.ListTools(ctx, params)
	}

	tools := append([]Tool{}, c.set.List()...)
	cursor := ""
	for {
		page, err := c.fallback.ListTools(ctx, ListToolsParams{Cursor: cursor, Meta: params.Meta})
		if err != nil {
			return ListToolsResult{}, err
		}
		tools = append(tools, page.Tools...)
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	return ListToolsResult{Tools: tools}, nil
}

// CallTool tries the ToolSet first, then the fallback, returning
// "Unknown tool '<name>'" if neither recognizes it.
func (c *ComposedToolServer) CallTool(ctx context.Context, params CallToolParams) (CallToolResult, error) {
	if result, ok, err := c.set.Call(ctx, params.Name, params.Arguments); ok {
		return result, err
	}
	if c.fallback != nil {
		return c.fallback.CallTool(ctx, params)
	}
	return CallToolResult{}, fmt.Errorf("Unknown tool '%s'", params.Name)
}

// ComposedPromptServer is the prompt analogue of ComposedToolServer: it exposes a
// PromptSet and an optional fallback PromptServer as a single PromptServer.
type ComposedPromptServer struct {
	set      *PromptSet
	fallback PromptServer
}

// NewComposedPromptServer builds a ComposedPromptServer. fallback may be nil.
func NewComposedPromptServer(set *PromptSet, fallback PromptServer) *ComposedPromptServer {
	return &ComposedPromptServer{set: set, fallback: fallback}
}

// ListPrompts returns the PromptSet's prompts followed by every page of the
// fallback's list, drained the same way as ComposedToolServer.ListTools.
func (c *ComposedPromptServer) ListPrompts(ctx context.Context, params ListPromptsParams) (ListPromptsResult, error) {
	if c.fallback == nil {
		return ListPromptsResult{Prompts: c.set.List()}, nil
	}

	if params.Cursor != "" {
		return c.fallback.ListPrompts(ctx, params)
	}

	prompts := append([]Prompt{}, c.set.List()...)
	cursor := ""
	for {
		page, err := c.fallback.ListPrompts(ctx, ListPromptsParams{Cursor: cursor, Meta: params.Meta})
		if err != nil {
			return ListPromptsResult{}, err
		}
		prompts = append(prompts, page.Prompts...)
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	return ListPromptsResult{Prompts: prompts}, nil
}

// GetPrompt tries the PromptSet first, then the fallback, returning
// "Unknown prompt '<name>'" if neither recognizes it.
func (c *ComposedPromptServer) GetPrompt(ctx context.Context, params GetPromptParams) (GetPromptResult, error) {
	if result, ok, err := c.set.Get(ctx, params.Name, params.Arguments); ok {
		return result, err
	}
	if c.fallback != nil {
		return c.fallback.GetPrompt(ctx, params)
	}
	return GetPromptResult{}, fmt.Errorf("Unknown prompt '%s'", params.Name)
}
