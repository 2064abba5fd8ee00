// Command memo is a minimal MCP server exposing a single in-memory note store as
// both a tool and a prompt, wired over the stdio transport. It demonstrates
// ToolSet/PromptSet usage end to end: run it and speak newline-delimited JSON-RPC
// on its stdin/stdout, or point an MCP-aware client at it as a subprocess.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"

	"github.com/qri-io/jsonschema"

	mcp "github.com/modelcontextprotocol/go-mcp-core"
)

type memoStore struct {
	mu    sync.Mutex
	notes []string
}

func (m *memoStore) add(text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notes = append(m.notes, text)
}

func (m *memoStore) all() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.notes))
	copy(out, m.notes)
	return out
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		cancel()
	}()

	store := &memoStore{}

	tools := mcp.NewToolSet()
	tools.Add(mcp.Tool{
		Name:        "add_memo",
		Description: "Append a note to the memo store.",
		InputSchema: addMemoSchema(),
	}, func(_ context.Context, arguments json.RawMessage) (mcp.CallToolResult, error) {
		var args struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(arguments, &args); err != nil {
			return mcp.CallToolResult{}, fmt.Errorf("invalid arguments: %w", err)
		}
		store.add(args.Text)
		return mcp.CallToolResult{
			Content: []mcp.Content{{Type: mcp.ContentTypeText, Text: "noted"}},
		}, nil
	})

	prompts := mcp.NewPromptSet()
	prompts.Add(mcp.Prompt{
		Name:        "summarize_memos",
		Description: "Render all stored memos as a bulleted list for summarization.",
	}, func(_ context.Context, _ map[string]string) (mcp.GetPromptResult, error) {
		text := "Summarize the following notes:\n"
		for _, n := range store.all() {
			text += fmt.Sprintf("- %s\n", n)
		}
		return mcp.GetPromptResult{
			Messages: []mcp.PromptMessage{
				{Role: mcp.RoleUser, Content: mcp.Content{Type: mcp.ContentTypeText, Text: text}},
			},
		}, nil
	})

	server := mcp.NewServer(
		mcp.Info{Name: "memo", Version: "0.1.0"},
		mcp.WithToolSet(tools),
		mcp.WithPromptSet(prompts),
	)

	transport := mcp.NewStdIOServerTransport(os.Stdin, os.Stdout)
	if err := server.Serve(ctx, transport); err != nil {
		log.Fatal(err)
	}
}

func addMemoSchema() *jsonschema.Schema {
	return jsonschema.Must(`{
		"type": "object",
		"properties": {
			"text": {"type": "string"}
		},
		"required": ["text"]
	}`)
}
