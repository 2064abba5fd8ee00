package mcp

import (
	"context"
	"encoding/json"
	"sync"
)

// ToolHandlerFunc executes one call to a tool registered in a ToolSet.
type ToolHandlerFunc func(ctx context.Context, arguments json.RawMessage) (CallToolResult, error)

type toolEntry struct {
	tool    Tool
	handler ToolHandlerFunc
}

// ToolSet is a name-keyed, concurrency-safe collection of callable tools that a
// Server can expose directly, without a host hand-writing a ToolServer. Mutating
// the set notifies every registered change callback, so a Server wired to it can
// forward tools/list_changed automatically.
type ToolSet struct {
	mu      sync.RWMutex
	entries map[string]toolEntry
	order   []string

	changedMu sync.Mutex
	changed   []func()
}

// NewToolSet builds an empty ToolSet.
func NewToolSet() *ToolSet {
	return &ToolSet{entries: make(map[string]toolEntry)}
}

// Add registers a tool definition and the function that executes it, replacing any
// existing registration under the same name, and fires OnChanged callbacks.
func (s *ToolSet) Add(tool Tool, handler ToolHandlerFunc) {
	s.mu.Lock()
	if _, exists := s.entries[tool.Name]; !exists {
		s.order = append(s.order, tool.Name)
	}
	s.entries[tool.Name] = toolEntry{tool: tool, handler: handler}
	s.mu.Unlock()
	s.notify()
}

// Remove deletes a tool by name. Removing a name that isn't present is a no-op but
// still fires OnChanged, since a caller cannot distinguish "already gone" from
// "just removed" without a race.
func (s *ToolSet) Remove(name string) {
	s.mu.Lock()
	if _, exists := s.entries[name]; exists {
		delete(s.entries, name)
		s.order = removeName(s.order, name)
	}
	s.mu.Unlock()
	s.notify()
}

// List returns every tool definition in insertion order.
func (s *ToolSet) List() []Tool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Tool, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.entries[name].tool)
	}
	return out
}

// Call invokes the handler registered for name, reporting ok=false if no tool by
// that name is registered.
func (s *ToolSet) Call(ctx context.Context, name string, arguments json.RawMessage) (result CallToolResult, ok bool, err error) {
	s.mu.RLock()
	entry, exists := s.entries[name]
	s.mu.RUnlock()
	if !exists {
		return CallToolResult{}, false, nil
	}
	result, err = entry.handler(ctx, arguments)
	return result, true, err
}

// OnChanged registers a callback invoked after every Add/Remove.
func (s *ToolSet) OnChanged(fn func()) {
	s.changedMu.Lock()
	s.changed = append(s.changed, fn)
	s.changedMu.Unlock()
}

func (s *ToolSet) notify() {
	s.changedMu.Lock()
	callbacks := append([]func(){}, s.changed...)
	s.changedMu.Unlock()
	for _, fn := range callbacks {
		fn()
	}
}

// PromptHandlerFunc renders one call to a prompt registered in a PromptSet.
type PromptHandlerFunc func(ctx context.Context, arguments map[string]string) (GetPromptResult, error)

type promptEntry struct {
	prompt  Prompt
	handler PromptHandlerFunc
}

// PromptSet is a name-keyed, concurrency-safe collection of renderable prompts, the
// prompt analogue of ToolSet.
type PromptSet struct {
	mu      sync.RWMutex
	entries map[string]promptEntry
	order   []string

	changedMu sync.Mutex
	changed   []func()
}

// NewPromptSet builds an empty PromptSet.
func NewPromptSet() *PromptSet {
	return &PromptSet{entries: make(map[string]promptEntry)}
}

// Add registers a prompt definition and the function that renders it, replacing
// any existing registration under the same name, and fires OnChanged callbacks.
func (s *PromptSet) Add(prompt Prompt, handler PromptHandlerFunc) {
	s.mu.Lock()
	if _, exists := s.entries[prompt.Name]; !exists {
		s.order = append(s.order, prompt.Name)
	}
	s.entries[prompt.Name] = promptEntry{prompt: prompt, handler: handler}
	s.mu.Unlock()
	s.notify()
}

// Remove deletes a prompt by name.
func (s *PromptSet) Remove(name string) {
	s.mu.Lock()
	if _, exists := s.entries[name]; exists {
		delete(s.entries, name)
		s.order = removeName(s.order, name)
	}
	s.mu.Unlock()
	s.notify()
}

// List returns every prompt definition in insertion order.
func (s *PromptSet) List() []Prompt {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Prompt, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.entries[name].prompt)
	}
	return out
}

// Get renders the prompt registered for name, reporting ok=false if no prompt by
// that name is registered.
func (s *PromptSet) Get(ctx context.Context, name string, arguments map[string]string) (result GetPromptResult, ok bool, err error) {
	s.mu.RLock()
	entry, exists := s.entries[name]
	s.mu.RUnlock()
	if !exists {
		return GetPromptResult{}, false, nil
	}
	result, err = entry.handler(ctx, arguments)
	return result, true, err
}

// OnChanged registers a callback invoked after every Add/Remove.
func (s *PromptSet) OnChanged(fn func()) {
	s.changedMu.Lock()
	s.changed = append(s.changed, fn)
	s.changedMu.Unlock()
}

func (s *PromptSet) notify() {
	s.changedMu.Lock()
	callbacks := append([]func(){}, s.changed...)
	s.changedMu.Unlock()
	for _, fn := range callbacks {
		fn()
	}
}

func removeName(names []string, target string) []string {
	for i, n := range names {
		if n == target {
			return append(names[:i], names[i+1:]...)
		}
	}
	return names
}
