package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
)

// ErrUnknownTool is returned when a requested tool is not registered.
var ErrUnknownTool = errors.New("agent: unknown tool") //nolint:gochecknoglobals // sentinel error

// ToolFunc executes one tool call and returns its JSON result.
type ToolFunc func(ctx context.Context, args map[string]any) (json.RawMessage, error)

// Tool is a registered tool. Tools with a SubAgent name run as a delegated
// child session and are recorded with sub-agent call/result entries.
type Tool struct {
	Name     string
	SubAgent string
	Run      ToolFunc
}

// Registry manages the tools an orchestrator may call.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]Tool),
	}
}

// Register adds or replaces a tool.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name] = tool
}

// Lookup returns the tool registered under name.
func (r *Registry) Lookup(name string) (Tool, error) {
	r.mu.RLock()
	tool, ok := r.tools[name]
	r.mu.RUnlock()

	if !ok {
		return Tool{}, fmt.Errorf("agent.Registry.Lookup(%q): %w", name, ErrUnknownTool)
	}
	if tool.Run == nil {
		return Tool{}, fmt.Errorf("agent.Registry.Lookup(%q): tool has no implementation", name)
	}
	return tool, nil
}

// Available returns registered tool names in sorted order.
func (r *Registry) Available() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := slices.Collect(func(yield func(string) bool) {
		for name := range r.tools {
			if !yield(name) {
				return
			}
		}
	})
	sort.Strings(names)
	return names
}
