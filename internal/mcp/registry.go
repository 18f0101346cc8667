package mcp

import (
	"context"
	"fmt"
	"sync"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
)

// ToolHandlerFunc executes a tool call. Handlers report tool-level
// failures through the result's IsError flag or by returning an error;
// returned errors become JSON-RPC error responses.
type ToolHandlerFunc func(ctx context.Context, request mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error)

type registeredTool struct {
	tool    mcpgo.Tool
	handler ToolHandlerFunc
}

// Registry maps tool names to their declarations and handlers.
// Registration happens at startup; lookups are concurrent.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]registeredTool
	order []string
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]registeredTool)}
}

// Add registers a tool. Re-registering a name replaces the handler but
// keeps the original listing position.
func (r *Registry) Add(tool mcpgo.Tool, handler ToolHandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[tool.Name]; !exists {
		r.order = append(r.order, tool.Name)
	}
	r.tools[tool.Name] = registeredTool{tool: tool, handler: handler}
}

// Get returns the tool declaration and handler for a name.
func (r *Registry) Get(name string) (mcpgo.Tool, ToolHandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.tools[name]
	return reg.tool, reg.handler, ok
}

// List returns all tools in registration order.
func (r *Registry) List() []mcpgo.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tools := make([]mcpgo.Tool, 0, len(r.order))
	for _, name := range r.order {
		tools = append(tools, r.tools[name].tool)
	}
	return tools
}

// ValidateArguments checks an argument document against a tool's declared
// input schema: required properties must be present and typed properties
// must match their declared JSON type. Validation failures keep the call
// from ever reaching the handler.
func ValidateArguments(tool mcpgo.Tool, args map[string]any) error {
	for _, required := range tool.InputSchema.Required {
		if _, ok := args[required]; !ok {
			return fmt.Errorf("missing required argument %q", required)
		}
	}
	for name, value := range args {
		propAny, ok := tool.InputSchema.Properties[name]
		if !ok {
			continue
		}
		prop, ok := propAny.(map[string]any)
		if !ok {
			continue
		}
		declared, _ := prop["type"].(string)
		if declared == "" {
			continue
		}
		if err := checkType(name, declared, value); err != nil {
			return err
		}
	}
	return nil
}

func checkType(name, declared string, value any) error {
	if value == nil {
		return nil
	}
	switch declared {
	case "string":
		if _, ok := value.(string); !ok {
			return fmt.Errorf("argument %q must be a string", name)
		}
	case "number", "integer":
		switch value.(type) {
		case float64, int, int64:
		default:
			return fmt.Errorf("argument %q must be a number", name)
		}
	case "boolean":
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("argument %q must be a boolean", name)
		}
	case "array":
		if _, ok := value.([]any); !ok {
			return fmt.Errorf("argument %q must be an array", name)
		}
	case "object":
		if _, ok := value.(map[string]any); !ok {
			return fmt.Errorf("argument %q must be an object", name)
		}
	}
	return nil
}
