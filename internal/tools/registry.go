// internal/tools/registry.go
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/vantor-labs/concierge/api/schemas"
)

// Registry is the tool dispatcher: a name-indexed table of handlers. Execution
// failures of any kind, including unknown names and handler panics, are
// returned as tool failures for the model to react to, never as turn errors.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]schemas.ToolHandler
	logger   *zap.Logger
}

// NewRegistry creates an empty dispatcher.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		handlers: make(map[string]schemas.ToolHandler),
		logger:   logger.Named("tools"),
	}
}

// Register adds a handler under its declared name, replacing any previous
// registration.
func (r *Registry) Register(h schemas.ToolHandler) {
	def := h.Definition()
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[def.Name]; exists {
		r.logger.Warn("Replacing existing tool registration", zap.String("tool", def.Name))
	}
	r.handlers[def.Name] = h
}

// Definitions returns the declarations of all registered tools, sorted by name
// so the model sees a stable catalog across iterations.
func (r *Registry) Definitions() []schemas.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]schemas.ToolDefinition, 0, len(r.handlers))
	for _, h := range r.handlers {
		defs = append(defs, h.Definition())
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Execute runs the named tool. The returned error indicates a tool-level
// failure to report back to the model; it never aborts the turn.
func (r *Registry) Execute(ctx context.Context, name string, input json.RawMessage) (result string, err error) {
	r.mu.RLock()
	handler, ok := r.handlers[name]
	r.mu.RUnlock()

	if !ok {
		r.logger.Warn("Model requested unknown tool", zap.String("tool", name))
		return "", fmt.Errorf("unknown tool %q", name)
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Tool handler panicked",
				zap.String("tool", name), zap.Any("panic", rec), zap.Stack("stack"))
			result = ""
			err = fmt.Errorf("tool %q failed: internal error", name)
		}
	}()

	return handler.Execute(ctx, input)
}
