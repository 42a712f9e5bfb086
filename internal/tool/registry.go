package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/kx3-io/carbot/pkg/protocol"
)

// Registry holds the fixed tool set and dispatches batches of tool calls.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]Tool
	logger *slog.Logger
}

// NewRegistry creates an empty tool registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{tools: make(map[string]Tool), logger: logger}
}

// Register adds a tool to the registry.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the sorted names of all registered tools.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dispatch executes a batch of tool calls and returns exactly one output per
// call, in the same order. A call that fails — unknown name, malformed
// arguments, execution error, even a panic — yields a structured error
// payload; it never stops the rest of the batch. The run protocol requires
// one output per call or the run stalls permanently.
func (r *Registry) Dispatch(ctx context.Context, calls []protocol.ToolCall) []protocol.ToolOutput {
	outputs := make([]protocol.ToolOutput, len(calls))
	for i, call := range calls {
		outputs[i] = protocol.ToolOutput{
			CallID: call.ID,
			Output: r.dispatchOne(ctx, call),
		}
	}
	return outputs
}

func (r *Registry) dispatchOne(ctx context.Context, call protocol.ToolCall) (output string) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("tool panicked", "tool", call.Name, "call_id", call.ID, "panic", fmt.Sprintf("%v", rec))
			output = errorPayload(fmt.Sprintf("%s: internal error", call.Name))
		}
	}()

	t, ok := r.Get(call.Name)
	if !ok {
		r.logger.Warn("unknown tool requested", "tool", call.Name, "call_id", call.ID)
		return errorPayload(fmt.Sprintf("%s not found", call.Name))
	}

	r.logger.Info("tool call", "tool", call.Name, "call_id", call.ID)
	result, err := t.Execute(ctx, Args(call.Arguments))
	if err != nil {
		r.logger.Warn("tool error", "tool", call.Name, "call_id", call.ID, "error", err)
		return errorPayload(err.Error())
	}

	payload, err := json.Marshal(result)
	if err != nil {
		r.logger.Error("tool result not serializable", "tool", call.Name, "error", err)
		return errorPayload(fmt.Sprintf("%s: unserializable result", call.Name))
	}
	return string(payload)
}

func errorPayload(msg string) string {
	payload, _ := json.Marshal(map[string]string{"error": msg})
	return string(payload)
}
