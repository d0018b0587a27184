package controlproto

import (
	"context"

	"github.com/corvid-labs/orchestrator/pkg/config"
)

// Dispatcher enforces the MAX_TOOL_DEPTH recursion guard (spec §4.13)
// around a ToolSurface. Tools that themselves invoke other tools (none
// currently do, but transports treat the guard as load-bearing for
// future tool-calling-tool composition) must thread depth+1 through
// rather than calling ToolSurface.Call directly.
type Dispatcher struct {
	surface *ToolSurface
	cfg     config.ControlProtoConfig
}

// NewDispatcher wraps surface with cfg's recursion bound.
func NewDispatcher(surface *ToolSurface, cfg config.ControlProtoConfig) *Dispatcher {
	return &Dispatcher{surface: surface, cfg: cfg}
}

// Dispatch runs one tool call at the given depth, refusing to proceed
// once depth reaches the configured MaxToolDepth.
func (d *Dispatcher) Dispatch(ctx context.Context, toolName string, rawArgs map[string]any, depth int) (any, *Error) {
	if d.cfg.MaxToolDepth > 0 && depth >= d.cfg.MaxToolDepth {
		return nil, ErrMaxDepth
	}
	return d.surface.Call(ctx, toolName, rawArgs)
}
