package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Handler executes one tool invocation with decoded arguments.
type Handler func(ctx context.Context, args map[string]any) (any, *ToolError)

// Definition describes one registered tool: its provider-facing schema, the
// agent_step node it maps to, and its handler.
type Definition struct {
	Name        string
	Description string
	InputSchema json.RawMessage
	Node        string
	Run         Handler
}

// Dispatcher routes tool calls by name. It holds no per-request state and is
// safe for concurrent use across chat requests.
type Dispatcher struct {
	log    *slog.Logger
	defs   []Definition
	byName map[string]Definition
}

func NewDispatcher(log *slog.Logger, defs []Definition) (*Dispatcher, error) {
	if log == nil {
		log = slog.Default()
	}
	byName := make(map[string]Definition, len(defs))
	kept := make([]Definition, 0, len(defs))
	for _, def := range defs {
		name := strings.TrimSpace(def.Name)
		if name == "" {
			return nil, errors.New("tool definition missing name")
		}
		if def.Run == nil {
			return nil, fmt.Errorf("tool %q missing handler", name)
		}
		if _, ok := byName[name]; ok {
			return nil, fmt.Errorf("duplicate tool %q", name)
		}
		def.Name = name
		byName[name] = def
		kept = append(kept, def)
	}
	return &Dispatcher{log: log, defs: kept, byName: byName}, nil
}

// Definitions returns the registered tools in registration order.
func (d *Dispatcher) Definitions() []Definition {
	if d == nil {
		return nil
	}
	return append([]Definition(nil), d.defs...)
}

// Node returns the agent_step node name for a tool. Falls back to the tool
// name itself so unknown tools still produce a tolerable (ignored) node.
func (d *Dispatcher) Node(toolName string) string {
	if d != nil {
		if def, ok := d.byName[strings.TrimSpace(toolName)]; ok && strings.TrimSpace(def.Node) != "" {
			return def.Node
		}
	}
	return strings.TrimSpace(toolName)
}

// Dispatch executes one tool call. A nil *ToolError means success; the
// returned payload is the tool's structured result.
func (d *Dispatcher) Dispatch(ctx context.Context, toolName string, args map[string]any) (any, *ToolError) {
	if d == nil {
		return nil, Fatal(ErrorCodeUnavailable, "tool dispatcher not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	toolName = strings.TrimSpace(toolName)
	def, ok := d.byName[toolName]
	if !ok {
		return nil, Recoverable(ErrorCodeNotFound, fmt.Sprintf("unknown tool %q", toolName))
	}
	if err := ctx.Err(); err != nil {
		return nil, Recoverable(ErrorCodeCanceled, "request canceled")
	}

	started := time.Now()
	result, toolErr := def.Run(ctx, args)
	if toolErr != nil {
		toolErr.Normalize()
		d.log.Warn("tool dispatch failed",
			"tool", toolName,
			"code", string(toolErr.Code),
			"fatal", toolErr.Fatal,
			"duration_ms", time.Since(started).Milliseconds(),
			"error", toolErr.Message,
		)
		return nil, toolErr
	}
	d.log.Debug("tool dispatch ok",
		"tool", toolName,
		"duration_ms", time.Since(started).Milliseconds(),
	)
	return result, nil
}
