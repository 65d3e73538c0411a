package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/showrunhq/showrun-agent/internal/ai/tools"
	"github.com/showrunhq/showrun-agent/internal/auditlog"
	"github.com/showrunhq/showrun-agent/internal/wire"
)

// DefaultMaxIterations bounds oracle turns per chat request. Exceeding it is
// a fatal condition, not a retry.
const DefaultMaxIterations = 8

type chatRun struct {
	log    *slog.Logger
	id     string
	oracle Oracle
	tools  *tools.Dispatcher
	stream *eventStream
	audit  *auditlog.Store

	maxIterations int
	startedAt     time.Time

	// Terminal outcome, for the caller's bookkeeping after run returns.
	endStatus string // completed | errored | cancelled
	endReason string
}

// run drives the oracle/tool loop for one chat request and owns the event
// stream for its lifetime. It always ends the stream with exactly one done
// event (preceded by an error event on fatal paths), except when the client
// is already gone and writes fail.
func (r *chatRun) run(ctx context.Context, req ChatRequest) {
	r.startedAt = time.Now()
	r.debug("chat started", "turns", len(req.Messages))

	trace := NewTrace(systemPrompt, req.Messages)
	defs := r.tools.Definitions()

	// The analyzing phase covers oracle thinking; it opens once per request.
	r.emit(wire.AgentStep(wire.NodeAnalyzing, wire.StepRunning))

	for iteration := 0; iteration < r.maxIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			r.cancelled(iteration)
			return
		}

		resp, err := r.oracle.Next(ctx, trace, defs, func(fragment string) {
			if fragment != "" {
				r.emit(wire.Token(fragment))
			}
		})
		if err != nil {
			if ctx.Err() != nil {
				r.cancelled(iteration)
				return
			}
			r.fail(fmt.Sprintf("assistant request failed: %v", err))
			return
		}
		trace.AppendAssistant(resp.Text, resp.ToolCalls)

		// Each completed oracle turn closes the analyzing phase.
		r.emit(wire.AgentStep(wire.NodeAnalyzing, wire.StepDone))

		if resp.Terminal() {
			r.emit(wire.Done())
			r.endStatus = "completed"
			r.debug("chat completed", "iterations", iteration+1, "duration_ms", time.Since(r.startedAt).Milliseconds())
			return
		}

		results := make([]ToolResult, 0, len(resp.ToolCalls))
		for _, call := range resp.ToolCalls {
			result, fatal := r.dispatch(ctx, call)
			if fatal != nil {
				r.fail(fatal.Message)
				return
			}
			results = append(results, result)
		}
		trace.AppendResults(results)
	}

	r.fail(fmt.Sprintf("stopped after %d iterations without completing", r.maxIterations))
}

// dispatch runs one tool call and emits its phase transitions and structured
// result. Returns a non-nil error only for fatal failures; recoverable
// failures come back as an error-flagged trace result.
func (r *chatRun) dispatch(ctx context.Context, call ToolCall) (ToolResult, *tools.ToolError) {
	node := r.tools.Node(call.Name)
	r.emit(wire.AgentStep(node, wire.StepRunning))

	payload, toolErr := r.tools.Dispatch(ctx, call.Name, call.Args)
	if toolErr != nil {
		r.emit(wire.AgentStep(node, wire.StepError))
		if toolErr.Fatal {
			return ToolResult{}, toolErr
		}
		detail, _ := json.Marshal(toolErr)
		return ToolResult{CallID: call.ID, Name: call.Name, Content: string(detail), IsError: true}, nil
	}

	r.emit(wire.AgentStep(node, wire.StepDone))
	r.emitStructured(call.Name, payload)
	r.auditSchedule(call.Name, payload)

	content, err := json.Marshal(payload)
	if err != nil {
		content = []byte(fmt.Sprintf("%v", payload))
	}
	return ToolResult{CallID: call.ID, Name: call.Name, Content: string(content)}, nil
}

// emitStructured maps a successful tool payload to its typed wire event. A
// zero-count audience result is still emitted; suppressing its rendering is
// the client's call.
func (r *chatRun) emitStructured(toolName string, payload any) {
	var (
		event wire.Event
		err   error
	)
	switch toolName {
	case tools.ToolQueryCRM:
		audience, ok := payload.(wire.AudiencePayload)
		if !ok {
			return
		}
		event, err = wire.AudienceResult(audience)
	case tools.ToolGenerateCopy:
		draft, ok := payload.(wire.CampaignDraftPayload)
		if !ok {
			return
		}
		event, err = wire.CampaignDraft(draft)
	case tools.ToolSchedule:
		scheduled, ok := payload.(wire.SchedulePayload)
		if !ok {
			return
		}
		event, err = wire.Scheduled(scheduled)
	default:
		return
	}
	if err != nil {
		r.log.Warn("structured event encode failed", "chat_id", r.id, "tool", toolName, "error", err.Error())
		return
	}
	r.emit(event)
}

// fail surfaces a fatal condition: error first, then the terminal done.
func (r *chatRun) fail(message string) {
	message = strings.TrimSpace(message)
	r.endStatus = "errored"
	r.endReason = message
	if r.log != nil {
		r.log.Warn("chat failed", "chat_id", r.id, "error", message, "duration_ms", time.Since(r.startedAt).Milliseconds())
	}
	r.emit(wire.Error(message))
	r.emit(wire.Done())
}

// cancelled stops the loop after a client disconnect. The transport is gone,
// so terminal events are attempted best-effort and write failures ignored.
func (r *chatRun) cancelled(iteration int) {
	r.endStatus = "cancelled"
	r.endReason = "request cancelled"
	r.debug("chat cancelled", "iteration", iteration, "duration_ms", time.Since(r.startedAt).Milliseconds())
	r.emit(wire.Error("request cancelled"))
	r.emit(wire.Done())
}

// auditSchedule records successfully scheduled campaigns in the audit log.
func (r *chatRun) auditSchedule(toolName string, payload any) {
	if r.audit == nil || toolName != tools.ToolSchedule {
		return
	}
	scheduled, ok := payload.(wire.SchedulePayload)
	if !ok {
		return
	}
	if err := r.audit.Append(auditlog.Entry{
		Action:     auditlog.ActionCampaignSchedule,
		Status:     auditlog.StatusOK,
		ChatID:     r.id,
		CampaignID: scheduled.CampaignID,
		SegmentID:  scheduled.SegmentID,
		Detail:     fmt.Sprintf("event=%s send_at=%s audience=%d", scheduled.EventName, scheduled.SendAt, scheduled.AudienceSize),
	}); err != nil {
		r.debug("audit append failed", "error", err.Error())
	}
}

func (r *chatRun) emit(e wire.Event) {
	if err := r.stream.emit(e); err != nil {
		r.debug("stream write failed", "event", e.Type, "error", err.Error())
	}
}

func (r *chatRun) debug(msg string, args ...any) {
	if r.log == nil {
		return
	}
	r.log.Debug(msg, append([]any{"chat_id", r.id}, args...)...)
}
