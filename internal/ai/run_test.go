package ai

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/showrunhq/showrun-agent/internal/ai/tools"
	"github.com/showrunhq/showrun-agent/internal/wire"
)

func testToolDefs(t *testing.T) []tools.Definition {
	t.Helper()
	return []tools.Definition{
		{
			Name:        tools.ToolQueryCRM,
			Description: "test audience search",
			InputSchema: []byte(`{"type":"object","properties":{},"required":[]}`),
			Node:        wire.NodeQueryCRM,
			Run: func(_ context.Context, args map[string]any) (any, *tools.ToolError) {
				if _, bad := args["explode"]; bad {
					return nil, tools.Recoverable(tools.ErrorCodeInvalidArgs, "bad filter")
				}
				if _, fatal := args["fatal"]; fatal {
					return nil, tools.Fatal(tools.ErrorCodeUnavailable, "store is gone")
				}
				return wire.AudiencePayload{Count: 12, SegmentID: "seg_ab12cd34", AvgSpent: 80.5, OpenRate: 0.42, Fans: []wire.FanSummary{}}, nil
			},
		},
		{
			Name:        tools.ToolSchedule,
			Description: "test scheduler",
			InputSchema: []byte(`{"type":"object","properties":{},"required":[]}`),
			Node:        wire.NodeSchedule,
			Run: func(context.Context, map[string]any) (any, *tools.ToolError) {
				return wire.SchedulePayload{CampaignID: "cmp_11223344", SegmentID: "seg_ab12cd34", EventName: "Test Night", AudienceSize: 12, SendAt: "2026-09-01T10:00:00Z", Status: "scheduled"}, nil
			},
		},
	}
}

func runChat(t *testing.T, oracle Oracle, maxIterations int) []wire.Event {
	t.Helper()
	dispatcher, err := tools.NewDispatcher(slog.Default(), testToolDefs(t))
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	svc, err := NewService(Options{Oracle: oracle, Tools: dispatcher, MaxIterations: maxIterations})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	var buf bytes.Buffer
	req := ChatRequest{Messages: []ChatMessage{{Role: "user", Content: "Find jazz fans in Chicago"}}}
	if err := svc.StartChat(context.Background(), "chat_test", req, &buf); err != nil {
		t.Fatalf("start chat: %v", err)
	}
	return decodeEvents(t, buf.Bytes())
}

func decodeEvents(t *testing.T, raw []byte) []wire.Event {
	t.Helper()
	var events []wire.Event
	for _, line := range bytes.Split(raw, []byte("\n")) {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		e, err := wire.Decode(line)
		if err != nil {
			t.Fatalf("decode frame %q: %v", line, err)
		}
		events = append(events, e)
	}
	return events
}

func eventTypes(events []wire.Event) []string {
	out := make([]string, 0, len(events))
	for _, e := range events {
		if e.Type == wire.TypeAgentStep {
			out = append(out, e.Type+":"+e.Node+":"+e.Status)
			continue
		}
		out = append(out, e.Type)
	}
	return out
}

func TestRunTextOnlyTurn(t *testing.T) {
	t.Parallel()
	oracle := &ScriptedOracle{Turns: []ScriptedTurn{
		{Text: "Hello there.", TokenChunks: []string{"Hello ", "there."}},
	}}
	events := runChat(t, oracle, 0)

	want := []string{
		"agent_step:analyzing:running",
		"token",
		"token",
		"agent_step:analyzing:done",
		"done",
	}
	got := eventTypes(events)
	if strings.Join(got, " ") != strings.Join(want, " ") {
		t.Fatalf("event sequence got=%v want=%v", got, want)
	}

	var text strings.Builder
	for _, e := range events {
		if e.Type == wire.TypeToken {
			text.WriteString(e.Content)
		}
	}
	if text.String() != "Hello there." {
		t.Fatalf("token concatenation got=%q want=%q", text.String(), "Hello there.")
	}
}

func TestRunToolTurnOrdering(t *testing.T) {
	t.Parallel()
	oracle := &ScriptedOracle{Turns: []ScriptedTurn{
		{ToolCalls: []ToolCall{{ID: "call_1", Name: tools.ToolQueryCRM, Args: map[string]any{}}}},
		{Text: "Found 12 fans.", TokenChunks: []string{"Found ", "12 fans."}},
	}}
	events := runChat(t, oracle, 0)

	want := []string{
		"agent_step:analyzing:running",
		"agent_step:analyzing:done",
		"agent_step:query_crm:running",
		"agent_step:query_crm:done",
		"audience_result",
		"token",
		"token",
		"agent_step:analyzing:done",
		"done",
	}
	got := eventTypes(events)
	if strings.Join(got, " ") != strings.Join(want, " ") {
		t.Fatalf("event sequence got=%v want=%v", got, want)
	}

	for _, e := range events {
		if e.Type != wire.TypeAudienceResult {
			continue
		}
		audience, err := e.Audience()
		if err != nil {
			t.Fatalf("decode audience: %v", err)
		}
		if audience.Count != 12 || audience.SegmentID != "seg_ab12cd34" {
			t.Fatalf("audience payload got=%+v", audience)
		}
	}
}

func TestRunMultipleToolCallsKeepRequestOrder(t *testing.T) {
	t.Parallel()
	oracle := &ScriptedOracle{Turns: []ScriptedTurn{
		{ToolCalls: []ToolCall{
			{ID: "call_1", Name: tools.ToolQueryCRM, Args: map[string]any{}},
			{ID: "call_2", Name: tools.ToolSchedule, Args: map[string]any{}},
		}},
		{Text: "All set."},
	}}
	events := runChat(t, oracle, 0)

	want := []string{
		"agent_step:analyzing:running",
		"agent_step:analyzing:done",
		"agent_step:query_crm:running",
		"agent_step:query_crm:done",
		"audience_result",
		"agent_step:schedule_campaign:running",
		"agent_step:schedule_campaign:done",
		"scheduled",
		"token",
		"agent_step:analyzing:done",
		"done",
	}
	got := eventTypes(events)
	if strings.Join(got, " ") != strings.Join(want, " ") {
		t.Fatalf("event sequence got=%v want=%v", got, want)
	}
}

func TestRunRecoverableToolErrorContinues(t *testing.T) {
	t.Parallel()
	oracle := &ScriptedOracle{Turns: []ScriptedTurn{
		{ToolCalls: []ToolCall{{ID: "call_1", Name: tools.ToolQueryCRM, Args: map[string]any{"explode": true}}}},
		{Text: "That filter did not work, try a city."},
	}}
	events := runChat(t, oracle, 0)

	want := []string{
		"agent_step:analyzing:running",
		"agent_step:analyzing:done",
		"agent_step:query_crm:running",
		"agent_step:query_crm:error",
		"token",
		"agent_step:analyzing:done",
		"done",
	}
	got := eventTypes(events)
	if strings.Join(got, " ") != strings.Join(want, " ") {
		t.Fatalf("event sequence got=%v want=%v", got, want)
	}
}

func TestRunFatalToolErrorShortCircuits(t *testing.T) {
	t.Parallel()
	oracle := &ScriptedOracle{Turns: []ScriptedTurn{
		{ToolCalls: []ToolCall{{ID: "call_1", Name: tools.ToolQueryCRM, Args: map[string]any{"fatal": true}}}},
		{Text: "never reached"},
	}}
	events := runChat(t, oracle, 0)

	got := eventTypes(events)
	want := []string{
		"agent_step:analyzing:running",
		"agent_step:analyzing:done",
		"agent_step:query_crm:running",
		"agent_step:query_crm:error",
		"error",
		"done",
	}
	if strings.Join(got, " ") != strings.Join(want, " ") {
		t.Fatalf("event sequence got=%v want=%v", got, want)
	}
	if oracle.next != 1 {
		t.Fatalf("oracle turns consumed got=%d want=1", oracle.next)
	}
}

func TestRunUnknownToolIsRecoverable(t *testing.T) {
	t.Parallel()
	oracle := &ScriptedOracle{Turns: []ScriptedTurn{
		{ToolCalls: []ToolCall{{ID: "call_1", Name: "launch_rocket", Args: map[string]any{}}}},
		{Text: "I cannot do that."},
	}}
	events := runChat(t, oracle, 0)

	got := eventTypes(events)
	want := []string{
		"agent_step:analyzing:running",
		"agent_step:analyzing:done",
		"agent_step:launch_rocket:running",
		"agent_step:launch_rocket:error",
		"token",
		"agent_step:analyzing:done",
		"done",
	}
	if strings.Join(got, " ") != strings.Join(want, " ") {
		t.Fatalf("event sequence got=%v want=%v", got, want)
	}
}

func TestRunMaxIterationsIsFatal(t *testing.T) {
	t.Parallel()
	loop := ScriptedTurn{ToolCalls: []ToolCall{{ID: "call", Name: tools.ToolQueryCRM, Args: map[string]any{}}}}
	oracle := &ScriptedOracle{Turns: []ScriptedTurn{loop, loop, loop, loop}}
	events := runChat(t, oracle, 2)

	got := eventTypes(events)
	if got[len(got)-1] != wire.TypeDone {
		t.Fatalf("last event got=%q want=done", got[len(got)-1])
	}
	if got[len(got)-2] != wire.TypeError {
		t.Fatalf("second to last event got=%q want=error", got[len(got)-2])
	}
	var errMsg string
	for _, e := range events {
		if e.Type == wire.TypeError {
			errMsg = e.Message
		}
	}
	if !strings.Contains(errMsg, "iterations") {
		t.Fatalf("error message got=%q, want mention of iterations", errMsg)
	}
	if oracle.next != 2 {
		t.Fatalf("oracle turns consumed got=%d want=2", oracle.next)
	}

	// Each completed oracle turn closes the analyzing phase, so the errored
	// stream must not leave it running.
	analyzingDone := 0
	for _, e := range events {
		if e.Type == wire.TypeAgentStep && e.Node == wire.NodeAnalyzing && e.Status == wire.StepDone {
			analyzingDone++
		}
	}
	if analyzingDone != 2 {
		t.Fatalf("analyzing done count got=%d want=2", analyzingDone)
	}
}

func TestRunExactlyOneDone(t *testing.T) {
	t.Parallel()
	oracle := &ScriptedOracle{Turns: []ScriptedTurn{
		{ToolCalls: []ToolCall{{ID: "call_1", Name: tools.ToolQueryCRM, Args: map[string]any{}}}},
		{Text: "done now"},
	}}
	events := runChat(t, oracle, 0)

	doneCount := 0
	for i, e := range events {
		if e.Type == wire.TypeDone {
			doneCount++
			if i != len(events)-1 {
				t.Fatalf("done at index %d, want last (%d)", i, len(events)-1)
			}
		}
	}
	if doneCount != 1 {
		t.Fatalf("done count got=%d want=1", doneCount)
	}
}

func TestRunOracleFailureIsFatal(t *testing.T) {
	t.Parallel()
	oracle := &ScriptedOracle{} // exhausted immediately
	events := runChat(t, oracle, 0)

	got := eventTypes(events)
	want := []string{"agent_step:analyzing:running", "error", "done"}
	if strings.Join(got, " ") != strings.Join(want, " ") {
		t.Fatalf("event sequence got=%v want=%v", got, want)
	}
}
