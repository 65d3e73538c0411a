package transcript

import (
	"testing"

	"github.com/showrunhq/showrun-agent/internal/wire"
)

func mustAudience(t *testing.T, p wire.AudiencePayload) wire.Event {
	t.Helper()
	e, err := wire.AudienceResult(p)
	if err != nil {
		t.Fatalf("audience event: %v", err)
	}
	return e
}

func mustDraft(t *testing.T, p wire.CampaignDraftPayload) wire.Event {
	t.Helper()
	e, err := wire.CampaignDraft(p)
	if err != nil {
		t.Fatalf("draft event: %v", err)
	}
	return e
}

func blockKinds(msg Message) []BlockKind {
	out := make([]BlockKind, 0, len(msg.Blocks))
	for _, b := range msg.Blocks {
		out = append(out, b.Kind)
	}
	return out
}

func kindsEqual(got, want []BlockKind) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestReducerScenarioAudienceThenText(t *testing.T) {
	t.Parallel()
	r := NewReducer(0)
	r.Begin("Find jazz fans in Chicago")

	r.Apply(wire.AgentStep(wire.NodeQueryCRM, wire.StepRunning))
	r.Apply(wire.AgentStep(wire.NodeQueryCRM, wire.StepDone))
	r.Apply(mustAudience(t, wire.AudiencePayload{Count: 12, SegmentID: "seg_ab12cd34", AvgSpent: 70, OpenRate: 0.4}))
	r.Apply(wire.Token("Found "))
	r.Apply(wire.Token("12 jazz fans."))
	r.Apply(wire.Done())

	if r.State() != StateCompleted {
		t.Fatalf("state got=%q want=%q", r.State(), StateCompleted)
	}
	msgs := r.Messages()
	if len(msgs) != 2 {
		t.Fatalf("messages got=%d want=2", len(msgs))
	}
	if msgs[0].Role != "user" || msgs[0].Blocks[0].Text != "Find jazz fans in Chicago" {
		t.Fatalf("user message got=%+v", msgs[0])
	}
	assistant := msgs[1]
	if !kindsEqual(blockKinds(assistant), []BlockKind{BlockAudience, BlockText}) {
		t.Fatalf("block kinds got=%v want=[audience text]", blockKinds(assistant))
	}
	if assistant.Blocks[0].Audience.Count != 12 {
		t.Fatalf("audience count got=%d want=12", assistant.Blocks[0].Audience.Count)
	}
	if assistant.Blocks[1].Text != "Found 12 jazz fans." {
		t.Fatalf("text got=%q", assistant.Blocks[1].Text)
	}
	if got := r.Phases()[wire.PhaseAudienceResearch]; got != wire.PhaseDone {
		t.Fatalf("audience_research phase got=%q want=done", got)
	}
}

func TestReducerFinalTextIndependentOfFlushThreshold(t *testing.T) {
	t.Parallel()
	feed := func(r *Reducer) {
		r.Begin("hello")
		r.Apply(wire.Token("a"))
		r.Apply(wire.Token("b"))
		r.Apply(wire.Token("c"))
		r.Apply(mustDraft(t, wire.CampaignDraftPayload{Email: wire.EmailDraft{Subject: "s", Body: "b"}}))
		r.Apply(wire.Token("def"))
		r.Apply(wire.Done())
	}

	small := NewReducer(1)
	large := NewReducer(1 << 20)
	feed(small)
	feed(large)

	for _, r := range []*Reducer{small, large} {
		assistant := r.Messages()[1]
		if !kindsEqual(blockKinds(assistant), []BlockKind{BlockText, BlockDraft, BlockText}) {
			t.Fatalf("block kinds got=%v want=[text campaign_draft text]", blockKinds(assistant))
		}
		if assistant.Blocks[0].Text != "abc" || assistant.Blocks[2].Text != "def" {
			t.Fatalf("texts got=%q %q", assistant.Blocks[0].Text, assistant.Blocks[2].Text)
		}
	}
}

func TestReducerAdjacentTextBlocksMerge(t *testing.T) {
	t.Parallel()
	r := NewReducer(1) // flush on every token
	r.Begin("hi")
	r.Apply(wire.Token("one "))
	r.Apply(wire.Token("two "))
	r.Apply(wire.Token("three"))
	r.Apply(wire.Done())

	assistant := r.Messages()[1]
	if len(assistant.Blocks) != 1 {
		t.Fatalf("blocks got=%d want=1 (merged)", len(assistant.Blocks))
	}
	if assistant.Blocks[0].Text != "one two three" {
		t.Fatalf("merged text got=%q", assistant.Blocks[0].Text)
	}
}

func TestReducerZeroCountAudienceOmittedButPhaseCompletes(t *testing.T) {
	t.Parallel()
	r := NewReducer(0)
	r.Begin("find polka fans")
	r.Apply(wire.AgentStep(wire.NodeQueryCRM, wire.StepRunning))
	r.Apply(wire.AgentStep(wire.NodeQueryCRM, wire.StepDone))
	r.Apply(mustAudience(t, wire.AudiencePayload{Count: 0, Fans: []wire.FanSummary{}}))
	r.Apply(wire.Token("No matching fans."))
	r.Apply(wire.Done())

	assistant := r.Messages()[1]
	if !kindsEqual(blockKinds(assistant), []BlockKind{BlockText}) {
		t.Fatalf("block kinds got=%v want=[text] (zero-count audience omitted)", blockKinds(assistant))
	}
	if got := r.Phases()[wire.PhaseAudienceResearch]; got != wire.PhaseDone {
		t.Fatalf("audience_research phase got=%q want=done", got)
	}
}

func TestReducerUnknownNodeIgnored(t *testing.T) {
	t.Parallel()
	r := NewReducer(0)
	r.Begin("hi")
	r.Apply(wire.AgentStep("mystery_node", wire.StepRunning))
	r.Apply(wire.Done())

	for phase, status := range r.Phases() {
		if phase == wire.PhaseAnalyzing {
			continue
		}
		if status != wire.PhaseIdle {
			t.Fatalf("phase %q got=%q want=idle", phase, status)
		}
	}
	if r.DroppedFrames() != 0 {
		t.Fatalf("unknown node must not count as a dropped frame")
	}
}

func TestReducerPhaseNameSpellingsAccepted(t *testing.T) {
	t.Parallel()
	r := NewReducer(0)
	r.Begin("hi")
	r.Apply(wire.AgentStep("audience_research", wire.StepRunning))
	r.Apply(wire.AgentStep("copy_writing", wire.StepDone))
	r.Apply(wire.AgentStep("strategy", wire.StepRunning))

	phases := r.Phases()
	if phases[wire.PhaseAudienceResearch] != wire.PhaseRunning {
		t.Fatalf("audience_research got=%q want=running", phases[wire.PhaseAudienceResearch])
	}
	if phases[wire.PhaseCopyWriting] != wire.PhaseDone {
		t.Fatalf("copy_writing got=%q want=done", phases[wire.PhaseCopyWriting])
	}
	if phases[wire.PhaseStrategy] != wire.PhaseRunning {
		t.Fatalf("strategy got=%q want=running", phases[wire.PhaseStrategy])
	}
}

func TestReducerMalformedFramesDroppedAndCounted(t *testing.T) {
	t.Parallel()
	r := NewReducer(0)
	r.Begin("hi")
	r.ConsumeLine([]byte(`{"type":"token","content":"ok"}`))
	r.ConsumeLine([]byte(`{not json`))
	r.ConsumeLine([]byte(`{"no_type":true}`))
	r.ConsumeLine([]byte(`{"type":"done"}`))

	if r.DroppedFrames() != 2 {
		t.Fatalf("dropped frames got=%d want=2", r.DroppedFrames())
	}
	if r.State() != StateCompleted {
		t.Fatalf("state got=%q want=completed", r.State())
	}
	if r.AssistantText() != "ok" {
		t.Fatalf("assistant text got=%q want=%q", r.AssistantText(), "ok")
	}
}

func TestReducerErrorThenDone(t *testing.T) {
	t.Parallel()
	r := NewReducer(0)
	r.Begin("hi")
	r.Apply(wire.Token("partial "))
	r.Apply(wire.Error("assistant request failed"))
	r.Apply(wire.Done())

	if r.State() != StateErrored {
		t.Fatalf("state got=%q want=errored (done must not override error)", r.State())
	}
	if r.ErrorMessage() != "assistant request failed" {
		t.Fatalf("error message got=%q", r.ErrorMessage())
	}
	assistant := r.Messages()[1]
	if !kindsEqual(blockKinds(assistant), []BlockKind{BlockText, BlockText}) {
		t.Fatalf("block kinds got=%v want=[text text]", blockKinds(assistant))
	}
	if assistant.Blocks[0].Text != "partial " {
		t.Fatalf("partial text got=%q", assistant.Blocks[0].Text)
	}
}

func TestReducerTransportFailure(t *testing.T) {
	t.Parallel()
	r := NewReducer(0)
	r.Begin("hi")
	r.Apply(wire.Token("some text"))
	r.Fail("connection reset")

	if r.State() != StateErrored {
		t.Fatalf("state got=%q want=errored", r.State())
	}
	if r.ErrorMessage() != "connection reset" {
		t.Fatalf("error message got=%q", r.ErrorMessage())
	}
	assistant := r.Messages()[1]
	if assistant.Blocks[0].Text != "some text" {
		t.Fatalf("buffered text must survive failure, got=%q", assistant.Blocks[0].Text)
	}
}
