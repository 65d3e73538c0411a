// Package transcript rebuilds a chat transcript from a stream of wire events.
//
// The reducer is the client-side half of the streaming contract: it consumes
// NDJSON frames, batches token fragments to bound re-render frequency, and
// produces an ordered list of typed content blocks whose final shape does not
// depend on the flush threshold.
package transcript

import (
	"fmt"
	"strings"

	"github.com/showrunhq/showrun-agent/internal/wire"
)

// State is the request lifecycle as seen by the client.
type State string

const (
	StateIdle      State = "idle"
	StateStreaming State = "streaming"
	StateCompleted State = "completed"
	StateErrored   State = "errored"
)

// BlockKind tags a content block variant.
type BlockKind string

const (
	BlockText     BlockKind = "text"
	BlockAudience BlockKind = "audience"
	BlockDraft    BlockKind = "campaign_draft"
	BlockSchedule BlockKind = "scheduled"
)

// ContentBlock is one typed block inside a message. Exactly one payload field
// is set, matching Kind.
type ContentBlock struct {
	Kind     BlockKind
	Text     string
	Audience *wire.AudiencePayload
	Draft    *wire.CampaignDraftPayload
	Schedule *wire.SchedulePayload
}

// Message is one transcript entry. Blocks are ordered by production time.
type Message struct {
	ID     string
	Role   string
	Blocks []ContentBlock
}

// DefaultFlushThreshold is the token-buffer size that triggers a text flush.
const DefaultFlushThreshold = 48

// Reducer folds wire events into a transcript plus a phase projection. It is
// single-goroutine; callers feed it one frame at a time.
type Reducer struct {
	state    State
	messages []Message
	nextID   int

	assistantOpen bool
	buf           strings.Builder
	flushAt       int

	phases map[wire.Phase]wire.PhaseStatus

	droppedFrames int
	errMessage    string
	doneSeen      bool
}

func NewReducer(flushThreshold int) *Reducer {
	if flushThreshold <= 0 {
		flushThreshold = DefaultFlushThreshold
	}
	phases := make(map[wire.Phase]wire.PhaseStatus, len(wire.PhaseOrder))
	for _, p := range wire.PhaseOrder {
		phases[p] = wire.PhaseIdle
	}
	return &Reducer{state: StateIdle, flushAt: flushThreshold, phases: phases}
}

// Begin records the outgoing user message and opens the streaming state.
func (r *Reducer) Begin(userText string) {
	r.messages = append(r.messages, Message{
		ID:     r.newMessageID(),
		Role:   "user",
		Blocks: []ContentBlock{{Kind: BlockText, Text: userText}},
	})
	r.state = StateStreaming
	r.assistantOpen = false
	r.doneSeen = false
	r.errMessage = ""
}

// ConsumeLine decodes one NDJSON frame and applies it. Malformed frames are
// dropped and counted, never fatal.
func (r *Reducer) ConsumeLine(line []byte) {
	event, err := wire.Decode(line)
	if err != nil {
		r.droppedFrames++
		return
	}
	r.Apply(event)
}

// Apply folds one event into the transcript.
func (r *Reducer) Apply(e wire.Event) {
	switch e.Type {
	case wire.TypeToken:
		if e.Content == "" {
			return
		}
		r.buf.WriteString(e.Content)
		if r.buf.Len() >= r.flushAt {
			r.flushText()
		}

	case wire.TypeAgentStep:
		phase, ok := wire.PhaseForNode(e.Node)
		if !ok {
			return
		}
		status, ok := wire.NormalizeStepStatus(e.Status)
		if !ok {
			return
		}
		switch status {
		case wire.StepRunning:
			r.phases[phase] = wire.PhaseRunning
		case wire.StepDone:
			r.phases[phase] = wire.PhaseDone
		case wire.StepError:
			r.phases[phase] = wire.PhaseError
		}

	case wire.TypeAudienceResult:
		r.flushText()
		audience, err := e.Audience()
		if err != nil {
			r.droppedFrames++
			return
		}
		// A zero-count audience completes its phase but renders no block.
		if audience.Count == 0 {
			return
		}
		r.appendBlock(ContentBlock{Kind: BlockAudience, Audience: &audience})

	case wire.TypeCampaignDraft:
		r.flushText()
		draft, err := e.Draft()
		if err != nil {
			r.droppedFrames++
			return
		}
		r.appendBlock(ContentBlock{Kind: BlockDraft, Draft: &draft})

	case wire.TypeScheduled:
		r.flushText()
		scheduled, err := e.Schedule()
		if err != nil {
			r.droppedFrames++
			return
		}
		r.appendBlock(ContentBlock{Kind: BlockSchedule, Schedule: &scheduled})

	case wire.TypeError:
		r.flushText()
		r.errMessage = e.Message
		r.appendBlock(ContentBlock{Kind: BlockText, Text: fmt.Sprintf("Something went wrong: %s", e.Message)})
		r.state = StateErrored

	case wire.TypeDone:
		r.flushText()
		r.doneSeen = true
		if r.state != StateErrored {
			r.state = StateCompleted
		}

	default:
		// Unknown event types are tolerated for forward compatibility.
	}
}

// Fail marks a transport-level failure (disconnect, read error) so the user
// sees a terminal state even without an error frame.
func (r *Reducer) Fail(reason string) {
	r.flushText()
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "connection lost"
	}
	if r.errMessage == "" {
		r.errMessage = reason
		r.appendBlock(ContentBlock{Kind: BlockText, Text: fmt.Sprintf("Something went wrong: %s", reason)})
	}
	r.state = StateErrored
}

func (r *Reducer) State() State { return r.state }

// Messages returns the transcript so far. The returned slice shares block
// data with the reducer; callers treat it as read-only.
func (r *Reducer) Messages() []Message { return r.messages }

// Phases returns a copy of the phase projection.
func (r *Reducer) Phases() map[wire.Phase]wire.PhaseStatus {
	out := make(map[wire.Phase]wire.PhaseStatus, len(r.phases))
	for k, v := range r.phases {
		out[k] = v
	}
	return out
}

func (r *Reducer) DroppedFrames() int { return r.droppedFrames }

func (r *Reducer) ErrorMessage() string { return r.errMessage }

// AssistantText concatenates the text blocks of the latest assistant message,
// including any unflushed buffer.
func (r *Reducer) AssistantText() string {
	var b strings.Builder
	if msg := r.lastAssistant(); msg != nil {
		for _, block := range msg.Blocks {
			if block.Kind == BlockText {
				b.WriteString(block.Text)
			}
		}
	}
	b.WriteString(r.buf.String())
	return b.String()
}

func (r *Reducer) flushText() {
	if r.buf.Len() == 0 {
		return
	}
	text := r.buf.String()
	r.buf.Reset()

	msg := r.ensureAssistant()
	// Adjacent text blocks merge so flush granularity never changes the
	// final block sequence.
	if n := len(msg.Blocks); n > 0 && msg.Blocks[n-1].Kind == BlockText {
		msg.Blocks[n-1].Text += text
		return
	}
	msg.Blocks = append(msg.Blocks, ContentBlock{Kind: BlockText, Text: text})
}

func (r *Reducer) appendBlock(block ContentBlock) {
	msg := r.ensureAssistant()
	msg.Blocks = append(msg.Blocks, block)
}

func (r *Reducer) ensureAssistant() *Message {
	if !r.assistantOpen {
		r.messages = append(r.messages, Message{ID: r.newMessageID(), Role: "assistant"})
		r.assistantOpen = true
	}
	return &r.messages[len(r.messages)-1]
}

func (r *Reducer) lastAssistant() *Message {
	for i := len(r.messages) - 1; i >= 0; i-- {
		if r.messages[i].Role == "assistant" {
			return &r.messages[i]
		}
	}
	return nil
}

func (r *Reducer) newMessageID() string {
	r.nextID++
	return fmt.Sprintf("msg_%d", r.nextID)
}
