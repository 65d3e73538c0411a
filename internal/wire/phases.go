package wire

import "strings"

// Phase is the coarse UI-facing grouping used for progress display.
type Phase string

const (
	PhaseAnalyzing        Phase = "analyzing"
	PhaseAudienceResearch Phase = "audience_research"
	PhaseStrategy         Phase = "strategy"
	PhaseCopyWriting      Phase = "copy_writing"
	PhaseScheduling       Phase = "scheduling"
)

// PhaseOrder is the fixed display order of phases.
var PhaseOrder = []Phase{
	PhaseAnalyzing,
	PhaseAudienceResearch,
	PhaseStrategy,
	PhaseCopyWriting,
	PhaseScheduling,
}

// PhaseStatus is the per-phase progress status.
type PhaseStatus string

const (
	PhaseIdle    PhaseStatus = "idle"
	PhaseRunning PhaseStatus = "running"
	PhaseDone    PhaseStatus = "done"
	PhaseError   PhaseStatus = "error"
)

// PhaseForNode maps an agent_step node name to its phase. Both the
// tool-name and the phase-name spellings are accepted. Unknown nodes
// return ok=false and must be ignored by consumers, never rejected.
func PhaseForNode(node string) (Phase, bool) {
	switch strings.ToLower(strings.TrimSpace(node)) {
	case NodeAnalyzing:
		return PhaseAnalyzing, true
	case NodeQueryCRM, string(PhaseAudienceResearch):
		return PhaseAudienceResearch, true
	case NodeGenerateCopy, string(PhaseCopyWriting):
		return PhaseCopyWriting, true
	case NodeSchedule, string(PhaseScheduling):
		return PhaseScheduling, true
	case string(PhaseStrategy):
		return PhaseStrategy, true
	default:
		return "", false
	}
}

// NodeForTool maps a tool name to the node string emitted on its
// agent_step events. The mapping is total over the builtin tools.
func NodeForTool(toolName string) string {
	switch strings.TrimSpace(toolName) {
	case "query_crm":
		return NodeQueryCRM
	case "generate_campaign_copy":
		return NodeGenerateCopy
	case "schedule_campaign":
		return NodeSchedule
	default:
		return strings.TrimSpace(toolName)
	}
}

func NormalizeStepStatus(raw string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case StepRunning:
		return StepRunning, true
	case StepDone:
		return StepDone, true
	case StepError:
		return StepError, true
	default:
		return "", false
	}
}
