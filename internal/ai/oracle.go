package ai

import (
	"context"

	"github.com/showrunhq/showrun-agent/internal/ai/tools"
)

// OracleResponse is one oracle turn: free text, and either zero tool calls
// (the turn is terminal) or a non-empty ordered list of requested calls.
type OracleResponse struct {
	Text      string
	ToolCalls []ToolCall
}

// Terminal reports whether this turn ends the loop.
func (r OracleResponse) Terminal() bool { return len(r.ToolCalls) == 0 }

// Oracle produces the next turn given the accumulated trace. Implementations
// stream free text through onToken as fragments arrive; the concatenation of
// all fragments must equal the returned Text.
type Oracle interface {
	Next(ctx context.Context, trace *Trace, defs []tools.Definition, onToken func(string)) (OracleResponse, error)
}

const systemPrompt = `You are Showrun, a campaign planning assistant for live-event marketers.
You have tools to search the fan CRM, draft campaign copy, and schedule campaigns.
Work step by step: research the audience first, then draft copy, then schedule when the user asks for it.
Use the segment_id returned by query_crm when scheduling. Keep replies short and concrete.`
