package ai

import (
	"context"
	"errors"

	"github.com/showrunhq/showrun-agent/internal/ai/tools"
)

// ScriptedTurn is one canned oracle turn.
type ScriptedTurn struct {
	Text      string
	ToolCalls []ToolCall
	Err       error
	// TokenChunks overrides how Text is fragmented through onToken. When
	// empty, Text is delivered as a single fragment.
	TokenChunks []string
}

// ScriptedOracle replays a fixed sequence of turns. It backs the offline eval
// harness and the orchestrator tests; running past the script is an error so
// a looping orchestrator fails loudly instead of hanging.
type ScriptedOracle struct {
	Turns []ScriptedTurn
	next  int
}

func (o *ScriptedOracle) Next(ctx context.Context, _ *Trace, _ []tools.Definition, onToken func(string)) (OracleResponse, error) {
	if o == nil {
		return OracleResponse{}, errors.New("nil oracle")
	}
	if err := ctx.Err(); err != nil {
		return OracleResponse{}, err
	}
	if o.next >= len(o.Turns) {
		return OracleResponse{}, errors.New("scripted oracle exhausted")
	}
	turn := o.Turns[o.next]
	o.next++

	if turn.Err != nil {
		return OracleResponse{}, turn.Err
	}
	if onToken != nil {
		if len(turn.TokenChunks) > 0 {
			for _, chunk := range turn.TokenChunks {
				onToken(chunk)
			}
		} else if turn.Text != "" {
			onToken(turn.Text)
		}
	}
	return OracleResponse{Text: turn.Text, ToolCalls: turn.ToolCalls}, nil
}
