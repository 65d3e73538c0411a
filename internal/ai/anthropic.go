package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	aoption "github.com/anthropics/anthropic-sdk-go/option"

	"github.com/showrunhq/showrun-agent/internal/ai/tools"
)

const oracleMaxOutputTokens = 4096

// AnthropicOracle drives the loop with the Anthropic Messages streaming API.
type AnthropicOracle struct {
	client anthropic.Client
	model  string
}

func NewAnthropicOracle(apiKey, baseURL, model string) (*AnthropicOracle, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("missing provider api key")
	}
	if strings.TrimSpace(model) == "" {
		return nil, errors.New("missing model")
	}
	opts := []aoption.RequestOption{aoption.WithAPIKey(strings.TrimSpace(apiKey))}
	if strings.TrimSpace(baseURL) != "" {
		opts = append(opts, aoption.WithBaseURL(strings.TrimSpace(baseURL)))
	}
	return &AnthropicOracle{client: anthropic.NewClient(opts...), model: strings.TrimSpace(model)}, nil
}

func (o *AnthropicOracle) Next(ctx context.Context, trace *Trace, defs []tools.Definition, onToken func(string)) (OracleResponse, error) {
	if o == nil {
		return OracleResponse{}, errors.New("nil oracle")
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(o.model),
		MaxTokens: oracleMaxOutputTokens,
		Messages:  buildAnthropicMessages(trace),
		Tools:     buildAnthropicTools(defs),
	}
	if strings.TrimSpace(trace.System) != "" {
		params.System = []anthropic.TextBlockParam{{Text: strings.TrimSpace(trace.System)}}
	}

	stream := o.client.Messages.NewStreaming(ctx, params)
	msg := anthropic.Message{}
	var textBuf strings.Builder

	type partialCall struct {
		ID      string
		Name    string
		ArgsRaw strings.Builder
		Args    map[string]any
		Ended   bool
	}
	partials := map[int64]*partialCall{} // content_block index -> partial

	finish := func(pc *partialCall, raw string) {
		if pc == nil || pc.Ended {
			return
		}
		pc.Ended = true
		args := map[string]any{}
		if raw = strings.TrimSpace(raw); raw != "" {
			_ = json.Unmarshal([]byte(raw), &args)
		}
		pc.Args = args
	}

	for stream.Next() {
		event := stream.Current()
		if err := msg.Accumulate(event); err != nil {
			return OracleResponse{}, err
		}
		switch variant := event.AsAny().(type) {
		case anthropic.ContentBlockStartEvent:
			if strings.TrimSpace(variant.ContentBlock.Type) != "tool_use" {
				continue
			}
			callID := strings.TrimSpace(variant.ContentBlock.ID)
			if callID == "" {
				callID = fmt.Sprintf("anthropic_call_%d", len(partials)+1)
			}
			partials[variant.Index] = &partialCall{ID: callID, Name: strings.TrimSpace(variant.ContentBlock.Name)}

		case anthropic.ContentBlockDeltaEvent:
			switch delta := variant.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				if delta.Text == "" {
					continue
				}
				textBuf.WriteString(delta.Text)
				if onToken != nil {
					onToken(delta.Text)
				}
			case anthropic.InputJSONDelta:
				if pc := partials[variant.Index]; pc != nil && delta.PartialJSON != "" {
					pc.ArgsRaw.WriteString(delta.PartialJSON)
				}
			}

		case anthropic.ContentBlockStopEvent:
			pc := partials[variant.Index]
			if pc == nil || pc.Ended {
				continue
			}
			raw := strings.TrimSpace(pc.ArgsRaw.String())
			if raw == "" {
				// Tiny inputs can arrive whole on the accumulated message.
				idx := int(variant.Index)
				if idx >= 0 && idx < len(msg.Content) {
					if tu, ok := msg.Content[idx].AsAny().(anthropic.ToolUseBlock); ok && len(tu.Input) > 0 {
						raw = strings.TrimSpace(string(tu.Input))
					}
				}
			}
			finish(pc, raw)
		}
	}
	if err := stream.Err(); err != nil {
		return OracleResponse{}, err
	}

	resp := OracleResponse{Text: textBuf.String()}

	seen := map[string]struct{}{}
	indices := make([]int64, 0, len(partials))
	for idx, pc := range partials {
		if pc != nil && pc.Ended {
			indices = append(indices, idx)
		}
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })
	for _, idx := range indices {
		pc := partials[idx]
		seen[pc.ID] = struct{}{}
		resp.ToolCalls = append(resp.ToolCalls, ToolCall{ID: pc.ID, Name: pc.Name, Args: pc.Args})
	}

	// Recover anything the event stream missed from the accumulated message.
	for _, block := range msg.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			if strings.TrimSpace(resp.Text) == "" {
				resp.Text = variant.Text
			}
		case anthropic.ToolUseBlock:
			callID := strings.TrimSpace(variant.ID)
			if callID == "" {
				callID = fmt.Sprintf("anthropic_call_%d", len(resp.ToolCalls)+1)
			}
			if _, ok := seen[callID]; ok {
				continue
			}
			args := map[string]any{}
			if len(variant.Input) > 0 {
				_ = json.Unmarshal(variant.Input, &args)
			}
			resp.ToolCalls = append(resp.ToolCalls, ToolCall{ID: callID, Name: strings.TrimSpace(variant.Name), Args: args})
		}
	}
	return resp, nil
}

func buildAnthropicMessages(trace *Trace) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(trace.Turns))
	for _, turn := range trace.Turns {
		blocks := make([]anthropic.ContentBlockParamUnion, 0, 1+len(turn.Calls)+len(turn.Results))
		if txt := strings.TrimSpace(turn.Text); txt != "" {
			blocks = append(blocks, anthropic.NewTextBlock(txt))
		}
		for _, call := range turn.Calls {
			input := call.Args
			if input == nil {
				input = map[string]any{}
			}
			blocks = append(blocks, anthropic.NewToolUseBlock(call.ID, input, call.Name))
		}
		for _, result := range turn.Results {
			blocks = append(blocks, anthropic.NewToolResultBlock(result.CallID, result.Content, result.IsError))
		}
		if len(blocks) == 0 {
			continue
		}
		if strings.EqualFold(turn.Role, "assistant") {
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		} else {
			out = append(out, anthropic.NewUserMessage(blocks...))
		}
	}
	if len(out) == 0 {
		out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock("Continue.")))
	}
	return out
}

func buildAnthropicTools(defs []tools.Definition) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		if strings.TrimSpace(def.Name) == "" {
			continue
		}
		schemaMap := map[string]any{}
		if len(def.InputSchema) > 0 {
			_ = json.Unmarshal(def.InputSchema, &schemaMap)
		}
		var required []string
		if raw, ok := schemaMap["required"].([]any); ok {
			for _, r := range raw {
				if s, ok := r.(string); ok {
					required = append(required, s)
				}
			}
		}
		param := anthropic.ToolParam{
			Name:        def.Name,
			Description: anthropic.String(strings.TrimSpace(def.Description)),
			InputSchema: anthropic.ToolInputSchemaParam{Type: "object", Properties: schemaMap["properties"], Required: required},
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: &param})
	}
	return out
}
