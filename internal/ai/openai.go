package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	openai "github.com/openai/openai-go"
	ooption "github.com/openai/openai-go/option"
	oresponses "github.com/openai/openai-go/responses"
	oshared "github.com/openai/openai-go/shared"

	"github.com/showrunhq/showrun-agent/internal/ai/tools"
)

// OpenAIOracle drives the loop with the OpenAI Responses streaming API. It
// also serves openai_compatible gateways; those disable strict tool schemas
// since support for them varies widely.
type OpenAIOracle struct {
	client openai.Client
	model  string
	strict bool
}

func NewOpenAIOracle(apiKey, baseURL, model string, strictToolSchema bool) (*OpenAIOracle, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("missing provider api key")
	}
	if strings.TrimSpace(model) == "" {
		return nil, errors.New("missing model")
	}
	opts := []ooption.RequestOption{ooption.WithAPIKey(strings.TrimSpace(apiKey))}
	if strings.TrimSpace(baseURL) != "" {
		opts = append(opts, ooption.WithBaseURL(strings.TrimSpace(baseURL)))
	}
	return &OpenAIOracle{
		client: openai.NewClient(opts...),
		model:  strings.TrimSpace(model),
		strict: strictToolSchema,
	}, nil
}

func (o *OpenAIOracle) Next(ctx context.Context, trace *Trace, defs []tools.Definition, onToken func(string)) (OracleResponse, error) {
	if o == nil {
		return OracleResponse{}, errors.New("nil oracle")
	}
	params := oresponses.ResponseNewParams{
		Model:             oshared.ResponsesModel(o.model),
		MaxOutputTokens:   openai.Int(oracleMaxOutputTokens),
		ParallelToolCalls: openai.Bool(false),
	}
	items := buildOpenAIInput(trace)
	if len(items) == 0 {
		items = append(items, oresponses.ResponseInputItemParamOfMessage("Continue.", oresponses.EasyInputMessageRoleUser))
	}
	params.Input = oresponses.ResponseNewParamsInputUnion{OfInputItemList: items}
	if strings.TrimSpace(trace.System) != "" {
		params.Instructions = openai.String(strings.TrimSpace(trace.System))
	}
	if tp := buildOpenAITools(defs, o.strict); len(tp) > 0 {
		params.Tools = tp
	}

	stream := o.client.Responses.NewStreaming(ctx, params)
	var textBuf strings.Builder
	var completed oresponses.Response
	gotCompleted := false

	type partialCall struct {
		CallID      string
		Name        string
		OutputIndex int64
		ArgsRaw     strings.Builder
		Args        map[string]any
		Ended       bool
	}
	partials := map[string]*partialCall{} // item_id -> partial

	getPartial := func(itemID string) *partialCall {
		itemID = strings.TrimSpace(itemID)
		if itemID == "" {
			return nil
		}
		if pc := partials[itemID]; pc != nil {
			return pc
		}
		pc := &partialCall{CallID: itemID, OutputIndex: -1}
		partials[itemID] = pc
		return pc
	}
	finish := func(pc *partialCall) {
		if pc == nil || pc.Ended {
			return
		}
		pc.Ended = true
		args := map[string]any{}
		if raw := strings.TrimSpace(pc.ArgsRaw.String()); raw != "" {
			_ = json.Unmarshal([]byte(raw), &args)
		}
		pc.Args = args
	}

	for stream.Next() {
		event := stream.Current()
		switch strings.TrimSpace(event.Type) {
		case "response.output_text.delta":
			delta := event.Delta.OfString
			if delta == "" {
				continue
			}
			textBuf.WriteString(delta)
			if onToken != nil {
				onToken(delta)
			}

		case "response.output_item.added":
			item := event.Item
			if strings.TrimSpace(item.Type) != "function_call" {
				continue
			}
			pc := getPartial(item.ID)
			if pc == nil {
				continue
			}
			if pc.OutputIndex < 0 {
				pc.OutputIndex = event.OutputIndex
			}
			if cid := strings.TrimSpace(item.CallID); cid != "" {
				pc.CallID = cid
			}
			if name := strings.TrimSpace(item.Name); name != "" {
				pc.Name = name
			}
			if raw := strings.TrimSpace(item.Arguments); raw != "" {
				pc.ArgsRaw.WriteString(raw)
			}

		case "response.function_call_arguments.delta":
			pc := getPartial(event.ItemID)
			if pc == nil {
				continue
			}
			if delta := event.Delta.OfString; delta != "" {
				pc.ArgsRaw.WriteString(delta)
			}

		case "response.function_call_arguments.done":
			pc := getPartial(event.ItemID)
			if pc == nil {
				continue
			}
			if raw := strings.TrimSpace(event.Arguments); raw != "" {
				pc.ArgsRaw.Reset()
				pc.ArgsRaw.WriteString(raw)
			}
			finish(pc)

		case "response.output_item.done":
			item := event.Item
			if strings.TrimSpace(item.Type) != "function_call" {
				continue
			}
			pc := getPartial(item.ID)
			if pc == nil {
				continue
			}
			if cid := strings.TrimSpace(item.CallID); cid != "" {
				pc.CallID = cid
			}
			if name := strings.TrimSpace(item.Name); name != "" {
				pc.Name = name
			}
			if raw := strings.TrimSpace(item.Arguments); raw != "" && strings.TrimSpace(pc.ArgsRaw.String()) == "" {
				pc.ArgsRaw.WriteString(raw)
			}
			finish(pc)

		case "response.completed":
			completed = event.Response
			gotCompleted = true
		}
	}
	if err := stream.Err(); err != nil {
		return OracleResponse{}, err
	}
	if !gotCompleted {
		return OracleResponse{}, errors.New("missing response.completed event")
	}

	resp := OracleResponse{Text: textBuf.String()}

	type orderedCall struct {
		OutputIndex int64
		Call        ToolCall
	}
	seen := map[string]struct{}{}
	ordered := make([]orderedCall, 0, len(partials))
	for _, pc := range partials {
		if pc == nil || !pc.Ended {
			continue
		}
		id := strings.TrimSpace(pc.CallID)
		if id == "" {
			continue
		}
		seen[id] = struct{}{}
		ordered = append(ordered, orderedCall{
			OutputIndex: pc.OutputIndex,
			Call:        ToolCall{ID: id, Name: strings.TrimSpace(pc.Name), Args: pc.Args},
		})
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i].OutputIndex, ordered[j].OutputIndex
		if a < 0 && b >= 0 {
			return false
		}
		if b < 0 && a >= 0 {
			return true
		}
		if a == b {
			return ordered[i].Call.ID < ordered[j].Call.ID
		}
		return a < b
	})
	for _, it := range ordered {
		resp.ToolCalls = append(resp.ToolCalls, it.Call)
	}

	// Recover calls the event stream missed from the completed response.
	for _, item := range completed.Output {
		if strings.TrimSpace(item.Type) != "function_call" {
			continue
		}
		callID := strings.TrimSpace(item.CallID)
		if callID == "" {
			callID = strings.TrimSpace(item.ID)
		}
		if callID == "" {
			callID = fmt.Sprintf("openai_call_%d", len(resp.ToolCalls)+1)
		}
		if _, ok := seen[callID]; ok {
			continue
		}
		args := map[string]any{}
		if raw := strings.TrimSpace(item.Arguments); raw != "" {
			_ = json.Unmarshal([]byte(raw), &args)
		}
		resp.ToolCalls = append(resp.ToolCalls, ToolCall{ID: callID, Name: strings.TrimSpace(item.Name), Args: args})
	}
	return resp, nil
}

func buildOpenAIInput(trace *Trace) oresponses.ResponseInputParam {
	items := make(oresponses.ResponseInputParam, 0, len(trace.Turns))
	for _, turn := range trace.Turns {
		role := oresponses.EasyInputMessageRoleUser
		if strings.EqualFold(turn.Role, "assistant") {
			role = oresponses.EasyInputMessageRoleAssistant
		}
		if txt := strings.TrimSpace(turn.Text); txt != "" {
			items = append(items, oresponses.ResponseInputItemParamOfMessage(txt, role))
		}
		for _, call := range turn.Calls {
			argsRaw := strings.TrimSpace(string(call.RawArgs()))
			if argsRaw == "" || !json.Valid([]byte(argsRaw)) {
				argsRaw = "{}"
			}
			items = append(items, oresponses.ResponseInputItemParamOfFunctionCall(argsRaw, call.ID, call.Name))
		}
		for _, result := range turn.Results {
			items = append(items, oresponses.ResponseInputItemParamOfFunctionCallOutput(result.CallID, result.Content))
		}
	}
	return items
}

func buildOpenAITools(defs []tools.Definition, strict bool) []oresponses.ToolUnionParam {
	out := make([]oresponses.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		if strings.TrimSpace(def.Name) == "" {
			continue
		}
		schema := map[string]any{}
		if len(def.InputSchema) > 0 {
			_ = json.Unmarshal(def.InputSchema, &schema)
		}
		out = append(out, oresponses.ToolParamOfFunction(def.Name, schema, strict))
	}
	return out
}
