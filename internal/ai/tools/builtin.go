package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/showrunhq/showrun-agent/internal/copygen"
	"github.com/showrunhq/showrun-agent/internal/crm"
	"github.com/showrunhq/showrun-agent/internal/wire"
)

// Builtin tool names. These are also the node strings on agent_step events.
const (
	ToolQueryCRM     = "query_crm"
	ToolGenerateCopy = "generate_campaign_copy"
	ToolSchedule     = "schedule_campaign"
)

var queryCRMSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "genres": {"type": "array", "items": {"type": "string"}, "description": "Match fans listing any of these genres."},
    "min_months_since_purchase": {"type": "number", "description": "Only fans whose last purchase is at least this many months ago."},
    "max_months_since_purchase": {"type": "number", "description": "Only fans whose last purchase is at most this many months ago."},
    "min_total_spent": {"type": "number", "description": "Only fans with lifetime spend at or above this amount."},
    "city": {"type": "string", "description": "Case-insensitive substring match on the fan's city."}
  },
  "required": []
}`)

var generateCopySchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "event_name": {"type": "string", "description": "Name of the event the campaign promotes."},
    "event_date": {"type": "string", "description": "Human-readable event date."},
    "audience_description": {"type": "string", "description": "Short description of the target audience."},
    "tone": {"type": "string", "description": "Copy tone, e.g. enthusiastic, urgent, casual."}
  },
  "required": ["event_name"]
}`)

var scheduleSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "segment_id": {"type": "string", "description": "Segment id returned by query_crm."},
    "event_name": {"type": "string", "description": "Name of the event being promoted."},
    "audience_size": {"type": "integer", "description": "Audience size of the segment."},
    "send_at": {"type": "string", "description": "Send time, ISO 8601."}
  },
  "required": ["segment_id", "event_name", "send_at"]
}`)

// BuiltinDefinitions wires the three campaign tools to their backends.
func BuiltinDefinitions(store *crm.Store, gen copygen.Generator) []Definition {
	return []Definition{
		{
			Name:        ToolQueryCRM,
			Description: "Search the fan CRM with optional genre, purchase-recency, spend, and city filters. Returns the audience size, a segment id, and a preview of matching fans.",
			InputSchema: queryCRMSchema,
			Node:        wire.NodeQueryCRM,
			Run:         queryCRMHandler(store),
		},
		{
			Name:        ToolGenerateCopy,
			Description: "Draft email and SMS campaign copy for an event and audience.",
			InputSchema: generateCopySchema,
			Node:        wire.NodeGenerateCopy,
			Run:         generateCopyHandler(gen),
		},
		{
			Name:        ToolSchedule,
			Description: "Schedule a campaign for a segment. Scheduling the same segment, event, and send time twice returns the existing campaign.",
			InputSchema: scheduleSchema,
			Node:        wire.NodeSchedule,
			Run:         scheduleHandler(store),
		},
	}
}

func queryCRMHandler(store *crm.Store) Handler {
	return func(ctx context.Context, args map[string]any) (any, *ToolError) {
		if store == nil {
			return nil, Fatal(ErrorCodeUnavailable, "CRM store not configured")
		}
		filters := crm.Filters{
			Genres: anyToStringSlice(args["genres"]),
			City:   strings.TrimSpace(anyToString(args["city"])),
		}
		if v, ok := anyToFloat(args["min_months_since_purchase"]); ok {
			filters.MinMonthsSincePurchase = &v
		}
		if v, ok := anyToFloat(args["max_months_since_purchase"]); ok {
			filters.MaxMonthsSincePurchase = &v
		}
		if v, ok := anyToFloat(args["min_total_spent"]); ok {
			filters.MinTotalSpent = &v
		}
		if filters.MinMonthsSincePurchase != nil && filters.MaxMonthsSincePurchase != nil &&
			*filters.MinMonthsSincePurchase > *filters.MaxMonthsSincePurchase {
			return nil, Recoverable(ErrorCodeInvalidArgs, "min_months_since_purchase is greater than max_months_since_purchase")
		}

		audience, err := store.QueryFans(ctx, filters)
		if err != nil {
			if ctx.Err() != nil {
				return nil, Recoverable(ErrorCodeCanceled, "request canceled")
			}
			return nil, Fatal(ErrorCodeUnavailable, fmt.Sprintf("CRM query failed: %v", err))
		}
		return audience, nil
	}
}

func generateCopyHandler(gen copygen.Generator) Handler {
	return func(ctx context.Context, args map[string]any) (any, *ToolError) {
		if gen == nil {
			return nil, Fatal(ErrorCodeUnavailable, "copy generator not configured")
		}
		req := copygen.DraftRequest{
			EventName:           strings.TrimSpace(anyToString(args["event_name"])),
			EventDate:           strings.TrimSpace(anyToString(args["event_date"])),
			AudienceDescription: strings.TrimSpace(anyToString(args["audience_description"])),
			Tone:                strings.TrimSpace(anyToString(args["tone"])),
		}
		if req.EventName == "" {
			return nil, Recoverable(ErrorCodeInvalidArgs, "missing event_name")
		}
		draft, err := gen.Draft(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, Recoverable(ErrorCodeCanceled, "request canceled")
			}
			// Downstream model failures are recoverable: the oracle may retry
			// or explain, and the generator already falls back to a template
			// on parse failures.
			return nil, Recoverable(ErrorCodeUnavailable, fmt.Sprintf("copy generation failed: %v", err))
		}
		return draft, nil
	}
}

func scheduleHandler(store *crm.Store) Handler {
	return func(ctx context.Context, args map[string]any) (any, *ToolError) {
		if store == nil {
			return nil, Fatal(ErrorCodeUnavailable, "CRM store not configured")
		}
		req := crm.ScheduleRequest{
			SegmentID: strings.TrimSpace(anyToString(args["segment_id"])),
			EventName: strings.TrimSpace(anyToString(args["event_name"])),
			SendAt:    strings.TrimSpace(anyToString(args["send_at"])),
		}
		if v, ok := anyToFloat(args["audience_size"]); ok && v > 0 {
			req.AudienceSize = int(v)
		}
		switch {
		case req.SegmentID == "":
			return nil, Recoverable(ErrorCodeInvalidArgs, "missing segment_id")
		case req.EventName == "":
			return nil, Recoverable(ErrorCodeInvalidArgs, "missing event_name")
		case req.SendAt == "":
			return nil, Recoverable(ErrorCodeInvalidArgs, "missing send_at")
		}

		if seg, err := store.GetSegment(ctx, req.SegmentID); err == nil && seg == nil {
			return nil, Recoverable(ErrorCodeNotFound, fmt.Sprintf("unknown segment %q; run query_crm first", req.SegmentID))
		} else if err == nil && req.AudienceSize == 0 {
			req.AudienceSize = seg.FanCount
		}

		scheduled, err := store.ScheduleCampaign(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, Recoverable(ErrorCodeCanceled, "request canceled")
			}
			return nil, Fatal(ErrorCodeUnavailable, fmt.Sprintf("campaign scheduling failed: %v", err))
		}
		return scheduled, nil
	}
}

func anyToString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case fmt.Stringer:
		return x.String()
	default:
		return ""
	}
}

func anyToFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func anyToStringSlice(v any) []string {
	switch x := v.(type) {
	case []string:
		out := make([]string, 0, len(x))
		for _, it := range x {
			if s := strings.TrimSpace(it); s != "" {
				out = append(out, s)
			}
		}
		return out
	case []any:
		out := make([]string, 0, len(x))
		for _, it := range x {
			if s := strings.TrimSpace(anyToString(it)); s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
