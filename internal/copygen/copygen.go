// Package copygen drafts email + SMS campaign copy.
//
// The Anthropic-backed generator asks a small model for strict JSON and falls
// back to a deterministic template when the response cannot be parsed. The
// template generator is also used standalone in offline tooling.
package copygen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"

	"github.com/showrunhq/showrun-agent/internal/wire"
)

// DefaultModel is the copy-drafting model when config does not override it.
const DefaultModel = "claude-haiku-4-5-20251001"

const defaultTone = "enthusiastic"

const maxDraftTokens = 1024

// DraftRequest describes the campaign to write copy for.
type DraftRequest struct {
	EventName           string
	EventDate           string
	AudienceDescription string
	Tone                string
}

func (r *DraftRequest) normalize() error {
	if r == nil {
		return errors.New("nil draft request")
	}
	r.EventName = strings.TrimSpace(r.EventName)
	r.EventDate = strings.TrimSpace(r.EventDate)
	r.AudienceDescription = strings.TrimSpace(r.AudienceDescription)
	r.Tone = strings.ToLower(strings.TrimSpace(r.Tone))
	if r.EventName == "" {
		return errors.New("missing event_name")
	}
	if r.Tone == "" {
		r.Tone = defaultTone
	}
	return nil
}

// Generator produces a campaign draft for one request.
type Generator interface {
	Draft(ctx context.Context, req DraftRequest) (wire.CampaignDraftPayload, error)
}

// AnthropicGenerator drafts copy with a single non-streaming Messages call.
type AnthropicGenerator struct {
	client anthropic.Client
	model  string
	log    *slog.Logger
}

func NewAnthropicGenerator(client anthropic.Client, model string, log *slog.Logger) *AnthropicGenerator {
	if strings.TrimSpace(model) == "" {
		model = DefaultModel
	}
	if log == nil {
		log = slog.Default()
	}
	return &AnthropicGenerator{client: client, model: strings.TrimSpace(model), log: log}
}

func (g *AnthropicGenerator) Draft(ctx context.Context, req DraftRequest) (wire.CampaignDraftPayload, error) {
	if g == nil {
		return wire.CampaignDraftPayload{}, errors.New("nil generator")
	}
	if err := req.normalize(); err != nil {
		return wire.CampaignDraftPayload{}, err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	msg, err := g.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(g.model),
		MaxTokens: maxDraftTokens,
		System:    []anthropic.TextBlockParam{{Text: draftSystemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(draftUserPrompt(req))),
		},
	})
	if err != nil {
		return wire.CampaignDraftPayload{}, fmt.Errorf("anthropic messages.new: %w", err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			text.WriteString(tb.Text)
		}
	}

	draft, ok := parseDraftJSON(text.String())
	if !ok {
		g.log.Warn("campaign copy parse failed, using template fallback",
			"model", g.model,
			"event_name", req.EventName,
		)
		return templateDraft(req, text.String()), nil
	}
	return draft, nil
}

const draftSystemPrompt = `You write concert and event marketing copy. Respond with strict JSON only, no prose, matching exactly:
{"email":{"subject":"...","preview_text":"...","body":"..."},"sms":{"body":"..."}}
Keep the SMS body within 160 characters.`

func draftUserPrompt(req DraftRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write %s campaign copy for the event %q.", req.Tone, req.EventName)
	if req.EventDate != "" {
		fmt.Fprintf(&b, " The event is on %s.", req.EventDate)
	}
	if req.AudienceDescription != "" {
		fmt.Fprintf(&b, " The audience: %s.", req.AudienceDescription)
	}
	return b.String()
}

// parseDraftJSON extracts the first "{" through the last "}" of the model
// output and decodes it. Returns ok=false when no usable draft was found.
func parseDraftJSON(raw string) (wire.CampaignDraftPayload, bool) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return wire.CampaignDraftPayload{}, false
	}
	var draft wire.CampaignDraftPayload
	if err := json.Unmarshal([]byte(raw[start:end+1]), &draft); err != nil {
		return wire.CampaignDraftPayload{}, false
	}
	if strings.TrimSpace(draft.Email.Subject) == "" && strings.TrimSpace(draft.Email.Body) == "" {
		return wire.CampaignDraftPayload{}, false
	}
	return draft, true
}

// TemplateGenerator produces deterministic copy with no model call. Used as
// the offline generator for eval scenarios and as the parse-failure fallback.
type TemplateGenerator struct{}

func (TemplateGenerator) Draft(_ context.Context, req DraftRequest) (wire.CampaignDraftPayload, error) {
	if err := req.normalize(); err != nil {
		return wire.CampaignDraftPayload{}, err
	}
	return templateDraft(req, ""), nil
}

func templateDraft(req DraftRequest, rawBody string) wire.CampaignDraftPayload {
	preview := "Tickets are moving fast."
	if req.EventDate != "" {
		preview = fmt.Sprintf("Join us on %s. Tickets are moving fast.", req.EventDate)
	}
	body := strings.TrimSpace(rawBody)
	if body == "" {
		body = fmt.Sprintf("%s is almost here. Grab your spot before it sells out.", req.EventName)
	}
	sms := fmt.Sprintf("%s is coming up! Reply STOP to opt out.", req.EventName)
	return wire.CampaignDraftPayload{
		Email: wire.EmailDraft{
			Subject:     fmt.Sprintf("You're invited: %s", req.EventName),
			PreviewText: preview,
			Body:        body,
		},
		SMS: wire.SMSDraft{Body: sms},
	}
}
