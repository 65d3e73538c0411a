package copygen

import (
	"strings"
	"testing"
)

func TestTemplateGeneratorDraft(t *testing.T) {
	t.Parallel()
	gen := TemplateGenerator{}

	draft, err := gen.Draft(t.Context(), DraftRequest{
		EventName: "Jazz Night at the Blue Room",
		EventDate: "2026-09-10",
	})
	if err != nil {
		t.Fatalf("draft: %v", err)
	}
	if !strings.Contains(draft.Email.Subject, "Jazz Night at the Blue Room") {
		t.Fatalf("subject got=%q", draft.Email.Subject)
	}
	if !strings.Contains(draft.Email.PreviewText, "2026-09-10") {
		t.Fatalf("preview got=%q", draft.Email.PreviewText)
	}
	if strings.TrimSpace(draft.Email.Body) == "" || strings.TrimSpace(draft.SMS.Body) == "" {
		t.Fatalf("draft has empty bodies: %+v", draft)
	}

	if _, err := gen.Draft(t.Context(), DraftRequest{}); err == nil {
		t.Fatalf("expected error for missing event_name")
	}
}

func TestDraftRequestNormalize(t *testing.T) {
	t.Parallel()
	req := DraftRequest{EventName: "  Show  ", Tone: "  URGENT "}
	if err := req.normalize(); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if req.EventName != "Show" || req.Tone != "urgent" {
		t.Fatalf("normalized got=%+v", req)
	}

	req = DraftRequest{EventName: "Show"}
	if err := req.normalize(); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if req.Tone != defaultTone {
		t.Fatalf("tone got=%q want default", req.Tone)
	}
}

func TestParseDraftJSON(t *testing.T) {
	t.Parallel()
	raw := "Here you go:\n" +
		`{"email":{"subject":"s","preview_text":"p","body":"b"},"sms":{"body":"short"}}` +
		"\nLet me know."
	draft, ok := parseDraftJSON(raw)
	if !ok {
		t.Fatalf("expected parse to succeed")
	}
	if draft.Email.Subject != "s" || draft.SMS.Body != "short" {
		t.Fatalf("draft got=%+v", draft)
	}

	for _, bad := range []string{
		"no json here",
		"{broken",
		`{"email":{"subject":"","body":""},"sms":{"body":"x"}}`,
	} {
		if _, ok := parseDraftJSON(bad); ok {
			t.Fatalf("parse of %q should fail", bad)
		}
	}
}

func TestDraftUserPrompt(t *testing.T) {
	t.Parallel()
	req := DraftRequest{EventName: "Jazz Night", Tone: "warm", EventDate: "2026-09-10", AudienceDescription: "lapsed jazz fans"}
	if err := req.normalize(); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	prompt := draftUserPrompt(req)
	for _, want := range []string{"warm", `"Jazz Night"`, "2026-09-10", "lapsed jazz fans"} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q: %s", want, prompt)
		}
	}
}
