package wire

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestDecodeRoundTrip(t *testing.T) {
	t.Parallel()
	ev, err := AudienceResult(AudiencePayload{
		Count:     12,
		SegmentID: "seg_ab12cd34",
		AvgSpent:  41.5,
		OpenRate:  0.31,
		Fans:      []FanSummary{{FirstName: "Maya", City: "Chicago", LastPurchaseDate: "2026-07-01"}},
	})
	if err != nil {
		t.Fatalf("build event: %v", err)
	}

	b, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got, err := Decode(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	p, err := got.Audience()
	if err != nil {
		t.Fatalf("payload: %v", err)
	}
	if p.Count != 12 || p.SegmentID != "seg_ab12cd34" || len(p.Fans) != 1 {
		t.Fatalf("payload got=%+v", p)
	}
}

func TestDecodeRejectsMissingType(t *testing.T) {
	t.Parallel()
	if _, err := Decode([]byte(`{"content":"hi"}`)); err == nil {
		t.Fatalf("expected error for missing type")
	}
	if _, err := Decode([]byte(`{nope`)); err == nil {
		t.Fatalf("expected error for malformed json")
	}
}

func TestTokenOmitsEmptyFields(t *testing.T) {
	t.Parallel()
	b, err := json.Marshal(Token("hel"))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	line := string(b)
	if line != `{"type":"token","content":"hel"}` {
		t.Fatalf("frame got=%s", line)
	}
	if strings.Contains(line, "node") || strings.Contains(line, "data") {
		t.Fatalf("frame carries empty fields: %s", line)
	}
}

func TestErrorDefaultsMessage(t *testing.T) {
	t.Parallel()
	if got := Error("  ").Message; got != "internal error" {
		t.Fatalf("message got=%q", got)
	}
	if got := Error("boom").Message; got != "boom" {
		t.Fatalf("message got=%q", got)
	}
}

func TestPayloadAccessorsCheckType(t *testing.T) {
	t.Parallel()
	if _, err := Done().Audience(); err == nil {
		t.Fatalf("expected type mismatch error")
	}
	if _, err := Token("x").Schedule(); err == nil {
		t.Fatalf("expected type mismatch error")
	}
}
