package tools

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/showrunhq/showrun-agent/internal/copygen"
	"github.com/showrunhq/showrun-agent/internal/crm"
	"github.com/showrunhq/showrun-agent/internal/wire"
)

func testStore(t *testing.T) *crm.Store {
	t.Helper()
	store, err := crm.Open(filepath.Join(t.TempDir(), "crm.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if _, err := store.SeedStarterIfEmpty(context.Background()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return store
}

func testDispatcher(t *testing.T, store *crm.Store) *Dispatcher {
	t.Helper()
	d, err := NewDispatcher(slog.Default(), BuiltinDefinitions(store, copygen.TemplateGenerator{}))
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	return d
}

func TestDispatchUnknownToolRecoverable(t *testing.T) {
	t.Parallel()
	d := testDispatcher(t, testStore(t))

	_, toolErr := d.Dispatch(context.Background(), "launch_rocket", nil)
	if toolErr == nil {
		t.Fatalf("expected error for unknown tool")
	}
	if toolErr.Fatal {
		t.Fatalf("unknown tool should be recoverable, got fatal")
	}
	if toolErr.Code != ErrorCodeNotFound {
		t.Fatalf("code got=%q want=%q", toolErr.Code, ErrorCodeNotFound)
	}
}

func TestQueryCRMReturnsAudienceAndSegment(t *testing.T) {
	t.Parallel()
	d := testDispatcher(t, testStore(t))

	result, toolErr := d.Dispatch(context.Background(), ToolQueryCRM, map[string]any{
		"genres": []any{"jazz"},
		"city":   "chicago",
	})
	if toolErr != nil {
		t.Fatalf("query_crm: %v", toolErr)
	}
	audience, ok := result.(wire.AudiencePayload)
	if !ok {
		t.Fatalf("result type got=%T want=wire.AudiencePayload", result)
	}
	if audience.Count == 0 {
		t.Fatalf("expected jazz fans in chicago in the starter data")
	}
	if audience.SegmentID == "" {
		t.Fatalf("non-empty audience must carry a segment_id")
	}
	if len(audience.Fans) > 5 {
		t.Fatalf("fan preview got=%d want<=5", len(audience.Fans))
	}
}

func TestQueryCRMEmptyResultHasNoSegment(t *testing.T) {
	t.Parallel()
	d := testDispatcher(t, testStore(t))

	result, toolErr := d.Dispatch(context.Background(), ToolQueryCRM, map[string]any{
		"genres": []any{"polka"},
	})
	if toolErr != nil {
		t.Fatalf("query_crm: %v", toolErr)
	}
	audience := result.(wire.AudiencePayload)
	if audience.Count != 0 {
		t.Fatalf("count got=%d want=0", audience.Count)
	}
	if audience.SegmentID != "" {
		t.Fatalf("empty audience must not create a segment, got %q", audience.SegmentID)
	}
	if audience.Fans == nil {
		t.Fatalf("fans should be an empty slice, not nil")
	}
}

func TestQueryCRMInvalidMonthsWindow(t *testing.T) {
	t.Parallel()
	d := testDispatcher(t, testStore(t))

	_, toolErr := d.Dispatch(context.Background(), ToolQueryCRM, map[string]any{
		"min_months_since_purchase": float64(6),
		"max_months_since_purchase": float64(2),
	})
	if toolErr == nil {
		t.Fatalf("expected invalid-window error")
	}
	if toolErr.Fatal {
		t.Fatalf("invalid filters should be recoverable")
	}
	if toolErr.Code != ErrorCodeInvalidArgs {
		t.Fatalf("code got=%q want=%q", toolErr.Code, ErrorCodeInvalidArgs)
	}
}

func TestGenerateCopyRequiresEventName(t *testing.T) {
	t.Parallel()
	d := testDispatcher(t, testStore(t))

	_, toolErr := d.Dispatch(context.Background(), ToolGenerateCopy, map[string]any{
		"tone": "urgent",
	})
	if toolErr == nil {
		t.Fatalf("expected missing event_name error")
	}
	if toolErr.Code != ErrorCodeInvalidArgs || toolErr.Fatal {
		t.Fatalf("got code=%q fatal=%v, want recoverable INVALID_ARGS", toolErr.Code, toolErr.Fatal)
	}
}

func TestGenerateCopyTemplateDraft(t *testing.T) {
	t.Parallel()
	d := testDispatcher(t, testStore(t))

	result, toolErr := d.Dispatch(context.Background(), ToolGenerateCopy, map[string]any{
		"event_name": "Summer Jazz Night",
		"event_date": "2026-09-12",
	})
	if toolErr != nil {
		t.Fatalf("generate_campaign_copy: %v", toolErr)
	}
	draft, ok := result.(wire.CampaignDraftPayload)
	if !ok {
		t.Fatalf("result type got=%T want=wire.CampaignDraftPayload", result)
	}
	if draft.Email.Subject == "" || draft.Email.Body == "" {
		t.Fatalf("template draft missing email fields: %+v", draft.Email)
	}
	if draft.SMS.Body == "" {
		t.Fatalf("template draft missing sms body")
	}
}

func TestScheduleCampaignIdempotent(t *testing.T) {
	t.Parallel()
	store := testStore(t)
	d := testDispatcher(t, store)
	ctx := context.Background()

	queried, toolErr := d.Dispatch(ctx, ToolQueryCRM, map[string]any{"genres": []any{"jazz"}})
	if toolErr != nil {
		t.Fatalf("query_crm: %v", toolErr)
	}
	segmentID := queried.(wire.AudiencePayload).SegmentID

	args := map[string]any{
		"segment_id": segmentID,
		"event_name": "Summer Jazz Night",
		"send_at":    "2026-09-10T10:00:00Z",
	}
	first, toolErr := d.Dispatch(ctx, ToolSchedule, args)
	if toolErr != nil {
		t.Fatalf("schedule: %v", toolErr)
	}
	second, toolErr := d.Dispatch(ctx, ToolSchedule, args)
	if toolErr != nil {
		t.Fatalf("schedule again: %v", toolErr)
	}

	a := first.(wire.SchedulePayload)
	b := second.(wire.SchedulePayload)
	if a.CampaignID == "" {
		t.Fatalf("missing campaign_id")
	}
	if a.CampaignID != b.CampaignID {
		t.Fatalf("campaign_id changed on duplicate schedule: %q vs %q", a.CampaignID, b.CampaignID)
	}
	if a.Status != crm.CampaignStatusScheduled {
		t.Fatalf("status got=%q want=%q", a.Status, crm.CampaignStatusScheduled)
	}
	if a.AudienceSize == 0 {
		t.Fatalf("audience_size should default to the segment fan count")
	}
}

func TestScheduleCampaignUnknownSegment(t *testing.T) {
	t.Parallel()
	d := testDispatcher(t, testStore(t))

	_, toolErr := d.Dispatch(context.Background(), ToolSchedule, map[string]any{
		"segment_id": "seg_deadbeef",
		"event_name": "Ghost Show",
		"send_at":    "2026-09-10T10:00:00Z",
	})
	if toolErr == nil {
		t.Fatalf("expected unknown-segment error")
	}
	if toolErr.Code != ErrorCodeNotFound || toolErr.Fatal {
		t.Fatalf("got code=%q fatal=%v, want recoverable NOT_FOUND", toolErr.Code, toolErr.Fatal)
	}
}

func TestNodeMapping(t *testing.T) {
	t.Parallel()
	d := testDispatcher(t, testStore(t))

	if got := d.Node(ToolQueryCRM); got != wire.NodeQueryCRM {
		t.Fatalf("node got=%q want=%q", got, wire.NodeQueryCRM)
	}
	if got := d.Node("mystery_tool"); got != "mystery_tool" {
		t.Fatalf("unknown tool node got=%q want=%q", got, "mystery_tool")
	}
}
