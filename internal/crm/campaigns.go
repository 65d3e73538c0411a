package crm

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/showrunhq/showrun-agent/internal/wire"
)

// CampaignStatusScheduled is the status of a freshly scheduled campaign.
const CampaignStatusScheduled = "scheduled"

// ScheduleRequest identifies a campaign. (SegmentID, EventName, SendAt) is
// the idempotency key; AudienceSize is derived data and not part of identity.
type ScheduleRequest struct {
	SegmentID    string
	EventName    string
	AudienceSize int
	SendAt       string
}

func (r *ScheduleRequest) normalize() error {
	if r == nil {
		return errors.New("nil schedule request")
	}
	r.SegmentID = strings.TrimSpace(r.SegmentID)
	r.EventName = strings.TrimSpace(r.EventName)
	r.SendAt = strings.TrimSpace(r.SendAt)
	if r.SegmentID == "" {
		return errors.New("missing segment_id")
	}
	if r.EventName == "" {
		return errors.New("missing event_name")
	}
	if r.SendAt == "" {
		return errors.New("missing send_at")
	}
	if r.AudienceSize < 0 {
		r.AudienceSize = 0
	}
	return nil
}

// ScheduleCampaign inserts a campaign row, or returns the existing row when
// the same (segment_id, event_name, send_at) was scheduled before. Duplicate
// submissions never create a second campaign.
func (s *Store) ScheduleCampaign(ctx context.Context, req ScheduleRequest) (wire.SchedulePayload, error) {
	if s == nil || s.db == nil {
		return wire.SchedulePayload{}, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := req.normalize(); err != nil {
		return wire.SchedulePayload{}, err
	}

	if existing, err := s.findCampaignByKey(ctx, req); err != nil {
		return wire.SchedulePayload{}, err
	} else if existing != nil {
		return campaignPayload(*existing), nil
	}

	campaignID, err := NewCampaignID()
	if err != nil {
		return wire.SchedulePayload{}, err
	}
	c := Campaign{
		CampaignID:      campaignID,
		SegmentID:       req.SegmentID,
		EventName:       req.EventName,
		AudienceSize:    req.AudienceSize,
		SendAt:          req.SendAt,
		Status:          CampaignStatusScheduled,
		CreatedAtUnixMs: nowUnixMs(),
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO campaigns(campaign_id, segment_id, event_name, audience_size, send_at, status, created_at_unix_ms)
VALUES(?, ?, ?, ?, ?, ?, ?)
`, c.CampaignID, c.SegmentID, c.EventName, c.AudienceSize, c.SendAt, c.Status, c.CreatedAtUnixMs)
	if err != nil {
		// Lost an insert race on the unique key: serve the winner's row.
		if existing, lookupErr := s.findCampaignByKey(ctx, req); lookupErr == nil && existing != nil {
			return campaignPayload(*existing), nil
		}
		return wire.SchedulePayload{}, fmt.Errorf("insert campaign: %w", err)
	}
	return campaignPayload(c), nil
}

func (s *Store) findCampaignByKey(ctx context.Context, req ScheduleRequest) (*Campaign, error) {
	var c Campaign
	err := s.db.QueryRowContext(ctx, `
SELECT campaign_id, segment_id, event_name, audience_size, send_at, status, created_at_unix_ms
FROM campaigns
WHERE segment_id = ? AND event_name = ? AND send_at = ?
`, req.SegmentID, req.EventName, req.SendAt).Scan(
		&c.CampaignID,
		&c.SegmentID,
		&c.EventName,
		&c.AudienceSize,
		&c.SendAt,
		&c.Status,
		&c.CreatedAtUnixMs,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

func campaignPayload(c Campaign) wire.SchedulePayload {
	return wire.SchedulePayload{
		CampaignID:   c.CampaignID,
		SegmentID:    c.SegmentID,
		EventName:    c.EventName,
		AudienceSize: c.AudienceSize,
		SendAt:       c.SendAt,
		Status:       c.Status,
	}
}

func (s *Store) ListCampaigns(ctx context.Context, limit int, cursor Cursor) ([]Campaign, string, error) {
	if s == nil || s.db == nil {
		return nil, "", errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	limit = clampLimit(limit)

	args := []any{}
	where := ""
	if cursor.CreatedAtUnixMs > 0 && strings.TrimSpace(cursor.ID) != "" {
		where = "WHERE (created_at_unix_ms < ? OR (created_at_unix_ms = ? AND campaign_id < ?))"
		args = append(args, cursor.CreatedAtUnixMs, cursor.CreatedAtUnixMs, strings.TrimSpace(cursor.ID))
	}
	args = append(args, limit)

	q := fmt.Sprintf(`
SELECT campaign_id, segment_id, event_name, audience_size, send_at, status, created_at_unix_ms
FROM campaigns
%s
ORDER BY created_at_unix_ms DESC, campaign_id DESC
LIMIT ?
`, where)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()

	out := make([]Campaign, 0, limit)
	for rows.Next() {
		var c Campaign
		if err := rows.Scan(
			&c.CampaignID,
			&c.SegmentID,
			&c.EventName,
			&c.AudienceSize,
			&c.SendAt,
			&c.Status,
			&c.CreatedAtUnixMs,
		); err != nil {
			return nil, "", err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}
	if len(out) < limit {
		return out, "", nil
	}
	last := out[len(out)-1]
	return out, EncodeCursor(Cursor{CreatedAtUnixMs: last.CreatedAtUnixMs, ID: last.CampaignID}), nil
}
