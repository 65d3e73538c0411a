// Package crm is the local SQLite-backed fan CRM: fans, segment snapshots,
// and scheduled campaigns.
//
// Notes:
//   - One store per data dir (<data-dir>/crm.db). WAL is enabled so reads can
//     proceed while a chat request writes segment/campaign rows.
//   - Campaign scheduling is idempotent on (segment_id, event_name, send_at).
package crm

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	p := filepath.Clean(strings.TrimSpace(path))
	if p == "" {
		return nil, errors.New("missing db path")
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func initSchema(db *sql.DB) error {
	if db == nil {
		return errors.New("nil db")
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		return fmt.Errorf("pragma journal_mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=3000;`); err != nil {
		return fmt.Errorf("pragma busy_timeout: %w", err)
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS fans (
  id TEXT PRIMARY KEY,
  first_name TEXT NOT NULL DEFAULT '',
  last_name TEXT NOT NULL DEFAULT '',
  city TEXT NOT NULL DEFAULT '',
  state TEXT NOT NULL DEFAULT '',
  genres_json TEXT NOT NULL DEFAULT '[]',
  last_purchase_date TEXT NOT NULL DEFAULT '',
  total_spent REAL NOT NULL DEFAULT 0,
  email_open_rate REAL NOT NULL DEFAULT 0
);`,
		`CREATE TABLE IF NOT EXISTS segments (
  segment_id TEXT PRIMARY KEY,
  filters_json TEXT NOT NULL DEFAULT '{}',
  fan_count INTEGER NOT NULL DEFAULT 0,
  avg_spent REAL NOT NULL DEFAULT 0,
  open_rate REAL NOT NULL DEFAULT 0,
  created_at_unix_ms INTEGER NOT NULL DEFAULT 0
);`,
		`CREATE TABLE IF NOT EXISTS campaigns (
  campaign_id TEXT PRIMARY KEY,
  segment_id TEXT NOT NULL DEFAULT '',
  event_name TEXT NOT NULL DEFAULT '',
  audience_size INTEGER NOT NULL DEFAULT 0,
  send_at TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL DEFAULT 'scheduled',
  created_at_unix_ms INTEGER NOT NULL DEFAULT 0,
  UNIQUE(segment_id, event_name, send_at)
);`,
		`CREATE INDEX IF NOT EXISTS idx_segments_created ON segments(created_at_unix_ms DESC, segment_id DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_campaigns_created ON campaigns(created_at_unix_ms DESC, campaign_id DESC);`,
	}
	for _, q := range stmts {
		if _, err := db.Exec(q); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// Fan is one CRM fan record. LastPurchaseDate is YYYY-MM-DD.
type Fan struct {
	ID               string   `json:"id"`
	FirstName        string   `json:"first_name"`
	LastName         string   `json:"last_name"`
	City             string   `json:"city"`
	State            string   `json:"state"`
	Genres           []string `json:"genres"`
	LastPurchaseDate string   `json:"last_purchase_date"`
	TotalSpent       float64  `json:"total_spent"`
	EmailOpenRate    float64  `json:"email_open_rate"`
}

// Segment is a persisted snapshot of one non-empty query_crm result.
type Segment struct {
	SegmentID       string  `json:"segment_id"`
	FiltersJSON     string  `json:"filters_json"`
	FanCount        int     `json:"fan_count"`
	AvgSpent        float64 `json:"avg_spent"`
	OpenRate        float64 `json:"open_rate"`
	CreatedAtUnixMs int64   `json:"created_at_unix_ms"`
}

// Campaign is one scheduled campaign row.
type Campaign struct {
	CampaignID      string `json:"campaign_id"`
	SegmentID       string `json:"segment_id"`
	EventName       string `json:"event_name"`
	AudienceSize    int    `json:"audience_size"`
	SendAt          string `json:"send_at"`
	Status          string `json:"status"`
	CreatedAtUnixMs int64  `json:"created_at_unix_ms"`
}

func (s *Store) CountFans(ctx context.Context) (int, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM fans`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *Store) GetSegment(ctx context.Context, segmentID string) (*Segment, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	segmentID = strings.TrimSpace(segmentID)
	if segmentID == "" {
		return nil, errors.New("missing segment_id")
	}

	var seg Segment
	err := s.db.QueryRowContext(ctx, `
SELECT segment_id, filters_json, fan_count, avg_spent, open_rate, created_at_unix_ms
FROM segments
WHERE segment_id = ?
`, segmentID).Scan(
		&seg.SegmentID,
		&seg.FiltersJSON,
		&seg.FanCount,
		&seg.AvgSpent,
		&seg.OpenRate,
		&seg.CreatedAtUnixMs,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &seg, nil
}

func (s *Store) ListSegments(ctx context.Context, limit int, cursor Cursor) ([]Segment, string, error) {
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
		where = "WHERE (created_at_unix_ms < ? OR (created_at_unix_ms = ? AND segment_id < ?))"
		args = append(args, cursor.CreatedAtUnixMs, cursor.CreatedAtUnixMs, strings.TrimSpace(cursor.ID))
	}
	args = append(args, limit)

	q := fmt.Sprintf(`
SELECT segment_id, filters_json, fan_count, avg_spent, open_rate, created_at_unix_ms
FROM segments
%s
ORDER BY created_at_unix_ms DESC, segment_id DESC
LIMIT ?
`, where)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()

	out := make([]Segment, 0, limit)
	for rows.Next() {
		var seg Segment
		if err := rows.Scan(
			&seg.SegmentID,
			&seg.FiltersJSON,
			&seg.FanCount,
			&seg.AvgSpent,
			&seg.OpenRate,
			&seg.CreatedAtUnixMs,
		); err != nil {
			return nil, "", err
		}
		out = append(out, seg)
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}
	if len(out) < limit {
		return out, "", nil
	}
	last := out[len(out)-1]
	return out, EncodeCursor(Cursor{CreatedAtUnixMs: last.CreatedAtUnixMs, ID: last.SegmentID}), nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	if limit > 200 {
		return 200
	}
	return limit
}

func nowUnixMs() int64 {
	return time.Now().UnixMilli()
}
