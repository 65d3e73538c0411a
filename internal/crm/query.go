package crm

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/showrunhq/showrun-agent/internal/wire"
)

// daysPerMonth converts the purchase-recency window to months.
const daysPerMonth = 30.44

// fanPreviewLimit bounds the fan preview inside an audience result.
const fanPreviewLimit = 5

// Filters are the optional, AND-combined query_crm filters.
type Filters struct {
	// Genres matches fans listing any of these genres (case-insensitive exact).
	Genres []string `json:"genres,omitempty"`
	// MinMonthsSincePurchase / MaxMonthsSincePurchase bound the recency of the
	// fan's last purchase, in months of 30.44 days.
	MinMonthsSincePurchase *float64 `json:"min_months_since_purchase,omitempty"`
	MaxMonthsSincePurchase *float64 `json:"max_months_since_purchase,omitempty"`
	// MinTotalSpent keeps fans with total_spent >= the threshold.
	MinTotalSpent *float64 `json:"min_total_spent,omitempty"`
	// City is a case-insensitive substring match.
	City string `json:"city,omitempty"`
}

// QueryFans runs the filters against the fan table and returns an audience
// snapshot. Non-empty results persist a segment row; an empty result returns
// count 0 with no segment id and writes nothing.
func (s *Store) QueryFans(ctx context.Context, f Filters) (wire.AudiencePayload, error) {
	if s == nil || s.db == nil {
		return wire.AudiencePayload{}, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	args := []any{}
	where := make([]string, 0, 2)
	if f.MinTotalSpent != nil {
		where = append(where, "total_spent >= ?")
		args = append(args, *f.MinTotalSpent)
	}
	if city := strings.ToLower(strings.TrimSpace(f.City)); city != "" {
		where = append(where, "instr(lower(city), ?) > 0")
		args = append(args, city)
	}
	q := `
SELECT id, first_name, last_name, city, state, genres_json, last_purchase_date, total_spent, email_open_rate
FROM fans
`
	if len(where) > 0 {
		q += "WHERE " + strings.Join(where, " AND ") + "\n"
	}
	q += "ORDER BY id"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return wire.AudiencePayload{}, err
	}
	defer rows.Close()

	now := time.Now()
	matched := make([]Fan, 0, 32)
	for rows.Next() {
		var fan Fan
		var genresJSON string
		if err := rows.Scan(
			&fan.ID,
			&fan.FirstName,
			&fan.LastName,
			&fan.City,
			&fan.State,
			&genresJSON,
			&fan.LastPurchaseDate,
			&fan.TotalSpent,
			&fan.EmailOpenRate,
		); err != nil {
			return wire.AudiencePayload{}, err
		}
		if genresJSON != "" {
			_ = json.Unmarshal([]byte(genresJSON), &fan.Genres)
		}
		if !matchesFan(fan, f, now) {
			continue
		}
		matched = append(matched, fan)
	}
	if err := rows.Err(); err != nil {
		return wire.AudiencePayload{}, err
	}

	out := wire.AudiencePayload{Fans: []wire.FanSummary{}}
	if len(matched) == 0 {
		return out, nil
	}

	var spentSum, openSum float64
	for _, fan := range matched {
		spentSum += fan.TotalSpent
		openSum += fan.EmailOpenRate
	}
	out.Count = len(matched)
	out.AvgSpent = round2(spentSum / float64(len(matched)))
	out.OpenRate = round2(openSum / float64(len(matched)))
	for i, fan := range matched {
		if i >= fanPreviewLimit {
			break
		}
		out.Fans = append(out.Fans, wire.FanSummary{
			ID:               fan.ID,
			FirstName:        fan.FirstName,
			LastName:         fan.LastName,
			City:             fan.City,
			State:            fan.State,
			LastPurchaseDate: fan.LastPurchaseDate,
			TotalSpent:       fan.TotalSpent,
		})
	}

	segmentID, err := NewSegmentID()
	if err != nil {
		return wire.AudiencePayload{}, err
	}
	filtersJSON, err := json.Marshal(f)
	if err != nil {
		return wire.AudiencePayload{}, err
	}
	if _, err := s.db.ExecContext(ctx, `
INSERT INTO segments(segment_id, filters_json, fan_count, avg_spent, open_rate, created_at_unix_ms)
VALUES(?, ?, ?, ?, ?, ?)
`, segmentID, string(filtersJSON), out.Count, out.AvgSpent, out.OpenRate, nowUnixMs()); err != nil {
		return wire.AudiencePayload{}, err
	}
	out.SegmentID = segmentID
	return out, nil
}

func matchesFan(fan Fan, f Filters, now time.Time) bool {
	if len(f.Genres) > 0 && !hasAnyGenre(fan.Genres, f.Genres) {
		return false
	}
	if f.MinMonthsSincePurchase != nil || f.MaxMonthsSincePurchase != nil {
		months, ok := monthsSince(fan.LastPurchaseDate, now)
		if !ok {
			return false
		}
		if f.MinMonthsSincePurchase != nil && months < *f.MinMonthsSincePurchase {
			return false
		}
		if f.MaxMonthsSincePurchase != nil && months > *f.MaxMonthsSincePurchase {
			return false
		}
	}
	return true
}

func hasAnyGenre(have []string, want []string) bool {
	for _, w := range want {
		w = strings.ToLower(strings.TrimSpace(w))
		if w == "" {
			continue
		}
		for _, h := range have {
			if strings.ToLower(strings.TrimSpace(h)) == w {
				return true
			}
		}
	}
	return false
}

func monthsSince(dateYMD string, now time.Time) (float64, bool) {
	dateYMD = strings.TrimSpace(dateYMD)
	if dateYMD == "" {
		return 0, false
	}
	t, err := time.Parse("2006-01-02", dateYMD)
	if err != nil {
		return 0, false
	}
	days := now.Sub(t).Hours() / 24
	if days < 0 {
		days = 0
	}
	return days / daysPerMonth, true
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
