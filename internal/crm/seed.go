package crm

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

//go:embed fans_seed.json
var starterFansJSON []byte

// StarterFans returns the embedded starter dataset.
func StarterFans() ([]Fan, error) {
	var fans []Fan
	if err := json.Unmarshal(starterFansJSON, &fans); err != nil {
		return nil, fmt.Errorf("decode starter fans: %w", err)
	}
	return fans, nil
}

// LoadFansFile reads a fans JSON file (an array of fan records).
func LoadFansFile(path string) ([]Fan, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("missing fans file path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var fans []Fan
	if err := json.Unmarshal(b, &fans); err != nil {
		return nil, fmt.Errorf("decode fans file: %w", err)
	}
	return fans, nil
}

// SeedFans upserts fan records by id and returns the number of rows written.
// Re-seeding the same dataset is a no-op row-count-wise but refreshes fields.
func (s *Store) SeedFans(ctx context.Context, fans []Fan) (int, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	written := 0
	for _, fan := range fans {
		fan.ID = strings.TrimSpace(fan.ID)
		if fan.ID == "" {
			return 0, errors.New("fan record missing id")
		}
		genresJSON, err := json.Marshal(fan.Genres)
		if err != nil {
			return 0, err
		}
		res, err := tx.ExecContext(ctx, `
INSERT INTO fans(id, first_name, last_name, city, state, genres_json, last_purchase_date, total_spent, email_open_rate)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  first_name = excluded.first_name,
  last_name = excluded.last_name,
  city = excluded.city,
  state = excluded.state,
  genres_json = excluded.genres_json,
  last_purchase_date = excluded.last_purchase_date,
  total_spent = excluded.total_spent,
  email_open_rate = excluded.email_open_rate
`,
			fan.ID,
			strings.TrimSpace(fan.FirstName),
			strings.TrimSpace(fan.LastName),
			strings.TrimSpace(fan.City),
			strings.TrimSpace(fan.State),
			string(genresJSON),
			strings.TrimSpace(fan.LastPurchaseDate),
			fan.TotalSpent,
			fan.EmailOpenRate,
		)
		if err != nil {
			return 0, fmt.Errorf("seed fan %s: %w", fan.ID, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			written += int(n)
		} else {
			written++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return written, nil
}

// SeedStarterIfEmpty loads the embedded dataset when the fan table is empty.
func (s *Store) SeedStarterIfEmpty(ctx context.Context) (int, error) {
	n, err := s.CountFans(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		return 0, nil
	}
	fans, err := StarterFans()
	if err != nil {
		return 0, err
	}
	return s.SeedFans(ctx, fans)
}
