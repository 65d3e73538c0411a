package crm

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Cursor is an opaque keyset-pagination position over (created_at, id).
type Cursor struct {
	CreatedAtUnixMs int64
	ID              string
}

// EncodeCursor encodes a cursor as a URL-safe base64 string.
func EncodeCursor(c Cursor) string {
	if c.CreatedAtUnixMs <= 0 || strings.TrimSpace(c.ID) == "" {
		return ""
	}
	raw := fmt.Sprintf("%d:%s", c.CreatedAtUnixMs, strings.TrimSpace(c.ID))
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func DecodeCursor(raw string) (Cursor, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Cursor{}, true
	}
	b, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return Cursor{}, false
	}
	parts := strings.SplitN(string(b), ":", 2)
	if len(parts) != 2 {
		return Cursor{}, false
	}
	ms, err := parseInt64(parts[0])
	if err != nil || ms <= 0 {
		return Cursor{}, false
	}
	id := strings.TrimSpace(parts[1])
	if id == "" {
		return Cursor{}, false
	}
	return Cursor{CreatedAtUnixMs: ms, ID: id}, true
}

func parseInt64(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, errors.New("empty")
	}
	return strconv.ParseInt(raw, 10, 64)
}
