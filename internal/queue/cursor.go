package queue

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrBadCursor is returned when a pagination token cannot be decoded.
var ErrBadCursor = errors.New("invalid pagination cursor")

// Cursor is the keyset position of the last item of a page.
type Cursor struct {
	ScheduledAt time.Time
	ID          string
}

// EncodeCursor renders the keyset position as an opaque token.
func EncodeCursor(c Cursor) string {
	raw := fmt.Sprintf("%s|%s", c.ScheduledAt.UTC().Format(time.RFC3339Nano), c.ID)
	return base64.URLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor parses a token produced by EncodeCursor.
func DecodeCursor(token string) (Cursor, error) {
	raw, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, ErrBadCursor
	}

	parts := strings.SplitN(string(raw), "|", 2)
	if len(parts) != 2 || parts[1] == "" {
		return Cursor{}, ErrBadCursor
	}

	at, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return Cursor{}, ErrBadCursor
	}

	return Cursor{ScheduledAt: at, ID: parts[1]}, nil
}
