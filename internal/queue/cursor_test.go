package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorRoundTrip(t *testing.T) {
	c := Cursor{
		ScheduledAt: time.Date(2025, 6, 1, 8, 30, 0, 123456789, time.UTC),
		ID:          "9f1c2a34-0000-4000-8000-000000000001",
	}

	token := EncodeCursor(c)
	got, err := DecodeCursor(token)
	require.NoError(t, err)
	assert.True(t, c.ScheduledAt.Equal(got.ScheduledAt))
	assert.Equal(t, c.ID, got.ID)
}

func TestDecodeCursor_Invalid(t *testing.T) {
	cases := []string{
		"not-base64!!!",
		"",
		// base64 of garbage without separator
		"Z2FyYmFnZQ==",
		// base64 of "bad-time|id"
		"YmFkLXRpbWV8aWQ=",
	}

	for _, token := range cases {
		_, err := DecodeCursor(token)
		assert.ErrorIs(t, err, ErrBadCursor, "token %q", token)
	}
}
