package payload

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseRejectsNonObjects(t *testing.T) {
	_, err := Parse([]byte(`[1,2]`))
	require.Error(t, err)

	_, err = Parse([]byte(`null`))
	require.Error(t, err)

	_, err = Parse([]byte(`{`))
	require.Error(t, err)
}

func TestFieldAccessors(t *testing.T) {
	fields, err := Parse([]byte(`{
		"notificationId": 42,
		"title": "  ",
		"subject": "Order shipped",
		"isRead": "true",
		"count": "7",
		"roles": [{"name": "SELLER"}, "BUYER"],
		"sender": {"id": "u-1"}
	}`))
	require.NoError(t, err)

	require.Equal(t, "42", fields.String("id", "notificationId"))
	require.Equal(t, "Order shipped", fields.String("title", "subject"))

	read, ok := fields.Bool("read", "isRead")
	require.True(t, ok)
	require.True(t, read)

	_, ok = fields.Bool("missing")
	require.False(t, ok)

	count, ok := fields.Int("count")
	require.True(t, ok)
	require.EqualValues(t, 7, count)

	require.Equal(t, []string{"SELLER", "BUYER"}, fields.Strings("roles"))

	sender, ok := fields.Object("sender")
	require.True(t, ok)
	require.Equal(t, "u-1", sender.String("id"))
}

func TestParseTimeFormats(t *testing.T) {
	want := time.Date(2026, 5, 4, 10, 30, 15, 0, time.UTC)

	cases := map[string]any{
		"rfc3339":      "2026-05-04T17:30:15+07:00",
		"local iso":    "2026-05-04T10:30:15",
		"space":        "2026-05-04 10:30:15",
		"epoch millis": float64(want.UnixMilli()),
		"epoch secs":   float64(want.Unix()),
		"array":        []any{float64(2026), float64(5), float64(4), float64(10), float64(30), float64(15)},
	}

	for name, value := range cases {
		got, ok := ParseTime(value)
		require.True(t, ok, name)
		require.True(t, want.Equal(got), "%s: got %s", name, got)
	}

	_, ok := ParseTime("yesterday")
	require.False(t, ok)
	_, ok = ParseTime(nil)
	require.False(t, ok)
}
