package cli

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"silver-stress-tracker/internal/stress"
)

func TestParseColor(t *testing.T) {
	c, err := parseColor("orange")
	require.NoError(t, err)
	assert.Equal(t, stress.Orange, c)

	_, err = parseColor("gray")
	assert.Error(t, err)
	_, err = parseColor("purple")
	assert.Error(t, err)
}

func TestParseAt(t *testing.T) {
	at, err := parseAt("")
	require.NoError(t, err)
	assert.True(t, at.IsZero())

	at, err = parseAt("2026-01-05T10:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC), at)

	_, err = parseAt("yesterday")
	assert.Error(t, err)
}

func TestCommandTree(t *testing.T) {
	for _, path := range [][]string{
		{"run"}, {"update"}, {"init-db"}, {"show"}, {"export"}, {"stats"}, {"cleanup"},
		{"import-inventory"}, {"simulate-alert"}, {"version"},
		{"observe", "lease-rate"}, {"observe", "premium"}, {"observe", "margin"},
		{"observe", "shanghai"}, {"observe", "inventory"}, {"observe", "spot"},
	} {
		cmd, _, err := rootCmd.Find(path)
		require.NoError(t, err, path)
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}
}

func TestSortedKeys(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, sortedKeys(map[string]int{"c": 1, "a": 2, "b": 3}))
}
