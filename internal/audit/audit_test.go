package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readEvents(t *testing.T, dir string) []Event {
	t.Helper()
	f, err := os.Open(filepath.Join(dir, "audit.log"))
	require.NoError(t, err)
	defer f.Close()

	var events []Event
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e Event
		require.NoError(t, json.Unmarshal(sc.Bytes(), &e))
		events = append(events, e)
	}
	require.NoError(t, sc.Err())
	return events
}

func TestLogger_WritesJSONLines(t *testing.T) {
	dir := t.TempDir()
	l, err := NewLogger(Config{LogDir: dir, MaxSize: 1}, "critic")
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, l.LogTrade(ctx, 1, "buy_stock", "AAPL", 10, "bought", nil))
	require.NoError(t, l.LogTrade(ctx, 2, "sell_stock", "AAPL", 15, "", errors.New("insufficient shares")))
	require.NoError(t, l.LogAnomaly(ctx, "p-1", 1, "buy_stock", "AAPL", 10, "high", "user asked to sell", "@ACTOR_AI sell 10 AAPL"))
	require.NoError(t, l.LogResolution(ctx, "p-1", "reversed", nil))
	require.NoError(t, l.Close())

	events := readEvents(t, dir)
	require.Len(t, events, 4)
	assert.Equal(t, EventTradeExecuted, events[0].EventType)
	assert.Equal(t, EventTradeRejected, events[1].EventType)
	assert.False(t, events[1].Success)
	assert.Equal(t, "p-1", events[2].PendingID)
	assert.Equal(t, "reversed", events[3].Action)

	for _, e := range events {
		assert.Equal(t, l.SessionID(), e.SessionID)
		assert.Equal(t, "critic", e.Component)
	}
}

func TestLogger_NilDiscards(t *testing.T) {
	var l *Logger
	assert.NoError(t, l.LogResolution(context.Background(), "p", "confirmed", nil))
	assert.NoError(t, l.Close())
	assert.Empty(t, l.SessionID())
}
