package bus

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"guardian-trader/internal/errors"
	"guardian-trader/internal/models"
)

func TestMemoryBus_PostAssignsIncreasingIDs(t *testing.T) {
	b, err := NewMemoryBus("")
	require.NoError(t, err)
	ctx := context.Background()

	first, err := b.Post(ctx, models.Message{User: "alice", Text: "buy 10 AAPL"})
	require.NoError(t, err)
	second, err := b.Post(ctx, models.Message{User: "GUARDIAN_AI", Text: "warning", Sender: models.SenderOversight})
	require.NoError(t, err)

	assert.Equal(t, int64(1), first.ID)
	assert.Equal(t, int64(2), second.ID)
	assert.Equal(t, models.SenderHuman, first.Sender)
	assert.False(t, first.Timestamp.IsZero())

	msgs, err := b.Messages(ctx)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, models.SenderOversight, msgs[1].Sender)
}

func TestMemoryBus_Defaults(t *testing.T) {
	b, err := NewMemoryBus("")
	require.NoError(t, err)
	ctx := context.Background()

	msg, err := b.Post(ctx, models.Message{Text: "  hello  "})
	require.NoError(t, err)
	assert.Equal(t, DefaultUser, msg.User)
	assert.Equal(t, "hello", msg.Text)

	_, err = b.Post(ctx, models.Message{User: "bob", Text: "   "})
	assert.True(t, errors.Is(err, errors.ErrEmptyMessage))

	_, err = b.Post(ctx, models.Message{User: "bob", Text: "hi", Sender: "robot"})
	assert.True(t, errors.Is(err, errors.ErrUnknownSender))
}

func TestMemoryBus_PersistsAndReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "messages.json")
	ctx := context.Background()

	b, err := NewMemoryBus(path)
	require.NoError(t, err)
	_, err = b.Post(ctx, models.Message{User: "alice", Text: "one"})
	require.NoError(t, err)
	_, err = b.Post(ctx, models.Message{User: "alice", Text: "two"})
	require.NoError(t, err)

	reloaded, err := NewMemoryBus(path)
	require.NoError(t, err)
	msgs, err := reloaded.Messages(ctx)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "two", msgs[1].Text)

	next, err := reloaded.Post(ctx, models.Message{User: "alice", Text: "three"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), next.ID)
}

func TestMemoryBus_LoadsLegacyRecordsWithoutIDs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "messages.json")
	legacy := `[
		{"user": "alice", "text": "hi", "timestamp": "2024-05-01 10:00:00"},
		{"user": "bob", "text": "hey", "timestamp": "2024-05-01 10:00:05"}
	]`
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0644))

	b, err := NewMemoryBus(path)
	require.NoError(t, err)
	msgs, err := b.Messages(context.Background())
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, int64(1), msgs[0].ID)
	assert.Equal(t, int64(2), msgs[1].ID)
	assert.Equal(t, models.SenderHuman, msgs[0].Sender)
	assert.Equal(t, 10, msgs[0].Timestamp.Hour())
}

func TestMemoryBus_ResetKeepsIDsIncreasing(t *testing.T) {
	b, err := NewMemoryBus("")
	require.NoError(t, err)
	ctx := context.Background()

	_, err = b.Post(ctx, models.Message{User: "alice", Text: "one"})
	require.NoError(t, err)
	require.NoError(t, b.Reset(ctx))

	msgs, err := b.Messages(ctx)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	msg, err := b.Post(ctx, models.Message{User: "alice", Text: "two"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), msg.ID)
}

func TestMemoryBus_FailedSaveIsNotVisible(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chat", "messages.json")
	ctx := context.Background()

	b, err := NewMemoryBus(path)
	require.NoError(t, err)
	first, err := b.Post(ctx, models.Message{User: "alice", Text: "one"})
	require.NoError(t, err)

	// A file where the directory should be makes every save fail.
	require.NoError(t, os.RemoveAll(filepath.Join(dir, "chat")))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "chat"), nil, 0644))

	_, err = b.Post(ctx, models.Message{User: "alice", Text: "two"})
	require.Error(t, err)

	msgs, err := b.Messages(ctx)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, first.ID, msgs[0].ID)

	require.NoError(t, os.Remove(filepath.Join(dir, "chat")))
	next, err := b.Post(ctx, models.Message{User: "alice", Text: "three"})
	require.NoError(t, err)
	assert.Equal(t, first.ID+1, next.ID)
}

func TestSince(t *testing.T) {
	msgs := []models.Message{{ID: 1}, {ID: 2}, {ID: 5}}
	assert.Len(t, Since(msgs, 0), 3)
	assert.Equal(t, int64(5), Since(msgs, 2)[0].ID)
	assert.Empty(t, Since(msgs, 5))
	assert.Equal(t, int64(5), LastID(msgs))
	assert.Equal(t, int64(0), LastID(nil))
}

func TestHTTPBus_PostIsNotRetried(t *testing.T) {
	var posts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			// Stored, but the reply arrives after the client gave up.
			posts.Add(1)
			time.Sleep(300 * time.Millisecond)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{"success": true, "messages": []models.Message{}})
	}))
	defer srv.Close()

	b := NewHTTPBus(HTTPBusConfig{BaseURL: srv.URL, Timeout: 100 * time.Millisecond, Retries: 2})
	ctx := context.Background()

	_, err := b.Post(ctx, models.Message{User: "GUARDIAN_AI", Text: "@ACTOR_AI buy back 80 MSFT shares - accidental sale"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrTransportUnavailable))
	assert.Equal(t, int32(1), posts.Load())

	msgs, err := b.Messages(ctx)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestRedisBus(t *testing.T) {
	addr := os.Getenv("GUARDIAN_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("GUARDIAN_TEST_REDIS_ADDR not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	b, err := NewRedisBus(ctx, RedisBusConfig{Addr: addr, Key: "guardian:test:" + t.Name()})
	require.NoError(t, err)
	defer b.Close()
	require.NoError(t, b.Reset(ctx))

	first, err := b.Post(ctx, models.Message{User: "alice", Text: "buy 1 AAPL"})
	require.NoError(t, err)
	second, err := b.Post(ctx, models.Message{User: "GUARDIAN_AI", Text: "ok", Sender: models.SenderOversight})
	require.NoError(t, err)
	assert.Greater(t, second.ID, first.ID)

	msgs, err := b.Messages(ctx)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, models.SenderOversight, msgs[1].Sender)
	assert.Equal(t, "buy 1 AAPL", msgs[0].Text)
}

func TestRedisBus_ConcurrentPostsKeepListInIDOrder(t *testing.T) {
	addr := os.Getenv("GUARDIAN_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("GUARDIAN_TEST_REDIS_ADDR not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	b, err := NewRedisBus(ctx, RedisBusConfig{Addr: addr, Key: "guardian:test:" + t.Name()})
	require.NoError(t, err)
	defer b.Close()
	require.NoError(t, b.Reset(ctx))

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			for j := 0; j < 25; j++ {
				if _, err := b.Post(gctx, models.Message{User: "alice", Text: "tick"}); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	raw, err := b.client.LRange(ctx, b.listKey(), 0, -1).Result()
	require.NoError(t, err)
	require.Len(t, raw, 200)
	var prev int64
	for _, item := range raw {
		var m models.Message
		require.NoError(t, json.Unmarshal([]byte(item), &m))
		assert.Greater(t, m.ID, prev)
		prev = m.ID
	}
}
