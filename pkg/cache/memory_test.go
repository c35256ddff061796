package cache

import (
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voicelink-backend/pkg/logger"
)

func TestMain(m *testing.M) {
	logger.InitDefault()
	os.Exit(m.Run())
}

func TestMemoryCacheSetGet(t *testing.T) {
	mc := NewMemoryCache(time.Minute, 10)

	mc.Set("key", "value", 0)
	got, ok := mc.Get("key")
	require.True(t, ok)
	assert.Equal(t, "value", got)

	_, ok = mc.Get("missing")
	assert.False(t, ok)
}

func TestMemoryCacheExpiry(t *testing.T) {
	mc := NewMemoryCache(time.Minute, 10)

	mc.Set("key", "value", 10*time.Millisecond)
	time.Sleep(30 * time.Millisecond)

	_, ok := mc.Get("key")
	assert.False(t, ok)
}

func TestMemoryCacheEvictsOldestAtCapacity(t *testing.T) {
	mc := NewMemoryCache(time.Minute, 2)

	mc.Set("first", 1, 0)
	time.Sleep(2 * time.Millisecond)
	mc.Set("second", 2, 0)
	time.Sleep(2 * time.Millisecond)
	mc.Set("third", 3, 0)

	_, ok := mc.Get("first")
	assert.False(t, ok, "oldest entry should be evicted")
	_, ok = mc.Get("third")
	assert.True(t, ok)
	assert.Equal(t, 2, mc.Size())
}

func TestRosterCacheRoundTrip(t *testing.T) {
	rc := NewRosterCache(time.Minute)
	roomID := uuid.New()
	members := []uuid.UUID{uuid.New(), uuid.New()}

	_, ok := rc.GetMembers(roomID)
	require.False(t, ok)

	rc.SetMembers(roomID, members)
	got, ok := rc.GetMembers(roomID)
	require.True(t, ok)
	assert.Equal(t, members, got)

	rc.Invalidate(roomID)
	_, ok = rc.GetMembers(roomID)
	assert.False(t, ok)
}
