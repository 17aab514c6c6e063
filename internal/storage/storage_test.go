package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vtuber-backend/internal/config"
	"vtuber-backend/internal/model"
)

func turn(role, content string) model.Message {
	return model.Message{Role: role, Content: content, Timestamp: time.Unix(1700000000, 0).UTC()}
}

func exerciseStore(t *testing.T, store HistoryStore) {
	t.Helper()
	ctx := context.Background()

	empty, err := store.Recent(ctx, "shizuku-001", 10)
	require.NoError(t, err)
	assert.Empty(t, empty)

	require.NoError(t, store.Append(ctx, "shizuku-001",
		turn(model.RoleUser, "q1"), turn(model.RoleAssistant, "a1")))
	require.NoError(t, store.Append(ctx, "shizuku-001",
		turn(model.RoleUser, "q2"), turn(model.RoleAssistant, "a2")))
	require.NoError(t, store.Append(ctx, "other", turn(model.RoleUser, "elsewhere")))

	// maxMessages is 3 for every store under test.
	all, err := store.Recent(ctx, "shizuku-001", 0)
	require.NoError(t, err)
	assert.Equal(t, []model.Message{
		turn(model.RoleAssistant, "a1"),
		turn(model.RoleUser, "q2"),
		turn(model.RoleAssistant, "a2"),
	}, all)

	last, err := store.Recent(ctx, "shizuku-001", 1)
	require.NoError(t, err)
	assert.Equal(t, []model.Message{turn(model.RoleAssistant, "a2")}, last)

	require.NoError(t, store.Clear(ctx, "shizuku-001"))
	cleared, err := store.Recent(ctx, "shizuku-001", 0)
	require.NoError(t, err)
	assert.Empty(t, cleared)

	other, err := store.Recent(ctx, "other", 0)
	require.NoError(t, err)
	assert.Len(t, other, 1)

	assert.ErrorIs(t, store.Append(ctx, "../escape", turn(model.RoleUser, "x")), ErrInvalidKey)
}

func TestMemoryStorage(t *testing.T) {
	t.Parallel()

	store := NewMemoryStorage(3)
	require.NoError(t, store.Init())
	exerciseStore(t, store)
}

func TestDiskStorage(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store := NewDiskStorage(dir, 1, 3)
	require.NoError(t, store.Init())
	exerciseStore(t, store)

	_, err := os.Stat(filepath.Join(dir, "history", "other.json"))
	assert.NoError(t, err)
}

func TestDiskStorageSurvivesRestart(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ctx := context.Background()

	first := NewDiskStorage(dir, 10, 0)
	require.NoError(t, first.Init())
	require.NoError(t, first.Append(ctx, "mao", turn(model.RoleUser, "remember me")))
	require.NoError(t, first.Close())

	second := NewDiskStorage(dir, 10, 0)
	require.NoError(t, second.Init())
	got, err := second.Recent(ctx, "mao", 0)
	require.NoError(t, err)
	assert.Equal(t, []model.Message{turn(model.RoleUser, "remember me")}, got)
}

func TestDiskStorageClearResetsCacheOrder(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewDiskStorage(t.TempDir(), 2, 0)
	require.NoError(t, store.Init())

	require.NoError(t, store.Append(ctx, "a", turn(model.RoleUser, "one")))
	require.NoError(t, store.Append(ctx, "b", turn(model.RoleUser, "two")))
	require.NoError(t, store.Clear(ctx, "a"))
	require.NoError(t, store.Append(ctx, "a", turn(model.RoleUser, "three")))

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Equal(t, []string{"b", "a"}, store.order)
	assert.Contains(t, store.cache, "a")
	assert.Contains(t, store.cache, "b")
}

func TestDiskStorageCorruptFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store := NewDiskStorage(dir, 10, 0)
	require.NoError(t, store.Init())
	require.NoError(t, os.WriteFile(filepath.Join(dir, "history", "bad.json"), []byte("{"), 0644))

	_, err := store.Recent(context.Background(), "bad", 0)
	assert.ErrorIs(t, err, ErrInvalidData)
}

func TestRedisStorageInitFailure(t *testing.T) {
	t.Parallel()

	store := NewRedisStorage(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 200 * time.Millisecond}, time.Hour, 10)
	defer store.Close()

	assert.ErrorIs(t, store.Init(), ErrStorageInit)
}

func TestNewFallsBackToMemory(t *testing.T) {
	t.Parallel()

	store := New(config.StorageConfig{Type: "redis", RedisAddr: "127.0.0.1:1"}, 10)
	_, ok := store.(*MemoryStorage)
	assert.True(t, ok)

	store = New(config.StorageConfig{Type: "disk", DataDir: t.TempDir()}, 10)
	_, ok = store.(*DiskStorage)
	assert.True(t, ok)
}
