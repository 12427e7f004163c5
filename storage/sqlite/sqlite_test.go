package sqlite

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/gopaywall/pkg/paywall"
)

func newTestStorage(t *testing.T, path string) *Storage {
	t.Helper()
	if path == "" {
		path = filepath.Join(t.TempDir(), "paywall.db")
	}
	s, err := New(context.Background(), Config{Path: path})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestNew_RequiresPath(t *testing.T) {
	_, err := New(context.Background(), Config{})
	assert.Error(t, err)
}

func TestStorage_FreshInstall(t *testing.T) {
	s := newTestStorage(t, "")

	rec, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, paywall.Record{}, rec)

	updated, err := s.UpdatedAt(context.Background())
	require.NoError(t, err)
	assert.True(t, updated.IsZero())
}

func TestStorage_SaveAndLoad(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t, "")

	require.NoError(t, s.SaveConversionsUsed(ctx, 4))
	require.NoError(t, s.SavePremium(ctx, true))

	rec, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, paywall.Record{ConversionsUsed: 4, IsPremium: true}, rec)

	updated, err := s.UpdatedAt(ctx)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), updated, time.Minute)
}

func TestStorage_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "paywall.db")

	first, err := New(ctx, Config{Path: path})
	require.NoError(t, err)
	require.NoError(t, first.SaveConversionsUsed(ctx, 9))
	require.NoError(t, first.Close())

	second := newTestStorage(t, path)
	rec, err := second.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 9, rec.ConversionsUsed)
	assert.False(t, rec.IsPremium)
}

func TestStorage_CounterNeverMovesBackwards(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t, "")

	require.NoError(t, s.SaveConversionsUsed(ctx, 10))
	require.NoError(t, s.SaveConversionsUsed(ctx, 2))

	rec, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, rec.ConversionsUsed)
}

func TestStorage_PremiumLatch(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t, "")

	require.NoError(t, s.SavePremium(ctx, false))
	rec, err := s.Load(ctx)
	require.NoError(t, err)
	assert.False(t, rec.IsPremium)

	require.NoError(t, s.SavePremium(ctx, true))
	require.NoError(t, s.SavePremium(ctx, false))
	rec, err = s.Load(ctx)
	require.NoError(t, err)
	assert.True(t, rec.IsPremium)
}

func TestStorage_RecordsAreIsolated(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "shared.db")

	a, err := New(ctx, Config{Path: path, RecordID: "install-a"})
	require.NoError(t, err)
	defer a.Close()
	b, err := New(ctx, Config{Path: path, RecordID: "install-b"})
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, a.SavePremium(ctx, true))
	require.NoError(t, a.SaveConversionsUsed(ctx, 3))

	rec, err := b.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, paywall.Record{}, rec)
}

func TestStorage_ConcurrentWriters(t *testing.T) {
	ctx := context.Background()
	s := newTestStorage(t, "")

	var wg sync.WaitGroup
	for i := 1; i <= 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			assert.NoError(t, s.SaveConversionsUsed(ctx, n))
		}(i)
	}
	wg.Wait()

	rec, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 20, rec.ConversionsUsed)
}

func TestStorage_ExhaustedQuotaPersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "paywall.db")
	s := newTestStorage(t, path)

	var _ paywall.Store = s
	require.NoError(t, s.SaveConversionsUsed(ctx, paywall.DefaultFreeConversionsLimit))

	rec, err := s.Load(ctx)
	require.NoError(t, err)
	assert.False(t, paywall.CanConvert(rec.IsPremium, rec.ConversionsUsed, paywall.DefaultFreeConversionsLimit))
}
