package tiered

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/gopaywall/pkg/paywall"
	"github.com/mihaimyh/gopaywall/pkg/storefront/simulated"
	"github.com/mihaimyh/gopaywall/storage/memory"
)

func TestNew(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		storage, err := New(Config{Hot: memory.New(), Cold: memory.New()})
		assert.NoError(t, err)
		assert.NotNil(t, storage)
	})

	t.Run("nil hot storage", func(t *testing.T) {
		storage, err := New(Config{Cold: memory.New()})
		assert.Error(t, err)
		assert.Nil(t, storage)
		assert.Contains(t, err.Error(), "hot and cold storage are required")
	})

	t.Run("nil cold storage", func(t *testing.T) {
		storage, err := New(Config{Hot: memory.New()})
		assert.Error(t, err)
		assert.Nil(t, storage)
		assert.Contains(t, err.Error(), "hot and cold storage are required")
	})
}

// --- Read-Through Strategy Tests ---

func TestStorage_Load_ReadThrough(t *testing.T) {
	hot := memory.New()
	cold := memory.NewWithRecord(paywall.Record{ConversionsUsed: 4, IsPremium: true})
	storage, _ := New(Config{Hot: hot, Cold: cold})
	ctx := context.Background()

	rec, err := storage.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, paywall.Record{ConversionsUsed: 4, IsPremium: true}, rec)

	// Hot was populated
	hotRec, err := hot.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, rec, hotRec)

	// Subsequent loads are served by Hot
	cold.FailLoad(errors.New("cold down"))
	rec, err = storage.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, rec.ConversionsUsed)
}

func TestStorage_Load_FirstLoadIgnoresStaleHot(t *testing.T) {
	hot := memory.NewWithRecord(paywall.Record{ConversionsUsed: 1})
	cold := memory.NewWithRecord(paywall.Record{ConversionsUsed: 7})
	storage, _ := New(Config{Hot: hot, Cold: cold})

	rec, err := storage.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, rec.ConversionsUsed)
}

func TestStorage_Load_ColdError(t *testing.T) {
	cold := memory.New()
	cold.FailLoad(errors.New("cold down"))
	storage, _ := New(Config{Hot: memory.New(), Cold: cold})

	_, err := storage.Load(context.Background())
	assert.Error(t, err)
}

func TestStorage_Load_HotErrorFallsBackToCold(t *testing.T) {
	hot := memory.New()
	cold := memory.NewWithRecord(paywall.Record{ConversionsUsed: 2})
	var reported []error
	storage, _ := New(Config{Hot: hot, Cold: cold, ErrorHandler: func(err error) { reported = append(reported, err) }})
	ctx := context.Background()

	_, err := storage.Load(ctx)
	require.NoError(t, err)

	hot.FailLoad(errors.New("hot down"))
	rec, err := storage.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, rec.ConversionsUsed)
	assert.NotEmpty(t, reported)
}

// --- Write-Through Strategy Tests ---

func TestStorage_WriteThrough(t *testing.T) {
	hot := memory.New()
	cold := memory.New()
	storage, _ := New(Config{Hot: hot, Cold: cold})
	ctx := context.Background()

	require.NoError(t, storage.SaveConversionsUsed(ctx, 3))
	require.NoError(t, storage.SavePremium(ctx, true))

	for _, store := range []*memory.Storage{hot, cold} {
		rec, err := store.Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, paywall.Record{ConversionsUsed: 3, IsPremium: true}, rec)
	}
}

func TestStorage_WriteThrough_ColdFailureSkipsHot(t *testing.T) {
	hot := memory.New()
	cold := memory.New()
	cold.FailWrites(errors.New("cold down"))
	storage, _ := New(Config{Hot: hot, Cold: cold})

	err := storage.SavePremium(context.Background(), true)
	assert.Error(t, err)
	assert.Zero(t, hot.Writes(), "hot must never lead cold")
}

func TestStorage_WriteThrough_HotFailureInvalidates(t *testing.T) {
	hot := memory.New()
	cold := memory.New()
	var mu sync.Mutex
	var reported []error
	storage, _ := New(Config{Hot: hot, Cold: cold, ErrorHandler: func(err error) {
		mu.Lock()
		reported = append(reported, err)
		mu.Unlock()
	}})
	ctx := context.Background()

	_, err := storage.Load(ctx)
	require.NoError(t, err)

	hot.FailWrites(errors.New("hot down"))
	require.NoError(t, storage.SaveConversionsUsed(ctx, 5))
	hot.FailWrites(nil)

	// The next load goes back to Cold and repairs Hot
	rec, err := storage.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, rec.ConversionsUsed)

	hotRec, err := hot.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, hotRec.ConversionsUsed)

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, reported, 1)
}

func TestStorage_WithManager(t *testing.T) {
	ctx := context.Background()
	cold := memory.NewWithRecord(paywall.Record{ConversionsUsed: 9})
	storage, _ := New(Config{Hot: memory.New(), Cold: cold})

	manager, err := paywall.NewManager(storage, simulated.New(), paywall.Config{})
	require.NoError(t, err)
	assert.Equal(t, 1, manager.RemainingFreeConversions())

	ok, err := manager.UseConversion(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	rec, err := cold.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, rec.ConversionsUsed)
}
