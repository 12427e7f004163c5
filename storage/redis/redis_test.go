package redis

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mihaimyh/gopaywall/pkg/paywall"
)

// setupTestRedis creates a Redis client for testing
// Requires Redis running on localhost:6379
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // Use DB 15 for testing
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}

	// Clear test database
	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush test database: %v", err)
	}

	return client
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		client  redis.UniversalClient
		config  Config
		wantErr bool
	}{
		{
			name:    "nil client",
			client:  nil,
			config:  DefaultConfig(),
			wantErr: true,
		},
		{
			name:    "valid client with default config",
			client:  redis.NewClient(&redis.Options{Addr: "localhost:6379"}),
			config:  DefaultConfig(),
			wantErr: false,
		},
		{
			name:   "empty config uses defaults",
			client: redis.NewClient(&redis.Options{Addr: "localhost:6379"}),
			config: Config{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			storage, err := New(tt.client, tt.config)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr {
				if storage == nil {
					t.Error("New() returned nil storage")
					return
				}
				if storage.config.KeyPrefix == "" {
					t.Error("KeyPrefix should not be empty")
				}
				if storage.config.RecordID == "" {
					t.Error("RecordID should not be empty")
				}
			}
		})
	}
}

func TestStorage_RecordKey(t *testing.T) {
	storage, err := New(redis.NewClient(&redis.Options{Addr: "localhost:6379"}), Config{KeyPrefix: "test:", RecordID: "install-42"})
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	if got := storage.recordKey(); got != "test:record:install-42" {
		t.Errorf("recordKey() = %s, want test:record:install-42", got)
	}
}

func TestStorage_LoadFreshInstall(t *testing.T) {
	client := setupTestRedis(t)
	defer client.Close()

	storage, err := New(client, DefaultConfig())
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}

	rec, err := storage.Load(context.Background())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if rec != (paywall.Record{}) {
		t.Errorf("Expected empty record, got %+v", rec)
	}
}

func TestStorage_SaveAndLoad(t *testing.T) {
	client := setupTestRedis(t)
	defer client.Close()

	storage, err := New(client, DefaultConfig())
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	ctx := context.Background()

	if err := storage.SaveConversionsUsed(ctx, 3); err != nil {
		t.Fatalf("SaveConversionsUsed failed: %v", err)
	}
	if err := storage.SavePremium(ctx, true); err != nil {
		t.Fatalf("SavePremium failed: %v", err)
	}

	rec, err := storage.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if rec.ConversionsUsed != 3 {
		t.Errorf("ConversionsUsed = %d, want 3", rec.ConversionsUsed)
	}
	if !rec.IsPremium {
		t.Error("Expected premium record")
	}

	updated, err := storage.UpdatedAt(ctx)
	if err != nil {
		t.Fatalf("UpdatedAt failed: %v", err)
	}
	if time.Since(updated) > time.Minute {
		t.Errorf("UpdatedAt too old: %v", updated)
	}
}

func TestStorage_CounterNeverMovesBackwards(t *testing.T) {
	client := setupTestRedis(t)
	defer client.Close()

	storage, err := New(client, DefaultConfig())
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	ctx := context.Background()

	if err := storage.SaveConversionsUsed(ctx, 7); err != nil {
		t.Fatalf("SaveConversionsUsed failed: %v", err)
	}
	// A stale writer still holding 5
	if err := storage.SaveConversionsUsed(ctx, 5); err != nil {
		t.Fatalf("SaveConversionsUsed failed: %v", err)
	}

	rec, err := storage.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if rec.ConversionsUsed != 7 {
		t.Errorf("ConversionsUsed = %d, want 7", rec.ConversionsUsed)
	}
}

func TestStorage_PremiumLatch(t *testing.T) {
	client := setupTestRedis(t)
	defer client.Close()

	storage, err := New(client, DefaultConfig())
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	ctx := context.Background()

	if err := storage.SavePremium(ctx, false); err != nil {
		t.Fatalf("SavePremium(false) failed: %v", err)
	}
	if err := storage.SavePremium(ctx, true); err != nil {
		t.Fatalf("SavePremium(true) failed: %v", err)
	}
	if err := storage.SavePremium(ctx, false); err != nil {
		t.Fatalf("SavePremium(false) failed: %v", err)
	}

	rec, err := storage.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !rec.IsPremium {
		t.Error("Premium must survive a later false write")
	}
}

func TestStorage_ConcurrentWriters(t *testing.T) {
	client := setupTestRedis(t)
	defer client.Close()

	storage, err := New(client, DefaultConfig())
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 1; i <= 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if err := storage.SaveConversionsUsed(ctx, n); err != nil {
				t.Errorf("SaveConversionsUsed(%d) failed: %v", n, err)
			}
		}(i)
	}
	wg.Wait()

	rec, err := storage.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if rec.ConversionsUsed != 20 {
		t.Errorf("ConversionsUsed = %d, want 20", rec.ConversionsUsed)
	}
}

func TestStorage_RecordsAreIsolated(t *testing.T) {
	client := setupTestRedis(t)
	defer client.Close()

	first, _ := New(client, Config{RecordID: "install-1"})
	second, _ := New(client, Config{RecordID: "install-2"})
	ctx := context.Background()

	if err := first.SavePremium(ctx, true); err != nil {
		t.Fatalf("SavePremium failed: %v", err)
	}

	rec, err := second.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if rec.IsPremium {
		t.Error("Premium leaked into another record")
	}
}

func TestStorage_ImplementsStore(t *testing.T) {
	var _ paywall.Store = (*Storage)(nil)
}
