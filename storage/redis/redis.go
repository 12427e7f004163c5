// Package redis provides a Redis implementation of the paywall.Store interface.
// Writes go through Lua scripts so concurrent or stale writers can never move the
// conversion counter backwards or clear the premium latch.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mihaimyh/gopaywall/pkg/paywall"
)

// Storage implements paywall.Store using a Redis hash per record
type Storage struct {
	client  redis.UniversalClient
	config  Config
	scripts map[string]*redis.Script
}

// Config holds Redis storage configuration
type Config struct {
	// KeyPrefix is prepended to all Redis keys (default: "paywall:")
	KeyPrefix string

	// RecordID selects the record (install or account) this store reads and writes (default: "default")
	RecordID string

	// RecordTTL is the TTL for the record key (0 = no expiration)
	RecordTTL time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		KeyPrefix: "paywall:",
		RecordID:  "default",
		RecordTTL: 0, // Entitlements don't expire
	}
}

// New creates a new Redis storage adapter
// The client can be *redis.Client, *redis.ClusterClient, or *redis.Ring
func New(client redis.UniversalClient, config Config) (*Storage, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}

	// Set defaults
	if config.KeyPrefix == "" {
		config.KeyPrefix = "paywall:"
	}
	if config.RecordID == "" {
		config.RecordID = "default"
	}

	s := &Storage{
		client:  client,
		config:  config,
		scripts: make(map[string]*redis.Script),
	}

	// Load Lua scripts
	s.loadScripts()

	return s, nil
}

// loadScripts loads and compiles Lua scripts for atomic operations
func (s *Storage) loadScripts() {
	// Store the counter unless a larger value is already persisted
	s.scripts["conversions"] = redis.NewScript(`
		local key = KEYS[1]
		local used = tonumber(ARGV[1])
		local now = ARGV[2]
		local ttl = tonumber(ARGV[3])

		local current = tonumber(redis.call('HGET', key, 'conversions_used') or '0')
		if used > current then
			redis.call('HSET', key, 'conversions_used', used)
		end
		redis.call('HSET', key, 'updated_at', now)

		if ttl > 0 then
			redis.call('EXPIRE', key, ttl)
		end

		return math.max(used, current)
	`)

	// Latch premium: true always wins, false only initializes a missing field
	s.scripts["premium"] = redis.NewScript(`
		local key = KEYS[1]
		local premium = ARGV[1]
		local now = ARGV[2]
		local ttl = tonumber(ARGV[3])

		if premium == '1' then
			redis.call('HSET', key, 'is_premium', '1')
		else
			redis.call('HSETNX', key, 'is_premium', '0')
		end
		redis.call('HSET', key, 'updated_at', now)

		if ttl > 0 then
			redis.call('EXPIRE', key, ttl)
		end

		return redis.call('HGET', key, 'is_premium')
	`)
}

// Load implements paywall.Store. A missing key is a fresh install.
func (s *Storage) Load(ctx context.Context) (paywall.Record, error) {
	values, err := s.client.HMGet(ctx, s.recordKey(),
		string(paywall.FieldConversionsUsed), string(paywall.FieldIsPremium)).Result()
	if err != nil {
		return paywall.Record{}, fmt.Errorf("failed to load record: %w", err)
	}

	var rec paywall.Record
	if raw, ok := values[0].(string); ok {
		used, err := strconv.Atoi(raw)
		if err != nil {
			return paywall.Record{}, fmt.Errorf("invalid %s value %q: %w", paywall.FieldConversionsUsed, raw, err)
		}
		rec.ConversionsUsed = used
	}
	if raw, ok := values[1].(string); ok {
		rec.IsPremium = raw == "1"
	}
	return rec, nil
}

// SaveConversionsUsed implements paywall.Store
func (s *Storage) SaveConversionsUsed(ctx context.Context, used int) error {
	err := s.scripts["conversions"].Run(ctx, s.client, []string{s.recordKey()},
		used, time.Now().UTC().Unix(), s.ttlSeconds()).Err()
	if err != nil {
		return fmt.Errorf("failed to save conversions: %w", err)
	}
	return nil
}

// SavePremium implements paywall.Store
func (s *Storage) SavePremium(ctx context.Context, premium bool) error {
	flag := "0"
	if premium {
		flag = "1"
	}
	err := s.scripts["premium"].Run(ctx, s.client, []string{s.recordKey()},
		flag, time.Now().UTC().Unix(), s.ttlSeconds()).Err()
	if err != nil {
		return fmt.Errorf("failed to save premium: %w", err)
	}
	return nil
}

// UpdatedAt returns when the record was last written, or the zero time if never
func (s *Storage) UpdatedAt(ctx context.Context) (time.Time, error) {
	raw, err := s.client.HGet(ctx, s.recordKey(), "updated_at").Result()
	if err == redis.Nil {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read updated_at: %w", err)
	}
	secs, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid updated_at %q: %w", raw, err)
	}
	return time.Unix(secs, 0).UTC(), nil
}

func (s *Storage) recordKey() string {
	return fmt.Sprintf("%srecord:%s", s.config.KeyPrefix, s.config.RecordID)
}

func (s *Storage) ttlSeconds() int64 {
	return int64(s.config.RecordTTL / time.Second)
}

// Close closes the Redis client connection
func (s *Storage) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable
func (s *Storage) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
