// Package tiered provides a Hot/Cold tiered storage adapter that pairs a fast store
// (Hot, e.g. Redis or memory) with a durable one (Cold, e.g. Postgres, Firestore or SQLite).
package tiered

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mihaimyh/gopaywall/pkg/paywall"
)

// Config configures the tiered storage behavior
type Config struct {
	// Hot is the L1 cache storage (e.g., Redis, Memory)
	Hot paywall.Store

	// Cold is the L2 persistence storage (e.g., Postgres, Firestore) as the source of truth
	Cold paywall.Store

	// ErrorHandler is called when a Hot read or write fails after Cold succeeded.
	// Essential for monitoring consistency drift.
	ErrorHandler func(error)
}

// Storage implements paywall.Store with two strategies:
// - Read-Through: Load (Hot → Cold → populate Hot)
// - Write-Through: SaveConversionsUsed, SavePremium (Cold → Hot)
type Storage struct {
	hot  paywall.Store
	cold paywall.Store
	conf Config

	mu       sync.Mutex
	hydrated bool
}

// New creates a new tiered storage adapter.
func New(config Config) (*Storage, error) {
	if config.Hot == nil || config.Cold == nil {
		return nil, errors.New("tiered storage: both hot and cold storage are required")
	}
	return &Storage{
		hot:  config.Hot,
		cold: config.Cold,
		conf: config,
	}, nil
}

// --- Strategy: Read-Through (Hot → Cold → Populate Hot) ---

// Load implements paywall.Store with read-through strategy.
// The first load of a process always consults Cold: an empty Hot record is
// indistinguishable from a missing one.
func (s *Storage) Load(ctx context.Context) (paywall.Record, error) {
	s.mu.Lock()
	hydrated := s.hydrated
	s.mu.Unlock()

	// 1. Try Hot
	if hydrated {
		rec, err := s.hot.Load(ctx)
		if err == nil {
			return rec, nil
		}
		s.report(fmt.Errorf("tiered storage: hot load failed: %w", err))
	}

	// 2. Try Cold (Source of Truth)
	rec, err := s.cold.Load(ctx)
	if err != nil {
		return paywall.Record{}, err
	}

	// 3. Populate Hot (Read-Repair)
	if err := s.populate(ctx, rec); err != nil {
		s.report(fmt.Errorf("tiered storage: hot fill failed: %w", err))
		return rec, nil
	}
	s.mu.Lock()
	s.hydrated = true
	s.mu.Unlock()

	return rec, nil
}

func (s *Storage) populate(ctx context.Context, rec paywall.Record) error {
	if err := s.hot.SaveConversionsUsed(ctx, rec.ConversionsUsed); err != nil {
		return err
	}
	return s.hot.SavePremium(ctx, rec.IsPremium)
}

// --- Strategy: Write-Through (Cold → Hot) ---
// The entitlement must be durable first.

// SaveConversionsUsed implements paywall.Store with write-through strategy.
func (s *Storage) SaveConversionsUsed(ctx context.Context, used int) error {
	// 1. Write Cold (Durability)
	if err := s.cold.SaveConversionsUsed(ctx, used); err != nil {
		return err
	}
	// 2. Write Hot (Availability); Cold already holds the truth
	if err := s.hot.SaveConversionsUsed(ctx, used); err != nil {
		s.invalidate(fmt.Errorf("tiered storage: hot write failed: %w", err))
	}
	return nil
}

// SavePremium implements paywall.Store with write-through strategy.
func (s *Storage) SavePremium(ctx context.Context, premium bool) error {
	// 1. Write Cold (Durability)
	if err := s.cold.SavePremium(ctx, premium); err != nil {
		return err
	}
	// 2. Write Hot (Availability)
	if err := s.hot.SavePremium(ctx, premium); err != nil {
		s.invalidate(fmt.Errorf("tiered storage: hot write failed: %w", err))
	}
	return nil
}

// invalidate forces the next Load back to Cold after Hot missed a write
func (s *Storage) invalidate(err error) {
	s.mu.Lock()
	s.hydrated = false
	s.mu.Unlock()
	s.report(err)
}

func (s *Storage) report(err error) {
	if s.conf.ErrorHandler != nil {
		s.conf.ErrorHandler(err)
	}
}
