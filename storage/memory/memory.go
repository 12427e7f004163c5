// Package memory provides an in-memory implementation of the paywall.Store interface.
// This implementation is primarily intended for testing and development.
package memory

import (
	"context"
	"sync"

	"github.com/mihaimyh/gopaywall/pkg/paywall"
)

// Storage implements paywall.Store using an in-memory field map
type Storage struct {
	mu     sync.RWMutex
	fields map[paywall.Field]interface{}
	writes int

	loadErr  error
	writeErr error
}

// New creates a new in-memory store holding an empty record
func New() *Storage {
	return &Storage{
		fields: make(map[paywall.Field]interface{}),
	}
}

// NewWithRecord creates a store pre-populated with rec
func NewWithRecord(rec paywall.Record) *Storage {
	s := New()
	s.fields[paywall.FieldConversionsUsed] = rec.ConversionsUsed
	s.fields[paywall.FieldIsPremium] = rec.IsPremium
	return s
}

// Load implements paywall.Store
func (s *Storage) Load(ctx context.Context) (paywall.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.loadErr != nil {
		return paywall.Record{}, s.loadErr
	}

	var rec paywall.Record
	if used, ok := s.fields[paywall.FieldConversionsUsed].(int); ok {
		rec.ConversionsUsed = used
	}
	if premium, ok := s.fields[paywall.FieldIsPremium].(bool); ok {
		rec.IsPremium = premium
	}
	return rec, nil
}

// SaveConversionsUsed implements paywall.Store
func (s *Storage) SaveConversionsUsed(ctx context.Context, used int) error {
	return s.set(paywall.FieldConversionsUsed, used)
}

// SavePremium implements paywall.Store
func (s *Storage) SavePremium(ctx context.Context, premium bool) error {
	return s.set(paywall.FieldIsPremium, premium)
}

func (s *Storage) set(field paywall.Field, value interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.writeErr != nil {
		return s.writeErr
	}
	s.fields[field] = value
	s.writes++
	return nil
}

// FailLoad makes Load return err; nil clears it
func (s *Storage) FailLoad(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loadErr = err
}

// FailWrites makes every write return err; nil clears it
func (s *Storage) FailWrites(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeErr = err
}

// Writes returns the number of successful writes
func (s *Storage) Writes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes
}

// Reset clears the record, as if the app were freshly installed
func (s *Storage) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fields = make(map[paywall.Field]interface{})
}
