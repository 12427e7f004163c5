// Package firestore provides a Firestore implementation of the paywall.Store interface.
// Each record is one document; writes run in transactions so the counter never moves
// backwards and premium is never cleared.
package firestore

import (
	"context"
	"fmt"
	"math"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/mihaimyh/gopaywall/pkg/paywall"
)

// Storage implements paywall.Store using Google Cloud Firestore
type Storage struct {
	client     *firestore.Client
	collection string
	recordID   string
}

// Config holds Firestore storage configuration
type Config struct {
	// Collection is the Firestore collection for entitlement records
	// Default: "paywall_records"
	Collection string

	// RecordID is the document id of the record this store reads and writes
	// Default: "default"
	RecordID string
}

// New creates a new Firestore storage adapter
func New(client *firestore.Client, config Config) (*Storage, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client is required")
	}

	// Set defaults
	if config.Collection == "" {
		config.Collection = "paywall_records"
	}
	if config.RecordID == "" {
		config.RecordID = "default"
	}

	return &Storage{
		client:     client,
		collection: config.Collection,
		recordID:   config.RecordID,
	}, nil
}

func (s *Storage) doc() *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(s.recordID)
}

// Load implements paywall.Store. A missing document is a fresh install.
func (s *Storage) Load(ctx context.Context) (paywall.Record, error) {
	snap, err := s.doc().Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return paywall.Record{}, nil
		}
		return paywall.Record{}, fmt.Errorf("failed to load record: %w", err)
	}
	if !snap.Exists() {
		return paywall.Record{}, nil
	}
	return recordFromData(snap.Data()), nil
}

// SaveConversionsUsed implements paywall.Store
func (s *Storage) SaveConversionsUsed(ctx context.Context, used int) error {
	doc := s.doc()
	err := s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		current, err := currentRecord(tx, doc)
		if err != nil {
			return err
		}
		if used < current.ConversionsUsed {
			used = current.ConversionsUsed
		}
		return tx.Set(doc, map[string]interface{}{
			string(paywall.FieldConversionsUsed): used,
			"updated_at":                         time.Now().UTC(),
		}, firestore.MergeAll)
	})
	if err != nil {
		return fmt.Errorf("failed to save conversions: %w", err)
	}
	return nil
}

// SavePremium implements paywall.Store
func (s *Storage) SavePremium(ctx context.Context, premium bool) error {
	doc := s.doc()
	err := s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		current, err := currentRecord(tx, doc)
		if err != nil {
			return err
		}
		return tx.Set(doc, map[string]interface{}{
			string(paywall.FieldIsPremium): premium || current.IsPremium,
			"updated_at":                   time.Now().UTC(),
		}, firestore.MergeAll)
	})
	if err != nil {
		return fmt.Errorf("failed to save premium: %w", err)
	}
	return nil
}

// UpdatedAt returns when the record was last written, or the zero time if never
func (s *Storage) UpdatedAt(ctx context.Context) (time.Time, error) {
	snap, err := s.doc().Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("failed to read updated_at: %w", err)
	}
	return getTime(snap.Data(), "updated_at"), nil
}

func currentRecord(tx *firestore.Transaction, doc *firestore.DocumentRef) (paywall.Record, error) {
	snap, err := tx.Get(doc)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return paywall.Record{}, nil
		}
		return paywall.Record{}, err
	}
	if !snap.Exists() {
		return paywall.Record{}, nil
	}
	return recordFromData(snap.Data()), nil
}

func recordFromData(data map[string]interface{}) paywall.Record {
	premium, _ := data[string(paywall.FieldIsPremium)].(bool)
	return paywall.Record{
		ConversionsUsed: getInt(data, string(paywall.FieldConversionsUsed)),
		IsPremium:       premium,
	}
}

// Helper functions for extracting typed values from Firestore data

func getInt(data map[string]interface{}, key string) int {
	switch v := data[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(math.Round(v))
	default:
		return 0
	}
}

func getTime(data map[string]interface{}, key string) time.Time {
	if v, ok := data[key].(time.Time); ok {
		return v
	}
	return time.Time{}
}
