package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/gopaywall/pkg/paywall"
)

func TestStorage_LoadDefaults(t *testing.T) {
	rec, err := New().Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, paywall.Record{}, rec)
}

func TestStorage_FieldsAreIndependent(t *testing.T) {
	ctx := context.Background()
	s := New()

	require.NoError(t, s.SaveConversionsUsed(ctx, 4))
	rec, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, paywall.Record{ConversionsUsed: 4}, rec)

	require.NoError(t, s.SavePremium(ctx, true))
	rec, err = s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, paywall.Record{ConversionsUsed: 4, IsPremium: true}, rec)
	assert.Equal(t, 2, s.Writes())
}

func TestStorage_WritesAreIdempotent(t *testing.T) {
	ctx := context.Background()
	s := New()

	require.NoError(t, s.SavePremium(ctx, true))
	require.NoError(t, s.SavePremium(ctx, true))

	rec, err := s.Load(ctx)
	require.NoError(t, err)
	assert.True(t, rec.IsPremium)
}

func TestStorage_InjectedFailures(t *testing.T) {
	ctx := context.Background()
	s := NewWithRecord(paywall.Record{ConversionsUsed: 2})

	s.FailWrites(errors.New("disk full"))
	assert.Error(t, s.SaveConversionsUsed(ctx, 3))
	s.FailLoad(errors.New("corrupt"))
	_, err := s.Load(ctx)
	assert.Error(t, err)

	s.FailLoad(nil)
	s.FailWrites(nil)
	rec, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, rec.ConversionsUsed)
	assert.Equal(t, 0, s.Writes())
}

func TestStorage_Reset(t *testing.T) {
	ctx := context.Background()
	s := NewWithRecord(paywall.Record{ConversionsUsed: 9, IsPremium: true})
	s.Reset()

	rec, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, paywall.Record{}, rec)
}

func TestStorage_ImplementsInterface(t *testing.T) {
	var _ paywall.Store = New()
}
