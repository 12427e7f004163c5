package storefront

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/gopaywall/pkg/paywall"
)

func receive(t *testing.T, ch <-chan paywall.VerificationResult) paywall.VerificationResult {
	t.Helper()
	select {
	case res, ok := <-ch:
		require.True(t, ok, "feed closed")
		return res
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for update")
		return paywall.VerificationResult{}
	}
}

func TestFeed_DeliversQueuedUpdates(t *testing.T) {
	feed := NewFeed(4)
	ctx := context.Background()

	require.NoError(t, feed.Push(ctx, paywall.Verified(paywall.Transaction{ID: "tx-1"})))
	assert.Equal(t, 1, feed.Pending())

	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	updates := feed.Subscribe(subCtx)

	assert.Equal(t, "tx-1", receive(t, updates).Transaction.ID)

	require.NoError(t, feed.Push(ctx, paywall.Unverified(paywall.Transaction{ID: "tx-2"}, "bad signature")))
	res := receive(t, updates)
	assert.False(t, res.Verified)
	assert.Equal(t, "bad signature", res.Reason)
}

func TestFeed_ClosesOnCancel(t *testing.T) {
	feed := NewFeed(1)
	ctx, cancel := context.WithCancel(context.Background())
	updates := feed.Subscribe(ctx)

	cancel()

	select {
	case _, ok := <-updates:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("feed not closed after cancel")
	}
}

func TestFeed_NewSubscriptionReplacesOld(t *testing.T) {
	feed := NewFeed(1)
	ctx := context.Background()

	first := feed.Subscribe(ctx)
	second := feed.Subscribe(ctx)

	select {
	case _, ok := <-first:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("first subscription not closed")
	}

	require.NoError(t, feed.Push(ctx, paywall.Verified(paywall.Transaction{ID: "tx-3"})))
	assert.Equal(t, "tx-3", receive(t, second).Transaction.ID)
}

func TestFeed_PushRespectsContext(t *testing.T) {
	feed := NewFeed(1)
	require.NoError(t, feed.Push(context.Background(), paywall.Verified(paywall.Transaction{ID: "a"})))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := feed.Push(ctx, paywall.Verified(paywall.Transaction{ID: "b"}))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFeed_OfferKeepsRoomForPush(t *testing.T) {
	feed := NewFeed(4)

	assert.True(t, feed.Offer(paywall.Unverified(paywall.Transaction{ID: "forged-1"}, "bad signature")))
	assert.True(t, feed.Offer(paywall.Unverified(paywall.Transaction{ID: "forged-2"}, "bad signature")))
	assert.False(t, feed.Offer(paywall.Unverified(paywall.Transaction{ID: "forged-3"}, "bad signature")))
	assert.Equal(t, 2, feed.Pending())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, feed.Push(ctx, paywall.Verified(paywall.Transaction{ID: "tx-1"})))
	require.NoError(t, feed.Push(ctx, paywall.Verified(paywall.Transaction{ID: "tx-2"})))
	assert.Equal(t, 4, feed.Pending())
}
