package storefront

import (
	"context"
	"sync"

	"github.com/mihaimyh/gopaywall/pkg/paywall"
)

// Feed queues transaction updates produced by webhooks until the Manager consumes them.
// It supports one live subscription; subscribing again replaces the previous one.
type Feed struct {
	queue chan paywall.VerificationResult

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewFeed creates a feed holding up to buffer undelivered updates
func NewFeed(buffer int) *Feed {
	if buffer <= 0 {
		buffer = 64
	}
	return &Feed{queue: make(chan paywall.VerificationResult, buffer)}
}

// Push enqueues an update, blocking while the queue is full until ctx is done
func (f *Feed) Push(ctx context.Context, res paywall.VerificationResult) error {
	select {
	case f.queue <- res:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Offer enqueues an update without blocking. It refuses once the queue is half full,
// so unauthenticated traffic can never take the room verified updates need.
func (f *Feed) Offer(res paywall.VerificationResult) bool {
	if cap(f.queue) > 1 && len(f.queue) >= cap(f.queue)/2 {
		return false
	}
	select {
	case f.queue <- res:
		return true
	default:
		return false
	}
}

// Subscribe returns a channel delivering queued and future updates.
// The channel is closed when ctx is cancelled or a newer subscription starts.
func (f *Feed) Subscribe(ctx context.Context) <-chan paywall.VerificationResult {
	ctx, cancel := context.WithCancel(ctx)

	f.mu.Lock()
	if f.cancel != nil {
		f.cancel()
	}
	f.cancel = cancel
	f.mu.Unlock()

	out := make(chan paywall.VerificationResult)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case res := <-f.queue:
				select {
				case out <- res:
				case <-ctx.Done():
					f.requeue(res)
					return
				}
			}
		}
	}()
	return out
}

func (f *Feed) requeue(res paywall.VerificationResult) {
	select {
	case f.queue <- res:
	default:
	}
}

// Pending returns the number of queued updates not yet delivered
func (f *Feed) Pending() int {
	return len(f.queue)
}
