package paywall

import (
	"context"
	"sync"
	"time"
)

// Listener is the handle for the background work started by Manager.Start.
type Listener struct {
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once
	timeout time.Duration
	logger  Logger
}

// Start launches the transaction feed listener and the bootstrap task
// (load products, then reconcile current entitlements). Call Stop on the
// returned Listener at shutdown.
func (m *Manager) Start(ctx context.Context) *Listener {
	ctx, cancel := context.WithCancel(ctx)
	l := &Listener{
		cancel:  cancel,
		done:    make(chan struct{}),
		timeout: m.config.ShutdownTimeout,
		logger:  m.logger,
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		m.listen(ctx)
	}()
	go func() {
		defer wg.Done()
		m.bootstrap(ctx)
	}()
	go func() {
		wg.Wait()
		close(l.done)
	}()

	return l
}

func (m *Manager) bootstrap(ctx context.Context) {
	m.LoadProducts(ctx)
	if ctx.Err() != nil {
		return
	}
	if _, err := m.reconcile(ctx); err != nil {
		m.logger.Warn("startup reconciliation failed", F("error", err))
	}
}

// Stop cancels the feed subscription and waits for in-flight work, up to the
// configured shutdown timeout. It is safe to call more than once.
func (l *Listener) Stop() {
	l.once.Do(func() {
		l.cancel()
		timer := time.NewTimer(l.timeout)
		defer timer.Stop()
		select {
		case <-l.done:
		case <-timer.C:
			l.logger.Warn("listener did not stop in time", F("timeout", l.timeout.String()))
		}
	})
}

// Done is closed once all background work has returned.
func (l *Listener) Done() <-chan struct{} {
	return l.done
}
