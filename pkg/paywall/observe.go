package paywall

// Subscribe returns a channel that receives the latest Snapshot after every
// mutating operation, and a function that ends the subscription.
// Delivery is latest-wins: a slow reader skips intermediate snapshots.
func (m *Manager) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)
	ch <- m.Snapshot()

	m.obsMu.Lock()
	id := m.nextObs
	m.nextObs++
	m.observers[id] = ch
	m.obsMu.Unlock()

	var unsubscribed bool
	return ch, func() {
		m.obsMu.Lock()
		defer m.obsMu.Unlock()
		if unsubscribed {
			return
		}
		unsubscribed = true
		delete(m.observers, id)
		close(ch)
	}
}

func (m *Manager) notify() {
	snap := m.Snapshot()

	m.obsMu.Lock()
	defer m.obsMu.Unlock()
	for _, ch := range m.observers {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}
