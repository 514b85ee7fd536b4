package dispatch

import (
	"context"
	"sync"
)

// Mutex is the per-stream exclusion primitive. Waiters are granted the
// lock in FIFO order of their Acquire calls. It is in-process only: no
// coordination across restarts or replicas is promised here.
type Mutex struct {
	mu      sync.Mutex
	held    bool
	waiters []chan struct{}
}

func NewMutex() *Mutex { return &Mutex{} }

// TryAcquire takes the lock if it is free and reports whether it did.
func (m *Mutex) TryAcquire() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held {
		return false
	}
	m.held = true
	return true
}

// Acquire blocks until the lock is granted or ctx is done.
func (m *Mutex) Acquire(ctx context.Context) error {
	m.mu.Lock()
	if !m.held {
		m.held = true
		m.mu.Unlock()
		return nil
	}
	grant := make(chan struct{})
	m.waiters = append(m.waiters, grant)
	m.mu.Unlock()

	select {
	case <-grant:
		return nil
	case <-ctx.Done():
		m.mu.Lock()
		for i, w := range m.waiters {
			if w == grant {
				m.waiters = append(m.waiters[:i], m.waiters[i+1:]...)
				m.mu.Unlock()
				return ctx.Err()
			}
		}
		m.mu.Unlock()
		// The grant raced with cancellation: ownership was already
		// handed to us, so give it back.
		select {
		case <-grant:
			m.Release()
		default:
		}
		return ctx.Err()
	}
}

// Release hands the lock to the oldest waiter, or frees it.
func (m *Mutex) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.waiters) > 0 {
		grant := m.waiters[0]
		m.waiters = m.waiters[1:]
		close(grant)
		return
	}
	m.held = false
}
