// Package idempotency remembers which message ids a consumer already
// processed so redeliveries can be skipped within a time window.
package idempotency

import (
	"container/list"
	"context"
	"sync"
	"time"
)

type Store interface {
	// Seen reports whether id was marked within the window.
	Seen(ctx context.Context, id string) (bool, error)
	// Mark records id as processed.
	Mark(ctx context.Context, id string) error
	Size(ctx context.Context) (int, error)
}

type memoryEntry struct {
	id     string
	markAt time.Time
}

// MemoryStore keeps ids in mark order so one periodic sweep can expire them
// from the front.
type MemoryStore struct {
	mu     sync.Mutex
	window time.Duration
	order  *list.List
	index  map[string]*list.Element
	now    func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

func NewMemoryStore(window, sweepInterval time.Duration) *MemoryStore {
	ctx, cancel := context.WithCancel(context.Background())
	s := &MemoryStore{
		window: window,
		order:  list.New(),
		index:  make(map[string]*list.Element),
		now:    time.Now,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	if sweepInterval <= 0 {
		sweepInterval = time.Minute
	}
	go s.sweepLoop(ctx, sweepInterval)

	return s
}

func (s *MemoryStore) Seen(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.index[id]
	if !ok {
		return false, nil
	}
	return s.now().Sub(el.Value.(*memoryEntry).markAt) < s.window, nil
}

func (s *MemoryStore) Mark(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.index[id]; ok {
		el.Value.(*memoryEntry).markAt = s.now()
		s.order.MoveToBack(el)
		return nil
	}
	s.index[id] = s.order.PushBack(&memoryEntry{id: id, markAt: s.now()})
	return nil
}

func (s *MemoryStore) Size(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.index), nil
}

// Sweep drops expired ids and returns how many were removed.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-s.window)
	removed := 0
	for el := s.order.Front(); el != nil; el = s.order.Front() {
		entry := el.Value.(*memoryEntry)
		if entry.markAt.After(cutoff) {
			break
		}
		s.order.Remove(el)
		delete(s.index, entry.id)
		removed++
	}
	return removed
}

func (s *MemoryStore) Close() error {
	s.cancel()
	<-s.done
	return nil
}

func (s *MemoryStore) sweepLoop(ctx context.Context, interval time.Duration) {
	defer close(s.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}
