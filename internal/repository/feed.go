package repository

import (
	"context"
	"sync"

	"shukku-list-backend/internal/models"
)

// feed fans pair snapshots out to subscribers. Published pairs are shared
// between subscribers and must be treated as read-only.
type feed struct {
	mu   sync.Mutex
	subs map[string]map[*subscriber]struct{}
}

func newFeed() *feed {
	return &feed{subs: make(map[string]map[*subscriber]struct{})}
}

// subscriber holds at most one undelivered event; a newer snapshot replaces
// an unread one since consumers render from the latest state only.
type subscriber struct {
	mu        sync.Mutex
	ch        chan PairEvent
	version   int64
	delivered bool
	closed    bool
}

// add registers a subscriber that is removed when ctx is done
func (f *feed) add(ctx context.Context, pairID string) *subscriber {
	s := &subscriber{ch: make(chan PairEvent, 1)}

	f.mu.Lock()
	if f.subs[pairID] == nil {
		f.subs[pairID] = make(map[*subscriber]struct{})
	}
	f.subs[pairID][s] = struct{}{}
	f.mu.Unlock()

	go func() {
		<-ctx.Done()
		f.remove(pairID, s)
		s.close()
	}()

	return s
}

func (f *feed) remove(pairID string, s *subscriber) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m := f.subs[pairID]; m != nil {
		delete(m, s)
		if len(m) == 0 {
			delete(f.subs, pairID)
		}
	}
}

// watching reports whether anyone is subscribed to the pair
func (f *feed) watching(pairID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs[pairID]) > 0
}

// publish delivers a snapshot to every subscriber of its pair
func (f *feed) publish(p *models.Pair) {
	f.mu.Lock()
	targets := make([]*subscriber, 0, len(f.subs[p.ID]))
	for s := range f.subs[p.ID] {
		targets = append(targets, s)
	}
	f.mu.Unlock()

	for _, s := range targets {
		s.offer(p)
	}
}

// fail terminates the subscriptions of one pair with err
func (f *feed) fail(pairID string, err error) {
	f.mu.Lock()
	m := f.subs[pairID]
	delete(f.subs, pairID)
	f.mu.Unlock()

	for s := range m {
		s.fail(err)
	}
}

// failAll terminates every subscription with err
func (f *feed) failAll(err error) {
	f.mu.Lock()
	all := f.subs
	f.subs = make(map[string]map[*subscriber]struct{})
	f.mu.Unlock()

	for _, m := range all {
		for s := range m {
			s.fail(err)
		}
	}
}

// offer queues a snapshot unless an equal or newer one was already delivered
func (s *subscriber) offer(p *models.Pair) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || (s.delivered && p.Version <= s.version) {
		return
	}
	s.version = p.Version
	s.delivered = true
	s.replace(PairEvent{Pair: p})
}

func (s *subscriber) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.replace(PairEvent{Err: err})
	s.closed = true
	close(s.ch)
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// replace must be called with s.mu held; only holders of s.mu send on ch
func (s *subscriber) replace(ev PairEvent) {
	select {
	case s.ch <- ev:
	default:
		select {
		case <-s.ch:
		default:
		}
		s.ch <- ev
	}
}
