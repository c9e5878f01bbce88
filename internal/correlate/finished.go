// ABOUTME: TTL set of recently finished request ids
// ABOUTME: Lets the correlator tell late answers apart from unknown ones

package correlate

import (
	"container/list"
	"sync"
	"time"
)

type finishedEntry struct {
	at      time.Time
	element *list.Element
}

// finishedSet remembers request ids that reached a terminal outcome.
// Bounded by both TTL and size; the oldest ids are evicted first.
type finishedSet struct {
	mu      sync.Mutex
	ids     map[string]*finishedEntry
	order   *list.List // oldest at front
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

func newFinishedSet(ttl time.Duration, maxSize int) *finishedSet {
	s := &finishedSet{
		ids:     make(map[string]*finishedEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go s.sweep()
	return s
}

// Mark records that requestID finished now.
func (s *finishedSet) Mark(requestID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if entry, ok := s.ids[requestID]; ok {
		entry.at = now
		s.order.MoveToBack(entry.element)
		return
	}

	if len(s.ids) >= s.maxSize {
		if front := s.order.Front(); front != nil {
			id, _ := front.Value.(string)
			s.order.Remove(front)
			delete(s.ids, id)
		}
	}

	s.ids[requestID] = &finishedEntry{at: now, element: s.order.PushBack(requestID)}
}

// Seen reports whether requestID finished within the TTL.
func (s *finishedSet) Seen(requestID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.ids[requestID]
	return ok && time.Since(entry.at) < s.ttl
}

// Len returns the number of remembered ids, expired or not.
func (s *finishedSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.ids)
}

func (s *finishedSet) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.expire()
		case <-s.done:
			return
		}
	}
}

func (s *finishedSet) expire() {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Entries are ordered by time, so stop at the first live one.
	for front := s.order.Front(); front != nil; front = s.order.Front() {
		id, _ := front.Value.(string)
		if time.Since(s.ids[id].at) < s.ttl {
			return
		}
		s.order.Remove(front)
		delete(s.ids, id)
	}
}

// Close stops the sweeper. Safe to call more than once.
func (s *finishedSet) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		close(s.done)
		s.closed = true
	}
}
