// Package bus provides latest-sample delivery between external producer
// goroutines and the single-threaded control loop. Each input stream gets a
// Socket: producers Publish without ever blocking (latest value wins), and
// the loop Polls once per cycle for the held sample plus its freshness
// accounting. The poll is the only synchronization point between producers
// and the loop.
package bus

import (
	"context"
	"sync"
	"time"
)

// Status is the per-cycle freshness report for one channel.
type Status struct {
	Name    string
	Updated bool          // a new sample arrived since the previous poll
	Ever    bool          // at least one sample has ever arrived
	Age     time.Duration // age of the held sample; meaningless when !Ever
	Alive   bool          // Ever && Age within the channel's freshness budget
	Seq     uint64        // sequence number of the held sample
}

// Channel is the type-erased view of a Socket used by the aggregator.
type Channel interface {
	Name() string
	Poll(now time.Time) Status
}

// Sample wraps a published value with its receive metadata.
type Sample[T any] struct {
	Value    T
	Seq      uint64
	RecvTime time.Time
}

// Socket is a single-slot mailbox for one input stream.
type Socket[T any] struct {
	name      string
	freshness time.Duration

	mu        sync.Mutex
	latest    Sample[T]
	have      bool
	polledSeq uint64

	notify chan struct{}
}

// NewSocket creates a socket. freshness is the staleness budget used for the
// Alive flag; zero means the channel is never considered stale.
func NewSocket[T any](name string, freshness time.Duration) *Socket[T] {
	return &Socket[T]{
		name:      name,
		freshness: freshness,
		notify:    make(chan struct{}, 1),
	}
}

// Name returns the channel name.
func (s *Socket[T]) Name() string { return s.name }

// Publish stores v as the latest sample. It never blocks; an unconsumed
// older sample is simply replaced.
func (s *Socket[T]) Publish(v T) {
	s.PublishAt(v, time.Now())
}

// PublishAt is Publish with an explicit receive time, for tests and replay.
func (s *Socket[T]) PublishAt(v T, now time.Time) {
	s.mu.Lock()
	s.latest = Sample[T]{Value: v, Seq: s.latest.Seq + 1, RecvTime: now}
	s.have = true
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Latest returns the held sample, if any.
func (s *Socket[T]) Latest() (Sample[T], bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest, s.have
}

// Value returns the held value or the zero value.
func (s *Socket[T]) Value() T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest.Value
}

// Poll reports the channel status as of now and marks the held sample seen,
// so the next Poll only reports Updated if another publish lands in between.
func (s *Socket[T]) Poll(now time.Time) Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		Name: s.name,
		Ever: s.have,
		Seq:  s.latest.Seq,
	}
	if s.have {
		st.Updated = s.latest.Seq != s.polledSeq
		st.Age = now.Sub(s.latest.RecvTime)
		st.Alive = s.freshness <= 0 || st.Age <= s.freshness
		s.polledSeq = s.latest.Seq
	}
	return st
}

// WaitFresh blocks until a publish lands that the caller has not yet polled,
// or the timeout/context expires. It returns true if a fresh sample is held.
// Only one goroutine (the control loop) may call WaitFresh.
func (s *Socket[T]) WaitFresh(ctx context.Context, timeout time.Duration) bool {
	t := time.NewTimer(timeout)
	defer t.Stop()
	for {
		s.mu.Lock()
		fresh := s.have && s.latest.Seq != s.polledSeq
		s.mu.Unlock()
		if fresh {
			// Consume any pending wakeup token so a publish the caller is
			// about to poll cannot satisfy the next wait too.
			select {
			case <-s.notify:
			default:
			}
			return true
		}
		select {
		case <-s.notify:
			// The token may belong to a sample that was already polled;
			// loop and check the sequence number before reporting fresh.
		case <-t.C:
			return false
		case <-ctx.Done():
			return false
		}
	}
}
