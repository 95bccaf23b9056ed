package scan

import (
	"context"
	"sync"
)

// broadcaster fans updates out to observers. Each observer has a bounded
// queue; when it is full the oldest pending update is dropped.
type broadcaster struct {
	mu   sync.Mutex
	subs map[*subscriber]struct{}
	size int
}

type subscriber struct {
	mu     sync.Mutex
	ch     chan Update
	closed bool
}

func newBroadcaster(size int) *broadcaster {
	if size < 1 {
		size = 1
	}
	return &broadcaster{
		subs: make(map[*subscriber]struct{}),
		size: size,
	}
}

func (b *broadcaster) subscribe(ctx context.Context) <-chan Update {
	sub := &subscriber{ch: make(chan Update, b.size)}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, sub)
		b.mu.Unlock()
		sub.close()
	}()

	return sub.ch
}

func (b *broadcaster) publish(u Update) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs {
		sub.offer(u)
	}
}

func (b *broadcaster) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (s *subscriber) offer(u Update) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for {
		select {
		case s.ch <- u:
			return
		default:
		}
		select {
		case <-s.ch:
		default:
		}
	}
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}
