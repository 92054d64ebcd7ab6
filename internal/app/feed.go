package app

import "sync"

// feed holds the latest value of T and fans it out to subscribers.
type feed[T any] struct {
	mu          sync.Mutex
	current     T
	closed      bool
	subscribers map[chan T]struct{}
}

func newFeed[T any](initial T) *feed[T] {
	return &feed[T]{
		current:     initial,
		subscribers: make(map[chan T]struct{}),
	}
}

func (f *feed[T]) snapshot() T {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

func (f *feed[T]) publish(v T) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = v
	f.broadcastLocked()
}

// update applies fn to the current value and broadcasts the result.
func (f *feed[T]) update(fn func(*T)) T {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(&f.current)
	f.broadcastLocked()
	return f.current
}

// subscribe returns a channel primed with the current value.
// The caller must invoke the returned cancel function to avoid leaks.
func (f *feed[T]) subscribe() (<-chan T, func()) {
	ch := make(chan T, 8)

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	f.subscribers[ch] = struct{}{}
	ch <- f.current
	f.mu.Unlock()

	cancel := func() {
		f.mu.Lock()
		if _, ok := f.subscribers[ch]; ok {
			delete(f.subscribers, ch)
			close(ch)
		}
		f.mu.Unlock()
	}
	return ch, cancel
}

// close unregisters every subscriber and closes their channels.
func (f *feed[T]) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	for ch := range f.subscribers {
		delete(f.subscribers, ch)
		close(ch)
	}
}

func (f *feed[T]) broadcastLocked() {
	for ch := range f.subscribers {
		select {
		case ch <- f.current:
		default:
			// slow subscriber: drop the oldest value so the newest always lands
			select {
			case <-ch:
			default:
			}
			ch <- f.current
		}
	}
}
