package inproc

import (
	"errors"
	"fmt"
	"sync"

	"agent_society/internal/domain"
)

var ErrSubscriberQueueFull = errors.New("subscriber queue is full")

type Bus struct {
	mu     sync.RWMutex
	subs   map[string]chan domain.RoundResult
	buffer int
}

func New(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 64
	}
	return &Bus{
		subs:   make(map[string]chan domain.RoundResult),
		buffer: buffer,
	}
}

func (b *Bus) Register(name string) <-chan domain.RoundResult {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ch, ok := b.subs[name]; ok {
		return ch
	}
	ch := make(chan domain.RoundResult, b.buffer)
	b.subs[name] = ch
	return ch
}

func (b *Bus) Unregister(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.subs[name]
	if !ok {
		return
	}
	delete(b.subs, name)
	close(ch)
}

// Publish never blocks; full queues miss res and are reported in the error.
func (b *Bus) Publish(res domain.RoundResult) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var errs []error
	for name, ch := range b.subs {
		select {
		case ch <- res:
		default:
			errs = append(errs, fmt.Errorf("%w: %s", ErrSubscriberQueueFull, name))
		}
	}
	return errors.Join(errs...)
}
