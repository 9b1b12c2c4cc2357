package errs

import "sync"

// Bus is the process-wide critical-error channel. The pipeline worker
// publishes SYSTEM errors here; the application subscribes and surfaces them
// to operators (log + metric). Publish never blocks: when a subscriber's
// buffer is full the oldest event is dropped.
type Bus struct {
	mu     sync.Mutex
	subs   []chan *Error
	buffer int
	closed bool
}

// NewBus creates a Bus whose subscriber channels buffer up to buffer events.
func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 16
	}
	return &Bus{buffer: buffer}
}

// Subscribe registers and returns a new subscriber channel.
func (b *Bus) Subscribe() <-chan *Error {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan *Error, b.buffer)
	if b.closed {
		close(ch)
		return ch
	}
	b.subs = append(b.subs, ch)
	return ch
}

// Publish delivers e to every subscriber without blocking.
func (b *Bus) Publish(e *Error) {
	if e == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- e:
			default:
			}
		}
	}
}

// Close closes all subscriber channels. Publish after Close is a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}
