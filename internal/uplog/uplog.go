// Package uplog buffers the process's standard output in a fixed ring
// so the uplink can stream it to the controller. Writes past capacity
// are dropped; a queued flush drains the buffer asynchronously through
// the installed handler.
package uplog

import (
	"sync"
)

// Capacity is the buffer size; data beyond it is discarded until the
// next flush.
const Capacity = 16 * 1024

// FlushHandler receives the buffered bytes on flush. The buffer never
// flushes while no handler is installed, but keeps buffering.
type FlushHandler func([]byte)

// Buffer is a fixed-capacity stdout sink. It implements io.Writer so it
// can be interposed on the process's output path.
type Buffer struct {
	mu      sync.Mutex
	buf     []byte
	enabled bool
	queued  bool

	flushFn FlushHandler
	wake    chan struct{}
	done    chan struct{}
}

// New returns an enabled buffer. Run must be started for queued flushes
// to drain.
func New() *Buffer {
	return &Buffer{
		buf:     make([]byte, 0, Capacity),
		enabled: true,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// SetFlushHandler installs the drain target.
func (b *Buffer) SetFlushHandler(fn FlushHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flushFn = fn
}

// Enable turns logging back on.
func (b *Buffer) Enable() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.enabled = true
}

// Disable makes Write a no-op until Enable.
func (b *Buffer) Disable() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.enabled = false
}

// Enabled reports whether writes are being captured.
func (b *Buffer) Enabled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.enabled
}

// Len returns how many bytes are buffered.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buf)
}

// Write appends up to the remaining capacity, dropping the excess, and
// queues an asynchronous flush when none is pending. It never fails;
// the reported count includes dropped bytes so callers don't retry.
func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.enabled {
		return len(p), nil
	}
	if room := Capacity - len(b.buf); len(p) > room {
		b.buf = append(b.buf, p[:room]...)
	} else {
		b.buf = append(b.buf, p...)
	}
	if !b.queued {
		b.queued = true
		select {
		case b.wake <- struct{}{}:
		default:
		}
	}
	return len(p), nil
}

// Flush synchronously drains the buffer through the handler. Logging is
// disabled for the duration of the handler call so a handler that
// itself writes to stdout cannot recurse into the buffer.
func (b *Buffer) Flush() {
	b.mu.Lock()
	fn := b.flushFn
	if fn == nil {
		b.queued = false
		b.mu.Unlock()
		return
	}
	data := b.buf
	b.buf = make([]byte, 0, Capacity)
	wasEnabled := b.enabled
	b.enabled = false
	b.mu.Unlock()

	if len(data) > 0 {
		fn(data)
	}

	b.mu.Lock()
	b.enabled = wasEnabled
	b.queued = false
	b.mu.Unlock()
}

// Run services queued flushes until Close. Start it once, in its own
// goroutine.
func (b *Buffer) Run() {
	for {
		select {
		case <-b.done:
			return
		case <-b.wake:
			b.Flush()
		}
	}
}

// Close stops the Run loop.
func (b *Buffer) Close() {
	select {
	case <-b.done:
	default:
		close(b.done)
	}
}
