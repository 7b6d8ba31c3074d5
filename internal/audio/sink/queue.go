package sink

import (
	"sync"
	"time"
)

// bufferQueue is the submitted-buffer FIFO shared by the oto and malgo
// backends. The device side pulls bytes out with fill; when a buffer is
// fully drained it is marked Done and the readiness channel is signaled.
// The channel has capacity one, so back-to-back completions coalesce into
// a single wake-up and waiters must rescan every outstanding buffer.
type bufferQueue struct {
	mu     sync.Mutex
	bufs   []*Buffer
	offset int // consumed bytes of the head buffer
	ready  chan struct{}
}

func newBufferQueue() *bufferQueue {
	return &bufferQueue{
		ready: make(chan struct{}, 1),
	}
}

// push appends a buffer to the device queue and marks it Submitted.
func (q *bufferQueue) push(b *Buffer) {
	q.mu.Lock()
	b.SetState(BufferSubmitted)
	q.bufs = append(q.bufs, b)
	q.mu.Unlock()
}

// fill copies queued audio into dst, zero-filling any shortfall so the
// device never reads stale memory. Buffers drained to completion are
// marked Done and a readiness signal is raised.
func (q *bufferQueue) fill(dst []byte) {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	completed := false
	for n < len(dst) && len(q.bufs) > 0 {
		head := q.bufs[0]
		c := copy(dst[n:], head.Data[q.offset:])
		n += c
		q.offset += c
		if q.offset == len(head.Data) {
			head.SetState(BufferDone)
			q.bufs = q.bufs[1:]
			q.offset = 0
			completed = true
		}
	}
	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}
	if completed {
		q.signal()
	}
}

// signal raises the readiness flag without blocking.
func (q *bufferQueue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// wait blocks until a completion signal arrives or timeout elapses.
func (q *bufferQueue) wait(timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-q.ready:
		return nil
	case <-timer.C:
		return ErrTimeout
	}
}

// drop discards all queued buffers without completing them.
func (q *bufferQueue) drop() {
	q.mu.Lock()
	q.bufs = nil
	q.offset = 0
	q.mu.Unlock()
}
