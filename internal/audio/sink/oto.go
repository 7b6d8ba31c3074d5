package sink

import (
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
)

// OtoSink implements Sink on top of the oto library. Submitted buffers go
// into a shared queue; oto pulls bytes through the io.Reader side on its
// own thread and the queue raises readiness as buffers drain.
type OtoSink struct {
	mu     sync.Mutex
	ctx    *oto.Context
	player *oto.Player
	queue  *bufferQueue
	format Format
	closed bool
}

// NewOto creates an oto-backed sink.
func NewOto() *OtoSink {
	return &OtoSink{
		queue: newBufferQueue(),
	}
}

// Open opens the audio output with the specified format.
func (s *OtoSink) Open(format Format) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx != nil {
		return fmt.Errorf("%w: sink already open", ErrDeviceOpen)
	}

	var sampleFormat oto.Format
	switch format.BitDepth {
	case 8:
		sampleFormat = oto.FormatUnsignedInt8
	case 16:
		sampleFormat = oto.FormatSignedInt16LE
	default:
		return fmt.Errorf("%w: unsupported bit depth %d", ErrDeviceOpen, format.BitDepth)
	}

	options := &oto.NewContextOptions{
		SampleRate:   format.SampleRate,
		ChannelCount: format.Channels,
		Format:       sampleFormat,
	}

	ctx, ready, err := oto.NewContext(options)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceOpen, err)
	}

	// The context signals readiness asynchronously.
	<-ready

	s.ctx = ctx
	s.format = format
	s.player = ctx.NewPlayer(otoReader{s.queue})
	s.player.Play()
	s.closed = false

	return nil
}

// Prepare brackets a buffer for submission.
func (s *OtoSink) Prepare(b *Buffer) error {
	if b == nil {
		return fmt.Errorf("%w: prepare", ErrNilBuffer)
	}
	if b.State() == BufferSubmitted {
		return fmt.Errorf("%w: buffer still queued", ErrPrepare)
	}
	return nil
}

// Unprepare releases a finished buffer for reuse.
func (s *OtoSink) Unprepare(b *Buffer) error {
	if b == nil {
		return fmt.Errorf("%w: unprepare", ErrNilBuffer)
	}
	if b.State() == BufferSubmitted {
		return fmt.Errorf("%w: buffer still queued", ErrPrepare)
	}
	b.SetState(BufferFree)
	return nil
}

// Submit queues a buffer on the device.
func (s *OtoSink) Submit(b *Buffer) error {
	if b == nil {
		return fmt.Errorf("%w: submit", ErrNilBuffer)
	}
	s.mu.Lock()
	closed := s.closed || s.player == nil
	s.mu.Unlock()
	if closed {
		return fmt.Errorf("%w: sink not open", ErrWrite)
	}
	s.queue.push(b)
	return nil
}

// WaitReady blocks until a submitted buffer finishes or timeout elapses.
func (s *OtoSink) WaitReady(timeout time.Duration) error {
	return s.queue.wait(timeout)
}

// Close stops playback and releases the device.
func (s *OtoSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.queue.drop()

	if s.player != nil {
		if err := s.player.Close(); err != nil {
			s.player = nil
			s.ctx = nil
			return fmt.Errorf("%w: %v", ErrDeviceClose, err)
		}
		s.player = nil
	}
	if s.ctx != nil {
		// oto contexts cannot be torn down; suspend so the device goes idle.
		if err := s.ctx.Suspend(); err != nil {
			s.ctx = nil
			return fmt.Errorf("%w: %v", ErrHandleClose, err)
		}
		s.ctx = nil
	}
	return nil
}

// otoReader adapts the submit queue to the io.Reader oto consumes.
type otoReader struct {
	queue *bufferQueue
}

func (r otoReader) Read(p []byte) (int, error) {
	r.queue.fill(p)
	return len(p), nil
}
