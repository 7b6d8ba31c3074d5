package sink

import (
	"fmt"
	"sync"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/waveout/waveout/internal/logger"
)

// MalgoSink implements Sink on top of miniaudio via malgo. The playback
// device's data callback drains the shared submit queue on the device
// thread.
type MalgoSink struct {
	mu     sync.Mutex
	ctx    *malgo.AllocatedContext
	device *malgo.Device
	queue  *bufferQueue
	closed bool
}

// NewMalgo creates a miniaudio-backed sink.
func NewMalgo() *MalgoSink {
	return &MalgoSink{
		queue: newBufferQueue(),
	}
}

// Open initializes the miniaudio context and playback device.
func (s *MalgoSink) Open(format Format) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx != nil {
		return fmt.Errorf("%w: sink already open", ErrDeviceOpen)
	}

	var sampleFormat malgo.FormatType
	switch format.BitDepth {
	case 8:
		sampleFormat = malgo.FormatU8
	case 16:
		sampleFormat = malgo.FormatS16
	default:
		return fmt.Errorf("%w: unsupported bit depth %d", ErrDeviceOpen, format.BitDepth)
	}

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		logger.Debug("miniaudio", logger.String("message", message))
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEventCreate, err)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = sampleFormat
	deviceConfig.Playback.Channels = uint32(format.Channels)
	deviceConfig.SampleRate = uint32(format.SampleRate)

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: func(out, _ []byte, _ uint32) {
			s.queue.fill(out)
		},
	})
	if err != nil {
		_ = ctx.Uninit()
		ctx.Free()
		return fmt.Errorf("%w: %v", ErrDeviceOpen, err)
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		_ = ctx.Uninit()
		ctx.Free()
		return fmt.Errorf("%w: %v", ErrDeviceOpen, err)
	}

	s.ctx = ctx
	s.device = device
	s.closed = false
	return nil
}

// Prepare brackets a buffer for submission.
func (s *MalgoSink) Prepare(b *Buffer) error {
	if b == nil {
		return fmt.Errorf("%w: prepare", ErrNilBuffer)
	}
	if b.State() == BufferSubmitted {
		return fmt.Errorf("%w: buffer still queued", ErrPrepare)
	}
	return nil
}

// Unprepare releases a finished buffer for reuse.
func (s *MalgoSink) Unprepare(b *Buffer) error {
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
func (s *MalgoSink) Submit(b *Buffer) error {
	if b == nil {
		return fmt.Errorf("%w: submit", ErrNilBuffer)
	}
	s.mu.Lock()
	closed := s.closed || s.device == nil
	s.mu.Unlock()
	if closed {
		return fmt.Errorf("%w: sink not open", ErrWrite)
	}
	s.queue.push(b)
	return nil
}

// WaitReady blocks until a submitted buffer finishes or timeout elapses.
func (s *MalgoSink) WaitReady(timeout time.Duration) error {
	return s.queue.wait(timeout)
}

// Close stops the device and tears down the miniaudio context.
func (s *MalgoSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.queue.drop()

	if s.device != nil {
		if err := s.device.Stop(); err != nil {
			logger.Warn("playback device stop failed", logger.Error(err))
		}
		s.device.Uninit()
		s.device = nil
	}
	if s.ctx != nil {
		err := s.ctx.Uninit()
		s.ctx.Free()
		s.ctx = nil
		if err != nil {
			return fmt.Errorf("%w: %v", ErrHandleClose, err)
		}
	}
	return nil
}
