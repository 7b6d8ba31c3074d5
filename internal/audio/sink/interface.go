package sink

import (
	"errors"
	"sync/atomic"
	"time"
)

var (
	ErrEventCreate = errors.New("sink readiness event could not be created")
	ErrDeviceOpen  = errors.New("audio device could not be opened")
	ErrPrepare     = errors.New("buffer prepare failed")
	ErrWrite       = errors.New("buffer write failed")
	ErrDeviceClose = errors.New("audio device could not be closed")
	ErrHandleClose = errors.New("device handle could not be released")
	ErrTimeout     = errors.New("wait for buffer completion timed out")
	ErrNilBuffer   = errors.New("nil buffer")
)

// Format describes the PCM wire format handed to a sink.
type Format struct {
	SampleRate int
	BitDepth   int
	Channels   int
}

// BlockAlign returns the size of one interleaved frame in bytes.
func (f Format) BlockAlign() int {
	return f.Channels * f.BitDepth / 8
}

// AvgBytesPerSec returns the byte rate of the stream.
func (f Format) AvgBytesPerSec() int {
	return f.SampleRate * f.BlockAlign()
}

// BufferState tracks where a buffer is in the submission cycle.
type BufferState int32

const (
	// BufferFree means the buffer is owned by the engine and may be refilled.
	BufferFree BufferState = iota
	// BufferSubmitted means the buffer is queued on the device.
	BufferSubmitted
	// BufferDone means the device finished playing the buffer.
	BufferDone
)

func (s BufferState) String() string {
	switch s {
	case BufferFree:
		return "free"
	case BufferSubmitted:
		return "submitted"
	case BufferDone:
		return "done"
	default:
		return "unknown"
	}
}

// Buffer is a fixed-size chunk of the engine's pool plus its submission
// state. Data is a non-owning view; the pool outlives it. The sink is the
// only mutator of Submitted->Done, the rotation worker of Done->Free and
// Free->Submitted, so the state is atomic rather than locked.
type Buffer struct {
	Data  []byte
	state atomic.Int32
}

// State returns the current submission state.
func (b *Buffer) State() BufferState {
	return BufferState(b.state.Load())
}

// SetState records a new submission state.
func (b *Buffer) SetState(s BufferState) {
	b.state.Store(int32(s))
}

// Sink is the interface audio output backends implement. Submit is
// asynchronous; completion is observed by calling WaitReady and then
// scanning all outstanding buffers, since one wake-up can cover several
// completions or be coalesced with another.
type Sink interface {
	// Open opens the output device for the given format.
	Open(format Format) error

	// Prepare brackets a buffer for submission. Must precede every Submit.
	Prepare(b *Buffer) error

	// Unprepare releases device bookkeeping for a finished buffer. Must
	// precede reuse or release. Pairs with Prepare.
	Unprepare(b *Buffer) error

	// Submit hands a buffer to the device queue and returns immediately.
	Submit(b *Buffer) error

	// WaitReady blocks until at least one submitted buffer has finished
	// playing, or the timeout elapses (ErrTimeout).
	WaitReady(timeout time.Duration) error

	// Close stops the device and releases it.
	Close() error
}
