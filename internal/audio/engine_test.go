package audio

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waveout/waveout/internal/audio/sink"
)

// fakeSink is a controllable Device Sink for engine tests. Completions
// are delivered by popping the submit queue in order; one call to
// complete raises a single (coalesced) readiness signal regardless of
// how many buffers it finishes.
type fakeSink struct {
	mu         sync.Mutex
	queue      []*sink.Buffer
	ready      chan struct{}
	opened     int
	closed     int
	prepares   int
	unprepares int
	submits    int

	openErr    error
	prepareErr error
	submitErr  error
	// stuckWait makes WaitReady overrun its timeout, simulating a worker
	// that cannot be joined in time.
	stuckWait bool
}

func newFakeSink() *fakeSink {
	return &fakeSink{ready: make(chan struct{}, 1)}
}

func (f *fakeSink) Open(format sink.Format) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return f.openErr
	}
	f.opened++
	return nil
}

func (f *fakeSink) Prepare(b *sink.Buffer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.prepareErr != nil {
		return f.prepareErr
	}
	f.prepares++
	return nil
}

func (f *fakeSink) Unprepare(b *sink.Buffer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unprepares++
	b.SetState(sink.BufferFree)
	return nil
}

func (f *fakeSink) Submit(b *sink.Buffer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return f.submitErr
	}
	f.submits++
	b.SetState(sink.BufferSubmitted)
	f.queue = append(f.queue, b)
	return nil
}

func (f *fakeSink) WaitReady(timeout time.Duration) error {
	if f.isStuck() {
		time.Sleep(3 * time.Second)
		return sink.ErrTimeout
	}
	select {
	case <-f.ready:
		return nil
	case <-time.After(timeout):
		return sink.ErrTimeout
	}
}

func (f *fakeSink) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	f.queue = nil
	return nil
}

// complete finishes the n oldest submitted buffers and raises a single
// readiness signal.
func (f *fakeSink) complete(n int) {
	f.mu.Lock()
	for i := 0; i < n && len(f.queue) > 0; i++ {
		f.queue[0].SetState(sink.BufferDone)
		f.queue = f.queue[1:]
	}
	f.mu.Unlock()
	select {
	case f.ready <- struct{}{}:
	default:
	}
}

func (f *fakeSink) isStuck() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stuckWait
}

func (f *fakeSink) counts() (prepares, submits, closed int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.prepares, f.submits, f.closed
}

func nopRender(buf []byte) {}

func TestEngine_OpenClose(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{
			name: "8-bit mono low rate",
			cfg:  Config{SampleRate: 11025, BitDepth: 8, Channels: 1, BufferFrames: 256, Render: nopRender},
		},
		{
			name: "16-bit stereo mid rate",
			cfg:  Config{SampleRate: 22050, BitDepth: 16, Channels: 2, BufferFrames: 1024, Render: nopRender},
		},
		{
			name: "16-bit stereo full rate",
			cfg:  Config{SampleRate: 44100, BitDepth: 16, Channels: 2, BufferFrames: 256, Render: nopRender},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := newFakeSink()
			e := New(fake)

			require.NoError(t, e.Open(tt.cfg))
			assert.Equal(t, StateOpen, e.State())
			assert.Equal(t, CodeOK, e.LastError())

			// All four buffers primed without a render call.
			prepares, submits, _ := fake.counts()
			assert.Equal(t, bufferCount, prepares)
			assert.Equal(t, bufferCount, submits)

			require.NoError(t, e.Close())
			assert.Equal(t, StateClosed, e.State())
			assert.True(t, e.pool.released(), "pool must be released at close")
			_, _, closed := fake.counts()
			assert.Equal(t, 1, closed)
		})
	}
}

func TestEngine_BufferByteLength(t *testing.T) {
	fake := newFakeSink()
	e := New(fake)

	cfg := Config{SampleRate: 44100, BitDepth: 16, Channels: 2, BufferFrames: 256, Render: nopRender}
	require.NoError(t, e.Open(cfg))
	defer e.Close()

	// (256 frames x 2 channels x 2 bytes) / 4 buffers = 256 bytes each.
	require.Len(t, e.buffers, 4)
	for _, b := range e.buffers {
		assert.Equal(t, 256, len(b.Data))
	}
}

func TestEngine_InvalidConfig(t *testing.T) {
	valid := Config{SampleRate: 44100, BitDepth: 16, Channels: 2, BufferFrames: 256, Render: nopRender}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"buffer frames not power of two", func(c *Config) { c.BufferFrames = 100 }},
		{"buffer frames zero", func(c *Config) { c.BufferFrames = 0 }},
		{"nil render callback", func(c *Config) { c.Render = nil }},
		{"unsupported bit depth", func(c *Config) { c.BitDepth = 24 }},
		{"unsupported sample rate", func(c *Config) { c.SampleRate = 48000 }},
		{"three channels", func(c *Config) { c.Channels = 3 }},
		{"ring does not divide", func(c *Config) { c.BufferFrames = 2; c.BitDepth = 8; c.Channels = 1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := newFakeSink()
			e := New(fake)
			cfg := valid
			tt.mutate(&cfg)

			err := e.Open(cfg)
			require.ErrorIs(t, err, ErrInvalidConfig)
			assert.Equal(t, StateClosed, e.State())
			assert.Equal(t, CodeInvalidConfig, e.LastError())
			assert.Equal(t, 0, fake.opened, "sink must not be opened on invalid config")
		})
	}
}

func TestEngine_AlreadyOpen(t *testing.T) {
	fake := newFakeSink()
	e := New(fake)
	cfg := Config{SampleRate: 44100, BitDepth: 16, Channels: 2, BufferFrames: 256, Render: nopRender}

	require.NoError(t, e.Open(cfg))
	defer e.Close()

	err := e.Open(cfg)
	require.ErrorIs(t, err, ErrAlreadyOpen)
	assert.Equal(t, CodeAlreadyOpen, e.LastError())
	assert.Equal(t, StateOpen, e.State())
}

func TestEngine_StartPauseRequireWorker(t *testing.T) {
	e := New(newFakeSink())
	assert.ErrorIs(t, e.Start(), ErrNotOpen)
	assert.ErrorIs(t, e.Pause(), ErrNotOpen)
	assert.Equal(t, StateClosed, e.State())
}

func TestEngine_RenderOncePerCompletion(t *testing.T) {
	fake := newFakeSink()
	e := New(fake)

	var renders atomic.Int32
	var inFlight atomic.Int32
	var overlapped atomic.Bool
	render := func(buf []byte) {
		if inFlight.Add(1) != 1 {
			overlapped.Store(true)
		}
		renders.Add(1)
		inFlight.Add(-1)
	}

	cfg := Config{SampleRate: 44100, BitDepth: 16, Channels: 2, BufferFrames: 256, Render: render}
	require.NoError(t, e.Open(cfg))
	defer e.Close()
	require.NoError(t, e.Start())
	assert.Equal(t, StateRunning, e.State())

	// Two completions delivered under one coalesced wake-up.
	fake.complete(2)
	require.Eventually(t, func() bool {
		return renders.Load() == 2
	}, 2*time.Second, 10*time.Millisecond)

	// Both reclaimed buffers were resubmitted after refill.
	require.Eventually(t, func() bool {
		_, submits, _ := fake.counts()
		return submits == bufferCount+2
	}, 2*time.Second, 10*time.Millisecond)

	fake.complete(1)
	require.Eventually(t, func() bool {
		return renders.Load() == 3
	}, 2*time.Second, 10*time.Millisecond)

	assert.False(t, overlapped.Load(), "render callback must never overlap itself")
}

func TestEngine_PauseStopsRefill(t *testing.T) {
	fake := newFakeSink()
	e := New(fake)

	var renders atomic.Int32
	render := func(buf []byte) { renders.Add(1) }

	cfg := Config{SampleRate: 22050, BitDepth: 16, Channels: 1, BufferFrames: 512, Render: render}
	require.NoError(t, e.Open(cfg))
	defer e.Close()
	require.NoError(t, e.Start())

	fake.complete(1)
	require.Eventually(t, func() bool {
		return renders.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, e.Pause())
	assert.Equal(t, StatePaused, e.State())

	// Completions keep arriving from the device but trigger no refill.
	fake.complete(1)
	time.Sleep(400 * time.Millisecond)
	assert.Equal(t, int32(1), renders.Load())

	require.NoError(t, e.Start())
	require.Eventually(t, func() bool {
		return renders.Load() == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEngine_ResumeRecoversCompletionsDuringPause(t *testing.T) {
	fake := newFakeSink()
	e := New(fake)

	var renders atomic.Int32
	render := func(buf []byte) { renders.Add(1) }

	cfg := Config{SampleRate: 44100, BitDepth: 16, Channels: 2, BufferFrames: 256, Render: render}
	require.NoError(t, e.Open(cfg))
	defer e.Close()
	require.NoError(t, e.Start())

	fake.complete(1)
	require.Eventually(t, func() bool {
		return renders.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, e.Pause())

	// Three buffers finish under one coalesced readiness signal while
	// the worker sits inside a wait slice; the worker consumes the
	// signal there and discards it because it is paused.
	fake.complete(3)
	time.Sleep(600 * time.Millisecond)
	assert.Equal(t, int32(1), renders.Load())

	// Resuming must recycle every buffer that finished during the
	// pause even though their only readiness signal is gone.
	require.NoError(t, e.Start())
	require.Eventually(t, func() bool {
		return renders.Load() == 4
	}, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		_, submits, _ := fake.counts()
		return submits == bufferCount+4
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEngine_CloseIdempotent(t *testing.T) {
	fake := newFakeSink()
	e := New(fake)
	cfg := Config{SampleRate: 11025, BitDepth: 8, Channels: 1, BufferFrames: 256, Render: nopRender}

	require.NoError(t, e.Open(cfg))
	require.NoError(t, e.Close())
	_, submits, closed := fake.counts()

	// Second close succeeds and performs no further device operations.
	require.NoError(t, e.Close())
	prepares2, submits2, closed2 := fake.counts()
	assert.Equal(t, closed, closed2)
	assert.Equal(t, submits, submits2)
	assert.Equal(t, bufferCount, prepares2)
}

func TestEngine_CloseBoundedWithoutCompletions(t *testing.T) {
	fake := newFakeSink()
	e := New(fake)
	cfg := Config{SampleRate: 44100, BitDepth: 16, Channels: 2, BufferFrames: 256, Render: nopRender}

	require.NoError(t, e.Open(cfg))
	require.NoError(t, e.Start())

	// The sink never signals readiness; close must still return promptly
	// because the worker's waits are time-sliced.
	start := time.Now()
	require.NoError(t, e.Close())
	assert.Less(t, time.Since(start), joinTimeout)
	assert.Equal(t, StateClosed, e.State())
	assert.Equal(t, CodeOK, e.LastError())
}

func TestEngine_CloseEscalatesOnStuckWorker(t *testing.T) {
	fake := newFakeSink()
	fake.stuckWait = true
	e := New(fake)
	cfg := Config{SampleRate: 44100, BitDepth: 16, Channels: 2, BufferFrames: 256, Render: nopRender}

	require.NoError(t, e.Open(cfg))
	require.NoError(t, e.Start())
	time.Sleep(50 * time.Millisecond) // let the worker enter its wait

	start := time.Now()
	err := e.Close()
	require.ErrorIs(t, err, ErrThreadAbort)
	assert.Less(t, time.Since(start), joinTimeout+500*time.Millisecond)
	assert.Equal(t, CodeThreadAbort, e.LastError())
	assert.Equal(t, StateClosed, e.State())
}

func TestEngine_OpenDeviceFailure(t *testing.T) {
	fake := newFakeSink()
	fake.openErr = sink.ErrDeviceOpen
	e := New(fake)
	cfg := Config{SampleRate: 44100, BitDepth: 16, Channels: 2, BufferFrames: 256, Render: nopRender}

	err := e.Open(cfg)
	require.ErrorIs(t, err, ErrDeviceOpen)
	assert.Equal(t, CodeDeviceOpen, e.LastError())
	assert.Equal(t, StateClosed, e.State())
}

func TestEngine_OpenEventCreateFailure(t *testing.T) {
	fake := newFakeSink()
	fake.openErr = sink.ErrEventCreate
	e := New(fake)
	cfg := Config{SampleRate: 44100, BitDepth: 16, Channels: 2, BufferFrames: 256, Render: nopRender}

	err := e.Open(cfg)
	require.ErrorIs(t, err, ErrEventCreate)
	assert.Equal(t, CodeEventCreate, e.LastError())
	assert.Equal(t, StateClosed, e.State())
}

func TestEngine_PrimeFailureRollsBack(t *testing.T) {
	fake := newFakeSink()
	fake.submitErr = sink.ErrWrite
	e := New(fake)
	cfg := Config{SampleRate: 44100, BitDepth: 16, Channels: 2, BufferFrames: 256, Render: nopRender}

	err := e.Open(cfg)
	require.ErrorIs(t, err, ErrDeviceWrite)
	assert.Equal(t, CodeDeviceWrite, e.LastError())
	// The returned error and the recorded code must agree.
	assert.ErrorIs(t, err, e.LastError().Err())
	assert.Equal(t, StateClosed, e.State())

	// The sink acquired during the failed open was released.
	_, _, closed := fake.counts()
	assert.Equal(t, 1, closed)
}

func TestEngine_WorkerFailureSurfacesOnNextCall(t *testing.T) {
	fake := newFakeSink()
	e := New(fake)
	cfg := Config{SampleRate: 44100, BitDepth: 16, Channels: 2, BufferFrames: 256, Render: nopRender}

	require.NoError(t, e.Open(cfg))
	defer e.Close()
	require.NoError(t, e.Start())

	// Fail the next prepare; the worker aborts its loop on the first
	// completion it tries to recycle.
	fake.mu.Lock()
	fake.prepareErr = sink.ErrPrepare
	fake.mu.Unlock()
	fake.complete(1)

	require.Eventually(t, func() bool {
		return e.LastError() == CodeDevicePrepare
	}, 2*time.Second, 10*time.Millisecond)
}
