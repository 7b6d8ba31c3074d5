package audio

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/waveout/waveout/internal/audio/sink"
	"github.com/waveout/waveout/internal/logger"
)

// bufferCount is the size of the device buffer ring. Quad buffering gives
// the rotation loop headroom without adding noticeable latency.
const bufferCount = 4

// RenderFunc fills buf with interleaved PCM in the session's format. The
// engine calls it synchronously from the rotation worker, one buffer at a
// time; it never runs concurrently with itself for the same engine.
type RenderFunc func(buf []byte)

// SessionState is the lifecycle state of an engine instance.
type SessionState int32

const (
	StateClosed SessionState = iota
	StateOpen
	StateRunning
	StatePaused
)

func (s SessionState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	default:
		return "unknown"
	}
}

// Config describes one playback session. It is copied at Open and
// immutable afterwards.
type Config struct {
	SampleRate   int // 11025, 22050 or 44100
	BitDepth     int // 8 or 16
	Channels     int // 1 or 2
	BufferFrames int // total frame count across the ring, power of two
	Render       RenderFunc
}

// Format derives the PCM wire format handed to the sink.
func (c Config) Format() sink.Format {
	return sink.Format{
		SampleRate: c.SampleRate,
		BitDepth:   c.BitDepth,
		Channels:   c.Channels,
	}
}

// totalBytes is the byte size of the whole ring.
func (c Config) totalBytes() int {
	return c.BufferFrames * c.Channels * c.BitDepth / 8
}

// Engine streams PCM from a render callback into a ring of four device
// buffers rotated through a sink. Public operations are not internally
// serialized: callers issuing Open/Start/Pause/Close from more than one
// goroutine must serialize them externally. The rotation worker is the
// only other goroutine touching session data while open.
type Engine struct {
	snk     sink.Sink
	cfg     Config
	state   atomic.Int32
	code    atomic.Uint32
	pool    *pool
	buffers []*sink.Buffer
	wrk     *worker
}

// New creates an engine over the given sink. The sink is owned by the
// engine from the first successful Open until Close.
func New(snk sink.Sink) *Engine {
	return &Engine{snk: snk}
}

// State returns the current session state.
func (e *Engine) State() SessionState {
	return SessionState(e.state.Load())
}

// LastError returns the code of the most recent failure, including
// failures inside the rotation worker, which are surfaced here rather
// than pushed to the caller.
func (e *Engine) LastError() Code {
	e.adoptWorkerFailure()
	return Code(e.code.Load())
}

// Open validates the configuration, opens the sink, allocates and slices
// the buffer pool, creates the gated rotation worker and primes every
// buffer once with silence. On any failure the partially acquired
// resources are released before returning; no half-open session survives.
func (e *Engine) Open(cfg Config) error {
	if e.State() != StateClosed {
		e.setCode(CodeAlreadyOpen)
		return ErrAlreadyOpen
	}
	if err := validate(cfg); err != nil {
		e.setCode(CodeInvalidConfig)
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	e.cfg = cfg

	if err := e.snk.Open(cfg.Format()); err != nil {
		code := CodeDeviceOpen
		if errors.Is(err, sink.ErrEventCreate) {
			code = CodeEventCreate
		}
		e.setCode(code)
		return fmt.Errorf("%w: %v", code.Err(), err)
	}

	p, err := newPool(cfg.totalBytes(), poolAlignment)
	if err != nil {
		_ = e.snk.Close()
		e.setCode(CodeInvalidConfig)
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	buffers := make([]*sink.Buffer, bufferCount)
	for i, chunk := range p.slice(bufferCount) {
		buffers[i] = &sink.Buffer{Data: chunk}
	}

	wrk := newWorker(e.snk, buffers, cfg.Render)
	go wrk.run()

	// Prime: submit every buffer zero-filled so the device has content
	// to play before the first render call.
	for _, b := range buffers {
		if err := e.snk.Prepare(b); err != nil {
			code := e.abortOpen(wrk, p, CodeDevicePrepare)
			return fmt.Errorf("%w: %v", code.Err(), err)
		}
		if err := e.snk.Submit(b); err != nil {
			code := e.abortOpen(wrk, p, CodeDeviceWrite)
			return fmt.Errorf("%w: %v", code.Err(), err)
		}
	}

	e.pool = p
	e.buffers = buffers
	e.wrk = wrk
	e.setState(StateOpen)

	logger.Info("wave output opened",
		logger.Int("sample_rate", cfg.SampleRate),
		logger.Int("bit_depth", cfg.BitDepth),
		logger.Int("channels", cfg.Channels),
		logger.Int("buffer_frames", cfg.BufferFrames),
		logger.Int("buffer_bytes", cfg.totalBytes()/bufferCount),
	)
	return nil
}

// Start releases the rotation worker. Valid while Open or Paused.
func (e *Engine) Start() error {
	e.adoptWorkerFailure()
	if e.wrk == nil {
		return ErrNotOpen
	}
	e.wrk.start()
	e.setState(StateRunning)
	logger.Debug("wave output started")
	return nil
}

// Pause suspends the rotation worker in place. Buffers already submitted
// keep playing on the device; refill stops until Start is called again.
func (e *Engine) Pause() error {
	e.adoptWorkerFailure()
	if e.wrk == nil {
		return ErrNotOpen
	}
	e.wrk.pause()
	e.setState(StatePaused)
	logger.Debug("wave output paused")
	return nil
}

// Close stops the worker, closes the sink and releases the pool. Valid
// from any state and idempotent; an already-closed engine succeeds
// trivially. If the worker does not exit within the join timeout it is
// abandoned and CodeThreadAbort is recorded as a degraded outcome.
func (e *Engine) Close() error {
	if e.State() == StateClosed {
		return nil
	}

	var firstErr error
	if e.wrk != nil {
		e.adoptWorkerFailure()
		if !e.wrk.shutdown(joinTimeout) {
			e.setCode(CodeThreadAbort)
			firstErr = ErrThreadAbort
			logger.Warn("rotation worker did not exit in time, abandoning it")
		}
		e.wrk = nil
	}

	if err := e.snk.Close(); err != nil {
		code := CodeDeviceClose
		if errors.Is(err, sink.ErrHandleClose) {
			code = CodeHandleClose
		}
		e.setCode(code)
		if firstErr == nil {
			firstErr = fmt.Errorf("%w: %v", code.Err(), err)
		}
	}

	e.pool.release()
	e.pool = nil
	e.buffers = nil
	e.cfg = Config{}
	e.setState(StateClosed)

	logger.Info("wave output closed")
	return firstErr
}

// abortOpen rolls back a partially completed Open. It returns the code
// actually recorded, which escalates to CodeThreadAbort if the worker
// had to be abandoned, so the caller's returned error and LastError
// stay in agreement.
func (e *Engine) abortOpen(wrk *worker, p *pool, code Code) Code {
	if !wrk.shutdown(joinTimeout) {
		code = CodeThreadAbort
	}
	_ = e.snk.Close()
	p.release()
	e.setCode(code)
	e.setState(StateClosed)
	return code
}

func (e *Engine) setState(s SessionState) {
	e.state.Store(int32(s))
}

func (e *Engine) setCode(c Code) {
	e.code.Store(uint32(c))
}

// adoptWorkerFailure folds a worker loop abort into the engine's error
// code. Worker failures are recorded asynchronously and only observed on
// the next lifecycle call.
func (e *Engine) adoptWorkerFailure() {
	if e.wrk == nil {
		return
	}
	if c := Code(e.wrk.failure.Load()); c != CodeOK {
		e.code.Store(uint32(c))
	}
}

// validate checks a configuration against the supported matrix. Checks
// run in a fixed order so the first offending field is reported.
func validate(cfg Config) error {
	if cfg.BufferFrames <= 0 || cfg.BufferFrames&(cfg.BufferFrames-1) != 0 {
		return fmt.Errorf("buffer frames must be a power of two, got %d", cfg.BufferFrames)
	}
	if cfg.Render == nil {
		return errors.New("render callback must not be nil")
	}
	if cfg.BitDepth != 8 && cfg.BitDepth != 16 {
		return fmt.Errorf("bit depth must be 8 or 16, got %d", cfg.BitDepth)
	}
	switch cfg.SampleRate {
	case 11025, 22050, 44100:
	default:
		return fmt.Errorf("sample rate must be 11025, 22050 or 44100, got %d", cfg.SampleRate)
	}
	if cfg.Channels != 1 && cfg.Channels != 2 {
		return fmt.Errorf("channels must be 1 or 2, got %d", cfg.Channels)
	}
	if cfg.totalBytes()%bufferCount != 0 {
		return fmt.Errorf("ring of %d bytes does not divide into %d buffers", cfg.totalBytes(), bufferCount)
	}
	return nil
}
