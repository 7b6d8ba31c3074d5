package audio

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/waveout/waveout/internal/audio/sink"
	"github.com/waveout/waveout/internal/logger"
)

const (
	// waitSlice bounds each blocking wait on the sink so the liveness
	// flag is observed promptly once shutdown begins.
	waitSlice = 250 * time.Millisecond

	// joinTimeout bounds how long Close waits for the worker to exit
	// before abandoning it.
	joinTimeout = time.Second
)

// worker is the rotation engine. It waits for the sink to signal that a
// submitted buffer finished, reclaims every finished buffer in a fixed
// order, refills it through the render callback and resubmits it. The
// worker is the sole invoker of the callback and the sole mutator of the
// Done->Free->Submitted transitions, so the callback never runs
// concurrently with itself.
type worker struct {
	snk     sink.Sink
	buffers []*sink.Buffer
	render  RenderFunc

	alive   atomic.Bool
	running atomic.Bool
	resume  chan struct{}
	stop    chan struct{}
	done    chan struct{}

	// failure holds the Code of a loop abort; surfaced to the caller by
	// the next lifecycle call, not pushed.
	failure atomic.Uint32
}

func newWorker(snk sink.Sink, buffers []*sink.Buffer, render RenderFunc) *worker {
	w := &worker{
		snk:     snk,
		buffers: buffers,
		render:  render,
		resume:  make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	w.alive.Store(true)
	return w
}

// run is the worker loop. It starts gated: nothing happens until start
// releases it. While paused, completions may pile up on the sink but no
// buffer is refilled.
func (w *worker) run() {
	defer close(w.done)

	for w.alive.Load() {
		if !w.running.Load() {
			select {
			case <-w.resume:
				// A readiness signal consumed during the pause is
				// coalesced and gone from the channel; rescan so
				// buffers that finished while paused are recycled.
				if err := w.rotate(); err != nil {
					return
				}
			case <-w.stop:
				return
			}
			continue
		}

		if err := w.snk.WaitReady(waitSlice); err != nil {
			if errors.Is(err, sink.ErrTimeout) {
				continue
			}
			// The shipped backends fail WaitReady only with ErrTimeout;
			// anything else means the device stopped delivering
			// completions, recorded as a write failure.
			w.fail(CodeDeviceWrite, err)
			return
		}
		if !w.alive.Load() {
			return
		}
		if !w.running.Load() {
			continue
		}
		if err := w.rotate(); err != nil {
			return
		}
	}
}

// rotate scans all buffers in fixed order and recycles every finished
// one: unprepare, refill in place, prepare, resubmit. A device failure
// mid-sequence aborts the worker; a half-prepared buffer is unsafe to
// resubmit blindly, so there is no retry.
func (w *worker) rotate() error {
	for _, b := range w.buffers {
		if b.State() != sink.BufferDone {
			continue
		}
		if err := w.snk.Unprepare(b); err != nil {
			w.fail(CodeDevicePrepare, err)
			return err
		}
		w.render(b.Data)
		if err := w.snk.Prepare(b); err != nil {
			w.fail(CodeDevicePrepare, err)
			return err
		}
		if err := w.snk.Submit(b); err != nil {
			w.fail(CodeDeviceWrite, err)
			return err
		}
	}
	return nil
}

func (w *worker) start() {
	w.running.Store(true)
	select {
	case w.resume <- struct{}{}:
	default:
	}
}

func (w *worker) pause() {
	w.running.Store(false)
}

// shutdown clears the liveness flag and joins the worker with a bounded
// timeout. Returns false if the worker did not exit in time and had to be
// abandoned.
func (w *worker) shutdown(timeout time.Duration) bool {
	w.alive.Store(false)
	close(w.stop)

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-w.done:
		return true
	case <-timer.C:
		return false
	}
}

func (w *worker) fail(code Code, err error) {
	w.failure.Store(uint32(code))
	logger.ErrorLog("rotation worker aborting",
		logger.String("code", code.String()),
		logger.Error(err),
	)
}
