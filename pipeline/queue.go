// Package pipeline decouples inference latency from the frame cadence of
// the host. A producer pushes frames without ever blocking; one worker
// goroutine runs the injected inference callback; a consumer polls for
// the most recent completed result. Frames are dropped, never queued:
// each side holds exactly one slot and a new arrival replaces an
// unconsumed occupant.
package pipeline

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vidmatte/vidmatte/gpuinfo"
)

// Frame is one packed BGRA video frame. Ownership transfers into the
// queue on PushFrame; the producer must not touch Data afterwards.
type Frame struct {
	Data      []byte
	Width     int
	Height    int
	Stride    int
	Seq       uint64
	Timestamp time.Time
}

// Mask is one completed inference result: a Width×Height float map in
// [0,1] (alpha matte or foreground probability, model dependent).
type Mask struct {
	Data   []float32
	Width  int
	Height int
	Seq    uint64
}

// InferenceFunc runs one inference on a frame. It is invoked from the
// worker goroutine only and must not retain the frame beyond the call.
// A false return drops the frame with no published result.
type InferenceFunc func(*Frame) (*Mask, bool)

// Queue is the async inference queue. The zero value is ready to use.
type Queue struct {
	inferenceFunc InferenceFunc
	bufferingMode gpuinfo.BufferingMode

	running atomic.Bool
	done    chan struct{}

	// Input slot: latest frame from the producer. Guarded by inputMu,
	// never held together with outputMu.
	inputMu  sync.Mutex
	inputCv  *sync.Cond
	input    *Frame
	hasInput bool

	// Output slot: latest completed mask.
	outputMu  sync.Mutex
	output    *Mask
	hasOutput bool

	pushed    atomic.Uint64
	processed atomic.Uint64
	dropped   atomic.Uint64
}

// Stats is a snapshot of queue counters.
type Stats struct {
	Running       bool
	BufferingMode gpuinfo.BufferingMode
	Pushed        uint64
	Processed     uint64
	Dropped       uint64
}

// Start spawns the worker goroutine. If the queue is already running it
// is stopped first, so Start doubles as a clean restart. Counters reset.
func (q *Queue) Start(fn InferenceFunc, mode gpuinfo.BufferingMode) {
	if q.running.Load() {
		q.Stop()
	}

	q.inputMu.Lock()
	if q.inputCv == nil {
		q.inputCv = sync.NewCond(&q.inputMu)
	}
	q.input = nil
	q.hasInput = false
	q.inputMu.Unlock()

	q.outputMu.Lock()
	q.output = nil
	q.hasOutput = false
	q.outputMu.Unlock()

	q.inferenceFunc = fn
	q.bufferingMode = mode
	q.pushed.Store(0)
	q.processed.Store(0)
	q.dropped.Store(0)
	q.done = make(chan struct{})
	q.running.Store(true)

	go q.workerLoop(q.done)

	slog.Info("async inference started", "buffering", mode.String())
}

// Stop signals the worker and joins it. Idempotent; a second call is a
// no-op. Stop does not interrupt an in-flight inference call — it waits
// for the current iteration to finish.
func (q *Queue) Stop() {
	if !q.running.CompareAndSwap(true, false) {
		return
	}

	q.inputMu.Lock()
	q.inputCv.Broadcast()
	q.inputMu.Unlock()

	<-q.done

	slog.Info("async inference stopped",
		"processed", q.processed.Load(), "dropped", q.dropped.Load())
}

// IsRunning reports whether the worker is active.
func (q *Queue) IsRunning() bool { return q.running.Load() }

// PushFrame hands a frame to the worker. Never blocks beyond a single
// mutex acquisition: if the previous frame is still unconsumed it is
// dropped and replaced. This is the producer-side latency guarantee.
func (q *Queue) PushFrame(f *Frame) {
	q.pushed.Add(1)

	q.inputMu.Lock()
	if q.inputCv == nil {
		q.inputCv = sync.NewCond(&q.inputMu)
	}
	if q.hasInput {
		q.dropped.Add(1)
	}
	q.input = f
	q.hasInput = true
	q.inputCv.Signal()
	q.inputMu.Unlock()
}

// LatestMask returns the most recently completed result, or ok=false when
// no unread result is present. A result is returned exactly once: the
// output slot is cleared on read, and ownership of the mask transfers to
// the caller.
func (q *Queue) LatestMask() (*Mask, bool) {
	q.outputMu.Lock()
	defer q.outputMu.Unlock()

	if !q.hasOutput || q.output == nil {
		return nil, false
	}
	m := q.output
	q.output = nil
	q.hasOutput = false
	return m, true
}

// Stats returns a counter snapshot.
func (q *Queue) Stats() Stats {
	return Stats{
		Running:       q.running.Load(),
		BufferingMode: q.bufferingMode,
		Pushed:        q.pushed.Load(),
		Processed:     q.processed.Load(),
		Dropped:       q.dropped.Load(),
	}
}

func (q *Queue) workerLoop(done chan struct{}) {
	defer close(done)

	for q.running.Load() {
		var local *Frame

		q.inputMu.Lock()
		for !q.hasInput && q.running.Load() {
			q.inputCv.Wait()
		}
		if !q.running.Load() {
			q.inputMu.Unlock()
			return
		}
		// Exchange the slot into a local so pushing can proceed
		// immediately without waiting for inference.
		local = q.input
		q.input = nil
		q.hasInput = false
		q.inputMu.Unlock()

		if local == nil {
			continue
		}

		mask, ok := q.inferenceFunc(local)
		if !ok {
			// Per-frame failure: skip publishing, keep going.
			continue
		}

		q.outputMu.Lock()
		q.output = mask
		q.hasOutput = true
		q.outputMu.Unlock()
		q.processed.Add(1)
	}
}
