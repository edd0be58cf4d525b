package pipeline

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vidmatte/vidmatte/gpuinfo"
)

func testFrame(seq uint64) *Frame {
	return &Frame{Data: []byte{0, 0, 0, 255}, Width: 1, Height: 1, Stride: 4, Seq: seq, Timestamp: time.Now()}
}

// gate lets a test hold the worker inside the inference callback so slot
// behavior can be exercised deterministically.
type gate struct {
	entered chan uint64
	release chan bool // result success flag
}

func newGate() *gate {
	return &gate{entered: make(chan uint64, 16), release: make(chan bool, 16)}
}

func (g *gate) fn(f *Frame) (*Mask, bool) {
	g.entered <- f.Seq
	ok := <-g.release
	if !ok {
		return nil, false
	}
	return &Mask{Data: []float32{1}, Width: 1, Height: 1, Seq: f.Seq}, true
}

func TestLatestMaskEmptyOnFreshQueue(t *testing.T) {
	q := &Queue{}
	g := newGate()
	q.Start(g.fn, gpuinfo.BufferingDouble)
	defer q.Stop()

	m, ok := q.LatestMask()
	assert.False(t, ok)
	assert.Nil(t, m)
}

func TestResultDeliveredExactlyOnce(t *testing.T) {
	q := &Queue{}
	g := newGate()
	q.Start(g.fn, gpuinfo.BufferingDouble)
	defer q.Stop()

	q.PushFrame(testFrame(1))
	require.Equal(t, uint64(1), <-g.entered)
	g.release <- true

	// Wait for the worker to publish.
	require.Eventually(t, func() bool {
		return q.Stats().Processed == 1
	}, time.Second, time.Millisecond)

	m, ok := q.LatestMask()
	require.True(t, ok)
	assert.Equal(t, uint64(1), m.Seq)

	m, ok = q.LatestMask()
	assert.False(t, ok, "second read with no new result must return false")
	assert.Nil(t, m)
}

func TestOverloadDropsAllButLast(t *testing.T) {
	q := &Queue{}
	g := newGate()
	q.Start(g.fn, gpuinfo.BufferingDouble)
	defer q.Stop()

	// Occupy the worker with frame 1.
	q.PushFrame(testFrame(1))
	require.Equal(t, uint64(1), <-g.entered)

	// Push 5 frames with no drain: frame 2 fills the slot, 3..6 each
	// replace an unconsumed occupant.
	for seq := uint64(2); seq <= 6; seq++ {
		q.PushFrame(testFrame(seq))
	}
	assert.Equal(t, uint64(4), q.Stats().Dropped)

	// Release frame 1, then the worker picks up the survivor (frame 6).
	g.release <- true
	assert.Equal(t, uint64(6), <-g.entered)
	g.release <- true

	require.Eventually(t, func() bool {
		return q.Stats().Processed == 2
	}, time.Second, time.Millisecond)

	st := q.Stats()
	assert.Equal(t, uint64(6), st.Pushed)
	// Every push is either dropped or delivered to the worker, never both.
	delivered := st.Pushed - st.Dropped
	assert.Equal(t, uint64(2), delivered)

	m, ok := q.LatestMask()
	require.True(t, ok)
	assert.Equal(t, uint64(6), m.Seq, "only the most recent completed result is retained")
}

func TestFailedInferencePublishesNothing(t *testing.T) {
	q := &Queue{}
	g := newGate()
	q.Start(g.fn, gpuinfo.BufferingDouble)
	defer q.Stop()

	q.PushFrame(testFrame(1))
	<-g.entered
	g.release <- false // inference failure

	q.PushFrame(testFrame(2))
	require.Equal(t, uint64(2), <-g.entered)
	g.release <- true

	require.Eventually(t, func() bool {
		return q.Stats().Processed == 1
	}, time.Second, time.Millisecond)

	m, ok := q.LatestMask()
	require.True(t, ok)
	assert.Equal(t, uint64(2), m.Seq)
}

func TestPushFrameNeverBlocks(t *testing.T) {
	q := &Queue{}
	g := newGate()
	q.Start(g.fn, gpuinfo.BufferingTriple)
	defer q.Stop()

	q.PushFrame(testFrame(1))
	<-g.entered // worker now stuck in the callback

	start := time.Now()
	for seq := uint64(2); seq <= 101; seq++ {
		q.PushFrame(testFrame(seq))
	}
	elapsed := time.Since(start)
	assert.Less(t, elapsed, 100*time.Millisecond, "pushing must be bounded by a mutex acquisition, not inference latency")

	g.release <- true
	<-g.entered
	g.release <- true
}

func TestStopIsIdempotent(t *testing.T) {
	q := &Queue{}
	q.Start(func(f *Frame) (*Mask, bool) { return nil, false }, gpuinfo.BufferingDouble)

	q.Stop()
	q.Stop() // no-op, must not hang or panic
	assert.False(t, q.IsRunning())
}

func TestStopOnNeverStartedQueue(t *testing.T) {
	q := &Queue{}
	q.Stop()
	assert.False(t, q.IsRunning())
}

func TestStartWhileRunningRestartsCleanly(t *testing.T) {
	q := &Queue{}
	var firstCalls, secondCalls atomic.Uint64

	q.Start(func(f *Frame) (*Mask, bool) {
		firstCalls.Add(1)
		return &Mask{Seq: f.Seq}, true
	}, gpuinfo.BufferingDouble)

	q.PushFrame(testFrame(1))
	require.Eventually(t, func() bool { return q.Stats().Processed == 1 }, time.Second, time.Millisecond)

	// Restart with a different callback; counters reset, old worker joined.
	q.Start(func(f *Frame) (*Mask, bool) {
		secondCalls.Add(1)
		return &Mask{Seq: f.Seq}, true
	}, gpuinfo.BufferingDouble)

	st := q.Stats()
	assert.Equal(t, uint64(0), st.Pushed)
	assert.Equal(t, uint64(0), st.Processed)
	assert.Equal(t, uint64(0), st.Dropped)

	_, ok := q.LatestMask()
	assert.False(t, ok, "restart clears the output slot")

	q.PushFrame(testFrame(2))
	require.Eventually(t, func() bool { return q.Stats().Processed == 1 }, time.Second, time.Millisecond)
	q.Stop()

	assert.Equal(t, uint64(1), firstCalls.Load())
	assert.Equal(t, uint64(1), secondCalls.Load())
}

func TestStopWaitsForInFlightInference(t *testing.T) {
	q := &Queue{}
	g := newGate()
	q.Start(g.fn, gpuinfo.BufferingDouble)

	q.PushFrame(testFrame(1))
	<-g.entered

	stopped := make(chan struct{})
	go func() {
		q.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while an inference call was in flight")
	case <-time.After(20 * time.Millisecond):
	}

	g.release <- true
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return after the in-flight call finished")
	}
}

func TestBufferingModeIsAdvisory(t *testing.T) {
	q := &Queue{}
	g := newGate()
	q.Start(g.fn, gpuinfo.BufferingTriple)
	defer q.Stop()

	assert.Equal(t, gpuinfo.BufferingTriple, q.Stats().BufferingMode)

	// Internal depth stays one-in/one-out regardless of the label.
	q.PushFrame(testFrame(1))
	<-g.entered
	q.PushFrame(testFrame(2))
	q.PushFrame(testFrame(3))
	assert.Equal(t, uint64(1), q.Stats().Dropped)

	g.release <- true
	<-g.entered
	g.release <- true
}
