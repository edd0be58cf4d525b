package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vidmatte/vidmatte/gpuinfo"
	"github.com/vidmatte/vidmatte/pipeline"
)

func TestSynthFrameGeometry(t *testing.T) {
	f := synthFrame(7, time.Now())
	assert.Equal(t, synthWidth, f.Width)
	assert.Equal(t, synthHeight, f.Height)
	assert.Equal(t, synthWidth*4, f.Stride)
	assert.Equal(t, uint64(7), f.Seq)
	require.Len(t, f.Data, synthWidth*synthHeight*4)
}

func TestSynthFrameAllocatesFreshBuffer(t *testing.T) {
	// Pushing transfers ownership of Data to the queue, so consecutive
	// frames must not share a backing slice.
	a := synthFrame(0, time.Now())
	b := synthFrame(1, time.Now())
	assert.NotSame(t, &a.Data[0], &b.Data[0])

	// Writing into one frame must not leak into the other.
	a.Data[0] = 0xFF
	assert.NotEqual(t, a.Data[0], b.Data[0])
}

func TestSynthFramesDifferBySequence(t *testing.T) {
	a := synthFrame(0, time.Now())
	b := synthFrame(1, time.Now())
	assert.NotEqual(t, a.Data[0], b.Data[0])
}

func TestProducerNeverTouchesPushedData(t *testing.T) {
	// The worker reads Data concurrently with the producer generating the
	// next frame. With per-frame buffers the race detector stays quiet;
	// a producer reusing one backing slice would trip it here.
	var q pipeline.Queue
	q.Start(func(f *pipeline.Frame) (*pipeline.Mask, bool) {
		var sum byte
		for _, v := range f.Data {
			sum += v
		}
		return &pipeline.Mask{Data: []float32{float32(sum)}, Width: 1, Height: 1, Seq: f.Seq}, true
	}, gpuinfo.BufferingDouble)
	defer q.Stop()

	for seq := uint64(0); seq < 50; seq++ {
		q.PushFrame(synthFrame(seq, time.Now()))
	}
	q.Stop()

	// At most one frame can sit unconsumed in the input slot when the
	// worker stops; everything else was processed or dropped.
	st := q.Stats()
	assert.LessOrEqual(t, st.Processed+st.Dropped, st.Pushed)
	assert.GreaterOrEqual(t, st.Processed+st.Dropped+1, st.Pushed)
}
