package maskpost

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThreshold(t *testing.T) {
	mask := []float32{0.1, 0.5, 0.49, 0.9, 0}
	Threshold(mask, 0.5)
	assert.Equal(t, []float32{0, 1, 0, 1, 0}, mask)
}

func TestBlurPreservesFlatRegions(t *testing.T) {
	const w, h = 16, 16
	mask := make([]float32, w*h)
	for i := range mask {
		mask[i] = 1
	}
	out := Blur(mask, w, h, 2.0)
	require.Len(t, out, w*h)
	for _, v := range out {
		assert.InDelta(t, 1.0, v, 0.01)
	}
}

func TestBlurZeroSigmaIsNoop(t *testing.T) {
	mask := []float32{0, 1, 0, 1}
	out := Blur(mask, 2, 2, 0)
	assert.Equal(t, mask, out)
}

func TestBlurSoftensEdges(t *testing.T) {
	const w, h = 16, 16
	mask := make([]float32, w*h)
	for y := 0; y < h; y++ {
		for x := w / 2; x < w; x++ {
			mask[y*w+x] = 1
		}
	}
	out := Blur(mask, w, h, 2.0)

	// The value right at the step edge lands between the extremes.
	edge := out[8*w+w/2]
	assert.Greater(t, edge, float32(0.05))
	assert.Less(t, edge, float32(0.95))
}

func TestUpscaleDimensions(t *testing.T) {
	const w, h = 4, 4
	mask := make([]float32, w*h)
	for i := range mask {
		mask[i] = 0.5
	}
	out := Upscale(mask, w, h, 16, 8)
	require.Len(t, out, 16*8)
	for _, v := range out {
		assert.InDelta(t, 0.5, v, 0.01)
	}
}

func TestUpscaleSameSizeIsNoop(t *testing.T) {
	mask := []float32{0.25, 0.75}
	out := Upscale(mask, 2, 1, 2, 1)
	assert.Equal(t, mask, out)
}
