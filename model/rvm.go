package model

import "github.com/vidmatte/vidmatte/preprocess"

// RVM is the robust-video-matting family: full-HD BCHW source input, a
// scalar downsample-ratio input, and four ConvGRU recurrent states fed
// back between frames for temporal consistency. The model's Deep Guided
// Filter refiner upsamples the internally downsampled alpha matte back
// to source resolution. Dynamic shapes, so the graph-compiler backend
// needs an explicit shape profile.
type RVM struct{}

const (
	rvmWidth           = 1920
	rvmHeight          = 1080
	rvmDownsampleRatio = 0.25
)

// Channel counts of the four recurrent states.
var rvmRecChannels = [4]int64{16, 20, 40, 64}

func (m *RVM) Name() string         { return "rvm" }
func (m *RVM) InputSize() (int, int) { return rvmWidth, rvmHeight }

func (m *RVM) PreprocessParams() preprocess.Params {
	return preprocess.Params{ScaleR: 255, ScaleG: 255, ScaleB: 255, OutputCHW: true}
}

func (m *RVM) InputNames() []string {
	return []string{"src", "r1i", "r2i", "r3i", "r4i", "downsample_ratio"}
}

// OutputNames skips the foreground output; only the alpha matte and the
// recurrent states are bound.
func (m *RVM) OutputNames() []string {
	return []string{"pha", "r1o", "r2o", "r3o", "r4o"}
}

// recStateDims computes the recurrent state shapes. States live at
// backbone stride fractions of the internal (downsampled) resolution;
// each MobileNetV3 stage halves with ceil division.
func recStateDims() [][]int64 {
	h := int64(float64(rvmHeight) * rvmDownsampleRatio)
	w := int64(float64(rvmWidth) * rvmDownsampleRatio)
	dims := make([][]int64, 4)
	for i := 0; i < 4; i++ {
		h = (h + 1) / 2
		w = (w + 1) / 2
		dims[i] = []int64{1, rvmRecChannels[i], h, w}
	}
	return dims
}

func (m *RVM) InputDims() [][]int64 {
	dims := [][]int64{{1, 3, rvmHeight, rvmWidth}}
	dims = append(dims, recStateDims()...)
	dims = append(dims, []int64{1}) // downsample_ratio scalar
	return dims
}

func (m *RVM) OutputDims() [][]int64 {
	dims := [][]int64{{1, 1, rvmHeight, rvmWidth}}
	return append(dims, recStateDims()...)
}

func (m *RVM) OutputsAlphaMatte() bool { return true }

func (m *RVM) ShapeProfile() string {
	// downsample_ratio stays out of the profile: scalars are not
	// profiled by the graph compiler.
	names := m.InputNames()
	dims := m.InputDims()
	return shapeProfile(names[:5], dims[:5])
}

// FillExtraInputs sets the downsample-ratio scalar (input index 5).
func (m *RVM) FillExtraInputs(inputs [][]float32) {
	inputs[5][0] = rvmDownsampleRatio
}

// CarryState copies the recurrent outputs r1o..r4o into the next call's
// r1i..r4i. First-frame state is all zeros, which the session's freshly
// allocated tensors already provide.
func (m *RVM) CarryState(outputs, inputs [][]float32) {
	for i := 1; i <= 4; i++ {
		copy(inputs[i], outputs[i])
	}
}

func (m *RVM) ExtractMask(outputs [][]float32) []float32 {
	mask := make([]float32, rvmWidth*rvmHeight)
	for i := range mask {
		mask[i] = clamp01(outputs[0][i])
	}
	return mask
}
