package model

import "github.com/vidmatte/vidmatte/preprocess"

// TCMonoDepth is the temporally-consistent monocular depth family:
// BCHW input with raw 0..255 values (no normalization), single-plane
// depth output that is min-max normalized into [0,1] per frame.
type TCMonoDepth struct {
	stateless
}

const (
	tcDepthWidth  = 512
	tcDepthHeight = 256
)

func (m *TCMonoDepth) Name() string         { return "tcmonodepth" }
func (m *TCMonoDepth) InputSize() (int, int) { return tcDepthWidth, tcDepthHeight }

func (m *TCMonoDepth) PreprocessParams() preprocess.Params {
	// Values stay in the 0..255 range, CHW transpose only.
	return preprocess.Params{ScaleR: 1, ScaleG: 1, ScaleB: 1, OutputCHW: true}
}

func (m *TCMonoDepth) InputNames() []string  { return []string{"input"} }
func (m *TCMonoDepth) OutputNames() []string { return []string{"output"} }

func (m *TCMonoDepth) InputDims() [][]int64 {
	return [][]int64{{1, 3, tcDepthHeight, tcDepthWidth}}
}

func (m *TCMonoDepth) OutputDims() [][]int64 {
	return [][]int64{{1, 1, tcDepthHeight, tcDepthWidth}}
}

func (m *TCMonoDepth) OutputsAlphaMatte() bool { return true }
func (m *TCMonoDepth) ShapeProfile() string    { return "" }

// ExtractMask min-max normalizes the depth plane into [0,1]. A flat
// plane (max == min) maps to all zeros.
func (m *TCMonoDepth) ExtractMask(outputs [][]float32) []float32 {
	plane := outputs[0][:tcDepthWidth*tcDepthHeight]
	lo, hi := plane[0], plane[0]
	for _, v := range plane {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	mask := make([]float32, len(plane))
	if hi > lo {
		inv := 1 / (hi - lo)
		for i, v := range plane {
			mask[i] = (v - lo) * inv
		}
	}
	return mask
}
