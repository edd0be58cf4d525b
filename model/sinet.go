package model

import "github.com/vidmatte/vidmatte/preprocess"

// SINet is a lightweight portrait-segmentation family: 320×320 BCHW
// input with per-channel mean/std normalization, two-channel
// (background, foreground) CHW output.
type SINet struct {
	stateless
}

const sinetSize = 320

func (m *SINet) Name() string         { return "sinet" }
func (m *SINet) InputSize() (int, int) { return sinetSize, sinetSize }

func (m *SINet) PreprocessParams() preprocess.Params {
	// (pixel - mean) / std; std folded with the 0..255 range.
	return preprocess.Params{
		MeanR: 102.890434, MeanG: 111.25247, MeanB: 126.91212,
		ScaleR: 62.93292 * 255.0, ScaleG: 62.82138 * 255.0, ScaleB: 66.355705 * 255.0,
		OutputCHW: true,
	}
}

func (m *SINet) InputNames() []string  { return []string{"input"} }
func (m *SINet) OutputNames() []string { return []string{"output"} }

func (m *SINet) InputDims() [][]int64 {
	return [][]int64{{1, 3, sinetSize, sinetSize}}
}

func (m *SINet) OutputDims() [][]int64 {
	return [][]int64{{1, 2, sinetSize, sinetSize}}
}

func (m *SINet) OutputsAlphaMatte() bool { return false }
func (m *SINet) ShapeProfile() string    { return "" }

// ExtractMask takes the foreground channel (second plane) of the CHW
// output.
func (m *SINet) ExtractMask(outputs [][]float32) []float32 {
	const plane = sinetSize * sinetSize
	mask := make([]float32, plane)
	fg := outputs[0][plane : 2*plane]
	for i := range mask {
		mask[i] = clamp01(fg[i])
	}
	return mask
}
