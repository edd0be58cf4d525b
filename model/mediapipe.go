package model

import "github.com/vidmatte/vidmatte/preprocess"

// MediaPipe is the selfie-segmentation family: 256×256 HWC input scaled
// to [0,1], single-channel foreground probability output. Fast, binary
// mask, no temporal state.
type MediaPipe struct {
	stateless
}

const mediaPipeSize = 256

func (m *MediaPipe) Name() string         { return "mediapipe" }
func (m *MediaPipe) InputSize() (int, int) { return mediaPipeSize, mediaPipeSize }

func (m *MediaPipe) PreprocessParams() preprocess.Params {
	return preprocess.Params{ScaleR: 255, ScaleG: 255, ScaleB: 255}
}

func (m *MediaPipe) InputNames() []string  { return []string{"input_1"} }
func (m *MediaPipe) OutputNames() []string { return []string{"segment"} }

func (m *MediaPipe) InputDims() [][]int64 {
	return [][]int64{{1, mediaPipeSize, mediaPipeSize, 3}}
}

func (m *MediaPipe) OutputDims() [][]int64 {
	return [][]int64{{1, mediaPipeSize, mediaPipeSize, 1}}
}

func (m *MediaPipe) OutputsAlphaMatte() bool { return false }
func (m *MediaPipe) ShapeProfile() string    { return "" }

func (m *MediaPipe) ExtractMask(outputs [][]float32) []float32 {
	mask := make([]float32, mediaPipeSize*mediaPipeSize)
	for i := range mask {
		mask[i] = clamp01(outputs[0][i])
	}
	return mask
}
