// Package model is the catalog of supported network families. Each entry
// supplies what the session manager and preprocessor need — input
// geometry, normalization constants, tensor shapes, shape profiles for
// the graph-compiler backend — plus the per-family output handling. The
// rest of the system depends only on the Model interface, never on a
// concrete family.
package model

import (
	"fmt"
	"sort"
	"strings"

	"github.com/vidmatte/vidmatte/preprocess"
)

// Model is the capability set of one network family.
type Model interface {
	// Name is the registry key ("mediapipe", "sinet", "rvm", "tcmonodepth").
	Name() string

	// InputSize is the network input resolution the preprocessor targets.
	InputSize() (w, h int)

	// PreprocessParams returns the per-channel normalization and layout
	// for this family.
	PreprocessParams() preprocess.Params

	// InputNames and OutputNames are the ONNX graph tensor names, in the
	// order tensors are bound.
	InputNames() []string
	OutputNames() []string

	// InputDims and OutputDims are the concrete tensor shapes (batch
	// always 1). One entry per name.
	InputDims() [][]int64
	OutputDims() [][]int64

	// OutputsAlphaMatte reports whether the mask is a continuous alpha
	// matte; binary-mask families get thresholded downstream.
	OutputsAlphaMatte() bool

	// ShapeProfile describes the concrete runtime shapes of dynamic
	// inputs for the graph-compiler backend, "name:1x3xHxW" entries
	// joined by commas. Empty for fully static models.
	ShapeProfile() string

	// FillExtraInputs writes constant non-image inputs (e.g. a
	// downsample ratio scalar) into the bound input buffers.
	FillExtraInputs(inputs [][]float32)

	// CarryState feeds recurrent outputs back into the next call's
	// inputs. No-op for stateless families.
	CarryState(outputs, inputs [][]float32)

	// ExtractMask converts the raw network outputs into a single
	// InputSize mask plane with values in [0,1].
	ExtractMask(outputs [][]float32) []float32
}

var registry = map[string]func() Model{
	"mediapipe":   func() Model { return &MediaPipe{} },
	"sinet":       func() Model { return &SINet{} },
	"rvm":         func() Model { return &RVM{} },
	"tcmonodepth": func() Model { return &TCMonoDepth{} },
}

// ForName returns a fresh Model for the given registry key. Fresh matters:
// recurrent families keep per-instance state assumptions in their dims.
func ForName(name string) (Model, error) {
	ctor, ok := registry[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("unknown model %q (have %s)", name, strings.Join(Names(), ", "))
	}
	return ctor(), nil
}

// Names lists the registry keys, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// stateless provides the no-op half of the interface for families without
// extra inputs or recurrent state.
type stateless struct{}

func (stateless) FillExtraInputs([][]float32)       {}
func (stateless) CarryState([][]float32, [][]float32) {}

// shapeProfile formats "name:1x3xHxW,..." for the graph compiler. Min,
// optimum and maximum profiles are all set to these same shapes by the
// session manager, since only one concrete shape is ever used at runtime.
func shapeProfile(names []string, dims [][]int64) string {
	parts := make([]string, 0, len(names))
	for i, name := range names {
		ds := make([]string, len(dims[i]))
		for j, d := range dims[i] {
			ds[j] = fmt.Sprintf("%d", d)
		}
		parts = append(parts, name+":"+strings.Join(ds, "x"))
	}
	return strings.Join(parts, ",")
}

// clamp01 bounds a mask value into [0,1].
func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
