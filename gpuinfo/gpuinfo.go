// Package gpuinfo classifies the local GPU into an architecture tier and
// derives safe performance defaults (buffering depth, inference precision)
// from it. Detection failures are never fatal: callers fall back to
// SafeDefaults and run on the base accelerator.
package gpuinfo

import (
	"fmt"
	"log/slog"
)

// Architecture is the GPU hardware generation, derived from the CUDA
// compute capability version.
type Architecture int

const (
	ArchUnknown Architecture = iota
	ArchTuring               // RTX 2000 series (sm_75)
	ArchAmpere               // RTX 3000 series (sm_80..86)
	ArchAdaLovelace          // RTX 4000 series (sm_89+)
)

func (a Architecture) String() string {
	switch a {
	case ArchTuring:
		return "Turing"
	case ArchAmpere:
		return "Ampere"
	case ArchAdaLovelace:
		return "Ada Lovelace"
	default:
		return "Unknown"
	}
}

// BufferingMode declares how many frames of pipeline latency the
// surrounding system should budget for. The inference queue itself always
// keeps one pending input and one pending output; Triple is a policy
// label for the host's latency expectations, not extra queue depth.
type BufferingMode int

const (
	BufferingDouble BufferingMode = 2 // lower latency, default for Turing
	BufferingTriple BufferingMode = 3 // smoother playback, default for Ada
)

func (m BufferingMode) String() string {
	if m == BufferingTriple {
		return "triple"
	}
	return "double"
}

// PrecisionMode selects the inference numeric precision.
type PrecisionMode int

const (
	PrecisionFP32 PrecisionMode = iota // default for Turing and unknown parts
	PrecisionFP16                      // default for Ampere/Ada
)

func (p PrecisionMode) String() string {
	if p == PrecisionFP16 {
		return "fp16"
	}
	return "fp32"
}

// Info describes the detected compute device and the defaults derived
// from its tier. Created once at startup and immutable afterwards.
type Info struct {
	DeviceID         int
	Name             string
	ComputeMajor     int
	ComputeMinor     int
	TotalMemoryMB    uint64
	Architecture     Architecture
	DefaultBuffering BufferingMode
	DefaultPrecision PrecisionMode
}

func (i Info) String() string {
	return fmt.Sprintf("%s (sm_%d%d, %dMB, %s)",
		i.Name, i.ComputeMajor, i.ComputeMinor, i.TotalMemoryMB, i.Architecture)
}

// SafeDefaults is what callers use when no compatible device is present:
// double buffering, full precision, unknown tier.
func SafeDefaults() Info {
	return Info{
		Architecture:     ArchUnknown,
		DefaultBuffering: BufferingDouble,
		DefaultPrecision: PrecisionFP32,
	}
}

// Classify maps a compute capability version to an architecture tier and
// its default buffering/precision policy. Pure function, no device needed.
func Classify(major, minor int) (Architecture, BufferingMode, PrecisionMode) {
	sm := major*10 + minor
	switch {
	case sm >= 89:
		return ArchAdaLovelace, BufferingTriple, PrecisionFP16
	case sm >= 80:
		return ArchAmpere, BufferingDouble, PrecisionFP16
	case sm >= 75:
		return ArchTuring, BufferingDouble, PrecisionFP32
	default:
		return ArchUnknown, BufferingDouble, PrecisionFP32
	}
}

// Device is one compute device as reported by a DeviceQuery.
type Device struct {
	Index         int
	Name          string
	ComputeMajor  int
	ComputeMinor  int
	TotalMemoryMB uint64
}

// DeviceQuery enumerates compute devices. The nvidia-smi backed
// implementation lives in detect.go; tests substitute fakes.
type DeviceQuery interface {
	Devices() ([]Device, error)
}

// Detect queries the first available compute device and classifies it.
// Returns ok=false when the query fails or reports zero devices; callers
// must then use SafeDefaults rather than treating this as an error.
func Detect(q DeviceQuery) (Info, bool) {
	devices, err := q.Devices()
	if err != nil {
		slog.Warn("no compatible GPU detected", "err", err)
		return SafeDefaults(), false
	}
	if len(devices) == 0 {
		slog.Warn("no compatible GPU detected", "err", "zero devices reported")
		return SafeDefaults(), false
	}

	d := devices[0]
	arch, buffering, precision := Classify(d.ComputeMajor, d.ComputeMinor)
	info := Info{
		DeviceID:         d.Index,
		Name:             d.Name,
		ComputeMajor:     d.ComputeMajor,
		ComputeMinor:     d.ComputeMinor,
		TotalMemoryMB:    d.TotalMemoryMB,
		Architecture:     arch,
		DefaultBuffering: buffering,
		DefaultPrecision: precision,
	}
	slog.Info("GPU detected",
		"name", info.Name,
		"sm", d.ComputeMajor*10+d.ComputeMinor,
		"memoryMB", info.TotalMemoryMB,
		"architecture", info.Architecture.String(),
		"defaultBuffering", info.DefaultBuffering.String(),
		"defaultPrecision", info.DefaultPrecision.String())
	return info, true
}
