package gpuinfo

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name          string
		major, minor  int
		wantArch      Architecture
		wantBuffering BufferingMode
		wantPrecision PrecisionMode
	}{
		{"hopper counts as ada tier", 9, 0, ArchAdaLovelace, BufferingTriple, PrecisionFP16},
		{"ada", 8, 9, ArchAdaLovelace, BufferingTriple, PrecisionFP16},
		{"ampere high", 8, 6, ArchAmpere, BufferingDouble, PrecisionFP16},
		{"ampere low", 8, 0, ArchAmpere, BufferingDouble, PrecisionFP16},
		{"turing", 7, 5, ArchTuring, BufferingDouble, PrecisionFP32},
		{"pascal", 6, 1, ArchUnknown, BufferingDouble, PrecisionFP32},
		{"ancient", 3, 5, ArchUnknown, BufferingDouble, PrecisionFP32},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			arch, buffering, precision := Classify(tt.major, tt.minor)
			assert.Equal(t, tt.wantArch, arch)
			assert.Equal(t, tt.wantBuffering, buffering)
			assert.Equal(t, tt.wantPrecision, precision)
		})
	}
}

type fakeQuery struct {
	devices []Device
	err     error
}

func (f fakeQuery) Devices() ([]Device, error) { return f.devices, f.err }

func TestDetectFirstDeviceWins(t *testing.T) {
	info, ok := Detect(fakeQuery{devices: []Device{
		{Index: 0, Name: "NVIDIA GeForce RTX 4090", ComputeMajor: 8, ComputeMinor: 9, TotalMemoryMB: 24564},
		{Index: 1, Name: "NVIDIA GeForce GTX 1060", ComputeMajor: 6, ComputeMinor: 1, TotalMemoryMB: 6144},
	}})
	require.True(t, ok)
	assert.Equal(t, 0, info.DeviceID)
	assert.Equal(t, "NVIDIA GeForce RTX 4090", info.Name)
	assert.Equal(t, ArchAdaLovelace, info.Architecture)
	assert.Equal(t, BufferingTriple, info.DefaultBuffering)
	assert.Equal(t, PrecisionFP16, info.DefaultPrecision)
	assert.Equal(t, uint64(24564), info.TotalMemoryMB)
}

func TestDetectQueryErrorFallsBackToSafeDefaults(t *testing.T) {
	info, ok := Detect(fakeQuery{err: errors.New("driver not loaded")})
	assert.False(t, ok)
	assert.Equal(t, SafeDefaults(), info)
}

func TestDetectZeroDevices(t *testing.T) {
	info, ok := Detect(fakeQuery{})
	assert.False(t, ok)
	assert.Equal(t, ArchUnknown, info.Architecture)
	assert.Equal(t, BufferingDouble, info.DefaultBuffering)
	assert.Equal(t, PrecisionFP32, info.DefaultPrecision)
}

func TestParseSMIOutput(t *testing.T) {
	out := []byte("0, NVIDIA GeForce RTX 3080, 8.6, 10240\n1, NVIDIA GeForce RTX 2070, 7.5, 8192\n\n")
	devices, err := parseSMIOutput(out)
	require.NoError(t, err)
	require.Len(t, devices, 2)
	assert.Equal(t, Device{Index: 0, Name: "NVIDIA GeForce RTX 3080", ComputeMajor: 8, ComputeMinor: 6, TotalMemoryMB: 10240}, devices[0])
	assert.Equal(t, 7, devices[1].ComputeMajor)
	assert.Equal(t, 5, devices[1].ComputeMinor)
}

func TestParseSMIOutputSkipsMalformedLines(t *testing.T) {
	out := []byte("garbage\n0, NVIDIA T4, 7.5, 16384\nnot,enough\n")
	devices, err := parseSMIOutput(out)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "NVIDIA T4", devices[0].Name)
}

func TestParseSMIOutputAllMalformed(t *testing.T) {
	_, err := parseSMIOutput([]byte("no devices here\n"))
	assert.Error(t, err)
}

func TestParseComputeCap(t *testing.T) {
	major, minor, err := parseComputeCap("8.9")
	require.NoError(t, err)
	assert.Equal(t, 8, major)
	assert.Equal(t, 9, minor)

	_, _, err = parseComputeCap("89")
	assert.Error(t, err)
}
