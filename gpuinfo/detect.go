package gpuinfo

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// SMIQuery queries NVIDIA devices through the nvidia-smi CLI. It avoids a
// cgo NVML dependency; the tool ships with every driver install.
type SMIQuery struct {
	// Path overrides the nvidia-smi binary location. Empty means $PATH lookup.
	Path string
}

func (q SMIQuery) Devices() ([]Device, error) {
	bin := q.Path
	if bin == "" {
		bin = "nvidia-smi"
	}

	cmd := exec.Command(bin,
		"--query-gpu=index,name,compute_cap,memory.total",
		"--format=csv,noheader,nounits")
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("nvidia-smi query: %w", err)
	}
	return parseSMIOutput(output)
}

// parseSMIOutput parses nvidia-smi CSV lines of the form
// "0, NVIDIA GeForce RTX 4090, 8.9, 24564". Malformed lines are skipped
// rather than failing the whole query.
func parseSMIOutput(output []byte) ([]Device, error) {
	var devices []Device
	for _, line := range strings.Split(string(output), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		fields := strings.Split(line, ",")
		if len(fields) < 4 {
			continue
		}

		index, err := strconv.Atoi(strings.TrimSpace(fields[0]))
		if err != nil {
			continue
		}
		name := strings.TrimSpace(fields[1])

		major, minor, err := parseComputeCap(strings.TrimSpace(fields[2]))
		if err != nil {
			continue
		}

		memMB, _ := strconv.ParseUint(strings.TrimSpace(fields[3]), 10, 64)

		devices = append(devices, Device{
			Index:         index,
			Name:          name,
			ComputeMajor:  major,
			ComputeMinor:  minor,
			TotalMemoryMB: memMB,
		})
	}
	if len(devices) == 0 {
		return nil, fmt.Errorf("nvidia-smi reported no parseable devices")
	}
	return devices, nil
}

// parseComputeCap splits a "major.minor" compute capability string.
func parseComputeCap(s string) (major, minor int, err error) {
	dot := strings.IndexByte(s, '.')
	if dot < 0 {
		return 0, 0, fmt.Errorf("malformed compute capability %q", s)
	}
	major, err = strconv.Atoi(s[:dot])
	if err != nil {
		return 0, 0, fmt.Errorf("malformed compute capability %q", s)
	}
	minor, err = strconv.Atoi(s[dot+1:])
	if err != nil {
		return 0, 0, fmt.Errorf("malformed compute capability %q", s)
	}
	return major, minor, nil
}
