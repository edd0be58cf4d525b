package session

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	ort "github.com/yalue/onnxruntime_go"
)

// libraryName is the platform-specific ONNX Runtime shared library name.
func libraryName() string {
	switch runtime.GOOS {
	case "darwin":
		return "libonnxruntime.dylib"
	case "windows":
		return "onnxruntime.dll"
	default:
		return "libonnxruntime.so"
	}
}

// locateLibrary finds the ONNX Runtime shared library: the explicit path
// wins, then a handful of conventional install locations.
func locateLibrary(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("onnxruntime library not found at %s: %w", explicit, err)
		}
		return explicit, nil
	}

	name := libraryName()
	for _, dir := range []string{
		"/usr/local/lib",
		"/usr/lib",
		"/opt/onnxruntime/lib",
	} {
		candidate := filepath.Join(dir, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	// Fall back to letting the dynamic loader search its own paths.
	return "", nil
}

// InitializeRuntime bootstraps the ONNX Runtime environment. Call once
// at startup, before any session build; pair with DestroyRuntime on
// shutdown. libPath may be empty, in which case conventional locations
// and the loader search path are tried.
func InitializeRuntime(libPath string) error {
	if ort.IsInitialized() {
		return nil
	}

	resolved, err := locateLibrary(libPath)
	if err != nil {
		return err
	}
	if resolved != "" {
		ort.SetSharedLibraryPath(resolved)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("initializing onnxruntime environment: %w", err)
	}
	return nil
}

// DestroyRuntime tears the environment down. Safe to call when never
// initialized.
func DestroyRuntime() {
	if ort.IsInitialized() {
		ort.DestroyEnvironment()
	}
}
