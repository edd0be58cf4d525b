// Package config loads the daemon configuration. Environment variables
// are resolved exactly once here at load time; everything downstream
// receives explicit values rather than reading process-wide state.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the YAML-backed daemon configuration.
type Config struct {
	// Model is the registry key of the network family to run.
	Model string `yaml:"model"`

	// ModelDir holds the .onnx files, one per family, named <model>.onnx.
	ModelDir string `yaml:"model_dir"`

	// Backend overrides the acceleration backend: "auto" (GPU tier
	// decides), "tensorrt", "cuda" or "cpu".
	Backend string `yaml:"backend"`

	// Precision overrides the inference precision: "auto", "fp16", "fp32".
	Precision string `yaml:"precision"`

	// CacheHome overrides the engine-cache base directory. Resolved from
	// $VIDMATTE_CACHE_HOME when empty.
	CacheHome string `yaml:"cache_home"`

	// OnnxRuntimeLib is the path to the ONNX Runtime shared library.
	// Resolved from $ONNXRUNTIME_SHARED_LIBRARY_PATH when empty.
	OnnxRuntimeLib string `yaml:"onnxruntime_lib"`

	// ListenAddr is the monitoring HTTP server address.
	ListenAddr string `yaml:"listen_addr"`

	// MaskBlurSigma smooths binary masks after thresholding; 0 disables.
	MaskBlurSigma float64 `yaml:"mask_blur_sigma"`

	// MaskThreshold binarizes non-matte model output.
	MaskThreshold float32 `yaml:"mask_threshold"`

	// IntraOpThreads / InterOpThreads bound ONNX Runtime CPU parallelism;
	// 0 leaves the runtime default.
	IntraOpThreads int `yaml:"intra_op_threads"`
	InterOpThreads int `yaml:"inter_op_threads"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Model:         "mediapipe",
		ModelDir:      "models",
		Backend:       "auto",
		Precision:     "auto",
		ListenAddr:    "127.0.0.1:8080",
		MaskBlurSigma: 2.0,
		MaskThreshold: 0.5,
	}
}

// Load reads a YAML config file over the defaults and applies the
// one-shot environment fallbacks. An empty path returns defaults plus
// environment.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config: %w", err)
		}
	}

	if cfg.CacheHome == "" {
		cfg.CacheHome = os.Getenv("VIDMATTE_CACHE_HOME")
	}
	if cfg.OnnxRuntimeLib == "" {
		cfg.OnnxRuntimeLib = os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH")
	}
	return cfg, nil
}
