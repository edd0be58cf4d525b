// Package session builds and owns ONNX Runtime inference sessions. The
// acceleration backend and precision come from the detected GPU tier;
// the TensorRT backend compiles an engine persisted in a cache directory
// and degrades in two layers when unavailable: an options failure falls
// back silently to the CUDA provider, a construction failure is retried
// once CUDA-only before the session is declared failed.
package session

import (
	"fmt"
	"log/slog"
	"strconv"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/vidmatte/vidmatte/gpuinfo"
	"github.com/vidmatte/vidmatte/model"
)

// Backend selects the execution provider chain.
type Backend int

const (
	// BackendCUDA is the base accelerator: broadest operator coverage.
	BackendCUDA Backend = iota
	// BackendTensorRT is the graph compiler: ahead-of-time engine
	// compilation for higher throughput, narrower compatibility.
	BackendTensorRT
	// BackendCPU runs without any GPU provider (no device detected).
	BackendCPU
)

func (b Backend) String() string {
	switch b {
	case BackendTensorRT:
		return "tensorrt"
	case BackendCPU:
		return "cpu"
	default:
		return "cuda"
	}
}

// State is the session construction state machine. Terminal states are
// StateReady and StateFailed.
type State int

const (
	StateUnconfigured State = iota
	StateTensorRTAttempted
	StateCUDAFallback
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateTensorRTAttempted:
		return "tensorrt-attempted"
	case StateCUDAFallback:
		return "cuda-fallback"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unconfigured"
	}
}

// Config parameterizes one session build. All values are explicit —
// nothing in this package reads process environment; the config layer
// resolves env exactly once and threads the result through here.
type Config struct {
	ModelPath      string
	Backend        Backend
	Precision      gpuinfo.PrecisionMode
	CacheDir       string // engine-cache directory, see ResolveCacheDir
	DeviceID       int
	WorkspaceMB    uint64 // graph compiler workspace budget
	IntraOpThreads int
	InterOpThreads int
}

// DefaultWorkspaceMB bounds the TensorRT builder workspace when the
// config leaves it zero.
const DefaultWorkspaceMB = 1024

// Session owns an inference execution context and its preallocated
// input/output tensors (batch is always 1, exactly one concrete shape).
// Rebuilding for a different model means Destroy + New.
type Session struct {
	cfg   Config
	state State

	backend Backend // effective backend after any degrade

	session *ort.AdvancedSession
	inputs  []*ort.Tensor[float32]
	outputs []*ort.Tensor[float32]

	inputData  [][]float32
	outputData [][]float32
}

// constructor is the seam between the fallback state machine and the
// actual ONNX Runtime calls, substituted in tests.
type constructor func(cfg Config, m model.Model) (*built, Backend, error)

type built struct {
	session *ort.AdvancedSession
	inputs  []*ort.Tensor[float32]
	outputs []*ort.Tensor[float32]
}

// New builds a session for the model. When the graph compiler backend is
// requested and construction fails, it retries once with the base
// accelerator only; a second failure is terminal.
func New(cfg Config, m model.Model) (*Session, error) {
	return newWith(cfg, m, buildORTSession)
}

func newWith(cfg Config, m model.Model, build constructor) (*Session, error) {
	s := &Session{cfg: cfg, state: StateUnconfigured}

	if cfg.Backend == BackendTensorRT {
		s.state = StateTensorRTAttempted
	}

	b, effective, err := build(cfg, m)
	if err != nil && cfg.Backend == BackendTensorRT {
		slog.Warn("session construction with graph compiler failed, retrying with base accelerator",
			"model", m.Name(), "err", err)
		s.state = StateCUDAFallback
		retry := cfg
		retry.Backend = BackendCUDA
		b, effective, err = build(retry, m)
	}
	if err != nil {
		// Terminal: the session stays in the Failed state and the caller
		// must treat inference as unavailable until reconfigured.
		s.state = StateFailed
		return s, fmt.Errorf("creating session for %s: %w", m.Name(), err)
	}

	s.session = b.session
	s.inputs = b.inputs
	s.outputs = b.outputs
	s.backend = effective
	s.state = StateReady

	s.inputData = make([][]float32, len(s.inputs))
	for i, t := range s.inputs {
		if t != nil {
			s.inputData[i] = t.GetData()
		}
	}
	s.outputData = make([][]float32, len(s.outputs))
	for i, t := range s.outputs {
		if t != nil {
			s.outputData[i] = t.GetData()
		}
	}

	slog.Info("inference session ready",
		"model", m.Name(), "backend", s.backend.String(),
		"precision", cfg.Precision.String())
	return s, nil
}

// buildORTSession performs one construction attempt against ONNX Runtime:
// options, tensors, session, destroy-on-error.
func buildORTSession(cfg Config, m model.Model) (*built, Backend, error) {
	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, cfg.Backend, fmt.Errorf("creating session options: %w", err)
	}
	defer opts.Destroy()

	if cfg.IntraOpThreads > 0 {
		opts.SetIntraOpNumThreads(cfg.IntraOpThreads)
	}
	if cfg.InterOpThreads > 0 {
		opts.SetInterOpNumThreads(cfg.InterOpThreads)
	}

	effective := configureAcceleration(opts, cfg, m)

	inputs, err := newTensors(m.InputDims())
	if err != nil {
		return nil, effective, fmt.Errorf("allocating input tensors: %w", err)
	}
	outputs, err := newTensors(m.OutputDims())
	if err != nil {
		destroyTensors(inputs)
		return nil, effective, fmt.Errorf("allocating output tensors: %w", err)
	}

	sess, err := ort.NewAdvancedSession(
		cfg.ModelPath,
		m.InputNames(),
		m.OutputNames(),
		asArbitrary(inputs),
		asArbitrary(outputs),
		opts,
	)
	if err != nil {
		destroyTensors(inputs)
		destroyTensors(outputs)
		return nil, effective, fmt.Errorf("creating session: %w", err)
	}

	return &built{session: sess, inputs: inputs, outputs: outputs}, effective, nil
}

// configureAcceleration appends execution providers to the options.
// A graph-compiler options failure is the silent-degrade layer: log and
// continue with the base accelerator only. The CUDA provider is always
// appended after TensorRT so unsupported nodes fall through per-node.
func configureAcceleration(opts *ort.SessionOptions, cfg Config, m model.Model) Backend {
	if cfg.Backend == BackendCPU {
		return BackendCPU
	}

	effective := BackendCUDA
	if cfg.Backend == BackendTensorRT {
		if err := appendTensorRT(opts, cfg, m); err != nil {
			slog.Warn("graph compiler options unavailable, continuing with base accelerator", "err", err)
		} else {
			effective = BackendTensorRT
		}
	}

	if err := appendCUDA(opts, cfg); err != nil {
		slog.Warn("CUDA provider unavailable, falling back to CPU execution", "err", err)
		if effective == BackendCUDA {
			effective = BackendCPU
		}
	}
	return effective
}

func appendTensorRT(opts *ort.SessionOptions, cfg Config, m model.Model) error {
	trtOpts, err := ort.NewTensorRTProviderOptions()
	if err != nil {
		return fmt.Errorf("creating tensorrt provider options: %w", err)
	}
	defer trtOpts.Destroy()

	if err := trtOpts.Update(tensorRTOptionMap(cfg, m)); err != nil {
		return fmt.Errorf("updating tensorrt provider options: %w", err)
	}
	if err := opts.AppendExecutionProviderTensorRT(trtOpts); err != nil {
		return fmt.Errorf("appending tensorrt provider: %w", err)
	}
	return nil
}

func appendCUDA(opts *ort.SessionOptions, cfg Config) error {
	cudaOpts, err := ort.NewCUDAProviderOptions()
	if err != nil {
		return fmt.Errorf("creating cuda provider options: %w", err)
	}
	defer cudaOpts.Destroy()

	err = cudaOpts.Update(map[string]string{
		"device_id": strconv.Itoa(cfg.DeviceID),
	})
	if err != nil {
		return fmt.Errorf("updating cuda provider options: %w", err)
	}
	if err := opts.AppendExecutionProviderCUDA(cudaOpts); err != nil {
		return fmt.Errorf("appending cuda provider: %w", err)
	}
	return nil
}

// tensorRTOptionMap builds the graph compiler option set: persisted
// engine cache, FP16 only on explicit hint, bounded workspace, and
// min/opt/max shape profiles all set to the single concrete runtime
// shape when the model has dynamic inputs.
func tensorRTOptionMap(cfg Config, m model.Model) map[string]string {
	workspaceMB := cfg.WorkspaceMB
	if workspaceMB == 0 {
		workspaceMB = DefaultWorkspaceMB
	}

	options := map[string]string{
		"device_id":               strconv.Itoa(cfg.DeviceID),
		"trt_engine_cache_enable": "1",
		"trt_engine_cache_path":   cfg.CacheDir,
		"trt_max_workspace_size":  strconv.FormatUint(workspaceMB<<20, 10),
	}
	if cfg.Precision == gpuinfo.PrecisionFP16 {
		options["trt_fp16_enable"] = "1"
	} else {
		options["trt_fp16_enable"] = "0"
	}
	if profile := m.ShapeProfile(); profile != "" {
		options["trt_profile_min_shapes"] = profile
		options["trt_profile_opt_shapes"] = profile
		options["trt_profile_max_shapes"] = profile
	}
	return options
}

func newTensors(dims [][]int64) ([]*ort.Tensor[float32], error) {
	tensors := make([]*ort.Tensor[float32], len(dims))
	for i, d := range dims {
		t, err := ort.NewEmptyTensor[float32](ort.NewShape(d...))
		if err != nil {
			destroyTensors(tensors[:i])
			return nil, err
		}
		tensors[i] = t
	}
	return tensors, nil
}

func destroyTensors(tensors []*ort.Tensor[float32]) {
	for _, t := range tensors {
		if t != nil {
			t.Destroy()
		}
	}
}

func asArbitrary(tensors []*ort.Tensor[float32]) []ort.ArbitraryTensor {
	out := make([]ort.ArbitraryTensor, len(tensors))
	for i, t := range tensors {
		out[i] = t
	}
	return out
}

// Run executes one inference over the bound tensors.
func (s *Session) Run() error {
	if s.session == nil {
		return fmt.Errorf("session not constructed")
	}
	if err := s.session.Run(); err != nil {
		return fmt.Errorf("model inference: %w", err)
	}
	return nil
}

// InputBuffers exposes the bound input tensor data, one slice per input.
func (s *Session) InputBuffers() [][]float32 { return s.inputData }

// OutputBuffers exposes the bound output tensor data.
func (s *Session) OutputBuffers() [][]float32 { return s.outputData }

// State reports the construction state.
func (s *Session) State() State { return s.state }

// EffectiveBackend is the backend actually in use after any degrade.
func (s *Session) EffectiveBackend() Backend { return s.backend }

// Destroy releases the execution context and all bound tensors. Safe on
// a nil or already-destroyed session.
func (s *Session) Destroy() {
	if s == nil {
		return
	}
	if s.session != nil {
		s.session.Destroy()
		s.session = nil
	}
	destroyTensors(s.inputs)
	destroyTensors(s.outputs)
	s.inputs = nil
	s.outputs = nil
	s.inputData = nil
	s.outputData = nil
}
