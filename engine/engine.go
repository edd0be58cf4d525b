// Package engine wires the core together: GPU detection feeds the
// session's backend/precision choice and the queue's buffering mode; the
// queue's worker calls back into the preprocessor and session; model
// changes tear the session down and rebuild it under a lock shared with
// the worker.
package engine

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vidmatte/vidmatte/gpuinfo"
	"github.com/vidmatte/vidmatte/maskpost"
	"github.com/vidmatte/vidmatte/model"
	"github.com/vidmatte/vidmatte/pipeline"
	"github.com/vidmatte/vidmatte/preprocess"
	"github.com/vidmatte/vidmatte/session"
)

// Options configures an Engine. String fields use "auto" to defer to the
// detected GPU tier.
type Options struct {
	ModelName string
	ModelDir  string
	Backend   string // "auto", "tensorrt", "cuda", "cpu"
	Precision string // "auto", "fp16", "fp32"
	CacheHome string

	MaskThreshold float32
	MaskBlurSigma float64

	IntraOpThreads int
	InterOpThreads int

	// Query overrides device detection; nil uses nvidia-smi.
	Query gpuinfo.DeviceQuery
}

// Engine is the filter core. One instance owns one worker, one
// preprocessor and at most one live session.
type Engine struct {
	id       uuid.UUID
	opts     Options
	gpu      gpuinfo.Info
	gpuOK    bool
	cacheDir string

	// mu excludes the worker's inference callback against session
	// teardown/rebuild: the worker dereferences the active session, so a
	// model change must not swap it mid-call.
	mu    sync.Mutex
	mdl   model.Model
	sess  *session.Session
	pre   *preprocess.Preprocessor
	queue pipeline.Queue
}

// Stats is a snapshot of engine state for monitoring.
type Stats struct {
	ID           string
	Model        string
	GPU          gpuinfo.Info
	GPUDetected  bool
	SessionState session.State
	Backend      session.Backend
	Queue        pipeline.Stats
}

// New detects the GPU, builds the initial session and starts the worker.
// The engine is always returned, even when the error is non-nil: a
// session or option failure leaves it degraded but observable, so the
// host can surface "processing unavailable" and later call Reconfigure.
func New(opts Options) (*Engine, error) {
	e := &Engine{
		id:   uuid.New(),
		opts: opts,
		pre:  preprocess.New(),
	}

	query := opts.Query
	if query == nil {
		query = gpuinfo.SMIQuery{}
	}
	e.gpu, e.gpuOK = gpuinfo.Detect(query)
	e.cacheDir = session.ResolveCacheDir(opts.CacheHome)

	slog.Info("engine starting",
		"id", e.id.String(),
		"model", opts.ModelName,
		"gpu", e.gpu.String(),
		"cacheDir", e.cacheDir)

	err := e.buildSession(opts.ModelName)

	e.queue.Start(e.infer, e.gpu.DefaultBuffering)
	return e, err
}

// backendFor resolves the configured backend against the detected GPU.
// With a GPU present the graph compiler is attempted (it falls back
// internally); without one, execution stays on the CPU provider.
func (e *Engine) backendFor() (session.Backend, error) {
	switch strings.ToLower(e.opts.Backend) {
	case "", "auto":
		if !e.gpuOK {
			return session.BackendCPU, nil
		}
		return session.BackendTensorRT, nil
	case "tensorrt":
		return session.BackendTensorRT, nil
	case "cuda":
		return session.BackendCUDA, nil
	case "cpu":
		return session.BackendCPU, nil
	default:
		return 0, fmt.Errorf("unknown backend %q", e.opts.Backend)
	}
}

// precisionFor resolves the configured precision against the GPU tier
// default (FP16 on Ampere/Ada, FP32 elsewhere).
func (e *Engine) precisionFor() (gpuinfo.PrecisionMode, error) {
	switch strings.ToLower(e.opts.Precision) {
	case "", "auto":
		return e.gpu.DefaultPrecision, nil
	case "fp16":
		return gpuinfo.PrecisionFP16, nil
	case "fp32":
		return gpuinfo.PrecisionFP32, nil
	default:
		return 0, fmt.Errorf("unknown precision %q", e.opts.Precision)
	}
}

// buildSession constructs the session for the named model. Caller holds
// no lock on the initial build; Reconfigure holds mu.
func (e *Engine) buildSession(name string) error {
	m, err := model.ForName(name)
	if err != nil {
		return err
	}
	backend, err := e.backendFor()
	if err != nil {
		return err
	}
	precision, err := e.precisionFor()
	if err != nil {
		return err
	}

	sess, err := session.New(session.Config{
		ModelPath:      filepath.Join(e.opts.ModelDir, m.Name()+".onnx"),
		Backend:        backend,
		Precision:      precision,
		CacheDir:       e.cacheDir,
		DeviceID:       e.gpu.DeviceID,
		IntraOpThreads: e.opts.IntraOpThreads,
		InterOpThreads: e.opts.InterOpThreads,
	}, m)

	e.mdl = m
	e.sess = sess
	if err != nil {
		slog.Error("session unavailable", "id", e.id.String(), "model", name, "err", err)
		return err
	}
	return nil
}

// infer is the queue's inference callback, worker goroutine only.
func (e *Engine) infer(f *pipeline.Frame) (*pipeline.Mask, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.sess == nil || e.sess.State() != session.StateReady {
		return nil, false
	}

	w, h := e.mdl.InputSize()
	inputs := e.sess.InputBuffers()

	preStart := time.Now()
	e.pre.Process(f.Data, f.Width, f.Height, f.Stride, inputs[0], w, h, e.mdl.PreprocessParams())
	e.mdl.FillExtraInputs(inputs)
	preElapsed := time.Since(preStart)

	runStart := time.Now()
	if err := e.sess.Run(); err != nil {
		slog.Warn("inference call failed", "id", e.id.String(), "seq", f.Seq, "err", err)
		return nil, false
	}
	runElapsed := time.Since(runStart)

	outputs := e.sess.OutputBuffers()
	e.mdl.CarryState(outputs, inputs)

	mask := e.mdl.ExtractMask(outputs)
	if !e.mdl.OutputsAlphaMatte() {
		maskpost.Threshold(mask, e.opts.MaskThreshold)
		if e.opts.MaskBlurSigma > 0 {
			mask = maskpost.Blur(mask, w, h, e.opts.MaskBlurSigma)
		}
	}

	slog.Debug("frame processed",
		"id", e.id.String(), "seq", f.Seq,
		"preprocess", preElapsed, "inference", runElapsed)

	return &pipeline.Mask{Data: mask, Width: w, Height: h, Seq: f.Seq}, true
}

// Reconfigure switches to a different model: the active session is torn
// down and rebuilt while the worker is excluded. The queue keeps running;
// frames pushed during the rebuild are processed by the new session, or
// dropped if the rebuild fails.
func (e *Engine) Reconfigure(modelName string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.sess != nil {
		e.sess.Destroy()
		e.sess = nil
	}
	e.opts.ModelName = modelName
	return e.buildSession(modelName)
}

// Available reports whether inference can currently produce output.
func (e *Engine) Available() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sess != nil && e.sess.State() == session.StateReady
}

// PushFrame hands a frame to the worker; never blocks.
func (e *Engine) PushFrame(f *pipeline.Frame) { e.queue.PushFrame(f) }

// LatestMask returns the most recent completed mask, once.
func (e *Engine) LatestMask() (*pipeline.Mask, bool) { return e.queue.LatestMask() }

// GPU returns the detected device info (safe defaults when none found).
func (e *Engine) GPU() (gpuinfo.Info, bool) { return e.gpu, e.gpuOK }

// Stats snapshots the engine for the monitoring surface.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	state := session.StateUnconfigured
	backend := session.BackendCPU
	modelName := ""
	if e.sess != nil {
		state = e.sess.State()
		backend = e.sess.EffectiveBackend()
	}
	if e.mdl != nil {
		modelName = e.mdl.Name()
	}
	e.mu.Unlock()

	return Stats{
		ID:           e.id.String(),
		Model:        modelName,
		GPU:          e.gpu,
		GPUDetected:  e.gpuOK,
		SessionState: state,
		Backend:      backend,
		Queue:        e.queue.Stats(),
	}
}

// Close stops the worker and releases the session. Idempotent.
func (e *Engine) Close() {
	e.queue.Stop()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess != nil {
		e.sess.Destroy()
		e.sess = nil
	}
}
