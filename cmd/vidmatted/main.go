// vidmatted runs the inference engine as a standalone daemon: a synthetic
// frame source drives the pipeline at capture cadence while an HTTP
// endpoint exposes queue counters and host stats. Useful for soak-testing
// models and engine caches without a video host attached.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/vidmatte/vidmatte/config"
	"github.com/vidmatte/vidmatte/engine"
	"github.com/vidmatte/vidmatte/pipeline"
	"github.com/vidmatte/vidmatte/session"
)

type appState struct {
	engine *engine.Engine
}

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	modelName := flag.String("model", "", "override configured model")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	if *modelName != "" {
		cfg.Model = *modelName
	}

	if err := session.InitializeRuntime(cfg.OnnxRuntimeLib); err != nil {
		slog.Error("failed to initialize ONNX Runtime", "err", err)
		os.Exit(1)
	}
	defer session.DestroyRuntime()

	eng, err := engine.New(engine.Options{
		ModelName:      cfg.Model,
		ModelDir:       cfg.ModelDir,
		Backend:        cfg.Backend,
		Precision:      cfg.Precision,
		CacheHome:      cfg.CacheHome,
		MaskThreshold:  cfg.MaskThreshold,
		MaskBlurSigma:  cfg.MaskBlurSigma,
		IntraOpThreads: cfg.IntraOpThreads,
		InterOpThreads: cfg.InterOpThreads,
	})
	defer eng.Close()
	if err != nil {
		// Degraded but alive: the monitoring surface stays up so the
		// failure is observable, and a model switch can recover it.
		slog.Warn("engine started without a working session", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go produceFrames(ctx, eng)
	go drainMasks(ctx, eng)

	state := &appState{engine: eng}
	r := mux.NewRouter()
	r.HandleFunc("/metrics", state.handleMetrics).Methods("GET")
	r.HandleFunc("/healthz", state.handleHealth).Methods("GET")
	r.HandleFunc("/model", state.handleSwitchModel).Methods("POST")

	srv := &http.Server{
		Handler:      r,
		Addr:         cfg.ListenAddr,
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  10 * time.Second,
	}

	go func() {
		slog.Info("monitoring server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("monitoring server failed", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("monitoring server shutdown", "err", err)
	}
}

const (
	synthWidth  = 1280
	synthHeight = 720
)

// synthFrame builds one synthetic BGRA frame. Each call allocates a
// fresh buffer: pushing transfers ownership of Data to the queue, so the
// producer must never reuse a backing slice it already handed over.
func synthFrame(seq uint64, now time.Time) *pipeline.Frame {
	data := make([]byte, synthWidth*synthHeight*4)

	// Shift the gradient each frame so consecutive frames differ.
	shade := byte(seq)
	for i := 0; i < len(data); i += 4 {
		data[i] = shade
		data[i+1] = byte(i >> 10)
		data[i+2] = byte(i >> 12)
		data[i+3] = 255
	}

	return &pipeline.Frame{
		Data:      data,
		Width:     synthWidth,
		Height:    synthHeight,
		Stride:    synthWidth * 4,
		Seq:       seq,
		Timestamp: now,
	}
}

// produceFrames pushes synthetic 720p BGRA frames at ~30fps. The push
// never blocks, so a slow model shows up as a growing drop counter
// rather than cadence jitter.
func produceFrames(ctx context.Context, eng *engine.Engine) {
	ticker := time.NewTicker(33 * time.Millisecond)
	defer ticker.Stop()

	var seq uint64
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			eng.PushFrame(synthFrame(seq, now))
			seq++
		}
	}
}

// drainMasks polls completed results the way a render loop would.
func drainMasks(ctx context.Context, eng *engine.Engine) {
	ticker := time.NewTicker(33 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if m, ok := eng.LatestMask(); ok {
				slog.Debug("mask received", "seq", m.Seq, "size", fmt.Sprintf("%dx%d", m.Width, m.Height))
			}
		}
	}
}

func (s *appState) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	st := s.engine.Stats()

	response := map[string]interface{}{
		"engine_id":      st.ID,
		"model":          st.Model,
		"gpu_detected":   st.GPUDetected,
		"gpu":            st.GPU.String(),
		"session_state":  st.SessionState.String(),
		"backend":        st.Backend.String(),
		"buffering":      st.Queue.BufferingMode.String(),
		"frames_pushed":  st.Queue.Pushed,
		"frames_done":    st.Queue.Processed,
		"frames_dropped": st.Queue.Dropped,
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		response["host_memory_used_percent"] = vm.UsedPercent
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func (s *appState) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if !s.engine.Available() {
		http.Error(w, "inference unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "ok")
}

func (s *appState) handleSwitchModel(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Model string `json:"model"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Model == "" {
		http.Error(w, "expected {\"model\": \"<name>\"}", http.StatusBadRequest)
		return
	}

	if err := s.engine.Reconfigure(req.Model); err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "ok")
}
