package api

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"dockeragent-core/internal/executor"
	"dockeragent-core/internal/gateway"
	"dockeragent-core/internal/monitor"
	"dockeragent-core/internal/storage"
	"dockeragent-core/internal/trajectory"
)

// Handlers wires the HTTP facade onto the Command Gateway, the
// Programmatic Executor, and a per-thread Trajectory Recorder registry.
// The facade itself (and the optional Postgres sink behind writer) is
// swappable glue around the gateway/executor/recorder core.
type Handlers struct {
	gateway  *gateway.Gateway
	executor *executor.Executor
	db       *storage.DB
	writer   *storage.TrajectoryWriter
	metrics  *monitor.Metrics
	detector *monitor.EscapeDetector
	tracer   *monitor.Tracer

	maxRepeatedCalls int

	recMu     sync.Mutex
	recorders map[string]*trajectory.Recorder // keyed by thread_id, "" for unthreaded callers
}

func NewHandlers(gw *gateway.Gateway, ex *executor.Executor, db *storage.DB, writer *storage.TrajectoryWriter, metrics *monitor.Metrics, maxRepeatedCalls int) *Handlers {
	return &Handlers{
		gateway:          gw,
		executor:         ex,
		db:               db,
		writer:           writer,
		metrics:          metrics,
		detector:         monitor.NewEscapeDetector(),
		tracer:           monitor.NewTracer(),
		maxRepeatedCalls: maxRepeatedCalls,
		recorders:        make(map[string]*trajectory.Recorder),
	}
}

// recorderFor returns the Recorder bound to threadID, creating one on
// first use. A Recorder survives across calls within the same thread so
// that loop detection and the LLM/tool interleaving it tracks has the
// thread's full history, not just one request.
func (h *Handlers) recorderFor(threadID string) *trajectory.Recorder {
	h.recMu.Lock()
	defer h.recMu.Unlock()

	rec, ok := h.recorders[threadID]
	if !ok {
		rec = trajectory.New(trajectory.WithMaxRepeatedCalls(h.maxRepeatedCalls))
		if threadID != "" {
			rec.SetThreadID(threadID)
		}
		h.recorders[threadID] = rec
	}
	return rec
}

// HandleDockerExecute dispatches one docker_cli call through the Command
// Gateway, recording it on the caller's trajectory.
func (h *Handlers) HandleDockerExecute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, "method not allowed", "METHOD_NOT_ALLOWED", http.StatusMethodNotAllowed, r)
		return
	}

	var req DockerExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid JSON: "+err.Error(), "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}
	if req.Subcommand == "" {
		writeError(w, "subcommand is required", "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}

	if h.gateway == nil {
		writeError(w, "gateway unavailable", "GATEWAY_UNAVAILABLE", http.StatusServiceUnavailable, r)
		return
	}

	detections := h.detector.AnalyzeDockerArgs(append([]string{req.Subcommand}, req.Args...))
	for _, d := range detections {
		h.metrics.RecordSecurityEvent(d.Pattern)
	}

	rec := h.recorderFor(req.ThreadID)
	runID := req.ThreadID + ":" + req.Subcommand
	inputRaw, _ := json.Marshal(req)
	rec.OnToolStart(runID, "docker_cli", string(inputRaw))

	spanCtx, span := h.tracer.StartSpan(r.Context(), "gateway.execute", monitor.AttrSubcommand.String(req.Subcommand))

	timeoutSeconds := int(req.Timeout.Seconds())
	start := time.Now()
	result, err := h.gateway.Execute(spanCtx, gateway.Request{
		Subcommand:     req.Subcommand,
		Args:           req.Args,
		Cwd:            req.Cwd,
		TimeoutSeconds: timeoutSeconds,
	})
	duration := time.Since(start)

	status := "success"
	if err != nil {
		status = "rejected"
		monitor.EndSpan(span, err)
		rec.OnToolError(runID, err.Error())
		h.metrics.RecordGatewayDispatch(req.Subcommand, status, duration.Seconds())
		writeError(w, err.Error(), "COMMAND_REJECTED", http.StatusForbidden, r)
		return
	}

	if result.ExitCode == 124 {
		status = "timeout"
	} else if result.ExitCode != 0 {
		status = "error"
	}
	span.SetAttributes(monitor.AttrExitCode.Int(result.ExitCode))
	monitor.EndSpan(span, nil)
	rec.OnToolEnd(runID, result.Stdout)
	h.metrics.RecordGatewayDispatch(req.Subcommand, status, duration.Seconds())
	h.metrics.OutputSizeBytes.Observe(float64(len(result.Stdout) + len(result.Stderr)))

	outputDetections := h.detector.AnalyzeOutput(result.Stdout)
	apiSecEvents := make([]SecurityEvent, 0, len(detections)+len(outputDetections))
	for _, d := range append(detections, outputDetections...) {
		h.metrics.RecordSecurityEvent(d.Pattern)
		apiSecEvents = append(apiSecEvents, SecurityEvent{Type: d.Pattern, Severity: d.Severity, Detail: d.Detail})
	}

	writeJSON(w, http.StatusOK, DockerExecuteResponse{
		ExitCode:       result.ExitCode,
		Stdout:         result.Stdout,
		Stderr:         result.Stderr,
		SecurityEvents: apiSecEvents,
	})
}

// HandleDockerExecuteStream dispatches one docker_cli call the same way
// HandleDockerExecute does, but delivers stdout/stderr/done as Server-Sent
// Events instead of one JSON body — the Command Gateway buffers the full
// process output before returning, so this sends each stream as a single
// SSE frame rather than incrementally.
func (h *Handlers) HandleDockerExecuteStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, "method not allowed", "METHOD_NOT_ALLOWED", http.StatusMethodNotAllowed, r)
		return
	}

	var req DockerExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid JSON: "+err.Error(), "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}
	if req.Subcommand == "" || h.gateway == nil {
		writeError(w, "subcommand is required", "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}

	stream, ok := newEventStream(w)
	if !ok {
		writeError(w, "streaming not supported", "STREAMING_UNSUPPORTED", http.StatusInternalServerError, r)
		return
	}

	rec := h.recorderFor(req.ThreadID)
	runID := req.ThreadID + ":" + req.Subcommand
	inputRaw, _ := json.Marshal(req)
	rec.OnToolStart(runID, "docker_cli", string(inputRaw))

	start := time.Now()
	result, err := h.gateway.Execute(r.Context(), gateway.Request{
		Subcommand:     req.Subcommand,
		Args:           req.Args,
		Cwd:            req.Cwd,
		TimeoutSeconds: int(req.Timeout.Seconds()),
	})
	duration := time.Since(start)

	if err != nil {
		rec.OnToolError(runID, err.Error())
		h.metrics.RecordGatewayDispatch(req.Subcommand, "rejected", duration.Seconds())
		stream.sendError(err.Error())
		return
	}

	stream.send("stdout", result.Stdout)
	stream.send("stderr", result.Stderr)
	rec.OnToolEnd(runID, result.Stdout)
	h.metrics.RecordGatewayDispatch(req.Subcommand, "success", duration.Seconds())

	stream.sendDone(result.ExitCode)
}

// HandleExecute runs model-authored code through the Programmatic
// Executor, with the Command Gateway's docker_cli tool injected so the
// script can call it the same way the recorded trajectory would see.
func (h *Handlers) HandleExecute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, "method not allowed", "METHOD_NOT_ALLOWED", http.StatusMethodNotAllowed, r)
		return
	}

	var req ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid JSON: "+err.Error(), "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}
	if req.Code == "" {
		writeError(w, "code is required", "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}
	if h.executor == nil {
		writeError(w, "executor unavailable", "EXECUTOR_UNAVAILABLE", http.StatusServiceUnavailable, r)
		return
	}

	h.metrics.CodeSizeBytes.Observe(float64(len(req.Code)))

	codeDetections := h.detector.AnalyzeExecutorCode(req.Code)
	for _, d := range codeDetections {
		h.metrics.RecordSecurityEvent(d.Pattern)
	}

	rec := h.recorderFor(req.ThreadID)
	runID := req.ThreadID + ":executor"
	rec.OnToolStart(runID, "execute", req.Code)

	codeHash := sha256.Sum256([]byte(req.Code))
	spanCtx, span := h.tracer.StartSpan(r.Context(), "executor.run",
		monitor.AttrCodeHash.String(hex.EncodeToString(codeHash[:8])))

	result := h.executor.Run(spanCtx, req.Code)
	span.SetAttributes(monitor.AttrDurationMS.Int64(result.Duration.Milliseconds()))
	monitor.EndSpan(span, nil)

	outcome := "success"
	switch {
	case result.TimedOut:
		outcome = "timeout"
	case result.HadError:
		outcome = "error"
	}
	h.metrics.RecordExecutorRun(outcome, result.Duration.Seconds())

	if result.HadError || result.TimedOut {
		rec.OnToolError(runID, result.Output)
	} else {
		rec.OnToolEnd(runID, result.Output)
	}

	apiSecEvents := make([]SecurityEvent, 0, len(codeDetections))
	for _, d := range codeDetections {
		apiSecEvents = append(apiSecEvents, SecurityEvent{Type: d.Pattern, Severity: d.Severity, Detail: d.Detail})
	}

	writeJSON(w, http.StatusOK, ExecuteResponse{
		Output:         result.Output,
		TimedOut:       result.TimedOut,
		HadError:       result.HadError,
		DurationMS:     result.Duration.Milliseconds(),
		SecurityEvents: apiSecEvents,
	})
}

// HandleFinalizeTrajectory ends the named thread's trajectory, persists it
// to the optional reference sink, and drops the in-memory Recorder.
func (h *Handlers) HandleFinalizeTrajectory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, "method not allowed", "METHOD_NOT_ALLOWED", http.StatusMethodNotAllowed, r)
		return
	}

	threadID := r.PathValue("id")

	var body struct {
		Success bool   `json:"success"`
		Error   string `json:"error,omitempty"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	h.recMu.Lock()
	rec, ok := h.recorders[threadID]
	if ok {
		delete(h.recorders, threadID)
	}
	h.recMu.Unlock()

	if !ok {
		writeError(w, "no active trajectory for thread", "NOT_FOUND", http.StatusNotFound, r)
		return
	}

	_, span := h.tracer.StartSpan(r.Context(), "trajectory.finalize", monitor.AttrRunID.String(threadID))
	defer span.End()

	var errPtr *string
	if body.Error != "" {
		errPtr = &body.Error
	}
	record := rec.Finalize(body.Success, errPtr)

	if record.Metrics.LoopDetected {
		h.metrics.RecordLoopDetected("signature_window")
	}

	if h.writer != nil {
		h.writer.Log(record)
	}

	writeJSON(w, http.StatusOK, TrajectoryResponse{
		ThreadID:     threadID,
		Task:         record.Task,
		Summary:      trajectory.Summarize(record),
		Success:      record.Success,
		Error:        body.Error,
		ToolCalls:    record.Metrics.TotalToolCalls,
		LLMCalls:     record.Metrics.TotalLLMCalls,
		LoopDetected: record.Metrics.LoopDetected,
	})
}

// HandleGetTrajectory retrieves a persisted trajectory from the reference sink.
func (h *Handlers) HandleGetTrajectory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, "method not allowed", "METHOD_NOT_ALLOWED", http.StatusMethodNotAllowed, r)
		return
	}

	id := r.PathValue("id")
	if id == "" {
		writeError(w, "trajectory ID required", "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}
	if h.db == nil {
		writeError(w, "database not configured", "DB_UNAVAILABLE", http.StatusServiceUnavailable, r)
		return
	}

	row, err := h.db.GetTrajectory(r.Context(), id)
	if err != nil {
		writeError(w, "trajectory not found", "NOT_FOUND", http.StatusNotFound, r)
		return
	}

	writeJSON(w, http.StatusOK, row)
}

// HandleListTrajectories queries the reference sink for recent trajectories.
func (h *Handlers) HandleListTrajectories(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, "method not allowed", "METHOD_NOT_ALLOWED", http.StatusMethodNotAllowed, r)
		return
	}
	if h.db == nil {
		writeError(w, "database not configured", "DB_UNAVAILABLE", http.StatusServiceUnavailable, r)
		return
	}

	filter := storage.TrajectoryFilter{
		ThreadID: r.URL.Query().Get("thread_id"),
		Limit:    100,
	}

	rows, err := h.db.ListTrajectories(r.Context(), filter)
	if err != nil {
		writeError(w, "query failed", "INTERNAL", http.StatusInternalServerError, r)
		return
	}

	writeJSON(w, http.StatusOK, rows)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, msg, code string, status int, r *http.Request) {
	resp := ErrorResponse{
		Error:     msg,
		Code:      code,
		RequestID: RequestIDFromContext(r.Context()),
	}
	writeJSON(w, status, resp)
}
