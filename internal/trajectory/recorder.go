package trajectory

import (
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const defaultMaxRepeatedCalls = 5

var errSubstrings = []string{
	`error:`, `error (exit`, `failed`, `timeout`, `"success": false`, `'success': false`,
}

var emptyNormalForms = map[string]bool{
	"": true, "none": true, "null": true, "[]": true, "{}": true,
}

type pendingTool struct {
	sequence    int
	tool        string
	inputRaw    string
	inputParsed map[string]any
	dockerArgs  *DockerCliArgs
	startTime   time.Time
}

type sameToolStreak struct {
	tool  string
	count int
}

// Recorder is a mutable, thread-safe trajectory builder bound to one agent
// turn on one thread. Cross-turn state is cleared explicitly by Clear.
type Recorder struct {
	mu sync.Mutex

	maxRepeatedCalls int
	redact           bool

	task     string
	threadID *string

	pendingTools map[string]*pendingTool
	toolCalls    []ToolCallRecord

	pendingLLMs map[string]*time.Time
	llmModels   map[string]string
	llmCalls    []LLMCallRecord

	sequenceCounter int
	startedAt       *time.Time

	consecutiveEmpty int
	streak           sameToolStreak
	loopDetected     bool
}

// Option configures a Recorder at construction time.
type Option func(*Recorder)

// WithMaxRepeatedCalls overrides the loop-detection repetition threshold.
func WithMaxRepeatedCalls(n int) Option {
	return func(r *Recorder) {
		if n > 0 {
			r.maxRepeatedCalls = n
		}
	}
}

// WithRedaction toggles credential redaction. It defaults to enabled;
// disabling it is intended for test fixtures only.
func WithRedaction(enabled bool) Option {
	return func(r *Recorder) { r.redact = enabled }
}

// New creates a Recorder ready to observe a single agent turn.
func New(opts ...Option) *Recorder {
	r := &Recorder{
		maxRepeatedCalls: defaultMaxRepeatedCalls,
		redact:           true,
		pendingTools:     make(map[string]*pendingTool),
		pendingLLMs:      make(map[string]*time.Time),
		llmModels:        make(map[string]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetTask records the task description driving this turn.
func (r *Recorder) SetTask(task string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.task = task
}

// SetThreadID records the optional thread/conversation identifier.
func (r *Recorder) SetThreadID(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.threadID = &id
}

// OnToolStart records the start of a tool invocation identified by runID.
func (r *Recorder) OnToolStart(runID, toolName, inputRaw string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if r.startedAt == nil {
		r.startedAt = &now
	}

	parsed := parseInput(inputRaw)

	var dockerArgs *DockerCliArgs
	if toolName == "docker_cli" {
		dockerArgs = expandDockerCliArgs(parsed)
	}

	r.pendingTools[runID] = &pendingTool{
		sequence:    r.sequenceCounter,
		tool:        toolName,
		inputRaw:    inputRaw,
		inputParsed: parsed,
		dockerArgs:  dockerArgs,
		startTime:   now,
	}
	r.sequenceCounter++
}

// expandDockerCliArgs builds the docker_cli_args structured expansion
// per spec: non-nil iff the parsed input carries a "command" key.
func expandDockerCliArgs(parsed map[string]any) *DockerCliArgs {
	commandRaw, ok := parsed["command"]
	if !ok {
		return nil
	}
	command, _ := commandRaw.(string)

	args, _ := parsed["args"].(string)
	cwd, _ := parsed["cwd"].(string)
	timeout := 0
	switch t := parsed["timeout"].(type) {
	case float64:
		timeout = int(t)
	case int:
		timeout = t
	}

	full := "docker " + command
	if args != "" {
		full += " " + args
	}

	return &DockerCliArgs{
		Command:     command,
		Args:        args,
		Cwd:         cwd,
		Timeout:     timeout,
		FullCommand: full,
	}
}

// OnToolEnd records the successful (or output-classified-as-error)
// completion of a tool invocation.
func (r *Recorder) OnToolEnd(runID, output string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pending, ok := r.pendingTools[runID]
	if !ok {
		log.Warn().Str("run_id", runID).Msg("orphaned tool_end event discarded")
		return
	}
	delete(r.pendingTools, runID)

	end := time.Now()
	latency := end.Sub(pending.startTime).Seconds()
	out := output

	isError := isErrorOutput(out)
	isEmpty := isEmptyOutput(out)
	success := !isError && !isEmpty

	tc := ToolCallRecord{
		Sequence:      pending.sequence,
		Tool:          pending.tool,
		InputRaw:      pending.inputRaw,
		InputParsed:   pending.inputParsed,
		DockerCliArgs: pending.dockerArgs,
		Output:        &out,
		Success:       success,
		StartTime:     float64(pending.startTime.UnixNano()) / 1e9,
		EndTime:       floatPtr(float64(end.UnixNano()) / 1e9),
		Latency:       floatPtr(latency),
		RunID:         runID,
	}
	if isError {
		truncatedErr := out
		if len(truncatedErr) > 500 {
			truncatedErr = truncatedErr[:500]
		}
		tc.Error = &truncatedErr
	}

	r.toolCalls = append(r.toolCalls, tc)
	r.updateLoopDetection(pending.tool, isEmpty, pending.inputParsed)
}

// OnToolError records a tool invocation that raised instead of returning.
func (r *Recorder) OnToolError(runID string, errMsg string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pending, ok := r.pendingTools[runID]
	if !ok {
		log.Warn().Str("run_id", runID).Msg("orphaned tool_error event discarded")
		return
	}
	delete(r.pendingTools, runID)

	end := time.Now()
	latency := end.Sub(pending.startTime).Seconds()
	truncatedErr := errMsg
	if len(truncatedErr) > 500 {
		truncatedErr = truncatedErr[:500]
	}

	tc := ToolCallRecord{
		Sequence:      pending.sequence,
		Tool:          pending.tool,
		InputRaw:      pending.inputRaw,
		InputParsed:   pending.inputParsed,
		DockerCliArgs: pending.dockerArgs,
		Success:       false,
		Error:         &truncatedErr,
		StartTime:     float64(pending.startTime.UnixNano()) / 1e9,
		EndTime:       floatPtr(float64(end.UnixNano()) / 1e9),
		Latency:       floatPtr(latency),
		RunID:         runID,
	}

	r.toolCalls = append(r.toolCalls, tc)
	r.updateLoopDetection(pending.tool, true, pending.inputParsed)
}

// OnLLMStart records the start of an LLM call.
func (r *Recorder) OnLLMStart(runID, model string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	if r.startedAt == nil {
		r.startedAt = &now
	}
	r.pendingLLMs[runID] = &now
	r.llmModels[runID] = model
}

// OnLLMEnd records the completion of an LLM call along with token usage.
func (r *Recorder) OnLLMEnd(runID string, tokenUsage map[string]int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	start, ok := r.pendingLLMs[runID]
	if !ok {
		log.Warn().Str("run_id", runID).Msg("orphaned llm_end event discarded")
		return
	}
	delete(r.pendingLLMs, runID)
	model := r.llmModels[runID]
	delete(r.llmModels, runID)

	end := time.Now()
	latency := end.Sub(*start).Seconds()

	r.llmCalls = append(r.llmCalls, LLMCallRecord{
		Model:      model,
		StartTime:  float64(start.UnixNano()) / 1e9,
		EndTime:    floatPtr(float64(end.UnixNano()) / 1e9),
		Latency:    floatPtr(latency),
		TokenUsage: tokenUsage,
		RunID:      runID,
	})
}

// isErrorOutput classifies raw tool output as error-shaped.
func isErrorOutput(output string) bool {
	lower := strings.ToLower(output)
	for _, sub := range errSubstrings {
		if strings.Contains(lower, sub) {
			return true
		}
	}
	return false
}

// isEmptyOutput classifies raw tool output as empty.
func isEmptyOutput(output string) bool {
	normalized := strings.ToLower(strings.TrimSpace(output))
	return emptyNormalForms[normalized]
}

// updateLoopDetection applies the three loop-detection patterns. It only
// ever sets the flag — it never raises or aborts the turn; the caller
// decides whether a detected loop should count as failure.
func (r *Recorder) updateLoopDetection(tool string, isEmpty bool, inputParsed map[string]any) {
	if isEmpty {
		r.consecutiveEmpty++
	} else {
		r.consecutiveEmpty = 0
	}
	if r.consecutiveEmpty >= r.maxRepeatedCalls {
		r.loopDetected = true
	}

	if r.streak.tool == tool {
		r.streak.count++
	} else {
		r.streak = sameToolStreak{tool: tool, count: 1}
	}
	if r.streak.count >= r.maxRepeatedCalls+1 {
		r.loopDetected = true
	}

	if r.identicalTailWindow(tool, inputParsed) {
		r.loopDetected = true
	}
}

// identicalTailWindow checks whether the last maxRepeatedCalls tool calls
// (including the one currently being recorded) share an identical
// (tool, serialized-input-prefix-200) signature.
func (r *Recorder) identicalTailWindow(tool string, inputParsed map[string]any) bool {
	window := r.maxRepeatedCalls
	if len(r.toolCalls) < window {
		return false
	}

	want := signatureFor(tool, inputParsed)

	// the call currently being recorded has already been appended to
	// toolCalls by the caller, so the tail is simply its last `window`
	// entries.
	tail := r.toolCalls[len(r.toolCalls)-window:]
	for _, tc := range tail {
		if signatureFor(tc.Tool, tc.InputParsed) != want {
			return false
		}
	}
	return true
}

func signatureFor(tool string, inputParsed map[string]any) string {
	serialized := serializeSorted(inputParsed)
	if len(serialized) > 200 {
		serialized = serialized[:200]
	}
	return tool + "|" + serialized
}

// Finalize builds the completed TrajectoryRecord. It does NOT clear
// internal state — the caller must call Clear() explicitly before reusing
// the Recorder for the next turn.
func (r *Recorder) Finalize(success bool, errMsg *string) Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	started := now
	if r.startedAt != nil {
		started = *r.startedAt
	}

	metrics := r.computeMetrics()

	toolCalls := make([]ToolCallRecord, len(r.toolCalls))
	copy(toolCalls, r.toolCalls)
	// copy() above only duplicated the slice elements, not what their
	// pointers point to. Redaction below rewrites DockerCliArgs in place,
	// so copy it here to keep stored state untouched; Output and Error are
	// replaced with new pointers by the redaction and need no copy.
	for i := range toolCalls {
		if toolCalls[i].DockerCliArgs != nil {
			cp := *toolCalls[i].DockerCliArgs
			toolCalls[i].DockerCliArgs = &cp
		}
	}
	llmCalls := make([]LLMCallRecord, len(r.llmCalls))
	copy(llmCalls, r.llmCalls)

	task := r.task
	rec := Record{
		Task:        task,
		ThreadID:    r.threadID,
		ToolCalls:   toolCalls,
		LLMCalls:    llmCalls,
		Metrics:     metrics,
		StartedAt:   started,
		CompletedAt: &now,
		Success:     success,
		Error:       errMsg,
	}

	if r.redact {
		rec.Task = redactString(rec.Task)
		for i := range rec.ToolCalls {
			redactToolCall(&rec.ToolCalls[i])
		}
	}

	return rec
}

func (r *Recorder) computeMetrics() Metrics {
	m := Metrics{}
	var totalLatency float64
	seen := make(map[string]bool)

	for _, tc := range r.toolCalls {
		if tc.EndTime == nil {
			continue
		}
		m.TotalToolCalls++
		if tc.Success {
			m.SuccessfulToolCalls++
		} else {
			m.FailedToolCalls++
		}
		if tc.Latency != nil {
			totalLatency += *tc.Latency
		}
		if tc.DockerCliArgs != nil && !seen[tc.DockerCliArgs.Command] {
			seen[tc.DockerCliArgs.Command] = true
			m.DockerCommandsUsed = append(m.DockerCommandsUsed, tc.DockerCliArgs.Command)
		}
	}
	m.TotalLatency = totalLatency
	if m.TotalToolCalls > 0 {
		m.AvgLatency = totalLatency / float64(m.TotalToolCalls)
	}

	for _, lc := range r.llmCalls {
		m.TotalLLMCalls++
		m.TotalTokens += lc.TokenUsage["total_tokens"]
		m.PromptTokens += lc.TokenUsage["prompt_tokens"]
		m.CompletionTokens += lc.TokenUsage["completion_tokens"]
	}

	m.LoopDetected = r.loopDetected
	return m
}

// Clear resets all mutable state so the Recorder can be reused for the
// next turn on the same thread.
func (r *Recorder) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.task = ""
	r.threadID = nil
	r.pendingTools = make(map[string]*pendingTool)
	r.toolCalls = nil
	r.pendingLLMs = make(map[string]*time.Time)
	r.llmModels = make(map[string]string)
	r.llmCalls = nil
	r.sequenceCounter = 0
	r.startedAt = nil
	r.consecutiveEmpty = 0
	r.streak = sameToolStreak{}
	r.loopDetected = false
}

func floatPtr(f float64) *float64 { return &f }
