// Package trajectory records every tool and LLM call made during a single
// agent turn into an ordered, structured TrajectoryRecord: latency, success
// classification, loop detection, and credential redaction all happen here.
//
// A Recorder is bound to one turn on one goroutine/thread at a time, but
// its internal mutation is protected by a single (non-reentrant) mutex.
// Loop-detection bookkeeping runs inside an event-recording call with that
// mutex already held and does not lock it again, so it never deadlocks. TrajectoryRecord itself is a pure data tree: it never
// references the Recorder that built it.
package trajectory

import "time"

// DockerCliArgs is the structured expansion of a docker_cli tool call,
// present iff the tool name is "docker_cli" and its parsed input contains
// a "command" key.
type DockerCliArgs struct {
	Command     string `json:"command"`
	Args        string `json:"args,omitempty"`
	Cwd         string `json:"cwd,omitempty"`
	Timeout     int    `json:"timeout,omitempty"`
	FullCommand string `json:"full_command"`
}

// ToolCallRecord captures one tool invocation from tool_start through
// tool_end/tool_error.
type ToolCallRecord struct {
	Sequence      int            `json:"sequence"`
	Tool          string         `json:"tool"`
	InputRaw      string         `json:"input_raw"`
	InputParsed   map[string]any `json:"input_parsed"`
	DockerCliArgs *DockerCliArgs `json:"docker_cli_args,omitempty"`
	Output        *string        `json:"output,omitempty"`
	Success       bool           `json:"success"`
	Error         *string        `json:"error,omitempty"`
	StartTime     float64        `json:"start_time_unix"`
	EndTime       *float64       `json:"end_time_unix,omitempty"`
	Latency       *float64       `json:"latency_seconds,omitempty"`
	RunID         string         `json:"run_id"`
}

// LLMCallRecord captures one LLM invocation.
type LLMCallRecord struct {
	Model      string         `json:"model"`
	StartTime  float64        `json:"start_time_unix"`
	EndTime    *float64       `json:"end_time_unix,omitempty"`
	Latency    *float64       `json:"latency_seconds,omitempty"`
	TokenUsage map[string]int `json:"token_usage,omitempty"`
	RunID      string         `json:"run_id"`
}

// Metrics aggregates counters over one trajectory.
type Metrics struct {
	TotalToolCalls      int      `json:"total_tool_calls"`
	SuccessfulToolCalls int      `json:"successful_tool_calls"`
	FailedToolCalls     int      `json:"failed_tool_calls"`
	TotalLatency        float64  `json:"total_latency"`
	AvgLatency          float64  `json:"avg_latency"`
	TotalLLMCalls       int      `json:"total_llm_calls"`
	TotalTokens         int      `json:"total_tokens"`
	PromptTokens        int      `json:"prompt_tokens"`
	CompletionTokens    int      `json:"completion_tokens"`
	LoopDetected        bool     `json:"loop_detected"`
	DockerCommandsUsed  []string `json:"docker_commands_used"`
}

// Record is the finalized, immutable trajectory for one agent turn. It is
// a pure data tree — it must never hold a back-pointer to the Recorder
// that produced it.
type Record struct {
	Task        string           `json:"task"`
	ThreadID    *string          `json:"thread_id,omitempty"`
	ToolCalls   []ToolCallRecord `json:"tool_calls"`
	LLMCalls    []LLMCallRecord  `json:"llm_calls"`
	Metrics     Metrics          `json:"metrics"`
	StartedAt   time.Time        `json:"started_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
	Success     bool             `json:"success"`
	Error       *string          `json:"error,omitempty"`
}
