package storage

import "time"

// TrajectoryRow is the reference Postgres representation of a finalized
// trajectory.Record. It is optional glue, not part of the core: the core
// produces trajectory.Record values and never depends on this schema.
type TrajectoryRow struct {
	ID           string     `json:"id" db:"id"`
	ThreadID     string     `json:"thread_id,omitempty" db:"thread_id"`
	Task         string     `json:"task" db:"task"`
	Summary      string     `json:"summary" db:"summary"`
	Success      bool       `json:"success" db:"success"`
	Error        string     `json:"error,omitempty" db:"error"`
	ToolCalls    int        `json:"tool_calls" db:"tool_calls"`
	LLMCalls     int        `json:"llm_calls" db:"llm_calls"`
	LoopDetected bool       `json:"loop_detected" db:"loop_detected"`
	TotalLatency float64    `json:"total_latency" db:"total_latency"`
	RawRecord    []byte     `json:"raw_record" db:"raw_record"` // the full trajectory.Record, JSON-encoded
	StartedAt    time.Time  `json:"started_at" db:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// SecurityEventRecord stores an advisory detector hit for audit purposes.
type SecurityEventRecord struct {
	ID           string    `json:"id" db:"id"`
	TrajectoryID string    `json:"trajectory_id" db:"trajectory_id"`
	Type         string    `json:"type" db:"type"`
	Severity     string    `json:"severity" db:"severity"`
	Detail       string    `json:"detail" db:"detail"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// TrajectoryFilter provides criteria for querying recorded trajectories.
type TrajectoryFilter struct {
	ThreadID string
	Success  *bool
	Since    *time.Time
	Until    *time.Time
	Limit    int
	Offset   int
}
