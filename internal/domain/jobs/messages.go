package jobs

import (
	"bytes"
	"encoding/json"
)

/*
JobMessage is the wire shape the kernel consumes from the job queue: one
message drives one stage of one job. StageResults carries the accumulated
per-stage result lists so CreateTasksForStage can consult the previous
stage's output without a state-store round trip on the hot path.

Unknown fields are rejected at decode time (see DecodeJobMessage) per
spec.md §6: "unknown fields must be rejected to prevent silent schema
drift."
*/
type JobMessage struct {
	JobID         string                       `json:"job_id"`
	JobType       string                       `json:"job_type"`
	Stage         int                          `json:"stage"`
	Parameters    map[string]any               `json:"parameters"`
	StageResults  map[string][]json.RawMessage `json:"stage_results,omitempty"`
	CorrelationID string                       `json:"correlation_id,omitempty"`
}

// TaskMessage is the wire shape the kernel consumes from the task queue: one
// message drives execution of one task through its registered handler.
type TaskMessage struct {
	TaskID        string         `json:"task_id"`
	ParentJobID   string         `json:"parent_job_id"`
	JobType       string         `json:"job_type"`
	TaskType      string         `json:"task_type"`
	Stage         int            `json:"stage"`
	TaskIndex     int            `json:"task_index"`
	Parameters    map[string]any `json:"parameters"`
	RetryCount    int            `json:"retry_count,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
}

func DecodeJobMessage(raw []byte) (*JobMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var msg JobMessage
	if err := dec.Decode(&msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func DecodeTaskMessage(raw []byte) (*TaskMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var msg TaskMessage
	if err := dec.Decode(&msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
