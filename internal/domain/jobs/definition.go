package jobs

import "encoding/json"

// Parallelism documents how a stage's task count is determined. The kernel
// does not check a stage's task count against its mode (see SPEC_FULL.md §9
// Open Questions) — the modes are conventions a JobDefinition's
// CreateTasksForStage follows — except that only a ParallelismDynamic stage
// may produce zero tasks.
type Parallelism string

const (
	ParallelismSingle        Parallelism = "single"
	ParallelismDynamic       Parallelism = "dynamic"
	ParallelismMatchPrevious Parallelism = "match_previous"
)

// StageDef is the declarative description of one stage of a JobDefinition.
type StageDef struct {
	Number      int
	Name        string
	TaskType    string
	Parallelism Parallelism
	// BestEffort opts this stage into the "continue on task failure"
	// extension point (SPEC_FULL.md §9): one failed task does not fail the
	// stage, and the job may finish as JobCompletedWithError instead of
	// JobFailed. Default (false) is "fail stage on any task failure".
	BestEffort bool
}

// TaskSpec is one task the kernel must create and dispatch for a stage.
type TaskSpec struct {
	TaskType   string
	Parameters map[string]any
}

// FinalizeContext is handed to a JobDefinition's FinalizeJob hook once the
// last stage's tasks are all terminal.
type FinalizeContext struct {
	JobID        string
	Parameters   map[string]any
	StageResults map[string][]json.RawMessage
}

// JobDefinition is the static, declarative description of a job type: its
// stage chain, its parameter schema, and the two behavioural hooks a job
// type must supply. There is no inheritance vehicle here by design (see
// SPEC_FULL.md §9 DESIGN NOTES) — a JobDefinition is plain data plus two
// pure functions.
type JobDefinition struct {
	JobType          string
	Description      string
	Stages           []StageDef
	ParametersSchema map[string]FieldSchema

	// CreateTasksForStage returns the task specs for the given stage,
	// given the validated job parameters and the previous stage's results
	// (nil for stage 1). Returning zero specs is legal only when the
	// stage's Parallelism is ParallelismDynamic and the handler genuinely
	// produced no work (spec.md §4.6.1 "empty-stage policy") — any other
	// empty result is a DefinitionError.
	CreateTasksForStage func(stage int, jobParams map[string]any, jobID string, previousResults []json.RawMessage) ([]TaskSpec, error)

	// FinalizeJob computes the job's final result_data once every stage has
	// completed. May be nil, in which case result_data is an object whose
	// single "stage_results" key holds the stage_results map.
	FinalizeJob func(ctx FinalizeContext) (map[string]any, error)
}

func (d JobDefinition) TotalStages() int { return len(d.Stages) }

func (d JobDefinition) Stage(n int) (StageDef, bool) {
	for _, s := range d.Stages {
		if s.Number == n {
			return s, true
		}
	}
	return StageDef{}, false
}
