// Package greeting registers the kernel's reference job type: a two-stage
// "greet" -> "reply" job matching spec.md §8 scenario 1. It exists purely
// to exercise the kernel end to end (submission, fan-out, fan-in,
// finalization) without depending on any of the teacher's unrelated
// domain packages, and doubles as the worked example for anyone wiring a
// new job type against internal/jobkit/registry.
package greeting

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/yungbote/neurobridge-backend/internal/domain/jobs"
	"github.com/yungbote/neurobridge-backend/internal/jobkit/registry"
)

const (
	JobType       = "greeting"
	StageGreet    = 1
	StageReply    = 2
	TaskTypeGreet = "greet"
	TaskTypeReply = "reply"
)

// Register wires the greeting job definition and its two task handlers into
// the kernel's registries. Call once at process startup.
func Register(jobReg *registry.JobRegistry, taskReg *registry.TaskRegistry) error {
	if err := jobReg.Register(Definition()); err != nil {
		return err
	}
	if err := taskReg.Register(registry.HandlerFunc{TaskType: TaskTypeGreet, Fn: runGreet}); err != nil {
		return err
	}
	if err := taskReg.Register(registry.HandlerFunc{TaskType: TaskTypeReply, Fn: runReply}); err != nil {
		return err
	}
	return nil
}

// Definition describes the job's two stages: stage 1 fans out one "greet"
// task per name in the "names" parameter (parallelism: dynamic — the task
// count comes from the job's own parameters, not a prior stage); stage 2
// fans out one "reply" task per stage-1 result (parallelism:
// match_previous — CreateTasksForStage is handed stage 1's results and
// produces exactly one reply task per greeting).
func Definition() jobs.JobDefinition {
	return jobs.JobDefinition{
		JobType:     JobType,
		Description: "Greets each name in parallel, then replies to each greeting in parallel.",
		Stages: []jobs.StageDef{
			{Number: StageGreet, Name: "greet", TaskType: TaskTypeGreet, Parallelism: jobs.ParallelismDynamic},
			{Number: StageReply, Name: "reply", TaskType: TaskTypeReply, Parallelism: jobs.ParallelismMatchPrevious},
		},
		ParametersSchema: map[string]jobs.FieldSchema{
			"names": {Kind: jobs.FieldArray, Required: true},
		},
		CreateTasksForStage: createTasksForStage,
		FinalizeJob:         finalize,
	}
}

type greetResult struct {
	Greeting string `json:"greeting"`
}

type replyResult struct {
	Reply string `json:"reply"`
}

func createTasksForStage(stage int, jobParams map[string]any, jobID string, previousResults []json.RawMessage) ([]jobs.TaskSpec, error) {
	switch stage {
	case StageGreet:
		rawNames, _ := jobParams["names"].([]any)
		specs := make([]jobs.TaskSpec, 0, len(rawNames))
		for _, n := range rawNames {
			name, _ := n.(string)
			specs = append(specs, jobs.TaskSpec{
				TaskType:   TaskTypeGreet,
				Parameters: map[string]any{"name": name},
			})
		}
		return specs, nil
	case StageReply:
		specs := make([]jobs.TaskSpec, 0, len(previousResults))
		for _, raw := range previousResults {
			var greeted greetResult
			if err := json.Unmarshal(raw, &greeted); err != nil {
				return nil, fmt.Errorf("decode stage 1 result: %w", err)
			}
			specs = append(specs, jobs.TaskSpec{
				TaskType:   TaskTypeReply,
				Parameters: map[string]any{"greeting": greeted.Greeting},
			})
		}
		return specs, nil
	default:
		return nil, fmt.Errorf("greeting job has no stage %d", stage)
	}
}

func runGreet(ctx context.Context, params map[string]any) (registry.HandlerResult, error) {
	name, _ := params["name"].(string)
	if strings.TrimSpace(name) == "" {
		name = "there"
	}
	return registry.HandlerResult{
		Success: true,
		Details: map[string]any{"greeting": fmt.Sprintf("Hello, %s!", name)},
	}, nil
}

func runReply(ctx context.Context, params map[string]any) (registry.HandlerResult, error) {
	greeting, _ := params["greeting"].(string)
	return registry.HandlerResult{
		Success: true,
		Details: map[string]any{"reply": fmt.Sprintf("%s — nice to meet you too.", greeting)},
	}, nil
}

// finalize summarizes every reply produced in stage 2 into the job's final
// result_data, rather than relying on JobDefinition's zero-value default
// (which would just echo the raw stage_results map).
func finalize(fc jobs.FinalizeContext) (map[string]any, error) {
	raws := fc.StageResults[fmt.Sprintf("%d", StageReply)]
	replies := make([]string, 0, len(raws))
	for _, raw := range raws {
		var r replyResult
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, fmt.Errorf("decode stage 2 result: %w", err)
		}
		replies = append(replies, r.Reply)
	}
	return map[string]any{"replies": replies}, nil
}
