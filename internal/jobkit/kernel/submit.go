package kernel

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/yungbote/neurobridge-backend/internal/domain/jobs"
)

// SubmitJob validates rawParams against the job type's declared schema,
// computes the deterministic job id (spec.md §3: a content hash of job_type
// plus the canonical JSON of the validated parameters, which is what makes
// resubmitting the same request idempotent), creates the Job row if it
// doesn't already exist, and — only on first creation — dispatches the
// stage-1 job message. Resubmitting identical parameters returns the
// existing job unchanged without re-dispatching anything.
func SubmitJob(ctx context.Context, d Deps, jobType string, rawParams map[string]any) (*jobs.Job, error) {
	def, ok := d.Jobs.Get(jobType)
	if !ok {
		return nil, jobs.NewError(jobs.ErrKindMissingJobType, fmt.Sprintf("no job definition registered for job_type=%s", jobType), nil)
	}

	params, err := jobs.ValidateParameters(def.ParametersSchema, rawParams)
	if err != nil {
		return nil, err
	}

	id, err := DeriveJobID(jobType, params)
	if err != nil {
		return nil, jobs.NewError(jobs.ErrKindValidation, "failed to canonicalize parameters", err)
	}

	paramsRaw, err := json.Marshal(params)
	if err != nil {
		return nil, jobs.NewError(jobs.ErrKindValidation, "failed to marshal parameters", err)
	}

	job := &jobs.Job{
		ID:          id,
		JobType:     jobType,
		Status:      jobs.JobQueued,
		Stage:       1,
		TotalStages: def.TotalStages(),
		Parameters:  paramsRaw,
	}
	created, err := d.Store.CreateJob(ctx, job)
	if err != nil {
		return nil, jobs.NewError(jobs.ErrKindStore, "failed to create job", err)
	}
	if !created {
		return job, nil
	}

	checkpoint(ctx, d.Store, d.logger(), jobs.CheckpointJobSubmitted, job.ID, "", jobType, 1, "", "")

	msg := jobs.JobMessage{JobID: job.ID, JobType: jobType, Stage: 1, Parameters: params}
	raw, err := json.Marshal(msg)
	if err != nil {
		return nil, jobs.NewError(jobs.ErrKindQueue, "failed to marshal job message", err)
	}
	if _, err := d.JobQueue.Publish(ctx, raw); err != nil {
		return nil, jobs.NewError(jobs.ErrKindQueue, "failed to publish job message", err)
	}
	return job, nil
}

// DeriveJobID hashes job_type plus the canonical (key-sorted) JSON encoding
// of params into a 64-character hex digest. Two submissions of the same
// job_type with semantically identical parameters always produce the same
// id regardless of key order in the caller's map, since Go's
// encoding/json already sorts map keys — canonicalization here is
// therefore just "marshal a map", made explicit so the invariant is
// documented rather than accidental.
func DeriveJobID(jobType string, params map[string]any) (string, error) {
	canon, err := canonicalJSON(params)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write([]byte(jobType))
	h.Write([]byte{0})
	h.Write(canon)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// canonicalJSON re-marshals v through a sorted-key representation. Go's
// json.Marshal already sorts map[string]any keys, but nested maps decoded
// from arbitrary sources may not all be map[string]any — round-tripping
// through json.Marshal/Unmarshal normalizes numeric formatting and nested
// map types before the final marshal that determines the hash.
func canonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return marshalSorted(generic)
}

func marshalSorted(v any) ([]byte, error) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := []byte{'{'}
		for i, k := range keys {
			if i > 0 {
				out = append(out, ',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			out = append(out, kb...)
			out = append(out, ':')
			vb, err := marshalSorted(val[k])
			if err != nil {
				return nil, err
			}
			out = append(out, vb...)
		}
		out = append(out, '}')
		return out, nil
	case []any:
		out := []byte{'['}
		for i, e := range val {
			if i > 0 {
				out = append(out, ',')
			}
			eb, err := marshalSorted(e)
			if err != nil {
				return nil, err
			}
			out = append(out, eb...)
		}
		out = append(out, ']')
		return out, nil
	default:
		return json.Marshal(val)
	}
}
