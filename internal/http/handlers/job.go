package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/neurobridge-backend/internal/domain/jobs"
	"github.com/yungbote/neurobridge-backend/internal/http/response"
	"github.com/yungbote/neurobridge-backend/internal/jobkit/kernel"
	"github.com/yungbote/neurobridge-backend/internal/jobkit/readapi"
	"github.com/yungbote/neurobridge-backend/internal/jobkit/store"
)

// JobHandler exposes the kernel's submission and read-API surface over
// HTTP. Adapted from the teacher's JobHandler (internal/http/handlers/job.go,
// rewritten by this change): same thin gin.Context -> service call ->
// response.RespondOK/RespondError shape, new endpoints because this kernel's
// control plane is submit/status/tasks rather than get/cancel/restart.
type JobHandler struct {
	deps kernel.Deps
	read *readapi.ReadAPI
}

func NewJobHandler(deps kernel.Deps, read *readapi.ReadAPI) *JobHandler {
	return &JobHandler{deps: deps, read: read}
}

// POST /jobs/submit/:job_type
func (h *JobHandler) SubmitJob(c *gin.Context) {
	jobType := c.Param("job_type")
	var params map[string]any
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&params); err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_body", err)
			return
		}
	}
	if params == nil {
		params = map[string]any{}
	}

	job, err := kernel.SubmitJob(c.Request.Context(), h.deps, jobType, params)
	if err != nil {
		response.RespondError(c, statusForSubmitErr(err), "submit_failed", err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job": job})
}

func statusForSubmitErr(err error) int {
	kerr, ok := err.(*jobs.Error)
	if !ok {
		return http.StatusInternalServerError
	}
	switch kerr.Kind {
	case jobs.ErrKindMissingJobType:
		return http.StatusNotFound
	case jobs.ErrKindValidation:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// GET /jobs/status/:job_id
func (h *JobHandler) GetJobStatus(c *gin.Context) {
	jobID := c.Param("job_id")
	job, err := h.read.GetJob(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			response.RespondError(c, http.StatusNotFound, "job_not_found", err)
			return
		}
		response.RespondError(c, http.StatusInternalServerError, "job_lookup_failed", err)
		return
	}
	progress, err := h.read.GetStageProgress(c.Request.Context(), jobID)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "progress_lookup_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"job": job, "progress": progress})
}

// GET /jobs/:job_id/tasks?stage=N
func (h *JobHandler) ListTasks(c *gin.Context) {
	jobID := c.Param("job_id")
	stage := 0
	if raw := c.Query("stage"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_stage", err)
			return
		}
		stage = n
	} else {
		job, err := h.read.GetJob(c.Request.Context(), jobID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.RespondError(c, http.StatusNotFound, "job_not_found", err)
				return
			}
			response.RespondError(c, http.StatusInternalServerError, "job_lookup_failed", err)
			return
		}
		stage = job.Stage
	}

	tasks, err := h.read.ListTasks(c.Request.Context(), jobID, stage)
	if err != nil {
		response.RespondError(c, http.StatusInternalServerError, "tasks_lookup_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"tasks": tasks})
}
