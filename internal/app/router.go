package app

import (
	"github.com/gin-gonic/gin"

	"github.com/yungbote/neurobridge-backend/internal/http/handlers"
	"github.com/yungbote/neurobridge-backend/internal/http/middleware"
	"github.com/yungbote/neurobridge-backend/internal/observability"
	"github.com/yungbote/neurobridge-backend/internal/platform/logger"
)

// wireRouter builds the kernel's minimal control-plane surface: a health
// check plus job submission/status/task-listing. Adapted from the
// teacher's wireRouter (internal/app/router.go), which delegated to
// server.NewRouter with a dozen domain handlers — this kernel has exactly
// one handler group, so the route table is built directly rather than
// through that indirection.
func wireRouter(log *logger.Logger, metrics *observability.Metrics, jobHandler *handlers.JobHandler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.CORS())
	r.Use(middleware.AttachTraceContext())
	r.Use(middleware.Metrics(metrics))
	r.Use(middleware.RequestLogger(log))

	health := handlers.NewHealthHandler()
	r.GET("/healthz", health.HealthCheck)
	r.GET("/metrics", gin.WrapH(observability.Handler()))

	jobs := r.Group("/jobs")
	{
		jobs.POST("/submit/:job_type", jobHandler.SubmitJob)
		jobs.GET("/status/:job_id", jobHandler.GetJobStatus)
		jobs.GET("/:job_id/tasks", jobHandler.ListTasks)
	}

	return r
}
