package router

import (
	"net/http"

	"github.com/cuongbtq/stem-splitter/internal/api/handler"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// Options tunes the router middleware
type Options struct {
	ServiceName     string
	SubmitRateLimit float64 // submissions per second, 0 disables
	SubmitBurst     int
	AllowedOrigins  []string
}

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies, opts Options) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware(opts.AllowedOrigins))

	serviceName := opts.ServiceName
	if serviceName == "" {
		serviceName = "stem-splitter"
	}

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": serviceName,
		})
	})

	jobHandler := handler.NewJobHandler(deps)

	submit := []gin.HandlerFunc{jobHandler.SubmitJob}
	if opts.SubmitRateLimit > 0 {
		limiter := rate.NewLimiter(rate.Limit(opts.SubmitRateLimit), max(opts.SubmitBurst, 1))
		submit = append([]gin.HandlerFunc{RateLimitMiddleware(limiter, deps.Logger)}, submit...)
	}

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		jobs := v1.Group("/jobs")
		{
			// POST /api/v1/jobs - Submit a job
			jobs.POST("", submit...)

			// GET /api/v1/jobs - Pending jobs and the current job
			jobs.GET("", jobHandler.ListQueue)

			// GET /api/v1/jobs/:job_id - Job status
			jobs.GET("/:job_id", jobHandler.GetJobStatus)

			// POST /api/v1/jobs/:job_id/cancel - Remove a queued job
			jobs.POST("/:job_id/cancel", jobHandler.CancelJob)

			jobs.GET("/:job_id/files/:name", jobHandler.ListFiles)
			jobs.GET("/:job_id/files/:name/:file", jobHandler.DownloadFile)
			jobs.GET("/:job_id/archive/:name", jobHandler.DownloadArchive)
		}

		// GET /api/v1/completed - Finished jobs, most recent first
		v1.GET("/completed", jobHandler.ListCompleted)
	}

	return r
}
