package controller

import (
	"codegrader/internal/common/http/middleware"

	"github.com/gin-gonic/gin"
)

// RouteLimits carries the rate limit policy of each mutating route.
type RouteLimits struct {
	Grade middleware.RateLimitPolicy
	Run   middleware.RateLimitPolicy
	Jobs  middleware.RateLimitPolicy
}

// RegisterRoutes mounts the grader API under /api/v1/grader. A nil limiter disables rate limiting.
func RegisterRoutes(router gin.IRouter, h *GraderController, limiter *middleware.RateLimiter, limits RouteLimits) {
	api := router.Group("/api/v1/grader")
	api.POST("/grade", middleware.RateLimitMiddleware(limiter, "grade", limits.Grade), h.Grade)
	api.POST("/run", middleware.RateLimitMiddleware(limiter, "run", limits.Run), h.Run)
	api.POST("/jobs", middleware.RateLimitMiddleware(limiter, "jobs", limits.Jobs), h.SubmitJob)
	api.GET("/jobs/:id", h.GetJob)
	api.GET("/languages", h.Languages)
}
