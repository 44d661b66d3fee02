// Package controller exposes the grader over HTTP.
package controller

import (
	"strings"

	"codegrader/internal/grader/model"
	"codegrader/internal/grader/service"
	"codegrader/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// GraderController handles grading HTTP endpoints.
type GraderController struct {
	svc *service.Service
}

// NewGraderController creates a new GraderController.
func NewGraderController(svc *service.Service) *GraderController {
	return &GraderController{svc: svc}
}

// Grade grades a submission against its test cases and waits for the verdict.
func (h *GraderController) Grade(c *gin.Context) {
	var req model.GradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	if strings.TrimSpace(req.Source()) == "" {
		response.BadRequest(c, "Code is required")
		return
	}
	payload, err := h.svc.Grade(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, payload)
}

// Run executes the submission once on the given input. A failed execution is
// still a successful request and carries the error kind in the payload.
func (h *GraderController) Run(c *gin.Context) {
	var req model.RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	if strings.TrimSpace(req.Source()) == "" {
		response.BadRequest(c, "Code is required")
		return
	}
	payload, err := h.svc.Run(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	if payload.Error != "" {
		response.SuccessWithMessage(c, payload.Error, payload)
		return
	}
	response.SuccessWithMessage(c, payload.Output, payload)
}

// SubmitJob queues a grading job.
func (h *GraderController) SubmitJob(c *gin.Context) {
	var req model.GradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "Invalid request parameters")
		return
	}
	if strings.TrimSpace(req.Source()) == "" {
		response.BadRequest(c, "Code is required")
		return
	}
	accepted, err := h.svc.SubmitJob(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, accepted)
}

// GetJob returns status for one job.
func (h *GraderController) GetJob(c *gin.Context) {
	jobID := strings.TrimSpace(c.Param("id"))
	if jobID == "" {
		response.BadRequest(c, "Invalid job id")
		return
	}
	rec, err := h.svc.GetJob(c.Request.Context(), jobID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, rec)
}

// Languages lists the supported languages.
func (h *GraderController) Languages(c *gin.Context) {
	response.Success(c, h.svc.Languages())
}
