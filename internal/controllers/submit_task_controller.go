package controllers

import (
	"errors"
	"net/http"

	"github.com/hydrantlabs/designq/internal/services"
	"github.com/hydrantlabs/designq/pkg/domain"

	"github.com/gin-gonic/gin"
)

type submitTaskController struct{ svc services.SubmissionService }

func NewSubmitTaskController(svc services.SubmissionService) *submitTaskController {
	return &submitTaskController{svc}
}

func (h *submitTaskController) Handle(c *gin.Context) {
	var req domain.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}

	resp, err := h.svc.Submit(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, domain.ErrValidation) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "submission failed"})
		return
	}
	c.JSON(http.StatusAccepted, resp)
}
