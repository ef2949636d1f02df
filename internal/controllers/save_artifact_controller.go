package controllers

import (
	"errors"
	"net/http"

	"github.com/hydrantlabs/designq/internal/services"
	"github.com/hydrantlabs/designq/pkg/domain"

	"github.com/gin-gonic/gin"
)

type saveArtifactController struct{ svc services.CallbackService }

func NewSaveArtifactController(svc services.CallbackService) *saveArtifactController {
	return &saveArtifactController{svc}
}

func (h *saveArtifactController) Handle(c *gin.Context) {
	var req domain.SaveArtifactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}

	resp, err := h.svc.SaveArtifact(c.Request.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrValidation):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, domain.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "artifact save failed"})
		}
		return
	}
	c.JSON(http.StatusOK, resp)
}
