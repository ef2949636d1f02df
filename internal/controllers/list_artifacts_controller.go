package controllers

import (
	"errors"
	"net/http"

	"github.com/hydrantlabs/designq/internal/services"
	"github.com/hydrantlabs/designq/pkg/domain"

	"github.com/gin-gonic/gin"
)

type listArtifactsController struct{ svc services.StatusService }

func NewListArtifactsController(svc services.StatusService) *listArtifactsController {
	return &listArtifactsController{svc}
}

func (h *listArtifactsController) Handle(c *gin.Context) {
	taskID := c.Param("id")
	list, err := h.svc.Artifacts(c.Request.Context(), taskID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "artifact lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"taskId": taskID, "artifacts": list})
}
