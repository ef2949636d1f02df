package controllers

import (
	"errors"
	"net/http"

	"github.com/hydrantlabs/designq/internal/services"
	"github.com/hydrantlabs/designq/pkg/domain"

	"github.com/gin-gonic/gin"
)

type getStatusController struct{ svc services.StatusService }

func NewGetStatusController(svc services.StatusService) *getStatusController {
	return &getStatusController{svc}
}

func (h *getStatusController) Handle(c *gin.Context) {
	taskID := c.Param("id")
	view, err := h.svc.Get(c.Request.Context(), taskID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "status lookup failed"})
		return
	}
	c.JSON(http.StatusOK, view)
}
