package handlers

import (
	"net/http"

	"cluster-backend/internal/service"
	"cluster-backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

type StatusHandler struct {
	statusService *service.StatusService
	log           zerolog.Logger
}

func NewStatusHandler(
	statusService *service.StatusService,
	logger *logger.Logger,
) *StatusHandler {
	return &StatusHandler{
		statusService: statusService,
		log:           logger.GetLogger("status-handler"),
	}
}

func (h *StatusHandler) RegisterRoutes(r *gin.Engine) {
	r.GET("/status", h.GetSystemStatus)
}

func (h *StatusHandler) GetSystemStatus(c *gin.Context) {
	status, err := h.statusService.GetSystemStatus(c.Request.Context())
	if err != nil {
		writeError(c, h.log, err, "Failed to get system status")
		return
	}

	h.log.Debug().
		Int("clusters", status.TotalClusters).
		Int("nodes", status.TotalNodes).
		Int("tasks_active", status.ActiveTasks).
		Msg("System status retrieved successfully")
	c.JSON(http.StatusOK, status)
}
