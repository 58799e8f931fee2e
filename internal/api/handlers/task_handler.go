package handlers

import (
	"context"
	"net/http"

	"cluster-backend/internal/models"
	"cluster-backend/internal/service"
	"cluster-backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

type TaskHandler struct {
	taskService *service.TaskService
	log         zerolog.Logger
}

func NewTaskHandler(
	taskService *service.TaskService,
	logger *logger.Logger,
) *TaskHandler {
	return &TaskHandler{
		taskService: taskService,
		log:         logger.GetLogger("task-handler"),
	}
}

// RegisterRoutes 注册操作和任务查询路由
func (h *TaskHandler) RegisterRoutes(r *gin.Engine) {
	r.POST("/clusters/:id/deploy", h.submit(h.taskService.Deploy))
	r.POST("/clusters/:id/stop", h.submit(h.taskService.Stop))
	r.POST("/clusters/:id/reset", h.submit(h.taskService.Reset))
	r.GET("/clusters/:id/tasks", h.ListClusterTasks)
	r.GET("/tasks", h.ListTasks)
	r.GET("/tasks/:uuid", h.GetTask)
}

// submit 发起操作，成功时返回 202 和顶层任务
func (h *TaskHandler) submit(op func(context.Context, int) (*models.Task, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		clusterID, ok := intParam(c, "id")
		if !ok {
			return
		}
		task, err := op(c.Request.Context(), clusterID)
		if err != nil {
			writeError(c, h.log, err, "Operation rejected")
			return
		}

		h.log.Info().
			Int("cluster_id", clusterID).
			Str("task_id", task.ID).
			Str("operation", string(task.Name)).
			Msg("Operation accepted")
		c.JSON(http.StatusAccepted, task)
	}
}

func (h *TaskHandler) GetTask(c *gin.Context) {
	view, err := h.taskService.GetStatus(c.Request.Context(), c.Param("uuid"))
	if err != nil {
		writeError(c, h.log, err, "Failed to get task")
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *TaskHandler) ListClusterTasks(c *gin.Context) {
	clusterID, ok := intParam(c, "id")
	if !ok {
		return
	}
	h.list(c, clusterID)
}

func (h *TaskHandler) ListTasks(c *gin.Context) {
	h.list(c, 0)
}

func (h *TaskHandler) list(c *gin.Context, clusterID int) {
	tasks, err := h.taskService.ListTasks(c.Request.Context(), clusterID)
	if err != nil {
		writeError(c, h.log, err, "Failed to list tasks")
		return
	}
	h.log.Debug().Int("count", len(tasks)).Msg("Tasks retrieved successfully")
	c.JSON(http.StatusOK, tasks)
}
