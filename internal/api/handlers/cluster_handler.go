package handlers

import (
	"net/http"

	"cluster-backend/internal/models"
	"cluster-backend/internal/service"
	"cluster-backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

type ClusterHandler struct {
	clusterService *service.ClusterService
	log            zerolog.Logger
}

func NewClusterHandler(
	clusterService *service.ClusterService,
	logger *logger.Logger,
) *ClusterHandler {
	return &ClusterHandler{
		clusterService: clusterService,
		log:            logger.GetLogger("cluster-handler"),
	}
}

// RegisterRoutes 注册集群相关路由
func (h *ClusterHandler) RegisterRoutes(r *gin.Engine) {
	r.GET("/clusters", h.ListClusters)
	r.POST("/clusters", h.CreateCluster)
	r.GET("/clusters/:id", h.GetCluster)
	r.GET("/clusters/:id/notifications", h.ListNotifications)
	r.GET("/clusters/:id/plugin_links", h.ListPluginLinks)
	r.POST("/clusters/:id/plugin_links", h.AddPluginLink)
}

type createClusterRequest struct {
	Name string `json:"name" binding:"required"`
}

func (h *ClusterHandler) CreateCluster(c *gin.Context) {
	var req createClusterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	cluster, err := h.clusterService.CreateCluster(c.Request.Context(), req.Name)
	if err != nil {
		writeError(c, h.log, err, "Failed to create cluster")
		return
	}

	h.log.Info().Int("cluster_id", cluster.ID).Str("name", cluster.Name).Msg("Cluster created")
	c.JSON(http.StatusCreated, cluster)
}

func (h *ClusterHandler) ListClusters(c *gin.Context) {
	clusters, err := h.clusterService.ListClusters(c.Request.Context())
	if err != nil {
		writeError(c, h.log, err, "Failed to list clusters")
		return
	}
	c.JSON(http.StatusOK, clusters)
}

func (h *ClusterHandler) GetCluster(c *gin.Context) {
	id, ok := intParam(c, "id")
	if !ok {
		return
	}
	cluster, err := h.clusterService.GetCluster(c.Request.Context(), id)
	if err != nil {
		writeError(c, h.log, err, "Failed to get cluster")
		return
	}
	c.JSON(http.StatusOK, cluster)
}

func (h *ClusterHandler) ListNotifications(c *gin.Context) {
	id, ok := intParam(c, "id")
	if !ok {
		return
	}
	notes, err := h.clusterService.ListNotifications(c.Request.Context(), id)
	if err != nil {
		writeError(c, h.log, err, "Failed to list notifications")
		return
	}
	c.JSON(http.StatusOK, notes)
}

func (h *ClusterHandler) ListPluginLinks(c *gin.Context) {
	id, ok := intParam(c, "id")
	if !ok {
		return
	}
	links, err := h.clusterService.ListPluginLinks(c.Request.Context(), id)
	if err != nil {
		writeError(c, h.log, err, "Failed to list plugin links")
		return
	}
	c.JSON(http.StatusOK, links)
}

type pluginLinkRequest struct {
	Title       string `json:"title" binding:"required"`
	URL         string `json:"url" binding:"required"`
	Description string `json:"description"`
}

func (h *ClusterHandler) AddPluginLink(c *gin.Context) {
	id, ok := intParam(c, "id")
	if !ok {
		return
	}
	var req pluginLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	link := &models.PluginLink{Title: req.Title, URL: req.URL, Description: req.Description}
	if err := h.clusterService.AddPluginLink(c.Request.Context(), id, link); err != nil {
		writeError(c, h.log, err, "Failed to add plugin link")
		return
	}
	c.JSON(http.StatusCreated, link)
}
