package handlers

import (
	"net/http"

	"cluster-backend/internal/service"
	"cluster-backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

type NodeHandler struct {
	nodeService *service.NodeService
	log         zerolog.Logger
}

func NewNodeHandler(
	nodeService *service.NodeService,
	logger *logger.Logger,
) *NodeHandler {
	return &NodeHandler{
		nodeService: nodeService,
		log:         logger.GetLogger("node-handler"),
	}
}

// RegisterRoutes 注册节点相关路由
func (h *NodeHandler) RegisterRoutes(r *gin.Engine) {
	r.GET("/clusters/:id/nodes", h.ListNodes)
	r.POST("/clusters/:id/nodes", h.CreateNode)
	r.GET("/nodes/:id", h.GetNode)
	r.PATCH("/nodes/:id", h.UpdateNode)
}

type createNodeRequest struct {
	Name  string   `json:"name"`
	Roles []string `json:"roles"`
}

func (h *NodeHandler) CreateNode(c *gin.Context) {
	clusterID, ok := intParam(c, "id")
	if !ok {
		return
	}
	var req createNodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Error().Err(err).Msg("Failed to decode request body")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	node, err := h.nodeService.AddNode(c.Request.Context(), clusterID, req.Name, req.Roles)
	if err != nil {
		writeError(c, h.log, err, "Failed to create node")
		return
	}

	h.log.Info().
		Int("id", node.ID).
		Int("cluster_id", clusterID).
		Str("name", node.Name).
		Strs("pending_roles", node.PendingRoles).
		Msg("Node created successfully")
	c.JSON(http.StatusCreated, node)
}

func (h *NodeHandler) ListNodes(c *gin.Context) {
	clusterID, ok := intParam(c, "id")
	if !ok {
		return
	}
	nodes, err := h.nodeService.ListNodes(c.Request.Context(), clusterID)
	if err != nil {
		writeError(c, h.log, err, "Failed to list nodes")
		return
	}
	c.JSON(http.StatusOK, nodes)
}

func (h *NodeHandler) GetNode(c *gin.Context) {
	id, ok := intParam(c, "id")
	if !ok {
		return
	}
	node, err := h.nodeService.GetNode(c.Request.Context(), id)
	if err != nil {
		writeError(c, h.log, err, "Failed to get node")
		return
	}
	c.JSON(http.StatusOK, node)
}

// UpdateNode 修改节点的待处理标记
func (h *NodeHandler) UpdateNode(c *gin.Context) {
	id, ok := intParam(c, "id")
	if !ok {
		return
	}
	var upd service.NodeUpdate
	if err := c.ShouldBindJSON(&upd); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	node, err := h.nodeService.UpdateNode(c.Request.Context(), id, upd)
	if err != nil {
		writeError(c, h.log, err, "Failed to update node")
		return
	}
	h.log.Info().Int("id", node.ID).Bool("pending_deletion", node.PendingDeletion).Msg("Node updated")
	c.JSON(http.StatusOK, node)
}
