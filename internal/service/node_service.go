package service

import (
	"context"
	"fmt"

	"cluster-backend/internal/models"
	"cluster-backend/internal/store/types"
)

// NodeUpdate 外部对节点待处理标记的修改，nil 字段保持不变
type NodeUpdate struct {
	PendingAddition *bool    `json:"pending_addition"`
	PendingDeletion *bool    `json:"pending_deletion"`
	PendingRoles    []string `json:"pending_roles"`
}

type NodeService struct {
	store   types.Store
	mutator *Mutator
}

func NewNodeService(store types.Store, mutator *Mutator) *NodeService {
	return &NodeService{store: store, mutator: mutator}
}

// AddNode 把新发现的节点加入集群，角色待分配
func (s *NodeService) AddNode(ctx context.Context, clusterID int, name string, roles []string) (*models.Node, error) {
	if _, err := s.store.GetCluster(ctx, clusterID); err != nil {
		return nil, fmt.Errorf("loading cluster: %w", err)
	}
	if roles == nil {
		roles = []string{}
	}

	node := &models.Node{
		ClusterID:       clusterID,
		Name:            name,
		Status:          models.NodeStatusDiscover,
		PendingAddition: true,
		Roles:           []string{},
		PendingRoles:    roles,
	}
	if err := s.store.CreateNode(ctx, node); err != nil {
		return nil, err
	}
	if node.Name == "" {
		node.Name = fmt.Sprintf("node-%d", node.ID)
		if err := s.store.UpdateNode(ctx, node); err != nil {
			return nil, err
		}
	}
	return node, nil
}

func (s *NodeService) GetNode(ctx context.Context, id int) (*models.Node, error) {
	return s.store.GetNode(ctx, id)
}

func (s *NodeService) ListNodes(ctx context.Context, clusterID int) ([]*models.Node, error) {
	return s.store.ListNodes(ctx, clusterID)
}

// UpdateNode 修改待处理标记，允许在操作进行中调用
func (s *NodeService) UpdateNode(ctx context.Context, id int, upd NodeUpdate) (*models.Node, error) {
	return s.mutator.Node(ctx, id, func(n *models.Node) error {
		if upd.PendingAddition != nil {
			n.PendingAddition = *upd.PendingAddition
		}
		if upd.PendingDeletion != nil {
			n.PendingDeletion = *upd.PendingDeletion
		}
		if upd.PendingRoles != nil {
			n.PendingRoles = upd.PendingRoles
		}
		return nil
	})
}
