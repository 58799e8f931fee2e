package service

import (
	"context"
	"fmt"

	"cluster-backend/internal/models"
	"cluster-backend/internal/store/types"
)

type ClusterService struct {
	store types.Store
}

func NewClusterService(store types.Store) *ClusterService {
	return &ClusterService{store: store}
}

// CreateCluster 新集群处于 new 状态，从未部署过
func (s *ClusterService) CreateCluster(ctx context.Context, name string) (*models.Cluster, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: cluster name is required", ErrInvalidArgument)
	}
	cluster := &models.Cluster{
		Name:   name,
		Status: models.ClusterStatusNew,
	}
	if err := s.store.CreateCluster(ctx, cluster); err != nil {
		return nil, err
	}
	return cluster, nil
}

func (s *ClusterService) GetCluster(ctx context.Context, id int) (*models.Cluster, error) {
	return s.store.GetCluster(ctx, id)
}

func (s *ClusterService) ListClusters(ctx context.Context) ([]*models.Cluster, error) {
	return s.store.ListClusters(ctx)
}

func (s *ClusterService) AddPluginLink(ctx context.Context, clusterID int, link *models.PluginLink) error {
	if _, err := s.store.GetCluster(ctx, clusterID); err != nil {
		return fmt.Errorf("loading cluster: %w", err)
	}
	link.ClusterID = clusterID
	return s.store.CreatePluginLink(ctx, link)
}

func (s *ClusterService) ListPluginLinks(ctx context.Context, clusterID int) ([]*models.PluginLink, error) {
	return s.store.ListPluginLinks(ctx, clusterID)
}

// ListNotifications clusterID 为 0 时返回全部通知
func (s *ClusterService) ListNotifications(ctx context.Context, clusterID int) ([]*models.Notification, error) {
	return s.store.ListNotifications(ctx, clusterID)
}
