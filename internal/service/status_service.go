package service

import (
	"context"

	"cluster-backend/internal/models"
	"cluster-backend/internal/store/types"
)

type StatusService struct {
	store types.Store
}

func NewStatusService(store types.Store) *StatusService {
	return &StatusService{store: store}
}

func (s *StatusService) GetSystemStatus(ctx context.Context) (*models.SystemStatus, error) {
	clusters, err := s.store.ListClusters(ctx)
	if err != nil {
		return nil, err
	}

	nodeCount := 0
	for _, c := range clusters {
		nodes, err := s.store.ListNodes(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		nodeCount += len(nodes)
	}

	active, err := s.store.ListActiveSupertasks(ctx)
	if err != nil {
		return nil, err
	}

	notifications, err := s.store.ListNotifications(ctx, 0)
	if err != nil {
		return nil, err
	}

	return &models.SystemStatus{
		TotalClusters: len(clusters),
		TotalNodes:    nodeCount,
		ActiveTasks:   len(active),
		Notifications: len(notifications),
	}, nil
}
