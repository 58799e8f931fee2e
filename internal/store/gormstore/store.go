package gormstore

import (
	"context"
	"errors"
	"fmt"

	"cluster-backend/internal/models"
	"cluster-backend/internal/store/types"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Store 通用GORM存储实现，sqlite 与 postgres 共用
type Store struct {
	db *gorm.DB
}

// New 创建GORM存储实例
func New(dialector gorm.Dialector) (*Store, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	store := &Store{db: db}

	if err := store.initialize(); err != nil {
		return nil, fmt.Errorf("initializing database: %w", err)
	}

	return store, nil
}

// DB 返回底层连接，供方言包配置连接池
func (s *Store) DB() *gorm.DB {
	return s.db
}

// initialize 初始化数据库
func (s *Store) initialize() error {
	err := s.db.AutoMigrate(
		&models.Cluster{},
		&models.Node{},
		&models.Task{},
		&models.Notification{},
		&models.PluginLink{},
	)
	if err != nil {
		return fmt.Errorf("auto migrating tables: %w", err)
	}
	return nil
}

func notFound(err error, what string, id any) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s %v: %w", what, id, types.ErrNotFound)
	}
	return fmt.Errorf("querying %s: %w", what, err)
}

// compareAndUpdate 按 id + version 条件整行更新，成功后 version 加一
func (s *Store) compareAndUpdate(ctx context.Context, model any, id any, version *int, what string) error {
	expected := *version
	*version = expected + 1

	result := s.db.WithContext(ctx).
		Model(model).
		Where("version = ?", expected).
		Select("*").
		Omit("created_at").
		Updates(model)
	if result.Error != nil {
		*version = expected
		return fmt.Errorf("updating %s: %w", what, result.Error)
	}
	if result.RowsAffected > 0 {
		return nil
	}

	*version = expected
	var count int64
	if err := s.db.WithContext(ctx).Model(model).Where("id = ?", id).Count(&count).Error; err != nil {
		return fmt.Errorf("querying %s: %w", what, err)
	}
	if count == 0 {
		return fmt.Errorf("%s %v: %w", what, id, types.ErrNotFound)
	}
	return fmt.Errorf("%s %v: %w", what, id, types.ErrVersionConflict)
}

// CreateCluster 创建集群
func (s *Store) CreateCluster(ctx context.Context, cluster *models.Cluster) error {
	cluster.Version = 1
	if err := s.db.WithContext(ctx).Create(cluster).Error; err != nil {
		return fmt.Errorf("creating cluster: %w", err)
	}
	return nil
}

// GetCluster 获取集群
func (s *Store) GetCluster(ctx context.Context, id int) (*models.Cluster, error) {
	var cluster models.Cluster
	if err := s.db.WithContext(ctx).First(&cluster, id).Error; err != nil {
		return nil, notFound(err, "cluster", id)
	}
	return &cluster, nil
}

// ListClusters 列出所有集群
func (s *Store) ListClusters(ctx context.Context) ([]*models.Cluster, error) {
	var clusters []*models.Cluster
	if err := s.db.WithContext(ctx).Order("id").Find(&clusters).Error; err != nil {
		return nil, fmt.Errorf("querying clusters: %w", err)
	}
	return clusters, nil
}

// UpdateCluster 更新集群
func (s *Store) UpdateCluster(ctx context.Context, cluster *models.Cluster) error {
	return s.compareAndUpdate(ctx, cluster, cluster.ID, &cluster.Version, "cluster")
}

// CreateNode 创建节点
func (s *Store) CreateNode(ctx context.Context, node *models.Node) error {
	node.Version = 1
	if err := s.db.WithContext(ctx).Create(node).Error; err != nil {
		return fmt.Errorf("creating node: %w", err)
	}
	return nil
}

// GetNode 获取节点
func (s *Store) GetNode(ctx context.Context, id int) (*models.Node, error) {
	var node models.Node
	if err := s.db.WithContext(ctx).First(&node, id).Error; err != nil {
		return nil, notFound(err, "node", id)
	}
	return &node, nil
}

// ListNodes 列出集群下的节点
func (s *Store) ListNodes(ctx context.Context, clusterID int) ([]*models.Node, error) {
	var nodes []*models.Node
	result := s.db.WithContext(ctx).Where("cluster_id = ?", clusterID).Order("id").Find(&nodes)
	if result.Error != nil {
		return nil, fmt.Errorf("querying nodes: %w", result.Error)
	}
	return nodes, nil
}

// UpdateNode 更新节点
func (s *Store) UpdateNode(ctx context.Context, node *models.Node) error {
	return s.compareAndUpdate(ctx, node, node.ID, &node.Version, "node")
}

// CreateTasks 在一个事务中保存父任务及其子任务
func (s *Store) CreateTasks(ctx context.Context, tasks ...*models.Task) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, task := range tasks {
			task.Version = 1
			if err := tx.Create(task).Error; err != nil {
				return fmt.Errorf("inserting task: %w", err)
			}
		}
		return nil
	})
}

// GetTask 获取任务
func (s *Store) GetTask(ctx context.Context, id string) (*models.Task, error) {
	var task models.Task
	if err := s.db.WithContext(ctx).First(&task, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "task", id)
	}
	return &task, nil
}

// ListSubtasks 按阶段顺序列出子任务
func (s *Store) ListSubtasks(ctx context.Context, parentID string) ([]*models.Task, error) {
	var tasks []*models.Task
	result := s.db.WithContext(ctx).Where("parent_id = ?", parentID).Order("seq").Find(&tasks)
	if result.Error != nil {
		return nil, fmt.Errorf("querying subtasks: %w", result.Error)
	}
	return tasks, nil
}

// ListTasks 列出集群下的任务
func (s *Store) ListTasks(ctx context.Context, clusterID int) ([]*models.Task, error) {
	var tasks []*models.Task
	q := s.db.WithContext(ctx)
	if clusterID != 0 {
		q = q.Where("cluster_id = ?", clusterID)
	}
	result := q.Order("created_at, seq").Find(&tasks)
	if result.Error != nil {
		return nil, fmt.Errorf("querying tasks: %w", result.Error)
	}
	return tasks, nil
}

// ListActiveSupertasks 列出尚未结束的顶层任务
func (s *Store) ListActiveSupertasks(ctx context.Context) ([]*models.Task, error) {
	var tasks []*models.Task
	result := s.db.WithContext(ctx).
		Where("parent_id IS NULL AND status IN ?", []models.TaskStatus{models.TaskStatusPending, models.TaskStatusRunning}).
		Order("created_at").
		Find(&tasks)
	if result.Error != nil {
		return nil, fmt.Errorf("querying active tasks: %w", result.Error)
	}
	return tasks, nil
}

// UpdateTask 更新任务
func (s *Store) UpdateTask(ctx context.Context, task *models.Task) error {
	return s.compareAndUpdate(ctx, task, task.ID, &task.Version, "task")
}

// CreateNotification 写入通知
func (s *Store) CreateNotification(ctx context.Context, n *models.Notification) error {
	if err := s.db.WithContext(ctx).Create(n).Error; err != nil {
		return fmt.Errorf("creating notification: %w", err)
	}
	return nil
}

// ListNotifications clusterID 为 0 时返回全部通知
func (s *Store) ListNotifications(ctx context.Context, clusterID int) ([]*models.Notification, error) {
	var out []*models.Notification
	q := s.db.WithContext(ctx).Order("id")
	if clusterID != 0 {
		q = q.Where("cluster_id = ?", clusterID)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("querying notifications: %w", err)
	}
	return out, nil
}

// CreatePluginLink 创建插件链接
func (s *Store) CreatePluginLink(ctx context.Context, link *models.PluginLink) error {
	if err := s.db.WithContext(ctx).Create(link).Error; err != nil {
		return fmt.Errorf("creating plugin link: %w", err)
	}
	return nil
}

// ListPluginLinks 列出集群的插件链接
func (s *Store) ListPluginLinks(ctx context.Context, clusterID int) ([]*models.PluginLink, error) {
	var out []*models.PluginLink
	result := s.db.WithContext(ctx).Where("cluster_id = ?", clusterID).Order("id").Find(&out)
	if result.Error != nil {
		return nil, fmt.Errorf("querying plugin links: %w", result.Error)
	}
	return out, nil
}

// DeletePluginLinks 删除集群的全部插件链接
func (s *Store) DeletePluginLinks(ctx context.Context, clusterID int) error {
	result := s.db.WithContext(ctx).Where("cluster_id = ?", clusterID).Delete(&models.PluginLink{})
	if result.Error != nil {
		return fmt.Errorf("deleting plugin links: %w", result.Error)
	}
	return nil
}

// Close 关闭数据库连接
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
