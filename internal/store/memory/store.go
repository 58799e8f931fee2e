package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"cluster-backend/internal/models"
	"cluster-backend/internal/store/types"
)

// Store 内存存储，读写都做拷贝，调用方拿到的记录与存储内部互不影响
type Store struct {
	clusters      map[int]*models.Cluster
	nodes         map[int]*models.Node
	tasks         map[string]*models.Task
	notifications []*models.Notification
	links         map[int]*models.PluginLink
	// 每类记录各自的自增序列，与数据库按表编号一致
	seq map[string]int
	mu  sync.RWMutex
}

func NewStore() *Store {
	return &Store{
		clusters: make(map[int]*models.Cluster),
		nodes:    make(map[int]*models.Node),
		tasks:    make(map[string]*models.Task),
		links:    make(map[int]*models.PluginLink),
		seq:      make(map[string]int),
	}
}

// nextID 生成 kind 的下一个 ID，调用方持有写锁
func (s *Store) nextID(kind string) int {
	s.seq[kind]++
	return s.seq[kind]
}

// observeID 调用方自带 ID 时推进序列，之后分配的 ID 不会与之冲突
func (s *Store) observeID(kind string, id int) {
	if id > s.seq[kind] {
		s.seq[kind] = id
	}
}

func stamp(created, updated *time.Time) {
	now := time.Now()
	if created.IsZero() {
		*created = now
	}
	*updated = now
}

// Cluster 操作
func (s *Store) CreateCluster(ctx context.Context, cluster *models.Cluster) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cluster.ID == 0 {
		cluster.ID = s.nextID("cluster")
	}
	if _, exists := s.clusters[cluster.ID]; exists {
		return fmt.Errorf("cluster %d already exists", cluster.ID)
	}
	s.observeID("cluster", cluster.ID)
	cluster.Version = 1
	stamp(&cluster.CreatedAt, &cluster.UpdatedAt)
	s.clusters[cluster.ID] = cluster.Clone()
	return nil
}

func (s *Store) GetCluster(ctx context.Context, id int) (*models.Cluster, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if cluster, exists := s.clusters[id]; exists {
		return cluster.Clone(), nil
	}
	return nil, fmt.Errorf("cluster %d: %w", id, types.ErrNotFound)
}

func (s *Store) ListClusters(ctx context.Context) ([]*models.Cluster, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	clusters := make([]*models.Cluster, 0, len(s.clusters))
	for _, cluster := range s.clusters {
		clusters = append(clusters, cluster.Clone())
	}
	sort.Slice(clusters, func(i, j int) bool { return clusters[i].ID < clusters[j].ID })
	return clusters, nil
}

func (s *Store) UpdateCluster(ctx context.Context, cluster *models.Cluster) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.clusters[cluster.ID]
	if !exists {
		return fmt.Errorf("cluster %d: %w", cluster.ID, types.ErrNotFound)
	}
	if current.Version != cluster.Version {
		return fmt.Errorf("cluster %d: %w", cluster.ID, types.ErrVersionConflict)
	}
	cluster.Version++
	cluster.CreatedAt = current.CreatedAt
	cluster.UpdatedAt = time.Now()
	s.clusters[cluster.ID] = cluster.Clone()
	return nil
}

// Node 操作
func (s *Store) CreateNode(ctx context.Context, node *models.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if node.ID == 0 {
		node.ID = s.nextID("node")
	}
	if _, exists := s.nodes[node.ID]; exists {
		return fmt.Errorf("node %d already exists", node.ID)
	}
	s.observeID("node", node.ID)
	node.Version = 1
	stamp(&node.CreatedAt, &node.UpdatedAt)
	s.nodes[node.ID] = node.Clone()
	return nil
}

func (s *Store) GetNode(ctx context.Context, id int) (*models.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if node, exists := s.nodes[id]; exists {
		return node.Clone(), nil
	}
	return nil, fmt.Errorf("node %d: %w", id, types.ErrNotFound)
}

func (s *Store) ListNodes(ctx context.Context, clusterID int) ([]*models.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	nodes := make([]*models.Node, 0)
	for _, node := range s.nodes {
		if node.ClusterID == clusterID {
			nodes = append(nodes, node.Clone())
		}
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	return nodes, nil
}

func (s *Store) UpdateNode(ctx context.Context, node *models.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.nodes[node.ID]
	if !exists {
		return fmt.Errorf("node %d: %w", node.ID, types.ErrNotFound)
	}
	if current.Version != node.Version {
		return fmt.Errorf("node %d: %w", node.ID, types.ErrVersionConflict)
	}
	node.Version++
	node.CreatedAt = current.CreatedAt
	node.UpdatedAt = time.Now()
	s.nodes[node.ID] = node.Clone()
	return nil
}

// Task 操作
func (s *Store) CreateTasks(ctx context.Context, tasks ...*models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, task := range tasks {
		if _, exists := s.tasks[task.ID]; exists {
			return fmt.Errorf("task %s already exists", task.ID)
		}
	}
	now := time.Now()
	for _, task := range tasks {
		task.Version = 1
		task.CreatedAt, task.UpdatedAt = now, now
		s.tasks[task.ID] = task.Clone()
	}
	return nil
}

func (s *Store) GetTask(ctx context.Context, id string) (*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if task, exists := s.tasks[id]; exists {
		return task.Clone(), nil
	}
	return nil, fmt.Errorf("task %s: %w", id, types.ErrNotFound)
}

func (s *Store) ListSubtasks(ctx context.Context, parentID string) ([]*models.Task, error) {
	return s.filterTasks(func(t *models.Task) bool {
		return t.ParentID != nil && *t.ParentID == parentID
	}), nil
}

func (s *Store) ListTasks(ctx context.Context, clusterID int) ([]*models.Task, error) {
	return s.filterTasks(func(t *models.Task) bool {
		return clusterID == 0 || t.ClusterID == clusterID
	}), nil
}

func (s *Store) ListActiveSupertasks(ctx context.Context) ([]*models.Task, error) {
	return s.filterTasks(func(t *models.Task) bool {
		return t.IsSupertask() && !t.Status.Terminal()
	}), nil
}

func (s *Store) filterTasks(match func(*models.Task) bool) []*models.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tasks := make([]*models.Task, 0)
	for _, task := range s.tasks {
		if match(task) {
			tasks = append(tasks, task.Clone())
		}
	}
	sort.Slice(tasks, func(i, j int) bool {
		if !tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
		}
		return tasks[i].Seq < tasks[j].Seq
	})
	return tasks
}

func (s *Store) UpdateTask(ctx context.Context, task *models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.tasks[task.ID]
	if !exists {
		return fmt.Errorf("task %s: %w", task.ID, types.ErrNotFound)
	}
	if current.Version != task.Version {
		return fmt.Errorf("task %s: %w", task.ID, types.ErrVersionConflict)
	}
	task.Version++
	task.CreatedAt = current.CreatedAt
	task.UpdatedAt = time.Now()
	s.tasks[task.ID] = task.Clone()
	return nil
}

// Notification 操作
func (s *Store) CreateNotification(ctx context.Context, n *models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n.ID = s.nextID("notification")
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	cp := *n
	s.notifications = append(s.notifications, &cp)
	return nil
}

// ListNotifications clusterID 为 0 时返回全部通知
func (s *Store) ListNotifications(ctx context.Context, clusterID int) ([]*models.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Notification, 0, len(s.notifications))
	for _, n := range s.notifications {
		if clusterID == 0 || n.ClusterID == clusterID {
			cp := *n
			out = append(out, &cp)
		}
	}
	return out, nil
}

// PluginLink 操作
func (s *Store) CreatePluginLink(ctx context.Context, link *models.PluginLink) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	link.ID = s.nextID("plugin_link")
	if link.CreatedAt.IsZero() {
		link.CreatedAt = time.Now()
	}
	cp := *link
	s.links[link.ID] = &cp
	return nil
}

func (s *Store) ListPluginLinks(ctx context.Context, clusterID int) ([]*models.PluginLink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.PluginLink, 0)
	for _, link := range s.links {
		if link.ClusterID == clusterID {
			cp := *link
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) DeletePluginLinks(ctx context.Context, clusterID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, link := range s.links {
		if link.ClusterID == clusterID {
			delete(s.links, id)
		}
	}
	return nil
}

func (s *Store) Close() error {
	return nil
}
