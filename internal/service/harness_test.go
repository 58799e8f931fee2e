package service

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"

	"cluster-backend/internal/channel"
	"cluster-backend/internal/models"
	"cluster-backend/internal/store/memory"
	"cluster-backend/internal/store/types"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type harness struct {
	store      types.Store
	channel    *channel.Memory
	locks      *ClusterLocks
	mutator    *Mutator
	metrics    *Metrics
	notifier   *Notifier
	dispatcher *Dispatcher
	receiver   *Receiver
	tasks      *TaskService
	nodes      *NodeService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithChannel(t, channel.NewMemory(64))
}

func newHarnessWithChannel(t *testing.T, ch channel.Channel) *harness {
	t.Helper()
	return newHarnessWith(t, memory.NewStore(), ch)
}

func newHarnessWith(t *testing.T, store types.Store, ch channel.Channel) *harness {
	t.Helper()
	logger := zerolog.Nop()
	locks := NewClusterLocks()
	mutator := NewMutator(store, NewKeyedMutex(), 5)
	metrics := NewMetrics(prometheus.NewRegistry())
	notifier := NewNotifier(store, logger, metrics, 16)
	dispatcher := NewDispatcher(store, ch, locks, mutator, metrics, "", logger)

	h := &harness{
		store:      store,
		locks:      locks,
		mutator:    mutator,
		metrics:    metrics,
		notifier:   notifier,
		dispatcher: dispatcher,
		receiver:   NewReceiver(store, locks, mutator, notifier, metrics, ReceiverConfig{SystemName: "Fuel", Workers: 2}, logger),
		tasks:      NewTaskService(store, dispatcher),
		nodes:      NewNodeService(store, mutator),
	}
	if mem, ok := ch.(*channel.Memory); ok {
		h.channel = mem
	}
	t.Cleanup(notifier.Close)
	return h
}

// cluster 创建集群，deployed 为真时视为已部署成功
func (h *harness) cluster(t *testing.T, name string, status models.ClusterStatus) *models.Cluster {
	t.Helper()
	c := &models.Cluster{Name: name, Status: status}
	c.Attributes.Generated.DeployedBefore.Value = status == models.ClusterStatusOperational
	require.NoError(t, h.store.CreateCluster(context.Background(), c))
	return c
}

func (h *harness) node(t *testing.T, clusterID int, name string, mutate func(*models.Node)) *models.Node {
	t.Helper()
	n := &models.Node{
		ClusterID:    clusterID,
		Name:         name,
		Status:       models.NodeStatusDiscover,
		Roles:        []string{},
		PendingRoles: []string{},
	}
	if mutate != nil {
		mutate(n)
	}
	require.NoError(t, h.store.CreateNode(context.Background(), n))
	return n
}

// deployedNode 已完成部署的节点
func deployedNode(roles ...string) func(*models.Node) {
	return func(n *models.Node) {
		n.Status = models.NodeStatusReady
		n.Roles = roles
		n.Progress = 100
	}
}

// pendingNode 已加入但尚未部署的节点
func pendingNode(roles ...string) func(*models.Node) {
	return func(n *models.Node) {
		n.PendingAddition = true
		n.PendingRoles = roles
	}
}

func (h *harness) subtasks(t *testing.T, superID string) []*models.Task {
	t.Helper()
	children, err := h.store.ListSubtasks(context.Background(), superID)
	require.NoError(t, err)
	return children
}

func (h *harness) task(t *testing.T, id string) *models.Task {
	t.Helper()
	task, err := h.store.GetTask(context.Background(), id)
	require.NoError(t, err)
	return task
}

func (h *harness) getCluster(t *testing.T, id int) *models.Cluster {
	t.Helper()
	c, err := h.store.GetCluster(context.Background(), id)
	require.NoError(t, err)
	return c
}

func (h *harness) getNode(t *testing.T, id int) *models.Node {
	t.Helper()
	n, err := h.store.GetNode(context.Background(), id)
	require.NoError(t, err)
	return n
}

// notifications 先排空异步写入再读取
func (h *harness) notifications(t *testing.T, clusterID int) []*models.Notification {
	t.Helper()
	h.notifier.Close()
	notes, err := h.store.ListNotifications(context.Background(), clusterID)
	require.NoError(t, err)
	return notes
}

func topics(notes []*models.Notification) []models.NotificationTopic {
	out := make([]models.NotificationTopic, 0, len(notes))
	for _, n := range notes {
		out = append(out, n.Topic)
	}
	return out
}

func (h *harness) respond(t *testing.T, respondTo, taskID string, status models.TaskStatus, nodes ...channel.NodeOutcome) {
	t.Helper()
	env := channel.Envelope{
		RespondTo: respondTo,
		Report: channel.Report{
			TaskUUID: taskID,
			Status:   status,
			Nodes:    nodes,
		},
	}
	if status == models.TaskStatusReady {
		env.Progress = 100
	}
	require.NoError(t, h.receiver.OnResponse(context.Background(), env))
}

// ok 节点正常完成
func ok(nodes ...*models.Node) []channel.NodeOutcome {
	out := make([]channel.NodeOutcome, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, channel.NodeOutcome{UID: strconv.Itoa(n.ID), Status: "ready", Progress: channel.IntPtr(100)})
	}
	return out
}

func failed(n *models.Node, msg string) channel.NodeOutcome {
	return channel.NodeOutcome{UID: n.UID(), Status: "error", Error: msg}
}

// completeStages 依次回报每个阶段 ready
func (h *harness) completeStages(t *testing.T, superID, respondTo string, nodes ...*models.Node) {
	t.Helper()
	for _, child := range h.subtasks(t, superID) {
		h.respond(t, respondTo, child.ID, models.TaskStatusReady, ok(nodes...)...)
	}
}

// failingChannel 发送总是失败
type failingChannel struct {
	inbound chan channel.Envelope
}

func newFailingChannel() *failingChannel {
	return &failingChannel{inbound: make(chan channel.Envelope)}
}

func (c *failingChannel) Send(context.Context, string, channel.Batch) error {
	return errors.New("broker unavailable")
}

func (c *failingChannel) Inbound() <-chan channel.Envelope { return c.inbound }

func (c *failingChannel) Close() error { return nil }

// flakyStore 对指定节点的第一次满足条件的写入返回错误
type flakyStore struct {
	types.Store

	mu     sync.Mutex
	nodeID int
	when   func(*models.Node) bool
	failed bool
}

func (s *flakyStore) UpdateNode(ctx context.Context, node *models.Node) error {
	s.mu.Lock()
	fail := !s.failed && node.ID == s.nodeID && s.when(node)
	if fail {
		s.failed = true
	}
	s.mu.Unlock()
	if fail {
		return errors.New("database is locked")
	}
	return s.Store.UpdateNode(ctx, node)
}
