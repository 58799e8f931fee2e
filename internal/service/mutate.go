package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"cluster-backend/internal/models"
	"cluster-backend/internal/store/types"
	"cluster-backend/pkg/utils/retry"
)

// errNoChange 修改函数返回它时跳过写入
var errNoChange = errors.New("no change")

// Mutator 单条记录的读-改-写：加标识锁，读取，修改，按版本号比较更新，冲突时退避重试
type Mutator struct {
	store   types.Store
	keys    *KeyedMutex
	retries int
}

func NewMutator(store types.Store, keys *KeyedMutex, retries int) *Mutator {
	if retries <= 0 {
		retries = 5
	}
	return &Mutator{store: store, keys: keys, retries: retries}
}

func (m *Mutator) run(ctx context.Context, key string, attempt func() error) error {
	unlock := m.keys.Lock(key)
	defer unlock()

	err := retry.Do(ctx, attempt,
		retry.OnlyOn(types.ErrVersionConflict),
		retry.WithMaxRetries(m.retries),
	)
	if errors.Is(err, errNoChange) {
		return nil
	}
	return err
}

// Node 修改节点
func (m *Mutator) Node(ctx context.Context, id int, fn func(*models.Node) error) (*models.Node, error) {
	var out *models.Node
	err := m.run(ctx, "node:"+strconv.Itoa(id), func() error {
		node, err := m.store.GetNode(ctx, id)
		if err != nil {
			return retry.Fatal(err)
		}
		out = node
		if err := fn(node); err != nil {
			return retry.Fatal(err)
		}
		return m.store.UpdateNode(ctx, node)
	})
	if err != nil {
		return nil, fmt.Errorf("updating node %d: %w", id, err)
	}
	return out, nil
}

// Cluster 修改集群
func (m *Mutator) Cluster(ctx context.Context, id int, fn func(*models.Cluster) error) (*models.Cluster, error) {
	var out *models.Cluster
	err := m.run(ctx, "cluster:"+strconv.Itoa(id), func() error {
		cluster, err := m.store.GetCluster(ctx, id)
		if err != nil {
			return retry.Fatal(err)
		}
		out = cluster
		if err := fn(cluster); err != nil {
			return retry.Fatal(err)
		}
		return m.store.UpdateCluster(ctx, cluster)
	})
	if err != nil {
		return nil, fmt.Errorf("updating cluster %d: %w", id, err)
	}
	return out, nil
}

// Task 修改任务
func (m *Mutator) Task(ctx context.Context, id string, fn func(*models.Task) error) (*models.Task, error) {
	var out *models.Task
	err := m.run(ctx, "task:"+id, func() error {
		task, err := m.store.GetTask(ctx, id)
		if err != nil {
			return retry.Fatal(err)
		}
		out = task
		if err := fn(task); err != nil {
			return retry.Fatal(err)
		}
		return m.store.UpdateTask(ctx, task)
	})
	if err != nil {
		return nil, fmt.Errorf("updating task %s: %w", id, err)
	}
	return out, nil
}

// LockOperation 串行化同一个操作（根任务）的全部回报处理
func (m *Mutator) LockOperation(rootID string) func() {
	return m.keys.Lock("op:" + rootID)
}
