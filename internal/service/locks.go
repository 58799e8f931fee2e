package service

import (
	"sync"
)

// ClusterLocks 每个集群一个排他令牌，持有者是顶层任务 ID。
// Dispatcher 在 Submit 时获取，Receiver 在顶层任务结束时释放。
type ClusterLocks struct {
	mu      sync.Mutex
	holders map[int]string
}

func NewClusterLocks() *ClusterLocks {
	return &ClusterLocks{holders: make(map[int]string)}
}

// TryAcquire 令牌空闲时交给 holder，不排队
func (l *ClusterLocks) TryAcquire(clusterID int, holder string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, held := l.holders[clusterID]; held {
		return false
	}
	l.holders[clusterID] = holder
	return true
}

// Release 只有当前持有者可以释放
func (l *ClusterLocks) Release(clusterID int, holder string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.holders[clusterID] != holder {
		return false
	}
	delete(l.holders, clusterID)
	return true
}

// Transfer 把令牌从 from 原子地转给 to
func (l *ClusterLocks) Transfer(clusterID int, from, to string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.holders[clusterID] != from {
		return false
	}
	l.holders[clusterID] = to
	return true
}

func (l *ClusterLocks) Holder(clusterID int) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	h, ok := l.holders[clusterID]
	return h, ok
}

// Held 当前被占用的集群数
func (l *ClusterLocks) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.holders)
}

// KeyedMutex 按记录标识串行化写入。
// 加锁顺序固定为：操作根任务 -> 单个集群或节点，任何时候最多持有一个叶子锁。
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*refMutex)}
}

// Lock 返回解锁函数，最后一个使用者解锁时回收
func (k *KeyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
