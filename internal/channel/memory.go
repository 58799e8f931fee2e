package channel

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed 通道已关闭
var ErrClosed = errors.New("channel closed")

// Memory 进程内通道，控制面和执行端在同一进程时使用，测试也依赖它
type Memory struct {
	buffer  int
	inbound chan Envelope
	done    chan struct{}

	mu     sync.Mutex
	queues map[string]chan Batch
	sent   []Batch
	once   sync.Once
}

func NewMemory(buffer int) *Memory {
	if buffer <= 0 {
		buffer = 256
	}
	return &Memory{
		buffer:  buffer,
		inbound: make(chan Envelope, buffer),
		done:    make(chan struct{}),
		queues:  make(map[string]chan Batch),
	}
}

func (m *Memory) queue(destination string) chan Batch {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.queues[destination]
	if !ok {
		q = make(chan Batch, m.buffer)
		m.queues[destination] = q
	}
	return q
}

func (m *Memory) Send(ctx context.Context, destination string, batch Batch) error {
	select {
	case <-m.done:
		return ErrClosed
	default:
	}

	q := m.queue(destination)
	m.mu.Lock()
	m.sent = append(m.sent, batch)
	m.mu.Unlock()

	select {
	case q <- batch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-m.done:
		return ErrClosed
	}
}

func (m *Memory) Inbound() <-chan Envelope {
	return m.inbound
}

// Sent 返回已发送的全部 batch
func (m *Memory) Sent() []Batch {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Batch, len(m.sent))
	copy(out, m.sent)
	return out
}

// Deliver 模拟执行端回报
func (m *Memory) Deliver(ctx context.Context, env Envelope) error {
	select {
	case m.inbound <- env:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-m.done:
		return ErrClosed
	}
}

func (m *Memory) Close() error {
	m.once.Do(func() { close(m.done) })
	return nil
}

// Endpoint 返回订阅 destination 的执行端
func (m *Memory) Endpoint(destination string) Endpoint {
	return &memoryEndpoint{m: m, batches: m.queue(destination)}
}

type memoryEndpoint struct {
	m       *Memory
	batches chan Batch
}

func (e *memoryEndpoint) Batches() <-chan Batch {
	return e.batches
}

func (e *memoryEndpoint) Report(ctx context.Context, env Envelope) error {
	return e.m.Deliver(ctx, env)
}

func (e *memoryEndpoint) Close() error {
	return nil
}
