package grpcchan

import (
	"context"
	"sync"

	"cluster-backend/internal/channel"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// queue 单个目的地的待发 batch，发送失败时放回队首
type queue struct {
	mu    sync.Mutex
	items []channel.Batch
	ready chan struct{}
}

func newQueue() *queue {
	return &queue{ready: make(chan struct{}, 1)}
}

func (q *queue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func (q *queue) push(b channel.Batch) {
	q.mu.Lock()
	q.items = append(q.items, b)
	q.mu.Unlock()
	q.signal()
}

func (q *queue) pop() (channel.Batch, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return channel.Batch{}, false
	}
	b := q.items[0]
	q.items = q.items[1:]
	if len(q.items) > 0 {
		q.signal()
	}
	return b, true
}

func (q *queue) requeue(b channel.Batch) {
	q.mu.Lock()
	q.items = append([]channel.Batch{b}, q.items...)
	q.mu.Unlock()
	q.signal()
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Server 控制面侧的 gRPC 通道
type Server struct {
	logger  zerolog.Logger
	inbound chan channel.Envelope
	done    chan struct{}
	once    sync.Once

	mu     sync.Mutex
	queues map[string]*queue
}

// NewServer 创建通道，buffer 为回报缓冲大小
func NewServer(logger zerolog.Logger, buffer int) *Server {
	if buffer <= 0 {
		buffer = 256
	}
	return &Server{
		logger:  logger.With().Str("component", "grpc-channel").Logger(),
		inbound: make(chan channel.Envelope, buffer),
		done:    make(chan struct{}),
		queues:  make(map[string]*queue),
	}
}

// RegisterGRPC 注册gRPC服务
func (s *Server) RegisterGRPC(server *grpc.Server) {
	server.RegisterService(&serviceDesc, s)
}

func (s *Server) queue(destination string) *queue {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.queues[destination]
	if !ok {
		q = newQueue()
		s.queues[destination] = q
	}
	return q
}

// Send 入队，执行端订阅后按顺序推送；没有订阅者时一直保留
func (s *Server) Send(ctx context.Context, destination string, batch channel.Batch) error {
	select {
	case <-s.done:
		return channel.ErrClosed
	default:
	}
	s.queue(destination).push(batch)
	s.logger.Debug().
		Str("destination", destination).
		Str("task_id", batch.SupertaskUUID).
		Int("stages", len(batch.Stages)).
		Msg("Batch queued")
	return nil
}

// Pending 尚未推送给执行端的 batch 数
func (s *Server) Pending(destination string) int {
	return s.queue(destination).len()
}

func (s *Server) Inbound() <-chan channel.Envelope {
	return s.inbound
}

func (s *Server) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

// Subscribe 把目的地队列中的 batch 推送给执行端
func (s *Server) Subscribe(req *SubscribeRequest, stream grpc.ServerStream) error {
	destination := req.Destination
	if destination == "" {
		destination = channel.DefaultDestination
	}
	q := s.queue(destination)
	ctx := stream.Context()

	s.logger.Info().
		Str("destination", destination).
		Str("agent_id", req.AgentID).
		Msg("Executor subscribed")

	for {
		b, ok := q.pop()
		if !ok {
			select {
			case <-q.ready:
				continue
			case <-ctx.Done():
				s.logger.Info().Str("agent_id", req.AgentID).Msg("Executor disconnected")
				return nil
			case <-s.done:
				return status.Error(codes.Unavailable, "channel closed")
			}
		}
		if err := stream.SendMsg(&b); err != nil {
			q.requeue(b)
			s.logger.Warn().Err(err).Str("agent_id", req.AgentID).Msg("Failed to push batch, requeued")
			return err
		}
	}
}

// Report 接收执行端回报
func (s *Server) Report(ctx context.Context, env *channel.Envelope) (*Ack, error) {
	if _, err := channel.Decode(*env); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	select {
	case s.inbound <- *env:
		return &Ack{Accepted: true}, nil
	case <-ctx.Done():
		return nil, status.FromContextError(ctx.Err()).Err()
	case <-s.done:
		return nil, status.Error(codes.Unavailable, "channel closed")
	}
}
