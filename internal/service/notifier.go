package service

import (
	"context"
	"sync"
	"time"

	"cluster-backend/internal/models"
	"cluster-backend/internal/store/types"

	"github.com/rs/zerolog"
)

// Notifier 异步写入通知，调用方永远不会被阻塞
type Notifier struct {
	store   types.Store
	logger  zerolog.Logger
	metrics *Metrics

	queue  chan *models.Notification
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewNotifier(store types.Store, logger zerolog.Logger, metrics *Metrics, buffer int) *Notifier {
	if buffer <= 0 {
		buffer = 128
	}
	n := &Notifier{
		store:   store,
		logger:  logger.With().Str("service", "notifier").Logger(),
		metrics: metrics,
		queue:   make(chan *models.Notification, buffer),
	}
	n.wg.Add(1)
	go n.loop()
	return n
}

func (n *Notifier) loop() {
	defer n.wg.Done()
	for note := range n.queue {
		n.write(note)
	}
}

func (n *Notifier) write(note *models.Notification) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := n.store.CreateNotification(ctx, note); err != nil {
		n.logger.Error().Err(err).
			Int("cluster_id", note.ClusterID).
			Str("topic", string(note.Topic)).
			Msg("Failed to store notification")
		return
	}
	n.metrics.recordNotification(note.Topic)
}

// Notify 入队；队列满时另起协程写入
func (n *Notifier) Notify(clusterID int, topic models.NotificationTopic, message string) {
	note := &models.Notification{
		ClusterID: clusterID,
		Topic:     topic,
		Message:   message,
		CreatedAt: time.Now(),
	}

	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		n.logger.Warn().Str("topic", string(topic)).Str("message", message).Msg("Notifier closed, dropping notification")
		return
	}

	n.logger.Info().Int("cluster_id", clusterID).Str("topic", string(topic)).Str("message", message).Msg("Notification")
	select {
	case n.queue <- note:
	default:
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			n.write(note)
		}()
	}
}

// Close 写完已入队的通知后返回
func (n *Notifier) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	close(n.queue)
	n.mu.Unlock()
	n.wg.Wait()
}
