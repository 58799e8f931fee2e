// Package channel 控制面与执行端之间的异步消息通道
//
// 控制面通过 Channel 发送 Batch、消费回报；执行端通过 Endpoint 接收 Batch、回写回报。
// 所有实现都保证同一目的地内先进先出，至少投递一次。
package channel

import "context"

// DefaultDestination 执行端订阅的默认队列名
const DefaultDestination = "executor"

// Channel 控制面一侧
type Channel interface {
	// Send 把整个 batch 作为一条有序消息发往 destination
	Send(ctx context.Context, destination string, batch Batch) error
	// Inbound 回报流，只能有一个消费者
	Inbound() <-chan Envelope
	Close() error
}

// Endpoint 执行端一侧
type Endpoint interface {
	Batches() <-chan Batch
	Report(ctx context.Context, env Envelope) error
	Close() error
}
