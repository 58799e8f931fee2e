package grpcchan

import (
	"context"
	"fmt"
	"time"

	"cluster-backend/internal/channel"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
)

// ClientConfig 执行端连接参数
type ClientConfig struct {
	Address        string
	Destination    string
	AgentID        string
	ReconnectDelay time.Duration
	DialOptions    []grpc.DialOption
}

// Client 执行端侧的 gRPC 通道
type Client struct {
	cfg     ClientConfig
	logger  zerolog.Logger
	conn    *grpc.ClientConn
	batches chan channel.Batch

	ctx    context.Context
	cancel context.CancelFunc
}

// Dial 连接控制面并开始订阅
func Dial(cfg ClientConfig, logger zerolog.Logger) (*Client, error) {
	if cfg.Destination == "" {
		cfg.Destination = channel.DefaultDestination
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}

	// 设置 gRPC 连接选项
	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.WaitForReady(true),
			grpc.CallContentSubtype(codecContentType),
		),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                10 * time.Second,
			Timeout:             3 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.WithDefaultServiceConfig(`{
			"methodConfig": [{
				"name": [{"service": "cluster.Executor", "method": "Report"}],
				"retryPolicy": {
					"MaxAttempts": 5,
					"InitialBackoff": "0.1s",
					"MaxBackoff": "5s",
					"BackoffMultiplier": 2.0,
					"RetryableStatusCodes": ["UNAVAILABLE"]
				}
			}]
		}`),
	}
	opts = append(opts, cfg.DialOptions...)

	conn, err := grpc.NewClient(cfg.Address, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to server: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		cfg:     cfg,
		logger:  logger.With().Str("component", "grpc-endpoint").Str("agent_id", cfg.AgentID).Logger(),
		conn:    conn,
		batches: make(chan channel.Batch),
		ctx:     ctx,
		cancel:  cancel,
	}
	go c.subscribeLoop()
	return c, nil
}

// subscribeLoop 订阅断开后按固定间隔重连
func (c *Client) subscribeLoop() {
	for {
		err := c.subscribe()
		if c.ctx.Err() != nil {
			return
		}
		c.logger.Error().Err(err).Msg("Batch stream error, reconnecting")
		select {
		case <-c.ctx.Done():
			return
		case <-time.After(c.cfg.ReconnectDelay):
		}
	}
}

func (c *Client) subscribe() error {
	stream, err := c.conn.NewStream(c.ctx, &serviceDesc.Streams[0], subscribeMethod)
	if err != nil {
		return err
	}
	req := &SubscribeRequest{Destination: c.cfg.Destination, AgentID: c.cfg.AgentID}
	if err := stream.SendMsg(req); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}

	for {
		var b channel.Batch
		if err := stream.RecvMsg(&b); err != nil {
			return err
		}
		select {
		case c.batches <- b:
		case <-c.ctx.Done():
			return c.ctx.Err()
		}
	}
}

func (c *Client) Batches() <-chan channel.Batch {
	return c.batches
}

// Report 回写执行结果
func (c *Client) Report(ctx context.Context, env channel.Envelope) error {
	var ack Ack
	if err := c.conn.Invoke(ctx, reportMethod, &env, &ack); err != nil {
		return fmt.Errorf("reporting task %s: %w", env.TaskUUID, err)
	}
	if !ack.Accepted {
		return fmt.Errorf("report for task %s rejected: %s", env.TaskUUID, ack.Message)
	}
	return nil
}

func (c *Client) Close() error {
	c.cancel()
	return c.conn.Close()
}
