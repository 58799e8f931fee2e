// Package redischan 基于 Redis Streams 的持久化通道
//
// batch 写入 <prefix>:<destination>，回报写入 <prefix>:responses。
// 两侧都使用消费组读取，消息交给本地消费者之后才 XACK，进程重启时先补读未确认的消息。
package redischan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"cluster-backend/internal/channel"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	fieldPayload = "payload"
	responses    = "responses"
)

// Config Redis 通道配置
type Config struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"`
	Group    string        `yaml:"group"`
	Consumer string        `yaml:"consumer"`
	Block    time.Duration `yaml:"block"`
	MaxLen   int64         `yaml:"max_len"`
}

func (c *Config) applyDefaults() {
	if c.Prefix == "" {
		c.Prefix = "cluster"
	}
	if c.Group == "" {
		c.Group = "clusterd"
	}
	if c.Consumer == "" {
		c.Consumer = "clusterd-1"
	}
	if c.Block <= 0 {
		c.Block = 2 * time.Second
	}
	if c.MaxLen <= 0 {
		c.MaxLen = 10000
	}
}

// StreamKey 目的地对应的 stream 名
func StreamKey(prefix, destination string) string {
	return prefix + ":" + destination
}

// NewClient 创建 Redis 客户端并检查连通性
func NewClient(ctx context.Context, cfg Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis %s: %w", cfg.Addr, err)
	}
	return client, nil
}

func ensureGroup(ctx context.Context, client *redis.Client, stream, group string) error {
	err := client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !isBusyGroup(err) {
		return fmt.Errorf("creating consumer group %s on %s: %w", group, stream, err)
	}
	return nil
}

func isBusyGroup(err error) bool {
	return strings.HasPrefix(err.Error(), "BUSYGROUP")
}

func encode(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return map[string]any{fieldPayload: string(data)}, nil
}

func decode(msg redis.XMessage, v any) error {
	raw, ok := msg.Values[fieldPayload].(string)
	if !ok {
		return fmt.Errorf("stream message %s has no payload", msg.ID)
	}
	return json.Unmarshal([]byte(raw), v)
}

// consume 读取消费组消息，handle 返回后确认；先补读本消费者未确认的消息
func consume(ctx context.Context, client *redis.Client, cfg Config, stream string, logger zerolog.Logger, handle func(redis.XMessage) error) {
	start := "0"
	for ctx.Err() == nil {
		res, err := client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    cfg.Group,
			Consumer: cfg.Consumer,
			Streams:  []string{stream, start},
			Count:    32,
			Block:    cfg.Block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			logger.Error().Err(err).Str("stream", stream).Msg("Reading stream failed")
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}

		delivered := 0
		for _, s := range res {
			for _, msg := range s.Messages {
				delivered++
				if err := handle(msg); err != nil {
					if ctx.Err() != nil {
						return
					}
					logger.Warn().Err(err).Str("stream", stream).Str("id", msg.ID).Msg("Dropping malformed message")
				}
				if err := client.XAck(ctx, stream, cfg.Group, msg.ID).Err(); err != nil {
					logger.Error().Err(err).Str("id", msg.ID).Msg("Ack failed")
				}
			}
		}
		// 未确认消息补读完毕后切换到新消息
		if start == "0" && delivered == 0 {
			start = ">"
		}
	}
}

// Channel 控制面侧
type Channel struct {
	client  *redis.Client
	cfg     Config
	logger  zerolog.Logger
	inbound chan channel.Envelope

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New 创建控制面通道并开始消费回报
func New(ctx context.Context, client *redis.Client, cfg Config, logger zerolog.Logger) (*Channel, error) {
	cfg.applyDefaults()
	stream := StreamKey(cfg.Prefix, responses)
	if err := ensureGroup(ctx, client, stream, cfg.Group); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c := &Channel{
		client:  client,
		cfg:     cfg,
		logger:  logger.With().Str("component", "redis-channel").Logger(),
		inbound: make(chan channel.Envelope),
		cancel:  cancel,
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		consume(runCtx, client, cfg, stream, c.logger, func(msg redis.XMessage) error {
			var env channel.Envelope
			if err := decode(msg, &env); err != nil {
				return err
			}
			select {
			case c.inbound <- env:
				return nil
			case <-runCtx.Done():
				return runCtx.Err()
			}
		})
	}()
	return c, nil
}

func (c *Channel) Send(ctx context.Context, destination string, batch channel.Batch) error {
	values, err := encode(batch)
	if err != nil {
		return fmt.Errorf("encoding batch: %w", err)
	}
	err = c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamKey(c.cfg.Prefix, destination),
		MaxLen: c.cfg.MaxLen,
		Approx: true,
		Values: values,
	}).Err()
	if err != nil {
		return fmt.Errorf("publishing batch: %w", err)
	}
	return nil
}

func (c *Channel) Inbound() <-chan channel.Envelope {
	return c.inbound
}

func (c *Channel) Close() error {
	c.cancel()
	c.wg.Wait()
	return c.client.Close()
}

// Endpoint 执行端侧
type Endpoint struct {
	client  *redis.Client
	cfg     Config
	logger  zerolog.Logger
	batches chan channel.Batch

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEndpoint 订阅 destination 上的 batch
func NewEndpoint(ctx context.Context, client *redis.Client, cfg Config, destination string, logger zerolog.Logger) (*Endpoint, error) {
	cfg.applyDefaults()
	stream := StreamKey(cfg.Prefix, destination)
	if err := ensureGroup(ctx, client, stream, cfg.Group); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	e := &Endpoint{
		client:  client,
		cfg:     cfg,
		logger:  logger.With().Str("component", "redis-endpoint").Logger(),
		batches: make(chan channel.Batch),
		cancel:  cancel,
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		consume(runCtx, client, cfg, stream, e.logger, func(msg redis.XMessage) error {
			var b channel.Batch
			if err := decode(msg, &b); err != nil {
				return err
			}
			select {
			case e.batches <- b:
				return nil
			case <-runCtx.Done():
				return runCtx.Err()
			}
		})
	}()
	return e, nil
}

func (e *Endpoint) Batches() <-chan channel.Batch {
	return e.batches
}

func (e *Endpoint) Report(ctx context.Context, env channel.Envelope) error {
	values, err := encode(env)
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	err = e.client.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamKey(e.cfg.Prefix, responses),
		MaxLen: e.cfg.MaxLen,
		Approx: true,
		Values: values,
	}).Err()
	if err != nil {
		return fmt.Errorf("publishing report: %w", err)
	}
	return nil
}

func (e *Endpoint) Close() error {
	e.cancel()
	e.wg.Wait()
	return e.client.Close()
}
