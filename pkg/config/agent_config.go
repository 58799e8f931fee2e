package config

import (
	"fmt"
	"time"

	"cluster-backend/internal/channel"
	"cluster-backend/internal/channel/redischan"
)

// AgentConfig 执行端配置。cmd/agent 是开发和联调用的模拟执行端。
type AgentConfig struct {
	// 执行端标识
	AgentID string `yaml:"agent_id"`

	// 服务端连接信息
	Server struct {
		Address string `yaml:"address"` // gRPC 地址
		TLS     struct {
			Enabled bool   `yaml:"enabled"`
			CACert  string `yaml:"ca_cert"`
		} `yaml:"tls"`
	} `yaml:"server"`

	Channel ChannelConfig `yaml:"channel"`

	// 运行时配置
	Runtime struct {
		LogPath   string        `yaml:"log_path"`   // 日志文件路径
		Debug     bool          `yaml:"debug"`      // 调试日志
		Workers   int           `yaml:"workers"`    // 并行处理的 batch 数
		StepDelay time.Duration `yaml:"step_delay"` // 每次回报之间的间隔
	} `yaml:"runtime"`

	// 故障注入
	Faults struct {
		UnreachableNodes []string `yaml:"unreachable_nodes"` // 这些节点从不回报
		FailMethods      []string `yaml:"fail_methods"`      // 这些阶段回报 error
	} `yaml:"faults"`
}

// LoadAgentConfig 加载执行端配置
func LoadAgentConfig(path string, workspaceRoot string) (*AgentConfig, error) {
	cfg := DefaultAgentConfig()
	if err := LoadConfig(path, cfg); err != nil {
		return nil, err
	}
	envOverride(&cfg.Channel.Redis.Password, EnvRedisPassword)

	// 处理相对路径
	resolvePath(workspaceRoot, &cfg.Runtime.LogPath)
	resolvePath(workspaceRoot, &cfg.Server.TLS.CACert)

	return cfg, nil
}

// Validate 实现Config接口
func (c *AgentConfig) Validate() error {
	if c.AgentID == "" {
		return fmt.Errorf("agent_id is required")
	}
	switch c.Channel.Type {
	case "grpc":
		if c.Server.Address == "" {
			return fmt.Errorf("server.address is required")
		}
	case "redis":
		if c.Channel.Redis.Addr == "" {
			return fmt.Errorf("channel.redis.addr is required")
		}
	default:
		return fmt.Errorf("unsupported channel.type: %q", c.Channel.Type)
	}
	if c.Runtime.Workers <= 0 {
		return fmt.Errorf("invalid runtime.workers: %d", c.Runtime.Workers)
	}
	return nil
}

// DefaultAgentConfig 返回默认执行端配置
func DefaultAgentConfig() *AgentConfig {
	cfg := &AgentConfig{}
	cfg.AgentID = "agent-1"
	cfg.Server.Address = "localhost:8080"
	cfg.Channel.Type = "grpc"
	cfg.Channel.Destination = channel.DefaultDestination
	cfg.Channel.Redis = redischan.Config{Group: "executors", Consumer: "agent-1"}
	cfg.Runtime.LogPath = "data/agent.log"
	cfg.Runtime.Workers = 4
	cfg.Runtime.StepDelay = 200 * time.Millisecond
	return cfg
}
