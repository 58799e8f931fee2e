package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"cluster-backend/internal/channel"
	"cluster-backend/internal/channel/redischan"
	"cluster-backend/internal/store/types"
)

// ChannelConfig 控制面与执行端之间的通道
type ChannelConfig struct {
	Type        string           `yaml:"type"` // memory, grpc, redis
	Destination string           `yaml:"destination"`
	Buffer      int              `yaml:"buffer"`
	Redis       redischan.Config `yaml:"redis"`
}

// OrchestratorConfig 编排参数
type OrchestratorConfig struct {
	SystemName         string        `yaml:"system_name"`
	ReceiverWorkers    int           `yaml:"receiver_workers"`
	NotificationBuffer int           `yaml:"notification_buffer"`
	ConflictRetries    int           `yaml:"conflict_retries"`
	ShutdownTimeout    time.Duration `yaml:"shutdown_timeout"`
}

// ServerConfig 服务端配置
type ServerConfig struct {
	// 服务器配置
	Server struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
		TLS  struct {
			Enabled bool   `yaml:"enabled"`
			Cert    string `yaml:"cert"`
			Key     string `yaml:"key"`
		} `yaml:"tls"`
	} `yaml:"server"`

	// 日志配置
	Log struct {
		Debug bool   `yaml:"debug"`
		File  string `yaml:"file"`
	} `yaml:"log"`

	Storage      types.Config       `yaml:"storage"`
	Channel      ChannelConfig      `yaml:"channel"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
}

// LoadServerConfig 加载服务端配置：默认值，配置文件，环境变量依次覆盖
func LoadServerConfig(path string, workspaceRoot string) (*ServerConfig, error) {
	cfg := DefaultServerConfig()
	if err := LoadConfig(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyEnv()

	// 处理相对路径
	if err := cfg.resolveRelativePaths(workspaceRoot); err != nil {
		return nil, fmt.Errorf("resolving paths: %w", err)
	}

	return cfg, nil
}

// Validate 实现Config接口
func (c *ServerConfig) Validate() error {
	if c.Server.Host == "" {
		return fmt.Errorf("server.host is required")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("invalid server.port: %d", c.Server.Port)
	}
	if c.Server.TLS.Enabled && (c.Server.TLS.Cert == "" || c.Server.TLS.Key == "") {
		return fmt.Errorf("server.tls.cert and server.tls.key are required when tls is enabled")
	}
	switch c.Storage.Type {
	case "memory", "sqlite":
	case "postgres":
		if c.Storage.Postgres.Host == "" {
			return fmt.Errorf("storage.postgres.host is required")
		}
	default:
		return fmt.Errorf("unsupported storage.type: %q", c.Storage.Type)
	}
	switch c.Channel.Type {
	case "memory", "grpc":
	case "redis":
		if c.Channel.Redis.Addr == "" {
			return fmt.Errorf("channel.redis.addr is required")
		}
	default:
		return fmt.Errorf("unsupported channel.type: %q", c.Channel.Type)
	}
	if c.Orchestrator.ReceiverWorkers <= 0 {
		return fmt.Errorf("invalid orchestrator.receiver_workers: %d", c.Orchestrator.ReceiverWorkers)
	}
	return nil
}

// Address 监听地址
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func (c *ServerConfig) applyEnv() {
	envOverride(&c.Storage.Postgres.Password, EnvPostgresPassword)
	envOverride(&c.Channel.Redis.Password, EnvRedisPassword)
}

// resolveRelativePaths 处理相对路径
func (c *ServerConfig) resolveRelativePaths(baseDir string) error {
	resolvePath(baseDir, &c.Log.File)
	resolvePath(baseDir, &c.Server.TLS.Cert)
	resolvePath(baseDir, &c.Server.TLS.Key)

	// 处理SQLite数据库路径
	if c.Storage.Type == "sqlite" {
		resolvePath(baseDir, &c.Storage.SQLite.Path)
		// 确保数据库目录存在
		if err := os.MkdirAll(filepath.Dir(c.Storage.SQLite.Path), 0755); err != nil {
			return fmt.Errorf("creating sqlite directory: %w", err)
		}
	}

	return nil
}

// DefaultServerConfig 返回默认服务端配置
func DefaultServerConfig() *ServerConfig {
	cfg := &ServerConfig{}

	// 服务器配置
	cfg.Server.Host = "0.0.0.0"
	cfg.Server.Port = 8080

	// 日志配置
	cfg.Log.Debug = false
	cfg.Log.File = "data/clusterd.log"

	// 存储配置
	cfg.Storage.Type = "sqlite"
	cfg.Storage.SQLite.Path = "data/clusterd.db"
	cfg.Storage.Postgres.Port = 5432
	cfg.Storage.Postgres.SSLMode = "disable"

	// 通道配置
	cfg.Channel.Type = "grpc"
	cfg.Channel.Destination = channel.DefaultDestination
	cfg.Channel.Buffer = 256

	cfg.Orchestrator.SystemName = "Fuel"
	cfg.Orchestrator.ReceiverWorkers = 4
	cfg.Orchestrator.NotificationBuffer = 128
	cfg.Orchestrator.ConflictRetries = 5
	cfg.Orchestrator.ShutdownTimeout = 10 * time.Second

	return cfg
}
