package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cluster-backend/internal/channel"
	"cluster-backend/internal/channel/grpcchan"
	"cluster-backend/internal/channel/redischan"
	"cluster-backend/pkg/agent"
	"cluster-backend/pkg/config"
	"cluster-backend/pkg/logger"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// 命令行参数
	configPath := flag.String("config", "configs/agent.yaml", "配置文件路径")
	envFile := flag.String("env", ".env", "环境变量文件路径")
	version := flag.Bool("version", false, "显示版本信息")
	flag.Parse()

	// 显示版本信息
	if *version {
		fmt.Printf("cluster-agent version %s (built at %s)\n", Version, BuildTime)
		os.Exit(0)
	}

	if err := config.LoadEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "Error loading env file: %v\n", err)
		os.Exit(1)
	}

	// 获取工作区根目录
	workspaceRoot, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error getting current directory: %v\n", err)
		os.Exit(1)
	}

	// 加载配置
	cfg, err := config.LoadAgentConfig(*configPath, workspaceRoot)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	log := logger.New(cfg.Runtime.Debug, cfg.Runtime.LogPath).GetLogger("agent")

	endpoint, err := openEndpoint(cfg, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening channel: %v\n", err)
		os.Exit(1)
	}

	// 创建Agent实例
	a := agent.New(cfg, endpoint, log)

	// 启动Agent
	if err := a.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Error starting agent: %v\n", err)
		os.Exit(1)
	}

	log.Info().
		Str("version", Version).
		Str("build_time", BuildTime).
		Str("channel", cfg.Channel.Type).
		Msg("Agent started successfully")

	// 等待信号
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	// 优雅关闭
	if err := a.Stop(); err != nil {
		fmt.Fprintf(os.Stderr, "Error stopping agent: %v\n", err)
		os.Exit(1)
	}
}

// openEndpoint 按配置连接控制面
func openEndpoint(cfg *config.AgentConfig, log zerolog.Logger) (channel.Endpoint, error) {
	switch cfg.Channel.Type {
	case "grpc":
		clientCfg := grpcchan.ClientConfig{
			Address:     cfg.Server.Address,
			Destination: cfg.Channel.Destination,
			AgentID:     cfg.AgentID,
		}
		if cfg.Server.TLS.Enabled {
			creds, err := credentials.NewClientTLSFromFile(cfg.Server.TLS.CACert, "")
			if err != nil {
				return nil, fmt.Errorf("loading CA certificate: %w", err)
			}
			clientCfg.DialOptions = append(clientCfg.DialOptions, grpc.WithTransportCredentials(creds))
		}
		return grpcchan.Dial(clientCfg, log)
	case "redis":
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		client, err := redischan.NewClient(ctx, cfg.Channel.Redis)
		if err != nil {
			return nil, err
		}
		endpoint, err := redischan.NewEndpoint(ctx, client, cfg.Channel.Redis, cfg.Channel.Destination, log)
		if err != nil {
			client.Close()
			return nil, err
		}
		return endpoint, nil
	default:
		return nil, fmt.Errorf("unknown channel type: %s", cfg.Channel.Type)
	}
}
