package main

import (
	"context"
	"fmt"
	"time"

	"cluster-backend/internal/channel"
	"cluster-backend/internal/channel/grpcchan"
	"cluster-backend/internal/channel/redischan"
	"cluster-backend/internal/service"
	"cluster-backend/internal/store/factory"
	"cluster-backend/internal/store/types"
	"cluster-backend/pkg/config"
	"cluster-backend/pkg/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/keepalive"
)

func provideLogger(cfg *config.ServerConfig) *logger.Logger {
	return logger.New(cfg.Log.Debug, cfg.Log.File)
}

func provideStoreConfig(cfg *config.ServerConfig) *types.Config {
	return &cfg.Storage
}

func provideStore(cfg *types.Config, logger *logger.Logger) (types.Store, func(), error) {
	store, err := factory.NewStore(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("creating store: %w", err)
	}
	log := logger.GetLogger("store")
	log.Info().Str("type", cfg.Type).Msg("Store opened")
	return store, func() {
		if err := store.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing store")
		}
	}, nil
}

func provideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func provideMetrics(reg *prometheus.Registry) *service.Metrics {
	return service.NewMetrics(reg)
}

func provideGRPCServer(cfg *config.ServerConfig) (*grpc.Server, error) {
	var opts []grpc.ServerOption
	if cfg.Server.TLS.Enabled {
		creds, err := credentials.NewServerTLSFromFile(cfg.Server.TLS.Cert, cfg.Server.TLS.Key)
		if err != nil {
			return nil, fmt.Errorf("loading TLS credentials: %w", err)
		}
		opts = append(opts, grpc.Creds(creds))
	}

	// 执行端的订阅流是长连接，不设 MaxConnectionAge
	opts = append(opts,
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    10 * time.Second,
			Timeout: 3 * time.Second,
		}),
	)
	return grpc.NewServer(opts...), nil
}

// provideChannel 按配置创建控制面一侧的通道
func provideChannel(cfg *config.ServerConfig, grpcServer *grpc.Server, logger *logger.Logger) (channel.Channel, func(), error) {
	log := logger.GetLogger("channel")

	var ch channel.Channel
	switch cfg.Channel.Type {
	case "memory":
		ch = channel.NewMemory(cfg.Channel.Buffer)
	case "grpc":
		server := grpcchan.NewServer(log, cfg.Channel.Buffer)
		server.RegisterGRPC(grpcServer)
		ch = server
	case "redis":
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		client, err := redischan.NewClient(ctx, cfg.Channel.Redis)
		if err != nil {
			return nil, nil, err
		}
		redisCh, err := redischan.New(ctx, client, cfg.Channel.Redis, log)
		if err != nil {
			client.Close()
			return nil, nil, err
		}
		ch = redisCh
	default:
		return nil, nil, fmt.Errorf("unknown channel type: %s", cfg.Channel.Type)
	}

	log.Info().Str("type", cfg.Channel.Type).Str("destination", cfg.Channel.Destination).Msg("Channel ready")
	return ch, func() {
		if err := ch.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing channel")
		}
	}, nil
}

func provideMutator(store types.Store, cfg *config.ServerConfig) *service.Mutator {
	return service.NewMutator(store, service.NewKeyedMutex(), cfg.Orchestrator.ConflictRetries)
}

func provideNotifier(store types.Store, metrics *service.Metrics, cfg *config.ServerConfig, logger *logger.Logger) (*service.Notifier, func()) {
	n := service.NewNotifier(store, logger.GetLogger("notifier"), metrics, cfg.Orchestrator.NotificationBuffer)
	return n, n.Close
}

func provideDispatcher(
	store types.Store,
	ch channel.Channel,
	locks *service.ClusterLocks,
	mutator *service.Mutator,
	metrics *service.Metrics,
	cfg *config.ServerConfig,
	logger *logger.Logger,
) *service.Dispatcher {
	return service.NewDispatcher(store, ch, locks, mutator, metrics, cfg.Channel.Destination, logger.GetLogger("dispatcher"))
}

func provideReceiver(
	store types.Store,
	locks *service.ClusterLocks,
	mutator *service.Mutator,
	notifier *service.Notifier,
	metrics *service.Metrics,
	cfg *config.ServerConfig,
	logger *logger.Logger,
) *service.Receiver {
	return service.NewReceiver(store, locks, mutator, notifier, metrics, service.ReceiverConfig{
		SystemName: cfg.Orchestrator.SystemName,
		Workers:    cfg.Orchestrator.ReceiverWorkers,
	}, logger.GetLogger("receiver"))
}
