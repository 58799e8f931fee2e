//go:build wireinject
// +build wireinject

package main

import (
	"cluster-backend/internal/api"
	"cluster-backend/internal/api/handlers"
	"cluster-backend/internal/service"
	"cluster-backend/pkg/config"

	"github.com/google/wire"
)

func InitializeApp(cfg *config.ServerConfig) (*App, func(), error) {
	wire.Build(
		// 基础设施
		provideLogger,
		provideRegistry,
		provideMetrics,
		provideGRPCServer,
		provideChannel,

		// Store
		provideStoreConfig,
		provideStore,

		// 编排
		service.NewClusterLocks,
		provideMutator,
		provideNotifier,
		provideDispatcher,
		provideReceiver,

		// Services
		service.NewTaskService,
		service.NewNodeService,
		service.NewClusterService,
		service.NewStatusService,

		// Handlers
		handlers.NewClusterHandler,
		handlers.NewNodeHandler,
		handlers.NewTaskHandler,
		handlers.NewStatusHandler,

		// Router & Server
		api.NewRouter,
		NewApp,
	)
	return nil, nil, nil
}
