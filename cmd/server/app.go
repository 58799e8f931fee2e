package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"cluster-backend/internal/channel"
	"cluster-backend/internal/service"
	"cluster-backend/pkg/config"
	"cluster-backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/soheilhy/cmux"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
)

// App 控制面进程：gRPC 通道和 HTTP API 共用一个端口
type App struct {
	config     *config.ServerConfig
	logger     zerolog.Logger
	grpcServer *grpc.Server
	httpServer *http.Server
	channel    channel.Channel
	dispatcher *service.Dispatcher
	receiver   *service.Receiver
}

func NewApp(
	cfg *config.ServerConfig,
	router *gin.Engine,
	reg *prometheus.Registry,
	grpcServer *grpc.Server,
	ch channel.Channel,
	dispatcher *service.Dispatcher,
	receiver *service.Receiver,
	logger *logger.Logger,
) *App {
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})))

	return &App{
		config:     cfg,
		logger:     logger.GetLogger("app"),
		grpcServer: grpcServer,
		httpServer: &http.Server{Handler: router, ReadHeaderTimeout: 10 * time.Second},
		channel:    ch,
		dispatcher: dispatcher,
		receiver:   receiver,
	}
}

// Run 阻塞直到 ctx 结束或某个服务失败，然后优雅关闭
func (a *App) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", a.config.Address())
	if err != nil {
		return fmt.Errorf("creating listener: %w", err)
	}

	// 进程重启后恢复进行中操作的集群令牌
	if err := a.dispatcher.Restore(ctx); err != nil {
		listener.Close()
		return fmt.Errorf("restoring operations: %w", err)
	}

	mux := cmux.New(listener)
	grpcL := mux.MatchWithWriters(
		cmux.HTTP2MatchHeaderFieldSendSettings("content-type", "application/grpc"),
	)
	httpL := mux.Match(cmux.Any())

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		return a.receiver.Run(gctx, a.channel.Inbound())
	})
	g.Go(func() error {
		if err := a.grpcServer.Serve(grpcL); err != nil && !errors.Is(err, grpc.ErrServerStopped) && !errors.Is(err, cmux.ErrListenerClosed) {
			return fmt.Errorf("gRPC server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := a.httpServer.Serve(httpL); err != nil && !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, cmux.ErrListenerClosed) {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := mux.Serve(); err != nil && !errors.Is(err, net.ErrClosed) {
			return fmt.Errorf("cmux: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.shutdown(listener)
		return nil
	})

	a.logger.Info().
		Str("address", a.config.Address()).
		Bool("tls", a.config.Server.TLS.Enabled).
		Str("channel", a.config.Channel.Type).
		Str("storage", a.config.Storage.Type).
		Msg("Server started")

	return g.Wait()
}

func (a *App) shutdown(listener net.Listener) {
	a.logger.Info().Msg("Shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), a.config.Orchestrator.ShutdownTimeout)
	defer cancel()

	if err := a.httpServer.Shutdown(ctx); err != nil {
		a.logger.Error().Err(err).Msg("Error shutting down HTTP server")
	}

	stopped := make(chan struct{})
	go func() {
		a.grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-ctx.Done():
		a.grpcServer.Stop()
	}

	if err := listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		a.logger.Error().Err(err).Msg("Error closing listener")
	}
}
