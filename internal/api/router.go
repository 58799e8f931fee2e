package api

import (
	"time"

	"cluster-backend/internal/api/handlers"
	"cluster-backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

func NewRouter(
	clusterHandler *handlers.ClusterHandler,
	nodeHandler *handlers.NodeHandler,
	taskHandler *handlers.TaskHandler,
	statusHandler *handlers.StatusHandler,
	logger *logger.Logger,
) *gin.Engine {
	log := logger.GetLogger("router")

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(log))

	clusterHandler.RegisterRoutes(r)
	nodeHandler.RegisterRoutes(r)
	taskHandler.RegisterRoutes(r)
	statusHandler.RegisterRoutes(r)

	log.Debug().Int("routes", len(r.Routes())).Msg("Router initialized")
	return r
}

// requestLogger 每个请求一条 debug 日志
func requestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("code", c.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("Request handled")
	}
}
