package api

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/warriorguo/etlflow/types"
)

func recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.Errorf("panic recovered on %s: %v\n%s", c.Request.URL.Path, err, debug.Stack())
				c.AbortWithStatusJSON(http.StatusInternalServerError, &Response{
					Code:    http.StatusInternalServerError,
					Message: "internal server error",
				})
			}
		}()
		c.Next()
	}
}

func logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithFields(log.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
		}).Debug("http request")
	}
}

func NewRouter(engine types.Engine, version string) *gin.Engine {
	router := gin.New()
	router.Use(recovery(), logger())

	h := NewHandler(engine, version)
	registerRoutes(router, h)
	return router
}

func registerRoutes(router *gin.Engine, h *Handler) {
	router.GET("/health", h.Health)

	v1 := router.Group("/api/v1")
	{
		dags := v1.Group("/dags")
		dags.GET("", h.ListDAGs)
		dags.GET("/:name", h.GetDAG)
		dags.GET("/:name/graph", h.RenderDAG)
		dags.POST("/:name/runs", h.StartRun)

		runs := v1.Group("/runs")
		runs.GET("/:id", h.GetRun)
		runs.GET("/:id/graph", h.RenderRun)
		runs.POST("/:id/terminate", h.TerminateRun)
	}
}
