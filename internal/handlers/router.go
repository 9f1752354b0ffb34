package handlers

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/auralane/worker/internal/processor"
	"github.com/auralane/worker/internal/store"
	"github.com/auralane/worker/internal/worker"
)

// NewRouter wires the HTTP surface: the worker trigger, the enqueue
// endpoint and the inspection endpoints.
func NewRouter(st *store.Store, runner *worker.Runner, registry *processor.Registry, stuckTimeout time.Duration, log *zap.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.Default())

	trigger := NewTriggerHandler(st, runner, registry, stuckTimeout, log)
	router.GET("/worker", trigger)
	router.POST("/worker", trigger)

	router.POST("/jobs", NewEnqueueHandler(st, log))
	router.GET("/jobs/:id", NewJobStatusHandler(st))
	router.GET("/dead-letters", NewDeadLettersHandler(st))

	return router
}
