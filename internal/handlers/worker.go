package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/auralane/worker/internal/processor"
	"github.com/auralane/worker/internal/store"
	"github.com/auralane/worker/internal/worker"
)

// NewTriggerHandler serves the externally-triggered worker endpoint:
// ?action=process|cleanup|health|stats. Completed invocations always
// answer 200 with a JSON body, per-job failures included; 500 is
// reserved for store-level failures and 503 for failed health checks.
func NewTriggerHandler(st *store.Store, runner *worker.Runner, registry *processor.Registry, stuckTimeout time.Duration, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		action := c.DefaultQuery("action", "process")

		switch action {
		case "process":
			batch := 0
			if raw := c.Query("batch"); raw != "" {
				n, err := strconv.Atoi(raw)
				if err != nil || n < 1 {
					c.JSON(http.StatusBadRequest, gin.H{"error": "invalid batch parameter"})
					return
				}
				batch = n
			}
			res, err := runner.Run(c.Request.Context(), c.Query("type"), batch)
			if err != nil {
				log.Error("worker run failed", zap.Error(err))
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, gin.H{
				"action":    "process",
				"processed": res.Processed,
				"succeeded": res.Succeeded,
				"failed":    res.Failed,
				"results":   res.Results,
				"duration":  res.Duration,
			})

		case "cleanup":
			count, err := st.CleanupStuckJobs(c.Request.Context(), stuckTimeout)
			if err != nil {
				log.Error("cleanup sweep failed", zap.Error(err))
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, gin.H{"action": "cleanup", "reset_count": count})

		case "health":
			checks := gin.H{}
			healthy := true
			if err := st.Ping(c.Request.Context()); err != nil {
				checks["store"] = err.Error()
				healthy = false
			} else {
				checks["store"] = "ok"
			}
			for _, p := range registry.All() {
				if err := p.HealthCheck(c.Request.Context()); err != nil {
					checks[p.Type()] = err.Error()
					healthy = false
				} else {
					checks[p.Type()] = "ok"
				}
			}
			status := http.StatusOK
			if !healthy {
				status = http.StatusServiceUnavailable
			}
			c.JSON(status, gin.H{"action": "health", "healthy": healthy, "checks": checks})

		case "stats":
			stats, err := st.Stats(c.Request.Context())
			if err != nil {
				log.Error("stats query failed", zap.Error(err))
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, gin.H{"action": "stats", "stats": stats})

		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown action: " + action})
		}
	}
}
