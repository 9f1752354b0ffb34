package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/auralane/worker/internal/jobs"
	"github.com/auralane/worker/internal/store"
)

type enqueueRequest struct {
	Type         string         `json:"type"`
	Payload      map[string]any `json:"payload"`
	Priority     string         `json:"priority"`
	DependsOn    string         `json:"depends_on"`
	RateLimitKey string         `json:"rate_limit_key"`
	MaxRetries   int            `json:"max_retries"`
}

// NewEnqueueHandler accepts jobs from application code.
func NewEnqueueHandler(st *store.Store, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req enqueueRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
			return
		}

		id, err := st.Enqueue(c.Request.Context(), req.Type, req.Payload, jobs.Priority(req.Priority), store.EnqueueOptions{
			DependsOn:    req.DependsOn,
			RateLimitKey: req.RateLimitKey,
			MaxRetries:   req.MaxRetries,
		})
		if err != nil {
			if jobs.IsValidation(err) {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			log.Error("enqueue failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"id": id})
	}
}

// NewJobStatusHandler exposes a single job's state for callers polling
// progress.
func NewJobStatusHandler(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		job, err := st.GetJob(c.Request.Context(), c.Param("id"))
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, job)
	}
}

// NewDeadLettersHandler lists recent dead-letter entries for manual
// inspection.
func NewDeadLettersHandler(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		entries, err := st.ListDeadLetters(c.Request.Context(), 50)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"dead_letters": entries})
	}
}
