package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/auralane/worker/internal/handlers"
	"github.com/auralane/worker/internal/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP endpoint that cron or the platform scheduler triggers",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !cfg.Debug {
			gin.SetMode(gin.ReleaseMode)
		}
		router := handlers.NewRouter(st, runner, registry, cfg.Queue.StuckTimeout, logger.Log)

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%s", cfg.Port),
			Handler: router,
		}

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			<-quit
			logger.Log.Info("shutting down server...")
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				logger.Log.Fatal("server shutdown failed", zap.Error(err))
			}
		}()

		logger.Log.Info("server starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}
		logger.Log.Info("server stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
