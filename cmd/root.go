// Package cmd wires the CLI: serve runs the HTTP worker endpoint,
// process/cleanup/enqueue/stats run one-shot operations against the
// same store.
package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/auralane/worker/internal/config"
	"github.com/auralane/worker/internal/external"
	"github.com/auralane/worker/internal/logger"
	"github.com/auralane/worker/internal/processor"
	"github.com/auralane/worker/internal/store"
	"github.com/auralane/worker/internal/worker"
)

var (
	cfg      *config.Config
	st       *store.Store
	registry *processor.Registry
	runner   *worker.Runner
)

var rootCmd = &cobra.Command{
	Use:   "worker",
	Short: "Background job queue and worker for the Auralane marketplace",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(logger.Log)
		if err != nil {
			return err
		}
		logger.Init(cfg.Debug)

		st, err = store.Open(cfg.DBPath, logger.Log, store.Options{
			DefaultMaxRetries: cfg.Queue.MaxRetries,
			BackoffBase:       cfg.Queue.BackoffBase,
			BackoffMax:        cfg.Queue.BackoffMax,
			RateLimitWindow:   cfg.Queue.RateLimitWindow,
			RateLimitMax:      cfg.Queue.RateLimitMax,
		})
		if err != nil {
			return err
		}

		registry = buildRegistry(cfg, st, logger.Log)
		runner = worker.NewRunner(st, registry, worker.Config{
			MaxBatch:      cfg.Worker.MaxBatch,
			Budget:        cfg.Worker.Budget,
			InterJobDelay: cfg.Worker.InterJobDelay,
		}, logger.Log)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if st != nil {
			st.Close()
		}
		logger.Log.Sync()
	},
}

func buildRegistry(cfg *config.Config, st *store.Store, log *zap.Logger) *processor.Registry {
	reg := processor.NewRegistry()
	reg.Register(processor.NewEmail(
		external.NewMailClient(cfg.Mail.ServiceURL, cfg.Mail.From), log))
	reg.Register(processor.NewAudio(
		st,
		external.NewRenderClient(cfg.Audio.EngineURL),
		processor.AudioConfig{
			PollInterval: cfg.Audio.PollInterval,
			MaxPolls:     cfg.Audio.MaxPolls,
		}, log))
	reg.Register(processor.NewPayout(
		st,
		external.NewPaymentClient(cfg.Payout.ProviderURL, cfg.Payout.APIKey),
		processor.PayoutConfig{
			Currency:           cfg.Payout.Currency,
			MinimumCents:       cfg.Payout.MinimumCents,
			PlatformFeePct:     cfg.Payout.PlatformFeePct,
			ProcessingFeeCents: cfg.Payout.ProcessingFeeCents,
		}, log))
	reg.Register(processor.NewAnalytics(st, log))
	return reg
}

func Execute() error {
	return rootCmd.Execute()
}
