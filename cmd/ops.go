package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/auralane/worker/internal/jobs"
	"github.com/auralane/worker/internal/store"
)

var (
	processType  string
	processBatch int
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Run one worker invocation against the queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := runner.Run(cmd.Context(), processType, processBatch)
		if err != nil {
			return err
		}
		return printJSON(res)
	},
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Reset jobs stuck in processing back to retry",
	RunE: func(cmd *cobra.Command, args []string) error {
		count, err := st.CleanupStuckJobs(cmd.Context(), cfg.Queue.StuckTimeout)
		if err != nil {
			return err
		}
		fmt.Printf("reset %d stuck job(s)\n", count)
		return nil
	},
}

var (
	enqueuePriority   string
	enqueueDependsOn  string
	enqueueRateKey    string
	enqueueMaxRetries int
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue <type> <payload-json>",
	Short: "Add a job to the queue",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var payload map[string]any
		if err := json.Unmarshal([]byte(args[1]), &payload); err != nil {
			return fmt.Errorf("invalid payload JSON: %w", err)
		}
		id, err := st.Enqueue(cmd.Context(), args[0], payload, jobs.Priority(enqueuePriority), store.EnqueueOptions{
			DependsOn:    enqueueDependsOn,
			RateLimitKey: enqueueRateKey,
			MaxRetries:   enqueueMaxRetries,
		})
		if err != nil {
			return err
		}
		fmt.Printf("job enqueued: %s\n", id)
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print queue statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		stats, err := st.Stats(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(stats)
	},
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	processCmd.Flags().StringVar(&processType, "type", "", "only claim jobs of this type")
	processCmd.Flags().IntVar(&processBatch, "batch", 0, "batch size (defaults to worker.max_batch)")

	enqueueCmd.Flags().StringVar(&enqueuePriority, "priority", "normal", "critical|high|normal|low")
	enqueueCmd.Flags().StringVar(&enqueueDependsOn, "depends-on", "", "job id this job waits for")
	enqueueCmd.Flags().StringVar(&enqueueRateKey, "rate-limit-key", "", "shared throughput key")
	enqueueCmd.Flags().IntVar(&enqueueMaxRetries, "max-retries", 0, "retry budget (defaults to queue.max_retries)")

	rootCmd.AddCommand(processCmd, cleanupCmd, enqueueCmd, statsCmd)
}
