package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/coinexec/orderflow/internal/application"
	"github.com/coinexec/orderflow/internal/queue"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and control the order queue",
	Long: `Operational commands for the durable order queue. These act on the shared
Redis backend, so pausing or draining here affects every running engine
process. The in-memory queue driver has no shared state to operate on.`,
}

var queueStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show queue depth counters",
	RunE:  runQueueStats,
}

var queuePauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Stop consumers from picking up new jobs",
	Long:  "Sets the shared paused flag. In-flight jobs finish; waiting jobs stay queued until resume.",
	RunE:  runQueuePause,
}

var queueResumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Let consumers pick up jobs again",
	RunE:  runQueueResume,
}

var queueDrainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Discard every job that has not started",
	Long:  "Removes all waiting and delayed jobs. Jobs already delivered to a worker are unaffected.",
	RunE:  runQueueDrain,
}

var queueStatsJSON bool

func init() {
	rootCmd.AddCommand(queueCmd)
	queueCmd.PersistentFlags().String("config", "config.yaml", "Path to the service config file")

	queueStatsCmd.Flags().BoolVar(&queueStatsJSON, "json", false, "Output stats as JSON")

	queueCmd.AddCommand(queueStatsCmd)
	queueCmd.AddCommand(queuePauseCmd)
	queueCmd.AddCommand(queueResumeCmd)
	queueCmd.AddCommand(queueDrainCmd)
}

// openQueue connects to the Redis queue named in the config without
// starting consumers, so ops commands never compete for jobs.
func openQueue(cmd *cobra.Command) (*queue.RedisQueue, error) {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := application.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	if cfg.Queue.Driver != application.QueueDriverRedis {
		return nil, fmt.Errorf("queue commands require the redis driver, config uses %q", cfg.Queue.Driver)
	}

	q, err := queue.NewRedisQueue(queue.RedisConfig{
		Addr:     cfg.Queue.Redis.Addr,
		Password: cfg.Queue.Redis.Password,
		DB:       cfg.Queue.Redis.DB,
		Name:     cfg.Queue.Name,
	}, queue.RetryPolicy{})
	if err != nil {
		return nil, err
	}
	return q, nil
}

func runQueueStats(cmd *cobra.Command, args []string) error {
	q, err := openQueue(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	defer q.Close(ctx)

	stats, err := q.Stats(ctx)
	if err != nil {
		return err
	}

	if queueStatsJSON {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(stats)
	}

	state := "running"
	if stats.Paused {
		state = "paused"
	}

	fmt.Printf("Order Queue\n")
	fmt.Printf("───────────\n")
	fmt.Printf("State:     %s\n", state)
	fmt.Printf("Waiting:   %d\n", stats.Waiting)
	fmt.Printf("Active:    %d\n", stats.Active)
	fmt.Printf("Delayed:   %d\n", stats.Delayed)
	fmt.Printf("Completed: %d\n", stats.Completed)
	fmt.Printf("Failed:    %d\n", stats.Failed)
	return nil
}

func runQueuePause(cmd *cobra.Command, args []string) error {
	q, err := openQueue(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	defer q.Close(ctx)

	if err := q.Pause(ctx); err != nil {
		return err
	}

	fmt.Println("Queue paused. Waiting jobs stay queued until resume.")
	return nil
}

func runQueueResume(cmd *cobra.Command, args []string) error {
	q, err := openQueue(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	defer q.Close(ctx)

	if err := q.Resume(ctx); err != nil {
		return err
	}

	fmt.Println("Queue resumed.")
	return nil
}

func runQueueDrain(cmd *cobra.Command, args []string) error {
	q, err := openQueue(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	defer q.Close(ctx)

	removed, err := q.Drain(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Drained %d queued jobs.\n", removed)
	return nil
}
