package temporal

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/brojonat/knockturn/service/metrics"
	"github.com/brojonat/knockturn/service/sweeper"
	"go.temporal.io/sdk/worker"
)

// WorkerConfig holds the passes a worker executes.
type WorkerConfig struct {
	Sweeper   *sweeper.Sweeper
	Confirmer *sweeper.Confirmer
	Reporter  *sweeper.Reporter
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// Worker executes SweepWorkflow and the RunPass activity on the client's
// task queue, sharing the client's connection.
type Worker struct {
	worker    worker.Worker
	taskQueue string
	logger    *slog.Logger
}

// NewWorker registers the sweep workflow and activities on c's task queue.
func NewWorker(c *Client, config WorkerConfig) (*Worker, error) {
	if c == nil {
		return nil, fmt.Errorf("temporal client is required")
	}
	if config.Sweeper == nil || config.Confirmer == nil || config.Reporter == nil {
		return nil, fmt.Errorf("sweeper, confirmer and reporter are required")
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	logger := config.Logger.With("component", "temporal_worker", "task_queue", c.taskQueue)

	// Passes share the wallet and database; run them one at a time.
	w := worker.New(c.client, c.taskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize:     1,
		MaxConcurrentWorkflowTaskExecutionSize: 10,
	})
	w.RegisterWorkflow(SweepWorkflow)
	w.RegisterActivity(NewActivities(config.Sweeper, config.Confirmer, config.Reporter, config.Metrics, logger).RunPass)

	return &Worker{worker: w, taskQueue: c.taskQueue, logger: logger}, nil
}

// Run polls the task queue until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.worker.Start(); err != nil {
		return fmt.Errorf("failed to start worker: %w", err)
	}
	w.logger.Info("temporal worker started", "workflow", "SweepWorkflow")

	<-ctx.Done()

	w.logger.Info("stopping temporal worker")
	w.worker.Stop()
	return nil
}
