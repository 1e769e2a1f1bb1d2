package temporal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/knockturn/service/metrics"
	"github.com/google/uuid"
	"go.temporal.io/sdk/client"
)

// Client is a production implementation of Scheduler that talks to Temporal.
type Client struct {
	client    client.Client
	taskQueue string
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewClient creates a new Temporal client.
func NewClient(host, namespace, taskQueue string, m *metrics.Metrics, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("connecting to temporal",
		"host", host,
		"namespace", namespace,
		"task_queue", taskQueue,
	)

	c, err := client.Dial(client.Options{
		HostPort:  host,
		Namespace: namespace,
		Logger:    newTemporalLogger(logger),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Temporal: %w", err)
	}

	return &Client{
		client:    c,
		taskQueue: taskQueue,
		metrics:   m,
		logger:    logger,
	}, nil
}

func (c *Client) createSweepSchedule(ctx context.Context, interval time.Duration) error {
	_, err := c.client.ScheduleClient().Create(ctx, client.ScheduleOptions{
		ID: SweepScheduleID,
		Spec: client.ScheduleSpec{
			Intervals: []client.ScheduleIntervalSpec{{Every: interval}},
		},
		Action: &client.ScheduleWorkflowAction{
			ID:        "knockturn-sweep-workflow",
			Workflow:  SweepWorkflow,
			TaskQueue: c.taskQueue,
			Args:      []interface{}{SweepWorkflowInput{}},
		},
		Memo: map[string]interface{}{
			"created_by": "knockturn",
		},
	})
	if err != nil {
		c.logger.Error("failed to create schedule", "schedule_id", SweepScheduleID, "error", err)
		return fmt.Errorf("failed to create schedule %q: %w", SweepScheduleID, err)
	}

	c.logger.Info("sweep schedule created", "schedule_id", SweepScheduleID, "interval", interval)
	return nil
}

// UpsertSweepSchedule creates the sweep schedule, or updates its interval if
// it already exists.
func (c *Client) UpsertSweepSchedule(ctx context.Context, interval time.Duration) error {
	handle := c.client.ScheduleClient().GetHandle(ctx, SweepScheduleID)
	if _, err := handle.Describe(ctx); err != nil {
		c.logger.Debug("schedule not found, creating new one", "schedule_id", SweepScheduleID, "error", err)
		return c.createSweepSchedule(ctx, interval)
	}

	err := handle.Update(ctx, client.ScheduleUpdateOptions{
		DoUpdate: func(input client.ScheduleUpdateInput) (*client.ScheduleUpdate, error) {
			input.Description.Schedule.Spec.Intervals = []client.ScheduleIntervalSpec{
				{Every: interval},
			}
			return &client.ScheduleUpdate{
				Schedule: &input.Description.Schedule,
			}, nil
		},
	})
	if err != nil {
		c.logger.Error("failed to update schedule", "schedule_id", SweepScheduleID, "error", err)
		return fmt.Errorf("failed to update schedule %q: %w", SweepScheduleID, err)
	}

	c.logger.Info("sweep schedule updated", "schedule_id", SweepScheduleID, "interval", interval)
	return nil
}

// DescribeSweepSchedule returns the sweep schedule.
func (c *Client) DescribeSweepSchedule(ctx context.Context) (*ScheduleInfo, error) {
	desc, err := c.client.ScheduleClient().GetHandle(ctx, SweepScheduleID).Describe(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to describe schedule %q: %w", SweepScheduleID, err)
	}

	info := &ScheduleInfo{
		ID:       SweepScheduleID,
		NextRuns: desc.Info.NextActionTimes,
	}
	if desc.Schedule.Spec != nil && len(desc.Schedule.Spec.Intervals) > 0 {
		info.Interval = desc.Schedule.Spec.Intervals[0].Every
	}
	if desc.Schedule.State != nil {
		info.Paused = desc.Schedule.State.Paused
	}
	return info, nil
}

// DeleteSweepSchedule deletes the sweep schedule.
func (c *Client) DeleteSweepSchedule(ctx context.Context) error {
	handle := c.client.ScheduleClient().GetHandle(ctx, SweepScheduleID)
	if err := handle.Delete(ctx); err != nil {
		c.logger.Error("failed to delete schedule", "schedule_id", SweepScheduleID, "error", err)
		return fmt.Errorf("failed to delete schedule %q: %w", SweepScheduleID, err)
	}
	c.logger.Info("sweep schedule deleted", "schedule_id", SweepScheduleID)
	return nil
}

// RunSweep starts a one-off SweepWorkflow and waits for its result.
func (c *Client) RunSweep(ctx context.Context, input SweepWorkflowInput) (*SweepWorkflowResult, error) {
	start := time.Now()
	run, err := c.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        "knockturn-sweep-manual-" + uuid.NewString(),
		TaskQueue: c.taskQueue,
	}, SweepWorkflow, input)
	if err != nil {
		return nil, fmt.Errorf("failed to start sweep workflow: %w", err)
	}

	var result SweepWorkflowResult
	err = run.Get(ctx, &result)
	status := "success"
	if err != nil {
		status = "error"
	}
	c.metrics.RecordWorkflowDuration(status, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("sweep workflow failed: %w", err)
	}
	return &result, nil
}

// Close closes the Temporal client connection.
func (c *Client) Close() {
	c.logger.Info("closing temporal client")
	c.client.Close()
}

// temporalLogger adapts slog.Logger to Temporal's logger interface.
type temporalLogger struct {
	logger *slog.Logger
}

func newTemporalLogger(logger *slog.Logger) *temporalLogger {
	return &temporalLogger{logger: logger}
}

func (l *temporalLogger) Debug(msg string, keyvals ...interface{}) {
	l.logger.Debug(msg, keyvals...)
}

func (l *temporalLogger) Info(msg string, keyvals ...interface{}) {
	l.logger.Info(msg, keyvals...)
}

func (l *temporalLogger) Warn(msg string, keyvals ...interface{}) {
	l.logger.Warn(msg, keyvals...)
}

func (l *temporalLogger) Error(msg string, keyvals ...interface{}) {
	l.logger.Error(msg, keyvals...)
}
