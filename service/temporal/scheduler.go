package temporal

import (
	"context"
	"log/slog"
	"time"
)

// SweepScheduleID is the id of the Temporal schedule that triggers SweepWorkflow.
const SweepScheduleID = "knockturn-sweep"

// ScheduleInfo describes the sweep schedule.
type ScheduleInfo struct {
	ID       string        `json:"id"`
	Interval time.Duration `json:"interval"`
	Paused   bool          `json:"paused"`
	NextRuns []time.Time   `json:"next_runs,omitempty"`
}

// Scheduler manages the Temporal schedule that runs the sweep workflow.
type Scheduler interface {
	// UpsertSweepSchedule creates the schedule or updates its interval.
	UpsertSweepSchedule(ctx context.Context, interval time.Duration) error

	// DescribeSweepSchedule returns the current schedule.
	DescribeSweepSchedule(ctx context.Context) (*ScheduleInfo, error)

	// DeleteSweepSchedule removes the schedule.
	DeleteSweepSchedule(ctx context.Context) error
}

// EnsureSweepSchedule makes sure the sweep schedule runs every interval.
func EnsureSweepSchedule(ctx context.Context, s Scheduler, interval time.Duration, logger *slog.Logger) error {
	info, err := s.DescribeSweepSchedule(ctx)
	if err == nil && info.Interval == interval {
		logger.Info("sweep schedule up to date", "schedule_id", info.ID, "interval", interval)
		return nil
	}
	return s.UpsertSweepSchedule(ctx, interval)
}
