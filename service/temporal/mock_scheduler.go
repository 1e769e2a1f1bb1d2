package temporal

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockScheduler is a mock implementation of Scheduler for testing.
type MockScheduler struct {
	mu        sync.Mutex
	interval  *time.Duration
	upserts   int
	createErr error
	deleteErr error
}

// NewMockScheduler creates a new MockScheduler.
func NewMockScheduler() *MockScheduler {
	return &MockScheduler{}
}

// UpsertSweepSchedule records the interval.
func (m *MockScheduler) UpsertSweepSchedule(ctx context.Context, interval time.Duration) error {
	if m.createErr != nil {
		return m.createErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.interval = &interval
	m.upserts++
	return nil
}

// DescribeSweepSchedule returns the recorded schedule.
func (m *MockScheduler) DescribeSweepSchedule(ctx context.Context) (*ScheduleInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.interval == nil {
		return nil, fmt.Errorf("schedule %q not found", SweepScheduleID)
	}
	return &ScheduleInfo{ID: SweepScheduleID, Interval: *m.interval}, nil
}

// DeleteSweepSchedule removes the recorded schedule.
func (m *MockScheduler) DeleteSweepSchedule(ctx context.Context) error {
	if m.deleteErr != nil {
		return m.deleteErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.interval == nil {
		return fmt.Errorf("schedule %q not found", SweepScheduleID)
	}
	m.interval = nil
	return nil
}

// SetCreateError makes UpsertSweepSchedule return an error.
func (m *MockScheduler) SetCreateError(err error) {
	m.createErr = err
}

// SetDeleteError makes DeleteSweepSchedule return an error.
func (m *MockScheduler) SetDeleteError(err error) {
	m.deleteErr = err
}

// UpsertCount returns how many times the schedule was written.
func (m *MockScheduler) UpsertCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.upserts
}
