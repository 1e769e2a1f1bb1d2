package temporal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/brojonat/knockturn/service/metrics"
	"github.com/brojonat/knockturn/service/sweeper"
	temporalsdk "go.temporal.io/sdk/temporal"
)

// RunPassInput names the background pass to run.
type RunPassInput struct {
	Pass string `json:"pass"`
}

// passFunc runs one background pass.
type passFunc func(context.Context) (sweeper.PassResult, error)

// Activities holds the dependencies needed by Temporal activities.
type Activities struct {
	passes  map[string]passFunc
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewActivities creates the activities backed by the given sweeper,
// confirmer and reporter. A nil confirmer or reporter leaves its passes
// unregistered.
func NewActivities(sw *sweeper.Sweeper, c *sweeper.Confirmer, r *sweeper.Reporter, m *metrics.Metrics, logger *slog.Logger) *Activities {
	if logger == nil {
		logger = slog.Default()
	}
	passes := map[string]passFunc{}
	if sw != nil {
		passes[sweeper.PassNewPayouts] = sw.SweepNewPayouts
		passes[sweeper.PassInitializedPayouts] = sw.SweepInitializedPayouts
		passes[sweeper.PassPendingPayouts] = sw.SweepPendingPayouts
		passes[sweeper.PassNewPayments] = sw.SweepNewPayments
		passes[sweeper.PassPendingPayments] = sw.SweepPendingPayments
	}
	if c != nil {
		passes[sweeper.PassConfirmPayouts] = c.ConfirmPayouts
		passes[sweeper.PassConfirmPayments] = c.ConfirmPayments
		passes[sweeper.PassRecoverPayouts] = c.RecoverPayouts
	}
	if r != nil {
		passes[sweeper.PassReport] = r.RunOnce
	}
	return &Activities{
		passes:  passes,
		metrics: m,
		logger:  logger,
	}
}

// RunPass runs a single background pass. Per-transaction failures are
// reported in the result; only a failure to list candidates is an error.
func (a *Activities) RunPass(ctx context.Context, input RunPassInput) (*sweeper.PassResult, error) {
	start := time.Now()
	defer func() {
		a.metrics.RecordActivityDuration(input.Pass, time.Since(start).Seconds())
	}()

	run, ok := a.passes[input.Pass]
	if !ok {
		return nil, temporalsdk.NewNonRetryableApplicationError(
			fmt.Sprintf("unknown pass %q", input.Pass), "UnknownPass", nil)
	}

	a.logger.DebugContext(ctx, "running pass", "pass", input.Pass)
	result, err := run(ctx)
	if err != nil {
		a.logger.ErrorContext(ctx, "pass failed", "pass", input.Pass, "error", err)
		return nil, fmt.Errorf("pass %s failed: %w", input.Pass, err)
	}
	return &result, nil
}
