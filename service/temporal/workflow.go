package temporal

import (
	"fmt"
	"time"

	"github.com/brojonat/knockturn/service/sweeper"
	temporalsdk "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

var a *Activities // for type-safe activity invocation

// DefaultPasses is the order in which SweepWorkflow runs passes when the
// input names none.
var DefaultPasses = []string{
	sweeper.PassRecoverPayouts,
	sweeper.PassConfirmPayouts,
	sweeper.PassConfirmPayments,
	sweeper.PassNewPayouts,
	sweeper.PassInitializedPayouts,
	sweeper.PassPendingPayouts,
	sweeper.PassNewPayments,
	sweeper.PassPendingPayments,
	sweeper.PassReport,
}

// SweepWorkflowInput selects the passes to run.
type SweepWorkflowInput struct {
	Passes []string `json:"passes,omitempty"`
}

// SweepWorkflowResult collects the outcome of every pass.
type SweepWorkflowResult struct {
	Results []sweeper.PassResult `json:"results"`
	Errors  []string             `json:"errors,omitempty"`
	RanAt   time.Time            `json:"ran_at"`
}

// SweepWorkflow runs the background passes in order. It is triggered by a
// Temporal schedule every SWEEP_INTERVAL. A failing pass is recorded and the
// remaining passes still run.
func SweepWorkflow(ctx workflow.Context, input SweepWorkflowInput) (*SweepWorkflowResult, error) {
	logger := workflow.GetLogger(ctx)

	passes := input.Passes
	if len(passes) == 0 {
		passes = DefaultPasses
	}

	result := &SweepWorkflowResult{RanAt: workflow.Now(ctx)}

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy: &temporalsdk.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    3,
		},
	})

	for _, pass := range passes {
		var passResult *sweeper.PassResult
		err := workflow.ExecuteActivity(ctx, a.RunPass, RunPassInput{Pass: pass}).Get(ctx, &passResult)
		if err != nil {
			logger.Error("sweep pass failed", "pass", pass, "error", err)
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", pass, err))
			continue
		}
		result.Results = append(result.Results, *passResult)
	}

	logger.Info("SweepWorkflow completed",
		"passes", len(passes),
		"failed_passes", len(result.Errors),
	)
	return result, nil
}
