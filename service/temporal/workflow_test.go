package temporal

import (
	"context"
	"errors"
	"testing"

	"github.com/brojonat/knockturn/service/sweeper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/testsuite"
)

func TestSweepWorkflow(t *testing.T) {
	tests := []struct {
		name           string
		input          SweepWorkflowInput
		mockActivities func(*testsuite.TestWorkflowEnvironment, *Activities)
		validateResult func(*testing.T, *SweepWorkflowResult)
	}{
		{
			name:  "runs every default pass in order",
			input: SweepWorkflowInput{},
			mockActivities: func(env *testsuite.TestWorkflowEnvironment, activities *Activities) {
				env.OnActivity(activities.RunPass, mock.Anything, mock.Anything).Return(
					func(_ context.Context, input RunPassInput) (*sweeper.PassResult, error) {
						return &sweeper.PassResult{Pass: input.Pass, Found: 1, Done: 1}, nil
					})
			},
			validateResult: func(t *testing.T, result *SweepWorkflowResult) {
				require.Len(t, result.Results, len(DefaultPasses))
				for i, pass := range DefaultPasses {
					assert.Equal(t, pass, result.Results[i].Pass)
				}
				assert.Empty(t, result.Errors)
			},
		},
		{
			name:  "failing pass does not stop the others",
			input: SweepWorkflowInput{Passes: []string{sweeper.PassNewPayouts, sweeper.PassNewPayments}},
			mockActivities: func(env *testsuite.TestWorkflowEnvironment, activities *Activities) {
				env.OnActivity(activities.RunPass, mock.Anything, RunPassInput{Pass: sweeper.PassNewPayouts}).
					Return(nil, errors.New("database unavailable"))
				env.OnActivity(activities.RunPass, mock.Anything, RunPassInput{Pass: sweeper.PassNewPayments}).
					Return(&sweeper.PassResult{Pass: sweeper.PassNewPayments, Found: 2, Done: 2}, nil)
			},
			validateResult: func(t *testing.T, result *SweepWorkflowResult) {
				require.Len(t, result.Results, 1)
				assert.Equal(t, sweeper.PassNewPayments, result.Results[0].Pass)
				require.Len(t, result.Errors, 1)
				assert.Contains(t, result.Errors[0], sweeper.PassNewPayouts)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			testSuite := &testsuite.WorkflowTestSuite{}
			env := testSuite.NewTestWorkflowEnvironment()

			activities := &Activities{}
			env.RegisterActivity(activities.RunPass)
			tt.mockActivities(env, activities)

			env.ExecuteWorkflow(SweepWorkflow, tt.input)

			require.True(t, env.IsWorkflowCompleted())
			require.NoError(t, env.GetWorkflowError())

			var result SweepWorkflowResult
			require.NoError(t, env.GetWorkflowResult(&result))
			tt.validateResult(t, &result)
		})
	}
}

func TestSweepWorkflow_ActivityRetries(t *testing.T) {
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()

	activities := &Activities{}
	env.RegisterActivity(activities.RunPass)

	callCount := 0
	env.OnActivity(activities.RunPass, mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		callCount++
		if callCount < 3 {
			panic("transient error") // Temporal retries on panics
		}
	}).Return(&sweeper.PassResult{Pass: sweeper.PassReport}, nil)

	env.ExecuteWorkflow(SweepWorkflow, SweepWorkflowInput{Passes: []string{sweeper.PassReport}})

	require.NoError(t, env.GetWorkflowError())
	var result SweepWorkflowResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Len(t, result.Results, 1)
	assert.Empty(t, result.Errors)
	assert.Equal(t, 3, callCount)
}
