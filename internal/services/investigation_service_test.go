package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inquestlabs/inquest-engine/internal/models"
	"github.com/inquestlabs/inquest-engine/internal/utils"
)

type fakeInvestigator struct {
	result *models.InvestigationResult
	err    error
	calls  int
}

func (f *fakeInvestigator) Run(ctx context.Context, req models.InvestigationRequest) (*models.InvestigationResult, error) {
	f.calls++
	return f.result, f.err
}

func TestInvestigateDelegatesToPipeline(t *testing.T) {
	pipeline := &fakeInvestigator{result: &models.InvestigationResult{
		RunID: "run-1",
		State: models.StateDone,
	}}
	svc := NewInvestigationService(utils.NewLogger("error", false), pipeline)

	result, err := svc.Investigate(context.Background(), models.InvestigationRequest{
		Mode:       models.ModeLogMessage,
		LogMessage: "boom",
	})
	require.NoError(t, err)

	assert.Equal(t, "run-1", result.RunID)
	assert.Equal(t, 1, pipeline.calls)
}

func TestInvestigatePropagatesPipelineError(t *testing.T) {
	pipeline := &fakeInvestigator{err: utils.NewAppError("x", utils.KindRateLimited, "limited", nil)}
	svc := NewInvestigationService(utils.NewLogger("error", false), pipeline)

	_, err := svc.Investigate(context.Background(), models.InvestigationRequest{})
	require.Error(t, err)
	assert.True(t, utils.IsKind(err, utils.KindRateLimited))
}

func TestInvestigateWithoutPipeline(t *testing.T) {
	svc := NewInvestigationService(utils.NewLogger("error", false), nil)

	_, err := svc.Investigate(context.Background(), models.InvestigationRequest{})
	require.Error(t, err)
}

func TestLatencyP95Accumulates(t *testing.T) {
	pipeline := &fakeInvestigator{result: &models.InvestigationResult{State: models.StateDone}}
	svc := NewInvestigationService(utils.NewLogger("error", false), pipeline)

	for i := 0; i < 5; i++ {
		_, err := svc.Investigate(context.Background(), models.InvestigationRequest{})
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, svc.LatencyP95(), time.Duration(0))
}
