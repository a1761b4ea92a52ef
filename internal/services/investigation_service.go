package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/inquestlabs/inquest-engine/internal/engine"
	"github.com/inquestlabs/inquest-engine/internal/metrics"
	"github.com/inquestlabs/inquest-engine/internal/models"
	"github.com/inquestlabs/inquest-engine/internal/utils"
)

// Investigator is the pipeline surface the service depends on.
type Investigator interface {
	Run(ctx context.Context, req models.InvestigationRequest) (*models.InvestigationResult, error)
}

// InvestigationService is the facade between the transport layer and the
// pipeline. It owns latency tracking and run-level metrics.
type InvestigationService struct {
	logger    *slog.Logger
	pipeline  Investigator
	latencies *utils.LatencyTracker
}

// NewInvestigationService constructs the service facade.
func NewInvestigationService(logger *slog.Logger, pipeline Investigator) *InvestigationService {
	if logger == nil {
		logger = slog.Default()
	}
	return &InvestigationService{
		logger:    logger,
		pipeline:  pipeline,
		latencies: utils.NewLatencyTracker(1024),
	}
}

// Investigate runs one investigation end to end.
func (s *InvestigationService) Investigate(ctx context.Context, req models.InvestigationRequest) (*models.InvestigationResult, error) {
	if s.pipeline == nil {
		return nil, utils.NewAppError("services.Investigate", utils.KindSchemaInvalid, "pipeline not configured", nil)
	}

	start := time.Now()
	result, err := s.pipeline.Run(ctx, req)
	duration := time.Since(start)
	if err != nil {
		metrics.ObserveInvestigation(duration, metrics.OutcomeError)
		s.logger.Error("investigation failed", slog.Any("error", err))
		return nil, err
	}

	s.latencies.Observe(duration)
	outcome := metrics.OutcomeSuccess
	if result.Degraded {
		outcome = metrics.OutcomeDegraded
	}
	metrics.ObserveInvestigation(duration, outcome)

	if count := s.latencies.Count(); count >= 20 && count%20 == 0 {
		p95 := s.latencies.Percentile(95)
		s.logger.Info("investigation latency", slog.Duration("p95", p95), slog.Int("samples", count))
	}
	return result, nil
}

// LatencyP95 returns the current p95 investigation latency.
func (s *InvestigationService) LatencyP95() time.Duration {
	if s.latencies == nil {
		return 0
	}
	return s.latencies.Percentile(95)
}

var _ Investigator = (*engine.Pipeline)(nil)
