package engine

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/inquestlabs/inquest-engine/internal/config"
	"github.com/inquestlabs/inquest-engine/internal/extractors"
	"github.com/inquestlabs/inquest-engine/internal/metrics"
	"github.com/inquestlabs/inquest-engine/internal/models"
	"github.com/inquestlabs/inquest-engine/internal/utils"
)

// QueryBuilder turns request inputs into scoped search queries.
type QueryBuilder interface {
	SessionQueryBuilder
	BuildMessageQuery(message string) string
	BuildIdentifiersQuery(identifiers []string) string
}

// Pipeline drives one investigation through its stages: search, session
// fan-out, per-service deployment and code analysis, and correlation.
// Per-service stage failures degrade the run; only search exhaustion or a
// dead backend end it early.
type Pipeline struct {
	windows    *WindowResolver
	fanout     *SessionFanOut
	resolver   *RepositoryResolver
	deployment *DeploymentCorrelator
	analyzer   *CodeChangeAnalyzer
	correlator *ExceptionCorrelator
	parser     *extractors.StackTraceParser
	queries    QueryBuilder

	serviceConcurrency int
	runDeadline        time.Duration
	logger             *slog.Logger

	now func() time.Time
}

// NewPipeline assembles a pipeline from its stage components.
func NewPipeline(
	windows *WindowResolver,
	fanout *SessionFanOut,
	resolver *RepositoryResolver,
	deployment *DeploymentCorrelator,
	analyzer *CodeChangeAnalyzer,
	correlator *ExceptionCorrelator,
	parser *extractors.StackTraceParser,
	queries QueryBuilder,
	cfg config.InvestigationConfig,
	logger *slog.Logger,
) *Pipeline {
	return &Pipeline{
		windows:            windows,
		fanout:             fanout,
		resolver:           resolver,
		deployment:         deployment,
		analyzer:           analyzer,
		correlator:         correlator,
		parser:             parser,
		queries:            queries,
		serviceConcurrency: cfg.ServiceConcurrency,
		runDeadline:        cfg.RunDeadline,
		logger:             utils.ComponentLogger(logger, "pipeline"),
		now:                time.Now,
	}
}

// Run executes one investigation. An exhausted search yields a NO_RESULTS
// result, not an error.
func (p *Pipeline) Run(ctx context.Context, req models.InvestigationRequest) (*models.InvestigationResult, error) {
	if p.runDeadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.runDeadline)
		defer cancel()
	}

	result := &models.InvestigationResult{
		RunID:      uuid.NewString(),
		State:      models.StateSearching,
		PerService: map[string]*models.ServiceInvestigationResult{},
		CreatedAt:  p.now().UTC(),
	}
	logger := p.logger.With("run_id", result.RunID)

	query, err := p.buildQuery(req)
	if err != nil {
		return nil, err
	}
	logger.Info("investigation started", "query", query)

	var reference *time.Time
	if !req.Timestamp.IsZero() {
		ts := req.Timestamp
		reference = &ts
	}

	entries, window, attempts, err := p.windows.Resolve(ctx, query, reference)
	result.SearchAttempts = attempts
	result.SearchWindow = window
	if err != nil {
		if utils.IsKind(err, utils.KindExhausted) {
			result.State = models.StateNoResults
			logger.Info("no log entries in any window")
			return result, nil
		}
		return nil, err
	}

	initial := models.NewSearchResult()
	initial.Append(entries...)

	expanded, err := p.fanout.Expand(ctx, initial, window)
	if err != nil {
		return nil, err
	}
	result.SessionsFound = expanded.SessionsFound
	result.SessionsProcessed = expanded.SessionsProcessed

	services := expanded.Result.UniqueServices()
	result.State = models.StateServicesIdentified
	logger.Info("services identified", "count", len(services))

	if len(services) == 0 {
		result.State = models.StateNoResults
		return result, nil
	}

	result.State = models.StateInvestigating
	perService := p.investigateServices(ctx, services, expanded.Result, window, logger)

	result.State = models.StateAggregating
	for _, svc := range perService {
		result.PerService[svc.Service] = svc
		if svc.Degraded() {
			result.Degraded = true
		}
	}
	if len(expanded.Failures) > 0 {
		result.Degraded = true
	}

	result.State = models.StateDone
	logger.Info("investigation finished", "services", len(result.PerService), "degraded", result.Degraded)
	return result, nil
}

func (p *Pipeline) buildQuery(req models.InvestigationRequest) (string, error) {
	const op = "pipeline.buildQuery"

	switch req.Mode {
	case models.ModeLogMessage:
		if strings.TrimSpace(req.LogMessage) == "" {
			return "", utils.NewAppError(op, utils.KindSchemaInvalid, "log message mode requires a message", nil)
		}
		return p.queries.BuildMessageQuery(req.LogMessage), nil
	case models.ModeIdentifiers:
		if len(req.Identifiers) == 0 {
			return "", utils.NewAppError(op, utils.KindSchemaInvalid, "identifier mode requires at least one identifier", nil)
		}
		return p.queries.BuildIdentifiersQuery(req.Identifiers), nil
	default:
		return "", utils.NewAppError(op, utils.KindSchemaInvalid, "unknown search mode "+string(req.Mode), nil)
	}
}

// investigateServices runs the per-service stages concurrently, bounded by
// the configured limit. Each service degrades independently.
func (p *Pipeline) investigateServices(ctx context.Context, services []string, result *models.SearchResult, window models.TimeWindow, logger *slog.Logger) []*models.ServiceInvestigationResult {
	out := make([]*models.ServiceInvestigationResult, len(services))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.serviceConcurrency)

	for i, service := range services {
		i, service := i, service
		g.Go(func() error {
			out[i] = p.investigateService(gctx, service, result.EntriesForService(service), window, logger)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// investigateService walks one service through deployment correlation, code
// analysis, and exception correlation, recording stage failures as it goes.
func (p *Pipeline) investigateService(ctx context.Context, service string, entries []models.LogEntry, window models.TimeWindow, logger *slog.Logger) *models.ServiceInvestigationResult {
	started := p.now()
	svc := &models.ServiceInvestigationResult{Service: service, Entries: entries}
	defer func() {
		outcome := metrics.OutcomeSuccess
		if svc.Degraded() {
			outcome = metrics.OutcomeDegraded
		}
		metrics.ObserveStage("service_investigation", p.now().Sub(started), outcome)
	}()

	trace := p.parseTraces(svc)

	repoName, err := p.resolver.Resolve(ctx, service)
	if err != nil {
		svc.PartialFailures = append(svc.PartialFailures, models.StageFailure{Stage: "repository_resolution", Reason: err.Error()})
		logger.Warn("repository resolution failed", "service", service, "error", err)
		return svc
	}
	svc.Repository = repoName

	tags := versionTags(entries)
	reference := latestTimestamp(entries, window.To)
	deployment, note, err := p.deployment.Correlate(ctx, service, repoName, tags, reference)
	if err != nil {
		svc.PartialFailures = append(svc.PartialFailures, models.StageFailure{Stage: "deployment_correlation", Reason: err.Error()})
		logger.Warn("deployment correlation failed", "service", service, "error", err)
		return svc
	}
	svc.Deployment = deployment
	svc.DeploymentNote = note
	if deployment == nil {
		return svc
	}

	paths := p.candidatePaths(trace, entries, deployment)
	analyses, failures := p.analyzer.AnalyzeFiles(ctx, repoName, paths, deployment.ParentCommitHash, deployment.CommitHash)
	svc.FileAnalyses = analyses
	svc.PartialFailures = append(svc.PartialFailures, failures...)

	svc.RootCause = p.correlator.Correlate(trace, deployment, analyses)
	return svc
}

// parseTraces extracts structured stack traces for the service, preferring
// dedicated stack-trace fields over inline message frames. The trace with
// the most owned frames drives correlation.
func (p *Pipeline) parseTraces(svc *models.ServiceInvestigationResult) models.ParsedStackTrace {
	var best models.ParsedStackTrace
	for _, entry := range svc.Entries {
		var parsed models.ParsedStackTrace
		if entry.StackTrace != "" {
			parsed = p.parser.Parse(entry.StackTrace)
		} else {
			parsed = p.parser.ParseMessage(entry.Message)
		}
		if len(parsed.Frames) == 0 {
			continue
		}
		svc.ParsedTraces = append(svc.ParsedTraces, parsed)
		if len(best.Frames) == 0 || len(parsed.OwnedFrames) > len(best.OwnedFrames) {
			best = parsed
		}
	}
	return best
}

// candidatePaths merges trace file paths and logger-name candidates present
// in the deployment's changed files. Without either signal the changed
// source files themselves are analyzed.
func (p *Pipeline) candidatePaths(trace models.ParsedStackTrace, entries []models.LogEntry, deployment *models.DeploymentInfo) []string {
	set := map[string]struct{}{}
	for _, path := range trace.UniqueFilePaths {
		set[path] = struct{}{}
	}
	for _, entry := range entries {
		for _, path := range extractors.LoggerNameFilePaths(entry.LoggerName) {
			if inChangedFiles(deployment.ChangedFiles, path) {
				set[path] = struct{}{}
			}
		}
	}
	if len(set) == 0 {
		for _, path := range deployment.ChangedFiles {
			if strings.HasSuffix(path, ".kt") || strings.HasSuffix(path, ".java") {
				set[path] = struct{}{}
			}
		}
	}

	paths := make([]string, 0, len(set))
	for path := range set {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

func inChangedFiles(changed []string, path string) bool {
	for _, c := range changed {
		if c == path {
			return true
		}
	}
	return false
}

func versionTags(entries []models.LogEntry) []string {
	set := map[string]struct{}{}
	for _, e := range entries {
		if e.VersionTag != "" {
			set[e.VersionTag] = struct{}{}
		}
	}
	tags := make([]string, 0, len(set))
	for tag := range set {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

func latestTimestamp(entries []models.LogEntry, fallback time.Time) time.Time {
	latest := fallback
	for _, e := range entries {
		if e.Timestamp.After(latest) {
			latest = e.Timestamp
		}
	}
	return latest
}
