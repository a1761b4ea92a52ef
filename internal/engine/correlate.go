package engine

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/inquestlabs/inquest-engine/internal/models"
	"github.com/inquestlabs/inquest-engine/internal/utils"
)

// ExceptionCorrelator aligns parsed stack traces with analyzed file changes
// and grades how confidently the deployment explains the exception.
type ExceptionCorrelator struct {
	knowledge *KnowledgeBase
	proximity int
	logger    *slog.Logger
}

// NewExceptionCorrelator wires a correlator with the given nearby-match
// window.
func NewExceptionCorrelator(knowledge *KnowledgeBase, proximityLines int, logger *slog.Logger) *ExceptionCorrelator {
	return &ExceptionCorrelator{
		knowledge: knowledge,
		proximity: proximityLines,
		logger:    utils.ComponentLogger(logger, "correlate"),
	}
}

// Correlate builds the root-cause verdict for one service. It requires a
// matched deployment and at least one file analysis; anything less returns
// nil, meaning no verdict rather than failure.
func (c *ExceptionCorrelator) Correlate(trace models.ParsedStackTrace, deployment *models.DeploymentInfo, analyses []models.FileAnalysis) *models.RootCause {
	if deployment == nil || len(analyses) == 0 || len(trace.Frames) == 0 {
		return nil
	}

	// Index analyses under both the resolved path and the path originally
	// requested, so a frame still correlates after a sibling-extension
	// resolution swapped the file's language.
	byPath := make(map[string]models.FileAnalysis, len(analyses))
	for _, analysis := range analyses {
		byPath[analysis.Diff.FilePath] = analysis
		if requested := analysis.Diff.RequestedPath; requested != "" && requested != analysis.Diff.FilePath {
			byPath[requested] = analysis
		}
	}

	var correlations []models.LineCorrelation
	callFlow := make([]models.CallFlowStep, 0, len(trace.Frames))
	rootDirect := false
	ownedHit := false

	for _, frame := range trace.Frames {
		step := models.CallFlowStep{
			Step:       frame.Index,
			ClassName:  frame.ClassName,
			MethodName: frame.MethodName,
			FilePath:   frame.FilePath,
			LineNumber: frame.LineNumber,
		}

		if analysis, ok := byPath[frame.FilePath]; ok && frame.LineNumber > 0 {
			if corr := c.correlateLine(frame, analysis.Diff); corr != nil {
				step.Correlation = corr
				correlations = append(correlations, *corr)
				if frame.IsOwnedPackage && (corr.IsDirectMatch || corr.IsNearbyMatch) {
					ownedHit = true
				}
				if frame.IsRootFrame && corr.IsDirectMatch {
					rootDirect = true
					step.IsRootCause = true
				}
			}
		}
		callFlow = append(callFlow, step)
	}

	confidence := models.ConfidenceLow
	switch {
	case rootDirect:
		confidence = models.ConfidenceHigh
	case ownedHit:
		confidence = models.ConfidenceMedium
	}

	cause := &models.RootCause{
		Confidence:     confidence,
		Explanation:    c.explain(trace, deployment, confidence, correlations),
		CallFlow:       callFlow,
		Correlations:   correlations,
		SuggestedFixes: c.knowledge.Suggest(trace.ExceptionShort),
	}

	c.logger.Info("correlation graded",
		"exception", trace.ExceptionShort,
		"confidence", confidence,
		"correlations", len(correlations),
	)
	return cause
}

// correlateLine grades one frame against a file's changed lines. A direct
// match means the frame's line was itself touched; a nearby match means a
// touched line sits within the proximity window.
func (c *ExceptionCorrelator) correlateLine(frame models.StackFrame, diff models.FileRevisionDiff) *models.LineCorrelation {
	corr := &models.LineCorrelation{
		FilePath:  frame.FilePath,
		StackLine: frame.LineNumber,
	}

	changed := map[int]models.ChangeKind{}
	for _, l := range diff.AddedLines {
		changed[l] = models.ChangeKindAdded
	}
	for _, l := range diff.RemovedLines {
		if _, taken := changed[l]; !taken {
			changed[l] = models.ChangeKindRemoved
		}
	}

	if kind, ok := changed[frame.LineNumber]; ok {
		corr.IsDirectMatch = true
		corr.ChangeKind = kind
		return corr
	}

	for line, kind := range changed {
		if abs(line-frame.LineNumber) <= c.proximity {
			corr.IsNearbyMatch = true
			corr.NearbyLines = append(corr.NearbyLines, line)
			if corr.ChangeKind == models.ChangeKindNone {
				corr.ChangeKind = kind
			}
		}
	}
	if corr.IsNearbyMatch {
		sort.Ints(corr.NearbyLines)
		return corr
	}
	return nil
}

func (c *ExceptionCorrelator) explain(trace models.ParsedStackTrace, deployment *models.DeploymentInfo, confidence models.Confidence, correlations []models.LineCorrelation) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s", trace.ExceptionShort)
	if trace.ExceptionMessage != "" {
		fmt.Fprintf(&b, " (%s)", trace.ExceptionMessage)
	}
	fmt.Fprintf(&b, " correlated against deployment %s build %s", shortHash(deployment.CommitHash), deployment.BuildNumber)

	switch confidence {
	case models.ConfidenceHigh:
		b.WriteString(": the throwing line was changed by this deployment.")
	case models.ConfidenceMedium:
		b.WriteString(": changed lines sit on or near the exception's call path in owned code.")
	default:
		if len(correlations) == 0 {
			b.WriteString(": no changed line aligns with the call path.")
		} else {
			b.WriteString(": only weak alignment between changed lines and the call path.")
		}
	}

	if trace.HasChainedCause {
		b.WriteString(" The trace carries a chained cause; the innermost exception was graded.")
	}
	return b.String()
}

func shortHash(hash string) string {
	if len(hash) > 8 {
		return hash[:8]
	}
	return hash
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
