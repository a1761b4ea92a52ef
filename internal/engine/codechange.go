package engine

import (
	"context"
	"log/slog"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/inquestlabs/inquest-engine/internal/extractors"
	"github.com/inquestlabs/inquest-engine/internal/models"
	"github.com/inquestlabs/inquest-engine/internal/utils"
)

// FileFetcher is the slice of the VCS client the analyzer needs.
type FileFetcher interface {
	GetFileAt(ctx context.Context, repoName, path, ref string) (string, error)
}

// CodeChangeAnalyzer diffs a file between the deployment's parent and
// deployed revisions and scans the diff for suspicious patterns.
type CodeChangeAnalyzer struct {
	fetcher FileFetcher
	logger  *slog.Logger
}

// NewCodeChangeAnalyzer wires an analyzer over the given file fetcher.
func NewCodeChangeAnalyzer(fetcher FileFetcher, logger *slog.Logger) *CodeChangeAnalyzer {
	return &CodeChangeAnalyzer{
		fetcher: fetcher,
		logger:  utils.ComponentLogger(logger, "codechange"),
	}
}

// AnalyzeFile diffs one path between the before and after revisions. A file
// missing at both extensions is kind not_found; an unchanged file returns an
// analysis with an empty diff.
func (a *CodeChangeAnalyzer) AnalyzeFile(ctx context.Context, repoName, path, beforeRef, afterRef string) (*models.FileAnalysis, error) {
	resolvedPath, after, err := a.fetchWithSibling(ctx, repoName, path, afterRef)
	if err != nil {
		return nil, err
	}

	before, err := a.fetchBefore(ctx, repoName, resolvedPath, beforeRef)
	if err != nil {
		return nil, err
	}

	diff := models.FileRevisionDiff{
		FilePath:      resolvedPath,
		RequestedPath: path,
		BeforeContent: before,
		AfterContent:  after,
	}

	if before != after {
		unified, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
			A:        difflib.SplitLines(before),
			B:        difflib.SplitLines(after),
			FromFile: "a/" + resolvedPath,
			ToFile:   "b/" + resolvedPath,
			Context:  3,
		})
		if err != nil {
			return nil, utils.NewAppError("codechange.AnalyzeFile", utils.KindTransient, "diff generation failed", err)
		}
		diff.UnifiedDiff = unified

		changed := extractors.ParseUnifiedDiff(unified)
		diff.AddedLines = changed.Added
		diff.RemovedLines = changed.Removed
		diff.HunkRanges = changed.Hunks
	}

	analysis := &models.FileAnalysis{
		Diff:   diff,
		Issues: extractors.ScanDiffIssues(diff.UnifiedDiff),
	}

	a.logger.Info("file analyzed",
		"path", resolvedPath,
		"added", len(diff.AddedLines),
		"removed", len(diff.RemovedLines),
		"issues", len(analysis.Issues),
	)
	return analysis, nil
}

// AnalyzeFiles runs AnalyzeFile over a path list, collecting per-path
// failures instead of aborting the batch.
func (a *CodeChangeAnalyzer) AnalyzeFiles(ctx context.Context, repoName string, paths []string, beforeRef, afterRef string) ([]models.FileAnalysis, []models.StageFailure) {
	var analyses []models.FileAnalysis
	var failures []models.StageFailure

	for _, path := range paths {
		analysis, err := a.AnalyzeFile(ctx, repoName, path, beforeRef, afterRef)
		if err != nil {
			failures = append(failures, models.StageFailure{
				Stage:  "code_analysis",
				Reason: path + ": " + err.Error(),
			})
			continue
		}
		analyses = append(analyses, *analysis)
	}
	return analyses, failures
}

// fetchWithSibling fetches the file at the after revision, retrying the
// sibling extension when the mapped path guessed the wrong language.
func (a *CodeChangeAnalyzer) fetchWithSibling(ctx context.Context, repoName, path, ref string) (string, string, error) {
	content, err := a.fetcher.GetFileAt(ctx, repoName, path, ref)
	if err == nil {
		return path, content, nil
	}
	if !utils.IsKind(err, utils.KindNotFound) {
		return "", "", err
	}

	sibling := siblingPath(path)
	if sibling == "" {
		return "", "", err
	}

	a.logger.Info("path missing, trying sibling extension", "path", path, "sibling", sibling)
	content, sibErr := a.fetcher.GetFileAt(ctx, repoName, sibling, ref)
	if sibErr != nil {
		return "", "", err
	}
	return sibling, content, nil
}

// fetchBefore reads the pre-deployment revision. A file that did not exist
// before the deployment diffs against empty content.
func (a *CodeChangeAnalyzer) fetchBefore(ctx context.Context, repoName, path, ref string) (string, error) {
	if ref == "" {
		return "", nil
	}
	content, err := a.fetcher.GetFileAt(ctx, repoName, path, ref)
	if err != nil {
		if utils.IsKind(err, utils.KindNotFound) {
			return "", nil
		}
		return "", err
	}
	return content, nil
}

// siblingPath swaps the Kotlin and Java conventions of a source path.
func siblingPath(path string) string {
	switch {
	case strings.HasSuffix(path, ".kt"):
		sibling := strings.TrimSuffix(path, ".kt") + ".java"
		return strings.Replace(sibling, "src/main/kotlin/", "src/main/java/", 1)
	case strings.HasSuffix(path, ".java"):
		sibling := strings.TrimSuffix(path, ".java") + ".kt"
		return strings.Replace(sibling, "src/main/java/", "src/main/kotlin/", 1)
	}
	return ""
}
