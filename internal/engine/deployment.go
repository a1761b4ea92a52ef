package engine

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/go-github/v55/github"

	"github.com/inquestlabs/inquest-engine/internal/models"
	"github.com/inquestlabs/inquest-engine/internal/utils"
)

// deployTitlePattern matches deploy-repo commit titles of the form
//
//	card-service-3f786850e387550fdab836ed7e6dc881de23001b___128
var deployTitlePattern = regexp.MustCompile(`^(.+)-([a-f0-9]{40})___(\d+)$`)

// bareHashPattern recovers a commit hash from malformed version tags.
var bareHashPattern = regexp.MustCompile(`[a-f0-9]{40}`)

// VCS is the slice of the source-hosting client the correlator needs.
type VCS interface {
	ListCommits(ctx context.Context, repoName string, since, until time.Time) ([]*github.RepositoryCommit, error)
	GetCommit(ctx context.Context, repoName, sha string) (*github.RepositoryCommit, error)
	PullRequestForCommit(ctx context.Context, repoName, sha string) (*github.PullRequest, error)
	ChangedFilesForCommit(ctx context.Context, repoName, sha string) ([]string, error)
}

// DeploymentCorrelator matches a version tag observed in logs against the
// deploy repository's commit history, then enriches the match with the
// application commit's parents, pull request, and changed files.
type DeploymentCorrelator struct {
	vcs        VCS
	deployRepo string
	lookback   time.Duration
	logger     *slog.Logger
}

// NewDeploymentCorrelator wires a correlator over the deploy repository.
func NewDeploymentCorrelator(vcs VCS, deployRepo string, lookback time.Duration, logger *slog.Logger) *DeploymentCorrelator {
	return &DeploymentCorrelator{
		vcs:        vcs,
		deployRepo: deployRepo,
		lookback:   lookback,
		logger:     utils.ComponentLogger(logger, "deployment"),
	}
}

// deployRecord is one parsed deploy-repo commit title.
type deployRecord struct {
	service     string
	commitHash  string
	buildNumber string
	deploySHA   string
	deployedAt  time.Time
}

// Correlate finds the deployment whose version tag matches one observed in
// the service's logs. A clean no-match returns a nil deployment with an
// explanatory note; only lookup failures return errors.
func (c *DeploymentCorrelator) Correlate(ctx context.Context, service, serviceRepo string, versionTags []string, reference time.Time) (*models.DeploymentInfo, string, error) {
	if len(versionTags) == 0 {
		return nil, "no version tags observed in log entries", nil
	}

	since := reference.Add(-c.lookback)
	commits, err := c.vcs.ListCommits(ctx, c.deployRepo, since, reference)
	if err != nil {
		return nil, "", err
	}

	records := parseDeployRecords(commits)
	c.logger.Info("deploy history loaded", "service", service, "commits", len(commits), "parsed", len(records))

	record, tag := matchDeployRecord(records, service, versionTags)
	if record == nil {
		return nil, "no deploy commit matched the observed version tags", nil
	}

	info := &models.DeploymentInfo{
		Service:         service,
		CommitHash:      record.commitHash,
		BuildNumber:     record.buildNumber,
		VersionTag:      tag,
		DeployCommitSHA: record.deploySHA,
		DeployedAt:      record.deployedAt,
	}

	c.enrich(ctx, serviceRepo, info)
	return info, "", nil
}

// enrich adds parent commit, pull request, and changed files. Enrichment
// failures are logged and leave the base match intact.
func (c *DeploymentCorrelator) enrich(ctx context.Context, serviceRepo string, info *models.DeploymentInfo) {
	commit, err := c.vcs.GetCommit(ctx, serviceRepo, info.CommitHash)
	if err != nil {
		c.logger.Warn("commit lookup failed during enrichment", "sha", info.CommitHash, "error", err)
	} else if len(commit.Parents) > 0 {
		info.ParentCommitHash = commit.Parents[0].GetSHA()
	}

	if pr, err := c.vcs.PullRequestForCommit(ctx, serviceRepo, info.CommitHash); err != nil {
		c.logger.Warn("pull request lookup failed during enrichment", "sha", info.CommitHash, "error", err)
	} else if pr != nil {
		info.PRNumber = pr.GetNumber()
	}

	if files, err := c.vcs.ChangedFilesForCommit(ctx, serviceRepo, info.CommitHash); err != nil {
		c.logger.Warn("changed files lookup failed during enrichment", "sha", info.CommitHash, "error", err)
	} else {
		info.ChangedFiles = files
	}
}

func parseDeployRecords(commits []*github.RepositoryCommit) []deployRecord {
	var records []deployRecord
	for _, commit := range commits {
		title := commitTitle(commit)
		m := deployTitlePattern.FindStringSubmatch(title)
		if m == nil {
			continue
		}
		records = append(records, deployRecord{
			service:     m[1],
			commitHash:  m[2],
			buildNumber: m[3],
			deploySHA:   commit.GetSHA(),
			deployedAt:  commit.GetCommit().GetAuthor().GetDate().Time,
		})
	}
	return records
}

// matchDeployRecord compares each record's {hash}___{build} against the
// observed tags by exact string equality, constrained to the service. When
// no tag matches exactly, a bare commit hash recovered from a malformed tag
// is accepted as a lenient fallback.
func matchDeployRecord(records []deployRecord, service string, versionTags []string) (*deployRecord, string) {
	for i := range records {
		record := &records[i]
		if record.service != service {
			continue
		}
		want := record.commitHash + "___" + record.buildNumber
		for _, tag := range versionTags {
			if tag == want {
				return record, tag
			}
		}
	}

	for _, tag := range versionTags {
		hash := bareHashPattern.FindString(strings.ToLower(tag))
		if hash == "" {
			continue
		}
		for i := range records {
			record := &records[i]
			if record.service == service && record.commitHash == hash {
				return record, tag
			}
		}
	}
	return nil, ""
}

func commitTitle(commit *github.RepositoryCommit) string {
	message := commit.GetCommit().GetMessage()
	if idx := strings.IndexByte(message, '\n'); idx >= 0 {
		message = message[:idx]
	}
	return strings.TrimSpace(message)
}
