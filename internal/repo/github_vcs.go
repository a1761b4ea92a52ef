package repo

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/go-github/v55/github"
	"golang.org/x/oauth2"

	"github.com/inquestlabs/inquest-engine/internal/config"
	"github.com/inquestlabs/inquest-engine/internal/utils"
)

// VCSClient is the read path against the source-hosting API: repository
// existence, commit history, file content at a revision, and pull-request
// metadata. All lookups are scoped to the configured organisation.
type VCSClient struct {
	client     *github.Client
	org        string
	maxRetries int
	logger     *slog.Logger
}

// NewVCSClient builds an authenticated client from the VCS configuration.
func NewVCSClient(cfg config.VCSConfig, logger *slog.Logger) (*VCSClient, error) {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token})
	tc := oauth2.NewClient(context.Background(), ts)
	if cfg.Timeout > 0 {
		tc.Timeout = cfg.Timeout
	}

	client := github.NewClient(tc)
	if cfg.BaseURL != "" {
		var err error
		client, err = client.WithEnterpriseURLs(cfg.BaseURL, cfg.BaseURL)
		if err != nil {
			return nil, utils.NewAppError("vcs.NewVCSClient", utils.KindSchemaInvalid, "invalid VCS base URL", err)
		}
	}

	return &VCSClient{
		client:     client,
		org:        cfg.Org,
		maxRetries: cfg.MaxRetries,
		logger:     utils.ComponentLogger(logger, "vcs"),
	}, nil
}

// RepositoryExists reports whether org/name resolves. A 404 is a definitive
// no, not an error.
func (c *VCSClient) RepositoryExists(ctx context.Context, name string) (bool, error) {
	const op = "vcs.RepositoryExists"

	err := c.withRetry(ctx, op, func() error {
		_, _, err := c.client.Repositories.Get(ctx, c.org, name)
		return err
	})
	if err == nil {
		return true, nil
	}
	if utils.IsKind(err, utils.KindNotFound) {
		return false, nil
	}
	return false, err
}

// ListCommits returns commits on the repository's default branch between
// since and until, newest first.
func (c *VCSClient) ListCommits(ctx context.Context, repoName string, since, until time.Time) ([]*github.RepositoryCommit, error) {
	const op = "vcs.ListCommits"

	var commits []*github.RepositoryCommit
	err := c.withRetry(ctx, op, func() error {
		opts := &github.CommitsListOptions{
			Since:       since,
			Until:       until,
			ListOptions: github.ListOptions{PerPage: 100},
		}
		commits = commits[:0]
		for {
			page, resp, err := c.client.Repositories.ListCommits(ctx, c.org, repoName, opts)
			if err != nil {
				return err
			}
			commits = append(commits, page...)
			if resp.NextPage == 0 {
				break
			}
			opts.Page = resp.NextPage
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return commits, nil
}

// GetCommit fetches one commit with its parent list.
func (c *VCSClient) GetCommit(ctx context.Context, repoName, sha string) (*github.RepositoryCommit, error) {
	const op = "vcs.GetCommit"

	var commit *github.RepositoryCommit
	err := c.withRetry(ctx, op, func() error {
		var err error
		commit, _, err = c.client.Repositories.GetCommit(ctx, c.org, repoName, sha, nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return commit, nil
}

// GetFileAt returns the decoded content of path at the given revision.
func (c *VCSClient) GetFileAt(ctx context.Context, repoName, path, ref string) (string, error) {
	const op = "vcs.GetFileAt"

	var content string
	err := c.withRetry(ctx, op, func() error {
		file, _, _, err := c.client.Repositories.GetContents(ctx, c.org, repoName, path,
			&github.RepositoryContentGetOptions{Ref: ref})
		if err != nil {
			return err
		}
		if file == nil {
			return utils.NewAppError(op, utils.KindNotFound, "path is a directory, not a file", nil)
		}
		content, err = file.GetContent()
		return err
	})
	if err != nil {
		return "", err
	}
	return content, nil
}

// PullRequestForCommit returns the first pull request associated with the
// commit, or nil when none exists.
func (c *VCSClient) PullRequestForCommit(ctx context.Context, repoName, sha string) (*github.PullRequest, error) {
	const op = "vcs.PullRequestForCommit"

	var prs []*github.PullRequest
	err := c.withRetry(ctx, op, func() error {
		var err error
		prs, _, err = c.client.PullRequests.ListPullRequestsWithCommit(ctx, c.org, repoName, sha, nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(prs) == 0 {
		return nil, nil
	}
	return prs[0], nil
}

// ChangedFilesForCommit lists the paths touched by one commit.
func (c *VCSClient) ChangedFilesForCommit(ctx context.Context, repoName, sha string) ([]string, error) {
	commit, err := c.GetCommit(ctx, repoName, sha)
	if err != nil {
		return nil, err
	}
	files := make([]string, 0, len(commit.Files))
	for _, f := range commit.Files {
		files = append(files, f.GetFilename())
	}
	return files, nil
}

// withRetry classifies API errors and retries transient ones up to the
// configured budget. Not-found responses never retry.
func (c *VCSClient) withRetry(ctx context.Context, op string, fn func() error) error {
	attempts := 0
	for {
		err := fn()
		if err == nil {
			return nil
		}

		classified := classifyVCSError(op, err)
		if utils.IsKind(classified, utils.KindNotFound) || attempts >= c.maxRetries {
			return classified
		}

		attempts++
		c.logger.Warn("request failed, retrying", "op", op, "attempt", attempts, "error", err)

		select {
		case <-ctx.Done():
			return utils.NewAppError(op, utils.KindTransient, "cancelled during retry", ctx.Err())
		default:
		}
	}
}

func classifyVCSError(op string, err error) error {
	var appErr *utils.AppError
	if errors.As(err, &appErr) {
		return err
	}

	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		switch ghErr.Response.StatusCode {
		case http.StatusNotFound:
			return utils.NewAppError(op, utils.KindNotFound, "resource not found", err)
		case http.StatusForbidden, http.StatusTooManyRequests:
			return utils.NewAppError(op, utils.KindRateLimited, "API rate limited", err)
		}
	}

	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		return utils.NewAppError(op, utils.KindRateLimited, "API rate limited", err)
	}

	return utils.NewAppError(op, utils.KindTransient, "API request failed", err)
}
