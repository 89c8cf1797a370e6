package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	gogithub "github.com/google/go-github/v68/github"
	"golang.org/x/oauth2"

	"github.com/PublicisSapient/knowhow-processors-sub002/internal/config"
	"github.com/PublicisSapient/knowhow-processors-sub002/models"
)

// GitHubStrategy fetches from GitHub and GitHub Enterprise via the REST API.
type GitHubStrategy struct {
	cfg     config.PlatformConfig
	limiter *RateLimiter
}

// NewGitHub creates the GitHub fetch strategy.
func NewGitHub(cfg config.PlatformConfig, limiter *RateLimiter) *GitHubStrategy {
	return &GitHubStrategy{cfg: cfg, limiter: limiter}
}

func (g *GitHubStrategy) Name() models.ToolType { return models.ToolGitHub }

// client builds an authenticated client for one call sequence. Clients are
// per-request-credential, never cached on the strategy.
func (g *GitHubStrategy) client(ctx context.Context, ref RepoRef) (*gogithub.Client, error) {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: ref.Credential.Secret()})
	tc := oauth2.NewClient(ctx, ts)
	tc.Timeout = time.Duration(g.cfg.TimeoutSeconds) * time.Second
	client := gogithub.NewClient(tc)

	if host := ref.URL.Host; host != "" && host != "github.com" {
		base := fmt.Sprintf("https://%s/api/v3/", host)
		upload := fmt.Sprintf("https://%s/api/uploads/", host)
		var err error
		client, err = client.WithEnterpriseURLs(base, upload)
		if err != nil {
			return nil, fmt.Errorf("%w: configuring GitHub enterprise URLs: %v", ErrConfig, err)
		}
	}
	return client, nil
}

func (g *GitHubStrategy) FetchRepositories(ctx context.Context, ref RepoRef) ([]models.Repository, error) {
	client, err := g.client(ctx, ref)
	if err != nil {
		return nil, err
	}

	var out []models.Repository
	page := 1
	for {
		var repos []*gogithub.Repository
		var resp *gogithub.Response
		err := withRetry(ctx, g.limiter, g.Name(), ref.Credential, g.cfg.MaxRetries, "list repositories", func() error {
			var ferr error
			repos, resp, ferr = client.Repositories.ListByAuthenticatedUser(ctx, &gogithub.RepositoryListByAuthenticatedUserOptions{
				ListOptions: gogithub.ListOptions{PerPage: g.pageSize(), Page: page},
			})
			return g.classify("list repositories", resp, ferr)
		})
		if err != nil {
			if len(out) > 0 {
				slog.Warn("GitHub repository listing truncated", "page", page, "error", err)
				break
			}
			return nil, err
		}

		for _, r := range repos {
			if r == nil {
				continue
			}
			out = append(out, models.Repository{
				ToolConfigID:  ref.ToolConfigID,
				Platform:      models.ToolGitHub,
				Owner:         r.GetOwner().GetLogin(),
				Name:          r.GetName(),
				FullName:      r.GetFullName(),
				CloneURL:      r.GetCloneURL(),
				HTMLURL:       r.GetHTMLURL(),
				DefaultBranch: r.GetDefaultBranch(),
				Private:       r.GetPrivate(),
				LastPushedAt:  r.GetPushedAt().Time,
			})
		}
		if resp == nil || resp.NextPage == 0 {
			break
		}
		page = resp.NextPage
	}
	return out, nil
}

func (g *GitHubStrategy) FetchCommits(ctx context.Context, ref RepoRef, since, until time.Time, maxResults int) ([]models.Commit, error) {
	client, err := g.client(ctx, ref)
	if err != nil {
		return nil, err
	}
	owner, repo := ref.URL.Owner, ref.URL.Repo

	var out []models.Commit
	page := 1
	for len(out) < maxResults {
		var commits []*gogithub.RepositoryCommit
		var resp *gogithub.Response
		err := withRetry(ctx, g.limiter, g.Name(), ref.Credential, g.cfg.MaxRetries, "list commits", func() error {
			var ferr error
			commits, resp, ferr = client.Repositories.ListCommits(ctx, owner, repo, &gogithub.CommitsListOptions{
				SHA:         ref.Branch,
				Since:       since,
				Until:       until,
				ListOptions: gogithub.ListOptions{PerPage: g.pageSize(), Page: page},
			})
			return g.classify("list commits", resp, ferr)
		})
		if err != nil {
			if len(out) > 0 {
				slog.Warn("GitHub commit listing truncated", "repo", owner+"/"+repo, "page", page, "error", err)
				break
			}
			return nil, err
		}

		for _, rc := range commits {
			if rc == nil || rc.Commit == nil {
				continue
			}
			c := g.convertCommit(ref, rc)
			g.enrichCommitStats(ctx, client, ref, owner, repo, &c)
			out = append(out, c)
			if len(out) >= maxResults {
				break
			}
		}
		if resp == nil || resp.NextPage == 0 {
			break
		}
		page = resp.NextPage
	}
	return out, nil
}

func (g *GitHubStrategy) convertCommit(ref RepoRef, rc *gogithub.RepositoryCommit) models.Commit {
	parents := make([]string, 0, len(rc.Parents))
	for _, p := range rc.Parents {
		parents = append(parents, p.GetSHA())
	}
	c := models.Commit{
		ToolConfigID:   ref.ToolConfigID,
		SHA:            rc.GetSHA(),
		RepoName:       ref.URL.Repo,
		Branch:         ref.Branch,
		Message:        rc.Commit.GetMessage(),
		URL:            rc.GetHTMLURL(),
		AuthorName:     rc.Commit.GetAuthor().GetName(),
		AuthorEmail:    rc.Commit.GetAuthor().GetEmail(),
		CommitterName:  rc.Commit.GetCommitter().GetName(),
		CommitterEmail: rc.Commit.GetCommitter().GetEmail(),
		AuthoredAt:     rc.Commit.GetAuthor().GetDate().Time,
		CommittedAt:    rc.Commit.GetCommitter().GetDate().Time,
		ParentSHAs:     strings.Join(parents, ","),
		IsMerge:        len(parents) > 1,
	}
	// The platform login differs from the git identity string; keep it in
	// the platform bag so user resolution can prefer it.
	bag := map[string]string{}
	if login := rc.GetAuthor().GetLogin(); login != "" {
		bag["author_login"] = login
	}
	if login := rc.GetCommitter().GetLogin(); login != "" {
		bag["committer_login"] = login
	}
	if len(bag) > 0 {
		if data, err := json.Marshal(bag); err == nil {
			c.PlatformData = string(data)
		}
	}
	return c
}

// enrichCommitStats fetches per-commit diff stats. Failure is local: the
// commit keeps zero stats and siblings continue.
func (g *GitHubStrategy) enrichCommitStats(ctx context.Context, client *gogithub.Client, ref RepoRef, owner, repo string, c *models.Commit) {
	var full *gogithub.RepositoryCommit
	err := withRetry(ctx, g.limiter, g.Name(), ref.Credential, g.cfg.MaxRetries, "get commit", func() error {
		var resp *gogithub.Response
		var ferr error
		full, resp, ferr = client.Repositories.GetCommit(ctx, owner, repo, c.SHA, nil)
		return g.classify("get commit", resp, ferr)
	})
	if err != nil {
		slog.Warn("GitHub commit stats unavailable", "repo", owner+"/"+repo, "sha", c.SHA, "error", err)
		return
	}
	if full.Stats != nil {
		c.AddedLines = full.Stats.GetAdditions()
		c.RemovedLines = full.Stats.GetDeletions()
	}
	c.ChangedFiles = len(full.Files)
	if len(full.Files) > 0 {
		changes := make([]models.FileChange, 0, len(full.Files))
		for _, f := range full.Files {
			changes = append(changes, models.FileChange{
				Path:    f.GetFilename(),
				Added:   f.GetAdditions(),
				Removed: f.GetDeletions(),
				Status:  f.GetStatus(),
			})
		}
		if data, err := json.Marshal(changes); err == nil {
			c.FileChanges = string(data)
		}
	}
}

func (g *GitHubStrategy) FetchMergeRequests(ctx context.Context, ref RepoRef, since, until time.Time, maxResults int) ([]models.MergeRequest, error) {
	client, err := g.client(ctx, ref)
	if err != nil {
		return nil, err
	}
	owner, repo := ref.URL.Owner, ref.URL.Repo

	var out []models.MergeRequest
	page := 1
	done := false
	for !done && len(out) < maxResults {
		var prs []*gogithub.PullRequest
		var resp *gogithub.Response
		err := withRetry(ctx, g.limiter, g.Name(), ref.Credential, g.cfg.MaxRetries, "list pull requests", func() error {
			var ferr error
			prs, resp, ferr = client.PullRequests.List(ctx, owner, repo, &gogithub.PullRequestListOptions{
				State:       "all",
				Sort:        "updated",
				Direction:   "desc",
				ListOptions: gogithub.ListOptions{PerPage: g.pageSize(), Page: page},
			})
			return g.classify("list pull requests", resp, ferr)
		})
		if err != nil {
			if len(out) > 0 {
				slog.Warn("GitHub pull request listing truncated", "repo", owner+"/"+repo, "page", page, "error", err)
				break
			}
			return nil, err
		}
		if len(prs) == 0 {
			break
		}

		for _, pr := range prs {
			if pr == nil {
				continue
			}
			// Sorted by updated desc: once we cross the watermark, stop.
			if pr.GetUpdatedAt().Time.Before(since) {
				done = true
				break
			}
			if pr.GetUpdatedAt().Time.After(until) {
				continue
			}
			mr := g.convertPullRequest(ref, pr)
			g.enrichPullRequest(ctx, client, ref, owner, repo, pr.GetNumber(), &mr)
			out = append(out, mr)
			if len(out) >= maxResults {
				break
			}
		}
		if resp == nil || resp.NextPage == 0 {
			break
		}
		page = resp.NextPage
	}
	return out, nil
}

func (g *GitHubStrategy) convertPullRequest(ref RepoRef, pr *gogithub.PullRequest) models.MergeRequest {
	state := models.NormalizeMRState(pr.GetState(), !pr.GetMergedAt().Time.IsZero())
	mr := models.MergeRequest{
		ToolConfigID: ref.ToolConfigID,
		ExternalID:   strconv.Itoa(pr.GetNumber()),
		RepoName:     ref.URL.Repo,
		Title:        pr.GetTitle(),
		Description:  pr.GetBody(),
		State:        state,
		IsOpen:       state == models.MROpen,
		IsClosed:     state != models.MROpen,
		SourceBranch: pr.GetHead().GetRef(),
		TargetBranch: pr.GetBase().GetRef(),
		URL:          pr.GetHTMLURL(),
		AuthorName:   pr.GetUser().GetLogin(),
	}
	if t := pr.GetCreatedAt().Time; !t.IsZero() {
		mr.CreatedAt = &t
	}
	if t := pr.GetUpdatedAt().Time; !t.IsZero() {
		mr.UpdatedAt = &t
	}
	if t := pr.GetMergedAt().Time; !t.IsZero() {
		mr.MergedAt = &t
	}
	if t := pr.GetClosedAt().Time; !t.IsZero() {
		mr.ClosedAt = &t
	}
	reviewers := make([]string, 0, len(pr.RequestedReviewers))
	for _, u := range pr.RequestedReviewers {
		if login := u.GetLogin(); login != "" {
			reviewers = append(reviewers, login)
		}
	}
	mr.Reviewers = strings.Join(reviewers, ",")
	return mr
}

// enrichPullRequest fills diff totals and pickup latency from secondary
// calls. Either failing leaves the defaults in place.
func (g *GitHubStrategy) enrichPullRequest(ctx context.Context, client *gogithub.Client, ref RepoRef, owner, repo string, number int, mr *models.MergeRequest) {
	var full *gogithub.PullRequest
	err := withRetry(ctx, g.limiter, g.Name(), ref.Credential, g.cfg.MaxRetries, "get pull request", func() error {
		var resp *gogithub.Response
		var ferr error
		full, resp, ferr = client.PullRequests.Get(ctx, owner, repo, number)
		return g.classify("get pull request", resp, ferr)
	})
	if err != nil {
		slog.Warn("GitHub pull request detail unavailable", "repo", owner+"/"+repo, "number", number, "error", err)
	} else {
		mr.LinesChanged = full.GetAdditions() + full.GetDeletions()
		mr.FilesChanged = full.GetChangedFiles()
		mr.CommitCount = full.GetCommits()
	}

	if mr.CreatedAt == nil {
		return
	}
	var reviews []*gogithub.PullRequestReview
	err = withRetry(ctx, g.limiter, g.Name(), ref.Credential, g.cfg.MaxRetries, "list reviews", func() error {
		var resp *gogithub.Response
		var ferr error
		reviews, resp, ferr = client.PullRequests.ListReviews(ctx, owner, repo, number, &gogithub.ListOptions{PerPage: g.pageSize()})
		return g.classify("list reviews", resp, ferr)
	})
	if err != nil {
		slog.Warn("GitHub review list unavailable", "repo", owner+"/"+repo, "number", number, "error", err)
		return
	}

	activities := make([]reviewActivity, 0, len(reviews))
	reviewerSet := map[string]bool{}
	for _, rv := range reviews {
		actor := rv.GetUser().GetLogin()
		activities = append(activities, reviewActivity{
			Actor: actor,
			At:    rv.GetSubmittedAt().Time,
			Body:  rv.GetBody(),
		})
		if actor != "" && !strings.EqualFold(actor, mr.AuthorName) {
			reviewerSet[actor] = true
		}
	}
	mr.PickupSeconds = pickupSeconds(*mr.CreatedAt, mr.AuthorName, activities)

	if len(reviewerSet) > 0 {
		merged := mr.ReviewerList()
		for _, r := range merged {
			reviewerSet[r] = true
		}
		all := make([]string, 0, len(reviewerSet))
		for r := range reviewerSet {
			all = append(all, r)
		}
		sort.Strings(all)
		mr.Reviewers = strings.Join(all, ",")
	}
}

// classify folds go-github errors into the shared taxonomy.
func (g *GitHubStrategy) classify(op string, resp *gogithub.Response, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(*gogithub.RateLimitError); ok {
		return newPlatformError(models.ToolGitHub, op, http.StatusTooManyRequests, err)
	}
	if _, ok := err.(*gogithub.AbuseRateLimitError); ok {
		return newPlatformError(models.ToolGitHub, op, http.StatusTooManyRequests, err)
	}
	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	return newPlatformError(models.ToolGitHub, op, status, err)
}

func (g *GitHubStrategy) pageSize() int {
	if g.cfg.PageSize > 0 {
		return g.cfg.PageSize
	}
	return 100
}
