package platform

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	gitlab "gitlab.com/gitlab-org/api/client-go"

	"github.com/PublicisSapient/knowhow-processors-sub002/internal/config"
	"github.com/PublicisSapient/knowhow-processors-sub002/models"
)

// GitLabStrategy fetches from GitLab (cloud and self-hosted) via the v4 API.
type GitLabStrategy struct {
	cfg     config.PlatformConfig
	limiter *RateLimiter

	baseURL string // overrides the API endpoint in tests
}

// NewGitLab creates the GitLab fetch strategy.
func NewGitLab(cfg config.PlatformConfig, limiter *RateLimiter) *GitLabStrategy {
	return &GitLabStrategy{cfg: cfg, limiter: limiter}
}

func (g *GitLabStrategy) Name() models.ToolType { return models.ToolGitLab }

func (g *GitLabStrategy) client(ref RepoRef) (*gitlab.Client, error) {
	opts := []gitlab.ClientOptionFunc{}
	if g.baseURL != "" {
		opts = append(opts, gitlab.WithBaseURL(g.baseURL))
	} else if host := ref.URL.Host; host != "" && host != "gitlab.com" {
		opts = append(opts, gitlab.WithBaseURL(fmt.Sprintf("https://%s/api/v4/", host)))
	}
	client, err := gitlab.NewClient(ref.Credential.Secret(), opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: creating GitLab client: %v", ErrConfig, err)
	}
	return client, nil
}

// projectPath is the URL-encoded namespace/project id for API calls.
func projectPath(ref RepoRef) string {
	return ref.URL.OwnerPath() + "/" + ref.URL.Repo
}

func (g *GitLabStrategy) FetchRepositories(ctx context.Context, ref RepoRef) ([]models.Repository, error) {
	client, err := g.client(ref)
	if err != nil {
		return nil, err
	}

	var out []models.Repository
	var page int64 = 1
	for {
		var projects []*gitlab.Project
		var resp *gitlab.Response
		err := withRetry(ctx, g.limiter, g.Name(), ref.Credential, g.cfg.MaxRetries, "list projects", func() error {
			var ferr error
			membership := true
			projects, resp, ferr = client.Projects.ListProjects(&gitlab.ListProjectsOptions{
				Membership:  &membership,
				ListOptions: gitlab.ListOptions{PerPage: int64(g.pageSize()), Page: page},
			}, gitlab.WithContext(ctx))
			return g.classify("list projects", resp, ferr)
		})
		if err != nil {
			if len(out) > 0 {
				slog.Warn("GitLab project listing truncated", "page", page, "error", err)
				break
			}
			return nil, err
		}

		for _, p := range projects {
			if p == nil {
				continue
			}
			owner, name := p.PathWithNamespace, p.Path
			if parts := strings.SplitN(p.PathWithNamespace, "/", 2); len(parts) == 2 {
				owner = parts[0]
			}
			var pushed time.Time
			if p.LastActivityAt != nil {
				pushed = *p.LastActivityAt
			}
			out = append(out, models.Repository{
				ToolConfigID:  ref.ToolConfigID,
				Platform:      models.ToolGitLab,
				Owner:         owner,
				Name:          name,
				FullName:      p.PathWithNamespace,
				CloneURL:      p.HTTPURLToRepo,
				HTMLURL:       p.WebURL,
				DefaultBranch: p.DefaultBranch,
				Private:       p.Visibility == gitlab.PrivateVisibility,
				LastPushedAt:  pushed,
			})
		}
		if resp == nil || resp.NextPage == 0 {
			break
		}
		page = resp.NextPage
	}
	return out, nil
}

func (g *GitLabStrategy) FetchCommits(ctx context.Context, ref RepoRef, since, until time.Time, maxResults int) ([]models.Commit, error) {
	client, err := g.client(ref)
	if err != nil {
		return nil, err
	}
	pid := projectPath(ref)

	withStats := true
	var out []models.Commit
	var page int64 = 1
	for len(out) < maxResults {
		var commits []*gitlab.Commit
		var resp *gitlab.Response
		err := withRetry(ctx, g.limiter, g.Name(), ref.Credential, g.cfg.MaxRetries, "list commits", func() error {
			var ferr error
			commits, resp, ferr = client.Commits.ListCommits(pid, &gitlab.ListCommitsOptions{
				RefName:     &ref.Branch,
				Since:       &since,
				Until:       &until,
				WithStats:   &withStats,
				ListOptions: gitlab.ListOptions{PerPage: int64(g.pageSize()), Page: page},
			}, gitlab.WithContext(ctx))
			return g.classify("list commits", resp, ferr)
		})
		if err != nil {
			if len(out) > 0 {
				slog.Warn("GitLab commit listing truncated", "project", pid, "page", page, "error", err)
				break
			}
			return nil, err
		}

		for _, c := range commits {
			if c == nil {
				continue
			}
			out = append(out, g.convertCommit(ref, c))
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

func (g *GitLabStrategy) convertCommit(ref RepoRef, c *gitlab.Commit) models.Commit {
	out := models.Commit{
		ToolConfigID:   ref.ToolConfigID,
		SHA:            c.ID,
		RepoName:       ref.URL.Repo,
		Branch:         ref.Branch,
		Message:        c.Message,
		URL:            c.WebURL,
		AuthorName:     c.AuthorName,
		AuthorEmail:    c.AuthorEmail,
		CommitterName:  c.CommitterName,
		CommitterEmail: c.CommitterEmail,
		ParentSHAs:     strings.Join(c.ParentIDs, ","),
		IsMerge:        len(c.ParentIDs) > 1,
	}
	if c.AuthoredDate != nil {
		out.AuthoredAt = *c.AuthoredDate
	}
	if c.CommittedDate != nil {
		out.CommittedAt = *c.CommittedDate
	}
	if c.Stats != nil {
		out.AddedLines = int(c.Stats.Additions)
		out.RemovedLines = int(c.Stats.Deletions)
	}
	return out
}

func (g *GitLabStrategy) FetchMergeRequests(ctx context.Context, ref RepoRef, since, until time.Time, maxResults int) ([]models.MergeRequest, error) {
	client, err := g.client(ref)
	if err != nil {
		return nil, err
	}
	pid := projectPath(ref)

	var out []models.MergeRequest
	var page int64 = 1
	for len(out) < maxResults {
		var mrs []*gitlab.BasicMergeRequest
		var resp *gitlab.Response
		err := withRetry(ctx, g.limiter, g.Name(), ref.Credential, g.cfg.MaxRetries, "list merge requests", func() error {
			var ferr error
			scope := "all"
			mrs, resp, ferr = client.MergeRequests.ListProjectMergeRequests(pid, &gitlab.ListProjectMergeRequestsOptions{
				UpdatedAfter:  &since,
				UpdatedBefore: &until,
				Scope:         &scope,
				ListOptions:   gitlab.ListOptions{PerPage: int64(g.pageSize()), Page: page},
			}, gitlab.WithContext(ctx))
			return g.classify("list merge requests", resp, ferr)
		})
		if err != nil {
			if len(out) > 0 {
				slog.Warn("GitLab merge request listing truncated", "project", pid, "page", page, "error", err)
				break
			}
			return nil, err
		}

		for _, m := range mrs {
			if m == nil {
				continue
			}
			mr := g.convertMergeRequest(ref, m)
			g.enrichMergeRequest(ctx, client, ref, pid, m.IID, &mr)
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

func (g *GitLabStrategy) convertMergeRequest(ref RepoRef, m *gitlab.BasicMergeRequest) models.MergeRequest {
	state := models.NormalizeMRState(m.State, m.State == "merged")
	mr := models.MergeRequest{
		ToolConfigID: ref.ToolConfigID,
		ExternalID:   strconv.FormatInt(int64(m.IID), 10),
		RepoName:     ref.URL.Repo,
		Title:        m.Title,
		Description:  m.Description,
		State:        state,
		IsOpen:       state == models.MROpen,
		IsClosed:     state != models.MROpen,
		SourceBranch: m.SourceBranch,
		TargetBranch: m.TargetBranch,
		URL:          m.WebURL,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
		MergedAt:     m.MergedAt,
		ClosedAt:     m.ClosedAt,
	}
	if m.Author != nil {
		mr.AuthorName = m.Author.Username
	}
	reviewers := make([]string, 0, len(m.Reviewers))
	for _, r := range m.Reviewers {
		if r != nil && r.Username != "" {
			reviewers = append(reviewers, r.Username)
		}
	}
	mr.Reviewers = strings.Join(reviewers, ",")
	return mr
}

// enrichMergeRequest derives pickup latency from the MR's discussion notes.
// GitLab has no first-class pickup field; system notes and the author's own
// comments are excluded.
func (g *GitLabStrategy) enrichMergeRequest(ctx context.Context, client *gitlab.Client, ref RepoRef, pid string, iid int64, mr *models.MergeRequest) {
	var full *gitlab.MergeRequest
	err := withRetry(ctx, g.limiter, g.Name(), ref.Credential, g.cfg.MaxRetries, "get merge request", func() error {
		var resp *gitlab.Response
		var ferr error
		full, resp, ferr = client.MergeRequests.GetMergeRequest(pid, iid, nil, gitlab.WithContext(ctx))
		return g.classify("get merge request", resp, ferr)
	})
	if err != nil {
		slog.Warn("GitLab merge request detail unavailable", "project", pid, "iid", iid, "error", err)
	} else if full != nil && full.ChangesCount != "" {
		mr.FilesChanged, _ = strconv.Atoi(strings.TrimSuffix(full.ChangesCount, "+"))
	}

	if mr.CreatedAt == nil {
		return
	}
	var notes []*gitlab.Note
	err = withRetry(ctx, g.limiter, g.Name(), ref.Credential, g.cfg.MaxRetries, "list merge request notes", func() error {
		var resp *gitlab.Response
		var ferr error
		sort, orderBy := "asc", "created_at"
		notes, resp, ferr = client.Notes.ListMergeRequestNotes(pid, iid, &gitlab.ListMergeRequestNotesOptions{
			Sort:        &sort,
			OrderBy:     &orderBy,
			ListOptions: gitlab.ListOptions{PerPage: int64(g.pageSize())},
		}, gitlab.WithContext(ctx))
		return g.classify("list merge request notes", resp, ferr)
	})
	if err != nil {
		slog.Warn("GitLab merge request notes unavailable", "project", pid, "iid", iid, "error", err)
		return
	}

	activities := make([]reviewActivity, 0, len(notes))
	for _, n := range notes {
		if n == nil || n.System {
			continue
		}
		activities = append(activities, reviewActivity{
			Actor: n.Author.Username,
			At:    derefTime(n.CreatedAt),
			Body:  n.Body,
		})
	}
	mr.PickupSeconds = pickupSeconds(*mr.CreatedAt, mr.AuthorName, activities)
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

// classify folds client-go errors into the shared taxonomy.
func (g *GitLabStrategy) classify(op string, resp *gitlab.Response, err error) error {
	if err == nil {
		return nil
	}
	status := 0
	if resp != nil && resp.Response != nil {
		status = resp.StatusCode
	}
	return newPlatformError(models.ToolGitLab, op, status, err)
}

func (g *GitLabStrategy) pageSize() int {
	if g.cfg.PageSize > 0 {
		return g.cfg.PageSize
	}
	return 100
}
