package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/PublicisSapient/knowhow-processors-sub002/internal/config"
	"github.com/PublicisSapient/knowhow-processors-sub002/models"
)

const azureAPIVersion = "7.1"

// AzureStrategy fetches from Azure Repos via the REST API. Azure addresses
// repositories as organization/project/repository, so the parsed URL's
// sub-organization carries the project name.
type AzureStrategy struct {
	cfg     config.PlatformConfig
	limiter *RateLimiter
}

// NewAzure creates the Azure Repos fetch strategy.
func NewAzure(cfg config.PlatformConfig, limiter *RateLimiter) *AzureStrategy {
	return &AzureStrategy{cfg: cfg, limiter: limiter}
}

func (a *AzureStrategy) Name() models.ToolType { return models.ToolAzure }

// projectBase returns "https://host/org/project" for dev.azure.com, or
// "https://org.visualstudio.com/project" for the legacy domain.
func (a *AzureStrategy) projectBase(ref RepoRef) string {
	host := ref.URL.Host
	if host == "" {
		host = "dev.azure.com"
	}
	if strings.HasSuffix(host, "visualstudio.com") {
		return fmt.Sprintf("https://%s/%s", host, url.PathEscape(ref.URL.SubOrg))
	}
	return fmt.Sprintf("https://%s/%s/%s", host, url.PathEscape(ref.URL.Owner), url.PathEscape(ref.URL.SubOrg))
}

func (a *AzureStrategy) getJSON(ctx context.Context, client *retryablehttp.Client, cred models.Credential, op, urlStr string, dest interface{}) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return newPlatformError(models.ToolAzure, op, 0, err)
	}
	// Azure DevOps PATs go in the password slot of basic auth.
	req.SetBasicAuth("", cred.Secret())
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return newPlatformError(models.ToolAzure, op, 0, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return newPlatformError(models.ToolAzure, op, resp.StatusCode, err)
	}
	if resp.StatusCode >= 400 {
		return newPlatformError(models.ToolAzure, op, resp.StatusCode,
			fmt.Errorf("azure devops API error: %s", strings.TrimSpace(string(data))))
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return newPlatformError(models.ToolAzure, op, resp.StatusCode, fmt.Errorf("parsing response: %w", err))
	}
	return nil
}

type azList[T any] struct {
	Count int `json:"count"`
	Value []T `json:"value"`
}

type azRepository struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	RemoteURL     string `json:"remoteUrl"`
	WebURL        string `json:"webUrl"`
	DefaultBranch string `json:"defaultBranch"`
	Project       struct {
		Name       string    `json:"name"`
		LastUpdate time.Time `json:"lastUpdateTime"`
		Visibility string    `json:"visibility"`
	} `json:"project"`
}

type azGitIdentity struct {
	Name  string    `json:"name"`
	Email string    `json:"email"`
	Date  time.Time `json:"date"`
}

type azCommit struct {
	CommitID     string        `json:"commitId"`
	Author       azGitIdentity `json:"author"`
	Committer    azGitIdentity `json:"committer"`
	Comment      string        `json:"comment"`
	RemoteURL    string        `json:"remoteUrl"`
	ChangeCounts struct {
		Add    int `json:"Add"`
		Edit   int `json:"Edit"`
		Delete int `json:"Delete"`
	} `json:"changeCounts"`
	Parents []string `json:"parents"`
}

type azIdentityRef struct {
	DisplayName string `json:"displayName"`
	UniqueName  string `json:"uniqueName"`
}

type azPullRequest struct {
	PullRequestID int           `json:"pullRequestId"`
	Status        string        `json:"status"` // active | completed | abandoned
	Title         string        `json:"title"`
	Description   string        `json:"description"`
	CreatedBy     azIdentityRef `json:"createdBy"`
	CreationDate  time.Time     `json:"creationDate"`
	ClosedDate    time.Time     `json:"closedDate"`
	SourceRefName string        `json:"sourceRefName"`
	TargetRefName string        `json:"targetRefName"`
	Reviewers     []struct {
		azIdentityRef
		Vote int `json:"vote"`
	} `json:"reviewers"`
	Repository struct {
		WebURL string `json:"webUrl"`
	} `json:"repository"`
}

type azThread struct {
	Comments []struct {
		Author        azIdentityRef `json:"author"`
		PublishedDate time.Time     `json:"publishedDate"`
		Content       string        `json:"content"`
		CommentType   string        `json:"commentType"` // text | system
	} `json:"comments"`
}

func (a *AzureStrategy) FetchRepositories(ctx context.Context, ref RepoRef) ([]models.Repository, error) {
	client := newRESTClient(a.cfg, a.limiter, models.ToolAzure, ref.Credential)
	urlStr := fmt.Sprintf("%s/_apis/git/repositories?api-version=%s", a.projectBase(ref), azureAPIVersion)

	var list azList[azRepository]
	if err := a.getJSON(ctx, client, ref.Credential, "list repositories", urlStr, &list); err != nil {
		return nil, err
	}

	out := make([]models.Repository, 0, len(list.Value))
	for _, r := range list.Value {
		out = append(out, models.Repository{
			ToolConfigID:  ref.ToolConfigID,
			Platform:      models.ToolAzure,
			Owner:         ref.URL.Owner,
			Name:          r.Name,
			FullName:      ref.URL.Owner + "/" + r.Project.Name + "/" + r.Name,
			CloneURL:      r.RemoteURL,
			HTMLURL:       r.WebURL,
			DefaultBranch: strings.TrimPrefix(r.DefaultBranch, "refs/heads/"),
			Private:       r.Project.Visibility != "public",
			LastPushedAt:  r.Project.LastUpdate,
		})
	}
	return out, nil
}

func (a *AzureStrategy) FetchCommits(ctx context.Context, ref RepoRef, since, until time.Time, maxResults int) ([]models.Commit, error) {
	client := newRESTClient(a.cfg, a.limiter, models.ToolAzure, ref.Credential)
	base := fmt.Sprintf("%s/_apis/git/repositories/%s/commits", a.projectBase(ref), url.PathEscape(ref.URL.Repo))

	var out []models.Commit
	skip := 0
	for len(out) < maxResults {
		query := url.Values{}
		query.Set("searchCriteria.itemVersion.version", ref.Branch)
		query.Set("searchCriteria.fromDate", since.UTC().Format(time.RFC3339))
		query.Set("searchCriteria.toDate", until.UTC().Format(time.RFC3339))
		query.Set("searchCriteria.$top", strconv.Itoa(a.pageSize()))
		query.Set("searchCriteria.$skip", strconv.Itoa(skip))
		query.Set("api-version", azureAPIVersion)

		var page azList[azCommit]
		if err := a.getJSON(ctx, client, ref.Credential, "list commits", base+"?"+query.Encode(), &page); err != nil {
			if len(out) > 0 {
				slog.Warn("Azure commit listing truncated", "repo", ref.URL.Repo, "error", err)
				break
			}
			return nil, err
		}
		if len(page.Value) == 0 {
			break
		}

		for _, c := range page.Value {
			out = append(out, a.convertCommit(ref, c))
			if len(out) >= maxResults {
				break
			}
		}
		if len(page.Value) < a.pageSize() {
			break
		}
		skip += len(page.Value)
	}
	return out, nil
}

func (a *AzureStrategy) convertCommit(ref RepoRef, c azCommit) models.Commit {
	// Azure reports file-level change counts in the listing itself. Line
	// counts are not exposed by the commit API.
	return models.Commit{
		ToolConfigID:   ref.ToolConfigID,
		SHA:            c.CommitID,
		RepoName:       ref.URL.Repo,
		Branch:         ref.Branch,
		Message:        c.Comment,
		URL:            c.RemoteURL,
		AuthorName:     c.Author.Name,
		AuthorEmail:    c.Author.Email,
		CommitterName:  c.Committer.Name,
		CommitterEmail: c.Committer.Email,
		AuthoredAt:     c.Author.Date,
		CommittedAt:    c.Committer.Date,
		ParentSHAs:     strings.Join(c.Parents, ","),
		IsMerge:        len(c.Parents) > 1,
		ChangedFiles:   c.ChangeCounts.Add + c.ChangeCounts.Edit + c.ChangeCounts.Delete,
	}
}

func (a *AzureStrategy) FetchMergeRequests(ctx context.Context, ref RepoRef, since, until time.Time, maxResults int) ([]models.MergeRequest, error) {
	client := newRESTClient(a.cfg, a.limiter, models.ToolAzure, ref.Credential)
	base := fmt.Sprintf("%s/_apis/git/repositories/%s/pullrequests", a.projectBase(ref), url.PathEscape(ref.URL.Repo))

	var out []models.MergeRequest
	skip := 0
	for len(out) < maxResults {
		query := url.Values{}
		query.Set("searchCriteria.status", "all")
		query.Set("$top", strconv.Itoa(a.pageSize()))
		query.Set("$skip", strconv.Itoa(skip))
		query.Set("api-version", azureAPIVersion)

		var page azList[azPullRequest]
		if err := a.getJSON(ctx, client, ref.Credential, "list pull requests", base+"?"+query.Encode(), &page); err != nil {
			if len(out) > 0 {
				slog.Warn("Azure pull request listing truncated", "repo", ref.URL.Repo, "error", err)
				break
			}
			return nil, err
		}
		if len(page.Value) == 0 {
			break
		}

		for _, pr := range page.Value {
			// The API has no updated-since filter, so the window is applied
			// here against the latest known activity timestamp.
			activity := pr.CreationDate
			if pr.ClosedDate.After(activity) {
				activity = pr.ClosedDate
			}
			if activity.Before(since) || activity.After(until) {
				continue
			}
			mr := a.convertPullRequest(ref, pr)
			a.enrichPullRequest(ctx, client, ref, pr.PullRequestID, &mr)
			out = append(out, mr)
			if len(out) >= maxResults {
				break
			}
		}
		if len(page.Value) < a.pageSize() {
			break
		}
		skip += len(page.Value)
	}
	return out, nil
}

func (a *AzureStrategy) convertPullRequest(ref RepoRef, pr azPullRequest) models.MergeRequest {
	state := models.NormalizeMRState(pr.Status, pr.Status == "completed")
	author := pr.CreatedBy.UniqueName
	if author == "" {
		author = pr.CreatedBy.DisplayName
	}
	mr := models.MergeRequest{
		ToolConfigID: ref.ToolConfigID,
		ExternalID:   strconv.Itoa(pr.PullRequestID),
		RepoName:     ref.URL.Repo,
		Title:        pr.Title,
		Description:  pr.Description,
		State:        state,
		IsOpen:       state == models.MROpen,
		IsClosed:     state != models.MROpen,
		SourceBranch: strings.TrimPrefix(pr.SourceRefName, "refs/heads/"),
		TargetBranch: strings.TrimPrefix(pr.TargetRefName, "refs/heads/"),
		URL:          fmt.Sprintf("%s/pullrequest/%d", pr.Repository.WebURL, pr.PullRequestID),
		AuthorName:   author,
	}
	if !pr.CreationDate.IsZero() {
		t := pr.CreationDate
		mr.CreatedAt = &t
	}
	if !pr.ClosedDate.IsZero() {
		t := pr.ClosedDate
		mr.UpdatedAt = &t
		switch state {
		case models.MRMerged:
			mr.MergedAt = &t
		case models.MRClosed:
			mr.ClosedAt = &t
		}
	}

	var reviewers []string
	for _, r := range pr.Reviewers {
		name := r.UniqueName
		if name == "" {
			name = r.DisplayName
		}
		if name != "" && !strings.EqualFold(name, author) {
			reviewers = append(reviewers, name)
		}
	}
	sort.Strings(reviewers)
	mr.Reviewers = strings.Join(reviewers, ",")
	return mr
}

// enrichPullRequest derives pickup latency from comment threads. System
// entries (vote records, ref updates) are ignored.
func (a *AzureStrategy) enrichPullRequest(ctx context.Context, client *retryablehttp.Client, ref RepoRef, id int, mr *models.MergeRequest) {
	if mr.CreatedAt == nil {
		return
	}
	urlStr := fmt.Sprintf("%s/_apis/git/repositories/%s/pullRequests/%d/threads?api-version=%s",
		a.projectBase(ref), url.PathEscape(ref.URL.Repo), id, azureAPIVersion)

	var list azList[azThread]
	if err := a.getJSON(ctx, client, ref.Credential, "pull request threads", urlStr, &list); err != nil {
		slog.Warn("Azure pull request threads unavailable", "repo", ref.URL.Repo, "id", id, "error", err)
		return
	}

	var activities []reviewActivity
	for _, t := range list.Value {
		for _, c := range t.Comments {
			if c.CommentType == "system" {
				continue
			}
			actor := c.Author.UniqueName
			if actor == "" {
				actor = c.Author.DisplayName
			}
			activities = append(activities, reviewActivity{
				Actor: actor,
				At:    c.PublishedDate,
				Body:  c.Content,
			})
		}
	}
	mr.PickupSeconds = pickupSeconds(*mr.CreatedAt, mr.AuthorName, activities)
}

func (a *AzureStrategy) pageSize() int {
	if a.cfg.PageSize > 0 {
		return a.cfg.PageSize
	}
	return 100
}
