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

// BitbucketStrategy fetches from Bitbucket Cloud via the 2.0 REST API.
// Bitbucket's commit listing has no "since" parameter, so paging stops when
// the oldest returned commit predates the watermark.
type BitbucketStrategy struct {
	cfg     config.PlatformConfig
	limiter *RateLimiter

	// baseURL overrides the derived API root when set (tests).
	baseURL string
}

// NewBitbucket creates the Bitbucket fetch strategy.
func NewBitbucket(cfg config.PlatformConfig, limiter *RateLimiter) *BitbucketStrategy {
	return &BitbucketStrategy{cfg: cfg, limiter: limiter}
}

func (b *BitbucketStrategy) Name() models.ToolType { return models.ToolBitbucket }

func (b *BitbucketStrategy) apiBase(ref RepoRef) string {
	if b.baseURL != "" {
		return b.baseURL
	}
	host := ref.URL.Host
	if host == "" || host == "bitbucket.org" {
		return "https://api.bitbucket.org/2.0"
	}
	// Self-hosted (Bitbucket Server exposes a different API, but the data
	// center REST root lives under /rest/api; cloud-style hosts proxy 2.0).
	return fmt.Sprintf("https://%s/2.0", host)
}

// httpClient builds a retrying client whose every attempt first waits on the
// shared rate limiter for this credential.
func (b *BitbucketStrategy) httpClient(cred models.Credential) *retryablehttp.Client {
	return newRESTClient(b.cfg, b.limiter, models.ToolBitbucket, cred)
}

func (b *BitbucketStrategy) getJSON(ctx context.Context, client *retryablehttp.Client, cred models.Credential, op, urlStr string, dest interface{}) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return newPlatformError(models.ToolBitbucket, op, 0, err)
	}
	if cred.Username != "" {
		req.SetBasicAuth(cred.Username, cred.Secret())
	} else {
		req.Header.Set("Authorization", "Bearer "+cred.Secret())
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return newPlatformError(models.ToolBitbucket, op, 0, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return newPlatformError(models.ToolBitbucket, op, resp.StatusCode, err)
	}
	if resp.StatusCode >= 400 {
		return newPlatformError(models.ToolBitbucket, op, resp.StatusCode,
			fmt.Errorf("bitbucket API error: %s", strings.TrimSpace(string(data))))
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return newPlatformError(models.ToolBitbucket, op, resp.StatusCode, fmt.Errorf("parsing response: %w", err))
	}
	return nil
}

type bbPage[T any] struct {
	Values []T    `json:"values"`
	Next   string `json:"next"`
}

type bbRepository struct {
	FullName   string    `json:"full_name"`
	Name       string    `json:"name"`
	Slug       string    `json:"slug"`
	IsPriv     bool      `json:"is_private"`
	UpdatedOn  time.Time `json:"updated_on"`
	MainBranch struct {
		Name string `json:"name"`
	} `json:"mainbranch"`
	Links struct {
		HTML struct {
			Href string `json:"href"`
		} `json:"html"`
		Clone []struct {
			Name string `json:"name"`
			Href string `json:"href"`
		} `json:"clone"`
	} `json:"links"`
}

type bbCommit struct {
	Hash    string    `json:"hash"`
	Date    time.Time `json:"date"`
	Message string    `json:"message"`
	Author  struct {
		Raw  string `json:"raw"` // "Name <email>"
		User struct {
			DisplayName string `json:"display_name"`
			Nickname    string `json:"nickname"`
		} `json:"user"`
	} `json:"author"`
	Parents []struct {
		Hash string `json:"hash"`
	} `json:"parents"`
	Links struct {
		HTML struct {
			Href string `json:"href"`
		} `json:"html"`
	} `json:"links"`
}

type bbDiffStat struct {
	LinesAdded   int    `json:"lines_added"`
	LinesRemoved int    `json:"lines_removed"`
	Status       string `json:"status"`
	New          struct {
		Path string `json:"path"`
	} `json:"new"`
	Old struct {
		Path string `json:"path"`
	} `json:"old"`
}

type bbPullRequest struct {
	ID          int       `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	State       string    `json:"state"` // OPEN | MERGED | DECLINED | SUPERSEDED
	CreatedOn   time.Time `json:"created_on"`
	UpdatedOn   time.Time `json:"updated_on"`
	Author      struct {
		DisplayName string `json:"display_name"`
		Nickname    string `json:"nickname"`
	} `json:"author"`
	Source struct {
		Branch struct {
			Name string `json:"name"`
		} `json:"branch"`
	} `json:"source"`
	Destination struct {
		Branch struct {
			Name string `json:"name"`
		} `json:"branch"`
	} `json:"destination"`
	Links struct {
		HTML struct {
			Href string `json:"href"`
		} `json:"html"`
	} `json:"links"`
}

type bbActivity struct {
	Comment *struct {
		User struct {
			Nickname    string `json:"nickname"`
			DisplayName string `json:"display_name"`
		} `json:"user"`
		CreatedOn time.Time `json:"created_on"`
		Content   struct {
			Raw string `json:"raw"`
		} `json:"content"`
	} `json:"comment"`
	Approval *struct {
		User struct {
			Nickname    string `json:"nickname"`
			DisplayName string `json:"display_name"`
		} `json:"user"`
		Date time.Time `json:"date"`
	} `json:"approval"`
}

func (b *BitbucketStrategy) FetchRepositories(ctx context.Context, ref RepoRef) ([]models.Repository, error) {
	client := b.httpClient(ref.Credential)
	next := fmt.Sprintf("%s/repositories/%s?pagelen=%d&role=member",
		b.apiBase(ref), url.PathEscape(ref.URL.Owner), b.pageSize())

	var out []models.Repository
	for next != "" {
		var page bbPage[bbRepository]
		if err := b.getJSON(ctx, client, ref.Credential, "list repositories", next, &page); err != nil {
			if len(out) > 0 {
				slog.Warn("Bitbucket repository listing truncated", "error", err)
				break
			}
			return nil, err
		}
		for _, r := range page.Values {
			cloneURL := ""
			for _, c := range r.Links.Clone {
				if c.Name == "https" {
					cloneURL = c.Href
					break
				}
			}
			out = append(out, models.Repository{
				ToolConfigID:  ref.ToolConfigID,
				Platform:      models.ToolBitbucket,
				Owner:         ref.URL.Owner,
				Name:          r.Slug,
				FullName:      r.FullName,
				CloneURL:      cloneURL,
				HTMLURL:       r.Links.HTML.Href,
				DefaultBranch: r.MainBranch.Name,
				Private:       r.IsPriv,
				LastPushedAt:  r.UpdatedOn,
			})
		}
		next = page.Next
	}
	return out, nil
}

func (b *BitbucketStrategy) FetchCommits(ctx context.Context, ref RepoRef, since, until time.Time, maxResults int) ([]models.Commit, error) {
	client := b.httpClient(ref.Credential)
	repoPath := url.PathEscape(ref.URL.Owner) + "/" + url.PathEscape(ref.URL.Repo)
	next := fmt.Sprintf("%s/repositories/%s/commits/%s?pagelen=%d",
		b.apiBase(ref), repoPath, url.PathEscape(ref.Branch), b.pageSize())

	var out []models.Commit
	for next != "" && len(out) < maxResults {
		var page bbPage[bbCommit]
		if err := b.getJSON(ctx, client, ref.Credential, "list commits", next, &page); err != nil {
			if len(out) > 0 {
				slog.Warn("Bitbucket commit listing truncated", "repo", repoPath, "error", err)
				break
			}
			return nil, err
		}

		reachedWatermark := false
		for _, c := range page.Values {
			// Commits arrive newest first; the first one past the watermark
			// ends the walk.
			if c.Date.Before(since) {
				reachedWatermark = true
				break
			}
			if c.Date.After(until) {
				continue
			}
			commit := b.convertCommit(ref, c)
			b.enrichCommitStats(ctx, client, ref, repoPath, &commit)
			out = append(out, commit)
			if len(out) >= maxResults {
				break
			}
		}
		if reachedWatermark {
			break
		}
		next = page.Next
	}
	return out, nil
}

func (b *BitbucketStrategy) convertCommit(ref RepoRef, c bbCommit) models.Commit {
	name, email := splitRawIdentity(c.Author.Raw)
	if c.Author.User.DisplayName != "" {
		name = c.Author.User.DisplayName
	}
	parents := make([]string, 0, len(c.Parents))
	for _, p := range c.Parents {
		parents = append(parents, p.Hash)
	}
	out := models.Commit{
		ToolConfigID:   ref.ToolConfigID,
		SHA:            c.Hash,
		RepoName:       ref.URL.Repo,
		Branch:         ref.Branch,
		Message:        c.Message,
		URL:            c.Links.HTML.Href,
		AuthorName:     name,
		AuthorEmail:    email,
		CommitterName:  name,
		CommitterEmail: email,
		AuthoredAt:     c.Date,
		CommittedAt:    c.Date,
		ParentSHAs:     strings.Join(parents, ","),
		IsMerge:        len(c.Parents) > 1,
	}
	if nick := c.Author.User.Nickname; nick != "" {
		if data, err := json.Marshal(map[string]string{"author_login": nick}); err == nil {
			out.PlatformData = string(data)
		}
	}
	return out
}

// enrichCommitStats sums the commit's diffstat. A failure leaves zero stats
// for that one commit.
func (b *BitbucketStrategy) enrichCommitStats(ctx context.Context, client *retryablehttp.Client, ref RepoRef, repoPath string, c *models.Commit) {
	next := fmt.Sprintf("%s/repositories/%s/diffstat/%s?pagelen=%d", b.apiBase(ref), repoPath, c.SHA, b.pageSize())
	var changes []models.FileChange
	for next != "" {
		var page bbPage[bbDiffStat]
		if err := b.getJSON(ctx, client, ref.Credential, "diffstat", next, &page); err != nil {
			slog.Warn("Bitbucket diffstat unavailable", "repo", repoPath, "sha", c.SHA, "error", err)
			return
		}
		for _, d := range page.Values {
			c.AddedLines += d.LinesAdded
			c.RemovedLines += d.LinesRemoved
			path := d.New.Path
			if path == "" {
				path = d.Old.Path
			}
			changes = append(changes, models.FileChange{
				Path:    path,
				Added:   d.LinesAdded,
				Removed: d.LinesRemoved,
				Status:  d.Status,
			})
		}
		next = page.Next
	}
	c.ChangedFiles = len(changes)
	if data, err := json.Marshal(changes); err == nil && len(changes) > 0 {
		c.FileChanges = string(data)
	}
}

func (b *BitbucketStrategy) FetchMergeRequests(ctx context.Context, ref RepoRef, since, until time.Time, maxResults int) ([]models.MergeRequest, error) {
	client := b.httpClient(ref.Credential)
	repoPath := url.PathEscape(ref.URL.Owner) + "/" + url.PathEscape(ref.URL.Repo)

	query := url.Values{}
	query.Set("pagelen", strconv.Itoa(b.pageSize()))
	query.Set("sort", "-updated_on")
	query.Set("q", fmt.Sprintf(`updated_on >= %s`, since.UTC().Format(time.RFC3339)))
	query.Add("state", "OPEN")
	query.Add("state", "MERGED")
	query.Add("state", "DECLINED")
	query.Add("state", "SUPERSEDED")
	next := fmt.Sprintf("%s/repositories/%s/pullrequests?%s", b.apiBase(ref), repoPath, query.Encode())

	var out []models.MergeRequest
	for next != "" && len(out) < maxResults {
		var page bbPage[bbPullRequest]
		if err := b.getJSON(ctx, client, ref.Credential, "list pull requests", next, &page); err != nil {
			if len(out) > 0 {
				slog.Warn("Bitbucket pull request listing truncated", "repo", repoPath, "error", err)
				break
			}
			return nil, err
		}

		for _, pr := range page.Values {
			if pr.UpdatedOn.After(until) {
				continue
			}
			mr := b.convertPullRequest(ref, pr)
			b.enrichPullRequest(ctx, client, ref, repoPath, pr.ID, &mr)
			out = append(out, mr)
			if len(out) >= maxResults {
				break
			}
		}
		next = page.Next
	}
	return out, nil
}

func (b *BitbucketStrategy) convertPullRequest(ref RepoRef, pr bbPullRequest) models.MergeRequest {
	state := models.NormalizeMRState(pr.State, pr.State == "MERGED")
	mr := models.MergeRequest{
		ToolConfigID: ref.ToolConfigID,
		ExternalID:   strconv.Itoa(pr.ID),
		RepoName:     ref.URL.Repo,
		Title:        pr.Title,
		Description:  pr.Description,
		State:        state,
		IsOpen:       state == models.MROpen,
		IsClosed:     state != models.MROpen,
		SourceBranch: pr.Source.Branch.Name,
		TargetBranch: pr.Destination.Branch.Name,
		URL:          pr.Links.HTML.Href,
		AuthorName:   pr.Author.Nickname,
	}
	if mr.AuthorName == "" {
		mr.AuthorName = pr.Author.DisplayName
	}
	if !pr.CreatedOn.IsZero() {
		t := pr.CreatedOn
		mr.CreatedAt = &t
	}
	if !pr.UpdatedOn.IsZero() {
		t := pr.UpdatedOn
		mr.UpdatedAt = &t
	}
	if state == models.MRMerged {
		t := pr.UpdatedOn
		mr.MergedAt = &t
	}
	if state == models.MRClosed {
		t := pr.UpdatedOn
		mr.ClosedAt = &t
	}
	return mr
}

// enrichPullRequest derives reviewers and pickup latency from the PR's
// activity stream.
func (b *BitbucketStrategy) enrichPullRequest(ctx context.Context, client *retryablehttp.Client, ref RepoRef, repoPath string, id int, mr *models.MergeRequest) {
	if mr.CreatedAt == nil {
		return
	}
	next := fmt.Sprintf("%s/repositories/%s/pullrequests/%d/activity?pagelen=%d", b.apiBase(ref), repoPath, id, b.pageSize())

	var activities []reviewActivity
	reviewerSet := map[string]bool{}
	for next != "" {
		var page bbPage[bbActivity]
		if err := b.getJSON(ctx, client, ref.Credential, "pull request activity", next, &page); err != nil {
			slog.Warn("Bitbucket pull request activity unavailable", "repo", repoPath, "id", id, "error", err)
			return
		}
		for _, a := range page.Values {
			switch {
			case a.Comment != nil:
				actor := a.Comment.User.Nickname
				if actor == "" {
					actor = a.Comment.User.DisplayName
				}
				activities = append(activities, reviewActivity{
					Actor: actor,
					At:    a.Comment.CreatedOn,
					Body:  a.Comment.Content.Raw,
				})
				if actor != "" && !strings.EqualFold(actor, mr.AuthorName) {
					reviewerSet[actor] = true
				}
			case a.Approval != nil:
				actor := a.Approval.User.Nickname
				if actor == "" {
					actor = a.Approval.User.DisplayName
				}
				activities = append(activities, reviewActivity{
					Actor: actor,
					At:    a.Approval.Date,
					Body:  "approved",
				})
				if actor != "" && !strings.EqualFold(actor, mr.AuthorName) {
					reviewerSet[actor] = true
				}
			}
		}
		next = page.Next
	}

	mr.PickupSeconds = pickupSeconds(*mr.CreatedAt, mr.AuthorName, activities)
	if len(reviewerSet) > 0 {
		all := make([]string, 0, len(reviewerSet))
		for r := range reviewerSet {
			all = append(all, r)
		}
		sort.Strings(all)
		mr.Reviewers = strings.Join(all, ",")
	}
}

// splitRawIdentity parses "Name <email>" git identity strings.
func splitRawIdentity(raw string) (name, email string) {
	raw = strings.TrimSpace(raw)
	if open := strings.LastIndex(raw, "<"); open != -1 {
		if end := strings.LastIndex(raw, ">"); end > open {
			return strings.TrimSpace(raw[:open]), strings.TrimSpace(raw[open+1 : end])
		}
	}
	return raw, ""
}

func (b *BitbucketStrategy) pageSize() int {
	if b.cfg.PageSize > 0 {
		return b.cfg.PageSize
	}
	return 50
}
