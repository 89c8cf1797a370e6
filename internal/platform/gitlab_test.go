package platform

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/PublicisSapient/knowhow-processors-sub002/internal/config"
	"github.com/PublicisSapient/knowhow-processors-sub002/models"
)

func gitlabTestRef() RepoRef {
	return RepoRef{
		ToolConfigID: "conn-1",
		URL: models.GitURLInfo{
			Platform: models.ToolGitLab,
			Host:     "gitlab.com",
			Owner:    "group",
			Repo:     "app",
		},
		Branch:     "main",
		Credential: models.Credential{Token: "glpat-test"},
	}
}

func newGitLabForTest(t *testing.T, handler http.Handler) *GitLabStrategy {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	g := NewGitLab(config.PlatformConfig{
		RequestsPerSecond: 1000,
		MaxRetries:        1,
		PageSize:          2,
	}, NewRateLimiter(config.PlatformsConfig{
		GitLab: config.PlatformConfig{RequestsPerSecond: 1000},
	}))
	g.baseURL = srv.URL + "/api/v4/"
	return g
}

func glCommitJSON(id string, at time.Time) map[string]interface{} {
	return map[string]interface{}{
		"id":              id,
		"message":         "change " + id,
		"author_name":     "Alice Dev",
		"author_email":    "alice@example.com",
		"committer_name":  "Alice Dev",
		"committer_email": "alice@example.com",
		"authored_date":   at.Format(time.RFC3339),
		"committed_date":  at.Format(time.RFC3339),
		"parent_ids":      []string{"p" + id},
		"stats":           map[string]int{"additions": 3, "deletions": 1},
	}
}

func TestGitLabFetchCommitsFollowsNextPageHeader(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	since := now.Add(-24 * time.Hour)

	var pagesSeen []string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/repository/commits") {
			t.Errorf("unexpected path %q", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if got := r.Header.Get("PRIVATE-TOKEN"); got != "glpat-test" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if got := r.URL.Query().Get("per_page"); got != "2" {
			t.Errorf("expected per_page=2, got %q", got)
		}
		page := r.URL.Query().Get("page")
		pagesSeen = append(pagesSeen, page)
		var body []map[string]interface{}
		switch page {
		case "1":
			body = []map[string]interface{}{
				glCommitJSON("c1", now.Add(-time.Hour)),
				glCommitJSON("c2", now.Add(-2*time.Hour)),
			}
			w.Header().Set("X-Next-Page", "2")
		case "2":
			body = []map[string]interface{}{
				glCommitJSON("c3", now.Add(-3*time.Hour)),
			}
		default:
			t.Errorf("unexpected page %q", page)
		}
		_ = json.NewEncoder(w).Encode(body)
	})

	g := newGitLabForTest(t, handler)

	commits, err := g.FetchCommits(context.Background(), gitlabTestRef(), since, now, 100)
	if err != nil {
		t.Fatalf("FetchCommits: %v", err)
	}
	if len(commits) != 3 {
		t.Fatalf("expected 3 commits across both pages, got %d", len(commits))
	}
	if len(pagesSeen) != 2 || pagesSeen[0] != "1" || pagesSeen[1] != "2" {
		t.Errorf("expected pages 1 then 2 to be requested, got %v", pagesSeen)
	}
	first := commits[0]
	if first.SHA != "c1" || first.AuthorEmail != "alice@example.com" {
		t.Errorf("unexpected first commit: %+v", first)
	}
	if first.AddedLines != 3 || first.RemovedLines != 1 {
		t.Errorf("commit stats not applied: %+v", first)
	}
}

func TestGitLabFetchMergeRequests(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	created := now.Add(-6 * time.Hour)
	merged := now.Add(-time.Hour)

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/merge_requests/5/notes"):
			_ = json.NewEncoder(w).Encode([]map[string]interface{}{
				{
					"author":     map[string]string{"username": "alice"},
					"created_at": created.Add(10 * time.Minute).Format(time.RFC3339),
					"body":       "self review",
				},
				{
					"author":     map[string]string{"username": "bob"},
					"created_at": created.Add(30 * time.Minute).Format(time.RFC3339),
					"body":       "looks good to me",
				},
			})
		case strings.HasSuffix(r.URL.Path, "/merge_requests/5"):
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"iid":           5,
				"changes_count": "3",
			})
		case strings.HasSuffix(r.URL.Path, "/merge_requests"):
			_ = json.NewEncoder(w).Encode([]map[string]interface{}{{
				"iid":           5,
				"title":         "Add feature",
				"state":         "merged",
				"source_branch": "feature",
				"target_branch": "main",
				"created_at":    created.Format(time.RFC3339),
				"updated_at":    merged.Format(time.RFC3339),
				"merged_at":     merged.Format(time.RFC3339),
				"author":        map[string]string{"username": "alice"},
				"reviewers":     []map[string]string{{"username": "bob"}},
			}})
		default:
			t.Errorf("unexpected path %q", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	})

	g := newGitLabForTest(t, handler)

	mrs, err := g.FetchMergeRequests(context.Background(), gitlabTestRef(), now.Add(-24*time.Hour), now, 100)
	if err != nil {
		t.Fatalf("FetchMergeRequests: %v", err)
	}
	if len(mrs) != 1 {
		t.Fatalf("expected 1 merge request, got %d", len(mrs))
	}
	mr := mrs[0]
	if mr.ExternalID != "5" || mr.State != models.MRMerged || mr.IsOpen || !mr.IsClosed {
		t.Errorf("unexpected state: %+v", mr)
	}
	if mr.MergedAt == nil || !mr.MergedAt.Equal(merged) {
		t.Errorf("expected merged timestamp %v, got %v", merged, mr.MergedAt)
	}
	if mr.FilesChanged != 3 {
		t.Errorf("expected changes_count to be applied, got %d", mr.FilesChanged)
	}
	if mr.AuthorName != "alice" || mr.Reviewers != "bob" {
		t.Errorf("unexpected author/reviewers: %+v", mr)
	}
	if mr.PickupSeconds != int64(30*time.Minute/time.Second) {
		t.Errorf("pickup should come from the first non-author note, got %d", mr.PickupSeconds)
	}
}
