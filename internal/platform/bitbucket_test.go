package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/PublicisSapient/knowhow-processors-sub002/internal/config"
	"github.com/PublicisSapient/knowhow-processors-sub002/models"
)

func bitbucketTestRef() RepoRef {
	return RepoRef{
		ToolConfigID: "conn-1",
		URL: models.GitURLInfo{
			Platform: models.ToolBitbucket,
			Host:     "bitbucket.org",
			Owner:    "workspace",
			Repo:     "app",
		},
		Branch:     "main",
		Credential: models.Credential{Username: "me", Password: "app-password"},
	}
}

func newBitbucketForTest(t *testing.T, handler http.Handler) (*BitbucketStrategy, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	b := NewBitbucket(config.PlatformConfig{
		RequestsPerSecond: 1000,
		MaxRetries:        1,
		TimeoutSeconds:    5,
		PageSize:          2,
	}, testLimiter())
	b.baseURL = srv.URL
	return b, srv
}

func bbCommitJSON(hash string, at time.Time) map[string]interface{} {
	return map[string]interface{}{
		"hash":    hash,
		"date":    at.Format(time.RFC3339),
		"message": "change " + hash,
		"author": map[string]interface{}{
			"raw": "Alice Dev <alice@example.com>",
			"user": map[string]interface{}{
				"display_name": "Alice Dev",
				"nickname":     "alice",
			},
		},
		"parents": []map[string]string{{"hash": "p" + hash}},
	}
}

func TestBitbucketFetchCommitsPagesUntilWatermark(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	since := now.Add(-24 * time.Hour)

	var srv *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/repositories/workspace/app/commits/main", func(w http.ResponseWriter, r *http.Request) {
		if u, p, ok := r.BasicAuth(); !ok || u != "me" || p != "app-password" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		page := r.URL.Query().Get("page")
		var body map[string]interface{}
		if page == "" {
			body = map[string]interface{}{
				"values": []map[string]interface{}{
					bbCommitJSON("c1", now.Add(-time.Hour)),
					bbCommitJSON("c2", now.Add(-2*time.Hour)),
				},
				"next": srv.URL + "/repositories/workspace/app/commits/main?page=2",
			}
		} else {
			// Second page dips below the watermark after one commit.
			body = map[string]interface{}{
				"values": []map[string]interface{}{
					bbCommitJSON("c3", now.Add(-3*time.Hour)),
					bbCommitJSON("c4", since.Add(-time.Hour)),
				},
				"next": srv.URL + "/repositories/workspace/app/commits/main?page=3",
			}
		}
		_ = json.NewEncoder(w).Encode(body)
	})
	mux.HandleFunc("/repositories/workspace/app/diffstat/", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"values": []map[string]interface{}{{
				"lines_added":   3,
				"lines_removed": 1,
				"status":        "modified",
				"new":           map[string]string{"path": "main.go"},
			}},
		})
	})

	b, server := newBitbucketForTest(t, mux)
	srv = server

	commits, err := b.FetchCommits(context.Background(), bitbucketTestRef(), since, now, 100)
	if err != nil {
		t.Fatalf("FetchCommits: %v", err)
	}
	if len(commits) != 3 {
		t.Fatalf("expected 3 commits inside the window, got %d", len(commits))
	}
	first := commits[0]
	if first.SHA != "c1" || first.AuthorEmail != "alice@example.com" || first.AuthorName != "Alice Dev" {
		t.Errorf("unexpected first commit: %+v", first)
	}
	if first.AddedLines != 3 || first.RemovedLines != 1 || first.ChangedFiles != 1 {
		t.Errorf("diffstat not applied: %+v", first)
	}
	var bag map[string]string
	if err := json.Unmarshal([]byte(first.PlatformData), &bag); err != nil || bag["author_login"] != "alice" {
		t.Errorf("expected author login in platform data, got %q", first.PlatformData)
	}
}

func TestBitbucketFetchCommitsHonorsMaxResults(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	var srv *httptest.Server
	var pages atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/repositories/workspace/app/commits/main", func(w http.ResponseWriter, r *http.Request) {
		n := pages.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"values": []map[string]interface{}{
				bbCommitJSON(fmt.Sprintf("a%d", n), now.Add(-time.Duration(n)*time.Minute)),
				bbCommitJSON(fmt.Sprintf("b%d", n), now.Add(-time.Duration(n)*time.Minute-time.Second)),
			},
			"next": srv.URL + "/repositories/workspace/app/commits/main?page=next",
		})
	})
	mux.HandleFunc("/repositories/workspace/app/diffstat/", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"values": []interface{}{}})
	})

	b, server := newBitbucketForTest(t, mux)
	srv = server

	commits, err := b.FetchCommits(context.Background(), bitbucketTestRef(), now.Add(-24*time.Hour), now, 3)
	if err != nil {
		t.Fatalf("FetchCommits: %v", err)
	}
	if len(commits) != 3 {
		t.Errorf("expected the cap of 3 commits, got %d", len(commits))
	}
}

func TestBitbucketFetchCommitsTruncatesOnLaterPageFailure(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	var srv *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/repositories/workspace/app/commits/main", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "2" {
			// Persistent server error: retries are exhausted, the page is lost.
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"values": []map[string]interface{}{
				bbCommitJSON("c1", now.Add(-time.Hour)),
			},
			"next": srv.URL + "/repositories/workspace/app/commits/main?page=2",
		})
	})
	mux.HandleFunc("/repositories/workspace/app/diffstat/", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"values": []interface{}{}})
	})

	b, server := newBitbucketForTest(t, mux)
	srv = server

	commits, err := b.FetchCommits(context.Background(), bitbucketTestRef(), now.Add(-24*time.Hour), now, 100)
	if err != nil {
		t.Fatalf("a failing later page should truncate, not fail the fetch: %v", err)
	}
	if len(commits) != 1 {
		t.Errorf("expected the first page's commit to survive, got %d", len(commits))
	}
}

func TestBitbucketFetchCommitsFirstPageAuthFailureIsFatal(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error": {"message": "invalid credentials"}}`))
	})

	b, _ := newBitbucketForTest(t, mux)

	now := time.Now()
	_, err := b.FetchCommits(context.Background(), bitbucketTestRef(), now.Add(-time.Hour), now, 100)
	if err == nil {
		t.Fatal("expected an auth error on the first page")
	}
	if !strings.Contains(err.Error(), "401") {
		t.Errorf("expected the status in the error, got %v", err)
	}
}

func TestBitbucketFetchMergeRequests(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	created := now.Add(-6 * time.Hour)

	mux := http.NewServeMux()
	mux.HandleFunc("/repositories/workspace/app/pullrequests", func(w http.ResponseWriter, r *http.Request) {
		if q := r.URL.Query().Get("q"); !strings.Contains(q, "updated_on >=") {
			t.Errorf("expected an updated_on filter, got %q", q)
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"values": []map[string]interface{}{{
				"id":          7,
				"title":       "Add feature",
				"state":       "MERGED",
				"created_on":  created.Format(time.RFC3339),
				"updated_on":  now.Add(-time.Hour).Format(time.RFC3339),
				"author":      map[string]interface{}{"nickname": "alice", "display_name": "Alice Dev"},
				"source":      map[string]interface{}{"branch": map[string]string{"name": "feature"}},
				"destination": map[string]interface{}{"branch": map[string]string{"name": "main"}},
			}},
		})
	})
	mux.HandleFunc("/repositories/workspace/app/pullrequests/7/activity", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"values": []map[string]interface{}{
				{
					"comment": map[string]interface{}{
						"user":       map[string]string{"nickname": "bob"},
						"created_on": created.Add(30 * time.Minute).Format(time.RFC3339),
						"content":    map[string]string{"raw": "looks good"},
					},
				},
				{
					"approval": map[string]interface{}{
						"user": map[string]string{"nickname": "carol"},
						"date": created.Add(time.Hour).Format(time.RFC3339),
					},
				},
			},
		})
	})

	b, _ := newBitbucketForTest(t, mux)

	mrs, err := b.FetchMergeRequests(context.Background(), bitbucketTestRef(), now.Add(-24*time.Hour), now, 100)
	if err != nil {
		t.Fatalf("FetchMergeRequests: %v", err)
	}
	if len(mrs) != 1 {
		t.Fatalf("expected 1 merge request, got %d", len(mrs))
	}
	mr := mrs[0]
	if mr.ExternalID != "7" || mr.State != models.MRMerged || !mr.IsClosed || mr.IsOpen {
		t.Errorf("unexpected state: %+v", mr)
	}
	if mr.MergedAt == nil {
		t.Error("merged request should carry a merged timestamp")
	}
	if mr.SourceBranch != "feature" || mr.TargetBranch != "main" || mr.AuthorName != "alice" {
		t.Errorf("unexpected fields: %+v", mr)
	}
	if mr.PickupSeconds != int64(30*time.Minute/time.Second) {
		t.Errorf("pickup should come from the first non-author comment, got %d", mr.PickupSeconds)
	}
	if mr.Reviewers != "bob,carol" {
		t.Errorf("expected sorted reviewers, got %q", mr.Reviewers)
	}
}
