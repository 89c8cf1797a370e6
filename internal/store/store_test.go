package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/PublicisSapient/knowhow-processors-sub002/internal/config"
	"github.com/PublicisSapient/knowhow-processors-sub002/internal/database"
	"github.com/PublicisSapient/knowhow-processors-sub002/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := database.NewSQLite(config.DatabaseConfig{
		Path: filepath.Join(t.TempDir(), "test.db"),
	})
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("migrating test database: %v", err)
	}
	return New(db)
}

func testCommit(sha string) models.Commit {
	return models.Commit{
		ToolConfigID: "conn-1",
		SHA:          sha,
		RepoName:     "app",
		Branch:       "main",
		Message:      "initial work",
		AuthorName:   "Alice Dev",
		AuthorEmail:  "alice@example.com",
		AuthoredAt:   time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC),
		CommittedAt:  time.Date(2026, 2, 10, 9, 5, 0, 0, time.UTC),
		AddedLines:   10,
		RemovedLines: 2,
		ChangedFiles: 3,
	}
}

func TestSaveCommitsIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := s.SaveCommits(ctx, []models.Commit{testCommit("abc123")}); err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
	}

	var rows []models.Commit
	if err := s.db.Select(ctx, &rows, `SELECT * FROM commits WHERE tool_config_id = ?`, "conn-1"); err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("re-saving the same commit must not duplicate it, got %d rows", len(rows))
	}
	if rows[0].AddedLines != 10 || rows[0].Message != "initial work" {
		t.Errorf("stored commit lost data: %+v", rows[0])
	}
}

func TestSaveCommitsMergeIsNonDestructive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	full := testCommit("abc123")
	if _, err := s.SaveCommits(ctx, []models.Commit{full}); err != nil {
		t.Fatalf("first save: %v", err)
	}

	// A later degraded fetch: no stats, no author email.
	degraded := models.Commit{
		ToolConfigID: "conn-1",
		SHA:          "abc123",
		RepoName:     "app",
		Branch:       "main",
		Message:      "initial work (amended)",
	}
	if _, err := s.SaveCommits(ctx, []models.Commit{degraded}); err != nil {
		t.Fatalf("second save: %v", err)
	}

	var got models.Commit
	if err := s.db.Get(ctx, &got, `SELECT * FROM commits WHERE tool_config_id = ? AND sha = ?`, "conn-1", "abc123"); err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Message != "initial work (amended)" {
		t.Errorf("non-empty incoming field should win, got %q", got.Message)
	}
	if got.AddedLines != 10 || got.RemovedLines != 2 || got.ChangedFiles != 3 {
		t.Errorf("zero incoming stats must not erase stored stats: %+v", got)
	}
	if got.AuthorEmail != "alice@example.com" {
		t.Errorf("empty incoming email must not erase stored email, got %q", got.AuthorEmail)
	}
}

func TestSaveMergeRequestsStateFlags(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	created := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	updated := created.Add(48 * time.Hour)

	open := models.MergeRequest{
		ToolConfigID: "conn-1",
		ExternalID:   "42",
		RepoName:     "app",
		Title:        "Add feature",
		State:        models.MROpen,
		CreatedAt:    &created,
	}
	if _, err := s.SaveMergeRequests(ctx, []models.MergeRequest{open}); err != nil {
		t.Fatalf("save open: %v", err)
	}

	var got models.MergeRequest
	key := `SELECT * FROM merge_requests WHERE tool_config_id = ? AND external_id = ?`
	if err := s.db.Get(ctx, &got, key, "conn-1", "42"); err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.IsOpen || got.IsClosed {
		t.Errorf("open request flags wrong: %+v", got)
	}

	// The platform reports the merge without a merged timestamp.
	merged := open
	merged.State = models.MRMerged
	merged.UpdatedAt = &updated
	if _, err := s.SaveMergeRequests(ctx, []models.MergeRequest{merged}); err != nil {
		t.Fatalf("save merged: %v", err)
	}
	if err := s.db.Get(ctx, &got, key, "conn-1", "42"); err != nil {
		t.Fatalf("get after merge: %v", err)
	}
	if got.IsOpen || !got.IsClosed || got.State != models.MRMerged {
		t.Errorf("merged request flags wrong: %+v", got)
	}
	if got.MergedAt == nil || !got.MergedAt.Equal(updated) {
		t.Errorf("merged timestamp should be backfilled from the update time, got %v", got.MergedAt)
	}

	// A stale OPEN observation must not reopen it.
	if _, err := s.SaveMergeRequests(ctx, []models.MergeRequest{open}); err != nil {
		t.Fatalf("save stale open: %v", err)
	}
	if err := s.db.Get(ctx, &got, key, "conn-1", "42"); err != nil {
		t.Fatalf("get after stale save: %v", err)
	}
	if got.State != models.MRMerged || got.IsOpen {
		t.Errorf("stale open observation reopened the request: %+v", got)
	}
}

func TestSaveMergeRequestsMergedWithoutAnyTimestamp(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// A merged request with no merge, close or update time at all still gets
	// a merged timestamp, falling back to the observation time.
	before := time.Now()
	mr := models.MergeRequest{
		ToolConfigID: "conn-1",
		ExternalID:   "9",
		RepoName:     "app",
		Title:        "Hotfix",
		State:        models.MRMerged,
	}
	if _, err := s.SaveMergeRequests(ctx, []models.MergeRequest{mr}); err != nil {
		t.Fatalf("save: %v", err)
	}

	var got models.MergeRequest
	if err := s.db.Get(ctx, &got, `SELECT * FROM merge_requests WHERE tool_config_id = ? AND external_id = ?`, "conn-1", "9"); err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.MergedAt == nil {
		t.Fatal("merged request must carry a merged timestamp")
	}
	if got.MergedAt.Before(before.Add(-time.Second)) || got.MergedAt.After(time.Now().Add(time.Second)) {
		t.Errorf("fallback timestamp should be near the save time, got %v", got.MergedAt)
	}
}

func TestFindOrCreateUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u1, err := s.FindOrCreateUser(ctx, models.User{
		ToolConfigID: "conn-1",
		Username:     "alice",
		DisplayName:  "Alice Dev",
		Email:        "alice@example.com",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if u1.ID == 0 {
		t.Fatal("created user should have a row id")
	}

	u2, err := s.FindOrCreateUser(ctx, models.User{
		ToolConfigID: "conn-1",
		Username:     "alice",
	})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if u2.ID != u1.ID {
		t.Errorf("same username must resolve to the same user: %d vs %d", u2.ID, u1.ID)
	}
	if u2.Email != "alice@example.com" {
		t.Errorf("find must not erase stored detail, got %+v", u2)
	}

	// Same username under another connection is a distinct user.
	u3, err := s.FindOrCreateUser(ctx, models.User{
		ToolConfigID: "conn-2",
		Username:     "alice",
	})
	if err != nil {
		t.Fatalf("create in other scope: %v", err)
	}
	if u3.ID == u1.ID {
		t.Error("users are scoped per connection")
	}
}

func TestFindUserByEmail(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.FindOrCreateUser(ctx, models.User{
		ToolConfigID: "conn-1",
		Username:     "alice",
		Email:        "alice@example.com",
	}); err != nil {
		t.Fatalf("create: %v", err)
	}

	u, err := s.FindUserByEmail(ctx, "conn-1", "alice@example.com")
	if err != nil {
		t.Fatalf("find by email: %v", err)
	}
	if u == nil || u.Username != "alice" {
		t.Errorf("expected alice, got %+v", u)
	}

	none, err := s.FindUserByEmail(ctx, "conn-1", "nobody@example.com")
	if err != nil {
		t.Fatalf("find missing email: %v", err)
	}
	if none != nil {
		t.Errorf("expected nil for unknown email, got %+v", none)
	}
}

func TestConnectionTraceRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if tr, err := s.Trace(ctx, "conn-1", "app"); err != nil || tr != nil {
		t.Fatalf("expected no trace yet, got %+v, %v", tr, err)
	}

	first := models.ConnectionTrace{
		ToolConfigID:  "conn-1",
		RepoName:      "app",
		Success:       true,
		LastScannedAt: time.Date(2026, 2, 20, 3, 0, 0, 0, time.UTC),
	}
	if err := s.SaveTrace(ctx, first); err != nil {
		t.Fatalf("save: %v", err)
	}

	tr, err := s.Trace(ctx, "conn-1", "app")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if tr == nil || !tr.Success || !tr.LastScannedAt.Equal(first.LastScannedAt) {
		t.Fatalf("unexpected trace: %+v", tr)
	}

	second := first
	second.Success = false
	second.ErrorMessage = "rate limited"
	second.LastScannedAt = first.LastScannedAt.Add(24 * time.Hour)
	if err := s.SaveTrace(ctx, second); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	tr, err = s.Trace(ctx, "conn-1", "app")
	if err != nil {
		t.Fatalf("re-read: %v", err)
	}
	if tr.Success || tr.ErrorMessage != "rate limited" {
		t.Errorf("trace should be overwritten, got %+v", tr)
	}

	var rows []models.ConnectionTrace
	if err := s.db.Select(ctx, &rows, `SELECT * FROM connection_traces`); err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(rows) != 1 {
		t.Errorf("trace upsert must keep one row per repo, got %d", len(rows))
	}
}

func TestInsertOnceRecoversDuplicate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	winner := models.User{ToolConfigID: "conn-1", Username: "bob", CreatedAt: time.Now()}
	if _, err := s.db.Insert(ctx, "scm_users", &winner); err != nil {
		t.Fatalf("seed winner: %v", err)
	}

	// Simulates losing the insert race: the row exists by the time we insert.
	recovered := false
	loser := models.User{ToolConfigID: "conn-1", Username: "bob", CreatedAt: time.Now()}
	id, err := s.insertOnce(ctx, "scm_users", &loser, func() error {
		recovered = true
		return nil
	})
	if err != nil {
		t.Fatalf("insertOnce: %v", err)
	}
	if id != 0 || !recovered {
		t.Errorf("expected duplicate recovery path, id=%d recovered=%v", id, recovered)
	}
}
