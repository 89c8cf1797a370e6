package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/PublicisSapient/knowhow-processors-sub002/internal/database"
	"github.com/PublicisSapient/knowhow-processors-sub002/models"
)

// Store is the persistence and merge engine. Every save is an idempotent
// upsert keyed on the record's natural key: re-scanning the same window never
// duplicates rows and never erases previously stored detail.
type Store struct {
	db database.DB
}

// New creates a Store on top of db.
func New(db database.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying database, for health checks.
func (s *Store) DB() database.DB { return s.db }

// SaveRepositories upserts repository metadata keyed on
// (tool_config_id, full_name). Returns the number of records written.
func (s *Store) SaveRepositories(ctx context.Context, repos []models.Repository) (int, error) {
	saved := 0
	for i := range repos {
		r := repos[i]
		var existing models.Repository
		err := s.db.Get(ctx, &existing,
			`SELECT * FROM repositories WHERE tool_config_id = ? AND full_name = ?`,
			r.ToolConfigID, r.FullName)
		switch {
		case database.IsNotFound(err):
			if _, err := s.insertOnce(ctx, "repositories", &r, func() error {
				return s.db.Get(ctx, &existing,
					`SELECT * FROM repositories WHERE tool_config_id = ? AND full_name = ?`,
					r.ToolConfigID, r.FullName)
			}); err != nil {
				return saved, fmt.Errorf("saving repository %s: %w", r.FullName, err)
			}
		case err != nil:
			return saved, fmt.Errorf("looking up repository %s: %w", r.FullName, err)
		default:
			merged := mergeRepository(existing, r)
			merged.ID = existing.ID
			if err := s.db.Update(ctx, "repositories", &merged, "id = ?", existing.ID); err != nil {
				return saved, fmt.Errorf("updating repository %s: %w", r.FullName, err)
			}
		}
		saved++
	}
	return saved, nil
}

// SaveCommits upserts commits keyed on (tool_config_id, sha).
func (s *Store) SaveCommits(ctx context.Context, commits []models.Commit) (int, error) {
	saved := 0
	for i := range commits {
		c := commits[i]
		var existing models.Commit
		err := s.db.Get(ctx, &existing,
			`SELECT * FROM commits WHERE tool_config_id = ? AND sha = ?`,
			c.ToolConfigID, c.SHA)
		switch {
		case database.IsNotFound(err):
			if _, err := s.insertOnce(ctx, "commits", &c, func() error {
				return s.db.Get(ctx, &existing,
					`SELECT * FROM commits WHERE tool_config_id = ? AND sha = ?`,
					c.ToolConfigID, c.SHA)
			}); err != nil {
				return saved, fmt.Errorf("saving commit %s: %w", c.SHA, err)
			}
		case err != nil:
			return saved, fmt.Errorf("looking up commit %s: %w", c.SHA, err)
		default:
			merged := mergeCommit(existing, c)
			merged.ID = existing.ID
			if err := s.db.Update(ctx, "commits", &merged, "id = ?", existing.ID); err != nil {
				return saved, fmt.Errorf("updating commit %s: %w", c.SHA, err)
			}
		}
		saved++
	}
	return saved, nil
}

// SaveMergeRequests upserts merge requests keyed on
// (tool_config_id, external_id). State flags are recomputed from the merged
// state and a missing merge timestamp is backed up from the closing activity.
func (s *Store) SaveMergeRequests(ctx context.Context, mrs []models.MergeRequest) (int, error) {
	saved := 0
	for i := range mrs {
		mr := mrs[i]
		finalizeMergeRequest(&mr)
		var existing models.MergeRequest
		err := s.db.Get(ctx, &existing,
			`SELECT * FROM merge_requests WHERE tool_config_id = ? AND external_id = ?`,
			mr.ToolConfigID, mr.ExternalID)
		switch {
		case database.IsNotFound(err):
			if _, err := s.insertOnce(ctx, "merge_requests", &mr, func() error {
				return s.db.Get(ctx, &existing,
					`SELECT * FROM merge_requests WHERE tool_config_id = ? AND external_id = ?`,
					mr.ToolConfigID, mr.ExternalID)
			}); err != nil {
				return saved, fmt.Errorf("saving merge request %s: %w", mr.ExternalID, err)
			}
		case err != nil:
			return saved, fmt.Errorf("looking up merge request %s: %w", mr.ExternalID, err)
		default:
			merged := mergeMergeRequest(existing, mr)
			merged.ID = existing.ID
			if err := s.db.Update(ctx, "merge_requests", &merged, "id = ?", existing.ID); err != nil {
				return saved, fmt.Errorf("updating merge request %s: %w", mr.ExternalID, err)
			}
		}
		saved++
	}
	return saved, nil
}

// FindOrCreateUser returns the stored user matching (tool_config_id,
// username), creating it when absent. A concurrent insert of the same user
// surfaces as a duplicate-key error; the losing writer re-queries once and
// adopts the winner's row.
func (s *Store) FindOrCreateUser(ctx context.Context, user models.User) (*models.User, error) {
	var existing models.User
	err := s.db.Get(ctx, &existing,
		`SELECT * FROM scm_users WHERE tool_config_id = ? AND username = ?`,
		user.ToolConfigID, user.Username)
	if err == nil {
		merged := mergeUser(existing, user)
		if merged != existing {
			merged.ID = existing.ID
			if err := s.db.Update(ctx, "scm_users", &merged, "id = ?", existing.ID); err != nil {
				return nil, fmt.Errorf("updating user %s: %w", user.Username, err)
			}
		}
		return &merged, nil
	}
	if !database.IsNotFound(err) {
		return nil, fmt.Errorf("looking up user %s: %w", user.Username, err)
	}

	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}
	id, err := s.insertOnce(ctx, "scm_users", &user, func() error {
		return s.db.Get(ctx, &existing,
			`SELECT * FROM scm_users WHERE tool_config_id = ? AND username = ?`,
			user.ToolConfigID, user.Username)
	})
	if err != nil {
		return nil, fmt.Errorf("creating user %s: %w", user.Username, err)
	}
	if id == 0 {
		// Lost the insert race; existing now holds the winner's row.
		return &existing, nil
	}
	user.ID = id
	return &user, nil
}

// FindUserByEmail returns the user matching the email, or nil when none does.
// Email is the secondary identity signal for commit authors with no username.
func (s *Store) FindUserByEmail(ctx context.Context, toolConfigID, email string) (*models.User, error) {
	var u models.User
	err := s.db.Get(ctx, &u,
		`SELECT * FROM scm_users WHERE tool_config_id = ? AND email = ?`,
		toolConfigID, email)
	if database.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("looking up user by email: %w", err)
	}
	return &u, nil
}

// Trace returns the connection trace for the repository, or nil when the
// repository has never completed a scan.
func (s *Store) Trace(ctx context.Context, toolConfigID, repoName string) (*models.ConnectionTrace, error) {
	var t models.ConnectionTrace
	err := s.db.Get(ctx, &t,
		`SELECT * FROM connection_traces WHERE tool_config_id = ? AND repo_name = ?`,
		toolConfigID, repoName)
	if database.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading connection trace: %w", err)
	}
	return &t, nil
}

// SaveTrace records the scan outcome for the repository, overwriting any
// previous trace.
func (s *Store) SaveTrace(ctx context.Context, trace models.ConnectionTrace) error {
	existing, err := s.Trace(ctx, trace.ToolConfigID, trace.RepoName)
	if err != nil {
		return err
	}
	if existing == nil {
		if _, err := s.insertOnce(ctx, "connection_traces", &trace, func() error {
			var t models.ConnectionTrace
			if err := s.db.Get(ctx, &t,
				`SELECT * FROM connection_traces WHERE tool_config_id = ? AND repo_name = ?`,
				trace.ToolConfigID, trace.RepoName); err != nil {
				return err
			}
			trace.ID = t.ID
			return s.db.Update(ctx, "connection_traces", &trace, "id = ?", t.ID)
		}); err != nil {
			return fmt.Errorf("saving connection trace: %w", err)
		}
		return nil
	}
	trace.ID = existing.ID
	if err := s.db.Update(ctx, "connection_traces", &trace, "id = ?", existing.ID); err != nil {
		return fmt.Errorf("updating connection trace: %w", err)
	}
	return nil
}

// insertOnce inserts record and, on a duplicate-key error, runs onDuplicate
// exactly once to recover from a concurrent writer. Returns the inserted row
// ID, or zero when the duplicate path ran. Any second failure is final.
func (s *Store) insertOnce(ctx context.Context, table string, record interface{}, onDuplicate func() error) (int64, error) {
	id, err := s.db.Insert(ctx, table, record)
	if err == nil {
		return id, nil
	}
	if !database.IsDuplicateKey(err) {
		return 0, err
	}
	slog.Debug("Duplicate key on insert, re-querying", "table", table)
	if dupErr := onDuplicate(); dupErr != nil {
		return 0, fmt.Errorf("recovering duplicate insert: %w", dupErr)
	}
	return 0, nil
}
