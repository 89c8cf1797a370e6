package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/PublicisSapient/knowhow-processors-sub002/internal/config"
	"github.com/PublicisSapient/knowhow-processors-sub002/internal/fetch"
	"github.com/PublicisSapient/knowhow-processors-sub002/internal/platform"
	"github.com/PublicisSapient/knowhow-processors-sub002/internal/store"
	"github.com/PublicisSapient/knowhow-processors-sub002/models"
)

// Executor runs scans: fetch, user resolution, then persistence, as a
// forward-only state machine. One Executor is shared by the CLI and the
// batch scheduler; it is safe for concurrent use.
type Executor struct {
	cfg        *config.Config
	store      *store.Store
	limiter    *platform.RateLimiter
	strategies fetch.StrategyFactory
}

// NewExecutor creates an Executor.
func NewExecutor(cfg *config.Config, st *store.Store) *Executor {
	return &Executor{
		cfg:        cfg,
		store:      st,
		limiter:    platform.NewRateLimiter(cfg.Platforms),
		strategies: platform.New,
	}
}

// Run executes one scan synchronously and returns its result. The result's
// ErrorMessage carries the failure for callers that submitted asynchronously;
// the returned error is the same failure for direct callers.
func (e *Executor) Run(ctx context.Context, req models.ScanRequest) (*models.ScanResult, error) {
	if req.ToolConfigID == "" {
		req.ToolConfigID = uuid.NewString()
	}

	started := time.Now()
	result := &models.ScanResult{
		ToolConfigID: req.ToolConfigID,
		StartedAt:    started,
	}
	state := StateReceived
	log := slog.With("tool_config_id", req.ToolConfigID, "tool", req.ToolType, "repo", req.RepoURL)
	log.Info("Scan received")

	fail := func(err error) (*models.ScanResult, error) {
		state = StateFailed
		result.Success = false
		result.ErrorMessage = err.Error()
		result.FinishedAt = time.Now()
		result.Duration = result.FinishedAt.Sub(started)
		log.Error("Scan failed", "state", state, "error", err)
		e.writeTrace(ctx, req, result)
		return result, err
	}

	rf, err := fetch.PrepareWith(req, e.cfg.Scan, e.cfg.Platforms, e.limiter, e.strategies)
	if err != nil {
		return fail(err)
	}

	// The scan window is fixed at start so pagination has a stable upper
	// bound, and the watermark prefers an explicit since, then the last
	// successful scan, then the lookback default.
	until := time.Now()
	repoName := req.RepoName
	if repoName == "" {
		repoName = rf.Ref().URL.Repo
	}
	if req.LastScanAt == nil {
		if trace, err := e.store.Trace(ctx, req.ToolConfigID, repoName); err != nil {
			return fail(err)
		} else if trace != nil && trace.Success {
			req.LastScanAt = &trace.LastScannedAt
		}
	}
	since := fetch.EffectiveSince(req, e.cfg.Scan.LookbackDays, until)
	log.Info("Scan window resolved", "since", since, "until", until)

	repos, err := rf.Repositories(ctx)
	if err != nil {
		// Repository listing needs broader credential scope than a
		// single-repo scan does. Keep the target repository's own metadata
		// and continue unless the failure is fatal.
		if errors.Is(err, platform.ErrConfig) || errors.Is(err, platform.ErrAuth) {
			return fail(err)
		}
		log.Warn("Repository listing unavailable, keeping scan target only", "error", err)
		repos = nil
	}
	repos = keepScanTarget(req, rf.Ref().URL, repos)
	state = StateRepositoriesFetched
	result.RepositoriesFound = len(repos)
	log.Info("Repositories fetched", "state", state, "count", len(repos))

	commits, err := rf.Commits(ctx, since, until)
	if err != nil {
		return fail(fmt.Errorf("fetching commits: %w", err))
	}
	state = StateCommitsFetched
	result.CommitsFound = len(commits)
	log.Info("Commits fetched", "state", state, "count", len(commits))

	mrs, err := rf.MergeRequests(ctx, since, until)
	if err != nil {
		return fail(fmt.Errorf("fetching merge requests: %w", err))
	}
	state = StateMergeRequestsFetched
	result.MergeRequestsFound = len(mrs)
	log.Info("Merge requests fetched", "state", state, "count", len(mrs))

	users, err := e.resolveUsers(ctx, req, commits, mrs)
	if err != nil {
		return fail(fmt.Errorf("resolving users: %w", err))
	}
	state = StateUsersResolved
	result.UsersFound = users
	log.Info("Users resolved", "state", state, "count", users)

	if _, err := e.store.SaveRepositories(ctx, repos); err != nil {
		return fail(fmt.Errorf("persisting repositories: %w", err))
	}
	if _, err := e.store.SaveCommits(ctx, commits); err != nil {
		return fail(fmt.Errorf("persisting commits: %w", err))
	}
	if _, err := e.store.SaveMergeRequests(ctx, mrs); err != nil {
		return fail(fmt.Errorf("persisting merge requests: %w", err))
	}
	state = StatePersisted
	log.Info("Scan data persisted", "state", state)

	result.Success = true
	result.FinishedAt = time.Now()
	result.Duration = result.FinishedAt.Sub(started)
	state = StateCompleted
	e.writeTrace(ctx, req, result)
	log.Info("Scan completed", "state", state,
		"repositories", result.RepositoriesFound,
		"commits", result.CommitsFound,
		"merge_requests", result.MergeRequestsFound,
		"users", result.UsersFound,
		"duration", result.Duration)
	return result, nil
}

// keepScanTarget guarantees the scanned repository itself is recorded even
// when listing returned nothing, and narrows single-repo scans to the target.
func keepScanTarget(req models.ScanRequest, info models.GitURLInfo, repos []models.Repository) []models.Repository {
	target := info.OwnerPath() + "/" + info.Repo
	for _, r := range repos {
		if r.FullName == target {
			return []models.Repository{r}
		}
	}
	name := req.RepoName
	if name == "" {
		name = info.Repo
	}
	return []models.Repository{{
		ToolConfigID: req.ToolConfigID,
		Platform:     req.ToolType,
		Owner:        info.Owner,
		Name:         name,
		FullName:     target,
		CloneURL:     info.CloneURL,
	}}
}

// writeTrace records the scan outcome so the next run can resume from it.
// Trace write failures are logged, not fatal: the scan's data is already
// persisted and the next run falls back to the lookback window.
func (e *Executor) writeTrace(ctx context.Context, req models.ScanRequest, result *models.ScanResult) {
	repoName := req.RepoName
	if repoName == "" {
		if info, err := platform.ParseGitURL(req.RepoURL, req.ToolType); err == nil {
			repoName = info.Repo
		}
	}
	if repoName == "" {
		return
	}
	trace := models.ConnectionTrace{
		ToolConfigID:  req.ToolConfigID,
		RepoName:      repoName,
		Success:       result.Success,
		LastScannedAt: result.StartedAt,
		ErrorMessage:  result.ErrorMessage,
	}
	if err := e.store.SaveTrace(ctx, trace); err != nil {
		slog.Warn("Failed to save connection trace",
			"tool_config_id", req.ToolConfigID, "repo", repoName, "error", err)
	}
}

// Job is an asynchronously submitted scan. Done closes once the scan
// finishes; Result is valid after that.
type Job struct {
	ToolConfigID string
	done         chan struct{}
	result       *models.ScanResult
}

// Done returns a channel closed when the scan finishes.
func (j *Job) Done() <-chan struct{} { return j.done }

// Result returns the finished scan's result, or nil while running.
func (j *Job) Result() *models.ScanResult {
	select {
	case <-j.done:
		return j.result
	default:
		return nil
	}
}

// Submit starts the scan in the background and returns immediately with an
// observable job handle. Failures are reported through the job's result.
func (e *Executor) Submit(ctx context.Context, req models.ScanRequest) *Job {
	if req.ToolConfigID == "" {
		req.ToolConfigID = uuid.NewString()
	}
	job := &Job{ToolConfigID: req.ToolConfigID, done: make(chan struct{})}
	go func() {
		defer close(job.done)
		result, err := e.Run(ctx, req)
		if result == nil {
			result = &models.ScanResult{
				ToolConfigID: req.ToolConfigID,
				ErrorMessage: err.Error(),
			}
		}
		job.result = result
	}()
	return job
}
