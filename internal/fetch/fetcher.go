package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/PublicisSapient/knowhow-processors-sub002/internal/config"
	"github.com/PublicisSapient/knowhow-processors-sub002/internal/gitlocal"
	"github.com/PublicisSapient/knowhow-processors-sub002/internal/platform"
	"github.com/PublicisSapient/knowhow-processors-sub002/models"
)

// EffectiveSince picks the incremental watermark for a scan, first match wins:
// an explicit since on the request, the last successful scan time, and finally
// now minus the configured lookback window.
func EffectiveSince(req models.ScanRequest, lookbackDays int, now time.Time) time.Time {
	if req.Since != nil {
		return *req.Since
	}
	if req.LastScanAt != nil {
		return *req.LastScanAt
	}
	return now.AddDate(0, 0, -lookbackDays)
}

// RepoFetch is a scan request bound to its resolved platform strategy. URL
// parsing and strategy selection happen once here; failures are configuration
// errors that fail the scan before any network call.
type RepoFetch struct {
	req      models.ScanRequest
	ref      platform.RepoRef
	strategy platform.FetchStrategy
	cloner   *gitlocal.CloneFetcher
	scanCfg  config.ScanConfig
}

// StrategyFactory resolves a tool type to its fetch strategy. The default is
// platform.New; tests substitute fakes.
type StrategyFactory func(models.ToolType, config.PlatformsConfig, *platform.RateLimiter) (platform.FetchStrategy, error)

// Prepare validates the request, parses its URL and selects the platform
// strategy via platform.New.
func Prepare(req models.ScanRequest, scanCfg config.ScanConfig, platforms config.PlatformsConfig, limiter *platform.RateLimiter) (*RepoFetch, error) {
	return PrepareWith(req, scanCfg, platforms, limiter, platform.New)
}

// PrepareWith is Prepare with an explicit strategy factory.
func PrepareWith(req models.ScanRequest, scanCfg config.ScanConfig, platforms config.PlatformsConfig, limiter *platform.RateLimiter, strategies StrategyFactory) (*RepoFetch, error) {
	if !req.ToolType.Valid() {
		return nil, fmt.Errorf("%w: unknown tool type %q", platform.ErrConfig, req.ToolType)
	}
	if req.Credential.Empty() {
		return nil, fmt.Errorf("%w: no credential for %s scan", platform.ErrConfig, req.ToolType)
	}

	info, err := platform.ParseGitURL(req.RepoURL, req.ToolType)
	if err != nil {
		return nil, fmt.Errorf("resolving repository URL: %w", err)
	}

	strategy, err := strategies(req.ToolType, platforms, limiter)
	if err != nil {
		return nil, err
	}

	branch := req.Branch
	if branch == "" {
		branch = "master"
	}
	return &RepoFetch{
		req: req,
		ref: platform.RepoRef{
			ToolConfigID: req.ToolConfigID,
			URL:          info,
			Branch:       branch,
			Credential:   req.Credential,
		},
		strategy: strategy,
		cloner:   gitlocal.NewCloneFetcher(),
		scanCfg:  scanCfg,
	}, nil
}

// Ref exposes the parsed repository reference.
func (rf *RepoFetch) Ref() platform.RepoRef { return rf.ref }

// Repositories lists repositories visible to the credential. Single-repo
// scans still record the scanned repository's own metadata, so when listing
// fails for permission reasons the scan keeps only the target repository.
func (rf *RepoFetch) Repositories(ctx context.Context) ([]models.Repository, error) {
	repos, err := rf.strategy.FetchRepositories(ctx, rf.ref)
	if err != nil {
		return nil, err
	}
	return repos, nil
}

// Commits fetches commits newer than since, capped at the configured maximum
// per scan. When the request enables clone-based collection the history comes
// from a local clone instead of the platform API.
func (rf *RepoFetch) Commits(ctx context.Context, since, until time.Time) ([]models.Commit, error) {
	maxResults := rf.scanCfg.MaxCommits
	if rf.req.CloneEnabled {
		commits, err := rf.cloner.FetchCommits(ctx, gitlocal.Ref{
			ToolConfigID: rf.req.ToolConfigID,
			CloneURL:     rf.ref.URL.CloneURL,
			RepoName:     rf.ref.URL.Repo,
			Branch:       rf.ref.Branch,
			Credential:   rf.req.Credential,
		}, since, until, maxResults)
		if err == nil {
			return commits, nil
		}
		// Clone problems (disk, transport quirks) fall back to the API path.
		slog.Warn("Clone-based fetch failed, falling back to API",
			"repo", rf.ref.URL.Repo, "error", err)
	}

	commits, err := rf.strategy.FetchCommits(ctx, rf.ref, since, until, maxResults)
	if err != nil {
		return nil, err
	}
	if len(commits) >= maxResults {
		slog.Warn("Commit fetch reached per-scan cap",
			"repo", rf.ref.URL.Repo, "cap", maxResults)
	}
	return commits, nil
}

// MergeRequests fetches merge requests updated after since, capped at the
// configured maximum per scan.
func (rf *RepoFetch) MergeRequests(ctx context.Context, since, until time.Time) ([]models.MergeRequest, error) {
	maxResults := rf.scanCfg.MaxMergeRequests
	mrs, err := rf.strategy.FetchMergeRequests(ctx, rf.ref, since, until, maxResults)
	if err != nil {
		return nil, err
	}
	if len(mrs) >= maxResults {
		slog.Warn("Merge request fetch reached per-scan cap",
			"repo", rf.ref.URL.Repo, "cap", maxResults)
	}
	return mrs, nil
}
