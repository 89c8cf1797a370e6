package platform

import (
	"context"
	"fmt"
	"time"

	"github.com/PublicisSapient/knowhow-processors-sub002/internal/config"
	"github.com/PublicisSapient/knowhow-processors-sub002/models"
)

// RepoRef addresses one repository for a fetch call. Every call takes it
// explicitly; there is no per-strategy mutable repository context.
type RepoRef struct {
	ToolConfigID string
	URL          models.GitURLInfo
	Branch       string
	Credential   models.Credential
}

// FetchStrategy abstracts one git hosting platform. Implementations:
// GitHub, GitLab, Bitbucket Cloud, Azure Repos.
//
// Each implementation owns its platform's pagination and pages until the
// platform reports no further pages, maxResults is reached, or the oldest
// returned record predates since. Secondary per-record calls (diff stats,
// review activity) degrade gracefully: a failure for one record is logged
// and the record keeps zero/default stats.
type FetchStrategy interface {
	// Name identifies the platform.
	Name() models.ToolType

	// FetchRepositories lists repositories reachable with the credential.
	FetchRepositories(ctx context.Context, ref RepoRef) ([]models.Repository, error)

	// FetchCommits returns commits on ref.Branch in (since, until],
	// newest first, at most maxResults.
	FetchCommits(ctx context.Context, ref RepoRef, since, until time.Time, maxResults int) ([]models.Commit, error)

	// FetchMergeRequests returns merge/pull requests updated in
	// (since, until], at most maxResults.
	FetchMergeRequests(ctx context.Context, ref RepoRef, since, until time.Time, maxResults int) ([]models.MergeRequest, error)
}

// New returns the fetch strategy for the declared tool type. Unknown types
// are a configuration error for the scan.
func New(toolType models.ToolType, platforms config.PlatformsConfig, limiter *RateLimiter) (FetchStrategy, error) {
	cfg := platforms.ForType(string(toolType))
	switch toolType {
	case models.ToolGitHub:
		return NewGitHub(cfg, limiter), nil
	case models.ToolGitLab:
		return NewGitLab(cfg, limiter), nil
	case models.ToolBitbucket:
		return NewBitbucket(cfg, limiter), nil
	case models.ToolAzure:
		return NewAzure(cfg, limiter), nil
	default:
		return nil, fmt.Errorf("%w: no fetch strategy for tool type %q", ErrConfig, toolType)
	}
}
