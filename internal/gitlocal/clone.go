package gitlocal

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"

	"github.com/PublicisSapient/knowhow-processors-sub002/models"
)

// Ref addresses one repository clone.
type Ref struct {
	ToolConfigID string
	CloneURL     string
	RepoName     string
	Branch       string
	Credential   models.Credential
}

// CloneFetcher reads commit history by cloning the repository locally instead
// of walking the platform's commit API. Used when a scan request enables
// clone-based collection, which yields exact line stats on every platform.
type CloneFetcher struct{}

// NewCloneFetcher creates a CloneFetcher.
func NewCloneFetcher() *CloneFetcher {
	return &CloneFetcher{}
}

// FetchCommits clones ref's branch into a temporary directory, walks the log
// newest first within (since, until], and returns at most maxResults commits.
// The clone is removed before returning.
func (cf *CloneFetcher) FetchCommits(ctx context.Context, ref Ref, since, until time.Time, maxResults int) ([]models.Commit, error) {
	tmpDir, err := os.MkdirTemp("", "gitscan-clone-*")
	if err != nil {
		return nil, fmt.Errorf("creating temp directory: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(tmpDir); err != nil {
			slog.Warn("Failed to clean up clone directory", "path", tmpDir, "error", err)
		}
	}()

	cloneOpts := &gogit.CloneOptions{
		URL:          ref.CloneURL,
		SingleBranch: true,
	}
	if ref.Branch != "" {
		cloneOpts.ReferenceName = plumbing.NewBranchReferenceName(ref.Branch)
	}
	if auth := basicAuth(ref.Credential); auth != nil {
		cloneOpts.Auth = auth
	}

	slog.Debug("Cloning repository", "url", ref.CloneURL, "branch", ref.Branch, "dest", tmpDir)

	repo, err := gogit.PlainCloneContext(ctx, tmpDir, false, cloneOpts)
	if err != nil {
		return nil, fmt.Errorf("cloning %s: %w", ref.CloneURL, err)
	}

	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("resolving HEAD: %w", err)
	}
	branch := head.Name().Short()
	if branch == "" {
		branch = ref.Branch
	}

	iter, err := repo.Log(&gogit.LogOptions{
		From:  head.Hash(),
		Since: &since,
		Until: &until,
		Order: gogit.LogOrderCommitterTime,
	})
	if err != nil {
		return nil, fmt.Errorf("reading log: %w", err)
	}
	defer iter.Close()

	var out []models.Commit
	err = iter.ForEach(func(c *object.Commit) error {
		if len(out) >= maxResults {
			return storerStop
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		out = append(out, convertCommit(ref, branch, c))
		return nil
	})
	if err != nil && err != storerStop {
		return nil, fmt.Errorf("walking log: %w", err)
	}
	return out, nil
}

// storerStop terminates the log walk early. go-git's ForEach treats any
// returned error as terminal, so a sentinel keeps the partial result.
var storerStop = fmt.Errorf("stop iteration")

func convertCommit(ref Ref, branch string, c *object.Commit) models.Commit {
	parents := make([]string, 0, c.NumParents())
	for _, p := range c.ParentHashes {
		parents = append(parents, p.String())
	}

	out := models.Commit{
		ToolConfigID:   ref.ToolConfigID,
		SHA:            c.Hash.String(),
		RepoName:       ref.RepoName,
		Branch:         branch,
		Message:        c.Message,
		AuthorName:     c.Author.Name,
		AuthorEmail:    c.Author.Email,
		CommitterName:  c.Committer.Name,
		CommitterEmail: c.Committer.Email,
		AuthoredAt:     c.Author.When,
		CommittedAt:    c.Committer.When,
		ParentSHAs:     strings.Join(parents, ","),
		IsMerge:        c.NumParents() > 1,
	}

	// Stats compare against the first parent. Merge commits are skipped: the
	// full merge diff double-counts work already attributed to the merged
	// branch's own commits.
	if !out.IsMerge {
		if stats, err := c.Stats(); err == nil {
			for _, fs := range stats {
				out.AddedLines += fs.Addition
				out.RemovedLines += fs.Deletion
			}
			out.ChangedFiles = len(stats)
		} else {
			slog.Warn("Commit stats unavailable", "sha", out.SHA, "error", err)
		}
	}
	return out
}

// basicAuth maps the scan credential to go-git HTTPS auth. Tokens work as
// the password with any non-empty username.
func basicAuth(cred models.Credential) *githttp.BasicAuth {
	if cred.Empty() {
		return nil
	}
	username := cred.Username
	if username == "" {
		username = "gitscan"
	}
	return &githttp.BasicAuth{Username: username, Password: cred.Secret()}
}
