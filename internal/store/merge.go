package store

import (
	"time"

	"github.com/PublicisSapient/knowhow-processors-sub002/models"
)

// Merge rules: an incoming field overwrites the stored one only when the
// incoming value carries information. Empty strings, zero counts and nil
// timestamps never erase stored detail, so a degraded fetch (missing stats,
// unavailable activity) cannot regress a previously complete record.

func pickStr(stored, incoming string) string {
	if incoming != "" {
		return incoming
	}
	return stored
}

func pickInt(stored, incoming int) int {
	if incoming != 0 {
		return incoming
	}
	return stored
}

func pickInt64(stored, incoming int64) int64 {
	if incoming != 0 {
		return incoming
	}
	return stored
}

func pickTime(stored, incoming time.Time) time.Time {
	if !incoming.IsZero() {
		return incoming
	}
	return stored
}

func pickTimePtr(stored, incoming *time.Time) *time.Time {
	if incoming != nil {
		return incoming
	}
	return stored
}

func pickIDPtr(stored, incoming *int64) *int64 {
	if incoming != nil {
		return incoming
	}
	return stored
}

func mergeRepository(stored, incoming models.Repository) models.Repository {
	out := stored
	out.Platform = incoming.Platform
	out.Owner = pickStr(stored.Owner, incoming.Owner)
	out.Name = pickStr(stored.Name, incoming.Name)
	out.CloneURL = pickStr(stored.CloneURL, incoming.CloneURL)
	out.HTMLURL = pickStr(stored.HTMLURL, incoming.HTMLURL)
	out.DefaultBranch = pickStr(stored.DefaultBranch, incoming.DefaultBranch)
	out.Private = incoming.Private
	out.LastPushedAt = pickTime(stored.LastPushedAt, incoming.LastPushedAt)
	return out
}

func mergeCommit(stored, incoming models.Commit) models.Commit {
	out := stored
	out.Branch = pickStr(stored.Branch, incoming.Branch)
	out.Message = pickStr(stored.Message, incoming.Message)
	out.URL = pickStr(stored.URL, incoming.URL)
	out.AuthorName = pickStr(stored.AuthorName, incoming.AuthorName)
	out.AuthorEmail = pickStr(stored.AuthorEmail, incoming.AuthorEmail)
	out.CommitterName = pickStr(stored.CommitterName, incoming.CommitterName)
	out.CommitterEmail = pickStr(stored.CommitterEmail, incoming.CommitterEmail)
	out.AuthorUserID = pickIDPtr(stored.AuthorUserID, incoming.AuthorUserID)
	out.CommitterUserID = pickIDPtr(stored.CommitterUserID, incoming.CommitterUserID)
	out.AuthoredAt = pickTime(stored.AuthoredAt, incoming.AuthoredAt)
	out.CommittedAt = pickTime(stored.CommittedAt, incoming.CommittedAt)
	out.AddedLines = pickInt(stored.AddedLines, incoming.AddedLines)
	out.RemovedLines = pickInt(stored.RemovedLines, incoming.RemovedLines)
	out.ChangedFiles = pickInt(stored.ChangedFiles, incoming.ChangedFiles)
	out.ParentSHAs = pickStr(stored.ParentSHAs, incoming.ParentSHAs)
	out.IsMerge = stored.IsMerge || incoming.IsMerge
	out.FileChanges = pickStr(stored.FileChanges, incoming.FileChanges)
	out.PlatformData = pickStr(stored.PlatformData, incoming.PlatformData)
	return out
}

func mergeMergeRequest(stored, incoming models.MergeRequest) models.MergeRequest {
	out := stored
	out.RepoName = pickStr(stored.RepoName, incoming.RepoName)
	out.Title = pickStr(stored.Title, incoming.Title)
	out.Description = pickStr(stored.Description, incoming.Description)
	out.SourceBranch = pickStr(stored.SourceBranch, incoming.SourceBranch)
	out.TargetBranch = pickStr(stored.TargetBranch, incoming.TargetBranch)
	out.URL = pickStr(stored.URL, incoming.URL)
	out.AuthorName = pickStr(stored.AuthorName, incoming.AuthorName)
	out.AuthorEmail = pickStr(stored.AuthorEmail, incoming.AuthorEmail)
	out.AuthorUserID = pickIDPtr(stored.AuthorUserID, incoming.AuthorUserID)
	out.Reviewers = pickStr(stored.Reviewers, incoming.Reviewers)
	out.LinesChanged = pickInt(stored.LinesChanged, incoming.LinesChanged)
	out.FilesChanged = pickInt(stored.FilesChanged, incoming.FilesChanged)
	out.CommitCount = pickInt(stored.CommitCount, incoming.CommitCount)
	out.CreatedAt = pickTimePtr(stored.CreatedAt, incoming.CreatedAt)
	out.UpdatedAt = pickTimePtr(stored.UpdatedAt, incoming.UpdatedAt)
	out.MergedAt = pickTimePtr(stored.MergedAt, incoming.MergedAt)
	out.ClosedAt = pickTimePtr(stored.ClosedAt, incoming.ClosedAt)
	out.PickupSeconds = pickInt64(stored.PickupSeconds, incoming.PickupSeconds)

	// Lifecycle only moves forward. A stale OPEN observation never reopens a
	// request already recorded as merged or closed.
	if incoming.State == models.MROpen && stored.State != models.MROpen {
		out.State = stored.State
	} else {
		out.State = incoming.State
	}
	out.IsOpen = out.State == models.MROpen
	out.IsClosed = out.State != models.MROpen
	finalizeMergeRequest(&out)
	return out
}

// finalizeMergeRequest recomputes the derived state flags and backfills a
// missing merge timestamp for merged requests from the closing activity,
// falling back to the observation time so a merged request always carries one.
func finalizeMergeRequest(mr *models.MergeRequest) {
	mr.IsOpen = mr.State == models.MROpen
	mr.IsClosed = mr.State != models.MROpen
	if mr.State == models.MRMerged && mr.MergedAt == nil {
		switch {
		case mr.ClosedAt != nil:
			mr.MergedAt = mr.ClosedAt
		case mr.UpdatedAt != nil:
			mr.MergedAt = mr.UpdatedAt
		default:
			now := time.Now()
			mr.MergedAt = &now
		}
	}
}

func mergeUser(stored, incoming models.User) models.User {
	out := stored
	out.DisplayName = pickStr(stored.DisplayName, incoming.DisplayName)
	out.Email = pickStr(stored.Email, incoming.Email)
	out.RepoName = pickStr(stored.RepoName, incoming.RepoName)
	out.Active = stored.Active || incoming.Active
	return out
}
