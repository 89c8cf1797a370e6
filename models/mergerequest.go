package models

import (
	"strings"
	"time"
)

// MRState is the normalized merge-request lifecycle state.
type MRState string

const (
	MROpen   MRState = "OPEN"
	MRClosed MRState = "CLOSED"
	MRMerged MRState = "MERGED"
)

// NormalizeMRState folds the platform-specific state strings into the
// OPEN/CLOSED/MERGED set. GitHub reports merged PRs as "closed" with a merge
// timestamp, so callers pass merged=true to disambiguate.
func NormalizeMRState(raw string, merged bool) MRState {
	if merged {
		return MRMerged
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "merged", "completed":
		return MRMerged
	case "closed", "declined", "abandoned", "superseded":
		return MRClosed
	default:
		// "open", "opened", "active", "new" and anything unrecognized.
		return MROpen
	}
}

// MergeRequest is a normalized merge/pull request record.
// Natural key: (tool_config_id, external_id).
type MergeRequest struct {
	ID           int64   `json:"id"             db:"id"`
	ToolConfigID string  `json:"tool_config_id" db:"tool_config_id"`
	ExternalID   string  `json:"external_id"    db:"external_id"` // PR/MR number on the platform
	RepoName     string  `json:"repo_name"      db:"repo_name"`
	Title        string  `json:"title"          db:"title"`
	Description  string  `json:"description"    db:"description"`
	State        MRState `json:"state"          db:"state"`
	IsOpen       bool    `json:"is_open"        db:"is_open"`
	IsClosed     bool    `json:"is_closed"      db:"is_closed"`
	SourceBranch string  `json:"source_branch"  db:"source_branch"`
	TargetBranch string  `json:"target_branch"  db:"target_branch"`
	URL          string  `json:"url"            db:"url"`

	AuthorName   string `json:"author_name"    db:"author_name"`
	AuthorEmail  string `json:"author_email"   db:"author_email"`
	AuthorUserID *int64 `json:"author_user_id" db:"author_user_id"`
	Reviewers    string `json:"reviewers"      db:"reviewers"` // comma-separated usernames

	LinesChanged int `json:"lines_changed" db:"lines_changed"`
	FilesChanged int `json:"files_changed" db:"files_changed"`
	CommitCount  int `json:"commit_count"  db:"commit_count"`

	CreatedAt *time.Time `json:"created_at" db:"created_at"`
	UpdatedAt *time.Time `json:"updated_at" db:"updated_at"`
	MergedAt  *time.Time `json:"merged_at"  db:"merged_at"`
	ClosedAt  *time.Time `json:"closed_at"  db:"closed_at"`

	// PickupSeconds is the review-pickup latency: elapsed time between
	// creation and the first reviewer action. Zero when no reviewer activity
	// was observed.
	PickupSeconds int64 `json:"pickup_seconds" db:"pickup_seconds"`
}

// ReviewerList splits the stored comma-separated reviewer usernames.
func (mr *MergeRequest) ReviewerList() []string {
	if mr.Reviewers == "" {
		return nil
	}
	parts := strings.Split(mr.Reviewers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
