package models

import "time"

// Commit is a normalized commit record. Natural key: (tool_config_id, sha).
// Author/committer start as the raw identity strings reported by the
// platform; AuthorUserID/CommitterUserID are back-filled once user
// resolution runs.
type Commit struct {
	ID           int64  `json:"id"             db:"id"`
	ToolConfigID string `json:"tool_config_id" db:"tool_config_id"`
	SHA          string `json:"sha"            db:"sha"`
	RepoName     string `json:"repo_name"      db:"repo_name"`
	Branch       string `json:"branch"         db:"branch"`
	Message      string `json:"message"        db:"message"`
	URL          string `json:"url"            db:"url"`

	AuthorName      string `json:"author_name"      db:"author_name"`
	AuthorEmail     string `json:"author_email"     db:"author_email"`
	CommitterName   string `json:"committer_name"   db:"committer_name"`
	CommitterEmail  string `json:"committer_email"  db:"committer_email"`
	AuthorUserID    *int64 `json:"author_user_id"    db:"author_user_id"`
	CommitterUserID *int64 `json:"committer_user_id" db:"committer_user_id"`

	AuthoredAt  time.Time `json:"authored_at"  db:"authored_at"`
	CommittedAt time.Time `json:"committed_at" db:"committed_at"`

	AddedLines   int `json:"added_lines"   db:"added_lines"`
	RemovedLines int `json:"removed_lines" db:"removed_lines"`
	ChangedFiles int `json:"changed_files" db:"changed_files"`

	ParentSHAs   string `json:"parent_shas"   db:"parent_shas"` // comma separated
	IsMerge      bool   `json:"is_merge"      db:"is_merge"`
	FileChanges  string `json:"file_changes"  db:"file_changes"`  // JSON-encoded []FileChange
	PlatformData string `json:"platform_data" db:"platform_data"` // fields with no clean mapping, JSON bag
}

// FileChange is one entry of a commit's per-file change list.
type FileChange struct {
	Path    string `json:"path"`
	Added   int    `json:"added"`
	Removed int    `json:"removed"`
	Status  string `json:"status,omitempty"` // added|modified|removed|renamed
}
