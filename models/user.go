package models

import "time"

// User is a person observed as a commit author/committer or merge-request
// author/reviewer. Natural key: (tool_config_id, username); email is a
// secondary matching key. Created lazily on first observation, never deleted
// by the scan engine.
type User struct {
	ID           int64     `json:"id"             db:"id"`
	ToolConfigID string    `json:"tool_config_id" db:"tool_config_id"`
	Username     string    `json:"username"       db:"username"`
	DisplayName  string    `json:"display_name"   db:"display_name"`
	Email        string    `json:"email"          db:"email"`
	RepoName     string    `json:"repo_name"      db:"repo_name"`
	Active       bool      `json:"active"         db:"active"`
	CreatedAt    time.Time `json:"created_at"     db:"created_at"`
}
