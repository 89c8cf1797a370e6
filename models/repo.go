package models

import "time"

// Repository is a discovered repository on a hosting platform.
// Natural key: (tool_config_id, full_name).
type Repository struct {
	ID            int64     `json:"id"             db:"id"`
	ToolConfigID  string    `json:"tool_config_id" db:"tool_config_id"`
	Platform      ToolType  `json:"platform"       db:"platform"`
	Owner         string    `json:"owner"          db:"owner"`
	Name          string    `json:"name"           db:"name"`
	FullName      string    `json:"full_name"      db:"full_name"`
	CloneURL      string    `json:"clone_url"      db:"clone_url"`
	HTMLURL       string    `json:"html_url"       db:"html_url"`
	DefaultBranch string    `json:"default_branch" db:"default_branch"`
	Private       bool      `json:"private"        db:"private"`
	LastPushedAt  time.Time `json:"last_pushed_at" db:"last_pushed_at"`
}

// GitURLInfo is the parsed identity of a repository URL, derived once per
// scan and passed explicitly to every downstream API call.
type GitURLInfo struct {
	Platform ToolType // must match the tool type declared in the ScanRequest
	Host     string
	Owner    string // owner / organization / workspace
	SubOrg   string // Azure DevOps project, empty elsewhere
	Repo     string // repository slug
	CloneURL string // canonical https clone URL
}

// OwnerPath returns the owner segment used to address API calls, including
// the sub-organization when one exists.
func (g GitURLInfo) OwnerPath() string {
	if g.SubOrg != "" {
		return g.Owner + "/" + g.SubOrg
	}
	return g.Owner
}
