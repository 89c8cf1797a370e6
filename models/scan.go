package models

import "time"

// ToolType identifies the git hosting platform a tool connection points at.
type ToolType string

const (
	ToolGitHub    ToolType = "github"
	ToolGitLab    ToolType = "gitlab"
	ToolBitbucket ToolType = "bitbucket"
	ToolAzure     ToolType = "azure"
)

// Valid reports whether t names a supported platform.
func (t ToolType) Valid() bool {
	switch t {
	case ToolGitHub, ToolGitLab, ToolBitbucket, ToolAzure:
		return true
	}
	return false
}

// Credential carries the decrypted secret for one tool connection.
// Token is preferred; Username/Password cover basic-auth platforms
// (Bitbucket app passwords, Azure PATs used as basic auth).
type Credential struct {
	Token    string `json:"token,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// Empty reports whether no usable secret is present.
func (c Credential) Empty() bool {
	return c.Token == "" && c.Password == ""
}

// Secret returns the value used for authentication (token wins).
func (c Credential) Secret() string {
	if c.Token != "" {
		return c.Token
	}
	return c.Password
}

// ScanRequest describes one scan invocation. Immutable once constructed;
// the orchestrator builds a scan scope from it and never mutates it.
type ScanRequest struct {
	ToolConfigID string     `json:"tool_config_id"` // correlation id, anchors the natural key space
	ToolType     ToolType   `json:"tool_type"`
	RepoURL      string     `json:"repo_url"`
	RepoName     string     `json:"repo_name"`
	Branch       string     `json:"branch"`
	Credential   Credential `json:"credential"`
	Since        *time.Time `json:"since,omitempty"`     // explicit lower bound, overrides trace log
	LastScanAt   *time.Time `json:"last_scan,omitempty"` // caller-supplied last-scan epoch hint
	CloneEnabled bool       `json:"clone_enabled"`       // allow the local-clone commit strategy
}

// ScanResult summarizes one completed (or failed) scan.
type ScanResult struct {
	ToolConfigID       string        `json:"tool_config_id"`
	Success            bool          `json:"success"`
	RepositoriesFound  int           `json:"repositories_found"`
	CommitsFound       int           `json:"commits_found"`
	MergeRequestsFound int           `json:"merge_requests_found"`
	UsersFound         int           `json:"users_found"`
	StartedAt          time.Time     `json:"started_at"`
	FinishedAt         time.Time     `json:"finished_at"`
	Duration           time.Duration `json:"duration"`
	ErrorMessage       string        `json:"error_message,omitempty"`
}

// ConnectionTrace records the outcome of the last fetch for a scope. The
// incremental fetchers read it to compute the next "since" window; losing it
// forces a full re-scan from the default lookback.
type ConnectionTrace struct {
	ID            int64     `json:"id"              db:"id"`
	ToolConfigID  string    `json:"tool_config_id"  db:"tool_config_id"`
	RepoName      string    `json:"repo_name"       db:"repo_name"`
	Success       bool      `json:"success"         db:"success"`
	LastScannedAt time.Time `json:"last_scanned_at" db:"last_scanned_at"`
	ErrorMessage  string    `json:"error_message"   db:"error_message"`
}
