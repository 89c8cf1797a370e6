package config

// Config is the root configuration structure for gitscan.
// Serialised to ~/.gitscan/config.json.
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"  json:"database"`
	Scan      ScanConfig      `mapstructure:"scan"      json:"scan"`
	Platforms PlatformsConfig `mapstructure:"platforms" json:"platforms"`
	Batch     BatchConfig     `mapstructure:"batch"     json:"batch"`
}

// DatabaseConfig controls the storage backend.
type DatabaseConfig struct {
	// Driver is "sqlite" (default) or "mysql".
	Driver string `mapstructure:"driver" json:"driver"`
	// Path is the SQLite file path (expanded at runtime).
	Path string `mapstructure:"path"   json:"path"`
	// DSN is the MySQL data source name (used when Driver == "mysql").
	DSN string `mapstructure:"dsn"    json:"dsn"`
}

// ScanConfig tunes the incremental fetchers and orchestrator.
type ScanConfig struct {
	// LookbackDays is the default window for first-time scans with no trace
	// log (default: 180).
	LookbackDays int `mapstructure:"lookback_days" json:"lookback_days"`
	// MaxCommits is the overall per-scan commit ceiling (default: 1000).
	MaxCommits int `mapstructure:"max_commits" json:"max_commits"`
	// MaxMergeRequests is the per-scan merge-request ceiling (default: 500).
	MaxMergeRequests int `mapstructure:"max_merge_requests" json:"max_merge_requests"`
	// MaxConcurrent bounds how many scans run in parallel in batch mode
	// (default: 3).
	MaxConcurrent int `mapstructure:"max_concurrent" json:"max_concurrent"`
}

// PlatformsConfig holds per-platform tuning, keyed the same way the strategy
// selector is.
type PlatformsConfig struct {
	GitHub    PlatformConfig `mapstructure:"github"    json:"github"`
	GitLab    PlatformConfig `mapstructure:"gitlab"    json:"gitlab"`
	Bitbucket PlatformConfig `mapstructure:"bitbucket" json:"bitbucket"`
	Azure     PlatformConfig `mapstructure:"azure"     json:"azure"`
}

// PlatformConfig tunes one platform's outbound call behaviour.
type PlatformConfig struct {
	// RequestsPerSecond is the per-credential budget (default: 5).
	RequestsPerSecond float64 `mapstructure:"requests_per_second" json:"requests_per_second"`
	// MaxRetries bounds retry of rate-limited/transient calls (default: 3).
	MaxRetries int `mapstructure:"max_retries" json:"max_retries"`
	// TimeoutSeconds is the HTTP timeout for one call (default: 30).
	TimeoutSeconds int `mapstructure:"timeout_seconds" json:"timeout_seconds"`
	// PageSize is the pagination size requested from the platform (default: 100).
	PageSize int `mapstructure:"page_size" json:"page_size"`
}

// BatchConfig lists the tool connections the batch command iterates.
type BatchConfig struct {
	// Cron is an optional schedule expression; empty runs the batch once.
	Cron string `mapstructure:"cron" json:"cron"`
	// Connections are the scopes to scan.
	Connections []ConnectionConfig `mapstructure:"connections" json:"connections"`
}

// ConnectionConfig is one configured tool connection (one scan scope).
type ConnectionConfig struct {
	ToolConfigID string `mapstructure:"tool_config_id" json:"tool_config_id"`
	ToolType     string `mapstructure:"tool_type"      json:"tool_type"`
	RepoURL      string `mapstructure:"repo_url"       json:"repo_url"`
	RepoName     string `mapstructure:"repo_name"      json:"repo_name"`
	Branch       string `mapstructure:"branch"         json:"branch"`
	Token        string `mapstructure:"token"          json:"token"`
	Username     string `mapstructure:"username"       json:"username"`
	Password     string `mapstructure:"password"       json:"password"`
	CloneEnabled bool   `mapstructure:"clone_enabled"  json:"clone_enabled"`
}

// ForType returns the tuning block for the given platform name, falling back
// to GitHub defaults for unknown names.
func (p PlatformsConfig) ForType(name string) PlatformConfig {
	switch name {
	case "gitlab":
		return p.GitLab
	case "bitbucket":
		return p.Bitbucket
	case "azure":
		return p.Azure
	default:
		return p.GitHub
	}
}
