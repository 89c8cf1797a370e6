package fetch

import (
	"errors"
	"testing"
	"time"

	"github.com/PublicisSapient/knowhow-processors-sub002/internal/config"
	"github.com/PublicisSapient/knowhow-processors-sub002/internal/platform"
	"github.com/PublicisSapient/knowhow-processors-sub002/models"
)

func TestEffectiveSince(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	explicit := now.Add(-2 * time.Hour)
	lastScan := now.Add(-72 * time.Hour)

	tests := []struct {
		name string
		req  models.ScanRequest
		want time.Time
	}{
		{
			name: "explicit since wins",
			req:  models.ScanRequest{Since: &explicit, LastScanAt: &lastScan},
			want: explicit,
		},
		{
			name: "last scan beats lookback",
			req:  models.ScanRequest{LastScanAt: &lastScan},
			want: lastScan,
		},
		{
			name: "lookback is the fallback",
			req:  models.ScanRequest{},
			want: now.AddDate(0, 0, -180),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EffectiveSince(tt.req, 180, now)
			if !got.Equal(tt.want) {
				t.Errorf("EffectiveSince() = %v, want %v", got, tt.want)
			}
		})
	}
}

func testPlatforms() config.PlatformsConfig {
	pc := config.PlatformConfig{RequestsPerSecond: 5, MaxRetries: 3, TimeoutSeconds: 30, PageSize: 100}
	return config.PlatformsConfig{GitHub: pc, GitLab: pc, Bitbucket: pc, Azure: pc}
}

func TestPrepare(t *testing.T) {
	scanCfg := config.ScanConfig{LookbackDays: 180, MaxCommits: 1000, MaxMergeRequests: 500}
	limiter := platform.NewRateLimiter(testPlatforms())

	rf, err := Prepare(models.ScanRequest{
		ToolConfigID: "conn-1",
		ToolType:     models.ToolGitHub,
		RepoURL:      "https://github.com/example/myapp",
		Credential:   models.Credential{Token: "t"},
	}, scanCfg, testPlatforms(), limiter)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	ref := rf.Ref()
	if ref.URL.Owner != "example" || ref.URL.Repo != "myapp" {
		t.Errorf("unexpected parsed URL: %+v", ref.URL)
	}
	if ref.Branch != "master" {
		t.Errorf("empty branch should default to master, got %q", ref.Branch)
	}
}

func TestPrepareConfigErrors(t *testing.T) {
	scanCfg := config.ScanConfig{LookbackDays: 180, MaxCommits: 1000, MaxMergeRequests: 500}
	limiter := platform.NewRateLimiter(testPlatforms())

	tests := []struct {
		name string
		req  models.ScanRequest
	}{
		{
			name: "unknown tool type",
			req: models.ScanRequest{
				ToolType:   "subversion",
				RepoURL:    "https://github.com/example/myapp",
				Credential: models.Credential{Token: "t"},
			},
		},
		{
			name: "missing credential",
			req: models.ScanRequest{
				ToolType: models.ToolGitHub,
				RepoURL:  "https://github.com/example/myapp",
			},
		},
		{
			name: "unparsable URL",
			req: models.ScanRequest{
				ToolType:   models.ToolGitHub,
				RepoURL:    "not a url",
				Credential: models.Credential{Token: "t"},
			},
		},
		{
			name: "tool type and URL disagree",
			req: models.ScanRequest{
				ToolType:   models.ToolGitLab,
				RepoURL:    "https://github.com/example/myapp",
				Credential: models.Credential{Token: "t"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Prepare(tt.req, scanCfg, testPlatforms(), limiter)
			if err == nil {
				t.Fatal("expected a configuration error")
			}
			if !errors.Is(err, platform.ErrConfig) {
				t.Errorf("expected ErrConfig, got %v", err)
			}
		})
	}
}
