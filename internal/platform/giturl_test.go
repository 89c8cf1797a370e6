package platform

import (
	"errors"
	"testing"

	"github.com/PublicisSapient/knowhow-processors-sub002/models"
)

func TestParseGitURL(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		declared models.ToolType
		want     models.GitURLInfo
	}{
		{
			name:     "github https with .git suffix",
			url:      "https://github.com/example/myapp.git",
			declared: models.ToolGitHub,
			want: models.GitURLInfo{
				Platform: models.ToolGitHub,
				Host:     "github.com",
				Owner:    "example",
				Repo:     "myapp",
				CloneURL: "https://github.com/example/myapp.git",
			},
		},
		{
			name:     "ssh shorthand",
			url:      "git@github.com:example/myapp.git",
			declared: models.ToolGitHub,
			want: models.GitURLInfo{
				Platform: models.ToolGitHub,
				Host:     "github.com",
				Owner:    "example",
				Repo:     "myapp",
				CloneURL: "https://github.com/example/myapp.git",
			},
		},
		{
			name:     "gitlab nested groups",
			url:      "https://gitlab.com/group/subgroup/app",
			declared: models.ToolGitLab,
			want: models.GitURLInfo{
				Platform: models.ToolGitLab,
				Host:     "gitlab.com",
				Owner:    "group",
				SubOrg:   "subgroup",
				Repo:     "app",
				CloneURL: "https://gitlab.com/group/subgroup/app.git",
			},
		},
		{
			name:     "bitbucket workspace",
			url:      "https://bitbucket.org/workspace/app",
			declared: models.ToolBitbucket,
			want: models.GitURLInfo{
				Platform: models.ToolBitbucket,
				Host:     "bitbucket.org",
				Owner:    "workspace",
				Repo:     "app",
				CloneURL: "https://bitbucket.org/workspace/app.git",
			},
		},
		{
			name:     "azure dev.azure.com",
			url:      "https://dev.azure.com/org/project/_git/app",
			declared: models.ToolAzure,
			want: models.GitURLInfo{
				Platform: models.ToolAzure,
				Host:     "dev.azure.com",
				Owner:    "org",
				SubOrg:   "project",
				Repo:     "app",
				CloneURL: "https://dev.azure.com/org/project/_git/app",
			},
		},
		{
			name:     "azure legacy visualstudio.com",
			url:      "https://myorg.visualstudio.com/project/_git/app",
			declared: models.ToolAzure,
			want: models.GitURLInfo{
				Platform: models.ToolAzure,
				Host:     "myorg.visualstudio.com",
				Owner:    "myorg",
				SubOrg:   "project",
				Repo:     "app",
				CloneURL: "https://myorg.visualstudio.com/myorg/project/_git/app",
			},
		},
		{
			name:     "self-hosted custom domain trusts declared type",
			url:      "https://git.example.com/team/app.git",
			declared: models.ToolGitLab,
			want: models.GitURLInfo{
				Platform: models.ToolGitLab,
				Host:     "git.example.com",
				Owner:    "team",
				Repo:     "app",
				CloneURL: "https://git.example.com/team/app.git",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseGitURL(tt.url, tt.declared)
			if err != nil {
				t.Fatalf("ParseGitURL(%q): %v", tt.url, err)
			}
			if got != tt.want {
				t.Errorf("ParseGitURL(%q) = %+v, want %+v", tt.url, got, tt.want)
			}
		})
	}
}

func TestParseGitURLConfigErrors(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		declared models.ToolType
	}{
		{"empty URL", "", models.ToolGitHub},
		{"missing repo segment", "https://github.com/example", models.ToolGitHub},
		{"azure without _git", "https://dev.azure.com/org/project/app", models.ToolAzure},
		{"platform mismatch", "https://github.com/example/myapp", models.ToolGitLab},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseGitURL(tt.url, tt.declared)
			if err == nil {
				t.Fatalf("ParseGitURL(%q) succeeded, want error", tt.url)
			}
			if !errors.Is(err, ErrConfig) {
				t.Errorf("ParseGitURL(%q) error = %v, want ErrConfig", tt.url, err)
			}
		})
	}
}
