package platform

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PublicisSapient/knowhow-processors-sub002/models"
)

// ParseGitURL parses a repository URL into its platform identity. The parsed
// platform must match the tool type declared on the scan request; a mismatch
// or unparsable URL is a configuration error, not retried.
func ParseGitURL(rawURL string, declared models.ToolType) (models.GitURLInfo, error) {
	var info models.GitURLInfo

	raw := strings.TrimSpace(rawURL)
	if raw == "" {
		return info, fmt.Errorf("%w: empty repository URL", ErrConfig)
	}

	// SSH shorthand: git@host:owner/repo.git
	if strings.HasPrefix(raw, "git@") {
		raw = "https://" + strings.Replace(strings.TrimPrefix(raw, "git@"), ":", "/", 1)
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return info, fmt.Errorf("%w: unparsable repository URL %q", ErrConfig, rawURL)
	}

	host := strings.ToLower(u.Hostname())
	segments := splitPath(u.Path)

	info.Host = u.Hostname()
	info.Platform = detectPlatform(host)

	switch info.Platform {
	case models.ToolAzure:
		// https://dev.azure.com/org/project/_git/repo
		// https://org.visualstudio.com/project/_git/repo
		gitIdx := -1
		for i, s := range segments {
			if s == "_git" {
				gitIdx = i
				break
			}
		}
		if gitIdx < 1 || gitIdx+1 >= len(segments) {
			return info, fmt.Errorf("%w: azure repos URL %q lacks an _git segment", ErrConfig, rawURL)
		}
		info.Repo = strings.TrimSuffix(segments[gitIdx+1], ".git")
		info.SubOrg = segments[gitIdx-1]
		if gitIdx >= 2 {
			info.Owner = segments[gitIdx-2]
		} else if strings.HasSuffix(host, ".visualstudio.com") {
			info.Owner = strings.TrimSuffix(host, ".visualstudio.com")
		}
		if info.Owner == "" {
			return info, fmt.Errorf("%w: azure repos URL %q lacks an organization", ErrConfig, rawURL)
		}
		info.CloneURL = fmt.Sprintf("https://%s/%s/%s/_git/%s", info.Host, info.Owner, info.SubOrg, info.Repo)

	default:
		if len(segments) < 2 {
			return info, fmt.Errorf("%w: repository URL %q lacks owner/repo segments", ErrConfig, rawURL)
		}
		info.Owner = segments[0]
		// GitLab supports nested groups: everything but the last segment is
		// the namespace; keep the first level as owner, the rest as sub-org.
		if len(segments) > 2 {
			info.SubOrg = strings.Join(segments[1:len(segments)-1], "/")
		}
		info.Repo = strings.TrimSuffix(segments[len(segments)-1], ".git")
		info.CloneURL = fmt.Sprintf("https://%s/%s/%s.git", info.Host, strings.Join(segments[:len(segments)-1], "/"), info.Repo)
	}

	if info.Platform == "" {
		// Self-hosted instance on a custom domain: trust the declared type.
		info.Platform = declared
	}
	if info.Platform != declared {
		return info, fmt.Errorf("%w: repository URL %q looks like %s but the tool type is %s",
			ErrConfig, rawURL, info.Platform, declared)
	}
	return info, nil
}

func detectPlatform(host string) models.ToolType {
	switch {
	case host == "github.com" || strings.Contains(host, "github."):
		return models.ToolGitHub
	case host == "gitlab.com" || strings.Contains(host, "gitlab."):
		return models.ToolGitLab
	case host == "bitbucket.org" || strings.Contains(host, "bitbucket."):
		return models.ToolBitbucket
	case host == "dev.azure.com" || strings.HasSuffix(host, ".visualstudio.com"):
		return models.ToolAzure
	default:
		return ""
	}
}

func splitPath(p string) []string {
	var out []string
	for _, s := range strings.Split(p, "/") {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
