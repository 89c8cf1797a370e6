package scan

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/PublicisSapient/knowhow-processors-sub002/models"
)

// identity is one observed actor reference: a platform login when the API
// provided one, otherwise whatever the git metadata carried.
type identity struct {
	Login       string
	DisplayName string
	Email       string
}

// resolveUsers folds every actor seen in the fetched commits and merge
// requests into the scm_users table and back-fills the numeric user
// references on the records. Username is the primary identity signal; email
// is the secondary one for commit authors with no platform login. The raw
// author strings on the records are kept regardless, so resolution gaps
// never lose data.
func (e *Executor) resolveUsers(ctx context.Context, req models.ScanRequest, commits []models.Commit, mrs []models.MergeRequest) (int, error) {
	res := &resolver{
		exec:     e,
		req:      req,
		byName:   map[string]*models.User{},
		byEmail:  map[string]*models.User{},
		distinct: map[int64]bool{},
	}

	for i := range commits {
		c := &commits[i]
		authorLogin, committerLogin := commitLogins(c)

		author, err := res.resolve(ctx, identity{Login: authorLogin, DisplayName: c.AuthorName, Email: c.AuthorEmail})
		if err != nil {
			return 0, err
		}
		if author != nil {
			c.AuthorUserID = &author.ID
		}

		committer, err := res.resolve(ctx, identity{Login: committerLogin, DisplayName: c.CommitterName, Email: c.CommitterEmail})
		if err != nil {
			return 0, err
		}
		if committer != nil {
			c.CommitterUserID = &committer.ID
		}
	}

	for i := range mrs {
		mr := &mrs[i]
		author, err := res.resolve(ctx, identity{Login: mr.AuthorName, Email: mr.AuthorEmail})
		if err != nil {
			return 0, err
		}
		if author != nil {
			mr.AuthorUserID = &author.ID
		}
		for _, reviewer := range mr.ReviewerList() {
			if _, err := res.resolve(ctx, identity{Login: reviewer}); err != nil {
				return 0, err
			}
		}
	}

	return len(res.distinct), nil
}

type resolver struct {
	exec     *Executor
	req      models.ScanRequest
	byName   map[string]*models.User
	byEmail  map[string]*models.User
	distinct map[int64]bool
}

// resolve maps one identity onto a stored user, creating it when new. An
// identity with neither login, email, nor display name resolves to nil.
func (r *resolver) resolve(ctx context.Context, id identity) (*models.User, error) {
	username := strings.TrimSpace(id.Login)
	email := strings.ToLower(strings.TrimSpace(id.Email))

	if username == "" && email != "" {
		if u, ok := r.byEmail[email]; ok {
			return u, nil
		}
		u, err := r.exec.store.FindUserByEmail(ctx, r.req.ToolConfigID, email)
		if err != nil {
			return nil, err
		}
		if u != nil {
			r.remember(u, email)
			return u, nil
		}
		// No stored user matches; key the new one on the email local part.
		if at := strings.Index(email, "@"); at > 0 {
			username = email[:at]
		}
	}
	if username == "" {
		username = usernameFromDisplayName(id.DisplayName)
	}
	if username == "" {
		return nil, nil
	}

	key := strings.ToLower(username)
	if u, ok := r.byName[key]; ok {
		return u, nil
	}

	u, err := r.exec.store.FindOrCreateUser(ctx, models.User{
		ToolConfigID: r.req.ToolConfigID,
		Username:     username,
		DisplayName:  id.DisplayName,
		Email:        email,
		RepoName:     r.req.RepoName,
		Active:       true,
	})
	if err != nil {
		return nil, err
	}
	r.byName[key] = u
	r.remember(u, email)
	return u, nil
}

func (r *resolver) remember(u *models.User, email string) {
	r.distinct[u.ID] = true
	r.byName[strings.ToLower(u.Username)] = u
	if email != "" {
		r.byEmail[email] = u
	} else if u.Email != "" {
		r.byEmail[strings.ToLower(u.Email)] = u
	}
}

// commitLogins reads the platform logins a fetch strategy stashed alongside
// the git identity, when the platform exposed them.
func commitLogins(c *models.Commit) (author, committer string) {
	if c.PlatformData == "" {
		return "", ""
	}
	var bag map[string]string
	if err := json.Unmarshal([]byte(c.PlatformData), &bag); err != nil {
		return "", ""
	}
	return bag["author_login"], bag["committer_login"]
}

// usernameFromDisplayName derives a stable fallback username from a git
// author name: lowercased with whitespace collapsed to dots.
func usernameFromDisplayName(name string) string {
	name = strings.TrimSpace(strings.ToLower(name))
	if name == "" {
		return ""
	}
	return strings.Join(strings.Fields(name), ".")
}
