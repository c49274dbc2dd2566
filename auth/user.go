// Package auth resolves authenticated principals into capability views:
// which workspaces a user may read and whether they are a trained output
// checker. Identity comes either from a dev users file or from the Jobs
// site API; resolved capabilities are cached (optionally in Redis) so the
// web and uploader processes agree without re-authenticating.
package auth

import "time"

// User is the capability view of an authenticated principal.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`

	// Workspaces maps workspace name to its project metadata. Presence
	// of a key grants read access.
	Workspaces map[string]WorkspaceDetails `json:"workspaces"`

	// OutputChecker marks trained output checkers, who review, return,
	// reject and release requests.
	OutputChecker bool `json:"output_checker"`

	// ResolvedAt is when the capability set was fetched from the
	// identity provider. Cached entries expire AuthzRefresh after this.
	ResolvedAt time.Time `json:"resolved_at"`
}

// WorkspaceDetails carries per-workspace project metadata from the
// identity provider.
type WorkspaceDetails struct {
	ProjectName     string `json:"project_name,omitempty"`
	ProjectArchived bool   `json:"project_archived,omitempty"`
}

// Name returns the principal's username.
func (u *User) Name() string { return u.Username }

// IsOutputChecker reports whether the principal may review requests.
func (u *User) IsOutputChecker() bool { return u.OutputChecker }

// HasWorkspaceAccess reports whether the principal may read the named
// workspace.
func (u *User) HasWorkspaceAccess(workspace string) bool {
	_, ok := u.Workspaces[workspace]
	return ok
}

// WorkspaceNames returns the user's workspaces in map order.
func (u *User) WorkspaceNames() []string {
	names := make([]string, 0, len(u.Workspaces))
	for name := range u.Workspaces {
		names = append(names, name)
	}
	return names
}
