package request

// Actor is the capability view of an authenticated principal, resolved
// by the identity layer before any controller operation runs.
type Actor interface {
	// Name returns the principal's username.
	Name() string
	// IsOutputChecker reports whether the principal is a trained output
	// checker allowed to review, return, reject, and release requests.
	IsOutputChecker() bool
	// HasWorkspaceAccess reports whether the principal may read the
	// named workspace.
	HasWorkspaceAccess(workspace string) bool
}

// CanReview reports whether the actor may review this request: output
// checkers only, and never the request's own author.
func CanReview(u Actor, r *Request) bool {
	return u.IsOutputChecker() && u.Name() != r.Author
}

// CheckCanView validates read access to a request: its author, or any
// output checker. Everyone else gets not_found so request existence is
// not leaked across workspaces.
func CheckCanView(u Actor, r *Request) error {
	if u.Name() == r.Author || u.IsOutputChecker() {
		return nil
	}
	return NotFoundf("release request %s not found", r.ID)
}

// CheckCanEdit validates that the actor may modify the request's files,
// groups, or metadata: only the author, and only while the request is in
// an author-owned status.
func CheckCanEdit(u Actor, r *Request) error {
	if u.Name() != r.Author {
		return PermissionDeniedf("only the author may edit a release request")
	}
	if !r.Status.IsEditable() {
		return PermissionDeniedf("cannot edit a request in status %s", r.Status)
	}
	return nil
}

// CheckCanReview validates the reviewer capability on this request.
// Authors cannot review their own requests even when they are output
// checkers.
func CheckCanReview(u Actor, r *Request) error {
	if u.Name() == r.Author {
		return PermissionDeniedf("authors cannot review their own request")
	}
	if !u.IsOutputChecker() {
		return PermissionDeniedf("only output checkers may review requests")
	}
	return nil
}

// CheckCanCreateRequest validates that the actor may open a request on
// the workspace.
func CheckCanCreateRequest(u Actor, workspace string) error {
	if !u.HasWorkspaceAccess(workspace) {
		return PermissionDeniedf("you do not have access to workspace %s", workspace)
	}
	return nil
}

// CheckCanComment validates adding a comment with the given visibility.
//
// Authors comment only while they own the request, and only publicly.
// Reviewers comment while the request is under review; reviewers who
// also hold workspace access may additionally comment while the request
// is with the author.
func CheckCanComment(u Actor, r *Request, visibility Visibility) error {
	if u.Name() == r.Author {
		if !r.Status.IsEditable() {
			return PermissionDeniedf("cannot comment on a request in status %s", r.Status)
		}
		if visibility != VisibilityPublic {
			return PermissionDeniedf("authors may only add public comments")
		}
		return nil
	}

	if !CanReview(u, r) {
		return PermissionDeniedf("you do not have permission to comment on this request")
	}
	if r.Status.IsUnderReview() {
		return nil
	}
	if r.Status.IsEditable() && u.HasWorkspaceAccess(r.Workspace) {
		return nil
	}
	return PermissionDeniedf("cannot comment on a request in status %s", r.Status)
}

// CheckCanDeleteComment validates removing a comment: only its author,
// and only while the comment's turn is still the current one.
func CheckCanDeleteComment(u Actor, r *Request, c *Comment) error {
	if c.Author != u.Name() {
		return PermissionDeniedf("only the comment's author may delete it")
	}
	if c.ReviewTurn != r.ReviewTurn {
		return Preconditionf("comments from previous turns cannot be deleted")
	}
	return nil
}

// CheckCanPromoteComment validates making a private comment public:
// only its author, only within the comment's turn, and only
// PRIVATE→PUBLIC.
func CheckCanPromoteComment(u Actor, r *Request, c *Comment) error {
	if c.Author != u.Name() {
		return PermissionDeniedf("only the comment's author may change its visibility")
	}
	if c.ReviewTurn != r.ReviewTurn {
		return Preconditionf("comments from previous turns cannot be made public")
	}
	if c.Visibility != VisibilityPrivate {
		return Preconditionf("comment is already public")
	}
	return nil
}

// CheckCanAddFile validates adding a workspace file to the request: the
// actor must be able to edit the request, the path must be a releasable
// file type, and the path must not already be on the request. Withdrawn
// tombstones do not block re-adding; the add becomes an update.
func CheckCanAddFile(u Actor, r *Request, relpath string) error {
	if err := CheckCanEdit(u, r); err != nil {
		return err
	}
	if !IsValidFileType(relpath) {
		return Preconditionf("cannot add file of type %s to a release request", suffixOf(relpath))
	}
	if f, _ := r.FileByRelpath(relpath); f != nil && !f.IsWithdrawn() {
		return Invariantf("file %s has already been added to this request", relpath)
	}
	return nil
}

// CheckCanWithdrawFile validates withdrawing a file from the request.
func CheckCanWithdrawFile(u Actor, r *Request, f *RequestFile) error {
	if err := CheckCanEdit(u, r); err != nil {
		return err
	}
	if f.IsWithdrawn() {
		return Preconditionf("file %s has already been withdrawn", f.Relpath)
	}
	return nil
}

// CheckCanUpdateFile validates refreshing a file's snapshot from the
// workspace.
func CheckCanUpdateFile(u Actor, r *Request, f *RequestFile) error {
	return CheckCanEdit(u, r)
}
