// Package request implements the release-request domain: the model of
// requests, file groups, files, votes and comments, the status state
// machine, the review engine that derives per-file decisions from
// reviewer votes, and the visibility rules that keep independent review
// blinded.
//
// Everything in this package is pure domain logic. Persistence lives in
// the db package, orchestration in the controller package.
package request

// Status is the lifecycle state of a release request.
type Status string

const (
	StatusPending           Status = "PENDING"
	StatusSubmitted         Status = "SUBMITTED"
	StatusPartiallyReviewed Status = "PARTIALLY_REVIEWED"
	StatusReviewed          Status = "REVIEWED"
	StatusReturned          Status = "RETURNED"
	StatusApproved          Status = "APPROVED"
	StatusReleased          Status = "RELEASED"
	StatusRejected          Status = "REJECTED"
	StatusWithdrawn         Status = "WITHDRAWN"
)

// StatusOwner names which party owns a request in a given status and
// therefore which party may act on it.
type StatusOwner string

const (
	OwnerAuthor   StatusOwner = "AUTHOR"
	OwnerReviewer StatusOwner = "REVIEWER"
	OwnerSystem   StatusOwner = "SYSTEM"
)

// statusOwners maps each status to the party that owns the request
// while it is in that status.
var statusOwners = map[Status]StatusOwner{
	StatusPending:           OwnerAuthor,
	StatusReturned:          OwnerAuthor,
	StatusSubmitted:         OwnerReviewer,
	StatusPartiallyReviewed: OwnerReviewer,
	StatusReviewed:          OwnerReviewer,
	StatusApproved:          OwnerSystem,
	StatusReleased:          OwnerSystem,
	StatusRejected:          OwnerSystem,
	StatusWithdrawn:         OwnerSystem,
}

// Owner returns the party that owns a request in this status.
func (s Status) Owner() StatusOwner {
	return statusOwners[s]
}

// IsEditable reports whether the author may modify the request's files,
// groups, and comments in this status.
func (s Status) IsEditable() bool {
	return s.Owner() == OwnerAuthor
}

// IsUnderReview reports whether output checkers may vote and submit
// reviews in this status.
func (s Status) IsUnderReview() bool {
	return s.Owner() == OwnerReviewer
}

// IsTerminal reports whether the request can never change status again.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusReleased, StatusRejected, StatusWithdrawn:
		return true
	}
	return false
}

// IsActive reports whether the request counts against the one active
// request per (workspace, author) limit.
func (s Status) IsActive() bool {
	return !s.IsTerminal()
}

// TurnPhase describes where the current review turn stands. It drives
// decision and comment visibility.
type TurnPhase string

const (
	// PhasePending: the request has not been submitted yet.
	PhasePending TurnPhase = "PENDING"
	// PhaseIndependent: blinded review, reviewers see only their own work.
	PhaseIndependent TurnPhase = "INDEPENDENT"
	// PhaseConsolidating: all reviews are in, reviewers coordinate.
	PhaseConsolidating TurnPhase = "CONSOLIDATING"
	// PhaseComplete: the request has reached a system-owned status.
	PhaseComplete TurnPhase = "COMPLETE"
	// PhaseAuthor: the request is back with the author.
	PhaseAuthor TurnPhase = "AUTHOR"
)

// Phase returns the review-turn phase implied by this status.
func (s Status) Phase() TurnPhase {
	switch s {
	case StatusPending:
		return PhasePending
	case StatusSubmitted, StatusPartiallyReviewed:
		return PhaseIndependent
	case StatusReviewed:
		return PhaseConsolidating
	case StatusReturned:
		return PhaseAuthor
	default:
		return PhaseComplete
	}
}

// FileType classifies a file on a release request.
type FileType string

const (
	// FileTypeOutput files are released to the external site.
	FileTypeOutput FileType = "OUTPUT"
	// FileTypeSupporting files give reviewers context and are never released.
	FileTypeSupporting FileType = "SUPPORTING"
	// FileTypeWithdrawn marks a file withdrawn after review began. The row
	// is kept as a tombstone so reviewers can see what disappeared.
	FileTypeWithdrawn FileType = "WITHDRAWN"
	// FileTypeCode marks read-only repository listings shown alongside a
	// request. Code files are never releasable.
	FileTypeCode FileType = "CODE"
)

// Vote is an individual reviewer's verdict on a single file.
type Vote string

const (
	VoteApproved         Vote = "APPROVED"
	VoteChangesRequested Vote = "CHANGES_REQUESTED"
	VoteUndecided        Vote = "UNDECIDED"
)

// Decision is the consolidated per-file outcome derived from the
// submitted reviewers' votes.
type Decision string

const (
	DecisionApproved         Decision = "APPROVED"
	DecisionChangesRequested Decision = "CHANGES_REQUESTED"
	DecisionConflicted       Decision = "CONFLICTED"
	DecisionIncomplete       Decision = "INCOMPLETE"
)

// Reason returns a human explanation of the decision, suitable for UI
// tooltips.
func (d Decision) Reason() string {
	switch d {
	case DecisionApproved:
		return "two independent reviewers have approved this file"
	case DecisionChangesRequested:
		return "two independent reviewers have requested changes to this file"
	case DecisionConflicted:
		return "reviewers disagree about this file"
	case DecisionIncomplete:
		return "this file has not been reviewed by two independent reviewers yet"
	default:
		return "unknown decision"
	}
}

// Visibility controls who may see a comment.
type Visibility string

const (
	// VisibilityPublic comments are shown to the author once the turn is over.
	VisibilityPublic Visibility = "PUBLIC"
	// VisibilityPrivate comments stay among output checkers only.
	VisibilityPrivate Visibility = "PRIVATE"
)

// AuditKind identifies the operation recorded by an audit entry.
type AuditKind string

const (
	AuditWorkspaceView             AuditKind = "workspace_view"
	AuditWorkspaceFileView         AuditKind = "workspace_file_view"
	AuditRequestCreate             AuditKind = "request_create"
	AuditRequestSubmit             AuditKind = "request_submit"
	AuditRequestWithdraw           AuditKind = "request_withdraw"
	AuditRequestReview             AuditKind = "request_review"
	AuditRequestApprove            AuditKind = "request_approve"
	AuditRequestReject             AuditKind = "request_reject"
	AuditRequestReturn             AuditKind = "request_return"
	AuditRequestRelease            AuditKind = "request_release"
	AuditRequestEarlyReturn        AuditKind = "request_early_return"
	AuditRequestFileAdd            AuditKind = "request_file_add"
	AuditRequestFileUpdate         AuditKind = "request_file_update"
	AuditRequestFileWithdraw       AuditKind = "request_file_withdraw"
	AuditRequestFileRelease        AuditKind = "request_file_release"
	AuditRequestFileUpload         AuditKind = "request_file_upload"
	AuditRequestFileApprove        AuditKind = "request_file_approve"
	AuditRequestFileRequestChanges AuditKind = "request_file_request_changes"
	AuditRequestFileResetReview    AuditKind = "request_file_reset_review"
	AuditRequestFileUndecided      AuditKind = "request_file_undecided"
	AuditRequestGroupEdit          AuditKind = "request_group_edit"
	AuditRequestComment            AuditKind = "request_comment"
	AuditRequestCommentDelete      AuditKind = "request_comment_delete"
	AuditRequestCommentVisibility  AuditKind = "request_comment_visibility_public"
)
