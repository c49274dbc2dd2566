package request

import (
	"sort"
	"strings"
)

// The review engine: pure functions deriving consolidated per-file
// decisions from reviewer votes and enforcing the gates that guard
// submit, submit-review, return, and release.

// FileDecision aggregates the votes cast by the given reviewers on a
// single file:
//
//   - APPROVED: at least two approvals and no requested changes
//   - CHANGES_REQUESTED: at least two requested changes and no approvals
//   - CONFLICTED: at least one of each
//   - INCOMPLETE: anything less
//
// Reviewers without a vote on the file, and UNDECIDED votes, count
// toward nothing.
func FileDecision(f *RequestFile, reviewers []string) Decision {
	approvals, changes := 0, 0
	for _, reviewer := range reviewers {
		v := f.VoteBy(reviewer)
		if v == nil {
			continue
		}
		switch v.Vote {
		case VoteApproved:
			approvals++
		case VoteChangesRequested:
			changes++
		}
	}

	switch {
	case approvals >= 2 && changes == 0:
		return DecisionApproved
	case changes >= 2 && approvals == 0:
		return DecisionChangesRequested
	case approvals >= 1 && changes >= 1:
		return DecisionConflicted
	default:
		return DecisionIncomplete
	}
}

// Decision returns the consolidated decision for a file of this request,
// counting only the reviewers whose verdicts currently stand (submitted
// reviewers during review, the previous turn's reviewers while the
// request is back with the author).
func (r *Request) Decision(f *RequestFile) Decision {
	return FileDecision(f, r.DecisionReviewers())
}

// AllFilesReviewedBy reports whether the reviewer has cast a decisive
// vote (approve or request changes) on every output file of the request.
func (r *Request) AllFilesReviewedBy(reviewer string) bool {
	for _, f := range r.OutputFiles() {
		v := f.VoteBy(reviewer)
		if v == nil || v.Vote == VoteUndecided {
			return false
		}
	}
	return true
}

// CheckSubmitReviewGate enforces the submit-review gate for a reviewer:
// the reviewer must have voted on every output file, must have commented
// this turn on every group where they requested changes, and must not
// have submitted already.
func CheckSubmitReviewGate(r *Request, reviewer string) error {
	if r.HasSubmittedReview(reviewer) {
		return Preconditionf("you have already submitted your review for this turn")
	}
	if !r.AllFilesReviewedBy(reviewer) {
		return Preconditionf("you must review all files before submitting your review")
	}
	if missing := groupsMissingReviewerComment(r, reviewer); len(missing) > 0 {
		return Preconditionf(
			"you requested changes to files in filegroup(s) %s, please comment on the filegroup(s) before submitting your review",
			strings.Join(missing, ", "),
		)
	}
	return nil
}

// groupsMissingReviewerComment lists groups where the reviewer voted
// CHANGES_REQUESTED on some file this turn but has not commented this turn.
func groupsMissingReviewerComment(r *Request, reviewer string) []string {
	var missing []string
	for i := range r.Groups {
		g := &r.Groups[i]
		requested := false
		for _, f := range g.OutputFiles() {
			if v := f.VoteBy(reviewer); v != nil && v.Vote == VoteChangesRequested {
				requested = true
				break
			}
		}
		if requested && !g.HasCommentByInTurn(reviewer, r.ReviewTurn) {
			missing = append(missing, g.Name)
		}
	}
	sort.Strings(missing)
	return missing
}

// CheckSubmitGate enforces the author-side submission gate: the request
// needs at least one output file, every group holding output files must
// have context and controls filled in, and a returned request needs a
// public reply comment this turn on every group whose files still stand
// at CHANGES_REQUESTED.
func CheckSubmitGate(r *Request) error {
	if len(r.OutputFiles()) == 0 {
		return Preconditionf("cannot submit a request with no output files")
	}

	var incomplete []string
	for i := range r.Groups {
		g := &r.Groups[i]
		if len(g.OutputFiles()) > 0 && !g.IsComplete() {
			incomplete = append(incomplete, g.Name)
		}
	}
	if len(incomplete) > 0 {
		sort.Strings(incomplete)
		return Preconditionf(
			"incomplete context and/or controls for filegroup(s): %s",
			strings.Join(incomplete, ", "),
		)
	}

	if r.Status == StatusReturned {
		if missing := groupsMissingReplyComment(r); len(missing) > 0 {
			return Preconditionf(
				"please comment on filegroup(s) %s to explain how the requested changes have been addressed",
				strings.Join(missing, ", "),
			)
		}
	}
	return nil
}

// groupsMissingReplyComment lists groups holding a file whose standing
// decision is CHANGES_REQUESTED without a public comment this turn.
func groupsMissingReplyComment(r *Request) []string {
	reviewers := r.DecisionReviewers()
	var missing []string
	for i := range r.Groups {
		g := &r.Groups[i]
		changesRequested := false
		for _, f := range g.OutputFiles() {
			if FileDecision(f, reviewers) == DecisionChangesRequested {
				changesRequested = true
				break
			}
		}
		if changesRequested && !g.HasPublicCommentInTurn(r.ReviewTurn) {
			missing = append(missing, g.Name)
		}
	}
	sort.Strings(missing)
	return missing
}

// CheckReturnGate enforces the consolidated-return gate: every group
// containing a file decided CHANGES_REQUESTED or CONFLICTED must carry a
// public comment authored this turn, so the author learns why the
// request came back. Early returns from the blinded phase skip this
// gate; no consolidated decisions can exist there.
func CheckReturnGate(r *Request) error {
	reviewers := r.DecisionReviewers()
	var missing []string
	for i := range r.Groups {
		g := &r.Groups[i]
		needsComment := false
		for _, f := range g.OutputFiles() {
			switch FileDecision(f, reviewers) {
			case DecisionChangesRequested, DecisionConflicted:
				needsComment = true
			}
		}
		if needsComment && !g.HasPublicCommentInTurn(r.ReviewTurn) {
			missing = append(missing, g.Name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return Preconditionf(
			"filegroup(s) %s need a public comment explaining the requested changes before the request can be returned",
			strings.Join(missing, ", "),
		)
	}
	return nil
}

// CheckReleaseGate enforces the release gate: every output file's
// consolidated decision must be APPROVED.
func CheckReleaseGate(r *Request) error {
	outputs := r.OutputFiles()
	if len(outputs) == 0 {
		return Preconditionf("cannot release a request with no output files")
	}
	reviewers := r.DecisionReviewers()
	var blocked []string
	for _, f := range outputs {
		if FileDecision(f, reviewers) != DecisionApproved {
			blocked = append(blocked, f.Relpath)
		}
	}
	if len(blocked) > 0 {
		sort.Strings(blocked)
		return Preconditionf(
			"cannot release: %s not approved by two independent reviewers",
			strings.Join(blocked, ", "),
		)
	}
	return nil
}

// CheckVoteGate validates that a vote may be cast on a file: the request
// must be under review and the file must be a live output file.
func CheckVoteGate(r *Request, f *RequestFile) error {
	if !r.Status.IsUnderReview() {
		return InvalidTransitionf("request is not under review (status %s)", r.Status)
	}
	if f.IsWithdrawn() {
		return Preconditionf("cannot review a withdrawn file")
	}
	if f.FileType != FileTypeOutput {
		return Preconditionf("only output files are reviewed")
	}
	return nil
}

// CheckResetVoteGate validates withdrawing one's own vote: allowed while
// the request is under review and the reviewer has not yet submitted.
func CheckResetVoteGate(r *Request, reviewer string) error {
	if !r.Status.IsUnderReview() {
		return InvalidTransitionf("request is not under review (status %s)", r.Status)
	}
	if r.HasSubmittedReview(reviewer) {
		return Preconditionf("cannot reset a vote after submitting your review")
	}
	return nil
}

// CheckMarkUndecidedGate validates flipping a standing CHANGES_REQUESTED
// verdict to UNDECIDED while the request is back with the author. This
// lets a reviewer signal that the author's reply satisfied them without
// waiting for resubmission.
func CheckMarkUndecidedGate(r *Request, v *FileVote) error {
	if r.Status != StatusReturned {
		return InvalidTransitionf("votes can be marked undecided only on a returned request (status %s)", r.Status)
	}
	if v.Vote != VoteChangesRequested {
		return Preconditionf("only a changes-requested vote can be marked undecided")
	}
	return nil
}
