package request

// Visibility rules. Votes and comments are stored unfiltered; every view
// rendered for a user passes through these predicates. The blinding of
// independent review and the privacy of checker-only comments are
// enforced here, not in the store.
//
// The canReview argument is the caller's verdict on whether the user may
// review this particular request (output checker and not the author).
// The request author therefore never qualifies, which is what keeps
// PRIVATE comments invisible to authors.

// DecisionVisible reports whether consolidated per-file decisions may be
// shown. During the blinded phase decisions are hidden from everyone;
// during consolidation they are visible to reviewers only; once the turn
// is over they are visible to anyone who can see the request.
func DecisionVisible(r *Request, canReview bool) bool {
	switch r.Phase() {
	case PhaseIndependent:
		return false
	case PhaseConsolidating:
		return canReview
	default:
		return true
	}
}

// VoteVisibleTo reports whether a single reviewer's vote may be shown to
// the user. Own votes are always visible. Other reviewers' votes are
// visible only to reviewers, and never during the blinded phase.
func VoteVisibleTo(r *Request, v *FileVote, username string, canReview bool) bool {
	if v.Reviewer == username {
		return true
	}
	if !canReview {
		return false
	}
	return r.Phase() != PhaseIndependent
}

// CommentVisibleTo reports whether a comment may be shown to the user.
//
// Authors of a comment always see it. PUBLIC comments become visible to
// everyone once their turn is past, and to reviewers already during
// consolidation. PRIVATE comments are visible only to reviewers, and
// during their own turn only once the blinded phase is over.
func CommentVisibleTo(r *Request, c *Comment, username string, canReview bool) bool {
	if c.Author == username {
		return true
	}

	turnPast := c.ReviewTurn < r.ReviewTurn
	phase := r.Phase()

	switch c.Visibility {
	case VisibilityPublic:
		return turnPast || phase == PhaseComplete || (phase == PhaseConsolidating && canReview)
	case VisibilityPrivate:
		if !canReview {
			return false
		}
		return turnPast || phase != PhaseIndependent
	default:
		return false
	}
}

// VisibleComments filters a group's comments down to those the user may
// see, preserving order.
func VisibleComments(r *Request, g *FileGroup, username string, canReview bool) []Comment {
	visible := make([]Comment, 0, len(g.Comments))
	for i := range g.Comments {
		if CommentVisibleTo(r, &g.Comments[i], username, canReview) {
			visible = append(visible, g.Comments[i])
		}
	}
	return visible
}

// VisibleVotes filters a file's votes down to those the user may see.
func VisibleVotes(r *Request, f *RequestFile, username string, canReview bool) []FileVote {
	visible := make([]FileVote, 0, len(f.Votes))
	for i := range f.Votes {
		if VoteVisibleTo(r, &f.Votes[i], username, canReview) {
			visible = append(visible, f.Votes[i])
		}
	}
	return visible
}

// ReviewStatus returns the decision for a file as it may be presented to
// the user, together with the user's own vote if any. While decisions
// are hidden the status reads INCOMPLETE regardless of the underlying
// votes.
func ReviewStatus(r *Request, f *RequestFile, username string, canReview bool) (Decision, *FileVote) {
	var own *FileVote
	if canReview {
		own = f.VoteBy(username)
	}
	if !DecisionVisible(r, canReview) {
		return DecisionIncomplete, own
	}
	return r.Decision(f), own
}
