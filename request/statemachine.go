package request

import (
	"fmt"
	"time"
)

// Transition is one legal edge of the request state machine: who may
// move a request from one status to another, and the operation that
// does it.
type Transition struct {
	From    Status
	To      Status
	Role    StatusOwner
	Trigger string
}

// Transitions is the authoritative table of legal status transitions.
// Everything not listed here is illegal. The Role column names the party
// class; capability checks (output-checker, author identity) happen in
// the permission layer before the table is consulted.
var Transitions = []Transition{
	{StatusPending, StatusSubmitted, OwnerAuthor, "submit"},
	{StatusPending, StatusWithdrawn, OwnerAuthor, "withdraw"},
	{StatusSubmitted, StatusPartiallyReviewed, OwnerSystem, "first review submitted"},
	{StatusSubmitted, StatusReturned, OwnerReviewer, "early return"},
	{StatusPartiallyReviewed, StatusReviewed, OwnerSystem, "second review submitted"},
	{StatusPartiallyReviewed, StatusReturned, OwnerReviewer, "early return"},
	{StatusReviewed, StatusApproved, OwnerReviewer, "release files"},
	{StatusReviewed, StatusRejected, OwnerReviewer, "reject"},
	{StatusReviewed, StatusReturned, OwnerReviewer, "return"},
	{StatusReturned, StatusSubmitted, OwnerAuthor, "resubmit"},
	{StatusReturned, StatusWithdrawn, OwnerAuthor, "withdraw"},
	{StatusApproved, StatusReleased, OwnerSystem, "all uploads succeeded"},
}

// FindTransition looks up the table entry for a from→to edge.
func FindTransition(from, to Status) (Transition, bool) {
	for _, t := range Transitions {
		if t.From == from && t.To == to {
			return t, true
		}
	}
	return Transition{}, false
}

// CheckTransition validates that moving a request from one status to
// another is legal and that the acting party class is allowed to do it.
// An unknown edge fails with invalid_transition; a known edge driven by
// the wrong party fails with permission_denied.
func CheckTransition(from, to Status, role StatusOwner) error {
	t, ok := FindTransition(from, to)
	if !ok {
		return InvalidTransitionf("cannot move request from %s to %s", from, to)
	}
	if t.Role != role {
		return PermissionDeniedf("only %s may move request from %s to %s", roleLabel(t.Role), from, to)
	}
	return nil
}

func roleLabel(role StatusOwner) string {
	switch role {
	case OwnerAuthor:
		return "the author"
	case OwnerReviewer:
		return "an output checker"
	case OwnerSystem:
		return "the system"
	default:
		return string(role)
	}
}

// FlipsOwnership reports whether the transition hands the request to the
// other party. Every such transition starts a new review turn: the turn
// counter increments, the submitted-review set is archived into
// TurnReviewers, and votes become stale until reviewers resubmit.
func FlipsOwnership(from, to Status) bool {
	fromOwner := from.Owner()
	toOwner := to.Owner()
	if fromOwner == toOwner {
		return false
	}
	return (fromOwner == OwnerAuthor && toOwner == OwnerReviewer) ||
		(fromOwner == OwnerReviewer && toOwner == OwnerAuthor)
}

// StartTurn applies the new-turn bookkeeping on the request in place:
// the reviewers who submitted this turn become the previous-turn
// reviewer set, the submitted-review map resets, and the turn counter
// advances.
func StartTurn(r *Request) {
	r.TurnReviewers = r.SubmittedReviewers()
	r.SubmittedReviews = map[string]time.Time{}
	r.ReviewTurn++
}

// MermaidDiagram renders the transition table as a mermaid
// stateDiagram-v2 document for operator documentation.
func MermaidDiagram() string {
	doc := "```mermaid\nstateDiagram-v2\n"
	doc += fmt.Sprintf("    [*] --> %s\n", StatusPending)
	for _, t := range Transitions {
		doc += fmt.Sprintf("    %s --> %s: %s (%s)\n", t.From, t.To, t.Trigger, t.Role)
	}
	doc += "```\n"
	return doc
}
