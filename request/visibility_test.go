package request

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// visTestRequest builds a request in the given status at turn 2 with one
// output file voted on by bob and carol and a set of comments.
func visTestRequest(status Status) *Request {
	return &Request{
		ID:         "req-1",
		Workspace:  "ws",
		Author:     "researcher",
		Status:     status,
		ReviewTurn: 2,
		SubmittedReviews: map[string]time.Time{
			"bob": time.Now(),
		},
		Groups: []FileGroup{
			{
				ID:       "g1",
				Name:     "g1",
				Context:  "counts",
				Controls: "rounded",
				Files: []RequestFile{
					{
						ID:       "f1",
						Relpath:  "output/a.csv",
						FileType: FileTypeOutput,
						Votes: []FileVote{
							{Reviewer: "bob", Vote: VoteApproved, ReviewTurn: 2},
							{Reviewer: "carol", Vote: VoteChangesRequested, ReviewTurn: 2},
						},
					},
				},
			},
		},
	}
}

func TestVoteBlinding(t *testing.T) {
	t.Run("IndependentPhaseHidesOtherVotes", func(t *testing.T) {
		r := visTestRequest(StatusSubmitted)
		f := &r.Groups[0].Files[0]

		// carol sees only her own vote
		visible := VisibleVotes(r, f, "carol", true)
		require.Len(t, visible, 1)
		assert.Equal(t, "carol", visible[0].Reviewer)

		// bob sees only his own vote
		visible = VisibleVotes(r, f, "bob", true)
		require.Len(t, visible, 1)
		assert.Equal(t, "bob", visible[0].Reviewer)

		// the author sees no votes at all
		assert.Empty(t, VisibleVotes(r, f, "researcher", false))
	})

	t.Run("ConsolidatingPhaseShowsAllVotesToReviewers", func(t *testing.T) {
		r := visTestRequest(StatusReviewed)
		f := &r.Groups[0].Files[0]

		assert.Len(t, VisibleVotes(r, f, "carol", true), 2)
		assert.Empty(t, VisibleVotes(r, f, "researcher", false))
	})
}

func TestDecisionVisible(t *testing.T) {
	tests := []struct {
		name      string
		status    Status
		canReview bool
		want      bool
	}{
		{name: "IndependentHidesFromReviewers", status: StatusSubmitted, canReview: true, want: false},
		{name: "IndependentHidesFromAuthor", status: StatusSubmitted, canReview: false, want: false},
		{name: "PartiallyReviewedStillHidden", status: StatusPartiallyReviewed, canReview: true, want: false},
		{name: "ConsolidatingShowsReviewers", status: StatusReviewed, canReview: true, want: true},
		{name: "ConsolidatingHidesFromAuthor", status: StatusReviewed, canReview: false, want: false},
		{name: "ReturnedShowsEveryone", status: StatusReturned, canReview: false, want: true},
		{name: "ReleasedShowsEveryone", status: StatusReleased, canReview: false, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := visTestRequest(tt.status)
			assert.Equal(t, tt.want, DecisionVisible(r, tt.canReview))
		})
	}
}

func TestReviewStatus(t *testing.T) {
	t.Run("IndependentReadsIncompleteWithOwnVote", func(t *testing.T) {
		r := visTestRequest(StatusSubmitted)
		f := &r.Groups[0].Files[0]

		decision, own := ReviewStatus(r, f, "carol", true)
		assert.Equal(t, DecisionIncomplete, decision)
		require.NotNil(t, own)
		assert.Equal(t, VoteChangesRequested, own.Vote)
	})

	t.Run("ConsolidatingShowsDecisionToReviewer", func(t *testing.T) {
		r := visTestRequest(StatusReviewed)
		r.SubmittedReviews["carol"] = time.Now()
		f := &r.Groups[0].Files[0]

		decision, _ := ReviewStatus(r, f, "bob", true)
		assert.Equal(t, DecisionConflicted, decision)
	})

	t.Run("AuthorNeverGetsAVote", func(t *testing.T) {
		r := visTestRequest(StatusReturned)
		f := &r.Groups[0].Files[0]

		_, own := ReviewStatus(r, f, "researcher", false)
		assert.Nil(t, own)
	})
}

func TestCommentVisibleTo(t *testing.T) {
	public := func(author string, turn int) *Comment {
		return &Comment{Author: author, Text: "note", Visibility: VisibilityPublic, ReviewTurn: turn}
	}
	private := func(author string, turn int) *Comment {
		return &Comment{Author: author, Text: "note", Visibility: VisibilityPrivate, ReviewTurn: turn}
	}

	t.Run("AuthorAlwaysSeesOwn", func(t *testing.T) {
		r := visTestRequest(StatusSubmitted)
		assert.True(t, CommentVisibleTo(r, private("bob", 2), "bob", true))
		assert.True(t, CommentVisibleTo(r, public("researcher", 2), "researcher", false))
	})

	t.Run("IndependentPhaseBlindsCurrentTurn", func(t *testing.T) {
		r := visTestRequest(StatusSubmitted)
		// bob's current-turn comments are hidden from carol
		assert.False(t, CommentVisibleTo(r, public("bob", 2), "carol", true))
		assert.False(t, CommentVisibleTo(r, private("bob", 2), "carol", true))
		// but previous-turn comments are not
		assert.True(t, CommentVisibleTo(r, public("bob", 1), "carol", true))
		assert.True(t, CommentVisibleTo(r, private("bob", 1), "carol", true))
	})

	t.Run("ConsolidatingRevealsToReviewersOnly", func(t *testing.T) {
		r := visTestRequest(StatusReviewed)
		assert.True(t, CommentVisibleTo(r, public("bob", 2), "carol", true))
		assert.True(t, CommentVisibleTo(r, private("bob", 2), "carol", true))
		// the author keeps waiting until the turn is over
		assert.False(t, CommentVisibleTo(r, public("bob", 2), "researcher", false))
	})

	t.Run("AuthorSeesPublicFromPastTurns", func(t *testing.T) {
		r := visTestRequest(StatusReturned)
		r.ReviewTurn = 3
		assert.True(t, CommentVisibleTo(r, public("bob", 2), "researcher", false))
	})

	t.Run("PrivateNeverVisibleToAuthor", func(t *testing.T) {
		for _, status := range []Status{
			StatusSubmitted, StatusPartiallyReviewed, StatusReviewed,
			StatusReturned, StatusApproved, StatusReleased,
		} {
			r := visTestRequest(status)
			r.ReviewTurn = 5
			c := private("bob", 2)
			assert.False(t, CommentVisibleTo(r, c, "researcher", false),
				"private comment leaked to author in status %s", status)
		}
	})

	t.Run("CompletePhaseShowsPublicToEveryone", func(t *testing.T) {
		r := visTestRequest(StatusReleased)
		assert.True(t, CommentVisibleTo(r, public("bob", 2), "researcher", false))
		assert.True(t, CommentVisibleTo(r, public("bob", 2), "carol", true))
	})

	t.Run("AuthorDraftsHiddenWhileRequestIsTheirs", func(t *testing.T) {
		r := visTestRequest(StatusReturned)
		// researcher comments during the returned turn; reviewers see it
		// only after resubmission moves the turn on.
		c := public("researcher", 2)
		assert.False(t, CommentVisibleTo(r, c, "bob", true))

		r.Status = StatusSubmitted
		r.ReviewTurn = 3
		assert.True(t, CommentVisibleTo(r, c, "bob", true))
	})
}

func TestVisibleComments(t *testing.T) {
	r := visTestRequest(StatusReviewed)
	r.Groups[0].Comments = []Comment{
		{ID: "c1", Author: "bob", Text: "private note", Visibility: VisibilityPrivate, ReviewTurn: 2},
		{ID: "c2", Author: "carol", Text: "public note", Visibility: VisibilityPublic, ReviewTurn: 2},
		{ID: "c3", Author: "researcher", Text: "old reply", Visibility: VisibilityPublic, ReviewTurn: 1},
	}
	g := &r.Groups[0]

	// reviewer during consolidation sees everything
	assert.Len(t, VisibleComments(r, g, "bob", true), 3)

	// author sees only their own and past-turn public comments
	visible := VisibleComments(r, g, "researcher", false)
	require.Len(t, visible, 1)
	assert.Equal(t, "c3", visible[0].ID)
}
