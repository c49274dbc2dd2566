package request

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func vote(reviewer string, v Vote) FileVote {
	return FileVote{Reviewer: reviewer, Vote: v, ReviewTurn: 1}
}

func TestFileDecision(t *testing.T) {
	tests := []struct {
		name      string
		votes     []FileVote
		reviewers []string
		want      Decision
	}{
		{
			name:      "NoVotes",
			votes:     nil,
			reviewers: []string{"bob", "carol"},
			want:      DecisionIncomplete,
		},
		{
			name:      "SingleApproval",
			votes:     []FileVote{vote("bob", VoteApproved)},
			reviewers: []string{"bob", "carol"},
			want:      DecisionIncomplete,
		},
		{
			name:      "TwoApprovals",
			votes:     []FileVote{vote("bob", VoteApproved), vote("carol", VoteApproved)},
			reviewers: []string{"bob", "carol"},
			want:      DecisionApproved,
		},
		{
			name: "ThreeApprovals",
			votes: []FileVote{
				vote("bob", VoteApproved), vote("carol", VoteApproved), vote("dave", VoteApproved),
			},
			reviewers: []string{"bob", "carol", "dave"},
			want:      DecisionApproved,
		},
		{
			name:      "TwoChangesRequested",
			votes:     []FileVote{vote("bob", VoteChangesRequested), vote("carol", VoteChangesRequested)},
			reviewers: []string{"bob", "carol"},
			want:      DecisionChangesRequested,
		},
		{
			name:      "Conflicted",
			votes:     []FileVote{vote("bob", VoteApproved), vote("carol", VoteChangesRequested)},
			reviewers: []string{"bob", "carol"},
			want:      DecisionConflicted,
		},
		{
			name: "ConflictedOutweighsMajority",
			votes: []FileVote{
				vote("bob", VoteApproved), vote("carol", VoteApproved), vote("dave", VoteChangesRequested),
			},
			reviewers: []string{"bob", "carol", "dave"},
			want:      DecisionConflicted,
		},
		{
			name:      "UndecidedDoesNotCount",
			votes:     []FileVote{vote("bob", VoteApproved), vote("carol", VoteUndecided)},
			reviewers: []string{"bob", "carol"},
			want:      DecisionIncomplete,
		},
		{
			name:      "UnsubmittedReviewerIgnored",
			votes:     []FileVote{vote("bob", VoteApproved), vote("carol", VoteApproved)},
			reviewers: []string{"bob"},
			want:      DecisionIncomplete,
		},
		{
			name:      "NoReviewers",
			votes:     []FileVote{vote("bob", VoteApproved), vote("carol", VoteApproved)},
			reviewers: nil,
			want:      DecisionIncomplete,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &RequestFile{Relpath: "output/a.csv", FileType: FileTypeOutput, Votes: tt.votes}
			assert.Equal(t, tt.want, FileDecision(f, tt.reviewers))
		})
	}
}

// reviewRequest builds a submitted request with one group of one output
// and one supporting file, ready for reviewer gate tests.
func reviewRequest() *Request {
	return &Request{
		ID:               "req-1",
		Workspace:        "ws",
		Author:           "researcher",
		Status:           StatusSubmitted,
		ReviewTurn:       2,
		SubmittedReviews: map[string]time.Time{},
		Groups: []FileGroup{
			{
				ID:       "g1",
				Name:     "g1",
				Context:  "counts",
				Controls: "rounded to 5",
				Files: []RequestFile{
					{ID: "f1", Relpath: "output/a.csv", FileType: FileTypeOutput},
					{ID: "f2", Relpath: "output/a.html", FileType: FileTypeSupporting},
				},
			},
		},
	}
}

func TestCheckSubmitReviewGate(t *testing.T) {
	t.Run("AllOutputFilesVoted", func(t *testing.T) {
		r := reviewRequest()
		r.Groups[0].Files[0].Votes = []FileVote{vote("bob", VoteApproved)}
		assert.NoError(t, CheckSubmitReviewGate(r, "bob"))
	})

	t.Run("SupportingFilesNeedNoVote", func(t *testing.T) {
		r := reviewRequest()
		r.Groups[0].Files[0].Votes = []FileVote{vote("bob", VoteApproved)}
		// file f2 is SUPPORTING and carries no vote
		assert.NoError(t, CheckSubmitReviewGate(r, "bob"))
	})

	t.Run("MissingVote", func(t *testing.T) {
		r := reviewRequest()
		err := CheckSubmitReviewGate(r, "bob")
		require.Error(t, err)
		assert.True(t, IsKind(err, KindPrecondition))
		assert.Contains(t, err.Error(), "review all files")
	})

	t.Run("UndecidedVoteBlocks", func(t *testing.T) {
		r := reviewRequest()
		r.Groups[0].Files[0].Votes = []FileVote{vote("bob", VoteUndecided)}
		err := CheckSubmitReviewGate(r, "bob")
		require.Error(t, err)
		assert.True(t, IsKind(err, KindPrecondition))
	})

	t.Run("ChangesRequestedNeedsComment", func(t *testing.T) {
		r := reviewRequest()
		r.Groups[0].Files[0].Votes = []FileVote{vote("bob", VoteChangesRequested)}
		err := CheckSubmitReviewGate(r, "bob")
		require.Error(t, err)
		assert.True(t, IsKind(err, KindPrecondition))
		assert.Contains(t, err.Error(), "g1")
	})

	t.Run("ChangesRequestedWithCommentThisTurn", func(t *testing.T) {
		r := reviewRequest()
		r.Groups[0].Files[0].Votes = []FileVote{vote("bob", VoteChangesRequested)}
		r.Groups[0].Comments = []Comment{
			{Author: "bob", Text: "please round", Visibility: VisibilityPrivate, ReviewTurn: 2},
		}
		assert.NoError(t, CheckSubmitReviewGate(r, "bob"))
	})

	t.Run("CommentFromPreviousTurnDoesNotCount", func(t *testing.T) {
		r := reviewRequest()
		r.Groups[0].Files[0].Votes = []FileVote{vote("bob", VoteChangesRequested)}
		r.Groups[0].Comments = []Comment{
			{Author: "bob", Text: "old note", Visibility: VisibilityPrivate, ReviewTurn: 1},
		}
		err := CheckSubmitReviewGate(r, "bob")
		require.Error(t, err)
	})

	t.Run("AlreadySubmitted", func(t *testing.T) {
		r := reviewRequest()
		r.Groups[0].Files[0].Votes = []FileVote{vote("bob", VoteApproved)}
		r.SubmittedReviews["bob"] = time.Now()
		err := CheckSubmitReviewGate(r, "bob")
		require.Error(t, err)
		assert.True(t, IsKind(err, KindPrecondition))
		assert.Contains(t, err.Error(), "already submitted")
	})
}

func TestCheckSubmitGate(t *testing.T) {
	t.Run("Complete", func(t *testing.T) {
		r := reviewRequest()
		r.Status = StatusPending
		assert.NoError(t, CheckSubmitGate(r))
	})

	t.Run("NoOutputFiles", func(t *testing.T) {
		r := reviewRequest()
		r.Status = StatusPending
		r.Groups[0].Files = []RequestFile{
			{ID: "f2", Relpath: "output/a.html", FileType: FileTypeSupporting},
		}
		err := CheckSubmitGate(r)
		require.Error(t, err)
		assert.True(t, IsKind(err, KindPrecondition))
		assert.Contains(t, err.Error(), "no output files")
	})

	t.Run("IncompleteGroup", func(t *testing.T) {
		r := reviewRequest()
		r.Status = StatusPending
		r.Groups[0].Controls = ""
		err := CheckSubmitGate(r)
		require.Error(t, err)
		assert.True(t, IsKind(err, KindPrecondition))
		assert.Contains(t, err.Error(), "incomplete context and/or controls")
		assert.Contains(t, err.Error(), "g1")
	})

	t.Run("SupportingOnlyGroupMayStayIncomplete", func(t *testing.T) {
		r := reviewRequest()
		r.Status = StatusPending
		r.Groups = append(r.Groups, FileGroup{
			ID:   "g2",
			Name: "g2",
			Files: []RequestFile{
				{ID: "f3", Relpath: "notes/readme.md", FileType: FileTypeSupporting},
			},
		})
		assert.NoError(t, CheckSubmitGate(r))
	})

	t.Run("ResubmitNeedsReplyComment", func(t *testing.T) {
		r := reviewRequest()
		r.Status = StatusReturned
		r.ReviewTurn = 3
		r.TurnReviewers = []string{"bob", "carol"}
		r.Groups[0].Files[0].Votes = []FileVote{
			vote("bob", VoteChangesRequested),
			vote("carol", VoteChangesRequested),
		}
		err := CheckSubmitGate(r)
		require.Error(t, err)
		assert.True(t, IsKind(err, KindPrecondition))
		assert.Contains(t, err.Error(), "g1")

		r.Groups[0].Comments = []Comment{
			{Author: "researcher", Text: "rounded to 10 now", Visibility: VisibilityPublic, ReviewTurn: 3},
		}
		assert.NoError(t, CheckSubmitGate(r))
	})

	t.Run("ResubmitWithoutStandingChangesNeedsNoComment", func(t *testing.T) {
		r := reviewRequest()
		r.Status = StatusReturned
		r.ReviewTurn = 3
		r.TurnReviewers = []string{"bob", "carol"}
		r.Groups[0].Files[0].Votes = []FileVote{
			vote("bob", VoteApproved),
			vote("carol", VoteChangesRequested),
		}
		// conflicted, not changes-requested: no reply comment required
		assert.NoError(t, CheckSubmitGate(r))
	})
}

func TestCheckReturnGate(t *testing.T) {
	returnable := func() *Request {
		r := reviewRequest()
		r.Status = StatusReviewed
		r.SubmittedReviews = map[string]time.Time{
			"bob":   time.Now(),
			"carol": time.Now(),
		}
		return r
	}

	t.Run("ChangesRequestedNeedsPublicComment", func(t *testing.T) {
		r := returnable()
		r.Groups[0].Files[0].Votes = []FileVote{
			vote("bob", VoteChangesRequested),
			vote("carol", VoteChangesRequested),
		}
		err := CheckReturnGate(r)
		require.Error(t, err)
		assert.True(t, IsKind(err, KindPrecondition))
		assert.Contains(t, err.Error(), "g1")
	})

	t.Run("PrivateCommentDoesNotSatisfyGate", func(t *testing.T) {
		r := returnable()
		r.Groups[0].Files[0].Votes = []FileVote{
			vote("bob", VoteChangesRequested),
			vote("carol", VoteChangesRequested),
		}
		r.Groups[0].Comments = []Comment{
			{Author: "bob", Text: "internal note", Visibility: VisibilityPrivate, ReviewTurn: 2},
		}
		require.Error(t, CheckReturnGate(r))
	})

	t.Run("PublicCommentSatisfiesGate", func(t *testing.T) {
		r := returnable()
		r.Groups[0].Files[0].Votes = []FileVote{
			vote("bob", VoteChangesRequested),
			vote("carol", VoteChangesRequested),
		}
		r.Groups[0].Comments = []Comment{
			{Author: "bob", Text: "please round to 10", Visibility: VisibilityPublic, ReviewTurn: 2},
		}
		assert.NoError(t, CheckReturnGate(r))
	})

	t.Run("ConflictedAlsoNeedsComment", func(t *testing.T) {
		r := returnable()
		r.Groups[0].Files[0].Votes = []FileVote{
			vote("bob", VoteApproved),
			vote("carol", VoteChangesRequested),
		}
		require.Error(t, CheckReturnGate(r))
	})

	t.Run("AllApprovedNeedsNothing", func(t *testing.T) {
		r := returnable()
		r.Groups[0].Files[0].Votes = []FileVote{
			vote("bob", VoteApproved),
			vote("carol", VoteApproved),
		}
		assert.NoError(t, CheckReturnGate(r))
	})
}

func TestCheckReleaseGate(t *testing.T) {
	reviewed := func(votes ...FileVote) *Request {
		r := reviewRequest()
		r.Status = StatusReviewed
		r.SubmittedReviews = map[string]time.Time{
			"bob":   time.Now(),
			"carol": time.Now(),
		}
		r.Groups[0].Files[0].Votes = votes
		return r
	}

	t.Run("AllApproved", func(t *testing.T) {
		r := reviewed(vote("bob", VoteApproved), vote("carol", VoteApproved))
		assert.NoError(t, CheckReleaseGate(r))
	})

	t.Run("ConflictedBlocks", func(t *testing.T) {
		r := reviewed(vote("bob", VoteApproved), vote("carol", VoteChangesRequested))
		err := CheckReleaseGate(r)
		require.Error(t, err)
		assert.True(t, IsKind(err, KindPrecondition))
		assert.Contains(t, err.Error(), "output/a.csv")
	})

	t.Run("IncompleteBlocks", func(t *testing.T) {
		r := reviewed(vote("bob", VoteApproved))
		require.Error(t, CheckReleaseGate(r))
	})

	t.Run("WithdrawnFilesIgnored", func(t *testing.T) {
		r := reviewed(vote("bob", VoteApproved), vote("carol", VoteApproved))
		r.Groups[0].Files = append(r.Groups[0].Files, RequestFile{
			ID: "f9", Relpath: "output/old.csv", FileType: FileTypeWithdrawn,
		})
		assert.NoError(t, CheckReleaseGate(r))
	})
}

func TestCheckVoteGate(t *testing.T) {
	r := reviewRequest()

	t.Run("OutputFileUnderReview", func(t *testing.T) {
		assert.NoError(t, CheckVoteGate(r, &r.Groups[0].Files[0]))
	})

	t.Run("SupportingFileNotVotable", func(t *testing.T) {
		err := CheckVoteGate(r, &r.Groups[0].Files[1])
		require.Error(t, err)
		assert.True(t, IsKind(err, KindPrecondition))
	})

	t.Run("WithdrawnFileNotVotable", func(t *testing.T) {
		f := &RequestFile{Relpath: "output/gone.csv", FileType: FileTypeWithdrawn}
		err := CheckVoteGate(r, f)
		require.Error(t, err)
		assert.True(t, IsKind(err, KindPrecondition))
	})

	t.Run("NotUnderReview", func(t *testing.T) {
		pending := reviewRequest()
		pending.Status = StatusPending
		err := CheckVoteGate(pending, &pending.Groups[0].Files[0])
		require.Error(t, err)
		assert.True(t, IsKind(err, KindInvalidTransition))
	})
}

func TestCheckResetVoteGate(t *testing.T) {
	r := reviewRequest()
	assert.NoError(t, CheckResetVoteGate(r, "bob"))

	r.SubmittedReviews["bob"] = time.Now()
	err := CheckResetVoteGate(r, "bob")
	require.Error(t, err)
	assert.True(t, IsKind(err, KindPrecondition))

	returned := reviewRequest()
	returned.Status = StatusReturned
	require.Error(t, CheckResetVoteGate(returned, "bob"))
}

func TestCheckMarkUndecidedGate(t *testing.T) {
	r := reviewRequest()
	r.Status = StatusReturned

	t.Run("ChangesRequestedOnReturned", func(t *testing.T) {
		v := &FileVote{Reviewer: "bob", Vote: VoteChangesRequested, ReviewTurn: 1}
		assert.NoError(t, CheckMarkUndecidedGate(r, v))
	})

	t.Run("ApprovedVoteCannotFlip", func(t *testing.T) {
		v := &FileVote{Reviewer: "bob", Vote: VoteApproved, ReviewTurn: 1}
		err := CheckMarkUndecidedGate(r, v)
		require.Error(t, err)
		assert.True(t, IsKind(err, KindPrecondition))
	})

	t.Run("OnlyOnReturnedRequests", func(t *testing.T) {
		underReview := reviewRequest()
		v := &FileVote{Reviewer: "bob", Vote: VoteChangesRequested, ReviewTurn: 1}
		err := CheckMarkUndecidedGate(underReview, v)
		require.Error(t, err)
		assert.True(t, IsKind(err, KindInvalidTransition))
	})
}

func TestDecisionReviewers(t *testing.T) {
	r := reviewRequest()
	r.SubmittedReviews = map[string]time.Time{"carol": time.Now(), "bob": time.Now()}
	r.TurnReviewers = []string{"dave"}

	// Under review: the submitted reviewers count.
	assert.Equal(t, []string{"bob", "carol"}, r.DecisionReviewers())

	// Back with the author: the previous turn's reviewers count.
	r.Status = StatusReturned
	assert.Equal(t, []string{"dave"}, r.DecisionReviewers())
}

func TestUploadsComplete(t *testing.T) {
	r := reviewRequest()
	assert.False(t, r.UploadsComplete())

	r.Groups[0].Files[0].Uploaded = true
	assert.True(t, r.UploadsComplete(), "supporting files do not gate release")

	r.Groups[0].Files = append(r.Groups[0].Files, RequestFile{
		ID: "f4", Relpath: "output/b.csv", FileType: FileTypeOutput,
	})
	assert.False(t, r.UploadsComplete())
}
