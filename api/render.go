package api

import (
	"time"

	"github.com/dustin/go-humanize"

	"airlock.evalgo.org/request"
)

// The view types are the wire shape of a request as one particular user
// may see it: votes, comments, and decisions have already been filtered
// by the visibility rules, so handlers can marshal them directly.

type RequestView struct {
	ID         string         `json:"id"`
	Workspace  string         `json:"workspace"`
	Author     string         `json:"author"`
	Status     request.Status `json:"status"`
	ReviewTurn int            `json:"review_turn"`

	// CanReview reports whether the viewing user may review this request.
	CanReview bool `json:"can_review"`
	// ReviewSubmitted reports whether the viewing user already submitted
	// their review this turn.
	ReviewSubmitted bool `json:"review_submitted"`

	Groups []GroupView `json:"groups"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type GroupView struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Context  string `json:"context"`
	Controls string `json:"controls"`

	Files    []FileView    `json:"files"`
	Comments []CommentView `json:"comments"`
}

type FileView struct {
	ID        string           `json:"id"`
	Relpath   string           `json:"relpath"`
	FileType  request.FileType `json:"filetype"`
	Size      int64            `json:"size"`
	SizeHuman string           `json:"size_human"`
	Timestamp time.Time        `json:"timestamp"`

	Withdrawn bool `json:"withdrawn"`

	// Decision is the consolidated review status as visible to this user;
	// INCOMPLETE while decisions are hidden.
	Decision request.Decision `json:"decision"`
	// OwnVote is the user's own standing vote, if any.
	OwnVote *request.Vote `json:"own_vote,omitempty"`
	// Votes lists the individual votes this user may see.
	Votes []VoteView `json:"votes"`

	ReleasedAt *time.Time `json:"released_at,omitempty"`
	ReleasedBy string     `json:"released_by,omitempty"`
	Uploaded   bool       `json:"uploaded"`
}

type VoteView struct {
	Reviewer   string       `json:"reviewer"`
	Vote       request.Vote `json:"vote"`
	ReviewTurn int          `json:"review_turn"`
}

type CommentView struct {
	ID         string             `json:"id"`
	Author     string             `json:"author"`
	Text       string             `json:"text"`
	Visibility request.Visibility `json:"visibility"`
	ReviewTurn int                `json:"review_turn"`
	CreatedAt  time.Time          `json:"created_at"`
}

// renderRequest projects a request aggregate into the view the acting
// user may see.
func renderRequest(r *request.Request, user request.Actor) RequestView {
	return renderRequestFor(r, user.Name(), request.CanReview(user, r))
}

func renderRequestFor(r *request.Request, username string, canReview bool) RequestView {
	view := RequestView{
		ID:              r.ID,
		Workspace:       r.Workspace,
		Author:          r.Author,
		Status:          r.Status,
		ReviewTurn:      r.ReviewTurn,
		CanReview:       canReview,
		ReviewSubmitted: r.HasSubmittedReview(username),
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
	for i := range r.Groups {
		g := &r.Groups[i]
		groupView := GroupView{
			ID:       g.ID,
			Name:     g.Name,
			Context:  g.Context,
			Controls: g.Controls,
			Files:    []FileView{},
			Comments: []CommentView{},
		}
		for j := range g.Files {
			groupView.Files = append(groupView.Files, renderFile(r, &g.Files[j], username, canReview))
		}
		for _, comment := range request.VisibleComments(r, g, username, canReview) {
			groupView.Comments = append(groupView.Comments, CommentView{
				ID:         comment.ID,
				Author:     comment.Author,
				Text:       comment.Text,
				Visibility: comment.Visibility,
				ReviewTurn: comment.ReviewTurn,
				CreatedAt:  comment.CreatedAt,
			})
		}
		view.Groups = append(view.Groups, groupView)
	}
	return view
}

func renderFile(r *request.Request, f *request.RequestFile, username string, canReview bool) FileView {
	decision, own := request.ReviewStatus(r, f, username, canReview)
	view := FileView{
		ID:         f.ID,
		Relpath:    f.Relpath,
		FileType:   f.FileType,
		Size:       f.Size,
		SizeHuman:  humanize.Bytes(uint64(f.Size)),
		Timestamp:  f.Timestamp,
		Withdrawn:  f.IsWithdrawn(),
		Decision:   decision,
		Votes:      []VoteView{},
		ReleasedAt: f.ReleasedAt,
		ReleasedBy: f.ReleasedBy,
		Uploaded:   f.Uploaded,
	}
	if own != nil {
		vote := own.Vote
		view.OwnVote = &vote
	}
	for _, v := range request.VisibleVotes(r, f, username, canReview) {
		view.Votes = append(view.Votes, VoteView{
			Reviewer:   v.Reviewer,
			Vote:       v.Vote,
			ReviewTurn: v.ReviewTurn,
		})
	}
	return view
}
