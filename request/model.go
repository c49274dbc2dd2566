package request

import (
	"sort"
	"time"
)

// Request is a release request: the root aggregate of the domain. A
// request belongs to one workspace and one author, owns its file groups,
// and moves through the Status state machine one review turn at a time.
//
// SubmittedReviews maps reviewer usernames to the time they submitted
// their review for the current turn. TurnReviewers holds the reviewers
// of the previous turn; it feeds decision derivation while the request
// is back with the author.
type Request struct {
	ID         string `gorm:"primaryKey" json:"id"`
	Workspace  string `gorm:"index:idx_request_workspace_author" json:"workspace"`
	Author     string `gorm:"index:idx_request_workspace_author" json:"author"`
	Status     Status `gorm:"index" json:"status"`
	ReviewTurn int    `json:"review_turn"`

	SubmittedReviews map[string]time.Time `gorm:"serializer:json" json:"submitted_reviews"`
	TurnReviewers    []string             `gorm:"serializer:json" json:"turn_reviewers"`

	// Jobs-site release coordinates, set when the request is approved and
	// handed to the upload scheduler.
	JobsReleaseID  string `json:"jobs_release_id,omitempty"`
	JobsReleaseURL string `json:"jobs_release_url,omitempty"`

	Groups []FileGroup `gorm:"foreignKey:RequestID" json:"groups"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FileGroup is a named set of files sharing one context and controls
// description. Group names are unique within a request.
type FileGroup struct {
	ID        string `gorm:"primaryKey" json:"id"`
	RequestID string `gorm:"uniqueIndex:idx_group_request_name" json:"request_id"`
	Name      string `gorm:"uniqueIndex:idx_group_request_name" json:"name"`
	Context   string `json:"context"`
	Controls  string `json:"controls"`

	Files    []RequestFile `gorm:"foreignKey:GroupID" json:"files"`
	Comments []Comment     `gorm:"foreignKey:GroupID" json:"comments"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RequestFile is a single workspace file snapshotted onto a request. The
// snapshot is identified by ContentHash; the workspace file may change
// afterwards without affecting the request. One row exists per
// (request, relpath); withdrawing in RETURNED turns the row into a
// WITHDRAWN tombstone instead of deleting it.
type RequestFile struct {
	ID        string `gorm:"primaryKey" json:"id"`
	RequestID string `gorm:"uniqueIndex:idx_file_request_relpath" json:"request_id"`
	GroupID   string `gorm:"index" json:"group_id"`
	Relpath   string `gorm:"uniqueIndex:idx_file_request_relpath" json:"relpath"`

	FileType    FileType  `json:"filetype"`
	ContentHash string    `gorm:"index" json:"content_hash"`
	Size        int64     `json:"size"`
	Timestamp   time.Time `json:"timestamp"`
	Commit      string    `json:"commit,omitempty"`
	Repo        string    `json:"repo,omitempty"`
	JobID       string    `json:"job_id,omitempty"`
	RowCount    *int      `json:"row_count,omitempty"`
	ColCount    *int      `json:"col_count,omitempty"`

	AddedBy     string `json:"added_by"`
	AddedInTurn int    `json:"added_in_turn"`

	WithdrawnAt     *time.Time `json:"withdrawn_at,omitempty"`
	WithdrawnInTurn *int       `json:"withdrawn_in_turn,omitempty"`

	ReleasedAt *time.Time `json:"released_at,omitempty"`
	ReleasedBy string     `json:"released_by,omitempty"`

	Uploaded          bool       `json:"uploaded"`
	UploadedAt        *time.Time `json:"uploaded_at,omitempty"`
	UploadAttempts    int        `json:"upload_attempts"`
	UploadAttemptedAt *time.Time `json:"upload_attempted_at,omitempty"`

	Votes []FileVote `gorm:"foreignKey:FileID" json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FileVote is one reviewer's current verdict on one file. A reviewer
// holds at most one vote per file; re-voting updates the row and stamps
// the turn it was cast in. Votes stay private until the reviewer submits
// their review for the turn.
type FileVote struct {
	ID         string `gorm:"primaryKey" json:"id"`
	FileID     string `gorm:"uniqueIndex:idx_vote_file_reviewer" json:"file_id"`
	Reviewer   string `gorm:"uniqueIndex:idx_vote_file_reviewer" json:"reviewer"`
	Vote       Vote   `json:"vote"`
	ReviewTurn int    `json:"review_turn"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Comment is a markdown note attached to a file group. PRIVATE comments
// are working notes between output checkers; PUBLIC comments are
// feedback for the author, revealed once the turn is over.
type Comment struct {
	ID         string     `gorm:"primaryKey" json:"id"`
	GroupID    string     `gorm:"index" json:"group_id"`
	Author     string     `json:"author"`
	Text       string     `json:"text"`
	Visibility Visibility `json:"visibility"`
	ReviewTurn int        `json:"review_turn"`

	CreatedAt time.Time `json:"created_at"`
}

// Group returns the named file group, or nil.
func (r *Request) Group(name string) *FileGroup {
	for i := range r.Groups {
		if r.Groups[i].Name == name {
			return &r.Groups[i]
		}
	}
	return nil
}

// GroupByID returns the file group with the given id, or nil.
func (r *Request) GroupByID(id string) *FileGroup {
	for i := range r.Groups {
		if r.Groups[i].ID == id {
			return &r.Groups[i]
		}
	}
	return nil
}

// FileByRelpath returns the file row for relpath (including WITHDRAWN
// tombstones) and its group, or (nil, nil).
func (r *Request) FileByRelpath(relpath string) (*RequestFile, *FileGroup) {
	for i := range r.Groups {
		g := &r.Groups[i]
		for j := range g.Files {
			if g.Files[j].Relpath == relpath {
				return &g.Files[j], g
			}
		}
	}
	return nil, nil
}

// Files returns every file row on the request, tombstones included.
func (r *Request) Files() []*RequestFile {
	var files []*RequestFile
	for i := range r.Groups {
		g := &r.Groups[i]
		for j := range g.Files {
			files = append(files, &g.Files[j])
		}
	}
	return files
}

// OutputFiles returns the non-withdrawn OUTPUT files of the request.
// These are the files reviews, release gates, and uploads operate on.
func (r *Request) OutputFiles() []*RequestFile {
	var files []*RequestFile
	for _, f := range r.Files() {
		if f.FileType == FileTypeOutput {
			files = append(files, f)
		}
	}
	return files
}

// CommentByID finds a comment across all groups, returning the comment
// and its group, or (nil, nil).
func (r *Request) CommentByID(id string) (*Comment, *FileGroup) {
	for i := range r.Groups {
		g := &r.Groups[i]
		for j := range g.Comments {
			if g.Comments[j].ID == id {
				return &g.Comments[j], g
			}
		}
	}
	return nil, nil
}

// Phase returns the review-turn phase of the request's current status.
func (r *Request) Phase() TurnPhase {
	return r.Status.Phase()
}

// SubmittedReviewers returns the reviewers who submitted a review this
// turn, sorted for deterministic iteration.
func (r *Request) SubmittedReviewers() []string {
	reviewers := make([]string, 0, len(r.SubmittedReviews))
	for reviewer := range r.SubmittedReviews {
		reviewers = append(reviewers, reviewer)
	}
	sort.Strings(reviewers)
	return reviewers
}

// HasSubmittedReview reports whether the reviewer already submitted
// their review for the current turn.
func (r *Request) HasSubmittedReview(reviewer string) bool {
	_, ok := r.SubmittedReviews[reviewer]
	return ok
}

// DecisionReviewers returns the reviewer set whose votes count toward
// per-file decisions in the current phase. While the request is back
// with the author the previous turn's reviewers still stand behind
// their verdicts; otherwise only reviewers who submitted this turn count.
func (r *Request) DecisionReviewers() []string {
	if r.Phase() == PhaseAuthor {
		reviewers := append([]string(nil), r.TurnReviewers...)
		sort.Strings(reviewers)
		return reviewers
	}
	return r.SubmittedReviewers()
}

// UploadsComplete reports whether every output file has been uploaded.
func (r *Request) UploadsComplete() bool {
	outputs := r.OutputFiles()
	if len(outputs) == 0 {
		return false
	}
	for _, f := range outputs {
		if !f.Uploaded {
			return false
		}
	}
	return true
}

// IsWithdrawn reports whether the file row is a withdrawal tombstone.
func (f *RequestFile) IsWithdrawn() bool {
	return f.FileType == FileTypeWithdrawn
}

// VoteBy returns the reviewer's vote on this file, or nil.
func (f *RequestFile) VoteBy(reviewer string) *FileVote {
	for i := range f.Votes {
		if f.Votes[i].Reviewer == reviewer {
			return &f.Votes[i]
		}
	}
	return nil
}

// IsComplete reports whether context and controls have both been filled
// in. Groups holding OUTPUT files must be complete before submission.
func (g *FileGroup) IsComplete() bool {
	return g.Context != "" && g.Controls != ""
}

// OutputFiles returns the group's non-withdrawn OUTPUT files.
func (g *FileGroup) OutputFiles() []*RequestFile {
	var files []*RequestFile
	for i := range g.Files {
		if g.Files[i].FileType == FileTypeOutput {
			files = append(files, &g.Files[i])
		}
	}
	return files
}

// HasPublicCommentInTurn reports whether the group carries at least one
// PUBLIC comment authored in the given turn.
func (g *FileGroup) HasPublicCommentInTurn(turn int) bool {
	for i := range g.Comments {
		c := &g.Comments[i]
		if c.ReviewTurn == turn && c.Visibility == VisibilityPublic {
			return true
		}
	}
	return false
}

// HasCommentByInTurn reports whether the author commented on the group
// in the given turn, regardless of visibility.
func (g *FileGroup) HasCommentByInTurn(author string, turn int) bool {
	for i := range g.Comments {
		c := &g.Comments[i]
		if c.ReviewTurn == turn && c.Author == author {
			return true
		}
	}
	return false
}
