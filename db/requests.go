package db

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"airlock.evalgo.org/request"
)

// preloadRequest attaches the full aggregate: groups in creation order,
// their files, votes, and comments.
func preloadRequest(db *gorm.DB) *gorm.DB {
	return db.
		Preload("Groups", func(db *gorm.DB) *gorm.DB { return db.Order("created_at") }).
		Preload("Groups.Files", func(db *gorm.DB) *gorm.DB { return db.Order("relpath") }).
		Preload("Groups.Files.Votes").
		Preload("Groups.Comments", func(db *gorm.DB) *gorm.DB { return db.Order("created_at") })
}

// GetRequest loads a request and its whole aggregate.
func (s *Store) GetRequest(ctx context.Context, id string) (*request.Request, error) {
	var r request.Request
	err := preloadRequest(s.db.WithContext(ctx)).First(&r, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, request.NotFoundf("release request %s not found", id)
		}
		return nil, translateErr(err)
	}
	return &r, nil
}

// GetRequestForUpdate loads a request holding a row lock on it for the
// rest of the transaction. All mutations of a request serialize on this
// lock.
func (s *Store) GetRequestForUpdate(ctx context.Context, id string) (*request.Request, error) {
	var r request.Request
	err := s.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&r, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, request.NotFoundf("release request %s not found", id)
		}
		return nil, translateErr(err)
	}
	full, err := s.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	return full, nil
}

// ActiveRequest returns the author's active (non-terminal) request for
// the workspace, or nil.
func (s *Store) ActiveRequest(ctx context.Context, workspace, author string) (*request.Request, error) {
	var r request.Request
	err := preloadRequest(s.db.WithContext(ctx)).
		Where("workspace = ? AND author = ? AND status NOT IN ?",
			workspace, author, terminalStatuses()).
		First(&r).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, translateErr(err)
	}
	return &r, nil
}

func terminalStatuses() []request.Status {
	return []request.Status{request.StatusReleased, request.StatusRejected, request.StatusWithdrawn}
}

// RequestsByStatus lists requests in the given status, oldest first.
func (s *Store) RequestsByStatus(ctx context.Context, status request.Status) ([]request.Request, error) {
	var requests []request.Request
	err := preloadRequest(s.db.WithContext(ctx)).
		Where("status = ?", status).
		Order("created_at").
		Find(&requests).Error
	if err != nil {
		return nil, translateErr(err)
	}
	return requests, nil
}

// RequestsForUser lists every request authored by the user, newest
// first.
func (s *Store) RequestsForUser(ctx context.Context, author string) ([]request.Request, error) {
	var requests []request.Request
	err := preloadRequest(s.db.WithContext(ctx)).
		Where("author = ?", author).
		Order("created_at DESC").
		Find(&requests).Error
	if err != nil {
		return nil, translateErr(err)
	}
	return requests, nil
}

// OutstandingReviews lists every request currently owned by reviewers,
// oldest first. This feeds the output-checker dashboard.
func (s *Store) OutstandingReviews(ctx context.Context) ([]request.Request, error) {
	var requests []request.Request
	err := preloadRequest(s.db.WithContext(ctx)).
		Where("status IN ?", []request.Status{
			request.StatusSubmitted, request.StatusPartiallyReviewed, request.StatusReviewed,
		}).
		Order("created_at").
		Find(&requests).Error
	if err != nil {
		return nil, translateErr(err)
	}
	return requests, nil
}

// ReleasedHashes returns the content hashes of every output file ever
// released from the workspace. The workspace view uses this to mark
// files RELEASED by content, not by path.
func (s *Store) ReleasedHashes(ctx context.Context, workspace string) (map[string]bool, error) {
	var hashes []string
	err := s.db.WithContext(ctx).
		Model(&request.RequestFile{}).
		Joins("JOIN requests ON requests.id = request_files.request_id").
		Where("requests.workspace = ? AND requests.status = ? AND request_files.file_type = ?",
			workspace, request.StatusReleased, request.FileTypeOutput).
		Pluck("request_files.content_hash", &hashes).Error
	if err != nil {
		return nil, translateErr(err)
	}
	released := make(map[string]bool, len(hashes))
	for _, h := range hashes {
		released[h] = true
	}
	return released, nil
}

// CreateRequest inserts a new request row. A unique-violation on the
// one-active-request rule surfaces as a conflict.
func (s *Store) CreateRequest(ctx context.Context, r *request.Request) error {
	return translateErr(s.db.WithContext(ctx).Omit("Groups").Create(r).Error)
}

// SaveRequest updates the request row itself (status, turn, review
// bookkeeping), not its children.
func (s *Store) SaveRequest(ctx context.Context, r *request.Request) error {
	return translateErr(s.db.WithContext(ctx).Omit("Groups").Save(r).Error)
}

// CreateGroup inserts a file group.
func (s *Store) CreateGroup(ctx context.Context, g *request.FileGroup) error {
	return translateErr(s.db.WithContext(ctx).Omit("Files", "Comments").Create(g).Error)
}

// SaveGroup updates a group's context and controls.
func (s *Store) SaveGroup(ctx context.Context, g *request.FileGroup) error {
	return translateErr(s.db.WithContext(ctx).Omit("Files", "Comments").Save(g).Error)
}

// CreateFile inserts a request file row.
func (s *Store) CreateFile(ctx context.Context, f *request.RequestFile) error {
	return translateErr(s.db.WithContext(ctx).Omit("Votes").Create(f).Error)
}

// SaveFile updates a request file row.
func (s *Store) SaveFile(ctx context.Context, f *request.RequestFile) error {
	return translateErr(s.db.WithContext(ctx).Omit("Votes").Save(f).Error)
}

// DeleteFile removes a file row and its votes. Used for withdraws while
// the request is still PENDING.
func (s *Store) DeleteFile(ctx context.Context, f *request.RequestFile) error {
	if err := s.DeleteVotesForFile(ctx, f.ID); err != nil {
		return err
	}
	return translateErr(s.db.WithContext(ctx).Delete(&request.RequestFile{}, "id = ?", f.ID).Error)
}

// UpsertVote stores a reviewer's vote on a file, replacing any earlier
// vote by the same reviewer. Repeated identical votes are no-ops at the
// row level.
func (s *Store) UpsertVote(ctx context.Context, v *request.FileVote) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "file_id"}, {Name: "reviewer"}},
		DoUpdates: clause.AssignmentColumns([]string{"vote", "review_turn", "updated_at"}),
	}).Create(v).Error
	return translateErr(err)
}

// DeleteVote removes a reviewer's vote row.
func (s *Store) DeleteVote(ctx context.Context, v *request.FileVote) error {
	return translateErr(s.db.WithContext(ctx).Delete(&request.FileVote{}, "id = ?", v.ID).Error)
}

// DeleteVotesForFile removes every vote on a file. Updating a file's
// snapshot invalidates all verdicts on the old content.
func (s *Store) DeleteVotesForFile(ctx context.Context, fileID string) error {
	return translateErr(s.db.WithContext(ctx).Delete(&request.FileVote{}, "file_id = ?", fileID).Error)
}

// CreateComment inserts a comment.
func (s *Store) CreateComment(ctx context.Context, c *request.Comment) error {
	return translateErr(s.db.WithContext(ctx).Create(c).Error)
}

// SaveComment updates a comment (visibility promotion).
func (s *Store) SaveComment(ctx context.Context, c *request.Comment) error {
	return translateErr(s.db.WithContext(ctx).Save(c).Error)
}

// DeleteComment removes a comment.
func (s *Store) DeleteComment(ctx context.Context, c *request.Comment) error {
	return translateErr(s.db.WithContext(ctx).Delete(&request.Comment{}, "id = ?", c.ID).Error)
}
