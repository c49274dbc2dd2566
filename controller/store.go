package controller

import (
	"context"
	"time"

	"airlock.evalgo.org/db"
	"airlock.evalgo.org/request"
	"airlock.evalgo.org/uploader"
)

// Store is the persistence surface the controller drives. db.Store
// satisfies it; controller tests use an in-memory fake.
type Store interface {
	GetRequest(ctx context.Context, id string) (*request.Request, error)
	GetRequestForUpdate(ctx context.Context, id string) (*request.Request, error)
	ActiveRequest(ctx context.Context, workspace, author string) (*request.Request, error)
	RequestsForUser(ctx context.Context, author string) ([]request.Request, error)
	OutstandingReviews(ctx context.Context) ([]request.Request, error)
	ReleasedHashes(ctx context.Context, workspace string) (map[string]bool, error)

	CreateRequest(ctx context.Context, r *request.Request) error
	SaveRequest(ctx context.Context, r *request.Request) error
	CreateGroup(ctx context.Context, g *request.FileGroup) error
	SaveGroup(ctx context.Context, g *request.FileGroup) error
	CreateFile(ctx context.Context, f *request.RequestFile) error
	SaveFile(ctx context.Context, f *request.RequestFile) error
	DeleteFile(ctx context.Context, f *request.RequestFile) error
	UpsertVote(ctx context.Context, v *request.FileVote) error
	DeleteVote(ctx context.Context, v *request.FileVote) error
	DeleteVotesForFile(ctx context.Context, fileID string) error
	CreateComment(ctx context.Context, c *request.Comment) error
	SaveComment(ctx context.Context, c *request.Comment) error
	DeleteComment(ctx context.Context, c *request.Comment) error

	AppendAudit(ctx context.Context, entry *request.AuditEntry) error

	CreateUploadJobs(ctx context.Context, jobs []uploader.Job) error
	UploadJobsForRequest(ctx context.Context, requestID string) ([]uploader.Job, error)
	ResetFailedUploadJobs(ctx context.Context, requestID string, now time.Time, deadline time.Duration) (int64, error)
}

// Runner is a Store that can open transactions. Every mutating
// controller operation runs inside exactly one RunInTx call.
type Runner interface {
	Store
	RunInTx(ctx context.Context, fn func(tx Store) error) error
}

// GormStore adapts db.Store to the Runner interface.
type GormStore struct {
	*db.Store
}

// NewGormStore wraps the gorm-backed store.
func NewGormStore(s *db.Store) GormStore {
	return GormStore{Store: s}
}

// RunInTx opens a database transaction and hands the callback a
// transaction-scoped store.
func (s GormStore) RunInTx(ctx context.Context, fn func(tx Store) error) error {
	return s.Store.Transaction(ctx, func(tx *db.Store) error {
		return fn(tx)
	})
}
