package uploader

import (
	"context"
	"time"

	"airlock.evalgo.org/request"
)

// Store is the persistence surface the scheduler drives. db.Store
// satisfies it.
type Store interface {
	ClaimNextUploadJob(ctx context.Context, now time.Time, lease time.Duration) (*Job, error)
	SaveUploadJob(ctx context.Context, job *Job) error
	UploadJobsForRequest(ctx context.Context, requestID string) ([]Job, error)

	GetRequest(ctx context.Context, id string) (*request.Request, error)
	GetRequestForUpdate(ctx context.Context, id string) (*request.Request, error)
	SaveRequest(ctx context.Context, r *request.Request) error
	SaveFile(ctx context.Context, f *request.RequestFile) error
	AppendAudit(ctx context.Context, entry *request.AuditEntry) error
}

// Runner is a Store that can open transactions. Settling an attempt's
// outcome runs inside exactly one RunInTx call.
type Runner interface {
	Store
	RunInTx(ctx context.Context, fn func(tx Store) error) error
}
