package db

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"airlock.evalgo.org/uploader"
)

// CreateUploadJobs inserts the jobs for a freshly approved request.
// Conflicting rows (a re-approval race) are left untouched.
func (s *Store) CreateUploadJobs(ctx context.Context, jobs []uploader.Job) error {
	if len(jobs) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "request_id"}, {Name: "relpath"}},
		DoNothing: true,
	}).Create(&jobs).Error
	return translateErr(err)
}

// ClaimNextUploadJob atomically picks the most overdue runnable job,
// marks it RUNNING, and fences it with a claim lease. Returns nil when
// no job is ready. SKIP LOCKED keeps concurrent workers from contending
// on the same row.
func (s *Store) ClaimNextUploadJob(ctx context.Context, now time.Time, lease time.Duration) (*uploader.Job, error) {
	var job uploader.Job
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("state IN ? AND next_attempt_at <= ? AND (claimed_until IS NULL OR claimed_until < ?)",
				[]uploader.JobState{uploader.JobPending, uploader.JobRunning}, now, now).
			Order("next_attempt_at").
			First(&job).Error
		if err != nil {
			return err
		}
		until := now.Add(lease)
		job.State = uploader.JobRunning
		job.ClaimedUntil = &until
		return tx.Save(&job).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, translateErr(err)
	}
	return &job, nil
}

// SaveUploadJob persists a job's state after an attempt.
func (s *Store) SaveUploadJob(ctx context.Context, job *uploader.Job) error {
	return translateErr(s.db.WithContext(ctx).Save(job).Error)
}

// UploadJobsForRequest lists the request's jobs, stable by relpath.
func (s *Store) UploadJobsForRequest(ctx context.Context, requestID string) ([]uploader.Job, error) {
	var jobs []uploader.Job
	err := s.db.WithContext(ctx).
		Where("request_id = ?", requestID).
		Order("relpath").
		Find(&jobs).Error
	if err != nil {
		return nil, translateErr(err)
	}
	return jobs, nil
}

// SchedulerStore adapts Store to the upload scheduler's Runner
// interface; the scheduler settles each attempt inside one transaction.
type SchedulerStore struct {
	*Store
}

// NewSchedulerStore wraps the gorm-backed store.
func NewSchedulerStore(s *Store) SchedulerStore {
	return SchedulerStore{Store: s}
}

// RunInTx opens a database transaction and hands the callback a
// transaction-scoped store.
func (s SchedulerStore) RunInTx(ctx context.Context, fn func(tx uploader.Store) error) error {
	return s.Store.Transaction(ctx, func(tx *Store) error {
		return fn(tx)
	})
}

// ResetFailedUploadJobs re-enqueues the request's FAILED jobs with
// fresh attempt budgets and deadlines. This backs the user-facing
// re-release operation.
func (s *Store) ResetFailedUploadJobs(ctx context.Context, requestID string, now time.Time, deadline time.Duration) (int64, error) {
	res := s.db.WithContext(ctx).
		Model(&uploader.Job{}).
		Where("request_id = ? AND state = ?", requestID, uploader.JobFailed).
		Updates(map[string]interface{}{
			"state":           uploader.JobPending,
			"attempts":        0,
			"next_attempt_at": now,
			"claimed_until":   nil,
			"deadline_at":     now.Add(deadline),
			"last_error":      "",
		})
	if res.Error != nil {
		return 0, translateErr(res.Error)
	}
	return res.RowsAffected, nil
}
