package uploader

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"airlock.evalgo.org/common"
	"airlock.evalgo.org/events"
	"airlock.evalgo.org/request"
	"airlock.evalgo.org/storage"
)

// systemActor stamps audits and events produced by the scheduler rather
// than a user.
const systemActor = "system"

// maxBackoff caps the exponential retry delay.
const maxBackoff = 5 * time.Minute

// FileUploader pushes one file snapshot to the Jobs site.
// jobserver.Client satisfies it.
type FileUploader interface {
	UploadFile(ctx context.Context, releaseID, releasedBy, relpath string, content io.Reader) error
}

// Config tunes the scheduler.
type Config struct {
	// Workers bounds concurrent uploads.
	Workers int
	// MaxAttempts bounds retries per job before it fails.
	MaxAttempts int
	// AttemptTimeout bounds one upload attempt.
	AttemptTimeout time.Duration
	// RetryInterval is the backoff base; attempt n waits
	// RetryInterval << n, capped and jittered.
	RetryInterval time.Duration
	// PollInterval is the idle sleep between claim attempts.
	PollInterval time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Workers:        4,
		MaxAttempts:    5,
		AttemptTimeout: 30 * time.Second,
		RetryInterval:  time.Second,
		PollInterval:   2 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = d.AttemptTimeout
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = d.RetryInterval
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	return c
}

// Scheduler drains the upload job table with a bounded worker pool.
// Jobs are persistent rows claimed with a lease, so a crashed process
// loses nothing: on restart the claim query picks up every PENDING job
// and every RUNNING job whose lease expired.
type Scheduler struct {
	store  Runner
	blobs  storage.BlobStore
	client FileUploader
	sink   events.Sink
	cfg    Config

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// New creates a scheduler. sink must not be nil (use events.NopSink).
func New(store Runner, blobs storage.BlobStore, client FileUploader, sink events.Sink, cfg Config) *Scheduler {
	return &Scheduler{
		store:    store,
		blobs:    blobs,
		client:   client,
		sink:     sink,
		cfg:      cfg.withDefaults(),
		stopChan: make(chan struct{}),
	}
}

// Start launches the worker pool.
func (s *Scheduler) Start() {
	common.Logger.WithField("workers", s.cfg.Workers).Info("starting upload scheduler")
	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
}

// Stop signals all workers and waits for in-flight attempts to settle.
func (s *Scheduler) Stop() {
	close(s.stopChan)
	s.wg.Wait()
	common.Logger.Info("upload scheduler stopped")
}

func (s *Scheduler) worker(id int) {
	defer s.wg.Done()
	log := common.Logger.WithField("worker", id)
	for {
		select {
		case <-s.stopChan:
			return
		default:
		}

		ctx := context.Background()
		job, err := s.store.ClaimNextUploadJob(ctx, time.Now().UTC(), s.lease())
		if err != nil {
			log.WithError(err).Error("failed to claim upload job")
			s.idle()
			continue
		}
		if job == nil {
			s.idle()
			continue
		}
		s.process(ctx, job)
	}
}

func (s *Scheduler) idle() {
	select {
	case <-s.stopChan:
	case <-time.After(s.cfg.PollInterval):
	}
}

// lease fences a claimed job long enough for a full attempt plus the
// settling transaction.
func (s *Scheduler) lease() time.Duration {
	return 2 * s.cfg.AttemptTimeout
}

// process runs one upload attempt for a claimed job and settles its
// outcome.
func (s *Scheduler) process(ctx context.Context, job *Job) {
	log := common.Logger.WithField("request", job.RequestID).WithField("relpath", job.Relpath)

	now := time.Now().UTC()
	if now.After(job.DeadlineAt) {
		s.fail(ctx, job, "upload deadline exceeded")
		return
	}

	r, err := s.store.GetRequest(ctx, job.RequestID)
	if err != nil {
		s.settleError(ctx, job, err)
		return
	}
	if r.JobsReleaseID == "" {
		s.fail(ctx, job, "request has no release id")
		return
	}

	blob, err := s.blobs.Open(ctx, job.ContentHash)
	if err != nil {
		log.WithError(err).Error("failed to open snapshot blob")
		s.settleError(ctx, job, err)
		return
	}

	attemptCtx, cancel := context.WithTimeout(ctx, s.cfg.AttemptTimeout)
	err = s.client.UploadFile(attemptCtx, r.JobsReleaseID, job.ReleasedBy, job.Relpath, blob)
	cancel()
	blob.Close()

	job.Attempts++
	if err == nil {
		s.succeed(ctx, job)
		return
	}
	log.WithError(err).WithField("attempt", job.Attempts).Warn("upload attempt failed")
	s.settleError(ctx, job, err)
}

// settleError routes a failed attempt: permanent rejections and
// exhausted budgets fail the job, everything else backs off and retries.
func (s *Scheduler) settleError(ctx context.Context, job *Job, cause error) {
	switch {
	case isPermanent(cause):
		s.fail(ctx, job, cause.Error())
	case job.Attempts >= s.cfg.MaxAttempts:
		s.fail(ctx, job, "attempts exhausted: "+cause.Error())
	case time.Now().UTC().After(job.DeadlineAt):
		s.fail(ctx, job, "upload deadline exceeded: "+cause.Error())
	default:
		s.retry(ctx, job, cause)
	}
}

// isPermanent reports whether the Jobs site rejected the upload in a way
// retries cannot fix.
func isPermanent(err error) bool {
	var e *request.Error
	if !errors.As(err, &e) || e.Kind != request.KindUpstream {
		return false
	}
	switch e.UpstreamStatus {
	case 400, 401, 403:
		return true
	}
	return false
}

// backoff computes the delay before the next attempt: exponential in the
// attempt count, capped, with up to 10% jitter so retries spread out.
func (s *Scheduler) backoff(attempts int) time.Duration {
	d := s.cfg.RetryInterval
	for i := 0; i < attempts && d < maxBackoff; i++ {
		d *= 2
	}
	if d > maxBackoff {
		d = maxBackoff
	}
	if jitter := int64(d / 10); jitter > 0 {
		d += time.Duration(rand.Int63n(jitter))
	}
	return d
}

// retry re-queues the job with its backoff delay.
func (s *Scheduler) retry(ctx context.Context, job *Job, cause error) {
	now := time.Now().UTC()
	job.State = JobPending
	job.ClaimedUntil = nil
	job.NextAttemptAt = now.Add(s.backoff(job.Attempts))
	job.LastError = cause.Error()

	err := s.store.RunInTx(ctx, func(tx Store) error {
		if err := tx.SaveUploadJob(ctx, job); err != nil {
			return err
		}
		return s.stampAttempt(ctx, tx, job, now)
	})
	if err != nil {
		common.Logger.WithError(err).WithField("request", job.RequestID).Error("failed to re-queue upload job")
	}
}

// succeed marks the job done and, when it was the request's last
// outstanding output file, flips the request to RELEASED. The status
// check under the row lock guarantees the released event fires exactly
// once however many workers finish simultaneously.
func (s *Scheduler) succeed(ctx context.Context, job *Job) {
	now := time.Now().UTC()
	job.State = JobSucceeded
	job.ClaimedUntil = nil
	job.LastError = ""

	var pending []events.Event
	err := s.store.RunInTx(ctx, func(tx Store) error {
		pending = nil
		if err := tx.SaveUploadJob(ctx, job); err != nil {
			return err
		}

		r, err := tx.GetRequestForUpdate(ctx, job.RequestID)
		if err != nil {
			return err
		}
		file, _ := r.FileByRelpath(job.Relpath)
		if file == nil {
			return request.Invariantf("upload job names file %s missing from request %s", job.Relpath, job.RequestID)
		}
		file.Uploaded = true
		file.UploadedAt = &now
		file.UploadAttempts = job.Attempts
		file.UploadAttemptedAt = &now
		if err := tx.SaveFile(ctx, file); err != nil {
			return err
		}
		if err := tx.AppendAudit(ctx, s.newAudit(request.AuditRequestFileUpload, job, nil)); err != nil {
			return err
		}

		if r.Status != request.StatusApproved || !r.UploadsComplete() {
			return nil
		}
		r.Status = request.StatusReleased
		if err := tx.SaveRequest(ctx, r); err != nil {
			return err
		}
		if err := tx.AppendAudit(ctx, s.newAudit(request.AuditRequestRelease, job, nil)); err != nil {
			return err
		}
		pending = append(pending, events.New(events.RequestReleased, r.ID, r.Workspace, r.Author, systemActor, r.ReviewTurn))
		return nil
	})
	if err != nil {
		common.Logger.WithError(err).WithField("request", job.RequestID).Error("failed to settle successful upload")
		return
	}
	common.Logger.WithField("request", job.RequestID).WithField("relpath", job.Relpath).Info("uploaded file")
	s.emit(ctx, pending...)
}

// fail parks the job as FAILED. The request stays APPROVED; re-release
// revives the failed jobs with a fresh budget.
func (s *Scheduler) fail(ctx context.Context, job *Job, reason string) {
	now := time.Now().UTC()
	job.State = JobFailed
	job.ClaimedUntil = nil
	job.LastError = reason

	var pending []events.Event
	err := s.store.RunInTx(ctx, func(tx Store) error {
		pending = nil
		if err := tx.SaveUploadJob(ctx, job); err != nil {
			return err
		}
		if err := s.stampAttempt(ctx, tx, job, now); err != nil {
			return err
		}
		r, err := tx.GetRequest(ctx, job.RequestID)
		if err != nil {
			return err
		}
		ev := events.New(events.RequestUploadFailed, r.ID, r.Workspace, r.Author, systemActor, r.ReviewTurn)
		ev.Extra = map[string]string{"relpath": job.Relpath, "error": reason}
		pending = append(pending, ev)
		return nil
	})
	if err != nil {
		common.Logger.WithError(err).WithField("request", job.RequestID).Error("failed to settle failed upload")
		return
	}
	common.Logger.WithField("request", job.RequestID).
		WithField("relpath", job.Relpath).
		WithField("reason", reason).
		Error("upload job failed")
	s.emit(ctx, pending...)
}

// stampAttempt records the attempt counters on the request file row.
func (s *Scheduler) stampAttempt(ctx context.Context, tx Store, job *Job, now time.Time) error {
	r, err := tx.GetRequestForUpdate(ctx, job.RequestID)
	if err != nil {
		return err
	}
	file, _ := r.FileByRelpath(job.Relpath)
	if file == nil {
		return nil
	}
	file.UploadAttempts = job.Attempts
	file.UploadAttemptedAt = &now
	return tx.SaveFile(ctx, file)
}

func (s *Scheduler) newAudit(kind request.AuditKind, job *Job, extra map[string]string) *request.AuditEntry {
	return &request.AuditEntry{
		ID:        uuid.NewString(),
		Kind:      kind,
		Actor:     systemActor,
		Workspace: job.Workspace,
		RequestID: job.RequestID,
		Path:      job.Relpath,
		Extra:     extra,
	}
}

func (s *Scheduler) emit(ctx context.Context, evs ...events.Event) {
	for _, ev := range evs {
		if err := s.sink.Emit(ctx, ev); err != nil {
			common.Logger.WithError(err).
				WithField("event", ev.Name).
				WithField("request", ev.RequestID).
				Error("failed to emit lifecycle event")
		}
	}
}
