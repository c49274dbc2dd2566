package controller

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"

	"airlock.evalgo.org/events"
	"airlock.evalgo.org/request"
	"airlock.evalgo.org/uploader"
)

// voteAuditKind maps a vote choice to its audit record kind.
func voteAuditKind(vote request.Vote) request.AuditKind {
	switch vote {
	case request.VoteApproved:
		return request.AuditRequestFileApprove
	case request.VoteChangesRequested:
		return request.AuditRequestFileRequestChanges
	default:
		return request.AuditRequestFileUndecided
	}
}

// Vote records the reviewer's current verdict on a file, replacing any
// earlier vote. Votes stay private until the reviewer submits their
// review for the turn.
func (c *Controller) Vote(ctx context.Context, actor request.Actor, requestID, relpath string, vote request.Vote) (*request.Request, error) {
	switch vote {
	case request.VoteApproved, request.VoteChangesRequested, request.VoteUndecided:
	default:
		return nil, request.Preconditionf("unknown vote %s", vote)
	}

	return c.mutateRequest(ctx, requestID, func(ctx context.Context, tx Store, r *request.Request) ([]events.Event, error) {
		if err := request.CheckCanReview(actor, r); err != nil {
			return nil, err
		}
		file, _ := r.FileByRelpath(relpath)
		if file == nil {
			return nil, request.NotFoundf("file %s is not on this request", relpath)
		}
		if err := request.CheckVoteGate(r, file); err != nil {
			return nil, err
		}

		row := file.VoteBy(actor.Name())
		if row != nil && row.Vote == vote && row.ReviewTurn == r.ReviewTurn {
			// Repeating the standing vote changes nothing and is not
			// audited again.
			return nil, nil
		}
		if row == nil {
			row = &request.FileVote{
				ID:       uuid.NewString(),
				FileID:   file.ID,
				Reviewer: actor.Name(),
			}
		}
		row.Vote = vote
		row.ReviewTurn = r.ReviewTurn
		if err := tx.UpsertVote(ctx, row); err != nil {
			return nil, err
		}
		return nil, tx.AppendAudit(ctx, newAudit(voteAuditKind(vote), actor, r, relpath, nil))
	})
}

// ResetVote deletes the reviewer's own vote on a file. Allowed only
// before the reviewer submits their review for the turn.
func (c *Controller) ResetVote(ctx context.Context, actor request.Actor, requestID, relpath string) (*request.Request, error) {
	return c.mutateRequest(ctx, requestID, func(ctx context.Context, tx Store, r *request.Request) ([]events.Event, error) {
		if err := request.CheckCanReview(actor, r); err != nil {
			return nil, err
		}
		if err := request.CheckResetVoteGate(r, actor.Name()); err != nil {
			return nil, err
		}
		file, _ := r.FileByRelpath(relpath)
		if file == nil {
			return nil, request.NotFoundf("file %s is not on this request", relpath)
		}
		vote := file.VoteBy(actor.Name())
		if vote == nil {
			return nil, request.NotFoundf("you have not voted on %s", relpath)
		}

		if err := tx.DeleteVote(ctx, vote); err != nil {
			return nil, err
		}
		return nil, tx.AppendAudit(ctx, newAudit(request.AuditRequestFileResetReview, actor, r, relpath, nil))
	})
}

// MarkUndecided flips the reviewer's standing CHANGES_REQUESTED verdict
// to UNDECIDED while the request is back with the author, signalling
// that the author's reply satisfied them.
func (c *Controller) MarkUndecided(ctx context.Context, actor request.Actor, requestID, relpath string) (*request.Request, error) {
	return c.mutateRequest(ctx, requestID, func(ctx context.Context, tx Store, r *request.Request) ([]events.Event, error) {
		if err := request.CheckCanReview(actor, r); err != nil {
			return nil, err
		}
		file, _ := r.FileByRelpath(relpath)
		if file == nil {
			return nil, request.NotFoundf("file %s is not on this request", relpath)
		}
		vote := file.VoteBy(actor.Name())
		if vote == nil {
			return nil, request.NotFoundf("you have not voted on %s", relpath)
		}
		if err := request.CheckMarkUndecidedGate(r, vote); err != nil {
			return nil, err
		}

		vote.Vote = request.VoteUndecided
		if err := tx.UpsertVote(ctx, vote); err != nil {
			return nil, err
		}
		return nil, tx.AppendAudit(ctx, newAudit(request.AuditRequestFileUndecided, actor, r, relpath, nil))
	})
}

// SubmitReview records that the reviewer finished their independent
// pass. The system transition follows: the first submission moves the
// request to PARTIALLY_REVIEWED, the second to REVIEWED.
func (c *Controller) SubmitReview(ctx context.Context, actor request.Actor, requestID string) (*request.Request, error) {
	return c.mutateRequest(ctx, requestID, func(ctx context.Context, tx Store, r *request.Request) ([]events.Event, error) {
		if err := request.CheckCanReview(actor, r); err != nil {
			return nil, err
		}
		if !r.Status.IsUnderReview() {
			return nil, request.InvalidTransitionf("request is not under review (status %s)", r.Status)
		}
		if err := request.CheckSubmitReviewGate(r, actor.Name()); err != nil {
			return nil, err
		}

		if r.SubmittedReviews == nil {
			r.SubmittedReviews = map[string]time.Time{}
		}
		r.SubmittedReviews[actor.Name()] = time.Now().UTC()

		var evs []events.Event
		switch r.Status {
		case request.StatusSubmitted:
			r.Status = request.StatusPartiallyReviewed
			evs = append(evs, events.New(events.RequestPartiallyReviewed, r.ID, r.Workspace, r.Author, actor.Name(), r.ReviewTurn))
		case request.StatusPartiallyReviewed:
			if len(r.SubmittedReviews) >= 2 {
				r.Status = request.StatusReviewed
				evs = append(evs, events.New(events.RequestReviewed, r.ID, r.Workspace, r.Author, actor.Name(), r.ReviewTurn))
			}
		}

		if err := tx.SaveRequest(ctx, r); err != nil {
			return nil, err
		}
		if err := tx.AppendAudit(ctx, newAudit(request.AuditRequestReview, actor, r, "", nil)); err != nil {
			return nil, err
		}
		return evs, nil
	})
}

// ReturnRequest hands the request back to the author. From REVIEWED the
// return gate demands a public comment on every group with requested
// changes or conflicts; from the blinded statuses this is an early
// return with no comment requirement.
func (c *Controller) ReturnRequest(ctx context.Context, actor request.Actor, requestID string) (*request.Request, error) {
	return c.mutateRequest(ctx, requestID, func(ctx context.Context, tx Store, r *request.Request) ([]events.Event, error) {
		if err := request.CheckCanReview(actor, r); err != nil {
			return nil, err
		}
		if err := request.CheckTransition(r.Status, request.StatusReturned, request.OwnerReviewer); err != nil {
			return nil, err
		}

		kind := request.AuditRequestEarlyReturn
		if r.Status == request.StatusReviewed {
			kind = request.AuditRequestReturn
			if err := request.CheckReturnGate(r); err != nil {
				return nil, err
			}
		}

		request.StartTurn(r)
		r.Status = request.StatusReturned
		if err := tx.SaveRequest(ctx, r); err != nil {
			return nil, err
		}
		if err := tx.AppendAudit(ctx, newAudit(kind, actor, r, "", nil)); err != nil {
			return nil, err
		}
		return []events.Event{events.New(events.RequestReturned, r.ID, r.Workspace, r.Author, actor.Name(), r.ReviewTurn)}, nil
	})
}

// Reject closes the request without releasing anything.
func (c *Controller) Reject(ctx context.Context, actor request.Actor, requestID string) (*request.Request, error) {
	return c.mutateRequest(ctx, requestID, func(ctx context.Context, tx Store, r *request.Request) ([]events.Event, error) {
		if err := request.CheckCanReview(actor, r); err != nil {
			return nil, err
		}
		if err := request.CheckTransition(r.Status, request.StatusRejected, request.OwnerReviewer); err != nil {
			return nil, err
		}

		r.Status = request.StatusRejected
		if err := tx.SaveRequest(ctx, r); err != nil {
			return nil, err
		}
		if err := tx.AppendAudit(ctx, newAudit(request.AuditRequestReject, actor, r, "", nil)); err != nil {
			return nil, err
		}
		return []events.Event{events.New(events.RequestRejected, r.ID, r.Workspace, r.Author, actor.Name(), r.ReviewTurn)}, nil
	})
}

// ReleaseFiles approves the request and hands it to the upload
// scheduler: the request is registered with the Jobs site, every output
// file is stamped released, and one persistent upload job per output
// file is enqueued.
//
// The Jobs site registration is an outbound call and cannot run inside
// the store transaction; the gates are checked before the call and again
// under the row lock, so a concurrent mutation surfaces as a conflict
// rather than a half-released request.
func (c *Controller) ReleaseFiles(ctx context.Context, actor request.Actor, requestID string) (*request.Request, error) {
	r, err := c.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if err := c.checkRelease(actor, r); err != nil {
		return nil, err
	}

	var releaseID string
	if c.registrar != nil {
		filegroups := map[string][]string{}
		for i := range r.Groups {
			g := &r.Groups[i]
			for _, f := range g.OutputFiles() {
				filegroups[g.Name] = append(filegroups[g.Name], f.Relpath)
			}
		}
		releaseID, err = c.registrar.CreateRelease(ctx, r.Workspace, actor.Name(), filegroups)
		if err != nil {
			return nil, err
		}
	}

	return c.mutateRequest(ctx, requestID, func(ctx context.Context, tx Store, r *request.Request) ([]events.Event, error) {
		if err := c.checkRelease(actor, r); err != nil {
			return nil, err
		}

		now := time.Now().UTC()
		var jobs []uploader.Job
		for _, f := range r.OutputFiles() {
			f.ReleasedAt = &now
			f.ReleasedBy = actor.Name()
			if err := tx.SaveFile(ctx, f); err != nil {
				return nil, err
			}
			if err := tx.AppendAudit(ctx, newAudit(request.AuditRequestFileRelease, actor, r, f.Relpath, nil)); err != nil {
				return nil, err
			}
			group := r.GroupByID(f.GroupID)
			groupName := ""
			if group != nil {
				groupName = group.Name
			}
			jobs = append(jobs, uploader.Job{
				ID:            uuid.NewString(),
				RequestID:     r.ID,
				Relpath:       f.Relpath,
				Workspace:     r.Workspace,
				Group:         groupName,
				ContentHash:   f.ContentHash,
				Size:          f.Size,
				ReleasedBy:    actor.Name(),
				State:         uploader.JobPending,
				NextAttemptAt: now,
				DeadlineAt:    now.Add(c.uploadJobDeadline),
			})
		}

		r.Status = request.StatusApproved
		r.JobsReleaseID = releaseID
		if err := tx.SaveRequest(ctx, r); err != nil {
			return nil, err
		}
		if err := tx.CreateUploadJobs(ctx, jobs); err != nil {
			return nil, err
		}
		if err := tx.AppendAudit(ctx, newAudit(request.AuditRequestApprove, actor, r, "", nil)); err != nil {
			return nil, err
		}
		return []events.Event{events.New(events.RequestApproved, r.ID, r.Workspace, r.Author, actor.Name(), r.ReviewTurn)}, nil
	})
}

func (c *Controller) checkRelease(actor request.Actor, r *request.Request) error {
	if err := request.CheckCanReview(actor, r); err != nil {
		return err
	}
	if err := request.CheckTransition(r.Status, request.StatusApproved, request.OwnerReviewer); err != nil {
		return err
	}
	return request.CheckReleaseGate(r)
}

// ReRelease re-enqueues the request's FAILED upload jobs with fresh
// attempt budgets. The request stays in APPROVED throughout.
func (c *Controller) ReRelease(ctx context.Context, actor request.Actor, requestID string) (int64, error) {
	var reset int64
	err := c.store.RunInTx(ctx, func(tx Store) error {
		r, err := tx.GetRequestForUpdate(ctx, requestID)
		if err != nil {
			return err
		}
		if err := request.CheckCanReview(actor, r); err != nil {
			return err
		}
		if r.Status != request.StatusApproved {
			return request.InvalidTransitionf("only an approved request can be re-released (status %s)", r.Status)
		}

		reset, err = tx.ResetFailedUploadJobs(ctx, r.ID, time.Now().UTC(), c.uploadJobDeadline)
		if err != nil {
			return err
		}
		if reset == 0 {
			return request.Preconditionf("no failed uploads to retry")
		}
		return tx.AppendAudit(ctx, newAudit(request.AuditRequestRelease, actor, r, "", map[string]string{
			"retried_jobs": strconv.FormatInt(reset, 10),
		}))
	})
	if err != nil {
		return 0, err
	}
	return reset, nil
}
