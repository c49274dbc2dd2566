// Package controller orchestrates release-request operations. Every
// public operation follows the same shape: resolve and check the actor's
// capability, check the status precondition, apply the change inside one
// store transaction together with its audit entry, then emit lifecycle
// events after the transaction commits. Event delivery is best-effort;
// a failed emit is logged and never unwinds the operation.
package controller

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"

	"airlock.evalgo.org/common"
	"airlock.evalgo.org/events"
	"airlock.evalgo.org/request"
	"airlock.evalgo.org/storage"
	"airlock.evalgo.org/workspace"
)

// WorkspaceView is the read-only workspace surface the controller
// snapshots from. workspace.Service satisfies it.
type WorkspaceView interface {
	Exists(name string) bool
	List(name, dir string) ([]workspace.Entry, error)
	FileMetadata(name, relpath string) (workspace.FileMetadata, error)
	Open(name, relpath string) (io.ReadCloser, error)
	ListFilesUnder(name, dir string) ([]string, error)
}

// ReleaseRegistrar registers an approved request with the Jobs site.
// jobserver.Client satisfies it; deployments without a Jobs site leave
// it nil.
type ReleaseRegistrar interface {
	CreateRelease(ctx context.Context, workspace, releasedBy string, filegroups map[string][]string) (string, error)
}

// Options tunes controller behavior.
type Options struct {
	// UploadJobDeadline bounds how long upload jobs created on release
	// may keep retrying.
	UploadJobDeadline time.Duration
}

// Controller implements the release-request operations.
type Controller struct {
	store      Runner
	workspaces WorkspaceView
	blobs      storage.BlobStore
	sink       events.Sink
	registrar  ReleaseRegistrar

	uploadJobDeadline time.Duration
}

// New creates a controller. sink must not be nil (use events.NopSink);
// registrar may be nil.
func New(store Runner, workspaces WorkspaceView, blobs storage.BlobStore, sink events.Sink, registrar ReleaseRegistrar, opts Options) *Controller {
	deadline := opts.UploadJobDeadline
	if deadline == 0 {
		deadline = time.Hour
	}
	return &Controller{
		store:             store,
		workspaces:        workspaces,
		blobs:             blobs,
		sink:              sink,
		registrar:         registrar,
		uploadJobDeadline: deadline,
	}
}

// emit publishes lifecycle events after a committed transaction.
func (c *Controller) emit(ctx context.Context, evs ...events.Event) {
	for _, ev := range evs {
		if err := c.sink.Emit(ctx, ev); err != nil {
			common.Logger.WithError(err).
				WithField("event", ev.Name).
				WithField("request", ev.RequestID).
				Error("failed to emit lifecycle event")
		}
	}
}

// newAudit builds an audit entry for an operation on a request.
func newAudit(kind request.AuditKind, actor request.Actor, r *request.Request, path string, extra map[string]string) *request.AuditEntry {
	entry := &request.AuditEntry{
		ID:    uuid.NewString(),
		Kind:  kind,
		Actor: actor.Name(),
		Path:  path,
		Extra: extra,
	}
	if r != nil {
		entry.Workspace = r.Workspace
		entry.RequestID = r.ID
	}
	return entry
}

// ViewRequest loads a request for display, enforcing view access.
func (c *Controller) ViewRequest(ctx context.Context, actor request.Actor, requestID string) (*request.Request, error) {
	r, err := c.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if err := request.CheckCanView(actor, r); err != nil {
		return nil, err
	}
	return r, nil
}

// RequestsForUser lists the actor's own requests, newest first.
func (c *Controller) RequestsForUser(ctx context.Context, actor request.Actor) ([]request.Request, error) {
	return c.store.RequestsForUser(ctx, actor.Name())
}

// OutstandingReviews lists requests currently owned by reviewers. Output
// checkers only.
func (c *Controller) OutstandingReviews(ctx context.Context, actor request.Actor) ([]request.Request, error) {
	if !actor.IsOutputChecker() {
		return nil, request.PermissionDeniedf("only output checkers may list outstanding reviews")
	}
	return c.store.OutstandingReviews(ctx)
}
