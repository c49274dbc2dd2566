package controller

import (
	"context"
	"io"

	"airlock.evalgo.org/request"
	"airlock.evalgo.org/workspace"
)

// Workspaces lists the workspaces the actor may read.
func (c *Controller) Workspaces(ctx context.Context, actor request.Actor, all []string) []string {
	var visible []string
	for _, name := range all {
		if actor.HasWorkspaceAccess(name) {
			visible = append(visible, name)
		}
	}
	return visible
}

// BrowseWorkspace lists a workspace directory with each file's status
// relative to the actor's active request. Browsing is audited with
// hidden entries so activity panels are not flooded with view noise.
func (c *Controller) BrowseWorkspace(ctx context.Context, actor request.Actor, workspaceName, dir string) ([]workspace.Entry, error) {
	if !actor.HasWorkspaceAccess(workspaceName) {
		return nil, request.PermissionDeniedf("you do not have access to workspace %s", workspaceName)
	}

	entries, err := c.workspaces.List(workspaceName, dir)
	if err != nil {
		return nil, err
	}

	current, err := c.store.ActiveRequest(ctx, workspaceName, actor.Name())
	if err != nil {
		return nil, err
	}
	released, err := c.store.ReleasedHashes(ctx, workspaceName)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		if !entries[i].IsDir {
			entries[i].Status = workspace.FileStatusFor(current, entries[i].ContentHash, entries[i].Relpath, released)
		}
	}

	audit := newAudit(request.AuditWorkspaceView, actor, nil, dir, nil)
	audit.Workspace = workspaceName
	audit.Hidden = true
	if err := c.store.AppendAudit(ctx, audit); err != nil {
		return nil, err
	}
	return entries, nil
}

// OpenWorkspaceFile streams a workspace file for display.
func (c *Controller) OpenWorkspaceFile(ctx context.Context, actor request.Actor, workspaceName, relpath string) (io.ReadCloser, error) {
	if !actor.HasWorkspaceAccess(workspaceName) {
		return nil, request.PermissionDeniedf("you do not have access to workspace %s", workspaceName)
	}

	f, err := c.workspaces.Open(workspaceName, relpath)
	if err != nil {
		return nil, err
	}

	audit := newAudit(request.AuditWorkspaceFileView, actor, nil, relpath, nil)
	audit.Workspace = workspaceName
	audit.Hidden = true
	if err := c.store.AppendAudit(ctx, audit); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

// OpenRequestFile streams a request file's snapshot bytes from the blob
// store. Reviewers always read the snapshot, never the live workspace.
func (c *Controller) OpenRequestFile(ctx context.Context, actor request.Actor, requestID, relpath string) (io.ReadCloser, error) {
	r, err := c.ViewRequest(ctx, actor, requestID)
	if err != nil {
		return nil, err
	}
	file, _ := r.FileByRelpath(relpath)
	if file == nil {
		return nil, request.NotFoundf("file %s is not on this request", relpath)
	}
	return c.blobs.Open(ctx, file.ContentHash)
}
