package controller

import (
	"context"
	"time"

	"github.com/google/uuid"

	"airlock.evalgo.org/events"
	"airlock.evalgo.org/request"
)

// FileAdd names one workspace file to put on a request.
type FileAdd struct {
	Relpath  string           `json:"relpath"`
	FileType request.FileType `json:"filetype"`
	Group    string           `json:"group"`
}

// CreateRequest opens a new PENDING request for the actor on the
// workspace. One active request per (workspace, author) is enforced
// inside the transaction.
func (c *Controller) CreateRequest(ctx context.Context, actor request.Actor, workspaceName string) (*request.Request, error) {
	if err := request.CheckCanCreateRequest(actor, workspaceName); err != nil {
		return nil, err
	}
	if !c.workspaces.Exists(workspaceName) {
		return nil, request.NotFoundf("workspace %s not found", workspaceName)
	}

	r := &request.Request{
		ID:               uuid.NewString(),
		Workspace:        workspaceName,
		Author:           actor.Name(),
		Status:           request.StatusPending,
		ReviewTurn:       1,
		SubmittedReviews: map[string]time.Time{},
	}

	err := c.store.RunInTx(ctx, func(tx Store) error {
		active, err := tx.ActiveRequest(ctx, workspaceName, actor.Name())
		if err != nil {
			return err
		}
		if active != nil {
			return request.Conflictf("you already have an active release request for workspace %s", workspaceName)
		}
		if err := tx.CreateRequest(ctx, r); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, newAudit(request.AuditRequestCreate, actor, r, "", nil))
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// snapshotMeta describes a freshly stored snapshot: the blob store's
// hash and size plus the manifest metadata of the source file.
type snapshotMeta struct {
	hash      string
	size      int64
	timestamp time.Time
	commit    string
	repo      string
	jobID     string
	rowCount  *int
	colCount  *int
}

// snapshot copies a workspace file's current bytes into the blob store
// and returns its metadata with the stored hash and size.
func (c *Controller) snapshot(ctx context.Context, workspaceName, relpath string) (snapshotMeta, error) {
	fileMeta, err := c.workspaces.FileMetadata(workspaceName, relpath)
	if err != nil {
		return snapshotMeta{}, err
	}
	f, err := c.workspaces.Open(workspaceName, relpath)
	if err != nil {
		return snapshotMeta{}, err
	}
	defer f.Close()

	hash, size, err := c.blobs.Put(ctx, f)
	if err != nil {
		return snapshotMeta{}, err
	}
	return snapshotMeta{
		hash:      hash,
		size:      size,
		timestamp: fileMeta.Timestamp,
		commit:    fileMeta.Commit,
		repo:      fileMeta.Repo,
		jobID:     fileMeta.JobID,
		rowCount:  fileMeta.RowCount,
		colCount:  fileMeta.ColCount,
	}, nil
}

// AddFiles snapshots workspace files onto the request, creating groups
// as needed. Re-adding a withdrawn path clears its tombstone and behaves
// like an update. All adds land in one transaction.
func (c *Controller) AddFiles(ctx context.Context, actor request.Actor, requestID string, adds []FileAdd) (*request.Request, error) {
	if len(adds) == 0 {
		return nil, request.Preconditionf("no files given")
	}

	return c.mutateRequest(ctx, requestID, func(ctx context.Context, tx Store, r *request.Request) ([]events.Event, error) {
		for _, add := range adds {
			if err := request.CheckCanAddFile(actor, r, add.Relpath); err != nil {
				return nil, err
			}

			fileType := add.FileType
			if fileType == "" {
				fileType = request.FileTypeOutput
			}
			if fileType != request.FileTypeOutput && fileType != request.FileTypeSupporting {
				return nil, request.Preconditionf("files are added as OUTPUT or SUPPORTING, not %s", fileType)
			}

			snap, err := c.snapshot(ctx, r.Workspace, add.Relpath)
			if err != nil {
				return nil, err
			}

			groupName := add.Group
			if groupName == "" {
				groupName = "default"
			}
			group := r.Group(groupName)
			if group == nil {
				group = &request.FileGroup{
					ID:        uuid.NewString(),
					RequestID: r.ID,
					Name:      groupName,
				}
				if err := tx.CreateGroup(ctx, group); err != nil {
					return nil, err
				}
				r.Groups = append(r.Groups, *group)
				group = r.Group(groupName)
			}

			if existing, _ := r.FileByRelpath(add.Relpath); existing != nil {
				// Withdrawn tombstone: re-adding revives the row with
				// fresh content and no standing votes.
				existing.GroupID = group.ID
				existing.FileType = fileType
				existing.ContentHash = snap.hash
				existing.Size = snap.size
				existing.Timestamp = snap.timestamp
				existing.Commit = snap.commit
				existing.Repo = snap.repo
				existing.JobID = snap.jobID
				existing.RowCount = snap.rowCount
				existing.ColCount = snap.colCount
				existing.AddedBy = actor.Name()
				existing.AddedInTurn = r.ReviewTurn
				existing.WithdrawnAt = nil
				existing.WithdrawnInTurn = nil
				if err := tx.DeleteVotesForFile(ctx, existing.ID); err != nil {
					return nil, err
				}
				if err := tx.SaveFile(ctx, existing); err != nil {
					return nil, err
				}
			} else {
				file := &request.RequestFile{
					ID:          uuid.NewString(),
					RequestID:   r.ID,
					GroupID:     group.ID,
					Relpath:     add.Relpath,
					FileType:    fileType,
					ContentHash: snap.hash,
					Size:        snap.size,
					Timestamp:   snap.timestamp,
					Commit:      snap.commit,
					Repo:        snap.repo,
					JobID:       snap.jobID,
					RowCount:    snap.rowCount,
					ColCount:    snap.colCount,
					AddedBy:     actor.Name(),
					AddedInTurn: r.ReviewTurn,
				}
				if err := tx.CreateFile(ctx, file); err != nil {
					return nil, err
				}
				group.Files = append(group.Files, *file)
			}

			audit := newAudit(request.AuditRequestFileAdd, actor, r, add.Relpath, map[string]string{
				"group":    groupName,
				"filetype": string(fileType),
			})
			if err := tx.AppendAudit(ctx, audit); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
}

// UpdateFile replaces a file's snapshot with the workspace's current
// content and wipes all votes on the old content.
func (c *Controller) UpdateFile(ctx context.Context, actor request.Actor, requestID, relpath string) (*request.Request, error) {
	return c.mutateRequest(ctx, requestID, func(ctx context.Context, tx Store, r *request.Request) ([]events.Event, error) {
		file, _ := r.FileByRelpath(relpath)
		if file == nil || file.IsWithdrawn() {
			return nil, request.NotFoundf("file %s is not on this request", relpath)
		}
		if err := request.CheckCanUpdateFile(actor, r, file); err != nil {
			return nil, err
		}

		snap, err := c.snapshot(ctx, r.Workspace, relpath)
		if err != nil {
			return nil, err
		}
		if snap.hash == file.ContentHash {
			return nil, request.Preconditionf("workspace file %s is identical to the request snapshot", relpath)
		}

		file.ContentHash = snap.hash
		file.Size = snap.size
		file.Timestamp = snap.timestamp
		file.Commit = snap.commit
		file.Repo = snap.repo
		file.JobID = snap.jobID
		file.RowCount = snap.rowCount
		file.ColCount = snap.colCount
		file.AddedInTurn = r.ReviewTurn

		if err := tx.DeleteVotesForFile(ctx, file.ID); err != nil {
			return nil, err
		}
		if err := tx.SaveFile(ctx, file); err != nil {
			return nil, err
		}
		return nil, tx.AppendAudit(ctx, newAudit(request.AuditRequestFileUpdate, actor, r, relpath, nil))
	})
}

// WithdrawFile takes a file off the request. In PENDING the row is
// deleted outright; once review has happened the row becomes a WITHDRAWN
// tombstone so reviewers can see what disappeared.
func (c *Controller) WithdrawFile(ctx context.Context, actor request.Actor, requestID, relpath string) (*request.Request, error) {
	return c.mutateRequest(ctx, requestID, func(ctx context.Context, tx Store, r *request.Request) ([]events.Event, error) {
		file, _ := r.FileByRelpath(relpath)
		if file == nil {
			return nil, request.NotFoundf("file %s is not on this request", relpath)
		}
		if err := request.CheckCanWithdrawFile(actor, r, file); err != nil {
			return nil, err
		}

		if r.Status == request.StatusPending {
			if err := tx.DeleteFile(ctx, file); err != nil {
				return nil, err
			}
		} else {
			now := time.Now().UTC()
			turn := r.ReviewTurn
			file.FileType = request.FileTypeWithdrawn
			file.WithdrawnAt = &now
			file.WithdrawnInTurn = &turn
			if err := tx.DeleteVotesForFile(ctx, file.ID); err != nil {
				return nil, err
			}
			if err := tx.SaveFile(ctx, file); err != nil {
				return nil, err
			}
		}
		return nil, tx.AppendAudit(ctx, newAudit(request.AuditRequestFileWithdraw, actor, r, relpath, nil))
	})
}

// FileProperties is the changeable metadata of a request file.
type FileProperties struct {
	FileType *request.FileType `json:"filetype,omitempty"`
	Group    *string           `json:"group,omitempty"`
}

// ChangeFileProperties moves a file between groups or flips it between
// OUTPUT and SUPPORTING. Changing the type away from OUTPUT drops any
// votes, they no longer apply.
func (c *Controller) ChangeFileProperties(ctx context.Context, actor request.Actor, requestID, relpath string, props FileProperties) (*request.Request, error) {
	return c.mutateRequest(ctx, requestID, func(ctx context.Context, tx Store, r *request.Request) ([]events.Event, error) {
		file, _ := r.FileByRelpath(relpath)
		if file == nil || file.IsWithdrawn() {
			return nil, request.NotFoundf("file %s is not on this request", relpath)
		}
		if err := request.CheckCanEdit(actor, r); err != nil {
			return nil, err
		}

		extra := map[string]string{}
		if props.FileType != nil && *props.FileType != file.FileType {
			newType := *props.FileType
			if newType != request.FileTypeOutput && newType != request.FileTypeSupporting {
				return nil, request.Preconditionf("file type must be OUTPUT or SUPPORTING, not %s", newType)
			}
			extra["filetype_old"] = string(file.FileType)
			extra["filetype_new"] = string(newType)
			if file.FileType == request.FileTypeOutput {
				if err := tx.DeleteVotesForFile(ctx, file.ID); err != nil {
					return nil, err
				}
			}
			file.FileType = newType
		}
		if props.Group != nil {
			group := r.Group(*props.Group)
			if group == nil {
				group = &request.FileGroup{
					ID:        uuid.NewString(),
					RequestID: r.ID,
					Name:      *props.Group,
				}
				if err := tx.CreateGroup(ctx, group); err != nil {
					return nil, err
				}
				r.Groups = append(r.Groups, *group)
				group = r.Group(*props.Group)
			}
			if group.ID != file.GroupID {
				extra["group"] = group.Name
				file.GroupID = group.ID
			}
		}
		if len(extra) == 0 {
			return nil, request.Preconditionf("no property changes given")
		}

		if err := tx.SaveFile(ctx, file); err != nil {
			return nil, err
		}
		return nil, tx.AppendAudit(ctx, newAudit(request.AuditRequestFileUpdate, actor, r, relpath, extra))
	})
}

// GroupEdit carries the editable fields of a file group.
type GroupEdit struct {
	Context  *string `json:"context,omitempty"`
	Controls *string `json:"controls,omitempty"`
}

// EditGroup updates a group's context and controls descriptions.
func (c *Controller) EditGroup(ctx context.Context, actor request.Actor, requestID, groupName string, edit GroupEdit) (*request.Request, error) {
	return c.mutateRequest(ctx, requestID, func(ctx context.Context, tx Store, r *request.Request) ([]events.Event, error) {
		if err := request.CheckCanEdit(actor, r); err != nil {
			return nil, err
		}
		group := r.Group(groupName)
		if group == nil {
			return nil, request.NotFoundf("filegroup %s not found", groupName)
		}

		extra := map[string]string{}
		if edit.Context != nil && *edit.Context != group.Context {
			extra["context"] = *edit.Context
			group.Context = *edit.Context
		}
		if edit.Controls != nil && *edit.Controls != group.Controls {
			extra["controls"] = *edit.Controls
			group.Controls = *edit.Controls
		}
		if len(extra) == 0 {
			return nil, request.Preconditionf("no group changes given")
		}
		extra["group"] = groupName

		if err := tx.SaveGroup(ctx, group); err != nil {
			return nil, err
		}
		return nil, tx.AppendAudit(ctx, newAudit(request.AuditRequestGroupEdit, actor, r, "", extra))
	})
}

// Submit hands the request to the reviewers: PENDING→SUBMITTED on first
// submission, RETURNED→SUBMITTED on resubmission. The submission gate
// requires output files, complete groups, and on resubmission a public
// reply on every group still standing at CHANGES_REQUESTED.
func (c *Controller) Submit(ctx context.Context, actor request.Actor, requestID string) (*request.Request, error) {
	return c.mutateRequest(ctx, requestID, func(ctx context.Context, tx Store, r *request.Request) ([]events.Event, error) {
		if actor.Name() != r.Author {
			return nil, request.PermissionDeniedf("only the author may submit a release request")
		}
		if err := request.CheckTransition(r.Status, request.StatusSubmitted, request.OwnerAuthor); err != nil {
			return nil, err
		}
		if err := request.CheckSubmitGate(r); err != nil {
			return nil, err
		}

		name := events.RequestSubmitted
		if r.Status == request.StatusReturned {
			name = events.RequestResubmitted
		}

		request.StartTurn(r)
		r.Status = request.StatusSubmitted
		if err := tx.SaveRequest(ctx, r); err != nil {
			return nil, err
		}
		if err := tx.AppendAudit(ctx, newAudit(request.AuditRequestSubmit, actor, r, "", nil)); err != nil {
			return nil, err
		}
		return []events.Event{events.New(name, r.ID, r.Workspace, r.Author, actor.Name(), r.ReviewTurn)}, nil
	})
}

// WithdrawRequest abandons the request. Only from author-owned statuses.
func (c *Controller) WithdrawRequest(ctx context.Context, actor request.Actor, requestID string) (*request.Request, error) {
	return c.mutateRequest(ctx, requestID, func(ctx context.Context, tx Store, r *request.Request) ([]events.Event, error) {
		if actor.Name() != r.Author {
			return nil, request.PermissionDeniedf("only the author may withdraw a release request")
		}
		if err := request.CheckTransition(r.Status, request.StatusWithdrawn, request.OwnerAuthor); err != nil {
			return nil, err
		}

		r.Status = request.StatusWithdrawn
		if err := tx.SaveRequest(ctx, r); err != nil {
			return nil, err
		}
		if err := tx.AppendAudit(ctx, newAudit(request.AuditRequestWithdraw, actor, r, "", nil)); err != nil {
			return nil, err
		}
		return []events.Event{events.New(events.RequestWithdrawn, r.ID, r.Workspace, r.Author, actor.Name(), r.ReviewTurn)}, nil
	})
}

// mutateRequest is the shared transaction wrapper: it locks and loads
// the request, runs the mutation, and emits the returned events only
// after the transaction commits. It returns the request reloaded inside
// the transaction.
func (c *Controller) mutateRequest(ctx context.Context, requestID string, fn func(ctx context.Context, tx Store, r *request.Request) ([]events.Event, error)) (*request.Request, error) {
	var result *request.Request
	var pending []events.Event
	err := c.store.RunInTx(ctx, func(tx Store) error {
		r, err := tx.GetRequestForUpdate(ctx, requestID)
		if err != nil {
			return err
		}
		evs, err := fn(ctx, tx, r)
		if err != nil {
			return err
		}
		pending = evs
		result, err = tx.GetRequest(ctx, requestID)
		return err
	})
	if err != nil {
		return nil, err
	}
	c.emit(ctx, pending...)
	return result, nil
}
